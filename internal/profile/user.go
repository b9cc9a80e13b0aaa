package profile

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/oracle-nosql/go-iamauth/internal/ocid"
	"github.com/oracle-nosql/go-iamauth/internal/pemkey"
)

// UserCredentials is the raw input to UserProvider: exactly one of RSAKey,
// PEMBytes, or PEMPath must be set.
type UserCredentials struct {
	TenancyID   string
	UserID      string
	Fingerprint string

	RSAKey   *rsa.PrivateKey
	PEMBytes []byte
	PEMPath  string

	// Passphrase is zeroed once the key has been loaded, unless RSAKey was
	// supplied directly (the caller owns that key).
	Passphrase []byte
}

func (c UserCredentials) keySourceCount() int {
	n := 0
	if c.RSAKey != nil {
		n++
	}
	if c.PEMBytes != nil {
		n++
	}
	if c.PEMPath != "" {
		n++
	}
	return n
}

// UserProvider implements the static user-principal profile. The
// RSA key is loaded lazily on the first GetProfile call; the profile never
// expires.
type UserProvider struct {
	creds UserCredentials
	keyID string

	mu      sync.Mutex
	key     *rsa.PrivateKey
	loaded  bool
	loadErr error
}

// NewUserProvider validates creds and composes the keyId once, up front.
func NewUserProvider(creds UserCredentials) (*UserProvider, error) {
	if !ocid.Valid(creds.TenancyID) {
		return nil, fmt.Errorf("profile: invalid tenancy OCID %q", creds.TenancyID)
	}
	if !ocid.Valid(creds.UserID) {
		return nil, fmt.Errorf("profile: invalid user OCID %q", creds.UserID)
	}
	if creds.Fingerprint == "" {
		return nil, fmt.Errorf("profile: fingerprint is required")
	}
	if n := creds.keySourceCount(); n != 1 {
		return nil, fmt.Errorf("profile: exactly one of RSAKey/PEMBytes/PEMPath must be set, got %d", n)
	}

	return &UserProvider{
		creds: creds,
		keyID: fmt.Sprintf("%s/%s/%s", creds.TenancyID, creds.UserID, creds.Fingerprint),
	}, nil
}

// GetProfile loads the key on first use and returns an immortal profile.
// forceRefresh has no effect: a static key never needs re-derivation.
func (p *UserProvider) GetProfile(_ context.Context, _ bool) (*AuthenticationProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		p.key, p.loadErr = p.loadKey()
		p.loaded = true
	}
	if p.loadErr != nil {
		return nil, p.loadErr
	}

	return &AuthenticationProfile{
		KeyID:      p.keyID,
		PrivateKey: p.key,
		TenancyID:  p.creds.TenancyID,
	}, nil
}

func (p *UserProvider) loadKey() (*rsa.PrivateKey, error) {
	if p.creds.RSAKey != nil {
		return p.creds.RSAKey, nil
	}

	src := pemkey.Source{Bytes: p.creds.PEMBytes, Path: p.creds.PEMPath}
	pemBytes, err := src.Load()
	if err != nil {
		return nil, fmt.Errorf("profile: load PEM key: %w", err)
	}

	key, err := pemkey.ParsePrivateKey(pemBytes, p.creds.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("profile: parse PEM key: %w", err)
	}

	if len(p.creds.Passphrase) > 0 {
		pemkey.Zero(p.creds.Passphrase)
	}
	return key, nil
}

// RegionID is unknown to the bare user-credentials provider.
func (p *UserProvider) RegionID() string { return "" }

// IsProfileValid is always true once the key has loaded without error.
func (p *UserProvider) IsProfileValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded && p.loadErr == nil
}

// TTL reports the profile as immortal.
func (p *UserProvider) TTL() time.Duration { return Immortal }

// Dispose clears the loaded RSA key reference.
func (p *UserProvider) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = nil
}
