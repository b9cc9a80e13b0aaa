package profile

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oracle-nosql/go-iamauth/internal/pemkey"
	"github.com/oracle-nosql/go-iamauth/internal/securitytoken"
)

const resourcePrincipalVersion = "2.2"

// Resource principal environment variable names.
const (
	EnvResourcePrincipalVersion            = "OCI_RESOURCE_PRINCIPAL_VERSION"
	EnvResourcePrincipalRPST               = "OCI_RESOURCE_PRINCIPAL_RPST"
	EnvResourcePrincipalPrivatePEM         = "OCI_RESOURCE_PRINCIPAL_PRIVATE_PEM"
	EnvResourcePrincipalPrivatePEMPassword = "OCI_RESOURCE_PRINCIPAL_PRIVATE_PEM_PASSPHRASE"
	EnvResourcePrincipalRegion             = "OCI_RESOURCE_PRINCIPAL_REGION"
)

// ResourcePrincipalProvider implements the resource-principal profile: both the RPST and the private
// PEM may be a literal value or an absolute file path; path-sourced values
// are re-read on every refresh.
type ResourcePrincipalProvider struct {
	rpstSource envSource
	pemSource  envSource
	passphrase []byte
	region     string

	profileExpireBefore time.Duration

	mu    sync.Mutex
	token *securitytoken.Token
	key   *rsa.PrivateKey
}

// envSource is a literal-or-path value: either the value itself (an RPST, a
// PEM key, or a service-account token) or an absolute path to a file holding
// it.
type envSource struct {
	literal string
	path    string
}

func classifyEnvSource(value string) envSource {
	if filepath.IsAbs(value) {
		return envSource{path: value}
	}
	return envSource{literal: value}
}

func (s envSource) read() (string, error) {
	if s.path == "" {
		return s.literal, nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("profile: read %s: %w", s.path, err)
	}
	return string(b), nil
}

// NewResourcePrincipalProvider reads the OCI_RESOURCE_PRINCIPAL_* env vars
// once, at construction; the provider holds no other global state.
func NewResourcePrincipalProvider(profileExpireBefore time.Duration) (*ResourcePrincipalProvider, error) {
	version := os.Getenv(EnvResourcePrincipalVersion)
	if version != resourcePrincipalVersion {
		return nil, fmt.Errorf("profile: %s must be %q, got %q", EnvResourcePrincipalVersion, resourcePrincipalVersion, version)
	}

	rpst := os.Getenv(EnvResourcePrincipalRPST)
	if rpst == "" {
		return nil, fmt.Errorf("profile: %s is required", EnvResourcePrincipalRPST)
	}

	pem := os.Getenv(EnvResourcePrincipalPrivatePEM)
	if pem == "" {
		return nil, fmt.Errorf("profile: %s is required", EnvResourcePrincipalPrivatePEM)
	}

	region := os.Getenv(EnvResourcePrincipalRegion)
	if region == "" {
		return nil, fmt.Errorf("profile: %s is required", EnvResourcePrincipalRegion)
	}

	return &ResourcePrincipalProvider{
		rpstSource:          classifyEnvSource(rpst),
		pemSource:           classifyEnvSource(pem),
		passphrase:          []byte(os.Getenv(EnvResourcePrincipalPrivatePEMPassword)),
		region:              region,
		profileExpireBefore: profileExpireBefore,
	}, nil
}

// GetProfile re-derives the key (if path-sourced) and re-parses the RPST (if
// path-sourced or expired/forced), then returns keyId "ST$<rpst>".
func (p *ResourcePrincipalProvider) GetProfile(_ context.Context, forceRefresh bool) (*AuthenticationProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pemSource.path != "" || p.key == nil {
		key, err := p.loadKey()
		if err != nil {
			return nil, err
		}
		p.key = key
	}

	if forceRefresh || p.rpstSource.path != "" || p.token == nil || !p.token.IsValid(p.profileExpireBefore) {
		token, err := p.loadToken()
		if err != nil {
			return nil, err
		}
		p.token = token
	}

	return &AuthenticationProfile{
		KeyID:      "ST$" + p.token.Raw,
		PrivateKey: p.key,
		TenancyID:  "",
	}, nil
}

func (p *ResourcePrincipalProvider) loadKey() (*rsa.PrivateKey, error) {
	pemStr, err := p.pemSource.read()
	if err != nil {
		return nil, fmt.Errorf("profile: resource principal PEM: %w", err)
	}
	key, err := pemkey.ParsePrivateKey([]byte(pemStr), p.passphrase)
	if err != nil {
		return nil, fmt.Errorf("profile: resource principal PEM parse: %w", err)
	}
	return key, nil
}

func (p *ResourcePrincipalProvider) loadToken() (*securitytoken.Token, error) {
	raw, err := p.rpstSource.read()
	if err != nil {
		return nil, fmt.Errorf("profile: resource principal RPST: %w", err)
	}
	token, err := securitytoken.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("profile: resource principal RPST parse: %w", err)
	}
	return token, nil
}

// RegionID returns OCI_RESOURCE_PRINCIPAL_REGION.
func (p *ResourcePrincipalProvider) RegionID() string { return p.region }

// IsProfileValid reports whether the cached token is still valid.
func (p *ResourcePrincipalProvider) IsProfileValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != nil && p.token.IsValid(p.profileExpireBefore)
}

// TTL is the token's remaining validity minus profileExpireBefore.
func (p *ResourcePrincipalProvider) TTL() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		return 0
	}
	return p.token.TTL() - p.profileExpireBefore
}

// Dispose clears the cached key and passphrase.
func (p *ResourcePrincipalProvider) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = nil
	pemkey.Zero(p.passphrase)
}

var _ Provider = (*ResourcePrincipalProvider)(nil)
