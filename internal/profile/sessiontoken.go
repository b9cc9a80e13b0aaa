package profile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oracle-nosql/go-iamauth/internal/securitytoken"
)

// SessionTokenProvider wraps a config-file-sourced RSA key with a security
// token read from the file named by security_token_file. The RSA
// key still signs the outer request; the token supplies the keyId.
type SessionTokenProvider struct {
	user      *UserProvider
	region    string
	tokenPath string

	profileExpireBefore time.Duration

	mu    sync.Mutex
	token *securitytoken.Token
}

// NewSessionTokenProvider parses path/profileName, requiring
// security_token_file to be set, and wraps the section's key/passphrase in a
// UserProvider used only to sign with the session token as keyId.
func NewSessionTokenProvider(path, profileName string, profileExpireBefore time.Duration) (*SessionTokenProvider, error) {
	if path == "" {
		path = DefaultConfigFilePath()
	}

	section, err := readConfigFile(path, profileName)
	if err != nil {
		return nil, err
	}
	if section.SecurityTokenFile == "" {
		return nil, fmt.Errorf("profile: config section has no security_token_file")
	}

	user, err := NewUserProvider(UserCredentials{
		// keyId composition in UserProvider is irrelevant here; the session
		// token supplies the keyId instead. Tenancy/user OCIDs are not
		// required for session-token signing, so synthesize placeholders
		// that still satisfy the OCID shape validator.
		TenancyID:   placeholderOCID,
		UserID:      placeholderOCID,
		Fingerprint: "session-token",
		PEMPath:     section.KeyFile,
		Passphrase:  []byte(section.PassPhrase),
	})
	if err != nil {
		return nil, fmt.Errorf("profile: config file %s: %w", path, err)
	}

	return &SessionTokenProvider{
		user:                user,
		region:              section.Region,
		tokenPath:           section.SecurityTokenFile,
		profileExpireBefore: profileExpireBefore,
	}, nil
}

const placeholderOCID = "ocid1.session.oc1..placeholder"

// GetProfile re-reads the token file when forced or the cached token has
// expired (relative to profileExpireBefore), then returns keyId "ST$<token>"
// signed with the underlying RSA key.
func (p *SessionTokenProvider) GetProfile(ctx context.Context, forceRefresh bool) (*AuthenticationProfile, error) {
	p.mu.Lock()
	needsRefresh := forceRefresh || p.token == nil || !p.token.IsValid(p.profileExpireBefore)
	if needsRefresh {
		tok, err := p.readToken()
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.token = tok
	}
	token := p.token
	p.mu.Unlock()

	userProfile, err := p.user.GetProfile(ctx, false)
	if err != nil {
		return nil, err
	}

	return &AuthenticationProfile{
		KeyID:      "ST$" + token.Raw,
		PrivateKey: userProfile.PrivateKey,
		TenancyID:  "",
	}, nil
}

func (p *SessionTokenProvider) readToken() (*securitytoken.Token, error) {
	content, err := os.ReadFile(p.tokenPath)
	if err != nil {
		return nil, fmt.Errorf("profile: read security token file %s: %w", p.tokenPath, err)
	}
	tok, err := securitytoken.Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("profile: parse security token %s: %w", p.tokenPath, err)
	}
	return tok, nil
}

// RegionID returns the config file's region.
func (p *SessionTokenProvider) RegionID() string { return p.region }

// IsProfileValid reports whether the cached token is still valid.
func (p *SessionTokenProvider) IsProfileValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != nil && p.token.IsValid(p.profileExpireBefore)
}

// TTL is the token's remaining validity minus profileExpireBefore.
func (p *SessionTokenProvider) TTL() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		return 0
	}
	return p.token.TTL() - p.profileExpireBefore
}

// Dispose releases the underlying RSA key.
func (p *SessionTokenProvider) Dispose() {
	p.user.Dispose()
}

var _ Provider = (*SessionTokenProvider)(nil)
