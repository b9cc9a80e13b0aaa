package iamauth

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/oracle-nosql/go-iamauth/internal/profile"
)

func readDelegationTokenFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", newConfigurationError("read delegation token file: " + err.Error())
	}
	return strings.TrimSpace(string(b)), nil
}

const (
	defaultCacheDuration         = 5 * time.Minute
	maxCacheDuration             = 5 * time.Minute
	defaultRefreshAhead          = 10 * time.Second
	defaultMaxProfileRefreshAhead = 60 * time.Second
	defaultProfileExpireBefore   = 10 * time.Second
	defaultRequestTimeout        = 120 * time.Second
)

// CredentialsProvider is a user-supplied callback that produces
// UserCredentials on demand, standing in for the "runtime reflection"
// credential source: a caller can assemble credentials from a secrets
// manager, a database, or any other runtime source.
type CredentialsProvider func() (profile.UserCredentials, error)

// ServiceAccountTokenProvider is a user-supplied callback returning the raw
// Kubernetes service-account token for the OKE workload-identity source.
type ServiceAccountTokenProvider func() (string, error)

// EngineConfig configures an Engine. Exactly one credential-source group
// must be set; Validate reports every other combination as a
// ConfigurationError.
type EngineConfig struct {
	// Direct credentials.
	Credentials *profile.UserCredentials

	// OCI config file.
	UseConfigFile bool
	ConfigFilePath string
	ProfileName    string

	// Caller-supplied credential callback.
	CredentialsProvider CredentialsProvider

	// Instance principal.
	UseInstancePrincipal    bool
	FederationEndpoint      string
	DelegationToken         string
	DelegationTokenFile     string
	DelegationTokenProvider func() (string, error)

	// Resource principal (env-var sourced).
	UseResourcePrincipal bool

	// OKE workload identity. Validate does not read ServiceAccountTokenFile:
	// when neither ServiceAccountToken nor ServiceAccountTokenProvider is
	// set, the provider reads the default in-pod token file.
	UseOkeWorkloadIdentity      bool
	ServiceAccountToken         string
	ServiceAccountTokenFile     string
	ServiceAccountTokenProvider ServiceAccountTokenProvider

	// Session token (wraps the config file).
	UseSessionToken bool

	// Timing. CacheDuration/ProfileExpireBefore/RequestTimeout default when
	// left at zero. RefreshAhead is a pointer because its zero value is
	// meaningful (explicitly disables background refresh) and must be
	// distinguished from "left unset" (defaults to 10s).
	CacheDuration          time.Duration
	RefreshAhead           *time.Duration
	MaxProfileRefreshAhead time.Duration
	ProfileExpireBefore    time.Duration
	RequestTimeout         time.Duration

	// Logger receives Debug-level background-refresh scheduling and
	// completion messages and Warn-level background-refresh failures; errors
	// from ApplyAuthorization are returned to the caller, not logged. Nil
	// falls back to slog.Default(). Never receives key material, passphrases, or raw
	// tokens — only key IDs, region IDs, and durations.
	Logger *slog.Logger
}

// Validate applies defaults, bounds-checks every duration, and constructs the
// single active profile.Provider the group of options selects. It is called
// once, from Engine.Configure.
func (c *EngineConfig) Validate() (profile.Provider, error) {
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	groups := 0
	if c.Credentials != nil {
		groups++
	}
	if c.UseConfigFile {
		groups++
	}
	if c.CredentialsProvider != nil {
		groups++
	}
	if c.UseInstancePrincipal {
		groups++
	}
	if c.UseResourcePrincipal {
		groups++
	}
	if c.UseOkeWorkloadIdentity {
		groups++
	}
	if c.UseSessionToken {
		groups++
	}
	if groups != 1 {
		return nil, newConfigurationError("exactly one credential source must be configured")
	}

	switch {
	case c.Credentials != nil:
		p, err := profile.NewUserProvider(*c.Credentials)
		if err != nil {
			return nil, wrapConfigurationError("direct credentials", err)
		}
		return p, nil

	case c.UseConfigFile:
		p, err := profile.NewConfigFileProvider(c.ConfigFilePath, c.ProfileName)
		if err != nil {
			return nil, wrapConfigurationError("config file", err)
		}
		return p, nil

	case c.CredentialsProvider != nil:
		creds, err := c.CredentialsProvider()
		if err != nil {
			return nil, wrapConfigurationError("credentials provider callback", err)
		}
		p, err := profile.NewUserProvider(creds)
		if err != nil {
			return nil, wrapConfigurationError("credentials provider result", err)
		}
		return p, nil

	case c.UseInstancePrincipal:
		var opts []profile.InstancePrincipalOption
		if c.FederationEndpoint != "" {
			opts = append(opts, profile.WithFederationEndpoint(c.FederationEndpoint))
		}
		token, err := c.resolveDelegationToken()
		if err != nil {
			return nil, err
		}
		if token != "" {
			c.DelegationToken = token
		}
		p, err := profile.NewInstancePrincipalProvider(c.ProfileExpireBefore, opts...)
		if err != nil {
			return nil, wrapConfigurationError("instance principal", err)
		}
		return p, nil

	case c.UseResourcePrincipal:
		p, err := profile.NewResourcePrincipalProvider(c.ProfileExpireBefore)
		if err != nil {
			return nil, wrapConfigurationError("resource principal", err)
		}
		return p, nil

	case c.UseOkeWorkloadIdentity:
		p, err := profile.NewOKEWorkloadIdentityProvider(c.ProfileExpireBefore)
		if err != nil {
			return nil, wrapConfigurationError("OKE workload identity", err)
		}
		if c.ServiceAccountToken != "" {
			p.WithOKEServiceAccountToken(c.ServiceAccountToken)
		} else if c.ServiceAccountTokenProvider != nil {
			tok, err := c.ServiceAccountTokenProvider()
			if err != nil {
				return nil, wrapConfigurationError("OKE service account token provider", err)
			}
			p.WithOKEServiceAccountToken(tok)
		}
		return p, nil

	case c.UseSessionToken:
		p, err := profile.NewSessionTokenProvider(c.ConfigFilePath, c.ProfileName, c.ProfileExpireBefore)
		if err != nil {
			return nil, wrapConfigurationError("session token", err)
		}
		return p, nil
	}

	return nil, newConfigurationError("no credential source configured")
}

func (c *EngineConfig) resolveDelegationToken() (string, error) {
	n := 0
	if c.DelegationToken != "" {
		n++
	}
	if c.DelegationTokenFile != "" {
		n++
	}
	if c.DelegationTokenProvider != nil {
		n++
	}
	if n > 1 {
		return "", newConfigurationError("at most one of DelegationToken/DelegationTokenFile/DelegationTokenProvider may be set")
	}
	if c.DelegationToken != "" {
		return c.DelegationToken, nil
	}
	if c.DelegationTokenProvider != nil {
		return c.DelegationTokenProvider()
	}
	if c.DelegationTokenFile != "" {
		return readDelegationTokenFile(c.DelegationTokenFile)
	}
	return "", nil
}

func (c *EngineConfig) applyDefaults() error {
	if c.CacheDuration == 0 {
		c.CacheDuration = defaultCacheDuration
	}
	if c.CacheDuration < 0 {
		return newConfigurationError("cacheDuration must be > 0")
	}
	if c.CacheDuration > maxCacheDuration {
		return newConfigurationError("cacheDuration must be <= 5 minutes")
	}

	if c.RefreshAhead == nil {
		d := defaultRefreshAhead
		c.RefreshAhead = &d
	}
	if *c.RefreshAhead < 0 {
		return newConfigurationError("refreshAhead must be >= 0")
	}

	if c.MaxProfileRefreshAhead == 0 {
		c.MaxProfileRefreshAhead = defaultMaxProfileRefreshAhead
	}
	if c.MaxProfileRefreshAhead < *c.RefreshAhead {
		c.MaxProfileRefreshAhead = *c.RefreshAhead
	}

	if c.ProfileExpireBefore == 0 {
		c.ProfileExpireBefore = defaultProfileExpireBefore
	}
	if c.ProfileExpireBefore < 0 {
		return newConfigurationError("profileExpireBefore must be >= 0")
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.RequestTimeout < 0 {
		return newConfigurationError("requestTimeout must be >= 0")
	}

	return nil
}

// backgroundRefreshDisabled reports whether refreshAhead disables background
// refresh, per the "0 disables; >= cacheDuration disables" rule.
func (c *EngineConfig) backgroundRefreshDisabled() bool {
	return *c.RefreshAhead <= 0 || *c.RefreshAhead >= c.CacheDuration
}
