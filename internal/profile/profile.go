// Package profile implements the six OCI authentication profile providers
// (C3): user credentials, OCI config file, session token, resource
// principal, instance principal, and OKE workload identity. Each produces an
// AuthenticationProfile on demand and guards its own state with a mutex; the
// signature engine additionally serializes calls with a single-permit
// semaphore.
package profile

import (
	"context"
	"crypto/rsa"
	"time"
)

// AuthenticationProfile is the runtime tuple used to sign one or more
// requests: a keyId, the RSA private key it names, and an optional tenancy
// OCID (absent for token-based principals).
type AuthenticationProfile struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
	TenancyID  string // empty for token-based principals
}

// Provider is the capability set every profile variant implements.
type Provider interface {
	// GetProfile returns the current profile, refreshing it first if
	// forceRefresh is set or the cached profile has expired.
	GetProfile(ctx context.Context, forceRefresh bool) (*AuthenticationProfile, error)
	// RegionID returns the region the provider discovered, if any.
	RegionID() string
	// IsProfileValid reports whether the last-issued profile is still
	// usable without a refresh.
	IsProfileValid() bool
	// TTL returns how long the current profile remains valid. Implementations
	// backed by immortal credentials (e.g. a static user key) return a very
	// large duration.
	TTL() time.Duration
	// Dispose releases RSA key material, HTTP clients, and any other
	// resources the provider owns.
	Dispose()
}

// Immortal is the TTL reported by providers whose profile never expires
// (the user-credentials and OCI-config-file providers).
const Immortal = 100 * 365 * 24 * time.Hour
