// Package securitytoken parses OCI security tokens (resource principal
// session tokens, instance principal federation tokens, OKE workload
// identity tokens) as unverified JWTs: the issuer is trusted by transport,
// so only the claims segment is decoded locally.
package securitytoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned when a token string does not have at least three
// dot-separated segments.
var ErrMalformed = errors.New("securitytoken: malformed token, expected at least 3 segments")

// Token wraps a parsed JWT's claims and raw form.
type Token struct {
	Raw        string
	Expiration time.Time
	Claims     jwt.MapClaims
}

var unverifiedParser = jwt.NewParser()

// Parse splits tokenString on ".", decodes the middle (claims) segment as
// JSON, and extracts "exp" as milliseconds-since-epoch UTC. The signature is
// never verified locally.
func Parse(tokenString string) (*Token, error) {
	if strings.Count(tokenString, ".") < 2 {
		return nil, ErrMalformed
	}

	claims := jwt.MapClaims{}
	_, _, err := unverifiedParser.ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, fmt.Errorf("securitytoken: parse claims: %w", err)
	}

	expSeconds, ok := claims["exp"]
	if !ok {
		return nil, errors.New("securitytoken: token has no exp claim")
	}
	seconds, err := toFloat(expSeconds)
	if err != nil {
		return nil, fmt.Errorf("securitytoken: exp claim: %w", err)
	}

	return &Token{
		Raw:        tokenString,
		Expiration: time.UnixMilli(int64(seconds * 1000)).UTC(),
		Claims:     claims,
	}, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case jwt.NumericDate:
		return float64(n.Unix()), nil
	default:
		return 0, fmt.Errorf("unexpected exp claim type %T", v)
	}
}

// IsValid reports whether the token has not expired, with a conservative
// skew margin subtracted from its expiration.
func (t *Token) IsValid(skew time.Duration) bool {
	return time.Now().UTC().Before(t.Expiration.Add(-skew))
}

// TTL returns the remaining time until expiration. Negative once expired.
func (t *Token) TTL() time.Duration {
	return time.Until(t.Expiration)
}

// StringClaim returns a string claim value, or "" if absent or non-string.
func (t *Token) StringClaim(key string) string {
	v, ok := t.Claims[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ResourceTenancyID returns the "res_tenant" claim carried by resource
// principal tokens.
func (t *Token) ResourceTenancyID() string {
	return t.StringClaim("res_tenant")
}

// ResourceCompartmentID returns the "res_compartment" claim carried by
// resource principal tokens.
func (t *Token) ResourceCompartmentID() string {
	return t.StringClaim("res_compartment")
}
