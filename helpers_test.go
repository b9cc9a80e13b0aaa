package iamauth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// testPKCS8PEM PEM-encodes key as an unencrypted PKCS#8 block, the format
// OCI tooling generates for resource-principal PEM literals.
func testPKCS8PEM(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// testJWT builds a three-segment JWT with the given expiration, signed with
// an arbitrary HMAC key: the engine never verifies the signature locally.
func testJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": exp.Unix()}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}
