package ocid_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle-nosql/go-iamauth/internal/ocid"
)

func TestValid(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"ocid1.tenancy.oc1..aaaaaaaaexample":     true,
		"ocid1.user.oc1..aaaaaaaaexample":        true,
		"not-an-ocid":                            false,
		"ocid1.tenancy":                          false,
		"a.b.c.d":                                false,
		"":                                       false,
	}

	for in, want := range cases {
		assert.Equalf(t, want, ocid.Valid(in), "input %q", in)
	}
}

func TestExtractTenancyID(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "instance",
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: []int{2, 5, 4, 45}, Value: "opc-tenant:ocid1.tenancy.oc1..aaaaexample"},
			},
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	assert.Equal(t, "ocid1.tenancy.oc1..aaaaexample", ocid.ExtractTenancyID(cert))
	assert.NotEmpty(t, ocid.Fingerprint(cert))
}
