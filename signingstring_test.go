package iamauth

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSigningString_NoContentNoDelegation(t *testing.T) {
	h := signingHeaders{
		requestTarget: "post /V2/nosql/data",
		host:          "nosql.us-ashburn-1.oci.oraclecloud.com",
		date:          "Mon, 01 Jan 2024 00:00:00 GMT",
	}
	signingString, headerNames := buildSigningString(h, false)

	assert.Equal(t,
		"(request-target): post /V2/nosql/data\n"+
			"host: nosql.us-ashburn-1.oci.oraclecloud.com\n"+
			"date: Mon, 01 Jan 2024 00:00:00 GMT",
		signingString)
	assert.Equal(t, []string{"(request-target)", "host", "date"}, headerNames)
}

func TestBuildSigningString_WithContentBlock(t *testing.T) {
	h := signingHeaders{
		requestTarget: "post /V2/nosql/data",
		host:          "nosql.us-ashburn-1.oci.oraclecloud.com",
		date:          "Mon, 01 Jan 2024 00:00:00 GMT",
		contentLength: "18",
		contentType:   "application/json",
		contentSHA256: "abc123==",
	}
	_, headerNames := buildSigningString(h, true)
	assert.Equal(t, []string{
		"(request-target)", "host", "date",
		"content-length", "content-type", "x-content-sha256",
	}, headerNames)
}

func TestBuildSigningString_WithDelegation(t *testing.T) {
	h := signingHeaders{
		requestTarget: "post /V2/nosql/data",
		host:          "nosql.us-ashburn-1.oci.oraclecloud.com",
		date:          "Mon, 01 Jan 2024 00:00:00 GMT",
		delegation:    "obo-token-value",
	}
	signingString, headerNames := buildSigningString(h, false)
	assert.Contains(t, signingString, "opc-obo-token: obo-token-value")
	assert.Equal(t, "opc-obo-token", headerNames[len(headerNames)-1])
}

func TestBuildAuthorizationHeader_Format(t *testing.T) {
	header := buildAuthorizationHeader("ocid1.tenancy.oc1..aaa/ocid1.user.oc1..bbb/fp", []string{"(request-target)", "host", "date"}, []byte("sig"))
	assert.Contains(t, header, `headers="(request-target) host date"`)
	assert.Contains(t, header, `keyId="ocid1.tenancy.oc1..aaa/ocid1.user.oc1..bbb/fp"`)
	assert.Contains(t, header, `algorithm="rsa-sha256"`)
	assert.Contains(t, header, `version="1"`)
	assert.True(t, header[:len("Signature ")] == "Signature ")
}

func TestRFC1123UTC_UsesGMTLabel(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "Mon, 01 Jan 2024 00:00:00 GMT", rfc1123UTC(ts))
}

func TestSignWithRSA_ProducesVerifiableSignature(t *testing.T) {
	key := testRSAKey(t)
	signingString := "(request-target): post /v1/x509\nhost: example.com"
	sig, err := signWithRSA(key, signingString)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	sum := sha256.Sum256([]byte(signingString))
	require.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, sum[:], sig))
}

func TestRequestTargetOf(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://nosql.us-ashburn-1.oci.oraclecloud.com/V2/nosql/data", nil)
	require.NoError(t, err)
	assert.Equal(t, "post /V2/nosql/data", requestTargetOf(req))
}

func TestRequestMethodAndPathOf_RoundTrip(t *testing.T) {
	target := "post /V2/nosql/data"
	assert.Equal(t, "POST", requestMethodOf(target))
	assert.Equal(t, "/V2/nosql/data", requestPathOf(target))
}
