package iamauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle-nosql/go-iamauth/internal/profile"
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func pinnedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newDataRequest(t *testing.T, host string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://"+host+"/V2/nosql/data", nil)
	require.NoError(t, err)
	req.Host = host
	return req
}

func TestEngine_UserPrincipalHappyPath(t *testing.T) {
	key := testRSAKey(t)
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	e := NewEngine()
	e.nowFunc = pinnedClock(epoch)

	err := e.Configure(EngineConfig{
		Credentials: &profile.UserCredentials{
			TenancyID:   "ocid1.tenancy.oc1..aaa",
			UserID:      "ocid1.user.oc1..bbb",
			Fingerprint: "aa:bb:cc:dd",
			RSAKey:      key,
		},
	})
	require.NoError(t, err)

	req := newDataRequest(t, "nosql.us-ashburn-1.oci.oraclecloud.com")
	require.NoError(t, e.ApplyAuthorization(context.Background(), req, RequestOptions{}))

	assert.Contains(t, req.Header.Get("Authorization"), `keyId="ocid1.tenancy.oc1..aaa/ocid1.user.oc1..bbb/aa:bb:cc:dd"`)
	assert.Equal(t, "Mon, 01 Jan 2024 00:00:00 GMT", req.Header.Get("date"))
}

func TestEngine_CacheHit(t *testing.T) {
	key := testRSAKey(t)
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	e := NewEngine()
	e.nowFunc = pinnedClock(epoch)
	require.NoError(t, e.Configure(EngineConfig{
		Credentials: &profile.UserCredentials{
			TenancyID: "ocid1.tenancy.oc1..aaa", UserID: "ocid1.user.oc1..bbb",
			Fingerprint: "aa:bb:cc:dd", RSAKey: key,
		},
	}))

	req1 := newDataRequest(t, "nosql.us-ashburn-1.oci.oraclecloud.com")
	require.NoError(t, e.ApplyAuthorization(context.Background(), req1, RequestOptions{}))
	firstAuth := req1.Header.Get("Authorization")

	e.nowFunc = pinnedClock(epoch.Add(30 * time.Second))
	req2 := newDataRequest(t, "nosql.us-ashburn-1.oci.oraclecloud.com")
	require.NoError(t, e.ApplyAuthorization(context.Background(), req2, RequestOptions{}))

	assert.Equal(t, firstAuth, req2.Header.Get("Authorization"))
}

func TestEngine_InvalidAuthorizationForcesRefresh(t *testing.T) {
	key := testRSAKey(t)
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	e := NewEngine()
	e.nowFunc = pinnedClock(epoch)
	require.NoError(t, e.Configure(EngineConfig{
		Credentials: &profile.UserCredentials{
			TenancyID: "ocid1.tenancy.oc1..aaa", UserID: "ocid1.user.oc1..bbb",
			Fingerprint: "aa:bb:cc:dd", RSAKey: key,
		},
	}))

	req1 := newDataRequest(t, "nosql.us-ashburn-1.oci.oraclecloud.com")
	require.NoError(t, e.ApplyAuthorization(context.Background(), req1, RequestOptions{}))
	firstAuth := req1.Header.Get("Authorization")

	e.nowFunc = pinnedClock(epoch.Add(5 * time.Second))
	req2 := newDataRequest(t, "nosql.us-ashburn-1.oci.oraclecloud.com")
	require.NoError(t, e.ApplyAuthorization(context.Background(), req2, RequestOptions{LastException: ErrInvalidAuthorization}))

	assert.NotEqual(t, firstAuth, req2.Header.Get("Authorization"))
}

func TestEngine_ResourcePrincipal(t *testing.T) {
	pemBytes := testPKCS8PEM(t, testRSAKey(t))
	exp := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
	jwt := testJWT(t, exp)

	t.Setenv(profile.EnvResourcePrincipalVersion, "2.2")
	t.Setenv(profile.EnvResourcePrincipalRPST, jwt)
	t.Setenv(profile.EnvResourcePrincipalPrivatePEM, string(pemBytes))
	t.Setenv(profile.EnvResourcePrincipalRegion, "us-phoenix-1")

	e := NewEngine()
	e.nowFunc = pinnedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, e.Configure(EngineConfig{UseResourcePrincipal: true}))

	req := newDataRequest(t, "nosql.us-phoenix-1.oci.oraclecloud.com")
	require.NoError(t, e.ApplyAuthorization(context.Background(), req, RequestOptions{}))

	assert.Contains(t, req.Header.Get("Authorization"), `keyId="ST$`+jwt+`"`)
}

func TestEngine_ContentSignedSetsDigestAndDoesNotCache(t *testing.T) {
	key := testRSAKey(t)
	e := NewEngine()
	e.nowFunc = pinnedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, e.Configure(EngineConfig{
		Credentials: &profile.UserCredentials{
			TenancyID: "ocid1.tenancy.oc1..aaa", UserID: "ocid1.user.oc1..bbb",
			Fingerprint: "aa:bb:cc:dd", RSAKey: key,
		},
	}))

	body := []byte(`{"hello":"world"}`)
	req := newDataRequest(t, "nosql.us-ashburn-1.oci.oraclecloud.com")
	req.Header.Set("Content-Type", "application/json")
	require.NoError(t, e.ApplyAuthorization(context.Background(), req, RequestOptions{NeedsContentSigned: true, Body: body}))

	assert.Equal(t, contentSHA256Base64(body), req.Header.Get("x-content-sha256"))
	assert.Contains(t, req.Header.Get("Authorization"), "x-content-sha256")

	e.mu.Lock()
	cached := e.cached
	e.mu.Unlock()
	assert.Nil(t, cached, "content-signed requests must never be cached")
}

func TestEngine_DisposeRejectsFurtherCalls(t *testing.T) {
	key := testRSAKey(t)
	e := NewEngine()
	require.NoError(t, e.Configure(EngineConfig{
		Credentials: &profile.UserCredentials{
			TenancyID: "ocid1.tenancy.oc1..aaa", UserID: "ocid1.user.oc1..bbb",
			Fingerprint: "aa:bb:cc:dd", RSAKey: key,
		},
	}))
	e.Dispose()

	req := newDataRequest(t, "nosql.us-ashburn-1.oci.oraclecloud.com")
	err := e.ApplyAuthorization(context.Background(), req, RequestOptions{})
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestEngine_TokenBasedProfileOmitsCompartmentHeader(t *testing.T) {
	pemBytes := testPKCS8PEM(t, testRSAKey(t))
	jwt := testJWT(t, time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC))

	t.Setenv(profile.EnvResourcePrincipalVersion, "2.2")
	t.Setenv(profile.EnvResourcePrincipalRPST, jwt)
	t.Setenv(profile.EnvResourcePrincipalPrivatePEM, string(pemBytes))
	t.Setenv(profile.EnvResourcePrincipalRegion, "us-phoenix-1")

	e := NewEngine()
	e.nowFunc = pinnedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, e.Configure(EngineConfig{UseResourcePrincipal: true}))

	req := newDataRequest(t, "nosql.us-phoenix-1.oci.oraclecloud.com")
	require.NoError(t, e.ApplyAuthorization(context.Background(), req, RequestOptions{}))

	assert.Empty(t, req.Header.Get("x-nosql-compartment-id"))
}
