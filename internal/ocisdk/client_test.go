package ocisdk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle-nosql/go-iamauth/internal/ocisdk"
)

func TestClient_Get_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer Oracle", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("opc-request-id"))
		_, _ = w.Write([]byte("pem-bytes"))
	}))
	defer srv.Close()

	c, err := ocisdk.NewClient()
	require.NoError(t, err)

	body, err := c.Get(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer Oracle"})
	require.NoError(t, err)
	assert.Equal(t, "pem-bytes", string(body))
}

func TestClient_Get_NonOK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
	}))
	defer srv.Close()

	c, err := ocisdk.NewClient()
	require.NoError(t, err)

	_, err = c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)

	code, ok := ocisdk.StatusCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestClient_PostJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"token":"abc"}`))
	}))
	defer srv.Close()

	c, err := ocisdk.NewClient()
	require.NoError(t, err)

	body, err := c.PostJSON(context.Background(), srv.URL, []byte(`{"publicKey":"x"}`), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"abc"}`, string(body))
}
