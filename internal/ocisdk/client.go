// Copyright (c) 2016, 2018, 2025, Oracle and/or its affiliates.  All rights reserved.
// This software is dual-licensed to you under the Universal Permissive License (UPL) 1.0 as shown at https://oss.oracle.com/licenses/upl or Apache License 2.0 as shown at http://www.apache.org/licenses/LICENSE-2.0. You may choose either license.

// Package ocisdk is the short-timeout HTTP client (C5) used by the
// instance-principal and OKE-workload-identity profile providers to reach
// IMDS, the X.509 federation endpoint, and the OKE resource principal token
// endpoint. It is intentionally small: one-shot requests, a configurable
// trust store, an optional hostname-verification override, and typed errors
// for non-2xx responses.
package ocisdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

// HTTPRequestDispatcher is the seam the Client dispatches requests through;
// tests substitute a fake implementation instead of a live *http.Client.
type HTTPRequestDispatcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// ServiceResponseException wraps a non-2xx response from IMDS, federation,
// or the OKE token endpoint.
type ServiceResponseException struct {
	StatusCode   int
	Body         string
	OpcRequestID string
	endpoint     string
}

func (e *ServiceResponseException) Error() string {
	if e.OpcRequestID != "" {
		return fmt.Sprintf("ocisdk: %s returned status %d (opc-request-id=%s): %s", e.endpoint, e.StatusCode, e.OpcRequestID, e.Body)
	}
	return fmt.Sprintf("ocisdk: %s returned status %d: %s", e.endpoint, e.StatusCode, e.Body)
}

// ClientOption configures a Client at construction.
type ClientOption func(*Client)

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithTrustedRootsFile loads PEM-encoded trust roots from a file; they replace
// the system pool as the set of roots the client trusts.
func WithTrustedRootsFile(path string) ClientOption {
	return func(c *Client) { c.trustedRootsFile = path }
}

// WithoutHostnameVerification disables TLS hostname verification. Used only
// by the OKE workload-identity provider to reach the in-cluster proxymux
// endpoint, whose certificate does not always carry a verifiable SAN.
func WithoutHostnameVerification() ClientOption {
	return func(c *Client) { c.skipHostnameVerification = true }
}

// Client is an immutable-after-construction HTTP client for auxiliary OCI
// protocols (IMDS, federation, OKE).
type Client struct {
	timeout                  time.Duration
	trustedRootsFile         string
	skipHostnameVerification bool
	dispatcher               HTTPRequestDispatcher
}

const defaultRequestTimeout = 120 * time.Second

// NewClient builds a Client, wiring its transport's trust store and
// hostname-verification policy from opts before the first request. Once
// built, the timeout and trust policy never change.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{timeout: defaultRequestTimeout}
	for _, opt := range opts {
		opt(c)
	}

	transport, err := buildTransport(c.trustedRootsFile, c.skipHostnameVerification)
	if err != nil {
		return nil, fmt.Errorf("ocisdk: build transport: %w", err)
	}

	c.dispatcher = &http.Client{
		Timeout:   c.timeout,
		Transport: transport,
	}
	return c, nil
}

func buildTransport(trustedRootsFile string, skipHostnameVerification bool) (http.RoundTripper, error) {
	tlsConfig := &tls.Config{}

	if trustedRootsFile != "" {
		pool, err := loadTrustedRoots(trustedRootsFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	if skipHostnameVerification {
		// The built-in check is switched off so that the chain can be verified
		// below against RootCAs (nil means the system pool) with no hostname.
		roots := tlsConfig.RootCAs
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // OKE in-cluster endpoint, explicit opt-in only
		tlsConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return fmt.Errorf("ocisdk: server presented no certificate")
			}
			opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	}

	transport := cloneDefaultTransport()
	transport.TLSClientConfig = tlsConfig
	return transport, nil
}

func cloneDefaultTransport() *http.Transport {
	return http.DefaultTransport.(*http.Transport).Clone()
}

func loadTrustedRoots(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ocisdk: read trusted roots %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ocisdk: no certificates found in %s", path)
	}
	return pool, nil
}

// Get issues a GET request with the given headers and returns the response
// body, failing on any non-2xx status.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ocisdk: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req, url)
}

// PostJSON issues a POST request with a JSON body and the given headers,
// returning the raw response body on success.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ocisdk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req, url)
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	requestID := uuid.NewString()
	req.Header.Set("opc-request-id", requestID)

	resp, err := c.dispatcher.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocisdk: request to %s failed (opc-request-id=%s): %w", endpoint, requestID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ocisdk: read response body from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceResponseException{
			StatusCode:   resp.StatusCode,
			Body:         string(body),
			OpcRequestID: requestID,
			endpoint:     endpoint,
		}
	}
	return body, nil
}

// StatusCodeOf reports the HTTP status code carried by err, if err is (or
// wraps) a *ServiceResponseException.
func StatusCodeOf(err error) (int, bool) {
	var svcErr *ServiceResponseException
	if errors.As(err, &svcErr) {
		return svcErr.StatusCode, true
	}
	return 0, false
}
