package profile

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oracle-nosql/go-iamauth/internal/ocisdk"
	"github.com/oracle-nosql/go-iamauth/internal/securitytoken"
)

const (
	envKubernetesServiceHost      = "KUBERNETES_SERVICE_HOST"
	envOKEServiceAccountCertPath  = "OCI_KUBERNETES_SERVICE_ACCOUNT_CERT_PATH"
	defaultOKEServiceAccountCert  = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
	defaultOKEServiceAccountToken = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	okeProxymuxPort               = "12250"
	okeTokenPath                  = "/resourcePrincipalSessionTokens"
)

// OKEWorkloadIdentityProvider exchanges a pod's Kubernetes service-account
// token for an OCI security token at the in-cluster proxymux endpoint,
// generating its own session key pair the same way the instance-principal
// provider does.
type OKEWorkloadIdentityProvider struct {
	httpClient          *ocisdk.Client
	endpoint            string
	serviceAccountToken envSource

	profileExpireBefore time.Duration

	mu         sync.Mutex
	token      *securitytoken.Token
	sessionKey *rsa.PrivateKey
}

// NewOKEWorkloadIdentityProvider requires KUBERNETES_SERVICE_HOST to be set
// (it is always present inside a pod) and builds an HTTP client trusting the
// cluster's CA bundle, with hostname verification disabled since the
// proxymux endpoint's certificate does not carry a verifiable SAN for the
// cluster-internal address.
func NewOKEWorkloadIdentityProvider(profileExpireBefore time.Duration) (*OKEWorkloadIdentityProvider, error) {
	host := os.Getenv(envKubernetesServiceHost)
	if host == "" {
		return nil, fmt.Errorf("profile: %s is required for OKE workload identity", envKubernetesServiceHost)
	}

	certPath := os.Getenv(envOKEServiceAccountCertPath)
	if certPath == "" {
		certPath = defaultOKEServiceAccountCert
	}

	client, err := ocisdk.NewClient(
		ocisdk.WithTrustedRootsFile(certPath),
		ocisdk.WithoutHostnameVerification(),
	)
	if err != nil {
		return nil, fmt.Errorf("profile: OKE http client: %w", err)
	}

	return &OKEWorkloadIdentityProvider{
		httpClient:          client,
		endpoint:            fmt.Sprintf("https://%s:%s%s", host, okeProxymuxPort, okeTokenPath),
		serviceAccountToken: envSource{path: defaultOKEServiceAccountToken},
		profileExpireBefore: profileExpireBefore,
	}, nil
}

// WithOKEEndpoint overrides the proxymux endpoint; used by tests.
func (p *OKEWorkloadIdentityProvider) WithOKEEndpoint(endpoint string) *OKEWorkloadIdentityProvider {
	p.endpoint = endpoint
	return p
}

// WithOKEServiceAccountToken overrides the service-account token source with
// a literal token; used by EngineConfig.Validate and by tests.
func (p *OKEWorkloadIdentityProvider) WithOKEServiceAccountToken(token string) *OKEWorkloadIdentityProvider {
	p.serviceAccountToken = envSource{literal: token}
	return p
}

type okeTokenRequestBody struct {
	PodKey string `json:"podKey"`
}

// GetProfile exchanges the pod's service-account token for a security token
// whenever the cached one is missing, forced, or expired.
func (p *OKEWorkloadIdentityProvider) GetProfile(ctx context.Context, forceRefresh bool) (*AuthenticationProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !forceRefresh && p.token != nil && p.token.IsValid(p.profileExpireBefore) {
		return &AuthenticationProfile{KeyID: "ST$" + p.token.Raw, PrivateKey: p.sessionKey}, nil
	}

	sessionKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("profile: generate OKE session key: %w", err)
	}

	publicKeyDER, err := x509.MarshalPKIXPublicKey(&sessionKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("profile: marshal OKE session public key: %w", err)
	}
	podKey := base64.StdEncoding.EncodeToString(publicKeyDER)

	payload, err := json.Marshal(okeTokenRequestBody{PodKey: podKey})
	if err != nil {
		return nil, fmt.Errorf("profile: marshal OKE token request: %w", err)
	}

	saToken, err := p.serviceAccountToken.read()
	if err != nil {
		return nil, fmt.Errorf("profile: read OKE service account token: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + saToken,
	}

	respBody, err := p.httpClient.PostJSON(ctx, p.endpoint, payload, headers)
	if err != nil {
		return nil, fmt.Errorf("profile: OKE resource principal exchange: %w", err)
	}

	raw, err := unwrapOKEResponse(respBody)
	if err != nil {
		return nil, err
	}

	token, err := securitytoken.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("profile: parse OKE security token: %w", err)
	}

	p.sessionKey = sessionKey
	p.token = token

	return &AuthenticationProfile{KeyID: "ST$" + token.Raw, PrivateKey: sessionKey}, nil
}

// unwrapOKEResponse decodes the proxymux response, which wraps a
// base64-encoded JSON object (itself carrying the token with a duplicated
// "ST$" prefix) inside a pair of literal double quotes.
func unwrapOKEResponse(body []byte) (string, error) {
	trimmed := body
	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		trimmed = trimmed[1 : len(trimmed)-1]
	}

	decoded, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return "", fmt.Errorf("profile: base64-decode OKE response: %w", err)
	}

	var wrapper struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(decoded, &wrapper); err != nil {
		return "", fmt.Errorf("profile: unmarshal OKE response: %w", err)
	}

	const prefix = "ST$"
	token := wrapper.Token
	for strings.HasPrefix(token, prefix) {
		token = token[len(prefix):]
	}
	return token, nil
}

// RegionID always returns "": the OKE workload-identity provider does not
// discover a region.
func (p *OKEWorkloadIdentityProvider) RegionID() string { return "" }

// IsProfileValid reports whether the cached token is still valid.
func (p *OKEWorkloadIdentityProvider) IsProfileValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != nil && p.token.IsValid(p.profileExpireBefore)
}

// TTL is the token's remaining validity minus profileExpireBefore.
func (p *OKEWorkloadIdentityProvider) TTL() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		return 0
	}
	return p.token.TTL() - p.profileExpireBefore
}

// Dispose clears the session key.
func (p *OKEWorkloadIdentityProvider) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionKey = nil
}

var _ Provider = (*OKEWorkloadIdentityProvider)(nil)
