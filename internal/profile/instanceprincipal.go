package profile

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oracle-nosql/go-iamauth/internal/ocid"
	"github.com/oracle-nosql/go-iamauth/internal/ocisdk"
	"github.com/oracle-nosql/go-iamauth/internal/securitytoken"
)

const (
	defaultIMDSV2Base = "http://169.254.169.254/opc/v2/"
	defaultIMDSV1Base = "http://169.254.169.254/opc/v1/"
	secondLevelDomain = "oraclecloud.com"
)

// InstancePrincipalProvider fetches the instance's leaf/intermediate
// certificates and private key from IMDS, generates a fresh session RSA key
// pair, and exchanges the leaf certificate for a security token at the
// region's federation endpoint.
type InstancePrincipalProvider struct {
	httpClient         *ocisdk.Client
	federationEndpoint string // empty until discovered, or user-supplied

	// imdsV2Base/imdsV1Base default to the real IMDS address; tests point
	// them at an httptest double instead.
	imdsV2Base string
	imdsV1Base string

	profileExpireBefore time.Duration

	mu         sync.Mutex
	tenancyID  string // pinned on first observation; drift is fatal
	region     string
	token      *securitytoken.Token
	sessionKey *rsa.PrivateKey
}

// InstancePrincipalOption configures an InstancePrincipalProvider.
type InstancePrincipalOption func(*InstancePrincipalProvider)

// WithFederationEndpoint pins the federation endpoint instead of deriving it
// from the instance's region.
func WithFederationEndpoint(endpoint string) InstancePrincipalOption {
	return func(p *InstancePrincipalProvider) { p.federationEndpoint = endpoint }
}

// NewInstancePrincipalProvider builds the provider's IMDS/federation HTTP
// client.
func NewInstancePrincipalProvider(profileExpireBefore time.Duration, opts ...InstancePrincipalOption) (*InstancePrincipalProvider, error) {
	client, err := ocisdk.NewClient()
	if err != nil {
		return nil, fmt.Errorf("profile: instance principal http client: %w", err)
	}
	p := &InstancePrincipalProvider{
		httpClient:          client,
		profileExpireBefore: profileExpireBefore,
		imdsV2Base:          defaultIMDSV2Base,
		imdsV1Base:          defaultIMDSV1Base,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// GetProfile fetches and federates instance identity whenever the cached
// token is missing, forced, or expired.
func (p *InstancePrincipalProvider) GetProfile(ctx context.Context, forceRefresh bool) (*AuthenticationProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !forceRefresh && p.token != nil && p.token.IsValid(p.profileExpireBefore) {
		return &AuthenticationProfile{KeyID: "ST$" + p.token.Raw, PrivateKey: p.sessionKey}, nil
	}

	if p.federationEndpoint == "" {
		region, err := p.discoverRegion(ctx)
		if err != nil {
			return nil, fmt.Errorf("profile: discover region: %w", err)
		}
		p.region = region
		p.federationEndpoint = fmt.Sprintf("https://auth.%s.%s", region, secondLevelDomain)
	}

	leafPEM, interPEM, keyPEM, err := p.fetchIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("profile: fetch instance identity: %w", err)
	}

	leafCert, err := parseCertificate(leafPEM)
	if err != nil {
		return nil, fmt.Errorf("profile: parse leaf certificate: %w", err)
	}

	tenancyID := ocid.ExtractTenancyID(leafCert)
	if tenancyID == "" {
		return nil, fmt.Errorf("profile: leaf certificate has no opc-tenant/opc-identity attribute")
	}
	if p.tenancyID != "" && p.tenancyID != tenancyID {
		return nil, fmt.Errorf("profile: tenancy OCID drift across refreshes: was %q, now %q", p.tenancyID, tenancyID)
	}
	p.tenancyID = tenancyID

	instanceKey, err := parseInstanceKey(keyPEM)
	if err != nil {
		return nil, err
	}

	sessionKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("profile: generate session key: %w", err)
	}

	token, err := p.exchangeForToken(ctx, tenancyID, leafCert, instanceKey, sessionKey, interPEM)
	if err != nil {
		return nil, fmt.Errorf("profile: x509 federation exchange: %w", err)
	}

	p.sessionKey = sessionKey
	p.token = token

	return &AuthenticationProfile{KeyID: "ST$" + token.Raw, PrivateKey: sessionKey}, nil
}

func (p *InstancePrincipalProvider) discoverRegion(ctx context.Context) (string, error) {
	headers := map[string]string{"Authorization": "Bearer Oracle"}
	body, err := p.httpClient.Get(ctx, p.imdsV2Base+"instance/region", headers)
	if err == nil {
		return strings.TrimSpace(string(body)), nil
	}
	if code, ok := ocisdk.StatusCodeOf(err); ok && code == 404 {
		body, err = p.httpClient.Get(ctx, p.imdsV1Base+"instance/region", headers)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(body)), nil
	}
	return "", err
}

func (p *InstancePrincipalProvider) fetchIdentity(ctx context.Context) (leaf, intermediate, key []byte, err error) {
	base := p.imdsV2Base
	headers := map[string]string{"Authorization": "Bearer Oracle"}

	leaf, err = p.httpClient.Get(ctx, base+"identity/cert.pem", headers)
	if err != nil {
		if code, ok := ocisdk.StatusCodeOf(err); ok && code == 404 {
			base = p.imdsV1Base
			leaf, err = p.httpClient.Get(ctx, base+"identity/cert.pem", headers)
		}
		if err != nil {
			return nil, nil, nil, err
		}
	}
	intermediate, err = p.httpClient.Get(ctx, base+"identity/intermediate.pem", headers)
	if err != nil {
		return nil, nil, nil, err
	}
	key, err = p.httpClient.Get(ctx, base+"identity/key.pem", headers)
	if err != nil {
		return nil, nil, nil, err
	}
	return leaf, intermediate, key, nil
}

func parseCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in certificate")
	}
	return x509.ParseCertificate(block.Bytes)
}

func parseInstanceKey(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("profile: no PEM block in instance key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("profile: parse instance key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("profile: instance key is not RSA")
	}
	return rsaKey, nil
}

type x509FederationRequestBody struct {
	Certificate              string   `json:"certificate"`
	PublicKey                string   `json:"publicKey"`
	Purpose                  string   `json:"purpose"`
	IntermediateCertificates []string `json:"intermediateCertificates,omitempty"`
}

type x509FederationResponseBody struct {
	Token string `json:"token"`
}

func (p *InstancePrincipalProvider) exchangeForToken(ctx context.Context, tenancyID string, leafCert *x509.Certificate, instanceKey, sessionKey *rsa.PrivateKey, interPEM []byte) (*securitytoken.Token, error) {
	publicKeyDER, err := x509.MarshalPKIXPublicKey(&sessionKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal session public key: %w", err)
	}
	publicKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyDER})
	leafDER := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafCert.Raw})

	reqBody := x509FederationRequestBody{
		Certificate:              stripPEMArmor(leafDER),
		PublicKey:                stripPEMArmor(publicKeyPEM),
		Purpose:                  "DEFAULT",
		IntermediateCertificates: []string{stripPEMArmor(interPEM)},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal federation request: %w", err)
	}

	keyID := fmt.Sprintf("%s/fed-x509/%s", tenancyID, ocid.Fingerprint(leafCert))
	headers, err := signFederationRequest(instanceKey, keyID, "POST", "/v1/x509", payload)
	if err != nil {
		return nil, fmt.Errorf("sign federation request: %w", err)
	}

	respBody, err := p.httpClient.PostJSON(ctx, p.federationEndpoint+"/v1/x509", payload, headers)
	if err != nil {
		return nil, err
	}

	var parsed x509FederationResponseBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal federation response: %w", err)
	}

	return securitytoken.Parse(parsed.Token)
}

// signFederationRequest builds the Authorization header for the x509
// federation POST, signing the generic headers plus the body headers
// (content-length, content-type, x-content-sha256) with the instance's own
// leaf-certificate key.
func signFederationRequest(key *rsa.PrivateKey, keyID, method, requestPath string, body []byte) (map[string]string, error) {
	sum := sha256.Sum256(body)
	contentSHA256 := base64.StdEncoding.EncodeToString(sum[:])
	date := time.Now().UTC().Format(time.RFC1123)
	date = strings.Replace(date, "UTC", "GMT", 1)

	headers := map[string]string{
		"date":             date,
		"content-length":   fmt.Sprintf("%d", len(body)),
		"content-type":     "application/json",
		"x-content-sha256": contentSHA256,
	}

	signedHeaders := []string{"date", "(request-target)", "content-length", "content-type", "x-content-sha256"}
	requestTarget := strings.ToLower(method) + " " + requestPath

	var sb strings.Builder
	for i, h := range signedHeaders {
		if i > 0 {
			sb.WriteString("\n")
		}
		if h == "(request-target)" {
			sb.WriteString("(request-target): " + requestTarget)
		} else {
			sb.WriteString(h + ": " + headers[h])
		}
	}

	digest := sha256.Sum256([]byte(sb.String()))
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, err
	}

	headers["Authorization"] = fmt.Sprintf(
		`Signature version="1",keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`,
		keyID, strings.Join(signedHeaders, " "), base64.StdEncoding.EncodeToString(signature),
	)
	return headers, nil
}

func stripPEMArmor(b []byte) string {
	s := string(b)
	for _, marker := range []string{
		"-----BEGIN CERTIFICATE-----", "-----END CERTIFICATE-----",
		"-----BEGIN PUBLIC KEY-----", "-----END PUBLIC KEY-----",
	} {
		s = strings.ReplaceAll(s, marker, "")
	}
	return strings.ReplaceAll(s, "\n", "")
}

// RegionID returns the region discovered from IMDS.
func (p *InstancePrincipalProvider) RegionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.region
}

// IsProfileValid reports whether the cached security token is still valid.
func (p *InstancePrincipalProvider) IsProfileValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != nil && p.token.IsValid(p.profileExpireBefore)
}

// TTL is the token's remaining validity minus profileExpireBefore.
func (p *InstancePrincipalProvider) TTL() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		return 0
	}
	return p.token.TTL() - p.profileExpireBefore
}

// Dispose clears the session key.
func (p *InstancePrincipalProvider) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionKey = nil
}

var _ Provider = (*InstancePrincipalProvider)(nil)
