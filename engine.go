// Package iamauth computes OCI IAM request-signing Authorization headers for
// an outbound NoSQL data-plane request. An Engine is configured once with
// one of six mutually exclusive credential sources, then asked to sign each
// request as it is about to be sent; it caches the resulting signature for a
// bounded window and refreshes it proactively in the background.
package iamauth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/oracle-nosql/go-iamauth/internal/profile"
)

type engineState int

const (
	stateUnconfigured engineState = iota
	stateReady
	stateDisposed
)

// RequestOptions carries the per-request signing inputs that do not belong
// on the *http.Request itself: whether the server rejected the previous
// attempt's signature, whether the body must be content-signed, and an
// explicit compartment override.
type RequestOptions struct {
	// LastException should be ErrInvalidAuthorization when the prior attempt
	// on this logical request was rejected by the server; any other value
	// (including nil) is treated as "no prior failure".
	LastException error

	// NeedsContentSigned adds the content-length/content-type/
	// x-content-sha256 block to the signing string and disables caching of
	// the resulting signature.
	NeedsContentSigned bool

	// Body is the request body to hash when NeedsContentSigned is set.
	Body []byte

	// Compartment overrides the compartment header; when empty, and the
	// active profile carries a tenant id, the engine substitutes it.
	Compartment string
}

// Engine is the signature engine (C4): it owns exactly one active profile
// provider and at most one background refresh task, and serializes access to
// both behind a shared mutex and a one-permit semaphore.
type Engine struct {
	mu    sync.Mutex
	state engineState
	cfg   EngineConfig

	provider   profile.Provider
	providerMu *semaphore.Weighted

	cached *SignatureDetails

	refreshTimer      *time.Timer
	refreshGeneration uint64

	lastTemplate *requestTemplate

	// nowFunc is overridden in tests to pin the clock; production code
	// always uses the zero value, which falls back to time.Now.
	nowFunc func() time.Time
}

func (e *Engine) now() time.Time {
	if e.nowFunc != nil {
		return e.nowFunc()
	}
	return time.Now()
}

// requestTemplate is the minimal information the background refresh task
// needs to regenerate an equivalent signature without a live *http.Request:
// the method/path/host of the most recent cacheable request.
type requestTemplate struct {
	requestTarget string
	host          string
	compartment   string
}

// NewEngine constructs an unconfigured Engine. Configure must be called
// before ApplyAuthorization.
func NewEngine() *Engine {
	return &Engine{providerMu: semaphore.NewWeighted(1)}
}

// Configure validates cfg, builds the selected profile provider, and
// transitions the engine from Unconfigured to Ready. It is an error to call
// Configure more than once.
func (e *Engine) Configure(cfg EngineConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateUnconfigured {
		return newConfigurationError("engine already configured")
	}

	provider, err := cfg.Validate()
	if err != nil {
		return err
	}

	e.cfg = cfg
	e.provider = provider
	e.state = stateReady
	return nil
}

// ApplyAuthorization signs req in place, setting Authorization, date, and
// (conditionally) x-content-sha256, opc-obo-token, and
// x-nosql-compartment-id, per opts and the engine's cache-decision rule.
func (e *Engine) ApplyAuthorization(ctx context.Context, req *http.Request, opts RequestOptions) error {
	e.mu.Lock()
	if e.state == stateDisposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	if e.state != stateReady {
		e.mu.Unlock()
		return ErrNotConfigured
	}

	now := e.now()
	profileValid := e.provider.IsProfileValid()
	decision := classify(opts.LastException, opts.NeedsContentSigned, e.cached, profileValid, now, e.cfg.CacheDuration)

	if decision.reuseCache {
		cached := e.cached
		e.mu.Unlock()
		applyCachedHeaders(req, cached)
		return nil
	}
	e.mu.Unlock()

	details, err := e.createSignature(ctx, req, opts, decision.forceProfile)
	if err != nil {
		return err
	}

	if decision.cacheResult {
		e.mu.Lock()
		e.cached = details
		e.lastTemplate = &requestTemplate{
			requestTarget: requestTargetOf(req),
			host:          req.Host,
			compartment:   opts.Compartment,
		}
		e.scheduleRefresh(e.provider.TTL())
		e.mu.Unlock()
	}

	applyCachedHeaders(req, details)
	return nil
}

// createSignature builds and signs a fresh SignatureDetails for req,
// forcing a profile refresh first when forceProfile is set.
func (e *Engine) createSignature(ctx context.Context, req *http.Request, opts RequestOptions, forceProfile bool) (*SignatureDetails, error) {
	prof, err := e.acquireProfile(ctx, forceProfile)
	if err != nil {
		return nil, err
	}

	now := e.now()
	dateStr := rfc1123UTC(now)

	h := signingHeaders{
		requestTarget: requestTargetOf(req),
		host:          req.Host,
		date:          dateStr,
	}

	if opts.NeedsContentSigned {
		h.contentLength = contentLengthOf(opts.Body)
		h.contentType = req.Header.Get("Content-Type")
		h.contentSHA256 = contentSHA256Base64(opts.Body)
	}
	if e.cfg.activeDelegationToken() != "" {
		h.delegation = e.cfg.activeDelegationToken()
	}

	signingString, headerNames := buildSigningString(h, opts.NeedsContentSigned)

	signature, err := signWithRSA(prof.PrivateKey, signingString)
	if err != nil {
		return nil, err
	}

	authHeader := buildAuthorizationHeader(prof.KeyID, headerNames, signature)

	compartment := opts.Compartment
	if compartment == "" {
		compartment = prof.TenancyID
	}

	return &SignatureDetails{
		CreatedAt:           now,
		DateStr:             dateStr,
		AuthorizationHeader: authHeader,
		TenantID:            compartment,
		DelegationToken:     h.delegation,
		ContentDigest:       h.contentSHA256,
	}, nil
}

// refreshSignature re-derives a signature from the last cacheable request
// template, used by the background refresh task which has no live
// *http.Request to work from. Once the new signature is cached, the refresh
// task is re-armed.
func (e *Engine) refreshSignature(ctx context.Context) (*SignatureDetails, error) {
	e.mu.Lock()
	tmpl := e.lastTemplate
	e.mu.Unlock()
	if tmpl == nil {
		return nil, nil
	}

	req, err := http.NewRequest(requestMethodOf(tmpl.requestTarget), requestPathOf(tmpl.requestTarget), nil)
	if err != nil {
		return nil, wrapAuthorizationError("rebuild background-refresh request", err)
	}
	req.Host = tmpl.host

	details, err := e.createSignature(ctx, req, RequestOptions{Compartment: tmpl.compartment}, false)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cached = details
	e.scheduleRefresh(e.provider.TTL())
	e.mu.Unlock()
	return details, nil
}

// acquireProfile serializes calls into the active provider behind the
// engine's one-permit semaphore, per the concurrency contract: only one
// caller (foreground or background) is ever inside a provider at a time.
func (e *Engine) acquireProfile(ctx context.Context, forceRefresh bool) (*profile.AuthenticationProfile, error) {
	if err := e.providerMu.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.providerMu.Release(1)

	prof, err := e.provider.GetProfile(ctx, forceRefresh)
	if err != nil {
		return nil, wrapAuthorizationError("acquire profile", err)
	}
	return prof, nil
}

// Dispose releases the engine's owned resources in reverse acquisition
// order: cancel the refresh task, dispose the provider, mark disposed. All
// further calls to ApplyAuthorization return ErrDisposed.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateDisposed {
		return
	}

	e.cancelRefresh()
	if e.provider != nil {
		e.provider.Dispose()
	}
	e.state = stateDisposed
}

func applyCachedHeaders(req *http.Request, details *SignatureDetails) {
	req.Header.Set("Authorization", details.AuthorizationHeader)
	req.Header.Set("date", details.DateStr)
	if details.ContentDigest != "" {
		req.Header.Set("x-content-sha256", details.ContentDigest)
	}
	if details.DelegationToken != "" {
		req.Header.Set("opc-obo-token", details.DelegationToken)
	}
	if details.TenantID != "" {
		req.Header.Set("x-nosql-compartment-id", details.TenantID)
	}
}

func (c *EngineConfig) activeDelegationToken() string {
	return c.DelegationToken
}
