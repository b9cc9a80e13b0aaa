package iamauth

import (
	"time"
)

// SignatureDetails is the cached result of one signing operation. Readers
// take the engine's cache mutex only long enough to copy this struct's
// pointer; writers replace the whole value atomically under the same lock.
type SignatureDetails struct {
	CreatedAt           time.Time
	DateStr             string
	AuthorizationHeader string
	TenantID            string
	DelegationToken     string
	ContentDigest       string
}

func (s *SignatureDetails) expired(now time.Time, cacheDuration time.Duration) bool {
	return now.Sub(s.CreatedAt) > cacheDuration
}

// cacheDecision is the outcome of classifying one request against the four
// branches of the caching rule in the signature-engine contract: whether to
// reuse the cached signature outright, whether to force a profile refresh
// before recreating it, and whether the freshly created signature may be
// cached for later reuse.
type cacheDecision struct {
	reuseCache   bool
	forceProfile bool
	cacheResult  bool
}

// classify implements the four-branch decision table:
//  1. LastException == InvalidAuthorization: force a profile refresh and
//     recreate; cache the result unless the request also needs content
//     signed.
//  2. NeedsContentSigned: recreate a content-specific signature; never cache
//     it.
//  3. Cached entry missing/expired or profile invalid: refresh without
//     forcing the profile; cache the result.
//  4. Otherwise: reuse the cached signature unchanged.
func classify(lastException error, needsContentSigned bool, cached *SignatureDetails, profileValid bool, now time.Time, cacheDuration time.Duration) cacheDecision {
	if lastException == ErrInvalidAuthorization {
		return cacheDecision{forceProfile: true, cacheResult: !needsContentSigned}
	}
	if needsContentSigned {
		return cacheDecision{cacheResult: false}
	}
	if !profileValid || cached == nil || cached.expired(now, cacheDuration) {
		return cacheDecision{cacheResult: true}
	}
	return cacheDecision{reuseCache: true}
}
