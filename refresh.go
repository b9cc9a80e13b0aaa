package iamauth

import (
	"context"
	"time"
)

// scheduleRefresh arms (or re-arms) the engine's single background refresh
// task to fire at now + min(cacheDuration, profileTTL) - refreshAhead. The
// caller must hold e.mu. Any previously scheduled task is invalidated by
// bumping e.refreshGeneration: a fired timer whose captured generation no
// longer matches e.refreshGeneration is a stale, cancelled task and silently
// returns.
func (e *Engine) scheduleRefresh(profileTTL time.Duration) {
	if e.cfg.backgroundRefreshDisabled() {
		return
	}

	if e.refreshTimer != nil {
		e.refreshTimer.Stop()
	}

	delay := e.cfg.CacheDuration
	if profileTTL < delay {
		delay = profileTTL
	}
	delay -= *e.cfg.RefreshAhead
	if delay < 0 {
		delay = 0
	}

	e.refreshGeneration++
	generation := e.refreshGeneration

	e.cfg.Logger.Debug("iamauth: scheduling background refresh", "delay", delay, "generation", generation)

	e.refreshTimer = time.AfterFunc(delay, func() {
		e.runBackgroundRefresh(generation)
	})
}

// cancelRefresh stops any outstanding background task and invalidates its
// generation so a race with an in-flight timer fire is a no-op. The caller
// must hold e.mu.
func (e *Engine) cancelRefresh() {
	if e.refreshTimer != nil {
		e.refreshTimer.Stop()
		e.refreshTimer = nil
	}
	e.refreshGeneration++
}

// runBackgroundRefresh is the timer callback. It silently aborts if the
// engine was disposed or the task was superseded, prefers reusing the
// current profile unless it is close enough to expiry that coalescing with
// a signature refresh is worthwhile, and swallows any error: the next
// foreground request will observe and surface it instead.
func (e *Engine) runBackgroundRefresh(generation uint64) {
	e.mu.Lock()
	if e.state == stateDisposed || generation != e.refreshGeneration {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
	defer cancel()

	forceProfile := e.shouldCoalesceProfileRefresh()

	if _, err := e.acquireProfile(ctx, forceProfile); err != nil {
		e.cfg.Logger.Warn("iamauth: background refresh failed, not re-armed", "error", err)
		return
	}

	if _, err := e.refreshSignature(ctx); err != nil {
		e.cfg.Logger.Warn("iamauth: background signature refresh failed", "error", err)
		return
	}

	e.cfg.Logger.Debug("iamauth: background refresh succeeded", "generation", generation)
}

// shouldCoalesceProfileRefresh implements the "profileTTL - (cacheDuration -
// refreshAhead) <= maxProfileRefreshAhead" optimisation: when the profile is
// close enough to its own expiry, the background task refreshes it too
// instead of churning it again on the very next signature refresh.
func (e *Engine) shouldCoalesceProfileRefresh() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.provider == nil {
		return false
	}
	remaining := e.cfg.CacheDuration - *e.cfg.RefreshAhead
	return e.provider.TTL()-remaining <= e.cfg.MaxProfileRefreshAhead
}
