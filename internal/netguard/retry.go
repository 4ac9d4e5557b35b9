package netguard

import (
	"sync"
	"time"

	"github.com/uicp/runtime/pkg/uicp"
)

// RetryTracker holds PendingFetchRetry entries awaiting an interactive
// allow/deny decision, and expires them after the configured window so a
// forgotten dialog doesn't leave a capability wrapper hanging forever.
type RetryTracker struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]uicp.PendingFetchRetry
}

func NewRetryTracker(window time.Duration) *RetryTracker {
	return &RetryTracker{window: window, pending: make(map[string]uicp.PendingFetchRetry)}
}

// Track records a blocked request as awaiting retry.
func (t *RetryTracker) Track(requestID, host, capability string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[requestID] = uicp.PendingFetchRetry{
		RequestID: requestID, Host: host, Capability: capability,
		CreatedAt: now, ExpiresAt: now.Add(t.window),
	}
}

// Resolve removes a pending retry (the user made a decision, or it timed
// out) and reports whether it was still valid (not expired) when resolved.
func (t *RetryTracker) Resolve(requestID string, now time.Time) (uicp.PendingFetchRetry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.pending[requestID]
	if !ok {
		return uicp.PendingFetchRetry{}, false
	}
	delete(t.pending, requestID)
	return entry, !now.After(entry.ExpiresAt)
}

// Sweep drops every expired pending entry; intended to run on the same
// cadence as the threat-intel cache janitor.
func (t *RetryTracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.pending {
		if now.After(e.ExpiresAt) {
			delete(t.pending, id)
			removed++
		}
	}
	return removed
}
