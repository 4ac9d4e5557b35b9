package netguard

import (
	"context"
	"testing"
	"time"

	"github.com/uicp/runtime/internal/policy"
	"github.com/uicp/runtime/pkg/uicp"
)

func newTestGuard(t *testing.T, preset uicp.PolicyPreset) *Guard {
	t.Helper()
	store := policy.NewStore(context.Background(), nil, preset)
	intel := NewThreatIntel("http://example.invalid/", time.Hour, 10, false)
	return NewGuard(store, NewQuotaLimiter(), intel, nil, nil)
}

func TestGuard_LockedPresetBlocksUnlisted(t *testing.T) {
	g := newTestGuard(t, uicp.PresetLocked)
	d, err := g.Decide(context.Background(), Request{Host: "example.com", Path: "/x"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != uicp.GuardBlocked {
		t.Fatalf("expected blocked, got %s", d.State)
	}
}

func TestGuard_OpenPresetAllows(t *testing.T) {
	g := newTestGuard(t, uicp.PresetOpen)
	d, err := g.Decide(context.Background(), Request{Host: "example.com", Path: "/x"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != uicp.GuardMonitorOnly && d.State != uicp.GuardAllowed {
		t.Fatalf("expected allow/monitor, got %s", d.State)
	}
}

func TestGuard_BlocksPrivateAddressWhenDisallowed(t *testing.T) {
	g := newTestGuard(t, uicp.PresetBalanced)
	d, err := g.Decide(context.Background(), Request{Host: "10.0.0.5", Path: "/x"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != uicp.GuardBlocked {
		t.Fatalf("expected private address block, got %s", d.State)
	}
}

func TestGuard_PathAllowlistBypassesHostPolicy(t *testing.T) {
	store := policy.NewStore(context.Background(), nil, uicp.PresetLocked)
	g := NewGuard(store, NewQuotaLimiter(), NewThreatIntel("", time.Hour, 10, false), nil, []string{"/api/"})
	d, err := g.Decide(context.Background(), Request{Host: "anything.test", Path: "/api/internal"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != uicp.GuardAllowed {
		t.Fatalf("expected allowlisted path to bypass policy, got %s", d.State)
	}
}

func TestQuotaLimiter_ExhaustsAndRefills(t *testing.T) {
	l := NewQuotaLimiter()
	q := uicp.Quota{Capacity: 2, RefillRate: 1}
	now := time.Now()
	if !l.Allow("h", q, now) || !l.Allow("h", q, now) {
		t.Fatal("expected first two requests to be allowed")
	}
	if l.Allow("h", q, now) {
		t.Fatal("expected third immediate request to be denied")
	}
	later := now.Add(2 * time.Second)
	if !l.Allow("h", q, later) {
		t.Fatal("expected bucket to refill after 2s")
	}
}

func TestRegistry_InstallOnce(t *testing.T) {
	g := newTestGuard(t, uicp.PresetBalanced)
	r := NewRegistry(g)
	if err := r.Install(); err != nil {
		t.Fatal(err)
	}
	if err := r.Install(); err != ErrAlreadyInstalled {
		t.Fatalf("expected ErrAlreadyInstalled, got %v", err)
	}
	if r.Get("fetch") == nil {
		t.Fatal("expected fetch capability to be registered")
	}
}

func TestRetryTracker_ExpiresOldEntries(t *testing.T) {
	tr := NewRetryTracker(time.Minute)
	now := time.Now()
	tr.Track("r1", "host", "fetch", now)
	removed := tr.Sweep(now.Add(2 * time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 expired entry swept, got %d", removed)
	}
	if _, ok := tr.Resolve("r1", now); ok {
		t.Fatal("expected entry to already be gone")
	}
}
