package adapter

import (
	"context"
	"strings"
	"testing"

	"github.com/uicp/runtime/internal/component"
	"github.com/uicp/runtime/internal/dom"
	"github.com/uicp/runtime/internal/netguard"
	"github.com/uicp/runtime/internal/policy"
	"github.com/uicp/runtime/internal/state"
	"github.com/uicp/runtime/internal/window"
	"github.com/uicp/runtime/pkg/uicp"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	wins := window.NewManager()
	domApplier := dom.NewApplier(wins, nil)
	comps := component.NewRegistry()
	component.RegisterBuiltins(comps)
	st := state.NewStore()

	store := policy.NewStore(context.Background(), nil, uicp.PresetOpen)
	guard := netguard.NewGuard(store, netguard.NewQuotaLimiter(), nil, nil, nil)
	caps := netguard.NewRegistry(guard)

	return New(wins, domApplier, comps, st, caps, nil)
}

func TestOrchestrator_AppliesWindowAndDOMInOrder(t *testing.T) {
	o := newTestOrchestrator(t)
	b := uicp.Batch{TxnID: "t1", Envelopes: []uicp.Envelope{
		{ID: "1", TxnID: "t1", Op: uicp.OpWindowCreate, WindowID: "w1", Params: map[string]interface{}{"title": "Hi"}},
		{ID: "2", TxnID: "t1", Op: uicp.OpDOMSet, WindowID: "w1", Params: map[string]interface{}{"html": "<div>hello</div>"}},
		{ID: "3", TxnID: "t1", Op: uicp.OpComponentRender, WindowID: "w1",
			Params: map[string]interface{}{"id": "c1", "type": "button.v1", "props": map[string]interface{}{"label": "Go"}}},
	}}

	res, err := o.ApplyBatch(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(res.Steps))
	}
	for _, s := range res.Steps {
		if !s.Applied || s.Error != "" {
			t.Fatalf("step %+v should have applied cleanly", s)
		}
	}
}

func TestOrchestrator_StopsAtUnknownWindowApplyError(t *testing.T) {
	o := newTestOrchestrator(t)
	b := uicp.Batch{TxnID: "t1", Envelopes: []uicp.Envelope{
		{ID: "1", TxnID: "t1", Op: uicp.OpDOMSet, WindowID: "ghost", Params: map[string]interface{}{"html": "<div/>"}},
	}}
	res, err := o.ApplyBatch(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected top-level error: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected one apply-time error for the missing window, got %+v", res.Errors)
	}
	if res.Success {
		t.Fatal("expected Success=false when an envelope failed to apply")
	}
}

func TestLint_RejectsDanglingSelectorWithoutWindow(t *testing.T) {
	o := newTestOrchestrator(t)
	b := uicp.Batch{TxnID: "t1", Envelopes: []uicp.Envelope{
		{ID: "1", TxnID: "t1", Op: uicp.OpDOMAppend, Target: "#list", Params: map[string]interface{}{"html": "<li>hi</li>"}},
	}}
	_, err := o.ApplyBatch(context.Background(), b)
	if err == nil || !strings.Contains(err.Error(), "linter") {
		t.Fatalf("expected a linter rejection for a targeted selector with no window established, got %v", err)
	}
}

func TestOrchestrator_StopsAtTxnCancel(t *testing.T) {
	o := newTestOrchestrator(t)
	b := uicp.Batch{TxnID: "t1", Envelopes: []uicp.Envelope{
		{ID: "1", TxnID: "t1", Op: uicp.OpWindowCreate, WindowID: "w1"},
		{ID: "2", TxnID: "t1", Op: uicp.OpTxnCancel},
	}}
	res, err := o.ApplyBatch(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Cancelled {
		t.Fatal("expected batch to report cancelled")
	}
	if len(res.Steps) != 1 {
		t.Fatalf("expected only the window.create step applied, got %d", len(res.Steps))
	}
}

type denyGate struct{ scope string }

func (g denyGate) Allow(_ context.Context, scope string, _ uicp.Envelope) bool {
	return scope != g.scope
}

func TestOrchestrator_PermissionDenialContinuesBatch(t *testing.T) {
	o := newTestOrchestrator(t).WithPermissionGate(denyGate{scope: "window"})
	b := uicp.Batch{TxnID: "t1", Envelopes: []uicp.Envelope{
		{ID: "1", TxnID: "t1", Op: uicp.OpWindowCreate, WindowID: "w1"},
		{ID: "2", TxnID: "t1", Op: uicp.OpStateSet, Params: map[string]interface{}{"key": "k", "value": "v"}},
	}}

	res, err := o.ApplyBatch(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DeniedByPolicy != 1 {
		t.Fatalf("expected 1 denied step, got %d", res.DeniedByPolicy)
	}
	if !res.Steps[0].Denied {
		t.Fatalf("expected the window.create step to be marked denied, got %+v", res.Steps[0])
	}
	if res.Applied != 1 {
		t.Fatalf("expected the state.set step to still apply, applied=%d", res.Applied)
	}
}

func TestOrchestrator_RepeatedWindowCreateSkipsAsDuplicate(t *testing.T) {
	o := newTestOrchestrator(t)
	b := uicp.Batch{TxnID: "t1", Envelopes: []uicp.Envelope{
		{ID: "1", TxnID: "t1", Op: uicp.OpWindowCreate, WindowID: "w1"},
	}}
	if _, err := o.ApplyBatch(context.Background(), b); err != nil {
		t.Fatalf("unexpected error on first apply: %v", err)
	}
	res, err := o.ApplyBatch(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected error on second apply: %v", err)
	}
	if res.Applied != 0 || res.SkippedDuplicates != 1 {
		t.Fatalf("expected the second window.create to be a skipped duplicate, got applied=%d skipped=%d", res.Applied, res.SkippedDuplicates)
	}
}

func TestOrchestrator_StateLifecycle(t *testing.T) {
	o := newTestOrchestrator(t)
	b := uicp.Batch{TxnID: "t1", Envelopes: []uicp.Envelope{
		{ID: "1", TxnID: "t1", Op: uicp.OpStateSet, Params: map[string]interface{}{"key": "k", "value": "v"}},
		{ID: "2", TxnID: "t1", Op: uicp.OpStateGet, Params: map[string]interface{}{"key": "k"}},
	}}
	res, err := o.ApplyBatch(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Steps[1].Applied {
		t.Fatal("expected state.get to report the key as present")
	}
}
