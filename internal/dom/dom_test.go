package dom

import (
	"context"
	"testing"

	"github.com/uicp/runtime/internal/window"
	"github.com/uicp/runtime/pkg/uicp"
)

func TestApplier_DedupesIdenticalContent(t *testing.T) {
	ctx := context.Background()
	wins := window.NewManager()
	wins.Create(ctx, "w1", "t", "txn")
	a := NewApplier(wins, nil)

	env := uicp.Envelope{ID: "1", TxnID: "txn", Op: uicp.OpDOMSet, WindowID: "w1",
		Params: map[string]interface{}{"html": "<div>hi</div>"}}

	applied, err := a.Apply(ctx, env)
	if err != nil || !applied {
		t.Fatalf("expected first apply to succeed, got applied=%v err=%v", applied, err)
	}
	applied2, err := a.Apply(ctx, env)
	if err != nil || applied2 {
		t.Fatalf("expected second identical apply to be a no-op, got applied=%v err=%v", applied2, err)
	}
}

func TestApplier_UnknownWindowErrors(t *testing.T) {
	a := NewApplier(window.NewManager(), nil)
	_, err := a.Apply(context.Background(), uicp.Envelope{
		ID: "1", TxnID: "t", Op: uicp.OpDOMSet, WindowID: "missing",
		Params: map[string]interface{}{"html": "<div/>"},
	})
	if err == nil {
		t.Fatal("expected error for missing window")
	}
}
