package llmorch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/uicp/runtime/internal/provider"
	"github.com/uicp/runtime/internal/streamext"
	"github.com/uicp/runtime/pkg/uicp"
)

// fakeBridge replays a fixed set of SSE chunks regardless of the prompt,
// enough to exercise the planner/actor phases without a real model.
type fakeBridge struct {
	chunksByProfile map[string][]string
	calls           int
}

func (f *fakeBridge) Stream(_ context.Context, profile string, _ []map[string]interface{}, onChunk func([]byte) error) error {
	f.calls++
	for _, c := range f.chunksByProfile[profile] {
		if err := onChunk([]byte(c)); err != nil {
			return err
		}
	}
	return nil
}

func newTestRouter(bridge *fakeBridge) *provider.Router {
	r := provider.NewRouter(bridge)
	r.Register(provider.Profile{Name: PlannerProfile, Format: streamext.WireOpenAI})
	r.Register(provider.Profile{Name: ActorProfile, Format: streamext.WireOpenAI})
	return r
}

func sseChunk(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n", content)
}

func TestRunIntent_DirectAnswerSkipsActor(t *testing.T) {
	bridge := &fakeBridge{chunksByProfile: map[string][]string{
		PlannerProfile: {sseChunk(`{"summary":"Here is the answer.","needsActor":false}`)},
	}}
	o := New(newTestRouter(bridge), nil)

	res, err := o.RunIntent(context.Background(), "t1", "what time is it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Plan.NeedsActor || res.Batch != nil {
		t.Fatalf("expected a direct answer with no batch, got %+v", res)
	}
	if res.Plan.Summary != "Here is the answer." {
		t.Fatalf("unexpected summary: %q", res.Plan.Summary)
	}
}

func TestRunIntent_ActorPhaseProducesBatch(t *testing.T) {
	toolArgs := `{"envelopes":[{"id":"1","txnId":"t1","op":"window.create","windowId":"w1"}]}`
	actorChunk := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call1","function":{"name":"emit_batch","arguments":` +
		toString(toolArgs) + `}}]}}]}` + "\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}` + "\n"

	bridge := &fakeBridge{chunksByProfile: map[string][]string{
		PlannerProfile: {sseChunk(`{"summary":"Open a window.","needsActor":true}`)},
		ActorProfile:   {actorChunk},
	}}
	o := New(newTestRouter(bridge), nil)

	res, err := o.RunIntent(context.Background(), "t1", "open a window")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Batch == nil || len(res.Batch.Envelopes) != 1 {
		t.Fatalf("expected one envelope in the batch, got %+v", res.Batch)
	}
	if res.Batch.Envelopes[0].Op != uicp.OpWindowCreate {
		t.Fatalf("unexpected op: %v", res.Batch.Envelopes[0].Op)
	}
	e := res.Batch.Envelopes[0]
	if e.TraceID == "" || e.IdempotencyKey == "" {
		t.Fatalf("expected stamped traceId/idempotencyKey, got %+v", e)
	}
	if e.TraceID != res.TraceID {
		t.Fatalf("envelope traceId %q should match result traceId %q", e.TraceID, res.TraceID)
	}
}

func TestRunIntent_ClarifierPlanSkipsActor(t *testing.T) {
	clarifierPlan := `{"summary":"Which file do you mean?","needsActor":false,"risks":["needs_clarification"],` +
		`"batch":{"txnId":"t1","envelopes":[{"op":"api.call","params":{"url":"uicp://intent"}}]}}`
	bridge := &fakeBridge{chunksByProfile: map[string][]string{
		PlannerProfile: {sseChunk(clarifierPlan)},
	}}
	o := New(newTestRouter(bridge), nil)

	res, err := o.RunIntent(context.Background(), "t1", "open the file")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AutoApply {
		t.Fatal("expected AutoApply for a structured clarifier plan")
	}
	if res.Batch == nil || len(res.Batch.Envelopes) != 1 {
		t.Fatalf("expected exactly one clarifier envelope, got %+v", res.Batch)
	}
	if res.Batch.Envelopes[0].ID == "" {
		t.Fatal("expected the clarifier envelope to be stamped with an id")
	}
	if bridge.calls != 1 {
		t.Fatalf("expected the actor phase to be skipped, bridge called %d times", bridge.calls)
	}
}

func TestRunIntent_PlannerFailureDegradesGracefully(t *testing.T) {
	bridge := &fakeBridge{chunksByProfile: map[string][]string{
		PlannerProfile: {"data: not json at all\n"},
	}}
	o := New(newTestRouter(bridge), nil)

	res, err := o.RunIntent(context.Background(), "t1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Plan.Degraded == "" {
		t.Fatal("expected a degraded plan when the planner never returns valid JSON")
	}
}

func toString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
