package toolcollect

import (
	"context"
	"testing"
	"time"

	"github.com/uicp/runtime/pkg/uicp"
)

func TestCollect_HappyPath(t *testing.T) {
	events := make(chan uicp.StreamEvent, 8)
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolStart, ToolCallID: "a", ToolName: "search"}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolDelta, ToolCallID: "a", ArgsDelta: `{"q":"go`}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolDelta, ToolCallID: "a", ArgsDelta: `lang"}`}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolStop, ToolCallID: "a"}
	close(events)

	c := New()
	calls := c.Collect(context.Background(), events)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Args["q"] != "golang" {
		t.Fatalf("got %+v", calls[0])
	}
	if calls[0].Fallback {
		t.Fatal("should not be fallback")
	}
}

func TestCollect_MalformedJSONFallsBack(t *testing.T) {
	events := make(chan uicp.StreamEvent, 4)
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolStart, ToolCallID: "a", ToolName: "search"}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolDelta, ToolCallID: "a", ArgsDelta: `{not json`}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolStop, ToolCallID: "a"}
	close(events)

	c := New()
	calls := c.Collect(context.Background(), events)
	if len(calls) != 1 || !calls[0].Fallback {
		t.Fatalf("expected a fallback call, got %+v", calls)
	}
}

func TestCollectWithFallback_PicksMatchingToolByName(t *testing.T) {
	events := make(chan uicp.StreamEvent, 8)
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolStart, ToolCallID: "a", ToolName: "emit_plan"}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolDelta, ToolCallID: "a", ArgsDelta: `{"summary":"hi"}`}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolStop, ToolCallID: "a"}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventDone}
	close(events)

	result := CollectWithFallback(context.Background(), events, "emit_plan")
	if result.Tool == nil || result.Tool.Name != "emit_plan" {
		t.Fatalf("expected the emit_plan tool call, got %+v", result)
	}
}

func TestCollectWithFallback_FallsBackToTextWhenNoToolCalled(t *testing.T) {
	events := make(chan uicp.StreamEvent, 4)
	events <- uicp.StreamEvent{Kind: uicp.StreamEventText, Text: `{"summary":`}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventText, Text: `"hi"}`}
	close(events)

	result := CollectWithFallback(context.Background(), events, "emit_plan")
	if result.Tool != nil {
		t.Fatalf("expected no tool call, got %+v", result.Tool)
	}
	if result.Text != `{"summary":"hi"}` {
		t.Fatalf("unexpected accumulated text: %q", result.Text)
	}
}

func TestCollectWithFallback_ClosedCallsBeforeStreamEndAreNotLost(t *testing.T) {
	events := make(chan uicp.StreamEvent, 8)
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolStart, ToolCallID: "a", ToolName: "emit_batch"}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolDelta, ToolCallID: "a", ArgsDelta: `{"envelopes":[]}`}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolStop, ToolCallID: "a"}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventText, Text: "trailing commentary"}
	close(events)

	result := CollectWithFallback(context.Background(), events, "emit_batch")
	if result.Tool == nil || result.Tool.Name != "emit_batch" {
		t.Fatalf("expected the closed emit_batch call to survive to stream end, got %+v", result)
	}
}

func TestCollect_ChannelClosedWithoutStop(t *testing.T) {
	events := make(chan uicp.StreamEvent, 4)
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolStart, ToolCallID: "a", ToolName: "search"}
	events <- uicp.StreamEvent{Kind: uicp.StreamEventToolDelta, ToolCallID: "a", ArgsDelta: `{"q":1}`}
	close(events)

	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	calls := c.Collect(ctx, events)
	if len(calls) != 1 {
		t.Fatalf("expected the dangling call to be flushed, got %+v", calls)
	}
}
