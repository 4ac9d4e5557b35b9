package streamext

import (
	"testing"

	"github.com/uicp/runtime/pkg/uicp"
)

func collectText(events []uicp.StreamEvent) string {
	var out string
	for _, e := range events {
		if e.Kind == uicp.StreamEventText {
			out += e.Text
		}
	}
	return out
}

func TestOpenAIExtractor_PlainText(t *testing.T) {
	ex := New(WireOpenAI)
	events, err := ex.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hello\"}}]}\n\n"))
	if err != nil {
		t.Fatal(err)
	}
	if collectText(events) != "hello" {
		t.Fatalf("got %+v", events)
	}
}

func TestOpenAIExtractor_DonePreservesChunkBoundary(t *testing.T) {
	ex := New(WireOpenAI)
	// Split a single SSE line across two Feed calls.
	half1 := []byte("data: {\"choices\":[{\"delta\":{\"content\":\"ab")
	half2 := []byte("c\"}}]}\n\n")
	ev1, _ := ex.Feed(half1)
	if len(ev1) != 0 {
		t.Fatalf("expected no events from incomplete line, got %+v", ev1)
	}
	ev2, _ := ex.Feed(half2)
	if collectText(ev2) != "abc" {
		t.Fatalf("got %+v", ev2)
	}
}

func TestHarmonyDecoder_ChannelSplitAcrossChunks(t *testing.T) {
	h := newHarmonyDecoder()
	var all []uicp.StreamEvent
	all = append(all, h.feedText("plain text <|chan")...)
	all = append(all, h.feedText("nel|>analysis<|mess")...)
	all = append(all, h.feedText("age|>thinking<|end|>final text")...)
	all = append(all, h.flush()...)

	var texts, channels []string
	for _, e := range all {
		switch e.Kind {
		case uicp.StreamEventText:
			texts = append(texts, e.Text)
		case uicp.StreamEventChannel:
			channels = append(channels, e.Channel)
		}
	}
	if len(channels) != 1 || channels[0] != "analysis" {
		t.Fatalf("expected one analysis channel marker, got %+v", channels)
	}
	joined := ""
	for _, tx := range texts {
		joined += tx
	}
	if joined != "plain text thinkingfinal text" {
		t.Fatalf("got %q from %+v", joined, texts)
	}
}

func TestAnthropicExtractor_ToolUse(t *testing.T) {
	ex := New(WireAnthropicNormalized)
	chunk := []byte("event: content_block_start\ndata: {\"type\":\"content_block_start\",\"content_block\":{\"type\":\"tool_use\",\"id\":\"tc1\",\"name\":\"search\"}}\n\n")
	events, err := ex.Feed(chunk)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range events {
		if e.Kind == uicp.StreamEventToolStart && e.ToolCallID == "tc1" && e.ToolName == "search" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tool_start event, got %+v", events)
	}
}

func TestOllamaExtractor_NDJSONLine(t *testing.T) {
	ex := New(WireOllama)
	events, err := ex.Feed([]byte(`{"message":{"content":"hi"},"done":false}` + "\n"))
	if err != nil {
		t.Fatal(err)
	}
	if collectText(events) != "hi" {
		t.Fatalf("got %+v", events)
	}
}
