// Package streamext normalizes streaming LLM wire formats (OpenAI-style
// SSE deltas, Harmony channel-tagged text, Anthropic-normalized content
// blocks, and Ollama NDJSON) into the canonical uicp.StreamEvent shape.
//
// Extractors are chunk-boundary safe: a wire chunk is never guaranteed to
// end on a line or tag boundary, so each decoder buffers an incomplete
// trailing fragment and resumes decoding it on the next Feed call, the
// same technique used for reassembling PII tokens split across SSE
// text_delta boundaries in comparable proxies.
package streamext

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"

	"github.com/uicp/runtime/pkg/uicp"
)

// WireFormat identifies the upstream provider's wire shape.
type WireFormat string

const (
	WireOpenAI              WireFormat = "openai"
	WireAnthropicNormalized WireFormat = "anthropic"
	WireOllama              WireFormat = "ollama"
)

// Extractor decodes one provider's streaming wire format into StreamEvents.
// Feed is called once per received chunk (which may contain zero, one, or
// several complete SSE/NDJSON frames plus a trailing partial frame); it
// returns every event fully decoded from the accumulated buffer so far.
type Extractor interface {
	Feed(chunk []byte) ([]uicp.StreamEvent, error)
	// Flush is called when the upstream connection closes; it decodes
	// whatever remains in the buffer and emits a terminal done/error event.
	Flush() []uicp.StreamEvent
}

// New returns an Extractor for the given wire format. The returned
// extractor always wraps decoding in a HarmonyDecoder so that Harmony
// channel tags are recognized regardless of the outer transport, per the
// documented precedence: Harmony channel markers are checked first within
// any text payload before it's treated as plain assistant text.
func New(format WireFormat) Extractor {
	switch format {
	case WireAnthropicNormalized:
		return &anthropicExtractor{harmony: newHarmonyDecoder()}
	case WireOllama:
		return &ollamaExtractor{harmony: newHarmonyDecoder()}
	default:
		return &openAIExtractor{harmony: newHarmonyDecoder()}
	}
}

// ── OpenAI-style SSE ─────────────────────────────────────────

type openAIExtractor struct {
	buf     bytes.Buffer
	harmony *harmonyDecoder
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (e *openAIExtractor) Feed(chunk []byte) ([]uicp.StreamEvent, error) {
	e.buf.Write(chunk)
	return e.drainLines()
}

func (e *openAIExtractor) drainLines() ([]uicp.StreamEvent, error) {
	var out []uicp.StreamEvent
	for {
		data := e.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break // incomplete line, wait for more data
		}
		line := data[:idx]
		e.buf.Next(idx + 1)
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data: ")) && !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if string(payload) == "[DONE]" {
			out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventDone})
			continue
		}
		var c openAIChunk
		if err := json.Unmarshal(payload, &c); err != nil {
			out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventError, Err: err.Error()})
			continue
		}
		for _, ch := range c.Choices {
			if ch.Delta.Content != "" {
				out = append(out, e.harmony.feedText(ch.Delta.Content)...)
			}
			for _, tc := range ch.Delta.ToolCalls {
				if tc.Function.Name != "" && tc.ID != "" {
					out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventToolStart, ToolCallID: tc.ID, ToolName: tc.Function.Name})
				}
				if tc.Function.Arguments != "" {
					out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventToolDelta, ToolCallID: tc.ID, ArgsDelta: tc.Function.Arguments})
				}
			}
			if ch.FinishReason != "" {
				out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventToolStop})
			}
		}
	}
	return out, nil
}

func (e *openAIExtractor) Flush() []uicp.StreamEvent {
	out, _ := e.drainLines()
	out = append(out, e.harmony.flush()...)
	out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventDone})
	return out
}

// ── Anthropic-normalized content blocks ──────────────────────

type anthropicExtractor struct {
	buf     bytes.Buffer
	harmony *harmonyDecoder
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

func (e *anthropicExtractor) Feed(chunk []byte) ([]uicp.StreamEvent, error) {
	e.buf.Write(chunk)
	return e.drainLines()
}

func (e *anthropicExtractor) drainLines() ([]uicp.StreamEvent, error) {
	var out []uicp.StreamEvent
	var eventName string
	for {
		data := e.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(data[:idx], "\r")
		e.buf.Next(idx + 1)
		if len(line) == 0 {
			eventName = ""
			continue
		}
		if bytes.HasPrefix(line, []byte("event:")) {
			eventName = strings.TrimSpace(string(bytes.TrimPrefix(line, []byte("event:"))))
			continue
		}
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		var ev anthropicEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventError, Err: err.Error()})
			continue
		}
		typ := ev.Type
		if typ == "" {
			typ = eventName
		}
		switch typ {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventToolStart, ToolCallID: ev.ContentBlock.ID, ToolName: ev.ContentBlock.Name})
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				out = append(out, e.harmony.feedText(ev.Delta.Text)...)
			case "input_json_delta":
				out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventToolDelta, ArgsDelta: ev.Delta.PartialJSON})
			}
		case "content_block_stop":
			out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventToolStop})
		case "message_stop":
			out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventDone})
		}
	}
	return out, nil
}

func (e *anthropicExtractor) Flush() []uicp.StreamEvent {
	out, _ := e.drainLines()
	out = append(out, e.harmony.flush()...)
	out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventDone})
	return out
}

// ── Ollama NDJSON ────────────────────────────────────────────

type ollamaExtractor struct {
	scannerBuf bytes.Buffer
	harmony    *harmonyDecoder
}

type ollamaLine struct {
	Message struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string                 `json:"name"`
				Arguments map[string]interface{} `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (e *ollamaExtractor) Feed(chunk []byte) ([]uicp.StreamEvent, error) {
	e.scannerBuf.Write(chunk)
	return e.drain()
}

func (e *ollamaExtractor) drain() ([]uicp.StreamEvent, error) {
	var out []uicp.StreamEvent
	buf := e.scannerBuf.Bytes()
	sc := bufio.NewScanner(bytes.NewReader(buf))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	consumed := 0
	for sc.Scan() {
		line := sc.Bytes()
		if consumed+len(line) >= len(buf) {
			break // no newline after this line yet: it is the partial tail
		}
		consumed += len(line) + 1
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ol ollamaLine
		if err := json.Unmarshal(line, &ol); err != nil {
			out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventError, Err: err.Error()})
			continue
		}
		if ol.Message.Content != "" {
			out = append(out, e.harmony.feedText(ol.Message.Content)...)
		}
		for i, tc := range ol.Message.ToolCalls {
			args, _ := json.Marshal(tc.Function.Arguments)
			id := uicp.Op(strings.Join([]string{"ollama-tool", string(rune('0' + i))}, "-"))
			out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventToolStart, ToolCallID: string(id), ToolName: tc.Function.Name})
			out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventToolDelta, ToolCallID: string(id), ArgsDelta: string(args)})
			out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventToolStop, ToolCallID: string(id)})
		}
		if ol.Done {
			out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventDone})
		}
	}
	// Only drop what we actually consumed as whole lines; keep the partial tail.
	if consumed > 0 && consumed <= e.scannerBuf.Len() {
		remaining := append([]byte(nil), e.scannerBuf.Bytes()[consumed:]...)
		e.scannerBuf.Reset()
		e.scannerBuf.Write(remaining)
	}
	return out, nil
}

func (e *ollamaExtractor) Flush() []uicp.StreamEvent {
	if e.scannerBuf.Len() > 0 {
		e.scannerBuf.WriteByte('\n') // decode a final line that arrived without one
	}
	out, _ := e.drain()
	out = append(out, e.harmony.flush()...)
	out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventDone})
	return out
}
