// Package toolcollect accumulates streamed tool-call argument deltas into
// complete, parsed tool calls, recovering gracefully when a model emits
// malformed JSON instead of throwing.
package toolcollect

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/uicp/runtime/pkg/uicp"
)

// CollectionTimeout bounds how long one Collect/CollectWithFallback call
// drains its event stream, counted from the start of the call, before it
// gives up and flushes whatever args were accumulated.
const CollectionTimeout = 30 * time.Second

type accumulator struct {
	id      string
	name    string
	raw     string
	started time.Time
}

// Collector is a pull-loop driven by a single worker goroutine receiving
// StreamEvents over a bounded channel, modeling the "no async iterators"
// guidance: a consumer calls Collect once per event stream and gets back
// the completed calls in event order.
type Collector struct{}

func New() *Collector { return &Collector{} }

// Collect drains events until the channel closes or ctx is done, returning
// every tool call that was opened, in the order each one completed.
func (c *Collector) Collect(ctx context.Context, events <-chan uicp.StreamEvent) []uicp.ToolCall {
	acc := make(map[string]*accumulator)
	order := make([]string, 0, 4)
	var done []uicp.ToolCall

	timeout := time.NewTimer(CollectionTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return append(done, c.flushOpen(acc, order)...)
		case <-timeout.C:
			return append(done, c.flushOpen(acc, order)...)
		case ev, ok := <-events:
			if !ok {
				return append(done, c.flushOpen(acc, order)...)
			}
			switch ev.Kind {
			case uicp.StreamEventToolStart:
				if _, exists := acc[ev.ToolCallID]; !exists {
					acc[ev.ToolCallID] = &accumulator{id: ev.ToolCallID, name: ev.ToolName, started: time.Now()}
					order = append(order, ev.ToolCallID)
				}
			case uicp.StreamEventToolDelta:
				a, exists := acc[ev.ToolCallID]
				if !exists {
					a = &accumulator{id: ev.ToolCallID, started: time.Now()}
					acc[ev.ToolCallID] = a
					order = append(order, ev.ToolCallID)
				}
				a.raw += ev.ArgsDelta
			case uicp.StreamEventToolStop:
				if a, exists := acc[ev.ToolCallID]; exists {
					done = append(done, collectOne(a))
					delete(acc, ev.ToolCallID)
				} else if ev.ToolCallID == "" && len(order) > 0 {
					// Some providers omit the id on the stop event; close the
					// oldest still-open call.
					id := order[0]
					if a, exists := acc[id]; exists {
						done = append(done, collectOne(a))
						delete(acc, id)
						order = order[1:]
					}
				}
			case uicp.StreamEventDone:
				return append(done, c.flushOpen(acc, order)...)
			}
		}
	}
}

// flushOpen finalizes every still-open accumulator (tool calls whose stop
// event never arrived before timeout/ctx-cancel/stream-end) in the order
// they were opened.
func (c *Collector) flushOpen(acc map[string]*accumulator, order []string) []uicp.ToolCall {
	var out []uicp.ToolCall
	for _, id := range order {
		if a, exists := acc[id]; exists {
			out = append(out, collectOne(a))
		}
	}
	return out
}

// collectOne parses an accumulator's raw JSON args. A parse failure never
// throws: it falls back to an empty args map with Fallback set and the raw
// text preserved, so the actor phase can still surface it to the model
// as a recoverable clarification rather than aborting the batch.
func collectOne(a *accumulator) uicp.ToolCall {
	tc := uicp.ToolCall{ID: a.id, Name: a.name, RawArgs: a.raw}
	if a.raw == "" {
		tc.Args = map[string]interface{}{}
		return tc
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(a.raw), &args); err != nil {
		tc.Fallback = true
		tc.Args = map[string]interface{}{}
		return tc
	}
	tc.Args = args
	return tc
}

// Result is the outcome of CollectWithFallback: either a tool call
// matching the target name, or, when the model never called it, the
// accumulated plain text so the caller can attempt its own
// text-to-JSON recovery rather than failing outright.
type Result struct {
	Tool *uicp.ToolCall
	Text string
}

// CollectWithFallback drains events, accumulating channel text in
// parallel with tool-call deltas, then on stream end selects the
// accumulator whose name matches targetToolName, or the sole
// accumulator if exactly one was opened. When no tool call matches, it
// returns the accumulated text instead of an error — a parse failure or
// an absent tool call is not fatal here, only upstream at the schema
// validation step.
func CollectWithFallback(ctx context.Context, events <-chan uicp.StreamEvent, targetToolName string) Result {
	acc := make(map[string]*accumulator)
	order := make([]string, 0, 4)
	var closed []uicp.ToolCall
	var text strings.Builder

	timeout := time.NewTimer(CollectionTimeout)
	defer timeout.Stop()

	finish := func() Result {
		all := append(closed, (&Collector{}).flushOpen(acc, order)...)
		return selectResult(all, targetToolName, text.String())
	}

	for {
		select {
		case <-ctx.Done():
			return finish()
		case <-timeout.C:
			return finish()
		case ev, ok := <-events:
			if !ok {
				return finish()
			}
			switch ev.Kind {
			case uicp.StreamEventText, uicp.StreamEventChannel:
				text.WriteString(ev.Text)
			case uicp.StreamEventToolStart:
				if _, exists := acc[ev.ToolCallID]; !exists {
					acc[ev.ToolCallID] = &accumulator{id: ev.ToolCallID, name: ev.ToolName, started: time.Now()}
					order = append(order, ev.ToolCallID)
				}
			case uicp.StreamEventToolDelta:
				a, exists := acc[ev.ToolCallID]
				if !exists {
					a = &accumulator{id: ev.ToolCallID, started: time.Now()}
					acc[ev.ToolCallID] = a
					order = append(order, ev.ToolCallID)
				}
				a.raw += ev.ArgsDelta
			case uicp.StreamEventToolStop:
				if a, exists := acc[ev.ToolCallID]; exists {
					closed = append(closed, collectOne(a))
					delete(acc, ev.ToolCallID)
				}
			case uicp.StreamEventDone:
				return finish()
			}
		}
	}
}

// selectResult picks the completed call whose name matches target, or
// the sole completed call when only one was ever opened.
func selectResult(calls []uicp.ToolCall, target, text string) Result {
	if len(calls) == 1 {
		return Result{Tool: &calls[0], Text: text}
	}
	for i := range calls {
		if calls[i].Name == target {
			return Result{Tool: &calls[i], Text: text}
		}
	}
	return Result{Text: text}
}
