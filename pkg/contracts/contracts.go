// Package contracts defines the boundary between the UICP runtime and its
// host environment. The desktop shell owns the chat bridge (invoke/listen),
// the DOM event bus, on-disk policy persistence, chat history, and window
// chrome — none of which this module can reach directly, so each gets a
// narrow interface here plus a community default that makes the module
// runnable standalone for development and tests.
package contracts

import (
	"context"
	"time"

	"github.com/uicp/runtime/pkg/uicp"
)

// ── Chat Bridge ──────────────────────────────────────────────

// ChatBridge stands in for the host's opaque invoke/listen IPC pair. The
// community implementation talks to an OpenAI/Anthropic/Ollama-compatible
// HTTP endpoint directly; a desktop host would instead proxy through its
// own process boundary.
type ChatBridge interface {
	// Stream sends a chat request and streams raw wire-format chunks (JSON
	// lines or SSE frames, already separated) to the callback. The callback
	// returns a non-nil error to abort the stream early.
	Stream(ctx context.Context, profile string, messages []map[string]interface{}, onChunk func(raw []byte) error) error
}

// ── Event Bus ────────────────────────────────────────────────

// EventBus stands in for the renderer's DOM CustomEvent bus
// (net-guard-attempt, net-guard-block, compute-permission, ui-debug-log).
type EventBus interface {
	Publish(ctx context.Context, event uicp.TelemetryEvent)
	Subscribe() (ch <-chan uicp.TelemetryEvent, cancel func())
}

// CommunityEventBus is an in-process channel fan-out implementation.
type CommunityEventBus struct {
	subs   map[chan uicp.TelemetryEvent]struct{}
	add    chan chan uicp.TelemetryEvent
	remove chan chan uicp.TelemetryEvent
	events chan uicp.TelemetryEvent
}

// NewCommunityEventBus starts the bus's dispatch goroutine.
func NewCommunityEventBus() *CommunityEventBus {
	b := &CommunityEventBus{
		subs:   make(map[chan uicp.TelemetryEvent]struct{}),
		add:    make(chan chan uicp.TelemetryEvent),
		remove: make(chan chan uicp.TelemetryEvent),
		events: make(chan uicp.TelemetryEvent, 256),
	}
	go b.run()
	return b
}

func (b *CommunityEventBus) run() {
	for {
		select {
		case ch := <-b.add:
			b.subs[ch] = struct{}{}
		case ch := <-b.remove:
			delete(b.subs, ch)
			close(ch)
		case ev := <-b.events:
			for ch := range b.subs {
				select {
				case ch <- ev:
				default: // slow subscriber, drop rather than block the bus
				}
			}
		}
	}
}

func (b *CommunityEventBus) Publish(_ context.Context, event uicp.TelemetryEvent) {
	select {
	case b.events <- event:
	default:
	}
}

func (b *CommunityEventBus) Subscribe() (<-chan uicp.TelemetryEvent, func()) {
	ch := make(chan uicp.TelemetryEvent, 64)
	b.add <- ch
	return ch, func() { b.remove <- ch }
}

// ── Policy Persistence ───────────────────────────────────────

// PolicyPersistence loads/saves the resolved Policy to durable storage
// (the host's `<appdata>/uicp/policy.json` in production).
type PolicyPersistence interface {
	Load(ctx context.Context) (*uicp.Policy, error)
	Save(ctx context.Context, p *uicp.Policy) error
}

// ── Chat History Store ───────────────────────────────────────

// ChatHistoryStore persists the conversation transcript driving the LLM
// Orchestrator. Out of scope for this module to implement fully; a
// community in-memory ring buffer is provided for tests/demo.
type ChatHistoryStore interface {
	Append(ctx context.Context, txnID string, role, content string) error
	Recent(ctx context.Context, txnID string, n int) ([]map[string]string, error)
}

// CommunityChatHistoryStore is an in-memory, per-process transcript store.
type CommunityChatHistoryStore struct {
	byTxn map[string][]map[string]string
}

func NewCommunityChatHistoryStore() *CommunityChatHistoryStore {
	return &CommunityChatHistoryStore{byTxn: make(map[string][]map[string]string)}
}

func (s *CommunityChatHistoryStore) Append(_ context.Context, txnID string, role, content string) error {
	s.byTxn[txnID] = append(s.byTxn[txnID], map[string]string{"role": role, "content": content})
	return nil
}

func (s *CommunityChatHistoryStore) Recent(_ context.Context, txnID string, n int) ([]map[string]string, error) {
	all := s.byTxn[txnID]
	if n <= 0 || n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// ── Window Chrome ────────────────────────────────────────────

// WindowChrome stands in for the host's actual window-manager rendering.
// The community implementation simply records calls for test assertions.
type WindowChrome interface {
	// Paint renders html at target within window w's content subtree.
	// target is either the literal "#root" (the window's whole content
	// area) or a querySelector scoped to it.
	Paint(ctx context.Context, w uicp.WindowRecord, target, html string) error
	Remove(ctx context.Context, windowID string) error
}

// NoopWindowChrome does nothing; used when no host renderer is attached.
type NoopWindowChrome struct{}

func (NoopWindowChrome) Paint(context.Context, uicp.WindowRecord, string, string) error { return nil }
func (NoopWindowChrome) Remove(context.Context, string) error                          { return nil }

// ── Compute Job Dispatcher (needs.code) ──────────────────────

// ComputeJobDispatcher stands in for the out-of-scope WASM compute-applet
// runtime. This module only needs to request a job and receive a
// permission-gated result envelope back; it never executes WASM itself.
type ComputeJobDispatcher interface {
	Dispatch(ctx context.Context, txnID string, code string, args map[string]interface{}) (result map[string]interface{}, err error)
}

// UnimplementedComputeJobDispatcher rejects every job. needs.code execution
// is explicitly out of scope for this module (see SPEC_FULL.md §1); wiring
// a real WASM sandbox is a host integration concern.
type UnimplementedComputeJobDispatcher struct{}

func (UnimplementedComputeJobDispatcher) Dispatch(context.Context, string, string, map[string]interface{}) (map[string]interface{}, error) {
	return nil, ErrComputeNotImplemented
}

// ErrComputeNotImplemented is returned by UnimplementedComputeJobDispatcher.
var ErrComputeNotImplemented = &NotImplementedError{Feature: "needs.code compute runtime"}

// NotImplementedError marks a host collaborator boundary with no community
// implementation beyond a stub.
type NotImplementedError struct{ Feature string }

func (e *NotImplementedError) Error() string { return e.Feature + " is not implemented in this module" }

// ── Threat Intel Source ──────────────────────────────────────

// ThreatIntelSource looks up a host's reputation (URLHaus-shaped).
type ThreatIntelSource interface {
	Lookup(ctx context.Context, host string) (uicp.ThreatVerdict, error)
}

// ── misc ─────────────────────────────────────────────────────

// Clock is injected wherever wall-clock time needs to be faked in tests.
type Clock interface{ Now() time.Time }

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
