// Package uicp defines the shared data-model types for the UI-Compute
// Platform runtime: envelopes, batches, plans, policy, window records,
// stream events and the pending-retry queue. It carries no logic — only
// types and small constructors — so every internal package can depend on
// it without creating import cycles.
package uicp

import (
	"encoding/json"
	"time"
)

// ── Operations ───────────────────────────────────────────────

// Op identifies one of the twenty envelope operation tags.
type Op string

const (
	OpWindowCreate  Op = "window.create"
	OpWindowUpdate  Op = "window.update"
	OpWindowMove    Op = "window.move"
	OpWindowResize  Op = "window.resize"
	OpWindowFocus   Op = "window.focus"
	OpWindowClose   Op = "window.close"
	OpDOMSet        Op = "dom.set"
	OpDOMReplace    Op = "dom.replace"
	OpDOMAppend     Op = "dom.append"
	OpComponentRender  Op = "component.render"
	OpComponentUpdate  Op = "component.update"
	OpComponentDestroy Op = "component.destroy"
	OpStateSet     Op = "state.set"
	OpStateGet     Op = "state.get"
	OpStateWatch   Op = "state.watch"
	OpStateUnwatch Op = "state.unwatch"
	OpStatePatch   Op = "state.patch"
	OpAPICall      Op = "api.call"
	OpNeedsCode    Op = "needs.code"
	OpTxnCancel    Op = "txn.cancel"
)

// Envelope is a single instruction in a batch, targeting one window/DOM/
// component/state/network/compute operation.
type Envelope struct {
	ID       string                 `json:"id"`
	TxnID    string                 `json:"txnId"`
	Op       Op                     `json:"op"`
	WindowID string                 `json:"windowId,omitempty"`
	Target   string                 `json:"target,omitempty"`
	Params   map[string]interface{} `json:"params,omitempty"`

	// TraceID correlates every envelope in a runIntent call across both
	// phases; IdempotencyKey is the caller-facing dedup key (distinct
	// from ContentHash, which the adapter computes itself from the
	// envelope's own content at apply time). Both are stamped by the
	// LLM Orchestrator when missing — the actor LLM commonly omits them.
	TraceID        string `json:"traceId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	// Idempotency: content hash of the normalized envelope, computed by
	// the caller of ApplyBatch when not already present.
	ContentHash string `json:"contentHash,omitempty"`
}

// Batch is an ordered sequence of envelopes sharing one transaction id.
// Ordering is load-bearing — envelopes within one batch are always
// applied strictly in order, never fanned out across goroutines.
type Batch struct {
	TxnID     string     `json:"txnId"`
	Envelopes []Envelope `json:"envelopes"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Plan is the planner phase's output: a natural-language summary, the
// risks it flagged, hints for the actor phase, and — when the planner is
// confident enough to skip a clarifying turn — the batch it proposes.
type Plan struct {
	Summary    string   `json:"summary"`
	Steps      []string `json:"steps"`
	NeedsActor bool     `json:"needsActor"`
	Degraded   string   `json:"degraded,omitempty"` // "planner_fallback" | ""

	// Risks accepts either a bare string or a list of strings on the
	// wire (the planner LLM emits either shape); UnmarshalJSON below
	// normalizes both into this slice.
	Risks []string `json:"risks,omitempty"`
	// ActorHints bounds at 20 entries per the wire contract; callers
	// enforce the cap, Plan itself only carries the value.
	ActorHints []string `json:"actorHints,omitempty"`
	// Batch is the planner's proposed batch, set only in the
	// structured-clarifier case where the actor phase is skipped
	// entirely and this batch is applied directly.
	Batch *Batch `json:"batch,omitempty"`
}

// planWire mirrors Plan field-for-field except Risks, which is decoded
// as raw JSON so both "risks": "text" and "risks": ["a","b"] parse.
type planWire struct {
	Summary    string          `json:"summary"`
	Steps      []string        `json:"steps"`
	NeedsActor bool            `json:"needsActor"`
	Degraded   string          `json:"degraded,omitempty"`
	Risks      json.RawMessage `json:"risks,omitempty"`
	ActorHints []string        `json:"actorHints,omitempty"`
	Batch      *Batch          `json:"batch,omitempty"`
}

func (p *Plan) UnmarshalJSON(data []byte) error {
	var w planWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Summary = w.Summary
	p.Steps = w.Steps
	p.NeedsActor = w.NeedsActor
	p.Degraded = w.Degraded
	p.ActorHints = w.ActorHints
	p.Batch = w.Batch
	p.Risks = nil
	if len(w.Risks) > 0 {
		var asSlice []string
		if err := json.Unmarshal(w.Risks, &asSlice); err == nil {
			p.Risks = asSlice
		} else {
			var asString string
			if err := json.Unmarshal(w.Risks, &asString); err == nil && asString != "" {
				p.Risks = []string{asString}
			}
		}
	}
	return nil
}

// ── Window / DOM records ─────────────────────────────────────

// WindowRecord tracks one live window's ownership and geometry.
type WindowRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	X, Y      int       `json:"x,omitempty"`
	W, H      int       `json:"w,omitempty"`
	Focused   bool      `json:"focused"`
	OwnerTxn  string    `json:"ownerTxn"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// DOMHash is the FNV-1a hash of the last-applied DOM content, used to
	// dedupe repeated dom.set/replace/append envelopes.
	DOMHash uint64 `json:"-"`
}

// ComponentRecord tracks one mounted component instance within a window.
type ComponentRecord struct {
	ID        string                 `json:"id"`
	WindowID  string                 `json:"windowId"`
	Type      string                 `json:"type"`
	Props     map[string]interface{} `json:"props"`
	CreatedAt time.Time              `json:"createdAt"`
}

// ── Streaming ────────────────────────────────────────────────

// StreamEventKind enumerates the normalized event shapes emitted by the
// Stream Extractor regardless of upstream wire format.
type StreamEventKind string

const (
	StreamEventText      StreamEventKind = "text"
	StreamEventToolStart StreamEventKind = "tool_start"
	StreamEventToolDelta StreamEventKind = "tool_delta"
	StreamEventToolStop  StreamEventKind = "tool_stop"
	StreamEventChannel   StreamEventKind = "channel"  // harmony channel marker
	StreamEventDone      StreamEventKind = "done"
	StreamEventError     StreamEventKind = "error"
)

// StreamEvent is the canonical shape every wire-format decoder normalizes
// into, consumed by internal/toolcollect and internal/llmorch.
type StreamEvent struct {
	Kind      StreamEventKind `json:"kind"`
	Text      string          `json:"text,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	ArgsDelta string          `json:"argsDelta,omitempty"`
	Channel   string          `json:"channel,omitempty"` // "analysis" | "commentary" | "final"
	Err       string          `json:"err,omitempty"`
}

// ToolCall is the fully-collected result of internal/toolcollect.
type ToolCall struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Args     map[string]interface{} `json:"args"`
	RawArgs  string                 `json:"rawArgs"`
	Fallback bool                   `json:"fallback"` // true if recovered via text fallback
}

// ── Network Guard / Policy ───────────────────────────────────

// PolicyPreset names the three built-in presets — a starting point a
// policy is initialized from, not the runtime mode it classifies hosts
// under (see NetworkMode).
type PolicyPreset string

const (
	PresetOpen     PolicyPreset = "open"
	PresetBalanced PolicyPreset = "balanced"
	PresetLocked   PolicyPreset = "locked"
)

// NetworkMode governs classify's final fallback: whether an
// unmatched host is allowed or denied once every other rule has had a
// chance to fire.
type NetworkMode string

const (
	ModeDefaultAllow NetworkMode = "default_allow"
	ModeDefaultDeny  NetworkMode = "default_deny"
)

// WildcardRule is one allow/deny rule matched against a request host,
// with optional wildcard subdomain matching ("*.example.com").
type WildcardRule struct {
	Pattern string `json:"pattern"`
	Allow   bool   `json:"allow"`
}

// Quota describes a token-bucket rate limit applied per-host.
type Quota struct {
	Capacity   int     `json:"capacity"`
	RefillRate float64 `json:"refillRate"` // tokens per second
}

// Policy is the fully-resolved, deep-copyable network policy.
type Policy struct {
	Preset        PolicyPreset            `json:"preset"`
	Mode          NetworkMode             `json:"mode"`
	Rules         []WildcardRule          `json:"rules"`
	DefaultQuota  Quota                   `json:"defaultQuota"`
	HostQuotas    map[string]Quota        `json:"hostQuotas,omitempty"`
	AllowPrivate  bool                    `json:"allowPrivate"`
	// AllowPrivateLAN is the tri-state private-range disposition
	// ("allow" | "ask" | "deny") classify.go consults once a host
	// resolves into a private range and no earlier rule fired.
	AllowPrivateLAN string                `json:"allowPrivateLan"`
	// AllowIPLiterals gates bare IP-literal hosts (no hostname) entirely;
	// false blocks every IP literal regardless of range.
	AllowIPLiterals bool                  `json:"allowIpLiterals"`
	MonitorOnly   bool                    `json:"monitorOnly"`
	ThreatIntel   bool                    `json:"threatIntelEnabled"`
	CustomExprs   []string                `json:"customExprs,omitempty"` // expr-lang boolean expressions
}

// Clone deep-copies a Policy so callers can never mutate the engine's
// internal state through a returned pointer.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Rules = append([]WildcardRule(nil), p.Rules...)
	if p.HostQuotas != nil {
		cp.HostQuotas = make(map[string]Quota, len(p.HostQuotas))
		for k, v := range p.HostQuotas {
			cp.HostQuotas[k] = v
		}
	}
	cp.CustomExprs = append([]string(nil), p.CustomExprs...)
	return &cp
}

// GuardState enumerates the Network Guard's termination states.
type GuardState string

const (
	GuardAllowed              GuardState = "allowed"
	GuardMonitorOnly           GuardState = "monitor_only"
	GuardBlocked               GuardState = "blocked"
	GuardBlockedAwaitingRetry  GuardState = "blocked_awaiting_retry"
)

// BlockAction is one suggested remediation in a block payload.
type BlockAction struct {
	Label  string `json:"label"`
	Action string `json:"action"` // "allow_once" | "allow_always" | "dismiss"
}

// BlockPayload is the structured response returned to the capability
// wrapper when a request is blocked or needs interactive confirmation.
type BlockPayload struct {
	Host      string        `json:"host"`
	Reason    string        `json:"reason"`
	State     GuardState    `json:"state"`
	Actions   []BlockAction `json:"actions"`
	RequestID string        `json:"requestId"`
}

// PendingFetchRetry tracks a blocked request awaiting an interactive
// allow/deny decision from the user.
type PendingFetchRetry struct {
	RequestID string    `json:"requestId"`
	Host      string    `json:"host"`
	Capability string   `json:"capability"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ThreatVerdict is a cached URLHaus-style lookup result.
type ThreatVerdict struct {
	Host      string    `json:"host"`
	Malicious bool      `json:"malicious"`
	QueryOK   bool      `json:"queryOk"`
	FetchedAt time.Time `json:"fetchedAt"`
	TTL       time.Duration `json:"-"`
}

// Expired reports whether the verdict should be refreshed. Malicious
// verdicts are cached at 2x the normal TTL (a confirmed-bad host is
// unlikely to turn good quickly; re-checking it wastes a lookup).
func (v ThreatVerdict) Expired(now time.Time) bool {
	ttl := v.TTL
	if v.Malicious {
		ttl *= 2
	}
	return now.After(v.FetchedAt.Add(ttl))
}

// ── Rollout ──────────────────────────────────────────────────

// RolloutStage enumerates the guard's progressive-rollout posture.
type RolloutStage string

const (
	RolloutCanary  RolloutStage = "canary"
	RolloutPartial RolloutStage = "partial"
	RolloutFull    RolloutStage = "full"
	RolloutRolledBack RolloutStage = "rolled_back"
)

// RolloutState is the rollout controller's in-memory state.
type RolloutState struct {
	Stage           RolloutStage `json:"stage"`
	FalsePositives  int          `json:"falsePositives"`
	TotalDecisions  int          `json:"totalDecisions"`
	LastEvaluatedAt time.Time    `json:"lastEvaluatedAt"`
}

// ── Telemetry ────────────────────────────────────────────────

// TelemetryEventKind enumerates the events the Telemetry Emitter fans out.
type TelemetryEventKind string

const (
	EventNetGuardAttempt TelemetryEventKind = "net-guard-attempt"
	EventNetGuardBlock   TelemetryEventKind = "net-guard-block"
	EventComputePermission TelemetryEventKind = "compute-permission"
	EventUIDebugLog        TelemetryEventKind = "ui-debug-log"
	EventIntentCompleted   TelemetryEventKind = "intent-completed"
	EventIntentFailed      TelemetryEventKind = "intent-failed"
)

// TelemetryEvent is the payload fanned out to every registered sink.
type TelemetryEvent struct {
	Kind      TelemetryEventKind     `json:"kind"`
	TxnID     string                 `json:"txnId,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
