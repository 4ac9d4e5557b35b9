// Package llmorch implements the two-phase planner/actor intent
// orchestrator: a planning call decides whether a user's message can be
// answered with a direct summary or needs a follow-up actor call that
// produces the batch of envelopes to apply. Grounded on the recipe
// engine's async-execution-with-retry shape (internal/workflow/
// engine.go), narrowed from "run a DAG of recipe steps" to "run at most
// two LLM calls in sequence with bounded retry and a degraded fallback
// at each phase".
package llmorch

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/uicp/runtime/internal/provider"
	"github.com/uicp/runtime/internal/schema"
	"github.com/uicp/runtime/internal/toolcollect"
	"github.com/uicp/runtime/pkg/contracts"
	"github.com/uicp/runtime/pkg/uicp"
)

// maxPhaseRetries bounds the retry-with-backoff applied to each of the
// planner and actor phases independently: one retry, so at most two
// attempts per phase.
const maxPhaseRetries = 1

// PlannerProfile/ActorProfile name the provider.Router profiles used for
// each phase; callers register these with whatever model the host has
// configured for planning vs. acting.
const (
	PlannerProfile = "planner"
	ActorProfile   = "actor"
)

// Tool-call names the phases look for on their respective streams. The
// planner calls emit_plan, the actor calls emit_batch; a phase whose
// model doesn't call the expected tool falls back to parsing the
// accumulated text as the same JSON shape.
const (
	plannerToolName = "emit_plan"
	actorToolName   = "emit_batch"
)

// clarifierRiskToken marks a plan's risks list as a structured
// clarifying question rather than a genuine risk, the signal used to
// detect the clarifier degraded mode.
const clarifierRiskToken = "needs_clarification"

// clarifierIntentURL is the only api.call target the clarifier batch is
// allowed to carry; it's a host-handled pseudo-endpoint, never a real
// network request.
const clarifierIntentURL = "uicp://intent"

// IntentResult is the orchestrator's output: a plan (always present,
// possibly degraded), the batch produced by whichever phase supplied
// one, and the trace id shared by every envelope in that batch.
type IntentResult struct {
	Plan      uicp.Plan
	Batch     *uicp.Batch
	TraceID   string
	AutoApply bool
}

// Orchestrator runs the planner/actor intent pipeline.
type Orchestrator struct {
	router  *provider.Router
	history contracts.ChatHistoryStore
}

func New(router *provider.Router, history contracts.ChatHistoryStore) *Orchestrator {
	if history == nil {
		history = contracts.NewCommunityChatHistoryStore()
	}
	return &Orchestrator{router: router, history: history}
}

// RunIntent drives one user turn through the planner phase and, if
// requested, the actor phase. It never returns an error for an LLM
// failure: instead it returns a degraded Plan (Degraded="planner_fallback"
// or "actor_fallback") so the caller can still surface something to the
// user. The returned error is reserved for caller-context failures
// (e.g. ctx already cancelled) rather than upstream model failures.
func (o *Orchestrator) RunIntent(ctx context.Context, txnID, userMessage string) (*IntentResult, error) {
	o.history.Append(ctx, txnID, "user", userMessage)
	traceID := uuid.NewString()

	plan, err := o.runPlanner(ctx, userMessage)
	if err != nil {
		log.Warn().Str("txn", txnID).Err(err).Msg("planner phase exhausted retries, continuing actor-only on a degraded plan")
		plan = o.plannerFallback()
	} else if err := schema.ValidatePlan(plan); err != nil {
		plan = o.plannerFallback()
	}

	if batch, ok := clarifierBatch(plan); ok {
		stampBatch(&batch, txnID, traceID)
		return &IntentResult{Plan: plan, Batch: &batch, TraceID: traceID, AutoApply: true}, nil
	}

	result := &IntentResult{Plan: plan, TraceID: traceID}
	if !plan.NeedsActor {
		return result, nil
	}

	batch, err := o.runActor(ctx, txnID, userMessage, plan)
	if err != nil {
		log.Warn().Str("txn", txnID).Err(err).Msg("actor phase exhausted retries, returning an inline failure batch")
		result.Plan.Degraded = "actor_fallback"
		result.Batch = actorFailureBatch(txnID, traceID, err)
	} else {
		batch.TxnID = txnID
		stampBatch(batch, txnID, traceID)
		result.Batch = batch
	}
	return result, nil
}

// plannerFallback produces the synthetic plan used when the planner phase
// fails or returns an invalid plan: it sets NeedsActor, so the turn is
// handed to the actor phase instead of silently doing nothing.
func (o *Orchestrator) plannerFallback() uicp.Plan {
	return uicp.Plan{
		Summary:    "Planner degraded: using actor-only",
		NeedsActor: true,
		Degraded:   "planner_fallback",
		Risks:      []string{"planner_error: no planner response could be parsed"},
	}
}

// actorFailureBatch renders the documented two-op safe fallback: a
// window announcing the failure and a dom.set with the HTML-escaped
// failure message, so a flaky actor model never leaves the caller with
// nothing to show. Its envelopes carry the turn's trace id.
func actorFailureBatch(txnID, traceID string, cause error) *uicp.Batch {
	windowID := "actor-failure-" + txnID
	b := &uicp.Batch{TxnID: txnID, Envelopes: []uicp.Envelope{
		{
			Op:       uicp.OpWindowCreate,
			WindowID: windowID,
			Params:   map[string]interface{}{"title": "Action Failed"},
		},
		{
			Op:       uicp.OpDOMSet,
			WindowID: windowID,
			Target:   "#root",
			Params:   map[string]interface{}{"html": "<p>Unable to apply plan.</p><p>" + html.EscapeString(cause.Error()) + "</p>"},
		},
	}}
	stampBatch(b, txnID, traceID)
	return b
}

// clarifierBatch recognizes the structured-clarifier degraded mode: a
// summary ending in '?', a risks entry carrying the clarifier token, and
// a batch that is exactly one api.call envelope targeting the intent
// pseudo-endpoint. When matched, the actor phase is skipped entirely and
// the plan's own batch is applied directly.
func clarifierBatch(plan uicp.Plan) (uicp.Batch, bool) {
	if plan.Batch == nil || !strings.HasSuffix(strings.TrimSpace(plan.Summary), "?") {
		return uicp.Batch{}, false
	}
	hasToken := false
	for _, r := range plan.Risks {
		if strings.Contains(r, clarifierRiskToken) {
			hasToken = true
			break
		}
	}
	if !hasToken || len(plan.Batch.Envelopes) != 1 {
		return uicp.Batch{}, false
	}
	e := plan.Batch.Envelopes[0]
	if e.Op != uicp.OpAPICall {
		return uicp.Batch{}, false
	}
	url, _ := e.Params["url"].(string)
	if url != clarifierIntentURL {
		return uicp.Batch{}, false
	}
	return *plan.Batch, true
}

func (o *Orchestrator) runPlanner(ctx context.Context, userMessage string) (uicp.Plan, error) {
	var plan uicp.Plan
	op := func() error {
		result, err := o.collectPhase(ctx, PlannerProfile, plannerToolName, []map[string]interface{}{
			{"role": "system", "content": plannerSystemPrompt},
			{"role": "user", "content": userMessage},
		})
		if err != nil {
			return err
		}
		return decodePlan(result, &plan)
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxPhaseRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return uicp.Plan{}, err
	}
	return plan, nil
}

func (o *Orchestrator) runActor(ctx context.Context, txnID, userMessage string, plan uicp.Plan) (*uicp.Batch, error) {
	var envelopes []uicp.Envelope
	op := func() error {
		result, err := o.collectPhase(ctx, ActorProfile, actorToolName, []map[string]interface{}{
			{"role": "system", "content": actorSystemPrompt},
			{"role": "user", "content": fmt.Sprintf("%s\n\nPlan: %s", userMessage, plan.Summary)},
		})
		if err != nil {
			return err
		}
		envs, err := decodeEnvelopes(result)
		if err != nil {
			return err
		}
		envelopes = envs
		return nil
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxPhaseRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	if len(envelopes) == 0 {
		return nil, fmt.Errorf("actor phase produced no usable envelopes")
	}
	return &uicp.Batch{TxnID: txnID, Envelopes: envelopes}, nil
}

// collectPhase streams one phase's response and hands the raw events to
// toolcollect.CollectWithFallback, looking for the given tool name. The
// queue between them holds at most 2000 events; when it is full, the
// oldest queued event is dropped to make room for the new one.
func (o *Orchestrator) collectPhase(ctx context.Context, profile, toolName string, messages []map[string]interface{}) (toolcollect.Result, error) {
	events := make(chan uicp.StreamEvent, 2000)
	done := make(chan error, 1)
	go func() {
		done <- o.router.Stream(ctx, profile, messages, func(ev uicp.StreamEvent) error {
			for {
				select {
				case events <- ev:
					return nil
				default:
					select {
					case <-events:
					default:
					}
				}
			}
		})
		close(events)
	}()

	result := toolcollect.CollectWithFallback(ctx, events, toolName)
	if err := <-done; err != nil {
		return toolcollect.Result{}, err
	}
	return result, nil
}

// decodePlan decodes a collectPhase result into a Plan: the tool call's
// args when the model called emit_plan, else parseToolFromText on the
// accumulated text.
func decodePlan(result toolcollect.Result, plan *uicp.Plan) error {
	if result.Tool != nil {
		b, err := json.Marshal(result.Tool.Args)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, plan)
	}
	return parseToolFromText(result.Text, plan)
}

// decodeEnvelopes decodes a collectPhase result into the actor's
// envelope list: the tool call's "envelopes" array when the model called
// emit_batch, else the same shape parsed from the accumulated text.
func decodeEnvelopes(result toolcollect.Result) ([]uicp.Envelope, error) {
	var args map[string]interface{}
	if result.Tool != nil {
		args = result.Tool.Args
	} else {
		var wrapper struct {
			Envelopes []uicp.Envelope `json:"envelopes"`
		}
		if err := parseToolFromText(result.Text, &wrapper); err != nil {
			return nil, err
		}
		return wrapper.Envelopes, nil
	}

	envsRaw, _ := args["envelopes"].([]interface{})
	var envelopes []uicp.Envelope
	for _, raw := range envsRaw {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		b, _ := json.Marshal(m)
		var e uicp.Envelope
		if err := json.Unmarshal(b, &e); err == nil {
			envelopes = append(envelopes, e)
		}
	}
	return envelopes, nil
}

// parseToolFromText recovers a JSON value from plain accumulated text
// when the model never called the expected tool — stripping a markdown
// code fence first, since models commonly wrap JSON in one even when
// asked not to.
func parseToolFromText(text string, out interface{}) error {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return fmt.Errorf("empty completion")
	}
	return json.Unmarshal([]byte(trimmed), out)
}

// stampBatch fills every envelope's id/idempotencyKey/traceId/txnId when
// the model's response left them blank, per the requirement that every
// returned envelope is fully stamped before it reaches the adapter.
func stampBatch(b *uicp.Batch, txnID, traceID string) {
	for i := range b.Envelopes {
		e := &b.Envelopes[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.TxnID == "" {
			e.TxnID = txnID
		}
		if e.TraceID == "" {
			e.TraceID = traceID
		}
		if e.IdempotencyKey == "" {
			e.IdempotencyKey = uuid.NewString()
		}
	}
}

const plannerSystemPrompt = `You plan UI-compute intents by calling emit_plan with a JSON object ` +
	`{"summary": string, "needsActor": bool, "risks": [string], "actorHints": [string]}. Set ` +
	`needsActor=true only when the user's request requires a window/DOM/component mutation; ` +
	`otherwise answer directly in summary. If the request is ambiguous, end summary with "?", ` +
	`include a "needs_clarification" entry in risks, and set batch to a single api.call envelope ` +
	`targeting "uicp://intent".`

const actorSystemPrompt = `You turn an approved plan into UI-compute operations by calling ` +
	`emit_batch with an "envelopes" array of operation objects.`
