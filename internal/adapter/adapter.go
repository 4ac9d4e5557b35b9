// Package adapter implements the Adapter Orchestrator: the single point
// that takes a validated Batch and applies its envelopes strictly in
// order against the window/DOM/component/state modules, dispatching
// api.call through the network guard and needs.code through the compute
// job dispatcher. Grounded on the recipe engine's step-dispatch shape,
// adapted from its concurrent DAG execution to the strict sequential
// ordering this stack requires — a batch's envelopes are never fanned
// out across goroutines.
package adapter

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/uicp/runtime/internal/component"
	"github.com/uicp/runtime/internal/dom"
	"github.com/uicp/runtime/internal/linter"
	"github.com/uicp/runtime/internal/netguard"
	"github.com/uicp/runtime/internal/schema"
	"github.com/uicp/runtime/internal/state"
	"github.com/uicp/runtime/internal/window"
	"github.com/uicp/runtime/pkg/contracts"
	"github.com/uicp/runtime/pkg/uicp"
)

// maxAPICallRetries bounds the retry-with-backoff applied to a single
// api.call dispatch before the step is recorded as failed.
const maxAPICallRetries = 2

// PermissionGate maps an envelope's operation to a permission scope and
// decides whether the current caller may exercise it. A denial increments
// Result.DeniedByPolicy and the batch continues with the next envelope,
// rather than aborting the whole batch the way an apply error does.
type PermissionGate interface {
	Allow(ctx context.Context, scope string, e uicp.Envelope) bool
}

// AllowAllGate grants every scope; the default when no host-supplied
// PermissionGate is wired in.
type AllowAllGate struct{}

func (AllowAllGate) Allow(context.Context, string, uicp.Envelope) bool { return true }

// scopeForOp maps an operation tag to the permission scope a
// PermissionGate is consulted with.
func scopeForOp(op uicp.Op) string {
	switch {
	case strings.HasPrefix(string(op), "window."):
		return "window"
	case strings.HasPrefix(string(op), "dom."):
		return "dom"
	case strings.HasPrefix(string(op), "component."):
		return "component"
	case strings.HasPrefix(string(op), "state."):
		return "state"
	case op == uicp.OpAPICall:
		return "network"
	case op == uicp.OpNeedsCode:
		return "compute"
	default:
		return "unknown"
	}
}

// StepResult records the outcome of applying one envelope.
type StepResult struct {
	EnvelopeID string  `json:"envelopeId"`
	Op         uicp.Op `json:"op"`
	Applied    bool    `json:"applied"`
	Skipped    bool    `json:"skipped,omitempty"` // idempotent no-op (duplicate content, known window.create)
	Denied     bool    `json:"denied,omitempty"`  // rejected by the PermissionGate
	Error      string  `json:"error,omitempty"`
}

// Result is the outcome of applying a whole batch — the ApplyOutcome
// contract: a caller checks Success/Applied/SkippedDuplicates/
// DeniedByPolicy/Errors without needing to walk Steps itself, though
// Steps remains available for detailed inspection.
type Result struct {
	BatchID           string       `json:"batchId"`
	TxnID             string       `json:"txnId"`
	Success           bool         `json:"success"`
	Applied           int          `json:"applied"`
	SkippedDuplicates int          `json:"skippedDuplicates"`
	DeniedByPolicy    int          `json:"deniedByPolicy"`
	Errors            []string     `json:"errors,omitempty"`
	OpsHash           string       `json:"opsHash,omitempty"`
	Cancelled         bool         `json:"cancelled"`
	Steps             []StepResult `json:"steps"`
}

// Orchestrator wires the modules a batch's envelopes are dispatched
// against.
type Orchestrator struct {
	windows     *window.Manager
	dom         *dom.Applier
	components  *component.Registry
	state       *state.Store
	capRegistry *netguard.Registry
	bus         contracts.EventBus
	permissions PermissionGate
	compute     contracts.ComputeJobDispatcher
}

func New(windows *window.Manager, domApplier *dom.Applier, components *component.Registry, st *state.Store, caps *netguard.Registry, bus contracts.EventBus) *Orchestrator {
	return &Orchestrator{
		windows: windows, dom: domApplier, components: components, state: st, capRegistry: caps, bus: bus,
		permissions: AllowAllGate{},
		compute:     contracts.UnimplementedComputeJobDispatcher{},
	}
}

// WithPermissionGate replaces the default allow-all gate.
func (o *Orchestrator) WithPermissionGate(g PermissionGate) *Orchestrator {
	if g != nil {
		o.permissions = g
	}
	return o
}

// WithComputeJobDispatcher replaces the default unimplemented dispatcher,
// letting a host wire needs.code through to a real compute runtime.
func (o *Orchestrator) WithComputeJobDispatcher(d contracts.ComputeJobDispatcher) *Orchestrator {
	if d != nil {
		o.compute = d
	}
	return o
}

// ApplyBatch validates, lints, then sequentially applies a batch. It stops
// at the first envelope error (leaving remaining envelopes unapplied) or
// at a txn.cancel envelope, whichever comes first. A permission denial
// does not stop the batch — it is recorded and the next envelope runs.
func (o *Orchestrator) ApplyBatch(ctx context.Context, b uicp.Batch) (*Result, error) {
	if err := schema.ValidateBatch(b); err != nil {
		return nil, fmt.Errorf("batch rejected: %w", err)
	}

	known := o.knownState(ctx)
	if err := linter.Lint(b, known); err != nil {
		return nil, fmt.Errorf("batch rejected by linter: %w", err)
	}

	result := &Result{BatchID: b.TxnID, TxnID: b.TxnID, OpsHash: opsHash(b)}
	for _, e := range b.Envelopes {
		if e.Op == uicp.OpTxnCancel {
			result.Cancelled = true
			break
		}

		scope := scopeForOp(e.Op)
		if !o.permissions.Allow(ctx, scope, e) {
			result.DeniedByPolicy++
			result.Steps = append(result.Steps, StepResult{EnvelopeID: e.ID, Op: e.Op, Denied: true})
			continue
		}

		applied, skipped, err := o.applyOne(ctx, e)
		step := StepResult{EnvelopeID: e.ID, Op: e.Op, Applied: applied, Skipped: skipped}
		if err != nil {
			step.Error = err.Error()
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", e.ID, err.Error()))
			result.Steps = append(result.Steps, step)
			log.Warn().Str("txn", b.TxnID).Str("envelope", e.ID).Str("op", string(e.Op)).Err(err).Msg("envelope apply failed, stopping batch")
			o.emitIntentFailed(ctx, b.TxnID, e, err)
			break
		}
		if applied {
			result.Applied++
		} else if skipped {
			result.SkippedDuplicates++
		}
		result.Steps = append(result.Steps, step)
	}

	result.Success = !result.Cancelled && len(result.Errors) == 0 && len(result.Steps) == len(b.Envelopes)
	if !result.Success {
		return result, nil
	}
	o.emitIntentCompleted(ctx, b.TxnID)
	return result, nil
}

func (o *Orchestrator) knownState(ctx context.Context) linter.KnownState {
	known := linter.KnownState{Windows: map[string]bool{}, Components: map[string]bool{}}
	for _, w := range o.windows.List(ctx) {
		known.Windows[w.ID] = true
	}
	return known
}

// applyOne applies one envelope, returning (applied, skipped, err).
// skipped marks an idempotent no-op: a dom.set/replace whose content hash
// already matches, or a window.create against a known id.
func (o *Orchestrator) applyOne(ctx context.Context, e uicp.Envelope) (applied bool, skipped bool, err error) {
	switch e.Op {
	case uicp.OpWindowCreate:
		title, _ := e.Params["title"].(string)
		_, created, err := o.windows.Create(ctx, e.WindowID, title, e.TxnID)
		return created, !created, err
	case uicp.OpWindowUpdate:
		title, hasTitle := e.Params["title"].(string)
		err := o.windows.Update(ctx, e.WindowID, func(w *uicp.WindowRecord) {
			if hasTitle {
				w.Title = title
			}
		})
		return err == nil, false, err
	case uicp.OpWindowMove:
		x, _ := e.Params["x"].(float64)
		y, _ := e.Params["y"].(float64)
		err := o.windows.Move(ctx, e.WindowID, int(x), int(y))
		return err == nil, false, err
	case uicp.OpWindowResize:
		w, _ := e.Params["w"].(float64)
		h, _ := e.Params["h"].(float64)
		err := o.windows.Resize(ctx, e.WindowID, int(w), int(h))
		return err == nil, false, err
	case uicp.OpWindowFocus:
		err := o.windows.Focus(ctx, e.WindowID)
		return err == nil, false, err
	case uicp.OpWindowClose:
		err := o.windows.Close(ctx, e.WindowID)
		return err == nil, false, err

	case uicp.OpDOMSet, uicp.OpDOMReplace, uicp.OpDOMAppend:
		applied, err := o.dom.Apply(ctx, e)
		return applied, !applied && err == nil, err

	case uicp.OpComponentRender:
		id, _ := e.Params["id"].(string)
		typ, _ := e.Params["type"].(string)
		props, _ := e.Params["props"].(map[string]interface{})
		_, err := o.components.Render(ctx, id, e.WindowID, typ, props)
		return err == nil, false, err
	case uicp.OpComponentUpdate:
		id, _ := e.Params["id"].(string)
		props, _ := e.Params["props"].(map[string]interface{})
		_, err := o.components.Update(ctx, id, props)
		return err == nil, false, err
	case uicp.OpComponentDestroy:
		id, _ := e.Params["id"].(string)
		err := o.components.Destroy(ctx, id)
		return err == nil, false, err

	case uicp.OpStateSet:
		key, _ := e.Params["key"].(string)
		err := o.state.Set(ctx, key, e.Params["value"])
		return err == nil, false, err
	case uicp.OpStateGet:
		key, _ := e.Params["key"].(string)
		_, ok := o.state.Get(ctx, key)
		return ok, false, nil
	case uicp.OpStatePatch:
		key, _ := e.Params["key"].(string)
		patch, _ := e.Params["patch"].(map[string]interface{})
		err := o.state.Patch(ctx, key, patch)
		return err == nil, false, err
	case uicp.OpStateWatch, uicp.OpStateUnwatch:
		// Watch/unwatch lifecycle is owned by the caller holding the
		// returned channel (see internal/state.Store.Watch); the
		// orchestrator just records that the envelope was accepted.
		return true, false, nil

	case uicp.OpAPICall:
		applied, err := o.dispatchAPICall(ctx, e)
		return applied, false, err
	case uicp.OpNeedsCode:
		applied, err := o.dispatchComputeJob(ctx, e)
		return applied, false, err
	default:
		return false, false, fmt.Errorf("unhandled op %s", e.Op)
	}
}

func (o *Orchestrator) dispatchAPICall(ctx context.Context, e uicp.Envelope) (bool, error) {
	capName, _ := e.Params["target"].(string)
	host, _ := e.Params["host"].(string)
	path, _ := e.Params["path"].(string)
	method, _ := e.Params["method"].(string)

	wrapper := o.capRegistry.Get(capName)
	if wrapper == nil {
		return false, fmt.Errorf("unknown capability %q", capName)
	}

	var decision netguard.Decision
	op := func() error {
		d, err := wrapper.Invoke(ctx, netguard.Request{Host: host, Path: path, Method: method})
		if err != nil {
			return err
		}
		decision = d
		if decision.State == uicp.GuardBlockedAwaitingRetry {
			return fmt.Errorf("blocked awaiting retry")
		}
		return nil
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAPICallRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return false, fmt.Errorf("api.call to %s blocked: %s", host, decision.Block.Reason)
	}
	if decision.State == uicp.GuardBlocked {
		return false, fmt.Errorf("api.call to %s blocked: %s", host, decision.Block.Reason)
	}
	return true, nil
}

// dispatchComputeJob requests a needs.code job through the wired
// ComputeJobDispatcher. Running the job itself is out of scope here —
// this only enqueues the request and surfaces whether it was accepted.
func (o *Orchestrator) dispatchComputeJob(ctx context.Context, e uicp.Envelope) (bool, error) {
	code, _ := e.Params["code"].(string)
	args, _ := e.Params["args"].(map[string]interface{})
	if _, err := o.compute.Dispatch(ctx, e.TxnID, code, args); err != nil {
		return false, fmt.Errorf("needs.code dispatch failed: %w", err)
	}
	return true, nil
}

// opsHash fingerprints a batch's ordered (op, envelopeId) pairs, letting a
// caller cheaply notice that two applied batches carried the same shape
// of operations without re-diffing the whole payload.
func opsHash(b uicp.Batch) string {
	h := fnv.New64a()
	for _, e := range b.Envelopes {
		h.Write([]byte(e.Op))
		h.Write([]byte{0})
		h.Write([]byte(e.ID))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func (o *Orchestrator) emitIntentCompleted(ctx context.Context, txnID string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(ctx, uicp.TelemetryEvent{Kind: uicp.EventIntentCompleted, TxnID: txnID, Timestamp: time.Now().UTC()})
}

func (o *Orchestrator) emitIntentFailed(ctx context.Context, txnID string, e uicp.Envelope, err error) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(ctx, uicp.TelemetryEvent{
		Kind: uicp.EventIntentFailed, TxnID: txnID, Timestamp: time.Now().UTC(),
		Payload: map[string]interface{}{"envelopeId": e.ID, "op": string(e.Op), "error": err.Error()},
	})
}
