// Package linter implements the Batch Linter: a pre-apply gate that
// rejects a whole batch if it carries no visible effect, a dangling
// selector, inert text-only content, or an orphaned needs.code — the
// structural invariants the schema kernel can't check envelope-by-
// envelope in isolation. Rules are evaluated in an ordered table, first
// failure wins, the same dispatch-by-kind-then-short-circuit shape used
// for guardrail evaluation elsewhere in this stack.
package linter

import (
	"fmt"
	"strings"

	"github.com/uicp/runtime/pkg/uicp"
)

// rootTarget is the literal target naming a window's whole content area,
// mirrored from internal/dom so the linter can reason about targeting
// without importing the applier itself.
const rootTarget = "#root"

// LintError reports one linter rule violation.
type LintError struct {
	Code    string
	Message string
	Hint    string
}

func (e *LintError) Error() string { return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Hint) }

// KnownState is the linter's read-only view of already-committed state.
// Only WatchedKeys is consulted (by 0404, as an already-watched sink);
// no rule reads Windows or Components.
type KnownState struct {
	Windows      map[string]bool
	Components   map[string]bool
	WatchedKeys  map[string]bool
}

type rule struct {
	code  string
	check func(b uicp.Batch, known KnownState) *LintError
}

var rules = []rule{
	{code: "E-UICP-0401", check: checkNoVisibleEffect},
	{code: "E-UICP-0402", check: checkDanglingSelector},
	{code: "E-UICP-0403", check: checkInertTextOnly},
	{code: "E-UICP-0404", check: checkNeedsCodeHasSink},
	{code: "E-UICP-0405", check: checkTxnCancelIsTerminal},
	{code: "E-UICP-0406", check: checkFirstRenderTargetsRootOrCreates},
	{code: "E-UICP-0407", check: checkWindowIDConsistency},
}

// Lint runs every rule in order and returns the first violation found, or
// nil if the batch is clean. Empty batches and pure txn.cancel batches
// always pass.
func Lint(b uicp.Batch, known KnownState) error {
	for _, r := range rules {
		if err := r.check(b, known); err != nil {
			return err
		}
	}
	return nil
}

// visualOps are the operations 0401/0403/0404 treat as having a visible
// effect: window lifecycle (beyond move/resize/focus/close, which act on
// an already-visible window), dom mutation, and component mounting.
func isVisualOp(op uicp.Op) bool {
	switch op {
	case uicp.OpWindowCreate, uicp.OpWindowUpdate,
		uicp.OpDOMSet, uicp.OpDOMReplace, uicp.OpDOMAppend,
		uicp.OpComponentRender, uicp.OpComponentUpdate:
		return true
	default:
		return false
	}
}

func isDOMOp(op uicp.Op) bool {
	return op == uicp.OpDOMSet || op == uicp.OpDOMReplace || op == uicp.OpDOMAppend
}

func isOnlyTxnCancel(b uicp.Batch) bool {
	for _, e := range b.Envelopes {
		if e.Op != uicp.OpTxnCancel {
			return false
		}
	}
	return true
}

// checkNoVisibleEffect rejects a batch that carries no op in
// {window.create, window.update, dom.*, component.render, component.update}.
// A batch carrying needs.code is left to 0404, which also accepts a
// watched-state sink in place of a visual op.
func checkNoVisibleEffect(b uicp.Batch, _ KnownState) *LintError {
	if len(b.Envelopes) == 0 || isOnlyTxnCancel(b) {
		return nil
	}
	for _, e := range b.Envelopes {
		if isVisualOp(e.Op) || e.Op == uicp.OpNeedsCode {
			return nil
		}
	}
	return &LintError{"E-UICP-0401", "batch has no visible effect", "no window/dom/component mutation present"}
}

// checkDanglingSelector rejects a dom.* envelope with a non-empty target
// but no window established — no windowId on the envelope and no
// window.create anywhere in this batch.
func checkDanglingSelector(b uicp.Batch, _ KnownState) *LintError {
	hasCreate := false
	for _, e := range b.Envelopes {
		if e.Op == uicp.OpWindowCreate {
			hasCreate = true
			break
		}
	}
	if hasCreate {
		return nil
	}
	for _, e := range b.Envelopes {
		if isDOMOp(e.Op) && e.Target != "" && e.WindowID == "" {
			return &LintError{"E-UICP-0402", "dom operation has a dangling selector: no window established in this batch", e.ID}
		}
	}
	return nil
}

// interactiveMarkers mark an HTML payload as more than inert text:
// an explicit command hook, or an interactive/navigable element.
var interactiveMarkers = []string{"data-command=", "<button", "<input", "<textarea", "<select", "<form", `<a href="http`}

func containsInteractiveMarkup(html string) bool {
	lower := strings.ToLower(html)
	for _, m := range interactiveMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// checkInertTextOnly rejects a batch whose only visual effect is one or
// more dom.append envelopes, none of which carry any interactive markup —
// a batch that renders but can never do anything.
func checkInertTextOnly(b uicp.Batch, _ KnownState) *LintError {
	var visual []uicp.Envelope
	for _, e := range b.Envelopes {
		if isVisualOp(e.Op) {
			visual = append(visual, e)
		}
	}
	if len(visual) == 0 {
		return nil
	}
	for _, e := range visual {
		if e.Op != uicp.OpDOMAppend {
			return nil
		}
	}
	for _, e := range visual {
		html, _ := e.Params["html"].(string)
		if containsInteractiveMarkup(html) {
			return nil
		}
	}
	return &LintError{"E-UICP-0403", "batch is text-only dom.append with no interactive markup", ""}
}

// checkNeedsCodeHasSink rejects a needs.code envelope that isn't paired
// with either a visual op elsewhere in the batch or an api.call whose
// "into" targets a state key being watched (in this batch, or already
// known to the caller).
func checkNeedsCodeHasSink(b uicp.Batch, known KnownState) *LintError {
	hasVisual := false
	watched := map[string]bool{}
	for k := range known.WatchedKeys {
		watched[k] = true
	}
	for _, e := range b.Envelopes {
		if isVisualOp(e.Op) {
			hasVisual = true
		}
		if e.Op == uicp.OpStateWatch {
			if key, _ := e.Params["key"].(string); key != "" {
				watched[key] = true
			}
		}
	}
	if hasVisual {
		return nil
	}
	for _, e := range b.Envelopes {
		if e.Op == uicp.OpAPICall {
			if into, _ := e.Params["into"].(string); into != "" && watched[into] {
				return nil
			}
		}
	}
	for _, e := range b.Envelopes {
		if e.Op == uicp.OpNeedsCode {
			return &LintError{"E-UICP-0404", "needs.code has no paired visible effect or watched-state sink", e.ID}
		}
	}
	return nil
}

func checkTxnCancelIsTerminal(b uicp.Batch, _ KnownState) *LintError {
	for i, e := range b.Envelopes {
		if e.Op == uicp.OpTxnCancel && i != len(b.Envelopes)-1 {
			return &LintError{"E-UICP-0405", "txn.cancel must be the last envelope in its batch", e.ID}
		}
	}
	return nil
}

// checkFirstRenderTargetsRootOrCreates rejects a dom.* envelope that
// targets anything other than the literal "#root" (or leaves target
// empty, which resolves to "#root") when the batch contains no
// window.create. This is the linter-side half of the documented
// first-render conflict: the linter rejects at the plan boundary rather
// than relying on the adapter's legacy auto-create.
func checkFirstRenderTargetsRootOrCreates(b uicp.Batch, _ KnownState) *LintError {
	hasCreate := false
	for _, e := range b.Envelopes {
		if e.Op == uicp.OpWindowCreate {
			hasCreate = true
			break
		}
	}
	if hasCreate {
		return nil
	}
	for _, e := range b.Envelopes {
		if isDOMOp(e.Op) && e.Target != "" && e.Target != rootTarget {
			return &LintError{"E-UICP-0406", "dom operation must target #root when the batch establishes no window", e.ID}
		}
	}
	return nil
}

// checkWindowIDConsistency rejects a batch where downstream envelopes
// reference a windowId other than the one window.create established.
func checkWindowIDConsistency(b uicp.Batch, _ KnownState) *LintError {
	createdID := ""
	hasCreate := false
	for _, e := range b.Envelopes {
		if e.Op == uicp.OpWindowCreate {
			createdID = e.WindowID
			hasCreate = true
			continue
		}
		if hasCreate && e.WindowID != "" && e.WindowID != createdID {
			return &LintError{"E-UICP-0407", "envelope's windowId does not match the window this batch created", e.WindowID}
		}
	}
	return nil
}
