// Package dom implements the DomApplier module: target-aware, idempotent
// application of dom.set/replace/append envelopes. set/replace are deduped
// against the window's last-applied content hash via FNV-1a so a retried
// batch never double-applies the same mutation; append always applies,
// since repeated identical appends (list items, log lines) are legitimate.
package dom

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/uicp/runtime/internal/schema"
	"github.com/uicp/runtime/internal/window"
	"github.com/uicp/runtime/pkg/contracts"
	"github.com/uicp/runtime/pkg/uicp"
)

// rootTarget is the literal target naming a window's whole content area.
const rootTarget = "#root"

// Applier applies sanitized HTML to a window, via the host's WindowChrome.
type Applier struct {
	windows *window.Manager
	chrome  contracts.WindowChrome
}

func NewApplier(windows *window.Manager, chrome contracts.WindowChrome) *Applier {
	if chrome == nil {
		chrome = contracts.NoopWindowChrome{}
	}
	return &Applier{windows: windows, chrome: chrome}
}

// resolveTarget returns the literal "#root" when e.Target is empty or
// already "#root", else the querySelector as given. A target is always
// scoped to its own window's content subtree — there is no cross-window
// selector syntax.
func resolveTarget(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return rootTarget
	}
	return target
}

// contentHash computes the FNV-1a hash of the target plus the sanitized
// HTML, so identical content painted at different targets never collides.
func contentHash(target, html string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write([]byte(html))
	return h.Sum64()
}

// Apply sanitizes and applies one dom.* envelope at its resolved target.
// For dom.set/dom.replace, Apply is idempotent: if the computed content
// hash matches the window's last-applied hash for the same target, Apply
// is a no-op and returns (applied=false, nil). dom.append never dedupes —
// every append is applied regardless of content hash.
func (a *Applier) Apply(ctx context.Context, e uicp.Envelope) (applied bool, err error) {
	html, _ := e.Params["html"].(string)
	clean, err := schema.SanitizeHTMLStrict(html)
	if err != nil {
		return false, err
	}

	w, err := a.windows.Get(ctx, e.WindowID)
	if err != nil {
		return false, err
	}

	target := resolveTarget(e.Target)

	if e.Op != uicp.OpDOMAppend {
		hash := contentHash(target, clean)
		if w.DOMHash == hash {
			return false, nil
		}
		if err := a.chrome.Paint(ctx, *w, target, clean); err != nil {
			return false, err
		}
		if err := a.windows.SetDOMHash(ctx, e.WindowID, hash); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := a.chrome.Paint(ctx, *w, target, clean); err != nil {
		return false, err
	}
	return true, nil
}
