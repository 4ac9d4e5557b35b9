// Package schema implements the discriminated-union envelope/plan/batch
// validation and the strict HTML sanitizer that gate every mutation before
// it reaches the Adapter Orchestrator.
package schema

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/uicp/runtime/pkg/uicp"
)

// MaxHTMLBytes caps dom.set/replace/append payload size.
const MaxHTMLBytes = 64 * 1024

// MaxBatchLength caps the number of envelopes a single batch may carry.
const MaxBatchLength = 64

// MaxBatchHTMLBytes caps the cumulative dom.* HTML payload across one batch.
const MaxBatchHTMLBytes = 1 << 20 // 1 MiB

// allowedAPIURLs is the allow-list of fixed pseudo-URLs api.call.url may
// carry. uicp:// and tauri:// are the two in-process pseudo-schemes the
// runtime recognizes itself; everything else must be a plain
// http(s)/mailto link.
var allowedAPIURLs = map[string]bool{
	"uicp://intent":            true,
	"uicp://compute.call":      true,
	"tauri://fs/writeTextFile": true,
}

// ValidationError is a structured error carrying a taxonomy code, matching
// the E-UICP-XXXX error family from the error-handling design.
type ValidationError struct {
	Code    string
	Message string
	Detail  string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newErr(code, msg string, detail ...string) *ValidationError {
	d := ""
	if len(detail) > 0 {
		d = detail[0]
	}
	return &ValidationError{Code: code, Message: msg, Detail: d}
}

var validOps = map[uicp.Op]bool{
	uicp.OpWindowCreate: true, uicp.OpWindowUpdate: true, uicp.OpWindowMove: true,
	uicp.OpWindowResize: true, uicp.OpWindowFocus: true, uicp.OpWindowClose: true,
	uicp.OpDOMSet: true, uicp.OpDOMReplace: true, uicp.OpDOMAppend: true,
	uicp.OpComponentRender: true, uicp.OpComponentUpdate: true, uicp.OpComponentDestroy: true,
	uicp.OpStateSet: true, uicp.OpStateGet: true, uicp.OpStateWatch: true,
	uicp.OpStateUnwatch: true, uicp.OpStatePatch: true,
	uicp.OpAPICall: true, uicp.OpNeedsCode: true, uicp.OpTxnCancel: true,
}

// domOps are the operations that carry an HTML payload under params["html"].
var domOps = map[uicp.Op]bool{uicp.OpDOMSet: true, uicp.OpDOMReplace: true, uicp.OpDOMAppend: true}

// ValidateEnvelope checks one envelope's shape in isolation: known op tag,
// required id/txnId, and (for dom.* ops) the HTML size cap and sanitizer.
func ValidateEnvelope(e uicp.Envelope) error {
	if e.ID == "" {
		return newErr("E-UICP-0101", "envelope missing id")
	}
	if e.TxnID == "" {
		return newErr("E-UICP-0102", "envelope missing txnId")
	}
	if !validOps[e.Op] {
		return newErr("E-UICP-0103", "unknown operation", string(e.Op))
	}
	if domOps[e.Op] {
		html, _ := e.Params["html"].(string)
		if len(html) > MaxHTMLBytes {
			return newErr("E-UICP-0104", "html payload exceeds size cap", fmt.Sprintf("%d bytes", len(html)))
		}
		if _, err := SanitizeHTMLStrict(html); err != nil {
			return newErr("E-UICP-0105", "html failed sanitization", err.Error())
		}
	}
	// dom.* intentionally omits windowId here: the DomApplier resolves an
	// absent windowId to the workspace root, and the dangling-selector
	// rule (internal/linter, E-UICP-0402) is what actually rejects a
	// targeted dom op with no window established — not the schema.
	needsWindow := e.Op != uicp.OpAPICall && e.Op != uicp.OpNeedsCode && e.Op != uicp.OpTxnCancel &&
		e.Op != uicp.OpStateSet && e.Op != uicp.OpStateGet && e.Op != uicp.OpStateWatch &&
		e.Op != uicp.OpStateUnwatch && e.Op != uicp.OpStatePatch && e.Op != uicp.OpWindowCreate &&
		!domOps[e.Op]
	if needsWindow && e.WindowID == "" {
		return newErr("E-UICP-0106", "operation requires windowId", string(e.Op))
	}
	if e.Op == uicp.OpAPICall {
		rawURL, _ := e.Params["url"].(string)
		if !apiURLAllowed(rawURL) {
			return newErr("E-UICP-0111", "api.call url scheme not allowed", rawURL)
		}
	}
	return nil
}

// apiURLAllowed checks an api.call envelope's url against the allow-list:
// plain http(s)/mailto links, or one of the runtime's fixed pseudo-URLs.
func apiURLAllowed(raw string) bool {
	if allowedAPIURLs[raw] {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "mailto":
		return true
	default:
		return false
	}
}

// ValidateBatch validates every envelope in a batch and the shared txnId
// invariant, returning the first error encountered.
func ValidateBatch(b uicp.Batch) error {
	if b.TxnID == "" {
		return newErr("E-UICP-0107", "batch missing txnId")
	}
	if len(b.Envelopes) == 0 {
		return newErr("E-UICP-0108", "batch has no envelopes")
	}
	if len(b.Envelopes) > MaxBatchLength {
		return newErr("E-UICP-0112", "batch exceeds max envelope count", fmt.Sprintf("%d envelopes", len(b.Envelopes)))
	}
	var htmlBytes int
	for i, e := range b.Envelopes {
		if e.TxnID != "" && e.TxnID != b.TxnID {
			return newErr("E-UICP-0109", "envelope txnId does not match batch txnId", fmt.Sprintf("index %d", i))
		}
		if err := ValidateEnvelope(e); err != nil {
			return fmt.Errorf("envelope %d: %w", i, err)
		}
		if domOps[e.Op] {
			html, _ := e.Params["html"].(string)
			htmlBytes += len(html)
		}
	}
	if htmlBytes > MaxBatchHTMLBytes {
		return newErr("E-UICP-0113", "batch cumulative html payload exceeds size cap", fmt.Sprintf("%d bytes", htmlBytes))
	}
	return nil
}

// ValidatePlan checks the planner phase's output before the actor phase is
// invoked: a plan must either carry a summary or explicitly defer to the
// actor, never both empty.
func ValidatePlan(p uicp.Plan) error {
	if strings.TrimSpace(p.Summary) == "" && !p.NeedsActor {
		return newErr("E-UICP-0110", "plan has no summary and does not request an actor phase")
	}
	return nil
}

// ── HTML sanitizer ───────────────────────────────────────────

var allowedTags = map[string]bool{
	"div": true, "span": true, "p": true, "a": true, "button": true, "input": true,
	"label": true, "form": true, "ul": true, "ol": true, "li": true, "table": true,
	"thead": true, "tbody": true, "tr": true, "td": true, "th": true, "h1": true,
	"h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "strong": true,
	"em": true, "br": true, "hr": true, "img": true, "pre": true, "code": true,
	"select": true, "option": true, "textarea": true, "section": true, "header": true,
	"footer": true, "nav": true, "article": true, "aside": true, "small": true,
}

// deniedTags are always stripped regardless of allow-list, even if a caller
// somehow lists them: these can execute or load arbitrary remote content.
var deniedTags = map[string]bool{
	"script": true, "style": true, "iframe": true, "object": true, "embed": true, "link": true,
}

var allowedSchemes = map[string]bool{"http": true, "https": true}

// dataURLMediaTypeRe pulls the media type out of a "data:" URL, e.g.
// "data:image/png;base64,..." -> "image/png".
var dataURLMediaTypeRe = regexp.MustCompile(`(?i)^data:([a-z0-9.+-]+/[a-z0-9.+-]+)`)

var tagRe = regexp.MustCompile(`(?is)<(/?)([a-zA-Z][a-zA-Z0-9-]*)((?:\s+[a-zA-Z-]+(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+))?)*)\s*(/?)>`)
var attrRe = regexp.MustCompile(`([a-zA-Z-]+)(?:\s*=\s*("([^"]*)"|'([^']*)'|([^\s>]+)))?`)
var onEventAttr = regexp.MustCompile(`(?i)^on[a-z]+$`)

// scriptBlockRe/styleBlockRe match a whole <script>/<style> element,
// content included, so the text inside is removed along with the tags.
var scriptBlockRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
var styleBlockRe = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)

// SanitizeHTMLStrict removes <script>/<style> elements with their content,
// disallowed tags, all event-handler attributes, and any href/src whose
// scheme is not http/https (relative URLs pass; data: passes only on an
// <img src> with an image/* media type). Void tags (br, hr, img, input)
// are emitted self-closed. It never executes or parses scripts; it is a
// text-level allow-list filter, not a full DOM parser, matching the
// "strict subset" requirement.
func SanitizeHTMLStrict(html string) (string, error) {
	var errOut error
	html = scriptBlockRe.ReplaceAllString(html, "")
	html = styleBlockRe.ReplaceAllString(html, "")
	out := tagRe.ReplaceAllStringFunc(html, func(tag string) string {
		m := tagRe.FindStringSubmatch(tag)
		closing, name, attrs := m[1], strings.ToLower(m[2]), m[3]
		if deniedTags[name] {
			return ""
		}
		if !allowedTags[name] {
			return ""
		}
		if closing == "/" {
			return "</" + name + ">"
		}
		selfClose := m[4] == "/" || name == "br" || name == "hr" || name == "img" || name == "input"
		cleanAttrs := sanitizeAttrs(name, attrs)
		if selfClose {
			return "<" + name + cleanAttrs + "/>"
		}
		return "<" + name + cleanAttrs + ">"
	})
	return out, errOut
}

func sanitizeAttrs(tag, attrs string) string {
	matches := attrRe.FindAllStringSubmatch(attrs, -1)
	var b strings.Builder
	for _, m := range matches {
		key := strings.ToLower(m[1])
		val := firstNonEmpty(m[3], m[4], m[5])
		if onEventAttr.MatchString(key) {
			continue
		}
		if key == "href" || key == "src" {
			if !schemeAllowed(tag, key, val) {
				continue
			}
		}
		if key == "style" {
			continue // inline style can carry expression()/url() vectors; dropped entirely
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString(`="`)
		b.WriteString(strings.ReplaceAll(val, `"`, "&quot;"))
		b.WriteString(`"`)
	}
	return b.String()
}

// schemeAllowed gates an href/src value. data: URLs are stripped from
// every tag/attribute except an <img src="data:image/...">  with a safe
// image mime type — everything else (javascript:, data: on an <a href>,
// data: on any other src) is rejected.
func schemeAllowed(tag, key, raw string) bool {
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return true // relative URL, fine
	}
	if scheme == "data" {
		if tag != "img" || key != "src" {
			return false
		}
		m := dataURLMediaTypeRe.FindStringSubmatch(raw)
		return m != nil && strings.HasPrefix(strings.ToLower(m[1]), "image/")
	}
	return allowedSchemes[scheme]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
