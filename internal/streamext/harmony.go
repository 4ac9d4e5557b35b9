package streamext

import (
	"strings"

	"github.com/uicp/runtime/pkg/uicp"
)

// harmonyDecoder incrementally scans assistant text for Harmony channel
// markers (<|channel|>analysis<|message|>...<|end|>) and splits plain text
// from channel-tagged text. It is chunk-boundary safe: if a marker is cut
// in half by a chunk boundary, the decoder holds the suffix that could be
// the start of a marker and re-evaluates it once more text arrives, the
// same look-back-window technique used to avoid splitting a token across
// an SSE flush boundary.
type harmonyDecoder struct {
	pending    string
	inChannel  bool
	channel    string
}

const (
	tagChannelStart = "<|channel|>"
	tagMessageStart = "<|message|>"
	tagEnd          = "<|end|>"
)

// maxMarkerLen is the longest Harmony marker recognized; a suffix shorter
// than this could still be the start of a marker split across chunks.
var maxMarkerLen = func() int {
	m := len(tagChannelStart)
	if len(tagMessageStart) > m {
		m = len(tagMessageStart)
	}
	if len(tagEnd) > m {
		m = len(tagEnd)
	}
	return m
}()

func newHarmonyDecoder() *harmonyDecoder { return &harmonyDecoder{} }

// feedText processes one text fragment (already extracted from the
// provider's own wire framing) and returns zero or more StreamEvents.
func (h *harmonyDecoder) feedText(text string) []uicp.StreamEvent {
	h.pending += text
	return h.drain(false)
}

func (h *harmonyDecoder) flush() []uicp.StreamEvent {
	return h.drain(true)
}

func (h *harmonyDecoder) drain(final bool) []uicp.StreamEvent {
	var out []uicp.StreamEvent
	for {
		if h.inChannel {
			if idx := strings.Index(h.pending, tagMessageStart); idx >= 0 {
				h.channel = strings.TrimSpace(h.pending[:idx])
				h.pending = h.pending[idx+len(tagMessageStart):]
				h.inChannel = false
				out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventChannel, Channel: h.channel})
				continue
			}
			// Waiting for <|message|>; nothing safe to emit yet unless final.
			if !final {
				return out
			}
			out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventChannel, Channel: strings.TrimSpace(h.pending)})
			h.pending = ""
			return out
		}

		startIdx := strings.Index(h.pending, tagChannelStart)
		endIdx := strings.Index(h.pending, tagEnd)

		switch {
		case endIdx >= 0 && (startIdx < 0 || endIdx < startIdx):
			if endIdx > 0 {
				out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventText, Text: h.pending[:endIdx], Channel: h.channel})
			}
			h.pending = h.pending[endIdx+len(tagEnd):]
			h.channel = ""
			continue
		case startIdx >= 0:
			if startIdx > 0 {
				out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventText, Text: h.pending[:startIdx], Channel: h.channel})
			}
			h.pending = h.pending[startIdx+len(tagChannelStart):]
			h.inChannel = true
			continue
		default:
			// No marker found. Hold back a suffix that could be the start of
			// one, in case the chunk boundary split it.
			hold := 0
			if !final {
				for i := len(h.pending) - 1; i >= 0 && len(h.pending)-i < maxMarkerLen; i-- {
					suffix := h.pending[i:]
					if strings.HasPrefix(tagChannelStart, suffix) || strings.HasPrefix(tagMessageStart, suffix) || strings.HasPrefix(tagEnd, suffix) {
						hold = len(suffix)
					}
				}
			}
			safeLen := len(h.pending) - hold
			if safeLen > 0 {
				out = append(out, uicp.StreamEvent{Kind: uicp.StreamEventText, Text: h.pending[:safeLen], Channel: h.channel})
				h.pending = h.pending[safeLen:]
			}
			return out
		}
	}
}
