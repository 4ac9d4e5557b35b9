// Package provider routes a chat request to a named model profile and
// normalizes its streamed response via internal/streamext. Grounded on
// the teacher's ModelRouter/ProviderDriver abstraction in internal/
// router/router.go, narrowed from "pick a provider kind (openai/azure/
// anthropic/ollama/litellm) and make the HTTP call yourself" to "pick a
// wire format and let the host's ChatBridge make the call" — the actual
// HTTP/IPC transport is a host boundary concern here (pkg/contracts.
// ChatBridge), not something this module owns directly.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/uicp/runtime/internal/streamext"
	"github.com/uicp/runtime/pkg/contracts"
	"github.com/uicp/runtime/pkg/uicp"
)

// Profile names one configured model endpoint: which wire format its
// streamed chunks arrive in, and which bridge name the host resolves it
// to. Mirrors the teacher's ModelProvider{Name, Kind, Endpoint} shape,
// narrowed to the fields this module actually needs.
type Profile struct {
	Name   string
	Format streamext.WireFormat
}

// Router dispatches chat requests to named profiles and normalizes their
// streamed output. It is the "driver registry" analogue: registered once
// at startup, looked up by name per call.
type Router struct {
	bridge contracts.ChatBridge

	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewRouter(bridge contracts.ChatBridge) *Router {
	return &Router{bridge: bridge, profiles: make(map[string]Profile)}
}

// Register adds or replaces a named profile.
func (r *Router) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
}

func (r *Router) get(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	return p, ok
}

// Stream sends messages to the named profile and emits one normalized
// uicp.StreamEvent per onEvent call. onEvent returning an error aborts
// the stream early.
func (r *Router) Stream(ctx context.Context, profileName string, messages []map[string]interface{}, onEvent func(uicp.StreamEvent) error) error {
	profile, ok := r.get(profileName)
	if !ok {
		return fmt.Errorf("provider: unknown profile %q", profileName)
	}

	extractor := streamext.New(profile.Format)
	var streamErr error

	onChunk := func(raw []byte) error {
		events, err := extractor.Feed(raw)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := onEvent(ev); err != nil {
				return err
			}
		}
		return nil
	}

	if err := r.bridge.Stream(ctx, profileName, messages, onChunk); err != nil {
		streamErr = err
	}

	for _, ev := range extractor.Flush() {
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	return streamErr
}

// Names lists every registered profile name.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.profiles))
	for n := range r.profiles {
		out = append(out, n)
	}
	return out
}
