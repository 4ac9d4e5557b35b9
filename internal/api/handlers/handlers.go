// Package handlers implements the admin/debug HTTP handlers for the
// UI-Compute runtime: a small surface for reading and changing policy,
// watching rollout/guard activity, and driving an intent out-of-process
// for testing. Narrowed from the teacher's handlers.go (agent/recipe/
// MCP-gateway/workflow CRUD over a multi-tenant Store) to the handful of
// endpoints an embedded runtime's host actually needs.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/uicp/runtime/internal/adapter"
	"github.com/uicp/runtime/internal/llmorch"
	"github.com/uicp/runtime/internal/policy"
	"github.com/uicp/runtime/internal/rollout"
	"github.com/uicp/runtime/pkg/contracts"
	"github.com/uicp/runtime/pkg/uicp"
)

// Handlers holds every collaborator the admin surface dispatches into.
type Handlers struct {
	Policy   *policy.Store
	Rollout  *rollout.Controller
	Bus      contracts.EventBus
	Adapter  *adapter.Orchestrator
	LLM      *llmorch.Orchestrator
	Version  string
}

// New creates a new Handlers instance with all dependencies.
func New(p *policy.Store, rc *rollout.Controller, bus contracts.EventBus, a *adapter.Orchestrator, llm *llmorch.Orchestrator, version string) *Handlers {
	return &Handlers{Policy: p, Rollout: rc, Bus: bus, Adapter: a, LLM: llm, Version: version}
}

// Health reports process liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "uicp-runtime"})
}

// Version reports the running build version.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": h.Version, "service": "uicp-runtime"})
}

// GetPolicy returns the currently resolved policy.
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Policy.Get())
}

// PutPolicy replaces the policy wholesale. The store persists it and
// synchronously notifies its subscribers before returning.
func (h *Handlers) PutPolicy(w http.ResponseWriter, r *http.Request) {
	var p uicp.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid policy body: "+err.Error())
		return
	}
	if err := h.Policy.Set(r.Context(), &p); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.Policy.Get())
}

// GetRollout returns the current rollout stage and decision counters.
func (h *Handlers) GetRollout(w http.ResponseWriter, r *http.Request) {
	if h.Rollout == nil {
		respondError(w, http.StatusNotFound, "rollout controller not configured")
		return
	}
	respondJSON(w, http.StatusOK, h.Rollout.State())
}

// GuardEvents streams telemetry events as Server-Sent Events so a local
// debug UI (or curl) can tail net-guard decisions live.
func (h *Handlers) GuardEvents(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		respondError(w, http.StatusNotFound, "event bus not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events, cancel := h.Bus.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}

// intentRequest is the body POST /api/v1/intent accepts.
type intentRequest struct {
	TxnID   string `json:"txnId"`
	Message string `json:"message"`
}

// intentResponse is what RunIntent plus an optional applied batch looks
// like over the wire.
type intentResponse struct {
	Plan   uicp.Plan      `json:"plan"`
	Result *adapter.Result `json:"result,omitempty"`
}

// PostIntent drives a user message through the LLM orchestrator and, if
// it produced a batch, applies it through the adapter orchestrator — an
// out-of-process way to exercise the full pipeline without a UI.
func (h *Handlers) PostIntent(w http.ResponseWriter, r *http.Request) {
	if h.LLM == nil {
		respondError(w, http.StatusNotFound, "LLM orchestrator not configured")
		return
	}

	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid intent body: "+err.Error())
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.TxnID == "" {
		req.TxnID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	intent, err := h.LLM.RunIntent(ctx, req.TxnID, req.Message)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := intentResponse{Plan: intent.Plan}
	if intent.Batch != nil && h.Adapter != nil {
		result, err := h.Adapter.ApplyBatch(ctx, *intent.Batch)
		if err != nil {
			log.Warn().Err(err).Str("txn", req.TxnID).Msg("batch application failed after intent")
		}
		resp.Result = result
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
