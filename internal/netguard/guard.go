// Package netguard implements the Runtime Network Guard: a state machine
// that classifies every outbound request from a wrapped browser capability
// and decides whether to allow it, allow-and-log it, block it outright, or
// hold it pending an interactive retry decision.
package netguard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/uicp/runtime/internal/policy"
	"github.com/uicp/runtime/pkg/contracts"
	"github.com/uicp/runtime/pkg/uicp"
)

// Decision is the guard's verdict on one request.
type Decision struct {
	State   uicp.GuardState
	Block   BlockPayload
}

// BlockPayload carries everything a capability wrapper needs to surface a
// block/ask decision back to the calling code and, for
// BlockedAwaitingRetry, to retry later with the same request id.
type BlockPayload = uicp.BlockPayload

// Guard runs the Invoked -> Classify -> PathAllowlist -> ThreatIntel ->
// HostPolicy -> Quota -> Apply -> PostResponse pipeline for every wrapped
// capability call.
type Guard struct {
	policy      *policy.Store
	quota       *QuotaLimiter
	intel       *ThreatIntel
	bus         contracts.EventBus
	pathAllow   []string // path prefixes exempt from host policy (e.g. same-origin API)
}

// NewGuard wires a Guard from its collaborators. bus may be nil, in which
// case telemetry events are simply dropped (useful for tests).
func NewGuard(p *policy.Store, q *QuotaLimiter, intel *ThreatIntel, bus contracts.EventBus, pathAllow []string) *Guard {
	return &Guard{policy: p, quota: q, intel: intel, bus: bus, pathAllow: pathAllow}
}

// Decide runs one request through the full pipeline.
func (g *Guard) Decide(ctx context.Context, req Request) (Decision, error) {
	now := time.Now().UTC()
	requestID := uuid.NewString()

	g.emit(ctx, uicp.EventNetGuardAttempt, req.Capability, map[string]interface{}{
		"host": req.Host, "path": req.Path, "requestId": requestID,
	})

	// PathAllowlist: requests to an explicitly allow-listed path prefix
	// skip host policy entirely (e.g. same-origin calls back into the
	// host's own API surface).
	for _, prefix := range g.pathAllow {
		if matchesPrefix(req.Path, prefix) {
			return Decision{State: uicp.GuardAllowed}, nil
		}
	}

	pol := g.policy.Get()

	// ThreatIntel: a separate stage ahead of the pure host classifier —
	// a confirmed-malicious verdict blocks outright regardless of what
	// shouldBlockHost would otherwise decide.
	if pol.ThreatIntel && g.intel != nil {
		if verdict, err := g.intel.Lookup(ctx, req.Host); err == nil && verdict.Malicious {
			payload := g.buildBlockPayload(req, requestID, "threat_intel_malicious", uicp.GuardBlocked)
			g.emit(ctx, uicp.EventNetGuardBlock, req.Capability, map[string]interface{}{
				"host": req.Host, "reason": "threat_intel_malicious", "requestId": requestID,
			})
			return Decision{State: uicp.GuardBlocked, Block: payload}, nil
		}
	}

	// HostPolicy
	cls := shouldBlockHost(pol, req.Host, req.Port)
	if cls.block {
		payload := g.buildBlockPayload(req, requestID, cls.reason, uicp.GuardBlocked)
		g.emit(ctx, uicp.EventNetGuardBlock, req.Capability, map[string]interface{}{
			"host": req.Host, "reason": cls.reason, "requestId": requestID,
			"sensitivity": classifySensitivity(req.Path),
		})
		return Decision{State: uicp.GuardBlocked, Block: payload}, nil
	}

	// Quota
	q := pol.DefaultQuota
	if hq, ok := pol.HostQuotas[req.Host]; ok {
		q = hq
	}
	if !g.quota.Allow(req.Host, q, now) {
		payload := g.buildBlockPayload(req, requestID, "per-host quota exceeded", uicp.GuardBlockedAwaitingRetry)
		g.emit(ctx, uicp.EventNetGuardBlock, req.Capability, map[string]interface{}{
			"host": req.Host, "reason": "quota_exceeded", "requestId": requestID,
		})
		return Decision{State: uicp.GuardBlockedAwaitingRetry, Block: payload}, nil
	}

	// Apply / PostResponse
	if pol.MonitorOnly {
		log.Debug().Str("host", req.Host).Str("capability", req.Capability).Msg("net guard monitor-only allow")
		return Decision{State: uicp.GuardMonitorOnly}, nil
	}
	return Decision{State: uicp.GuardAllowed}, nil
}

// blockActions is the reason-keyed remediation taxonomy: the affordances a
// block payload offers depend on why the request was blocked.
var blockActions = map[string][]uicp.BlockAction{
	"private_lan_blocked": {
		{Label: "Allow once", Action: "allow_once"},
		{Label: "Always allow LAN hosts", Action: "set_lan_mode_allow"},
		{Label: "Ask every time", Action: "set_lan_mode_ask"},
		{Label: "Open policy viewer", Action: "open_policy_viewer"},
	},
	"policy_default_deny": {
		{Label: "Allow this host", Action: "allow_wildcard"},
		{Label: "Open policy viewer", Action: "open_policy_viewer"},
	},
}

var defaultBlockActions = []uicp.BlockAction{
	{Label: "Allow once", Action: "allow_once"},
	{Label: "Always allow this host", Action: "allow_always"},
	{Label: "Dismiss", Action: "dismiss"},
}

func (g *Guard) buildBlockPayload(req Request, requestID, reason string, state uicp.GuardState) BlockPayload {
	actions, ok := blockActions[reason]
	if !ok {
		actions = defaultBlockActions
	}
	return BlockPayload{
		Host:      req.Host,
		Reason:    reason,
		State:     state,
		Actions:   actions,
		RequestID: requestID,
	}
}

func (g *Guard) emit(ctx context.Context, kind uicp.TelemetryEventKind, capability string, payload map[string]interface{}) {
	if g.bus == nil {
		return
	}
	payload["capability"] = capability
	g.bus.Publish(ctx, uicp.TelemetryEvent{Kind: kind, Payload: payload, Timestamp: time.Now().UTC()})
}

func matchesPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}
