// Package rollout implements the progressive-rollout controller for the
// network guard's enforcement posture: it watches the guard's decision
// stream and escalates from canary through partial to full enforcement
// as confidence grows, or rolls back when false positives spike.
// Grounded on internal/retention/janitor.go's ticker-driven Start(ctx)/
// runCycle shape, reused a second time for a monitor loop instead of a
// sweep-and-purge loop.
package rollout

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/uicp/runtime/pkg/contracts"
	"github.com/uicp/runtime/pkg/uicp"
)

// tickInterval is how often the controller evaluates its escalation
// criteria.
const tickInterval = 15 * time.Second

// falsePositiveThreshold is the fraction of total decisions that, if
// exceeded by net-guard-block events a human later reverses (tracked via
// RecordFalsePositive), triggers a rollback to the terminal rolled_back
// stage, after which the controller no longer escalates.
const falsePositiveThreshold = 0.02

// minDecisionsBeforeEscalation is the minimum sample size the controller
// requires at a stage before considering escalation, so a handful of
// early decisions can't promote straight to full enforcement.
const minDecisionsBeforeEscalation = 50

// Controller owns the RolloutState (held in memory only; it is not
// persisted across restarts) and escalates/rolls it back
// on a ticker, subscribing to the guard's telemetry stream to count
// decisions.
type Controller struct {
	mu    sync.Mutex
	state uicp.RolloutState
	bus   contracts.EventBus
}

// New starts a controller at the given initial stage.
func New(bus contracts.EventBus, initial uicp.RolloutStage) *Controller {
	return &Controller{
		bus:   bus,
		state: uicp.RolloutState{Stage: initial, LastEvaluatedAt: time.Time{}},
	}
}

// State returns a copy of the current rollout state.
func (c *Controller) State() uicp.RolloutState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RecordFalsePositive marks one prior block decision as having been
// reversed by a human (the user clicked "allow always" on something the
// guard blocked), counted against the rollback threshold.
func (c *Controller) RecordFalsePositive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.FalsePositives++
}

// Run subscribes to the guard's telemetry stream and ticks the
// escalation/rollback evaluation until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	var cancelSub func()
	var events <-chan uicp.TelemetryEvent
	if c.bus != nil {
		events, cancelSub = c.bus.Subscribe()
		defer cancelSub()
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	log.Info().Str("stage", string(c.State().Stage)).Msg("rollout controller started")

	c.evaluate()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("rollout controller stopped")
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.countDecision(ev)
		case <-ticker.C:
			c.evaluate()
		}
	}
}

func (c *Controller) countDecision(ev uicp.TelemetryEvent) {
	if ev.Kind != uicp.EventNetGuardAttempt {
		return
	}
	c.mu.Lock()
	c.state.TotalDecisions++
	c.mu.Unlock()
}

// evaluate applies the escalation/rollback rule and advances the stage.
func (c *Controller) evaluate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LastEvaluatedAt = time.Now().UTC()

	if c.state.Stage == uicp.RolloutRolledBack {
		return
	}

	if c.state.TotalDecisions > 0 {
		fpRate := float64(c.state.FalsePositives) / float64(c.state.TotalDecisions)
		if fpRate > falsePositiveThreshold {
			log.Warn().Float64("fp_rate", fpRate).Str("stage", string(c.state.Stage)).Msg("rollout rolling back: false positive rate exceeded threshold")
			c.state.Stage = uicp.RolloutRolledBack
			return
		}
	}

	if c.state.TotalDecisions < minDecisionsBeforeEscalation {
		return
	}

	switch c.state.Stage {
	case uicp.RolloutCanary:
		c.state.Stage = uicp.RolloutPartial
	case uicp.RolloutPartial:
		c.state.Stage = uicp.RolloutFull
	}
}
