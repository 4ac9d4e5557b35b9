package rollout

import (
	"testing"

	"github.com/uicp/runtime/pkg/uicp"
)

func TestController_EscalatesAfterEnoughCleanDecisions(t *testing.T) {
	c := New(nil, uicp.RolloutCanary)
	for i := 0; i < minDecisionsBeforeEscalation; i++ {
		c.countDecision(uicp.TelemetryEvent{Kind: uicp.EventNetGuardAttempt})
	}
	c.evaluate()
	if c.State().Stage != uicp.RolloutPartial {
		t.Fatalf("expected escalation to partial, got %s", c.State().Stage)
	}
}

func TestController_RollsBackOnHighFalsePositiveRate(t *testing.T) {
	c := New(nil, uicp.RolloutPartial)
	for i := 0; i < minDecisionsBeforeEscalation; i++ {
		c.countDecision(uicp.TelemetryEvent{Kind: uicp.EventNetGuardAttempt})
	}
	for i := 0; i < 5; i++ {
		c.RecordFalsePositive()
	}
	c.evaluate()
	if c.State().Stage != uicp.RolloutRolledBack {
		t.Fatalf("expected rollback, got %s", c.State().Stage)
	}
}

func TestController_StaysPutBelowMinimumSample(t *testing.T) {
	c := New(nil, uicp.RolloutCanary)
	c.countDecision(uicp.TelemetryEvent{Kind: uicp.EventNetGuardAttempt})
	c.evaluate()
	if c.State().Stage != uicp.RolloutCanary {
		t.Fatalf("expected to stay in canary with too small a sample, got %s", c.State().Stage)
	}
}
