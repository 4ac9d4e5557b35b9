package netguard

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// CacheJanitor periodically sweeps the ThreatIntel verdict cache for
// expired entries. It runs once immediately and then on every tick,
// exiting cleanly on context cancellation — the same ticker-driven
// periodic-sweep shape used for data-retention cleanup elsewhere in this
// stack, repurposed here to sweep threat-intel verdicts instead of
// expired traces.
type CacheJanitor struct {
	intel    *ThreatIntel
	interval time.Duration
}

func NewCacheJanitor(intel *ThreatIntel, interval time.Duration) *CacheJanitor {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &CacheJanitor{intel: intel, interval: interval}
}

// Run blocks until ctx is canceled, sweeping on the configured interval.
func (j *CacheJanitor) Run(ctx context.Context) {
	j.runCycle()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runCycle()
		}
	}
}

func (j *CacheJanitor) runCycle() {
	removed := j.intel.Sweep(time.Now().UTC())
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("threat intel cache sweep")
	}
}
