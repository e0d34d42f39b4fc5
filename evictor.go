package respool

import "time"

// evictorConfig is the policy input to shouldEvict (spec.md §4.G).
type evictorConfig struct {
	softIdleTimeout time.Duration
	idleTimeout     time.Duration
	min             int
}

// shouldEvict is a pure function: given a policy and an idle resource's
// age and the current idle-cache size, it decides whether that resource
// should be destroyed. It has no side effects and touches no engine
// state, by design — the evictor is a policy, not a mutator (spec.md
// §4.G, §2 row G).
func shouldEvict(cfg evictorConfig, now, lastIdleAt time.Time, availableCount int) bool {
	idleFor := now.Sub(lastIdleAt)

	if cfg.softIdleTimeout > 0 && idleFor > cfg.softIdleTimeout && availableCount > cfg.min {
		return true
	}
	if cfg.idleTimeout > 0 && idleFor > cfg.idleTimeout {
		return true
	}
	return false
}
