package orchestrator

import (
	"github.com/taskmesh/taskmesh/types"
)

// GuardConfig tunes the repetitive-handoff detector and the hard cap on
// total handoffs per execution.
type GuardConfig struct {
	// Window is how many trailing handoffs the detector inspects.
	Window int `json:"window" yaml:"window"`

	// MinDistinct is the minimum number of distinct workers that must
	// appear in the window. Fewer means the execution is bouncing.
	MinDistinct int `json:"min_distinct" yaml:"min_distinct"`

	// MinSamples is how many handoffs must have happened before the
	// detector fires at all. Short legitimate flows stay below it; a
	// two-worker ping-pong reaches it quickly.
	MinSamples int `json:"min_samples" yaml:"min_samples"`

	// MaxHandoffs is the absolute cap per execution, a safety net
	// independent of the pattern detector. Zero disables it.
	MaxHandoffs int `json:"max_handoffs" yaml:"max_handoffs"`
}

// DefaultGuardConfig returns the default guard tuning.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Window:      10,
		MinDistinct: 3,
		MinSamples:  6,
		MaxHandoffs: 50,
	}
}

func (c GuardConfig) withDefaults() GuardConfig {
	def := DefaultGuardConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.MinDistinct <= 0 {
		c.MinDistinct = def.MinDistinct
	}
	if c.MinSamples <= 0 {
		c.MinSamples = def.MinSamples
	}
	if c.MaxHandoffs < 0 {
		c.MaxHandoffs = def.MaxHandoffs
	}
	return c
}

// LoopGuard detects executions stuck bouncing between a small set of
// workers. It inspects only the handoff history the coordinator already
// keeps, so checking is cheap enough to run before every turn.
type LoopGuard struct {
	cfg GuardConfig
}

// NewLoopGuard creates a guard, filling unset config fields with defaults.
func NewLoopGuard(cfg GuardConfig) *LoopGuard {
	return &LoopGuard{cfg: cfg.withDefaults()}
}

// Config returns the effective guard configuration.
func (g *LoopGuard) Config() GuardConfig {
	return g.cfg
}

// Check inspects the handoff history and returns a non-retryable error when
// the execution must be aborted: MAX_HANDOFFS_EXCEEDED when the hard cap is
// reached, REPETITIVE_HANDOFF when the trailing window involves too few
// distinct workers.
func (g *LoopGuard) Check(history []types.HandoffRecord) error {
	if g.cfg.MaxHandoffs > 0 && len(history) >= g.cfg.MaxHandoffs {
		return types.NewErrorf(types.ErrMaxHandoffsExceeded,
			"execution reached the hard cap of %d handoffs", g.cfg.MaxHandoffs)
	}

	if len(history) < g.cfg.MinSamples {
		return nil
	}
	window := history
	if len(window) > g.cfg.Window {
		window = window[len(window)-g.cfg.Window:]
	}

	distinct := make(map[string]struct{}, g.cfg.MinDistinct)
	for _, h := range window {
		distinct[h.FromWorker] = struct{}{}
		distinct[h.ToWorker] = struct{}{}
	}
	if len(distinct) < g.cfg.MinDistinct {
		return types.NewErrorf(types.ErrRepetitiveHandoff,
			"last %d handoffs involve only %d distinct workers (minimum %d)",
			len(window), len(distinct), g.cfg.MinDistinct)
	}
	return nil
}
