package coldstart

import (
	"context"
	"fmt"
	"math"
	"sync"

	"selfLearningBot/internal/domain"
	"selfLearningBot/internal/ports"
)

// Thresholds are the phase-dependent decision gates.
type Thresholds struct {
	MinWinRate      float64
	MinConfidence   float64
	SignalQuality   float64
	ExplorationProb float64
}

// Config holds the phase transition points and per-phase threshold values.
type Config struct {
	ExplorationPhaseTrades  int // trade count at which EXPLOITATION begins
	ExploitationPhaseTrades int // trade count at which MATURE begins

	BootstrapMinWinRate    float64
	BootstrapMinConfidence float64
	BootstrapSignalQuality float64
	MatureMinWinRate       float64
	MatureMinConfidence    float64
	MatureSignalQuality    float64
	ExplorationProbability float64

	BootstrapMaxLeverage float64
	MaxLeverage          float64

	Logger ports.Logger
}

// Policy is the cold-start phase state machine, driven by cumulative trade
// count. The phase moves forward as trades accumulate; a drop in trade count
// moves it backward, which is logged like any other transition.
type Policy struct {
	cfg Config

	mu         sync.RWMutex
	phase      domain.Phase
	tradeCount int
}

// New creates a policy starting in the EXPLORATION phase.
func New(cfg Config) (*Policy, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for cold start policy")
	}
	if cfg.ExplorationPhaseTrades <= 0 || cfg.ExploitationPhaseTrades <= cfg.ExplorationPhaseTrades {
		return nil, fmt.Errorf("phase thresholds must be positive and increasing")
	}
	if cfg.BootstrapMaxLeverage <= 0 || cfg.MaxLeverage <= 0 {
		return nil, fmt.Errorf("leverage caps must be positive")
	}
	return &Policy{cfg: cfg, phase: domain.PhaseExploration}, nil
}

// Update recomputes the phase from the cumulative trade count and logs a
// transition event on change.
func (p *Policy) Update(tradeCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tradeCount = tradeCount
	old := p.phase
	p.phase = p.phaseFor(tradeCount)

	if old != p.phase {
		p.cfg.Logger.Info(context.Background(), "phase transition", map[string]interface{}{
			"oldPhase":   string(old),
			"newPhase":   string(p.phase),
			"tradeCount": tradeCount,
		})
	}
}

func (p *Policy) phaseFor(tradeCount int) domain.Phase {
	switch {
	case tradeCount >= p.cfg.ExploitationPhaseTrades:
		return domain.PhaseMature
	case tradeCount >= p.cfg.ExplorationPhaseTrades:
		return domain.PhaseExploitation
	default:
		return domain.PhaseExploration
	}
}

// Phase returns the current phase.
func (p *Policy) Phase() domain.Phase {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.phase
}

// TradeCount returns the last observed cumulative trade count.
func (p *Policy) TradeCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tradeCount
}

// GetThresholds returns the decision gates for the current phase.
// EXPLORATION uses the bootstrap values as-is; EXPLOITATION averages bootstrap
// and mature values and halves the exploration probability; MATURE uses the
// mature values with zero exploration.
func (p *Policy) GetThresholds() Thresholds {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch p.phase {
	case domain.PhaseMature:
		return Thresholds{
			MinWinRate:      p.cfg.MatureMinWinRate,
			MinConfidence:   p.cfg.MatureMinConfidence,
			SignalQuality:   p.cfg.MatureSignalQuality,
			ExplorationProb: 0,
		}
	case domain.PhaseExploitation:
		return Thresholds{
			MinWinRate:      (p.cfg.BootstrapMinWinRate + p.cfg.MatureMinWinRate) / 2,
			MinConfidence:   (p.cfg.BootstrapMinConfidence + p.cfg.MatureMinConfidence) / 2,
			SignalQuality:   (p.cfg.BootstrapSignalQuality + p.cfg.MatureSignalQuality) / 2,
			ExplorationProb: p.cfg.ExplorationProbability * 0.5,
		}
	default:
		return Thresholds{
			MinWinRate:      p.cfg.BootstrapMinWinRate,
			MinConfidence:   p.cfg.BootstrapMinConfidence,
			SignalQuality:   p.cfg.BootstrapSignalQuality,
			ExplorationProb: p.cfg.ExplorationProbability,
		}
	}
}

// GetMaxLeverage returns the phase-dependent leverage cap.
func (p *Policy) GetMaxLeverage() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch p.phase {
	case domain.PhaseMature:
		return p.cfg.MaxLeverage
	case domain.PhaseExploitation:
		return math.Min(p.cfg.BootstrapMaxLeverage*5, p.cfg.MaxLeverage)
	default:
		return p.cfg.BootstrapMaxLeverage
	}
}
