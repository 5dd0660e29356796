package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"selfLearningBot/internal/domain"
	"selfLearningBot/internal/ports"
)

// Rejection reasons, reported in the fixed evaluation order of Check.
const (
	ReasonCircuitBreakerActive = "circuit_breaker_active"
	ReasonDailyLossLimit       = "daily_loss_limit_reached"
	ReasonMaxPositions         = "max_positions_reached"
	ReasonLeverageTooHigh      = "leverage_too_high"
	ReasonPositionRiskTooHigh  = "position_risk_too_high"
)

// Result is the outcome of a risk check.
type Result struct {
	Approved          bool
	Reason            string
	CooldownRemaining time.Duration // set when rejected by the loss breaker
}

// Config holds account-level risk limits.
type Config struct {
	MaxLeverage            float64
	DailyLossLimit         float64 // fraction of balance, e.g. 0.05
	SingleTradeRisk        float64 // fraction of balance, e.g. 0.02
	HardStopLoss           float64 // fallback stop distance fraction, e.g. 0.10
	MaxConcurrentPositions int
	MinPositionSize        float64
	MaxPositionSize        float64
	MaxConsecutiveLosses   int
	CooldownPeriod         time.Duration
	Logger                 ports.Logger
}

// State is a snapshot of the gate's mutable risk state for status queries.
type State struct {
	DailyPNL             float64   `json:"daily_pnl"`
	DailyResetTime       time.Time `json:"daily_reset_time"`
	ConsecutiveLosses    int       `json:"consecutive_losses"`
	CircuitBreakerActive bool      `json:"circuit_breaker_active"`
	CircuitBreakerUntil  time.Time `json:"circuit_breaker_until"`
}

// Gate tracks daily P&L and consecutive losses, approves or rejects proposed
// trades against account limits, and sizes positions. Daily P&L rolls over
// lazily: whenever more than 24h elapsed since the last reset, applied before
// every read or write of the daily figure.
type Gate struct {
	cfg Config

	mu                   sync.Mutex
	dailyPNL             float64
	dailyResetTime       time.Time
	consecutiveLosses    int
	circuitBreakerActive bool
	circuitBreakerUntil  time.Time
	now                  func() time.Time // injectable clock for tests
}

// NewGate creates a risk gate.
func NewGate(cfg Config) (*Gate, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for risk gate")
	}
	if cfg.MaxLeverage <= 0 || cfg.MaxConcurrentPositions <= 0 {
		return nil, fmt.Errorf("leverage and position limits must be positive")
	}
	if cfg.MinPositionSize <= 0 || cfg.MaxPositionSize < cfg.MinPositionSize {
		return nil, fmt.Errorf("position size bounds are invalid")
	}
	if cfg.MaxConsecutiveLosses <= 0 || cfg.CooldownPeriod <= 0 {
		return nil, fmt.Errorf("loss breaker parameters must be positive")
	}
	return &Gate{
		cfg:            cfg,
		dailyResetTime: time.Now().UTC(),
		now:            time.Now,
	}, nil
}

// Check evaluates a proposed trade against the account limits. The checks run
// in a fixed order and the first failing one wins: loss breaker, daily loss
// limit, position count, leverage, single-trade risk.
func (g *Gate) Check(positionSize, leverage, accountBalance float64, openPositions int) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetDailyIfNeeded()

	if g.circuitBreakerActive {
		now := g.now()
		if now.Before(g.circuitBreakerUntil) {
			return Result{
				Approved:          false,
				Reason:            ReasonCircuitBreakerActive,
				CooldownRemaining: g.circuitBreakerUntil.Sub(now),
			}
		}
		g.clearBreaker()
	}

	if accountBalance > 0 && math.Abs(g.dailyPNL/accountBalance) >= g.cfg.DailyLossLimit {
		return Result{Approved: false, Reason: ReasonDailyLossLimit}
	}

	if openPositions >= g.cfg.MaxConcurrentPositions {
		return Result{Approved: false, Reason: ReasonMaxPositions}
	}

	if leverage > g.cfg.MaxLeverage {
		return Result{Approved: false, Reason: ReasonLeverageTooHigh}
	}

	if accountBalance > 0 && positionSize*leverage/accountBalance > g.cfg.SingleTradeRisk {
		return Result{Approved: false, Reason: ReasonPositionRiskTooHigh}
	}

	return Result{Approved: true}
}

// SizePosition computes the position size from balance, entry, stop distance
// and leverage. A degenerate stop (zero price risk) yields the configured
// minimum size; the result is always clamped to [min, max].
func (g *Gate) SizePosition(accountBalance, entryPrice, stopPrice, leverage float64) float64 {
	riskAmount := accountBalance * g.cfg.SingleTradeRisk

	var priceRisk float64
	if entryPrice != 0 {
		priceRisk = math.Abs(entryPrice-stopPrice) / entryPrice
	}
	if priceRisk == 0 {
		return g.cfg.MinPositionSize
	}

	size := riskAmount / priceRisk
	if leverage > 0 {
		size /= leverage
	}

	size = math.Max(size, g.cfg.MinPositionSize)
	size = math.Min(size, g.cfg.MaxPositionSize)
	return size
}

// StopLossPrice derives the stop level for an entry. With an ATR available
// the distance is atr*2, otherwise the hard-stop fraction of the entry price.
func (g *Gate) StopLossPrice(entryPrice float64, side domain.OrderSide, atr float64) float64 {
	distance := entryPrice * g.cfg.HardStopLoss
	if atr > 0 {
		distance = atr * 2
	}
	if side == domain.Buy {
		return entryPrice - distance
	}
	return entryPrice + distance
}

// RecordResult feeds a trade outcome into the consecutive-loss breaker. A win
// resets the counter; a loss increments it and activates the breaker once the
// threshold is reached.
func (g *Gate) RecordResult(isWin bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if isWin {
		g.consecutiveLosses = 0
		return
	}

	g.consecutiveLosses++
	if g.consecutiveLosses >= g.cfg.MaxConsecutiveLosses && !g.circuitBreakerActive {
		g.circuitBreakerActive = true
		g.circuitBreakerUntil = g.now().Add(g.cfg.CooldownPeriod)
		g.cfg.Logger.Warn(context.Background(), "loss circuit breaker activated", map[string]interface{}{
			"consecutiveLosses": g.consecutiveLosses,
			"cooldown":          g.cfg.CooldownPeriod.String(),
		})
	}
}

// UpdateDailyPNL adds a realized result to the daily P&L figure.
func (g *Gate) UpdateDailyPNL(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetDailyIfNeeded()
	g.dailyPNL += pnl
}

// GetState returns a snapshot of the current risk state.
func (g *Gate) GetState() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetDailyIfNeeded()
	return State{
		DailyPNL:             g.dailyPNL,
		DailyResetTime:       g.dailyResetTime,
		ConsecutiveLosses:    g.consecutiveLosses,
		CircuitBreakerActive: g.circuitBreakerActive,
		CircuitBreakerUntil:  g.circuitBreakerUntil,
	}
}

// resetDailyIfNeeded must be called with the mutex held.
func (g *Gate) resetDailyIfNeeded() {
	if g.now().Sub(g.dailyResetTime) > 24*time.Hour {
		g.cfg.Logger.Info(context.Background(), "daily pnl reset", map[string]interface{}{
			"oldPnl": g.dailyPNL,
		})
		g.dailyPNL = 0
		g.dailyResetTime = g.now()
	}
}

// clearBreaker must be called with the mutex held. Clearing the breaker also
// zeroes the consecutive-loss counter.
func (g *Gate) clearBreaker() {
	g.circuitBreakerActive = false
	g.circuitBreakerUntil = time.Time{}
	g.consecutiveLosses = 0
	g.cfg.Logger.Info(context.Background(), "loss circuit breaker cleared")
}
