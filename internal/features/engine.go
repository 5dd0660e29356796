package features

import (
	"context"
	"fmt"
	"math"
	"sync"

	"selfLearningBot/internal/domain"
	"selfLearningBot/internal/ports"
)

// minCandles is the minimum window size before a feature vector is computable.
const minCandles = 30

// Config holds the window sizes used by the engine.
type Config struct {
	MarketStructureWindow int // candle window capacity per symbol
	OrderFlowWindow       int // trade-tick window capacity per symbol
	OrderBlocksWindow     int
	FVGWindow             int
	Logger                ports.Logger
}

// Engine maintains bounded rolling windows of candles and trade ticks per
// symbol and derives the fixed 12-signal feature vector from them. Windows are
// created lazily on first observation. The ingestion path writes, the decision
// cycle reads; both go through the engine's lock.
type Engine struct {
	cfg Config

	mu      sync.RWMutex
	candles map[string][]domain.Candle
	ticks   map[string][]domain.TradeTick
	cache   map[string]*domain.FeatureVector
}

// NewEngine creates a feature engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for feature engine")
	}
	if cfg.MarketStructureWindow < minCandles {
		return nil, fmt.Errorf("market structure window must be at least %d", minCandles)
	}
	if cfg.OrderFlowWindow <= 0 || cfg.OrderBlocksWindow <= 0 || cfg.FVGWindow <= 0 {
		return nil, fmt.Errorf("feature windows must be positive")
	}
	return &Engine{
		cfg:     cfg,
		candles: make(map[string][]domain.Candle),
		ticks:   make(map[string][]domain.TradeTick),
		cache:   make(map[string]*domain.FeatureVector),
	}, nil
}

// ObserveCandle appends a closed candle to the symbol's window, evicting the
// oldest entry past capacity.
func (e *Engine) ObserveCandle(symbol string, c domain.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf := append(e.candles[symbol], c)
	if len(buf) > e.cfg.MarketStructureWindow {
		buf = buf[len(buf)-e.cfg.MarketStructureWindow:]
	}
	e.candles[symbol] = buf
}

// ObserveTrade appends a trade tick to the symbol's order-flow window.
func (e *Engine) ObserveTrade(symbol string, t domain.TradeTick) {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf := append(e.ticks[symbol], t)
	if len(buf) > e.cfg.OrderFlowWindow {
		buf = buf[len(buf)-e.cfg.OrderFlowWindow:]
	}
	e.ticks[symbol] = buf
}

// CandleCount returns the current number of buffered candles for a symbol.
func (e *Engine) CandleCount(symbol string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.candles[symbol])
}

// Compute derives the feature vector for a symbol from the current window
// snapshot. It returns (nil, false) when fewer than 30 candles are buffered.
// Sub-computations short of history degrade to neutral defaults; Compute
// itself never fails.
func (e *Engine) Compute(symbol string) (*domain.FeatureVector, bool) {
	e.mu.RLock()
	candles := e.candles[symbol]
	ticks := e.ticks[symbol]
	e.mu.RUnlock()

	if len(candles) < minCandles {
		return nil, false
	}

	fv := &domain.FeatureVector{
		MarketStructureTrend:       marketStructureTrend(candles),
		OrderBlocksCount:           e.countOrderBlocks(candles),
		InstitutionalCandle:        detectInstitutionalCandle(candles),
		LiquidityGrab:              detectLiquidityGrab(candles),
		OrderFlowValue:             orderFlowValue(ticks),
		FVGCount:                   e.countFairValueGaps(candles),
		TrendAlignment:             trendAlignment(candles),
		SwingHighDistance:          swingHighDistance(candles),
		StructureIntegrity:         structureIntegrity(candles),
		InstitutionalParticipation: institutionalParticipation(candles),
		TimeframeConvergence:       timeframeConvergence(candles),
		LiquidityContext:           liquidityContext(candles),
	}

	e.mu.Lock()
	e.cache[symbol] = fv
	e.mu.Unlock()

	e.cfg.Logger.Debug(context.Background(), "features computed", map[string]interface{}{
		"symbol":  symbol,
		"trend":   fv.MarketStructureTrend,
		"candles": len(candles),
	})
	return fv, true
}

// Cached returns the last computed vector for a symbol, if any.
func (e *Engine) Cached(symbol string) (*domain.FeatureVector, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fv, ok := e.cache[symbol]
	return fv, ok
}

// ATR computes the Average True Range over the symbol's window using Wilder's
// smoothing. Returns 0 when fewer than period+1 candles are buffered.
func (e *Engine) ATR(symbol string, period int) float64 {
	e.mu.RLock()
	candles := e.candles[symbol]
	e.mu.RUnlock()

	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	trueRanges := make([]float64, len(candles))
	trueRanges[0] = candles[0].High - candles[0].Low
	for i := 1; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		tr := candles[i].High - candles[i].Low
		tr = math.Max(tr, math.Abs(candles[i].High-prevClose))
		tr = math.Max(tr, math.Abs(candles[i].Low-prevClose))
		trueRanges[i] = tr
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)
	for i := period; i < len(trueRanges); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}
	return atr
}

// --- signal computations (pure, window snapshot only) ---

// marketStructureTrend compares each close to the extreme of the prior 10
// closes over the most recent 50 and returns a signed ratio in [-1, 1].
func marketStructureTrend(candles []domain.Candle) float64 {
	if len(candles) < 10 {
		return 0
	}
	closes := lastN(candles, 50)

	higherHighs := 0
	lowerLows := 0
	for i := 10; i < len(closes); i++ {
		prevMax := math.Inf(-1)
		prevMin := math.Inf(1)
		for _, c := range closes[i-10 : i] {
			prevMax = math.Max(prevMax, c.Close)
			prevMin = math.Min(prevMin, c.Close)
		}
		if closes[i].Close > prevMax {
			higherHighs++
		}
		if closes[i].Close < prevMin {
			lowerLows++
		}
	}

	n := float64(len(closes))
	if higherHighs > lowerLows {
		return math.Min(float64(higherHighs)/n*2, 1.0)
	}
	return math.Max(-float64(lowerLows)/n*2, -1.0)
}

// countOrderBlocks counts candles whose body dominates its range on volume
// exceeding 1.5x the mean of the preceding 10 candles.
func (e *Engine) countOrderBlocks(candles []domain.Candle) int {
	if len(candles) < e.cfg.OrderBlocksWindow {
		return 0
	}
	recent := lastN(candles, e.cfg.OrderBlocksWindow)

	blocks := 0
	for i := 3; i < len(recent); i++ {
		rng := recent[i].Range()
		if rng <= 0 || recent[i].Body()/rng <= 0.7 {
			continue
		}
		from := i - 10
		if from < 0 {
			from = 0
		}
		avg := meanVolume(recent[from:i])
		if avg > 0 && recent[i].Volume/avg > 1.5 {
			blocks++
		}
	}
	return blocks
}

// detectInstitutionalCandle flags a latest candle with a dominant body and
// volume above twice the mean of the prior 19.
func detectInstitutionalCandle(candles []domain.Candle) bool {
	if len(candles) < 5 {
		return false
	}
	latest := candles[len(candles)-1]
	prior := lastN(candles[:len(candles)-1], 19)
	avg := meanVolume(prior)

	rng := latest.Range()
	largeBody := rng > 0 && latest.Body()/rng > 0.8
	highVolume := latest.Volume > avg*2
	return largeBody && highVolume
}

// detectLiquidityGrab flags a sweep of the prior-9-candle extreme that closes
// back inside it.
func detectLiquidityGrab(candles []domain.Candle) bool {
	if len(candles) < 10 {
		return false
	}
	recent := lastN(candles, 10)
	latest := recent[len(recent)-1]

	prevHigh := math.Inf(-1)
	prevLow := math.Inf(1)
	for _, c := range recent[:len(recent)-1] {
		prevHigh = math.Max(prevHigh, c.High)
		prevLow = math.Min(prevLow, c.Low)
	}

	grabbedHigh := latest.High > prevHigh && latest.Close < prevHigh
	grabbedLow := latest.Low < prevLow && latest.Close > prevLow
	return grabbedHigh || grabbedLow
}

// orderFlowValue computes taker-buy minus taker-sell volume over the most
// recent 1000 ticks, normalized by total. Requires at least 100 ticks.
func orderFlowValue(ticks []domain.TradeTick) float64 {
	if len(ticks) < 100 {
		return 0
	}
	recent := ticks
	if len(recent) > 1000 {
		recent = recent[len(recent)-1000:]
	}

	var buyVolume, sellVolume float64
	for _, t := range recent {
		if t.IsBuyerMaker {
			sellVolume += t.Quantity
		} else {
			buyVolume += t.Quantity
		}
	}
	total := buyVolume + sellVolume
	if total == 0 {
		return 0
	}
	return (buyVolume - sellVolume) / total
}

// countFairValueGaps counts 2-candle gaps in either direction.
func (e *Engine) countFairValueGaps(candles []domain.Candle) int {
	if len(candles) < e.cfg.FVGWindow {
		return 0
	}
	recent := lastN(candles, e.cfg.FVGWindow)

	count := 0
	for i := 2; i < len(recent); i++ {
		gapUp := recent[i].Low > recent[i-2].High
		gapDown := recent[i].High < recent[i-2].Low
		if gapUp || gapDown {
			count++
		}
	}
	return count
}

// trendAlignment compares the 10/25/50 close moving averages. Averages are
// taken over whatever part of the window is available once the 30-candle
// minimum is met.
func trendAlignment(candles []domain.Candle) float64 {
	if len(candles) < minCandles {
		return 0
	}
	short := meanClose(lastN(candles, 10))
	medium := meanClose(lastN(candles, 25))
	long := meanClose(lastN(candles, 50))

	switch {
	case short > medium && medium > long:
		return 1.0
	case short < medium && medium < long:
		return -1.0
	default:
		return 0
	}
}

// swingHighDistance measures the relative distance of the latest close from
// the 20-candle high.
func swingHighDistance(candles []domain.Candle) float64 {
	if len(candles) < 20 {
		return 0
	}
	recent := lastN(candles, 20)
	current := recent[len(recent)-1].Close

	swing := math.Inf(-1)
	for _, c := range recent {
		swing = math.Max(swing, c.High)
	}
	if swing == 0 {
		return 0
	}
	return math.Abs(current-swing) / swing
}

// structureIntegrity is the fraction of recent candles that did not break the
// trailing-10 extreme against the detected trend, as 1 - breaks/10.
func structureIntegrity(candles []domain.Candle) float64 {
	if len(candles) < 30 {
		return 0
	}
	trend := marketStructureTrend(candles)
	recent := lastN(candles, 30)

	breaks := 0
	for i := 10; i < len(recent); i++ {
		if trend > 0 {
			trailingLow := math.Inf(1)
			for _, c := range recent[i-10 : i] {
				trailingLow = math.Min(trailingLow, c.Low)
			}
			if recent[i].Low < trailingLow {
				breaks++
			}
		} else {
			trailingHigh := math.Inf(-1)
			for _, c := range recent[i-10 : i] {
				trailingHigh = math.Max(trailingHigh, c.High)
			}
			if recent[i].High > trailingHigh {
				breaks++
			}
		}
	}
	return math.Max(0.0, 1.0-float64(breaks)/10)
}

// institutionalParticipation is the fraction of the last 20 candles with
// volume above 1.5x the 20-candle mean.
func institutionalParticipation(candles []domain.Candle) float64 {
	if len(candles) < 20 {
		return 0
	}
	recent := lastN(candles, 20)
	avg := meanVolume(recent)

	high := 0
	for _, c := range recent {
		if c.Volume > avg*1.5 {
			high++
		}
	}
	return float64(high) / float64(len(recent))
}

// timeframeConvergence recomputes the trend over 15/30/60 sub-windows and
// reports agreement.
func timeframeConvergence(candles []domain.Candle) float64 {
	if len(candles) < 60 {
		return 0
	}
	t1 := marketStructureTrend(lastN(candles, 15))
	t2 := marketStructureTrend(lastN(candles, 30))
	t3 := marketStructureTrend(lastN(candles, 60))

	if t1 > 0 && t2 > 0 && t3 > 0 {
		return 1.0
	}
	if t1 < 0 && t2 < 0 && t3 < 0 {
		return -1.0
	}
	return 0
}

// liquidityContext is the latest candle's range against the 30-candle mean range.
func liquidityContext(candles []domain.Candle) float64 {
	if len(candles) < 30 {
		return 0
	}
	recent := lastN(candles, 30)

	var total float64
	for _, c := range recent {
		total += c.Range()
	}
	avgRange := total / float64(len(recent))
	if avgRange == 0 {
		return 0
	}
	return recent[len(recent)-1].Range() / avgRange
}

// --- helpers ---

func lastN(candles []domain.Candle, n int) []domain.Candle {
	if len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}

func meanClose(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var total float64
	for _, c := range candles {
		total += c.Close
	}
	return total / float64(len(candles))
}

func meanVolume(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var total float64
	for _, c := range candles {
		total += c.Volume
	}
	return total / float64(len(candles))
}
