package app

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"selfLearningBot/internal/breaker"
	"selfLearningBot/internal/coldstart"
	"selfLearningBot/internal/domain"
	"selfLearningBot/internal/features"
	"selfLearningBot/internal/observ"
	"selfLearningBot/internal/ports"
	"selfLearningBot/internal/risk"
	"selfLearningBot/internal/scoring"
	"selfLearningBot/internal/stream"
	"selfLearningBot/internal/web"
)

const (
	quoteAsset = "USDT"
	atrPeriod  = 14

	// retrainWindowSlack keeps retraining from firing on every cycle once the
	// closed-trade count drifts past a training interval boundary.
	retrainWindowSlack = 10
)

// priceObserver is implemented by the paper exchange; live clients don't need it.
type priceObserver interface {
	ObservePrice(symbol string, price float64)
}

// tradeSettler is implemented by the paper exchange to apply realized P&L.
type tradeSettler interface {
	SettleTrade(pnl float64)
}

// Config holds the dependencies and tunables of the trading controller.
type Config struct {
	Symbols                []string
	MaxConcurrentPositions int
	TakeProfitPct          float64
	TradingCycleInterval   time.Duration
	MonitorCycleInterval   time.Duration
	RetrainCycleInterval   time.Duration
	MinTrainingSamples     int
	TrainingInterval       int // retrain window size in trades
	TrainingHistory        int // how many recent closed trades to pull for training

	Exchange  ports.ExchangeClient
	Repo      ports.TradeRepository
	Predictor ports.Predictor
	Features  *features.Engine
	Policy    *coldstart.Policy
	Gate      *risk.Gate
	Scorer    *scoring.Engine
	Stream    *stream.Ingestor // optional; nil disables ingestion wiring
	Web       *web.Server      // optional; nil disables status broadcasts
	Breaker   *breaker.Breaker // optional; guards exchange gateway calls
	Logger    ports.Logger
}

// signal is the per-symbol decision output of one trading cycle.
type signal struct {
	side        domain.OrderSide
	confidence  float64
	quality     float64
	features    *domain.FeatureVector
	exploration bool
	shouldTrade bool
}

// Controller runs the decision, position-monitor and retrain cycles and owns
// the table of open positions. All position mutations happen on the monitor
// and decision goroutines under the controller's lock.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	open    map[string]*domain.Position // keyed by symbol, one position per symbol
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// injectable for tests
	randFloat func() float64
	randIntn  func(n int) int
	now       func() time.Time
}

// NewController validates dependencies and creates a stopped controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for controller")
	}
	if cfg.Exchange == nil || cfg.Repo == nil || cfg.Predictor == nil {
		return nil, fmt.Errorf("exchange, repository and predictor are required")
	}
	if cfg.Features == nil || cfg.Policy == nil || cfg.Gate == nil || cfg.Scorer == nil {
		return nil, fmt.Errorf("feature engine, phase policy, risk gate and scorer are required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	if cfg.MaxConcurrentPositions <= 0 {
		return nil, fmt.Errorf("max concurrent positions must be positive")
	}
	if cfg.TakeProfitPct <= 0 || cfg.TakeProfitPct >= 1 {
		return nil, fmt.Errorf("take profit pct must be between 0 and 1")
	}
	if cfg.TradingCycleInterval <= 0 || cfg.MonitorCycleInterval <= 0 || cfg.RetrainCycleInterval <= 0 {
		return nil, fmt.Errorf("cycle intervals must be positive")
	}
	if cfg.MinTrainingSamples <= 0 || cfg.TrainingInterval <= 0 || cfg.TrainingHistory <= 0 {
		return nil, fmt.Errorf("training parameters must be positive")
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Controller{
		cfg:       cfg,
		open:      make(map[string]*domain.Position),
		randFloat: rnd.Float64,
		randIntn:  rnd.Intn,
		now:       time.Now,
	}, nil
}

// Start wires the market data handlers and launches the cycle goroutines.
// It returns immediately; Stop shuts the controller down.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("controller already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	c.cfg.Logger.Info(ctx, "Starting trading controller", map[string]interface{}{
		"symbols":      c.cfg.Symbols,
		"maxPositions": c.cfg.MaxConcurrentPositions,
	})

	if c.cfg.Stream != nil {
		for _, symbol := range c.cfg.Symbols {
			c.cfg.Stream.RegisterHandler(symbol, c.handleMarketData)
		}
		c.cfg.Stream.Connect(runCtx)
	}

	c.wg.Add(3)
	go c.loop(runCtx, c.cfg.TradingCycleInterval, c.decisionCycle)
	go c.loop(runCtx, c.cfg.MonitorCycleInterval, c.monitorCycle)
	go c.loop(runCtx, c.cfg.RetrainCycleInterval, c.retrainCycle)
	return nil
}

// Stop cancels the cycles, waits for them to drain and closes any remaining
// open positions at market.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	c.cfg.Logger.Info(ctx, "Stopping trading controller")
	cancel()
	c.wg.Wait()

	if c.cfg.Stream != nil {
		c.cfg.Stream.Close()
	}

	for _, pos := range c.snapshotOpen() {
		price, err := c.fetchPrice(ctx, pos.Symbol)
		if err != nil {
			c.cfg.Logger.Error(ctx, err, "Failed to fetch price during shutdown close", map[string]interface{}{
				"symbol": pos.Symbol,
			})
			continue
		}
		c.closePosition(ctx, pos, price, domain.CloseReasonShutdown)
	}
	c.cfg.Logger.Info(ctx, "Trading controller stopped")
}

// loop runs fn once immediately and then on every tick until ctx is done.
func (c *Controller) loop(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// exchangeCall routes an exchange gateway operation through the breaker when
// one is configured, so repeated gateway failures trip OPEN and fail fast.
func (c *Controller) exchangeCall(ctx context.Context, op func(ctx context.Context) error) error {
	if c.cfg.Breaker == nil {
		return op(ctx)
	}
	return c.cfg.Breaker.Execute(ctx, op)
}

func (c *Controller) fetchPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := c.exchangeCall(ctx, func(ctx context.Context) error {
		var err error
		price, err = c.cfg.Exchange.GetPrice(ctx, symbol)
		return err
	})
	return price, err
}

func (c *Controller) placeOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*ports.OrderResponse, error) {
	var order *ports.OrderResponse
	err := c.exchangeCall(ctx, func(ctx context.Context) error {
		var err error
		order, err = c.cfg.Exchange.CreateOrder(ctx, symbol, side, quantity, domain.OrderTypeMarket, 0)
		return err
	})
	return order, err
}

// handleMarketData feeds decoded stream events into the feature windows.
func (c *Controller) handleMarketData(ctx context.Context, event stream.Event) {
	switch {
	case event.Candle != nil:
		c.cfg.Features.ObserveCandle(event.Symbol, *event.Candle)
		if obs, ok := c.cfg.Exchange.(priceObserver); ok {
			obs.ObservePrice(event.Symbol, event.Candle.Close)
		}
	case event.Trade != nil:
		c.cfg.Features.ObserveTrade(event.Symbol, *event.Trade)
		if obs, ok := c.cfg.Exchange.(priceObserver); ok {
			obs.ObservePrice(event.Symbol, event.Trade.Price)
		}
	}
}

// decisionCycle advances the phase from cumulative trade count, then evaluates
// every symbol without an open position and executes approved signals.
func (c *Controller) decisionCycle(ctx context.Context) {
	stats, err := c.cfg.Repo.Statistics(ctx)
	if err != nil {
		c.cfg.Logger.Error(ctx, err, "Failed to load trade statistics")
		return
	}
	c.cfg.Policy.Update(stats.TotalTrades)
	observ.SetPhase(string(c.cfg.Policy.Phase()))

	for _, symbol := range c.cfg.Symbols {
		c.mu.Lock()
		_, held := c.open[symbol]
		full := len(c.open) >= c.cfg.MaxConcurrentPositions
		c.mu.Unlock()
		if held || full {
			continue
		}

		sig, ok := c.generateSignal(ctx, symbol)
		if !ok {
			continue
		}
		if !sig.shouldTrade {
			observ.IncDecision(symbol, "skip")
			c.cfg.Logger.Debug(ctx, "Signal below thresholds", map[string]interface{}{
				"symbol":     symbol,
				"confidence": sig.confidence,
				"quality":    sig.quality,
			})
			continue
		}
		observ.IncDecision(symbol, "trade")
		c.executeTrade(ctx, symbol, sig)
	}
}

// generateSignal computes the feature vector, queries the model, applies the
// phase's exploration override and derives signal quality. ok is false when
// the symbol has too little data to decide on.
func (c *Controller) generateSignal(ctx context.Context, symbol string) (signal, bool) {
	fv, ok := c.cfg.Features.Compute(symbol)
	if !ok {
		return signal{}, false
	}

	pred, err := c.cfg.Predictor.Predict(ctx, fv)
	if err != nil {
		c.cfg.Logger.Error(ctx, err, "Prediction failed, using neutral", map[string]interface{}{"symbol": symbol})
		pred = ports.NeutralPrediction()
	}

	th := c.cfg.Policy.GetThresholds()

	exploration := c.randFloat() < th.ExplorationProb
	if exploration {
		pred.Label = c.randIntn(2)
		pred.Confidence = 0.4 + c.randFloat()*0.3
	}

	quality := 0.3*math.Abs(fv.MarketStructureTrend) +
		0.3*fv.StructureIntegrity +
		0.2*fv.TrendAlignment +
		0.2*pred.Confidence

	side := domain.Sell
	if pred.Label == 1 {
		side = domain.Buy
	}

	return signal{
		side:        side,
		confidence:  pred.Confidence,
		quality:     quality,
		features:    fv,
		exploration: exploration,
		shouldTrade: pred.Confidence >= th.MinConfidence && quality >= th.SignalQuality,
	}, true
}

// executeTrade sizes, risk-checks and places a market order for the signal,
// then records the resulting position.
func (c *Controller) executeTrade(ctx context.Context, symbol string, sig signal) {
	var balance float64
	err := c.exchangeCall(ctx, func(ctx context.Context) error {
		var err error
		balance, err = c.cfg.Exchange.GetBalance(ctx, quoteAsset)
		return err
	})
	if err != nil {
		c.cfg.Logger.Error(ctx, err, "Failed to fetch balance", map[string]interface{}{"symbol": symbol})
		return
	}
	price, err := c.fetchPrice(ctx, symbol)
	if err != nil {
		c.cfg.Logger.Error(ctx, err, "Failed to fetch price", map[string]interface{}{"symbol": symbol})
		return
	}
	if price <= 0 {
		return
	}

	maxLeverage := c.cfg.Policy.GetMaxLeverage()
	leverage := math.Min(sig.confidence*maxLeverage, maxLeverage)
	if leverage < 1 {
		leverage = 1
	}

	atr := c.cfg.Features.ATR(symbol, atrPeriod)
	stopLoss := c.cfg.Gate.StopLossPrice(price, sig.side, atr)
	size := c.cfg.Gate.SizePosition(balance, price, stopLoss, leverage)

	c.mu.Lock()
	openCount := len(c.open)
	c.mu.Unlock()

	check := c.cfg.Gate.Check(size, leverage, balance, openCount)
	if !check.Approved {
		observ.IncRejection(check.Reason)
		c.cfg.Logger.Info(ctx, "Trade rejected by risk gate", map[string]interface{}{
			"symbol": symbol,
			"reason": check.Reason,
		})
		return
	}

	quantity := size / price
	order, err := c.placeOrder(ctx, symbol, sig.side, quantity)
	if err != nil {
		c.cfg.Logger.Error(ctx, err, "Order placement failed", map[string]interface{}{
			"symbol": symbol,
			"side":   string(sig.side),
		})
		return
	}

	entry := price
	if order.AvgPrice > 0 {
		entry = order.AvgPrice
	}
	takeProfit := entry * (1 + c.cfg.TakeProfitPct)
	if sig.side == domain.Sell {
		takeProfit = entry * (1 - c.cfg.TakeProfitPct)
	}

	pos := &domain.Position{
		Symbol:        symbol,
		Side:          sig.side,
		EntryPrice:    entry,
		Quantity:      quantity,
		Leverage:      leverage,
		StopLoss:      stopLoss,
		TakeProfit:    takeProfit,
		EntryTime:     c.now().UTC(),
		Status:        domain.PositionOpen,
		Confidence:    sig.confidence,
		SignalQuality: sig.quality,
		Features:      sig.features,
		Phase:         c.cfg.Policy.Phase(),
		ModelVersion:  c.cfg.Predictor.Version(),
	}
	if _, err := c.cfg.Repo.SaveTrade(ctx, pos); err != nil {
		// The order is already on the exchange, so keep tracking the position
		// even though persistence failed.
		c.cfg.Logger.Error(ctx, err, "Failed to persist new position", map[string]interface{}{"symbol": symbol})
	}

	c.mu.Lock()
	c.open[symbol] = pos
	openCount = len(c.open)
	c.mu.Unlock()

	mode := "live"
	if order.Paper {
		mode = "paper"
	}
	observ.IncOrder(mode, string(sig.side))
	observ.SetOpenPositions(openCount)
	observ.SetEquity(balance)

	c.cfg.Logger.Info(ctx, "Position opened", map[string]interface{}{
		"symbol":      symbol,
		"side":        string(sig.side),
		"entryPrice":  entry,
		"quantity":    quantity,
		"leverage":    leverage,
		"stopLoss":    stopLoss,
		"takeProfit":  takeProfit,
		"confidence":  sig.confidence,
		"quality":     sig.quality,
		"exploration": sig.exploration,
		"phase":       string(pos.Phase),
	})
	c.broadcastStatus(ctx)
}

// monitorCycle checks every open position against its exit levels.
func (c *Controller) monitorCycle(ctx context.Context) {
	for _, pos := range c.snapshotOpen() {
		price, err := c.fetchPrice(ctx, pos.Symbol)
		if err != nil {
			c.cfg.Logger.Error(ctx, err, "Failed to fetch price for open position", map[string]interface{}{
				"symbol": pos.Symbol,
			})
			continue
		}

		var reason domain.CloseReason
		if pos.Side == domain.Buy {
			switch {
			case price >= pos.TakeProfit:
				reason = domain.CloseReasonTakeProfit
			case price <= pos.StopLoss:
				reason = domain.CloseReasonStopLoss
			}
		} else {
			switch {
			case price <= pos.TakeProfit:
				reason = domain.CloseReasonTakeProfit
			case price >= pos.StopLoss:
				reason = domain.CloseReasonStopLoss
			}
		}
		if reason == "" {
			continue
		}
		c.closePosition(ctx, pos, price, reason)
	}
}

// closePosition flattens the position at market, realizes P&L and feeds the
// outcome back into the risk gate.
func (c *Controller) closePosition(ctx context.Context, pos *domain.Position, price float64, reason domain.CloseReason) {
	order, err := c.placeOrder(ctx, pos.Symbol, pos.Side.Opposite(), pos.Quantity)
	if err != nil {
		// Leave the position in the table; the next monitor cycle retries.
		c.cfg.Logger.Error(ctx, err, "Failed to place closing order", map[string]interface{}{
			"symbol": pos.Symbol,
			"reason": string(reason),
		})
		return
	}

	exit := price
	if order.AvgPrice > 0 {
		exit = order.AvgPrice
	}

	diff := exit - pos.EntryPrice
	if pos.Side == domain.Sell {
		diff = pos.EntryPrice - exit
	}
	pos.ExitPrice = exit
	pos.ExitTime = c.now().UTC()
	pos.Status = domain.PositionClosed
	pos.Reason = reason
	pos.PNL = diff * pos.Quantity * pos.Leverage
	if pos.EntryPrice > 0 {
		pos.PNLPct = diff / pos.EntryPrice * pos.Leverage
	}

	if err := c.cfg.Repo.UpdateTrade(ctx, pos); err != nil {
		c.cfg.Logger.Error(ctx, err, "Failed to persist closed position", map[string]interface{}{
			"symbol":     pos.Symbol,
			"positionID": pos.ID,
		})
	}

	c.cfg.Gate.UpdateDailyPNL(pos.PNL)
	c.cfg.Gate.RecordResult(pos.IsWin())
	if settler, ok := c.cfg.Exchange.(tradeSettler); ok {
		settler.SettleTrade(pos.PNL)
	}

	c.mu.Lock()
	delete(c.open, pos.Symbol)
	openCount := len(c.open)
	c.mu.Unlock()

	observ.IncTrade(pos.IsWin())
	observ.IncExitReason(string(reason))
	observ.SetOpenPositions(openCount)
	observ.SetDailyPNL(c.cfg.Gate.GetState().DailyPNL)

	c.cfg.Logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol":    pos.Symbol,
		"side":      string(pos.Side),
		"exitPrice": exit,
		"pnl":       pos.PNL,
		"pnlPct":    pos.PNLPct,
		"reason":    string(reason),
	})
	c.broadcastStatus(ctx)
}

// retrainCycle retrains the model once enough closed trades have accumulated
// past the last training-interval boundary, then scores recent performance.
func (c *Controller) retrainCycle(ctx context.Context) {
	trades, err := c.cfg.Repo.FindRecent(ctx, c.cfg.TrainingHistory, domain.PositionClosed)
	if err != nil {
		c.cfg.Logger.Error(ctx, err, "Failed to load trades for retraining")
		return
	}
	if len(trades) < c.cfg.MinTrainingSamples {
		return
	}
	if len(trades)%c.cfg.TrainingInterval >= retrainWindowSlack {
		return
	}

	result, err := c.cfg.Predictor.Train(ctx, trades)
	if err != nil {
		c.cfg.Logger.Error(ctx, err, "Model retraining failed", map[string]interface{}{"samples": len(trades)})
		return
	}
	if result.Status == ports.TrainStatusSuccess {
		observ.IncRetrains()
		observ.SetModelValScore(result.ValScore)
		c.cfg.Logger.Info(ctx, "Model retrained", map[string]interface{}{
			"version":    result.Version,
			"trainScore": result.TrainScore,
			"valScore":   result.ValScore,
			"samples":    result.Samples,
		})
	}

	score := c.cfg.Scorer.ScorePerformance(trades)
	c.cfg.Logger.Info(ctx, "Performance scored", map[string]interface{}{
		"totalScore":  score.TotalScore,
		"rating":      score.Rating,
		"suggestions": score.Suggestions,
	})
}

// Status reports the controller's live state for the HTTP status endpoint.
func (c *Controller) Status(ctx context.Context) interface{} {
	c.mu.Lock()
	running := c.running
	openPositions := make([]map[string]interface{}, 0, len(c.open))
	for _, pos := range c.open {
		openPositions = append(openPositions, map[string]interface{}{
			"symbol":      pos.Symbol,
			"side":        string(pos.Side),
			"entry_price": pos.EntryPrice,
			"quantity":    pos.Quantity,
			"leverage":    pos.Leverage,
			"stop_loss":   pos.StopLoss,
			"take_profit": pos.TakeProfit,
			"entry_time":  pos.EntryTime,
		})
	}
	c.mu.Unlock()

	status := map[string]interface{}{
		"running":        running,
		"open_positions": openPositions,
		"phase": map[string]interface{}{
			"phase":        string(c.cfg.Policy.Phase()),
			"trade_count":  c.cfg.Policy.TradeCount(),
			"max_leverage": c.cfg.Policy.GetMaxLeverage(),
		},
		"risk": c.cfg.Gate.GetState(),
		"model": map[string]interface{}{
			"version": c.cfg.Predictor.Version(),
		},
	}
	if stats, err := c.cfg.Repo.Statistics(ctx); err == nil {
		status["statistics"] = map[string]interface{}{
			"total_trades":  stats.TotalTrades,
			"closed_trades": stats.ClosedTrades,
			"wins":          stats.Wins,
			"losses":        stats.Losses,
			"win_rate":      stats.WinRate,
			"total_pnl":     stats.TotalPNL,
			"avg_pnl":       stats.AvgPNL,
		}
	}
	return status
}

// OpenPositions returns a snapshot of currently open positions.
func (c *Controller) OpenPositions() []*domain.Position {
	return c.snapshotOpen()
}

func (c *Controller) snapshotOpen() []*domain.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.Position, 0, len(c.open))
	for _, pos := range c.open {
		out = append(out, pos)
	}
	return out
}

func (c *Controller) broadcastStatus(ctx context.Context) {
	if c.cfg.Web == nil {
		return
	}
	c.cfg.Web.Broadcast(c.Status(ctx))
}
