package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selfLearningBot/internal/breaker"
	"selfLearningBot/internal/coldstart"
	"selfLearningBot/internal/domain"
	"selfLearningBot/internal/features"
	"selfLearningBot/internal/ports"
	"selfLearningBot/internal/risk"
	"selfLearningBot/internal/scoring"
	"selfLearningBot/internal/stream"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type orderCall struct {
	symbol    string
	side      domain.OrderSide
	quantity  float64
	orderType domain.OrderType
}

type mockExchange struct {
	balance    float64
	prices     map[string]float64
	fillPrice  float64 // AvgPrice reported on fills when > 0
	priceCalls int
	orderErr   error
	orders     []orderCall
	observed   map[string]float64
	settled    []float64
}

func newMockExchange(balance float64) *mockExchange {
	return &mockExchange{
		balance:  balance,
		prices:   make(map[string]float64),
		observed: make(map[string]float64),
	}
}

func (m *mockExchange) GetBalance(ctx context.Context, asset string) (float64, error) {
	return m.balance, nil
}

func (m *mockExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	m.priceCalls++
	price, ok := m.prices[symbol]
	if !ok {
		return 0, ports.ErrNotFound
	}
	return price, nil
}

func (m *mockExchange) CreateOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64, orderType domain.OrderType, price float64) (*ports.OrderResponse, error) {
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	m.orders = append(m.orders, orderCall{symbol: symbol, side: side, quantity: quantity, orderType: orderType})
	avg := m.fillPrice
	if avg == 0 {
		avg = m.prices[symbol]
	}
	return &ports.OrderResponse{
		OrderID:   int64(len(m.orders)),
		Symbol:    symbol,
		Side:      side,
		Type:      orderType,
		AvgPrice:  avg,
		Quantity:  quantity,
		Status:    "FILLED",
		Timestamp: time.Now(),
		Paper:     true,
	}, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return nil
}

func (m *mockExchange) Ping(ctx context.Context) error { return nil }

func (m *mockExchange) ObservePrice(symbol string, price float64) { m.observed[symbol] = price }

func (m *mockExchange) SettleTrade(pnl float64) { m.settled = append(m.settled, pnl) }

type mockRepo struct {
	nextID   int64
	saved    []*domain.Position
	updated  []*domain.Position
	recent   []*domain.Position
	stats    ports.TradeStatistics
	statsErr error
}

func (m *mockRepo) SaveTrade(ctx context.Context, pos *domain.Position) (int64, error) {
	m.nextID++
	pos.ID = m.nextID
	m.saved = append(m.saved, pos)
	return pos.ID, nil
}

func (m *mockRepo) UpdateTrade(ctx context.Context, pos *domain.Position) error {
	m.updated = append(m.updated, pos)
	return nil
}

func (m *mockRepo) FindRecent(ctx context.Context, limit int, status domain.PositionStatus) ([]*domain.Position, error) {
	return m.recent, nil
}

func (m *mockRepo) Statistics(ctx context.Context) (*ports.TradeStatistics, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	stats := m.stats
	return &stats, nil
}

type mockPredictor struct {
	pred        ports.Prediction
	predictErr  error
	trainResult ports.TrainResult
	trainErr    error
	trainCalls  int
	version     string
}

func (m *mockPredictor) Predict(ctx context.Context, features *domain.FeatureVector) (ports.Prediction, error) {
	if m.predictErr != nil {
		return ports.Prediction{}, m.predictErr
	}
	return m.pred, nil
}

func (m *mockPredictor) Train(ctx context.Context, trades []*domain.Position) (ports.TrainResult, error) {
	m.trainCalls++
	if m.trainErr != nil {
		return ports.TrainResult{}, m.trainErr
	}
	return m.trainResult, nil
}

func (m *mockPredictor) Version() string { return m.version }

func newTestController(t *testing.T, symbols ...string) (*Controller, *mockExchange, *mockRepo, *mockPredictor) {
	t.Helper()
	if len(symbols) == 0 {
		symbols = []string{"BTCUSDT"}
	}

	engine, err := features.NewEngine(features.Config{
		MarketStructureWindow: 100,
		OrderFlowWindow:       1000,
		OrderBlocksWindow:     20,
		FVGWindow:             20,
		Logger:                nopLogger{},
	})
	require.NoError(t, err)

	policy, err := coldstart.New(coldstart.Config{
		ExplorationPhaseTrades:  100,
		ExploitationPhaseTrades: 500,
		BootstrapMinWinRate:     0.35,
		BootstrapMinConfidence:  0.40,
		BootstrapSignalQuality:  0.30,
		MatureMinWinRate:        0.55,
		MatureMinConfidence:     0.65,
		MatureSignalQuality:     0.60,
		ExplorationProbability:  0.30,
		BootstrapMaxLeverage:    3,
		MaxLeverage:             125,
		Logger:                  nopLogger{},
	})
	require.NoError(t, err)

	gate, err := risk.NewGate(risk.Config{
		MaxLeverage:            125,
		DailyLossLimit:         0.05,
		SingleTradeRisk:        0.02,
		HardStopLoss:           0.10,
		MaxConcurrentPositions: 5,
		MinPositionSize:        10,
		MaxPositionSize:        1000,
		MaxConsecutiveLosses:   5,
		CooldownPeriod:         5 * time.Minute,
		Logger:                 nopLogger{},
	})
	require.NoError(t, err)

	// Large enough that the max-size clamp (1000) stays within the 2%
	// single-trade risk limit at bootstrap leverage.
	exchange := newMockExchange(1_000_000)
	repo := &mockRepo{}
	predictor := &mockPredictor{version: "v0.0.0_test"}

	ctrl, err := NewController(Config{
		Symbols:                symbols,
		MaxConcurrentPositions: 5,
		TakeProfitPct:          0.02,
		TradingCycleInterval:   time.Hour,
		MonitorCycleInterval:   time.Hour,
		RetrainCycleInterval:   time.Hour,
		MinTrainingSamples:     50,
		TrainingInterval:       100,
		TrainingHistory:        500,
		Exchange:               exchange,
		Repo:                   repo,
		Predictor:              predictor,
		Features:               engine,
		Policy:                 policy,
		Gate:                   gate,
		Scorer:                 scoring.NewEngine(),
		Logger:                 nopLogger{},
	})
	require.NoError(t, err)

	// Deterministic by default: never take the exploration branch.
	ctrl.randFloat = func() float64 { return 1.0 }
	ctrl.randIntn = func(n int) int { return 0 }

	return ctrl, exchange, repo, predictor
}

// seedUptrend feeds a clean rising window so the feature vector clears the
// bootstrap quality gate.
func seedUptrend(ctrl *Controller, exchange *mockExchange, symbol string, candles int) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var last float64
	for i := 0; i < candles; i++ {
		base := 100 + 0.5*float64(i)
		last = base + 0.5
		ctrl.cfg.Features.ObserveCandle(symbol, domain.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      base,
			High:      base + 0.7,
			Low:       base - 0.2,
			Close:     last,
			Volume:    10,
		})
	}
	exchange.prices[symbol] = last
}

// seedDowntrend mirrors seedUptrend with falling prices, so the trend and
// moving-average alignment both come out at -1.
func seedDowntrend(ctrl *Controller, exchange *mockExchange, symbol string, candles int) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var last float64
	for i := 0; i < candles; i++ {
		base := 160 - 0.5*float64(i)
		last = base - 0.5
		ctrl.cfg.Features.ObserveCandle(symbol, domain.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      base,
			High:      base + 0.2,
			Low:       base - 0.7,
			Close:     last,
			Volume:    10,
		})
	}
	exchange.prices[symbol] = last
}

func openFixture(symbol string, side domain.OrderSide) *domain.Position {
	stop, tp := 90.0, 102.0
	if side == domain.Sell {
		stop, tp = 110.0, 98.0
	}
	return &domain.Position{
		ID:         7,
		Symbol:     symbol,
		Side:       side,
		EntryPrice: 100,
		Quantity:   2,
		Leverage:   2,
		StopLoss:   stop,
		TakeProfit: tp,
		EntryTime:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Status:     domain.PositionOpen,
	}
}

func TestNewControllerValidation(t *testing.T) {
	_, err := NewController(Config{})
	assert.Error(t, err)

	ctrl, _, _, _ := newTestController(t)
	cfg := ctrl.cfg

	cfg.Symbols = nil
	_, err = NewController(cfg)
	assert.Error(t, err)

	cfg = ctrl.cfg
	cfg.TakeProfitPct = 1.5
	_, err = NewController(cfg)
	assert.Error(t, err)

	cfg = ctrl.cfg
	cfg.Exchange = nil
	_, err = NewController(cfg)
	assert.Error(t, err)
}

func TestDecisionCycleOpensPosition(t *testing.T) {
	ctrl, exchange, repo, predictor := newTestController(t)
	predictor.pred = ports.Prediction{Label: 1, Confidence: 0.9}
	seedUptrend(ctrl, exchange, "BTCUSDT", 60)

	ctrl.decisionCycle(context.Background())

	require.Len(t, exchange.orders, 1)
	assert.Equal(t, domain.Buy, exchange.orders[0].side)
	assert.Equal(t, domain.OrderTypeMarket, exchange.orders[0].orderType)

	require.Len(t, repo.saved, 1)
	pos := repo.saved[0]
	assert.Equal(t, int64(1), pos.ID)
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.Equal(t, domain.PhaseExploration, pos.Phase)
	assert.Equal(t, "v0.0.0_test", pos.ModelVersion)
	assert.InDelta(t, 0.9, pos.Confidence, 1e-9)
	assert.NotNil(t, pos.Features)

	assert.Greater(t, pos.EntryPrice, pos.StopLoss)
	assert.InDelta(t, pos.EntryPrice*1.02, pos.TakeProfit, 1e-9)
	assert.Len(t, ctrl.OpenPositions(), 1)

	// Leverage follows confidence, capped at the bootstrap maximum.
	assert.InDelta(t, 2.7, pos.Leverage, 1e-9)
}

func TestDecisionCycleSkipsHeldSymbol(t *testing.T) {
	ctrl, exchange, _, predictor := newTestController(t)
	predictor.pred = ports.Prediction{Label: 1, Confidence: 0.9}
	seedUptrend(ctrl, exchange, "BTCUSDT", 60)

	ctrl.decisionCycle(context.Background())
	require.Len(t, exchange.orders, 1)

	ctrl.decisionCycle(context.Background())
	assert.Len(t, exchange.orders, 1)
}

func TestDecisionCycleRespectsMaxPositions(t *testing.T) {
	ctrl, exchange, _, predictor := newTestController(t)
	ctrl.cfg.MaxConcurrentPositions = 1
	predictor.pred = ports.Prediction{Label: 1, Confidence: 0.9}
	seedUptrend(ctrl, exchange, "BTCUSDT", 60)

	ctrl.mu.Lock()
	ctrl.open["ETHUSDT"] = openFixture("ETHUSDT", domain.Buy)
	ctrl.mu.Unlock()

	ctrl.decisionCycle(context.Background())
	assert.Empty(t, exchange.orders)
}

func TestDecisionCycleBelowThresholds(t *testing.T) {
	ctrl, exchange, _, predictor := newTestController(t)
	predictor.pred = ports.Prediction{Label: 1, Confidence: 0.2}
	seedUptrend(ctrl, exchange, "BTCUSDT", 60)

	ctrl.decisionCycle(context.Background())
	assert.Empty(t, exchange.orders)
}

func TestExplorationOverride(t *testing.T) {
	ctrl, exchange, repo, predictor := newTestController(t)
	// The model alone would never trade here.
	predictor.pred = ports.Prediction{Label: 0, Confidence: 0}
	seedUptrend(ctrl, exchange, "BTCUSDT", 60)

	// First draw takes the exploration branch, second draws the confidence.
	calls := 0
	ctrl.randFloat = func() float64 {
		calls++
		if calls == 1 {
			return 0.0
		}
		return 0.5
	}
	ctrl.randIntn = func(n int) int { return 1 }

	ctrl.decisionCycle(context.Background())

	require.Len(t, exchange.orders, 1)
	assert.Equal(t, domain.Buy, exchange.orders[0].side)
	require.Len(t, repo.saved, 1)
	assert.InDelta(t, 0.55, repo.saved[0].Confidence, 1e-9)
}

func TestSignalQualityAlignmentIsSigned(t *testing.T) {
	ctrl, exchange, repo, predictor := newTestController(t)
	predictor.pred = ports.Prediction{Label: 0, Confidence: 0.9}
	seedDowntrend(ctrl, exchange, "BTCUSDT", 60)

	ctrl.decisionCycle(context.Background())

	require.Len(t, repo.saved, 1)
	pos := repo.saved[0]
	assert.Equal(t, domain.Sell, pos.Side)
	// 0.3*|trend| + 0.3*integrity + 0.2*alignment + 0.2*confidence with
	// trend -1, integrity 1 and alignment -1: the alignment term subtracts.
	assert.InDelta(t, 0.58, pos.SignalQuality, 1e-9)
}

func TestDecisionCycleRejectsOversizedPosition(t *testing.T) {
	ctrl, exchange, repo, predictor := newTestController(t)
	predictor.pred = ports.Prediction{Label: 1, Confidence: 0.9}
	seedUptrend(ctrl, exchange, "BTCUSDT", 60)

	// At this balance the clamped position size still exceeds the 2%
	// single-trade risk limit, so the gate turns the signal away.
	exchange.balance = 10000

	ctrl.decisionCycle(context.Background())

	assert.Empty(t, exchange.orders)
	assert.Empty(t, repo.saved)
	assert.Empty(t, ctrl.OpenPositions())
}

func TestExchangeBreakerTripsOnRepeatedOrderFailures(t *testing.T) {
	ctrl, exchange, repo, _ := newTestController(t)
	ctrl.cfg.Breaker = breaker.New(breaker.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Hour,
		Logger:           nopLogger{},
	})
	pos := openFixture("BTCUSDT", domain.Buy)
	ctrl.mu.Lock()
	ctrl.open["BTCUSDT"] = pos
	ctrl.mu.Unlock()
	exchange.orderErr = ports.ErrOrderPlacementFailed

	for i := 0; i < 3; i++ {
		ctrl.closePosition(context.Background(), pos, 103, domain.CloseReasonTakeProfit)
	}
	assert.Equal(t, breaker.StateOpen, ctrl.cfg.Breaker.State())
	assert.Empty(t, repo.updated)
	assert.Len(t, ctrl.OpenPositions(), 1)

	// While open, the monitor fails fast without reaching the exchange.
	exchange.prices["BTCUSDT"] = 103
	before := exchange.priceCalls
	ctrl.monitorCycle(context.Background())
	assert.Equal(t, before, exchange.priceCalls)
	assert.Len(t, ctrl.OpenPositions(), 1)
}

func TestDecisionCycleRiskRejection(t *testing.T) {
	ctrl, exchange, _, predictor := newTestController(t)
	predictor.pred = ports.Prediction{Label: 1, Confidence: 0.9}
	seedUptrend(ctrl, exchange, "BTCUSDT", 60)

	// Trip the consecutive-loss breaker before the cycle runs.
	for i := 0; i < 5; i++ {
		ctrl.cfg.Gate.RecordResult(false)
	}

	ctrl.decisionCycle(context.Background())
	assert.Empty(t, exchange.orders)
	assert.Empty(t, ctrl.OpenPositions())
}

func TestMonitorCycleTakeProfit(t *testing.T) {
	ctrl, exchange, repo, _ := newTestController(t)
	pos := openFixture("BTCUSDT", domain.Buy)
	ctrl.mu.Lock()
	ctrl.open["BTCUSDT"] = pos
	ctrl.mu.Unlock()

	exchange.prices["BTCUSDT"] = 102.5
	exchange.fillPrice = 102

	ctrl.monitorCycle(context.Background())

	require.Len(t, exchange.orders, 1)
	assert.Equal(t, domain.Sell, exchange.orders[0].side)
	assert.InDelta(t, 2.0, exchange.orders[0].quantity, 1e-9)

	require.Len(t, repo.updated, 1)
	closed := repo.updated[0]
	assert.Equal(t, domain.PositionClosed, closed.Status)
	assert.Equal(t, domain.CloseReasonTakeProfit, closed.Reason)
	assert.InDelta(t, 102.0, closed.ExitPrice, 1e-9)
	assert.InDelta(t, 8.0, closed.PNL, 1e-9)     // (102-100) * 2 qty * 2x
	assert.InDelta(t, 0.04, closed.PNLPct, 1e-9) // 2% move at 2x

	assert.Empty(t, ctrl.OpenPositions())
	assert.InDelta(t, 8.0, ctrl.cfg.Gate.GetState().DailyPNL, 1e-9)
	require.Len(t, exchange.settled, 1)
	assert.InDelta(t, 8.0, exchange.settled[0], 1e-9)
}

func TestMonitorCycleStopLossSell(t *testing.T) {
	ctrl, exchange, repo, _ := newTestController(t)
	pos := openFixture("BTCUSDT", domain.Sell)
	ctrl.mu.Lock()
	ctrl.open["BTCUSDT"] = pos
	ctrl.mu.Unlock()

	exchange.prices["BTCUSDT"] = 110.5
	exchange.fillPrice = 110

	ctrl.monitorCycle(context.Background())

	require.Len(t, exchange.orders, 1)
	assert.Equal(t, domain.Buy, exchange.orders[0].side)

	require.Len(t, repo.updated, 1)
	closed := repo.updated[0]
	assert.Equal(t, domain.CloseReasonStopLoss, closed.Reason)
	assert.InDelta(t, -40.0, closed.PNL, 1e-9) // (100-110) * 2 qty * 2x
	assert.InDelta(t, -0.20, closed.PNLPct, 1e-9)
	assert.Equal(t, 1, ctrl.cfg.Gate.GetState().ConsecutiveLosses)
}

func TestMonitorCycleNoTrigger(t *testing.T) {
	ctrl, exchange, repo, _ := newTestController(t)
	ctrl.mu.Lock()
	ctrl.open["BTCUSDT"] = openFixture("BTCUSDT", domain.Buy)
	ctrl.mu.Unlock()

	exchange.prices["BTCUSDT"] = 101 // between stop 90 and target 102

	ctrl.monitorCycle(context.Background())

	assert.Empty(t, exchange.orders)
	assert.Empty(t, repo.updated)
	assert.Len(t, ctrl.OpenPositions(), 1)
}

func TestMonitorCycleRetriesOnOrderFailure(t *testing.T) {
	ctrl, exchange, repo, _ := newTestController(t)
	ctrl.mu.Lock()
	ctrl.open["BTCUSDT"] = openFixture("BTCUSDT", domain.Buy)
	ctrl.mu.Unlock()

	exchange.prices["BTCUSDT"] = 103
	exchange.orderErr = ports.ErrOrderPlacementFailed

	ctrl.monitorCycle(context.Background())

	assert.Empty(t, repo.updated)
	assert.Len(t, ctrl.OpenPositions(), 1)

	// Next cycle succeeds once the exchange recovers.
	exchange.orderErr = nil
	ctrl.monitorCycle(context.Background())
	assert.Len(t, repo.updated, 1)
	assert.Empty(t, ctrl.OpenPositions())
}

func closedTrades(n int) []*domain.Position {
	out := make([]*domain.Position, n)
	for i := range out {
		pnl := 5.0
		if i%3 == 0 {
			pnl = -4.0
		}
		out[i] = &domain.Position{
			ID:         int64(i + 1),
			Symbol:     "BTCUSDT",
			Side:       domain.Buy,
			EntryPrice: 100,
			ExitPrice:  100 + pnl,
			Quantity:   1,
			Leverage:   1,
			Status:     domain.PositionClosed,
			PNL:        pnl,
			PNLPct:     pnl / 100,
			Confidence: 0.6,
		}
	}
	return out
}

func TestRetrainCycleTrainsAtIntervalBoundary(t *testing.T) {
	ctrl, _, repo, predictor := newTestController(t)
	repo.recent = closedTrades(100)
	predictor.trainResult = ports.TrainResult{
		Status:   ports.TrainStatusSuccess,
		Version:  "v1.1.0_20250601_120000",
		ValScore: 0.7,
		Samples:  100,
	}

	ctrl.retrainCycle(context.Background())
	assert.Equal(t, 1, predictor.trainCalls)
}

func TestRetrainCycleSkipsBelowMinimum(t *testing.T) {
	ctrl, _, repo, predictor := newTestController(t)
	repo.recent = closedTrades(30)

	ctrl.retrainCycle(context.Background())
	assert.Zero(t, predictor.trainCalls)
}

func TestRetrainCycleSkipsMidWindow(t *testing.T) {
	ctrl, _, repo, predictor := newTestController(t)
	repo.recent = closedTrades(150) // 50 past the boundary

	ctrl.retrainCycle(context.Background())
	assert.Zero(t, predictor.trainCalls)
}

func TestHandleMarketDataFeedsWindows(t *testing.T) {
	ctrl, exchange, _, _ := newTestController(t)

	candle := domain.Candle{Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 3}
	ctrl.handleMarketData(context.Background(), stream.Event{Symbol: "BTCUSDT", Candle: &candle})
	assert.Equal(t, 1, ctrl.cfg.Features.CandleCount("BTCUSDT"))
	assert.InDelta(t, 100.5, exchange.observed["BTCUSDT"], 1e-9)

	tick := domain.TradeTick{Price: 100.6, Quantity: 0.2}
	ctrl.handleMarketData(context.Background(), stream.Event{Symbol: "BTCUSDT", Trade: &tick})
	assert.InDelta(t, 100.6, exchange.observed["BTCUSDT"], 1e-9)
}

func TestStatusShape(t *testing.T) {
	ctrl, _, repo, _ := newTestController(t)
	repo.stats = ports.TradeStatistics{TotalTrades: 12, ClosedTrades: 10, Wins: 6, Losses: 4, WinRate: 0.6}
	ctrl.mu.Lock()
	ctrl.open["BTCUSDT"] = openFixture("BTCUSDT", domain.Buy)
	ctrl.mu.Unlock()

	status, ok := ctrl.Status(context.Background()).(map[string]interface{})
	require.True(t, ok)

	assert.Equal(t, false, status["running"])
	positions, ok := status["open_positions"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0]["symbol"])

	phase, ok := status["phase"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(domain.PhaseExploration), phase["phase"])

	stats, ok := status["statistics"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 12, stats["total_trades"])

	_, ok = status["risk"].(risk.State)
	assert.True(t, ok)
	model, ok := status["model"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "v0.0.0_test", model["version"])
}

func TestStartStopLifecycle(t *testing.T) {
	ctrl, exchange, repo, _ := newTestController(t)

	require.NoError(t, ctrl.Start(context.Background()))
	assert.Error(t, ctrl.Start(context.Background()))

	ctrl.mu.Lock()
	ctrl.open["BTCUSDT"] = openFixture("BTCUSDT", domain.Buy)
	ctrl.mu.Unlock()
	exchange.prices["BTCUSDT"] = 101

	ctrl.Stop(context.Background())

	// Shutdown flattens the remaining position.
	require.Len(t, repo.updated, 1)
	assert.Equal(t, domain.CloseReasonShutdown, repo.updated[0].Reason)
	assert.Empty(t, ctrl.OpenPositions())

	// Stop is idempotent.
	ctrl.Stop(context.Background())
}
