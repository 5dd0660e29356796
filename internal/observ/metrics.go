// Package observ holds the Prometheus metrics the controller updates during
// operation, served at /metrics in the text exposition format.
package observ

import "github.com/prometheus/client_golang/prometheus"

var (
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_decisions_total",
			Help: "Decision cycle outcomes per symbol",
		},
		[]string{"symbol", "action"}, // action: entered|skipped|rejected
	)

	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_risk_rejections_total",
			Help: "Trades rejected by the risk gate, split by reason",
		},
		[]string{"reason"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed",
		},
		[]string{"mode", "side"}, // mode: paper|live
	)

	trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Closed trades by result (win|loss)",
		},
		[]string{"result"},
	)

	exitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Position exits split by reason",
		},
		[]string{"reason"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Currently open positions",
		},
	)

	equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Account equity snapshot in quote currency",
		},
	)

	dailyPNL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_daily_pnl_usd",
			Help: "Realized P&L since the last daily reset",
		},
	)

	learningPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_learning_phase",
			Help: "Active learning phase as 0/1 labeled series",
		},
		[]string{"phase"},
	)

	retrains = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_model_retrains_total",
			Help: "Successful model retraining runs",
		},
	)

	modelValScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_model_validation_score",
			Help: "Validation accuracy of the last trained model",
		},
	)

	streamLatency = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_stream_latency_seconds",
			Help: "Last observed event-to-receipt delay per symbol",
		},
		[]string{"symbol"},
	)

	streamReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_stream_reconnects_total",
			Help: "Stream reconnect attempts per symbol",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(decisions, rejections, orders, trades, exitReasons)
	prometheus.MustRegister(openPositions, equity, dailyPNL)
	prometheus.MustRegister(learningPhase, retrains, modelValScore)
	prometheus.MustRegister(streamLatency, streamReconnects)
}

func IncDecision(symbol, action string) { decisions.WithLabelValues(symbol, action).Inc() }
func IncRejection(reason string)        { rejections.WithLabelValues(reason).Inc() }
func IncOrder(mode, side string)        { orders.WithLabelValues(mode, side).Inc() }
func IncExitReason(reason string)       { exitReasons.WithLabelValues(reason).Inc() }

func IncTrade(win bool) {
	if win {
		trades.WithLabelValues("win").Inc()
		return
	}
	trades.WithLabelValues("loss").Inc()
}

func SetOpenPositions(n int)     { openPositions.Set(float64(n)) }
func SetEquity(v float64)        { equity.Set(v) }
func SetDailyPNL(v float64)      { dailyPNL.Set(v) }
func IncRetrains()               { retrains.Inc() }
func SetModelValScore(v float64) { modelValScore.Set(v) }

// SetPhase exposes the active phase as three labeled series flipped between
// 0 and 1 to keep dashboards simple.
func SetPhase(phase string) {
	for _, p := range []string{"exploration", "exploitation", "mature"} {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		learningPhase.WithLabelValues(p).Set(v)
	}
}

func SetStreamLatency(symbol string, seconds float64) {
	streamLatency.WithLabelValues(symbol).Set(seconds)
}

func IncStreamReconnect(symbol string) {
	streamReconnects.WithLabelValues(symbol).Inc()
}
