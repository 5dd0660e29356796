package domain

// FeatureVector is the fixed 12-signal set derived from a symbol's windows.
// Derived and cached per symbol; overwritten on each recomputation.
type FeatureVector struct {
	MarketStructureTrend       float64 // signed trend ratio in [-1, 1]
	OrderBlocksCount           int
	InstitutionalCandle        bool
	LiquidityGrab              bool
	OrderFlowValue             float64 // (buy - sell volume) / total over recent ticks
	FVGCount                   int     // fair-value gaps over the configured window
	TrendAlignment             float64 // +1 / -1 / 0 from 10/25/50 MA ordering
	SwingHighDistance          float64
	StructureIntegrity         float64 // 1.0 - breaks/10, floored at 0
	InstitutionalParticipation float64
	TimeframeConvergence       float64 // +1 / -1 / 0 from 15/30/60 sub-window trends
	LiquidityContext           float64 // latest range / mean range
}

// Values returns the vector as an ordered slice, matching FeatureNames.
// Boolean signals are encoded as 0/1.
func (f *FeatureVector) Values() []float64 {
	return []float64{
		f.MarketStructureTrend,
		float64(f.OrderBlocksCount),
		boolToFloat(f.InstitutionalCandle),
		boolToFloat(f.LiquidityGrab),
		f.OrderFlowValue,
		float64(f.FVGCount),
		f.TrendAlignment,
		f.SwingHighDistance,
		f.StructureIntegrity,
		f.InstitutionalParticipation,
		f.TimeframeConvergence,
		f.LiquidityContext,
	}
}

// FeatureNames lists the signal names in the order produced by Values.
func FeatureNames() []string {
	return []string{
		"market_structure_trend",
		"order_blocks_count",
		"institutional_candle",
		"liquidity_grab",
		"order_flow_value",
		"fvg_count",
		"trend_alignment",
		"swing_high_distance",
		"structure_integrity",
		"institutional_participation",
		"timeframe_convergence",
		"liquidity_context",
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
