package scoring

import (
	"math"

	"selfLearningBot/internal/domain"
)

// Component weights for the overall performance score.
const (
	weightWinRate            = 0.35
	weightConfidenceAccuracy = 0.25
	weightProfitFactor       = 0.20
	weightConsistency        = 0.15
	weightRiskAdjustment     = 0.05
)

// Rating thresholds on the 0-100 total score.
const (
	thresholdExcellent = 90.0
	thresholdGood      = 75.0
	thresholdFair      = 60.0
	thresholdPoor      = 40.0
)

// Performance benchmarks the component scores are graded against.
const (
	minWinRate         = 0.50
	targetWinRate      = 0.65
	minProfitFactor    = 1.2
	targetProfitFactor = 2.0
)

// ComponentScores breaks the total down per dimension, each on a 0-100 scale.
type ComponentScores struct {
	WinRate            float64 `json:"win_rate"`
	ConfidenceAccuracy float64 `json:"confidence_accuracy"`
	ProfitFactor       float64 `json:"profit_factor"`
	Consistency        float64 `json:"consistency"`
	RiskAdjustment     float64 `json:"risk_adjustment"`
}

// Score is a weighted assessment of closed-trade performance.
type Score struct {
	TotalScore  float64         `json:"total_score"`
	Rating      string          `json:"rating"`
	Components  ComponentScores `json:"component_scores"`
	Suggestions []string        `json:"suggestions"`
	TradeCount  int             `json:"trade_count"`
}

// Engine grades trading performance on a 0-100 scale from win rate,
// confidence calibration, profit factor, return consistency and
// risk-adjusted return.
type Engine struct{}

// NewEngine creates a scoring engine.
func NewEngine() *Engine {
	return &Engine{}
}

// ScorePerformance computes the weighted score over the closed trades in the
// given set. Open trades are ignored; with no closed trades the rating is
// NO_DATA.
func (e *Engine) ScorePerformance(trades []*domain.Position) Score {
	var closed []*domain.Position
	for _, t := range trades {
		if t.Status == domain.PositionClosed {
			closed = append(closed, t)
		}
	}
	if len(closed) == 0 {
		return Score{
			Rating:      "NO_DATA",
			Suggestions: []string{"Insufficient trade data for scoring"},
		}
	}

	components := ComponentScores{
		WinRate:            scoreWinRate(closed),
		ConfidenceAccuracy: scoreConfidenceAccuracy(closed),
		ProfitFactor:       scoreProfitFactor(closed),
		Consistency:        scoreConsistency(closed),
		RiskAdjustment:     scoreRiskAdjustment(closed),
	}

	total := components.WinRate*weightWinRate +
		components.ConfidenceAccuracy*weightConfidenceAccuracy +
		components.ProfitFactor*weightProfitFactor +
		components.Consistency*weightConsistency +
		components.RiskAdjustment*weightRiskAdjustment

	return Score{
		TotalScore:  total,
		Rating:      rating(total),
		Components:  components,
		Suggestions: suggestions(components),
		TradeCount:  len(closed),
	}
}

func scoreWinRate(trades []*domain.Position) float64 {
	wins := 0
	for _, t := range trades {
		if t.PNL > 0 {
			wins++
		}
	}
	winRate := float64(wins) / float64(len(trades))

	switch {
	case winRate >= targetWinRate:
		return 100.0
	case winRate >= minWinRate:
		return 50 + (winRate-minWinRate)/(targetWinRate-minWinRate)*50
	default:
		return winRate / minWinRate * 50
	}
}

// scoreConfidenceAccuracy measures calibration: a confidence above 0.5 is
// read as a profit prediction and checked against the realized outcome.
func scoreConfidenceAccuracy(trades []*domain.Position) float64 {
	accurate, withConfidence := 0, 0
	for _, t := range trades {
		if t.Confidence == 0 {
			continue
		}
		withConfidence++
		if (t.PNL > 0) == (t.Confidence > 0.5) {
			accurate++
		}
	}
	if withConfidence == 0 {
		return 50.0
	}
	return float64(accurate) / float64(withConfidence) * 100
}

func scoreProfitFactor(trades []*domain.Position) float64 {
	var grossProfit, grossLoss float64
	for _, t := range trades {
		if t.PNL > 0 {
			grossProfit += t.PNL
		} else if t.PNL < 0 {
			grossLoss += -t.PNL
		}
	}
	if grossLoss == 0 {
		if grossProfit > 0 {
			return 100.0
		}
		return 0.0
	}

	pf := grossProfit / grossLoss
	switch {
	case pf >= targetProfitFactor:
		return 100.0
	case pf >= minProfitFactor:
		return 50 + (pf-minProfitFactor)/(targetProfitFactor-minProfitFactor)*50
	default:
		return pf / minProfitFactor * 50
	}
}

// scoreConsistency grades the coefficient of variation of per-trade P&L.
// Fewer than 10 trades is treated as neutral.
func scoreConsistency(trades []*domain.Position) float64 {
	if len(trades) < 10 {
		return 50.0
	}

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PNL
	}
	mean, std := meanStd(pnls)

	if std == 0 {
		if mean > 0 {
			return 100.0
		}
		return 0.0
	}
	if mean == 0 {
		return 0.0
	}

	cv := math.Abs(std / mean)
	switch {
	case cv < 0.5:
		return 100.0
	case cv < 1.5:
		return 100 - (cv-0.5)*50
	default:
		return math.Max(0, 50-(cv-1.5)/2.0*50)
	}
}

// scoreRiskAdjustment grades a Sharpe-like ratio of the leveraged percentage
// returns. Fewer than 5 trades with a recorded return is treated as neutral.
func scoreRiskAdjustment(trades []*domain.Position) float64 {
	var returns []float64
	for _, t := range trades {
		if t.PNLPct != 0 {
			returns = append(returns, t.PNLPct)
		}
	}
	if len(returns) < 5 {
		return 50.0
	}

	mean, std := meanStd(returns)
	if std == 0 {
		if mean > 0 {
			return 100.0
		}
		return 0.0
	}

	sharpe := mean / std
	switch {
	case sharpe > 2.0:
		return 100.0
	case sharpe > 1.0:
		return 50 + (sharpe-1.0)*50
	case sharpe > 0:
		return sharpe * 50
	default:
		return 0.0
	}
}

func rating(score float64) string {
	switch {
	case score >= thresholdExcellent:
		return "EXCELLENT"
	case score >= thresholdGood:
		return "GOOD"
	case score >= thresholdFair:
		return "FAIR"
	case score >= thresholdPoor:
		return "POOR"
	default:
		return "VERY_POOR"
	}
}

func suggestions(c ComponentScores) []string {
	var out []string
	if c.WinRate < 60 {
		out = append(out, "Improve signal quality - current win rate below target")
	}
	if c.ConfidenceAccuracy < 60 {
		out = append(out, "Model predictions not aligned with outcomes - retrain model")
	}
	if c.ProfitFactor < 60 {
		out = append(out, "Profit factor below target - review risk/reward ratios")
	}
	if c.Consistency < 60 {
		out = append(out, "High variance in returns - standardize position sizing")
	}
	if c.RiskAdjustment < 60 {
		out = append(out, "Risk-adjusted returns suboptimal - tighten stop losses")
	}
	return out
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}
