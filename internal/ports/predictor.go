package ports

import (
	"context"

	"selfLearningBot/internal/domain"
)

// Prediction is the directional output of the learned model.
type Prediction struct {
	Label      int     // 1 = long bias, 0 = short bias
	Confidence float64 // in [0, 1]
}

// NeutralPrediction is the fallback used when the predictor fails.
func NeutralPrediction() Prediction {
	return Prediction{Label: 0, Confidence: 0.5}
}

// Training run outcomes.
const (
	TrainStatusSuccess          = "success"
	TrainStatusInsufficientData = "insufficient_data"
)

// TrainResult reports the outcome of a training run.
type TrainResult struct {
	Status     string
	Version    string
	TrainScore float64
	ValScore   float64
	Samples    int
}

// Predictor is the learned model surface the controller depends on.
// Training mechanics live behind this interface.
type Predictor interface {
	// Predict maps a feature vector to a directional label and confidence.
	Predict(ctx context.Context, features *domain.FeatureVector) (Prediction, error)
	// Train retrains the model from closed-trade history and returns a
	// versioned result.
	Train(ctx context.Context, trades []*domain.Position) (TrainResult, error)
	// Version returns the currently loaded model version.
	Version() string
}
