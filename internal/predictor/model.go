package predictor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"selfLearningBot/internal/domain"
	"selfLearningBot/internal/ports"
)

const (
	featureCount = 12

	epochs       = 200
	learningRate = 0.1
	l2Penalty    = 0.001
)

// Config holds model training parameters.
type Config struct {
	MinTrainingSamples int
	ValidationSplit    float64 // fraction held out, e.g. 0.2
	Checkpoints        ports.CheckpointRepository
	Logger             ports.Logger
}

// Model is a logistic classifier over the 12-feature vector, trained on
// closed trades labelled by realized profit. Features are standardized with
// statistics captured at training time.
type Model struct {
	cfg Config

	mu      sync.RWMutex
	weights [featureCount]float64
	bias    float64
	means   [featureCount]float64
	stds    [featureCount]float64
	trained bool
	version string
	nowFunc func() time.Time
}

// NewModel creates a model and restores version metadata from the latest
// checkpoint, if any. Weights are relearned on the next training pass; only
// the version lineage survives a restart.
func NewModel(ctx context.Context, cfg Config) (*Model, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for predictor")
	}
	if cfg.MinTrainingSamples <= 0 {
		return nil, fmt.Errorf("minimum training samples must be positive")
	}
	if cfg.ValidationSplit <= 0 || cfg.ValidationSplit >= 1 {
		return nil, fmt.Errorf("validation split must be in (0, 1)")
	}

	m := &Model{cfg: cfg, nowFunc: time.Now}
	m.version = fmt.Sprintf("v0.0.0_%s", m.nowFunc().UTC().Format("20060102_150405"))

	if cfg.Checkpoints != nil {
		checkpoint, err := cfg.Checkpoints.LatestCheckpoint(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load latest model checkpoint: %w", err)
		}
		if checkpoint != nil {
			m.version = checkpoint.Version
			cfg.Logger.Info(ctx, "model checkpoint restored", map[string]interface{}{
				"version":        checkpoint.Version,
				"trainingTrades": checkpoint.TrainingTrades,
			})
		}
	}

	return m, nil
}

// Version returns the current model version string.
func (m *Model) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Predict classifies a feature vector. Label 1 predicts a profitable long
// setup, 0 the opposite; confidence is the probability of the chosen label.
// An untrained model answers neutrally.
func (m *Model) Predict(ctx context.Context, features *domain.FeatureVector) (ports.Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return ports.NeutralPrediction(), nil
	}

	p := m.probability(features.Values())
	if p > 0.5 {
		return ports.Prediction{Label: 1, Confidence: p}, nil
	}
	return ports.Prediction{Label: 0, Confidence: 1 - p}, nil
}

// Train fits the model on the closed trades in the given set. Trades without
// a stored feature vector are skipped; the label is whether the trade closed
// profitably. A successful fit bumps the version and persists a checkpoint.
func (m *Model) Train(ctx context.Context, trades []*domain.Position) (ports.TrainResult, error) {
	if len(trades) < m.cfg.MinTrainingSamples {
		m.cfg.Logger.Warn(ctx, "insufficient training data", map[string]interface{}{
			"required":  m.cfg.MinTrainingSamples,
			"available": len(trades),
		})
		return ports.TrainResult{Status: ports.TrainStatusInsufficientData},
			fmt.Errorf("%w: need %d closed trades, have %d",
				ports.ErrInsufficientSamples, m.cfg.MinTrainingSamples, len(trades))
	}

	xs, ys := trainingData(trades)
	if len(xs) < m.cfg.MinTrainingSamples {
		return ports.TrainResult{Status: ports.TrainStatusInsufficientData},
			fmt.Errorf("%w: only %d trades carry feature vectors",
				ports.ErrInsufficientSamples, len(xs))
	}

	trainX, trainY, valX, valY := split(xs, ys, m.cfg.ValidationSplit)

	means, stds := standardization(trainX)
	weights, bias := fit(standardize(trainX, means, stds), trainY)

	trainScore := accuracy(weights, bias, standardize(trainX, means, stds), trainY)
	valScore := accuracy(weights, bias, standardize(valX, means, stds), valY)

	version := fmt.Sprintf("v1.%d.0_%s", len(trades)/100, m.nowFunc().UTC().Format("20060102_150405"))

	m.mu.Lock()
	m.weights = weights
	m.bias = bias
	m.means = means
	m.stds = stds
	m.trained = true
	m.version = version
	m.mu.Unlock()

	if m.cfg.Checkpoints != nil {
		err := m.cfg.Checkpoints.SaveCheckpoint(ctx, &ports.ModelCheckpoint{
			Version:        version,
			TrainingTrades: len(trades),
			TrainScore:     trainScore,
			ValScore:       valScore,
			CreatedAt:      m.nowFunc().UTC(),
		})
		if err != nil {
			return ports.TrainResult{}, fmt.Errorf("failed to save model checkpoint: %w", err)
		}
	}

	m.cfg.Logger.Info(ctx, "model trained", map[string]interface{}{
		"version":    version,
		"trainScore": trainScore,
		"valScore":   valScore,
		"samples":    len(trades),
	})

	return ports.TrainResult{
		Status:     ports.TrainStatusSuccess,
		Version:    version,
		TrainScore: trainScore,
		ValScore:   valScore,
		Samples:    len(trades),
	}, nil
}

// FeatureImportance reports the normalized absolute weight per feature name.
func (m *Model) FeatureImportance() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return nil
	}

	var total float64
	for _, w := range m.weights {
		total += math.Abs(w)
	}

	names := domain.FeatureNames()
	out := make(map[string]float64, featureCount)
	for i, name := range names {
		if total > 0 {
			out[name] = math.Abs(m.weights[i]) / total
		} else {
			out[name] = 0
		}
	}
	return out
}

// probability must be called with the read lock held.
func (m *Model) probability(x []float64) float64 {
	z := m.bias
	for i := 0; i < featureCount; i++ {
		v := x[i]
		if m.stds[i] > 0 {
			v = (v - m.means[i]) / m.stds[i]
		}
		z += m.weights[i] * v
	}
	return sigmoid(z)
}

func trainingData(trades []*domain.Position) ([][]float64, []float64) {
	var xs [][]float64
	var ys []float64
	for _, t := range trades {
		if t.Status != domain.PositionClosed || t.Features == nil {
			continue
		}
		xs = append(xs, t.Features.Values())
		if t.PNL > 0 {
			ys = append(ys, 1)
		} else {
			ys = append(ys, 0)
		}
	}
	return xs, ys
}

// split holds out the tail of the sample as validation data. The tail is the
// most recent slice of trades, which keeps validation out-of-sample in time.
func split(xs [][]float64, ys []float64, valFraction float64) ([][]float64, []float64, [][]float64, []float64) {
	n := len(xs)
	valSize := int(float64(n) * valFraction)
	if valSize < 1 {
		valSize = 1
	}
	cut := n - valSize
	return xs[:cut], ys[:cut], xs[cut:], ys[cut:]
}

func standardization(xs [][]float64) ([featureCount]float64, [featureCount]float64) {
	var means, stds [featureCount]float64
	n := float64(len(xs))

	for _, x := range xs {
		for i := 0; i < featureCount; i++ {
			means[i] += x[i]
		}
	}
	for i := range means {
		means[i] /= n
	}

	for _, x := range xs {
		for i := 0; i < featureCount; i++ {
			d := x[i] - means[i]
			stds[i] += d * d
		}
	}
	for i := range stds {
		stds[i] = math.Sqrt(stds[i] / n)
	}
	return means, stds
}

func standardize(xs [][]float64, means, stds [featureCount]float64) [][]float64 {
	out := make([][]float64, len(xs))
	for j, x := range xs {
		row := make([]float64, featureCount)
		for i := 0; i < featureCount; i++ {
			if stds[i] > 0 {
				row[i] = (x[i] - means[i]) / stds[i]
			} else {
				row[i] = 0
			}
		}
		out[j] = row
	}
	return out
}

// fit runs batch gradient descent with a small L2 penalty.
func fit(xs [][]float64, ys []float64) ([featureCount]float64, float64) {
	var weights [featureCount]float64
	var bias float64
	n := float64(len(xs))

	for epoch := 0; epoch < epochs; epoch++ {
		var gradW [featureCount]float64
		var gradB float64

		for j, x := range xs {
			z := bias
			for i := 0; i < featureCount; i++ {
				z += weights[i] * x[i]
			}
			err := sigmoid(z) - ys[j]
			for i := 0; i < featureCount; i++ {
				gradW[i] += err * x[i]
			}
			gradB += err
		}

		for i := 0; i < featureCount; i++ {
			weights[i] -= learningRate * (gradW[i]/n + l2Penalty*weights[i])
		}
		bias -= learningRate * gradB / n
	}

	return weights, bias
}

func accuracy(weights [featureCount]float64, bias float64, xs [][]float64, ys []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	correct := 0
	for j, x := range xs {
		z := bias
		for i := 0; i < featureCount; i++ {
			z += weights[i] * x[i]
		}
		label := 0.0
		if sigmoid(z) > 0.5 {
			label = 1.0
		}
		if label == ys[j] {
			correct++
		}
	}
	return float64(correct) / float64(len(xs))
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
