package predictor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selfLearningBot/internal/domain"
	"selfLearningBot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockCheckpointRepo struct {
	saved  []*ports.ModelCheckpoint
	latest *ports.ModelCheckpoint
}

func (m *mockCheckpointRepo) SaveCheckpoint(ctx context.Context, c *ports.ModelCheckpoint) error {
	m.saved = append(m.saved, c)
	m.latest = c
	return nil
}

func (m *mockCheckpointRepo) LatestCheckpoint(ctx context.Context) (*ports.ModelCheckpoint, error) {
	return m.latest, nil
}

func newTestModel(t *testing.T, repo ports.CheckpointRepository) *Model {
	t.Helper()
	m, err := NewModel(context.Background(), Config{
		MinTrainingSamples: 50,
		ValidationSplit:    0.2,
		Checkpoints:        repo,
		Logger:             nopLogger{},
	})
	require.NoError(t, err)
	return m
}

// separableTrades builds a set where a strong positive trend always won and a
// strong negative trend always lost, which a linear model can fit perfectly.
func separableTrades(n int) []*domain.Position {
	trades := make([]*domain.Position, 0, n)
	for i := 0; i < n; i++ {
		win := i%2 == 0
		trend := 0.9
		pnl := 25.0
		if !win {
			trend = -0.9
			pnl = -25.0
		}
		trades = append(trades, &domain.Position{
			Status: domain.PositionClosed,
			PNL:    pnl,
			Features: &domain.FeatureVector{
				MarketStructureTrend: trend,
				TrendAlignment:       trend,
				StructureIntegrity:   0.8,
			},
		})
	}
	return trades
}

func TestModel_PredictUntrained(t *testing.T) {
	m := newTestModel(t, nil)

	pred, err := m.Predict(context.Background(), &domain.FeatureVector{MarketStructureTrend: 0.9})
	require.NoError(t, err)
	assert.Equal(t, ports.NeutralPrediction(), pred)
	assert.True(t, strings.HasPrefix(m.Version(), "v0.0.0_"))
	assert.Nil(t, m.FeatureImportance())
}

func TestModel_TrainInsufficientSamples(t *testing.T) {
	m := newTestModel(t, nil)

	res, err := m.Train(context.Background(), separableTrades(10))
	assert.ErrorIs(t, err, ports.ErrInsufficientSamples)
	assert.Equal(t, ports.TrainStatusInsufficientData, res.Status)
}

func TestModel_TrainSkipsTradesWithoutFeatures(t *testing.T) {
	m := newTestModel(t, nil)

	trades := separableTrades(40)
	for i := 0; i < 20; i++ {
		trades = append(trades, &domain.Position{Status: domain.PositionClosed, PNL: 5})
	}

	// 60 trades pass the headcount but only 40 carry features.
	res, err := m.Train(context.Background(), trades)
	assert.ErrorIs(t, err, ports.ErrInsufficientSamples)
	assert.Equal(t, ports.TrainStatusInsufficientData, res.Status)
}

func TestModel_TrainAndPredict(t *testing.T) {
	repo := &mockCheckpointRepo{}
	m := newTestModel(t, repo)

	res, err := m.Train(context.Background(), separableTrades(120))
	require.NoError(t, err)
	assert.Equal(t, ports.TrainStatusSuccess, res.Status)
	assert.Equal(t, 120, res.Samples)
	assert.True(t, strings.HasPrefix(res.Version, "v1.1.0_"))
	assert.Greater(t, res.TrainScore, 0.9)
	assert.Greater(t, res.ValScore, 0.9)
	assert.Equal(t, res.Version, m.Version())

	require.Len(t, repo.saved, 1)
	assert.Equal(t, res.Version, repo.saved[0].Version)
	assert.Equal(t, 120, repo.saved[0].TrainingTrades)

	up, err := m.Predict(context.Background(), &domain.FeatureVector{
		MarketStructureTrend: 0.9,
		TrendAlignment:       0.9,
		StructureIntegrity:   0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, up.Label)
	assert.Greater(t, up.Confidence, 0.5)

	down, err := m.Predict(context.Background(), &domain.FeatureVector{
		MarketStructureTrend: -0.9,
		TrendAlignment:       -0.9,
		StructureIntegrity:   0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, down.Label)
	assert.Greater(t, down.Confidence, 0.5)
}

func TestModel_FeatureImportance(t *testing.T) {
	m := newTestModel(t, nil)

	_, err := m.Train(context.Background(), separableTrades(100))
	require.NoError(t, err)

	importance := m.FeatureImportance()
	require.Len(t, importance, 12)

	var total float64
	for _, v := range importance {
		total += v
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	// The only discriminative features must dominate the constant ones.
	assert.Greater(t, importance["market_structure_trend"], importance["liquidity_context"])
}

func TestModel_RestoresVersionFromCheckpoint(t *testing.T) {
	repo := &mockCheckpointRepo{}
	first := newTestModel(t, repo)
	res, err := first.Train(context.Background(), separableTrades(100))
	require.NoError(t, err)

	second := newTestModel(t, repo)
	assert.Equal(t, res.Version, second.Version())
}
