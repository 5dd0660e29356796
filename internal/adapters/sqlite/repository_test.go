package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: nopLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func openPosition(symbol string, entryTime time.Time) *domain.Position {
	return &domain.Position{
		Symbol:        symbol,
		Side:          domain.Buy,
		EntryPrice:    100,
		Quantity:      0.5,
		Leverage:      3,
		StopLoss:      95,
		TakeProfit:    102,
		EntryTime:     entryTime,
		Status:        domain.PositionOpen,
		Confidence:    0.62,
		SignalQuality: 0.55,
		Phase:         domain.PhaseExploration,
		ModelVersion:  "v1.0.0_20260101_000000",
		Features: &domain.FeatureVector{
			MarketStructureTrend: 0.4,
			OrderBlocksCount:     2,
			InstitutionalCandle:  true,
			TrendAlignment:       1.0,
		},
	}
}

func TestSaveAndFindTrade(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pos := openPosition("BTCUSDT", time.Now().UTC().Truncate(time.Second))
	id, err := repo.SaveTrade(ctx, pos)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, id, pos.ID)

	found, err := repo.FindRecent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, found, 1)

	got := found[0]
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, domain.Buy, got.Side)
	assert.Equal(t, domain.PositionOpen, got.Status)
	assert.Equal(t, 0.62, got.Confidence)
	assert.Equal(t, domain.PhaseExploration, got.Phase)
	assert.Equal(t, "v1.0.0_20260101_000000", got.ModelVersion)

	require.NotNil(t, got.Features, "the stored feature vector must survive the round trip")
	assert.Equal(t, 0.4, got.Features.MarketStructureTrend)
	assert.Equal(t, 2, got.Features.OrderBlocksCount)
	assert.True(t, got.Features.InstitutionalCandle)
}

func TestSaveTrade_WithoutFeatures(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pos := openPosition("BTCUSDT", time.Now().UTC())
	pos.Features = nil
	_, err := repo.SaveTrade(ctx, pos)
	require.NoError(t, err)

	found, err := repo.FindRecent(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Nil(t, found[0].Features)
}

func TestUpdateTrade(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pos := openPosition("ETHUSDT", time.Now().UTC().Truncate(time.Second))
	_, err := repo.SaveTrade(ctx, pos)
	require.NoError(t, err)

	pos.ExitPrice = 102
	pos.ExitTime = pos.EntryTime.Add(10 * time.Minute)
	pos.Status = domain.PositionClosed
	pos.PNL = 3.0
	pos.PNLPct = 0.06
	pos.Reason = domain.CloseReasonTakeProfit
	require.NoError(t, repo.UpdateTrade(ctx, pos))

	found, err := repo.FindRecent(ctx, 1, domain.PositionClosed)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 102.0, found[0].ExitPrice)
	assert.Equal(t, 3.0, found[0].PNL)
	assert.Equal(t, 0.06, found[0].PNLPct)
	assert.Equal(t, domain.CloseReasonTakeProfit, found[0].Reason)
	assert.False(t, found[0].ExitTime.IsZero())
}

func TestUpdateTrade_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.UpdateTrade(context.Background(), &domain.Position{ID: 9999})
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestFindRecent_StatusFilterAndLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		pos := openPosition("BTCUSDT", base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			pos.Status = domain.PositionClosed
			pos.PNL = 1
		}
		_, err := repo.SaveTrade(ctx, pos)
		require.NoError(t, err)
	}

	closed, err := repo.FindRecent(ctx, 10, domain.PositionClosed)
	require.NoError(t, err)
	assert.Len(t, closed, 3)

	all, err := repo.FindRecent(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Newest first.
	assert.True(t, all[0].EntryTime.After(all[1].EntryTime))
}

func TestStatistics(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// Two wins, one loss, one still open.
	for i, pnl := range []float64{10, 4, -6} {
		pos := openPosition("BTCUSDT", base.Add(time.Duration(i)*time.Minute))
		pos.Status = domain.PositionClosed
		pos.PNL = pnl
		_, err := repo.SaveTrade(ctx, pos)
		require.NoError(t, err)
	}
	_, err := repo.SaveTrade(ctx, openPosition("BTCUSDT", base.Add(time.Hour)))
	require.NoError(t, err)

	stats, err := repo.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalTrades)
	assert.Equal(t, 3, stats.ClosedTrades)
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 2.0/3.0, stats.WinRate, 1e-9)
	assert.InDelta(t, 8.0, stats.TotalPNL, 1e-9)
	assert.InDelta(t, 8.0/3.0, stats.AvgPNL, 1e-9)
}

func TestStatistics_Empty(t *testing.T) {
	repo := newTestRepo(t)

	stats, err := repo.Statistics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalTrades)
	assert.Zero(t, stats.WinRate)
}

func TestCheckpointRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	latest, err := repo.LatestCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "no checkpoint yet")

	first := &ports.ModelCheckpoint{
		Version:        "v1.0.0_20260101_000000",
		TrainingTrades: 100,
		TrainScore:     0.8,
		ValScore:       0.7,
		CreatedAt:      time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
	}
	require.NoError(t, repo.SaveCheckpoint(ctx, first))
	assert.Positive(t, first.ID)

	second := &ports.ModelCheckpoint{
		Version:        "v1.2.0_20260101_010000",
		TrainingTrades: 220,
		TrainScore:     0.85,
		ValScore:       0.74,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.SaveCheckpoint(ctx, second))

	latest, err = repo.LatestCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "v1.2.0_20260101_010000", latest.Version)
	assert.Equal(t, 220, latest.TrainingTrades)
	assert.Equal(t, 0.74, latest.ValScore)
}

func TestSystemState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	value, err := repo.GetSystemState(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, repo.SetSystemState(ctx, "last_shutdown", "clean"))
	require.NoError(t, repo.SetSystemState(ctx, "last_shutdown", "crash"))

	value, err = repo.GetSystemState(ctx, "last_shutdown")
	require.NoError(t, err)
	assert.Equal(t, "crash", value)
}
