package ports

import (
	"context"
	"time"

	"selfLearningBot/internal/domain"
)

// TradeStatistics aggregates closed-trade outcomes for policy and status queries.
type TradeStatistics struct {
	TotalTrades  int
	ClosedTrades int
	Wins         int
	Losses       int
	WinRate      float64
	TotalPNL     float64
	AvgPNL       float64
}

// TradeRepository stores and retrieves trading positions.
type TradeRepository interface {
	// SaveTrade persists a new position and returns its assigned ID.
	SaveTrade(ctx context.Context, pos *domain.Position) (int64, error)
	// UpdateTrade persists the close-out fields of an existing position.
	UpdateTrade(ctx context.Context, pos *domain.Position) error
	// FindRecent retrieves the most recent positions, newest first. An empty
	// status matches any status.
	FindRecent(ctx context.Context, limit int, status domain.PositionStatus) ([]*domain.Position, error)
	// Statistics aggregates trade outcomes across all recorded positions.
	Statistics(ctx context.Context) (*TradeStatistics, error)
}

// ModelCheckpoint is the persisted metadata of a trained model version.
type ModelCheckpoint struct {
	ID             int64
	Version        string
	TrainingTrades int
	TrainScore     float64
	ValScore       float64
	CreatedAt      time.Time
}

// CheckpointRepository stores and retrieves model checkpoints.
type CheckpointRepository interface {
	SaveCheckpoint(ctx context.Context, cp *ModelCheckpoint) error
	// LatestCheckpoint returns nil, nil when no checkpoint exists yet.
	LatestCheckpoint(ctx context.Context) (*ModelCheckpoint, error)
}

// SystemStateRepository stores free-form key/value operational state.
type SystemStateRepository interface {
	SetSystemState(ctx context.Context, key, value string) error
	// GetSystemState returns "" , nil when the key is not set.
	GetSystemState(ctx context.Context, key string) (string, error)
}
