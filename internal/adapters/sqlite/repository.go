package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"selfLearningBot/internal/domain"
	"selfLearningBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeRepository, ports.CheckpointRepository and
// ports.SystemStateRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_bot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from
	// limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL DEFAULT NULL,
		quantity REAL NOT NULL,
		leverage REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP DEFAULT NULL,
		status TEXT NOT NULL,
		pnl REAL DEFAULT NULL,
		pnl_percentage REAL DEFAULT NULL,
		close_reason TEXT DEFAULT NULL,
		confidence REAL DEFAULT NULL,
		signal_quality REAL DEFAULT NULL,
		features TEXT DEFAULT NULL,
		phase TEXT DEFAULT NULL,
		model_version TEXT DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS model_checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT NOT NULL,
		training_trades INTEGER NOT NULL,
		train_score REAL NOT NULL,
		val_score REAL NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS system_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades (entry_time);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at ON model_checkpoints (created_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- TradeRepository Implementation ---

// SaveTrade persists a new position and returns its assigned ID.
func (r *Repository) SaveTrade(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO trades (symbol, side, entry_price, quantity, leverage, stop_loss, take_profit,
	                    entry_time, status, confidence, signal_quality, features, phase, model_version)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	features, err := encodeFeatures(pos.Features)
	if err != nil {
		return 0, fmt.Errorf("failed to encode features for symbol %s: %w", pos.Symbol, err)
	}

	result, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.EntryPrice, pos.Quantity, pos.Leverage, pos.StopLoss, pos.TakeProfit,
		pos.EntryTime, pos.Status, pos.Confidence, pos.SignalQuality, features, pos.Phase, pos.ModelVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w", pos.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", pos.Symbol, err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "symbol": pos.Symbol})
	return id, nil
}

// UpdateTrade persists the close-out fields of an existing position.
func (r *Repository) UpdateTrade(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE trades
	SET exit_price = ?, exit_time = ?, status = ?, pnl = ?, pnl_percentage = ?, close_reason = ?
	WHERE id = ?`

	var exitTime sql.NullTime
	if !pos.ExitTime.IsZero() {
		exitTime = sql.NullTime{Time: pos.ExitTime, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		pos.ExitPrice, exitTime, pos.Status, pos.PNL, pos.PNLPct, pos.Reason, pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update trade ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": pos.ID, "status": pos.Status})
	return nil
}

// FindRecent retrieves the most recent positions, newest first. An empty
// status matches any status.
func (r *Repository) FindRecent(ctx context.Context, limit int, status domain.PositionStatus) ([]*domain.Position, error) {
	query := `
	SELECT id, symbol, side, entry_price, COALESCE(exit_price, 0), quantity, leverage,
	       stop_loss, take_profit, entry_time, exit_time, status, COALESCE(pnl, 0),
	       COALESCE(pnl_percentage, 0), close_reason, COALESCE(confidence, 0),
	       COALESCE(signal_quality, 0), features, phase, model_version
	FROM trades`

	args := make([]interface{}, 0, 2)
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY entry_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindRecent: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return positions, nil
}

// Statistics aggregates trade outcomes across all recorded positions.
func (r *Repository) Statistics(ctx context.Context) (*ports.TradeStatistics, error) {
	const query = `
	SELECT COUNT(*),
	       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN status = ? AND pnl > 0 THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN status = ? AND pnl <= 0 THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN status = ? THEN pnl ELSE 0 END), 0)
	FROM trades`

	stats := &ports.TradeStatistics{}
	err := r.db.QueryRowContext(ctx, query,
		domain.PositionClosed, domain.PositionClosed, domain.PositionClosed, domain.PositionClosed).
		Scan(&stats.TotalTrades, &stats.ClosedTrades, &stats.Wins, &stats.Losses, &stats.TotalPNL)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate trade statistics: %w", err)
	}

	if stats.ClosedTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.ClosedTrades)
		stats.AvgPNL = stats.TotalPNL / float64(stats.ClosedTrades)
	}
	return stats, nil
}

// --- CheckpointRepository Implementation ---

// SaveCheckpoint persists a trained model checkpoint.
func (r *Repository) SaveCheckpoint(ctx context.Context, cp *ports.ModelCheckpoint) error {
	const query = `
	INSERT INTO model_checkpoints (version, training_trades, train_score, val_score, created_at)
	VALUES (?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		cp.Version, cp.TrainingTrades, cp.TrainScore, cp.ValScore, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert model checkpoint %s: %w", cp.Version, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID for checkpoint %s: %w", cp.Version, err)
	}
	cp.ID = id
	r.logger.Debug(ctx, "Model checkpoint saved", map[string]interface{}{"checkpointID": id, "version": cp.Version})
	return nil
}

// LatestCheckpoint returns the most recently created checkpoint, or nil when
// none exists yet.
func (r *Repository) LatestCheckpoint(ctx context.Context) (*ports.ModelCheckpoint, error) {
	const query = `
	SELECT id, version, training_trades, train_score, val_score, created_at
	FROM model_checkpoints
	ORDER BY created_at DESC, id DESC LIMIT 1`

	cp := &ports.ModelCheckpoint{}
	err := r.db.QueryRowContext(ctx, query).
		Scan(&cp.ID, &cp.Version, &cp.TrainingTrades, &cp.TrainScore, &cp.ValScore, &cp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest model checkpoint: %w", err)
	}
	return cp, nil
}

// --- SystemStateRepository Implementation ---

// SetSystemState stores a key/value pair, replacing any previous value.
func (r *Repository) SetSystemState(ctx context.Context, key, value string) error {
	const query = `
	INSERT INTO system_state (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set system state %q: %w", key, err)
	}
	return nil
}

// GetSystemState returns the stored value, or "" when the key is not set.
func (r *Repository) GetSystemState(ctx context.Context, key string) (string, error) {
	const query = `SELECT value FROM system_state WHERE key = ?`

	var value string
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get system state %q: %w", key, err)
	}
	return value, nil
}

// --- Helpers ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side, status string
	var exitTime sql.NullTime
	var closeReason, features, phase, modelVersion sql.NullString
	err := s.Scan(
		&p.ID, &p.Symbol, &side, &p.EntryPrice, &p.ExitPrice, &p.Quantity, &p.Leverage,
		&p.StopLoss, &p.TakeProfit, &p.EntryTime, &exitTime, &status, &p.PNL,
		&p.PNLPct, &closeReason, &p.Confidence, &p.SignalQuality, &features, &phase, &modelVersion)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}

	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	if exitTime.Valid {
		p.ExitTime = exitTime.Time
	}
	if closeReason.Valid {
		p.Reason = domain.CloseReason(closeReason.String)
	}
	if phase.Valid {
		p.Phase = domain.Phase(phase.String)
	}
	if modelVersion.Valid {
		p.ModelVersion = modelVersion.String
	}
	if features.Valid && features.String != "" {
		fv := &domain.FeatureVector{}
		if err := json.Unmarshal([]byte(features.String), fv); err != nil {
			return nil, fmt.Errorf("failed to decode stored features: %w", err)
		}
		p.Features = fv
	}
	return p, nil
}

func encodeFeatures(fv *domain.FeatureVector) (interface{}, error) {
	if fv == nil {
		return nil, nil
	}
	data, err := json.Marshal(fv)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
