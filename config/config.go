package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"selfLearningBot/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading
	Symbols                []string
	PaperTrading           bool
	PaperInitialBalance    float64
	TradingCycleInterval   time.Duration
	MonitorCycleInterval   time.Duration
	RetrainCycleInterval   time.Duration
	MaxConcurrentPositions int
	MinPositionSize        float64
	MaxPositionSize        float64
	TakeProfitPct          float64 // fixed take-profit offset (e.g. 0.02 for 2%)

	// Risk
	MaxLeverage          float64
	BootstrapMaxLeverage float64
	DailyLossLimit       float64
	SingleTradeRisk      float64
	HardStopLoss         float64
	MaxConsecutiveLosses int
	CooldownPeriod       time.Duration

	// Exchange gateway breaker
	ExchangeBreakerFailures int
	ExchangeBreakerRecovery time.Duration

	// Cold start
	ExplorationPhaseTrades  int
	ExploitationPhaseTrades int
	BootstrapMinWinRate     float64
	BootstrapMinConfidence  float64
	BootstrapSignalQuality  float64
	MatureMinWinRate        float64
	MatureMinConfidence     float64
	MatureSignalQuality     float64
	ExplorationProbability  float64

	// Features
	MarketStructureWindow int // candle window capacity per symbol
	OrderFlowWindow       int // trade-tick window capacity per symbol
	OrderBlocksWindow     int
	FVGWindow             int

	// Stream
	StreamBufferSize      int
	StreamReconnectDelay  time.Duration
	StreamBackoffCap      time.Duration
	StreamRetention       time.Duration
	StreamCleanupInterval time.Duration
	StreamBreakerFailures int
	StreamBreakerRecovery time.Duration

	// Model
	MinTrainingSamples int
	TrainingInterval   int     // retrain window size in trades
	TrainingHistory    int     // how many recent trades to pull for training
	ValidationSplit    float64 // fraction of training data held out

	// Database
	DBPath string

	// Web / observability
	HTTPAddr string

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("BINANCE_TESTNET", true)
	cfg.PaperTrading = getEnvAsBool("PAPER_TRADING", true)
	cfg.PaperInitialBalance = getEnvAsFloat("PAPER_INITIAL_BALANCE", 10000)
	if cfg.PaperTrading && cfg.PaperInitialBalance <= 0 {
		errs = append(errs, "PAPER_INITIAL_BALANCE must be positive")
	}

	// Live trading needs credentials; paper mode runs without them.
	if !cfg.PaperTrading {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set for live trading")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set for live trading")
		}
	}

	symbols := getEnv("SYMBOLS", "BTCUSDT,ETHUSDT,BNBUSDT")
	for _, s := range strings.Split(symbols, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			cfg.Symbols = append(cfg.Symbols, s)
		}
	}
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one instrument")
	}

	cfg.TradingCycleInterval = getEnvAsDuration("TRADING_CYCLE_INTERVAL_SECONDS", 60)
	cfg.MonitorCycleInterval = getEnvAsDuration("POSITION_MONITOR_INTERVAL_SECONDS", 2)
	cfg.RetrainCycleInterval = getEnvAsDuration("RETRAIN_INTERVAL_SECONDS", 300)
	if cfg.TradingCycleInterval <= 0 || cfg.MonitorCycleInterval <= 0 || cfg.RetrainCycleInterval <= 0 {
		errs = append(errs, "cycle intervals must be positive")
	}

	cfg.MaxConcurrentPositions = getEnvAsInt("MAX_CONCURRENT_POSITIONS", 5)
	if cfg.MaxConcurrentPositions <= 0 {
		errs = append(errs, "MAX_CONCURRENT_POSITIONS must be positive")
	}
	cfg.MinPositionSize = getEnvAsFloat("MIN_POSITION_SIZE", 10.0)
	cfg.MaxPositionSize = getEnvAsFloat("MAX_POSITION_SIZE", 1000.0)
	if cfg.MinPositionSize <= 0 || cfg.MaxPositionSize < cfg.MinPositionSize {
		errs = append(errs, "MIN_POSITION_SIZE must be positive and not above MAX_POSITION_SIZE")
	}
	cfg.TakeProfitPct = getEnvAsFloat("TAKE_PROFIT_PCT", 0.02)
	if cfg.TakeProfitPct <= 0 || cfg.TakeProfitPct >= 1 {
		errs = append(errs, "TAKE_PROFIT_PCT must be between 0 and 1 (exclusive)")
	}

	// Risk
	cfg.MaxLeverage = getEnvAsFloat("MAX_LEVERAGE", 125)
	cfg.BootstrapMaxLeverage = getEnvAsFloat("BOOTSTRAP_MAX_LEVERAGE", 3)
	if cfg.MaxLeverage <= 0 || cfg.BootstrapMaxLeverage <= 0 {
		errs = append(errs, "leverage limits must be positive")
	}
	cfg.DailyLossLimit = getEnvAsFloat("DAILY_LOSS_LIMIT", 0.05)
	cfg.SingleTradeRisk = getEnvAsFloat("SINGLE_TRADE_RISK", 0.02)
	cfg.HardStopLoss = getEnvAsFloat("HARD_STOP_LOSS", 0.10)
	if cfg.DailyLossLimit <= 0 || cfg.DailyLossLimit >= 1 {
		errs = append(errs, "DAILY_LOSS_LIMIT must be between 0 and 1 (exclusive)")
	}
	if cfg.SingleTradeRisk <= 0 || cfg.SingleTradeRisk >= 1 {
		errs = append(errs, "SINGLE_TRADE_RISK must be between 0 and 1 (exclusive)")
	}
	if cfg.HardStopLoss <= 0 || cfg.HardStopLoss >= 1 {
		errs = append(errs, "HARD_STOP_LOSS must be between 0 and 1 (exclusive)")
	}
	cfg.MaxConsecutiveLosses = getEnvAsInt("MAX_CONSECUTIVE_LOSSES", 5)
	if cfg.MaxConsecutiveLosses <= 0 {
		errs = append(errs, "MAX_CONSECUTIVE_LOSSES must be positive")
	}
	cfg.CooldownPeriod = getEnvAsDuration("COOLDOWN_PERIOD_SECONDS", 300)

	cfg.ExchangeBreakerFailures = getEnvAsInt("EXCHANGE_BREAKER_FAILURES", 5)
	cfg.ExchangeBreakerRecovery = getEnvAsDuration("EXCHANGE_BREAKER_RECOVERY_SECONDS", 60)
	if cfg.ExchangeBreakerFailures <= 0 || cfg.ExchangeBreakerRecovery <= 0 {
		errs = append(errs, "exchange breaker parameters must be positive")
	}

	// Cold start
	cfg.ExplorationPhaseTrades = getEnvAsInt("EXPLORATION_PHASE_TRADES", 100)
	cfg.ExploitationPhaseTrades = getEnvAsInt("EXPLOITATION_PHASE_TRADES", 500)
	if cfg.ExplorationPhaseTrades <= 0 || cfg.ExploitationPhaseTrades <= cfg.ExplorationPhaseTrades {
		errs = append(errs, "EXPLOITATION_PHASE_TRADES must exceed EXPLORATION_PHASE_TRADES (both positive)")
	}
	cfg.BootstrapMinWinRate = getEnvAsFloat("BOOTSTRAP_MIN_WIN_RATE", 0.35)
	cfg.BootstrapMinConfidence = getEnvAsFloat("BOOTSTRAP_MIN_CONFIDENCE", 0.40)
	cfg.BootstrapSignalQuality = getEnvAsFloat("BOOTSTRAP_SIGNAL_QUALITY", 0.30)
	cfg.MatureMinWinRate = getEnvAsFloat("MATURE_MIN_WIN_RATE", 0.55)
	cfg.MatureMinConfidence = getEnvAsFloat("MATURE_MIN_CONFIDENCE", 0.65)
	cfg.MatureSignalQuality = getEnvAsFloat("MATURE_SIGNAL_QUALITY", 0.60)
	cfg.ExplorationProbability = getEnvAsFloat("EXPLORATION_PROBABILITY", 0.30)
	if cfg.ExplorationProbability < 0 || cfg.ExplorationProbability > 1 {
		errs = append(errs, "EXPLORATION_PROBABILITY must be within [0, 1]")
	}

	// Features
	cfg.MarketStructureWindow = getEnvAsInt("MARKET_STRUCTURE_WINDOW", 100)
	cfg.OrderFlowWindow = getEnvAsInt("ORDER_FLOW_WINDOW", 1000)
	cfg.OrderBlocksWindow = getEnvAsInt("ORDER_BLOCKS_WINDOW", 20)
	cfg.FVGWindow = getEnvAsInt("FVG_WINDOW", 20)
	if cfg.MarketStructureWindow < 30 {
		errs = append(errs, "MARKET_STRUCTURE_WINDOW must be at least 30")
	}
	if cfg.OrderFlowWindow <= 0 || cfg.OrderBlocksWindow <= 0 || cfg.FVGWindow <= 0 {
		errs = append(errs, "feature windows must be positive")
	}

	// Stream
	cfg.StreamBufferSize = getEnvAsInt("STREAM_BUFFER_SIZE", 1000)
	cfg.StreamReconnectDelay = getEnvAsDuration("STREAM_RECONNECT_DELAY_SECONDS", 5)
	cfg.StreamBackoffCap = getEnvAsDuration("STREAM_BACKOFF_CAP_SECONDS", 60)
	cfg.StreamRetention = getEnvAsDuration("STREAM_RETENTION_SECONDS", 86400)
	cfg.StreamCleanupInterval = getEnvAsDuration("STREAM_CLEANUP_INTERVAL_SECONDS", 3600)
	if cfg.StreamBufferSize <= 0 {
		errs = append(errs, "STREAM_BUFFER_SIZE must be positive")
	}
	if cfg.StreamReconnectDelay <= 0 || cfg.StreamBackoffCap < cfg.StreamReconnectDelay {
		errs = append(errs, "STREAM_BACKOFF_CAP_SECONDS must be at least STREAM_RECONNECT_DELAY_SECONDS")
	}
	cfg.StreamBreakerFailures = getEnvAsInt("STREAM_BREAKER_FAILURES", 5)
	cfg.StreamBreakerRecovery = getEnvAsDuration("STREAM_BREAKER_RECOVERY_SECONDS", 30)
	if cfg.StreamBreakerFailures <= 0 || cfg.StreamBreakerRecovery <= 0 {
		errs = append(errs, "stream breaker parameters must be positive")
	}

	// Model
	cfg.MinTrainingSamples = getEnvAsInt("MIN_TRAINING_SAMPLES", 50)
	cfg.TrainingInterval = getEnvAsInt("TRAINING_INTERVAL", 100)
	cfg.TrainingHistory = getEnvAsInt("TRAINING_HISTORY", 500)
	if cfg.MinTrainingSamples <= 0 || cfg.TrainingInterval <= 0 || cfg.TrainingHistory <= 0 {
		errs = append(errs, "model training parameters must be positive")
	}
	cfg.ValidationSplit = getEnvAsFloat("MODEL_VALIDATION_SPLIT", 0.2)
	if cfg.ValidationSplit <= 0 || cfg.ValidationSplit >= 1 {
		errs = append(errs, "MODEL_VALIDATION_SPLIT must be between 0 and 1 (exclusive)")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trading_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Web
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}
