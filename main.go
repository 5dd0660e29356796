package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"
	"time"

	"selfLearningBot/config"
	"selfLearningBot/internal/adapters/binanceclient"
	"selfLearningBot/internal/adapters/logger"
	"selfLearningBot/internal/adapters/paper"
	"selfLearningBot/internal/adapters/sqlite"
	"selfLearningBot/internal/app"
	"selfLearningBot/internal/breaker"
	"selfLearningBot/internal/coldstart"
	"selfLearningBot/internal/features"
	"selfLearningBot/internal/ports"
	"selfLearningBot/internal/predictor"
	"selfLearningBot/internal/risk"
	"selfLearningBot/internal/scoring"
	"selfLearningBot/internal/stream"
	"selfLearningBot/internal/web"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"path": cfg.DBPath})
	if err := repo.SetSystemState(ctx, "last_start_time", time.Now().UTC().Format(time.RFC3339)); err != nil {
		appLogger.Warn(ctx, "Failed to record start time", map[string]interface{}{"error": err.Error()})
	}

	// 4. Initialize Exchange Client (paper simulation or live Binance)
	var exchange ports.ExchangeClient
	if cfg.PaperTrading {
		exchange, err = paper.New(paper.Config{
			InitialBalance: cfg.PaperInitialBalance,
			Logger:         appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize paper exchange: %v", err)
		}
		appLogger.Info(ctx, "Paper trading enabled", map[string]interface{}{"balance": cfg.PaperInitialBalance})
	} else {
		exchange, err = binanceclient.New(binanceclient.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			UseTestnet: cfg.IsTestnet,
			Logger:     appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
		}
		if err := exchange.Ping(ctx); err != nil {
			log.Fatalf("FATAL: Binance API unreachable: %v", err)
		}
		appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})
	}

	// 5. Initialize Market Data Ingestion
	streamURL := stream.MainnetURL
	if cfg.IsTestnet {
		streamURL = stream.TestnetURL
	}
	ingestor, err := stream.NewIngestor(stream.Config{
		BaseURL:         streamURL,
		Symbols:         cfg.Symbols,
		BufferSize:      cfg.StreamBufferSize,
		ReconnectDelay:  cfg.StreamReconnectDelay,
		BackoffCap:      cfg.StreamBackoffCap,
		Retention:       cfg.StreamRetention,
		CleanupInterval: cfg.StreamCleanupInterval,
		Breaker: breaker.New(breaker.Config{
			FailureThreshold: cfg.StreamBreakerFailures,
			RecoveryTimeout:  cfg.StreamBreakerRecovery,
			Logger:           appLogger,
		}),
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize stream ingestor: %v", err)
	}

	// 6. Initialize Feature Engine
	featureEngine, err := features.NewEngine(features.Config{
		MarketStructureWindow: cfg.MarketStructureWindow,
		OrderFlowWindow:       cfg.OrderFlowWindow,
		OrderBlocksWindow:     cfg.OrderBlocksWindow,
		FVGWindow:             cfg.FVGWindow,
		Logger:                appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize feature engine: %v", err)
	}

	// 7. Initialize Predictor (restores the latest checkpointed version)
	model, err := predictor.NewModel(ctx, predictor.Config{
		MinTrainingSamples: cfg.MinTrainingSamples,
		ValidationSplit:    cfg.ValidationSplit,
		Checkpoints:        repo,
		Logger:             appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize predictor: %v", err)
	}
	appLogger.Info(ctx, "Predictor initialized", map[string]interface{}{"version": model.Version()})

	// 8. Initialize Cold Start Policy and Risk Gate
	policy, err := coldstart.New(coldstart.Config{
		ExplorationPhaseTrades:  cfg.ExplorationPhaseTrades,
		ExploitationPhaseTrades: cfg.ExploitationPhaseTrades,
		BootstrapMinWinRate:     cfg.BootstrapMinWinRate,
		BootstrapMinConfidence:  cfg.BootstrapMinConfidence,
		BootstrapSignalQuality:  cfg.BootstrapSignalQuality,
		MatureMinWinRate:        cfg.MatureMinWinRate,
		MatureMinConfidence:     cfg.MatureMinConfidence,
		MatureSignalQuality:     cfg.MatureSignalQuality,
		ExplorationProbability:  cfg.ExplorationProbability,
		BootstrapMaxLeverage:    cfg.BootstrapMaxLeverage,
		MaxLeverage:             cfg.MaxLeverage,
		Logger:                  appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize cold start policy: %v", err)
	}
	gate, err := risk.NewGate(risk.Config{
		MaxLeverage:            cfg.MaxLeverage,
		DailyLossLimit:         cfg.DailyLossLimit,
		SingleTradeRisk:        cfg.SingleTradeRisk,
		HardStopLoss:           cfg.HardStopLoss,
		MaxConcurrentPositions: cfg.MaxConcurrentPositions,
		MinPositionSize:        cfg.MinPositionSize,
		MaxPositionSize:        cfg.MaxPositionSize,
		MaxConsecutiveLosses:   cfg.MaxConsecutiveLosses,
		CooldownPeriod:         cfg.CooldownPeriod,
		Logger:                 appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk gate: %v", err)
	}

	// 9. Initialize Web Server. The status callback binds to the controller
	// created below; the server only starts serving after that assignment.
	var controller *app.Controller
	webServer, err := web.NewServer(web.Config{
		Addr: cfg.HTTPAddr,
		Status: func(ctx context.Context) interface{} {
			return controller.Status(ctx)
		},
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize web server: %v", err)
	}

	// 10. Initialize and Start the Trading Controller
	controller, err = app.NewController(app.Config{
		Symbols:                cfg.Symbols,
		MaxConcurrentPositions: cfg.MaxConcurrentPositions,
		TakeProfitPct:          cfg.TakeProfitPct,
		TradingCycleInterval:   cfg.TradingCycleInterval,
		MonitorCycleInterval:   cfg.MonitorCycleInterval,
		RetrainCycleInterval:   cfg.RetrainCycleInterval,
		MinTrainingSamples:     cfg.MinTrainingSamples,
		TrainingInterval:       cfg.TrainingInterval,
		TrainingHistory:        cfg.TrainingHistory,
		Exchange:               exchange,
		Repo:                   repo,
		Predictor:              model,
		Features:               featureEngine,
		Policy:                 policy,
		Gate:                   gate,
		Scorer:                 scoring.NewEngine(),
		Stream:                 ingestor,
		Web:                    webServer,
		Breaker: breaker.New(breaker.Config{
			FailureThreshold: cfg.ExchangeBreakerFailures,
			RecoveryTimeout:  cfg.ExchangeBreakerRecovery,
			Logger:           appLogger,
		}),
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize trading controller: %v", err)
	}

	if err := controller.Start(ctx); err != nil {
		log.Fatalf("FATAL: Failed to start trading controller: %v", err)
	}
	webServer.Start(ctx)
	appLogger.Info(ctx, "Bot is running", map[string]interface{}{
		"symbols": cfg.Symbols,
		"paper":   cfg.PaperTrading,
		"http":    cfg.HTTPAddr,
	})

	<-ctx.Done()
	appLogger.Info(context.Background(), "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	controller.Stop(shutdownCtx)
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "Web server shutdown error")
	}
	if err := repo.SetSystemState(shutdownCtx, "last_shutdown_time", time.Now().UTC().Format(time.RFC3339)); err != nil {
		appLogger.Warn(shutdownCtx, "Failed to record shutdown time", map[string]interface{}{"error": err.Error()})
	}
	appLogger.Info(context.Background(), "Shutdown complete")
}
