package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradecore/internal/broker"
	"tradecore/internal/config"
	cronrunner "tradecore/internal/cron"
	"tradecore/internal/db"
	"tradecore/internal/handler"
	"tradecore/internal/logger"
	"tradecore/internal/marketdata"
	gormrepository "tradecore/internal/repository/gorm"
	"tradecore/internal/risk"
	"tradecore/internal/service"
	signalhub "tradecore/internal/signal"
)

func main() {
	cfgPath := os.Getenv("TC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("TC_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	var brk broker.Broker
	var paperBroker *broker.PaperBroker
	if cfg.Broker.Paper && cfg.Broker.APIKey == "" {
		// No credentials: run fully offline against the in-memory broker.
		paperBroker = broker.NewPaperBroker(decimal.NewFromInt(100_000))
		brk = paperBroker
		logger.Info("using in-memory paper broker")
	} else {
		brokerHTTP := &http.Client{Timeout: cfg.Broker.Timeout}
		brk = broker.NewAlpacaClient(brokerHTTP, cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Broker.APISecret)
	}

	dataHTTP := &http.Client{Timeout: cfg.MarketData.Timeout}
	provider := marketdata.NewHTTPProvider(dataHTTP, cfg.MarketData.BaseURL, cfg.Broker.APIKey, cfg.Broker.APISecret)

	hub := signalhub.NewHub(cfg.Engine.QueueSize, logger)
	riskMgr := &risk.Manager{Config: cfg.Risk, Repo: store, Logger: logger}
	positionManager := &service.PositionManager{Repo: store, Provider: provider, Logger: logger}
	positionSync := &service.PositionSyncService{Repo: store, Broker: brk, Logger: logger}
	engineSvc := &service.ExecutionEngine{
		Repo:      store,
		Broker:    brk,
		Risk:      riskMgr,
		Positions: positionManager,
		Provider:  provider,
		Hub:       hub,
		Logger:    logger,
	}
	trader := service.NewAutonomousTrader(store, brk, provider, hub, logger)
	trader.Watchlist = cfg.Autonomous.Watchlist
	if cfg.Autonomous.CycleInterval > 0 {
		trader.CycleInterval = cfg.Autonomous.CycleInterval
	}
	if cfg.Autonomous.Enabled {
		trader.Start()
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(router)
	ordersHandler := &handler.OrderHandler{Repo: store, Engine: engineSvc}
	ordersHandler.Register(router)
	positionsHandler := &handler.PositionHandler{Repo: store}
	positionsHandler.Register(router)
	portfolioHandler := &handler.PortfolioHandler{Repo: store}
	portfolioHandler.Register(router)
	signalsHandler := &handler.SignalHandler{Hub: hub}
	signalsHandler.Register(router)
	autonomousHandler := &handler.AutonomousHandler{Trader: trader}
	autonomousHandler.Register(router)
	riskHandler := &handler.RiskHandler{Repo: store, Risk: riskMgr}
	riskHandler.Register(router)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := engineSvc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("execution engine stopped", zap.Error(err))
		}
	}()

	if paperBroker != nil {
		// Paper fills come through an in-process callback instead of the
		// websocket stream.
		paperBroker.OnUpdate(func(update broker.OrderUpdate) {
			if err := engineSvc.HandleOrderUpdate(ctx, update); err != nil {
				logger.Warn("paper trade update failed", zap.Error(err))
			}
		})
	} else {
		stream := broker.NewUpdateStream(broker.UpdateStreamOptions{
			URL:        cfg.Broker.StreamURL,
			APIKey:     cfg.Broker.APIKey,
			APISecret:  cfg.Broker.APISecret,
			BackoffMin: cfg.Engine.StreamBackoffMin,
			BackoffMax: cfg.Engine.StreamBackoffMax,
			Logger:     logger,
		})
		go func() {
			if err := engineSvc.RunStream(ctx, stream); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("trade update stream stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := positionSync.Run(ctx, 30*time.Second); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("position sync stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := trader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("autonomous trader stopped", zap.Error(err))
		}
	}()

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		if _, err := cronRunner.Add("mark_refresh", cfg.Cron.MarkRefresh, func(ctx context.Context) {
			if err := positionManager.RefreshMarks(ctx); err != nil {
				logger.Warn("mark refresh failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register mark refresh failed", zap.Error(err))
		}
		if _, err := cronRunner.Add("portfolio_snapshot", cfg.Cron.PortfolioSnapshot, func(ctx context.Context) {
			if err := positionManager.SnapshotPortfolio(ctx); err != nil {
				logger.Warn("portfolio snapshot failed", zap.Error(err))
			}
		}); err != nil {
			logger.Warn("cron register portfolio snapshot failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
