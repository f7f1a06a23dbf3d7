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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/e-mzungu/okx-bot/internal/config"
	cronrunner "github.com/e-mzungu/okx-bot/internal/cron"
	"github.com/e-mzungu/okx-bot/internal/db"
	"github.com/e-mzungu/okx-bot/internal/events"
	"github.com/e-mzungu/okx-bot/internal/execution"
	"github.com/e-mzungu/okx-bot/internal/feed"
	"github.com/e-mzungu/okx-bot/internal/handler"
	"github.com/e-mzungu/okx-bot/internal/ledger"
	"github.com/e-mzungu/okx-bot/internal/logger"
	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/performance"
	"github.com/e-mzungu/okx-bot/internal/registry"
	gormrepository "github.com/e-mzungu/okx-bot/internal/repository/gorm"
	"github.com/e-mzungu/okx-bot/internal/risk"
	"github.com/e-mzungu/okx-bot/internal/state"
	"github.com/e-mzungu/okx-bot/internal/venue/okx"

	_ "github.com/e-mzungu/okx-bot/docs"
)

func main() {
	cfgPath := os.Getenv("OKXBOT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("OKXBOT_ENV_ONLY"); envOnlyRaw != "" {
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
	settingsSvc := &state.SettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaults(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	stateStore := &state.Store{Repo: store, Logger: logger}
	modelRegistry := &registry.Registry{Repo: store, Logger: logger}
	bus := events.NewBus()
	defer bus.Close()

	closer := &ledger.Closer{
		Risk:   cfg.Risk,
		Repo:   store,
		State:  stateStore,
		Logger: logger,
	}
	book := &ledger.Ledger{
		Repo:   store,
		Closer: closer,
		Bus:    bus,
		Logger: logger,
	}

	var venueClient execution.VenueClient
	if cfg.OKX.APIKey != "" && cfg.OKX.APISecret != "" {
		venueClient = okx.NewClient(cfg.OKX, logger)
	} else if strings.EqualFold(cfg.Trading.Mode, models.ModeLive) {
		logger.Fatal("live mode requires okx credentials")
	}

	engine := execution.New(cfg.Trading, store, book, bus, settingsSvc, venueClient, logger)
	gate := &risk.Gate{
		Trading:  cfg.Trading,
		Risk:     cfg.Risk,
		Repo:     store,
		State:    stateStore,
		Settings: settingsSvc,
		Registry: modelRegistry,
		Logger:   logger,
	}
	aggregator := &performance.Aggregator{Repo: store, Logger: logger}

	queue := feed.NewQueue(cfg.Feed.QueueSize, logger)
	feedSvc := &feed.Service{Cfg: cfg.Feed, Repo: store, Queue: queue, Logger: logger}
	consumer := &feed.Consumer{
		Workers:  cfg.Feed.Workers,
		Queue:    queue,
		Repo:     store,
		Gate:     gate,
		Engine:   engine,
		Settings: settingsSvc,
		Logger:   logger,
	}
	sweeper := &feed.Sweeper{Repo: store, Logger: logger}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	httpEngine := gin.New()
	httpEngine.Use(gin.Recovery())
	httpEngine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(httpEngine)
	signalHandler := &handler.SignalHandler{Repo: store, Feed: feedSvc}
	signalHandler.Register(httpEngine)
	priceHandler := &handler.PriceHandler{Ledger: book}
	priceHandler.Register(httpEngine)
	orderHandler := &handler.OrderHandler{Repo: store}
	orderHandler.Register(httpEngine)
	positionHandler := &handler.PositionHandler{Repo: store}
	positionHandler.Register(httpEngine)
	tradeHandler := &handler.TradeHandler{Repo: store}
	tradeHandler.Register(httpEngine)
	perfHandler := &handler.PerformanceHandler{Repo: store, Aggregator: aggregator}
	perfHandler.Register(httpEngine)
	modelHandler := &handler.ModelHandler{Repo: store, Registry: modelRegistry}
	modelHandler.Register(httpEngine)
	stateHandler := &handler.StateHandler{State: stateStore}
	stateHandler.Register(httpEngine)

	httpEngine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: httpEngine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)

	_, err = cronRunner.Add(cfg.Cron.SignalSweep, func(ctx context.Context) {
		if err := sweeper.Sweep(ctx); err != nil {
			logger.Warn("signal sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("cron register signal sweep failed", zap.Error(err))
	}

	if venueClient != nil {
		_, err = cronRunner.Add(cfg.Cron.Reconcile, func(ctx context.Context) {
			if !settingsSvc.IsEnabled(ctx, state.SettingReconcilerEnabled, true) {
				return
			}
			if err := engine.Reconcile(ctx); err != nil {
				logger.Warn("order reconcile failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register reconcile failed", zap.Error(err))
		}
	}

	_, err = cronRunner.Add(cfg.Cron.PerformanceRollup, func(ctx context.Context) {
		if !settingsSvc.IsEnabled(ctx, state.SettingAggregatorEnabled, true) {
			return
		}
		if err := aggregator.RecomputeAll(ctx); err != nil {
			logger.Warn("performance recompute failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("cron register performance rollup failed", zap.Error(err))
	}

	_, err = cronRunner.Add(cfg.Cron.DailyRolloverCheck, func(ctx context.Context) {
		if err := stateStore.Rollover(ctx); err != nil {
			logger.Warn("daily rollover failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("cron register daily rollover failed", zap.Error(err))
	}

	if cfg.Cron.Enabled {
		cronRunner.Start()
		defer cronRunner.Stop()
	} else {
		logger.Warn("cron disabled, background jobs will not run")
	}

	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("signal consumer stopped", zap.Error(err))
		}
	}()

	if venueClient != nil {
		go func() {
			if err := engine.RunFillStream(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("fill stream stopped", zap.Error(err))
			}
		}()
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
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
