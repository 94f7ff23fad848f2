package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/leafguard/internal/config"     // Internal config loader
	"github.com/iliyamo/leafguard/internal/database"   // MySQL open, retry and migrations
	"github.com/iliyamo/leafguard/internal/handler"    // HTTP handlers
	"github.com/iliyamo/leafguard/internal/imaging"    // upload resizing
	"github.com/iliyamo/leafguard/internal/inference"  // prediction and recommendation clients
	"github.com/iliyamo/leafguard/internal/logging"    // zerolog global logger
	"github.com/iliyamo/leafguard/internal/metrics"    // Prometheus collectors
	"github.com/iliyamo/leafguard/internal/middleware" // cache and rate limiting
	"github.com/iliyamo/leafguard/internal/queue"      // RabbitMQ events
	"github.com/iliyamo/leafguard/internal/repository" // stores
	"github.com/iliyamo/leafguard/internal/router"     // Internal router setup
	"github.com/iliyamo/leafguard/internal/service"    // business services
	"github.com/iliyamo/leafguard/internal/storage"    // image storage backends
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	var status database.Status
	store, err := openStore(ctx, cfg, &status)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rdb := config.NewRedisClient(ctx)
	if rdb != nil {
		defer rdb.Close()
	}
	rateLimit, stopLimiter := newRateLimiter(rdb)
	defer stopLimiter()
	cache := middleware.NewHistoryCache(config.LoadCacheConfig(), rdb)

	images, err := openImageStore(ctx, cfg)
	if err != nil {
		return err
	}

	analysis := &service.AnalysisService{
		Processor:   imaging.New(cfg.ImageProcessing),
		Predictor:   inference.NewPredictionClient(cfg.PredictURL, cfg.UpstreamTimeout, m),
		Recommender: inference.NewRecommendationClient(cfg.RecommendURL, cfg.UpstreamTimeout, m),
		Images:      images,
		History:     store,
		Cache:       cache,
	}
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.RabbitMQURL)
		pubDone := make(chan struct{})
		defer func() {
			<-pubDone
			_ = pub.Close()
		}()
		pubCtx, stopPub := context.WithCancel(ctx)
		defer stopPub()
		go func() {
			defer close(pubDone)
			_ = pub.Run(pubCtx)
		}()
		analysis.Events = pub

		consumer := &queue.Consumer{URL: cfg.RabbitMQURL, LogDir: cfg.EventsLogDir}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("analysis consumer stopped")
			}
		}()
	}

	deps := router.Deps{
		JWTSecret:      cfg.JWTSecret,
		ClientOrigin:   cfg.ClientOrigin,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Health:         &handler.HealthHandler{Store: store, Status: &status, Driver: cfg.StoreDriver},
		Auth: handler.NewAuthHandler(&service.AuthService{
			Users:      store,
			JWTSecret:  cfg.JWTSecret,
			TokenTTL:   cfg.JWTTTL,
			BcryptCost: cfg.BcryptCost,
		}),
		Analyze: &handler.AnalyzeHandler{Analysis: analysis, MaxUploadBytes: cfg.MaxUploadBytes, Metrics: m},
		History: &handler.HistoryHandler{History: &service.HistoryService{
			Store:        store,
			DefaultLimit: cfg.HistoryDefaultLimit,
			MaxLimit:     cfg.HistoryMaxLimit,
		}},
		Cache:     cache,
		RateLimit: rateLimit,
		Metrics:   m,
	}
	if cfg.UploadBackend == config.UploadDisk {
		deps.UploadDir = cfg.UploadDir
	}
	e := router.New(deps)

	return serve(ctx, e, ":"+cfg.Port, cfg.Env)
}

// openStore connects the configured backend with bounded retries.  MySQL
// migrations run once the connection is up.
func openStore(ctx context.Context, cfg config.Config, status *database.Status) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		var store *repository.MongoStore
		err := database.Connect(ctx, "mongo", cfg.DBConnectAttempts, status, func(ctx context.Context) error {
			var err error
			store, err = repository.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection)
			return err
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.StoreMemory:
		status.Set(database.StateReady)
		logging.Warn().Msg("using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), nil

	default:
		var store *repository.MySQLStore
		err := database.Connect(ctx, "mysql", cfg.DBConnectAttempts, status, func(ctx context.Context) error {
			db, err := database.Open(ctx, cfg.MySQLDSN())
			if err != nil {
				return err
			}
			store = repository.NewMySQLStore(db)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := database.RunMigrations(cfg.MigrateURL()); err != nil {
				_ = store.Close(ctx)
				return nil, err
			}
			logging.Info().Msg("database migrations applied")
		}
		return store, nil
	}
}

func openImageStore(ctx context.Context, cfg config.Config) (service.ImageStore, error) {
	if cfg.UploadBackend == config.UploadS3 {
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		})
	}
	return storage.NewDiskStore(cfg.UploadDir)
}

// newRateLimiter prefers the shared Redis bucket and falls back to the
// in-process limiter.  The returned func releases the limiter.
func newRateLimiter(rdb *redis.Client) (echo.MiddlewareFunc, func()) {
	rl := config.LoadRateLimitConfig()
	if rdb != nil {
		return middleware.NewTokenBucket(rl, rdb), func() {}
	}
	local := middleware.NewLocalLimiter(rl)
	return local.Middleware(), local.Stop
}

func serve(ctx context.Context, e *echo.Echo, addr, env string) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Str("env", env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
