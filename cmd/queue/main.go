package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"techtrims/internal/api"
	"techtrims/internal/config"
	"techtrims/internal/database"
	"techtrims/internal/events"
	"techtrims/internal/logging"
	"techtrims/internal/metrics"
	"techtrims/internal/models"
	"techtrims/internal/repository"
	"techtrims/internal/service"
	"techtrims/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	barbers, err := loadBarbers(&logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, barbers, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	coordinator := initCoordinator(cfg, redisClient, &logger)

	bus := events.NewEventBus()
	metrics.Register()
	metrics.Subscribe(bus)

	svc := service.NewQueueService(db, coordinator, bus, queueOptions(cfg), logging.Component(&logger, "queue"))

	jobs := worker.NewJobRunner(db, redisClient, worker.RetryPolicy{}, cfg.Queue.JobPollInterval, logging.Component(&logger, "jobs"))
	jobs.Register(service.JobBarberResume, svc.HandleResumeJob)
	svc.SetJobScheduler(jobs)

	go jobs.Start(ctx)
	go worker.NewSweepLoop(svc, cfg.Queue.SweepInterval, logging.Component(&logger, "sweeper")).Run(ctx)
	go database.NewBackupService(db, cfg.Backup, logging.Component(&logger, "backup")).Start(ctx)

	checks := map[string]api.Pinger{"database": db}
	httpServer := api.NewHTTPServer(&cfg.API, svc, coordinator, checks, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, checks, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go grpcServer.WatchReadiness(ctx, 10*time.Second)
	}

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "queue-main").Logger()

	return cfg, logger, closer, nil
}

func loadBarbers(logger *zerolog.Logger) ([]models.Barber, error) {
	barbersPath := os.Getenv("BARBERS_PATH")
	if barbersPath == "" {
		barbersPath = "configs/barbers.yaml"
	}
	data, err := os.ReadFile(barbersPath)
	if err != nil {
		logger.Error().Err(err).Str("barbers_path", barbersPath).Msg("read barbers")
		return nil, err
	}

	var barbersConfig struct {
		Barbers []models.Barber `yaml:"barbers"`
	}
	if err := yaml.Unmarshal(data, &barbersConfig); err != nil {
		logger.Error().Err(err).Str("barbers_path", barbersPath).Msg("parse barbers")
		return nil, err
	}

	return barbersConfig.Barbers, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, barbers []models.Barber, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	db.SetTimeout(cfg.Queue.StoreTimeout)

	for i := range barbers {
		if err := db.UpsertBarber(ctx, &barbers[i]); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seed barber %d: %w", barbers[i].ID, err)
		}
	}
	logger.Info().Int("barbers", len(barbers)).Msg("barbers seeded")
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initCoordinator prefers Redis for locks and check-in limits so several
// replicas share them; a single process falls back to memory.
func initCoordinator(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) repository.Coordinator {
	memory := repository.NewMemoryCoordinator()
	if redisClient == nil {
		logger.Warn().Msg("queue locks are process-local")
		return memory
	}
	primary := repository.NewRedisCoordinator(redisClient, cfg.Queue.LockTTL)
	return repository.NewFailoverCoordinator(primary, memory, logging.Component(logger, "coordinator"))
}

func queueOptions(cfg *config.Config) service.Options {
	opts := service.DefaultOptions()
	opts.GracePeriod = cfg.Queue.GracePeriod
	opts.WalkInHold = cfg.Queue.WalkInHold
	opts.PreBookHold = cfg.Queue.PreBookHold
	opts.PreBookEarlyWindow = cfg.Queue.PreBookEarlyWindow
	opts.DefaultDuration = cfg.Queue.DefaultDuration
	opts.LockTimeout = cfg.Queue.LockTTL
	opts.StaleRetries = cfg.Queue.StaleRetries
	opts.Retry.MaxRetries = cfg.Queue.StaleRetries
	return opts
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("queue engine started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("queue engine stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
