package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/faceprofiles/internal/api"
	"github.com/your-org/faceprofiles/internal/api/handlers"
	"github.com/your-org/faceprofiles/internal/auth"
	"github.com/your-org/faceprofiles/internal/cache"
	"github.com/your-org/faceprofiles/internal/config"
	"github.com/your-org/faceprofiles/internal/faceprofile"
	"github.com/your-org/faceprofiles/internal/gateway"
	"github.com/your-org/faceprofiles/internal/migrate"
	"github.com/your-org/faceprofiles/internal/observability"
	"github.com/your-org/faceprofiles/internal/queue"
	"github.com/your-org/faceprofiles/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting face profile API", "port", cfg.Server.Port, "store", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		store  faceprofile.ProfileStore
		checks []handlers.ReadinessCheck
		opts   = faceprofile.Options{
			EmbeddingVersion:   cfg.Enrollment.EmbeddingVersion,
			MaxProfilesPerUser: cfg.Enrollment.MaxProfilesPerUser,
			CommitTimeout:      cfg.Enrollment.CommitTimeout,
			Compensate:         cfg.Gateway.CompensateOnFailure,
		}
	)

	switch cfg.Database.Driver {
	case config.DriverMemory:
		slog.Warn("using in-memory profile store, data is lost on restart")
		store = storage.NewMemoryStore()
	default:
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := migrate.Up(ctx, db.Pool()); err != nil {
				slog.Error("apply migrations", "error", err)
				os.Exit(1)
			}
		}
		store = db
		checks = append(checks, handlers.ReadinessCheck{Name: "postgres", Ping: db.Ping})
	}

	// MinIO keeps enrollment images; without it images are not retained.
	var images handlers.ImageStore
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		images = minioStore
		opts.Images = minioStore
		checks = append(checks, handlers.ReadinessCheck{Name: "minio", Ping: minioStore.Ping})
	}

	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		opts.Events = producer
		checks = append(checks, handlers.ReadinessCheck{Name: "nats", Ping: func(context.Context) error {
			return producer.Ping()
		}})
	}

	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		// The cache only holds derived views, so the API runs without it.
		slog.Warn("connect to redis, cache invalidation disabled", "error", err)
	} else if redisClient != nil {
		defer redisClient.Close()
		invalidator := cache.NewRedisInvalidator(redisClient)
		opts.Cache = invalidator
		checks = append(checks, handlers.ReadinessCheck{Name: "redis", Ping: invalidator.Ping})
	}

	engine, err := gateway.NewClient(cfg.Gateway)
	if err != nil {
		slog.Error("create verification gateway client", "addr", cfg.Gateway.Addr, "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	coordinator, err := faceprofile.NewCoordinator(store, engine, opts)
	if err != nil {
		slog.Error("create profile coordinator", "error", err)
		os.Exit(1)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKeys:  auth.ParseKeys(cfg.Server.APIKey),
		Profiles: coordinator,
		Images:   images,
		Checks:   checks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
