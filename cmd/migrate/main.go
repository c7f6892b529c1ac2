package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/your-org/faceprofiles/internal/config"
	"github.com/your-org/faceprofiles/internal/migrate"
	"github.com/your-org/faceprofiles/internal/observability"
	"github.com/your-org/faceprofiles/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	cmd := flag.String("cmd", "up", "goose command: up|down|status|version|redo|reset")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Database.Driver != config.DriverPostgres {
		slog.Error("migrations require the postgres driver", "driver", cfg.Database.Driver)
		os.Exit(1)
	}

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool())
	defer sqlDB.Close()

	slog.Info("running migrations", "cmd", *cmd)
	if err := migrate.Run(context.Background(), sqlDB, *cmd, flag.Args()...); err != nil {
		slog.Error("migrate", "cmd", *cmd, "error", err)
		os.Exit(1)
	}
	slog.Info("migrations complete", "cmd", *cmd)
}
