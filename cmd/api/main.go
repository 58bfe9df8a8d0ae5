package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/contaflow/recon-backend/internal/api"
	"github.com/contaflow/recon-backend/internal/application/reconciler"
	"github.com/contaflow/recon-backend/internal/infrastructure/config"
	"github.com/contaflow/recon-backend/internal/infrastructure/logging"
	"github.com/contaflow/recon-backend/internal/infrastructure/storage"
)

func main() {
	var (
		configFile = flag.String("config", "config.yaml", "Configuration file path")
		port       = flag.Int("port", 0, "Override the configured server port")
	)
	flag.Parse()

	cfg := config.LoadOrEnvWithPath(*configFile)
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "api")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	engine := reconciler.NewReconciler(cfg, store, logger, nil)
	jobs := reconciler.NewJobService(engine, logger)
	jobs.StartBackgroundCleanup(5 * time.Minute)
	defer jobs.StopBackgroundCleanup()

	server := api.NewServer(cfg, engine, jobs, logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("starting API server", "addr", addr, "db", cfg.Storage.DatabasePath)
	if err := server.Run(addr); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
