package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/contaflow/recon-backend/internal/application/reconciler"
	"github.com/contaflow/recon-backend/internal/infrastructure/config"
	"github.com/contaflow/recon-backend/internal/infrastructure/logging"
	"github.com/contaflow/recon-backend/internal/infrastructure/storage"
)

func main() {
	var (
		configFile = flag.String("config", "config.yaml", "Configuration file path")
		tenant     = flag.String("tenant", "", "Tenant to reconcile (required)")
		dedup      = flag.Bool("dedup", false, "Run duplicate cleanup before matching")
		maxTx      = flag.Int("max", 0, "Maximum transactions to process (0 = all)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if *tenant == "" {
		fmt.Fprintln(os.Stderr, "usage: reconcile -tenant <id> [-dedup] [-max N]")
		os.Exit(2)
	}

	cfg := config.LoadOrEnvWithPath(*configFile)
	loggingCfg := cfg.Observability.Logging
	if *verbose {
		loggingCfg.Level = "debug"
	}
	logger := logging.NewLoggerWithSystem(loggingCfg, "reconcile")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	// Ctrl-C stops submitting further items; committed matches stand.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := reconciler.NewReconciler(cfg, store, logger, nil)
	result, err := engine.Reconcile(ctx, *tenant, reconciler.Options{
		Dedup:           *dedup,
		MaxTransactions: *maxTx,
	})
	if err != nil {
		logger.Error("reconciliation failed", "tenant_id", *tenant, "error", err)
		os.Exit(1)
	}

	fmt.Printf("run %d: processed=%d auto_matched=%d suggested=%d skipped=%d errored=%d\n",
		result.RunID, result.Processed, result.AutoMatched, result.Suggested,
		result.Skipped, result.Errored)
	if result.DuplicatesRemoved > 0 {
		fmt.Printf("duplicates removed: %d\n", result.DuplicatesRemoved)
	}
	if result.TransfersCollapsed > 0 {
		fmt.Printf("transfer legs collapsed: %d\n", result.TransfersCollapsed)
	}
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}

	if result.Errored > 0 {
		os.Exit(1)
	}
}
