// Command etl extracts monthly climate summaries per region from a remote
// raster service, checkpoints them as yearly CSV files and reconciles the
// datasets into combined historical and prediction tables.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/couchcryptid/climate-region-etl/internal/config"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
)

type cli struct {
	Extract   extractCmd   `cmd:"" help:"Extract every dataset into yearly checkpoint files."`
	Reconcile reconcileCmd `cmd:"" help:"Combine checkpoint files into the output tables."`
	Run       runCmd       `cmd:"" default:"1" help:"Extract, then reconcile."`
	Validate  validateCmd  `cmd:"" help:"Check checkpoint files for gaps and duplicates."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("etl"),
		kong.Description("Climate region ETL: scale-escalating extraction and dataset reconciliation."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(&app{cfg: cfg, logger: logger, metrics: metrics}); err != nil {
		logger.Error("command failed", "command", kctx.Command(), "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("command complete", "command", kctx.Command())
}
