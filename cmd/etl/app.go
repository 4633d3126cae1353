package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"

	"github.com/couchcryptid/climate-region-etl/internal/adapter/geojson"
	"github.com/couchcryptid/climate-region-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/climate-region-etl/internal/adapter/kafka"
	"github.com/couchcryptid/climate-region-etl/internal/adapter/objectstore"
	"github.com/couchcryptid/climate-region-etl/internal/adapter/raster"
	"github.com/couchcryptid/climate-region-etl/internal/checkpoint"
	"github.com/couchcryptid/climate-region-etl/internal/config"
	"github.com/couchcryptid/climate-region-etl/internal/domain"
	"github.com/couchcryptid/climate-region-etl/internal/ledger"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
	"github.com/couchcryptid/climate-region-etl/internal/pipeline"
	"github.com/couchcryptid/climate-region-etl/internal/reconcile"
)

// app carries the process-wide dependencies shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// jobStatus reports readiness for whichever stages the command runs.
type jobStatus struct {
	pipeline   *pipeline.Pipeline
	reconciled atomic.Bool
}

func (s *jobStatus) CheckReadiness(ctx context.Context) error {
	if s.reconciled.Load() {
		return nil
	}
	if s.pipeline != nil {
		return s.pipeline.CheckReadiness(ctx)
	}
	return errors.New("reconciliation has not completed yet")
}

// serve runs the HTTP server for the duration of job.
func (a *app) serve(ctx context.Context, status *jobStatus, job func(context.Context) error) error {
	var progress httpadapter.ProgressReporter
	if status.pipeline != nil {
		progress = status.pipeline
	}
	srv := httpadapter.NewServer(a.cfg.HTTPAddr, status, progress, a.logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
		}
	}()

	jobErr := job(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}
	return jobErr
}

// datasets returns the catalogue, restricted to names when any are given.
func (a *app) datasets(names []string) ([]domain.DatasetSpec, error) {
	all, err := a.cfg.Datasets()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return all, nil
	}

	var out []domain.DatasetSpec
	for _, n := range names {
		i := slices.IndexFunc(all, func(ds domain.DatasetSpec) bool { return ds.Name == n })
		if i < 0 {
			return nil, fmt.Errorf("unknown dataset %q", n)
		}
		out = append(out, all[i])
	}
	return out, nil
}

// mirror connects the object store mirror when configured. The interface
// stays nil otherwise.
func (a *app) mirror(ctx context.Context) (checkpoint.Uploader, error) {
	if !a.cfg.MirrorEnabled() {
		return nil, nil
	}
	m, err := objectstore.New(ctx, objectstore.Options{
		Endpoint:  a.cfg.S3Endpoint,
		Bucket:    a.cfg.S3Bucket,
		AccessKey: a.cfg.S3AccessKey,
		SecretKey: a.cfg.S3SecretKey,
		UseSSL:    a.cfg.S3UseSSL,
		Prefix:    a.cfg.S3Prefix,
	}, a.cfg.ShutdownTimeout, a.logger)
	if err != nil {
		return nil, err
	}
	a.logger.Info("object store mirror enabled", "endpoint", a.cfg.S3Endpoint, "bucket", a.cfg.S3Bucket)
	return m, nil
}

func (a *app) tokenSource() raster.TokenSource {
	if a.cfg.RasterTokenFile != "" {
		return raster.FileToken{Path: a.cfg.RasterTokenFile}
	}
	a.logger.Warn("RASTER_TOKEN_FILE not set, sending unauthenticated requests")
	return raster.StaticToken("")
}

// withRun records the command as a ledger run around fn.
func (a *app) withRun(ctx context.Context, command string, fn func(*ledger.Store, string) error) error {
	store, err := ledger.Open(ctx, a.cfg.LedgerPath, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runID, err := store.StartRun(ctx, command)
	if err != nil {
		return err
	}
	a.logger.Info("run started", "run_id", runID, "command", command)

	runErr := fn(store, runID)

	// The job context may already be cancelled; the outcome is still recorded.
	done := context.WithoutCancel(ctx)
	if err := store.CompleteRun(done, runID, runErr); err != nil {
		a.logger.Error("record run completion failed", "error", err, "run_id", runID)
		return runErr
	}
	a.logRun(done, store, runID)
	return runErr
}

// logRun reports the finished run as stored in the ledger.
func (a *app) logRun(ctx context.Context, store *ledger.Store, runID string) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		a.logger.Error("read run failed", "error", err, "run_id", runID)
		return
	}
	a.logger.Info("run finished",
		"run_id", run.ID,
		"command", run.Command,
		"status", run.Status,
		"duration", run.FinishedAt.Sub(run.StartedAt).String(),
	)
}

// extract runs the extraction pipeline over the selected datasets.
func (a *app) extract(ctx context.Context, status *jobStatus, datasets []domain.DatasetSpec, store *ledger.Store, runID string) error {
	regions, err := geojson.LoadFile(a.cfg.RegionsPath, a.cfg.RegionIDField)
	if err != nil {
		return err
	}
	a.logger.Info("regions loaded", "count", len(regions), "path", a.cfg.RegionsPath)

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := status.pipeline.Run(ctx, datasets, regions); err != nil {
		return err
	}

	return a.reportExtraction(ctx, store, runID)
}

// reportExtraction logs the run's attempt totals per outcome and warns about
// region-months that came back empty at every scale.
func (a *app) reportExtraction(ctx context.Context, store *ledger.Store, runID string) error {
	counts, err := store.AttemptCounts(ctx, runID)
	if err != nil {
		return err
	}
	a.logger.Info("extraction attempts",
		"run_id", runID,
		domain.OutcomeSuccess.String(), counts[domain.OutcomeSuccess.String()],
		domain.OutcomeRetry.String(), counts[domain.OutcomeRetry.String()],
		domain.OutcomeEmpty.String(), counts[domain.OutcomeEmpty.String()],
	)

	missing, err := store.MissingExtractions(ctx, runID)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		a.logger.Warn("region-months without data at any scale", "count", len(missing), "policy", string(a.cfg.EmptyPolicy))
	}
	return nil
}

// newPipeline wires the raster client, checkpoint store and ledger journal.
func (a *app) newPipeline(store *ledger.Store, runID string, mirror checkpoint.Uploader) *pipeline.Pipeline {
	client := raster.NewClient(a.cfg.RasterBaseURL, a.cfg.RasterProject, a.cfg.RasterTimeout, a.tokenSource(), a.logger, a.metrics)
	checkpoints := checkpoint.NewStore(a.cfg.CheckpointDir, mirror, a.logger)
	return pipeline.New(client, checkpoints, store.Journal(runID), a.cfg.Scales, a.cfg.EmptyPolicy, a.logger, a.metrics)
}

// reconcile combines the checkpoints, writes the outputs and publishes them
// when Kafka is configured.
func (a *app) reconcile(ctx context.Context, status *jobStatus, datasets []domain.DatasetSpec, mirror checkpoint.Uploader) error {
	checkpoints := checkpoint.NewStore(a.cfg.CheckpointDir, nil, a.logger)
	res, err := reconcile.New(checkpoints, a.logger, a.metrics).Reconcile(ctx, datasets)
	if err != nil {
		return err
	}

	paths, err := reconcile.WriteOutputs(ctx, a.cfg.OutputDir, res, mirror)
	if err != nil {
		return err
	}
	a.logger.Info("outputs written", "files", paths)

	if a.cfg.KafkaEnabled() {
		pub := kafkaadapter.NewPublisher(a.cfg, a.logger)
		defer func() {
			if err := pub.Close(); err != nil {
				a.logger.Error("kafka publisher close error", "error", err)
			}
		}()
		if err := pub.Publish(ctx, reconcile.OutputHistorical, res.Historical); err != nil {
			return err
		}
		if err := pub.Publish(ctx, reconcile.OutputPrediction, res.Prediction); err != nil {
			return err
		}
	}

	status.reconciled.Store(true)
	return nil
}
