package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
)

// monthsPerFlush is the number of months accumulated per checkpoint.
const monthsPerFlush = 12

// CheckpointSink persists one year of a dataset's records, replacing any
// existing artifact for the same (dataset, year). It returns the artifact's
// location.
type CheckpointSink interface {
	WriteYear(ctx context.Context, ds domain.DatasetSpec, year int, records []domain.RegionMonthRecord) (string, error)
}

// Reconnector re-establishes the raster service session.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// BatchWriter accumulates one dataset's records and writes them to a
// checkpoint every twelve months. A BatchWriter is owned by a single loop
// and is never shared across datasets.
type BatchWriter struct {
	ds      domain.DatasetSpec
	sink    CheckpointSink
	session Reconnector
	journal Journal
	logger  *slog.Logger
	metrics *observability.Metrics

	pending []domain.RegionMonthRecord

	// The last flushed batch is kept so a residual flush landing on the same
	// year extends that artifact instead of overwriting it.
	lastYear  int
	lastBatch []domain.RegionMonthRecord
	flushes   int
}

// NewBatchWriter creates a writer for ds. journal may be nil.
func NewBatchWriter(ds domain.DatasetSpec, sink CheckpointSink, session Reconnector, journal Journal, logger *slog.Logger, metrics *observability.Metrics) *BatchWriter {
	if journal == nil {
		journal = nopJournal{}
	}
	return &BatchWriter{
		ds:      ds,
		sink:    sink,
		session: session,
		journal: journal,
		logger:  logger,
		metrics: metrics,
	}
}

// Accept appends a record to the accumulator.
func (w *BatchWriter) Accept(rec domain.RegionMonthRecord) {
	w.pending = append(w.pending, rec)
	w.metrics.RecordsAccepted.WithLabelValues(w.ds.Name).Inc()
}

// Pending returns the number of records not yet flushed.
func (w *BatchWriter) Pending() int {
	return len(w.pending)
}

// Flushes returns the number of checkpoints written so far.
func (w *BatchWriter) Flushes() int {
	return w.flushes
}

// MaybeFlush flushes when monthIndex closes a twelve-month batch. The
// checkpoint is labelled with month's year.
func (w *BatchWriter) MaybeFlush(ctx context.Context, monthIndex int, month domain.MonthInterval) (bool, error) {
	if (monthIndex+1)%monthsPerFlush != 0 {
		return false, nil
	}
	return true, w.Flush(ctx, month.Year())
}

// Finish flushes any residual records under the year of last, the final
// month processed. It is a no-op when the accumulator is empty.
func (w *BatchWriter) Finish(ctx context.Context, last domain.MonthInterval) error {
	if len(w.pending) == 0 {
		return nil
	}
	year := last.Year()
	if w.flushes > 0 && year == w.lastYear {
		w.pending = append(slices.Clone(w.lastBatch), w.pending...)
	}
	return w.Flush(ctx, year)
}

// Flush writes the accumulator as the checkpoint for year, clears it and
// reconnects the raster session. The accumulator is only cleared once the
// write has succeeded.
func (w *BatchWriter) Flush(ctx context.Context, year int) error {
	start := time.Now()

	path, err := w.sink.WriteYear(ctx, w.ds, year, w.pending)
	if err != nil {
		return fmt.Errorf("write checkpoint %s %d: %w", w.ds.Name, year, err)
	}
	w.metrics.CheckpointFlush.WithLabelValues(w.ds.Name).Inc()
	w.metrics.FlushDuration.Observe(time.Since(start).Seconds())

	if err := w.journal.RecordFlush(ctx, w.ds.Name, year, len(w.pending), path); err != nil {
		w.logger.Warn("record flush in ledger failed", "error", err, "dataset", w.ds.Name, "year", year)
	}
	w.logger.Info("checkpoint written", "dataset", w.ds.Name, "year", year, "records", len(w.pending), "path", path)

	w.lastYear = year
	w.lastBatch = w.pending
	w.pending = nil
	w.flushes++

	if err := w.session.Reconnect(ctx); err != nil {
		return fmt.Errorf("reconnect after checkpoint: %w", err)
	}
	w.metrics.SessionReconnect.Inc()
	return nil
}
