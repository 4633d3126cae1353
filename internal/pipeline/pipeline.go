package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
)

// Journal records what the extraction did, for auditing and for listing
// region-months that came back empty.
type Journal interface {
	RecordExtraction(ctx context.Context, datasetID, regionID string, month time.Time, attempts []domain.Attempt, empty bool) error
	RecordFlush(ctx context.Context, datasetID string, year, records int, path string) error
}

type nopJournal struct{}

func (nopJournal) RecordExtraction(context.Context, string, string, time.Time, []domain.Attempt, bool) error {
	return nil
}

func (nopJournal) RecordFlush(context.Context, string, int, int, string) error {
	return nil
}

// Pipeline drives extraction over datasets, months and regions, strictly in
// that order and one query at a time.
type Pipeline struct {
	raster    RasterService
	extractor *Extractor
	sink      CheckpointSink
	journal   Journal
	policy    domain.EmptyPolicy
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool

	mu       sync.Mutex
	progress Progress
}

// Progress is a snapshot of where the extraction loop is.
type Progress struct {
	Running     bool   `json:"running"`
	Dataset     string `json:"dataset,omitempty"`
	Month       string `json:"month,omitempty"`
	MonthsDone  int    `json:"months_done"`
	MonthsTotal int    `json:"months_total"`
	Checkpoints int    `json:"checkpoints"`
}

// New creates a Pipeline. journal may be nil.
func New(raster RasterService, sink CheckpointSink, journal Journal, scales []int, policy domain.EmptyPolicy, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Pipeline{
		raster:    raster,
		extractor: NewExtractor(raster, scales, logger, metrics),
		sink:      sink,
		journal:   journal,
		policy:    policy,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once at least one checkpoint has been written,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not written any checkpoint yet")
	}
	return nil
}

// Progress returns the current progress snapshot.
func (p *Pipeline) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

func (p *Pipeline) updateProgress(fn func(*Progress)) {
	p.mu.Lock()
	fn(&p.progress)
	p.mu.Unlock()
}

// Run extracts every dataset over its date range for every region. It stops
// at the first fatal error; checkpoints already written stay in place.
func (p *Pipeline) Run(ctx context.Context, datasets []domain.DatasetSpec, regions []domain.Region) error {
	p.logger.Info("pipeline started", "datasets", len(datasets), "regions", len(regions), "policy", string(p.policy))
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)
	p.updateProgress(func(pr *Progress) { *pr = Progress{Running: true} })
	defer p.updateProgress(func(pr *Progress) { pr.Running = false })

	if err := p.raster.Reconnect(ctx); err != nil {
		return fmt.Errorf("open raster session: %w", err)
	}

	for _, ds := range datasets {
		if err := p.runDataset(ctx, ds, regions); err != nil {
			return err
		}
	}

	p.logger.Info("pipeline finished")
	return nil
}

func (p *Pipeline) runDataset(ctx context.Context, ds domain.DatasetSpec, regions []domain.Region) error {
	months := domain.MonthIntervals(ds.Start, ds.End)
	if len(months) == 0 {
		p.logger.Warn("dataset has an empty date range, skipping", "dataset", ds.Name)
		return nil
	}
	p.logger.Info("dataset started", "dataset", ds.Name, "months", len(months),
		"start", months[0].String(), "end", months[len(months)-1].String())

	w := NewBatchWriter(ds, p.sink, p.raster, p.journal, p.logger, p.metrics)
	p.updateProgress(func(pr *Progress) {
		pr.Dataset = ds.Name
		pr.MonthsDone = 0
		pr.MonthsTotal = len(months)
	})

	for i, month := range months {
		for _, region := range regions {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("extraction interrupted at %s %s: %w", ds.Name, month, err)
			}
			if err := p.processRegion(ctx, w, ds, region, month); err != nil {
				return err
			}
		}

		flushed, err := w.MaybeFlush(ctx, i, month)
		if err != nil {
			return err
		}
		if flushed {
			p.ready.Store(true)
		}
		p.updateProgress(func(pr *Progress) {
			pr.Month = month.String()
			pr.MonthsDone = i + 1
			if flushed {
				pr.Checkpoints++
			}
		})
		p.metrics.MonthsProcessed.WithLabelValues(ds.Name).Inc()
		p.logger.Info(fmt.Sprintf("%s %s Done", ds.Name, month), "dataset", ds.Name, "month", month.String())
	}

	before := w.Flushes()
	if err := w.Finish(ctx, months[len(months)-1]); err != nil {
		return err
	}
	if w.Flushes() > before {
		p.updateProgress(func(pr *Progress) { pr.Checkpoints++ })
	}
	if w.Flushes() > 0 {
		p.ready.Store(true)
	}
	return nil
}

// processRegion extracts one region-month and applies the empty result
// policy.
func (p *Pipeline) processRegion(ctx context.Context, w *BatchWriter, ds domain.DatasetSpec, region domain.Region, month domain.MonthInterval) error {
	ext, err := p.extractor.Extract(ctx, ds, region, month)
	if err != nil {
		return err
	}
	if err := p.journal.RecordExtraction(ctx, ds.Name, region.ID, month.Start, ext.Attempts, ext.Empty); err != nil {
		p.logger.Warn("record extraction in ledger failed", "error", err, "dataset", ds.Name, "region", region.ID)
	}

	if !ext.Empty {
		w.Accept(ext.Record)
		return nil
	}

	switch p.policy {
	case domain.EmptyMissing:
		p.logger.Warn("no data at any scale, recording missing values",
			"dataset", ds.Name, "region", region.ID, "month", month.String())
		w.Accept(domain.MissingRecord(ds, region, month))
	case domain.EmptyAbort:
		return fmt.Errorf("%s region %s %s: %w", ds.Name, region.ID, month, domain.ErrEmptyResult)
	default:
		p.logger.Warn("no data at any scale, dropping region-month",
			"dataset", ds.Name, "region", region.ID, "month", month.String())
	}
	return nil
}
