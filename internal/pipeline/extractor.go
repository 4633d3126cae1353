package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
)

// RasterService queries the remote raster service. Reconnect re-establishes
// the session and may be called at any time.
type RasterService interface {
	QueryRegion(ctx context.Context, q domain.ImageQuery, geom domain.MultiPolygon, scale int) (domain.RawSample, error)
	Reconnect(ctx context.Context) error
}

// Extraction is the result of escalating through the scales for one
// (dataset, region, month). Empty is set when no scale produced a record.
type Extraction struct {
	Record   domain.RegionMonthRecord
	Attempts []domain.Attempt
	Empty    bool
}

// Scale returns the scale of the successful attempt, or 0 for an empty
// extraction.
func (e Extraction) Scale() int {
	if e.Empty || len(e.Attempts) == 0 {
		return 0
	}
	return e.Attempts[len(e.Attempts)-1].Scale
}

// Extractor queries one region at increasingly coarse scales until an
// attempt aggregates to a record.
type Extractor struct {
	raster  RasterService
	scales  []int
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewExtractor creates an Extractor. scales must be ordered finest first.
func NewExtractor(raster RasterService, scales []int, logger *slog.Logger, metrics *observability.Metrics) *Extractor {
	return &Extractor{
		raster:  raster,
		scales:  scales,
		logger:  logger,
		metrics: metrics,
	}
}

// Extract returns the first non-empty aggregation over the configured
// scales. Retryable query errors and empty aggregations move on to the next
// scale; any other error is returned. When every scale is exhausted the
// Extraction comes back with Empty set and a nil error.
func (e *Extractor) Extract(ctx context.Context, ds domain.DatasetSpec, region domain.Region, month domain.MonthInterval) (Extraction, error) {
	q := domain.QueryFor(ds, month)

	var ext Extraction
	for _, scale := range e.scales {
		if err := ctx.Err(); err != nil {
			return ext, err
		}

		attempt, rec, err := e.attempt(ctx, q, ds, region, scale)
		if err != nil {
			return ext, fmt.Errorf("extract %s region %s %s at scale %d: %w", ds.Name, region.ID, month, scale, err)
		}
		ext.Attempts = append(ext.Attempts, attempt)
		e.metrics.ExtractionAttempts.WithLabelValues(ds.Name, attempt.Outcome.String()).Inc()

		switch attempt.Outcome {
		case domain.OutcomeSuccess:
			e.metrics.ScaleUsed.WithLabelValues(ds.Name).Observe(float64(scale))
			ext.Record = rec
			return ext, nil
		case domain.OutcomeRetry:
			e.logger.Debug("coarsening scale after query limit",
				"dataset", ds.Name, "region", region.ID, "month", month.String(), "scale", scale, "reason", attempt.Reason)
		case domain.OutcomeEmpty:
			e.logger.Debug("empty aggregation, coarsening scale",
				"dataset", ds.Name, "region", region.ID, "month", month.String(), "scale", scale)
		}
	}

	ext.Empty = true
	e.metrics.EmptyExtractions.WithLabelValues(ds.Name).Inc()
	return ext, nil
}

// attempt runs one query and tags its outcome. Only fatal errors are
// returned as errors.
func (e *Extractor) attempt(ctx context.Context, q domain.ImageQuery, ds domain.DatasetSpec, region domain.Region, scale int) (domain.Attempt, domain.RegionMonthRecord, error) {
	start := time.Now()
	sample, err := e.raster.QueryRegion(ctx, q, region.Geometry, scale)
	elapsed := time.Since(start)
	e.metrics.QueryDuration.WithLabelValues(ds.Name).Observe(elapsed.Seconds())

	a := domain.Attempt{Scale: scale, Duration: elapsed}
	if err != nil {
		if domain.IsRetryable(err) {
			a.Outcome = domain.OutcomeRetry
			a.Reason = err.Error()
			return a, domain.RegionMonthRecord{}, nil
		}
		return a, domain.RegionMonthRecord{}, err
	}

	rec, ok := domain.Aggregate(sample, ds, region)
	if !ok {
		a.Outcome = domain.OutcomeEmpty
		a.Reason = strconv.Itoa(sample.Len()) + " rows"
		return a, domain.RegionMonthRecord{}, nil
	}
	a.Outcome = domain.OutcomeSuccess
	return a, rec, nil
}
