package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/climate-region-etl/internal/checkpoint"
	"github.com/couchcryptid/climate-region-etl/internal/domain"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
)

// Source provides checkpoint tables by dataset.
type Source interface {
	Load(ds domain.DatasetSpec) (checkpoint.Table, error)
	DirNames() ([]string, error)
}

// Result holds the combined outputs. Either frame is nil when no dataset of
// that kind had checkpoints.
type Result struct {
	Historical *Frame
	Prediction *Frame
}

// Reconciler combines checkpointed datasets.
type Reconciler struct {
	source  Source
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Reconciler reading from source.
func New(source Source, logger *slog.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{source: source, logger: logger, metrics: metrics}
}

// Reconcile loads each catalogued dataset, applies its kind's transform and
// combines them. Historical datasets are outer-joined in catalogue order;
// forecast datasets are concatenated. Datasets without checkpoints are
// skipped with a warning.
func (r *Reconciler) Reconcile(ctx context.Context, datasets []domain.DatasetSpec) (Result, error) {
	r.warnUnknownDirs(datasets)

	var historical, forecast []*Frame
	for _, ds := range datasets {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		f, err := r.loadDataset(ds)
		if errors.Is(err, checkpoint.ErrNoCheckpoints) {
			r.logger.Warn("dataset has no checkpoints, skipping", "dataset", ds.Name)
			continue
		}
		if err != nil {
			return Result{}, err
		}

		r.logger.Info("dataset loaded", "dataset", ds.Name, "kind", ds.Kind.String(), "rows", f.Len())
		if ds.IsForecast() {
			forecast = append(forecast, f)
		} else {
			historical = append(historical, f)
		}
	}

	var res Result
	switch len(historical) {
	case 0:
		r.logger.Warn("no historical datasets to combine")
	case 1:
		res.Historical = historical[0]
	default:
		combined := historical[0]
		for _, f := range historical[1:] {
			combined = OuterJoin(combined, f)
		}
		res.Historical = combined
	}
	if len(forecast) > 0 {
		res.Prediction = Concat(forecast...)
	}

	if res.Historical != nil {
		r.metrics.ReconciledRows.WithLabelValues(OutputHistorical).Set(float64(res.Historical.Len()))
	}
	if res.Prediction != nil {
		r.metrics.ReconciledRows.WithLabelValues(OutputPrediction).Set(float64(res.Prediction.Len()))
	}
	return res, nil
}

func (r *Reconciler) loadDataset(ds domain.DatasetSpec) (*Frame, error) {
	table, err := r.source.Load(ds)
	if err != nil {
		return nil, err
	}
	f, err := FromTable(table)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ds.Name, err)
	}
	if err := Transform(ds.Kind, f); err != nil {
		return nil, fmt.Errorf("normalise %s: %w", ds.Name, err)
	}
	return f, nil
}

func (r *Reconciler) warnUnknownDirs(datasets []domain.DatasetSpec) {
	dirs, err := r.source.DirNames()
	if err != nil {
		r.logger.Warn("list checkpoint directories failed", "error", err)
		return
	}
	known := make(map[string]bool, len(datasets))
	for _, ds := range datasets {
		known[ds.DirName()] = true
	}
	for _, d := range dirs {
		if !known[d] {
			r.logger.Warn("ignoring checkpoint directory not in the dataset catalogue", "dir", d)
		}
	}
}
