package main

import (
	"context"
	"fmt"

	"github.com/couchcryptid/climate-region-etl/internal/checkpoint"
	"github.com/couchcryptid/climate-region-etl/internal/ledger"
)

type extractCmd struct {
	Dataset []string `short:"d" help:"Only extract these datasets (repeatable, by collection name)."`
}

func (c *extractCmd) Run(ctx context.Context, a *app) error {
	if err := a.cfg.ValidateExtract(); err != nil {
		return err
	}
	datasets, err := a.datasets(c.Dataset)
	if err != nil {
		return err
	}
	mirror, err := a.mirror(ctx)
	if err != nil {
		return err
	}

	return a.withRun(ctx, "extract", func(store *ledger.Store, runID string) error {
		status := &jobStatus{pipeline: a.newPipeline(store, runID, mirror)}
		return a.serve(ctx, status, func(ctx context.Context) error {
			return a.extract(ctx, status, datasets, store, runID)
		})
	})
}

type reconcileCmd struct{}

func (c *reconcileCmd) Run(ctx context.Context, a *app) error {
	datasets, err := a.datasets(nil)
	if err != nil {
		return err
	}
	mirror, err := a.mirror(ctx)
	if err != nil {
		return err
	}

	return a.withRun(ctx, "reconcile", func(*ledger.Store, string) error {
		status := &jobStatus{}
		return a.serve(ctx, status, func(ctx context.Context) error {
			return a.reconcile(ctx, status, datasets, mirror)
		})
	})
}

type runCmd struct {
	Dataset []string `short:"d" help:"Only extract these datasets; reconciliation always covers the whole catalogue."`
}

func (c *runCmd) Run(ctx context.Context, a *app) error {
	if err := a.cfg.ValidateExtract(); err != nil {
		return err
	}
	catalogue, err := a.datasets(nil)
	if err != nil {
		return err
	}
	selected, err := a.datasets(c.Dataset)
	if err != nil {
		return err
	}
	mirror, err := a.mirror(ctx)
	if err != nil {
		return err
	}

	return a.withRun(ctx, "run", func(store *ledger.Store, runID string) error {
		status := &jobStatus{pipeline: a.newPipeline(store, runID, mirror)}
		return a.serve(ctx, status, func(ctx context.Context) error {
			if err := a.extract(ctx, status, selected, store, runID); err != nil {
				return err
			}
			return a.reconcile(ctx, status, catalogue, mirror)
		})
	})
}

type validateCmd struct{}

func (c *validateCmd) Run(a *app) error {
	datasets, err := a.datasets(nil)
	if err != nil {
		return err
	}
	store := checkpoint.NewStore(a.cfg.CheckpointDir, nil, a.logger)

	problems := 0
	for _, ds := range datasets {
		reports, err := store.Audit(ds)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			a.logger.Warn("no checkpoint files", "dataset", ds.Name)
			continue
		}
		for _, r := range reports {
			if len(r.Issues) == 0 {
				a.logger.Info("checkpoint ok", "path", r.Path, "rows", r.Rows, "regions", r.Regions, "months", r.Months, "blank_cells", r.BlankCells)
				continue
			}
			problems++
			a.logger.Warn("checkpoint has issues", "path", r.Path, "issues", r.Issues)
		}
	}
	if problems > 0 {
		return fmt.Errorf("%d checkpoint files have issues", problems)
	}
	return nil
}
