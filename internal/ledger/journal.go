package ledger

import (
	"context"
	"time"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// Journal binds the store to one run so the extraction pipeline can record
// into it.
type Journal struct {
	store *Store
	runID string
}

// Journal returns a recorder for runID.
func (s *Store) Journal(runID string) *Journal {
	return &Journal{store: s, runID: runID}
}

func (j *Journal) RecordExtraction(ctx context.Context, datasetID, regionID string, month time.Time, attempts []domain.Attempt, empty bool) error {
	return j.store.RecordExtraction(ctx, j.runID, ExtractionEntry{
		DatasetID: datasetID,
		RegionID:  regionID,
		Month:     month,
		Attempts:  attempts,
		Empty:     empty,
	})
}

func (j *Journal) RecordFlush(ctx context.Context, datasetID string, year, records int, path string) error {
	return j.store.RecordFlush(ctx, j.runID, FlushEntry{DatasetID: datasetID, Year: year, Records: records, Path: path})
}
