package reconcile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/climate-region-etl/internal/checkpoint"
	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// Output names, used as file stems and metric labels.
const (
	OutputHistorical = "historical"
	OutputPrediction = "prediction"
)

// Output file names.
const (
	HistoricalFile = "climate_data_combined.csv"
	PredictionFile = "prediction_data_combined.csv"
)

// KeyColumn heads the join key column in combined outputs.
const KeyColumn = "joinKey"

// WriteCSV writes f with the columns joinKey, id, region, time (as a date)
// followed by the value columns. Missing values are empty cells.
func WriteCSV(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	header := append([]string{KeyColumn, checkpoint.ColumnID, checkpoint.ColumnRegion, checkpoint.ColumnTime}, f.Columns...)
	if err := cw.Write(header); err != nil {
		return err
	}

	rec := make([]string, len(header))
	for _, r := range f.Rows {
		rec[0] = r.Key
		rec[1] = r.ID
		rec[2] = r.Region
		rec[3] = r.Time.Format(domain.DateLayout)
		for i, c := range f.Columns {
			v := r.Value(c)
			if isMissing(v) {
				rec[4+i] = ""
				continue
			}
			rec[4+i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOutputs writes the non-nil frames of res into dir and mirrors them
// when mirror is set. It returns the written paths.
func WriteOutputs(ctx context.Context, dir string, res Result, mirror checkpoint.Uploader) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var paths []string
	for _, out := range []struct {
		frame *Frame
		name  string
	}{
		{res.Historical, HistoricalFile},
		{res.Prediction, PredictionFile},
	} {
		if out.frame == nil {
			continue
		}
		path := filepath.Join(dir, out.name)
		if err := writeFile(path, out.frame); err != nil {
			return paths, err
		}
		if mirror != nil {
			if err := mirror.Upload(ctx, path, out.name); err != nil {
				return paths, fmt.Errorf("mirror %s: %w", out.name, err)
			}
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, f *Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteCSV(file, f); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
