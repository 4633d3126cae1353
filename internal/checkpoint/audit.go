package checkpoint

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// FileReport summarises one checkpoint file.
type FileReport struct {
	Path       string
	Rows       int
	Regions    int
	Months     int
	BlankCells int
	Duplicates int
	Issues     []string
}

// Audit checks every checkpoint file of a dataset: each (id, time) pair
// must appear once, every region should cover every month in the file, and
// the header must match the dataset's columns. Problems are reported as
// issues; an error means a file could not be read.
func (s *Store) Audit(ds domain.DatasetSpec) ([]FileReport, error) {
	files, err := s.Files(ds)
	if err != nil {
		return nil, err
	}

	want := append([]string{ColumnID, ColumnRegion, ColumnTime}, domain.OutputColumns(ds)...)
	reports := make([]FileReport, 0, len(files))
	for _, path := range files {
		r, err := auditFile(path, want)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func auditFile(path string, want []string) (FileReport, error) {
	rep := FileReport{Path: path}

	f, err := os.Open(path)
	if err != nil {
		return rep, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		rep.Issues = append(rep.Issues, "file is empty")
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("read header %s: %w", path, err)
	}
	if !slices.Equal(header, want) {
		rep.Issues = append(rep.Issues, fmt.Sprintf("header %v, want %v", header, want))
	}

	idIdx := slices.Index(header, ColumnID)
	timeIdx := slices.Index(header, ColumnTime)
	if idIdx < 0 || timeIdx < 0 {
		rep.Issues = append(rep.Issues, "missing id or time column")
		return rep, nil
	}

	regions := map[string]bool{}
	months := map[string]bool{}
	seen := map[[2]string]bool{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rep, fmt.Errorf("read %s: %w", path, err)
		}
		rep.Rows++

		key := [2]string{rec[idIdx], rec[timeIdx]}
		if seen[key] {
			rep.Duplicates++
		}
		seen[key] = true
		regions[rec[idIdx]] = true
		months[rec[timeIdx]] = true

		for i, v := range rec {
			if i != idIdx && i != timeIdx && v == "" {
				rep.BlankCells++
			}
		}
	}

	rep.Regions = len(regions)
	rep.Months = len(months)
	if rep.Duplicates > 0 {
		rep.Issues = append(rep.Issues, fmt.Sprintf("%d duplicate region-months", rep.Duplicates))
	}
	if expected := rep.Regions * rep.Months; rep.Rows-rep.Duplicates < expected {
		rep.Issues = append(rep.Issues, fmt.Sprintf("%d of %d region-months present", rep.Rows-rep.Duplicates, expected))
	}
	return rep, nil
}
