// Package checkpoint persists extracted records as one CSV file per
// (dataset, year) and reads them back for reconciliation.
package checkpoint

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// Fixed leading columns of every checkpoint file.
const (
	ColumnID     = "id"
	ColumnRegion = "region"
	ColumnTime   = "time"
)

// FilePrefix starts every checkpoint file name.
const FilePrefix = "us_climate_data_"

// Uploader copies a local file to remote storage under key.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// Store reads and writes checkpoint files below a root directory, one
// subdirectory per dataset.
type Store struct {
	root   string
	mirror Uploader
	logger *slog.Logger
}

// NewStore creates a Store rooted at root. mirror may be nil.
func NewStore(root string, mirror Uploader, logger *slog.Logger) *Store {
	return &Store{root: root, mirror: mirror, logger: logger}
}

// Dir returns the dataset's checkpoint directory.
func (s *Store) Dir(ds domain.DatasetSpec) string {
	return filepath.Join(s.root, ds.DirName())
}

// Path returns the checkpoint file for (dataset, year).
func (s *Store) Path(ds domain.DatasetSpec, year int) string {
	return filepath.Join(s.Dir(ds), fmt.Sprintf("%s%s_%d.csv", FilePrefix, ds.DirName(), year))
}

// WriteYear replaces the (dataset, year) checkpoint with records. The file
// is written to a temporary name and renamed, so a crash never leaves a
// truncated checkpoint behind.
func (s *Store) WriteYear(ctx context.Context, ds domain.DatasetSpec, year int, records []domain.RegionMonthRecord) (string, error) {
	dir := s.Dir(ds)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}

	path := s.Path(ds, year)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.csv")
	if err != nil {
		return "", fmt.Errorf("create checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, domain.OutputColumns(ds), records); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode checkpoint %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close checkpoint file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("replace checkpoint %s: %w", path, err)
	}

	if s.mirror != nil {
		key := filepath.ToSlash(filepath.Join(ds.DirName(), filepath.Base(path)))
		if err := s.mirror.Upload(ctx, path, key); err != nil {
			s.logger.Warn("checkpoint mirror upload failed", "error", err, "path", path)
		}
	}
	return path, nil
}

func encode(w io.Writer, columns []string, records []domain.RegionMonthRecord) error {
	cw := csv.NewWriter(w)
	header := append([]string{ColumnID, ColumnRegion, ColumnTime}, columns...)
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, rec := range records {
		row[0] = rec.RegionID
		row[1] = rec.RegionName
		row[2] = strconv.FormatInt(rec.Month.UnixMilli(), 10)
		for i, c := range columns {
			v, ok := rec.Values[c]
			row[3+i] = formatValue(v, ok)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64, present bool) string {
	if !present || math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Table is the concatenation of a dataset's checkpoint files. Columns is the
// union of the files' headers in first-seen order; cells missing from a
// file are empty.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ErrNoCheckpoints means a dataset directory holds no checkpoint files.
var ErrNoCheckpoints = errors.New("no checkpoint files")

// DirNames lists the dataset subdirectories present under the root.
func (s *Store) DirNames() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoint root: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

// Files lists the dataset's checkpoint files in name order.
func (s *Store) Files(ds domain.DatasetSpec) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(ds))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(s.Dir(ds), e.Name()))
	}
	slices.Sort(files)
	return files, nil
}

// Load reads and concatenates every checkpoint file of the dataset.
func (s *Store) Load(ds domain.DatasetSpec) (Table, error) {
	files, err := s.Files(ds)
	if err != nil {
		return Table{}, err
	}
	if len(files) == 0 {
		return Table{}, fmt.Errorf("%s: %w", ds.Name, ErrNoCheckpoints)
	}

	var t Table
	index := map[string]int{}
	for _, path := range files {
		if err := t.appendFile(path, index); err != nil {
			return Table{}, err
		}
	}
	return t, nil
}

func (t *Table) appendFile(path string, index map[string]int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read header %s: %w", path, err)
	}

	pos := make([]int, len(header))
	for i, name := range header {
		j, ok := index[name]
		if !ok {
			j = len(t.Columns)
			index[name] = j
			t.Columns = append(t.Columns, name)
			for r := range t.Rows {
				t.Rows[r] = append(t.Rows[r], "")
			}
		}
		pos[i] = j
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		row := make([]string, len(t.Columns))
		for i, v := range rec {
			row[pos[i]] = v
		}
		t.Rows = append(t.Rows, row)
	}
}
