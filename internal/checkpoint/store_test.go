package checkpoint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

type mockUploader struct {
	keys []string
	err  error
}

func (m *mockUploader) Upload(_ context.Context, localPath, key string) error {
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	m.keys = append(m.keys, key)
	return m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var gridmet = domain.DatasetSpec{Name: "IDAHO_EPSCOR/GRIDMET", Bands: []string{"tmmn", "tmmx"}}

func record(regionID string, month time.Time, tmmn, tmmx float64) domain.RegionMonthRecord {
	return domain.RegionMonthRecord{
		DatasetID:  gridmet.Name,
		RegionID:   regionID,
		RegionName: "Region " + regionID,
		Month:      month,
		Columns:    []string{"tmmn", "tmmx"},
		Values:     map[string]float64{"tmmn": tmmn, "tmmx": tmmx},
	}
}

func TestStore_Path(t *testing.T) {
	s := NewStore("csv", nil, discardLogger())
	assert.Equal(t, filepath.Join("csv", "IDAHO_EPSCOR_GRIDMET", "us_climate_data_IDAHO_EPSCOR_GRIDMET_2010.csv"), s.Path(gridmet, 2010))
}

func TestStore_WriteYear(t *testing.T) {
	s := NewStore(t.TempDir(), nil, discardLogger())
	jan := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

	path, err := s.WriteYear(context.Background(), gridmet, 2010, []domain.RegionMonthRecord{
		record("0401", jan, 283.15, 303.15),
		record("0402", jan, math.NaN(), 290.5),
	})
	require.NoError(t, err)
	assert.Equal(t, s.Path(gridmet, 2010), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,region,time,tmmn,tmmx\n"+
		"0401,Region 0401,1262304000000,283.15,303.15\n"+
		"0402,Region 0402,1262304000000,,290.5\n", string(b))
}

func TestStore_WriteYear_Overwrites(t *testing.T) {
	s := NewStore(t.TempDir(), nil, discardLogger())
	jan := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.WriteYear(context.Background(), gridmet, 2010, []domain.RegionMonthRecord{record("0401", jan, 1, 2), record("0402", jan, 3, 4)})
	require.NoError(t, err)
	_, err = s.WriteYear(context.Background(), gridmet, 2010, []domain.RegionMonthRecord{record("0403", jan, 5, 6)})
	require.NoError(t, err)

	table, err := s.Load(gridmet)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "0403", table.Rows[0][0])

	entries, err := os.ReadDir(s.Dir(gridmet))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestStore_WriteYear_Mirror(t *testing.T) {
	up := &mockUploader{err: errors.New("bucket unavailable")}
	s := NewStore(t.TempDir(), up, discardLogger())

	_, err := s.WriteYear(context.Background(), gridmet, 2011, nil)
	require.NoError(t, err, "mirror failures are not fatal")
	assert.Equal(t, []string{"IDAHO_EPSCOR_GRIDMET/us_climate_data_IDAHO_EPSCOR_GRIDMET_2011.csv"}, up.keys)
}

func TestStore_Load_ConcatenatesInNameOrder(t *testing.T) {
	s := NewStore(t.TempDir(), nil, discardLogger())
	ctx := context.Background()

	_, err := s.WriteYear(ctx, gridmet, 2011, []domain.RegionMonthRecord{record("0401", time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC), 1, 2)})
	require.NoError(t, err)
	_, err = s.WriteYear(ctx, gridmet, 2010, []domain.RegionMonthRecord{record("0401", time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC), 3, 4)})
	require.NoError(t, err)

	table, err := s.Load(gridmet)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "region", "time", "tmmn", "tmmx"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "3", table.Rows[0][3])
	assert.Equal(t, "1", table.Rows[1][3])
}

func TestStore_Load_AlignsDifferingHeaders(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil, discardLogger())
	dir := s.Dir(gridmet)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("id,region,time,tmmn\n1,A,0,5\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("id,region,time,tmmx\n2,B,0,7\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	table, err := s.Load(gridmet)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "region", "time", "tmmn", "tmmx"}, table.Columns)
	assert.Equal(t, [][]string{{"1", "A", "0", "5", ""}, {"2", "B", "0", "", "7"}}, table.Rows)
}

func TestStore_Load_Missing(t *testing.T) {
	s := NewStore(t.TempDir(), nil, discardLogger())
	_, err := s.Load(gridmet)
	require.ErrorIs(t, err, ErrNoCheckpoints)
}

func TestStore_DirNames(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "csv"), nil, discardLogger())
	dirs, err := s.DirNames()
	require.NoError(t, err)
	assert.Empty(t, dirs)

	_, err = s.WriteYear(context.Background(), gridmet, 2010, nil)
	require.NoError(t, err)
	dirs, err = s.DirNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"IDAHO_EPSCOR_GRIDMET"}, dirs)
}
