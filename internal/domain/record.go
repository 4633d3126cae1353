package domain

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// RegionMonthRecord is the monthly summary of one dataset over one region.
// Columns lists value columns in output order (requested bands, then derived
// bands). A missing value is stored as NaN.
type RegionMonthRecord struct {
	DatasetID  string
	RegionID   string
	RegionName string
	Month      time.Time
	Columns    []string
	Values     map[string]float64
}

// Value returns the column value and whether it is present (not NaN).
func (r RegionMonthRecord) Value(col string) (float64, bool) {
	v, ok := r.Values[col]
	if !ok || math.IsNaN(v) {
		return math.NaN(), false
	}
	return v, true
}

// JoinKey is the record's cross-dataset key.
func (r RegionMonthRecord) JoinKey() string {
	return JoinKey(r.RegionID, r.Month)
}

// MissingRecord builds a placeholder with every band NaN, used when an
// empty extraction should still be recorded.
func MissingRecord(ds DatasetSpec, region Region, month MonthInterval) RegionMonthRecord {
	cols := OutputColumns(ds)
	values := make(map[string]float64, len(cols))
	for _, c := range cols {
		values[c] = math.NaN()
	}
	return RegionMonthRecord{
		DatasetID:  ds.Name,
		RegionID:   region.ID,
		RegionName: region.Name,
		Month:      month.Start,
		Columns:    cols,
		Values:     values,
	}
}

// OutputColumns lists the value columns a dataset produces: its bands in
// order followed by <band>_min and <band>_max for each humidity band.
func OutputColumns(ds DatasetSpec) []string {
	cols := slices.Clone(ds.Bands)
	for _, b := range ds.Bands {
		if ds.IsHumidity(b) {
			cols = append(cols, b+"_min", b+"_max")
		}
	}
	return cols
}

// JoinKey formats "<region id>_<year>_<MM>".
func JoinKey(regionID string, t time.Time) string {
	return fmt.Sprintf("%s_%d_%02d", regionID, t.Year(), int(t.Month()))
}
