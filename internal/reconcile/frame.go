// Package reconcile loads checkpoint files, normalises each dataset's units
// and outer-joins the historical datasets into one table keyed by region and
// month. Forecast datasets are combined separately.
package reconcile

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/climate-region-etl/internal/checkpoint"
	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// Row is one region-month. Missing values are NaN.
type Row struct {
	Key    string
	ID     string
	Region string
	Time   time.Time
	Values map[string]float64
}

// Frame is a table of rows sharing the value columns in Columns.
type Frame struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// Has reports whether col is a value column.
func (f *Frame) Has(col string) bool {
	return slices.Contains(f.Columns, col)
}

// Value returns the row's value for col, or NaN.
func (r Row) Value(col string) float64 {
	v, ok := r.Values[col]
	if !ok {
		return math.NaN()
	}
	return v
}

// FromTable converts a checkpoint table: epoch-millisecond times become
// dates and every row gets its join key.
func FromTable(t checkpoint.Table) (*Frame, error) {
	idIdx := slices.Index(t.Columns, checkpoint.ColumnID)
	regionIdx := slices.Index(t.Columns, checkpoint.ColumnRegion)
	timeIdx := slices.Index(t.Columns, checkpoint.ColumnTime)
	if idIdx < 0 || timeIdx < 0 {
		return nil, fmt.Errorf("checkpoint table lacks %s or %s column", checkpoint.ColumnID, checkpoint.ColumnTime)
	}

	f := &Frame{}
	var valueIdx []int
	for i, c := range t.Columns {
		if i == idIdx || i == regionIdx || i == timeIdx {
			continue
		}
		f.Columns = append(f.Columns, c)
		valueIdx = append(valueIdx, i)
	}

	f.Rows = make([]Row, 0, len(t.Rows))
	for n, rec := range t.Rows {
		ms, err := strconv.ParseFloat(strings.TrimSpace(rec[timeIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: parse time %q: %w", n, rec[timeIdx], err)
		}
		ts := time.UnixMilli(int64(ms)).UTC()
		date := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)

		row := Row{
			ID:     rec[idIdx],
			Time:   date,
			Key:    domain.JoinKey(rec[idIdx], date),
			Values: make(map[string]float64, len(valueIdx)),
		}
		if regionIdx >= 0 {
			row.Region = rec[regionIdx]
		}
		for j, i := range valueIdx {
			row.Values[f.Columns[j]] = parseCell(rec[i])
		}
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

func parseCell(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// Concat appends frames row-wise. Columns are the union in first-seen order;
// values absent from a frame are NaN.
func Concat(frames ...*Frame) *Frame {
	out := &Frame{}
	for _, f := range frames {
		for _, c := range f.Columns {
			if !out.Has(c) {
				out.Columns = append(out.Columns, c)
			}
		}
		out.Rows = append(out.Rows, f.Rows...)
	}
	return out
}
