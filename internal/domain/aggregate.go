package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TimeColumn is the header name of the image timestamp column.
const TimeColumn = "time"

// RawSample is the unprocessed answer to one region query: the first row is
// the header, the remaining rows are pixel/image samples. Cells are whatever
// the service's JSON decoded to (float64, string, json.Number or nil).
type RawSample struct {
	Rows [][]any
}

// Len returns the number of data rows (excluding the header).
func (s RawSample) Len() int {
	if len(s.Rows) == 0 {
		return 0
	}
	return len(s.Rows) - 1
}

// Aggregate reduces a sample to one record for the region. Rows are kept
// unless the time cell or a band cell is missing; the record month comes from
// the first kept row whose timestamp parses as epoch milliseconds. It returns
// false when no rows survive, when no kept row has a usable timestamp, or
// when no band holds a single numeric value; an empty aggregation never
// produces a record of NaNs.
func Aggregate(sample RawSample, ds DatasetSpec, region Region) (RegionMonthRecord, bool) {
	if sample.Len() == 0 {
		return RegionMonthRecord{}, false
	}

	header := headerIndex(sample.Rows[0])
	timeIdx, ok := header[TimeColumn]
	if !ok {
		return RegionMonthRecord{}, false
	}
	bandIdx := make([]int, len(ds.Bands))
	for i, b := range ds.Bands {
		idx, ok := header[b]
		if !ok {
			return RegionMonthRecord{}, false
		}
		bandIdx[i] = idx
	}

	series := make(map[string][]float64, len(ds.Bands))
	var (
		first    time.Time
		haveTime bool
	)
	kept := 0

rows:
	for _, row := range sample.Rows[1:] {
		tc := cellAt(row, timeIdx)
		if tc == nil {
			continue
		}
		for _, idx := range bandIdx {
			if cellAt(row, idx) == nil {
				continue rows
			}
		}
		if !haveTime {
			first, haveTime = parseEpochMillis(tc)
		}
		kept++
		for i, b := range ds.Bands {
			if v, ok := parseNumeric(cellAt(row, bandIdx[i])); ok {
				series[b] = append(series[b], v)
			}
		}
	}
	if kept == 0 || !haveTime {
		return RegionMonthRecord{}, false
	}

	cols := OutputColumns(ds)
	values := make(map[string]float64, len(cols))
	numeric := false
	for _, b := range ds.Bands {
		vals := series[b]
		if len(vals) == 0 {
			values[b] = math.NaN()
			if ds.IsHumidity(b) {
				values[b+"_min"] = math.NaN()
				values[b+"_max"] = math.NaN()
			}
			continue
		}
		numeric = true
		if ds.IsHumidity(b) {
			values[b+"_min"] = floats.Min(vals)
			values[b+"_max"] = floats.Max(vals)
		}
		values[b] = stat.Mean(vals, nil)
	}
	if !numeric {
		return RegionMonthRecord{}, false
	}

	return RegionMonthRecord{
		DatasetID:  ds.Name,
		RegionID:   region.ID,
		RegionName: region.Name,
		Month:      MonthStart(first),
		Columns:    cols,
		Values:     values,
	}, true
}

func headerIndex(row []any) map[string]int {
	idx := make(map[string]int, len(row))
	for i, c := range row {
		if s, ok := c.(string); ok {
			if _, dup := idx[s]; !dup {
				idx[s] = i
			}
		}
	}
	return idx
}

func cellAt(row []any, i int) any {
	if i < 0 || i >= len(row) {
		return nil
	}
	return row[i]
}

// parseNumeric coerces a cell to float64. Non-numeric and NaN cells are
// reported as missing.
func parseNumeric(c any) (float64, bool) {
	var v float64
	switch x := c.(type) {
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseEpochMillis(c any) (time.Time, bool) {
	ms, ok := parseNumeric(c)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}
