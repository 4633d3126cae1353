package domain

import (
	"slices"
	"time"
)

// ImageQuery is a band-, date- and attribute-filtered view of a raster
// collection. Builder methods return modified copies so a base query can be
// shared across months.
type ImageQuery struct {
	Collection string
	Bands      []string
	Start      time.Time
	End        time.Time // exclusive
	Filters    []AttributeFilter
}

// SelectBands starts a query over collection restricted to bands.
func SelectBands(collection string, bands []string) ImageQuery {
	return ImageQuery{Collection: collection, Bands: slices.Clone(bands)}
}

// FilterDateRange restricts the query to images in [start, end).
func (q ImageQuery) FilterDateRange(start, end time.Time) ImageQuery {
	q.Start = start
	q.End = end
	return q
}

// FilterAttribute keeps only images whose property key equals value.
func (q ImageQuery) FilterAttribute(key, value string) ImageQuery {
	q.Filters = append(slices.Clone(q.Filters), AttributeFilter{Key: key, Value: value})
	return q
}

// QueryFor builds the query for one dataset and month.
func QueryFor(ds DatasetSpec, month MonthInterval) ImageQuery {
	q := SelectBands(ds.Name, ds.Bands).FilterDateRange(month.Start, month.NextStart)
	for _, f := range ds.AttributeFilters {
		q = q.FilterAttribute(f.Key, f.Value)
	}
	return q
}
