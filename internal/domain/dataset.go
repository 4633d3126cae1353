package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DatasetKind selects the reconciliation transform applied to a dataset.
type DatasetKind int

const (
	// KindPassthrough datasets are joined as extracted, with no unit changes.
	KindPassthrough DatasetKind = iota
	KindGridmet
	KindTerraclimate
	KindModisNDVI
	// KindForecast datasets are projections; they are never joined with
	// historical data.
	KindForecast
)

var kindNames = map[DatasetKind]string{
	KindPassthrough:  "passthrough",
	KindGridmet:      "gridmet",
	KindTerraclimate: "terraclimate",
	KindModisNDVI:    "modis-ndvi",
	KindForecast:     "forecast",
}

func (k DatasetKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("DatasetKind(%d)", int(k))
}

// ParseDatasetKind maps a kind name (as used in dataset catalogue files) to
// its DatasetKind.
func ParseDatasetKind(s string) (DatasetKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KindPassthrough, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown dataset kind %q", s)
}

// AttributeFilter pins an image property to a value, e.g. model=GISS-E2-1-G.
type AttributeFilter struct {
	Key   string
	Value string
}

// DatasetSpec describes one raster collection to extract.
type DatasetSpec struct {
	Name             string
	Kind             DatasetKind
	Bands            []string
	AttributeFilters []AttributeFilter
	// HumidityBands also get <band>_min and <band>_max during aggregation.
	HumidityBands []string

	// Start and End bound the extraction range (inclusive dates). Zero values
	// mean the caller's default range applies.
	Start time.Time
	End   time.Time
}

// IsForecast reports whether the dataset holds projections.
func (d DatasetSpec) IsForecast() bool {
	return d.Kind == KindForecast
}

// IsHumidity reports whether band carries the humidity role for this dataset.
func (d DatasetSpec) IsHumidity(band string) bool {
	return slices.Contains(d.HumidityBands, band)
}

// DirName is the checkpoint subdirectory for the dataset: the collection
// name with path separators replaced, e.g. "IDAHO_EPSCOR_GRIDMET".
func (d DatasetSpec) DirName() string {
	return strings.ReplaceAll(d.Name, "/", "_")
}

// Validate checks the dataset is usable for extraction.
func (d DatasetSpec) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dataset name is required")
	}
	if len(d.Bands) == 0 {
		return fmt.Errorf("dataset %s: at least one band is required", d.Name)
	}
	for _, h := range d.HumidityBands {
		if !slices.Contains(d.Bands, h) {
			return fmt.Errorf("dataset %s: humidity band %q is not a selected band", d.Name, h)
		}
	}
	if !d.Start.IsZero() && !d.End.IsZero() && d.End.Before(d.Start) {
		return fmt.Errorf("dataset %s: end %s before start %s", d.Name, d.End.Format(DateLayout), d.Start.Format(DateLayout))
	}
	return nil
}

// DefaultDatasets returns the built-in catalogue in extraction order.
func DefaultDatasets() []DatasetSpec {
	return []DatasetSpec{
		{Name: "GRIDMET/DROUGHT", Kind: KindPassthrough, Bands: []string{"pdsi"}},
		{Name: "IDAHO_EPSCOR/TERRACLIMATE", Kind: KindTerraclimate, Bands: []string{"soil", "vs"}},
		{Name: "MODIS/061/MOD13A2", Kind: KindModisNDVI, Bands: []string{"NDVI"}},
		{Name: "IDAHO_EPSCOR/GRIDMET", Kind: KindGridmet, Bands: []string{"pr", "tmmn", "tmmx", "rmin", "rmax"}},
		{
			Name:  "NASA/GDDP-CMIP6",
			Kind:  KindForecast,
			Bands: []string{"pr", "tasmin", "tasmax", "huss", "sfcWind"},
			AttributeFilters: []AttributeFilter{
				{Key: "model", Value: "GISS-E2-1-G"},
				{Key: "scenario", Value: "ssp245"},
			},
			HumidityBands: []string{"huss"},
		},
	}
}
