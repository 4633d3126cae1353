package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

type catalogueFile struct {
	Datasets []datasetEntry `yaml:"datasets"`
}

type datasetEntry struct {
	Name          string        `yaml:"name"`
	Kind          string        `yaml:"kind"`
	Bands         []string      `yaml:"bands"`
	HumidityBands []string      `yaml:"humidity_bands"`
	Filters       []filterEntry `yaml:"filters"`
	Start         string        `yaml:"start"`
	End           string        `yaml:"end"`
}

type filterEntry struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Datasets returns the dataset catalogue (DATASETS_FILE or the built-in one)
// with every date range resolved: forecast datasets default to the forecast
// range, the rest to the historical range.
func (c *Config) Datasets() ([]domain.DatasetSpec, error) {
	datasets := domain.DefaultDatasets()
	if c.DatasetsFile != "" {
		f, err := os.Open(c.DatasetsFile)
		if err != nil {
			return nil, fmt.Errorf("open datasets file: %w", err)
		}
		defer f.Close()

		datasets, err = ParseDatasets(f)
		if err != nil {
			return nil, fmt.Errorf("parse datasets file %s: %w", c.DatasetsFile, err)
		}
	}

	for i := range datasets {
		ds := &datasets[i]
		start, end := c.HistoricalStart, c.HistoricalEnd
		if ds.IsForecast() {
			start, end = c.ForecastStart, c.ForecastEnd
		}
		if ds.Start.IsZero() {
			ds.Start = start
		}
		if ds.End.IsZero() {
			ds.End = end
		}
		if err := ds.Validate(); err != nil {
			return nil, err
		}
	}
	return datasets, nil
}

// ParseDatasets decodes a YAML dataset catalogue.
func ParseDatasets(r io.Reader) ([]domain.DatasetSpec, error) {
	var file catalogueFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, err
	}
	if len(file.Datasets) == 0 {
		return nil, fmt.Errorf("no datasets defined")
	}

	out := make([]domain.DatasetSpec, 0, len(file.Datasets))
	for _, e := range file.Datasets {
		kind, err := domain.ParseDatasetKind(e.Kind)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", e.Name, err)
		}
		ds := domain.DatasetSpec{
			Name:          e.Name,
			Kind:          kind,
			Bands:         e.Bands,
			HumidityBands: e.HumidityBands,
		}
		for _, f := range e.Filters {
			ds.AttributeFilters = append(ds.AttributeFilters, domain.AttributeFilter{Key: f.Key, Value: f.Value})
		}
		if e.Start != "" {
			if ds.Start, err = domain.ParseDate(e.Start); err != nil {
				return nil, fmt.Errorf("dataset %s: %w", e.Name, err)
			}
		}
		if e.End != "" {
			if ds.End, err = domain.ParseDate(e.End); err != nil {
				return nil, fmt.Errorf("dataset %s: %w", e.Name, err)
			}
		}
		out = append(out, ds)
	}
	return out, nil
}
