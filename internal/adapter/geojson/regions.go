// Package geojson loads climate region boundaries from a GeoJSON
// FeatureCollection.
package geojson

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// NameProperty is the feature property holding the region's display name.
const NameProperty = "NAME"

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Properties map[string]any `json:"properties"`
	Geometry   geometry       `json:"geometry"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// LoadFile reads the region catalogue at path. idField names the property
// holding each region's unique id (e.g. CLIMDIV_ID).
func LoadFile(path, idField string) ([]domain.Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open regions: %w", err)
	}
	defer f.Close()

	regions, err := Load(f, idField)
	if err != nil {
		return nil, fmt.Errorf("load regions %s: %w", path, err)
	}
	return regions, nil
}

// Load decodes a FeatureCollection into regions, in feature order.
// Polygon geometries are promoted to single-member multipolygons.
func Load(r io.Reader, idField string) ([]domain.Region, error) {
	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("feature collection has no features")
	}

	regions := make([]domain.Region, 0, len(fc.Features))
	seen := make(map[string]bool, len(fc.Features))
	for i, f := range fc.Features {
		id, ok := propertyString(f.Properties, idField)
		if !ok {
			return nil, fmt.Errorf("feature %d: missing %s property", i, idField)
		}
		if seen[id] {
			return nil, fmt.Errorf("feature %d: duplicate region id %s", i, id)
		}
		seen[id] = true

		name, _ := propertyString(f.Properties, NameProperty)

		geom, err := decodeGeometry(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d (%s): %w", i, id, err)
		}

		regions = append(regions, domain.Region{ID: id, Name: name, Geometry: geom})
	}
	return regions, nil
}

func decodeGeometry(g geometry) (domain.MultiPolygon, error) {
	switch g.Type {
	case "MultiPolygon":
		var mp domain.MultiPolygon
		if err := json.Unmarshal(g.Coordinates, &mp); err != nil {
			return nil, fmt.Errorf("decode multipolygon: %w", err)
		}
		return mp, nil
	case "Polygon":
		var p domain.Polygon
		if err := json.Unmarshal(g.Coordinates, &p); err != nil {
			return nil, fmt.Errorf("decode polygon: %w", err)
		}
		return domain.MultiPolygon{p}, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
}

// propertyString renders string and numeric ids alike; numeric ids keep
// their integer form ("401", not "401.0").
func propertyString(props map[string]any, key string) (string, bool) {
	v, ok := props[key]
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, x != ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return fmt.Sprint(x), true
	}
}
