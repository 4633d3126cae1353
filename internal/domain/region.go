package domain

// Position is a [longitude, latitude] pair in WGS-84 degrees.
type Position [2]float64

// Ring is a closed linear ring of positions.
type Ring []Position

// Polygon is an outer ring followed by zero or more holes.
type Polygon []Ring

// MultiPolygon is the boundary geometry of a region.
type MultiPolygon []Polygon

// Region is one climate region (e.g. a NOAA climate division). Regions are
// loaded once at startup and shared read-only by every extraction.
type Region struct {
	ID       string
	Name     string
	Geometry MultiPolygon
}
