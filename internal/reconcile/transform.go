package reconcile

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

const kelvinOffset = 273.15

var nan = math.NaN()

// step is one column operation of a dataset transform.
type step func(f *Frame) error

// transforms is the normalisation applied to each dataset kind before
// joining. Kinds without an entry are joined unchanged.
var transforms = map[domain.DatasetKind][]step{
	domain.KindGridmet: {
		kelvinToCelsius("tmmn", "tmmx"),
		mean("tmean", "tmmn", "tmmx"),
		mean("rmean", "rmin", "rmax"),
	},
	domain.KindTerraclimate: {
		scale(0.1, "soil", "vs"),
	},
	domain.KindModisNDVI: {
		scale(0.0001, "NDVI"),
	},
	domain.KindForecast: {
		kelvinToCelsius("tasmin", "tasmax"),
		mean("tasmean", "tasmin", "tasmax"),
		scale(86400, "pr"),
		scale(100, "huss_min", "huss_max"),
		rename(map[string]string{
			"tasmin":   "tmmn",
			"tasmax":   "tmmx",
			"tasmean":  "tmean",
			"huss_min": "rmin",
			"huss_max": "rmax",
			"sfcWind":  "vs",
		}),
		drop("huss"),
	},
}

// Transform applies the kind's normalisation to f in place.
func Transform(kind domain.DatasetKind, f *Frame) error {
	for _, s := range transforms[kind] {
		if err := s(f); err != nil {
			return fmt.Errorf("%s transform: %w", kind, err)
		}
	}
	return nil
}

func requireColumns(f *Frame, cols ...string) error {
	for _, c := range cols {
		if !f.Has(c) {
			return fmt.Errorf("missing column %q", c)
		}
	}
	return nil
}

func kelvinToCelsius(cols ...string) step {
	return func(f *Frame) error {
		if err := requireColumns(f, cols...); err != nil {
			return err
		}
		for _, r := range f.Rows {
			for _, c := range cols {
				r.Values[c] = r.Value(c) - kelvinOffset
			}
		}
		return nil
	}
}

func scale(factor float64, cols ...string) step {
	return func(f *Frame) error {
		if err := requireColumns(f, cols...); err != nil {
			return err
		}
		for _, r := range f.Rows {
			for _, c := range cols {
				r.Values[c] = r.Value(c) * factor
			}
		}
		return nil
	}
}

// mean adds dst as the row-wise mean of a and b; a missing input gives a
// missing mean.
func mean(dst, a, b string) step {
	return func(f *Frame) error {
		if err := requireColumns(f, a, b); err != nil {
			return err
		}
		for _, r := range f.Rows {
			r.Values[dst] = (r.Value(a) + r.Value(b)) / 2
		}
		if !f.Has(dst) {
			f.Columns = append(f.Columns, dst)
		}
		return nil
	}
}

// rename renames the columns present in names; absent ones are ignored.
func rename(names map[string]string) step {
	return func(f *Frame) error {
		for _, from := range slices.Sorted(maps.Keys(names)) {
			to := names[from]
			i := slices.Index(f.Columns, from)
			if i < 0 {
				continue
			}
			if f.Has(to) {
				return fmt.Errorf("rename %q: column %q already exists", from, to)
			}
			f.Columns[i] = to
			for _, r := range f.Rows {
				v, ok := r.Values[from]
				delete(r.Values, from)
				if ok {
					r.Values[to] = v
				}
			}
		}
		return nil
	}
}

func drop(cols ...string) step {
	return func(f *Frame) error {
		f.Columns = slices.DeleteFunc(f.Columns, func(c string) bool {
			return slices.Contains(cols, c)
		})
		for _, r := range f.Rows {
			for _, c := range cols {
				delete(r.Values, c)
			}
		}
		return nil
	}
}

// isMissing reports whether v is a missing value.
func isMissing(v float64) bool {
	return math.IsNaN(v)
}
