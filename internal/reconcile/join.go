package reconcile

import (
	"maps"
	"slices"
)

// collisionSuffix marks a right-hand value column whose name is already
// taken by the left frame.
const collisionSuffix = "__"

// OuterJoin merges two frames on the join key, keeping keys present on
// either side. Rows come out in key order; a key repeated on both sides
// yields every left/right pairing. id, region and time come from the left
// row, or from the right row when the key is right-only.
func OuterJoin(left, right *Frame) *Frame {
	out := &Frame{Columns: slices.Clone(left.Columns)}
	rightCols := make(map[string]string, len(right.Columns))
	for _, c := range right.Columns {
		name := c
		for slices.Contains(out.Columns, name) {
			name += collisionSuffix
		}
		rightCols[c] = name
		out.Columns = append(out.Columns, name)
	}

	leftByKey := groupByKey(left)
	rightByKey := groupByKey(right)

	keys := make(map[string]struct{}, len(leftByKey)+len(rightByKey))
	for k := range leftByKey {
		keys[k] = struct{}{}
	}
	for k := range rightByKey {
		keys[k] = struct{}{}
	}

	for _, k := range slices.Sorted(maps.Keys(keys)) {
		ls, rs := leftByKey[k], rightByKey[k]
		switch {
		case len(rs) == 0:
			for _, l := range ls {
				out.Rows = append(out.Rows, merge(out.Columns, &l, nil, rightCols))
			}
		case len(ls) == 0:
			for _, r := range rs {
				out.Rows = append(out.Rows, merge(out.Columns, nil, &r, rightCols))
			}
		default:
			for _, l := range ls {
				for _, r := range rs {
					out.Rows = append(out.Rows, merge(out.Columns, &l, &r, rightCols))
				}
			}
		}
	}
	return out
}

func groupByKey(f *Frame) map[string][]Row {
	g := make(map[string][]Row, len(f.Rows))
	for _, r := range f.Rows {
		g[r.Key] = append(g[r.Key], r)
	}
	return g
}

func merge(columns []string, l, r *Row, rightCols map[string]string) Row {
	var out Row
	switch {
	case l != nil:
		out = Row{Key: l.Key, ID: l.ID, Region: l.Region, Time: l.Time}
	default:
		out = Row{Key: r.Key, ID: r.ID, Region: r.Region, Time: r.Time}
	}

	out.Values = make(map[string]float64, len(columns))
	for _, c := range columns {
		out.Values[c] = nan
	}
	if l != nil {
		for c, v := range l.Values {
			out.Values[c] = v
		}
	}
	if r != nil {
		for c, v := range r.Values {
			if name, ok := rightCols[c]; ok {
				out.Values[name] = v
			}
		}
	}
	return out
}
