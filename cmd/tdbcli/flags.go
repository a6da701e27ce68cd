package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/tile"
)

// parseFloatList splits a comma-separated list of coordinates, the
// textual form every array-geometry flag (domains, tile extents,
// ranges) uses on the command line.
func parseFloatList(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

// parseNameList splits a comma-separated list of names.
func parseNameList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// parseRange parses a "lo0,lo1,...:hi0,hi1,..." subarray range, the
// format the `subarray` and `export` commands take a --range flag in.
func parseRange(s string) (tile.Range, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return tile.Range{}, fmt.Errorf("range %q: expected lo0,lo1,...:hi0,hi1,...", s)
	}
	loVals, err := parseFloatList(lo)
	if err != nil {
		return tile.Range{}, fmt.Errorf("range lo: %w", err)
	}
	hiVals, err := parseFloatList(hi)
	if err != nil {
		return tile.Range{}, fmt.Errorf("range hi: %w", err)
	}
	if len(loVals) != len(hiVals) {
		return tile.Range{}, fmt.Errorf("range %q: lo and hi have different dimensionality", s)
	}
	return tile.Range{Lo: loVals, Hi: hiVals}, nil
}

// parseOrder maps a --tile-order/--cell-order flag value to schema.Order.
func parseOrder(name string) (schema.Order, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return schema.OrderNone, nil
	case "row-major", "row_major":
		return schema.RowMajor, nil
	case "column-major", "column_major", "col-major":
		return schema.ColumnMajor, nil
	case "hilbert":
		return schema.Hilbert, nil
	default:
		return schema.OrderNone, fmt.Errorf("unknown order %q", name)
	}
}

// indexOf returns the position of name within names, or -1.
func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// resolveIdxs turns a comma-separated list of names into schema
// attribute/dimension indices; an empty csv means "all of them".
func resolveIdxs(csv string, all []string) ([]int, error) {
	if csv == "" {
		out := make([]int, len(all))
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	names := parseNameList(csv)
	out := make([]int, len(names))
	for i, n := range names {
		idx := indexOf(all, n)
		if idx < 0 {
			return nil, fmt.Errorf("unknown name %q", n)
		}
		out[i] = idx
	}
	return out, nil
}
