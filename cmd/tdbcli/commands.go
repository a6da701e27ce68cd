package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/tdb-core/tdb/bytebuf"
	"github.com/tdb-core/tdb/csvio"
	"github.com/tdb-core/tdb/datatype"
	"github.com/tdb-core/tdb/fragment"
	"github.com/tdb-core/tdb/internal/config"
	"github.com/tdb-core/tdb/query"
	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/storage"
	"github.com/tdb-core/tdb/tile"
)

// cliError distinguishes a malformed invocation (exit 1) from a failure
// inside the engine itself (exit 2), the two non-zero exit codes a CLI
// command can report.
type cliError struct {
	engine bool
	err    error
}

func (e *cliError) Error() string { return e.err.Error() }

func userErrorf(format string, args ...interface{}) error {
	return &cliError{err: fmt.Errorf(format, args...)}
}

func engineError(err error) error {
	if err == nil {
		return nil
	}
	return &cliError{engine: true, err: err}
}

// openManager loads the sm.* tunables for workspace (falling back to
// TILEDB_WORKSPACE when workspace is empty, and reading TILEDB_CONFIG if
// set) and returns a ready storage.Manager plus the resolved workspace
// directory.
func openManager(ctx context.Context, workspace string) (*storage.Manager, string, error) {
	if workspace == "" {
		workspace = os.Getenv("TILEDB_WORKSPACE")
	}
	if workspace == "" {
		return nil, "", userErrorf("--workspace is required (or set TILEDB_WORKSPACE)")
	}
	// config.Load requires TILEDB_WORKSPACE; an explicit --workspace
	// stands in for it.
	if err := os.Setenv("TILEDB_WORKSPACE", workspace); err != nil {
		return nil, "", engineError(err)
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, "", engineError(err)
	}
	return storage.NewManager(cfg.SegmentSize, cfg.TileCacheSize), workspace, nil
}

type defineArrayFlags struct {
	array       string
	dims        string
	dimTypes    string
	domains     string
	tileExtents string
	attrs       string
	attrTypes   string
	varAttrs    string
	cellOrder   string
	tileOrder   string
	capacity    uint64
}

func defineArray(ctx context.Context, workspace string, f defineArrayFlags) error {
	m, workspace, err := openManager(ctx, workspace)
	if err != nil {
		return err
	}

	dimNames := parseNameList(f.dims)
	dimTypeNames := parseNameList(f.dimTypes)
	if len(dimNames) == 0 || len(dimNames) != len(dimTypeNames) {
		return userErrorf("--dims and --dim-types must be non-empty, equal-length lists")
	}
	domainRange, err := parseRange(f.domains)
	if err != nil {
		return userErrorf("--domains: %v", err)
	}
	if len(domainRange.Lo) != len(dimNames) {
		return userErrorf("--domains must give one lo/hi pair per dimension")
	}
	extents, err := parseFloatList(f.tileExtents)
	if err != nil {
		return userErrorf("--tile-extents: %v", err)
	}
	if len(extents) != 0 && len(extents) != len(dimNames) {
		return userErrorf("--tile-extents must be empty or give one value per dimension")
	}

	dims := make([]schema.Dimension, len(dimNames))
	for i, name := range dimNames {
		dt, derr := datatype.ParseDatatype(dimTypeNames[i])
		if derr != nil {
			return userErrorf("--dim-types: %v", derr)
		}
		d := schema.Dimension{Name: name, Type: dt, Lo: domainRange.Lo[i], Hi: domainRange.Hi[i]}
		if len(extents) != 0 {
			d.TileExtent = extents[i]
			d.HasExtent = true
		}
		dims[i] = d
	}

	attrNames := parseNameList(f.attrs)
	attrTypeNames := parseNameList(f.attrTypes)
	if len(attrNames) == 0 || len(attrNames) != len(attrTypeNames) {
		return userErrorf("--attrs and --attr-types must be non-empty, equal-length lists")
	}
	varSet := map[string]bool{}
	for _, n := range parseNameList(f.varAttrs) {
		varSet[n] = true
	}
	attrs := make([]schema.Attribute, len(attrNames))
	for i, name := range attrNames {
		at, aerr := datatype.ParseDatatype(attrTypeNames[i])
		if aerr != nil {
			return userErrorf("--attr-types: %v", aerr)
		}
		attrs[i] = schema.Attribute{Name: name, Type: at, Var: varSet[name] || at.IsVar()}
	}

	cellOrder, err := parseOrder(f.cellOrder)
	if err != nil {
		return userErrorf("--cell-order: %v", err)
	}
	tileOrder, err := parseOrder(f.tileOrder)
	if err != nil {
		return userErrorf("--tile-order: %v", err)
	}
	capacity := f.capacity
	if capacity == 0 {
		capacity = 1
	}

	s := &schema.ArraySchema{
		ArrayName:  f.array,
		Dimensions: dims,
		Attributes: attrs,
		CellOrder:  cellOrder,
		TileOrder:  tileOrder,
		Capacity:   capacity,
	}
	if err := s.Validate(); err != nil {
		return userErrorf("%v", err)
	}
	dir := workspace + "/" + f.array
	if err := m.DefineArray(ctx, dir, s); err != nil {
		return engineError(err)
	}
	return nil
}

func clearArray(ctx context.Context, workspace, array string) error {
	m, workspace, err := openManager(ctx, workspace)
	if err != nil {
		return err
	}
	if err := m.ClearArray(ctx, workspace+"/"+array); err != nil {
		return engineError(err)
	}
	return nil
}

func deleteArray(ctx context.Context, workspace, array string) error {
	m, workspace, err := openManager(ctx, workspace)
	if err != nil {
		return err
	}
	if err := m.DeleteArray(ctx, workspace+"/"+array); err != nil {
		return engineError(err)
	}
	return nil
}

type loadFlags struct {
	array     string
	inputPath string
	delimiter string
	capacity  uint64
	sparse    bool
}

// load implements load/update: read CSV rows of "coords..., attrs..."
// from inputPath and write them as one new fragment (spec §4.6's
// ingestion path, driving fragment.Writer the same way Subarray does).
func load(ctx context.Context, workspace string, f loadFlags) error {
	m, workspace, err := openManager(ctx, workspace)
	if err != nil {
		return err
	}
	dir := workspace + "/" + f.array
	ad, s, err := m.OpenArray(ctx, dir)
	if err != nil {
		return engineError(err)
	}
	defer func() { _ = m.CloseArray(ad) }()

	in, err := os.Open(f.inputPath)
	if err != nil {
		return userErrorf("open %s: %v", f.inputPath, err)
	}
	defer in.Close()

	delim := rune(0)
	if f.delimiter != "" {
		delim = []rune(f.delimiter)[0]
	}
	r := csvio.NewReader(in, delim)

	sparse := f.sparse || !s.Dense()
	wopts := fragment.WriteOptions{Capacity: f.capacity}
	fw, err := fragment.NewWriter(ctx, s, dir, sparse, wopts)
	if err != nil {
		return engineError(err)
	}

	dimNum := len(s.Dimensions)
	for {
		fields, ok, rerr := r.NextLine()
		if rerr != nil {
			return engineError(rerr)
		}
		if !ok {
			break
		}
		if len(fields) != dimNum+len(s.Attributes) {
			return userErrorf("row has %d fields, expected %d dims + %d attrs", len(fields), dimNum, len(s.Attributes))
		}
		coords := make([]float64, dimNum)
		for i := 0; i < dimNum; i++ {
			v, perr := strconv.ParseFloat(fields[i], 64)
			if perr != nil {
				return userErrorf("coordinate %d: %v", i, perr)
			}
			coords[i] = v
		}
		attrBytes := make([][]byte, len(s.Attributes))
		for i, a := range s.Attributes {
			b, eerr := encodeAttrValue(a, fields[dimNum+i])
			if eerr != nil {
				return userErrorf("attribute %s: %v", a.Name, eerr)
			}
			attrBytes[i] = b
		}
		if werr := fw.Write(&fragment.Cell{Coords: coords, AttrBytes: attrBytes}); werr != nil {
			return engineError(werr)
		}
	}
	if err := fw.Close(ctx); err != nil {
		return engineError(err)
	}
	if err := m.RegisterFragment(ctx, ad, fragmentBaseName(fw.Dir())); err != nil {
		return engineError(err)
	}
	return nil
}

// encodeAttrValue encodes one CSV field into the fixed (or
// length-prefixed variable) byte representation fragment.Writer expects
// for an attribute value, per the wire layout datatype.Datatype.Size
// describes.
func encodeAttrValue(a schema.Attribute, field string) ([]byte, error) {
	if a.Var || a.Type == datatype.StringUTF8 {
		return []byte(field), nil
	}
	b := bytebuf.NewWriter(8)
	switch a.Type {
	case datatype.Char, datatype.Uint8:
		n, err := strconv.ParseUint(field, 10, 8)
		if err != nil {
			return nil, err
		}
		b.PutUint8(uint8(n))
	case datatype.Int8:
		n, err := strconv.ParseInt(field, 10, 8)
		if err != nil {
			return nil, err
		}
		b.PutUint8(uint8(int8(n)))
	case datatype.Uint16, datatype.Int16:
		n, err := strconv.ParseInt(field, 10, 16)
		if err != nil {
			return nil, err
		}
		b.PutUint16(uint16(int16(n)))
	case datatype.Int32:
		n, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			return nil, err
		}
		b.PutUint32(uint32(int32(n)))
	case datatype.Uint32:
		n, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return nil, err
		}
		b.PutUint32(uint32(n))
	case datatype.Int64:
		n, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, err
		}
		b.PutUint64(uint64(n))
	case datatype.Uint64:
		n, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, err
		}
		b.PutUint64(n)
	case datatype.Float32:
		n, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return nil, err
		}
		b.PutFloat32(float32(n))
	case datatype.Float64:
		n, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, err
		}
		b.PutFloat64(n)
	default:
		return nil, fmt.Errorf("unsupported type %s", a.Type)
	}
	return b.AllBytes(), nil
}

func fragmentBaseName(dir string) string {
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' {
			return dir[i+1:]
		}
	}
	return dir
}

type exportFlags struct {
	array      string
	outputPath string
	delimiter  string
	dims       string
	attrs      string
	rangeStr   string
	reverse    bool
	dense      bool
	precision  int
}

func exportArray(ctx context.Context, workspace string, f exportFlags) error {
	m, workspace, err := openManager(ctx, workspace)
	if err != nil {
		return err
	}
	dir := workspace + "/" + f.array
	ad, s, err := m.OpenArray(ctx, dir)
	if err != nil {
		return engineError(err)
	}
	defer func() { _ = m.CloseArray(ad) }()

	dimNames := dimensionNames(s)
	attrNames := attributeNames(s)
	dimIdxs, err := resolveIdxs(f.dims, dimNames)
	if err != nil {
		return userErrorf("--dims: %v", err)
	}
	attrIdxs, err := resolveIdxs(f.attrs, attrNames)
	if err != nil {
		return userErrorf("--attrs: %v", err)
	}
	r := fullRange(s)
	if f.rangeStr != "" {
		r, err = parseRange(f.rangeStr)
		if err != nil {
			return userErrorf("--range: %v", err)
		}
	}

	out := os.Stdout
	if f.outputPath != "" && f.outputPath != "-" {
		w, cerr := os.Create(f.outputPath)
		if cerr != nil {
			return userErrorf("create %s: %v", f.outputPath, cerr)
		}
		defer w.Close()
		out = w
	}

	delim := rune(0)
	if f.delimiter != "" {
		delim = []rune(f.delimiter)[0]
	}
	opts := query.ExportOptions{
		Format:      query.FormatCSV,
		DimIdxs:     dimIdxs,
		AttrIdxs:    attrIdxs,
		Range:       r,
		Reverse:     f.reverse,
		DenseOutput: f.dense,
		Delimiter:   delim,
		Precision:   f.precision,
	}
	if err := query.Export(ctx, m, ad, s, dir, out, opts); err != nil {
		return engineError(err)
	}
	return nil
}

type subarrayFlags struct {
	srcArray  string
	destArray string
	rangeStr  string
	attrs     string
	capacity  uint64
}

func subarray(ctx context.Context, workspace string, f subarrayFlags) error {
	m, workspace, err := openManager(ctx, workspace)
	if err != nil {
		return err
	}
	srcDir := workspace + "/" + f.srcArray
	destDir := workspace + "/" + f.destArray

	_, s, err := m.OpenArray(ctx, srcDir)
	if err != nil {
		return engineError(err)
	}
	attrIdxs, err := resolveIdxs(f.attrs, attributeNames(s))
	if err != nil {
		return userErrorf("--attrs: %v", err)
	}
	r, err := parseRange(f.rangeStr)
	if err != nil {
		return userErrorf("--range: %v", err)
	}
	wopts := fragment.WriteOptions{Capacity: f.capacity}
	if err := query.Subarray(ctx, m, srcDir, destDir, r, attrIdxs, wopts, query.SnapshotLatest); err != nil {
		return engineError(err)
	}
	return nil
}

// retile rewrites arrayDir's fragments into a single consolidated
// fragment under a new capacity, the bookkeeping-level operation
// storage_manager.h describes as retile/consolidate: project every
// attribute through Subarray into a throwaway array, then swap it in.
func retile(ctx context.Context, workspace, array string, capacity uint64) error {
	m, workspace, err := openManager(ctx, workspace)
	if err != nil {
		return err
	}
	dir := workspace + "/" + array
	_, s, err := m.OpenArray(ctx, dir)
	if err != nil {
		return engineError(err)
	}
	allAttrs := make([]int, len(s.Attributes))
	for i := range allAttrs {
		allAttrs[i] = i
	}
	tmpDir := dir + "__retile_tmp"
	wopts := fragment.WriteOptions{Capacity: capacity}
	if err := query.Subarray(ctx, m, dir, tmpDir, fullRange(s), allAttrs, wopts, query.SnapshotLatest); err != nil {
		return engineError(err)
	}
	if err := m.ClearArray(ctx, dir); err != nil {
		return engineError(err)
	}
	names, err := m.ListFragments(ctx, tmpDir)
	if err != nil {
		return engineError(err)
	}
	for _, name := range names {
		if err := os.Rename(tmpDir+"/"+name, dir+"/"+name); err != nil {
			return engineError(err)
		}
	}
	ad, _, err := m.OpenArray(ctx, dir)
	if err != nil {
		return engineError(err)
	}
	for _, name := range names {
		if err := m.RegisterFragment(ctx, ad, name); err != nil {
			return engineError(err)
		}
	}
	if err := m.DeleteArray(ctx, tmpDir); err != nil {
		return engineError(err)
	}
	return nil
}

func dimensionNames(s *schema.ArraySchema) []string {
	out := make([]string, len(s.Dimensions))
	for i, d := range s.Dimensions {
		out[i] = d.Name
	}
	return out
}

func attributeNames(s *schema.ArraySchema) []string {
	out := make([]string, len(s.Attributes))
	for i, a := range s.Attributes {
		out[i] = a.Name
	}
	return out
}

func fullRange(s *schema.ArraySchema) tile.Range {
	lo := make([]float64, len(s.Dimensions))
	hi := make([]float64, len(s.Dimensions))
	for i, d := range s.Dimensions {
		lo[i], hi[i] = d.Lo, d.Hi
	}
	return tile.Range{Lo: lo, Hi: hi}
}
