// Package fragment implements the append-only, immutable fragment:
// book-keeping (this file), the write path (sorter + tiler, see
// writer.go/sorter.go), and the read path (reader.go).
package fragment

import (
	"bytes"
	"hash/crc32"
	"io"
	"sync"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/tdb-core/tdb/bytebuf"
	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/xerrors"
)

// State is the book-keeping lifecycle (spec §4.5): Empty -> Appending ->
// Finalized. Only Finalized book-keeping is visible to readers.
type State uint8

const (
	Empty State = iota
	Appending
	Finalized
)

// Rect is a low/high pair of coordinates, used for MBRs and non-empty
// domains.
type Rect struct {
	Lo, Hi []float64
}

// BookKeeping holds the per-fragment index metadata: tile ids, MBRs,
// bounding coordinates, per-attribute tile offsets, and the non-empty
// domain (spec §4.5), grounded field-for-field on
// core/include/fragment/book_keeping.h.
type BookKeeping struct {
	Schema *schema.ArraySchema
	Sparse bool

	TileIDs         []uint64
	BoundingCoords  []Rect // first/last coord per tile (sparse only)
	MBRs            []Rect // sparse only
	TileOffsets     [][]uint64 // [attrIdx][tileRank]
	TileVarOffsets  [][]uint64 // [attrIdx][tileRank], present only for var attrs
	TileVarSizes    [][]uint64
	CoordOffsets    []uint64 // [tileRank], sparse only: offset of tile into __coords.tdb
	NonEmptyDomain  *Rect
	LastTileCellNum uint64

	// mu guards state and per-attribute appends: AppendTileMetadata is
	// called concurrently, once per attribute, by the write path's
	// compute pool (spec §5).
	mu    sync.Mutex
	state State
}

// NewBookKeeping returns an Empty book-keeping for the given schema.
func NewBookKeeping(s *schema.ArraySchema, sparse bool) *BookKeeping {
	attrNum := s.AttrNum()
	return &BookKeeping{
		Schema:         s,
		Sparse:         sparse,
		TileOffsets:    make([][]uint64, attrNum),
		TileVarOffsets: make([][]uint64, attrNum),
		TileVarSizes:   make([][]uint64, attrNum),
		state:          Empty,
	}
}

// AppendTileMetadata records one tile's worth of book-keeping for one
// attribute. Tile ids, MBR, and bounding coords are appended once per
// tile (on the coordinate/first-attribute call); per-attribute offsets
// are appended on every attribute's call for that tile rank.
func (bk *BookKeeping) AppendTileMetadata(attrIdx int, offset uint64, varOffset, varSize *uint64) error {
	const op = "BookKeeping.AppendTileMetadata"
	bk.mu.Lock()
	defer bk.mu.Unlock()
	if bk.state == Finalized {
		return xerrors.E(op, xerrors.TileOrderViolation, "book-keeping is already finalized")
	}
	bk.state = Appending
	if attrIdx < 0 || attrIdx >= len(bk.TileOffsets) {
		return xerrors.E(op, xerrors.SchemaInvalid, "attribute index %d out of range", attrIdx)
	}
	bk.TileOffsets[attrIdx] = append(bk.TileOffsets[attrIdx], offset)
	if varOffset != nil {
		bk.TileVarOffsets[attrIdx] = append(bk.TileVarOffsets[attrIdx], *varOffset)
	}
	if varSize != nil {
		bk.TileVarSizes[attrIdx] = append(bk.TileVarSizes[attrIdx], *varSize)
	}
	return nil
}

// AppendTile records the tile-id-level metadata shared across
// attributes: id, MBR and bounding coords (sparse only). Called once per
// tile, independent of AppendTileMetadata's per-attribute calls.
func (bk *BookKeeping) AppendTile(tileID uint64, mbr *Rect, boundingFirst, boundingLast []float64) error {
	const op = "BookKeeping.AppendTile"
	bk.mu.Lock()
	defer bk.mu.Unlock()
	if bk.state == Finalized {
		return xerrors.E(op, xerrors.TileOrderViolation, "book-keeping is already finalized")
	}
	if len(bk.TileIDs) > 0 && tileID <= bk.TileIDs[len(bk.TileIDs)-1] {
		return xerrors.E(op, xerrors.TileOrderViolation, "tile id %d is not strictly greater than previous %d", tileID, bk.TileIDs[len(bk.TileIDs)-1])
	}
	bk.state = Appending
	bk.TileIDs = append(bk.TileIDs, tileID)
	if bk.Sparse {
		if mbr != nil {
			bk.MBRs = append(bk.MBRs, *mbr)
		}
		bk.BoundingCoords = append(bk.BoundingCoords, Rect{Lo: boundingFirst, Hi: boundingLast})
	}
	bk.expandNonEmptyDomain(boundingFirst)
	bk.expandNonEmptyDomain(boundingLast)
	if mbr != nil {
		bk.expandNonEmptyDomain(mbr.Lo)
		bk.expandNonEmptyDomain(mbr.Hi)
	}
	return nil
}

// AppendCoordOffset records the byte offset of one tile's worth of
// coordinate payload into __coords.tdb. Called once per tile, in the
// same tile-rank order as AppendTile (sparse fragments only).
func (bk *BookKeeping) AppendCoordOffset(offset uint64) error {
	const op = "BookKeeping.AppendCoordOffset"
	bk.mu.Lock()
	defer bk.mu.Unlock()
	if bk.state == Finalized {
		return xerrors.E(op, xerrors.TileOrderViolation, "book-keeping is already finalized")
	}
	bk.CoordOffsets = append(bk.CoordOffsets, offset)
	return nil
}

func (bk *BookKeeping) expandNonEmptyDomain(coords []float64) {
	if coords == nil {
		return
	}
	if bk.NonEmptyDomain == nil {
		bk.NonEmptyDomain = &Rect{
			Lo: append([]float64(nil), coords...),
			Hi: append([]float64(nil), coords...),
		}
		return
	}
	for i, c := range coords {
		if c < bk.NonEmptyDomain.Lo[i] {
			bk.NonEmptyDomain.Lo[i] = c
		}
		if c > bk.NonEmptyDomain.Hi[i] {
			bk.NonEmptyDomain.Hi[i] = c
		}
	}
}

// Finalize transitions book-keeping to Finalized; no further appends
// are permitted afterward (spec §4.5's state machine).
func (bk *BookKeeping) Finalize() { bk.state = Finalized }

// State reports the current lifecycle state.
func (bk *BookKeeping) State() State { return bk.state }

// TileRank returns the rank (index into TileIDs) of tileID via binary
// search, or false if absent (spec §4.5).
func (bk *BookKeeping) TileRank(tileID uint64) (int, bool) {
	lo, hi := 0, len(bk.TileIDs)
	for lo < hi {
		mid := (lo + hi) / 2
		if bk.TileIDs[mid] < tileID {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(bk.TileIDs) && bk.TileIDs[lo] == tileID {
		return lo, true
	}
	return 0, false
}

// OverlapRank pairs a tile rank with whether the tile is fully contained
// in the queried range.
type OverlapRank struct {
	Rank int
	Full bool
}

// OverlappingTileRanks returns every tile rank whose MBR intersects r,
// tagging full containment (spec §4.5). Dense fragments carry no MBRs,
// so for them it returns an Unsupported error; the read state computes
// dense overlap directly from the schema's tile-id arithmetic.
func (bk *BookKeeping) OverlappingTileRanks(r Rect) ([]OverlapRank, error) {
	const op = "BookKeeping.OverlappingTileRanks"
	if !bk.Sparse {
		return nil, xerrors.E(op, xerrors.Unsupported, "dense tile overlap is computed via schema tile-id arithmetic, not book-keeping")
	}
	out := make([]OverlapRank, 0, len(bk.MBRs))
	for i, mbr := range bk.MBRs {
		if !overlaps(mbr, r) {
			continue
		}
		out = append(out, OverlapRank{Rank: i, Full: contains(r, mbr)})
	}
	return out, nil
}

func overlaps(a, b Rect) bool {
	for i := range a.Lo {
		if a.Hi[i] < b.Lo[i] || a.Lo[i] > b.Hi[i] {
			return false
		}
	}
	return true
}

func contains(outer, inner Rect) bool {
	for i := range inner.Lo {
		if inner.Lo[i] < outer.Lo[i] || inner.Hi[i] > outer.Hi[i] {
			return false
		}
	}
	return true
}

// -- serialization (spec §6: gzip-framed sections, checksum trailer) --

const (
	checksumKindCRC32C = 1
	checksumKindMD5    = 2
)

func gzipSection(w *bytebuf.Buffer, payload []byte) error {
	var buf bytes.Buffer
	gz := kgzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return errors.Wrap(err, "gzip section write")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "gzip section flush")
	}
	w.PutUint32(uint32(buf.Len()))
	w.PutRawBytes(buf.Bytes())
	return nil
}

func readGzipSection(r *bytebuf.Buffer) ([]byte, error) {
	const op = "readGzipSection"
	n, err := r.Uint32()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	raw, err := r.RawBytes(int(n))
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	gz, err := kgzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, errors.Wrap(err, "gzip section header"))
	}
	defer gz.Close()
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, errors.Wrap(err, "gzip section body"))
	}
	return out, nil
}

func encodeRectSlice(w *bytebuf.Buffer, rects []Rect) {
	w.PutUint64(uint64(len(rects)))
	for _, r := range rects {
		for _, v := range r.Lo {
			w.PutFloat64(v)
		}
		for _, v := range r.Hi {
			w.PutFloat64(v)
		}
	}
}

func decodeRectSlice(r *bytebuf.Buffer, dims int) ([]Rect, error) {
	count, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	out := make([]Rect, count)
	for i := range out {
		lo := make([]float64, dims)
		hi := make([]float64, dims)
		for d := 0; d < dims; d++ {
			v, err := r.Float64()
			if err != nil {
				return nil, err
			}
			lo[d] = v
		}
		for d := 0; d < dims; d++ {
			v, err := r.Float64()
			if err != nil {
				return nil, err
			}
			hi[d] = v
		}
		out[i] = Rect{Lo: lo, Hi: hi}
	}
	return out, nil
}

func encodeUint64Slice(w *bytebuf.Buffer, vals []uint64) {
	w.PutUint64(uint64(len(vals)))
	for _, v := range vals {
		w.PutUint64(v)
	}
}

func decodeUint64Slice(r *bytebuf.Buffer) ([]uint64, error) {
	count, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		v, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Serialize emits the book-keeping file layout of spec §6: one
// gzip-framed section per logical piece, in order, followed by a
// checksum trailer covering the concatenation of the raw (pre-gzip)
// section payloads.
func (bk *BookKeeping) Serialize() ([]byte, error) {
	const op = "BookKeeping.Serialize"
	if bk.state != Finalized {
		return nil, xerrors.E(op, xerrors.SchemaInvalid, "book-keeping must be finalized before serialization")
	}
	dims := bk.Schema.DimNum()
	w := bytebuf.NewWriter(1024)
	var raw bytebuf.Buffer

	// 1. tile_ids
	tileIDBuf := bytebuf.NewWriter(8 * len(bk.TileIDs))
	tileIDBuf.PutUint64(uint64(len(bk.TileIDs)))
	for _, id := range bk.TileIDs {
		tileIDBuf.PutUint64(id)
	}
	if err := gzipSection(w, tileIDBuf.AllBytes()); err != nil {
		return nil, xerrors.Wrap(op, xerrors.IoError, err)
	}
	raw.PutRawBytes(tileIDBuf.AllBytes())

	if bk.Sparse {
		// 2. bounding_coords
		bcBuf := bytebuf.NewWriter(64)
		encodeRectSlice(bcBuf, bk.BoundingCoords)
		if err := gzipSection(w, bcBuf.AllBytes()); err != nil {
			return nil, xerrors.Wrap(op, xerrors.IoError, err)
		}
		raw.PutRawBytes(bcBuf.AllBytes())

		// 3. mbrs
		mbrBuf := bytebuf.NewWriter(64)
		encodeRectSlice(mbrBuf, bk.MBRs)
		if err := gzipSection(w, mbrBuf.AllBytes()); err != nil {
			return nil, xerrors.Wrap(op, xerrors.IoError, err)
		}
		raw.PutRawBytes(mbrBuf.AllBytes())
	} else {
		empty := bytebuf.NewWriter(8)
		empty.PutUint64(0)
		if err := gzipSection(w, empty.AllBytes()); err != nil {
			return nil, err
		}
		raw.PutRawBytes(empty.AllBytes())
		if err := gzipSection(w, empty.AllBytes()); err != nil {
			return nil, err
		}
		raw.PutRawBytes(empty.AllBytes())
	}

	// 4. coord_offsets (sparse only)
	coBuf := bytebuf.NewWriter(8 * (len(bk.CoordOffsets) + 1))
	encodeUint64Slice(coBuf, bk.CoordOffsets)
	if err := gzipSection(w, coBuf.AllBytes()); err != nil {
		return nil, xerrors.Wrap(op, xerrors.IoError, err)
	}
	raw.PutRawBytes(coBuf.AllBytes())

	// 5. tile_offsets
	toBuf := bytebuf.NewWriter(128)
	toBuf.PutUint32(uint32(len(bk.TileOffsets)))
	for _, offs := range bk.TileOffsets {
		encodeUint64Slice(toBuf, offs)
	}
	if err := gzipSection(w, toBuf.AllBytes()); err != nil {
		return nil, err
	}
	raw.PutRawBytes(toBuf.AllBytes())

	// 5. tile_var_offsets, tile_var_sizes
	voBuf := bytebuf.NewWriter(128)
	voBuf.PutUint32(uint32(len(bk.TileVarOffsets)))
	for _, offs := range bk.TileVarOffsets {
		encodeUint64Slice(voBuf, offs)
	}
	if err := gzipSection(w, voBuf.AllBytes()); err != nil {
		return nil, err
	}
	raw.PutRawBytes(voBuf.AllBytes())

	vsBuf := bytebuf.NewWriter(128)
	vsBuf.PutUint32(uint32(len(bk.TileVarSizes)))
	for _, sizes := range bk.TileVarSizes {
		encodeUint64Slice(vsBuf, sizes)
	}
	if err := gzipSection(w, vsBuf.AllBytes()); err != nil {
		return nil, err
	}
	raw.PutRawBytes(vsBuf.AllBytes())

	// 6. non_empty_domain
	nedBuf := bytebuf.NewWriter(1 + dims*16)
	if bk.NonEmptyDomain != nil {
		nedBuf.PutUint8(1)
		for _, v := range bk.NonEmptyDomain.Lo {
			nedBuf.PutFloat64(v)
		}
		for _, v := range bk.NonEmptyDomain.Hi {
			nedBuf.PutFloat64(v)
		}
	} else {
		nedBuf.PutUint8(0)
	}
	if err := gzipSection(w, nedBuf.AllBytes()); err != nil {
		return nil, err
	}
	raw.PutRawBytes(nedBuf.AllBytes())

	// 7. last_tile_cell_num
	ltBuf := bytebuf.NewWriter(8)
	ltBuf.PutUint64(bk.LastTileCellNum)
	if err := gzipSection(w, ltBuf.AllBytes()); err != nil {
		return nil, err
	}
	raw.PutRawBytes(ltBuf.AllBytes())

	// 8. checksum_trailer over the concatenation of raw sections
	sum := crc32.Checksum(raw.AllBytes(), crc32.MakeTable(crc32.Castagnoli))
	w.PutUint8(checksumKindCRC32C)
	w.PutUint32(sum)

	return w.AllBytes(), nil
}

// Deserialize parses a book-keeping file, verifying the checksum
// trailer. A checksum mismatch or truncated/malformed section surfaces
// xerrors.Corrupted.
func Deserialize(s *schema.ArraySchema, sparse bool, data []byte) (*BookKeeping, error) {
	const op = "fragment.Deserialize"
	dims := s.DimNum()
	r := bytebuf.NewReader(data)
	var raw bytebuf.Buffer

	tileIDRaw, err := readGzipSection(r)
	if err != nil {
		return nil, err
	}
	raw.PutRawBytes(tileIDRaw)
	tileIDR := bytebuf.NewReader(tileIDRaw)
	tileIDs, err := decodeUint64Slice(tileIDR)
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	for i := 1; i < len(tileIDs); i++ {
		if tileIDs[i] <= tileIDs[i-1] {
			return nil, xerrors.E(op, xerrors.Corrupted, "tile ids are not strictly increasing")
		}
	}

	bcRaw, err := readGzipSection(r)
	if err != nil {
		return nil, err
	}
	raw.PutRawBytes(bcRaw)
	boundingCoords, err := decodeRectSlice(bytebuf.NewReader(bcRaw), dims)
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}

	mbrRaw, err := readGzipSection(r)
	if err != nil {
		return nil, err
	}
	raw.PutRawBytes(mbrRaw)
	mbrs, err := decodeRectSlice(bytebuf.NewReader(mbrRaw), dims)
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	if sparse && len(mbrs) != len(tileIDs) {
		return nil, xerrors.E(op, xerrors.Corrupted, "mbr count %d does not match tile count %d", len(mbrs), len(tileIDs))
	}

	coRaw, err := readGzipSection(r)
	if err != nil {
		return nil, err
	}
	raw.PutRawBytes(coRaw)
	coordOffsets, err := decodeUint64Slice(bytebuf.NewReader(coRaw))
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}

	toRaw, err := readGzipSection(r)
	if err != nil {
		return nil, err
	}
	raw.PutRawBytes(toRaw)
	toR := bytebuf.NewReader(toRaw)
	attrNum, err := toR.Uint32()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	tileOffsets := make([][]uint64, attrNum)
	for i := range tileOffsets {
		tileOffsets[i], err = decodeUint64Slice(toR)
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
	}

	voRaw, err := readGzipSection(r)
	if err != nil {
		return nil, err
	}
	raw.PutRawBytes(voRaw)
	voR := bytebuf.NewReader(voRaw)
	voNum, err := voR.Uint32()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	tileVarOffsets := make([][]uint64, voNum)
	for i := range tileVarOffsets {
		tileVarOffsets[i], err = decodeUint64Slice(voR)
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
	}

	vsRaw, err := readGzipSection(r)
	if err != nil {
		return nil, err
	}
	raw.PutRawBytes(vsRaw)
	vsR := bytebuf.NewReader(vsRaw)
	vsNum, err := vsR.Uint32()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	tileVarSizes := make([][]uint64, vsNum)
	for i := range tileVarSizes {
		tileVarSizes[i], err = decodeUint64Slice(vsR)
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
	}

	nedRaw, err := readGzipSection(r)
	if err != nil {
		return nil, err
	}
	raw.PutRawBytes(nedRaw)
	nedR := bytebuf.NewReader(nedRaw)
	present, err := nedR.Uint8()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	var ned *Rect
	if present != 0 {
		lo := make([]float64, dims)
		hi := make([]float64, dims)
		for i := range lo {
			v, err := nedR.Float64()
			if err != nil {
				return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
			}
			lo[i] = v
		}
		for i := range hi {
			v, err := nedR.Float64()
			if err != nil {
				return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
			}
			hi[i] = v
		}
		ned = &Rect{Lo: lo, Hi: hi}
	}

	ltRaw, err := readGzipSection(r)
	if err != nil {
		return nil, err
	}
	raw.PutRawBytes(ltRaw)
	ltR := bytebuf.NewReader(ltRaw)
	lastTileCellNum, err := ltR.Uint64()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}

	kind, err := r.Uint8()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	if kind != checksumKindCRC32C {
		return nil, xerrors.E(op, xerrors.Corrupted, "unknown checksum kind %d", kind)
	}
	wantSum, err := r.Uint32()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	gotSum := crc32.Checksum(raw.AllBytes(), crc32.MakeTable(crc32.Castagnoli))
	if gotSum != wantSum {
		return nil, xerrors.E(op, xerrors.Corrupted, "checksum trailer mismatch")
	}

	return &BookKeeping{
		Schema:          s,
		Sparse:          sparse,
		TileIDs:         tileIDs,
		BoundingCoords:  boundingCoords,
		MBRs:            mbrs,
		TileOffsets:     tileOffsets,
		TileVarOffsets:  tileVarOffsets,
		TileVarSizes:    tileVarSizes,
		CoordOffsets:    coordOffsets,
		NonEmptyDomain:  ned,
		LastTileCellNum: lastTileCellNum,
		state:           Finalized,
	}, nil
}
