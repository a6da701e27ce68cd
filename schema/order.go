package schema

import (
	"math"

	"github.com/tdb-core/tdb/hilbert"
	"github.com/tdb-core/tdb/xerrors"
)

// partitionIndex returns floor((coord-lo)/extent) for one dimension,
// per spec §4.2's tile_id_row_major definition: p_i = floor((coord_i -
// lo_i) / e_i).
func partitionIndex(d Dimension, coord float64) (uint64, error) {
	if coord < d.Lo || coord > d.Hi {
		return 0, xerrors.E("partitionIndex", xerrors.DomainOutOfRange, "coordinate %v outside domain [%v,%v]", coord, d.Lo, d.Hi)
	}
	p := math.Floor((coord - d.Lo) / d.TileExtent)
	if p < 0 {
		return 0, xerrors.E("partitionIndex", xerrors.DomainOverflow, "negative partition index")
	}
	return uint64(p), nil
}

// rowMajorOffsets returns offset_row[i] = product of ceil(range_j/e_j)
// for j>i (dimension i=0 is most significant, per spec §4.2).
func rowMajorOffsets(dims []Dimension) []uint64 {
	n := len(dims)
	offsets := make([]uint64, n)
	var acc uint64 = 1
	for i := n - 1; i >= 0; i-- {
		offsets[i] = acc
		if i > 0 {
			acc *= dims[i].NumTiles()
		}
	}
	return offsets
}

// columnMajorOffsets mirrors rowMajorOffsets with reversed axis
// significance (dimension n-1 is most significant).
func columnMajorOffsets(dims []Dimension) []uint64 {
	n := len(dims)
	offsets := make([]uint64, n)
	var acc uint64 = 1
	for i := 0; i < n; i++ {
		offsets[i] = acc
		if i < n-1 {
			acc *= dims[i].NumTiles()
		}
	}
	return offsets
}

func checkCoordLen(op string, s *ArraySchema, coords []float64) error {
	if len(coords) != len(s.Dimensions) {
		return xerrors.E(op, xerrors.SchemaInvalid, "expected %d coordinates, got %d", len(s.Dimensions), len(coords))
	}
	return nil
}

// TileIDRowMajor computes the tile id of coords under row-major tile
// order (spec §4.2).
func (s *ArraySchema) TileIDRowMajor(coords []float64) (uint64, error) {
	const op = "ArraySchema.TileIDRowMajor"
	if err := checkCoordLen(op, s, coords); err != nil {
		return 0, err
	}
	offsets := rowMajorOffsets(s.Dimensions)
	var id uint64
	for i, d := range s.Dimensions {
		p, err := partitionIndex(d, coords[i])
		if err != nil {
			return 0, err
		}
		id += p * offsets[i]
	}
	return id, nil
}

// TileIDColumnMajor computes the tile id under column-major tile order.
func (s *ArraySchema) TileIDColumnMajor(coords []float64) (uint64, error) {
	const op = "ArraySchema.TileIDColumnMajor"
	if err := checkCoordLen(op, s, coords); err != nil {
		return 0, err
	}
	offsets := columnMajorOffsets(s.Dimensions)
	var id uint64
	for i, d := range s.Dimensions {
		p, err := partitionIndex(d, coords[i])
		if err != nil {
			return 0, err
		}
		id += p * offsets[i]
	}
	return id, nil
}

// hilbertBits returns ceil(log2(maxRange)), at least 1, the number of
// bits per axis used by both cell-id and tile-id Hilbert mappings
// (grounded on array_schema.cc's compute_hilbert_cell_bits/compute_hilbert_tile_bits).
func hilbertBits(maxRange float64) uint32 {
	if maxRange < 1 {
		return 1
	}
	b := math.Ceil(math.Log2(maxRange))
	if b < 1 {
		b = 1
	}
	return uint32(b)
}

func (s *ArraySchema) cellHilbertBits() uint32 {
	var maxRange float64
	for _, d := range s.Dimensions {
		if d.Range() > maxRange {
			maxRange = d.Range()
		}
	}
	return hilbertBits(maxRange)
}

func (s *ArraySchema) tileHilbertBits() uint32 {
	var maxRange float64
	for _, d := range s.Dimensions {
		nt := float64(d.NumTiles())
		if nt > maxRange {
			maxRange = nt
		}
	}
	return hilbertBits(maxRange)
}

// CellIDHilbert computes the Hilbert cell id of coords (spec §4.2):
// cast each coord to integer (floor for floats), map via Hilbert with
// hilbert_cell_bits = ceil(log2(max_domain_range)).
func (s *ArraySchema) CellIDHilbert(coords []float64) (uint64, error) {
	const op = "ArraySchema.CellIDHilbert"
	if err := checkCoordLen(op, s, coords); err != nil {
		return 0, err
	}
	bits := s.cellHilbertBits()
	axes := make([]uint64, len(coords))
	for i, d := range s.Dimensions {
		if coords[i] < d.Lo || coords[i] > d.Hi {
			return 0, xerrors.E(op, xerrors.DomainOutOfRange, "coordinate %v outside domain [%v,%v]", coords[i], d.Lo, d.Hi)
		}
		axes[i] = uint64(math.Floor(coords[i] - d.Lo))
	}
	return hilbert.AxesToLine(axes, bits)
}

// TileIDHilbert computes the Hilbert tile id: like CellIDHilbert but
// over partition indices with hilbert_tile_bits (spec §4.2).
func (s *ArraySchema) TileIDHilbert(coords []float64) (uint64, error) {
	const op = "ArraySchema.TileIDHilbert"
	if err := checkCoordLen(op, s, coords); err != nil {
		return 0, err
	}
	bits := s.tileHilbertBits()
	axes := make([]uint64, len(coords))
	for i, d := range s.Dimensions {
		p, err := partitionIndex(d, coords[i])
		if err != nil {
			return 0, err
		}
		axes[i] = p
	}
	return hilbert.AxesToLine(axes, bits)
}

// TileRect returns the domain sub-rectangle covered by tileID, the
// inverse of TileID, used by the read path to skip tiles that cannot
// overlap a query range without touching book-keeping MBRs (which dense
// regular arrays don't carry).
func (s *ArraySchema) TileRect(tileID uint64) (lo, hi []float64, err error) {
	const op = "ArraySchema.TileRect"
	n := len(s.Dimensions)
	indices := make([]uint64, n)
	switch s.TileOrder {
	case RowMajor:
		offsets := rowMajorOffsets(s.Dimensions)
		rem := tileID
		for i := 0; i < n; i++ {
			indices[i] = rem / offsets[i]
			rem %= offsets[i]
		}
	case ColumnMajor:
		offsets := columnMajorOffsets(s.Dimensions)
		rem := tileID
		for i := n - 1; i >= 0; i-- {
			indices[i] = rem / offsets[i]
			rem %= offsets[i]
		}
	case Hilbert:
		axes, hErr := hilbert.LineToAxes(tileID, uint32(n), s.tileHilbertBits())
		if hErr != nil {
			return nil, nil, xerrors.Wrap(op, xerrors.DomainOverflow, hErr)
		}
		indices = axes
	default:
		return nil, nil, xerrors.E(op, xerrors.SchemaInvalid, "array has no tile order")
	}
	lo = make([]float64, n)
	hi = make([]float64, n)
	for i, d := range s.Dimensions {
		lo[i] = d.Lo + float64(indices[i])*d.TileExtent
		hi[i] = lo[i] + d.TileExtent - 1
		if hi[i] > d.Hi {
			hi[i] = d.Hi
		}
	}
	return lo, hi, nil
}

// CellCoords is TileRect's cell-level counterpart: the inverse of
// CellID restricted to one tile, used by the read path to synthesize
// coordinates for dense fragments, which carry no on-disk coordinate
// tile (spec §4.9's dense-output path reconstructs coords from tile id
// + in-tile cell position instead of reading them).
func (s *ArraySchema) CellCoords(tileID uint64, pos int) ([]float64, error) {
	const op = "ArraySchema.CellCoords"
	lo, hi, err := s.TileRect(tileID)
	if err != nil {
		return nil, err
	}
	n := len(s.Dimensions)
	extents := make([]uint64, n)
	for i := range extents {
		extents[i] = uint64(hi[i]-lo[i]) + 1
	}

	indices := make([]uint64, n)
	switch s.CellOrder {
	case RowMajor:
		offsets := make([]uint64, n)
		var acc uint64 = 1
		for i := n - 1; i >= 0; i-- {
			offsets[i] = acc
			if i > 0 {
				acc *= extents[i]
			}
		}
		rem := uint64(pos)
		for i := 0; i < n; i++ {
			indices[i] = rem / offsets[i]
			rem %= offsets[i]
		}
	case ColumnMajor:
		offsets := make([]uint64, n)
		var acc uint64 = 1
		for i := 0; i < n; i++ {
			offsets[i] = acc
			if i < n-1 {
				acc *= extents[i]
			}
		}
		rem := uint64(pos)
		for i := n - 1; i >= 0; i-- {
			indices[i] = rem / offsets[i]
			rem %= offsets[i]
		}
	case Hilbert:
		var maxExtent uint64
		for _, e := range extents {
			if e > maxExtent {
				maxExtent = e
			}
		}
		bits := hilbertBits(float64(maxExtent))
		axes, hErr := hilbert.LineToAxes(uint64(pos), uint32(n), bits)
		if hErr != nil {
			return nil, xerrors.Wrap(op, xerrors.DomainOverflow, hErr)
		}
		indices = axes
	default:
		return nil, xerrors.E(op, xerrors.SchemaInvalid, "array has no cell order")
	}

	coords := make([]float64, n)
	for i := range coords {
		coords[i] = lo[i] + float64(indices[i])
	}
	return coords, nil
}

// TileID dispatches to the configured tile order. Irregular arrays have
// no tile order; callers must not invoke this for them.
func (s *ArraySchema) TileID(coords []float64) (uint64, error) {
	switch s.TileOrder {
	case RowMajor:
		return s.TileIDRowMajor(coords)
	case ColumnMajor:
		return s.TileIDColumnMajor(coords)
	case Hilbert:
		return s.TileIDHilbert(coords)
	default:
		return 0, xerrors.E("ArraySchema.TileID", xerrors.SchemaInvalid, "array has no tile order")
	}
}

// CellID dispatches to the configured cell order; for row-major and
// column-major orders the "cell id" used for sort keys is simply the
// row/column-major rank within the tile, computed the same way as the
// tile-id arithmetic but over raw coordinates rather than partitions.
func (s *ArraySchema) CellID(coords []float64) (uint64, error) {
	switch s.CellOrder {
	case RowMajor:
		return s.rowMajorCellRank(coords)
	case ColumnMajor:
		return s.columnMajorCellRank(coords)
	case Hilbert:
		return s.CellIDHilbert(coords)
	default:
		return 0, xerrors.E("ArraySchema.CellID", xerrors.SchemaInvalid, "array has no cell order")
	}
}

func (s *ArraySchema) rowMajorCellRank(coords []float64) (uint64, error) {
	const op = "ArraySchema.rowMajorCellRank"
	if err := checkCoordLen(op, s, coords); err != nil {
		return 0, err
	}
	n := len(s.Dimensions)
	offsets := make([]uint64, n)
	var acc uint64 = 1
	for i := n - 1; i >= 0; i-- {
		offsets[i] = acc
		if i > 0 {
			acc *= uint64(s.Dimensions[i].Range())
		}
	}
	var id uint64
	for i, d := range s.Dimensions {
		if coords[i] < d.Lo || coords[i] > d.Hi {
			return 0, xerrors.E(op, xerrors.DomainOutOfRange, "coordinate %v outside domain", coords[i])
		}
		id += uint64(math.Floor(coords[i]-d.Lo)) * offsets[i]
	}
	return id, nil
}

func (s *ArraySchema) columnMajorCellRank(coords []float64) (uint64, error) {
	const op = "ArraySchema.columnMajorCellRank"
	if err := checkCoordLen(op, s, coords); err != nil {
		return 0, err
	}
	n := len(s.Dimensions)
	offsets := make([]uint64, n)
	var acc uint64 = 1
	for i := 0; i < n; i++ {
		offsets[i] = acc
		if i < n-1 {
			acc *= uint64(s.Dimensions[i].Range())
		}
	}
	var id uint64
	for i, d := range s.Dimensions {
		if coords[i] < d.Lo || coords[i] > d.Hi {
			return 0, xerrors.E(op, xerrors.DomainOutOfRange, "coordinate %v outside domain", coords[i])
		}
		id += uint64(math.Floor(coords[i]-d.Lo)) * offsets[i]
	}
	return id, nil
}

// Precedes implements the strict total order over coordinates under
// cell_order (spec §4.2). For Hilbert, ties on cell-id break by
// row-major.
func (s *ArraySchema) Precedes(a, b []float64) (bool, error) {
	const op = "ArraySchema.Precedes"
	switch s.CellOrder {
	case RowMajor:
		return lessLexicographic(a, b), nil
	case ColumnMajor:
		return lessLexicographicReverse(a, b), nil
	case Hilbert:
		ia, err := s.CellIDHilbert(a)
		if err != nil {
			return false, err
		}
		ib, err := s.CellIDHilbert(b)
		if err != nil {
			return false, err
		}
		if ia != ib {
			return ia < ib, nil
		}
		return lessLexicographic(a, b), nil
	default:
		return false, xerrors.E(op, xerrors.SchemaInvalid, "array has no cell order")
	}
}

// Succeeds is the strict reverse of Precedes.
func (s *ArraySchema) Succeeds(a, b []float64) (bool, error) {
	return s.Precedes(b, a)
}

func lessLexicographic(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return floatLess(a[i], b[i])
		}
	}
	return false
}

func lessLexicographicReverse(a, b []float64) bool {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] != b[i] {
			return floatLess(a[i], b[i])
		}
	}
	return false
}

// floatLess implements IEEE-754 total order (NaNs sort last), per spec
// §4.2's "Numeric semantics".
func floatLess(a, b float64) bool {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	if aNaN || bNaN {
		if aNaN && bNaN {
			return false
		}
		return bNaN
	}
	return a < b
}
