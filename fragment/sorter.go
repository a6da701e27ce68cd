package fragment

import (
	"container/heap"
	"sort"

	"github.com/tdb-core/tdb/bytebuf"
	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/xerrors"
)

// Cell is one record flowing through the write path: its precomputed
// sort key (tile id, cell id) plus the coordinate values and the raw
// per-attribute bytes in schema attribute order. Precomputing the keys
// here mirrors the teacher's sorter.sortEntry{coord recCoord, body
// []byte}, generalized from a fixed SAM-record coordinate to the
// schema-driven (tileID, cellID, coords) triple spec §4.6 describes.
type Cell struct {
	TileID    uint64
	CellID    uint64
	Coords    []float64
	AttrBytes [][]byte
}

// DefaultSortBatchSize bounds the in-memory run size before a spill,
// mirroring sorter.DefaultSortBatchSize from the teacher's external-sort
// implementation.
const DefaultSortBatchSize = 1 << 20

// compare implements the comparator hierarchy of spec §4.6:
// (tile_id, cell_id, coord) using the schema's precedes as the final
// tiebreaker — the Go equivalent of SmallerIdRow/SmallerRow/SmallerCol.
func compare(s *schema.ArraySchema, a, b *Cell) (int, error) {
	if a.TileID != b.TileID {
		if a.TileID < b.TileID {
			return -1, nil
		}
		return 1, nil
	}
	if a.CellID != b.CellID {
		if a.CellID < b.CellID {
			return -1, nil
		}
		return 1, nil
	}
	lt, err := s.Precedes(a.Coords, b.Coords)
	if err != nil {
		return 0, err
	}
	if lt {
		return -1, nil
	}
	gt, err := s.Succeeds(a.Coords, b.Coords)
	if err != nil {
		return 0, err
	}
	if gt {
		return 1, nil
	}
	return 0, nil
}

// sortRun sorts cells in place using the spec §4.6 comparator hierarchy.
func sortRun(s *schema.ArraySchema, cells []*Cell) error {
	var sortErr error
	sort.SliceStable(cells, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		c, err := compare(s, cells[i], cells[j])
		if err != nil {
			sortErr = err
			return false
		}
		return c < 0
	})
	return sortErr
}

// -- run file encode/decode --

func encodeCell(w *bytebuf.Buffer, c *Cell) {
	w.PutUint64(c.TileID)
	w.PutUint64(c.CellID)
	w.PutUint32(uint32(len(c.Coords)))
	for _, v := range c.Coords {
		w.PutFloat64(v)
	}
	w.PutUint32(uint32(len(c.AttrBytes)))
	for _, b := range c.AttrBytes {
		w.PutBytes(b)
	}
}

func decodeCell(r *bytebuf.Buffer) (*Cell, error) {
	const op = "decodeCell"
	tileID, err := r.Uint64()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	cellID, err := r.Uint64()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	dimNum, err := r.Uint32()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	coords := make([]float64, dimNum)
	for i := range coords {
		coords[i], err = r.Float64()
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
	}
	attrNum, err := r.Uint32()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	attrBytes := make([][]byte, attrNum)
	for i := range attrBytes {
		attrBytes[i], err = r.Bytes()
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
	}
	return &Cell{TileID: tileID, CellID: cellID, Coords: coords, AttrBytes: attrBytes}, nil
}

// encodeRun serializes a full sorted run: u64 count, then each cell.
func encodeRun(cells []*Cell) []byte {
	w := bytebuf.NewWriter(1024)
	w.PutUint64(uint64(len(cells)))
	for _, c := range cells {
		encodeCell(w, c)
	}
	return w.AllBytes()
}

func decodeRun(data []byte) ([]*Cell, error) {
	const op = "decodeRun"
	r := bytebuf.NewReader(data)
	n, err := r.Uint64()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	cells := make([]*Cell, n)
	for i := range cells {
		cells[i], err = decodeCell(r)
		if err != nil {
			return nil, err
		}
	}
	return cells, nil
}

// -- k-way merge --

type mergeSource struct {
	cells []*Cell
	pos   int
}

func (m *mergeSource) peek() *Cell {
	if m.pos >= len(m.cells) {
		return nil
	}
	return m.cells[m.pos]
}

type mergeHeap struct {
	s       *schema.ArraySchema
	sources []*mergeSource
	err     error
}

func (h *mergeHeap) Len() int { return len(h.sources) }
func (h *mergeHeap) Less(i, j int) bool {
	if h.err != nil {
		return false
	}
	c, err := compare(h.s, h.sources[i].peek(), h.sources[j].peek())
	if err != nil {
		h.err = err
		return false
	}
	return c < 0
}
func (h *mergeHeap) Swap(i, j int) { h.sources[i], h.sources[j] = h.sources[j], h.sources[i] }
func (h *mergeHeap) Push(x interface{}) { h.sources = append(h.sources, x.(*mergeSource)) }
func (h *mergeHeap) Pop() interface{} {
	old := h.sources
	n := len(old)
	item := old[n-1]
	h.sources = old[:n-1]
	return item
}

// mergeRuns merges every already-sorted run into global order in a
// single in-memory k-way pass. The runs are not merged in levels: all
// of them are held in memory and feed one heap at once.
func mergeRuns(s *schema.ArraySchema, runs [][]*Cell) ([]*Cell, error) {
	h := &mergeHeap{s: s}
	total := 0
	for _, run := range runs {
		if len(run) == 0 {
			continue
		}
		h.sources = append(h.sources, &mergeSource{cells: run})
		total += len(run)
	}
	heap.Init(h)
	out := make([]*Cell, 0, total)
	for h.Len() > 0 {
		if h.err != nil {
			return nil, h.err
		}
		top := h.sources[0]
		out = append(out, top.peek())
		top.pos++
		if top.peek() == nil {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}
	if h.err != nil {
		return nil, h.err
	}
	return out, nil
}
