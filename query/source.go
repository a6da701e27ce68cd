package query

import (
	"container/heap"
	"context"

	"github.com/tdb-core/tdb/fragment"
	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/storage"
	"github.com/tdb-core/tdb/tile"
	"github.com/tdb-core/tdb/xerrors"
)

// fragSource is one fragment's contribution to a merged, array-wide
// read: a fragment.Reader plus the timestamp_hi used to break ties
// between fragments that wrote the same coordinate (spec §5).
type fragSource struct {
	reader   *fragment.Reader
	attrIdxs []int
	tsHi     int64
	cur      *fragment.ReadCell
	have     bool
}

func newFragSource(m *storage.Manager, s *schema.ArraySchema, sparse bool, of *openFragment, r tile.Range) (*fragSource, error) {
	bk, err := m.BookKeeping(of.fd)
	if err != nil {
		return nil, err
	}
	loader, err := m.TileLoader(of.fd)
	if err != nil {
		return nil, err
	}
	rd, err := fragment.NewReader(s, bk, sparse, loader, r)
	if err != nil {
		return nil, err
	}
	return &fragSource{reader: rd, tsHi: of.tsHi}, nil
}

// advance pulls the source's next cell, in its own fragment order.
func (fs *fragSource) advance(ctx context.Context, r tile.Range) error {
	cell, ok, err := fs.reader.Next(ctx, r, fs.attrIdxs)
	if err != nil {
		return err
	}
	fs.cur, fs.have = cell, ok
	return nil
}

// mergeHeap orders fragSources by the array's global cell order
// (ascending), breaking coordinate ties by descending timestamp_hi so
// the most recently written fragment surfaces first on a collision
// (spec §5: "the fragment with the larger timestamp_hi logically
// overwrites overlaps in the earlier fragment"). This is the same
// container/heap shape as fragment.mergeHeap (C7's run merge), applied
// one level up: across fragments instead of across in-memory runs.
type mergeHeap struct {
	s       *schema.ArraySchema
	sources []*fragSource
	err     error
}

func (h *mergeHeap) Len() int { return len(h.sources) }

func (h *mergeHeap) Less(i, j int) bool {
	if h.err != nil {
		return false
	}
	a, b := h.sources[i], h.sources[j]
	lt, err := h.s.Precedes(a.cur.Coords, b.cur.Coords)
	if err != nil {
		h.err = err
		return false
	}
	if lt {
		return true
	}
	gt, err := h.s.Succeeds(a.cur.Coords, b.cur.Coords)
	if err != nil {
		h.err = err
		return false
	}
	if gt {
		return false
	}
	// Equal coordinates: larger timestamp_hi sorts first.
	return a.tsHi > b.tsHi
}

func (h *mergeHeap) Swap(i, j int) { h.sources[i], h.sources[j] = h.sources[j], h.sources[i] }
func (h *mergeHeap) Push(x interface{}) { h.sources = append(h.sources, x.(*fragSource)) }
func (h *mergeHeap) Pop() interface{} {
	old := h.sources
	n := len(old)
	item := old[n-1]
	h.sources = old[:n-1]
	return item
}

// MergedReader streams cells from every visible fragment of one array,
// in global cell order, resolving coordinate collisions between
// concurrently-written fragments by largest timestamp_hi (spec §5).
type MergedReader struct {
	h *mergeHeap
	r tile.Range
}

// newMergedReader primes srcs (each source's first cell) and seeds the
// heap. attrIdxs is the set of attribute indices every source reads.
func newMergedReader(ctx context.Context, s *schema.ArraySchema, srcs []*fragSource, r tile.Range, attrIdxs []int) (*MergedReader, error) {
	mr := &MergedReader{h: &mergeHeap{s: s}, r: r}
	for _, src := range srcs {
		src.attrIdxs = attrIdxs
		if err := src.advance(ctx, r); err != nil {
			return nil, err
		}
		if src.have {
			mr.h.sources = append(mr.h.sources, src)
		}
	}
	heap.Init(mr.h)
	return mr, nil
}

// Next returns the next qualifying cell in global order, or
// (nil, false, nil) once every source is exhausted. On an exact
// coordinate collision across fragments, only the winning (highest
// timestamp_hi) fragment's cell is returned; the stale duplicates from
// lower-timestamp fragments are silently drained.
func (mr *MergedReader) Next(ctx context.Context) (*fragment.ReadCell, bool, error) {
	const op = "query.MergedReader.Next"
	if mr.h.Len() == 0 {
		return nil, false, nil
	}
	if mr.h.err != nil {
		return nil, false, xerrors.Wrap(op, xerrors.IoError, mr.h.err)
	}

	winner := mr.h.sources[0]
	result := winner.cur
	if err := mr.advanceTop(ctx, winner); err != nil {
		return nil, false, err
	}

	// Drain any further heap-top entries that share result's
	// coordinates: these are stale copies written by fragments with a
	// lower timestamp_hi than the winner (the heap's tie-break put the
	// winner first), and must be skipped rather than re-emitted.
	for mr.h.Len() > 0 {
		if mr.h.err != nil {
			return nil, false, xerrors.Wrap(op, xerrors.IoError, mr.h.err)
		}
		next := mr.h.sources[0]
		eq, err := coordsEqual(mr.h.s, result.Coords, next.cur.Coords)
		if err != nil {
			return nil, false, xerrors.Wrap(op, xerrors.IoError, err)
		}
		if !eq {
			break
		}
		if err := mr.advanceTop(ctx, next); err != nil {
			return nil, false, err
		}
	}

	return result, true, nil
}

// advanceTop advances the fragment currently at the heap's root (which
// must be src) past its just-returned-or-skipped cell, then repairs the
// heap: popping src out if it is now exhausted, or fixing its new
// position otherwise.
func (mr *MergedReader) advanceTop(ctx context.Context, src *fragSource) error {
	if err := src.advance(ctx, mr.r); err != nil {
		return err
	}
	if !src.have {
		heap.Pop(mr.h)
	} else {
		heap.Fix(mr.h, 0)
	}
	return nil
}

// coordsEqual reports whether a and b name the same cell: neither
// precedes nor succeeds the other in the array's cell order.
func coordsEqual(s *schema.ArraySchema, a, b []float64) (bool, error) {
	lt, err := s.Precedes(a, b)
	if err != nil {
		return false, err
	}
	if lt {
		return false, nil
	}
	gt, err := s.Succeeds(a, b)
	if err != nil {
		return false, err
	}
	return !gt, nil
}
