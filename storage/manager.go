// Package storage implements the storage manager (spec §4.8): array and
// fragment lifecycle, the open-fragment registry, the tile cache, and
// the segment-staged disk loader that backs fragment.Reader. It
// generalizes bamprovider's shard-cache-by-path pattern (cache entries
// keyed by file path, lazily populated, guarded by a per-entry lock)
// from one BAM shard to one open fragment.
package storage

import (
	"context"
	"io"
	"sync"

	gerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/pkg/errors"

	"github.com/tdb-core/tdb/filter"
	"github.com/tdb-core/tdb/fragment"
	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/tile"
	"github.com/tdb-core/tdb/xerrors"
)

const (
	schemaFileName    = "__array_schema"
	fragmentsListName = "__fragments.bkp"
)

// arrayState is the registry entry behind one open ArrayDescriptor.
type arrayState struct {
	dir        string
	schema     *schema.ArraySchema
	generation uint64
}

// createState tracks the round-robin tile-append invariant and open
// write handles for a fragment opened in Create mode (spec §4.8's
// append_tile contract).
type createState struct {
	attrFiles   []file.File
	attrWriters []io.Writer
	attrOffsets []uint64

	coordFile   file.File
	coordWriter io.Writer
	coordOffset uint64

	pipelines     []*filter.Pipeline
	coordPipeline *filter.Pipeline

	// appended[i] for i<attrNum tracks attribute i; appended[attrNum]
	// (sparse only) tracks the coordinate tile.
	appended      []bool
	pendingTileID uint64
	havePending   bool
	haveCommitted bool
	lastCommitted uint64
	pendingCoord  *tile.Tile
	lastCellNum   uint64
}

// OpenFragmentInfo is the shared, generation-checked state behind one
// open FragmentDescriptor (spec §4.8: "open_fragments_ is protected by
// a read-write lock; each OpenFragmentInfo has its own lock").
type OpenFragmentInfo struct {
	mu sync.Mutex

	dir        string
	arraySchem *schema.ArraySchema
	sparse     bool
	mode       Mode
	generation uint64

	bk     *fragment.BookKeeping
	create *createState
	loader *segmentLoader
}

// Manager implements the storage manager's public contract.
type Manager struct {
	mu            sync.RWMutex
	arrays        map[string]*arrayState
	openFragments map[string]*OpenFragmentInfo
	cache         *tileCache
	segmentSize   int64
	generation    uint64
}

// NewManager returns a Manager whose tile cache is bounded by
// cacheBytes and whose segment loader stages reads in segmentSize
// chunks (sm.tile_cache_size, sm.segment_size; spec §6).
func NewManager(segmentSize, cacheBytes int64) *Manager {
	return &Manager{
		arrays:        make(map[string]*arrayState),
		openFragments: make(map[string]*OpenFragmentInfo),
		cache:         newTileCache(cacheBytes),
		segmentSize:   segmentSize,
	}
}

func (m *Manager) nextGeneration() uint64 {
	m.generation++
	return m.generation
}

// DefineArray validates s, writes the array-schema file, and seeds an
// empty fragments list at dir (the CREATE-mode counterpart to
// OpenArray, used once per array by the `define_array` operation).
func (m *Manager) DefineArray(ctx context.Context, dir string, s *schema.ArraySchema) error {
	const op = "storage.Manager.DefineArray"
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := s.Serialize()
	if err != nil {
		return xerrors.Wrap(op, xerrors.SchemaInvalid, err)
	}
	if err := writeWhole(ctx, dir+"/"+schemaFileName, data); err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	if err := writeFragmentsList(ctx, dir, nil); err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	return nil
}

// OpenArray loads dir's schema (caching it across repeat opens) and
// returns a descriptor.
func (m *Manager) OpenArray(ctx context.Context, dir string) (ArrayDescriptor, *schema.ArraySchema, error) {
	const op = "storage.Manager.OpenArray"
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.arrays[dir]; ok {
		return ArrayDescriptor{name: dir, generation: st.generation}, st.schema, nil
	}
	data, err := readWhole(ctx, dir+"/"+schemaFileName)
	if err != nil {
		return ArrayDescriptor{}, nil, xerrors.Wrap(op, xerrors.IoError, err)
	}
	s, err := schema.Deserialize(data)
	if err != nil {
		return ArrayDescriptor{}, nil, err
	}
	gen := m.nextGeneration()
	m.arrays[dir] = &arrayState{dir: dir, schema: s, generation: gen}
	return ArrayDescriptor{name: dir, generation: gen}, s, nil
}

// CloseArray drops the array from the registry; open fragments under it
// must be closed independently.
func (m *Manager) CloseArray(ad ArrayDescriptor) error {
	const op = "storage.Manager.CloseArray"
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.arrays[ad.name]
	if !ok || st.generation != ad.generation {
		return errStaleDescriptor(op)
	}
	delete(m.arrays, ad.name)
	return nil
}

// ListFragments returns the committed fragment names recorded in
// dir/__fragments.bkp.
func (m *Manager) ListFragments(ctx context.Context, dir string) ([]string, error) {
	return readFragmentsList(ctx, dir)
}

// ClearArray removes every fragment of the array at dir, keeping its
// schema in place (storage_manager.h's clear_array: "Deletes all the
// fragments of an array").
func (m *Manager) ClearArray(ctx context.Context, dir string) error {
	const op = "storage.Manager.ClearArray"
	names, err := readFragmentsList(ctx, dir)
	if err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	for _, name := range names {
		if err := file.RemoveAll(ctx, dir+"/"+name); err != nil {
			return xerrors.Wrap(op, xerrors.IoError, err)
		}
	}
	if err := writeFragmentsList(ctx, dir, nil); err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	return nil
}

// DeleteArray removes the array at dir entirely, schema included
// (storage_manager.h's delete_array: "deletes an array (regardless of
// whether it is open or not)"). Callers must not hold dir open.
func (m *Manager) DeleteArray(ctx context.Context, dir string) error {
	const op = "storage.Manager.DeleteArray"
	m.mu.Lock()
	delete(m.arrays, dir)
	m.mu.Unlock()
	if err := file.RemoveAll(ctx, dir); err != nil {
		return xerrors.Wrap(op, xerrors.IoError, err)
	}
	return nil
}

// RegisterFragment appends fragmentName to ad's fragments list. It is
// the bridge between fragments written directly by fragment.Writer's
// external-sort path (which writes a fully committed fragment directory
// without going through OpenFragment/AppendTile/CloseFragment) and the
// registry CloseFragment otherwise maintains for the Create-mode path.
func (m *Manager) RegisterFragment(ctx context.Context, ad ArrayDescriptor, fragmentName string) error {
	const op = "storage.Manager.RegisterFragment"
	m.mu.RLock()
	st, ok := m.arrays[ad.name]
	m.mu.RUnlock()
	if !ok || st.generation != ad.generation {
		return errStaleDescriptor(op)
	}
	return appendToFragmentsList(ctx, ad.name, fragmentName)
}

// OpenFragment attaches to (Read) or creates (Create) fragmentName
// under the array identified by ad.
func (m *Manager) OpenFragment(ctx context.Context, ad ArrayDescriptor, fragmentName string, sparse bool, mode Mode) (FragmentDescriptor, error) {
	const op = "storage.Manager.OpenFragment"
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.arrays[ad.name]
	if !ok || st.generation != ad.generation {
		return FragmentDescriptor{}, errStaleDescriptor(op)
	}
	key := ad.name + "/" + fragmentName
	if _, exists := m.openFragments[key]; exists {
		return FragmentDescriptor{}, xerrors.E(op, xerrors.AlreadyExists, "fragment %s is already open", key)
	}

	fragDir := ad.name + "/" + fragmentName
	info := &OpenFragmentInfo{
		dir:        fragDir,
		arraySchem: st.schema,
		sparse:     sparse,
		mode:       mode,
	}

	switch mode {
	case Read:
		data, err := readWhole(ctx, fragDir+"/"+fragment.MetadataFileName)
		if err != nil {
			return FragmentDescriptor{}, xerrors.Wrap(op, xerrors.IoError, err)
		}
		bk, err := fragment.Deserialize(st.schema, sparse, data)
		if err != nil {
			return FragmentDescriptor{}, err
		}
		info.bk = bk
	case Create:
		pipelines, coordPipeline, err := buildPipelines(st.schema)
		if err != nil {
			return FragmentDescriptor{}, err
		}
		attrNum := st.schema.AttrNum()
		slots := attrNum
		if sparse {
			slots++
		}
		info.bk = fragment.NewBookKeeping(st.schema, sparse)
		info.create = &createState{
			attrFiles:     make([]file.File, attrNum),
			attrWriters:   make([]io.Writer, attrNum),
			attrOffsets:   make([]uint64, attrNum),
			pipelines:     pipelines,
			coordPipeline: coordPipeline,
			appended:      make([]bool, slots),
		}
		for i, a := range st.schema.Attributes {
			f, err := file.Create(ctx, fragDir+"/"+a.Name+".tdb")
			if err != nil {
				return FragmentDescriptor{}, xerrors.Wrap(op, xerrors.IoError, err)
			}
			info.create.attrFiles[i] = f
			info.create.attrWriters[i] = f.Writer(ctx)
		}
		if sparse {
			f, err := file.Create(ctx, fragDir+"/"+fragment.CoordsFileName)
			if err != nil {
				return FragmentDescriptor{}, xerrors.Wrap(op, xerrors.IoError, err)
			}
			info.create.coordFile = f
			info.create.coordWriter = f.Writer(ctx)
		}
	default:
		return FragmentDescriptor{}, xerrors.E(op, xerrors.SchemaInvalid, "unknown mode")
	}

	gen := m.nextGeneration()
	info.generation = gen
	m.openFragments[key] = info
	return FragmentDescriptor{arrayName: ad.name, fragmentName: fragmentName, generation: gen}, nil
}

func (m *Manager) lookup(fd FragmentDescriptor) (*OpenFragmentInfo, error) {
	const op = "storage.Manager.lookup"
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.openFragments[fd.key()]
	if !ok || info.generation != fd.generation {
		return nil, errStaleDescriptor(op)
	}
	return info, nil
}

func slotIndex(attrSlot, attrNum int) int {
	if attrSlot == coordAttrSlot {
		return attrNum
	}
	return attrSlot
}

// AppendTile appends one tile for one attribute (or, when attrSlot ==
// coordAttrSlot, the coordinate tile) to a fragment opened in Create
// mode, enforcing strict per-attribute ascending tile ids and the
// cross-attribute round-robin rule: tile T is not considered committed
// to book-keeping until every attribute (and the coordinate tile, for
// sparse fragments) has appended it (spec §4.8).
func (m *Manager) AppendTile(ctx context.Context, fd FragmentDescriptor, attrSlot int, t *tile.Tile) error {
	const op = "storage.Manager.AppendTile"
	info, err := m.lookup(fd)
	if err != nil {
		return err
	}
	info.mu.Lock()
	defer info.mu.Unlock()
	if info.mode != Create {
		return xerrors.E(op, xerrors.Unsupported, "fragment is not open for writing")
	}
	c := info.create
	attrNum := len(info.arraySchem.Attributes)
	slot := slotIndex(attrSlot, attrNum)
	if slot < 0 || slot >= len(c.appended) {
		return xerrors.E(op, xerrors.SchemaInvalid, "attribute slot %d out of range", attrSlot)
	}

	if !c.havePending {
		if c.haveCommitted && t.ID <= c.lastCommitted {
			return xerrors.E(op, xerrors.TileOrderViolation, "tile id %d is not strictly greater than previous %d", t.ID, c.lastCommitted)
		}
		c.pendingTileID = t.ID
		c.havePending = true
		for i := range c.appended {
			c.appended[i] = false
		}
	} else if t.ID != c.pendingTileID {
		return xerrors.E(op, xerrors.TileOrderViolation, "every attribute must append tile %d before any attribute starts tile %d", c.pendingTileID, t.ID)
	}
	if c.appended[slot] {
		return xerrors.E(op, xerrors.TileOrderViolation, "attribute slot %d already appended tile %d", attrSlot, t.ID)
	}

	if attrSlot == coordAttrSlot {
		encoded, encErr := c.coordPipeline.Encode(t.Payload())
		if encErr != nil {
			return xerrors.Wrap(op, xerrors.Unsupported, encErr)
		}
		if _, wErr := c.coordWriter.Write(encoded); wErr != nil {
			return xerrors.Wrap(op, xerrors.IoError, wErr)
		}
		if appendErr := info.bk.AppendCoordOffset(c.coordOffset); appendErr != nil {
			return appendErr
		}
		c.coordOffset += uint64(len(encoded))
		c.pendingCoord = t
	} else {
		raw := t.Payload()
		var varOffset, varSize *uint64
		if info.arraySchem.Attributes[attrSlot].Var {
			raw = fragment.EncodeVarPayload(t)
		}
		encoded, encErr := c.pipelines[attrSlot].Encode(raw)
		if encErr != nil {
			return xerrors.Wrap(op, xerrors.Unsupported, encErr)
		}
		if _, wErr := c.attrWriters[attrSlot].Write(encoded); wErr != nil {
			return xerrors.Wrap(op, xerrors.IoError, wErr)
		}
		if info.arraySchem.Attributes[attrSlot].Var {
			vo := c.attrOffsets[attrSlot]
			vs := uint64(len(encoded))
			varOffset, varSize = &vo, &vs
		}
		if appendErr := info.bk.AppendTileMetadata(attrSlot, c.attrOffsets[attrSlot], varOffset, varSize); appendErr != nil {
			return appendErr
		}
		c.attrOffsets[attrSlot] += uint64(len(encoded))
	}
	c.appended[slot] = true
	c.lastCellNum = uint64(t.CellCount())

	complete := true
	for _, ok := range c.appended {
		if !ok {
			complete = false
			break
		}
	}
	if complete {
		var mbr *fragment.Rect
		var first, last []float64
		if info.sparse && c.pendingCoord != nil {
			lo, hi := c.pendingCoord.MBR()
			mbr = &fragment.Rect{Lo: lo, Hi: hi}
			first, last = c.pendingCoord.BoundingFirst(), c.pendingCoord.BoundingLast()
		}
		if appendErr := info.bk.AppendTile(c.pendingTileID, mbr, first, last); appendErr != nil {
			return appendErr
		}
		c.lastCommitted = c.pendingTileID
		c.haveCommitted = true
		c.havePending = false
		c.pendingCoord = nil
	}
	return nil
}

// CloseFragment finalizes a Create-mode fragment (validating that the
// last round was fully committed), or releases a Read-mode fragment's
// loader resources, and removes it from the registry.
func (m *Manager) CloseFragment(ctx context.Context, fd FragmentDescriptor) (err error) {
	const op = "storage.Manager.CloseFragment"
	info, err := m.lookup(fd)
	if err != nil {
		return err
	}
	info.mu.Lock()
	defer info.mu.Unlock()

	if info.mode == Create {
		c := info.create
		if c.havePending {
			return xerrors.E(op, xerrors.TileOrderViolation, "fragment closed mid-round: tile %d was not appended by every attribute", c.pendingTileID)
		}
		for _, f := range c.attrFiles {
			if f != nil {
				if cErr := f.Close(ctx); cErr != nil && err == nil {
					err = cErr
				}
			}
		}
		if c.coordFile != nil {
			if cErr := c.coordFile.Close(ctx); cErr != nil && err == nil {
				err = cErr
			}
		}
		if err != nil {
			return xerrors.Wrap(op, xerrors.IoError, err)
		}
		info.bk.LastTileCellNum = c.lastCellNum
		info.bk.Finalize()
		data, serErr := info.bk.Serialize()
		if serErr != nil {
			return xerrors.Wrap(op, xerrors.IoError, serErr)
		}
		if wErr := writeWhole(ctx, info.dir+"/"+fragment.MetadataFileName, data); wErr != nil {
			return xerrors.Wrap(op, xerrors.IoError, wErr)
		}
		if wErr := writeWhole(ctx, info.dir+"/"+fragment.CommitMarkerName, nil); wErr != nil {
			return xerrors.Wrap(op, xerrors.IoError, wErr)
		}
		if lErr := appendToFragmentsList(ctx, fd.arrayName, fd.fragmentName); lErr != nil {
			return xerrors.Wrap(op, xerrors.IoError, lErr)
		}
	} else if info.loader != nil {
		if cErr := info.loader.close(ctx); cErr != nil {
			return xerrors.Wrap(op, xerrors.IoError, cErr)
		}
	}

	m.mu.Lock()
	delete(m.openFragments, fd.key())
	m.mu.Unlock()
	return nil
}

func (info *OpenFragmentInfo) ensureLoader(cache *tileCache, segmentSize int64) *segmentLoader {
	if info.loader == nil {
		pipelines, coordPipeline, _ := buildPipelines(info.arraySchem)
		info.loader = &segmentLoader{
			fragDir:       info.dir,
			schema:        info.arraySchem,
			sparse:        info.sparse,
			bk:            info.bk,
			pipelines:     pipelines,
			coordPipeline: coordPipeline,
			cache:         cache,
			segmentSize:   segmentSize,
			attrFiles:     make(map[int]file.File),
		}
	}
	return info.loader
}

// GetTileByRank returns attribute attrSlot's tile at rank (or the
// coordinate tile, for attrSlot == coordAttrSlot), loading and caching
// it through the segment loader if not already resident.
func (m *Manager) GetTileByRank(ctx context.Context, fd FragmentDescriptor, attrSlot, rank int) (*tile.Tile, error) {
	const op = "storage.Manager.GetTileByRank"
	info, err := m.lookup(fd)
	if err != nil {
		return nil, err
	}
	info.mu.Lock()
	if info.mode != Read {
		info.mu.Unlock()
		return nil, xerrors.E(op, xerrors.Unsupported, "fragment is not open for reading")
	}
	loader := info.ensureLoader(m.cache, m.segmentSize)
	info.mu.Unlock()

	if attrSlot == coordAttrSlot {
		return loader.LoadCoordTile(ctx, rank)
	}
	return loader.LoadTile(ctx, attrSlot, rank)
}

// GetTile resolves tileID to a rank via book-keeping, then loads it.
func (m *Manager) GetTile(ctx context.Context, fd FragmentDescriptor, attrSlot int, tileID uint64) (*tile.Tile, error) {
	const op = "storage.Manager.GetTile"
	info, err := m.lookup(fd)
	if err != nil {
		return nil, err
	}
	rank, ok := info.bk.TileRank(tileID)
	if !ok {
		return nil, xerrors.E(op, xerrors.NotFound, "tile id %d not found", tileID)
	}
	return m.GetTileByRank(ctx, fd, attrSlot, rank)
}

// TileRank delegates to the fragment's book-keeping.
func (m *Manager) TileRank(fd FragmentDescriptor, tileID uint64) (int, bool, error) {
	info, err := m.lookup(fd)
	if err != nil {
		return 0, false, err
	}
	rank, ok := info.bk.TileRank(tileID)
	return rank, ok, nil
}

// TileLoader returns the fragment.TileLoader bound to fd, for use by
// fragment.NewReader (C8).
func (m *Manager) TileLoader(fd FragmentDescriptor) (fragment.TileLoader, error) {
	info, err := m.lookup(fd)
	if err != nil {
		return nil, err
	}
	info.mu.Lock()
	defer info.mu.Unlock()
	return info.ensureLoader(m.cache, m.segmentSize), nil
}

// BookKeeping exposes fd's book-keeping, for range overlap computation
// ahead of opening a fragment.Reader.
func (m *Manager) BookKeeping(fd FragmentDescriptor) (*fragment.BookKeeping, error) {
	info, err := m.lookup(fd)
	if err != nil {
		return nil, err
	}
	return info.bk, nil
}

// TileIter is a lazy, resumable tile iterator over one fragment
// attribute, produced by Iter/ReverseIter (spec §4.8).
type TileIter struct {
	m        *Manager
	fd       FragmentDescriptor
	attrSlot int
	rank     int
	n        int
	reverse  bool
	done     bool
}

// Next returns the next tile in the iterator's direction, or
// (nil, false, nil) once exhausted.
func (it *TileIter) Next(ctx context.Context) (*tile.Tile, bool, error) {
	if it.done {
		return nil, false, nil
	}
	if !it.reverse {
		if it.rank >= it.n {
			it.done = true
			return nil, false, nil
		}
		t, err := it.m.GetTileByRank(ctx, it.fd, it.attrSlot, it.rank)
		it.rank++
		if err != nil {
			return nil, false, err
		}
		return t, true, nil
	}
	if it.rank < 0 {
		it.done = true
		return nil, false, nil
	}
	t, err := it.m.GetTileByRank(ctx, it.fd, it.attrSlot, it.rank)
	it.rank--
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// Iter returns a forward tile iterator over attrSlot's tiles in
// ascending rank (ascending tile id) order.
func (m *Manager) Iter(fd FragmentDescriptor, attrSlot int) (*TileIter, error) {
	info, err := m.lookup(fd)
	if err != nil {
		return nil, err
	}
	return &TileIter{m: m, fd: fd, attrSlot: attrSlot, rank: 0, n: len(info.bk.TileIDs)}, nil
}

// ReverseIter returns a tile iterator over attrSlot's tiles in
// descending rank order.
func (m *Manager) ReverseIter(fd FragmentDescriptor, attrSlot int) (*TileIter, error) {
	info, err := m.lookup(fd)
	if err != nil {
		return nil, err
	}
	return &TileIter{m: m, fd: fd, attrSlot: attrSlot, rank: len(info.bk.TileIDs) - 1, n: len(info.bk.TileIDs), reverse: true}, nil
}

func buildPipelines(s *schema.ArraySchema) ([]*filter.Pipeline, *filter.Pipeline, error) {
	pipelines := make([]*filter.Pipeline, len(s.Attributes))
	for i, a := range s.Attributes {
		specs := make([]filter.Spec, len(a.Filters))
		for j, f := range a.Filters {
			specs[j] = filter.Spec{Tag: f.Tag, Params: f.Params}
		}
		p, err := filter.Build(specs)
		if err != nil {
			return nil, nil, err
		}
		pipelines[i] = p
	}
	coordPipeline, err := filter.Build(nil)
	if err != nil {
		return nil, nil, err
	}
	return pipelines, coordPipeline, nil
}

func writeWhole(ctx context.Context, path string, data []byte) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer file.CloseAndReport(ctx, f, &err)
	if len(data) > 0 {
		if _, wErr := f.Writer(ctx).Write(data); wErr != nil {
			return errors.Wrapf(wErr, "write %s", path)
		}
	}
	return nil
}

func readWhole(ctx context.Context, path string) (data []byte, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.CloseAndReport(ctx, f, &err)
	out, rErr := io.ReadAll(f.Reader(ctx))
	if rErr != nil {
		return nil, errors.Wrapf(rErr, "read %s", path)
	}
	return out, nil
}

func readFragmentsList(ctx context.Context, arrayDir string) ([]string, error) {
	f, err := file.Open(ctx, arrayDir+"/"+fragmentsListName)
	if err != nil {
		if e, ok := err.(*gerrors.Error); ok && e.Kind == gerrors.NotExist {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "open %s", arrayDir+"/"+fragmentsListName)
	}
	defer func() { _ = f.Close(ctx) }()

	rio := recordio.NewScanner(f.Reader(ctx), recordio.ScannerOpts{})
	defer rio.Finish() // nolint: errcheck
	var names []string
	for rio.Scan() {
		names = append(names, string(rio.Get().([]byte)))
	}
	if err := rio.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", arrayDir+"/"+fragmentsListName)
	}
	return names, nil
}

func writeFragmentsList(ctx context.Context, arrayDir string, names []string) (err error) {
	f, err := file.Create(ctx, arrayDir+"/"+fragmentsListName)
	if err != nil {
		return errors.Wrapf(err, "create %s", arrayDir+"/"+fragmentsListName)
	}
	defer file.CloseAndReport(ctx, f, &err)

	rio := recordio.NewWriter(f.Writer(ctx), recordio.WriterOpts{Transformers: []string{"zstd"}})
	for _, n := range names {
		rio.Append([]byte(n))
	}
	if fErr := rio.Finish(); fErr != nil {
		return errors.Wrapf(fErr, "write %s", arrayDir+"/"+fragmentsListName)
	}
	return nil
}

// appendToFragmentsList rewrites dir/__fragments.bkp with name added,
// the recordio-backed counterpart of PAM's WriteShardIndex (spec §6).
func appendToFragmentsList(ctx context.Context, arrayDir, name string) error {
	names, err := readFragmentsList(ctx, arrayDir)
	if err != nil {
		return err
	}
	names = append(names, name)
	return writeFragmentsList(ctx, arrayDir, names)
}
