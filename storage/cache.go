package storage

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/tdb-core/tdb/tile"
)

// tileCache is a process-wide, strict-LRU cache of decoded tile bytes
// keyed by (fragment directory, attribute index or coordinate marker,
// tile rank), bounded by a byte budget (spec §4.7: "Tile cache...
// process-wide LRU bounded by sm.tile_cache_size"). No pack example
// imports a dedicated LRU library (protomaps-go-pmtiles only pulls
// groupcache/ristretto in transitively, never directly; see
// DESIGN.md), so the list+map structure itself is hand-rolled; the key
// hash uses xxhash, adopted from that same repo's tile-addressing
// scheme.
type tileCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	ll       *list.List
	items    map[uint64]*list.Element
}

type cacheEntry struct {
	key   uint64
	tile  *tile.Tile
	bytes int64
}

func newTileCache(maxBytes int64) *tileCache {
	return &tileCache{
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

// cacheKey hashes (fragment dir, attribute slot, rank) into one lookup
// key. attrSlot is an attribute index, or coordAttrSlot for the
// coordinate tile.
const coordAttrSlot = -1

func cacheKey(fragDir string, attrSlot, rank int) uint64 {
	h := xxhash.New()
	_, _ = h.Write([]byte(fragDir))
	_, _ = h.Write([]byte{0})
	var b [8]byte
	putInt(b[:], attrSlot)
	_, _ = h.Write(b[:])
	putInt(b[:], rank)
	_, _ = h.Write(b[:])
	return h.Sum64()
}

func putInt(b []byte, v int) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}

// get returns the cached tile for key, promoting it to most-recently-used.
func (c *tileCache) get(key uint64) (*tile.Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(e)
	return e.Value.(*cacheEntry).tile, true
}

// put inserts or refreshes key, evicting the least-recently-used
// entries until the cache fits within maxBytes.
func (c *tileCache) put(key uint64, t *tile.Tile, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.curBytes -= e.Value.(*cacheEntry).bytes
		e.Value = &cacheEntry{key: key, tile: t, bytes: size}
		c.curBytes += size
		c.ll.MoveToFront(e)
	} else {
		e := c.ll.PushFront(&cacheEntry{key: key, tile: t, bytes: size})
		c.items[key] = e
		c.curBytes += size
	}
	for c.curBytes > c.maxBytes && c.ll.Len() > 0 {
		back := c.ll.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*cacheEntry)
		c.ll.Remove(back)
		delete(c.items, entry.key)
		c.curBytes -= entry.bytes
	}
}
