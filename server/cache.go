package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/coocood/freecache"
	"github.com/ndvserve/ndv/ndv"
)

var (
	metaCache   *freecache.Cache
	metaCacheMu sync.RWMutex
)

// initCache makes sure meta and stats caching is initialized if cache size is specified.
func initCache(numBytes int) {
	metaCacheMu.Lock()
	defer metaCacheMu.Unlock()
	if numBytes <= 0 {
		metaCache = nil
		return
	}
	metaCache = freecache.NewCache(numBytes)
	ndv.Infof("Created freecache of ~ %d MB for metadata and stats.\n", numBytes>>20)
}

// cacheKey identifies an encoded response for one version of a file.
type cacheKey struct {
	op       string // "meta" or "stats"
	engine   string
	path     string
	modTime  int64
	uri      string
	ixstr    string
	encoding string
	minNDim  int
}

func (k cacheKey) bytes() []byte {
	return []byte(fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%s\x00%s\x00%s\x00%d",
		k.op, k.engine, k.path, k.modTime, k.uri, k.ixstr, k.encoding, k.minNDim))
}

// fileModTime returns the modification time in ns of a single-file format.
func fileModTime(ctx context.Context, key string) (int64, error) {
	info, err := store.Stat(ctx, key)
	if err != nil {
		return 0, err
	}
	return info.ModTime.UnixNano(), nil
}

// cacheable reports whether responses for an engine can be keyed on one file's
// modification time.  Each zarr array or group has its own metadata objects, so
// zarr responses are never cached.
func cacheable(engine string) bool {
	return engine != "zarr"
}

func cacheGet(k cacheKey) ([]byte, bool) {
	metaCacheMu.RLock()
	defer metaCacheMu.RUnlock()
	if metaCache == nil {
		return nil, false
	}
	val, err := metaCache.Get(k.bytes())
	if err != nil {
		if err != freecache.ErrNotFound {
			ndv.Errorf("unable to get %s from cache: %v\n", k.op, err)
		}
		return nil, false
	}
	return val, true
}

func cacheSet(k cacheKey, val []byte) {
	metaCacheMu.RLock()
	defer metaCacheMu.RUnlock()
	if metaCache == nil {
		return
	}
	if err := metaCache.Set(k.bytes(), val, 0); err != nil {
		ndv.Debugf("not caching %d byte %s of %s: %v\n", len(val), k.op, k.path, err)
	}
}

// CacheStats describes the meta and stats cache.
type CacheStats struct {
	Enabled  bool    `json:"enabled"`
	Entries  int64   `json:"entries"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hitRate"`
	Capacity int     `json:"capacityMB"`
}

func getCacheStats() CacheStats {
	metaCacheMu.RLock()
	defer metaCacheMu.RUnlock()
	if metaCache == nil {
		return CacheStats{}
	}
	return CacheStats{
		Enabled:  true,
		Entries:  metaCache.EntryCount(),
		Hits:     metaCache.HitCount(),
		Misses:   metaCache.MissCount(),
		HitRate:  metaCache.HitRate(),
		Capacity: CacheSize(MetaCacheID) >> 20,
	}
}
