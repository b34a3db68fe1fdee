// Package parsecache is the parser's process-wide surface-form → best-parse
// cache (spec.md §4.6): a mapping that distinguishes an explicit null
// ("analyzed but unparseable") from an absent key ("never attempted"),
// mutated in memory and write-through only on an explicit Flush.
//
// Sharded by xxhash of the key into independent mutex-guarded buckets.
// Flush observes one consistent snapshot: it takes every shard's lock in
// index order, copies the contents, and releases the locks before the
// blocking blob write — no shard stays held across file I/O.
package parsecache

import (
	"encoding/gob"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"

	mperrors "github.com/fieldlang/morphoparse/internal/errors"
	"github.com/fieldlang/morphoparse/internal/trace"
)

const shardCount = 32

// entry is a single cached parse. Null is true for the explicit "no valid
// parse" sentinel; when Null is false, Value holds the canonical parse
// string.
type entry struct {
	Value string
	Null  bool
}

type shard struct {
	mu   sync.Mutex
	data map[string]entry
}

// Cache is the small interface named in spec.md's Design Notes so callers
// and tests can inject an in-memory stub instead of the sharded blob-backed
// implementation.
type Cache interface {
	// Get returns (value, isNull, present). present is false when the key
	// was never attempted; isNull is true when the key was attempted and
	// recorded as having no valid parse.
	Get(key string) (value string, isNull bool, present bool)
	// Put records value as the canonical parse for key; pass isNull=true
	// with an empty value to record the explicit "no valid parse" sentinel.
	Put(key string, value string, isNull bool)
	// Flush persists the current in-memory state to path as a single gob
	// blob, observing one consistent snapshot across all shards.
	Flush(path string) error
	// Clear discards all in-memory entries; it does not touch any
	// previously flushed blob.
	Clear()
}

// Sharded is the default Cache implementation.
type Sharded struct {
	shards [shardCount]*shard
}

// New returns an empty Sharded cache.
func New() *Sharded {
	c := &Sharded{}
	for i := range c.shards {
		c.shards[i] = &shard{data: make(map[string]entry)}
	}
	return c
}

func (c *Sharded) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%shardCount]
}

func (c *Sharded) Get(key string) (string, bool, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return "", false, false
	}
	return e.Value, e.Null, true
}

func (c *Sharded) Put(key string, value string, isNull bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry{Value: value, Null: isNull}
}

func (c *Sharded) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.data = make(map[string]entry)
		s.mu.Unlock()
	}
}

// snapshot is the gob-serializable form of a flush: shard order doesn't
// matter for the blob itself, only for lock-acquisition order while taking
// it (avoids a lock-ordering deadlock against any future multi-key
// operation that might lock two shards at once).
type snapshot struct {
	Entries map[string]entry
}

// Flush takes every shard's lock in index order, copies all shards while
// holding them together (so the copy is one consistent snapshot), releases
// the locks, and only then writes the combined snapshot to path as a single
// gob blob.
func (c *Sharded) Flush(path string) error {
	combined := make(map[string]entry)
	for _, s := range c.shards {
		s.mu.Lock()
	}
	for _, s := range c.shards {
		for k, v := range s.data {
			combined[k] = v
		}
	}
	for _, s := range c.shards {
		s.mu.Unlock()
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(snapshot{Entries: combined})
}

// Load reads a previously flushed blob back into a fresh Sharded cache. A
// missing file is not an error — it yields an empty cache, matching a
// parser's first run before any flush has happened. A corrupt blob is
// logged and treated as an empty cache: per spec.md §7's cache-corruption
// policy, *errors.CacheCorruptionError never propagates past this
// function — callers never need to special-case it.
func Load(path string) (*Sharded, error) {
	c := New()
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			trace.Event("parsecache", "open %s failed, starting empty: %v", path, mperrors.NewCacheCorruptionError(path, err))
		}
		return c, nil
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		trace.Event("parsecache", "decode %s failed, starting empty: %v", path, mperrors.NewCacheCorruptionError(path, err))
		return c, nil
	}
	for k, v := range snap.Entries {
		c.Put(k, v.Value, v.Null)
	}
	return c, nil
}
