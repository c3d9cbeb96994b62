// Package bitmapindex implements C2: a persistent map from namespaced keys
// to bitmap.Bitmap, with an LRU cache, CRUD, tick/untick, and multi-bitmap
// algebra. It is the workhorse component of SynapsD (spec §2 gives it the
// largest single non-engine share of the codebase).
//
// Grounded on the teacher's internal/lattice.FormalContext (column bitmaps
// keyed by attribute, AND-folded derivation) for the algebra shape, and on
// internal/graph.MemoryStore's fileToNodes bitmap index for the
// lazy-create/tick/untick lifecycle. The LRU cache is new to this module
// and grounded on the sibling pack repo Aman-CERP-amanmcp's direct use of
// github.com/hashicorp/golang-lru/v2 for bounded caches.
package bitmapindex

import (
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/synapsd/synapsd/internal/bitmap"
	"github.com/synapsd/synapsd/internal/events"
	"github.com/synapsd/synapsd/internal/keyspace"
	"github.com/synapsd/synapsd/internal/store"
	"github.com/synapsd/synapsd/internal/synapserr"
)

const internalPrefix = "internal/"

// Index is the BitmapIndex (C2). It owns a "bitmaps" dataset, an LRU cache
// of decoded bitmaps, and the index-wide ID range every bitmap it manages
// is validated against.
type Index struct {
	ds       store.Store
	cache    *lru.Cache[string, *bitmap.Bitmap]
	rangeMin uint32
	rangeMax uint32
	sink     events.Sink
}

// New constructs an Index over ds (typically the "bitmaps" dataset) with
// the index-wide ID range [rangeMin, rangeMax) and an LRU cache holding up
// to cacheSize decoded bitmaps. A nil sink defaults to events.NoopSink.
func New(ds store.Store, rangeMin, rangeMax uint32, cacheSize int, sink events.Sink) (*Index, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, *bitmap.Bitmap](cacheSize)
	if err != nil {
		return nil, synapserr.Backend(err)
	}
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Index{ds: ds, cache: cache, rangeMin: rangeMin, rangeMax: rangeMax, sink: sink}, nil
}

// RangeMin returns the index-wide inclusive lower ID bound.
func (idx *Index) RangeMin() uint32 { return idx.rangeMin }

// RangeMax returns the index-wide exclusive upper ID bound.
func (idx *Index) RangeMax() uint32 { return idx.rangeMax }

// ValidateKey normalizes and validates key per the bitmap-key grammar
// (spec §3/§6). It is exported so BitmapCollection can reuse it statically.
func ValidateKey(key string) (string, bool) {
	return keyspace.Validate(key)
}

// NormalizeKey normalizes key without validating the prefix allow-list.
func NormalizeKey(key string) string {
	return keyspace.Normalize(keyspace.StripNegation(key))
}

func (idx *Index) validate(key string) (string, error) {
	norm, ok := ValidateKey(key)
	if !ok {
		return "", synapserr.InvalidKey(key)
	}
	return norm, nil
}

func (idx *Index) cacheGet(key string) (*bitmap.Bitmap, bool) {
	return idx.cache.Get(key)
}

func (idx *Index) cachePut(b *bitmap.Bitmap) {
	idx.cache.Add(b.Key(), b)
}

func (idx *Index) cacheRemove(key string) {
	idx.cache.Remove(key)
}

func (idx *Index) load(key string) (*bitmap.Bitmap, bool, error) {
	if b, ok := idx.cacheGet(key); ok {
		return b, true, nil
	}
	raw, ok, err := idx.ds.Get([]byte(key))
	if err != nil {
		return nil, false, synapserr.Backend(err)
	}
	if !ok {
		return nil, false, nil
	}
	b, err := bitmap.FromBytes(key, idx.rangeMin, idx.rangeMax, raw, bitmap.DeserializeOptions{})
	if err != nil {
		return nil, false, err
	}
	idx.cachePut(b)
	return b, true, nil
}

func (idx *Index) persist(b *bitmap.Bitmap) error {
	buf, err := b.Serialize(true)
	if err != nil {
		return err
	}
	if err := idx.ds.Put([]byte(b.Key()), buf); err != nil {
		return synapserr.Backend(err)
	}
	idx.cachePut(b)
	return nil
}

// CreateBitmap is idempotent: if key already has a bitmap, it is returned
// unchanged. Otherwise a new one is created with the given seed.
func (idx *Index) CreateBitmap(key string, seed any) (*bitmap.Bitmap, error) {
	norm, err := idx.validate(key)
	if err != nil {
		return nil, err
	}
	if existing, ok, err := idx.load(norm); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}
	b, err := bitmap.New(norm, seed, idx.rangeMin, idx.rangeMax)
	if err != nil {
		return nil, err
	}
	if err := idx.persist(b); err != nil {
		return nil, err
	}
	return b, nil
}

// GetBitmap looks up key in the cache, then the store, then optionally
// creates it. An invalid key with autoCreate=false returns (nil, nil);
// an invalid key with autoCreate=true returns a KindInvalidKey error.
func (idx *Index) GetBitmap(key string, autoCreate bool) (*bitmap.Bitmap, error) {
	norm, ok := ValidateKey(key)
	if !ok {
		if autoCreate {
			return nil, synapserr.InvalidKey(key)
		}
		return nil, nil
	}
	b, found, err := idx.load(norm)
	if err != nil {
		return nil, err
	}
	if found {
		return b, nil
	}
	if !autoCreate {
		return nil, nil
	}
	return idx.CreateBitmap(norm, nil)
}

// HasBitmap reports whether key exists in the store (bypassing autoCreate
// semantics entirely).
func (idx *Index) HasBitmap(key string) (bool, error) {
	norm, err := idx.validate(key)
	if err != nil {
		return false, err
	}
	if _, ok := idx.cacheGet(norm); ok {
		return true, nil
	}
	ok, err := idx.ds.Has([]byte(norm))
	if err != nil {
		return false, synapserr.Backend(err)
	}
	return ok, nil
}

// RenameBitmap saves the bitmap under newKey and deletes oldKey, both
// within a single backend transaction so the two effects are observable
// together (spec §4.2 atomicity requirement).
func (idx *Index) RenameBitmap(oldKey, newKey string) error {
	oldNorm, err := idx.validate(oldKey)
	if err != nil {
		return err
	}
	newNorm, err := idx.validate(newKey)
	if err != nil {
		return err
	}
	b, found, err := idx.load(oldNorm)
	if err != nil {
		return err
	}
	if !found {
		return synapserr.Missing("bitmap not found: " + oldKey)
	}
	renamed, err := bitmap.New(newNorm, b.Raw(), idx.rangeMin, idx.rangeMax)
	if err != nil {
		return err
	}
	buf, err := renamed.Serialize(true)
	if err != nil {
		return err
	}
	err = idx.ds.Transaction(func(tx store.Tx) error {
		if err := tx.Put([]byte(newNorm), buf); err != nil {
			return err
		}
		return tx.Del([]byte(oldNorm))
	})
	if err != nil {
		return synapserr.Backend(err)
	}
	idx.cacheRemove(oldNorm)
	idx.cachePut(renamed)
	return nil
}

// DeleteBitmap removes key from cache and store and emits bitmap:deleted.
func (idx *Index) DeleteBitmap(key string) error {
	norm, err := idx.validate(key)
	if err != nil {
		return err
	}
	if err := idx.ds.Del([]byte(norm)); err != nil {
		return synapserr.Backend(err)
	}
	idx.cacheRemove(norm)
	idx.sink.Emit(events.Event{Kind: events.BitmapDeleted, Payload: norm})
	return nil
}

// ListBitmaps returns normalized keys under prefix in ascending order. An
// empty prefix scans every key but excludes anything under "internal/"
// (spec §4.2 / testable property 4).
func (idx *Index) ListBitmaps(prefix string) ([]string, error) {
	var r store.KeyRange
	if prefix != "" {
		norm := keyspace.Normalize(keyspace.StripNegation(prefix))
		r = store.PrefixRange(norm)
	}
	cur, err := idx.ds.GetKeys(r)
	if err != nil {
		return nil, synapserr.Backend(err)
	}
	defer cur.Close()

	var keys []string
	for cur.Next() {
		k := string(cur.Key())
		if prefix == "" && strings.HasPrefix(k, internalPrefix) {
			continue
		}
		keys = append(keys, k)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Tick auto-creates the bitmap at key, filters ids to positive integers
// (ids are uint32, so "positive" means nonzero — callers are expected to
// have already excluded NaN/<=0/non-integer upstream where the source is a
// float or untyped numeric), adds them, persists, and emits bitmap:update.
func (idx *Index) Tick(key string, ids []uint32) error {
	norm, err := idx.validate(key)
	if err != nil {
		return err
	}
	b, _, err := idx.loadOrCreate(norm)
	if err != nil {
		return err
	}
	filtered := filterPositive(ids)
	if len(filtered) == 0 {
		return nil
	}
	if err := b.AddMany(filtered); err != nil {
		return err
	}
	if err := idx.persist(b); err != nil {
		return err
	}
	idx.sink.Emit(events.Event{Kind: events.BitmapUpdate, Payload: []string{norm}})
	return nil
}

func (idx *Index) loadOrCreate(norm string) (*bitmap.Bitmap, bool, error) {
	b, found, err := idx.load(norm)
	if err != nil {
		return nil, false, err
	}
	if found {
		return b, false, nil
	}
	b, err = bitmap.New(norm, nil, idx.rangeMin, idx.rangeMax)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func filterPositive(ids []uint32) []uint32 {
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			out = append(out, id)
		}
	}
	return out
}

// Untick removes ids from the bitmap at key. A missing bitmap is a no-op
// returning nil. If the bitmap becomes empty, it is deleted and
// bitmap:deleted is emitted; otherwise it is persisted and bitmap:update is
// emitted, whether or not any of ids were members.
func (idx *Index) Untick(key string, ids []uint32) error {
	norm, err := idx.validate(key)
	if err != nil {
		return err
	}
	b, found, err := idx.load(norm)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	b.RemoveMany(ids)
	if b.IsEmpty() {
		return idx.DeleteBitmap(norm)
	}
	if err := idx.persist(b); err != nil {
		return err
	}
	idx.sink.Emit(events.Event{Kind: events.BitmapUpdate, Payload: []string{norm}})
	return nil
}

// TickMany applies the same ID set across many keys, sequentially. A
// failure on key k aborts further keys but does not roll back prior saves
// (spec §4.2's documented, intentionally non-transactional ordering).
func (idx *Index) TickMany(keys []string, ids []uint32) error {
	for _, k := range keys {
		if err := idx.Tick(k, ids); err != nil {
			return err
		}
	}
	return nil
}

// UntickMany is TickMany's untick counterpart.
func (idx *Index) UntickMany(keys []string, ids []uint32) error {
	for _, k := range keys {
		if err := idx.Untick(k, ids); err != nil {
			return err
		}
	}
	return nil
}
