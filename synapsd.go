// Package synapsd is the embedded, local-first hybrid-index document
// database described in the top-level specification: a roaring-bitmap index
// (internal/bitmap, internal/bitmapindex, internal/collection), a
// bit-sliced index for range/timeframe queries (internal/bsi), a named
// context tree (internal/tree, internal/layer), and the document engine
// (internal/document) that orchestrates all of the above on every
// insert/update/find/remove/delete. DB is the single constructor surface an
// embedding application talks to; every other package in this module is an
// internal implementation detail reachable only through it.
package synapsd

import (
	"github.com/synapsd/synapsd/internal/bitmapindex"
	"github.com/synapsd/synapsd/internal/document"
	"github.com/synapsd/synapsd/internal/events"
	"github.com/synapsd/synapsd/internal/idalloc"
	"github.com/synapsd/synapsd/internal/layer"
	"github.com/synapsd/synapsd/internal/store"
	"github.com/synapsd/synapsd/internal/tree"
)

// Options configures Open. The zero value is a usable, fully in-memory
// database suitable for tests and short-lived embeddings.
type Options struct {
	// Path is the SQLite file to open. Empty opens a private in-memory
	// SQLite database (":memory:"). Use OpenMemory (below) to skip SQLite
	// entirely for pure-Go test fixtures.
	Path string

	// RangeMin/RangeMax bound every bitmap this database manages (spec §3).
	// A zero RangeMax defaults to 2^32-1, so the zero value gives
	// [0, 2^32-1), all but the last uint32 ID; callers
	// rarely need to narrow this outside of tests.
	RangeMin uint32
	RangeMax uint32

	// CacheSize bounds the bitmap index's LRU cache (spec §4.2). 0 defaults
	// to bitmapindex's own default (4096 entries).
	CacheSize int

	// Registry validates document payloads against their schema (spec §4.6
	// step 1). Nil defaults to document.NoopRegistry, which accepts
	// everything — callers embedding a real schema registry should set this.
	Registry document.SchemaRegistry

	// Sink receives typed index/document events (spec §6, Design Note §9).
	// Nil defaults to events.NoopSink.
	Sink events.Sink
}

// datasetStore is the minimal surface Open needs from whatever backend the
// caller supplies: named, nested logical namespaces (spec §6).
type datasetStore interface {
	Dataset(name string) (store.Store, error)
	Close() error
}

// DB is the top-level SynapsD handle: the five datasets (documents,
// checksums, bitmaps, tree, layers — spec §6), the shared bitmap index, the
// context tree, and the document engine that ties them together.
type DB struct {
	backend datasetStore
	bitmaps *bitmapindex.Index
	layers  *layer.Index
	tree    *tree.Tree
	engine  *document.Engine
}

// Open constructs a DB backed by SQLite at opts.Path (or an in-memory SQLite
// database when Path is empty), creating the "documents", "checksums",
// "bitmaps", "tree", and "layers" datasets (spec §6) and wiring every
// component (C1-C6) over them.
func Open(opts Options) (*DB, error) {
	backend, err := store.Open(opts.Path)
	if err != nil {
		return nil, err
	}
	return open(backend, opts)
}

// OpenMemory is Open's pure-Go counterpart, backed by store.MemoryStore
// instead of SQLite. Useful for tests that want to avoid cgo-free but still
// non-trivial SQLite startup cost.
func OpenMemory(opts Options) (*DB, error) {
	return open(store.NewMemory(), opts)
}

func open(backend datasetStore, opts Options) (*DB, error) {
	if opts.RangeMax == 0 {
		opts.RangeMax = 1<<32 - 1
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.NoopSink{}
	}

	docsDS, err := backend.Dataset("documents")
	if err != nil {
		return nil, err
	}
	checksumsDS, err := backend.Dataset("checksums")
	if err != nil {
		return nil, err
	}
	bitmapsDS, err := backend.Dataset("bitmaps")
	if err != nil {
		return nil, err
	}
	treeDS, err := backend.Dataset("tree")
	if err != nil {
		return nil, err
	}
	layersDS, err := backend.Dataset("layers")
	if err != nil {
		return nil, err
	}

	bitmaps, err := bitmapindex.New(bitmapsDS, opts.RangeMin, opts.RangeMax, opts.CacheSize, sink)
	if err != nil {
		return nil, err
	}
	layers, err := layer.New(layersDS, sink)
	if err != nil {
		return nil, err
	}
	ctxTree, err := tree.New(treeDS, layers, sink)
	if err != nil {
		return nil, err
	}
	engine, err := document.New(docsDS, checksumsDS, bitmaps, ctxTree, opts.Registry, sink)
	if err != nil {
		return nil, err
	}

	return &DB{
		backend: backend,
		bitmaps: bitmaps,
		layers:  layers,
		tree:    ctxTree,
		engine:  engine,
	}, nil
}

// Close releases the underlying storage backend.
func (db *DB) Close() error { return db.backend.Close() }

// Bitmaps exposes the shared BitmapIndex (C2) for callers that need direct
// bitmap algebra or collection access beyond the document engine's surface.
func (db *DB) Bitmaps() *bitmapindex.Index { return db.bitmaps }

// Layers exposes the LayerIndex (C5) for direct layer administration
// (renaming, locking inspection) outside the document engine's path.
func (db *DB) Layers() *layer.Index { return db.layers }

// Tree exposes the context tree (C5) for direct path administration
// (move/copy/remove) outside the document engine's insert/remove surface.
func (db *DB) Tree() *tree.Tree { return db.tree }

// InternalMax is the first user-space document ID; see idalloc.InternalMax.
const InternalMax = idalloc.InternalMax

// Document is the persisted record type returned by Insert/Update/Find.
type Document = document.Document

// FindOptions configures Find; see document.FindOptions.
type FindOptions = document.FindOptions

// FindResult is Find's return value; see document.FindResult.
type FindResult = document.FindResult

// Insert runs the document engine's insert algorithm (spec §4.6): validate,
// checksum, dedup-or-allocate, persist, index contexts/features, and record
// created/updated timestamps.
func (db *DB) Insert(schema string, data map[string]any, contextSpec any, features []string) (*Document, error) {
	return db.engine.Insert(schema, data, contextSpec, features)
}

// Update loads id, merges patch into its data, recomputes checksums, and
// additively ticks any new contexts/features.
func (db *DB) Update(id uint32, patch map[string]any, contextSpec any, features []string) (*Document, error) {
	return db.engine.Update(id, patch, contextSpec, features)
}

// HasDocument reports whether id is present under contextSpec and features.
func (db *DB) HasDocument(id uint32, contextSpec any, features []string) (bool, error) {
	return db.engine.HasDocument(id, contextSpec, features)
}

// Find resolves the context-AND / feature-OR / filter-AND expression to a
// (optionally resolved) set of documents, minus the tombstone bitmap.
func (db *DB) Find(contextSpec any, features, filters []string, opts FindOptions) (*FindResult, error) {
	return db.engine.Find(contextSpec, features, filters, opts)
}

// Remove unticks id from the given contexts/features without deleting the
// document record. recursive=true unticks every layer along each path
// instead of only its leaf.
func (db *DB) Remove(id uint32, contextSpec any, features []string, recursive bool) error {
	return db.engine.Remove(id, contextSpec, features, recursive)
}

// Delete removes id's document record, its checksum-index entries, and its
// membership in every non-internal bitmap, adding it to the tombstone
// bitmap. Returns false if id did not exist.
func (db *DB) Delete(id uint32) (bool, error) {
	return db.engine.Delete(id)
}

// InsertBatch, UpdateBatch, RemoveBatch, and DeleteBatch re-export the
// engine's batch variants; see internal/document for their item/result
// types.
func (db *DB) InsertBatch(items []document.InsertItem) []document.InsertResult {
	return db.engine.InsertBatch(items)
}

func (db *DB) UpdateBatch(items []document.UpdateItem) []document.UpdateResult {
	return db.engine.UpdateBatch(items)
}

func (db *DB) RemoveBatch(items []document.RemoveItem) []error {
	return db.engine.RemoveBatch(items)
}

func (db *DB) DeleteBatch(ids []uint32) []document.DeleteResult {
	return db.engine.DeleteBatch(ids)
}
