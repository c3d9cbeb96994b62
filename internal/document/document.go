// Package document implements C6, the Document Engine: insert/update/find/
// remove/delete over the documents dataset, wired through the checksum
// index, the context tree, feature bitmaps, and the created/updated/deleted
// timestamp BSIs. It is the orchestration layer the rest of the module's
// components (C1-C5) exist to serve.
//
// Grounded on the teacher's runtime-dispatched "document subclass" pattern
// (spec §9 Design Notes), collapsed here into a single tagged Document plus
// a SchemaRegistry collaborator — the same shape the teacher uses for its
// own pluggable ingest backends (internal/ingest), resolved by name rather
// than by type switch.
package document

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/synapsd/synapsd/internal/bitmap"
	"github.com/synapsd/synapsd/internal/bitmapindex"
	"github.com/synapsd/synapsd/internal/checksum"
	"github.com/synapsd/synapsd/internal/events"
	"github.com/synapsd/synapsd/internal/idalloc"
	"github.com/synapsd/synapsd/internal/layer"
	"github.com/synapsd/synapsd/internal/store"
	"github.com/synapsd/synapsd/internal/synapserr"
	"github.com/synapsd/synapsd/internal/tree"

	"github.com/synapsd/synapsd/internal/bsi"
)

const (
	contextPrefix = "context"
	tombstoneKey  = "internal/gc/deleted"
	actionCreated = "internal/action/created"
	actionUpdated = "internal/action/updated"
	actionDeleted = "internal/action/deleted"

	// timestampBitDepth covers Unix seconds through the year ~36812.
	timestampBitDepth = 40
)

// Document is the persisted record for a single piece of content (spec §3).
type Document struct {
	ID        uint32            `json:"id"`
	Schema    string            `json:"schema"`
	Data      map[string]any    `json:"data"`
	Checksums map[string]string `json:"checksums"`
	CreatedAt int64             `json:"createdAt"`
	UpdatedAt int64             `json:"updatedAt"`
}

// SchemaRegistry validates document payloads against a named schema. It is
// an external collaborator (spec §9): the engine calls it but does not
// define schemas itself.
type SchemaRegistry interface {
	// Validate checks data against schema. It should return a
	// synapserr.KindUnknownSchema error for an unregistered schema, or a
	// synapserr.KindSchemaValidation error for data that fails it.
	Validate(schema string, data map[string]any) error
}

// NoopRegistry accepts every schema and payload unconditionally. It is the
// default when an embedding application has not wired real validation.
type NoopRegistry struct{}

// Validate always succeeds.
func (NoopRegistry) Validate(string, map[string]any) error { return nil }

// FindOptions configures Find.
type FindOptions struct {
	// Limit truncates the result (post sort-by-ID) when > 0.
	Limit int
	// NoParse skips resolving IDs to full Documents, leaving Documents nil
	// on the result (spec §4.6 findDocuments step 6: "parse ≠ false").
	NoParse bool
}

// FindResult is Find's return value: the matching IDs in ascending order,
// plus resolved Documents unless options.NoParse was set.
type FindResult struct {
	IDs       []uint32
	Documents []*Document
}

// Engine is the Document Engine (C6): the orchestration surface tying
// together the documents/checksums datasets, the shared bitmap index, the
// context tree, and the created/updated/deleted BSIs.
type Engine struct {
	mu        sync.Mutex
	docs      store.Store
	checksums store.Store
	bitmaps   *bitmapindex.Index
	tree      *tree.Tree
	created   *bsi.BSI
	updated   *bsi.BSI
	deleted   *bsi.BSI
	ids       *idalloc.Allocator
	registry  SchemaRegistry
	sink      events.Sink
	now       func() int64
}

// New constructs an Engine. docsDS and checksumsDS are the "documents" and
// "checksums" datasets (spec §6); bitmaps is the shared BitmapIndex; tr is
// the context tree. registry and sink default to NoopRegistry{} and
// events.NoopSink{} when nil. The ID allocator is seeded from docsDS's
// current key count (spec §4.6: "INTERNAL_MAX + documentsDataset.count").
func New(docsDS, checksumsDS store.Store, bitmaps *bitmapindex.Index, tr *tree.Tree, registry SchemaRegistry, sink events.Sink) (*Engine, error) {
	if registry == nil {
		registry = NoopRegistry{}
	}
	if sink == nil {
		sink = events.NoopSink{}
	}
	count, err := countKeys(docsDS)
	if err != nil {
		return nil, err
	}
	return &Engine{
		docs:      docsDS,
		checksums: checksumsDS,
		bitmaps:   bitmaps,
		tree:      tr,
		created:   bsi.New(bitmaps, "index/created", timestampBitDepth),
		updated:   bsi.New(bitmaps, "index/updated", timestampBitDepth),
		deleted:   bsi.New(bitmaps, "internal/index/deleted", timestampBitDepth),
		ids:       idalloc.New(count),
		registry:  registry,
		sink:      sink,
		now:       func() int64 { return time.Now().Unix() },
	}, nil
}

func countKeys(ds store.Store) (uint32, error) {
	cur, err := ds.GetKeys(store.KeyRange{})
	if err != nil {
		return 0, synapserr.Backend(err)
	}
	defer cur.Close()
	var n uint32
	for cur.Next() {
		n++
	}
	return n, cur.Err()
}

func docKey(id uint32) []byte { return []byte(strconv.FormatUint(uint64(id), 10)) }

func checksumKey(algo, digest string) []byte { return []byte(algo + "/" + digest) }

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeContextSpec implements spec §4.6 step 6: a nil/empty spec means
// the root; a string is a single path; a []string is taken as-is except
// that the literal root "/" is filtered out when other paths are present.
func normalizeContextSpec(spec any) []string {
	var raw []string
	switch v := spec.(type) {
	case nil:
		raw = []string{"/"}
	case string:
		raw = []string{v}
	case []string:
		raw = append([]string{}, v...)
	default:
		raw = []string{"/"}
	}
	if len(raw) == 0 {
		raw = []string{"/"}
	}
	if len(raw) > 1 {
		filtered := raw[:0]
		for _, p := range raw {
			if p != "/" {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) > 0 {
			raw = filtered
		}
	}
	return raw
}

// contextKeysFor maps a contextSpec to the ordered list of "context/<name>"
// bitmap keys for every non-root path segment across every path. The root
// is deliberately excluded from the list; callers treat an empty list as
// "no path restriction" via contextExpr.
func (e *Engine) contextKeysFor(contextSpec any) []string {
	var keys []string
	for _, p := range normalizeContextSpec(contextSpec) {
		if p == "/" || p == "" {
			continue
		}
		for _, seg := range splitPath(p) {
			keys = append(keys, contextPrefix+"/"+layer.SanitizeName(seg))
		}
	}
	return keys
}

func schemaFeatureKey(schema string) string {
	schema = strings.TrimPrefix(schema, "data/abstraction/")
	return "data/abstraction/" + schema
}

// allDocuments returns the root context bitmap: every document ever
// inserted, minus anything deleteDocument has since unticked. Find and
// HasDocument use this as their notion of "universe" (spec §4.6's "empty ⇒
// universe" rule) instead of bitmapindex.Index's own universe, which spans
// the full configured ID range and would be unusable to materialize.
func (e *Engine) allDocuments() (*bitmap.Bitmap, error) {
	return e.bitmaps.GetBitmap(contextPrefix, true)
}

// contextExpr is the context-AND expression over contextSpec's path
// components, falling back to allDocuments when the path has none (root).
func (e *Engine) contextExpr(contextSpec any) (*bitmap.Bitmap, error) {
	keys := e.contextKeysFor(contextSpec)
	if len(keys) == 0 {
		return e.allDocuments()
	}
	return e.bitmaps.AND(keys)
}

// featureExpr is the feature-OR expression, falling back to allDocuments
// when no features are given.
func (e *Engine) featureExpr(features []string) (*bitmap.Bitmap, error) {
	if len(features) == 0 {
		return e.allDocuments()
	}
	return e.bitmaps.OR(features)
}

// filterExpr is the filter-AND expression, falling back to allDocuments
// when no filters are given.
func (e *Engine) filterExpr(filters []string) (*bitmap.Bitmap, error) {
	if len(filters) == 0 {
		return e.allDocuments()
	}
	return e.bitmaps.AND(filters)
}

func mergeData(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

func (e *Engine) loadDocument(id uint32) (*Document, bool, error) {
	raw, ok, err := e.docs.Get(docKey(id))
	if err != nil {
		return nil, false, synapserr.Backend(err)
	}
	if !ok {
		return nil, false, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, synapserr.Backend(err)
	}
	return &doc, true, nil
}

func (e *Engine) persistDocument(doc *Document) error {
	buf, err := json.Marshal(doc)
	if err != nil {
		return synapserr.Backend(err)
	}
	if err := e.docs.Put(docKey(doc.ID), buf); err != nil {
		return synapserr.Backend(err)
	}
	return nil
}

func (e *Engine) lookupChecksum(algo, digest string) (uint32, bool, error) {
	raw, ok, err := e.checksums.Get(checksumKey(algo, digest))
	if err != nil {
		return 0, false, synapserr.Backend(err)
	}
	if !ok {
		return 0, false, nil
	}
	id, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return 0, false, synapserr.Backend(err)
	}
	return uint32(id), true, nil
}

// upsertChecksums adds every (algo, digest) -> id mapping; it never removes
// a document's previous digests, which are retained as aliases pointing at
// the same ID (spec §9 Open Question, resolved: retain over overwrite).
func (e *Engine) upsertChecksums(id uint32, sums map[string]string) error {
	idBuf := []byte(strconv.FormatUint(uint64(id), 10))
	for algo, digest := range sums {
		if err := e.checksums.Put(checksumKey(algo, digest), idBuf); err != nil {
			return synapserr.Backend(err)
		}
	}
	return nil
}

func (e *Engine) applyContexts(id uint32, contextSpec any) error {
	if err := e.bitmaps.Tick(contextPrefix, []uint32{id}); err != nil {
		return err
	}
	for _, p := range normalizeContextSpec(contextSpec) {
		if p == "/" || p == "" {
			continue
		}
		if _, err := e.tree.InsertPath(p, true); err != nil {
			return err
		}
		for _, seg := range splitPath(p) {
			name := layer.SanitizeName(seg)
			if err := e.bitmaps.Tick(contextPrefix+"/"+name, []uint32{id}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) applyFeatures(id uint32, schema string, features []string) error {
	if err := e.bitmaps.Tick(schemaFeatureKey(schema), []uint32{id}); err != nil {
		return err
	}
	for _, f := range features {
		if err := e.bitmaps.Tick(f, []uint32{id}); err != nil {
			return err
		}
	}
	return nil
}

// Insert runs spec §4.6's insert algorithm: validate, checksum, dedup
// against the checksum index (treating a hit as an update of the existing
// ID), persist, index, and emit documentInserted.
func (e *Engine) Insert(schema string, data map[string]any, contextSpec any, features []string) (*Document, error) {
	return e.insert(schema, data, contextSpec, features, true)
}

func (e *Engine) insert(schema string, data map[string]any, contextSpec any, features []string, emit bool) (*Document, error) {
	if err := e.registry.Validate(schema, data); err != nil {
		return nil, err
	}
	sums, err := checksum.Compute(data)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existingID, ok, err := e.lookupChecksum(checksum.Primary, sums[checksum.Primary]); err != nil {
		return nil, err
	} else if ok {
		return e.update(existingID, data, contextSpec, features, emit)
	}

	id := e.ids.Next()
	now := e.now()
	doc := &Document{ID: id, Schema: schema, Data: data, Checksums: sums, CreatedAt: now, UpdatedAt: now}

	if err := e.persistDocument(doc); err != nil {
		return nil, err
	}
	if err := e.upsertChecksums(id, sums); err != nil {
		return nil, err
	}
	if err := e.applyContexts(id, contextSpec); err != nil {
		return nil, err
	}
	if err := e.applyFeatures(id, schema, features); err != nil {
		return nil, err
	}
	if err := e.created.SetValue(id, uint64(now)); err != nil {
		return nil, err
	}
	if err := e.updated.SetValue(id, uint64(now)); err != nil {
		return nil, err
	}
	if err := e.bitmaps.Tick(actionCreated, []uint32{id}); err != nil {
		return nil, err
	}
	if emit {
		e.sink.Emit(events.Event{Kind: events.DocumentInserted, Payload: id})
	}
	return doc, nil
}

// Update loads id, merges patch into its data, recomputes checksums, and
// additively ticks any new contexts/features (spec §4.6 update: "does not
// remove old memberships").
func (e *Engine) Update(id uint32, patch map[string]any, contextSpec any, features []string) (*Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update(id, patch, contextSpec, features, true)
}

func (e *Engine) update(id uint32, patch map[string]any, contextSpec any, features []string, emit bool) (*Document, error) {
	doc, ok, err := e.loadDocument(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, synapserr.Missing("document not found")
	}
	if err := e.registry.Validate(doc.Schema, patch); err != nil {
		return nil, err
	}

	doc.Data = mergeData(doc.Data, patch)
	sums, err := checksum.Compute(doc.Data)
	if err != nil {
		return nil, err
	}
	doc.Checksums = sums
	doc.UpdatedAt = e.now()

	if err := e.persistDocument(doc); err != nil {
		return nil, err
	}
	if err := e.upsertChecksums(id, sums); err != nil {
		return nil, err
	}
	if err := e.applyContexts(id, contextSpec); err != nil {
		return nil, err
	}
	if err := e.applyFeatures(id, doc.Schema, features); err != nil {
		return nil, err
	}
	if err := e.updated.SetValue(id, uint64(doc.UpdatedAt)); err != nil {
		return nil, err
	}
	if err := e.bitmaps.Tick(actionUpdated, []uint32{id}); err != nil {
		return nil, err
	}
	if emit {
		e.sink.Emit(events.Event{Kind: events.DocumentUpdated, Payload: id})
	}
	return doc, nil
}

// HasDocument reports whether id is a member of the context-AND /
// feature-OR expression. ANDing that expression with the singleton {id} and
// checking non-emptiness is equivalent to just checking membership, so this
// skips building the singleton.
func (e *Engine) HasDocument(id uint32, contextSpec any, features []string) (bool, error) {
	ctx, err := e.contextExpr(contextSpec)
	if err != nil {
		return false, err
	}
	feat, err := e.featureExpr(features)
	if err != nil {
		return false, err
	}
	return ctx.And(feat).Has(id), nil
}

// Find implements spec §4.6's findDocuments: AND the context expression, OR
// the feature expression, AND the filter expression, subtract the
// tombstone bitmap, then materialize and optionally resolve IDs.
func (e *Engine) Find(contextSpec any, features, filters []string, opts FindOptions) (*FindResult, error) {
	ctx, err := e.contextExpr(contextSpec)
	if err != nil {
		return nil, err
	}
	feat, err := e.featureExpr(features)
	if err != nil {
		return nil, err
	}
	filt, err := e.filterExpr(filters)
	if err != nil {
		return nil, err
	}

	result := ctx.And(feat).And(filt)

	tomb, err := e.bitmaps.GetBitmap(tombstoneKey, false)
	if err != nil {
		return nil, err
	}
	if tomb != nil {
		result = result.AndNot(tomb)
	}

	ids := result.ToArray()
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}

	out := &FindResult{IDs: ids}
	if !opts.NoParse {
		docs := make([]*Document, 0, len(ids))
		for _, id := range ids {
			doc, ok, err := e.loadDocument(id)
			if err != nil {
				return nil, err
			}
			if ok {
				docs = append(docs, doc)
			}
		}
		out.Documents = docs
	}
	return out, nil
}

// Remove unticks id from the given contexts/features without deleting the
// document record (spec §4.6 removeDocument). It rejects a contextSpec that
// normalizes to the root only — use Delete for that.
func (e *Engine) Remove(id uint32, contextSpec any, features []string, recursive bool) error {
	return e.remove(id, contextSpec, features, recursive)
}

// remove has no emit parameter: spec §6's event list has no removeDocument
// event, so there is nothing for RemoveBatch to suppress.
func (e *Engine) remove(id uint32, contextSpec any, features []string, recursive bool) error {
	paths := normalizeContextSpec(contextSpec)
	rootOnly := true
	for _, p := range paths {
		if p != "/" && p != "" {
			rootOnly = false
			break
		}
	}
	if rootOnly {
		return synapserr.RootContextProtected()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range paths {
		if p == "/" || p == "" {
			continue
		}
		segs := splitPath(p)
		if len(segs) == 0 {
			continue
		}
		target := segs[len(segs)-1:]
		if recursive {
			target = segs
		}
		for _, seg := range target {
			name := layer.SanitizeName(seg)
			if err := e.bitmaps.Untick(contextPrefix+"/"+name, []uint32{id}); err != nil {
				return err
			}
		}
	}
	for _, f := range features {
		if err := e.bitmaps.Untick(f, []uint32{id}); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes id's document record, every checksum-index entry that
// resolves to id (including aliases left by earlier updates), and its
// membership in every non-internal bitmap; adds it to the tombstone bitmap;
// and records an internal/index/deleted timestamp (spec §4.6 deleteDocument).
// Returns false if id did not exist.
func (e *Engine) Delete(id uint32) (bool, error) {
	return e.delete(id, true)
}

func (e *Engine) delete(id uint32, emit bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok, err := e.loadDocument(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if err := e.docs.Del(docKey(id)); err != nil {
		return false, synapserr.Backend(err)
	}
	cur, err := e.checksums.GetRange(store.KeyRange{})
	if err != nil {
		return false, synapserr.Backend(err)
	}
	var aliases [][]byte
	for cur.Next() {
		if string(cur.Value()) == string(docKey(id)) {
			aliases = append(aliases, append([]byte(nil), cur.Key()...))
		}
	}
	err = cur.Err()
	cur.Close()
	if err != nil {
		return false, err
	}
	for _, k := range aliases {
		if err := e.checksums.Del(k); err != nil {
			return false, synapserr.Backend(err)
		}
	}

	keys, err := e.bitmaps.ListBitmaps("")
	if err != nil {
		return false, err
	}
	if err := e.bitmaps.UntickMany(keys, []uint32{id}); err != nil {
		return false, err
	}
	if err := e.bitmaps.Tick(tombstoneKey, []uint32{id}); err != nil {
		return false, err
	}

	now := e.now()
	if err := e.deleted.SetValue(id, uint64(now)); err != nil {
		return false, err
	}
	if err := e.bitmaps.Tick(actionDeleted, []uint32{id}); err != nil {
		return false, err
	}

	if emit {
		e.sink.Emit(events.Event{Kind: events.DocumentDeleted, Payload: id})
	}
	return true, nil
}

// InsertItem is one unit of work for InsertBatch.
type InsertItem struct {
	Schema      string
	Data        map[string]any
	ContextSpec any
	Features    []string
}

// InsertResult pairs an InsertItem's outcome with any error.
type InsertResult struct {
	Doc *Document
	Err error
}

// InsertBatch runs Insert over every item, collecting per-item results. It
// emits a single batch:completed event instead of one per document (spec
// §4.6's batch operations rule).
func (e *Engine) InsertBatch(items []InsertItem) []InsertResult {
	results := make([]InsertResult, len(items))
	for i, it := range items {
		doc, err := e.insert(it.Schema, it.Data, it.ContextSpec, it.Features, false)
		results[i] = InsertResult{Doc: doc, Err: err}
	}
	e.sink.Emit(events.Event{Kind: events.BatchCompleted, Payload: len(items)})
	return results
}

// UpdateItem is one unit of work for UpdateBatch.
type UpdateItem struct {
	ID          uint32
	Patch       map[string]any
	ContextSpec any
	Features    []string
}

// UpdateResult pairs an UpdateItem's outcome with any error.
type UpdateResult struct {
	Doc *Document
	Err error
}

// UpdateBatch runs Update over every item, collecting per-item results.
func (e *Engine) UpdateBatch(items []UpdateItem) []UpdateResult {
	results := make([]UpdateResult, len(items))
	for i, it := range items {
		e.mu.Lock()
		doc, err := e.update(it.ID, it.Patch, it.ContextSpec, it.Features, false)
		e.mu.Unlock()
		results[i] = UpdateResult{Doc: doc, Err: err}
	}
	e.sink.Emit(events.Event{Kind: events.BatchCompleted, Payload: len(items)})
	return results
}

// RemoveItem is one unit of work for RemoveBatch.
type RemoveItem struct {
	ID          uint32
	ContextSpec any
	Features    []string
	Recursive   bool
}

// RemoveBatch runs Remove over every item, collecting per-item errors.
func (e *Engine) RemoveBatch(items []RemoveItem) []error {
	errs := make([]error, len(items))
	for i, it := range items {
		errs[i] = e.remove(it.ID, it.ContextSpec, it.Features, it.Recursive)
	}
	e.sink.Emit(events.Event{Kind: events.BatchCompleted, Payload: len(items)})
	return errs
}

// DeleteResult pairs a DeleteBatch item's outcome with any error.
type DeleteResult struct {
	ID      uint32
	Deleted bool
	Err     error
}

// DeleteBatch runs Delete over every ID, collecting per-item results.
func (e *Engine) DeleteBatch(ids []uint32) []DeleteResult {
	results := make([]DeleteResult, len(ids))
	for i, id := range ids {
		deleted, err := e.delete(id, false)
		results[i] = DeleteResult{ID: id, Deleted: deleted, Err: err}
	}
	e.sink.Emit(events.Event{Kind: events.BatchCompleted, Payload: len(ids)})
	return results
}
