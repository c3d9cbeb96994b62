package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsd/synapsd/internal/bitmapindex"
	"github.com/synapsd/synapsd/internal/bsi"
	"github.com/synapsd/synapsd/internal/events"
	"github.com/synapsd/synapsd/internal/idalloc"
	"github.com/synapsd/synapsd/internal/layer"
	"github.com/synapsd/synapsd/internal/store"
	"github.com/synapsd/synapsd/internal/tree"
)

func newTestEngine(t *testing.T) *Engine {
	return newTestEngineWithSink(t, nil)
}

func newTestEngineWithSink(t *testing.T, sink events.Sink) *Engine {
	root := store.NewMemory()

	bitmapsDS, err := root.Dataset("bitmaps")
	require.NoError(t, err)
	bitmaps, err := bitmapindex.New(bitmapsDS, idalloc.InternalMax, 1<<32-1, 64, nil)
	require.NoError(t, err)

	layersDS, err := root.Dataset("layers")
	require.NoError(t, err)
	layers, err := layer.New(layersDS, nil)
	require.NoError(t, err)

	treeDS, err := root.Dataset("tree")
	require.NoError(t, err)
	tr, err := tree.New(treeDS, layers, nil)
	require.NoError(t, err)

	docsDS, err := root.Dataset("documents")
	require.NoError(t, err)
	checksumsDS, err := root.Dataset("checksums")
	require.NoError(t, err)

	eng, err := New(docsDS, checksumsDS, bitmaps, tr, nil, sink)
	require.NoError(t, err)
	return eng
}

func TestInsertAncestorClosure(t *testing.T) {
	eng := newTestEngine(t)
	doc, err := eng.Insert("data/abstraction/note", map[string]any{"title": "N"}, "/work/proj", nil)
	require.NoError(t, err)
	assert.EqualValues(t, idalloc.InternalMax+1, doc.ID)

	for _, path := range []string{"/", "/work", "/work/proj"} {
		has, err := eng.HasDocument(doc.ID, path, nil)
		require.NoError(t, err)
		assert.True(t, has, "expected membership at %s", path)
	}
	has, err := eng.HasDocument(doc.ID, "/home", nil)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestInsertChecksumDedup(t *testing.T) {
	eng := newTestEngine(t)
	data := map[string]any{"title": "same"}

	first, err := eng.Insert("data/abstraction/note", data, "/a", nil)
	require.NoError(t, err)
	second, err := eng.Insert("data/abstraction/note", data, "/b", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	count, err := countKeys(eng.docs)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	id, ok, err := eng.lookupChecksum("sha256", first.Checksums["sha256"])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, id)
}

func TestRemoveNonRecursive(t *testing.T) {
	eng := newTestEngine(t)
	doc, err := eng.Insert("data/abstraction/note", map[string]any{"title": "N"}, "/a/b/c", nil)
	require.NoError(t, err)

	require.NoError(t, eng.Remove(doc.ID, "/a/b/c", nil, false))

	has, err := eng.HasDocument(doc.ID, "/a/b/c", nil)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = eng.HasDocument(doc.ID, "/a/b", nil)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = eng.HasDocument(doc.ID, "/a", nil)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRemoveRecursive(t *testing.T) {
	eng := newTestEngine(t)
	doc, err := eng.Insert("data/abstraction/note", map[string]any{"title": "N"}, "/a/b/c", nil)
	require.NoError(t, err)

	require.NoError(t, eng.Remove(doc.ID, "/a/b/c", nil, true))

	for _, path := range []string{"/a", "/a/b", "/a/b/c"} {
		has, err := eng.HasDocument(doc.ID, path, nil)
		require.NoError(t, err)
		assert.False(t, has, "expected no membership at %s", path)
	}

	has, err := eng.HasDocument(doc.ID, "/", nil)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRemoveRejectsRootOnly(t *testing.T) {
	eng := newTestEngine(t)
	doc, err := eng.Insert("data/abstraction/note", map[string]any{"title": "N"}, "/a", nil)
	require.NoError(t, err)

	err = eng.Remove(doc.ID, "/", nil, false)
	assert.Error(t, err)
}

func TestDeleteTombstonesAndClearsBitmaps(t *testing.T) {
	eng := newTestEngine(t)
	doc, err := eng.Insert("data/abstraction/note", map[string]any{"title": "N"}, "/a/b", []string{"tag/important"})
	require.NoError(t, err)

	deleted, err := eng.Delete(doc.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err := eng.loadDocument(doc.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	tomb, err := eng.bitmaps.GetBitmap(tombstoneKey, false)
	require.NoError(t, err)
	require.NotNil(t, tomb)
	assert.True(t, tomb.Has(doc.ID))

	keys, err := eng.bitmaps.ListBitmaps("")
	require.NoError(t, err)
	for _, k := range keys {
		b, err := eng.bitmaps.GetBitmap(k, false)
		require.NoError(t, err)
		if b != nil {
			assert.False(t, b.Has(doc.ID), "key %s should no longer contain deleted id", k)
		}
	}

	deletedAgain, err := eng.Delete(doc.ID)
	require.NoError(t, err)
	assert.False(t, deletedAgain)
}

func TestFindByContextAndFeature(t *testing.T) {
	eng := newTestEngine(t)
	a, err := eng.Insert("data/abstraction/note", map[string]any{"title": "a"}, "/work", []string{"tag/starred"})
	require.NoError(t, err)
	b, err := eng.Insert("data/abstraction/note", map[string]any{"title": "b"}, "/home", nil)
	require.NoError(t, err)

	res, err := eng.Find("/work", nil, nil, FindOptions{})
	require.NoError(t, err)
	require.Len(t, res.IDs, 1)
	assert.Equal(t, a.ID, res.IDs[0])

	res, err = eng.Find("/", []string{"tag/starred"}, nil, FindOptions{})
	require.NoError(t, err)
	assert.Contains(t, res.IDs, a.ID)
	assert.NotContains(t, res.IDs, b.ID)

	res, err = eng.Find("/", nil, nil, FindOptions{NoParse: true})
	require.NoError(t, err)
	assert.Nil(t, res.Documents)
	assert.Len(t, res.IDs, 2)
}

func TestBSITimestampRange(t *testing.T) {
	eng := newTestEngine(t)
	const now = 1700000000
	eng.now = func() int64 { return now }
	today, err := eng.Insert("data/abstraction/note", map[string]any{"n": 1}, "/a", nil)
	require.NoError(t, err)

	eng.now = func() int64 { return now - 86400 }
	yesterday, err := eng.Insert("data/abstraction/note", map[string]any{"n": 2}, "/a", nil)
	require.NoError(t, err)

	eng.now = func() int64 { return now - 7*86400 }
	old, err := eng.Insert("data/abstraction/note", map[string]any{"n": 3}, "/a", nil)
	require.NoError(t, err)

	result, err := eng.created.QueryRange(bsi.BETWEEN, uint64(now-2*86400), uint64(now))
	require.NoError(t, err)

	ids := result.ToArray()
	assert.Contains(t, ids, today.ID)
	assert.Contains(t, ids, yesterday.ID)
	assert.NotContains(t, ids, old.ID)
}

func TestUpdateMergesAndKeepsOldChecksumAsAlias(t *testing.T) {
	eng := newTestEngine(t)
	doc, err := eng.Insert("data/abstraction/note", map[string]any{"title": "v1"}, "/a", nil)
	require.NoError(t, err)
	oldDigest := doc.Checksums["sha256"]

	updated, err := eng.Update(doc.ID, map[string]any{"title": "v2"}, "/b", []string{"tag/edited"})
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Data["title"])
	assert.NotEqual(t, oldDigest, updated.Checksums["sha256"])

	_, aliasStillResolves, err := eng.lookupChecksum("sha256", oldDigest)
	require.NoError(t, err)
	assert.True(t, aliasStillResolves, "stale checksum should remain as an alias")

	has, err := eng.HasDocument(doc.ID, "/b", nil)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = eng.HasDocument(doc.ID, "/a", nil)
	require.NoError(t, err)
	assert.True(t, has, "update must be additive, not replace old context membership")
}

func TestInsertBatchEmitsSingleBatchEvent(t *testing.T) {
	sink := events.NewChannelSink(16)
	eng := newTestEngineWithSink(t, sink)

	results := eng.InsertBatch([]InsertItem{
		{Schema: "data/abstraction/note", Data: map[string]any{"n": 1}, ContextSpec: "/a"},
		{Schema: "data/abstraction/note", Data: map[string]any{"n": 2}, ContextSpec: "/b"},
	})
	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
	sink.Close()

	var kinds []events.Kind
	for e := range sink.Events() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []events.Kind{events.BatchCompleted}, kinds)
}
