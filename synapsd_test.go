package synapsd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemoryInsertFindDelete(t *testing.T) {
	db, err := OpenMemory(Options{})
	require.NoError(t, err)
	defer db.Close()

	doc, err := db.Insert("data/abstraction/note", map[string]any{"title": "hello"}, "/work/proj", []string{"tag/starred"})
	require.NoError(t, err)
	assert.EqualValues(t, InternalMax+1, doc.ID)

	has, err := db.HasDocument(doc.ID, "/work", nil)
	require.NoError(t, err)
	assert.True(t, has)

	res, err := db.Find("/", []string{"tag/starred"}, nil, FindOptions{})
	require.NoError(t, err)
	require.Len(t, res.IDs, 1)
	assert.Equal(t, doc.ID, res.IDs[0])

	deleted, err := db.Delete(doc.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	has, err = db.HasDocument(doc.ID, "/", nil)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestOpenMemoryDedupOnReinsert(t *testing.T) {
	db, err := OpenMemory(Options{})
	require.NoError(t, err)
	defer db.Close()

	data := map[string]any{"title": "same"}
	first, err := db.Insert("data/abstraction/note", data, "/a", nil)
	require.NoError(t, err)
	second, err := db.Insert("data/abstraction/note", data, "/b", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestOpenMemoryBatch(t *testing.T) {
	db, err := OpenMemory(Options{})
	require.NoError(t, err)
	defer db.Close()

	results := db.InsertBatch(nil)
	assert.Empty(t, results)

	bmIdx := db.Bitmaps()
	require.NotNil(t, bmIdx)
	tr := db.Tree()
	require.NotNil(t, tr)
	layers := db.Layers()
	require.NotNil(t, layers)
}
