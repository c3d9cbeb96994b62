package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsd/synapsd/internal/bitmapindex"
	"github.com/synapsd/synapsd/internal/store"
)

func newTestCollection(t *testing.T, prefix string) *Collection {
	ds, err := store.NewMemory().Dataset("bitmaps")
	require.NoError(t, err)
	idx, err := bitmapindex.New(ds, 0, 1<<32-1, 16, nil)
	require.NoError(t, err)
	return New(prefix, idx)
}

func TestMakeKeyRoot(t *testing.T) {
	c := newTestCollection(t, "context")
	assert.Equal(t, "context", c.MakeKey("/"))
	assert.Equal(t, "context", c.MakeKey(""))
}

func TestMakeKeySegment(t *testing.T) {
	c := newTestCollection(t, "tag")
	assert.Equal(t, "tag/work-proj", c.MakeKey("Work-Proj"))
	assert.Equal(t, "tag/a_b", c.MakeKey("a   b"))
	assert.Equal(t, "tag/a_b", c.MakeKey("a_____b"))
}

func TestMakeKeyDropsDisallowedChars(t *testing.T) {
	c := newTestCollection(t, "tag")
	assert.Equal(t, "tag/abc", c.MakeKey("a*b@c"))
}

func TestMakeKeyPreservesNegation(t *testing.T) {
	c := newTestCollection(t, "data/abstraction")
	assert.Equal(t, "!data/abstraction/note", c.MakeKey("!note"))
}

func TestCollectionTickAndAND(t *testing.T) {
	c := newTestCollection(t, "data/abstraction")
	require.NoError(t, c.Tick("a", []uint32{1, 2, 3, 4, 5}))
	require.NoError(t, c.Tick("b", []uint32{4, 5, 6}))

	result, err := c.AND([]string{"a", "!b"})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, result.ToArray())
}

func TestCollectionListBitmapsScopedToPrefix(t *testing.T) {
	ds, err := store.NewMemory().Dataset("bitmaps")
	require.NoError(t, err)
	idx, err := bitmapindex.New(ds, 100000, 1<<32-1, 16, nil)
	require.NoError(t, err)

	tags := New("tag", idx)
	contexts := New("context", idx)
	require.NoError(t, tags.Tick("red", []uint32{100001}))
	require.NoError(t, contexts.Tick("work", []uint32{100001}))

	keys, err := tags.ListBitmaps()
	require.NoError(t, err)
	assert.Equal(t, []string{"tag/red"}, keys)
}
