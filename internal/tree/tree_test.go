package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsd/synapsd/internal/layer"
	"github.com/synapsd/synapsd/internal/store"
)

func newTestTree(t *testing.T) (*Tree, *layer.Index) {
	root := store.NewMemory()
	layersDS, err := root.Dataset("layers")
	require.NoError(t, err)
	layers, err := layer.New(layersDS, nil)
	require.NoError(t, err)

	treeDS, err := root.Dataset("tree")
	require.NoError(t, err)
	tr, err := New(treeDS, layers, nil)
	require.NoError(t, err)
	return tr, layers
}

func TestInsertPathCreatesLayersAndNodes(t *testing.T) {
	tr, layers := newTestTree(t)
	ids, err := tr.InsertPath("/work/proj", true)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	work, ok := layers.GetLayerByName("work")
	require.True(t, ok)
	proj, ok := layers.GetLayerByName("proj")
	require.True(t, ok)
	assert.Equal(t, []string{work.ID, proj.ID}, ids)

	node, ok := tr.GetNode("/work/proj")
	require.True(t, ok)
	assert.Equal(t, proj.ID, node.ID)
}

func TestInsertPathIsIdempotentOnLayerName(t *testing.T) {
	tr, _ := newTestTree(t)
	_, err := tr.InsertPath("/a/shared", true)
	require.NoError(t, err)
	_, err = tr.InsertPath("/b/shared", true)
	require.NoError(t, err)

	n1, ok1 := tr.GetNode("/a/shared")
	n2, ok2 := tr.GetNode("/b/shared")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, n1.ID, n2.ID, "same leaf name must share the same layer ID")
}

func TestGetNodeMissingPath(t *testing.T) {
	tr, _ := newTestTree(t)
	_, ok := tr.GetNode("/nowhere")
	assert.False(t, ok)
}

func TestRemovePathNonRecursiveReparentsChildren(t *testing.T) {
	tr, _ := newTestTree(t)
	_, err := tr.InsertPath("/a/b/c", true)
	require.NoError(t, err)

	require.NoError(t, tr.RemovePath("/a/b", false))

	_, ok := tr.GetNode("/a/b")
	assert.False(t, ok)
	aNode, ok := tr.GetNode("/a")
	require.True(t, ok)
	require.Len(t, aNode.Children, 1)
}

func TestRemovePathRecursiveDeletesSubtree(t *testing.T) {
	tr, _ := newTestTree(t)
	_, err := tr.InsertPath("/a/b/c", true)
	require.NoError(t, err)

	require.NoError(t, tr.RemovePath("/a/b", true))

	_, ok := tr.GetNode("/a/b")
	assert.False(t, ok)
	aNode, ok := tr.GetNode("/a")
	require.True(t, ok)
	assert.Empty(t, aNode.Children)
}

func TestMovePathCyclePrevention(t *testing.T) {
	tr, _ := newTestTree(t)
	_, err := tr.InsertPath("/a/b", true)
	require.NoError(t, err)

	err = tr.MovePath("/a", "/a/b", true)
	require.Error(t, err)
}

func TestMovePathRecursive(t *testing.T) {
	tr, _ := newTestTree(t)
	_, err := tr.InsertPath("/a/b/c", true)
	require.NoError(t, err)
	_, err = tr.InsertPath("/x", true)
	require.NoError(t, err)

	require.NoError(t, tr.MovePath("/a/b", "/x", true))

	_, ok := tr.GetNode("/a/b")
	assert.False(t, ok)
	_, ok = tr.GetNode("/x/b/c")
	assert.True(t, ok)
}

func TestCopyPathSharesLayerIDs(t *testing.T) {
	tr, _ := newTestTree(t)
	_, err := tr.InsertPath("/a/b", true)
	require.NoError(t, err)
	_, err = tr.InsertPath("/x", true)
	require.NoError(t, err)

	require.NoError(t, tr.CopyPath("/a/b", "/x", true))

	orig, ok := tr.GetNode("/a/b")
	require.True(t, ok)
	copied, ok := tr.GetNode("/x/b")
	require.True(t, ok)
	assert.Equal(t, orig.ID, copied.ID)
}
