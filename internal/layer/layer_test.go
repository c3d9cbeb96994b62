package layer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsd/synapsd/internal/store"
)

func newTestIndex(t *testing.T) *Index {
	ds, err := store.NewMemory().Dataset("layers")
	require.NoError(t, err)
	idx, err := New(ds, nil)
	require.NoError(t, err)
	return idx
}

func TestRootLayerCreatedAndLocked(t *testing.T) {
	idx := newTestIndex(t)
	root, ok := idx.GetLayerByID(RootID)
	require.True(t, ok)
	assert.Equal(t, RootName, root.Name)
	assert.True(t, root.Locked())
}

func TestCreateLayerIdempotentByName(t *testing.T) {
	idx := newTestIndex(t)
	l1, err := idx.CreateLayer(Options{Name: "Work"})
	require.NoError(t, err)

	l2, err := idx.CreateLayer(Options{Name: "work", Description: "ignored without update"})
	require.NoError(t, err)
	assert.Equal(t, l1.ID, l2.ID)
	assert.Empty(t, l2.Description)
}

func TestCreateLayerUpdateTrue(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.CreateLayer(Options{Name: "work"})
	require.NoError(t, err)

	updated, err := idx.CreateLayer(Options{Name: "work", Description: "a workspace", Update: true})
	require.NoError(t, err)
	assert.Equal(t, "a workspace", updated.Description)
}

func TestSanitizeNameTruncatesAndLowercases(t *testing.T) {
	name := SanitizeName("Project With Spaces And A Very Long Title Indeed")
	assert.LessOrEqual(t, len(name), MaxNameLength)
	assert.Equal(t, strings.ToLower(name), name)
}

func TestRenameLayerFailsWhenLocked(t *testing.T) {
	idx := newTestIndex(t)
	err := idx.RenameLayer(RootName, "newroot")
	require.Error(t, err)
}

func TestRemoveLayer(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.CreateLayer(Options{Name: "temp"})
	require.NoError(t, err)

	require.NoError(t, idx.RemoveLayer("temp"))
	_, ok := idx.GetLayerByName("temp")
	assert.False(t, ok)
}

func TestRemoveLayerFailsWhenLocked(t *testing.T) {
	idx := newTestIndex(t)
	err := idx.RemoveLayer(RootName)
	require.Error(t, err)
}
