package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresKey(t *testing.T) {
	_, err := New("", nil, 0, 100)
	require.Error(t, err)
}

func TestAddRangeValidation(t *testing.T) {
	b, err := New("context/work", nil, 100000, 1<<32-1)
	require.NoError(t, err)

	require.NoError(t, b.Add(100001))
	assert.True(t, b.Has(100001))

	err = b.Add(5)
	require.Error(t, err)
}

func TestAddManyValidatesMinMax(t *testing.T) {
	b, err := New("context/work", nil, 100000, 200000)
	require.NoError(t, err)

	require.NoError(t, b.AddMany([]uint32{100001, 100005, 150000}))
	assert.EqualValues(t, 3, b.Size())

	err = b.AddMany([]uint32{100001, 999999})
	require.Error(t, err)
}

func TestAlgebra(t *testing.T) {
	a, _ := New("data/a", []uint32{1, 2, 3, 4, 5}, 0, 1<<32-1)
	bm, _ := New("data/b", []uint32{4, 5, 6}, 0, 1<<32-1)

	and := a.And(bm)
	assert.Equal(t, []uint32{4, 5}, and.ToArray())

	or := a.Or(bm)
	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6}, or.ToArray())

	xor := a.Xor(bm)
	assert.Equal(t, []uint32{1, 2, 3, 6}, xor.ToArray())

	andNot := a.AndNot(bm)
	assert.Equal(t, []uint32{1, 2, 3}, andNot.ToArray())
}

func TestMinMax(t *testing.T) {
	b, _ := New("data/a", nil, 0, 1<<32-1)
	_, ok := b.Min()
	assert.False(t, ok)

	require.NoError(t, b.AddMany([]uint32{10, 3, 77}))
	min, ok := b.Min()
	require.True(t, ok)
	assert.EqualValues(t, 3, min)

	max, ok := b.Max()
	require.True(t, ok)
	assert.EqualValues(t, 77, max)
}

func TestSerializeRoundTrip(t *testing.T) {
	b, _ := New("data/a", []uint32{1, 2, 3, 1000}, 0, 1<<32-1)
	buf, err := b.Serialize(true)
	require.NoError(t, err)

	out, err := FromBytes("data/a", 0, 1<<32-1, buf, DeserializeOptions{})
	require.NoError(t, err)
	assert.Equal(t, b.ToArray(), out.ToArray())
}

func TestEmptyBitmapDeletedSemanticsIsExternal(t *testing.T) {
	// Bitmap itself doesn't delete-on-empty; that's BitmapIndex's job on untick.
	b, _ := New("data/a", []uint32{1}, 0, 1<<32-1)
	b.Remove(1)
	assert.True(t, b.IsEmpty())
}
