package bsi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapsd/synapsd/internal/bitmapindex"
	"github.com/synapsd/synapsd/internal/store"
)

func newTestBSI(t *testing.T, bitDepth uint) *BSI {
	ds, err := store.NewMemory().Dataset("bitmaps")
	require.NoError(t, err)
	idx, err := bitmapindex.New(ds, 100000, 1<<32-1, 16, nil)
	require.NoError(t, err)
	return New(idx, "index/created", bitDepth)
}

func TestSetValueRejectsOutOfRange(t *testing.T) {
	b := newTestBSI(t, 4)
	err := b.SetValue(100001, 16)
	require.Error(t, err)
}

func TestSetValueAndGetValueRoundTrip(t *testing.T) {
	b := newTestBSI(t, 8)
	require.NoError(t, b.SetValue(100001, 42))

	v, ok, err := b.GetValue(100001)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 42, v)
}

func TestSetValueOverwritesPriorSlices(t *testing.T) {
	b := newTestBSI(t, 8)
	require.NoError(t, b.SetValue(100001, 0b1111))
	require.NoError(t, b.SetValue(100001, 0b0001))

	v, ok, err := b.GetValue(100001)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, v)
}

func TestRemoveValue(t *testing.T) {
	b := newTestBSI(t, 8)
	require.NoError(t, b.SetValue(100001, 5))
	require.NoError(t, b.RemoveValue(100001))

	exists, err := b.ValueExists(100001)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestQueryEmptyEBM(t *testing.T) {
	b := newTestBSI(t, 8)
	result, err := b.Query(EQ, 5)
	require.NoError(t, err)
	assert.True(t, result.IsEmpty())
}

func TestQueryEQMatchesBetweenSameValue(t *testing.T) {
	b := newTestBSI(t, 8)
	require.NoError(t, b.SetValue(100001, 10))
	require.NoError(t, b.SetValue(100002, 20))

	eq, err := b.Query(EQ, 10)
	require.NoError(t, err)
	between, err := b.QueryRange(BETWEEN, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, eq.ToArray(), between.ToArray())
	assert.Equal(t, []uint32{100001}, eq.ToArray())
}

func TestQueryNEQComplementsEQ(t *testing.T) {
	b := newTestBSI(t, 8)
	require.NoError(t, b.SetValue(100001, 10))
	require.NoError(t, b.SetValue(100002, 20))
	require.NoError(t, b.SetValue(100003, 10))

	eq, err := b.Query(EQ, 10)
	require.NoError(t, err)
	neq, err := b.Query(NEQ, 10)
	require.NoError(t, err)

	union := eq.Or(neq)
	ebm, err := b.ebm()
	require.NoError(t, err)
	assert.Equal(t, ebm.ToArray(), union.ToArray())
	assert.True(t, eq.And(neq).IsEmpty())
}

func TestQueryRangeOrdering(t *testing.T) {
	b := newTestBSI(t, 8)
	require.NoError(t, b.SetValue(100001, 5))
	require.NoError(t, b.SetValue(100002, 10))
	require.NoError(t, b.SetValue(100003, 15))

	gt, err := b.Query(GT, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint32{100003}, gt.ToArray())

	gte, err := b.Query(GTE, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint32{100002, 100003}, gte.ToArray())

	lt, err := b.Query(LT, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint32{100001}, lt.ToArray())

	lte, err := b.Query(LTE, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint32{100001, 100002}, lte.ToArray())

	between, err := b.QueryRange(BETWEEN, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint32{100001, 100002}, between.ToArray())
}

func TestQueryBetweenLoGreaterThanHiIsEmpty(t *testing.T) {
	b := newTestBSI(t, 8)
	require.NoError(t, b.SetValue(100001, 5))

	result, err := b.QueryRange(BETWEEN, 10, 5)
	require.NoError(t, err)
	assert.True(t, result.IsEmpty())
}
