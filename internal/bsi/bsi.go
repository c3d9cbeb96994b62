// Package bsi implements C4: a bit-sliced index over bitmapindex.Index,
// answering equality, comparison, and range queries over non-negative
// integer attributes (notably timestamps) in O(bitDepth) bitmap operations
// instead of a per-value bitmap.
//
// Grounded on the anacrolix/roaring BSI reference (bA []Bitmap + eBM
// existence bitmap, SetValue/GetValue shape) for the slice layout, adapted
// to persist each slice as a bitmapindex key instead of an in-memory slice
// array, matching how the rest of this module keeps everything behind the
// KV-backed BitmapIndex rather than process-local state.
package bsi

import (
	"strconv"

	"github.com/synapsd/synapsd/internal/bitmap"
	"github.com/synapsd/synapsd/internal/bitmapindex"
	"github.com/synapsd/synapsd/internal/synapserr"
)

// DefaultBitDepth is used when a caller does not specify one (spec §4.4).
const DefaultBitDepth = 32

// Op identifies a BSI comparison.
type Op int

const (
	EQ Op = iota
	NEQ
	LT
	LTE
	GT
	GTE
	BETWEEN
)

// BSI is a bit-sliced index bound to a key prefix and backed by a shared
// bitmapindex.Index. It owns bitmaps "<prefix>/ebm" and "<prefix>/0" ..
// "<prefix>/<bitDepth-1>".
type BSI struct {
	idx      *bitmapindex.Index
	prefix   string
	bitDepth uint
}

// New constructs a BSI over prefix with the given bit depth (0 defaults to
// DefaultBitDepth). prefix must itself be a validatable bitmap-index prefix
// (e.g. "index/created"); no further normalization is applied to it.
func New(idx *bitmapindex.Index, prefix string, bitDepth uint) *BSI {
	if bitDepth == 0 {
		bitDepth = DefaultBitDepth
	}
	return &BSI{idx: idx, prefix: prefix, bitDepth: bitDepth}
}

// Prefix returns the BSI's bound key prefix.
func (b *BSI) Prefix() string { return b.prefix }

// BitDepth returns the configured bit depth N; values must satisfy 0 <= v < 2^N.
func (b *BSI) BitDepth() uint { return b.bitDepth }

func (b *BSI) ebmKey() string { return b.prefix + "/ebm" }

func (b *BSI) sliceKey(i uint) string { return b.prefix + "/" + strconv.Itoa(int(i)) }

func (b *BSI) maxValue() uint64 {
	if b.bitDepth >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << b.bitDepth) - 1
}

func (b *BSI) load(key string) (*bitmap.Bitmap, error) {
	bm, err := b.idx.GetBitmap(key, false)
	if err != nil {
		return nil, err
	}
	if bm != nil {
		return bm, nil
	}
	return bitmap.New(key, nil, b.idx.RangeMin(), b.idx.RangeMax())
}

func (b *BSI) ebm() (*bitmap.Bitmap, error) { return b.load(b.ebmKey()) }

// SetValue records v for id, ticking the existence bitmap and, for each bit
// position, ticking or unticking the corresponding slice so the call is safe
// to repeat for an id that already has a value (spec §4.4).
func (b *BSI) SetValue(id uint32, v uint64) error {
	if v > b.maxValue() {
		return synapserr.OutOfRange("BSI value exceeds bit depth").
			WithDetail("value", v).WithDetail("bitDepth", b.bitDepth).WithDetail("prefix", b.prefix)
	}
	if err := b.idx.Tick(b.ebmKey(), []uint32{id}); err != nil {
		return err
	}
	for i := uint(0); i < b.bitDepth; i++ {
		if v&(uint64(1)<<i) != 0 {
			if err := b.idx.Tick(b.sliceKey(i), []uint32{id}); err != nil {
				return err
			}
		} else if err := b.idx.Untick(b.sliceKey(i), []uint32{id}); err != nil {
			return err
		}
	}
	return nil
}

// RemoveValue unticks the existence bitmap and every slice for id.
func (b *BSI) RemoveValue(id uint32) error {
	if err := b.idx.Untick(b.ebmKey(), []uint32{id}); err != nil {
		return err
	}
	for i := uint(0); i < b.bitDepth; i++ {
		if err := b.idx.Untick(b.sliceKey(i), []uint32{id}); err != nil {
			return err
		}
	}
	return nil
}

// ValueExists reports whether id has a recorded value.
func (b *BSI) ValueExists(id uint32) (bool, error) {
	ebm, err := b.ebm()
	if err != nil {
		return false, err
	}
	return ebm.Has(id), nil
}

// GetValue reconstructs the value recorded for id, or (0, false) if none.
func (b *BSI) GetValue(id uint32) (uint64, bool, error) {
	ebm, err := b.ebm()
	if err != nil {
		return 0, false, err
	}
	if !ebm.Has(id) {
		return 0, false, nil
	}
	var v uint64
	for i := uint(0); i < b.bitDepth; i++ {
		slice, err := b.load(b.sliceKey(i))
		if err != nil {
			return 0, false, err
		}
		if slice.Has(id) {
			v |= uint64(1) << i
		}
	}
	return v, true, nil
}

// eq implements spec §4.4's EQ algorithm: MSB->LSB, keep ∧= slice[i] when
// the value bit is 1, keep ∧= ¬slice[i] (i.e. keep \ slice[i]) when it's 0,
// short-circuiting once keep is empty.
func (b *BSI) eq(ebm *bitmap.Bitmap, value uint64) (*bitmap.Bitmap, error) {
	keep := ebm.Clone()
	for i := int(b.bitDepth) - 1; i >= 0; i-- {
		if keep.IsEmpty() {
			break
		}
		slice, err := b.load(b.sliceKey(uint(i)))
		if err != nil {
			return nil, err
		}
		if value&(uint64(1)<<uint(i)) != 0 {
			keep.AndInPlace(slice)
		} else {
			keep.AndNotInPlace(slice)
		}
	}
	return keep, nil
}

// gt implements spec §4.4's GT algorithm (also the shared first phase of
// GTE): result accumulates keep ∧ slice[i] whenever the value bit is 0,
// while keep narrows to the candidates still tied on bits seen so far.
func (b *BSI) gt(ebm *bitmap.Bitmap, value uint64) (result, keep *bitmap.Bitmap, err error) {
	keep = ebm.Clone()
	result, err = bitmap.New(b.prefix+"/gt", nil, b.idx.RangeMin(), b.idx.RangeMax())
	if err != nil {
		return nil, nil, err
	}
	for i := int(b.bitDepth) - 1; i >= 0; i-- {
		slice, err := b.load(b.sliceKey(uint(i)))
		if err != nil {
			return nil, nil, err
		}
		if value&(uint64(1)<<uint(i)) != 0 {
			keep.AndInPlace(slice)
		} else {
			result.OrInPlace(keep.And(slice))
			keep.AndNotInPlace(slice)
		}
	}
	return result, keep, nil
}

// Query evaluates op against value, returning the matching IDs. It calls
// QueryRange with hi=0, so BETWEEN through Query means BETWEEN(value, 0);
// use QueryRange for a real range. Every path returns an empty bitmap when
// the existence bitmap is empty.
func (b *BSI) Query(op Op, value uint64) (*bitmap.Bitmap, error) {
	return b.QueryRange(op, value, 0)
}

// QueryRange is Query's general form, used for BETWEEN(lo, hi); other
// operators ignore hi.
func (b *BSI) QueryRange(op Op, lo, hi uint64) (*bitmap.Bitmap, error) {
	ebm, err := b.ebm()
	if err != nil {
		return nil, err
	}
	if ebm.IsEmpty() {
		return bitmap.New(b.prefix+"/result", nil, b.idx.RangeMin(), b.idx.RangeMax())
	}

	switch op {
	case EQ:
		return b.eq(ebm, lo)
	case NEQ:
		eq, err := b.eq(ebm, lo)
		if err != nil {
			return nil, err
		}
		return ebm.AndNot(eq), nil
	case GT:
		result, _, err := b.gt(ebm, lo)
		return result, err
	case GTE:
		result, keep, err := b.gt(ebm, lo)
		if err != nil {
			return nil, err
		}
		result.OrInPlace(keep)
		return result, nil
	case LT:
		gte, keep, err := b.gt(ebm, lo)
		if err != nil {
			return nil, err
		}
		gte.OrInPlace(keep)
		return ebm.AndNot(gte), nil
	case LTE:
		gt, _, err := b.gt(ebm, lo)
		if err != nil {
			return nil, err
		}
		return ebm.AndNot(gt), nil
	case BETWEEN:
		if lo > hi {
			return bitmap.New(b.prefix+"/result", nil, b.idx.RangeMin(), b.idx.RangeMax())
		}
		gteResult, gteKeep, err := b.gt(ebm, lo)
		if err != nil {
			return nil, err
		}
		gteResult.OrInPlace(gteKeep)
		gt, _, err := b.gt(ebm, hi)
		if err != nil {
			return nil, err
		}
		lte := ebm.AndNot(gt)
		return gteResult.And(lte), nil
	default:
		return nil, synapserr.New(synapserr.KindOutOfRange, "unsupported BSI query operator")
	}
}
