package bitmapindex

import (
	"github.com/synapsd/synapsd/internal/bitmap"
	"github.com/synapsd/synapsd/internal/events"
	"github.com/synapsd/synapsd/internal/keyspace"
	"github.com/synapsd/synapsd/internal/synapserr"
)

const resultKey = "internal/gc/result"

// splitKeys partitions a key expression list into positive and negated,
// normalized keys. A leading "!" marks negation (spec §4.2); it is stripped
// before lookup.
func splitKeys(keys []string) (positive, negated []string, err error) {
	for _, raw := range keys {
		isNeg := keyspace.IsNegated(raw)
		norm, ok := ValidateKey(raw)
		if !ok {
			return nil, nil, synapserr.InvalidKey(raw)
		}
		if isNeg {
			negated = append(negated, norm)
		} else {
			positive = append(positive, norm)
		}
	}
	return positive, negated, nil
}

// unionNegated returns the union of all negated keys' bitmaps (missing
// negated keys contribute nothing), or nil if there are none.
func (idx *Index) unionNegated(negated []string) (*bitmap.Bitmap, error) {
	var union *bitmap.Bitmap
	for _, key := range negated {
		b, found, err := idx.load(key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if union == nil {
			union = b.Clone()
		} else {
			union.OrInPlace(b)
		}
	}
	return union, nil
}

// universe returns a bitmap spanning the index's full ID range, used when
// AND's positive set is empty (spec §4.2: "Empty P ⇒ universe restricted to
// [rangeMin, rangeMax)").
func (idx *Index) universe() *bitmap.Bitmap {
	u, _ := bitmap.New(resultKey, nil, idx.rangeMin, idx.rangeMax)
	if idx.rangeMax > idx.rangeMin {
		u.Raw().AddRange(uint64(idx.rangeMin), uint64(idx.rangeMax))
	}
	return u
}

func sinkBitmapUpdate(keys []string) events.Event {
	return events.Event{Kind: events.BitmapUpdate, Payload: keys}
}

// AND computes (∩ P) \ (∪ N). A missing positive key makes the whole
// result empty; an empty P falls back to the full ID-range universe.
func (idx *Index) AND(keys []string) (*bitmap.Bitmap, error) {
	positive, negated, err := splitKeys(keys)
	if err != nil {
		return nil, err
	}

	var result *bitmap.Bitmap
	if len(positive) == 0 {
		result = idx.universe()
	} else {
		for _, key := range positive {
			b, found, err := idx.load(key)
			if err != nil {
				return nil, err
			}
			if !found {
				empty, _ := bitmap.New(resultKey, nil, idx.rangeMin, idx.rangeMax)
				return empty, nil
			}
			if result == nil {
				result = b.Clone()
			} else {
				result.AndInPlace(b)
			}
		}
	}

	if union, err := idx.unionNegated(negated); err != nil {
		return nil, err
	} else if union != nil {
		result.AndNotInPlace(union)
	}
	return result, nil
}

// OR computes (∪ P) \ (∪ N). A missing positive key contributes nothing
// (treated as an auto-created empty bitmap, never an error).
func (idx *Index) OR(keys []string) (*bitmap.Bitmap, error) {
	positive, negated, err := splitKeys(keys)
	if err != nil {
		return nil, err
	}

	result, _ := bitmap.New(resultKey, nil, idx.rangeMin, idx.rangeMax)
	for _, key := range positive {
		b, found, err := idx.load(key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		result.OrInPlace(b)
	}

	if union, err := idx.unionNegated(negated); err != nil {
		return nil, err
	} else if union != nil {
		result.AndNotInPlace(union)
	}
	return result, nil
}

// XOR left-associatively folds xor over P (missing keys skipped), then
// subtracts (∪ N).
func (idx *Index) XOR(keys []string) (*bitmap.Bitmap, error) {
	positive, negated, err := splitKeys(keys)
	if err != nil {
		return nil, err
	}

	var result *bitmap.Bitmap
	for _, key := range positive {
		b, found, err := idx.load(key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if result == nil {
			result = b.Clone()
		} else {
			result.XorInPlace(b)
		}
	}
	if result == nil {
		result, _ = bitmap.New(resultKey, nil, idx.rangeMin, idx.rangeMax)
	}

	if union, err := idx.unionNegated(negated); err != nil {
		return nil, err
	} else if union != nil {
		result.AndNotInPlace(union)
	}
	return result, nil
}


// ApplyToMany ORs the source bitmap into each target (auto-creating
// targets), returning the keys whose size changed.
func (idx *Index) ApplyToMany(sourceKey string, targets []string) ([]string, error) {
	srcNorm, err := idx.validate(sourceKey)
	if err != nil {
		return nil, err
	}
	src, found, err := idx.load(srcNorm)
	if err != nil {
		return nil, err
	}
	if !found || src.IsEmpty() {
		return nil, nil
	}

	var changed []string
	for _, rawTarget := range targets {
		targetNorm, err := idx.validate(rawTarget)
		if err != nil {
			return nil, err
		}
		tgt, _, err := idx.loadOrCreate(targetNorm)
		if err != nil {
			return nil, err
		}
		before := tgt.Size()
		if err := tgt.AddManyBitmap(src.Raw()); err != nil {
			return nil, err
		}
		if tgt.Size() != before {
			if err := idx.persist(tgt); err != nil {
				return nil, err
			}
			changed = append(changed, targetNorm)
		}
	}
	if len(changed) > 0 {
		idx.sink.Emit(sinkBitmapUpdate(changed))
	}
	return changed, nil
}

// SubtractFromMany AND-NOTs the source bitmap out of each existing target,
// deleting any target that becomes empty, and returns the affected keys.
func (idx *Index) SubtractFromMany(sourceKey string, targets []string) ([]string, error) {
	srcNorm, err := idx.validate(sourceKey)
	if err != nil {
		return nil, err
	}
	src, found, err := idx.load(srcNorm)
	if err != nil {
		return nil, err
	}
	if !found || src.IsEmpty() {
		return nil, nil
	}

	var affected []string
	for _, rawTarget := range targets {
		targetNorm, err := idx.validate(rawTarget)
		if err != nil {
			return nil, err
		}
		tgt, found, err := idx.load(targetNorm)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		before := tgt.Size()
		tgt.RemoveManyBitmap(src.Raw())
		if tgt.Size() == before {
			continue
		}
		if tgt.IsEmpty() {
			if err := idx.DeleteBitmap(targetNorm); err != nil {
				return nil, err
			}
		} else if err := idx.persist(tgt); err != nil {
			return nil, err
		}
		affected = append(affected, targetNorm)
	}
	if len(affected) > 0 {
		idx.sink.Emit(sinkBitmapUpdate(affected))
	}
	return affected, nil
}
