// Package bitmap implements C1: a typed wrapper over a compressed roaring
// bitmap with a bound key and an ID-range invariant. It is the leaf
// primitive every other SynapsD index component (C2-C6) builds on, the way
// the teacher's internal/lattice.FormalContext and internal/graph.MemoryStore
// both build directly on *roaring.Bitmap columns.
package bitmap

import (
	"bytes"

	"github.com/RoaringBitmap/roaring"
	"github.com/synapsd/synapsd/internal/synapserr"
)

// Bitmap wraps a *roaring.Bitmap with a bound key and an ID range. Every
// member added must satisfy rangeMin <= id < rangeMax (spec §3 invariant).
type Bitmap struct {
	key      string
	rangeMin uint32
	rangeMax uint32
	rb       *roaring.Bitmap
}

// DeserializeOptions mirrors the portable/zero-copy knobs on the underlying
// roaring format.
type DeserializeOptions struct {
	// CopyOnWrite reads via FromBuffer (no copy; buf must outlive the
	// Bitmap) instead of ReadFrom (always copies). Default false — safe.
	CopyOnWrite bool
}

// New constructs a Bitmap bound to key with the given ID range and an
// optional seed. Seed accepts nil, a single uint32, a []uint32, a raw
// serialized []byte (portable roaring format), or an existing *roaring.Bitmap.
// Returns synapserr.KindInvalidKey if key is empty.
func New(key string, seed any, rangeMin, rangeMax uint32) (*Bitmap, error) {
	if key == "" {
		return nil, synapserr.New(synapserr.KindInvalidKey, "bitmap key required")
	}
	b := &Bitmap{key: key, rangeMin: rangeMin, rangeMax: rangeMax, rb: roaring.New()}
	if seed == nil {
		return b, nil
	}
	switch s := seed.(type) {
	case uint32:
		if err := b.Add(s); err != nil {
			return nil, err
		}
	case []uint32:
		if err := b.AddMany(s); err != nil {
			return nil, err
		}
	case []byte:
		if err := b.Deserialize(s, DeserializeOptions{}); err != nil {
			return nil, err
		}
	case *roaring.Bitmap:
		if err := b.AddManyBitmap(s); err != nil {
			return nil, err
		}
	default:
		return nil, synapserr.New(synapserr.KindOutOfRange, "unsupported bitmap seed type")
	}
	return b, nil
}

// Key returns the bitmap's bound key.
func (b *Bitmap) Key() string { return b.key }

// RangeMin returns the inclusive lower bound of the valid ID range.
func (b *Bitmap) RangeMin() uint32 { return b.rangeMin }

// RangeMax returns the exclusive upper bound of the valid ID range.
func (b *Bitmap) RangeMax() uint32 { return b.rangeMax }

func (b *Bitmap) inRange(id uint32) bool {
	return id >= b.rangeMin && id < b.rangeMax
}

// Add inserts id, failing with KindOutOfRange if id is outside [rangeMin, rangeMax).
func (b *Bitmap) Add(id uint32) error {
	if !b.inRange(id) {
		return synapserr.OutOfRange("id out of bitmap range").WithDetail("id", id).WithDetail("key", b.key)
	}
	b.rb.Add(id)
	return nil
}

// Remove deletes id if present. Removing an out-of-range or absent id is a no-op.
func (b *Bitmap) Remove(id uint32) {
	b.rb.Remove(id)
}

// AddMany validates the min/max of ids against the range, then adds them all.
func (b *Bitmap) AddMany(ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}
	lo, hi := ids[0], ids[0]
	for _, id := range ids[1:] {
		if id < lo {
			lo = id
		}
		if id > hi {
			hi = id
		}
	}
	if !b.inRange(lo) || !b.inRange(hi) {
		return synapserr.OutOfRange("bulk add out of bitmap range").WithDetail("key", b.key)
	}
	b.rb.AddMany(ids)
	return nil
}

// AddManyBitmap validates the min/max of other against the range, then ORs
// other's members in.
func (b *Bitmap) AddManyBitmap(other *roaring.Bitmap) error {
	if other.IsEmpty() {
		return nil
	}
	if !b.inRange(other.Minimum()) || !b.inRange(other.Maximum()) {
		return synapserr.OutOfRange("bulk add out of bitmap range").WithDetail("key", b.key)
	}
	b.rb.Or(other)
	return nil
}

// RemoveMany removes every id in ids, regardless of range (removal of an
// out-of-range id is simply a no-op per id).
func (b *Bitmap) RemoveMany(ids []uint32) {
	for _, id := range ids {
		b.rb.Remove(id)
	}
}

// RemoveManyBitmap removes every member of other.
func (b *Bitmap) RemoveManyBitmap(other *roaring.Bitmap) {
	b.rb.AndNot(other)
}

// Has reports whether id is a member.
func (b *Bitmap) Has(id uint32) bool { return b.rb.Contains(id) }

// Size returns the cardinality.
func (b *Bitmap) Size() uint64 { return b.rb.GetCardinality() }

// IsEmpty reports whether the bitmap has no members.
func (b *Bitmap) IsEmpty() bool { return b.rb.IsEmpty() }

// Clone returns a deep copy bound to the same key and range.
func (b *Bitmap) Clone() *Bitmap {
	return &Bitmap{key: b.key, rangeMin: b.rangeMin, rangeMax: b.rangeMax, rb: b.rb.Clone()}
}

// Raw returns the underlying roaring bitmap. Callers in this module use it
// for algebra; external callers should prefer the typed methods.
func (b *Bitmap) Raw() *roaring.Bitmap { return b.rb }

// And returns a new Bitmap holding the intersection with other, bound to
// this bitmap's key/range.
func (b *Bitmap) And(other *Bitmap) *Bitmap {
	return &Bitmap{key: b.key, rangeMin: b.rangeMin, rangeMax: b.rangeMax, rb: roaring.And(b.rb, other.rb)}
}

// Or returns a new Bitmap holding the union with other.
func (b *Bitmap) Or(other *Bitmap) *Bitmap {
	return &Bitmap{key: b.key, rangeMin: b.rangeMin, rangeMax: b.rangeMax, rb: roaring.Or(b.rb, other.rb)}
}

// Xor returns a new Bitmap holding the symmetric difference with other.
func (b *Bitmap) Xor(other *Bitmap) *Bitmap {
	return &Bitmap{key: b.key, rangeMin: b.rangeMin, rangeMax: b.rangeMax, rb: roaring.Xor(b.rb, other.rb)}
}

// AndNot returns a new Bitmap holding this minus other.
func (b *Bitmap) AndNot(other *Bitmap) *Bitmap {
	return &Bitmap{key: b.key, rangeMin: b.rangeMin, rangeMax: b.rangeMax, rb: roaring.AndNot(b.rb, other.rb)}
}

// AndInPlace intersects other into this bitmap.
func (b *Bitmap) AndInPlace(other *Bitmap) { b.rb.And(other.rb) }

// OrInPlace unions other into this bitmap.
func (b *Bitmap) OrInPlace(other *Bitmap) { b.rb.Or(other.rb) }

// XorInPlace XORs other into this bitmap.
func (b *Bitmap) XorInPlace(other *Bitmap) { b.rb.Xor(other.rb) }

// AndNotInPlace subtracts other from this bitmap.
func (b *Bitmap) AndNotInPlace(other *Bitmap) { b.rb.AndNot(other.rb) }

// ToArray materializes every member in ascending order.
func (b *Bitmap) ToArray() []uint32 { return b.rb.ToArray() }

// Min returns the smallest member and true, or (0, false) if empty.
func (b *Bitmap) Min() (uint32, bool) {
	if b.rb.IsEmpty() {
		return 0, false
	}
	return b.rb.Minimum(), true
}

// Max returns the largest member and true, or (0, false) if empty.
func (b *Bitmap) Max() (uint32, bool) {
	if b.rb.IsEmpty() {
		return 0, false
	}
	return b.rb.Maximum(), true
}

// Serialize encodes the bitmap in the portable roaring wire format (spec
// §6: byte-for-byte compatible with reference implementations). The
// portable argument is accepted for API parity with the spec but SynapsD
// always uses the portable format — there is no non-portable mode to fall
// back to.
func (b *Bitmap) Serialize(portable bool) ([]byte, error) {
	_ = portable
	var buf bytes.Buffer
	if _, err := b.rb.WriteTo(&buf); err != nil {
		return nil, synapserr.Backend(err)
	}
	return buf.Bytes(), nil
}

// Deserialize replaces the bitmap's contents from a portable-format buffer.
// With CopyOnWrite, it reads via FromBuffer (zero-copy; buf must not be
// mutated or freed while the Bitmap is alive); otherwise it always copies.
func (b *Bitmap) Deserialize(buf []byte, opts DeserializeOptions) error {
	rb := roaring.New()
	var err error
	if opts.CopyOnWrite {
		_, err = rb.FromBuffer(buf)
	} else {
		_, err = rb.ReadFrom(bytes.NewReader(buf))
	}
	if err != nil {
		return synapserr.Backend(err)
	}
	b.rb = rb
	return nil
}

// FromBytes constructs a Bitmap bound to key/range by deserializing buf.
func FromBytes(key string, rangeMin, rangeMax uint32, buf []byte, opts DeserializeOptions) (*Bitmap, error) {
	b, err := New(key, nil, rangeMin, rangeMax)
	if err != nil {
		return nil, err
	}
	if err := b.Deserialize(buf, opts); err != nil {
		return nil, err
	}
	return b, nil
}
