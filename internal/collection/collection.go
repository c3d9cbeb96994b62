// Package collection implements C3: a thin prefix-scoped façade over
// bitmapindex.Index. It is grounded on the teacher's internal/lattice
// package, where FormalContext exposes attribute-scoped helpers over a flat
// bitmap store the same way a Collection exposes prefix-scoped helpers over
// the shared BitmapIndex.
package collection

import (
	"strings"

	"github.com/synapsd/synapsd/internal/bitmap"
	"github.com/synapsd/synapsd/internal/bitmapindex"
)

// Collection is a named prefix (e.g. "context", "tag", "data/abstraction")
// bound to a shared Index. User-supplied segments are normalized into
// "<prefix>/<segment>" before delegating to the Index.
type Collection struct {
	prefix string
	idx    *bitmapindex.Index
}

// New returns a Collection over prefix, delegating all operations to idx.
func New(prefix string, idx *bitmapindex.Index) *Collection {
	return &Collection{prefix: strings.Trim(prefix, "/"), idx: idx}
}

// Prefix returns the collection's bound prefix.
func (c *Collection) Prefix() string { return c.prefix }

// MakeKey maps a raw user-supplied segment into this collection's namespace
// (spec §4.3): "/" means the bare collection root; otherwise the segment is
// lowercased, whitespace becomes "_", only [a-z0-9/._-] survive, runs of "_"
// collapse to one, a leading "!" (negation) is preserved across the
// transform, and the final form passes through bitmapindex.NormalizeKey.
func (c *Collection) MakeKey(raw string) string {
	negated := strings.HasPrefix(raw, "!")
	body := strings.TrimPrefix(raw, "!")

	if body == "/" || body == "" {
		key := bitmapindex.NormalizeKey(c.prefix)
		if negated {
			key = "!" + key
		}
		return key
	}

	body = strings.ToLower(body)
	body = strings.TrimPrefix(body, "/")
	var b strings.Builder
	lastUnderscore := false
	for _, r := range body {
		switch {
		case r == ' ' || r == '\t':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case r == '/' || r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			// dropped
		}
	}
	segment := collapseUnderscores(b.String())

	key := bitmapindex.NormalizeKey(c.prefix + "/" + segment)
	if negated {
		key = "!" + key
	}
	return key
}

func collapseUnderscores(s string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range s {
		if r == '_' {
			if prevUnderscore {
				continue
			}
			prevUnderscore = true
		} else {
			prevUnderscore = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateBitmap delegates to the Index with raw mapped through MakeKey.
func (c *Collection) CreateBitmap(raw string, seed any) (*bitmap.Bitmap, error) {
	return c.idx.CreateBitmap(c.MakeKey(raw), seed)
}

// GetBitmap delegates to the Index with raw mapped through MakeKey.
func (c *Collection) GetBitmap(raw string, autoCreate bool) (*bitmap.Bitmap, error) {
	return c.idx.GetBitmap(c.MakeKey(raw), autoCreate)
}

// HasBitmap delegates to the Index with raw mapped through MakeKey.
func (c *Collection) HasBitmap(raw string) (bool, error) {
	return c.idx.HasBitmap(c.MakeKey(raw))
}

// RenameBitmap delegates to the Index with both ends mapped through MakeKey.
func (c *Collection) RenameBitmap(oldRaw, newRaw string) error {
	return c.idx.RenameBitmap(c.MakeKey(oldRaw), c.MakeKey(newRaw))
}

// DeleteBitmap delegates to the Index with raw mapped through MakeKey.
func (c *Collection) DeleteBitmap(raw string) error {
	return c.idx.DeleteBitmap(c.MakeKey(raw))
}

// ListBitmaps lists keys under this collection's prefix.
func (c *Collection) ListBitmaps() ([]string, error) {
	return c.idx.ListBitmaps(c.prefix)
}

// Tick delegates to the Index with raw mapped through MakeKey.
func (c *Collection) Tick(raw string, ids []uint32) error {
	return c.idx.Tick(c.MakeKey(raw), ids)
}

// Untick delegates to the Index with raw mapped through MakeKey.
func (c *Collection) Untick(raw string, ids []uint32) error {
	return c.idx.Untick(c.MakeKey(raw), ids)
}

// TickMany maps every raw key through MakeKey, then delegates.
func (c *Collection) TickMany(raws []string, ids []uint32) error {
	return c.idx.TickMany(c.mapKeys(raws), ids)
}

// UntickMany maps every raw key through MakeKey, then delegates.
func (c *Collection) UntickMany(raws []string, ids []uint32) error {
	return c.idx.UntickMany(c.mapKeys(raws), ids)
}

func (c *Collection) mapKeys(raws []string) []string {
	out := make([]string, len(raws))
	for i, raw := range raws {
		out[i] = c.MakeKey(raw)
	}
	return out
}

// AND maps every key expression through MakeKey (preserving any leading "!"
// as negation) and delegates to the Index's AND algebra.
func (c *Collection) AND(raws []string) (*bitmap.Bitmap, error) {
	return c.idx.AND(c.mapKeys(raws))
}

// OR maps every key expression through MakeKey and delegates to the Index's
// OR algebra.
func (c *Collection) OR(raws []string) (*bitmap.Bitmap, error) {
	return c.idx.OR(c.mapKeys(raws))
}

// XOR maps every key expression through MakeKey and delegates to the
// Index's XOR algebra.
func (c *Collection) XOR(raws []string) (*bitmap.Bitmap, error) {
	return c.idx.XOR(c.mapKeys(raws))
}

// ApplyToMany maps source and targets through MakeKey, then delegates.
func (c *Collection) ApplyToMany(sourceRaw string, targetRaws []string) ([]string, error) {
	return c.idx.ApplyToMany(c.MakeKey(sourceRaw), c.mapKeys(targetRaws))
}

// SubtractFromMany maps source and targets through MakeKey, then delegates.
func (c *Collection) SubtractFromMany(sourceRaw string, targetRaws []string) ([]string, error) {
	return c.idx.SubtractFromMany(c.MakeKey(sourceRaw), c.mapKeys(targetRaws))
}
