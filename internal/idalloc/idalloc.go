// Package idalloc implements the monotonic document ID counter described in
// spec §4.6 / Design Notes: seeded from the document count at load, advanced
// under the caller's write transaction, deterministic enough for tests to
// seed explicitly.
package idalloc

import "sync"

// InternalMax is the first user-space document ID (spec §3): IDs below this
// are reserved for internal entities.
const InternalMax uint32 = 100000

// Allocator hands out monotonically increasing document IDs starting above
// InternalMax. It is process-wide state, mutated only by the engine holding
// the write transaction (spec §5's shared-resource policy). last holds the
// most recently issued ID (or, before the first call, the baseline one below
// it); Next always pre-increments.
type Allocator struct {
	mu   sync.Mutex
	last uint32
}

// New seeds an Allocator so its first Next() call returns InternalMax +
// documentCount + 1 (spec §4.6: "seeded as INTERNAL_MAX +
// documentsDataset.count", §8 scenario 1: a fresh database's first document
// lands on InternalMax+1).
func New(documentCount uint32) *Allocator {
	return &Allocator{last: InternalMax + documentCount}
}

// Seed resets the allocator so its first Next() call returns exactly next —
// for deterministic test setups, not for production reseeding.
func Seed(next uint32) *Allocator {
	return &Allocator{last: next - 1}
}

// Next advances the counter and returns the newly allocated ID. Advancing
// before returning (rather than after) is what makes a fresh database's
// first document land on InternalMax+1, not InternalMax itself (spec §4.6 /
// §8 scenario 1).
func (a *Allocator) Next() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last++
	return a.last
}

// Peek returns the next ID that would be allocated, without advancing.
func (a *Allocator) Peek() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last + 1
}
