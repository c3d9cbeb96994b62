// Package store defines the pluggable KV backend contract SynapsD's index
// and document engines are written against (spec §6), plus a SQLite-backed
// reference implementation and an in-memory implementation for tests.
//
// The shape follows the teacher's own database/sql usage in
// internal/graph/sqlite_graph.go and internal/graph/writable_graph.go:
// a single *sql.DB, PRAGMA tuning on open, and explicit transactions. Range
// scans are exposed as a typed cursor (per the spec's Design Note on
// replacing callback/async iteration with an owned-pair cursor trait)
// instead of a callback, matching Go idiom for *sql.Rows-shaped APIs.
package store

import "github.com/synapsd/synapsd/internal/synapserr"

// KeyRange bounds a scan. A nil Start means "from the beginning"; a nil End
// means "to the end". Both bounds are treated as byte-string comparisons.
type KeyRange struct {
	Start []byte
	End   []byte
}

// Cursor yields owned (key, value) pairs from a range scan, one at a time.
// Callers must call Close when done, even after exhausting Next.
type Cursor interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// Store is the KV backend contract (spec §6). Implementations must provide
// snapshot-consistent reads within a Transaction and durable writes once
// Transaction's function returns nil.
type Store interface {
	// Get returns the value for key, or (nil, false, nil) if absent.
	Get(key []byte) ([]byte, bool, error)
	// Has reports whether key exists.
	Has(key []byte) (bool, error)
	// Put writes value for key, creating or overwriting it.
	Put(key, value []byte) error
	// Del removes key; deleting an absent key is not an error.
	Del(key []byte) error
	// GetKeys returns a cursor over keys in the half-open range [start, end).
	// Values are unset on the returned cursor's Value() (always nil).
	GetKeys(r KeyRange) (Cursor, error)
	// GetRange returns a cursor over (key, value) pairs in [start, end).
	GetRange(r KeyRange) (Cursor, error)
	// Transaction runs fn with exclusivity with respect to other
	// transactions on this Store. If fn returns an error, no writes made
	// during fn are guaranteed to be visible afterward.
	Transaction(fn func(Tx) error) error
	// Dataset returns a Store scoped to a named, isolated namespace. A
	// dataset name containing "/" produces nested storage (spec §6):
	// each segment is a distinct physical sub-store.
	Dataset(name string) (Store, error)
	// Close releases backend resources.
	Close() error
}

// Tx is the subset of Store available inside a Transaction body. It is
// intentionally synchronous-looking even over an async backend, matching
// spec §5's requirement that a transaction body execute exclusively.
type Tx interface {
	Get(key []byte) ([]byte, bool, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Del(key []byte) error
	GetKeys(r KeyRange) (Cursor, error)
	GetRange(r KeyRange) (Cursor, error)
}

// HighSentinel is appended to a prefix to build the half-open upper bound of
// a "scan everything under this prefix" range: [prefix, prefix+HighSentinel).
// 0xFF sorts after any realistic UTF-8 byte string prefix of the same root.
var HighSentinel = []byte{0xFF, 0xFF, 0xFF, 0xFF}

// PrefixRange builds the KeyRange that scans exactly the keys with the given
// prefix, per spec §4.2's half-open byte-string range rule.
func PrefixRange(prefix string) KeyRange {
	start := []byte(prefix)
	end := append(append([]byte{}, start...), HighSentinel...)
	return KeyRange{Start: start, End: end}
}

func errBackend(err error) error {
	if err == nil {
		return nil
	}
	return synapserr.Backend(err)
}
