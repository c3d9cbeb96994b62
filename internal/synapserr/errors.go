// Package synapserr defines the typed error taxonomy shared by every
// SynapsD component. Errors carry a Kind for programmatic dispatch plus an
// optional wrapped cause, following the base/specialized error pattern used
// across the retrieval pack's embedded-storage engines.
package synapserr

import "fmt"

// Kind categorizes a SynapsD error for programmatic handling. See spec §7.
type Kind int

const (
	// KindUnknown is the zero value; never returned by SynapsD itself.
	KindUnknown Kind = iota
	// KindInvalidKey means a bitmap key failed prefix/charset validation.
	KindInvalidKey
	// KindOutOfRange means an ID fell outside a bitmap's range, or a value
	// fell outside a BSI's representable bit depth.
	KindOutOfRange
	// KindSchemaValidation means a document failed its registered schema.
	KindSchemaValidation
	// KindUnknownSchema means a document referenced an unregistered schema.
	KindUnknownSchema
	// KindLayerLocked means a mutation was attempted on a locked layer.
	KindLayerLocked
	// KindRootContextProtected means remove was attempted from "/" or "".
	KindRootContextProtected
	// KindCycleInMove means movePath's destination contains the source name.
	KindCycleInMove
	// KindBackend means the KV backend surfaced a fault.
	KindBackend
	// KindMissing means a lookup found nothing; not fatal to the caller.
	KindMissing
)

func (k Kind) String() string {
	switch k {
	case KindInvalidKey:
		return "InvalidKey"
	case KindOutOfRange:
		return "OutOfRange"
	case KindSchemaValidation:
		return "SchemaValidationError"
	case KindUnknownSchema:
		return "UnknownSchema"
	case KindLayerLocked:
		return "LayerLocked"
	case KindRootContextProtected:
		return "RootContextProtected"
	case KindCycleInMove:
		return "CycleInMove"
	case KindBackend:
		return "BackendError"
	case KindMissing:
		return "Missing"
	default:
		return "Unknown"
	}
}

// Error is SynapsD's base error type. It wraps an optional cause, carries a
// Kind for dispatch, and lazily accumulates structured detail — the same
// shape as the pack's baseError/IndexError/StorageError family, trimmed to
// what this module actually needs.
type Error struct {
	kind    Kind
	message string
	cause   error
	details map[string]any
}

// New creates an Error of the given kind with a message and no cause.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Wrap creates an Error of the given kind wrapping an existing cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// WithDetail attaches a structured key/value pair and returns the receiver
// for chaining, e.g. synapserr.New(...).WithDetail("key", k).
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any, 1)
	}
	e.details[key] = value
	return e
}

// Kind returns the error's category.
func (e *Error) Kind() Kind { return e.kind }

// Details returns the structured detail map; may be nil.
func (e *Error) Details() map[string]any { return e.details }

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap enables errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a SynapsD Error with the same Kind. This lets
// callers write errors.Is(err, synapserr.New(synapserr.KindMissing, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.kind == e.kind
}

// Convenience constructors for the common call sites.

func InvalidKey(key string) *Error {
	return New(KindInvalidKey, "invalid bitmap key").WithDetail("key", key)
}

func OutOfRange(detail string) *Error {
	return New(KindOutOfRange, detail)
}

func SchemaValidation(schema string, cause error) *Error {
	return Wrap(KindSchemaValidation, cause, "document failed schema validation").WithDetail("schema", schema)
}

func UnknownSchema(schema string) *Error {
	return New(KindUnknownSchema, "schema not registered").WithDetail("schema", schema)
}

func LayerLocked(name string) *Error {
	return New(KindLayerLocked, "layer is locked").WithDetail("layer", name)
}

func RootContextProtected() *Error {
	return New(KindRootContextProtected, "remove from root context requires deleteDocument")
}

func CycleInMove(from, to string) *Error {
	return New(KindCycleInMove, "move destination contains source name").
		WithDetail("from", from).WithDetail("to", to)
}

func Backend(cause error) *Error {
	return Wrap(KindBackend, cause, "backend operation failed")
}

func Missing(what string) *Error {
	return New(KindMissing, what)
}

// IsKind reports whether err is a SynapsD *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if ae, ok := err.(*Error); ok {
		e = ae
	} else {
		return false
	}
	return e.kind == kind
}
