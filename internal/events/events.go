// Package events defines SynapsD's typed event surface and a minimal sink
// (spec Design Note §9: "pervasive global emitters become an explicit
// EventSink passed to the engine; events are typed"). The teacher has no
// pub/sub bus of its own, so this is new domain logic built in the
// teacher's own concurrency idiom — buffered channels, as used for the
// worker pools in internal/ingest/engine.go and internal/graph/arena_writer.go.
package events

// Kind identifies an event's shape, matching the names in spec §6.
type Kind string

const (
	BitmapUpdate     Kind = "bitmap:update"
	BitmapDeleted    Kind = "bitmap:deleted"
	TreePathInserted Kind = "tree:path:inserted"
	TreePathMoved    Kind = "tree:path:moved"
	TreePathCopied   Kind = "tree:path:copied"
	TreePathRemoved  Kind = "tree:path:removed"
	LayerCreated     Kind = "tree:layer:created"
	LayerUpdated     Kind = "tree:layer:updated"
	LayerRenamed     Kind = "tree:layer:renamed"
	LayerDeleted     Kind = "tree:layer:deleted"
	DocumentInserted Kind = "documentInserted"
	DocumentUpdated  Kind = "documentUpdated"
	DocumentDeleted  Kind = "documentDeleted"
	BatchCompleted   Kind = "batch:completed"
)

// Event is a single typed notification. Payload holds shape-specific data,
// e.g. []string for BitmapUpdate's changed keys, uint32 for document events.
type Event struct {
	Kind    Kind
	Payload any
}

// Sink receives events as they're emitted. Implementations must not block
// the caller for long — SynapsD may call Emit while holding an internal
// lock (the document engine's and the layer index's), so a slow sink adds
// latency to the write path that produced the event.
type Sink interface {
	Emit(Event)
}

// NoopSink discards every event. It is the default when no sink is supplied.
type NoopSink struct{}

func (NoopSink) Emit(Event) {}

// ChannelSink fans events out over a buffered channel, in the style of the
// teacher's worker-pool channels (internal/ingest/engine.go's jobs/results).
// If the channel is full, Emit drops the event rather than blocking the
// write path — callers that need guaranteed delivery should drain promptly.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the channel.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

func (s *ChannelSink) Emit(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// Close closes the underlying channel. Callers must ensure no further Emit
// calls happen afterward.
func (s *ChannelSink) Close() { close(s.ch) }
