// Package layer implements the Layer/LayerIndex half of C5: the identity
// registry behind every context-tree node. A Layer is referenced by ID from
// tree nodes but looked up and deduplicated by name, mirroring the split
// between structural node identity and named identity kept by the teacher's
// graph.MemoryStore (node ID vs. nodeIntID/intToNodeID), adapted here to a
// persistent id<->name registry instead of a process-local bitmap index.
package layer

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/synapsd/synapsd/internal/events"
	"github.com/synapsd/synapsd/internal/store"
	"github.com/synapsd/synapsd/internal/synapserr"
)

// MaxNameLength is the longest a sanitized layer name may be (spec §4.5).
const MaxNameLength = 32

// RootName is the reserved name of the tree's root layer.
const RootName = "/"

// RootID is the root layer's fixed, well-known identifier.
var RootID = uuid.Nil.String()

// Type enumerates a layer's role in the tree.
type Type string

const (
	TypeUniverse  Type = "universe"
	TypeSystem    Type = "system"
	TypeWorkspace Type = "workspace"
	TypeCanvas    Type = "canvas"
	TypeContext   Type = "context"
	TypeLabel     Type = "label"
)

// Layer is a context-tree node identity (spec §3). Two tree positions with
// the same Name share the same Layer (and therefore the same bitmap).
type Layer struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Label       string         `json:"label"`
	Type        Type           `json:"type"`
	Description string         `json:"description,omitempty"`
	Color       string         `json:"color,omitempty"`
	LockedBy    []string       `json:"lockedBy,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Locked reports whether the layer is immutable.
func (l *Layer) Locked() bool { return len(l.LockedBy) > 0 }

// Options configures CreateLayer. Name is required; everything else is
// optional and defaults sensibly.
type Options struct {
	Name        string
	Label       string
	Type        Type
	Description string
	Color       string
	Metadata    map[string]any
	Update      bool
}

// Index is the LayerIndex (C5): an id->Layer map persisted in ds, with a
// name->Layer map rebuilt in memory at load time for O(1) name lookup.
type Index struct {
	mu     sync.RWMutex
	ds     store.Store
	byID   map[string]*Layer
	byName map[string]*Layer
	sink   events.Sink
}

// New loads an Index from ds, creating the built-in root layer on first
// load. A nil sink defaults to events.NoopSink.
func New(ds store.Store, sink events.Sink) (*Index, error) {
	if sink == nil {
		sink = events.NoopSink{}
	}
	idx := &Index{
		ds:     ds,
		byID:   make(map[string]*Layer),
		byName: make(map[string]*Layer),
		sink:   sink,
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	if _, ok := idx.byID[RootID]; !ok {
		root := &Layer{
			ID:       RootID,
			Name:     RootName,
			Label:    RootName,
			Type:     TypeUniverse,
			LockedBy: []string{"built-in"},
		}
		if err := idx.put(root); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (idx *Index) load() error {
	cur, err := idx.ds.GetRange(store.KeyRange{})
	if err != nil {
		return synapserr.Backend(err)
	}
	defer cur.Close()
	for cur.Next() {
		l, err := decodeLayer(cur.Value())
		if err != nil {
			return err
		}
		idx.byID[l.ID] = l
		idx.byName[l.Name] = l
	}
	return cur.Err()
}

func (idx *Index) put(l *Layer) error {
	buf, err := encodeLayer(l)
	if err != nil {
		return err
	}
	if err := idx.ds.Put([]byte(l.ID), buf); err != nil {
		return synapserr.Backend(err)
	}
	idx.byID[l.ID] = l
	idx.byName[l.Name] = l
	return nil
}

// SanitizeName normalizes a raw path segment into a valid layer name: it is
// lowercased, truncated to MaxNameLength, and restricted to [a-z0-9_.-].
func SanitizeName(raw string) string {
	raw = strings.ToLower(raw)
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		if b.Len() >= MaxNameLength {
			break
		}
	}
	return b.String()
}

// GetLayerByName returns the layer named name, or (nil, false).
func (idx *Index) GetLayerByName(name string) (*Layer, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	l, ok := idx.byName[name]
	return l, ok
}

// GetLayerByID returns the layer with the given ID, or (nil, false).
func (idx *Index) GetLayerByID(id string) (*Layer, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	l, ok := idx.byID[id]
	return l, ok
}

// CreateLayer creates (or, with Update, updates) the layer named opts.Name.
// If the name already exists and Update is false, the existing layer is
// returned unchanged (spec §4.5).
func (idx *Index) CreateLayer(opts Options) (*Layer, error) {
	name := SanitizeName(opts.Name)
	if name == "" {
		return nil, synapserr.InvalidKey(opts.Name)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.byName[name]; ok {
		if !opts.Update {
			return existing, nil
		}
		if existing.Locked() {
			return nil, synapserr.LayerLocked(name)
		}
		applyOptions(existing, opts)
		if err := idx.put(existing); err != nil {
			return nil, err
		}
		idx.sink.Emit(events.Event{Kind: events.LayerUpdated, Payload: existing.ID})
		return existing, nil
	}

	l := &Layer{
		ID:          uuid.NewString(),
		Name:        name,
		Label:       firstNonEmpty(opts.Label, name),
		Type:        orDefaultType(opts.Type),
		Description: opts.Description,
		Color:       opts.Color,
		Metadata:    opts.Metadata,
	}
	if err := idx.put(l); err != nil {
		return nil, err
	}
	idx.sink.Emit(events.Event{Kind: events.LayerCreated, Payload: l.ID})
	return l, nil
}

func applyOptions(l *Layer, opts Options) {
	if opts.Label != "" {
		l.Label = opts.Label
	}
	if opts.Type != "" {
		l.Type = opts.Type
	}
	if opts.Description != "" {
		l.Description = opts.Description
	}
	if opts.Color != "" {
		l.Color = opts.Color
	}
	if opts.Metadata != nil {
		l.Metadata = opts.Metadata
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func orDefaultType(t Type) Type {
	if t == "" {
		return TypeContext
	}
	return t
}

// UpdateLayer patches the layer named name, failing with KindLayerLocked if
// it is locked.
func (idx *Index) UpdateLayer(name string, patch Options) (*Layer, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	l, ok := idx.byName[name]
	if !ok {
		return nil, synapserr.Missing("layer not found: " + name)
	}
	if l.Locked() {
		return nil, synapserr.LayerLocked(name)
	}
	applyOptions(l, patch)
	if err := idx.put(l); err != nil {
		return nil, err
	}
	idx.sink.Emit(events.Event{Kind: events.LayerUpdated, Payload: l.ID})
	return l, nil
}

// RenameLayer renames old to new, failing with KindLayerLocked if old is
// locked. Both the id and name maps are updated together.
func (idx *Index) RenameLayer(oldName, newName string) error {
	newName = SanitizeName(newName)
	if newName == "" {
		return synapserr.InvalidKey(newName)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	l, ok := idx.byName[oldName]
	if !ok {
		return synapserr.Missing("layer not found: " + oldName)
	}
	if l.Locked() {
		return synapserr.LayerLocked(oldName)
	}
	delete(idx.byName, oldName)
	l.Name = newName
	l.Label = newName
	if err := idx.put(l); err != nil {
		return err
	}
	idx.sink.Emit(events.Event{Kind: events.LayerRenamed, Payload: l.ID})
	return nil
}

func encodeLayer(l *Layer) ([]byte, error) {
	buf, err := json.Marshal(l)
	if err != nil {
		return nil, synapserr.Backend(err)
	}
	return buf, nil
}

func decodeLayer(buf []byte) (*Layer, error) {
	var l Layer
	if err := json.Unmarshal(buf, &l); err != nil {
		return nil, synapserr.Backend(err)
	}
	return &l, nil
}

// RemoveLayer deletes the layer named name, failing with KindLayerLocked if
// it is locked.
func (idx *Index) RemoveLayer(name string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	l, ok := idx.byName[name]
	if !ok {
		return nil
	}
	if l.Locked() {
		return synapserr.LayerLocked(name)
	}
	if err := idx.ds.Del([]byte(l.ID)); err != nil {
		return synapserr.Backend(err)
	}
	delete(idx.byName, name)
	delete(idx.byID, l.ID)
	idx.sink.Emit(events.Event{Kind: events.LayerDeleted, Payload: l.ID})
	return nil
}
