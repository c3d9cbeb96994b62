// Package tree implements the context-tree half of C5: an in-memory rooted
// tree of layer IDs, persisted as a bare {id, children} skeleton (layer
// attributes live in package layer's registry). Grounded on the teacher's
// graph.Node{ID, Children []string} shape (internal/graph/graph.go), with
// the cyclic layer<->node ownership resolved the way spec Design Notes
// direct: nodes own only an ID, resolved through the LayerIndex on demand.
package tree

import (
	"encoding/json"
	"strings"

	"github.com/synapsd/synapsd/internal/events"
	"github.com/synapsd/synapsd/internal/layer"
	"github.com/synapsd/synapsd/internal/store"
	"github.com/synapsd/synapsd/internal/synapserr"
)

// treeKey is the fixed key under which the serialized tree skeleton lives.
const treeKey = "tree"

// Node is a bare structural tree position: an identity (a layer ID) plus
// child positions. Persisted form matches spec §4.5/§6 exactly.
type Node struct {
	ID       string  `json:"id"`
	Children []*Node `json:"children,omitempty"`
}

// Tree is the in-memory rooted tree of layer IDs (C5), bound to a
// layer.Index for name resolution and a dataset for persistence.
type Tree struct {
	ds     store.Store
	layers *layer.Index
	sink   events.Sink
	root   *Node
}

// New loads a Tree from ds, initializing a root node mirroring the root
// layer on first load. A nil sink defaults to events.NoopSink.
func New(ds store.Store, layers *layer.Index, sink events.Sink) (*Tree, error) {
	if sink == nil {
		sink = events.NoopSink{}
	}
	t := &Tree{ds: ds, layers: layers, sink: sink}

	raw, ok, err := ds.Get([]byte(treeKey))
	if err != nil {
		return nil, synapserr.Backend(err)
	}
	if ok {
		var root Node
		if err := json.Unmarshal(raw, &root); err != nil {
			return nil, synapserr.Backend(err)
		}
		t.root = &root
		return t, nil
	}

	t.root = &Node{ID: layer.RootID}
	if err := t.Save(events.TreePathInserted); err != nil {
		return nil, err
	}
	return t, nil
}

// Save serializes the {id, children} skeleton, persists it under the fixed
// tree key, and emits kind.
func (t *Tree) Save(kind events.Kind) error {
	buf, err := json.Marshal(t.root)
	if err != nil {
		return synapserr.Backend(err)
	}
	if err := t.ds.Put([]byte(treeKey), buf); err != nil {
		return synapserr.Backend(err)
	}
	t.sink.Emit(events.Event{Kind: kind, Payload: nil})
	return nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func findChild(n *Node, id string) *Node {
	for _, c := range n.Children {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func removeChild(n *Node, id string) *Node {
	for i, c := range n.Children {
		if c.ID == id {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return c
		}
	}
	return nil
}

// GetNode returns the node at path, or (nil, false) if no such path exists.
func (t *Tree) GetNode(path string) (*Node, bool) {
	segments := splitPath(path)
	node := t.root
	for _, seg := range segments {
		l, ok := t.layers.GetLayerByName(seg)
		if !ok {
			return nil, false
		}
		child := findChild(node, l.ID)
		if child == nil {
			return nil, false
		}
		node = child
	}
	return node, true
}

// InsertPath splits path by "/" (empty segments ignored), resolving or
// creating a layer per segment (when autoCreateLayers), walking the tree
// and creating any missing child node, and returns the ordered layer IDs
// for the path (excluding the root). Fails if any segment names the root
// layer (spec §4.5: internal/built-in names are rejected).
func (t *Tree) InsertPath(path string, autoCreateLayers bool) ([]string, error) {
	segments := splitPath(path)
	ids := make([]string, 0, len(segments))
	node := t.root
	for _, seg := range segments {
		name := layer.SanitizeName(seg)
		if name == layer.RootName {
			return nil, synapserr.RootContextProtected()
		}
		l, ok := t.layers.GetLayerByName(name)
		if !ok {
			if !autoCreateLayers {
				return nil, synapserr.Missing("layer not found: " + name)
			}
			var err error
			l, err = t.layers.CreateLayer(layer.Options{Name: name})
			if err != nil {
				return nil, err
			}
		}
		child := findChild(node, l.ID)
		if child == nil {
			child = &Node{ID: l.ID}
			node.Children = append(node.Children, child)
		}
		node = child
		ids = append(ids, l.ID)
	}
	if err := t.Save(events.TreePathInserted); err != nil {
		return nil, err
	}
	return ids, nil
}

// nodeNameAt resolves the layer name for a node ID via the registry.
func (t *Tree) nodeNameAt(id string) (string, bool) {
	l, ok := t.layers.GetLayerByID(id)
	if !ok {
		return "", false
	}
	return l.Name, true
}

// subtreeContainsName reports whether n, or any of its descendants,
// resolves to name.
func (t *Tree) subtreeContainsName(n *Node, name string) bool {
	if nm, ok := t.nodeNameAt(n.ID); ok && nm == name {
		return true
	}
	for _, c := range n.Children {
		if t.subtreeContainsName(c, name) {
			return true
		}
	}
	return false
}

// destinationContainsName reports whether name appears anywhere along the
// ancestor path leading to to, or within to's own subtree — the full set
// of positions moving into to could create a cycle through (spec §4.5).
func (t *Tree) destinationContainsName(to, name string) bool {
	for _, seg := range splitPath(to) {
		if layer.SanitizeName(seg) == name {
			return true
		}
	}
	toNode, ok := t.GetNode(to)
	if !ok {
		return false
	}
	return t.subtreeContainsName(toNode, name)
}

// MovePath moves the node at from to the parent located at to.
// recursive=true moves the entire subtree; recursive=false moves only the
// leaf node and re-parents its children to the old parent (spec §4.5).
// Fails with KindCycleInMove if to contains the moved layer's name.
func (t *Tree) MovePath(from, to string, recursive bool) error {
	fromParent, leafID, ok := t.parentAndLeaf(from)
	if !ok {
		return synapserr.Missing("path not found: " + from)
	}
	toNode, ok := t.GetNode(to)
	if !ok {
		return synapserr.Missing("path not found: " + to)
	}
	leafName, _ := t.nodeNameAt(leafID)
	if t.destinationContainsName(to, leafName) {
		return synapserr.CycleInMove(from, to)
	}

	moved := removeChild(fromParent, leafID)
	if moved == nil {
		return synapserr.Missing("path not found: " + from)
	}

	if recursive {
		toNode.Children = append(toNode.Children, moved)
	} else {
		reparented := &Node{ID: moved.ID}
		toNode.Children = append(toNode.Children, reparented)
		fromParent.Children = append(fromParent.Children, moved.Children...)
	}
	return t.Save(events.TreePathMoved)
}

// CopyPath duplicates the node at from under to. Recursive copies carry
// descendants by layer reference (same IDs), so the copy shares bitmap
// membership with the original (spec §4.5).
func (t *Tree) CopyPath(from, to string, recursive bool) error {
	srcNode, ok := t.GetNode(from)
	if !ok {
		return synapserr.Missing("path not found: " + from)
	}
	toNode, ok := t.GetNode(to)
	if !ok {
		return synapserr.Missing("path not found: " + to)
	}
	var cloneNode func(n *Node) *Node
	cloneNode = func(n *Node) *Node {
		c := &Node{ID: n.ID}
		if recursive {
			for _, child := range n.Children {
				c.Children = append(c.Children, cloneNode(child))
			}
		}
		return c
	}
	toNode.Children = append(toNode.Children, cloneNode(srcNode))
	return t.Save(events.TreePathCopied)
}

// RemovePath unlinks the node at path. recursive=true deletes the whole
// subtree; recursive=false unlinks only the leaf and re-parents its
// children to the old parent (spec §4.5).
func (t *Tree) RemovePath(path string, recursive bool) error {
	parent, leafID, ok := t.parentAndLeaf(path)
	if !ok {
		return synapserr.Missing("path not found: " + path)
	}
	removed := removeChild(parent, leafID)
	if removed == nil {
		return synapserr.Missing("path not found: " + path)
	}
	if !recursive {
		parent.Children = append(parent.Children, removed.Children...)
	}
	return t.Save(events.TreePathRemoved)
}

// parentAndLeaf resolves path to its parent node and leaf node ID. Fails
// (false) for the root path, since the root has no parent.
func (t *Tree) parentAndLeaf(path string) (*Node, string, bool) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, "", false
	}
	node := t.root
	for _, seg := range segments[:len(segments)-1] {
		l, ok := t.layers.GetLayerByName(seg)
		if !ok {
			return nil, "", false
		}
		child := findChild(node, l.ID)
		if child == nil {
			return nil, "", false
		}
		node = child
	}
	leafName := layer.SanitizeName(segments[len(segments)-1])
	l, ok := t.layers.GetLayerByName(leafName)
	if !ok {
		return nil, "", false
	}
	if findChild(node, l.ID) == nil {
		return nil, "", false
	}
	return node, l.ID, true
}
