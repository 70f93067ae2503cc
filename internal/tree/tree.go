// SPDX-License-Identifier: LGPL-2.1-only

// Package tree implements the Configuration Tree entity from the data
// model: an arena of nodes addressed by stable integer id rather than raw
// parent/child pointers, so that ancestor lookups ("xml-parent") work
// without the pointer cycles the original C implementation relies on (see
// DESIGN.md, "Cyclic/parent back-references in the tree").
package tree

import "strings"

// ID addresses a node within a Tree. The root of a populated Tree is
// always id 0; NoNode (-1) is the value that addresses no node.
type ID int

// NoNode is returned in place of an ID when there is no such node (e.g. the
// parent of the root, or a failed lookup).
const NoNode ID = -1

// Attr is a single attribute on an element node: name, optional namespace,
// and value. xmlns declarations are represented as ordinary attributes
// whose Name is "xmlns" or "xmlns:<prefix>".
type Attr struct {
	Name      string
	Namespace string
	Value     string
}

// Node is one element in the configuration tree. Schema is an opaque
// binding set by a caller that has resolved this node against a YANG model
// (see internal/yang); the tree package never interprets it.
type Node struct {
	id        ID
	parent    ID
	Name      string
	Namespace string
	Attrs     []Attr
	Body      string
	children  []ID
	Schema    interface{}
	Default   bool
}

// ID returns this node's stable id within its Tree.
func (n *Node) ID() ID { return n.id }

// Tree is an arena of Nodes. The zero Tree is not usable; construct one
// with New.
type Tree struct {
	nodes []*Node
}

// New creates a Tree with a single root node of the given name/namespace.
func New(name, namespace string) *Tree {
	t := &Tree{nodes: make([]*Node, 0, 16)}
	t.nodes = append(t.nodes, &Node{id: 0, parent: NoNode, Name: name, Namespace: namespace})
	return t
}

// Root returns the id of the tree's root node.
func (t *Tree) Root() ID { return 0 }

// Node dereferences an id. Callers must only pass ids returned by this
// Tree's own methods.
func (t *Tree) Node(id ID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Parent returns the id of id's parent, or NoNode for the root.
func (t *Tree) Parent(id ID) ID {
	n := t.Node(id)
	if n == nil {
		return NoNode
	}
	return n.parent
}

// Children returns the ordered ids of id's children. The returned slice
// must not be mutated by the caller; use AddChild/RemoveChild instead.
func (t *Tree) Children(id ID) []ID {
	n := t.Node(id)
	if n == nil {
		return nil
	}
	return n.children
}

// AddChild appends a new element child under parent and returns its id.
// Ordering of the returned id within Children(parent) is append order,
// which is the canonical order for schema-declared categories and the
// user order for ordered-by-user lists/leaf-lists.
func (t *Tree) AddChild(parent ID, name, namespace string) ID {
	p := t.Node(parent)
	if p == nil {
		return NoNode
	}
	id := ID(len(t.nodes))
	child := &Node{id: id, parent: parent, Name: name, Namespace: namespace}
	t.nodes = append(t.nodes, child)
	p.children = append(p.children, id)
	return id
}

// InsertChildBefore inserts a new child of parent immediately before the
// existing child `before` (or at the end if before is NoNode), used to
// implement RESTCONF/yang:insert "point" placement for ordered-by-user
// lists and leaf-lists.
func (t *Tree) InsertChildBefore(parent ID, before ID, name, namespace string) ID {
	p := t.Node(parent)
	if p == nil {
		return NoNode
	}
	id := ID(len(t.nodes))
	child := &Node{id: id, parent: parent, Name: name, Namespace: namespace}
	t.nodes = append(t.nodes, child)

	if before == NoNode {
		p.children = append(p.children, id)
		return id
	}
	idx := indexOf(p.children, before)
	if idx < 0 {
		p.children = append(p.children, id)
		return id
	}
	p.children = append(p.children[:idx:idx], append([]ID{id}, p.children[idx:]...)...)
	return id
}

// RemoveChild detaches child from parent's child list. The node itself
// remains addressable (its id is not reused) but is no longer reachable
// from a tree walk starting at the root.
func (t *Tree) RemoveChild(parent, child ID) {
	p := t.Node(parent)
	if p == nil {
		return
	}
	idx := indexOf(p.children, child)
	if idx < 0 {
		return
	}
	p.children = append(p.children[:idx], p.children[idx+1:]...)
}

func indexOf(ids []ID, target ID) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}

// ChildByName returns the first direct child of parent with the given
// name/namespace, or NoNode.
func (t *Tree) ChildByName(parent ID, name, namespace string) ID {
	for _, c := range t.Children(parent) {
		cn := t.Node(c)
		if cn.Name == name && (namespace == "" || cn.Namespace == namespace) {
			return c
		}
	}
	return NoNode
}

// Path returns the slash-separated ancestor-name path to id, root-exclusive
// (e.g. "/interfaces/interface/name"), used for leaf identity comparisons
// in the transaction engine's delta computation.
func (t *Tree) Path(id ID) string {
	var parts []string
	for cur := id; cur != NoNode; cur = t.Parent(cur) {
		n := t.Node(cur)
		if n == nil || cur == t.Root() {
			break
		}
		parts = append([]string{n.Name}, parts...)
	}
	return "/" + strings.Join(parts, "/")
}

// Clone deep-copies the tree rooted at id into a fresh, independent Tree.
// Used to take the src/tgt snapshots a Transaction owns (§3 Ownership):
// the snapshot must survive independently of later edits to the live
// datastore cache.
func Clone(t *Tree, id ID) *Tree {
	src := t.Node(id)
	out := &Tree{nodes: make([]*Node, 0, len(t.nodes))}
	out.nodes = append(out.nodes, &Node{
		id: 0, parent: NoNode, Name: src.Name, Namespace: src.Namespace,
		Attrs: append([]Attr(nil), src.Attrs...), Body: src.Body, Schema: src.Schema, Default: src.Default,
	})
	cloneChildren(t, out, id, 0)
	return out
}

func cloneChildren(src, dst *Tree, srcParent, dstParent ID) {
	for _, c := range src.Children(srcParent) {
		cn := src.Node(c)
		newID := dst.AddChild(dstParent, cn.Name, cn.Namespace)
		dn := dst.Node(newID)
		dn.Attrs = append([]Attr(nil), cn.Attrs...)
		dn.Body = cn.Body
		dn.Schema = cn.Schema
		dn.Default = cn.Default
		cloneChildren(src, dst, c, newID)
	}
}

// Walk visits id and every descendant in document order, depth-first,
// stopping early if fn returns false.
func Walk(t *Tree, id ID, fn func(ID) bool) {
	if !fn(id) {
		return
	}
	for _, c := range t.Children(id) {
		Walk(t, c, fn)
	}
}

// Attr looks up an attribute by name on id, returning ("", false) if absent.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets (or replaces) an attribute by name.
func (n *Node) SetAttr(name, namespace, value string) {
	for i, a := range n.Attrs {
		if a.Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Namespace: namespace, Value: value})
}
