// SPDX-License-Identifier: LGPL-2.1-only

// Package yang defines the contract the core depends on for the YANG
// parser and schema model that spec.md §1 places out of scope: node
// lookup, type validation of a subtree, default-value insertion, feature
// queries and RPC input/output schemas. StaticSchema is a minimal
// in-memory implementation of that contract sufficient to exercise and
// test the datastore, transaction and edit-engine components; it is not a
// YANG compiler.
package yang

import (
	"fmt"

	"github.com/clicon-go/confd/internal/mgmterror"
	"github.com/clicon-go/confd/internal/tree"
	"github.com/clicon-go/confd/rpc"
)

// Node is a bound YANG schema node: the semantic type, default, and (for
// lists) identity key of a Configuration Tree node.
type Node interface {
	Name() string
	Namespace() string
	Kind() rpc.NodeType
	// Keys returns the key leaf names, in YANG-declared order, for a LIST
	// node. Nil for every other kind.
	Keys() []string
	// OrderedByUser reports whether child ordering is significant (list
	// ordered-by-user / leaf-list ordered-by-user) as opposed to the
	// schema-declared canonical order.
	OrderedByUser() bool
	// Default returns the node's default value and whether one is defined.
	Default() (string, bool)
	// Child looks up an immediate schema child by name.
	Child(name string) (Node, bool)
	Children() []Node
}

// RPCSchema is the bound input/output schema for a single RPC.
type RPCSchema interface {
	Namespace() string
	Name() string
	Input() Node
	Output() Node
}

// Schema is the root contract: path resolution, feature queries, RPC
// lookup, type validation and default insertion.
type Schema interface {
	Root() Node
	// Lookup resolves an absolute schema path (element names, root-
	// exclusive) to its bound Node.
	Lookup(path []string) (Node, bool)
	// ValidateType checks the subtree rooted at id against its bound
	// schema: mandatory leaves present, leaf values conforming to their
	// type. Returns a *mgmterror-shaped error (via internal/mgmterror) on
	// violation.
	ValidateType(t *tree.Tree, id tree.ID, schema Node) error
	// InsertDefaults recursively inserts any missing default-valued leaves
	// under id, per schema (store.Populate's "insert default values
	// globally and recursively").
	InsertDefaults(t *tree.Tree, id tree.ID, schema Node)
	HasFeature(name string) bool
	RPC(namespace, local string) (RPCSchema, bool)
}

// --- static in-memory implementation -------------------------------------

type staticNode struct {
	name          string
	namespace     string
	kind          rpc.NodeType
	keys          []string
	orderedByUser bool
	def           string
	hasDef        bool
	children      map[string]*staticNode
	order         []string
}

func (n *staticNode) Name() string           { return n.name }
func (n *staticNode) Namespace() string      { return n.namespace }
func (n *staticNode) Kind() rpc.NodeType     { return n.kind }
func (n *staticNode) Keys() []string         { return n.keys }
func (n *staticNode) OrderedByUser() bool    { return n.orderedByUser }
func (n *staticNode) Default() (string, bool) { return n.def, n.hasDef }

func (n *staticNode) Child(name string) (Node, bool) {
	c, ok := n.children[name]
	if !ok {
		return nil, false
	}
	return c, true
}

func (n *staticNode) Children() []Node {
	out := make([]Node, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.children[name])
	}
	return out
}

// NodeDef is the declarative shape used to build a StaticSchema for tests
// and for small, hand-authored deployments where no external YANG compiler
// is wired in.
type NodeDef struct {
	Name          string
	Namespace     string
	Kind          rpc.NodeType
	Keys          []string
	OrderedByUser bool
	Default       string
	HasDefault    bool
	Children      []NodeDef
}

func build(def NodeDef) *staticNode {
	n := &staticNode{
		name: def.Name, namespace: def.Namespace, kind: def.Kind,
		keys: def.Keys, orderedByUser: def.OrderedByUser,
		def: def.Default, hasDef: def.HasDefault,
		children: make(map[string]*staticNode),
	}
	for _, c := range def.Children {
		cn := build(c)
		n.children[cn.name] = cn
		n.order = append(n.order, cn.name)
	}
	return n
}

// StaticSchema is a fixed, in-memory Schema built from a NodeDef tree.
type StaticSchema struct {
	root  *staticNode
	rpcs  map[string]*staticRPC
	feats map[string]bool
}

type staticRPC struct {
	ns, name     string
	input, output *staticNode
}

func (r *staticRPC) Namespace() string { return r.ns }
func (r *staticRPC) Name() string      { return r.name }
func (r *staticRPC) Input() Node {
	if r.input == nil {
		return nil
	}
	return r.input
}
func (r *staticRPC) Output() Node {
	if r.output == nil {
		return nil
	}
	return r.output
}

// NewStaticSchema builds a Schema from a root container definition.
func NewStaticSchema(root NodeDef, features ...string) *StaticSchema {
	feats := make(map[string]bool, len(features))
	for _, f := range features {
		feats[f] = true
	}
	return &StaticSchema{root: build(root), rpcs: make(map[string]*staticRPC), feats: feats}
}

// RegisterRPC adds an RPC definition keyed by (namespace, local-name).
func (s *StaticSchema) RegisterRPC(ns, name string, input, output *NodeDef) {
	r := &staticRPC{ns: ns, name: name}
	if input != nil {
		r.input = build(*input)
	}
	if output != nil {
		r.output = build(*output)
	}
	s.rpcs[ns+" "+name] = r
}

func (s *StaticSchema) Root() Node { return s.root }

func (s *StaticSchema) Lookup(path []string) (Node, bool) {
	cur := s.root
	for _, name := range path {
		c, ok := cur.children[name]
		if !ok {
			return nil, false
		}
		cur = c
	}
	return cur, true
}

func (s *StaticSchema) HasFeature(name string) bool { return s.feats[name] }

func (s *StaticSchema) RPC(namespace, local string) (RPCSchema, bool) {
	r, ok := s.rpcs[namespace+" "+local]
	if !ok {
		return nil, false
	}
	return r, true
}

// ValidateType checks that every LIST entry under id carries all of its
// key leaves. Leaf bodies and leaf types are not checked, and tree
// children with no matching schema child are skipped; it is not a full
// YANG validator.
func (s *StaticSchema) ValidateType(t *tree.Tree, id tree.ID, schema Node) error {
	if schema == nil {
		return nil
	}
	sn, ok := schema.(*staticNode)
	if !ok {
		return nil
	}
	if sn.kind == rpc.LIST {
		for _, key := range sn.keys {
			if t.ChildByName(id, key, sn.namespace) == tree.NoNode {
				return mgmterror.New(mgmterror.OriginYANG, mgmterror.TagMissingElement, fmt.Sprintf("missing key leaf %q under %s", key, t.Path(id)))
			}
		}
	}
	for _, c := range t.Children(id) {
		cn := t.Node(c)
		child, ok := sn.children[cn.Name]
		if !ok {
			continue
		}
		if err := s.ValidateType(t, c, child); err != nil {
			return err
		}
	}
	return nil
}

// InsertDefaults walks schema and, for every leaf schema child with a
// default that is absent from the tree under id, creates it.
func (s *StaticSchema) InsertDefaults(t *tree.Tree, id tree.ID, schema Node) {
	sn, ok := schema.(*staticNode)
	if !ok {
		return
	}
	for _, name := range sn.order {
		child := sn.children[name]
		existing := t.ChildByName(id, child.name, child.namespace)
		if child.kind == rpc.LEAF && existing == tree.NoNode && child.hasDef {
			nid := t.AddChild(id, child.name, child.namespace)
			n := t.Node(nid)
			n.Body = child.def
			n.Schema = child
			n.Default = true
			continue
		}
		if existing != tree.NoNode {
			t.Node(existing).Schema = child
			s.InsertDefaults(t, existing, child)
		}
	}
}
