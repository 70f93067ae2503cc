// SPDX-License-Identifier: LGPL-2.1-only

// Package editengine implements the Edit Engine from spec.md §4.6:
// NETCONF <edit-config> semantics (target/default-operation/test-option/
// error-option) plus the RESTCONF method-to-operation mapping, on top of
// the Datastore Store's per-node Put. The default-operation/test-option/
// error-option enumerations and the "test, then set" per-node pipeline
// (no authorization step) are grounded in the teacher's session/edit_config.go
// edit_config/edit_op types, adapted from its own schema/union-backed
// tree to internal/tree and internal/store.
package editengine

import (
	"fmt"

	"github.com/clicon-go/confd/internal/mgmterror"
	"github.com/clicon-go/confd/internal/store"
	"github.com/clicon-go/confd/internal/tree"
)

// TestOption mirrors NETCONF edit-config's test-option attribute.
type TestOption string

const (
	TestThenSet TestOption = "test-then-set"
	SetOnly     TestOption = "set"
	TestOnly    TestOption = "test-only"
)

// ErrorOption mirrors NETCONF edit-config's error-option attribute.
type ErrorOption string

const (
	StopOnError     ErrorOption = "stop-on-error"
	ContinueOnError ErrorOption = "continue-on-error"
	RollbackOnError ErrorOption = "rollback-on-error"
)

// Request is one <edit-config> invocation, already parsed down to its
// target database, operation defaults, and content tree.
type Request struct {
	Target           string
	DefaultOperation store.EditOp
	TestOption       TestOption
	ErrorOption      ErrorOption
	Config           *tree.Tree
}

// partialErrors aggregates per-child failures under continue-on-error,
// mirroring the teacher's perform_error.
type partialErrors []error

func (e partialErrors) Error() string {
	s := ""
	for _, err := range e {
		s += err.Error() + "\n"
	}
	return s
}

// Apply runs req against st, honoring test-option and error-option.
// Input MUST contain exactly one child of the api-path's parent per
// spec.md §4.6; a multi-child <config> (as opposed to one matching the
// anchor) is handled one child at a time here, each anchored at "/".
func Apply(st *store.Store, req Request) error {
	if req.Config == nil {
		return mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagMalformedMessage, "edit-config body is empty")
	}

	children := req.Config.Children(req.Config.Root())
	if len(children) == 0 {
		return mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagMalformedMessage, "edit-config body has no content")
	}

	defOp := req.DefaultOperation
	if defOp == "" {
		defOp = store.OpMerge
	}

	if req.TestOption == TestOnly {
		return testOnly(st, req, children, defOp)
	}

	var errs partialErrors
	for _, c := range children {
		sub := subtreeOf(req.Config, c)
		op := nodeOp(sub, defOp)
		if err := st.Put(req.Target, op, "", sub); err != nil {
			switch req.ErrorOption {
			case ContinueOnError:
				errs = append(errs, err)
				continue
			default: // stop-on-error and rollback-on-error: stop immediately.
				// We cannot roll back a partially-applied candidate edit in
				// place; the Transaction Engine's own abort path is what
				// spec.md §4.6 relies on to make rollback-on-error whole.
				return err
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// testOnly validates that every child's operation is consistent with the
// candidate's current state (create requires absence, delete requires
// presence) without mutating anything.
func testOnly(st *store.Store, req Request, children []tree.ID, defOp store.EditOp) error {
	cache := st.CacheGet(req.Target)
	for _, c := range children {
		node := req.Config.Node(c)
		op := nodeOp(subtreeOf(req.Config, c), defOp)
		exists := cache != nil && cache.ChildByName(cache.Root(), node.Name, node.Namespace) != tree.NoNode
		switch op {
		case store.OpCreate:
			if exists {
				return mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagDataExists,
					fmt.Sprintf("node %q already exists", node.Name))
			}
		case store.OpDelete:
			if !exists {
				return mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagDataMissing,
					fmt.Sprintf("node %q does not exist", node.Name))
			}
		}
	}
	return nil
}

func nodeOp(sub *tree.Tree, defOp store.EditOp) store.EditOp {
	root := sub.Node(sub.Root())
	if v, ok := root.Attr("operation"); ok {
		return store.EditOp(v)
	}
	return defOp
}

func subtreeOf(t *tree.Tree, id tree.ID) *tree.Tree {
	n := t.Node(id)
	out := tree.New(n.Name, n.Namespace)
	root := out.Node(out.Root())
	root.Body = n.Body
	root.Attrs = append([]tree.Attr(nil), n.Attrs...)
	for _, c := range t.Children(id) {
		copyChild(out, out.Root(), t, c)
	}
	return out
}

func copyChild(dst *tree.Tree, parent tree.ID, src *tree.Tree, srcID tree.ID) {
	n := src.Node(srcID)
	id := dst.AddChild(parent, n.Name, n.Namespace)
	dn := dst.Node(id)
	dn.Body = n.Body
	dn.Attrs = append([]tree.Attr(nil), n.Attrs...)
	for _, c := range src.Children(srcID) {
		copyChild(dst, id, src, c)
	}
}

// RESTCONF method-to-operation mapping, spec.md §4.6.

// MethodOperation maps an HTTP method on /data/... to its edit-config
// operation. ok is false for a method with no datastore-mutating meaning
// here, such as GET (a read). The mapping sees only the method, not the
// request path: POST always maps to create, so telling a POST to
// /operations (RPC dispatch) apart from a data edit is left to the caller.
func MethodOperation(method string) (store.EditOp, bool) {
	switch method {
	case "POST":
		return store.OpCreate, true
	case "PUT":
		return store.OpReplace, true
	case "PATCH":
		return store.OpMerge, true
	case "DELETE":
		return store.OpDelete, true
	default:
		return "", false
	}
}

// InsertPoint carries RESTCONF's insert/point query parameters, used only
// on user-ordered lists/leaf-lists.
type InsertPoint struct {
	Insert string // "first", "last", "before", "after"
	Point  string // a list-key-instance or leaf-list value identifier
}

// ApplyInsertAttrs stamps t's root with the yang:insert / yang:value
// attributes NETCONF uses for ordered-by-user inserts, translating a
// RESTCONF insert+point pair per spec.md §4.6.
func ApplyInsertAttrs(t *tree.Tree, id tree.ID, ip InsertPoint) {
	const yangNS = "urn:ietf:params:xml:ns:yang:1"
	if ip.Insert == "" {
		return
	}
	n := t.Node(id)
	n.SetAttr("insert", yangNS, ip.Insert)
	if ip.Point != "" {
		n.SetAttr("value", yangNS, ip.Point)
	}
}
