// SPDX-License-Identifier: LGPL-2.1-only

// Package ncmsg defines the NETCONF envelope types (hello, rpc, rpc-reply,
// rpc-error, notification) the dispatcher parses and emits, grounded in
// nemith-netconf/msg.go's struct shapes — but carrying a Configuration
// Tree payload rather than encoding/xml struct tags, since the core's own
// codec already turns wire bytes into *tree.Tree before any dispatcher
// logic runs.
package ncmsg

import (
	"fmt"
	"strings"
	"time"

	"github.com/clicon-go/confd/internal/mgmterror"
	"github.com/clicon-go/confd/internal/tree"
)

// Base NETCONF/notification namespace URIs.
const (
	NSBase            = "urn:ietf:params:xml:ns:netconf:base:1.0"
	NSNotification     = "urn:ietf:params:xml:ns:netconf:notification:1.0"
	CapBase10          = "urn:ietf:params:netconf:base:1.0"
	CapBase11          = "urn:ietf:params:netconf:base:1.1"
)

// Hello is the <hello> envelope, sent by both peers before any RPC.
type Hello struct {
	SessionID    uint64
	Capabilities []string
}

// HasCapability reports whether uri (or a prefix-match ignoring trailing
// parameters, per spec.md §4.4's "prefix match on the URI base") is
// advertised.
func (h *Hello) HasCapability(prefix string) bool {
	for _, c := range h.Capabilities {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// ParseHello extracts a Hello from a parsed <hello> tree. err is non-nil
// only for a structurally malformed hello (no capabilities element).
func ParseHello(t *tree.Tree) (*Hello, error) {
	root := t.Root()
	h := &Hello{}
	if sid := t.ChildByName(root, "session-id", ""); sid != tree.NoNode {
		fmt.Sscanf(t.Node(sid).Body, "%d", &h.SessionID)
	}
	capsID := t.ChildByName(root, "capabilities", "")
	if capsID == tree.NoNode {
		return nil, mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagMalformedMessage, "hello missing capabilities")
	}
	for _, c := range t.Children(capsID) {
		h.Capabilities = append(h.Capabilities, t.Node(c).Body)
	}
	return h, nil
}

// Encode renders h as a <hello> tree, ready for the framer to write.
func (h *Hello) Encode() *tree.Tree {
	t := tree.New("hello", NSBase)
	if h.SessionID != 0 {
		sid := t.AddChild(t.Root(), "session-id", NSBase)
		t.Node(sid).Body = fmt.Sprintf("%d", h.SessionID)
	}
	caps := t.AddChild(t.Root(), "capabilities", NSBase)
	for _, c := range h.Capabilities {
		cid := t.AddChild(caps, "capability", NSBase)
		t.Node(cid).Body = c
	}
	return t
}

// RPC is an incoming <rpc> request: its envelope attributes plus the
// single operation child (get-config, edit-config, a custom RPC, ...).
type RPC struct {
	MessageID string
	Attrs     []tree.Attr
	Operation tree.ID
	Tree      *tree.Tree
}

// ParseRPC extracts an RPC from a parsed <rpc> tree. Per spec.md §4.4,
// "exactly one message per frame; multiple top-level children →
// malformed-message" refers to frames, not to rpc children — but a bare
// <rpc> with zero or more-than-one operation child is equally malformed.
func ParseRPC(t *tree.Tree) (*RPC, error) {
	root := t.Node(t.Root())
	if root.Name != "rpc" || root.Namespace != NSBase {
		return nil, mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagUnknownNamespace,
			fmt.Sprintf("unexpected top element {%s}%s, want rpc", root.Namespace, root.Name))
	}
	children := t.Children(t.Root())
	if len(children) != 1 {
		return nil, mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagMalformedMessage,
			fmt.Sprintf("rpc must contain exactly one operation child, got %d", len(children)))
	}
	msgID, _ := root.Attr("message-id")
	var attrs []tree.Attr
	for _, a := range root.Attrs {
		if a.Name != "message-id" {
			attrs = append(attrs, a)
		}
	}
	return &RPC{MessageID: msgID, Attrs: attrs, Operation: children[0], Tree: t}, nil
}

// RPCReply is an outgoing <rpc-reply>: the echoed envelope attributes
// plus either a data/ok payload or a set of rpc-errors.
type RPCReply struct {
	MessageID string
	Attrs     []tree.Attr
	Errors    []*mgmterror.Error
	Data      *tree.Tree // nil for a plain <ok/>
}

// Encode renders reply as an <rpc-reply> tree. Attributes on the original
// <rpc> are echoed verbatim (message-id first) except any the reply sets
// itself, per spec.md §4.4.
func (r *RPCReply) Encode() *tree.Tree {
	t := tree.New("rpc-reply", NSBase)
	root := t.Node(t.Root())
	if r.MessageID != "" {
		root.SetAttr("message-id", "", r.MessageID)
	}
	for _, a := range r.Attrs {
		if _, exists := root.Attr(a.Name); exists {
			continue
		}
		root.SetAttr(a.Name, a.Namespace, a.Value)
	}

	if len(r.Errors) > 0 {
		for _, e := range r.Errors {
			encodeRPCError(t, t.Root(), e)
		}
		return t
	}
	if r.Data == nil {
		t.AddChild(t.Root(), "ok", NSBase)
		return t
	}
	data := t.AddChild(t.Root(), "data", NSBase)
	for _, c := range r.Data.Children(r.Data.Root()) {
		copyInto(t, data, r.Data, c)
	}
	return t
}

func copyInto(dst *tree.Tree, parent tree.ID, src *tree.Tree, srcID tree.ID) {
	n := src.Node(srcID)
	id := dst.AddChild(parent, n.Name, n.Namespace)
	dn := dst.Node(id)
	dn.Body = n.Body
	dn.Attrs = append([]tree.Attr(nil), n.Attrs...)
	for _, c := range src.Children(srcID) {
		copyInto(dst, id, src, c)
	}
}

// ErrorType maps an mgmterror.Origin onto the NETCONF <error-type>
// taxonomy (transport/rpc/protocol/application), the dimension
// nemith-netconf's ErrType names separately from its ErrTag.
func ErrorType(origin mgmterror.Origin) string {
	switch origin {
	case mgmterror.OriginUNIX:
		return "transport"
	case mgmterror.OriginPROTO:
		return "rpc"
	case mgmterror.OriginNETCONF, mgmterror.OriginXML:
		return "protocol"
	default:
		return "application"
	}
}

func encodeRPCError(t *tree.Tree, parent tree.ID, e *mgmterror.Error) {
	id := t.AddChild(parent, "rpc-error", NSBase)
	add := func(name, val string) {
		if val == "" {
			return
		}
		c := t.AddChild(id, name, NSBase)
		t.Node(c).Body = val
	}
	add("error-type", ErrorType(e.Origin))
	add("error-tag", string(e.Tag))
	sev := e.Severity
	if sev == "" {
		sev = mgmterror.SevError
	}
	add("error-severity", string(sev))
	add("error-path", e.Path)
	add("error-message", e.Message)
	if e.Info != "" {
		info := t.AddChild(id, "error-info", NSBase)
		t.Node(info).Body = e.Info
	}
	if e.SessionID != 0 {
		si := t.AddChild(id, "error-info", NSBase)
		sid := t.AddChild(si, "session-id", NSBase)
		t.Node(sid).Body = fmt.Sprintf("%d", e.SessionID)
	}
}

// Notification is an asynchronous <notification> message, demultiplexed
// by top element name rather than request/reply ordering (spec.md §4.5).
type Notification struct {
	EventTime time.Time
	Body      *tree.Tree
}

// Encode renders n as a <notification> tree.
func (n *Notification) Encode() *tree.Tree {
	t := tree.New("notification", NSNotification)
	evID := t.AddChild(t.Root(), "eventTime", NSNotification)
	t.Node(evID).Body = n.EventTime.UTC().Format(time.RFC3339Nano)
	copyInto(t, t.Root(), n.Body, n.Body.Root())
	return t
}
