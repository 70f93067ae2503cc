// SPDX-License-Identifier: LGPL-2.1-only

// Package ncdispatch implements the NETCONF Dispatcher from spec.md §4.4:
// the per-session hello negotiation state machine and the RPC dispatch
// loop that either runs a local plugin handler or tunnels the request
// over the IPC Channel to the backend. Session bookkeeping follows the
// teacher's "Mgr" shape (session/sessionmgr.go) generalized from
// JSON-RPC sessions to NETCONF sessions.
package ncdispatch

import (
	"context"
	"fmt"

	"github.com/clicon-go/confd/internal/codec"
	"github.com/clicon-go/confd/internal/mgmterror"
	"github.com/clicon-go/confd/internal/ncframe"
	"github.com/clicon-go/confd/internal/ncmsg"
	"github.com/clicon-go/confd/internal/plugin"
	"github.com/clicon-go/confd/internal/tree"
)

// State is a session's position in the hello negotiation state machine.
type State int

const (
	StateAwaitingHello State = iota
	StateNegotiated
	StateClosed
)

// Backend is what the dispatcher tunnels an un-handled RPC to: the IPC
// Channel client in production, a fake in tests.
type Backend interface {
	Call(ctx context.Context, sessionID uint64, rpc *ncmsg.RPC) (*tree.Tree, []*mgmterror.Error)
}

// Session is one NETCONF connection's dispatcher-owned state.
type Session struct {
	ID           uint64
	State        State
	Framer       *ncframe.Framer
	Codec        codec.Codec
	HelloOptional bool
	disableChunked bool
}

// Dispatcher routes frames from many sessions to local plugin handlers or
// the backend.
type Dispatcher struct {
	registry *plugin.Registry
	backend  Backend
	nextID   uint64
}

// NewDispatcher builds a Dispatcher serving local RPCs from registry and
// tunnelling everything else to backend.
func NewDispatcher(registry *plugin.Registry, backend Backend) *Dispatcher {
	return &Dispatcher{registry: registry, backend: backend}
}

func (d *Dispatcher) allocSessionID() uint64 {
	d.nextID++
	return d.nextID
}

// ServeHello performs the AWAITING-HELLO → NEGOTIATED transition for a
// freshly connected session: reads the peer's hello, validates it, and
// sends the server's own hello with the freshly assigned session id.
func (d *Dispatcher) ServeHello(ctx context.Context, sess *Session, serverCaps []string) error {
	raw, err := sess.Framer.ReadMessage()
	if err != nil {
		return err
	}
	doc, err := sess.Codec.Parse(raw)
	if err != nil {
		sess.State = StateClosed
		return err
	}
	root := doc.Node(doc.Root())
	if root.Name != "hello" || root.Namespace != ncmsg.NSBase {
		sess.State = StateClosed
		return fmt.Errorf("ncdispatch: non-hello message before negotiation")
	}

	peerHello, err := ncmsg.ParseHello(doc)
	if err != nil {
		sess.State = StateClosed
		return err
	}
	// "A hello from the peer that contains a <session-id> child is a
	// protocol violation": clients never assign their own session id.
	if peerHello.SessionID != 0 {
		sess.State = StateClosed
		return fmt.Errorf("ncdispatch: client hello must not carry session-id")
	}
	if !peerHello.HasCapability(ncmsg.CapBase10) && !peerHello.HasCapability(ncmsg.CapBase11) {
		sess.State = StateClosed
		return fmt.Errorf("ncdispatch: peer advertised neither base:1.0 nor base:1.1")
	}

	sess.ID = d.allocSessionID()
	sess.State = StateNegotiated

	if peerHello.HasCapability(ncmsg.CapBase11) && !sess.disableChunked {
		sess.Framer.Upgrade()
	}

	serverHello := &ncmsg.Hello{SessionID: sess.ID, Capabilities: serverCaps}
	out, err := sess.Codec.Serialize(serverHello.Encode(), 0)
	if err != nil {
		return err
	}
	return sess.Framer.WriteMessage(out)
}

// ServeRPC handles exactly one <rpc> frame: validates it, dispatches it
// locally or to the backend, and writes the <rpc-reply>. The caller loops
// this for the session's lifetime.
func (d *Dispatcher) ServeRPC(ctx context.Context, sess *Session) error {
	raw, err := sess.Framer.ReadMessage()
	if err != nil {
		return err
	}

	if sess.State != StateNegotiated {
		if !sess.HelloOptional {
			d.writeError(sess, "", nil, mgmterror.HelloBeforeRPC())
			return fmt.Errorf("ncdispatch: rpc before hello negotiation")
		}
	}

	doc, err := sess.Codec.Parse(raw)
	if err != nil {
		d.writeError(sess, "", nil, mgmterror.New(mgmterror.OriginXML, mgmterror.TagMalformedMessage, err.Error()))
		return nil
	}

	root := doc.Node(doc.Root())
	if root.Name == "hello" {
		// "hello again" on an already-negotiated session is a protocol
		// violation per the state diagram; terminate.
		sess.State = StateClosed
		return fmt.Errorf("ncdispatch: unexpected hello on a negotiated session")
	}

	rpc, err := ncmsg.ParseRPC(doc)
	if err != nil {
		var mgmtErr *mgmterror.Error
		if me, ok := err.(*mgmterror.Error); ok {
			mgmtErr = me
		} else {
			mgmtErr = mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagMalformedMessage, err.Error())
		}
		d.writeError(sess, "", nil, mgmtErr)
		return nil
	}

	opName := doc.Node(rpc.Operation).Name
	opNS := doc.Node(rpc.Operation).Namespace
	if handler, ok := d.registry.RPC(opNS, opName); ok {
		opTree := subtreeOf(doc, rpc.Operation)
		result, herr := handler(ctx, opTree)
		if herr != nil {
			d.writeError(sess, rpc.MessageID, rpc.Attrs, toMgmtError(herr))
			return nil
		}
		d.writeReply(sess, rpc.MessageID, rpc.Attrs, result)
		return nil
	}

	data, errs := d.backend.Call(ctx, sess.ID, rpc)
	if len(errs) > 0 {
		d.writeErrors(sess, rpc.MessageID, rpc.Attrs, errs)
		return nil
	}
	d.writeReply(sess, rpc.MessageID, rpc.Attrs, data)
	return nil
}

func toMgmtError(err error) *mgmterror.Error {
	if me, ok := err.(*mgmterror.Error); ok {
		return me
	}
	return mgmterror.New(mgmterror.OriginPLUGIN, mgmterror.TagOperationFailed, err.Error())
}

func subtreeOf(doc *tree.Tree, id tree.ID) *tree.Tree {
	n := doc.Node(id)
	out := tree.New(n.Name, n.Namespace)
	root := out.Node(out.Root())
	root.Body = n.Body
	root.Attrs = append([]tree.Attr(nil), n.Attrs...)
	for _, c := range doc.Children(id) {
		copyChild(out, out.Root(), doc, c)
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

func (d *Dispatcher) writeReply(sess *Session, msgID string, attrs []tree.Attr, data *tree.Tree) {
	reply := &ncmsg.RPCReply{MessageID: msgID, Attrs: attrs, Data: data}
	out, err := sess.Codec.Serialize(reply.Encode(), 0)
	if err != nil {
		return
	}
	sess.Framer.WriteMessage(out)
}

func (d *Dispatcher) writeError(sess *Session, msgID string, attrs []tree.Attr, e *mgmterror.Error) {
	d.writeErrors(sess, msgID, attrs, []*mgmterror.Error{e})
}

func (d *Dispatcher) writeErrors(sess *Session, msgID string, attrs []tree.Attr, errs []*mgmterror.Error) {
	reply := &ncmsg.RPCReply{MessageID: msgID, Attrs: attrs, Errors: errs}
	out, err := sess.Codec.Serialize(reply.Encode(), 0)
	if err != nil {
		return
	}
	sess.Framer.WriteMessage(out)
}
