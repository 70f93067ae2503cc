// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// backend implements ncdispatch.Backend: it forwards an RPC the local
// registry can't service straight to the confd daemon over the IPC
// Channel, re-using the same <rpc>/<rpc-reply> envelope confd's own
// server package speaks, and unpacks confd's reply into the shape
// ncdispatch.ServeRPC expects.
package main

import (
	"context"
	"fmt"

	"github.com/clicon-go/confd/internal/codec"
	"github.com/clicon-go/confd/internal/ipc"
	"github.com/clicon-go/confd/internal/mgmterror"
	"github.com/clicon-go/confd/internal/ncmsg"
	"github.com/clicon-go/confd/internal/tree"
)

// ipcBackend tunnels RPCs to confd over one dedicated IPC connection per
// NETCONF session. op_id on the wire is the NETCONF session id itself
// (assigned by the dispatcher at hello negotiation, spec.md's IPC Channel
// framing), not a per-call counter: confd keys locking and lock-denied
// reporting off this value, so every Call on a given connection must carry
// the same op_id as the hello-assigned session.
type ipcBackend struct {
	conn  *ipc.Conn
	codec codec.Codec
}

func newIPCBackend(conn *ipc.Conn) *ipcBackend {
	return &ipcBackend{conn: conn, codec: codec.XML{}}
}

func (b *ipcBackend) Call(ctx context.Context, sessionID uint64, rpc *ncmsg.RPC) (*tree.Tree, []*mgmterror.Error) {
	body, err := b.codec.Serialize(rpc.Tree, rpc.Tree.Root())
	if err != nil {
		return nil, []*mgmterror.Error{mgmterror.New(mgmterror.OriginXML, mgmterror.TagMalformedMessage, err.Error())}
	}

	opID := uint32(sessionID)
	if err := b.conn.Send(opID, body); err != nil {
		return nil, []*mgmterror.Error{mgmterror.New(mgmterror.OriginUNIX, mgmterror.TagOperationFailed, err.Error())}
	}
	frame, err := b.conn.Receive()
	if err != nil {
		return nil, []*mgmterror.Error{mgmterror.New(mgmterror.OriginUNIX, mgmterror.TagOperationFailed, err.Error())}
	}

	doc, err := b.codec.Parse(frame.Body)
	if err != nil {
		return nil, []*mgmterror.Error{mgmterror.New(mgmterror.OriginXML, mgmterror.TagMalformedMessage, err.Error())}
	}
	return decodeReply(doc)
}

// decodeReply splits confd's <rpc-reply> into the (data, errors) pair
// ncdispatch.Backend.Call returns, undoing the <data>/<rpc-error> wrapping
// ncmsg.RPCReply.Encode applied on the other end of the wire.
func decodeReply(doc *tree.Tree) (*tree.Tree, []*mgmterror.Error) {
	root := doc.Root()
	if errsID := doc.ChildByName(root, "rpc-error", ""); errsID != tree.NoNode {
		var errs []*mgmterror.Error
		for _, c := range doc.Children(root) {
			if doc.Node(c).Name == "rpc-error" {
				errs = append(errs, decodeOneError(doc, c))
			}
		}
		return nil, errs
	}

	dataID := doc.ChildByName(root, "data", "")
	if dataID == tree.NoNode {
		return nil, nil
	}
	out := tree.New("data", "")
	for _, c := range doc.Children(dataID) {
		copyChild(out, out.Root(), doc, c)
	}
	return out, nil
}

func decodeOneError(doc *tree.Tree, id tree.ID) *mgmterror.Error {
	e := &mgmterror.Error{}
	for _, c := range doc.Children(id) {
		n := doc.Node(c)
		switch n.Name {
		case "error-type":
			e.Origin = originOfErrorType(n.Body)
		case "error-tag":
			e.Tag = mgmterror.Tag(n.Body)
		case "error-severity":
			e.Severity = mgmterror.Severity(n.Body)
		case "error-path":
			e.Path = n.Body
		case "error-message":
			e.Message = n.Body
		case "error-info":
			e.Info = n.Body
			if sid := doc.ChildByName(c, "session-id", ""); sid != tree.NoNode {
				fmt.Sscanf(doc.Node(sid).Body, "%d", &e.SessionID)
			}
		}
	}
	return e
}

// originOfErrorType inverts ncmsg.ErrorType; the exact subsystem that
// raised an "application" error doesn't survive the wire, so it collapses
// to OriginCFG, the taxonomy's generic application-layer origin.
func originOfErrorType(errType string) mgmterror.Origin {
	switch errType {
	case "transport":
		return mgmterror.OriginUNIX
	case "rpc":
		return mgmterror.OriginPROTO
	case "protocol":
		return mgmterror.OriginNETCONF
	default:
		return mgmterror.OriginCFG
	}
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
