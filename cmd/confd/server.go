// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// server implements the backend side of the IPC Channel (spec.md §4.5):
// one goroutine per connection, decoding each frame's NETCONF XML body,
// applying it against the datastores, and replying in kind. The
// connection-loop shape (read request, dispatch, send response, repeat
// until EOF, release session locks) is grounded in the teacher's
// server/conn.go SrvConn.Handle.
package main

import (
	"context"
	"fmt"
	"io"

	"github.com/clicon-go/confd"
	"github.com/clicon-go/confd/internal/codec"
	"github.com/clicon-go/confd/internal/editengine"
	"github.com/clicon-go/confd/internal/ipc"
	"github.com/clicon-go/confd/internal/logging"
	"github.com/clicon-go/confd/internal/mgmterror"
	"github.com/clicon-go/confd/internal/ncmsg"
	"github.com/clicon-go/confd/internal/paginator"
	"github.com/clicon-go/confd/internal/plugin"
	"github.com/clicon-go/confd/internal/store"
	"github.com/clicon-go/confd/internal/txn"
	"github.com/clicon-go/confd/internal/tree"
)

// codecFor mirrors main's xmldbformat switch: the IPC channel carries the
// same wire encoding as the on-disk datastore files.
func codecFor(format string) codec.Codec {
	if format == "json" {
		return codec.JSON{}
	}
	return codec.XML{}
}

type server struct {
	store     *store.Store
	engine    *txn.Engine
	registry  *plugin.Registry
	paginator *paginator.Paginator
	cfg       *confd.Config
	loggers   *logging.Loggers
}

// handle drives one IPC connection. op_id on the wire is the NETCONF
// session id assigned by the frontend at hello negotiation (spec.md's IPC
// Channel framing), not a transport-layer identity, so locking and
// lock-denied reporting must key off frame.OpID rather than the peer's
// credentials. conn.LoadPeerCreds is retained only for diagnostic logging;
// lastSessionID tracks the most recent frame's session id so the deferred
// cleanup still releases whatever that connection was holding if the peer
// disconnects mid-session.
func (s *server) handle(conn *ipc.Conn) {
	if err := conn.LoadPeerCreds(); err != nil {
		s.loggers.Wlog.Println(err)
	}
	var lastSessionID confd.SessionID
	defer func() {
		s.store.UnlockAll(int32(lastSessionID))
		s.paginator.EvictSession(int32(lastSessionID))
		conn.Close()
	}()

	for {
		frame, err := conn.Receive()
		if err != nil {
			if err != io.EOF {
				s.loggers.Elog.Println(err)
			}
			return
		}
		if frame.IsNotification() {
			// The backend never receives notifications itself; any op_id
			// 0 frame arriving here is a malformed peer, not ours to act on.
			continue
		}

		sessionID := confd.SessionID(frame.OpID)
		lastSessionID = sessionID
		reply := s.process(context.Background(), sessionID, frame.Body)
		if err := conn.Send(frame.OpID, reply); err != nil {
			s.loggers.Elog.Println(err)
			return
		}
	}
}

func (s *server) process(ctx context.Context, sessionID confd.SessionID, body []byte) []byte {
	c := codecFor(s.cfg.XMLDBFormat)
	doc, err := c.Parse(body)
	if err != nil {
		return s.encodeError(c, "", nil, mgmterror.New(mgmterror.OriginXML, mgmterror.TagMalformedMessage, err.Error()))
	}

	rpcMsg, err := ncmsg.ParseRPC(doc)
	if err != nil {
		return s.encodeError(c, "", nil, toMgmtError(err))
	}

	op := doc.Node(rpcMsg.Operation)
	result, rerr := s.dispatch(ctx, sessionID, doc, rpcMsg.Operation)
	if rerr != nil {
		s.loggers.Dlog.Printf("session %s: %s failed: %v", sessionID, op.Name, rerr)
		return s.encodeError(c, rpcMsg.MessageID, rpcMsg.Attrs, toMgmtError(rerr))
	}
	reply := &ncmsg.RPCReply{MessageID: rpcMsg.MessageID, Attrs: rpcMsg.Attrs, Data: result}
	out, err := c.Serialize(reply.Encode(), 0)
	if err != nil {
		return s.encodeError(c, rpcMsg.MessageID, rpcMsg.Attrs, mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error()))
	}
	return out
}

func toMgmtError(err error) *mgmterror.Error {
	if me, ok := err.(*mgmterror.Error); ok {
		return me
	}
	return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
}

func (s *server) encodeError(c codec.Codec, msgID string, attrs []tree.Attr, e *mgmterror.Error) []byte {
	reply := &ncmsg.RPCReply{MessageID: msgID, Attrs: attrs, Errors: []*mgmterror.Error{e}}
	out, err := c.Serialize(reply.Encode(), 0)
	if err != nil {
		return []byte(e.Error())
	}
	return out
}

// dispatch applies a single operation element (get, get-config,
// edit-config, commit, lock, unlock, discard-changes) against the
// datastores, returning the reply payload tree (nil for an <ok/> reply).
func (s *server) dispatch(ctx context.Context, sessionID confd.SessionID, doc *tree.Tree, opID tree.ID) (*tree.Tree, error) {
	op := doc.Node(opID)
	switch op.Name {
	case "get":
		data, _, err := s.store.Get("running", "", nil)
		return data, err

	case "get-config":
		target := targetOf(doc, opID, "running")
		data, _, err := s.store.Get(target, "", nil)
		return data, err

	case "edit-config":
		target := targetOf(doc, opID, "candidate")
		configID := doc.ChildByName(opID, "config", "")
		var configTree *tree.Tree
		if configID != tree.NoNode {
			configTree = subtreeRootedAt(doc, configID)
		}
		req := editengine.Request{Target: target, DefaultOperation: store.OpMerge, Config: configTree}
		if err := editengine.Apply(s.store, req); err != nil {
			return nil, err
		}
		return nil, nil

	case "lock":
		target := targetOf(doc, opID, "candidate")
		return nil, s.store.Lock(target, int32(sessionID))

	case "unlock":
		target := targetOf(doc, opID, "candidate")
		if owner := s.store.IsLocked(target); owner != int32(sessionID) {
			return nil, mgmterror.LockDenied(int(owner))
		}
		s.store.Unlock(target)
		s.paginator.EvictLock(int32(sessionID), target)
		return nil, nil

	case "discard-changes":
		if err := s.store.Copy("running", "candidate"); err != nil {
			return nil, err
		}
		s.store.ModifiedSet("candidate", false)
		return nil, nil

	case "commit":
		running := s.store.CacheGet("running")
		candidate := s.store.CacheGet("candidate")
		txnResult, err := s.engine.Commit(ctx, running, candidate)
		if err != nil {
			return nil, err
		}
		s.loggers.Dlog.Printf("session %s: committed txn %d", sessionID, txnResult.ID)
		if err := s.store.WriteCacheToFile("candidate"); err != nil {
			return nil, err
		}
		if err := s.store.Copy("candidate", "running"); err != nil {
			return nil, err
		}
		s.store.ModifiedSet("candidate", false)
		return nil, nil

	default:
		if handler, ok := s.registry.RPC(op.Namespace, op.Name); ok {
			return handler(ctx, subtreeRootedAt(doc, opID))
		}
		return nil, mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagOperationNotSupported,
			fmt.Sprintf("unknown operation %q", op.Name))
	}
}

func targetOf(doc *tree.Tree, opID tree.ID, def string) string {
	targetContainer := doc.ChildByName(opID, "target", "")
	if targetContainer == tree.NoNode {
		return def
	}
	for _, c := range doc.Children(targetContainer) {
		return doc.Node(c).Name
	}
	return def
}

func subtreeRootedAt(doc *tree.Tree, id tree.ID) *tree.Tree {
	n := doc.Node(id)
	out := tree.New(n.Name, n.Namespace)
	root := out.Node(out.Root())
	root.Body = n.Body
	root.Attrs = append([]tree.Attr(nil), n.Attrs...)
	copyChildren(out, out.Root(), doc, id)
	return out
}

func copyChildren(dst *tree.Tree, parent tree.ID, src *tree.Tree, srcID tree.ID) {
	for _, c := range src.Children(srcID) {
		n := src.Node(c)
		id := dst.AddChild(parent, n.Name, n.Namespace)
		dn := dst.Node(id)
		dn.Body = n.Body
		dn.Attrs = append([]tree.Attr(nil), n.Attrs...)
		copyChildren(dst, id, src, c)
	}
}
