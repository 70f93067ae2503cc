// SPDX-License-Identifier: LGPL-2.1-only

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/clicon-go/confd"
	"github.com/clicon-go/confd/internal/codec"
	"github.com/clicon-go/confd/internal/logging"
	"github.com/clicon-go/confd/internal/paginator"
	"github.com/clicon-go/confd/internal/plugin"
	"github.com/clicon-go/confd/internal/store"
	"github.com/clicon-go/confd/internal/txn"
	"github.com/clicon-go/confd/internal/tree"
	"github.com/clicon-go/confd/internal/yang"
	"github.com/clicon-go/confd/rpc"
)

func testServer(t *testing.T) *server {
	t.Helper()
	dir := t.TempDir()
	schema := yang.NewStaticSchema(yang.NodeDef{Name: "config", Kind: rpc.CONTAINER})
	st, err := store.New(dir, schema, codec.XML{})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	for _, db := range []string{"running", "candidate"} {
		if err := st.Create(db); err != nil {
			t.Fatalf("Create %s: %v", db, err)
		}
		if _, _, err := st.Get(db, "", nil); err != nil {
			t.Fatalf("Get %s (forces an initial cache load): %v", db, err)
		}
	}
	registry := plugin.NewRegistry()
	registry.Freeze()
	var buf bytes.Buffer
	return &server{
		store:     st,
		engine:    txn.NewEngine(registry),
		registry:  registry,
		paginator: paginator.New(),
		cfg:       &confd.Config{XMLDBFormat: "xml"},
		loggers:   logging.New(&buf, "test"),
	}
}

// TestDispatchLocksBySessionIDNotPeerCreds covers the IPC op_id / lock
// identity fix: lock/unlock/lock-denied must key off the caller-supplied
// sessionID (the hello-assigned NETCONF session id carried as op_id), not
// any transport-layer identity such as a peer pid.
func TestDispatchLocksBySessionIDNotPeerCreds(t *testing.T) {
	s := testServer(t)
	ctx := context.Background()
	lockDoc := tree.New("lock", "")

	if _, err := s.dispatch(ctx, confd.SessionID(7), lockDoc, lockDoc.Root()); err != nil {
		t.Fatalf("lock by session 7: %v", err)
	}

	unlockDoc := tree.New("unlock", "")
	if _, err := s.dispatch(ctx, confd.SessionID(9), unlockDoc, unlockDoc.Root()); err == nil {
		t.Fatal("expected lock-denied when unlocking as a different session")
	}
	if _, err := s.dispatch(ctx, confd.SessionID(7), unlockDoc, unlockDoc.Root()); err != nil {
		t.Fatalf("unlock by the owning session: %v", err)
	}
}

// TestCommitResetsModifiedFlag covers the dead-modified-flag fix: a
// successful commit must clear candidate's modified flag.
func TestCommitResetsModifiedFlag(t *testing.T) {
	s := testServer(t)
	edit := tree.New("mtu", "")
	edit.Node(edit.Root()).Body = "9000"
	if err := s.store.Put("candidate", store.OpMerge, "", edit); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.store.ModifiedGet("candidate") {
		t.Fatal("candidate should be modified after Put")
	}

	ctx := context.Background()
	commitDoc := tree.New("commit", "")
	if _, err := s.dispatch(ctx, confd.SessionID(1), commitDoc, commitDoc.Root()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if s.store.ModifiedGet("candidate") {
		t.Fatal("commit must reset candidate's modified flag")
	}
}

// TestDiscardChangesResetsModifiedFlag covers the same fix for
// discard-changes.
func TestDiscardChangesResetsModifiedFlag(t *testing.T) {
	s := testServer(t)
	edit := tree.New("mtu", "")
	edit.Node(edit.Root()).Body = "9000"
	if err := s.store.Put("candidate", store.OpMerge, "", edit); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ctx := context.Background()
	discardDoc := tree.New("discard-changes", "")
	if _, err := s.dispatch(ctx, confd.SessionID(1), discardDoc, discardDoc.Root()); err != nil {
		t.Fatalf("discard-changes: %v", err)
	}
	if s.store.ModifiedGet("candidate") {
		t.Fatal("discard-changes must reset candidate's modified flag")
	}
}
