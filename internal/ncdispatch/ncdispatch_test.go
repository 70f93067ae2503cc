// SPDX-License-Identifier: LGPL-2.1-only

package ncdispatch

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/clicon-go/confd/internal/codec"
	"github.com/clicon-go/confd/internal/mgmterror"
	"github.com/clicon-go/confd/internal/ncframe"
	"github.com/clicon-go/confd/internal/ncmsg"
	"github.com/clicon-go/confd/internal/plugin"
	"github.com/clicon-go/confd/internal/tree"
)

type fakeBackend struct {
	data *tree.Tree
	errs []*mgmterror.Error
}

func (b *fakeBackend) Call(ctx context.Context, sessionID uint64, rpc *ncmsg.RPC) (*tree.Tree, []*mgmterror.Error) {
	return b.data, b.errs
}

func newTestSession(in string) (*Session, *bytes.Buffer) {
	var out bytes.Buffer
	f := ncframe.New(bytes.NewBufferString(in), &out)
	return &Session{Framer: f, Codec: codec.XML{}}, &out
}

func TestServeHelloNegotiatesBase11AndUpgradesFramer(t *testing.T) {
	clientHello := "<hello xmlns=\"urn:ietf:params:xml:ns:netconf:base:1.0\">" +
		"<capabilities><capability>urn:ietf:params:netconf:base:1.1</capability></capabilities>" +
		"</hello>]]>]]>"
	sess, out := newTestSession(clientHello)
	d := NewDispatcher(plugin.NewRegistry(), &fakeBackend{})

	if err := d.ServeHello(context.Background(), sess, []string{ncmsg.CapBase11}); err != nil {
		t.Fatalf("ServeHello: %v", err)
	}
	if sess.State != StateNegotiated {
		t.Fatalf("state = %v, want StateNegotiated", sess.State)
	}
	if sess.Framer.Mode() != ncframe.ModeChunked {
		t.Fatal("expected framer to be upgraded to chunked mode")
	}
	if sess.ID == 0 {
		t.Fatal("expected a non-zero assigned session id")
	}
	if out.Len() == 0 {
		t.Fatal("expected server hello to be written")
	}
}

func TestServeHelloRejectsClientSuppliedSessionID(t *testing.T) {
	clientHello := "<hello xmlns=\"urn:ietf:params:xml:ns:netconf:base:1.0\">" +
		"<session-id>99</session-id>" +
		"<capabilities><capability>urn:ietf:params:netconf:base:1.0</capability></capabilities>" +
		"</hello>]]>]]>"
	sess, _ := newTestSession(clientHello)
	d := NewDispatcher(plugin.NewRegistry(), &fakeBackend{})
	if err := d.ServeHello(context.Background(), sess, []string{ncmsg.CapBase10}); err == nil {
		t.Fatal("expected error for client-supplied session-id")
	}
	if sess.State != StateClosed {
		t.Fatal("expected session to be closed after protocol violation")
	}
}

func TestServeRPCTunnelsToBackendWhenNoLocalHandler(t *testing.T) {
	req := "<rpc xmlns=\"urn:ietf:params:xml:ns:netconf:base:1.0\" message-id=\"7\"><get/></rpc>]]>]]>"
	sess, out := newTestSession(req)
	sess.State = StateNegotiated

	reply := tree.New("data", "")
	reply.AddChild(reply.Root(), "interfaces", "urn:x")
	d := NewDispatcher(plugin.NewRegistry(), &fakeBackend{data: reply})

	if err := d.ServeRPC(context.Background(), sess); err != nil {
		t.Fatalf("ServeRPC: %v", err)
	}
	written := out.String()
	if !bytes.Contains(out.Bytes(), []byte("message-id=\"7\"")) {
		t.Fatalf("expected echoed message-id in reply, got %q", written)
	}
	if !bytes.Contains(out.Bytes(), []byte("<data>")) {
		t.Fatalf("expected <data> wrapper in reply, got %q", written)
	}
}

func TestServeRPCFallsThroughToBackendWithEmptyRegistry(t *testing.T) {
	req := "<rpc xmlns=\"urn:ietf:params:xml:ns:netconf:base:1.0\" message-id=\"1\"><get/></rpc>]]>]]>"
	sess, out := newTestSession(req)
	sess.State = StateNegotiated

	registry := plugin.NewRegistry()
	d := NewDispatcher(registry, &fakeBackend{data: tree.New("data-root", "urn:x")})
	if err := d.ServeRPC(context.Background(), sess); err != nil {
		t.Fatalf("ServeRPC: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected a reply to be written")
	}
	_ = io.Discard
}

func TestServeRPCBeforeHelloIsRejected(t *testing.T) {
	req := "<rpc xmlns=\"urn:ietf:params:xml:ns:netconf:base:1.0\" message-id=\"1\"><get/></rpc>]]>]]>"
	sess, out := newTestSession(req)
	d := NewDispatcher(plugin.NewRegistry(), &fakeBackend{})

	if err := d.ServeRPC(context.Background(), sess); err == nil {
		t.Fatal("expected error for rpc before hello negotiation")
	}
	if !bytes.Contains(out.Bytes(), []byte(string(mgmterror.TagOperationFailed))) {
		t.Fatalf("expected hello-before-rpc error in reply, got %q", out.String())
	}
}

func TestServeRPCBackendErrorsBecomeRPCErrors(t *testing.T) {
	req := "<rpc xmlns=\"urn:ietf:params:xml:ns:netconf:base:1.0\" message-id=\"1\"><get/></rpc>]]>]]>"
	sess, out := newTestSession(req)
	sess.State = StateNegotiated

	d := NewDispatcher(plugin.NewRegistry(), &fakeBackend{errs: []*mgmterror.Error{mgmterror.LockDenied(3)}})
	if err := d.ServeRPC(context.Background(), sess); err != nil {
		t.Fatalf("ServeRPC: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte(string(mgmterror.TagLockDenied))) {
		t.Fatalf("expected lock-denied rpc-error in reply, got %q", out.String())
	}
}
