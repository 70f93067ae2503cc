// SPDX-License-Identifier: LGPL-2.1-only

package ncmsg

import (
	"testing"
	"time"

	"github.com/clicon-go/confd/internal/mgmterror"
	"github.com/clicon-go/confd/internal/tree"
)

func TestParseHello(t *testing.T) {
	doc := tree.New("hello", NSBase)
	caps := doc.AddChild(doc.Root(), "capabilities", NSBase)
	c1 := doc.AddChild(caps, "capability", NSBase)
	doc.Node(c1).Body = CapBase10
	c2 := doc.AddChild(caps, "capability", NSBase)
	doc.Node(c2).Body = CapBase11 + "?more=params"

	h, err := ParseHello(doc)
	if err != nil {
		t.Fatalf("ParseHello: %v", err)
	}
	if !h.HasCapability(CapBase11) {
		t.Fatal("expected base:1.1 capability to be detected with trailing params")
	}
}

func TestParseHelloMissingCapabilities(t *testing.T) {
	doc := tree.New("hello", NSBase)
	if _, err := ParseHello(doc); err == nil {
		t.Fatal("expected error for hello without capabilities")
	}
}

func TestParseRPCRejectsWrongTopElement(t *testing.T) {
	doc := tree.New("bogus", NSBase)
	if _, err := ParseRPC(doc); err == nil {
		t.Fatal("expected error for non-rpc top element")
	}
}

func TestParseRPCRejectsMultipleChildren(t *testing.T) {
	doc := tree.New("rpc", NSBase)
	doc.AddChild(doc.Root(), "get", NSBase)
	doc.AddChild(doc.Root(), "get-config", NSBase)
	if _, err := ParseRPC(doc); err == nil {
		t.Fatal("expected malformed-message error for multiple operation children")
	}
}

func TestParseRPCExtractsMessageID(t *testing.T) {
	doc := tree.New("rpc", NSBase)
	doc.Node(doc.Root()).SetAttr("message-id", "", "101")
	doc.AddChild(doc.Root(), "get", NSBase)

	rpc, err := ParseRPC(doc)
	if err != nil {
		t.Fatalf("ParseRPC: %v", err)
	}
	if rpc.MessageID != "101" {
		t.Fatalf("MessageID = %q, want 101", rpc.MessageID)
	}
}

func TestRPCReplyEchoesAttributesNotOverwritingOwn(t *testing.T) {
	reply := &RPCReply{
		MessageID: "101",
		Attrs: []tree.Attr{
			{Name: "message-id", Value: "should-not-overwrite"},
			{Name: "xmlns:ex", Value: "urn:example"},
		},
	}
	out := reply.Encode()
	root := out.Node(out.Root())
	if v, _ := root.Attr("message-id"); v != "101" {
		t.Fatalf("message-id = %q, want 101 (must not be overwritten)", v)
	}
	if v, _ := root.Attr("xmlns:ex"); v != "urn:example" {
		t.Fatalf("xmlns:ex = %q, want urn:example", v)
	}
}

func TestRPCReplyEncodesErrors(t *testing.T) {
	reply := &RPCReply{
		MessageID: "1",
		Errors:    []*mgmterror.Error{mgmterror.LockDenied(7)},
	}
	out := reply.Encode()
	errID := out.ChildByName(out.Root(), "rpc-error", NSBase)
	if errID == tree.NoNode {
		t.Fatal("expected an rpc-error child")
	}
	tag := out.ChildByName(errID, "error-tag", NSBase)
	if out.Node(tag).Body != string(mgmterror.TagLockDenied) {
		t.Fatalf("error-tag = %q, want %q", out.Node(tag).Body, mgmterror.TagLockDenied)
	}
}

func TestRPCReplyOkWhenNoDataOrErrors(t *testing.T) {
	reply := &RPCReply{MessageID: "1"}
	out := reply.Encode()
	if out.ChildByName(out.Root(), "ok", NSBase) == tree.NoNode {
		t.Fatal("expected <ok/> for an empty successful reply")
	}
}

func TestNotificationEncode(t *testing.T) {
	body := tree.New("config-changed", "urn:x")
	n := &Notification{EventTime: time.Unix(0, 0), Body: body}
	out := n.Encode()
	if out.Node(out.Root()).Name != "notification" {
		t.Fatalf("root name = %q, want notification", out.Node(out.Root()).Name)
	}
	if out.ChildByName(out.Root(), "eventTime", NSNotification) == tree.NoNode {
		t.Fatal("expected eventTime child")
	}
}
