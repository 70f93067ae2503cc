// SPDX-License-Identifier: LGPL-2.1-only

package xpath

import (
	"testing"

	"github.com/clicon-go/confd/internal/tree"
)

func buildInterfaces() *tree.Tree {
	tr := tree.New("config", "x:1")
	ifaces := tr.AddChild(tr.Root(), "interfaces", "x:1")
	a := tr.AddChild(ifaces, "interface", "x:1")
	an := tr.AddChild(a, "name", "x:1")
	tr.Node(an).Body = "eth0"
	b := tr.AddChild(ifaces, "interface", "x:1")
	bn := tr.AddChild(b, "name", "x:1")
	tr.Node(bn).Body = "eth1"
	return tr
}

func TestEvalChildPath(t *testing.T) {
	tr := buildInterfaces()
	got, err := Eval(tr, tr.Root(), "/interfaces/interface", nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestEvalKeyPredicate(t *testing.T) {
	tr := buildInterfaces()
	got, err := Eval(tr, tr.Root(), "/interfaces/interface[name='eth1']", nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	name := tr.ChildByName(got[0], "name", "x:1")
	if tr.Node(name).Body != "eth1" {
		t.Fatalf("matched wrong interface: %s", tr.Node(name).Body)
	}
}

func TestEvalEmptyExprReturnsRoot(t *testing.T) {
	tr := buildInterfaces()
	got, err := Eval(tr, tr.Root(), "", nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(got) != 1 || got[0] != tr.Root() {
		t.Fatalf("got = %v, want [root]", got)
	}
}

func TestEvalMalformedPredicate(t *testing.T) {
	tr := buildInterfaces()
	if _, err := Eval(tr, tr.Root(), "/interfaces/interface[bogus]", nil); err == nil {
		t.Fatal("expected error for unsupported predicate shape")
	}
}
