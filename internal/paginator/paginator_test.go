// SPDX-License-Identifier: LGPL-2.1-only

package paginator

import (
	"testing"

	"github.com/clicon-go/confd/internal/tree"
)

func buildList(names ...string) *tree.Tree {
	t := tree.New("interfaces", "urn:x")
	for _, n := range names {
		id := t.AddChild(t.Root(), "interface", "urn:x")
		t.Node(id).Body = n
	}
	return t
}

func names(out *tree.Tree) []string {
	var ns []string
	for _, c := range out.Children(out.Root()) {
		ns = append(ns, out.Node(c).Body)
	}
	return ns
}

func TestWindowSlicesOffsetLimit(t *testing.T) {
	full := buildList("a", "b", "c", "d")
	p := New()
	out := p.Window(1, "running", false, full, 1, 2)
	got := names(out)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("got = %v, want [b c]", got)
	}
}

func TestWindowPastEndIsEmpty(t *testing.T) {
	full := buildList("a", "b")
	p := New()
	out := p.Window(1, "running", false, full, 5, 10)
	if len(names(out)) != 0 {
		t.Fatalf("expected empty window past end, got %v", names(out))
	}
}

func TestLockedSnapshotIsStableAcrossMutation(t *testing.T) {
	full := buildList("a", "b", "c")
	p := New()

	first := p.Window(1, "candidate", true, full, 0, 10)
	if len(names(first)) != 3 {
		t.Fatalf("expected 3 elements pinned, got %v", names(first))
	}

	mutated := buildList("a", "b", "c", "d", "e")
	second := p.Window(1, "candidate", true, mutated, 0, 10)
	if len(names(second)) != 3 {
		t.Fatalf("expected locked session to still see the pinned 3-element snapshot, got %v", names(second))
	}
}

func TestUnlockedCallsAreStateless(t *testing.T) {
	p := New()
	a := p.Window(2, "candidate", false, buildList("a"), 0, 10)
	b := p.Window(2, "candidate", false, buildList("a", "b"), 0, 10)
	if len(names(a)) != 1 || len(names(b)) != 2 {
		t.Fatal("unlocked calls must reflect the freshly passed tree each time, not a cached one")
	}
}

func TestEvictLockClearsSnapshot(t *testing.T) {
	full := buildList("a", "b")
	p := New()
	p.Window(1, "candidate", true, full, 0, 10)
	p.EvictLock(1, "candidate")

	fresh := buildList("a", "b", "c")
	out := p.Window(1, "candidate", true, fresh, 0, 10)
	if len(names(out)) != 3 {
		t.Fatal("expected eviction to clear the pinned snapshot so the fresh tree is used")
	}
}

func TestEvictSessionClearsAllDatabases(t *testing.T) {
	full := buildList("a")
	p := New()
	p.Window(1, "candidate", true, full, 0, 10)
	p.Window(1, "running", true, full, 0, 10)
	p.EvictSession(1)

	fresh := buildList("a", "b")
	out := p.Window(1, "candidate", true, fresh, 0, 10)
	if len(names(out)) != 2 {
		t.Fatal("expected session eviction to clear every db's pinned snapshot")
	}
}
