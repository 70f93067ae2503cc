// SPDX-License-Identifier: LGPL-2.1-only

package txn

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clicon-go/confd/common"
	"github.com/clicon-go/confd/internal/logging"
	"github.com/clicon-go/confd/internal/plugin"
	"github.com/clicon-go/confd/internal/tree"
	"github.com/clicon-go/confd/internal/yang"
	"github.com/clicon-go/confd/rpc"
)

func interfaceSchema() yang.Node {
	s := yang.NewStaticSchema(yang.NodeDef{
		Name: "config", Kind: rpc.CONTAINER,
		Children: []yang.NodeDef{
			{
				Name: "interfaces", Kind: rpc.CONTAINER,
				Children: []yang.NodeDef{
					{
						Name: "interface", Kind: rpc.LIST, Keys: []string{"name"},
						Children: []yang.NodeDef{
							{Name: "name", Kind: rpc.LEAF},
							{Name: "mtu", Kind: rpc.LEAF},
						},
					},
				},
			},
		},
	})
	n, _ := s.Lookup([]string{"interfaces", "interface"})
	return n
}

func buildInterfaces(names ...string) *tree.Tree {
	schema := interfaceSchema()
	t := tree.New("config", "")
	ifaces := t.AddChild(t.Root(), "interfaces", "")
	for _, name := range names {
		iface := t.AddChild(ifaces, "interface", "")
		t.Node(iface).Schema = schema
		n := t.AddChild(iface, "name", "")
		t.Node(n).Body = name
		mtu := t.AddChild(iface, "mtu", "")
		t.Node(mtu).Body = "1500"
	}
	return t
}

func TestComputeDeltaChange(t *testing.T) {
	src := buildInterfaces("eth0")
	tgt := buildInterfaces("eth0")

	// bump eth0's mtu in tgt
	ifaces := tgt.ChildByName(tgt.Root(), "interfaces", "")
	iface := tgt.ChildByName(ifaces, "interface", "")
	mtu := tgt.ChildByName(iface, "mtu", "")
	tgt.Node(mtu).Body = "9000"

	d := ComputeDelta(src, tgt)
	if len(d.Change) != 1 {
		t.Fatalf("len(Change) = %d, want 1", len(d.Change))
	}
	if len(d.Delete) != 0 || len(d.Add) != 0 {
		t.Fatalf("expected no add/delete, got delete=%d add=%d", len(d.Delete), len(d.Add))
	}
}

func TestComputeDeltaAddAndDelete(t *testing.T) {
	src := buildInterfaces("eth0")
	tgt := buildInterfaces("eth1")

	d := ComputeDelta(src, tgt)
	if len(d.Delete) != 1 {
		t.Fatalf("len(Delete) = %d, want 1 (the removed eth0 container)", len(d.Delete))
	}
	if len(d.Add) != 1 {
		t.Fatalf("len(Add) = %d, want 1 (the added eth1 container)", len(d.Add))
	}
}

func TestComputeDeltaMultipleListEntries(t *testing.T) {
	src := buildInterfaces("eth0", "eth1")
	tgt := buildInterfaces("eth0", "eth1")

	ifaces := tgt.ChildByName(tgt.Root(), "interfaces", "")
	var eth1 tree.ID
	for _, c := range tgt.Children(ifaces) {
		name := tgt.ChildByName(c, "name", "")
		if tgt.Node(name).Body == "eth1" {
			eth1 = c
		}
	}
	mtu := tgt.ChildByName(eth1, "mtu", "")
	tgt.Node(mtu).Body = "9000"

	d := ComputeDelta(src, tgt)
	if len(d.Change) != 1 {
		t.Fatalf("len(Change) = %d, want exactly the eth1 mtu change", len(d.Change))
	}
	name := src.ChildByName(src.Parent(d.Change[0].Src), "name", "")
	if src.Node(name).Body != "eth1" {
		t.Fatalf("changed entry resolved to %q, want eth1", src.Node(name).Body)
	}
}

func TestCommitSuccessRunsAllPhases(t *testing.T) {
	reg := plugin.NewRegistry()
	var ran []string
	reg.Register(&plugin.Plugin{
		Name: "p1",
		Callbacks: map[plugin.Phase]plugin.Callback{
			plugin.PhaseBegin: func(ctx context.Context, arg interface{}) error {
				ran = append(ran, "begin")
				return nil
			},
			plugin.PhaseCommit: func(ctx context.Context, arg interface{}) error {
				ran = append(ran, "commit")
				return nil
			},
		},
	})
	e := NewEngine(reg)
	txn, err := e.Commit(context.Background(), buildInterfaces("eth0"), buildInterfaces("eth0"))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if txn.ID != 1 {
		t.Fatalf("txn.ID = %d, want 1", txn.ID)
	}
	wantOrder := []string{"begin", "commit"}
	if len(ran) != len(wantOrder) {
		t.Fatalf("ran = %v, want %v", ran, wantOrder)
	}
	for i := range wantOrder {
		if ran[i] != wantOrder[i] {
			t.Fatalf("ran = %v, want %v", ran, wantOrder)
		}
	}
}

func TestCommitMidFailureTriggersRevertAndAlarm(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Register(&plugin.Plugin{
		Name: "good",
		Callbacks: map[plugin.Phase]plugin.Callback{
			plugin.PhaseCommit: func(ctx context.Context, arg interface{}) error { return nil },
			plugin.PhaseRevert: func(ctx context.Context, arg interface{}) error {
				return errors.New("revert also failed")
			},
		},
	})
	reg.Register(&plugin.Plugin{
		Name: "bad",
		Callbacks: map[plugin.Phase]plugin.Callback{
			plugin.PhaseCommit: func(ctx context.Context, arg interface{}) error {
				return errors.New("commit failed")
			},
		},
	})

	e := NewEngine(reg)
	_, err := e.Commit(context.Background(), buildInterfaces("eth0"), buildInterfaces("eth0"))
	if err == nil {
		t.Fatal("expected commit error")
	}
	alarms := e.Alarms()
	if len(alarms) != 1 {
		t.Fatalf("len(Alarms()) = %d, want 1", len(alarms))
	}
	if alarms[0].Plugin != "good" {
		t.Fatalf("alarm plugin = %q, want good", alarms[0].Plugin)
	}
}

func TestCommitPreFailureTriggersAbort(t *testing.T) {
	reg := plugin.NewRegistry()
	var aborted bool
	reg.Register(&plugin.Plugin{
		Name: "p1",
		Callbacks: map[plugin.Phase]plugin.Callback{
			plugin.PhaseValidate: func(ctx context.Context, arg interface{}) error {
				return errors.New("validation failed")
			},
			plugin.PhaseAbort: func(ctx context.Context, arg interface{}) error {
				aborted = true
				return nil
			},
		},
	})
	e := NewEngine(reg)
	_, err := e.Commit(context.Background(), buildInterfaces(), buildInterfaces("eth0"))
	if err == nil {
		t.Fatal("expected validate failure to propagate")
	}
	if !aborted {
		t.Fatal("expected abort callback to run")
	}
}

func TestCommitConfirmedRollsBackOnTimeout(t *testing.T) {
	reg := plugin.NewRegistry()
	e := NewEngine(reg)
	rolledBack := make(chan struct{}, 1)
	_, handle, err := e.CommitConfirmed(context.Background(), buildInterfaces(), buildInterfaces("eth0"), 10*time.Millisecond, func() {
		rolledBack <- struct{}{}
	})
	if err != nil {
		t.Fatalf("CommitConfirmed: %v", err)
	}
	select {
	case <-rolledBack:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rollback callback")
	}
	handle.Confirm() // must not panic if called after the timer already fired
}

func TestTracefIsSilentWithoutLoggers(t *testing.T) {
	e := NewEngine(plugin.NewRegistry())
	// tracef must not panic when no loggers have been attached; this is
	// the default state for an Engine built without SetLoggers.
	e.tracef(common.TypeCommit, "txn %d: phase %s", 1, plugin.PhaseBegin)
}

func TestSetLoggersAttachesWithoutPanic(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(plugin.NewRegistry())
	e.SetLoggers(logging.New(&buf, "txn"))
	e.tracef(common.TypeCommit, "txn %d: phase %s", 1, plugin.PhaseBegin)
	// TypeCommit defaults to LevelError, so a debug-level trace stays
	// silent until common.SetConfigDebug("commit", "debug") raises it; this only checks
	// that attaching loggers and calling tracef never panics.
}

func TestLogTypeForPhaseRoutesValidateSeparately(t *testing.T) {
	if logTypeForPhase(plugin.PhaseValidate) != common.TypeValidate {
		t.Fatal("validate phase must trace under TypeValidate")
	}
	if logTypeForPhase(plugin.PhaseCommit) != common.TypeCommit {
		t.Fatal("commit phase must trace under TypeCommit")
	}
}
