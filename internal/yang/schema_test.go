// SPDX-License-Identifier: LGPL-2.1-only

package yang

import (
	"testing"

	"github.com/clicon-go/confd/internal/tree"
	"github.com/clicon-go/confd/rpc"
)

func testSchema() *StaticSchema {
	return NewStaticSchema(NodeDef{
		Name: "config", Kind: rpc.CONTAINER,
		Children: []NodeDef{
			{
				Name: "mtu", Namespace: "x:1", Kind: rpc.LEAF,
				Default: "1500", HasDefault: true,
			},
			{
				Name: "interface", Namespace: "x:1", Kind: rpc.LIST, Keys: []string{"name"},
				Children: []NodeDef{
					{Name: "name", Namespace: "x:1", Kind: rpc.LEAF},
				},
			},
		},
	})
}

func TestInsertDefaults(t *testing.T) {
	s := testSchema()
	tr := tree.New("config", "")
	s.InsertDefaults(tr, tr.Root(), s.Root())

	mtu := tr.ChildByName(tr.Root(), "mtu", "x:1")
	if mtu == tree.NoNode {
		t.Fatal("default leaf mtu was not inserted")
	}
	if got := tr.Node(mtu).Body; got != "1500" {
		t.Fatalf("mtu body = %q, want 1500", got)
	}
	if !tr.Node(mtu).Default {
		t.Fatal("inserted default leaf not marked Default")
	}
}

func TestValidateTypeMissingKey(t *testing.T) {
	s := testSchema()
	tr := tree.New("config", "")
	tr.AddChild(tr.Root(), "interface", "x:1")

	ifaceSchema, _ := s.Root().Child("interface")
	iface := tr.ChildByName(tr.Root(), "interface", "x:1")
	if err := s.ValidateType(tr, iface, ifaceSchema); err == nil {
		t.Fatal("expected error for missing key leaf")
	}
}

func TestValidateTypeWithKey(t *testing.T) {
	s := testSchema()
	tr := tree.New("config", "")
	iface := tr.AddChild(tr.Root(), "interface", "x:1")
	name := tr.AddChild(iface, "name", "x:1")
	tr.Node(name).Body = "eth0"

	ifaceSchema, _ := s.Root().Child("interface")
	if err := s.ValidateType(tr, iface, ifaceSchema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
