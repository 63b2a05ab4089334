package directory

import (
	"testing"

	"github.com/NaeuralEdgeProtocol/go-client/bc"
)

func TestResolveByName(t *testing.T) {
	d := New()
	d.Refresh([]string{"gts-node-1", "gts-node-2"}, []string{"0xai_AAA", "0xai_BBB"})

	if got := d.Address("gts-node-1"); got != "0xai_AAA" {
		t.Errorf("Address(gts-node-1): got %q", got)
	}
	if got := d.NodeName("0xai_BBB"); got != "gts-node-2" {
		t.Errorf("NodeName(0xai_BBB): got %q", got)
	}
}

func TestAddressPassThrough(t *testing.T) {
	d := New()
	addr := bc.AddressPrefix + "SomeKey"
	if got := d.Address(addr); got != addr {
		t.Errorf("Address(%q): got %q, want pass-through", addr, got)
	}
}

func TestUnknownName(t *testing.T) {
	d := New()
	if got := d.Address("ghost-node"); got != "" {
		t.Errorf("Address(ghost-node): got %q, want empty", got)
	}
	if got := d.NodeName("0xai_ghost"); got != "" {
		t.Errorf("NodeName(0xai_ghost): got %q, want empty", got)
	}
}

func TestRefreshReplaces(t *testing.T) {
	d := New()
	d.Refresh([]string{"old-node"}, []string{"0xai_OLD"})
	d.Refresh([]string{"new-node"}, []string{"0xai_NEW"})

	if got := d.Address("old-node"); got != "" {
		t.Errorf("old mapping survived Refresh: %q", got)
	}
	if got := d.Address("new-node"); got != "0xai_NEW" {
		t.Errorf("Address(new-node): got %q", got)
	}
}

func TestUpdateMerges(t *testing.T) {
	d := New()
	d.Refresh([]string{"node-a"}, []string{"0xai_A"})
	d.Update(map[string]string{"node-b": "0xai_B"})

	if d.Address("node-a") != "0xai_A" || d.Address("node-b") != "0xai_B" {
		t.Error("Update dropped or missed entries")
	}

	nodes, addresses := d.Snapshot()
	if len(nodes) != 2 || len(addresses) != 2 {
		t.Errorf("Snapshot: got %v / %v", nodes, addresses)
	}
}

func TestRefreshUnevenSlices(t *testing.T) {
	d := New()
	d.Refresh([]string{"a", "b", "c"}, []string{"0xai_A"})
	if d.Address("a") != "0xai_A" {
		t.Error("paired entry missing")
	}
	if d.Address("b") != "" {
		t.Error("unpaired entry mapped")
	}
}
