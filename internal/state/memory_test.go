package state

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func newMemory(t *testing.T) (*Memory, chan Event) {
	t.Helper()
	events := make(chan Event, 16)
	m := NewMemory(func(ev Event) { events <- ev }, zap.NewNop())
	return m, events
}

func TestMemoryNodeInfo(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()

	hb := &HeartbeatSnapshot{Address: "0xai_A", LastUpdateMs: 123, Data: map[string]any{"CPU": 0.5}}
	if err := m.NodeInfoUpdate(ctx, hb); err != nil {
		t.Fatalf("NodeInfoUpdate: %v", err)
	}
	got, err := m.GetNodeInfo(ctx, "0xai_A")
	if err != nil {
		t.Fatalf("GetNodeInfo: %v", err)
	}
	if got == nil || got.LastUpdateMs != 123 {
		t.Errorf("GetNodeInfo: got %+v", got)
	}
	missing, err := m.GetNodeInfo(ctx, "0xai_B")
	if err != nil || missing != nil {
		t.Errorf("missing node: got %+v, %v", missing, err)
	}
}

func TestMemoryUniverse(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()

	_ = m.MarkAsSeen(ctx, "0xai_A", 100)
	_ = m.MarkAsSeen(ctx, "0xai_B", 200)
	_ = m.MarkAsSeen(ctx, "0xai_A", 300)

	universe, err := m.GetUniverse(ctx)
	if err != nil {
		t.Fatalf("GetUniverse: %v", err)
	}
	if len(universe) != 2 || universe["0xai_A"] != 300 || universe["0xai_B"] != 200 {
		t.Errorf("universe: got %v", universe)
	}
}

func TestMemorySupervisors(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()

	snap := &SupervisorSnapshot{Name: "sup-1", Address: "0xai_S", Timestamp: 42}
	if err := m.UpdateNetworkSnapshot(ctx, "0xai_S", snap); err != nil {
		t.Fatalf("UpdateNetworkSnapshot: %v", err)
	}
	got, err := m.GetNetworkSnapshot(ctx, "0xai_S")
	if err != nil || got == nil || got.Name != "sup-1" {
		t.Errorf("GetNetworkSnapshot: got %+v, %v", got, err)
	}
	sups, err := m.GetNetworkSupervisors(ctx)
	if err != nil || len(sups) != 1 || sups[0] != "0xai_S" {
		t.Errorf("GetNetworkSupervisors: got %v, %v", sups, err)
	}
}

func TestMemoryFleetBroadcastLoopsBack(t *testing.T) {
	m, events := newMemory(t)
	if err := m.BroadcastUpdateFleet(context.Background(), FleetUpdate{Address: "0xai_A", Action: 1}); err != nil {
		t.Fatalf("BroadcastUpdateFleet: %v", err)
	}
	ev := <-events
	if ev.Name != EventFleetUpdate {
		t.Fatalf("event: got %q want %q", ev.Name, EventFleetUpdate)
	}
	if ev.Data["address"] != "0xai_A" || ev.Data["action"] != 1 {
		t.Errorf("event data: got %v", ev.Data)
	}
}

func TestMemoryStickyBroadcastLoopsBack(t *testing.T) {
	m, events := newMemory(t)
	if err := m.BroadcastPayloadStickySession(context.Background(), "cmd-7", m.InboxID()); err != nil {
		t.Fatalf("BroadcastPayloadStickySession: %v", err)
	}
	ev := <-events
	if ev.Name != OpWatchSticky {
		t.Fatalf("event: got %q want %q", ev.Name, OpWatchSticky)
	}
	if ev.Data["sticky_id"] != "cmd-7" {
		t.Errorf("sticky_id: got %v", ev.Data["sticky_id"])
	}
}

func TestMemoryInboxDelivery(t *testing.T) {
	m, events := newMemory(t)
	ctx := context.Background()

	record := map[string]any{"REQUEST_ID": "r-1"}
	if err := m.DeliverToInbox(ctx, m.InboxID(), record); err != nil {
		t.Fatalf("DeliverToInbox: %v", err)
	}
	ev := <-events
	if ev.Name != EventRequestResponse || ev.Data["REQUEST_ID"] != "r-1" {
		t.Errorf("event: got %+v", ev)
	}

	// Foreign inbox: dropped silently.
	if err := m.DeliverToInbox(ctx, "someoneelse123", record); err != nil {
		t.Fatalf("DeliverToInbox(foreign): %v", err)
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected event for foreign inbox: %+v", ev)
	default:
	}
}

func TestInboxIDShape(t *testing.T) {
	m, _ := newMemory(t)
	if len(m.InboxID()) != inboxIDLen {
		t.Errorf("inbox id %q: want length %d", m.InboxID(), inboxIDLen)
	}
	other := NewMemory(nil, zap.NewNop())
	if other.InboxID() == m.InboxID() {
		t.Error("two managers share an inbox id")
	}
}
