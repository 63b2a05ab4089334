package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis, chan Event) {
	return newTestRedisChannel(t, "")
}

func newTestRedisChannel(t *testing.T, updatesChannel string) (*Redis, *miniredis.Miniredis, chan Event) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	events := make(chan Event, 16)
	r, err := NewRedis(context.Background(), rdb, "gts-test", updatesChannel, func(ev Event) { events <- ev }, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, mr, events
}

func waitEvent(t *testing.T, events chan Event, name string) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", name)
		}
	}
}

func TestRedisHeartbeatTTL(t *testing.T) {
	r, mr, _ := newTestRedis(t)
	ctx := context.Background()

	hb := &HeartbeatSnapshot{Address: "0xai_A", LastUpdateMs: 123}
	if err := r.NodeInfoUpdate(ctx, hb); err != nil {
		t.Fatalf("NodeInfoUpdate: %v", err)
	}
	got, err := r.GetNodeInfo(ctx, "0xai_A")
	if err != nil || got == nil || got.LastUpdateMs != 123 {
		t.Fatalf("GetNodeInfo: got %+v, %v", got, err)
	}

	mr.FastForward(heartbeatTTL + time.Second)

	got, err = r.GetNodeInfo(ctx, "0xai_A")
	if err != nil {
		t.Fatalf("GetNodeInfo after TTL: %v", err)
	}
	if got != nil {
		t.Errorf("heartbeat survived its TTL: %+v", got)
	}
}

func TestRedisUniverse(t *testing.T) {
	r, mr, _ := newTestRedis(t)
	ctx := context.Background()

	if err := r.MarkAsSeen(ctx, "0xai_A", 100); err != nil {
		t.Fatalf("MarkAsSeen: %v", err)
	}
	if err := r.MarkAsSeen(ctx, "0xai_B", 200); err != nil {
		t.Fatalf("MarkAsSeen: %v", err)
	}
	universe, err := r.GetUniverse(ctx)
	if err != nil {
		t.Fatalf("GetUniverse: %v", err)
	}
	if len(universe) != 2 || universe["0xai_B"] != 200 {
		t.Errorf("universe: got %v", universe)
	}

	// The lock must not linger after the writes.
	if mr.Exists(universeKey + ":lock") {
		t.Error("universe lock not released")
	}

	mr.FastForward(universeTTL + time.Second)
	universe, err = r.GetUniverse(ctx)
	if err != nil {
		t.Fatalf("GetUniverse after TTL: %v", err)
	}
	if len(universe) != 0 {
		t.Errorf("universe survived its TTL: %v", universe)
	}
}

func TestRedisSupervisors(t *testing.T) {
	r, _, _ := newTestRedis(t)
	ctx := context.Background()

	snap := &SupervisorSnapshot{Name: "sup-1", Address: "0xai_S", Timestamp: 42,
		Payload: map[string]any{"CURRENT_NETWORK": map[string]any{}}}
	if err := r.UpdateNetworkSnapshot(ctx, "0xai_S", snap); err != nil {
		t.Fatalf("UpdateNetworkSnapshot: %v", err)
	}
	// Same supervisor twice: the list must not grow.
	if err := r.UpdateNetworkSnapshot(ctx, "0xai_S", snap); err != nil {
		t.Fatalf("UpdateNetworkSnapshot: %v", err)
	}

	got, err := r.GetNetworkSnapshot(ctx, "0xai_S")
	if err != nil || got == nil || got.Name != "sup-1" {
		t.Fatalf("GetNetworkSnapshot: got %+v, %v", got, err)
	}
	sups, err := r.GetNetworkSupervisors(ctx)
	if err != nil {
		t.Fatalf("GetNetworkSupervisors: %v", err)
	}
	if len(sups) != 1 || sups[0] != "0xai_S" {
		t.Errorf("supervisors: got %v", sups)
	}
}

func TestRedisMissingReads(t *testing.T) {
	r, _, _ := newTestRedis(t)
	ctx := context.Background()

	if hb, err := r.GetNodeInfo(ctx, "0xai_missing"); err != nil || hb != nil {
		t.Errorf("GetNodeInfo(missing): got %+v, %v", hb, err)
	}
	if snap, err := r.GetNetworkSnapshot(ctx, "0xai_missing"); err != nil || snap != nil {
		t.Errorf("GetNetworkSnapshot(missing): got %+v, %v", snap, err)
	}
	if universe, err := r.GetUniverse(ctx); err != nil || len(universe) != 0 {
		t.Errorf("GetUniverse(empty): got %v, %v", universe, err)
	}
}

func TestRedisLockContention(t *testing.T) {
	r, mr, _ := newTestRedis(t)
	ctx := context.Background()

	// Hold the lock externally; miniredis only expires keys on
	// FastForward, so every retry finds it taken.
	mr.Set(universeKey+":lock", "1")

	err := r.MarkAsSeen(ctx, "0xai_A", 100)
	if err != ErrLockNotAcquired {
		t.Errorf("MarkAsSeen under contention: got %v want %v", err, ErrLockNotAcquired)
	}
}

func TestRedisFleetBroadcast(t *testing.T) {
	r, _, events := newTestRedis(t)

	if err := r.BroadcastUpdateFleet(context.Background(), FleetUpdate{Address: "0xai_A", Action: -1}); err != nil {
		t.Fatalf("BroadcastUpdateFleet: %v", err)
	}
	ev := waitEvent(t, events, EventFleetUpdate)
	if ev.Data["address"] != "0xai_A" || ev.Data["action"] != -1 {
		t.Errorf("event data: got %v", ev.Data)
	}
}

func TestRedisRequestBroadcast(t *testing.T) {
	r, _, events := newTestRedis(t)

	watches := []Watch{{"node-1", "pipeline-1", "PLUGIN", "instance-1"}}
	if err := r.BroadcastRequestID(context.Background(), "req-1", watches, r.InboxID()); err != nil {
		t.Fatalf("BroadcastRequestID: %v", err)
	}
	ev := waitEvent(t, events, OpWatchSession)
	if ev.Data["request_id"] != "req-1" || ev.Data["inbox_id"] != r.InboxID() {
		t.Errorf("event data: got %v", ev.Data)
	}
}

func TestRedisCustomUpdatesChannel(t *testing.T) {
	r, _, events := newTestRedisChannel(t, "custom-updates")

	if r.updates != "custom-updates" {
		t.Fatalf("updates channel: got %q", r.updates)
	}
	if err := r.BroadcastPayloadStickySession(context.Background(), "cmd-1", r.InboxID()); err != nil {
		t.Fatalf("BroadcastPayloadStickySession: %v", err)
	}
	ev := waitEvent(t, events, OpWatchSticky)
	if ev.Data["sticky_id"] != "cmd-1" {
		t.Errorf("event data: got %v", ev.Data)
	}
}

func TestRedisInboxDelivery(t *testing.T) {
	r, _, events := newTestRedis(t)
	ctx := context.Background()

	if err := r.DeliverToInbox(ctx, r.InboxID(), map[string]any{"SESSION_ID": "s-1"}); err != nil {
		t.Fatalf("DeliverToInbox: %v", err)
	}
	ev := waitEvent(t, events, EventRequestResponse)
	if ev.Data["SESSION_ID"] != "s-1" {
		t.Errorf("record: got %v", ev.Data)
	}

	if err := r.DeliverStickyPayload(ctx, r.InboxID(), map[string]any{"__COMMAND_ID": "c-1"}); err != nil {
		t.Fatalf("DeliverStickyPayload: %v", err)
	}
	ev = waitEvent(t, events, EventStickyPayload)
	if ev.Data["__COMMAND_ID"] != "c-1" {
		t.Errorf("payload: got %v", ev.Data)
	}
}
