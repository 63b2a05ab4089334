package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key layout and TTLs of the external backend.
const (
	heartbeatKeyFmt = "state:%s:heartbeat"
	universeKey     = "known:universe"
	supervisorsKey  = "network:supervisors"
	snapshotKeyFmt  = "network:snapshot:%s"

	heartbeatTTL  = 180 * time.Second
	universeTTL   = 3600 * time.Second
	supervisorTTL = 7 * 24 * time.Hour
)

// Well-known pub/sub channels observed by every peer process, plus the
// client-scoped one for thread-command fan-out.
const (
	channelFleet      = "fleet-updates"
	channelAddresses  = "address-updates"
	channelUpdatesFmt = "updates-%s"
)

// inboxMessage frames deliveries on a per-process inbox channel.
type inboxMessage struct {
	Kind   string         `json:"kind"`
	Record map[string]any `json:"record"`
}

const (
	inboxKindRequestResponse = "request_response"
	inboxKindStickyPayload   = "sticky_payload"
)

// Redis is the multi-process backend: snapshots live in a shared cache
// with TTLs and broadcasts travel over pub/sub so peer processes of the
// same initiator stay in sync.
type Redis struct {
	rdb     *redis.Client
	sink    Sink
	inboxID string
	updates string
	log     *zap.Logger

	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedis connects the backend to an existing Redis client and starts
// the subscriber loop. updatesChannel overrides the client-scoped
// broadcast channel; empty selects the initiator-derived default.
func NewRedis(ctx context.Context, rdb *redis.Client, initiator, updatesChannel string, sink Sink, log *zap.Logger) (*Redis, error) {
	if updatesChannel == "" {
		updatesChannel = fmt.Sprintf(channelUpdatesFmt, initiator)
	}
	r := &Redis{
		rdb:     rdb,
		sink:    sink,
		inboxID: newInboxID(),
		updates: updatesChannel,
		log:     log,
		done:    make(chan struct{}),
	}
	r.pubsub = rdb.Subscribe(ctx,
		channelFleet,
		channelAddresses,
		r.updates,
		r.inboxID,
	)
	// Force the subscription onto the wire before anyone publishes.
	if _, err := r.pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe state channels: %w", err)
	}
	go r.receiveLoop()
	return r, nil
}

func (r *Redis) receiveLoop() {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		switch msg.Channel {
		case channelFleet:
			var upd FleetUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				r.log.Warn("bad fleet update", zap.Error(err))
				continue
			}
			r.emit(Event{Name: EventFleetUpdate, Data: map[string]any{
				"address": upd.Address,
				"action":  upd.Action,
			}})
		case channelAddresses:
			var upd AddressesUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				r.log.Warn("bad address update", zap.Error(err))
				continue
			}
			r.emit(Event{Name: EventAddressUpdate, Data: map[string]any{
				"nodes":     upd.Nodes,
				"addresses": upd.Addresses,
			}})
		case r.updates:
			var cmd Command
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				r.log.Warn("bad broadcast command", zap.Error(err))
				continue
			}
			r.emit(commandEvent(cmd))
		case r.inboxID:
			var im inboxMessage
			if err := json.Unmarshal([]byte(msg.Payload), &im); err != nil {
				r.log.Warn("bad inbox message", zap.Error(err))
				continue
			}
			switch im.Kind {
			case inboxKindRequestResponse:
				r.emit(Event{Name: EventRequestResponse, Data: im.Record})
			case inboxKindStickyPayload:
				r.emit(Event{Name: EventStickyPayload, Data: im.Record})
			}
		}
	}
}

// ── Heartbeats / universe ────────────────────────────────────────────────────

func (r *Redis) NodeInfoUpdate(ctx context.Context, hb *HeartbeatSnapshot) error {
	raw, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	key := fmt.Sprintf(heartbeatKeyFmt, hb.Address)
	return r.rdb.Set(ctx, key, raw, heartbeatTTL).Err()
}

func (r *Redis) GetNodeInfo(ctx context.Context, address string) (*HeartbeatSnapshot, error) {
	raw, err := r.rdb.Get(ctx, fmt.Sprintf(heartbeatKeyFmt, address)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var hb HeartbeatSnapshot
	if err := json.Unmarshal([]byte(raw), &hb); err != nil {
		return nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}
	return &hb, nil
}

func (r *Redis) GetUniverse(ctx context.Context) (map[string]int64, error) {
	raw, err := r.rdb.Get(ctx, universeKey).Result()
	if err == redis.Nil {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, err
	}
	universe := make(map[string]int64)
	if err := json.Unmarshal([]byte(raw), &universe); err != nil {
		return nil, fmt.Errorf("unmarshal universe: %w", err)
	}
	return universe, nil
}

// MarkAsSeen is a read-modify-write on the shared universe blob, so it
// runs under the cross-process lock. A lock timeout makes the write a
// logged no-op; the next heartbeat refreshes the entry anyway.
func (r *Redis) MarkAsSeen(ctx context.Context, address string, tsMs int64) error {
	err := withLock(ctx, r.rdb, universeKey, func() error {
		universe, err := r.GetUniverse(ctx)
		if err != nil {
			return err
		}
		universe[address] = tsMs
		raw, err := json.Marshal(universe)
		if err != nil {
			return err
		}
		return r.rdb.Set(ctx, universeKey, raw, universeTTL).Err()
	})
	if err != nil {
		r.log.Error("mark as seen", zap.String("address", address), zap.Error(err))
	}
	return err
}

// ── Supervisors ──────────────────────────────────────────────────────────────

func (r *Redis) UpdateNetworkSnapshot(ctx context.Context, supervisor string, snap *SupervisorSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := fmt.Sprintf(snapshotKeyFmt, supervisor)
	if err := withLock(ctx, r.rdb, key, func() error {
		return r.rdb.Set(ctx, key, raw, supervisorTTL).Err()
	}); err != nil {
		r.log.Error("update network snapshot", zap.String("supervisor", supervisor), zap.Error(err))
		return err
	}
	return r.addSupervisor(ctx, supervisor)
}

func (r *Redis) addSupervisor(ctx context.Context, supervisor string) error {
	err := withLock(ctx, r.rdb, supervisorsKey, func() error {
		list, err := r.GetNetworkSupervisors(ctx)
		if err != nil {
			return err
		}
		for _, s := range list {
			if s == supervisor {
				return nil
			}
		}
		list = append(list, supervisor)
		raw, err := json.Marshal(list)
		if err != nil {
			return err
		}
		return r.rdb.Set(ctx, supervisorsKey, raw, supervisorTTL).Err()
	})
	if err != nil {
		r.log.Error("add supervisor", zap.String("supervisor", supervisor), zap.Error(err))
	}
	return err
}

func (r *Redis) GetNetworkSnapshot(ctx context.Context, supervisor string) (*SupervisorSnapshot, error) {
	raw, err := r.rdb.Get(ctx, fmt.Sprintf(snapshotKeyFmt, supervisor)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap SupervisorSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (r *Redis) GetNetworkSupervisors(ctx context.Context) ([]string, error) {
	raw, err := r.rdb.Get(ctx, supervisorsKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("unmarshal supervisors: %w", err)
	}
	return list, nil
}

// ── Broadcasts ───────────────────────────────────────────────────────────────

func (r *Redis) BroadcastUpdateFleet(ctx context.Context, upd FleetUpdate) error {
	return r.publishJSON(ctx, channelFleet, upd)
}

func (r *Redis) BroadcastUpdateAddresses(ctx context.Context, upd AddressesUpdate) error {
	return r.publishJSON(ctx, channelAddresses, upd)
}

func (r *Redis) BroadcastRequestID(ctx context.Context, requestID string, watches []Watch, inboxID string) error {
	return r.publishJSON(ctx, r.updates,
		Command{Op: OpWatchSession, RequestID: requestID, Watches: watches, InboxID: inboxID})
}

func (r *Redis) BroadcastIgnoreRequestID(ctx context.Context, requestID string, watches []Watch, inboxID string) error {
	return r.publishJSON(ctx, r.updates,
		Command{Op: OpIgnoreSession, RequestID: requestID, Watches: watches, InboxID: inboxID})
}

func (r *Redis) BroadcastPayloadStickySession(ctx context.Context, stickyID, inboxID string) error {
	return r.publishJSON(ctx, r.updates,
		Command{Op: OpWatchSticky, StickyID: stickyID, InboxID: inboxID})
}

func (r *Redis) DeliverToInbox(ctx context.Context, inboxID string, record map[string]any) error {
	return r.publishJSON(ctx, inboxID, inboxMessage{Kind: inboxKindRequestResponse, Record: record})
}

func (r *Redis) DeliverStickyPayload(ctx context.Context, inboxID string, payload map[string]any) error {
	return r.publishJSON(ctx, inboxID, inboxMessage{Kind: inboxKindStickyPayload, Record: payload})
}

func (r *Redis) publishJSON(ctx context.Context, channel string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	return r.rdb.Publish(ctx, channel, raw).Err()
}

func (r *Redis) InboxID() string { return r.inboxID }

func (r *Redis) Close() error {
	err := r.pubsub.Close()
	<-r.done
	return err
}

func (r *Redis) emit(ev Event) {
	if r.sink != nil {
		r.sink(ev)
	}
}
