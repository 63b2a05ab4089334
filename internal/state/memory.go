package state

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Memory is the single-process backend: everything lives in local maps
// and broadcasts loop straight back into the sink. Fleet updates are
// local only; there are no peer processes to inform.
type Memory struct {
	mu          sync.RWMutex
	heartbeats  map[string]*HeartbeatSnapshot
	universe    map[string]int64
	supervisors map[string]*SupervisorSnapshot

	sink    Sink
	inboxID string
	log     *zap.Logger
}

// NewMemory builds the in-process backend. sink receives loop-back
// broadcasts and inbox deliveries.
func NewMemory(sink Sink, log *zap.Logger) *Memory {
	return &Memory{
		heartbeats:  make(map[string]*HeartbeatSnapshot),
		universe:    make(map[string]int64),
		supervisors: make(map[string]*SupervisorSnapshot),
		sink:        sink,
		inboxID:     newInboxID(),
		log:         log,
	}
}

func (m *Memory) NodeInfoUpdate(_ context.Context, hb *HeartbeatSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[hb.Address] = hb
	return nil
}

func (m *Memory) GetNodeInfo(_ context.Context, address string) (*HeartbeatSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heartbeats[address], nil
}

func (m *Memory) GetUniverse(_ context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.universe))
	for k, v := range m.universe {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) MarkAsSeen(_ context.Context, address string, tsMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.universe[address] = tsMs
	return nil
}

func (m *Memory) UpdateNetworkSnapshot(_ context.Context, supervisor string, snap *SupervisorSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supervisors[supervisor] = snap
	return nil
}

func (m *Memory) GetNetworkSnapshot(_ context.Context, supervisor string) (*SupervisorSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supervisors[supervisor], nil
}

func (m *Memory) GetNetworkSupervisors(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.supervisors))
	for addr := range m.supervisors {
		out = append(out, addr)
	}
	return out, nil
}

func (m *Memory) BroadcastUpdateFleet(_ context.Context, upd FleetUpdate) error {
	m.emit(Event{Name: EventFleetUpdate, Data: map[string]any{
		"address": upd.Address,
		"action":  upd.Action,
	}})
	return nil
}

func (m *Memory) BroadcastUpdateAddresses(_ context.Context, upd AddressesUpdate) error {
	m.emit(Event{Name: EventAddressUpdate, Data: map[string]any{
		"nodes":     upd.Nodes,
		"addresses": upd.Addresses,
	}})
	return nil
}

func (m *Memory) BroadcastRequestID(_ context.Context, requestID string, watches []Watch, inboxID string) error {
	m.emit(commandEvent(Command{Op: OpWatchSession, RequestID: requestID, Watches: watches, InboxID: inboxID}))
	return nil
}

func (m *Memory) BroadcastIgnoreRequestID(_ context.Context, requestID string, watches []Watch, inboxID string) error {
	m.emit(commandEvent(Command{Op: OpIgnoreSession, RequestID: requestID, Watches: watches, InboxID: inboxID}))
	return nil
}

// BroadcastPayloadStickySession loops the sticky registration back so
// the local payload workers pick it up; there are no peers to reach.
func (m *Memory) BroadcastPayloadStickySession(_ context.Context, stickyID, inboxID string) error {
	m.emit(commandEvent(Command{Op: OpWatchSticky, StickyID: stickyID, InboxID: inboxID}))
	return nil
}

func (m *Memory) DeliverToInbox(_ context.Context, inboxID string, record map[string]any) error {
	if inboxID != m.inboxID {
		m.log.Debug("dropping record for foreign inbox", zap.String("inbox", inboxID))
		return nil
	}
	m.emit(Event{Name: EventRequestResponse, Data: record})
	return nil
}

func (m *Memory) DeliverStickyPayload(_ context.Context, inboxID string, payload map[string]any) error {
	if inboxID != m.inboxID {
		return nil
	}
	m.emit(Event{Name: EventStickyPayload, Data: payload})
	return nil
}

func (m *Memory) InboxID() string { return m.inboxID }

func (m *Memory) Close() error { return nil }

func (m *Memory) emit(ev Event) {
	if m.sink != nil {
		m.sink(ev)
	}
}

// commandEvent wraps a broadcast command as a sink event; the event name
// carries the op so the client can forward it to workers unchanged.
func commandEvent(cmd Command) Event {
	return Event{Name: cmd.Op, Data: map[string]any{
		"request_id": cmd.RequestID,
		"sticky_id":  cmd.StickyID,
		"inbox_id":   cmd.InboxID,
		"watches":    cmd.Watches,
	}}
}
