// Package state implements the shared-state manager: heartbeat
// snapshots, the observed universe, supervisor network views, and the
// cross-process broadcast protocol used for fleet updates and
// request-response inbox routing.
//
// Two backends satisfy the same contract: Memory for a single process
// and Redis for multi-process deployments.
package state

import (
	"context"
	"crypto/rand"
	"math/big"
)

// Events emitted by a Manager toward the client.
const (
	EventStickyPayload     = "NETWORK_STICKY_PAYLOAD_RECEIVED"
	EventRequestResponse   = "NETWORK_REQUEST_RESPONSE_NOTIFICATION"
	EventFleetUpdate       = "FLEET_UPDATE_EVENT"
	EventAddressUpdate     = "ADDRESS_UPDATE_EVENT"
	EventSupervisorPayload = "NETWORK_SUPERVISOR_PAYLOAD"
)

// Ops carried on the client-scoped broadcast channel. They mirror the
// worker command names so the client can forward them verbatim.
const (
	OpWatchSession  = "WATCH_FOR_SESSION_ID"
	OpIgnoreSession = "IGNORE_SESSION_ID"
	OpWatchSticky   = "WATCH_FOR_STICKY_SESSION_ID"
)

// Event is a state-manager notification delivered to the client's sink.
type Event struct {
	Name string
	Data map[string]any
}

// Sink consumes manager events. It must not block.
type Sink func(Event)

// NodeTime is the remote node's clock as reported in its heartbeat.
type NodeTime struct {
	Date string `json:"date"`
	UTC  string `json:"utc"`
}

// HeartbeatSnapshot is the last known heartbeat of one node.
type HeartbeatSnapshot struct {
	Address      string         `json:"address"`
	LastUpdateMs int64          `json:"last_update_ms"`
	NodeTime     NodeTime       `json:"node_time"`
	Data         map[string]any `json:"data"`
}

// SupervisorSnapshot is the network view published by a supervisor node.
type SupervisorSnapshot struct {
	Name      string         `json:"name"`
	Address   string         `json:"address"`
	Status    string         `json:"status"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// FleetUpdate is a fleet membership delta. Action is +1 (add) or -1
// (remove).
type FleetUpdate struct {
	Address string `json:"address"`
	Action  int    `json:"action"`
}

// AddressesUpdate carries a refreshed node-name / address mapping.
type AddressesUpdate struct {
	Nodes     []string `json:"nodes"`
	Addresses []string `json:"addresses"`
}

// Watch is one notification path a pending request listens on:
// [receiver, pipeline, signature, instance], empty strings for nulls.
type Watch []string

// Command travels on the broadcast channels between peer processes of
// the same initiator.
type Command struct {
	Op        string  `json:"op"`
	RequestID string  `json:"request_id,omitempty"`
	StickyID  string  `json:"sticky_id,omitempty"`
	InboxID   string  `json:"inbox_id,omitempty"`
	Watches   []Watch `json:"watches,omitempty"`
}

// Manager is the shared-state contract. Reads never block on locks and
// return zero values on absence.
type Manager interface {
	NodeInfoUpdate(ctx context.Context, hb *HeartbeatSnapshot) error
	GetNodeInfo(ctx context.Context, address string) (*HeartbeatSnapshot, error)
	GetUniverse(ctx context.Context) (map[string]int64, error)
	MarkAsSeen(ctx context.Context, address string, tsMs int64) error

	UpdateNetworkSnapshot(ctx context.Context, supervisor string, snap *SupervisorSnapshot) error
	GetNetworkSnapshot(ctx context.Context, supervisor string) (*SupervisorSnapshot, error)
	GetNetworkSupervisors(ctx context.Context) ([]string, error)

	BroadcastUpdateFleet(ctx context.Context, upd FleetUpdate) error
	BroadcastUpdateAddresses(ctx context.Context, upd AddressesUpdate) error
	BroadcastRequestID(ctx context.Context, requestID string, watches []Watch, inboxID string) error
	BroadcastIgnoreRequestID(ctx context.Context, requestID string, watches []Watch, inboxID string) error
	BroadcastPayloadStickySession(ctx context.Context, stickyID, inboxID string) error

	// DeliverToInbox routes a request-response notification record to a
	// process-addressable inbox; DeliverStickyPayload does the same for
	// sticky-routed payloads.
	DeliverToInbox(ctx context.Context, inboxID string, record map[string]any) error
	DeliverStickyPayload(ctx context.Context, inboxID string, payload map[string]any) error

	// InboxID identifies this process for request-response routing.
	InboxID() string
	Close() error
}

const inboxIDLen = 13

const inboxAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newInboxID returns a random 13-char inbox channel name.
func newInboxID() string {
	b := make([]byte, inboxIDLen)
	max := big.NewInt(int64(len(inboxAlphabet)))
	for i := range b {
		n, _ := rand.Int(rand.Reader, max)
		b[i] = inboxAlphabet[n.Int64()]
	}
	return string(b)
}
