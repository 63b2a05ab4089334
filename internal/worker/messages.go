package worker

import (
	"github.com/NaeuralEdgeProtocol/go-client/internal/request"
	"github.com/NaeuralEdgeProtocol/go-client/internal/state"
)

// Kind selects which of the three ingress streams a worker consumes.
type Kind string

const (
	KindHeartbeats    Kind = "heartbeats"
	KindNotifications Kind = "notifications"
	KindPayloads      Kind = "payloads"
)

// Envelope field names beyond the crypto ones owned by package bc.
const (
	fieldPayloadPath   = "EE_PAYLOAD_PATH"
	fieldEventType     = "EE_EVENT_TYPE"
	fieldFormatter     = "EE_FORMATTER"
	fieldIsEncrypted   = "EE_IS_ENCRYPTED"
	fieldEncryptedData = "EE_ENCRYPTED_DATA"
	fieldSessionID     = "SESSION_ID"
)

// Command ops the client sends to its workers.
const (
	CmdUpdateState      = "UPDATE_STATE"
	CmdUpdateFleet      = "UPDATE_FLEET"
	CmdRefreshAddresses = "REFRESH_ADDRESSES"
	CmdWatchSession     = "WATCH_FOR_SESSION_ID"
	CmdIgnoreSession    = "IGNORE_SESSION_ID"
	CmdWatchSticky      = "WATCH_FOR_STICKY_SESSION_ID"
	CmdMemoryUsage      = "MEMORY_USAGE"
	CmdStop             = "STOP"
)

// Command is a control message posted into a worker's loop. Only the
// fields relevant to Op are set.
type Command struct {
	Op string

	// UPDATE_STATE
	Address   string
	Pipelines map[string]any

	// UPDATE_FLEET
	Fleet *state.FleetUpdate

	// REFRESH_ADDRESSES
	Nodes     []string
	Addresses []string

	// WATCH_FOR_SESSION_ID / IGNORE_SESSION_ID
	RequestID string
	Watches   []state.Watch

	// WATCH_FOR_STICKY_SESSION_ID
	StickyID string

	InboxID string
}

// Report types a worker posts back to the client.
const (
	ReportBooted            = "WORKER_BOOTED"
	ReportStopped           = "WORKER_STOPPED"
	ReportObservedNode      = "OBSERVED_NODE"
	ReportHeartbeat         = "HEARTBEAT"
	ReportNotification      = "NOTIFICATION"
	ReportPayload           = "PAYLOAD"
	ReportInboxDelivery     = "INBOX_DELIVERY"
	ReportStickyDelivery    = "STICKY_DELIVERY"
	ReportSupervisorStatus  = "SUPERVISOR_STATUS"
	ReportAddressesRefresh  = "ADDRESSES_REFRESH"
	ReportNodeDown          = "NETWORK_NODE_DOWN"
	ReportSupervisorPayload = "NETWORK_SUPERVISOR_PAYLOAD"
	ReportMemoryUsage       = "MEMORY_USAGE"
)

// Context is the enriched addressing of one decoded message.
type Context struct {
	Path     []string       // [node, pipeline, signature, instance]
	Address  string         // resolved sender-node address
	NodeName string         // human name, when known
	Sender   string         // EE_SENDER of the envelope
	Session  string         // SESSION_ID, when present
	Pipeline map[string]any // pipeline config from worker-local state
	Instance map[string]any // plugin-instance config
	Metadata map[string]any // notification/plugin metadata
}

// Report is a worker → client message. Exactly one of the optional
// payloads is set, depending on Type.
type Report struct {
	WorkerID string
	Kind     Kind
	Type     string

	Context      *Context
	Data         map[string]any
	Heartbeat    *state.HeartbeatSnapshot
	Notification *request.Notification

	// INBOX_DELIVERY / STICKY_DELIVERY
	InboxID string

	// ADDRESSES_REFRESH
	Nodes     []string
	Addresses []string

	// NETWORK_NODE_DOWN: [{node, lastSeen}]
	DownNodes []DownNode

	// MEMORY_USAGE
	AllocBytes uint64
}

// DownNode is one entry of a supervisor alert.
type DownNode struct {
	Node     string `json:"node"`
	LastSeen any    `json:"lastSeen"`
}
