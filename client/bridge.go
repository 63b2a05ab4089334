package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/NaeuralEdgeProtocol/go-client/internal/request"
	"github.com/NaeuralEdgeProtocol/go-client/internal/state"
)

// Schema describes the configurable surface of one plugin signature.
// Mandatory fields are checked before a command leaves the client.
type Schema struct {
	Name      string
	Fields    map[string]string
	Mandatory []string
}

// Bridge is the seam between domain models and the core client: state
// lookups, schema-validated publishing, nothing else.
type Bridge struct {
	c *Client

	mu      sync.RWMutex
	schemas map[string]Schema
}

// Bridge returns the client's domain-model bridge.
func (c *Client) Bridge() *Bridge {
	return &Bridge{c: c, schemas: make(map[string]Schema)}
}

// RegisterSchema adds or replaces the schema for one plugin signature.
func (b *Bridge) RegisterSchema(signature string, s Schema) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.schemas[signature] = s
}

// Schema looks up a registered schema.
func (b *Bridge) Schema(signature string) (Schema, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.schemas[signature]
	return s, ok
}

// NodeInfo returns the last stored heartbeat of a node, nil when the
// node was never seen or its snapshot expired.
func (b *Bridge) NodeInfo(ctx context.Context, nodeOrAddress string) (*state.HeartbeatSnapshot, error) {
	addr := b.c.dir.Address(nodeOrAddress)
	if addr == "" {
		addr = nodeOrAddress
	}
	return b.c.state.GetNodeInfo(ctx, addr)
}

// Universe returns every observed address with its last-seen timestamp.
func (b *Bridge) Universe(ctx context.Context) (map[string]int64, error) {
	return b.c.state.GetUniverse(ctx)
}

// Supervisors lists the supervisor addresses with stored network
// snapshots.
func (b *Bridge) Supervisors(ctx context.Context) ([]string, error) {
	return b.c.state.GetNetworkSupervisors(ctx)
}

// Publish validates the payload against the registered schema for its
// signature, then hands the command to the client's publish path.
func (b *Bridge) Publish(ctx context.Context, receiver, action string, payload map[string]any, onSuccess, onFail request.Callback) (*request.Pending, error) {
	if sig, ok := payload[keySignature].(string); ok {
		if schema, known := b.Schema(sig); known {
			if err := validate(schema, payload); err != nil {
				return nil, err
			}
		}
	}
	return b.c.SendCommand(ctx, receiver, action, payload, onSuccess, onFail)
}

func validate(s Schema, payload map[string]any) error {
	cfg, _ := payload[keyInstanceConfig].(map[string]any)
	for _, field := range s.Mandatory {
		if cfg == nil {
			return fmt.Errorf("client: schema %s: missing mandatory field %s", s.Name, field)
		}
		if _, ok := cfg[field]; !ok {
			return fmt.Errorf("client: schema %s: missing mandatory field %s", s.Name, field)
		}
	}
	return nil
}
