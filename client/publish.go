package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/NaeuralEdgeProtocol/go-client/bc"
	"github.com/NaeuralEdgeProtocol/go-client/internal/bus"
	"github.com/NaeuralEdgeProtocol/go-client/internal/request"
	"github.com/NaeuralEdgeProtocol/go-client/internal/state"
)

// ErrReceiverNotFound rejects a publish whose receiver is neither an
// address nor a resolvable node name.
var ErrReceiverNotFound = errors.New("client: RECEIVER_NOT_FOUND")

// Outbound message fields.
const (
	fieldAction        = "ACTION"
	fieldPayload       = "PAYLOAD"
	fieldInitiator     = "INITIATOR_ID"
	fieldSession       = "SESSION_ID"
	fieldMessageID     = "EE_ID"
	fieldTime          = "TIME"
	fieldIsEncrypted   = "EE_IS_ENCRYPTED"
	fieldEncryptedData = "EE_ENCRYPTED_DATA"
)

// Payload keys inspected when building watches and sticky ids.
const (
	keyName            = "NAME"
	keySignature       = "SIGNATURE"
	keyInstanceID      = "INSTANCE_ID"
	keyUpdates         = "UPDATES"
	keyInstanceConfig  = "INSTANCE_CONFIG"
	keyInstanceCommand = "INSTANCE_COMMAND"
	keyPipelineCommand = "PIPELINE_COMMAND"
	keyCommandID       = "__COMMAND_ID"
)

const timeLayout = "2006-01-02 15:04:05.000000"

// SendCommand publishes a command to receiver (node name or address) and
// opens a pending request tracking its outcome. onSuccess / onFail fire
// exactly once; fire-and-forget actions resolve immediately.
func (c *Client) SendCommand(ctx context.Context, receiver, action string, payload map[string]any, onSuccess, onFail request.Callback) (*request.Pending, error) {
	addr := c.dir.Address(receiver)
	if !bc.IsAddress(addr) {
		return nil, fmt.Errorf("%w: %s", ErrReceiverNotFound, receiver)
	}

	watches := buildWatches(action, addr, payload)
	sticky := extractStickyID(payload)

	p := c.registry.Open(action, watches, onSuccess, onFail)
	if p == nil {
		return nil, request.ErrShutdown
	}
	c.metrics.OpenReqs.Set(float64(c.registry.Len()))

	inbox := c.state.InboxID()
	if len(watches) > 0 {
		if err := c.state.BroadcastRequestID(ctx, p.ID, toStateWatches(watches), inbox); err != nil {
			c.log.Warn("broadcast request watches failed", zap.Error(err))
		}
	}
	if sticky != "" {
		if err := c.state.BroadcastPayloadStickySession(ctx, sticky, inbox); err != nil {
			c.log.Warn("broadcast sticky session failed", zap.Error(err))
		}
	}

	msg := map[string]any{
		fieldAction:    action,
		fieldPayload:   payload,
		fieldInitiator: c.cfg.Initiator,
		fieldSession:   p.ID,
		fieldMessageID: uuid.NewString(),
		fieldTime:      time.Now().UTC().Format(timeLayout),
	}
	if c.cfg.Blockchain.Encrypt {
		sealed, err := c.encryptCommand(msg, addr)
		if err != nil {
			return nil, err
		}
		msg = sealed
	}

	raw, err := c.id.SignJSON(msg)
	if err != nil {
		return nil, fmt.Errorf("sign command: %w", err)
	}
	if c.conn != nil {
		if err := c.conn.Publish(bus.OutboundTopic(c.cfg.Bus.Prefix, c.cfg.TopicRoot, addr), raw); err != nil {
			return nil, err
		}
	}
	c.metrics.Published.Inc()
	return p, nil
}

// encryptCommand replaces the ACTION / PAYLOAD pair with its sealed form,
// keeping the correlation fields in the clear.
func (c *Client) encryptCommand(msg map[string]any, receiver string) (map[string]any, error) {
	inner, err := json.Marshal(map[string]any{
		fieldAction:  msg[fieldAction],
		fieldPayload: msg[fieldPayload],
	})
	if err != nil {
		return nil, fmt.Errorf("marshal command body: %w", err)
	}
	sealed, err := c.id.EncryptFor(inner, receiver)
	if err != nil {
		return nil, fmt.Errorf("encrypt command: %w", err)
	}
	return map[string]any{
		fieldIsEncrypted:   true,
		fieldEncryptedData: sealed,
		fieldInitiator:     msg[fieldInitiator],
		fieldSession:       msg[fieldSession],
		fieldMessageID:     msg[fieldMessageID],
		fieldTime:          msg[fieldTime],
	}, nil
}

// buildWatches derives the notification paths a tracked action must be
// confirmed on. Untracked actions yield no watches and resolve on
// publish.
func buildWatches(action, receiver string, payload map[string]any) [][]string {
	if !request.TrackedActions[action] {
		return nil
	}
	switch action {
	case request.ActionUpdatePipelineInstance:
		return [][]string{{
			receiver,
			asString(payload[keyName]),
			asString(payload[keySignature]),
			asString(payload[keyInstanceID]),
		}}
	case request.ActionBatchUpdatePipelineInstance:
		updates, _ := payload[keyUpdates].([]any)
		watches := make([][]string, 0, len(updates))
		for _, u := range updates {
			item, ok := u.(map[string]any)
			if !ok {
				continue
			}
			watches = append(watches, []string{
				receiver,
				asString(item[keyName]),
				asString(item[keySignature]),
				asString(item[keyInstanceID]),
			})
		}
		return watches
	default:
		// Pipeline-level actions watch [receiver, pipeline, null, null].
		return [][]string{{receiver, asString(payload[keyName]), "", ""}}
	}
}

// extractStickyID digs the sticky command id out of an instance or
// pipeline command payload, when one is present.
func extractStickyID(payload map[string]any) string {
	if cfg, ok := payload[keyInstanceConfig].(map[string]any); ok {
		if cmd, ok := cfg[keyInstanceCommand].(map[string]any); ok {
			if id, ok := cmd[keyCommandID].(string); ok {
				return id
			}
		}
	}
	if cmd, ok := payload[keyPipelineCommand].(map[string]any); ok {
		if id, ok := cmd[keyCommandID].(string); ok {
			return id
		}
	}
	return ""
}

func toStateWatches(watches [][]string) []state.Watch {
	out := make([]state.Watch, len(watches))
	for i, w := range watches {
		out[i] = state.Watch(w)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
