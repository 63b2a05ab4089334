package worker

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/NaeuralEdgeProtocol/go-client/internal/state"
)

// Heartbeat payload keys.
const (
	keyConfigStreams = "CONFIG_STREAMS"
	keyActivePlugins = "ACTIVE_PLUGINS"
	keyStreamID      = "STREAM_ID"
	keySignature     = "SIGNATURE"
	keyInstanceID    = "INSTANCE_ID"
	keyPipelineName  = "NAME"
	keyTimestamp     = "EE_TIMESTAMP"
	keyTimezone      = "EE_TIMEZONE"
)

// hardwareKeys are the heartbeat fields describing the machine rather
// than the node runtime.
var hardwareKeys = map[string]bool{
	"CPU": true, "CPU_USED": true, "GPUS": true, "GPU_INFO": true,
	"DEFAULT_CUDA": true, "MACHINE_MEMORY": true, "AVAILABLE_MEMORY": true,
	"PROCESS_MEMORY": true, "TOTAL_DISK": true, "AVAILABLE_DISK": true,
	"TEMPERATURE_INFO": true,
}

// decodeHeartbeat turns a formatted heartbeat message into a snapshot:
// compressed payloads are inflated and merged, then the flat field set
// is split into node / hardware / pipeline views.
func (w *Worker) decodeHeartbeat(formatted, data map[string]any, ctx *Context) (*state.HeartbeatSnapshot, error) {
	if encoded, ok := data[keyEncodedData].(string); ok {
		extra, err := inflateEncodedData(encoded)
		if err != nil {
			return nil, fmt.Errorf("inflate heartbeat: %w", err)
		}
		for k, v := range extra {
			data[k] = v
		}
		delete(data, keyEncodedData)
	}

	hb := &state.HeartbeatSnapshot{
		Address:      ctx.Address,
		LastUpdateMs: time.Now().UnixMilli(),
		NodeTime: state.NodeTime{
			Date: asString(formatted[keyTimestamp]),
			UTC:  asString(formatted[keyTimezone]),
		},
		Data: splitHeartbeat(data),
	}
	return hb, nil
}

// splitHeartbeat produces the {raw, node, hardware, pipelines} view.
// Pipeline configs are paired with their active-plugin stats, keyed by
// signature and instance within each stream.
func splitHeartbeat(data map[string]any) map[string]any {
	node := map[string]any{}
	hardware := map[string]any{}
	for k, v := range data {
		switch {
		case k == keyConfigStreams || k == keyActivePlugins:
		case hardwareKeys[k]:
			hardware[k] = v
		default:
			node[k] = v
		}
	}

	// index plugin stats: stream → signature → instance → stats
	statsByStream := map[string]map[string]map[string]any{}
	if plugins, ok := data[keyActivePlugins].([]any); ok {
		for _, entry := range plugins {
			stats, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			stream := asString(stats[keyStreamID])
			sig := asString(stats[keySignature])
			inst := asString(stats[keyInstanceID])
			if statsByStream[stream] == nil {
				statsByStream[stream] = map[string]map[string]any{}
			}
			if statsByStream[stream][sig] == nil {
				statsByStream[stream][sig] = map[string]any{}
			}
			statsByStream[stream][sig][inst] = stats
		}
	}

	pipelines := map[string]any{}
	if streams, ok := data[keyConfigStreams].([]any); ok {
		for _, entry := range streams {
			cfg, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			name := asString(cfg[keyPipelineName])
			if name == "" {
				continue
			}
			plugins := map[string]any{}
			for sig, instances := range statsByStream[name] {
				byInstance := map[string]any{}
				for inst, stats := range instances {
					byInstance[inst] = stats
				}
				plugins[sig] = byInstance
			}
			pipelines[name] = map[string]any{
				"config":  cfg,
				"PLUGINS": plugins,
			}
		}
	}

	return map[string]any{
		"raw":       data,
		"node":      node,
		"hardware":  hardware,
		"pipelines": pipelines,
	}
}

// inflateEncodedData reverses the node's deflate+base64 framing of bulky
// heartbeat fields.
func inflateEncodedData(encoded string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("decode inflated JSON: %w", err)
	}
	return out, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
