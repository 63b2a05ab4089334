package worker

import (
	"github.com/NaeuralEdgeProtocol/go-client/bc"
)

// Supervisor payload markers. The network monitor plugin of the admin
// pipeline publishes the aggregated network view.
const (
	adminPipeline   = "admin_pipeline"
	netmonSignature = "NET_MON_01"

	keyCurrentNetwork = "CURRENT_NETWORK"
	keyIsAlert        = "IS_ALERT"
	keyCurrentAlerted = "CURRENT_ALERTED"
)

// maybeSupervisorPayload intercepts network-monitor payloads before the
// fleet filter: they refresh the address directory and drive the
// online/offline signalling regardless of fleet membership. Returns true
// when the message was consumed.
func (w *Worker) maybeSupervisorPayload(msg map[string]any, path []string, sender string) bool {
	if path[1] != adminPipeline || path[2] != netmonSignature {
		return false
	}

	w.report(Report{Type: ReportSupervisorStatus, Data: map[string]any{
		"supervisor": sender,
		"node":       path[0],
	}})

	if network, ok := msg[keyCurrentNetwork].(map[string]any); ok {
		nodes := make([]string, 0, len(network))
		addresses := make([]string, 0, len(network))
		for name, entry := range network {
			addr := extractAddress(entry)
			if addr == "" {
				continue
			}
			nodes = append(nodes, name)
			addresses = append(addresses, addr)
		}
		if len(nodes) > 0 {
			w.report(Report{Type: ReportAddressesRefresh, Nodes: nodes, Addresses: addresses})
		}
	}

	if isAlert, _ := msg[keyIsAlert].(bool); isAlert {
		if alerted, ok := msg[keyCurrentAlerted].(map[string]any); ok {
			down := make([]DownNode, 0, len(alerted))
			for node, lastSeen := range alerted {
				down = append(down, DownNode{Node: node, LastSeen: lastSeen})
			}
			w.report(Report{Type: ReportNodeDown, DownNodes: down, Data: msg})
		}
	}

	w.report(Report{Type: ReportSupervisorPayload, Data: msg, Context: &Context{
		Path:    path,
		Address: pickAddress(sender, w.resolveAddress(path[0])),
		Sender:  sender,
	}})
	return true
}

// extractAddress digs the node address out of a CURRENT_NETWORK entry;
// both the plain-string and the object form occur on the wire.
func extractAddress(entry any) string {
	switch t := entry.(type) {
	case string:
		if bc.IsAddress(t) {
			return t
		}
	case map[string]any:
		for _, key := range []string{"address", "ADDRESS", "eth_address"} {
			if s, ok := t[key].(string); ok && bc.IsAddress(s) {
				return s
			}
		}
	}
	return ""
}
