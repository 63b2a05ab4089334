package worker

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/NaeuralEdgeProtocol/go-client/bc"
	"github.com/NaeuralEdgeProtocol/go-client/internal/metrics"
	"github.com/NaeuralEdgeProtocol/go-client/internal/request"
)

// Payload keys consumed by the decode pipeline.
const (
	keyData          = "DATA"
	keyEncodedData   = "ENCODED_DATA"
	keyNotifCode     = "NOTIFICATION_CODE"
	keyNotifType     = "NOTIFICATION_TYPE"
	keyNotifTag      = "NOTIFICATION_TAG"
	keyNotifText     = "NOTIFICATION"
	keyCommandParams = "COMMAND_PARAMS"
	keyCommandID     = "__COMMAND_ID"
	keyPluginMeta    = "PLUGIN_META"
	keyPipelineMeta  = "PIPELINE_META"

	pluginMetaPrefix   = "_P_"
	pipelineMetaPrefix = "_C_"
)

func pathKey(p []string) string {
	return strings.Join(p, ":")
}

// handleFrame runs the full inbound pipeline on one bus frame.
func (w *Worker) handleFrame(raw []byte) {
	verified := bc.Verify(raw)
	if !verified && w.opts.Secure {
		w.drop(metrics.DropBadSignature, "signature verification failed", nil)
		return
	}

	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.drop(metrics.DropBadPayload, "frame is not a JSON object", err)
		return
	}
	sender, _ := msg[bc.KeySender].(string)

	if enc, _ := msg[fieldIsEncrypted].(bool); enc {
		blob, _ := msg[fieldEncryptedData].(string)
		plain, ok := w.opts.Identity.DecryptFrom(blob, sender)
		if !ok {
			w.drop(metrics.DropDecryptFailed, "cannot decrypt message", nil)
			return
		}
		var inner map[string]any
		if err := json.Unmarshal(plain, &inner); err != nil {
			w.drop(metrics.DropDecryptFailed, "decrypted payload is not JSON", err)
			return
		}
		for k, v := range inner {
			msg[k] = v
		}
		delete(msg, fieldIsEncrypted)
		delete(msg, fieldEncryptedData)
	}

	rawPath, ok := msg[fieldPayloadPath]
	if !ok {
		w.drop(metrics.DropBadPayload, "missing payload path", nil)
		return
	}
	path := normalizePath(rawPath)
	address := w.resolveAddress(path[0])

	// The universe tracks every sender the workers observe, fleet
	// membership notwithstanding.
	w.report(Report{Type: ReportObservedNode, Data: map[string]any{
		"address": pickAddress(sender, address),
		"node":    path[0],
	}})

	if w.opts.Kind == KindPayloads && w.maybeSupervisorPayload(msg, path, sender) {
		return
	}

	if !w.inFleet(address) && !w.inFleet(path[0]) {
		w.drop(metrics.DropNotInFleet, "", nil)
		return
	}

	formatterName, _ := msg[fieldFormatter].(string)
	f, err := w.opts.Formatters.Lookup(formatterName)
	if err != nil {
		w.log.Warn("unknown formatter, dropping message", zap.String("formatter", formatterName))
		w.countDrop(metrics.DropUnknownFormatter)
		return
	}
	formatted, err := f.Decode(msg)
	if err != nil {
		w.drop(metrics.DropBadPayload, "formatter decode failed", err)
		return
	}

	data, _ := formatted[keyData].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	session, _ := formatted[fieldSessionID].(string)

	ctx := w.assembleContext(path, address, sender, session)

	switch w.opts.Kind {
	case KindHeartbeats:
		w.routeHeartbeat(formatted, data, ctx)
	case KindNotifications:
		w.routeNotification(data, ctx)
	case KindPayloads:
		w.routePayload(data, ctx)
	}
	if w.opts.Metrics != nil {
		w.opts.Metrics.Processed.WithLabelValues(string(w.opts.Kind)).Inc()
	}
}

// assembleContext enriches a message with the worker's view of the
// sender's pipelines and plugin instances.
func (w *Worker) assembleContext(path []string, address, sender, session string) *Context {
	ctx := &Context{
		Path:     path,
		Address:  address,
		Sender:   sender,
		Session:  session,
		Metadata: map[string]any{},
	}
	for name, addr := range w.addrByName {
		if addr == address {
			ctx.NodeName = name
			break
		}
	}
	pipelines := w.localState[address]
	if pipelines == nil {
		return ctx
	}
	pipeline, _ := pipelines[path[1]].(map[string]any)
	if pipeline == nil {
		return ctx
	}
	ctx.Pipeline = pipeline
	plugins, _ := pipeline["PLUGINS"].(map[string]any)
	if plugins == nil {
		return ctx
	}
	instances, _ := plugins[path[2]].(map[string]any)
	if instances == nil {
		return ctx
	}
	ctx.Instance, _ = instances[path[3]].(map[string]any)
	return ctx
}

func (w *Worker) routeHeartbeat(formatted, data map[string]any, ctx *Context) {
	hb, err := w.decodeHeartbeat(formatted, data, ctx)
	if err != nil {
		w.drop(metrics.DropBadPayload, "heartbeat decode failed", err)
		return
	}
	w.report(Report{Type: ReportHeartbeat, Context: ctx, Data: hb.Data, Heartbeat: hb})
}

func (w *Worker) routeNotification(data map[string]any, ctx *Context) {
	code, _ := data[keyNotifCode].(string)
	ntype, _ := data[keyNotifType].(string)
	tag, _ := data[keyNotifTag].(string)
	text, _ := data[keyNotifText].(string)
	ctx.Metadata[keyNotifCode] = code
	ctx.Metadata[keyNotifType] = ntype
	ctx.Metadata[keyNotifTag] = tag

	n := &request.Notification{
		Path:      ctx.Path,
		Code:      code,
		Type:      ntype,
		Tag:       tag,
		SessionID: ctx.Session,
		Text:      text,
		Data:      data,
	}

	// Watched sessions and paths route into process inboxes for the
	// request-response layer.
	inboxes := map[string]bool{}
	if inbox, ok := w.sessionWatch[ctx.Session]; ok {
		inboxes[inbox] = true
	}
	for _, inbox := range w.watchlist[pathKey(ctx.Path)] {
		inboxes[inbox] = true
	}
	if len(inboxes) > 0 {
		record := notificationRecord(n)
		for inbox := range inboxes {
			w.report(Report{Type: ReportInboxDelivery, InboxID: inbox, Data: record, Notification: n})
		}
	}

	// The plain event always reaches the application.
	w.report(Report{Type: ReportNotification, Context: ctx, Data: data, Notification: n})
}

func (w *Worker) routePayload(data map[string]any, ctx *Context) {
	splitMetaKeys(data)

	if params, ok := data[keyCommandParams].(map[string]any); ok {
		if cmdID, ok := params[keyCommandID].(string); ok {
			if inbox, ok := w.sticky[cmdID]; ok {
				w.report(Report{Type: ReportStickyDelivery, InboxID: inbox, Data: data, Context: ctx})
				return
			}
		}
	}
	w.report(Report{Type: ReportPayload, Context: ctx, Data: data})
}

// splitMetaKeys moves _P_-prefixed keys under PLUGIN_META and
// _C_-prefixed ones under PIPELINE_META.
func splitMetaKeys(data map[string]any) {
	pluginMeta := map[string]any{}
	pipelineMeta := map[string]any{}
	for k, v := range data {
		switch {
		case strings.HasPrefix(k, pluginMetaPrefix):
			pluginMeta[k] = v
			delete(data, k)
		case strings.HasPrefix(k, pipelineMetaPrefix):
			pipelineMeta[k] = v
			delete(data, k)
		}
	}
	if len(pluginMeta) > 0 {
		data[keyPluginMeta] = pluginMeta
	}
	if len(pipelineMeta) > 0 {
		data[keyPipelineMeta] = pipelineMeta
	}
}

// notificationRecord serializes a notification for inbox transport.
func notificationRecord(n *request.Notification) map[string]any {
	return map[string]any{
		"path":       n.Path,
		"code":       n.Code,
		"type":       n.Type,
		"tag":        n.Tag,
		"session_id": n.SessionID,
		"text":       n.Text,
		"data":       n.Data,
	}
}

// normalizePath coerces EE_PAYLOAD_PATH into exactly four strings, with
// nulls mapped to "".
func normalizePath(raw any) []string {
	out := []string{"", "", "", ""}
	list, ok := raw.([]any)
	if !ok {
		return out
	}
	for i := 0; i < len(list) && i < 4; i++ {
		if s, ok := list[i].(string); ok {
			out[i] = s
		}
	}
	return out
}

func pickAddress(sender, resolved string) string {
	if bc.IsAddress(resolved) {
		return resolved
	}
	return sender
}

func (w *Worker) drop(reason, detail string, err error) {
	if detail != "" || err != nil {
		w.log.Debug("dropping message", zap.String("reason", reason), zap.String("detail", detail), zap.Error(err))
	}
	w.countDrop(reason)
}

func (w *Worker) countDrop(reason string) {
	if w.opts.Metrics != nil {
		w.opts.Metrics.Dropped.WithLabelValues(string(w.opts.Kind), reason).Inc()
	}
}
