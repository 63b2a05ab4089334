// Package client is the SDK facade: it boots the identity, the shared
// state manager and the ingress worker pools, publishes signed commands,
// correlates their outcomes through the pending-request registry, and
// fans application events out to subscribers.
package client

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/NaeuralEdgeProtocol/go-client/bc"
	"github.com/NaeuralEdgeProtocol/go-client/formatters"
	"github.com/NaeuralEdgeProtocol/go-client/internal/bus"
	"github.com/NaeuralEdgeProtocol/go-client/internal/config"
	"github.com/NaeuralEdgeProtocol/go-client/internal/directory"
	"github.com/NaeuralEdgeProtocol/go-client/internal/metrics"
	"github.com/NaeuralEdgeProtocol/go-client/internal/request"
	"github.com/NaeuralEdgeProtocol/go-client/internal/state"
	"github.com/NaeuralEdgeProtocol/go-client/internal/worker"
)

const (
	eventBuffer      = 256
	reportBuffer     = 256
	registerRetry    = 2 * time.Second
	memUsageInterval = 10 * time.Second
	fleetWildcard    = "*"
)

// Options configures a Client. Config is required; the rest defaults.
type Options struct {
	Config     *config.Config
	Formatters *formatters.Registry
	Logger     *zap.Logger
}

// Client is the SDK entry point. All mutable state is owned by the run
// goroutine; public methods communicate with it through the state
// manager, the worker command channels and the emitter.
type Client struct {
	cfg     *config.Config
	log     *zap.Logger
	id      *bc.Identity
	dir     *directory.Directory
	reg     *formatters.Registry
	metrics *metrics.Metrics
	events  *emitter

	registry *request.Registry
	state    state.Manager
	rdb      *redis.Client
	conn     *bus.Conn

	workers []*worker.Worker
	reports chan worker.Report
	sink    chan state.Event

	fleet   map[string]bool
	alerted map[string]bool
	booted  int
	memUse  map[string]uint64

	running   bool
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a client from cfg and loads (or generates) its identity.
// A client without a valid key cannot participate in the network, so
// identity-load failures are fatal.
func New(opts Options) (*Client, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("client: nil config")
	}
	cfg := opts.Config
	cfg.ApplyDefaults()

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	reg := opts.Formatters
	if reg == nil {
		reg = formatters.NewRegistry()
	}

	id, err := loadIdentity(cfg.Blockchain)
	if err != nil {
		return nil, err
	}

	fleet := make(map[string]bool, len(cfg.Fleet))
	for _, f := range cfg.Fleet {
		fleet[f] = true
	}

	return &Client{
		cfg:      cfg,
		log:      log.With(zap.String("initiator", cfg.Initiator)),
		id:       id,
		dir:      directory.New(),
		reg:      reg,
		metrics:  metrics.New(),
		events:   newEmitter(),
		registry: request.NewRegistry(log),
		reports:  make(chan worker.Report, reportBuffer),
		sink:     make(chan state.Event, eventBuffer),
		fleet:    fleet,
		alerted:  make(map[string]bool),
		memUse:   make(map[string]uint64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func loadIdentity(cfg config.BlockchainConfig) (*bc.Identity, error) {
	switch {
	case cfg.Key != "":
		return bc.IdentityFromDERHex(cfg.Key)
	case cfg.PEMFile != "":
		pemData, err := os.ReadFile(cfg.PEMFile)
		if err != nil {
			return nil, fmt.Errorf("read pem file: %w", err)
		}
		return bc.IdentityFromPEM(pemData)
	case len(cfg.SecretWords) > 0:
		return bc.IdentityFromSecretWords(cfg.SecretWords)
	default:
		return bc.NewIdentity()
	}
}

// Address returns this client's network address.
func (c *Client) Address() string { return c.id.Address() }

// On subscribes a handler to one event name and returns its unsubscribe
// closure. Payload events also fire under their plugin signature.
func (c *Client) On(name string, h Handler) func() {
	return c.events.on(name, h)
}

// MetricsRegistry exposes the client-owned Prometheus registry so the
// embedding application can mount it.
func (c *Client) MetricsRegistry() *prometheus.Registry {
	return c.metrics.Registry
}

// Boot brings the client up: state manager, outbound bus connection and
// worker pools. It returns once the workers are launched; CLIENT_BOOTED
// fires after the last worker acknowledges its subscription.
func (c *Client) Boot(ctx context.Context) error {
	mgr, err := c.newStateManager(ctx)
	if err != nil {
		return err
	}
	c.state = mgr

	// Finished requests retract their notification watches; without the
	// ignore broadcast the workers would keep routing stale paths to the
	// inbox forever.
	c.registry.OnFinish(func(id string, watches [][]string) {
		if err := c.state.BroadcastIgnoreRequestID(context.Background(), id, toStateWatches(watches), c.state.InboxID()); err != nil {
			c.log.Warn("broadcast ignore watches failed", zap.String("request_id", id), zap.Error(err))
		}
	})

	if c.cfg.Bus.URL != "" {
		conn, err := bus.Connect(c.cfg.Bus, "-pub", nil, c.log)
		if err != nil {
			return err
		}
		c.conn = conn
	}

	pools := []struct {
		kind  worker.Kind
		count int
	}{
		{worker.KindHeartbeats, c.cfg.Threads.Heartbeats},
		{worker.KindNotifications, c.cfg.Threads.Notifications},
		{worker.KindPayloads, c.cfg.Threads.Payloads},
	}
	for _, pool := range pools {
		for i := 0; i < pool.count; i++ {
			w := worker.New(worker.Options{
				ID:         fmt.Sprintf("%s-%d", pool.kind, i),
				Kind:       pool.kind,
				Bus:        c.cfg.Bus,
				Initiator:  c.cfg.Initiator,
				TopicRoot:  c.cfg.TopicRoot,
				Fleet:      c.cfg.Fleet,
				Secure:     c.cfg.Blockchain.Secure,
				Identity:   c.id,
				Formatters: c.reg,
				Reports:    c.reports,
				Metrics:    c.metrics,
				Log:        c.log,
			})
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("start %s worker %d: %w", pool.kind, i, err)
			}
			c.workers = append(c.workers, w)
		}
	}

	c.running = true
	go c.run(ctx)
	c.log.Info("client booting", zap.String("address", c.id.Address()), zap.Int("workers", len(c.workers)))
	return nil
}

func (c *Client) newStateManager(ctx context.Context) (state.Manager, error) {
	sink := func(ev state.Event) {
		select {
		case c.sink <- ev:
		default:
			c.log.Warn("state event buffer full, dropping", zap.String("event", ev.Name))
		}
	}
	if c.cfg.State == config.StateExternal {
		c.rdb = redis.NewClient(&redis.Options{
			Addr:     c.cfg.External.Addr(),
			Password: c.cfg.External.Password,
		})
		return state.NewRedis(ctx, c.rdb, c.cfg.Initiator, c.cfg.External.PubSubChannel, sink, c.log)
	}
	return state.NewMemory(sink, c.log), nil
}

// run is the client loop: worker reports, state-manager events, and the
// periodic memory aggregation all land here.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(memUsageInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case r := <-c.reports:
			c.handleReport(ctx, r)
		case ev := <-c.sink:
			c.handleStateEvent(ctx, ev)
		case <-ticker.C:
			c.pollMemoryUsage()
		}
	}
}

func (c *Client) handleReport(ctx context.Context, r worker.Report) {
	switch r.Type {
	case worker.ReportBooted:
		c.booted++
		c.events.emit(Event{Name: EventSysTopicSubscribe, Data: map[string]any{
			"worker": r.WorkerID,
			"stream": string(r.Kind),
		}})
		if c.booted == len(c.workers) {
			c.onAllWorkersBooted(ctx)
		}
	case worker.ReportStopped:
		c.log.Debug("worker stopped", zap.String("worker", r.WorkerID))
	case worker.ReportObservedNode:
		addr, _ := r.Data["address"].(string)
		if addr != "" {
			if err := c.state.MarkAsSeen(ctx, addr, time.Now().UnixMilli()); err != nil {
				c.log.Warn("mark as seen failed", zap.Error(err))
			}
		}
	case worker.ReportHeartbeat:
		c.handleHeartbeat(ctx, r)
	case worker.ReportNotification:
		c.events.emit(Event{Name: EventNotification, Data: r.Data})
	case worker.ReportPayload:
		c.events.emit(Event{Name: EventPayload, Data: r.Data})
		if sig := r.Context.Path[2]; sig != "" {
			c.events.emit(Event{Name: sig, Data: r.Data})
		}
	case worker.ReportInboxDelivery:
		if err := c.state.DeliverToInbox(ctx, r.InboxID, r.Data); err != nil {
			c.log.Warn("inbox delivery failed", zap.Error(err))
		}
	case worker.ReportStickyDelivery:
		if err := c.state.DeliverStickyPayload(ctx, r.InboxID, r.Data); err != nil {
			c.log.Warn("sticky delivery failed", zap.Error(err))
		}
	case worker.ReportAddressesRefresh:
		c.dir.Refresh(r.Nodes, r.Addresses)
		if err := c.state.BroadcastUpdateAddresses(ctx, state.AddressesUpdate{Nodes: r.Nodes, Addresses: r.Addresses}); err != nil {
			c.log.Warn("broadcast addresses failed", zap.Error(err))
		}
	case worker.ReportSupervisorStatus:
		c.log.Debug("supervisor status", zap.Any("data", r.Data))
	case worker.ReportSupervisorPayload:
		c.handleSupervisorPayload(ctx, r)
	case worker.ReportNodeDown:
		// Edge detection runs on the full supervisor payload; the alert
		// report is surfaced for diagnostics only.
		c.log.Info("supervisor alert", zap.Int("nodes", len(r.DownNodes)))
	case worker.ReportMemoryUsage:
		c.memUse[r.WorkerID] = r.AllocBytes
	}
}

func (c *Client) onAllWorkersBooted(ctx context.Context) {
	c.log.Info("all workers booted")
	c.events.emit(Event{Name: EventClientBooted, Data: map[string]any{"address": c.id.Address()}})
	c.events.emit(Event{Name: EventBCAddress, Data: map[string]any{"address": c.id.Address()}})
	// Register the configured fleet, not the live one: nodes added through
	// RegisterEdgeNode while workers were still booting are already
	// members and must not be broadcast a second time.
	for _, node := range c.cfg.Fleet {
		if node == fleetWildcard {
			continue
		}
		go func(node string) {
			if err := c.RegisterEdgeNode(ctx, node); err != nil {
				c.log.Warn("initial fleet registration failed", zap.String("node", node), zap.Error(err))
			}
		}(node)
	}
}

func (c *Client) handleHeartbeat(ctx context.Context, r worker.Report) {
	hb := r.Heartbeat
	if err := c.state.NodeInfoUpdate(ctx, hb); err != nil {
		c.log.Warn("heartbeat store failed", zap.Error(err))
	}
	if pipelines, ok := hb.Data["pipelines"].(map[string]any); ok {
		for _, w := range c.workers {
			w.Post(worker.Command{Op: worker.CmdUpdateState, Address: hb.Address, Pipelines: pipelines})
		}
	}
	c.events.emit(Event{Name: EventHeartbeatAddress, Data: map[string]any{
		"address":   hb.Address,
		"heartbeat": hb.Data,
	}})
	if name := c.dir.NodeName(hb.Address); name != "" {
		c.events.emit(Event{Name: EventHeartbeatEngine, Data: map[string]any{
			"node":      name,
			"address":   hb.Address,
			"heartbeat": hb.Data,
		}})
	}
}

// handleSupervisorPayload stores the network snapshot and derives the
// online/offline edges from the alert list delta.
func (c *Client) handleSupervisorPayload(ctx context.Context, r worker.Report) {
	snap := &state.SupervisorSnapshot{
		Name:      r.Context.Path[0],
		Address:   r.Context.Address,
		Timestamp: time.Now().UnixMilli(),
		Payload:   r.Data,
	}
	if err := c.state.UpdateNetworkSnapshot(ctx, snap.Address, snap); err != nil {
		c.log.Warn("network snapshot store failed", zap.Error(err))
	}
	c.events.emit(Event{Name: EventSupervisorPayload, Data: r.Data})

	next := make(map[string]bool)
	if isAlert, _ := r.Data["IS_ALERT"].(bool); isAlert {
		if alerted, ok := r.Data["CURRENT_ALERTED"].(map[string]any); ok {
			for node := range alerted {
				next[node] = true
			}
		}
	}
	for node := range next {
		if !c.alerted[node] && c.nodeInFleet(node) {
			c.events.emit(Event{Name: EventEngineOffline, Data: map[string]any{"node": node}})
		}
	}
	for node := range c.alerted {
		if !next[node] && c.nodeInFleet(node) {
			c.events.emit(Event{Name: EventEngineOnline, Data: map[string]any{"node": node}})
		}
	}
	c.alerted = next
}

func (c *Client) nodeInFleet(node string) bool {
	if c.fleet[fleetWildcard] || c.fleet[node] {
		return true
	}
	if addr := c.dir.Address(node); addr != "" {
		return c.fleet[addr]
	}
	return false
}

// handleStateEvent reacts to loop-back broadcasts (own and from peer
// processes) and inbox deliveries.
func (c *Client) handleStateEvent(ctx context.Context, ev state.Event) {
	switch ev.Name {
	case state.EventFleetUpdate:
		addr, _ := ev.Data["address"].(string)
		action := toInt(ev.Data["action"])
		upd := &state.FleetUpdate{Address: addr, Action: action}
		if action >= 0 {
			if c.fleet[addr] {
				return
			}
			c.fleet[addr] = true
		} else {
			if !c.fleet[addr] {
				return
			}
			delete(c.fleet, addr)
		}
		for _, w := range c.workers {
			w.Post(worker.Command{Op: worker.CmdUpdateFleet, Fleet: upd})
		}
		name := EventEngineRegistered
		if action < 0 {
			name = EventEngineDeregistered
		}
		c.events.emit(Event{Name: name, Data: map[string]any{"address": addr}})
	case state.EventAddressUpdate:
		nodes := toStrings(ev.Data["nodes"])
		addresses := toStrings(ev.Data["addresses"])
		c.dir.Refresh(nodes, addresses)
		for _, w := range c.workers {
			w.Post(worker.Command{Op: worker.CmdRefreshAddresses, Nodes: nodes, Addresses: addresses})
		}
	case state.OpWatchSession, state.OpIgnoreSession:
		cmd := worker.Command{
			Op:        ev.Name,
			RequestID: asString(ev.Data["request_id"]),
			InboxID:   asString(ev.Data["inbox_id"]),
			Watches:   toWatches(ev.Data["watches"]),
		}
		c.postToKind(worker.KindNotifications, cmd)
	case state.OpWatchSticky:
		c.postToKind(worker.KindPayloads, worker.Command{
			Op:       ev.Name,
			StickyID: asString(ev.Data["sticky_id"]),
			InboxID:  asString(ev.Data["inbox_id"]),
		})
	case state.EventRequestResponse:
		n := notificationFromRecord(ev.Data)
		if !c.registry.HandleNotification(n) {
			c.log.Debug("unmatched request-response record", zap.Strings("path", n.Path))
		}
		c.metrics.OpenReqs.Set(float64(c.registry.Len()))
	case state.EventStickyPayload:
		c.events.emit(Event{Name: state.EventStickyPayload, Data: ev.Data})
	case state.EventSupervisorPayload:
		c.events.emit(Event{Name: EventSupervisorPayload, Data: ev.Data})
	}
}

func (c *Client) postToKind(kind worker.Kind, cmd worker.Command) {
	for _, w := range c.workers {
		if w.Is(kind) {
			w.Post(cmd)
		}
	}
}

func (c *Client) pollMemoryUsage() {
	var total uint64
	for _, alloc := range c.memUse {
		total += alloc
	}
	c.log.Debug("worker memory usage", zap.Uint64("total_alloc_bytes", total))
	for _, w := range c.workers {
		w.Post(worker.Command{Op: worker.CmdMemoryUsage})
	}
}

// RegisterEdgeNode adds a node to the fleet, retrying every 2 s until
// the directory can resolve the name. The fleet delta is broadcast to
// workers and peer processes; ENGINE_REGISTERED fires on loop-back.
func (c *Client) RegisterEdgeNode(ctx context.Context, node string) error {
	addr, err := c.resolveWithRetry(ctx, node)
	if err != nil {
		return err
	}
	return c.state.BroadcastUpdateFleet(ctx, state.FleetUpdate{Address: addr, Action: 1})
}

// DeregisterEdgeNode removes a node from the fleet.
func (c *Client) DeregisterEdgeNode(ctx context.Context, node string) error {
	addr, err := c.resolveWithRetry(ctx, node)
	if err != nil {
		return err
	}
	return c.state.BroadcastUpdateFleet(ctx, state.FleetUpdate{Address: addr, Action: -1})
}

func (c *Client) resolveWithRetry(ctx context.Context, node string) (string, error) {
	for {
		if addr := c.dir.Address(node); bc.IsAddress(addr) {
			return addr, nil
		}
		c.log.Debug("node not resolvable yet, retrying", zap.String("node", node))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.stop:
			return "", request.ErrShutdown
		case <-time.After(registerRetry):
		}
	}
}

// Close shuts the client down: outstanding requests are rejected, the
// workers are stopped, and the bus and state backends are released.
// Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.registry.Shutdown()
		// Workers stop first, while the run loop still drains their
		// reports; the reverse order can wedge on a full report buffer.
		for _, w := range c.workers {
			w.Stop()
		}
		close(c.stop)
		if c.running {
			<-c.done
		}
		if c.conn != nil {
			c.conn.Close()
		}
		if c.state != nil {
			if err := c.state.Close(); err != nil {
				c.log.Warn("state close failed", zap.Error(err))
			}
		}
		if c.rdb != nil {
			_ = c.rdb.Close()
		}
		c.log.Info("client closed")
	})
}

// ── event payload coercion ──
//
// Broadcast data arrives as native Go values from the in-process backend
// and as decoded JSON from Redis; both shapes are accepted.

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toWatches(v any) []state.Watch {
	switch t := v.(type) {
	case []state.Watch:
		return t
	case []any:
		out := make([]state.Watch, 0, len(t))
		for _, item := range t {
			if w := toStrings(item); w != nil {
				out = append(out, state.Watch(w))
			}
		}
		return out
	default:
		return nil
	}
}

func notificationFromRecord(record map[string]any) *request.Notification {
	data, _ := record["data"].(map[string]any)
	return &request.Notification{
		Path:      toStrings(record["path"]),
		Code:      asString(record["code"]),
		Type:      asString(record["type"]),
		Tag:       asString(record["tag"]),
		SessionID: asString(record["session_id"]),
		Text:      asString(record["text"]),
		Data:      data,
	}
}
