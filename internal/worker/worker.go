// Package worker implements the ingress worker pool. Each worker owns
// one bus subscription for one stream kind and runs the decode pipeline
// serially: verify, decrypt, parse, filter, format, decode, route. All
// coordination with the client happens over typed channels; workers
// never touch shared state.
package worker

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"github.com/NaeuralEdgeProtocol/go-client/bc"
	"github.com/NaeuralEdgeProtocol/go-client/formatters"
	"github.com/NaeuralEdgeProtocol/go-client/internal/bus"
	"github.com/NaeuralEdgeProtocol/go-client/internal/config"
	"github.com/NaeuralEdgeProtocol/go-client/internal/metrics"
)

const frameBuffer = 256

// Options configures one worker.
type Options struct {
	ID        string
	Kind      Kind
	Bus       config.BusConfig
	Initiator string
	TopicRoot string
	Fleet     []string
	Secure    bool

	Identity   *bc.Identity
	Formatters *formatters.Registry
	Reports    chan<- Report
	Metrics    *metrics.Metrics
	Log        *zap.Logger
}

// Worker consumes one stream. Everything below is owned by the worker
// goroutine; the only entry points are Post, Enqueue and Stop.
type Worker struct {
	opts Options
	log  *zap.Logger

	conn     *bus.Conn
	commands chan Command
	frames   chan []byte
	stop     chan struct{}
	done     chan struct{}

	// worker-local snapshots, updated only via commands
	fleet        map[string]bool
	localState   map[string]map[string]any // address → pipeline → config
	addrByName   map[string]string
	watchlist    map[string][]string // pathKey → inbox ids
	sessionWatch map[string]string   // session id → inbox id
	sticky       map[string]string   // sticky id → inbox id
}

func New(opts Options) *Worker {
	fleet := make(map[string]bool, len(opts.Fleet))
	for _, f := range opts.Fleet {
		fleet[f] = true
	}
	return &Worker{
		opts:         opts,
		log:          opts.Log.With(zap.String("worker", opts.ID), zap.String("kind", string(opts.Kind))),
		commands:     make(chan Command, 64),
		frames:       make(chan []byte, frameBuffer),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		fleet:        fleet,
		localState:   make(map[string]map[string]any),
		addrByName:   make(map[string]string),
		watchlist:    make(map[string][]string),
		sessionWatch: make(map[string]string),
		sticky:       make(map[string]string),
	}
}

// streamFor maps a worker kind to its bus stream suffix.
func streamFor(kind Kind) string {
	switch kind {
	case KindHeartbeats:
		return bus.StreamHeartbeats
	case KindNotifications:
		return bus.StreamNotifications
	default:
		return bus.StreamPayloads
	}
}

// Start connects the worker to the bus (when one is configured) and
// spawns the processing loop. A booted report is posted once the
// subscription is live.
func (w *Worker) Start(ctx context.Context) error {
	if w.opts.Bus.URL != "" {
		conn, err := bus.Connect(w.opts.Bus, "-"+w.opts.ID, nil, w.log)
		if err != nil {
			return err
		}
		topic := bus.InboundTopic(w.opts.Bus.Prefix, w.opts.Initiator, w.opts.TopicRoot, streamFor(w.opts.Kind))
		if err := conn.Subscribe(topic, func(_ string, payload []byte) {
			w.Enqueue(payload)
		}); err != nil {
			conn.Close()
			return err
		}
		w.conn = conn
	}
	go w.loop(ctx)
	w.report(Report{Type: ReportBooted})
	return nil
}

// Enqueue hands a raw bus frame to the worker. Drops when the worker is
// saturated; the bus redelivers at QoS 1.
func (w *Worker) Enqueue(frame []byte) {
	select {
	case w.frames <- frame:
	default:
		w.log.Warn("frame buffer full, dropping")
	}
}

// Post sends a control command. Non-blocking; a full command queue only
// happens when the worker is wedged, and then dropping is the lesser
// evil.
func (w *Worker) Post(cmd Command) {
	select {
	case w.commands <- cmd:
	default:
		w.log.Warn("command buffer full, dropping", zap.String("op", cmd.Op))
	}
}

// Stop terminates the loop and closes the bus connection. Idempotent.
func (w *Worker) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if w.conn != nil {
			w.conn.Close()
		}
		w.report(Report{Type: ReportStopped})
	}()
	w.log.Info("worker running")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case cmd := <-w.commands:
			if cmd.Op == CmdStop {
				return
			}
			w.handleCommand(cmd)
		case frame := <-w.frames:
			w.handleFrame(frame)
		}
	}
}

func (w *Worker) handleCommand(cmd Command) {
	switch cmd.Op {
	case CmdUpdateState:
		pipelines := make(map[string]any, len(cmd.Pipelines))
		for k, v := range cmd.Pipelines {
			pipelines[k] = v
		}
		w.localState[cmd.Address] = pipelines
	case CmdUpdateFleet:
		if cmd.Fleet == nil {
			return
		}
		if cmd.Fleet.Action >= 0 {
			w.fleet[cmd.Fleet.Address] = true
		} else {
			delete(w.fleet, cmd.Fleet.Address)
		}
	case CmdRefreshAddresses:
		byName := make(map[string]string, len(cmd.Nodes))
		n := len(cmd.Nodes)
		if len(cmd.Addresses) < n {
			n = len(cmd.Addresses)
		}
		for i := 0; i < n; i++ {
			byName[cmd.Nodes[i]] = cmd.Addresses[i]
		}
		w.addrByName = byName
	case CmdWatchSession:
		for _, watch := range cmd.Watches {
			key := pathKey(watch)
			w.watchlist[key] = appendUnique(w.watchlist[key], cmd.InboxID)
		}
		if cmd.RequestID != "" {
			w.sessionWatch[cmd.RequestID] = cmd.InboxID
		}
	case CmdIgnoreSession:
		for _, watch := range cmd.Watches {
			key := pathKey(watch)
			w.watchlist[key] = removeString(w.watchlist[key], cmd.InboxID)
			if len(w.watchlist[key]) == 0 {
				delete(w.watchlist, key)
			}
		}
		delete(w.sessionWatch, cmd.RequestID)
	case CmdWatchSticky:
		w.sticky[cmd.StickyID] = cmd.InboxID
	case CmdMemoryUsage:
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		w.report(Report{Type: ReportMemoryUsage, AllocBytes: ms.Alloc})
	default:
		w.log.Warn("unknown command", zap.String("op", cmd.Op))
	}
}

// Is reports whether the worker serves the given stream kind.
func (w *Worker) Is(kind Kind) bool {
	return w.opts.Kind == kind
}

func (w *Worker) report(r Report) {
	r.WorkerID = w.opts.ID
	r.Kind = w.opts.Kind
	w.opts.Reports <- r
}

// resolveAddress normalizes a payload-path node entry to an address
// using the worker's directory snapshot.
func (w *Worker) resolveAddress(nodeOrAddress string) string {
	if bc.IsAddress(nodeOrAddress) {
		return nodeOrAddress
	}
	if addr, ok := w.addrByName[nodeOrAddress]; ok {
		return addr
	}
	return nodeOrAddress
}

func (w *Worker) inFleet(address string) bool {
	if w.fleet["*"] {
		return true
	}
	return w.fleet[address]
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, have := range list {
		if have != s {
			out = append(out, have)
		}
	}
	return out
}
