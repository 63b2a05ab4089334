package client

import (
	"sync"
)

// Application-facing event names. The string values are wire-level
// compatible with the other SDK implementations of the network.
const (
	EventClientBooted       = "CLIENT_BOOTED"
	EventBCAddress          = "BC_ADDRESS"
	EventSysTopicSubscribe  = "CLIENT_SYS_TOPIC_SUBSCRIBE"
	EventEngineRegistered   = "ENGINE_REGISTERED"
	EventEngineDeregistered = "ENGINE_DEREGISTERED"
	EventEngineOnline       = "ENGINE_ONLINE"
	EventEngineOffline      = "ENGINE_OFFLINE"
	EventHeartbeatEngine    = "RECEIVED_HEARTBEAT_FROM_ENGINE"
	EventHeartbeatAddress   = "RECEIVED_HEARTBEAT_FROM_ADDRESS"
	EventSupervisorPayload  = "SUPERVISOR_PAYLOAD"
	EventNotification       = "NOTIFICATION_RECEIVED"
	EventPayload            = "PAYLOAD_RECEIVED"
)

// Event is one application-facing notification. Payload events are
// additionally emitted under their plugin signature as the event name.
type Event struct {
	Name string
	Data map[string]any
}

// Handler consumes events. Handlers run on the client loop goroutine;
// long work must be handed off.
type Handler func(Event)

// emitter is the client's event fan-out. Subscribing returns an
// unsubscribe closure; there is no handler identity to compare.
type emitter struct {
	mu   sync.RWMutex
	subs map[string]map[int]Handler
	next int
}

func newEmitter() *emitter {
	return &emitter{subs: make(map[string]map[int]Handler)}
}

func (e *emitter) on(name string, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs[name] == nil {
		e.subs[name] = make(map[int]Handler)
	}
	id := e.next
	e.next++
	e.subs[name][id] = h
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[name], id)
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.subs[ev.Name]))
	for _, h := range e.subs[ev.Name] {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
