// Package request implements the pending-request registry: every tracked
// command published to the network opens a request whose outcome is
// decided by correlated notifications, timeouts, or shutdown.
package request

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// The source SDK ships these literal values even though the "first
// response" window is far longer than the completion window; they are
// preserved as-is for wire-level compatibility of observable behavior.
const (
	TimeoutToFirstResponse = 1500 * time.Second
	TimeoutMaxRequestTime  = 90 * time.Second
)

var ErrShutdown = errors.New("request: client shutting down")

type targetStatus int

const (
	statusPending targetStatus = iota
	statusOK
	statusFailed
)

// Notification is the request-response record routed to the registry by
// the notification workers.
type Notification struct {
	Path      []string       `json:"path"`
	Code      string         `json:"code"`
	Type      string         `json:"type"`
	Tag       string         `json:"tag"`
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	Data      map[string]any `json:"data"`
}

// Result is handed to the success or failure continuation of a request.
type Result struct {
	RequestID     string
	Success       bool
	Reason        string
	Notifications []*Notification
}

// Callback consumes a terminal Result. Invoked exactly once per request.
type Callback func(Result)

// PathKey joins a watch path into the registry index key.
func PathKey(path []string) string {
	return strings.Join(path, ":")
}

// Pending is one outstanding command.
type Pending struct {
	ID      string
	Action  string
	Watches [][]string

	targets       map[string]targetStatus
	reasons       map[string]string
	notifications []*Notification
	strat         strategy
	gotFirst      bool
	closed        bool

	firstTimer      *time.Timer
	completionTimer *time.Timer

	onSuccess Callback
	onFail    Callback
}

func (p *Pending) isComplete() bool {
	for _, st := range p.targets {
		if st == statusPending {
			return false
		}
	}
	return true
}

func (p *Pending) allOK() bool {
	for _, st := range p.targets {
		if st != statusOK {
			return false
		}
	}
	return true
}

// Registry tracks all open requests of one client and indexes them by
// watched notification path for O(1) routing.
type Registry struct {
	mu           sync.Mutex
	byID         map[string]*Pending
	byPath       map[string]*Pending
	closed       bool
	firstTimeout time.Duration
	maxTimeout   time.Duration
	onFinish     func(requestID string, watches [][]string)
	log          *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		byID:         make(map[string]*Pending),
		byPath:       make(map[string]*Pending),
		firstTimeout: TimeoutToFirstResponse,
		maxTimeout:   TimeoutMaxRequestTime,
		log:          log,
	}
}

// OnFinish registers a hook invoked once per request when it reaches a
// terminal state, with the watch paths it held. The client uses it to
// retract the watchlist entries registered at publish time; requests
// without watches never fire it.
func (r *Registry) OnFinish(fn func(requestID string, watches [][]string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinish = fn
}

// SetTimeouts overrides the request timers. Zero keeps the default.
func (r *Registry) SetTimeouts(first, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if first > 0 {
		r.firstTimeout = first
	}
	if max > 0 {
		r.maxTimeout = max
	}
}

// Open registers a request for action over the given watch paths. With
// no watches the command is fire-and-forget: the request resolves on the
// spot with a synthetic notification. Returns nil after Shutdown.
func (r *Registry) Open(action string, watches [][]string, onSuccess, onFail Callback) *Pending {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if onFail != nil {
			onFail(Result{Success: false, Reason: ErrShutdown.Error()})
		}
		return nil
	}

	p := &Pending{
		ID:        uuid.NewString(),
		Action:    action,
		Watches:   watches,
		targets:   make(map[string]targetStatus, len(watches)),
		reasons:   make(map[string]string),
		strat:     strategyFor(action),
		onSuccess: onSuccess,
		onFail:    onFail,
	}
	for _, w := range watches {
		key := PathKey(w)
		p.targets[key] = statusPending
		r.byPath[key] = p
	}
	r.byID[p.ID] = p

	if len(watches) == 0 {
		r.finishLocked(p, true, "fire-and-forget", []*Notification{{
			Code: "SYNTHETIC_OK",
			Text: "command published, no notifications expected",
		}})
		r.mu.Unlock()
		return p
	}

	p.firstTimer = time.AfterFunc(r.firstTimeout, func() { r.timeout(p, "no response before first-response timeout") })
	p.completionTimer = time.AfterFunc(r.maxTimeout, func() { r.timeout(p, "request did not complete in time") })
	r.mu.Unlock()
	return p
}

// HandleNotification routes a notification to the request watching its
// path or session id. Returns false when nothing matched.
func (r *Registry) HandleNotification(n *Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := PathKey(n.Path)
	p := r.byPath[key]
	if p == nil && n.SessionID != "" {
		p = r.byID[n.SessionID]
	}
	if p == nil || p.closed {
		return false
	}

	if !p.gotFirst {
		p.gotFirst = true
		if p.firstTimer != nil {
			p.firstTimer.Stop()
		}
	}
	p.notifications = append(p.notifications, n)

	if _, watched := p.targets[key]; watched {
		switch {
		case n.Type == TypeException:
			p.targets[key] = statusFailed
			p.reasons[key] = n.Text
		case p.strat.resolve[n.Code]:
			p.targets[key] = statusOK
		case p.strat.reject[n.Code]:
			p.targets[key] = statusFailed
			p.reasons[key] = n.Text
		}
	}

	// An exception anywhere forces the reject through, pending targets
	// included.
	if n.Type == TypeException {
		r.finishLocked(p, false, "remote exception", p.notifications)
		return true
	}

	if p.isComplete() {
		if p.allOK() {
			r.finishLocked(p, true, "", p.notifications)
		} else {
			r.finishLocked(p, false, "one or more targets failed", p.notifications)
		}
	}
	return true
}

// Len reports the number of open requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Shutdown rejects every open request with a shutdown reason and refuses
// new ones.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, p := range r.byID {
		if !p.closed {
			r.finishLocked(p, false, ErrShutdown.Error(), p.notifications)
		}
	}
}

func (r *Registry) timeout(p *Pending, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.closed {
		return
	}
	r.log.Debug("request timed out",
		zap.String("request_id", p.ID),
		zap.String("action", p.Action),
		zap.String("reason", reason))
	synthetic := &Notification{
		Code: "TIMEOUT",
		Type: "TIMEOUT",
		Text: reason,
	}
	r.finishLocked(p, false, "timeout", append(p.notifications, synthetic))
}

// finishLocked closes p, clears its timers and index entries, and fires
// the matching continuation. Caller holds r.mu.
func (r *Registry) finishLocked(p *Pending, success bool, reason string, notifications []*Notification) {
	if p.closed {
		return
	}
	p.closed = true
	if p.firstTimer != nil {
		p.firstTimer.Stop()
	}
	if p.completionTimer != nil {
		p.completionTimer.Stop()
	}
	for key := range p.targets {
		if r.byPath[key] == p {
			delete(r.byPath, key)
		}
	}
	delete(r.byID, p.ID)

	if r.onFinish != nil && len(p.Watches) > 0 {
		go r.onFinish(p.ID, p.Watches)
	}

	res := Result{
		RequestID:     p.ID,
		Success:       success,
		Reason:        reason,
		Notifications: notifications,
	}
	cb := p.onFail
	if success {
		cb = p.onSuccess
	}
	if cb == nil {
		return
	}
	// Continuations run outside the lock; they may publish again.
	go cb(res)
}
