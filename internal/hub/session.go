package hub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	core "github.com/signalsfoundry/flowcanvas/core"
	"github.com/signalsfoundry/flowcanvas/internal/logging"
	"github.com/signalsfoundry/flowcanvas/kb"
	"github.com/signalsfoundry/flowcanvas/model"
	"github.com/signalsfoundry/flowcanvas/timectrl"
)

const (
	sessionTimeout  = 30 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// Session binds one editing surface to its own sync controller over a
// shared flow document. The controller owns the live canvas; the
// session shuttles snapshots between it and the registry.
type Session struct {
	ID         string
	Document   string
	Controller *core.SyncController
	CreatedAt  time.Time

	mu       sync.Mutex
	lastUsed time.Time
	// selfWrites and lastPut suppress echo: registry events fired during
	// or by this session's own write are not re-applied to its own
	// controller. The fan-out in FlowBase.Put runs before Put returns,
	// so a revision check alone would always miss the first echo.
	selfWrites  int
	lastPut     int64
	unsubEngine func()
	unsubFlows  func()
	closed      bool
}

func (s *Session) beginSelfWrite() {
	s.mu.Lock()
	s.selfWrites++
	s.mu.Unlock()
}

func (s *Session) endSelfWrite(rev int64) {
	s.mu.Lock()
	s.selfWrites--
	if rev > s.lastPut {
		s.lastPut = rev
	}
	s.mu.Unlock()
}

func (s *Session) isEcho(rev int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfWrites > 0 || rev <= s.lastPut
}

// Touch refreshes the idle timer.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubEngine, unsubFlows := s.unsubEngine, s.unsubFlows
	s.mu.Unlock()

	if unsubEngine != nil {
		unsubEngine()
	}
	if unsubFlows != nil {
		unsubFlows()
	}
	s.Controller.Close()
}

// SessionManager tracks live editing sessions and wires each one to the
// flow-document registry.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	flows   *kb.FlowBase
	log     logging.Logger
	clock   timectrl.Clock
	profile core.Profile
	metrics core.SyncMetricsRecorder

	stop chan struct{}
	once sync.Once
}

// SessionOption adjusts manager construction.
type SessionOption func(*SessionManager)

// WithSessionClock overrides the clock handed to each controller.
func WithSessionClock(clock timectrl.Clock) SessionOption {
	return func(sm *SessionManager) { sm.clock = clock }
}

// WithSessionProfile overrides the routing profile.
func WithSessionProfile(p core.Profile) SessionOption {
	return func(sm *SessionManager) { sm.profile = p }
}

// WithSessionMetrics attaches a metrics recorder to each controller.
func WithSessionMetrics(m core.SyncMetricsRecorder) SessionOption {
	return func(sm *SessionManager) { sm.metrics = m }
}

// NewSessionManager constructs a manager over the given registry and
// starts the idle-session reaper.
func NewSessionManager(flows *kb.FlowBase, log logging.Logger, opts ...SessionOption) *SessionManager {
	if log == nil {
		log = logging.Noop()
	}
	sm := &SessionManager{
		sessions: make(map[string]*Session),
		flows:    flows,
		log:      log,
		clock:    timectrl.Real(),
		profile:  core.DefaultProfile(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sm)
	}
	go sm.cleanupLoop()
	return sm
}

// Create opens a session on a named document. The controller seeds from
// the document's current snapshot (collapsing node-based waypoint
// chains), engine emissions write back to the registry, and registry
// updates from other writers push down as external snapshots.
func (sm *SessionManager) Create(document string) (*Session, error) {
	if document == "" {
		return nil, fmt.Errorf("%w: empty document name", ErrInvalidEntity)
	}

	id := newID()
	opts := []core.SyncOption{
		core.WithClock(sm.clock),
		core.WithProfile(sm.profile),
	}
	if sm.metrics != nil {
		opts = append(opts, core.WithMetricsRecorder(sm.metrics))
	}
	ctrl := core.NewSyncController(sm.log.With(logging.String("session_id", id)), opts...)

	sess := &Session{
		ID:         id,
		Document:   document,
		Controller: ctrl,
		CreatedAt:  time.Now(),
		lastUsed:   time.Now(),
	}

	if doc, ok := sm.flows.Get(document); ok {
		ctrl.ApplySnapshot(CollapseWaypointNodes(doc.Snapshot))
	}

	sess.unsubEngine = ctrl.Subscribe(func(snap model.Snapshot, reason core.EmitReason) {
		sess.beginSelfWrite()
		rev, err := sm.flows.Put(document, snap)
		sess.endSelfWrite(rev)
		if err != nil {
			sm.log.Warn(context.Background(), "flow registry write failed",
				logging.String("document", document),
				logging.String("error", err.Error()))
		}
	})

	sess.unsubFlows = sm.flows.Subscribe(func(ev kb.Event) {
		if ev.Name != document || ev.Type != kb.EventDocumentUpdated {
			return
		}
		if sess.isEcho(ev.Revision) {
			return
		}
		ctrl.ApplySnapshot(CollapseWaypointNodes(ev.Snapshot))
	})

	sm.mu.Lock()
	sm.sessions[id] = sess
	sm.mu.Unlock()

	sm.log.Info(context.Background(), "session created",
		logging.String("session_id", id),
		logging.String("document", document))
	return sess, nil
}

// Get retrieves a session by ID.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.RLock()
	sess := sm.sessions[id]
	sm.mu.RUnlock()
	if sess == nil {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Delete removes and closes a session.
func (sm *SessionManager) Delete(id string) {
	sm.mu.Lock()
	sess, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if ok {
		sess.close()
		sm.log.Info(context.Background(), "session deleted", logging.String("session_id", id))
	}
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Close shuts down every session and stops the reaper.
func (sm *SessionManager) Close() {
	sm.once.Do(func() { close(sm.stop) })

	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sm.stop:
			return
		case <-ticker.C:
		}

		now := time.Now()
		var expired []string
		sm.mu.RLock()
		for id, sess := range sm.sessions {
			sess.mu.Lock()
			idle := now.Sub(sess.lastUsed)
			sess.mu.Unlock()
			if idle > sessionTimeout {
				expired = append(expired, id)
			}
		}
		sm.mu.RUnlock()

		for _, id := range expired {
			sm.Delete(id)
		}
	}
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}
