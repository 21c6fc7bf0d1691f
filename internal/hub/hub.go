// Package hub bridges the routing engine to editor clients and the
// external authority over HTTP and websocket. Authority snapshots
// travel down into per-session sync controllers; engine emissions
// travel up into the flow-document registry and out to clients.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	core "github.com/signalsfoundry/flowcanvas/core"
	"github.com/signalsfoundry/flowcanvas/internal/logging"
	"github.com/signalsfoundry/flowcanvas/kb"
	"github.com/signalsfoundry/flowcanvas/model"
)

// Server exposes the hub HTTP surface.
type Server struct {
	sm       *SessionManager
	flows    *kb.FlowBase
	log      logging.Logger
	auth     *TokenService
	upgrader websocket.Upgrader
}

// NewServer constructs a hub server. auth may be nil to disable token
// checks.
func NewServer(sm *SessionManager, flows *kb.FlowBase, log logging.Logger, auth *TokenService) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{
		sm:    sm,
		flows: flows,
		log:   log,
		auth:  auth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the hub route tree with session-id and tracing
// middleware applied. Metrics middleware composes on top in the
// binary.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/sessions", s.route("/api/sessions", http.HandlerFunc(s.handleCreateSession)))
	mux.Handle("DELETE /api/sessions/{id}", s.route("/api/sessions", http.HandlerFunc(s.handleDeleteSession)))
	mux.Handle("GET /api/documents", s.route("/api/documents", http.HandlerFunc(s.handleListDocuments)))
	mux.Handle("GET /api/documents/{name}", s.route("/api/documents", http.HandlerFunc(s.handleGetDocument)))
	mux.Handle("PUT /api/documents/{name}", s.route("/api/documents", http.HandlerFunc(s.handlePutDocument)))
	mux.Handle("GET /api/ws", s.route("/api/ws", http.HandlerFunc(s.handleWS)))
	return SessionIDMiddleware(s.log, mux)
}

func (s *Server) route(name string, h http.Handler) http.Handler {
	return TracingMiddleware(name, s.auth.Middleware(h))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Document string `json:"document"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, fmt.Errorf("%w: %v", ErrInvalidEntity, err))
		return
	}

	sess, err := s.sm.Create(req.Document)
	if err != nil {
		WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"sessionId": sess.ID,
		"document":  sess.Document,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sm.Get(id); err != nil {
		WriteError(w, err)
		return
	}
	s.sm.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]string{"documents": s.flows.List()})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	doc, ok := s.flows.Get(name)
	if !ok {
		WriteError(w, fmt.Errorf("%w: %q", kb.ErrDocumentNotFound, name))
		return
	}

	snap := doc.Snapshot
	if r.URL.Query().Get("format") == "nodes" {
		snap = ExpandWaypointNodes(snap)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ServerMessage{
		Type:     MessageSnapshot,
		Document: doc.Name,
		Revision: doc.Revision,
		Snapshot: FromModel(snap),
	})
}

// handlePutDocument is the authority push entry point: the stored
// document updates and every session on it receives the snapshot
// through the registry fan-out.
func (s *Server) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var wire SnapshotWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		WriteError(w, fmt.Errorf("%w: %v", ErrInvalidEntity, err))
		return
	}

	rev, err := s.flows.Put(name, wire.ToModel())
	if err != nil {
		WriteError(w, fmt.Errorf("%w: %v", ErrInvalidEntity, err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"document": name, "revision": rev})
}

//
// ---------- websocket ----------
//

// wsConn serializes frame writes; emissions and read-loop replies race
// on the same connection otherwise.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sm.Get(r.URL.Query().Get("session"))
	if err != nil {
		WriteError(w, err)
		return
	}

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", logging.String("error", err.Error()))
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	unsubEngine := sess.Controller.Subscribe(func(snap model.Snapshot, reason core.EmitReason) {
		_ = conn.send(ServerMessage{
			Type:     MessageEmit,
			Document: sess.Document,
			Reason:   string(reason),
			Snapshot: FromModel(snap),
		})
	})
	defer unsubEngine()

	unsubFlows := s.flows.Subscribe(func(ev kb.Event) {
		if ev.Name != sess.Document || ev.Type != kb.EventDocumentUpdated {
			return
		}
		_ = conn.send(ServerMessage{
			Type:     MessageSnapshot,
			Document: ev.Name,
			Revision: ev.Revision,
			Snapshot: FromModel(ev.Snapshot),
		})
	})
	defer unsubFlows()

	for {
		var msg ClientMessage
		if err := raw.ReadJSON(&msg); err != nil {
			return
		}
		sess.Touch()

		if err := s.dispatch(r.Context(), sess, msg); err != nil {
			_ = conn.send(ServerMessage{Type: MessageError, Error: err.Error()})
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sess *Session, msg ClientMessage) error {
	switch msg.Type {
	case MessageSnapshot:
		if msg.Snapshot == nil {
			return fmt.Errorf("%w: snapshot frame without snapshot", ErrBadMessage)
		}
		sess.Controller.ApplySnapshot(CollapseWaypointNodes(msg.Snapshot.ToModel()))
		return nil

	case MessageGesture:
		if msg.Gesture == nil {
			return fmt.Errorf("%w: gesture frame without gesture", ErrBadMessage)
		}
		return s.applyGesture(ctx, sess, msg.Gesture)

	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadMessage, msg.Type)
	}
}

func (s *Server) applyGesture(ctx context.Context, sess *Session, g *GestureWire) error {
	_, span := StartChildSpan(ctx, "hub.gesture", sess.Document, g.Kind)
	defer span.End()

	ctrl := sess.Controller
	switch g.Kind {
	case GestureDragBegin:
		if g.Pointer == nil {
			return fmt.Errorf("%w: drag_begin without pointer", ErrBadMessage)
		}
		vp := model.Viewport{Zoom: 1}
		if g.Viewport != nil {
			vp = *g.Viewport
		}
		return ctrl.BeginDrag(g.Edge, g.Segment, *g.Pointer, vp)
	case GestureDragMove:
		if g.Pointer == nil {
			return fmt.Errorf("%w: drag_move without pointer", ErrBadMessage)
		}
		return ctrl.MoveDrag(*g.Pointer)
	case GestureDragEnd:
		return ctrl.EndDrag()
	case GestureDragCancel:
		ctrl.CancelDrag()
		return nil
	case GestureWaypointInsert:
		if g.At == nil {
			return fmt.Errorf("%w: waypoint_insert without position", ErrBadMessage)
		}
		return ctrl.InsertWaypoint(g.Edge, *g.At)
	case GestureWaypointRemove:
		return ctrl.RemoveWaypoint(g.Edge, g.Index)
	case GestureEdgeSplit:
		if g.At == nil {
			return fmt.Errorf("%w: edge_split without position", ErrBadMessage)
		}
		_, err := ctrl.SplitEdge(g.Edge, *g.At)
		return err
	case GestureWaypointRejoin:
		return ctrl.RejoinWaypoint(g.Node)
	case GestureNodeMove:
		if g.At == nil {
			return fmt.Errorf("%w: node_move without position", ErrBadMessage)
		}
		return ctrl.MoveNode(g.Node, *g.At)
	case GestureNodeStop:
		return ctrl.StopNodeDrag(g.Node)
	case GestureNodeDelete:
		return ctrl.DeleteNode(g.Node)
	case GestureSelectEdge:
		return ctrl.SelectEdge(g.Edge)
	case GestureHoverEdge:
		ctrl.HoverEdge(g.Edge)
		return nil
	default:
		return fmt.Errorf("%w: unknown gesture %q", ErrBadMessage, g.Kind)
	}
}
