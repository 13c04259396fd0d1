package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/gorilla/websocket"

	"github.com/aretw0/gluedoc/internal/metrics"
	"github.com/aretw0/gluedoc/pkg/core"
	"github.com/aretw0/gluedoc/pkg/crdt"
	"github.com/aretw0/gluedoc/pkg/session"
	"github.com/aretw0/gluedoc/pkg/workspace"
)

// Path is the websocket endpoint, relative to the application prefix.
const Path = "/ws"

// Server relays document updates and awareness between the peers of a session.
type Server struct {
	svc      *workspace.Service
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	autosave bool

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	rooms map[string]*room
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServerMetrics records peers and relayed messages.
func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithCheckOrigin overrides the websocket origin check. The default accepts
// every origin.
func WithCheckOrigin(fn func(r *http.Request) bool) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// WithAutosave controls whether a room saves its session when the last peer
// leaves. It is on by default.
func WithAutosave(enabled bool) ServerOption {
	return func(s *Server) {
		s.autosave = enabled
	}
}

// NewServer creates a relay over the sessions of svc.
func NewServer(svc *workspace.Service, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		svc:    svc,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		autosave: true,
		ctx:      ctx,
		cancel:   cancel,
		rooms:    make(map[string]*room),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and joins the room named by the session
// query parameter.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}

	rm, err := s.acquire(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.logger.Warn("failed to open session", "session", id, "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session", id, "error", err)
		s.release(rm, nil)
		return
	}

	p := newPeer(conn)
	rm.add(p)
	s.metrics.PeerConnected()
	s.logger.Debug("peer joined", "session", id, "peer", p.id)

	lifecycle.Go(s.ctx, func(ctx context.Context) error {
		p.writePump()
		return nil
	})

	rm.greet(p)
	s.readPump(rm, p)

	s.release(rm, p)
	s.metrics.PeerDisconnected()
	s.logger.Debug("peer left", "session", id, "peer", p.id)
}

func (s *Server) readPump(rm *room, p *peer) {
	defer p.close()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				s.logger.Warn("websocket read error", "peer", p.id, "error", err)
			}
			return
		}

		env, err := decode(data)
		if err != nil {
			s.logger.Warn("dropping message", "peer", p.id, "error", err)
			continue
		}
		s.metrics.RecordRelayMessage(string(env.Type), "in")
		if err := rm.handle(p, env); err != nil {
			s.logger.Warn("failed to apply message", "peer", p.id, "type", env.Type, "error", err)
		}
	}
}

// acquire returns the room of a session, opening the session on first use.
func (s *Server) acquire(ctx context.Context, id string) (*room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rm, ok := s.rooms[id]; ok {
		rm.pending++
		return rm, nil
	}
	doc, err := s.svc.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	rm := newRoom(id, doc, s)
	rm.pending++
	s.rooms[id] = rm
	return rm, nil
}

// release removes p from its room and tears the room down once nobody is left.
func (s *Server) release(rm *room, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm.pending--
	if p != nil {
		rm.remove(p)
	}
	if rm.pending > 0 {
		return
	}
	delete(s.rooms, rm.id)
	rm.close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.autosave {
		if err := s.svc.Save(ctx, rm.id); err != nil {
			s.logger.Error("failed to save session", "session", rm.id, "error", err)
		}
	}
	if err := s.svc.Close(ctx, rm.id); err != nil {
		s.logger.Warn("failed to close session", "session", rm.id, "error", err)
	}
}

// Close disconnects every peer. Rooms save and close as their peers leave.
func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	var peers []*peer
	for _, rm := range s.rooms {
		peers = append(peers, rm.snapshot(nil)...)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

// Rooms returns the number of connected peers per session.
func (s *Server) Rooms() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.rooms))
	for id, rm := range s.rooms {
		out[id] = len(rm.snapshot(nil))
	}
	return out
}

// room is the set of peers editing one session.
type room struct {
	id     string
	doc    *session.Document
	server *Server

	// pending counts connections holding the room, including ones still upgrading.
	pending int

	mu    sync.RWMutex
	peers map[*peer]struct{}
	offs  []func()
}

func newRoom(id string, doc *session.Document, s *Server) *room {
	rm := &room{
		id:     id,
		doc:    doc,
		server: s,
		peers:  make(map[*peer]struct{}),
	}
	// The relay is not a participant; it only forwards the states of others.
	doc.Awareness().SetLocalState(nil)

	rm.offs = append(rm.offs,
		doc.OnUpdate(rm.onUpdate),
		doc.Awareness().OnChange(rm.onAwareness),
	)
	return rm
}

func (rm *room) add(p *peer) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.peers[p] = struct{}{}
}

// remove drops p and withdraws the awareness states it announced.
func (rm *room) remove(p *peer) {
	rm.mu.Lock()
	delete(rm.peers, p)
	rm.mu.Unlock()
	rm.doc.Awareness().RemoveStates(p.announced(), p)
}

func (rm *room) close() {
	for _, off := range rm.offs {
		off()
	}
	rm.offs = nil
}

func (rm *room) snapshot(except *peer) []*peer {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]*peer, 0, len(rm.peers))
	for p := range rm.peers {
		if p != except {
			out = append(out, p)
		}
	}
	return out
}

// greet sends the full state and the known awareness states to a new peer.
func (rm *room) greet(p *peer) {
	client := rm.doc.ClientID()
	if msg, err := encode(TypeSync, rm.id, client, rm.doc.EncodeState()); err == nil {
		rm.deliver(p, TypeSync, msg)
	}
	if aw := rm.doc.Awareness().EncodeUpdate(); len(aw.Entries) > 0 {
		if msg, err := encode(TypeAwareness, rm.id, client, aw); err == nil {
			rm.deliver(p, TypeAwareness, msg)
		}
	}
}

func (rm *room) handle(p *peer, env Envelope) error {
	switch env.Type {
	case TypeSync, TypeUpdate:
		u, err := env.Update()
		if err != nil {
			return err
		}
		return rm.doc.ApplyUpdate(u, p)
	case TypeAwareness:
		u, err := env.Awareness()
		if err != nil {
			return err
		}
		p.remember(u)
		rm.doc.Awareness().ApplyUpdate(u, p)
	}
	return nil
}

// onUpdate forwards every committed update to all peers except its sender.
func (rm *room) onUpdate(u crdt.Update, origin any) {
	from, _ := origin.(*peer)
	msg, err := encode(TypeUpdate, rm.id, u.Client, u)
	if err != nil {
		rm.server.logger.Error("failed to encode update", "session", rm.id, "error", err)
		return
	}
	rm.broadcast(TypeUpdate, msg, from)
}

func (rm *room) onAwareness(c crdt.AwarenessChange) {
	if c.Local {
		return
	}
	var changed []crdt.ClientID
	changed = append(changed, c.Added...)
	changed = append(changed, c.Updated...)
	changed = append(changed, c.Removed...)

	from, _ := c.Origin.(*peer)
	msg, err := encode(TypeAwareness, rm.id, "", rm.doc.Awareness().EncodeUpdate(changed...))
	if err != nil {
		return
	}
	rm.broadcast(TypeAwareness, msg, from)
}

func (rm *room) broadcast(t MessageType, msg []byte, except *peer) {
	for _, p := range rm.snapshot(except) {
		rm.deliver(p, t, msg)
	}
}

func (rm *room) deliver(p *peer, t MessageType, msg []byte) {
	if !p.queue(msg) {
		rm.server.logger.Warn("peer too slow, disconnecting", "session", rm.id, "peer", p.id)
		return
	}
	rm.server.metrics.RecordRelayMessage(string(t), "out")
}
