package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ladiesman540/crane-platform/internal/adapters/observability"
	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

const (
	DefaultPingPeriod = 27 * time.Second
	DefaultPongWait   = 30 * time.Second
	DefaultSendBuffer = 64
	writeWait         = 10 * time.Second
)

type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu           sync.Mutex
	lastActivity time.Time
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Hub owns every live session. All sessions receive the same encoded event;
// a session whose send buffer is full misses that event.
type Hub struct {
	obs        ports.Observability
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	pongWait   time.Duration
	sendBuffer int

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

type Option func(*Hub)

// WithLiveness overrides the ping interval and the pong deadline.
func WithLiveness(ping, pong time.Duration) Option {
	return func(h *Hub) {
		if ping > 0 {
			h.pingPeriod = ping
		}
		if pong > 0 {
			h.pongWait = pong
		}
	}
}

func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func NewHub(obs ports.Observability, opts ...Option) *Hub {
	h := &Hub{
		obs: obs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingPeriod: DefaultPingPeriod,
		pongWait:   DefaultPongWait,
		sendBuffer: DefaultSendBuffer,
		sessions:   make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves the session until it drops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.obs.LogWarn("websocket upgrade failed", ports.F("remote", r.RemoteAddr), ports.F("err", err.Error()))
		return
	}
	s := &session{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, h.sendBuffer),
		lastActivity: time.Now(),
	}
	if !h.register(s) {
		conn.Close()
		return
	}
	h.obs.LogInfo("live session connected", ports.F("session", s.id), ports.F("remote", r.RemoteAddr))

	go h.writePump(s)
	h.readPump(s)
}

func (h *Hub) register(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	h.obs.SetGauge(observability.LiveSessions, float64(len(h.sessions)))
	return true
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	close(s.send)
	h.obs.SetGauge(observability.LiveSessions, float64(len(h.sessions)))
}

// readPump only exists to observe pongs and disconnects; inbound messages
// are ignored.
func (h *Hub) readPump(s *session) {
	defer func() {
		h.unregister(s)
		s.conn.Close()
		h.obs.LogInfo("live session closed", ports.F("session", s.id))
	}()
	s.conn.SetReadLimit(4096)
	s.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return s.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
		s.touch()
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast encodes ev once and queues it on every session without blocking.
func (h *Hub) Broadcast(ev domain.LiveEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.obs.LogError("encode live event", err, ports.F("sensor", ev.SensorID))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		select {
		case s.send <- msg:
		default:
			h.obs.LogDebug("live session buffer full, event dropped",
				ports.F("session", s.id), ports.F("reading_id", string(ev.ReadingID)))
		}
	}
}

func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close disconnects every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		h.unregister(s)
	}
}

var _ ports.Broadcaster = (*Hub)(nil)
