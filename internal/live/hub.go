package live

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/observability/metrics"
	"github.com/aryan0dhankhar/expensetracker/internal/security/middleware"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 16
	pingInterval = 15 * time.Second
	writeWait    = 5 * time.Second
)

// Event is one message on the live feed
type Event struct {
	Type        string `json:"type"`
	Transaction any    `json:"transaction"`
}

type subscriber struct {
	owner  string
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// offer queues msg without blocking. A full buffer closes the subscriber.
func (s *subscriber) offer(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		s.closed = true
		close(s.send)
		return false
	}
}

// Hub fans out transaction events to the websocket subscribers of each owner.
// A subscriber only ever receives its own owner's events.
type Hub struct {
	mu             sync.RWMutex
	subs           map[string]map[*subscriber]struct{}
	allowedOrigins []string
	logger         *slog.Logger
}

func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:           map[string]map[*subscriber]struct{}{},
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// Routes mounts GET {prefix}/live. The mux must sit behind RequireIdentity.
func (h *Hub) Routes(mux *http.ServeMux, prefix string) {
	mux.Handle("GET "+prefix+"/live", h)
}

func (h *Hub) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || middleware.OriginAllowed(h.allowedOrigins, origin) {
				return true
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// ServeHTTP upgrades the request and streams the caller's events until the socket closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, middleware.MissingIdentityMessage)
		return
	}

	upgrader := h.upgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	sub := &subscriber{owner: id.UserID, send: make(chan []byte, sendBuffer)}
	h.add(sub)
	defer h.remove(sub)

	// the read loop only notices the peer going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-sub.send:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"), time.Now().Add(writeWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("live write failed", slog.String("user_id", sub.owner), slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	set, ok := h.subs[s.owner]
	if !ok {
		set = map[*subscriber]struct{}{}
		h.subs[s.owner] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	metrics.IncrementLive()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[s.owner]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.owner)
		}
	}
	h.mu.Unlock()
	s.close()
	metrics.DecrementLive()
}

// Subscribers returns the number of open feeds for ownerID
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}

// Broadcast sends an event to every feed of ownerID. A subscriber whose
// buffer is full is disconnected rather than allowed to stall the caller.
func (h *Hub) Broadcast(ownerID, eventType string, payload any) {
	msg, err := json.Marshal(Event{Type: eventType, Transaction: payload})
	if err != nil {
		h.logger.Error("failed to encode live event", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[ownerID] {
		if !s.offer(msg) {
			h.logger.Warn("dropping slow live subscriber", slog.String("user_id", ownerID))
		}
	}
}
