package fabric

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/windi/backend/internal/signal"
	"github.com/windi/backend/internal/virtue"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// upgrader validates origins in production (WINDI_ENV=production with
// WINDI_ALLOWED_ORIGINS set); dev allows all.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("WINDI_ENV")
	allowedRaw := os.Getenv("WINDI_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		return func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
	if env == "production" {
		slog.Warn("[Feed] WINDI_ALLOWED_ORIGINS not set in production — allowing all origins")
	}
	return func(r *http.Request) bool { return true }
}

// feedClient is one live dashboard connection. All writes go through the
// Send channel into writePump, so there is exactly one writer per
// connection.
type feedClient struct {
	conn  *websocket.Conn
	send  chan []byte
	token *virtue.Token
	done  chan struct{}
	once  sync.Once
}

// Streamer pushes accepted signals to WebSocket subscribers, filtered by
// each subscriber's Virtue Token. A connection without a valid token
// receives nothing — visibility is enforced server-side even on the feed.
type Streamer struct {
	mu      sync.Mutex
	clients map[*feedClient]bool
	issuer  *virtue.Issuer
	unsub   func()
}

// NewStreamer subscribes to the bus and starts streaming.
func NewStreamer(bus *SignalBus, issuer *virtue.Issuer) *Streamer {
	s := &Streamer{
		clients: make(map[*feedClient]bool),
		issuer:  issuer,
	}
	s.unsub = bus.Subscribe(s.broadcast)
	return s
}

// HandleFeed upgrades the request and registers the connection. The
// Virtue Token rides in the X-Virtue-Token header as serialized JSON.
func (s *Streamer) HandleFeed(w http.ResponseWriter, r *http.Request) {
	rawToken := r.Header.Get("X-Virtue-Token")
	if rawToken == "" {
		http.Error(w, `{"error":"AUTH:MALFORMED_TOKEN missing X-Virtue-Token"}`, http.StatusUnauthorized)
		return
	}
	tok, err := s.issuer.ValidateRaw([]byte(rawToken))
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Feed] Upgrade failed", "error", err)
		return
	}

	c := &feedClient{
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		token: tok,
		done:  make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	slog.Info("[Feed] Subscriber connected", "s_level", tok.SLevel)
	go c.writePump()
	go s.readPump(c)
}

// broadcast filters the signal per client token and queues it. Slow
// clients drop frames rather than block the bus.
func (s *Streamer) broadcast(sig signal.DecodedSignal) {
	s.mu.Lock()
	clients := make([]*feedClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		visible := virtue.FilterSignals([]signal.DecodedSignal{sig}, c.token)
		if len(visible) == 0 {
			continue
		}
		frame, err := json.Marshal(visible[0])
		if err != nil {
			continue
		}
		select {
		case c.send <- frame:
		default:
		}
	}
}

func (s *Streamer) remove(c *feedClient) {
	c.once.Do(func() {
		close(c.done)
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.conn.Close()
	})
}

// readPump owns all reads; its only job is detecting disconnects and
// answering pings.
func (s *Streamer) readPump(c *feedClient) {
	defer s.remove(c)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump owns all writes: data frames, pings, and the close frame.
func (c *feedClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close detaches from the bus and drops all connections.
func (s *Streamer) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	s.mu.Lock()
	clients := make([]*feedClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.remove(c)
	}
}
