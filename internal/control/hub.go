package control

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/agentfabric/fabric/pkg/logger"
	"github.com/agentfabric/fabric/pkg/util"
)

const outboxSize = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: checkLocalOrigin,
}

// checkLocalOrigin allows connections with no Origin header (CLI/IDE
// clients) or one naming localhost/127.0.0.1/[::1].
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
		"http://[::1]", "https://[::1]",
	} {
		if len(origin) >= len(allowed) && origin[:len(allowed)] == allowed {
			return true
		}
	}
	logger.Warnw("control: rejected non-local websocket origin", "origin", origin)
	return false
}

type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// conn wraps one websocket connection with a serialized write path, since
// gorilla/websocket forbids concurrent writers on the same connection.
type conn struct {
	ws        *websocket.Conn
	outbox    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws, outbox: make(chan []byte, outboxSize), closeCh: make(chan struct{})}
}

func (c *conn) enqueue(data []byte) bool {
	select {
	case <-c.closeCh:
		return false
	default:
	}
	select {
	case c.outbox <- data:
		return true
	default:
		return false // slow consumer: drop rather than block the hub
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		_ = c.ws.Close()
	})
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case data := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

// hub fans out admin command results to every connected admin websocket
// client. Metrics snapshots are written per connection by handleWebSocket,
// and audit events are not pushed.
type hub struct {
	mu      sync.Mutex
	clients map[*conn]struct{}
}

func newHub() *hub { return &hub{clients: make(map[*conn]struct{})} }

func (h *hub) add(c *conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *hub) broadcastEvent(eventType string, data any) {
	payload, err := json.Marshal(event{Type: eventType, Data: data})
	if err != nil {
		logger.Errorw("control: marshal websocket event failed", "error", err)
		return
	}

	h.mu.Lock()
	clients := make([]*conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.enqueue(payload) {
			logger.Warnw("control: websocket client outbox full, dropping event")
		}
	}
}

// handleWebSocket upgrades the connection and streams periodic metrics
// snapshots plus any broadcast admin command results until the client
// disconnects.
func (s *Server) handleWebSocket(c *gin.Context) {
	subject, ok := s.bearerSubject(c)
	if !ok {
		return
	}
	_ = subject // authenticated; the stream itself carries no per-subject filtering yet

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnw("control: websocket upgrade failed", "error", err)
		return
	}

	client := newConn(ws)
	s.hub.add(client)
	defer s.hub.remove(client)

	util.SafeGo(client.writeLoop)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				client.close()
				return
			}
		}
	}()

	for {
		select {
		case <-client.closeCh:
			return
		case <-ticker.C:
			payload, err := json.Marshal(event{Type: "metrics", Data: s.fabric.Metrics.Dump()})
			if err != nil {
				continue
			}
			if !client.enqueue(payload) {
				return
			}
		}
	}
}
