package server

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cardclash/internal/accounts"
	"cardclash/internal/game"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// conn is one live duplex channel, bound to exactly one identity.
type conn struct {
	id       string
	identity game.Identity
	hub      *Hub
	ws       *websocket.Conn
	send     chan Envelope

	// sessionID is guarded by hub.mu.
	sessionID string

	once sync.Once
}

func newConn(h *Hub, identity game.Identity, ws *websocket.Conn) *conn {
	return &conn{
		id:       "c_" + uuid.NewString(),
		identity: identity,
		hub:      h,
		ws:       ws,
		send:     make(chan Envelope, sendBuffer),
	}
}

// deliver queues an outbound message. Best-effort: a connection that cannot
// keep up loses the message, never the sender's state change.
func (c *conn) deliver(env Envelope) {
	select {
	case c.send <- env:
	default:
		log.Printf("ws: send buffer full, dropping %s for %s", env.Type, c.id)
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.hub.Unregister(c.id)
	})
}

func (c *conn) readPump() {
	defer c.close()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read error id=%s: %v", c.id, err)
			}
			return
		}
		c.hub.Dispatch(c, env)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case env, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				log.Printf("ws: write error id=%s: %v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS authenticates, upgrades, and registers a connection. A bad
// credential is rejected with 401 before any registry entry exists.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var identity game.Identity
	if q.Get("guest") == "1" {
		identity = accounts.Guest(q.Get("name"))
	} else {
		token := q.Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		resolved, err := h.auth.Resolve(r.Context(), token)
		if err != nil {
			log.Printf("ws: auth rejected from %s: %v", r.RemoteAddr, err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		identity = resolved
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newConn(h, identity, ws)
	h.Register(c)
	c.deliver(envelope(evConnected, map[string]any{"identity": identity, "connectionId": c.id}))
	go c.writePump()
	go c.readPump()
}
