// Package websocket implements a read-only operator tap: every frame the
// FrontendDispatcher emits to a client is also broadcast, unmodified, to any
// connected debug socket via a one-way event mirror.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Tap fans every Publish call out to every connected operator socket. It
// never reads from a connected client beyond its close/ping frames — it is
// a one-way mirror, not a chat transport.
type Tap struct {
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	logger     *zap.Logger
	mu         sync.RWMutex
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewTap builds an idle Tap. Call Run to start its broadcast loop.
func NewTap(logger *zap.Logger) *Tap {
	return &Tap{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
	}
}

// Run drives the Tap's registration and broadcast loop until ctx is done.
func (t *Tap) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-t.register:
			t.mu.Lock()
			t.clients[c] = struct{}{}
			t.mu.Unlock()
		case c := <-t.unregister:
			t.mu.Lock()
			if _, ok := t.clients[c]; ok {
				delete(t.clients, c)
				close(c.send)
			}
			t.mu.Unlock()
		case frame := <-t.broadcast:
			t.mu.RLock()
			for c := range t.clients {
				select {
				case c.send <- frame:
				default:
				}
			}
			t.mu.RUnlock()
		}
	}
}

// Publish mirrors frame to every connected operator socket. Never blocks:
// if the broadcast channel is full, the frame is dropped for this tick —
// the tap is diagnostic, never on the client-facing hot path.
func (t *Tap) Publish(frame []byte) {
	select {
	case t.broadcast <- frame:
	default:
	}
}

// ServeWS upgrades r into a one-way operator socket subscribed to every
// frame Publish is given from this point forward.
func (t *Tap) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("websocket tap: upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	t.register <- c

	go t.readPump(c)
	go t.writePump(c)
}

// readPump only watches for the client closing the connection; the tap
// never accepts client-originated messages.
func (t *Tap) readPump(c *client) {
	defer func() {
		t.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (t *Tap) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
