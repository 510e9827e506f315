package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/perpdex/keeper-gateway/internal/metrics"
	"github.com/perpdex/keeper-gateway/internal/poller"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser frontends connect from other origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans poller updates out to connected WebSocket clients. The stream
// is one-way: inbound frames are read only to detect disconnects.
type Hub struct {
	clients    map[*wsClient]bool
	connected  atomic.Int32
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	stopOnce   sync.Once
	stopCh     chan bool
}

// NewHub creates an idle hub. Run must be started for clients to attach.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 64),
		stopCh:     make(chan bool),
	}
}

// Run owns the client set. It exits when Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.connected.Store(int32(len(h.clients)))
			metrics.WSClientConnected()
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.connected.Store(int32(len(h.clients)))
				close(client.send)
				metrics.WSClientDisconnected()
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumers are dropped instead of back-pressuring
					// the broadcast path
					delete(h.clients, client)
					close(client.send)
					metrics.WSClientDisconnected()
				}
			}
			h.connected.Store(int32(len(h.clients)))
		case <-h.stopCh:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				metrics.WSClientDisconnected()
			}
			h.connected.Store(0)
			return
		}
	}
}

// Stop disconnects every client and ends the run loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	return int(h.connected.Load())
}

// BroadcastUpdate is the poller subscriber: it encodes the update and
// queues it for every client. It never blocks the polling goroutine.
func (h *Hub) BroadcastUpdate(update poller.Update) {
	data, err := json.Marshal(update)
	if err != nil {
		logrus.WithField("app", "keeper-gateway").Errorf("Failed to encode price update: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.stopCh:
	default:
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithField("app", "keeper-gateway").Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, 64)}
	select {
	case h.register <- client:
	case <-h.stopCh:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) readPump() {
	defer func() {
		// stopCh keeps this from blocking when the hub already exited
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopCh:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithField("app", "keeper-gateway").Debugf("WebSocket read error: %v", err)
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
