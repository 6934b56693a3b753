package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nestbay/realtime/pkg/auth"
	"github.com/nestbay/realtime/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxFrameSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is one live connection with its verified identity attached for the
// connection's entire lifetime.
type Client struct {
	gw   *Gateway
	conn *websocket.Conn

	// Buffered channel of outbound frames. Never closed: handlers and the
	// hub's deliver loop both write here, so shutdown is signalled through
	// done instead.
	send chan []byte

	// done is closed by the hub on unregister; writePump exits on it.
	done chan struct{}

	identity model.Identity

	// groups is the set of hub group keys this connection belongs to.
	// Accessed only through hub methods under the hub's lock.
	groups map[string]bool

	// agent is set once the connection registered for the support queue.
	agent bool
}

// readPump pumps frames from the websocket connection into the dispatcher.
func (c *Client) readPump() {
	defer func() {
		c.gw.disconnect(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("read error for %s: %v", c.identity.ID, err)
			}
			break
		}

		var frame model.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			c.sendError(errInvalidFrame)
			continue
		}
		c.gw.dispatch(c, frame)
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.done:
			// The hub unregistered this connection.
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs authenticates the handshake and starts the connection. A failed
// verification refuses the connection before any handler runs.
func serveWs(gw *Gateway, w http.ResponseWriter, r *http.Request) {
	identity, err := gw.verifier.Verify(auth.BearerToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &Client{
		gw:       gw,
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		identity: identity,
		groups:   make(map[string]bool),
	}
	gw.connect(client)

	go client.writePump()
	go client.readPump()
}
