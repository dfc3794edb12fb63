package answer

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 5 * time.Second
	sendBuffer          = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The page is served from the same server but phones on the LAN may use
	// any host name for it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans messages out to every connected answer page.
type Hub struct {
	mu           sync.Mutex
	clients      map[*client]struct{}
	writeTimeout time.Duration
}

type client struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{}), writeTimeout: defaultWriteTimeout}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client. A client whose queue is full is
// dropped rather than allowed to stall the others.
func (h *Hub) Broadcast(msg Message) {
	data := msg.Encode()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("answer: client send queue full, dropping connection")
			h.removeLocked(c)
		}
	}
	log.Printf("answer: broadcast %s to %d client(s)", msg.Status, len(h.clients))
}

// ServeWS upgrades the request and keeps the connection until the peer leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("answer: websocket upgrade failed: %v", err)
		return
	}
	c := &client{ws: ws, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("answer: client connected from %s (%d total)", r.RemoteAddr, n)

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop drains incoming frames; pages never send anything meaningful but
// reading is how a close is noticed.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	c.ws.SetReadLimit(4096)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer h.remove(c)
	for data := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("answer: write failed: %v", err)
			return
		}
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.once.Do(func() {
		close(c.send)
		_ = c.ws.Close()
	})
	log.Printf("answer: client disconnected (%d left)", len(h.clients))
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}
