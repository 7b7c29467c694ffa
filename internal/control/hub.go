package control

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leorm1110/music-mixer-ai/internal/studio"
	"golang.org/x/time/rate"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan studio.Readout
}

// Hub pushes transport readouts to websocket clients. Publish never blocks.
// Readouts during playback beyond the configured rate are dropped.
type Hub struct {
	limiter *rate.Limiter

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    studio.Readout
	hasLast bool
}

// NewHub creates a hub delivering at most perSecond readouts per second.
func NewHub(perSecond float64) *Hub {
	if perSecond <= 0 {
		perSecond = 10
	}
	return &Hub{
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		clients: make(map[*wsClient]struct{}),
	}
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Last returns the most recently delivered readout.
func (h *Hub) Last() (studio.Readout, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.hasLast
}

// Publish fans a readout out to every client.
func (h *Hub) Publish(r studio.Readout) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Only steady playback is throttled. Paused readouts come from seek and
	// stop, and no later tick would replace them.
	steady := r.Playing && h.hasLast && h.last.Playing
	if allowed := h.limiter.Allow(); !allowed && steady {
		return
	}
	h.last, h.hasLast = r, true

	for c := range h.clients {
		select {
		case c.send <- r:
		default:
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Readout feed: upgrade: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan studio.Readout, 16)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.hasLast {
		c.send <- h.last
	}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client messages and unregisters on disconnect.
func (h *Hub) readLoop(c *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	for r := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(r); err != nil {
			c.conn.Close()
			return
		}
	}
}
