package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"weatherview/internal/models"
	"weatherview/internal/view"
)

const (
	TypeState  = "view.state"
	TypeClosed = "view.closed"
)

type Event struct {
	Type  string            `json:"type"`
	ID    string            `json:"id"`
	State *models.ViewState `json:"state,omitempty"`
	At    time.Time         `json:"at"`
}

// Hub fans view state snapshots out to WebSocket subscribers of that view.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	viewID string
	conn   *websocket.Conn
	send   chan []byte

	// Highest state revision queued for this client; guarded by Hub.mu.
	sent    bool
	lastRev uint64
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// Serve upgrades the request and streams state events for viewID. The client
// is registered before snapshot is read, so a change committed while the
// connection is being set up is either in the snapshot or broadcast after it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, viewID string, snapshot func() models.ViewState) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{viewID: viewID, conn: conn, send: make(chan []byte, 16)}
	h.addClient(c)

	st := snapshot()
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		h.sendStateLocked(c, st)
	}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) ViewUpdated(ev view.Event) {
	st := ev.State
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.viewID == st.ID {
			h.sendStateLocked(c, st)
		}
	}
}

// CloseView tells subscribers the view is gone and disconnects them.
func (h *Hub) CloseView(viewID string) {
	b, err := encode(Event{Type: TypeClosed, ID: viewID})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.viewID != viewID {
			continue
		}
		select {
		case c.send <- b:
		default:
		}
		h.dropLocked(c)
	}
}

func (h *Hub) Subscribers(viewID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		if c.viewID == viewID {
			n++
		}
	}
	return n
}

func encode(ev Event) ([]byte, error) {
	ev.At = time.Now().UTC()
	return json.Marshal(ev)
}

// sendStateLocked queues st unless the client already has this revision or a newer one.
func (h *Hub) sendStateLocked(c *client, st models.ViewState) {
	if c.sent && st.Rev <= c.lastRev {
		return
	}
	b, err := encode(Event{Type: TypeState, ID: st.ID, State: &st})
	if err != nil {
		return
	}
	select {
	case c.send <- b:
		c.sent = true
		c.lastRev = st.Rev
	default:
		// Slow client; drop it.
		h.dropLocked(c)
	}
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.dropLocked(c)
	}
}

// dropLocked closes send; writePump drains what is queued and then closes the connection.
func (h *Hub) dropLocked(c *client) {
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(25 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
