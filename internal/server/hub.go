package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/neuraldrift/neuraldrift/internal/journal"
	"github.com/neuraldrift/neuraldrift/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub fans journal events out to websocket subscribers. A client that
// connects with ?since=<seq> first receives every journaled event after seq.
type Hub struct {
	journal  *journal.DB
	backlog  int
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*streamClient
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan journal.Event
	done chan struct{}
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}

// NewHub creates a Hub that replays from j. backlog is the replay page size
// and each client's send buffer.
func NewHub(j *journal.DB, backlog int, log zerolog.Logger) *Hub {
	if backlog <= 0 {
		backlog = 200
	}
	return &Hub{
		journal: j,
		backlog: backlog,
		log:     log,
		upgrader: websocket.Upgrader{
			// The socket is local and owner-only.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*streamClient),
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues ev for every client. Clients whose buffer is full miss
// the event and can catch up with ?since.
func (h *Hub) Broadcast(ev journal.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Warn().Str("client", id).Int64("seq", ev.Seq).Msg("stream client lagging, event dropped")
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		c.close()
	}
}

// ServeWS upgrades the request and streams events until either side hangs up.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var since int64 = -1
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "since must be an integer", http.StatusBadRequest)
			return
		}
		since = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	c := &streamClient{
		conn: conn,
		send: make(chan journal.Event, h.backlog),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[id] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.StreamClients.Set(float64(n))
	h.log.Debug().Str("client", id).Msg("stream client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		n := len(h.clients)
		h.mu.Unlock()
		metrics.StreamClients.Set(float64(n))
		c.close()
		conn.Close()
		h.log.Debug().Str("client", id).Msg("stream client disconnected")
	}()

	go h.write(c, since)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) write(c *streamClient, since int64) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer c.conn.Close()

	last := since
	if since >= 0 {
		var err error
		if last, err = h.replay(c, since); err != nil {
			return
		}
	}

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case ev := <-c.send:
			// A jump in seq means events were dropped while this client
			// lagged; fill the gap from the journal first.
			if since >= 0 && ev.Seq > last+1 {
				var err error
				if last, err = h.replay(c, last); err != nil {
					return
				}
			}
			if ev.Seq <= last {
				continue
			}
			if err := h.send(c, ev); err != nil {
				return
			}
			last = ev.Seq
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// replay sends every journaled event after seq, a page at a time, and
// returns the last seq sent. A journal error ends the replay early; only a
// failed write is returned.
func (h *Hub) replay(c *streamClient, seq int64) (int64, error) {
	for {
		page, err := h.journal.Since(seq, h.backlog)
		if err != nil {
			h.log.Warn().Err(err).Int64("since", seq).Msg("replay journal")
			return seq, nil
		}
		for _, ev := range page {
			if err := h.send(c, ev); err != nil {
				return seq, err
			}
			seq = ev.Seq
		}
		if len(page) < h.backlog {
			return seq, nil
		}
	}
}

func (h *Hub) send(c *streamClient, ev journal.Event) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}
