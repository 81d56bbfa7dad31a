package querygrid

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig configures live query streaming.
type StreamConfig struct {
	// Enabled turns on WebSocket streaming
	Enabled bool `yaml:"enabled"`
	// BufferSize is the channel buffer size per subscription
	BufferSize int `yaml:"buffer_size"`
	// PingInterval is how often to ping clients
	PingInterval time.Duration `yaml:"ping_interval"`
	// WriteTimeout for WebSocket writes
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MinInterval is the smallest accepted refresh interval
	MinInterval time.Duration `yaml:"min_interval"`
}

// DefaultStreamConfig returns default streaming configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled:      true,
		BufferSize:   16,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		MinInterval:  time.Second,
	}
}

// StreamUpdate is one push to a live query subscriber.
type StreamUpdate struct {
	Columns  []string  `json:"columns,omitempty"`
	Rows     [][]Cell  `json:"rows,omitempty"`
	Types    []TypeTag `json:"types,omitempty"`
	RowCount int       `json:"rowCount"`
	Error    string    `json:"error,omitempty"`
}

// StreamSubscription is an active live query: the hub re-runs the query at
// the subscription's interval and delivers each normalized result.
type StreamSubscription struct {
	ID       string
	Query    string
	Interval time.Duration

	ch      chan StreamUpdate
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	created time.Time
}

// C returns the channel for receiving updates.
func (s *StreamSubscription) C() <-chan StreamUpdate {
	return s.ch
}

// Close closes the subscription.
func (s *StreamSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// StreamHub manages live query subscriptions over one database connection.
type StreamHub struct {
	conn     *Conn
	config   StreamConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	subs   map[string]*StreamSubscription
	nextID uint64
}

// NewStreamHub creates a streaming hub.
func NewStreamHub(conn *Conn, cfg StreamConfig) *StreamHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	return &StreamHub{
		conn:   conn,
		config: cfg,
		logger: slog.Default().With("component", "stream"),
		subs:   make(map[string]*StreamSubscription),
	}
}

// Subscribe starts a live query at the given interval. The returned
// subscription delivers one StreamUpdate per run until Close.
func (h *StreamHub) Subscribe(ctx context.Context, query string, interval time.Duration) *StreamSubscription {
	if interval < h.config.MinInterval {
		interval = h.config.MinInterval
	}

	h.mu.Lock()
	h.nextID++
	id := fmt.Sprintf("sub-%d", h.nextID)
	sub := &StreamSubscription{
		ID:       id,
		Query:    query,
		Interval: interval,
		ch:       make(chan StreamUpdate, h.config.BufferSize),
		done:     make(chan struct{}),
		created:  time.Now(),
	}
	h.subs[id] = sub
	h.mu.Unlock()

	go h.run(ctx, sub)
	return sub
}

// Unsubscribe removes a subscription.
func (h *StreamHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// ActiveSubscriptions returns the number of live subscriptions.
func (h *StreamHub) ActiveSubscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// run executes the subscription's query on its interval and delivers
// updates. Slow consumers drop updates instead of blocking the hub.
func (h *StreamHub) run(ctx context.Context, sub *StreamSubscription) {
	ticker := time.NewTicker(sub.Interval)
	defer ticker.Stop()

	h.deliver(ctx, sub)
	for {
		select {
		case <-ctx.Done():
			h.Unsubscribe(sub.ID)
			return
		case <-sub.done:
			return
		case <-ticker.C:
			h.deliver(ctx, sub)
		}
	}
}

func (h *StreamHub) deliver(ctx context.Context, sub *StreamSubscription) {
	update := StreamUpdate{}
	table, err := h.conn.QueryTable(ctx, sub.Query)
	if err != nil {
		update.Error = err.Error()
	} else {
		update.Columns = table.Columns
		update.Rows = table.Rows
		update.Types = table.Types
		update.RowCount = table.RowCount()
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- update:
	default:
		h.logger.Debug("subscriber lagging, update dropped", "id", sub.ID)
	}
}

type streamRequest struct {
	Query      string `json:"query"`
	IntervalMs int    `json:"intervalMs"`
}

// HandleWebSocket upgrades the request and serves one live query over the
// socket. The client sends a single JSON frame {query, intervalMs}; the
// server pushes a StreamUpdate after every run until either side closes.
func (h *StreamHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.config.Enabled {
		http.Error(w, "streaming disabled", http.StatusNotFound)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	var req streamRequest
	if err := ws.ReadJSON(&req); err != nil || req.Query == "" {
		ws.WriteJSON(StreamUpdate{Error: "expected {query, intervalMs} frame"})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := h.Subscribe(ctx, req.Query, time.Duration(req.IntervalMs)*time.Millisecond)
	defer h.Unsubscribe(sub.ID)

	// Drain client frames so closes are noticed promptly.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	pinger := time.NewTicker(h.config.PingInterval)
	defer pinger.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-sub.C():
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := ws.WriteJSON(update); err != nil {
				return
			}
		case <-pinger.C:
			ws.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
