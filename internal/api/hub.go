package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meterlink/meterlink-core/internal/infrastructure/config"
	"github.com/meterlink/meterlink-core/internal/infrastructure/logging"
	"github.com/meterlink/meterlink-core/internal/meter"
)

// MsgTypeMeterData is the type of every reading pushed to live viewers.
const MsgTypeMeterData = "meter_data"

var (
	// ErrSlowConsumer is returned by Send when a viewer's buffer is full.
	ErrSlowConsumer = errors.New("api: viewer send buffer full")

	// ErrConnectionClosed is returned by Send after the viewer was closed.
	ErrConnectionClosed = errors.New("api: viewer connection closed")
)

// Conn is a live viewer as seen by the Hub. Send must not block.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// MeterDataMessage is the frame pushed to viewers for each reading.
type MeterDataMessage struct {
	Type      string        `json:"type"`
	Data      meter.Reading `json:"data"`
	Timestamp string        `json:"timestamp"`
}

// Hub tracks live viewers and fans readings out to them.
//
// Delivery is at-most-once: a viewer that is not registered when a reading
// is broadcast misses it, and a viewer whose Send fails is dropped. Clients
// backfill through the readings endpoints.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[Conn]string // conn -> serial filter ("" = all meters)

	broadcasts atomic.Uint64
	delivered  atomic.Uint64
	dropped    atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[Conn]string),
	}
}

// Run blocks until ctx is cancelled, then disconnects every viewer.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a viewer. A non-empty filterSerial limits it to one meter.
// Registering an existing viewer replaces its filter.
func (h *Hub) Register(conn Conn, filterSerial string) {
	h.mu.Lock()
	h.clients[conn] = filterSerial
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("live viewer registered", "serial_filter", filterSerial, "clients", n)
}

// SetFilter changes the serial filter of a registered viewer.
// It reports false if the viewer is not registered.
func (h *Hub) SetFilter(conn Conn, filterSerial string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; !ok {
		return false
	}
	h.clients[conn] = filterSerial
	return true
}

// Unregister removes a viewer and closes it. Safe to call more than once;
// only the call that removes the viewer closes it.
func (h *Hub) Unregister(conn Conn) {
	h.mu.Lock()
	_, existed := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.mu.Unlock()

	if !existed {
		return
	}
	if err := conn.Close(); err != nil {
		h.logger.Debug("closing live viewer", "error", err)
	}
	h.logger.Debug("live viewer unregistered", "clients", n)
}

// Broadcast serialises r once and sends it to every matching viewer.
// Viewers whose Send fails are unregistered; others are unaffected.
// It returns the number of viewers the frame was handed to.
func (h *Hub) Broadcast(r meter.Reading) int {
	data, err := json.Marshal(MeterDataMessage{
		Type:      MsgTypeMeterData,
		Data:      r,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return 0
	}
	h.broadcasts.Add(1)

	// Snapshot under the read lock; sends happen without holding it.
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.clients))
	for conn, filter := range h.clients {
		if filter == "" || filter == r.SerialNumber {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, conn := range targets {
		if err := conn.Send(data); err != nil {
			h.dropped.Add(1)
			h.logger.Debug("dropping live viewer", "error", err)
			h.Unregister(conn)
			continue
		}
		sent++
	}
	h.delivered.Add(uint64(sent)) //nolint:gosec // sent is never negative
	return sent
}

// ClientCount returns the number of registered viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HubStats are cumulative fan-out counters.
type HubStats struct {
	Broadcasts uint64 `json:"broadcasts"`
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped_viewers"`
}

// Stats returns cumulative counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Broadcasts: h.broadcasts.Load(),
		Delivered:  h.delivered.Load(),
		Dropped:    h.dropped.Load(),
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	clear(h.clients)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close() //nolint:errcheck // Best-effort close on shutdown
	}
}
