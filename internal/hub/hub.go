package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/query"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

const broadcastBufferSize = 1000

// ErrBufferFull is returned by Publish when the broadcast queue is saturated
var ErrBufferFull = errors.New("broadcast buffer full")

// Hub maintains the set of websocket clients and fans result updates out to them
type Hub struct {
	clients   map[*Client]bool
	clientsMu sync.RWMutex

	broadcast  chan ResultUpdate
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	logger  zerolog.Logger
	metrics *metrics.Metrics

	totalConnections int64
	totalMessages    int64
	metricsMu        sync.Mutex
}

var _ contracts.Sink = (*Hub)(nil)

// NewHub creates a new Hub instance
func NewHub(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan ResultUpdate, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
		metrics:    m,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("Hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case update := <-h.broadcast:
			h.broadcastUpdate(update)
		}
	}
}

// Name identifies the hub as a sink
func (h *Hub) Name() string {
	return "websocket"
}

// Publish queues a created or updated event for broadcast (non-blocking)
func (h *Hub) Publish(_ context.Context, event *models.Event, outcome models.UpsertOutcome) error {
	update := ResultUpdate{
		Outcome: string(outcome),
		Event:   query.NewEventView(event),
	}

	select {
	case h.broadcast <- update:
		return nil
	default:
		return ErrBufferFull
	}
}

// Register adds a client to the hub. It is a no-op once the hub has stopped.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// registerClient adds a client to the active clients map
func (h *Hub) registerClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.metricsMu.Lock()
	h.totalConnections++
	h.metricsMu.Unlock()

	h.metrics.SetWSClients(count)
	h.logger.Debug().Str("client_id", c.ID).Int("clients", count).Msg("Client connected")
}

// unregisterClient removes a client from the active clients map
func (h *Hub) unregisterClient(c *Client) {
	h.clientsMu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.Send)
	}
	count := len(h.clients)
	h.clientsMu.Unlock()

	if ok {
		h.metrics.SetWSClients(count)
		h.logger.Debug().Str("client_id", c.ID).Int("clients", count).Msg("Client disconnected")
	}
}

// broadcastUpdate sends an update to every client whose filter matches
func (h *Hub) broadcastUpdate(update ResultUpdate) {
	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	message := ServerMessage{
		Type:      MessageTypeResultUpdate,
		Payload:   update,
		Timestamp: time.Now(),
	}

	sent := 0
	for _, c := range clients {
		if !c.MatchesFilter(update) {
			continue
		}

		if c.TrySend(message) {
			sent++
			continue
		}

		// Too slow to keep up; drop the connection
		h.logger.Warn().Str("client_id", c.ID).Msg("Client buffer full, disconnecting")
		h.unregisterClient(c)
	}

	if sent > 0 {
		h.metricsMu.Lock()
		h.totalMessages++
		h.metricsMu.Unlock()
	}
}

// GetMetrics returns hub metrics
func (h *Hub) GetMetrics() map[string]interface{} {
	h.clientsMu.RLock()
	activeClients := len(h.clients)
	h.clientsMu.RUnlock()

	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()

	return map[string]interface{}{
		"active_clients":     activeClients,
		"total_connections":  h.totalConnections,
		"total_messages":     h.totalMessages,
		"broadcast_capacity": cap(h.broadcast),
		"broadcast_usage":    len(h.broadcast),
	}
}

// GetClientCount returns the number of active clients
func (h *Hub) GetClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// shutdown closes all client connections
func (h *Hub) shutdown() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	h.logger.Info().Int("clients", len(h.clients)).Msg("Shutting down hub")

	for c := range h.clients {
		close(c.Send)
		delete(h.clients, c)
	}
	h.metrics.SetWSClients(0)
}
