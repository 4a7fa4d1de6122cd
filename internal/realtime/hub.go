// Package realtime pushes entity changes to every connected websocket client.
package realtime

import (
	"context"
	"sync"

	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/metrics"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/types"
)

// StatsSource computes the aggregate counts sent in STATS_UPDATE
type StatsSource interface {
	Stats(ctx context.Context) (types.PlatformStats, error)
}

// Hub tracks open connections and fans messages out to them.
//
// Delivery is at-most-once: a client whose buffer is full loses the message.
// Frames reach a single client in enqueue order; there is no ordering across clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	// statsMu orders on-connect snapshots against stats broadcasts so a new
	// client never receives counts older than the last broadcast.
	statsMu sync.Mutex
	stats   StatsSource

	logger *logging.Logger
}

// NewHub creates a hub reading aggregate counts from stats
func NewHub(stats StatsSource, logger *logging.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		stats:   stats,
		logger:  logger.WithComponent("realtime-hub"),
	}
}

// Register adds c and queues the current stats snapshot to it alone,
// ahead of any broadcast it will receive
func (h *Hub) Register(ctx context.Context, c *Client) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()

	if st, err := h.stats.Stats(ctx); err != nil {
		h.logger.WithError(err).Warn("failed to compute stats snapshot for new client")
	} else if f, err := encode(StatsUpdate(st)); err == nil {
		c.enqueue(f)
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	h.logger.WithFields(logging.Fields{"client_id": c.ID, "clients": n}).Debug("client registered")
}

// Unregister removes c and closes its queue. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		metrics.WSConnections.Dec()
		h.logger.WithField("client_id", c.ID).Debug("client unregistered")
	}
}

// ClientCount returns the number of open connections
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg to every open connection
func (h *Hub) Broadcast(msg Message) {
	f, err := encode(msg)
	if err != nil {
		h.logger.WithError(err).WithField("type", msg.Type).Error("failed to encode broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.deliver(c, f)
	}
}

// SendToUser queues msg to every connection bound to userID
func (h *Hub) SendToUser(userID int64, msg Message) {
	f, err := encode(msg)
	if err != nil {
		h.logger.WithError(err).WithField("type", msg.Type).Error("failed to encode targeted message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.UserID() == userID {
			h.deliver(c, f)
		}
	}
}

// deliver must be called with h.mu held
func (h *Hub) deliver(c *Client, f frame) {
	if c.enqueue(f) {
		metrics.MessagesSent.WithLabelValues(string(f.kind)).Inc()
		return
	}
	metrics.MessagesDropped.WithLabelValues(string(f.kind)).Inc()
	h.logger.WithFields(logging.Fields{"client_id": c.ID, "type": f.kind}).Warn("dropping message; client buffer full")
}

// BroadcastModelUpdate sends the full model snapshot to everyone
func (h *Hub) BroadcastModelUpdate(m *models.Model) {
	h.Broadcast(ModelUpdate(m))
}

// BroadcastActivity sends a new activity to everyone
func (h *Hub) BroadcastActivity(a *models.Activity) {
	h.Broadcast(ActivityUpdate(a))
}

// BroadcastContribution sends the contribution, then recomputed stats
func (h *Hub) BroadcastContribution(ctx context.Context, c *models.Contribution) {
	h.Broadcast(ContributionUpdate(c))
	h.BroadcastStats(ctx)
}

// BroadcastStats recomputes aggregate counts and sends them to everyone
func (h *Hub) BroadcastStats(ctx context.Context) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()

	st, err := h.stats.Stats(ctx)
	if err != nil {
		h.logger.WithError(err).Error("failed to compute stats")
		return
	}
	h.Broadcast(StatsUpdate(st))
}

// NotifyUserTokens sends a balance update to the user's connections only
func (h *Hub) NotifyUserTokens(userID int64, tokens int) {
	h.SendToUser(userID, UserTokensUpdate(userID, tokens))
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}
