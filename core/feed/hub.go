// Package feed pushes library change events to the owner's websocket
// connections.
package feed

import (
	"context"
	"encoding/json"
	"sync"

	"CalmFM/logger"
	"CalmFM/metrics"
	"CalmFM/model"
)

type delivery struct {
	userID  int64
	message []byte
}

// Hub tracks the live connections of every user and fans events out to them.
type Hub struct {
	// 用户 -> 客户端集合（同一用户可多端在线）
	users map[int64]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	deliver    chan delivery

	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

// NewHub creates a hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		users:      make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()

		case d := <-h.deliver:
			h.sendToUser(d)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop closes every connection and ends Run.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.users[client.UserID] == nil {
		h.users[client.UserID] = make(map[*Client]struct{})
	}
	h.users[client.UserID][client] = struct{}{}
	metrics.FeedConnected(1)

	logger.Debug("feed client registered", logger.UserID(client.UserID))
}

// removeClient 移除客户端（需要持有锁）
func (h *Hub) removeClient(client *Client) {
	clients, ok := h.users[client.UserID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.users, client.UserID)
	}
	metrics.FeedConnected(-1)

	logger.Debug("feed client unregistered", logger.UserID(client.UserID))
}

func (h *Hub) sendToUser(d delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.users[d.userID] {
		select {
		case client.Send <- d.message:
		default:
			// Slow consumer: drop it, the client reconnects and re-queries.
			logger.Warn("feed send buffer full, dropping client", logger.UserID(d.userID))
			h.removeClient(client)
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.users {
		for client := range clients {
			close(client.Send)
			metrics.FeedConnected(-1)
		}
	}
	h.users = make(map[int64]map[*Client]struct{})
}

// Register adds client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Notify queues event for every connection of userID.
func (h *Hub) Notify(ctx context.Context, userID int64, event model.ChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to marshal change event", logger.ErrorField(err))
		return
	}

	select {
	case h.deliver <- delivery{userID: userID, message: data}:
	case <-h.done:
	case <-ctx.Done():
		logger.Warn("change event dropped", logger.UserID(userID), logger.TrackID(event.TrackID))
	}
}

// Deliver is Notify without a caller context, for events arriving from the bus.
func (h *Hub) Deliver(userID int64, event model.ChangeEvent) {
	h.Notify(context.Background(), userID, event)
}

// ClientCount returns the number of open connections of userID.
func (h *Hub) ClientCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Publisher sends an event to every server instance.
type Publisher interface {
	Publish(ctx context.Context, userID int64, event model.ChangeEvent) error
}

// Relay publishes events on a shared bus whose subscribers deliver them to
// their local hubs. When publishing fails it delivers locally.
type Relay struct {
	bus   Publisher
	local *Hub
}

// NewRelay creates a relay publishing to bus with local as fallback.
func NewRelay(bus Publisher, local *Hub) *Relay {
	return &Relay{bus: bus, local: local}
}

// Notify implements the library notifier.
func (r *Relay) Notify(ctx context.Context, userID int64, event model.ChangeEvent) {
	if err := r.bus.Publish(ctx, userID, event); err != nil {
		logger.Warn("feed bus publish failed, delivering locally", logger.UserID(userID), logger.ErrorField(err))
		r.local.Notify(ctx, userID, event)
	}
}
