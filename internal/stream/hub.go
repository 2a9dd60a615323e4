// Package stream pushes dashboard snapshots to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-pulse/internal/metrics"
	"github.com/miradorstack/mirador-pulse/internal/models"
)

// MessageSnapshot is the only message type sent today.
const MessageSnapshot = "snapshot"

// Message is the websocket envelope.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Renderer shapes a snapshot for one subscriber. Returning false skips the subscriber.
type Renderer func(user models.User, snap models.DashboardSnapshot) (any, bool)

// Hub tracks subscribers and fans snapshots out to them. All client set
// mutations happen on the Run goroutine.
type Hub struct {
	logger *slog.Logger
	render Renderer

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	publish    chan models.DashboardSnapshot

	mu    sync.RWMutex
	count int
	last  *models.DashboardSnapshot

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub. A nil render sends snapshots unchanged.
func NewHub(ctx context.Context, logger *slog.Logger, render Renderer) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if render == nil {
		render = func(_ models.User, snap models.DashboardSnapshot) (any, bool) { return snap, true }
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		logger:     logger,
		render:     render,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan models.DashboardSnapshot, 16),
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run processes registrations and publishes until Stop or the parent context ends.
func (h *Hub) Run() {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-h.ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount(len(h.clients))
			metrics.StreamClientConnected()
			h.logger.Debug("stream client connected", slog.String("client_id", c.id), slog.String("role", string(c.user.Role)))
			if snap, ok := h.lastSnapshot(); ok {
				h.deliver(c, snap)
			}

		case c := <-h.unregister:
			h.drop(c)

		case snap := <-h.publish:
			h.mu.Lock()
			h.last = &snap
			h.mu.Unlock()
			for c := range h.clients {
				h.deliver(c, snap)
			}
		}
	}
}

// Stop ends Run and closes every subscriber.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

// Publish queues a snapshot for broadcast.
func (h *Hub) Publish(snap models.DashboardSnapshot) error {
	select {
	case h.publish <- snap:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) deliver(c *Client, snap models.DashboardSnapshot) {
	data, ok := h.render(c.user, snap)
	if !ok {
		return
	}
	payload, err := json.Marshal(Message{Type: MessageSnapshot, Data: data, Timestamp: snap.GeneratedAt})
	if err != nil {
		h.logger.Error("encode stream message", slog.Any("error", err))
		return
	}
	select {
	case c.send <- payload:
	default:
		h.logger.Warn("stream client too slow, dropping", slog.String("client_id", c.id))
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.setCount(len(h.clients))
	metrics.StreamClientDisconnected()
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		h.drop(c)
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

func (h *Hub) lastSnapshot() (models.DashboardSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return models.DashboardSnapshot{}, false
	}
	return *h.last, true
}
