// Package server coordinates client registration, disconnect cleanup and
// the periodic reconciliation sweep via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

// Hub owns the lifecycle of every WebSocket client. It starts each
// client's pumps on registration, runs relay disconnect cleanup before a
// client's queue is closed, and periodically reconciles relay state
// against the clients it knows to be alive.
type Hub struct {
	config     Config
	relay      *relay.Relay
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub that routes client traffic through rly. A nil
// rly gets a fresh relay with empty state.
func NewHub(cfg Config, rly *relay.Relay) *Hub {
	if rly == nil {
		rly = relay.New(relay.NewRegistry(), relay.NewTypingTracker())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:     sanitizeConfig(cfg),
		relay:      rly,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Relay returns the relay the hub feeds.
func (h *Hub) Relay() *relay.Relay {
	return h.relay
}

// Register hands a client to the running hub. It returns false, and
// closes the client's connection, when the hub has already shut down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		if client.conn != nil {
			_ = client.conn.Close()
		}
		return false
	}
}

// Unregister removes a client. After the hub has stopped, cleanup runs
// on the caller's goroutine instead.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.removeClient(client)
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) isAlive(id string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[id]
	return ok
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	// The read lock is held across the send so removeClient cannot close
	// the channel underneath it.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if current, exists := h.clients[client.id]; !exists || current != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration and the reconciliation sweep. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	sweep := time.NewTicker(h.config.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case <-sweep.C:
			h.sweep()
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	log.Printf("Client %s registered from %s. Total clients: %d", client.id, client.addr, clientCount)

	if hello, err := relay.EncodeEvent(relay.EventConnect, relay.ConnectPayload{ID: client.id}); err == nil {
		client.Deliver(hello)
	}

	if client.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient runs relay cleanup for client, then drops it and closes
// its queue. Repeated calls are no-ops.
func (h *Hub) removeClient(client *Client) {
	if client == nil || !h.isAlive(client.id) {
		return
	}

	h.relay.Disconnect(client)

	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if !ok || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	log.Printf("Client %s unregistered from %s. Total clients: %d", client.id, client.addr, clientCount)
}

// sweep reclaims relay state left behind by clients the hub no longer knows.
func (h *Hub) sweep() {
	removed := h.relay.Reconcile(h.isAlive)
	if removed == 0 {
		return
	}
	stats := h.relay.Stats()
	log.Printf("Sweep reclaimed %d stale entries (%d clients, %d rooms, %d memberships, %d typing)",
		removed, h.ClientCount(), stats.Rooms, stats.Memberships, stats.Typing)
}

// shutdownClients closes every client connection. Each read pump then
// unregisters its client.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()

	deadline := time.After(timeout)
	select {
	case <-h.done:
	case <-deadline:
		log.Println("Hub shutdown timeout reached before the event loop stopped")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-deadline:
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
