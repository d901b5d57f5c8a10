// Package server maneja las conexiones WebSocket y el encolamiento de trabajos.
package server

import (
	"sync"

	"github.com/coder/websocket"
)

// ClientRegistry tracks connected POS front-ends and the address each one dialed from
type ClientRegistry struct {
	clients map[*websocket.Conn]string
	mu      sync.RWMutex
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[*websocket.Conn]string),
	}
}

// Add registers a client connection with its remote address
func (r *ClientRegistry) Add(conn *websocket.Conn, remoteAddr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[conn] = remoteAddr
}

// Addr returns the remote address a client registered with
func (r *ClientRegistry) Addr(conn *websocket.Conn) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[conn]
}

// Remove unregisters a client connection
func (r *ClientRegistry) Remove(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, conn)
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Contains checks if a client is registered
func (r *ClientRegistry) Contains(conn *websocket.Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[conn]
	return ok
}

// ForEach executes a function for each connected client
func (r *ClientRegistry) ForEach(fn func(*websocket.Conn)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for conn := range r.clients {
		fn(conn)
	}
}

// Broadcast sends a message to all connected clients and returns how many failed
func (r *ClientRegistry) Broadcast(fn func(*websocket.Conn) error) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	failed := 0
	for conn := range r.clients {
		if err := fn(conn); err != nil {
			failed++
		}
	}
	return failed
}
