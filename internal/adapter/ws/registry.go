// Package ws holds the connection registry that streams order lifecycle
// frames to attached WebSocket clients.
package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fairyhunter13/dex-order-engine/internal/adapter/observability"
	"github.com/fairyhunter13/dex-order-engine/internal/domain"
)

// writeWait bounds how long a close control frame may block on a slow peer.
const writeWait = 5 * time.Second

// Frame is the discrete JSON text frame sent to stream clients. Timestamps
// are ISO-8601 UTC with millisecond precision.
type Frame struct {
	OrderID   string             `json:"orderId"`
	Status    domain.OrderStatus `json:"status,omitempty"`
	Data      map[string]any     `json:"data,omitempty"`
	Timestamp string             `json:"timestamp"`
	Message   string             `json:"message,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Socket is the writer side of an attached connection. *websocket.Conn
// satisfies it; tests substitute fakes.
type Socket interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// entry wraps a socket with a write mutex. gorilla allows one concurrent
// writer per connection, and the handler's anchor frame can race a worker
// publication.
type entry struct {
	mu   sync.Mutex
	sock Socket
}

// Registry maps order ids to their attached stream socket, one socket per
// order. Publishing to an order with no socket is a no-op: updates for
// disconnected clients are dropped, and the stream endpoint re-anchors late
// connections from the store instead.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	clock   domain.Clock
}

// NewRegistry builds an empty registry stamping frames with clock.
func NewRegistry(clock domain.Clock) *Registry {
	return &Registry{entries: make(map[string]*entry), clock: clock}
}

// Register attaches sock to orderID. A previous socket for the same order is
// closed and replaced.
func (r *Registry) Register(orderID string, sock Socket) {
	e := &entry{sock: sock}
	r.mu.Lock()
	old := r.entries[orderID]
	r.entries[orderID] = e
	r.mu.Unlock()
	if old != nil {
		_ = old.sock.Close()
	} else {
		observability.WSActiveConnections.Inc()
	}
}

// Deregister drops the registration if sock is still the attached socket.
// The socket itself is not closed; callers own that.
func (r *Registry) Deregister(orderID string, sock Socket) {
	r.mu.Lock()
	cur, ok := r.entries[orderID]
	if !ok || cur.sock != sock {
		r.mu.Unlock()
		return
	}
	delete(r.entries, orderID)
	r.mu.Unlock()
	observability.WSActiveConnections.Dec()
}

// deregisterEntry removes orderID only while e is still the attached entry,
// so a failed write on a stale socket cannot evict its replacement.
func (r *Registry) deregisterEntry(orderID string, e *entry) bool {
	r.mu.Lock()
	cur, ok := r.entries[orderID]
	if !ok || cur != e {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, orderID)
	r.mu.Unlock()
	observability.WSActiveConnections.Dec()
	return true
}

// Publish sends a status frame to orderID's socket if one is attached.
// Write failures drop the socket and never propagate to the caller.
func (r *Registry) Publish(orderID string, status domain.OrderStatus, data map[string]any) {
	r.mu.RLock()
	e, ok := r.entries[orderID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.send(orderID, e, Frame{
		OrderID:   orderID,
		Status:    status,
		Data:      data,
		Timestamp: domain.FormatTimestamp(r.clock.Now()),
	})
}

// SendFrame delivers a prebuilt frame, stamping the timestamp when unset.
// The stream handler uses it for anchor and error frames.
func (r *Registry) SendFrame(orderID string, frame Frame) {
	r.mu.RLock()
	e, ok := r.entries[orderID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if frame.Timestamp == "" {
		frame.Timestamp = domain.FormatTimestamp(r.clock.Now())
	}
	r.send(orderID, e, frame)
}

// send writes one frame holding only the entry's write mutex; the registry
// map lock is never held across a socket write.
func (r *Registry) send(orderID string, e *entry, frame Frame) {
	e.mu.Lock()
	err := e.sock.WriteJSON(frame)
	e.mu.Unlock()
	if err != nil {
		slog.Warn("stream write failed, dropping socket",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
		if r.deregisterEntry(orderID, e) {
			_ = e.sock.Close()
		}
		return
	}
	observability.WSFramesSentTotal.Inc()
}

// Close closes and deregisters orderID's socket if present.
func (r *Registry) Close(orderID string) {
	r.mu.RLock()
	e, ok := r.entries[orderID]
	r.mu.RUnlock()
	if ok {
		r.closeEntry(orderID, e)
	}
}

// ScheduleClose closes orderID's socket after the grace period, giving the
// client time to read the terminal frame. A socket registered after the call
// is left alone.
func (r *Registry) ScheduleClose(orderID string, after time.Duration) {
	r.mu.RLock()
	e, ok := r.entries[orderID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	time.AfterFunc(after, func() { r.closeEntry(orderID, e) })
}

// CloseAll closes every attached socket. Called on server shutdown after
// in-flight workers have drained.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.mu.Unlock()
	for id, e := range entries {
		r.closeEntry(id, e)
	}
}

// Count reports attached sockets; surfaced by the health endpoint.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) closeEntry(orderID string, e *entry) {
	if !r.deregisterEntry(orderID, e) {
		return
	}
	e.mu.Lock()
	_ = e.sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "order complete"),
		time.Now().Add(writeWait))
	e.mu.Unlock()
	_ = e.sock.Close()
}
