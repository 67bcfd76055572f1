// Package realtime tracks live client connections, assigns each an
// identifier and delivers progress messages to one connection or to all of
// them. Delivery is best-effort: send failures are logged and swallowed.
package realtime

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitepdf/internal/logging"
)

// Message types sent by the registry itself.
const (
	TypeConnection = "connection"
	TypeShutdown   = "shutdown"
)

// ConnectionMessage is the handshake sent to a newly registered connection.
type ConnectionMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// ShutdownMessage is broadcast before the server stops.
type ShutdownMessage struct {
	Type string `json:"type"`
}

// Conn is the transport handle of one client.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// IDGenerator supplies connection identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Metrics observes registry activity.
type Metrics interface {
	SetConnections(n int)
	MessageDelivered(ok bool)
}

type client struct {
	conn   Conn
	mu     sync.Mutex
	closed bool
}

func (c *client) write(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	return c.conn.WriteJSON(msg)
}

func (c *client) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

var errClosed = errors.New("connection closed")

// Registry is the set of open connections. It is safe for concurrent use.
type Registry struct {
	ids     IDGenerator
	logger  *zap.Logger
	metrics Metrics

	mu      sync.RWMutex
	clients map[string]*client
}

// NewRegistry builds an empty registry. metrics may be nil.
func NewRegistry(ids IDGenerator, metrics Metrics, logger *zap.Logger) *Registry {
	logger = logging.OrNop(logger)
	return &Registry{
		ids:     ids,
		logger:  logger,
		metrics: metrics,
		clients: make(map[string]*client),
	}
}

// Register stores conn under a fresh identifier and sends the identifier to
// it as the handshake message.
func (r *Registry) Register(conn Conn) (string, error) {
	if conn == nil {
		return "", errors.New("connection is required")
	}
	c := &client{conn: conn}

	r.mu.Lock()
	var id string
	for {
		candidate, err := r.ids.NewID()
		if err != nil {
			r.mu.Unlock()
			return "", fmt.Errorf("generate client id: %w", err)
		}
		if _, taken := r.clients[candidate]; !taken {
			id = candidate
			break
		}
	}
	r.clients[id] = c
	count := len(r.clients)
	r.mu.Unlock()
	r.observeCount(count)

	if err := c.write(ConnectionMessage{Type: TypeConnection, ClientID: id}); err != nil {
		r.Unregister(id)
		return "", fmt.Errorf("send handshake: %w", err)
	}
	r.logger.Info("client connected", zap.String("client_id", id), zap.Int("active", count))
	return id, nil
}

// Unregister removes and closes the connection. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	delete(r.clients, id)
	count := len(r.clients)
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := c.close(); err != nil {
		r.logger.Debug("close connection", zap.String("client_id", id), zap.Error(err))
	}
	r.observeCount(count)
	r.logger.Info("client disconnected", zap.String("client_id", id), zap.Int("active", count))
}

// SendTo delivers msg to the connection registered under id. It reports
// whether the message was written; missing or failing connections are not an
// error.
func (r *Registry) SendTo(id string, msg any) bool {
	if id == "" {
		return false
	}
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		r.observeDelivery(false)
		return false
	}
	if err := c.write(msg); err != nil {
		r.logger.Debug("send failed", zap.String("client_id", id), zap.Error(err))
		r.observeDelivery(false)
		return false
	}
	r.observeDelivery(true)
	return true
}

// Broadcast delivers msg to every open connection and returns how many
// received it.
func (r *Registry) Broadcast(msg any) int {
	r.mu.RLock()
	targets := make(map[string]*client, len(r.clients))
	for id, c := range r.clients {
		targets[id] = c
	}
	r.mu.RUnlock()

	delivered := 0
	for id, c := range targets {
		if err := c.write(msg); err != nil {
			r.logger.Debug("broadcast failed", zap.String("client_id", id), zap.Error(err))
			r.observeDelivery(false)
			continue
		}
		r.observeDelivery(true)
		delivered++
	}
	return delivered
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Shutdown broadcasts the shutdown message and closes every connection.
func (r *Registry) Shutdown() {
	r.Broadcast(ShutdownMessage{Type: TypeShutdown})
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*client)
	r.mu.Unlock()
	for id, c := range clients {
		if err := c.close(); err != nil {
			r.logger.Debug("close connection", zap.String("client_id", id), zap.Error(err))
		}
	}
	r.observeCount(0)
}

func (r *Registry) observeCount(n int) {
	if r.metrics != nil {
		r.metrics.SetConnections(n)
	}
}

func (r *Registry) observeDelivery(ok bool) {
	if r.metrics != nil {
		r.metrics.MessageDelivered(ok)
	}
}
