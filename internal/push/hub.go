package push

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
)

const hubConnBuffer = 64

// Hub is an in-process push server. It relays an event only to connections
// that joined its order, and forgets those joins when a connection drops.
type Hub struct {
	mu     sync.Mutex
	conns  map[*hubConn]struct{}
	logger *zap.Logger
}

type hubConn struct {
	clientID string
	orders   map[string]bool
	events   chan models.StatusEvent
	done     chan struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{conns: make(map[*hubConn]struct{}), logger: logger.Named("hub")}
}

func (h *Hub) Publish(_ context.Context, ev models.StatusEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if !c.orders[ev.OrderID] {
			continue
		}
		select {
		case c.events <- ev:
		default:
			h.logger.Warn("client buffer full, dropping event", zap.String("client_id", c.clientID), zap.String("order_id", ev.OrderID))
		}
	}
	return nil
}

// Joined counts live connections that joined orderID.
func (h *Hub) Joined(orderID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.conns {
		if c.orders[orderID] {
			n++
		}
	}
	return n
}

// Disconnect drops every live connection, as a network failure would.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		h.dropLocked(c)
	}
}

func (h *Hub) dropLocked(c *hubConn) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	close(c.done)
}

// Client returns a Transport connected to this hub.
func (h *Hub) Client(clientID string) *HubClient {
	return &HubClient{hub: h, clientID: clientID}
}

type HubClient struct {
	hub      *Hub
	clientID string

	mu   sync.Mutex
	conn *hubConn
}

func (c *HubClient) Connect(_ context.Context) error {
	conn := &hubConn{
		clientID: c.clientID,
		orders:   make(map[string]bool),
		events:   make(chan models.StatusEvent, hubConnBuffer),
		done:     make(chan struct{}),
	}
	c.hub.mu.Lock()
	c.hub.conns[conn] = struct{}{}
	c.hub.mu.Unlock()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *HubClient) current() *hubConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *HubClient) setJoined(orderID string, joined bool) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if _, live := c.hub.conns[conn]; !live {
		return ErrNotConnected
	}
	if joined {
		conn.orders[orderID] = true
	} else {
		delete(conn.orders, orderID)
	}
	return nil
}

func (c *HubClient) Join(_ context.Context, orderID string) error {
	return c.setJoined(orderID, true)
}

func (c *HubClient) Leave(_ context.Context, orderID string) error {
	return c.setJoined(orderID, false)
}

func (c *HubClient) Run(ctx context.Context, handler Handler) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.done:
			return ErrDisconnected
		case ev := <-conn.events:
			handler(ev)
		}
	}
}

func (c *HubClient) Close() error {
	conn := c.current()
	if conn == nil {
		return nil
	}
	c.hub.mu.Lock()
	c.hub.dropLocked(conn)
	c.hub.mu.Unlock()
	return nil
}
