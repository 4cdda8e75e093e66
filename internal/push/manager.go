package push

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
)

const subscriptionBuffer = 16

type ManagerOptions struct {
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	LeaveTimeout time.Duration
}

// Manager owns the single push connection of the process. Subscriptions are
// counted per order: the first one joins the order and the last Close leaves
// it. Every active order is joined again after a reconnect.
type Manager struct {
	transport Transport
	logger    *zap.Logger
	opts      ManagerOptions

	mu     sync.Mutex
	orders map[string]map[int]*Subscription
	nextID int

	// joinMu orders Join and Leave calls so the server side always ends up
	// matching the local references.
	joinMu sync.Mutex

	connected atomic.Bool
}

func NewManager(transport Transport, opts ManagerOptions, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.LeaveTimeout <= 0 {
		opts.LeaveTimeout = 5 * time.Second
	}
	return &Manager{
		transport: transport,
		logger:    logger.Named("push"),
		opts:      opts,
		orders:    make(map[string]map[int]*Subscription),
	}
}

func (m *Manager) Connected() bool { return m.connected.Load() }

// Refs returns the number of live subscriptions for orderID.
func (m *Manager) Refs(orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders[orderID])
}

// Subscribe registers interest in orderID. A failed join is not fatal: the
// order is joined again on the next reconnect.
func (m *Manager) Subscribe(ctx context.Context, orderID string) *Subscription {
	m.mu.Lock()
	m.nextID++
	sub := &Subscription{
		manager: m,
		orderID: orderID,
		id:      m.nextID,
		events:  make(chan models.StatusEvent, subscriptionBuffer),
	}
	listeners, ok := m.orders[orderID]
	if !ok {
		listeners = make(map[int]*Subscription)
		m.orders[orderID] = listeners
	}
	listeners[sub.id] = sub
	first := len(listeners) == 1
	m.mu.Unlock()

	if first && m.Connected() {
		m.joinMu.Lock()
		if m.active(orderID) {
			if err := m.transport.Join(ctx, orderID); err != nil {
				m.logger.Warn("join failed, will retry on reconnect", zap.String("order_id", orderID), zap.Error(err))
			}
		}
		m.joinMu.Unlock()
	}
	m.logger.Debug("subscribed", zap.String("order_id", orderID), zap.Int("refs", m.Refs(orderID)))
	return sub
}

func (m *Manager) release(sub *Subscription) {
	m.mu.Lock()
	listeners := m.orders[sub.orderID]
	if _, ok := listeners[sub.id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(listeners, sub.id)
	close(sub.events)
	last := len(listeners) == 0
	if last {
		delete(m.orders, sub.orderID)
	}
	m.mu.Unlock()

	if last && m.Connected() {
		m.joinMu.Lock()
		defer m.joinMu.Unlock()
		if m.active(sub.orderID) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.LeaveTimeout)
		defer cancel()
		if err := m.transport.Leave(ctx, sub.orderID); err != nil {
			m.logger.Warn("leave failed", zap.String("order_id", sub.orderID), zap.Error(err))
		}
	}
}

func (m *Manager) active(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders[orderID]) > 0
}

// rejoin joins every active order on a fresh connection. Orders released
// after the snapshot was taken are skipped.
func (m *Manager) rejoin(ctx context.Context) {
	for _, id := range m.activeOrders() {
		m.joinMu.Lock()
		if m.active(id) {
			if err := m.transport.Join(ctx, id); err != nil {
				m.logger.Warn("rejoin failed", zap.String("order_id", id), zap.Error(err))
			}
		}
		m.joinMu.Unlock()
	}
}

// dispatch hands an event to every subscription of its order. A full buffer
// drops its oldest event so the newest status always gets through.
func (m *Manager) dispatch(ev models.StatusEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listeners, ok := m.orders[ev.OrderID]
	if !ok {
		m.logger.Debug("dropping event for untracked order", zap.String("order_id", ev.OrderID), zap.String("status", string(ev.Status)))
		return
	}
	for _, sub := range listeners {
		select {
		case sub.events <- ev:
			continue
		default:
		}
		select {
		case <-sub.events:
		default:
		}
		sub.events <- ev
	}
}

func (m *Manager) activeOrders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.orders))
	for id := range m.orders {
		ids = append(ids, id)
	}
	return ids
}

// Run keeps the connection up until ctx is cancelled, reconnecting with
// exponential backoff.
func (m *Manager) Run(ctx context.Context) error {
	backoff := m.opts.MinBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := m.transport.Connect(ctx)
		if err == nil {
			backoff = m.opts.MinBackoff
			m.connected.Store(true)
			m.logger.Info("push channel connected")
			m.rejoin(ctx)
			err = m.transport.Run(ctx, m.dispatch)
			m.connected.Store(false)
		}
		if ctx.Err() != nil {
			return nil
		}

		m.logger.Warn("push channel down, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > m.opts.MaxBackoff {
			backoff = m.opts.MaxBackoff
		}
	}
}

// Close tears the transport down. Subscriptions stay valid but receive
// nothing more.
func (m *Manager) Close() error {
	m.connected.Store(false)
	return m.transport.Close()
}

type Subscription struct {
	manager *Manager
	orderID string
	id      int
	events  chan models.StatusEvent
	once    sync.Once
}

func (s *Subscription) OrderID() string { return s.orderID }

// Events is closed when the subscription is closed.
func (s *Subscription) Events() <-chan models.StatusEvent { return s.events }

func (s *Subscription) Close() error {
	s.once.Do(func() { s.manager.release(s) })
	return nil
}
