package tracker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chrisdamba/foodcart/internal/models"
	"github.com/chrisdamba/foodcart/internal/push"
)

type OrderFetcher interface {
	FetchOrder(ctx context.Context, orderID string) (models.TrackedOrder, error)
}

// Channel is the part of push.Manager the tracker needs.
type Channel interface {
	Subscribe(ctx context.Context, orderID string) *push.Subscription
	Connected() bool
}

type StatusRecorder interface {
	RecordStatusChange(ctx context.Context, change models.StatusChange) error
}

type Options struct {
	RefreshInterval    time.Duration
	DefaultPrepMinutes int
	AllowanceMinutes   int
	Now                func() time.Time
	Recorder           StatusRecorder
	// OnChange is called outside the tracker lock after every accepted event
	// and every refresh.
	OnChange func(View)
}

func (o *Options) setDefaults() {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = time.Minute
	}
	if o.DefaultPrepMinutes <= 0 {
		o.DefaultPrepMinutes = 15
	}
	if o.AllowanceMinutes < 0 {
		o.AllowanceMinutes = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// View is what the customer sees for one order.
type View struct {
	Order            models.TrackedOrder
	Step             int
	Percent          int
	Cancelled        bool
	Terminal         bool
	EstimatedMinutes int
	ElapsedMinutes   int
	RemainingMinutes int
	// Live is false while the push channel is down; the view then shows the
	// last known status.
	Live bool
}

// Tracker follows a single order: one fetch, then pushed status events and a
// periodic refresh of the elapsed time.
type Tracker struct {
	orderID string
	fetcher OrderFetcher
	channel Channel
	opts    Options
	logger  *zap.Logger

	mu      sync.Mutex
	order   models.TrackedOrder
	elapsed int

	sub      *push.Subscription
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
	stopErr  error
}

func New(orderID string, fetcher OrderFetcher, channel Channel, opts Options, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()
	return &Tracker{
		orderID: orderID,
		fetcher: fetcher,
		channel: channel,
		opts:    opts,
		logger:  logger.Named("tracker").With(zap.String("order_id", orderID)),
		order:   models.TrackedOrder{OrderID: orderID},
	}
}

// Start subscribes to the order's status events, fetches the order once and
// starts the listener and the refresh timer. Events that arrive while the
// fetch is in flight wait in the subscription and go through the usual
// guards. It must be called at most once.
func (t *Tracker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	sub := t.channel.Subscribe(runCtx, t.orderID)

	order, err := t.fetcher.FetchOrder(ctx, t.orderID)
	if err != nil {
		cancel()
		sub.Close()
		return fmt.Errorf("failed to fetch order %s: %w", t.orderID, err)
	}

	t.mu.Lock()
	t.order = order
	t.order.OrderID = t.orderID
	t.elapsed = t.elapsedLocked()
	t.mu.Unlock()
	t.logger.Info("tracking order", zap.String("status", string(order.Status)), zap.Int("items", len(order.Items)))

	g, gctx := errgroup.WithContext(runCtx)
	t.sub = sub
	t.cancel = cancel
	t.group = g

	g.Go(func() error { return t.listen(gctx) })
	g.Go(func() error { return t.refreshLoop(gctx) })

	t.notify()
	return nil
}

func (t *Tracker) listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-t.sub.Events():
			if !ok {
				return nil
			}
			t.Apply(ctx, ev)
		}
	}
}

func (t *Tracker) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.mu.Lock()
			t.elapsed = t.elapsedLocked()
			t.mu.Unlock()
			t.notify()
		}
	}
}

// Apply merges one status event and reports whether it was accepted.
// Terminal orders take nothing more, stale sequences are dropped and forward
// progress never goes back; Cancelled is accepted from any live state.
func (t *Tracker) Apply(ctx context.Context, ev models.StatusEvent) bool {
	t.mu.Lock()
	cur := t.order
	reason := ""
	switch {
	case ev.OrderID != t.orderID:
		reason = "other order"
	case cur.Status.IsTerminal():
		reason = "order finished"
	case !ev.Status.Valid():
		reason = "unknown status"
	case ev.Sequence > 0 && cur.Sequence > 0 && ev.Sequence <= cur.Sequence:
		reason = "stale sequence"
	case ev.Status != models.OrderStatusCancelled && ev.Status.Rank() < cur.Status.Rank():
		reason = "status regression"
	}
	if reason != "" {
		t.mu.Unlock()
		t.logger.Debug("ignoring status event", zap.String("reason", reason), zap.String("status", string(ev.Status)), zap.Int64("sequence", ev.Sequence))
		return false
	}

	t.order.Status = ev.Status
	if ev.Sequence > t.order.Sequence {
		t.order.Sequence = ev.Sequence
	}
	if ev.RestaurantName != nil {
		t.order.RestaurantName = *ev.RestaurantName
	}
	if ev.Total != nil {
		t.order.Total = *ev.Total
	}
	if ev.EstimatedPrepMinutes != nil && *ev.EstimatedPrepMinutes > 0 {
		t.order.EstimatedPrepMinutes = *ev.EstimatedPrepMinutes
	}
	t.elapsed = t.elapsedLocked()
	t.mu.Unlock()

	if cur.Status != ev.Status {
		t.logger.Info("order status changed", zap.String("from", string(cur.Status)), zap.String("to", string(ev.Status)))
		if t.opts.Recorder != nil {
			change := models.StatusChange{
				OrderID:   t.orderID,
				From:      cur.Status,
				To:        ev.Status,
				Sequence:  ev.Sequence,
				ChangedAt: t.opts.Now(),
			}
			if err := t.opts.Recorder.RecordStatusChange(ctx, change); err != nil {
				t.logger.Warn("failed to record status change", zap.Error(err))
			}
		}
	}
	t.notify()
	return true
}

func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

func (t *Tracker) viewLocked() View {
	order := t.order
	order.Items = append([]models.TrackedItem(nil), t.order.Items...)

	estimated := t.estimateLocked()
	v := View{
		Order:            order,
		Step:             StepIndex(order.Status),
		Percent:          Percent(order.Status),
		Cancelled:        order.Status == models.OrderStatusCancelled,
		Terminal:         order.Status.IsTerminal(),
		EstimatedMinutes: estimated,
		ElapsedMinutes:   t.elapsed,
		RemainingMinutes: max(estimated-t.elapsed, 0),
	}
	if t.channel != nil {
		v.Live = t.channel.Connected()
	}
	return v
}

// estimateLocked is the average prep time of the items rounded up, plus the
// delivery allowance. A prep estimate pushed by the restaurant wins.
func (t *Tracker) estimateLocked() int {
	if t.order.EstimatedPrepMinutes > 0 {
		return t.order.EstimatedPrepMinutes + t.opts.AllowanceMinutes
	}
	return averagePrep(t.order.Items, t.opts.DefaultPrepMinutes) + t.opts.AllowanceMinutes
}

func averagePrep(items []models.TrackedItem, fallback int) int {
	if len(items) == 0 {
		return fallback
	}
	sum := 0.0
	for _, it := range items {
		if it.PrepTime > 0 {
			sum += it.PrepTime
		} else {
			sum += float64(fallback)
		}
	}
	return int(math.Ceil(sum / float64(len(items))))
}

func (t *Tracker) elapsedLocked() int {
	if t.order.OrderTimestamp.IsZero() {
		return 0
	}
	d := t.opts.Now().Sub(t.order.OrderTimestamp)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

func (t *Tracker) notify() {
	if t.opts.OnChange == nil {
		return
	}
	t.opts.OnChange(t.View())
}

// Stop ends both goroutines and releases the subscription. Calling it again
// returns the first result.
func (t *Tracker) Stop() error {
	t.stopOnce.Do(func() {
		if t.cancel == nil {
			return
		}
		t.cancel()
		t.stopErr = t.group.Wait()
		t.sub.Close()
		t.logger.Debug("tracker stopped")
	})
	return t.stopErr
}
