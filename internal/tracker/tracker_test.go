package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chrisdamba/foodcart/internal/models"
	"github.com/chrisdamba/foodcart/internal/push"
)

var placedAt = time.Date(2024, 3, 9, 19, 30, 0, 0, time.UTC)

type fakeFetcher struct {
	order models.TrackedOrder
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) FetchOrder(_ context.Context, orderID string) (models.TrackedOrder, error) {
	f.calls.Add(1)
	if f.err != nil {
		return models.TrackedOrder{}, f.err
	}
	o := f.order
	o.OrderID = orderID
	return o, nil
}

// publishingFetcher runs onFetch before answering, to model a status change
// landing while the fetch is in flight.
type publishingFetcher struct {
	fakeFetcher
	onFetch func()
}

func (f *publishingFetcher) FetchOrder(ctx context.Context, orderID string) (models.TrackedOrder, error) {
	f.onFetch()
	return f.fakeFetcher.FetchOrder(ctx, orderID)
}

type changeLog struct {
	mu      sync.Mutex
	changes []models.StatusChange
}

func (c *changeLog) RecordStatusChange(_ context.Context, ch models.StatusChange) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
	return nil
}

// clock is a goroutine-safe manual clock.
type clock struct{ offset atomic.Int64 }

func (c *clock) now() time.Time { return placedAt.Add(time.Duration(c.offset.Load())) }
func (c *clock) advance(d time.Duration) { c.offset.Add(int64(d)) }

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func runManager(t *testing.T, hub *push.Hub) *push.Manager {
	t.Helper()
	return runManagerWith(t, hub, push.ManagerOptions{MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})
}

func runManagerWith(t *testing.T, hub *push.Hub, opts push.ManagerOptions) *push.Manager {
	t.Helper()
	m := push.NewManager(hub.Client("tracker-test"), opts, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		m.Close()
	})
	eventually(t, "push connection", m.Connected)
	return m
}

func pendingOrder() models.TrackedOrder {
	return models.TrackedOrder{
		Status:         models.OrderStatusPending,
		RestaurantName: "Spice Route",
		OrderTimestamp: placedAt,
		Items: []models.TrackedItem{
			{ItemID: "a", Name: "Biryani", Quantity: 1, PrepTime: 12},
			{ItemID: "b", Name: "Raita", Quantity: 2, PrepTime: 20},
			{ItemID: "c", Name: "Lassi", Quantity: 1},
		},
	}
}

func TestStepIndexAndPercent(t *testing.T) {
	tests := []struct {
		status  models.OrderStatus
		step    int
		percent int
	}{
		{models.OrderStatusPending, 0, 20},
		{models.OrderStatusAccepted, 1, 40},
		{models.OrderStatusPreparing, 2, 60},
		{models.OrderStatusReady, 2, 60},
		{models.OrderStatusOutForDelivery, 3, 80},
		{models.OrderStatusDelivered, 4, 100},
		{models.OrderStatusCancelled, -1, 0},
		{models.OrderStatus("lost"), -1, 0},
	}
	for _, tt := range tests {
		if got := StepIndex(tt.status); got != tt.step {
			t.Errorf("StepIndex(%s) = %d, want %d", tt.status, got, tt.step)
		}
		if got := Percent(tt.status); got != tt.percent {
			t.Errorf("Percent(%s) = %d, want %d", tt.status, got, tt.percent)
		}
	}
}

func TestEstimateAndElapsed(t *testing.T) {
	clk := &clock{}
	clk.advance(7*time.Minute + 30*time.Second)
	fetcher := &fakeFetcher{order: pendingOrder()}
	m := push.NewManager(push.NewHub(nil).Client("offline"), push.ManagerOptions{}, nil)

	tr := New("ord-1", fetcher, m, Options{Now: clk.now, AllowanceMinutes: 10}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	v := tr.View()
	// (12 + 20 + 15) / 3 rounds up to 16
	if v.EstimatedMinutes != 26 {
		t.Errorf("estimate = %d, want 26", v.EstimatedMinutes)
	}
	if v.ElapsedMinutes != 7 || v.RemainingMinutes != 19 {
		t.Errorf("elapsed/remaining = %d/%d, want 7/19", v.ElapsedMinutes, v.RemainingMinutes)
	}
	if v.Live {
		t.Error("view should not be live without a connection")
	}

	prep := 40
	tr.Apply(context.Background(), models.StatusEvent{OrderID: "ord-1", Status: models.OrderStatusAccepted, EstimatedPrepMinutes: &prep})
	if v := tr.View(); v.EstimatedMinutes != 50 {
		t.Errorf("estimate after pushed prep = %d, want 50", v.EstimatedMinutes)
	}

	clk.advance(2 * time.Hour)
	tr.Apply(context.Background(), models.StatusEvent{OrderID: "ord-1", Status: models.OrderStatusPreparing})
	if v := tr.View(); v.RemainingMinutes != 0 {
		t.Errorf("remaining = %d, want 0 once overdue", v.RemainingMinutes)
	}
}

func TestEstimateWithoutItems(t *testing.T) {
	fetcher := &fakeFetcher{order: models.TrackedOrder{Status: models.OrderStatusPending}}
	m := push.NewManager(push.NewHub(nil).Client("offline"), push.ManagerOptions{}, nil)
	tr := New("ord-1", fetcher, m, Options{AllowanceMinutes: 10}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	if v := tr.View(); v.EstimatedMinutes != 25 || v.ElapsedMinutes != 0 {
		t.Errorf("view = %+v", v)
	}
}

func TestApplyGuards(t *testing.T) {
	ev := func(status models.OrderStatus, seq int64) models.StatusEvent {
		return models.StatusEvent{OrderID: "ord-1", Status: status, Sequence: seq}
	}
	tests := []struct {
		name    string
		start   models.TrackedOrder
		event   models.StatusEvent
		applied bool
		want    models.OrderStatus
	}{
		{"forward step", models.TrackedOrder{Status: models.OrderStatusAccepted, Sequence: 1}, ev(models.OrderStatusPreparing, 2), true, models.OrderStatusPreparing},
		{"skipping ahead", models.TrackedOrder{Status: models.OrderStatusPending}, ev(models.OrderStatusOutForDelivery, 4), true, models.OrderStatusOutForDelivery},
		{"duplicate sequence", models.TrackedOrder{Status: models.OrderStatusAccepted, Sequence: 2}, ev(models.OrderStatusPreparing, 2), false, models.OrderStatusAccepted},
		{"stale sequence", models.TrackedOrder{Status: models.OrderStatusAccepted, Sequence: 5}, ev(models.OrderStatusPreparing, 3), false, models.OrderStatusAccepted},
		{"regression with newer sequence", models.TrackedOrder{Status: models.OrderStatusPreparing, Sequence: 2}, ev(models.OrderStatusPending, 3), false, models.OrderStatusPreparing},
		{"regression without sequence", models.TrackedOrder{Status: models.OrderStatusPreparing}, ev(models.OrderStatusAccepted, 0), false, models.OrderStatusPreparing},
		{"cancel from preparing", models.TrackedOrder{Status: models.OrderStatusPreparing, Sequence: 2}, ev(models.OrderStatusCancelled, 3), true, models.OrderStatusCancelled},
		{"nothing after cancel", models.TrackedOrder{Status: models.OrderStatusCancelled, Sequence: 3}, ev(models.OrderStatusDelivered, 9), false, models.OrderStatusCancelled},
		{"nothing after delivery", models.TrackedOrder{Status: models.OrderStatusDelivered, Sequence: 5}, ev(models.OrderStatusCancelled, 6), false, models.OrderStatusDelivered},
		{"other order", models.TrackedOrder{Status: models.OrderStatusPending}, models.StatusEvent{OrderID: "ord-2", Status: models.OrderStatusAccepted}, false, models.OrderStatusPending},
		{"unknown status", models.TrackedOrder{Status: models.OrderStatusPending}, ev("teleported", 1), false, models.OrderStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := push.NewManager(push.NewHub(nil).Client("offline"), push.ManagerOptions{}, nil)
			tr := New("ord-1", &fakeFetcher{order: tt.start}, m, Options{}, nil)
			if err := tr.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			defer tr.Stop()

			if got := tr.Apply(context.Background(), tt.event); got != tt.applied {
				t.Errorf("Apply = %v, want %v", got, tt.applied)
			}
			v := tr.View()
			if v.Order.Status != tt.want {
				t.Errorf("status = %s, want %s", v.Order.Status, tt.want)
			}
			if tt.want == models.OrderStatusCancelled && (!v.Cancelled || !v.Terminal || v.Step != -1) {
				t.Errorf("cancelled view = %+v", v)
			}
		})
	}
}

func TestPushedProgress(t *testing.T) {
	hub := push.NewHub(nil)
	m := runManager(t, hub)
	log := &changeLog{}
	views := make(chan View, 32)

	tr := New("ord-1", &fakeFetcher{order: pendingOrder()}, m, Options{
		Now:      (&clock{}).now,
		Recorder: log,
		OnChange: func(v View) { views <- v },
	}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()
	eventually(t, "join", func() bool { return hub.Joined("ord-1") == 1 })

	waitPercent := func(want int) {
		t.Helper()
		eventually(t, "progress update", func() bool { return tr.View().Percent == want })
	}
	if v := <-views; v.Percent != 20 || !v.Live {
		t.Fatalf("initial view = %+v", v)
	}

	ctx := context.Background()
	hub.Publish(ctx, models.StatusEvent{OrderID: "ord-1", Status: models.OrderStatusAccepted, Sequence: 1})
	waitPercent(40)
	hub.Publish(ctx, models.StatusEvent{OrderID: "ord-1", Status: models.OrderStatusPreparing, Sequence: 2})
	waitPercent(60)

	// a late Pending with a newer sequence must not move progress back
	hub.Publish(ctx, models.StatusEvent{OrderID: "ord-1", Status: models.OrderStatusPending, Sequence: 3})
	name := "Spice Route Express"
	hub.Publish(ctx, models.StatusEvent{OrderID: "ord-1", Status: models.OrderStatusReady, Sequence: 4, RestaurantName: &name})
	eventually(t, "ready", func() bool { return tr.View().Order.Status == models.OrderStatusReady })
	if v := tr.View(); v.Percent != 60 || v.Order.RestaurantName != name {
		t.Errorf("ready view = %+v", v)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	var got []models.OrderStatus
	for _, ch := range log.changes {
		got = append(got, ch.To)
	}
	want := []models.OrderStatus{models.OrderStatusAccepted, models.OrderStatusPreparing, models.OrderStatusReady}
	if len(got) != len(want) {
		t.Fatalf("recorded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recorded %v, want %v", got, want)
		}
	}
	if log.changes[0].From != models.OrderStatusPending {
		t.Errorf("first change from %s", log.changes[0].From)
	}
}

func TestRefreshUpdatesElapsed(t *testing.T) {
	clk := &clock{}
	m := push.NewManager(push.NewHub(nil).Client("offline"), push.ManagerOptions{}, nil)
	tr := New("ord-1", &fakeFetcher{order: pendingOrder()}, m, Options{Now: clk.now, RefreshInterval: 5 * time.Millisecond}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	clk.advance(3 * time.Minute)
	eventually(t, "elapsed refresh", func() bool { return tr.View().ElapsedMinutes == 3 })
}

func TestStopReleasesSubscription(t *testing.T) {
	hub := push.NewHub(nil)
	m := runManager(t, hub)
	fetcher := &fakeFetcher{order: pendingOrder()}

	tr := New("ord-1", fetcher, m, Options{}, nil)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.Refs("ord-1") != 1 {
		t.Fatalf("refs = %d, want 1", m.Refs("ord-1"))
	}

	if err := tr.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Stop(); err != nil {
		t.Fatal(err)
	}
	if m.Refs("ord-1") != 0 || hub.Joined("ord-1") != 0 {
		t.Errorf("after stop refs=%d joined=%d", m.Refs("ord-1"), hub.Joined("ord-1"))
	}
	if fetcher.calls.Load() != 1 {
		t.Errorf("fetches = %d, want 1", fetcher.calls.Load())
	}
}

func TestStartFailsWhenFetchFails(t *testing.T) {
	m := push.NewManager(push.NewHub(nil).Client("offline"), push.ManagerOptions{}, nil)
	tr := New("ord-1", &fakeFetcher{err: errors.New("boom")}, m, Options{}, nil)
	if err := tr.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if m.Refs("ord-1") != 0 {
		t.Error("failed start must release its subscription")
	}
	if err := tr.Stop(); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestEventDuringFetchIsApplied(t *testing.T) {
	hub := push.NewHub(nil)
	m := runManager(t, hub)
	ctx := context.Background()

	fetcher := &publishingFetcher{fakeFetcher: fakeFetcher{order: pendingOrder()}}
	fetcher.onFetch = func() {
		hub.Publish(ctx, models.StatusEvent{OrderID: "ord-1", Status: models.OrderStatusAccepted, Sequence: 1})
	}
	tr := New("ord-1", fetcher, m, Options{Now: (&clock{}).now}, nil)
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	eventually(t, "accepted", func() bool { return tr.View().Order.Status == models.OrderStatusAccepted })
}

func TestTrackerSurvivesReconnect(t *testing.T) {
	hub := push.NewHub(nil)
	// a slow reconnect leaves time to observe the offline view
	m := runManagerWith(t, hub, push.ManagerOptions{MinBackoff: 300 * time.Millisecond, MaxBackoff: 300 * time.Millisecond})
	ctx := context.Background()

	tr := New("ord-1", &fakeFetcher{order: pendingOrder()}, m, Options{Now: (&clock{}).now}, nil)
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()
	eventually(t, "join", func() bool { return hub.Joined("ord-1") == 1 })

	hub.Publish(ctx, models.StatusEvent{OrderID: "ord-1", Status: models.OrderStatusAccepted, Sequence: 1})
	eventually(t, "accepted", func() bool { return tr.View().Order.Status == models.OrderStatusAccepted })

	hub.Disconnect()
	eventually(t, "offline view", func() bool { return !tr.View().Live })
	if v := tr.View(); v.Order.Status != models.OrderStatusAccepted || v.Percent != 40 {
		t.Errorf("offline view = %+v, want last known status", v)
	}

	eventually(t, "rejoin", func() bool { return tr.View().Live && hub.Joined("ord-1") == 1 })
	hub.Publish(ctx, models.StatusEvent{OrderID: "ord-1", Status: models.OrderStatusPreparing, Sequence: 2})
	eventually(t, "preparing", func() bool { return tr.View().Order.Status == models.OrderStatusPreparing })
}
