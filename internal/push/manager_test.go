package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chrisdamba/foodcart/internal/models"
)

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

func startManager(t *testing.T, hub *Hub) *Manager {
	t.Helper()
	m := NewManager(hub.Client("test-client"), ManagerOptions{MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, nil)
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
	eventually(t, "connection", m.Connected)
	return m
}

func receive(t *testing.T, sub *Subscription) models.StatusEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return models.StatusEvent{}
}

func TestManagerRefCounting(t *testing.T) {
	hub := NewHub(nil)
	m := startManager(t, hub)
	ctx := context.Background()

	a := m.Subscribe(ctx, "o1")
	b := m.Subscribe(ctx, "o1")
	if m.Refs("o1") != 2 {
		t.Fatalf("refs = %d, want 2", m.Refs("o1"))
	}
	if hub.Joined("o1") != 1 {
		t.Fatalf("hub joined = %d, want 1", hub.Joined("o1"))
	}

	hub.Publish(ctx, models.StatusEvent{OrderID: "o1", Status: models.OrderStatusAccepted, Sequence: 1})
	if ev := receive(t, a); ev.Status != models.OrderStatusAccepted {
		t.Errorf("a got %q", ev.Status)
	}
	if ev := receive(t, b); ev.Status != models.OrderStatusAccepted {
		t.Errorf("b got %q", ev.Status)
	}

	a.Close()
	a.Close()
	if m.Refs("o1") != 1 || hub.Joined("o1") != 1 {
		t.Fatalf("after first close refs=%d joined=%d", m.Refs("o1"), hub.Joined("o1"))
	}
	if _, ok := <-a.Events(); ok {
		t.Error("closed subscription should have a closed channel")
	}

	b.Close()
	if m.Refs("o1") != 0 {
		t.Errorf("refs = %d after last close", m.Refs("o1"))
	}
	if hub.Joined("o1") != 0 {
		t.Errorf("last close should leave the order")
	}
}

func TestManagerRejoinsAfterReconnect(t *testing.T) {
	hub := NewHub(nil)
	m := startManager(t, hub)
	ctx := context.Background()

	sub := m.Subscribe(ctx, "o7")
	defer sub.Close()

	hub.Disconnect()
	eventually(t, "rejoin after reconnect", func() bool { return m.Connected() && hub.Joined("o7") == 1 })

	hub.Publish(ctx, models.StatusEvent{OrderID: "o7", Status: models.OrderStatusPreparing, Sequence: 2})
	if ev := receive(t, sub); ev.Status != models.OrderStatusPreparing {
		t.Errorf("got %q after reconnect", ev.Status)
	}
}

func TestManagerDropsUntrackedOrders(t *testing.T) {
	hub := NewHub(nil)
	m := startManager(t, hub)

	sub := m.Subscribe(context.Background(), "mine")
	defer sub.Close()

	m.dispatch(models.StatusEvent{OrderID: "someone-else", Status: models.OrderStatusDelivered})
	m.dispatch(models.StatusEvent{OrderID: "mine", Status: models.OrderStatusAccepted})

	if ev := receive(t, sub); ev.OrderID != "mine" {
		t.Errorf("got event for %q", ev.OrderID)
	}
}

func TestDispatchKeepsNewestWhenBufferFull(t *testing.T) {
	m := NewManager(NewHub(nil).Client("c"), ManagerOptions{}, nil)
	sub := m.Subscribe(context.Background(), "o1")
	defer sub.Close()

	for i := 1; i <= subscriptionBuffer+5; i++ {
		m.dispatch(models.StatusEvent{OrderID: "o1", Sequence: int64(i)})
	}

	var last models.StatusEvent
	for i := 0; i < subscriptionBuffer; i++ {
		last = <-sub.Events()
	}
	if last.Sequence != int64(subscriptionBuffer+5) {
		t.Errorf("last sequence = %d, want %d", last.Sequence, subscriptionBuffer+5)
	}
}

func TestSubscribeWhileDisconnectedJoinsOnConnect(t *testing.T) {
	hub := NewHub(nil)
	m := NewManager(hub.Client("late"), ManagerOptions{MinBackoff: 10 * time.Millisecond}, nil)
	sub := m.Subscribe(context.Background(), "o9")
	defer sub.Close()
	if hub.Joined("o9") != 0 {
		t.Fatal("should not join before connecting")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	eventually(t, "join on connect", func() bool { return hub.Joined("o9") == 1 })
}

// joinHookTransport runs onJoin before each join reaches the hub.
type joinHookTransport struct {
	*HubClient

	mu     sync.Mutex
	onJoin func(orderID string)
}

func (h *joinHookTransport) setOnJoin(fn func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onJoin = fn
}

func (h *joinHookTransport) Join(ctx context.Context, orderID string) error {
	h.mu.Lock()
	fn := h.onJoin
	h.mu.Unlock()
	if fn != nil {
		fn(orderID)
	}
	return h.HubClient.Join(ctx, orderID)
}

func TestRejoinSkipsOrderReleasedDuringReconnect(t *testing.T) {
	hub := NewHub(nil)
	transport := &joinHookTransport{HubClient: hub.Client("racy")}
	m := NewManager(transport, ManagerOptions{MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
		m.Close()
	}()
	eventually(t, "connection", m.Connected)

	subs := map[string]*Subscription{
		"a": m.Subscribe(ctx, "a"),
		"b": m.Subscribe(ctx, "b"),
	}
	eventually(t, "initial joins", func() bool { return hub.Joined("a") == 1 && hub.Joined("b") == 1 })

	// The first rejoin releases the other order from another goroutine, as
	// a tracker stopping mid-reconnect would.
	var once sync.Once
	picked := make(chan [2]string, 1)
	transport.setOnJoin(func(orderID string) {
		once.Do(func() {
			other := "a"
			if orderID == "a" {
				other = "b"
			}
			go subs[other].Close()
			for deadline := time.Now().Add(2 * time.Second); m.Refs(other) > 0 && time.Now().Before(deadline); {
				time.Sleep(time.Millisecond)
			}
			picked <- [2]string{orderID, other}
		})
	})

	hub.Disconnect()
	var kept, released string
	select {
	case p := <-picked:
		kept, released = p[0], p[1]
	case <-time.After(2 * time.Second):
		t.Fatal("no rejoin after reconnect")
	}
	eventually(t, "rejoin", func() bool { return hub.Joined(kept) == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := hub.Joined(released); n != 0 {
		t.Errorf("released order %q still joined %d times", released, n)
	}
	subs[kept].Close()
}
