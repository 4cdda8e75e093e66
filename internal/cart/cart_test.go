package cart

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/jaswdr/faker"
	"github.com/shopspring/decimal"

	"github.com/chrisdamba/foodcart/internal/models"
)

func openService(t *testing.T, backend *fakeBackend, opts ...Option) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	svc := newTestService(store, backend, opts...)
	if err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return svc, store
}

func mustAdd(t *testing.T, svc *Service, lines ...models.CartLine) {
	t.Helper()
	for _, l := range lines {
		if err := svc.AddItem(context.Background(), l); err != nil {
			t.Fatalf("AddItem(%s): %v", l.ItemID, err)
		}
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAddItemMergesQuantities(t *testing.T) {
	svc, _ := openService(t, &fakeBackend{})
	mustAdd(t, svc, line("a", 100, 2), line("b", 50, 1), line("a", 100, 3))

	st := svc.Snapshot()
	if len(st.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(st.Lines))
	}
	if st.Lines[0].ItemID != "a" || st.Lines[0].Quantity != 5 {
		t.Errorf("line a = %+v", st.Lines[0])
	}
	if !svc.Subtotal().Equal(decimal.NewFromInt(550)) {
		t.Errorf("subtotal = %s", svc.Subtotal())
	}
}

func TestAddItemRejectsInvalidInput(t *testing.T) {
	svc, _ := openService(t, &fakeBackend{})
	mustAdd(t, svc, line("a", 100, 1))
	before := svc.Snapshot()

	if err := svc.AddItem(context.Background(), line("", 10, 1)); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("empty id: %v", err)
	}
	if err := svc.AddItem(context.Background(), line("b", -1, 1)); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("negative price: %v", err)
	}
	if err := svc.AddItem(context.Background(), line("b", 10, 0)); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("zero quantity: %v", err)
	}
	if !reflect.DeepEqual(before, svc.Snapshot()) {
		t.Error("invalid adds changed the cart")
	}
}

func TestRemoveMissingItemIsHarmless(t *testing.T) {
	svc, _ := openService(t, &fakeBackend{})
	mustAdd(t, svc, line("a", 100, 1))

	if err := svc.RemoveItem(context.Background(), "ghost"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if n := len(svc.Snapshot().Lines); n != 1 {
		t.Errorf("lines = %d", n)
	}
	if err := svc.RemoveItem(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	st := svc.Snapshot()
	if len(st.Lines) != 0 || st.Restaurant != nil {
		t.Errorf("cart not emptied: %+v", st)
	}
}

func TestUpdateQuantity(t *testing.T) {
	svc, _ := openService(t, &fakeBackend{})
	mustAdd(t, svc, line("a", 100, 2))
	ctx := context.Background()

	if err := svc.UpdateQuantity(ctx, "a", 0); err != nil {
		t.Fatal(err)
	}
	if q := svc.Snapshot().Lines[0].Quantity; q != 2 {
		t.Errorf("quantity after no-op = %d", q)
	}
	if err := svc.UpdateQuantity(ctx, "a", -4); err != nil {
		t.Fatal(err)
	}
	if err := svc.UpdateQuantity(ctx, "a", 7); err != nil {
		t.Fatal(err)
	}
	if q := svc.Snapshot().Lines[0].Quantity; q != 7 {
		t.Errorf("quantity = %d, want 7", q)
	}
}

func TestCouponDiscountIsClampedToSubtotal(t *testing.T) {
	backend := &fakeBackend{couponDiscount: decimal.NewFromInt(300)}
	svc, _ := openService(t, backend)
	mustAdd(t, svc, line("a", 100, 2), line("b", 50, 1))

	discount, err := svc.ApplyCoupon(context.Background(), "  feast300 ")
	if err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if !discount.Equal(decimal.NewFromInt(250)) {
		t.Errorf("discount = %s, want 250", discount)
	}
	if !svc.Total().IsZero() {
		t.Errorf("total = %s, want 0", svc.Total())
	}
	if len(backend.couponCalls) != 1 || backend.couponCalls[0].Code != "FEAST300" || !backend.couponCalls[0].Subtotal.Equal(decimal.NewFromInt(250)) {
		t.Errorf("unexpected validation call %+v", backend.couponCalls)
	}
	if svc.Snapshot().AppliedCouponCode != "FEAST300" {
		t.Error("code not normalized")
	}
}

func TestCouponRejectionClearsCouponAndKeepsMessage(t *testing.T) {
	backend := &fakeBackend{couponDiscount: decimal.NewFromInt(50)}
	svc, _ := openService(t, backend)
	mustAdd(t, svc, line("a", 200, 1))
	ctx := context.Background()

	if _, err := svc.ApplyCoupon(ctx, "WELCOME50"); err != nil {
		t.Fatal(err)
	}

	backend.couponErr = &models.RejectionError{Operation: "validate coupon", Message: "Coupon EXPIRED20 has expired"}
	_, err := svc.ApplyCoupon(ctx, "expired20")
	if err == nil {
		t.Fatal("expected rejection")
	}
	if got := UserMessage(err); got != "Coupon EXPIRED20 has expired" {
		t.Errorf("UserMessage = %q", got)
	}
	st := svc.Snapshot()
	if st.AppliedCouponCode != "" || !st.DiscountAmount.IsZero() {
		t.Errorf("coupon not cleared: %+v", st)
	}

	backend.couponErr = fmt.Errorf("validate coupon: connection refused")
	_, err = svc.ApplyCoupon(ctx, "WELCOME50")
	if got := UserMessage(err); got != genericFailure {
		t.Errorf("transport failure message = %q", got)
	}
}

func TestApplyThenRemoveCouponRestoresTotal(t *testing.T) {
	svc, _ := openService(t, &fakeBackend{couponDiscount: decimal.NewFromInt(50)})
	mustAdd(t, svc, line("a", 120, 2))
	before := svc.Total()

	if _, err := svc.ApplyCoupon(context.Background(), "WELCOME50"); err != nil {
		t.Fatal(err)
	}
	if !svc.Total().Equal(before.Sub(decimal.NewFromInt(50))) {
		t.Errorf("discounted total = %s", svc.Total())
	}
	if err := svc.RemoveCoupon(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !svc.Total().Equal(before) {
		t.Errorf("total after remove = %s, want %s", svc.Total(), before)
	}
}

func TestDiscountFollowsSubtotal(t *testing.T) {
	svc, _ := openService(t, &fakeBackend{couponDiscount: decimal.NewFromInt(50)})
	mustAdd(t, svc, line("a", 100, 2), line("b", 30, 1))
	if _, err := svc.ApplyCoupon(context.Background(), "WELCOME50"); err != nil {
		t.Fatal(err)
	}

	if err := svc.RemoveItem(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	st := svc.Snapshot()
	if !st.DiscountAmount.Equal(decimal.NewFromInt(30)) {
		t.Errorf("discount = %s, want 30", st.DiscountAmount)
	}
	if !svc.Total().IsZero() {
		t.Errorf("total = %s", svc.Total())
	}

	mustAdd(t, svc, line("c", 200, 1))
	if d := svc.Snapshot().DiscountAmount; !d.Equal(decimal.NewFromInt(50)) {
		t.Errorf("discount after growing cart = %s, want 50", d)
	}
}

func TestPlaceOrderCashOnDelivery(t *testing.T) {
	backend := &fakeBackend{}
	var recorded []models.OrderSnapshot
	svc, store := openService(t, backend, WithRecorder(recorderFunc(func(_ context.Context, s models.OrderSnapshot) error {
		recorded = append(recorded, s)
		return nil
	})))
	ctx := context.Background()
	mustAdd(t, svc, line("a", 100, 2), line("b", 50, 1))
	if err := svc.SetDeliveryAddress(ctx, testAddress); err != nil {
		t.Fatal(err)
	}

	snap, err := svc.PlaceOrder(ctx, "COD")
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if snap.OrderID != "ord-1" || snap.ProvisionalID != "prov-1" {
		t.Errorf("ids = %s / %s", snap.OrderID, snap.ProvisionalID)
	}
	if snap.PaymentStatus != models.PaymentStatusUnpaid || snap.TransactionID != "" {
		t.Errorf("cod payment = %s %q", snap.PaymentStatus, snap.TransactionID)
	}
	checks := map[string][2]decimal.Decimal{
		"subtotal": {snap.Subtotal, dec("250")},
		"taxes":    {snap.Taxes, dec("12.5")},
		"fee":      {snap.DeliveryFee, dec("40")},
		"total":    {snap.Total, dec("302.5")},
		"cashback": {snap.CashbackEarned, dec("6.05")},
	}
	for name, c := range checks {
		if !c[0].Equal(c[1]) {
			t.Errorf("%s = %s, want %s", name, c[0], c[1])
		}
	}
	if snap.LoyaltyPointsEarned != 30 {
		t.Errorf("loyalty = %d, want 30", snap.LoyaltyPointsEarned)
	}
	if !snap.EstimatedDelivery.Equal(fixedNow.Add(45*time.Minute)) {
		t.Errorf("eta = %s", snap.EstimatedDelivery)
	}
	if len(backend.chargeCalls) != 0 {
		t.Error("cash on delivery must not charge")
	}
	if req := backend.createCalls[0]; req.IdempotencyKey != "prov-1" || req.PaymentStatus != models.PaymentStatusUnpaid {
		t.Errorf("create request = %+v", req)
	}

	st := svc.Snapshot()
	if len(st.Lines) != 0 || st.AppliedCouponCode != "" || st.LastOrder == nil || st.LastOrder.OrderID != "ord-1" {
		t.Errorf("cart after order = %+v", st)
	}
	persisted, _ := store.Load(ctx, "test")
	if persisted.LastOrder == nil || len(persisted.Lines) != 0 {
		t.Error("placed order not persisted")
	}
	if len(recorded) != 1 || recorded[0].OrderID != "ord-1" {
		t.Errorf("recorded = %+v", recorded)
	}
}

func TestPlaceOrderWithCard(t *testing.T) {
	backend := &fakeBackend{}
	svc, _ := openService(t, backend)
	ctx := context.Background()
	mustAdd(t, svc, line("a", 100, 1))
	svc.SetDeliveryAddress(ctx, testAddress)

	snap, err := svc.PlaceOrder(ctx, "card")
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if snap.PaymentStatus != models.PaymentStatusPaid || snap.TransactionID != "txn-1" {
		t.Errorf("payment = %s %s", snap.PaymentStatus, snap.TransactionID)
	}
	if len(backend.chargeCalls) != 1 || !backend.chargeCalls[0].Amount.Equal(snap.Total) || backend.chargeCalls[0].IdempotencyKey != "prov-1" {
		t.Errorf("charge = %+v", backend.chargeCalls)
	}
	if req := backend.createCalls[0]; req.TransactionID != "txn-1" || req.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("create request = %+v", req)
	}
}

func TestPlaceOrderFailureLeavesCartUnchanged(t *testing.T) {
	tests := []struct {
		name       string
		backend    *fakeBackend
		method     string
		wantRefund bool
		wantMsg    string
	}{
		{
			name:    "payment declined",
			backend: &fakeBackend{chargeStatus: models.PaymentResultDeclined, chargeMsg: "Card declined by issuer"},
			method:  "card",
			wantMsg: "Card declined by issuer",
		},
		{
			name:    "payment unreachable",
			backend: &fakeBackend{chargeErr: errors.New("dial tcp: connection refused")},
			method:  "upi",
			wantMsg: genericFailure,
		},
		{
			name:       "order creation fails after payment",
			backend:    &fakeBackend{createErr: &models.RejectionError{Operation: "create order", Message: "Restaurant is closed"}},
			method:     "card",
			wantRefund: true,
			wantMsg:    "Restaurant is closed",
		},
		{
			name:    "cod order creation fails",
			backend: &fakeBackend{createErr: errors.New("timeout")},
			method:  "cod",
			wantMsg: genericFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.backend.couponDiscount = decimal.NewFromInt(20)
			svc, store := openService(t, tt.backend)
			ctx := context.Background()
			mustAdd(t, svc, line("a", 100, 2), line("b", 50, 1))
			svc.SetDeliveryAddress(ctx, testAddress)
			svc.ApplyCoupon(ctx, "SAVE20")
			before := svc.Snapshot()
			savesBefore := store.saves

			_, err := svc.PlaceOrder(ctx, tt.method)
			if err == nil {
				t.Fatal("expected failure")
			}
			if got := UserMessage(err); got != tt.wantMsg {
				t.Errorf("UserMessage = %q, want %q", got, tt.wantMsg)
			}
			if !reflect.DeepEqual(before, svc.Snapshot()) {
				t.Error("cart changed after failed placement")
			}
			if store.saves != savesBefore {
				t.Error("failed placement was persisted")
			}
			if tt.wantRefund != (len(tt.backend.refunds) == 1) {
				t.Errorf("refunds = %v, want refund=%v", tt.backend.refunds, tt.wantRefund)
			}
		})
	}
}

func TestPlaceOrderPreconditions(t *testing.T) {
	svc, _ := openService(t, &fakeBackend{})
	ctx := context.Background()

	if _, err := svc.PlaceOrder(ctx, "cod"); !errors.Is(err, ErrEmptyCart) {
		t.Errorf("empty cart: %v", err)
	}
	mustAdd(t, svc, line("a", 10, 1))
	if _, err := svc.PlaceOrder(ctx, "cod"); !errors.Is(err, ErrNoDeliveryAddress) {
		t.Errorf("no address: %v", err)
	}
	svc.SetDeliveryAddress(ctx, testAddress)
	if _, err := svc.PlaceOrder(ctx, "  "); !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Errorf("no method: %v", err)
	}
}

func TestOpenRestoresPersistedState(t *testing.T) {
	backend := &fakeBackend{}
	store := newMemStore()
	first := newTestService(store, backend)
	first.Open(context.Background())
	mustAdd(t, first, line("a", 80, 2))

	second := newTestService(store, backend)
	if err := second.AddItem(context.Background(), line("b", 1, 1)); !errors.Is(err, ErrNotOpened) {
		t.Errorf("AddItem before Open: %v", err)
	}
	if err := second.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !second.Subtotal().Equal(decimal.NewFromInt(160)) {
		t.Errorf("restored subtotal = %s", second.Subtotal())
	}
}

func TestSaveFailureDoesNotFailOperation(t *testing.T) {
	svc, store := openService(t, &fakeBackend{})
	store.failErr = errors.New("disk full")

	if err := svc.AddItem(context.Background(), line("a", 10, 1)); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(svc.Snapshot().Lines) != 1 {
		t.Error("in-memory mutation lost")
	}
}

func TestReconcileDropsFinishedOrder(t *testing.T) {
	backend := &fakeBackend{}
	svc, _ := openService(t, backend)
	ctx := context.Background()
	mustAdd(t, svc, line("a", 100, 1))
	svc.SetDeliveryAddress(ctx, testAddress)
	if _, err := svc.PlaceOrder(ctx, "cod"); err != nil {
		t.Fatal(err)
	}

	backend.fetched = models.TrackedOrder{OrderID: "ord-1", Status: models.OrderStatusPreparing}
	remote, err := svc.Reconcile(ctx)
	if err != nil || remote.Status != models.OrderStatusPreparing {
		t.Fatalf("Reconcile = %+v, %v", remote, err)
	}
	if svc.Snapshot().LastOrder == nil {
		t.Fatal("in-flight order dropped")
	}

	backend.fetched = models.TrackedOrder{OrderID: "ord-1", Status: models.OrderStatusDelivered, PaymentStatus: models.PaymentStatusPaid}
	if _, err := svc.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if svc.Snapshot().LastOrder != nil {
		t.Error("delivered order should be dropped from the cache")
	}
}

func TestRandomEditsKeepInvariants(t *testing.T) {
	fake := faker.New()
	backend := &fakeBackend{couponDiscount: decimal.NewFromInt(int64(fake.IntBetween(0, 500)))}
	svc, _ := openService(t, backend)
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d"}

	for i := 0; i < 200; i++ {
		id := ids[fake.IntBetween(0, len(ids)-1)]
		switch fake.IntBetween(0, 4) {
		case 0, 1:
			svc.AddItem(ctx, line(id, int64(fake.IntBetween(0, 300)), fake.IntBetween(1, 3)))
		case 2:
			svc.RemoveItem(ctx, id)
		case 3:
			svc.UpdateQuantity(ctx, id, fake.IntBetween(-1, 5))
		case 4:
			svc.ApplyCoupon(ctx, "RANDOM")
		}

		st := svc.Snapshot()
		seen := map[string]bool{}
		for _, l := range st.Lines {
			if seen[l.ItemID] {
				t.Fatalf("duplicate line for %s", l.ItemID)
			}
			seen[l.ItemID] = true
			if l.Quantity < 1 {
				t.Fatalf("line %s has quantity %d", l.ItemID, l.Quantity)
			}
		}
		if svc.Total().IsNegative() {
			t.Fatalf("negative total %s", svc.Total())
		}
		if st.DiscountAmount.GreaterThan(st.Subtotal()) {
			t.Fatalf("discount %s exceeds subtotal %s", st.DiscountAmount, st.Subtotal())
		}
	}
}
