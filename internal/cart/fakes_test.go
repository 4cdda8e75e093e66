package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chrisdamba/foodcart/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	states  map[string]models.CartState
	saves   int
	failErr error
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]models.CartState)}
}

func (m *memStore) Load(_ context.Context, profile string) (*models.CartState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[profile]
	if !ok {
		return nil, nil
	}
	c := st.Clone()
	return &c, nil
}

func (m *memStore) Save(_ context.Context, profile string, state *models.CartState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.saves++
	m.states[profile] = state.Clone()
	return nil
}

// fakeBackend plays the coupon, order and payment services.
type fakeBackend struct {
	mu sync.Mutex

	couponDiscount decimal.Decimal
	couponErr      error
	couponCalls    []models.CouponRequest

	createErr   error
	createCalls []models.CreateOrderRequest

	chargeStatus string
	chargeMsg    string
	chargeErr    error
	chargeCalls  []models.PaymentRequest
	refunds      []string

	fetched models.TrackedOrder
}

func (f *fakeBackend) ValidateCoupon(_ context.Context, code string, subtotal decimal.Decimal) (models.CouponResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.couponCalls = append(f.couponCalls, models.CouponRequest{Code: code, Subtotal: subtotal})
	if f.couponErr != nil {
		return models.CouponResult{}, f.couponErr
	}
	return models.CouponResult{Code: code, DiscountAmount: f.couponDiscount}, nil
}

func (f *fakeBackend) CreateOrder(_ context.Context, req models.CreateOrderRequest) (models.CreatedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, req)
	if f.createErr != nil {
		return models.CreatedOrder{}, f.createErr
	}
	return models.CreatedOrder{OrderID: "ord-1", Status: models.OrderStatusPending}, nil
}

func (f *fakeBackend) Charge(_ context.Context, req models.PaymentRequest) (models.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chargeCalls = append(f.chargeCalls, req)
	if f.chargeErr != nil {
		return models.PaymentResult{}, f.chargeErr
	}
	status := f.chargeStatus
	if status == "" {
		status = models.PaymentResultSucceeded
	}
	return models.PaymentResult{Status: status, TransactionID: "txn-1", Message: f.chargeMsg}, nil
}

func (f *fakeBackend) Refund(_ context.Context, txn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, txn)
	return nil
}

func (f *fakeBackend) FetchOrder(_ context.Context, orderID string) (models.TrackedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetched.OrderID != orderID {
		return models.TrackedOrder{}, errors.New("not found")
	}
	return f.fetched, nil
}

type recorderFunc func(context.Context, models.OrderSnapshot) error

func (f recorderFunc) RecordReceipt(ctx context.Context, s models.OrderSnapshot) error { return f(ctx, s) }

var fixedNow = time.Date(2024, 3, 9, 19, 30, 0, 0, time.UTC)

func newTestService(store *memStore, backend *fakeBackend, opts ...Option) *Service {
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return "prov-1" }),
	}, opts...)
	return NewService("test", Dependencies{
		Store:    store,
		Coupons:  backend,
		Orders:   backend,
		Payments: backend,
		Fetcher:  backend,
	}, nil, opts...)
}

func line(id string, price int64, qty int) models.CartLine {
	return models.CartLine{ItemID: id, Name: "item " + id, UnitPrice: decimal.NewFromInt(price), Quantity: qty}
}

var testAddress = models.Address{HouseNo: "4B", Address1: "MG Road", Postcode: "560001", City: "Bengaluru"}
