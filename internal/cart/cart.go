package cart

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lucsky/cuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
)

type Store interface {
	Load(ctx context.Context, profile string) (*models.CartState, error)
	Save(ctx context.Context, profile string, state *models.CartState) error
}

type CouponValidator interface {
	ValidateCoupon(ctx context.Context, code string, subtotal decimal.Decimal) (models.CouponResult, error)
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, req models.CreateOrderRequest) (models.CreatedOrder, error)
}

type OrderFetcher interface {
	FetchOrder(ctx context.Context, orderID string) (models.TrackedOrder, error)
}

type PaymentGateway interface {
	Charge(ctx context.Context, req models.PaymentRequest) (models.PaymentResult, error)
	Refund(ctx context.Context, transactionID string) error
}

type ReceiptRecorder interface {
	RecordReceipt(ctx context.Context, snapshot models.OrderSnapshot) error
}

type Dependencies struct {
	Store    Store
	Coupons  CouponValidator
	Orders   OrderCreator
	Payments PaymentGateway
	Fetcher  OrderFetcher
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func WithPricing(p Pricing) Option {
	return func(s *Service) { s.pricing = p }
}

func WithRecorder(r ReceiptRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithCustomerID(id string) Option {
	return func(s *Service) { s.customerID = id }
}

// Service is the cart of one profile. A single mutex serializes every
// operation, remote calls included, so a mutation never interleaves with a
// coupon check or an order placement.
type Service struct {
	profile    string
	customerID string
	deps       Dependencies
	recorder   ReceiptRecorder
	pricing    Pricing
	now        func() time.Time
	newID      func() string
	logger     *zap.Logger

	mu     sync.Mutex
	state  models.CartState
	opened bool
}

func NewService(profile string, deps Dependencies, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		profile: profile,
		deps:    deps,
		pricing: DefaultPricing(),
		now:     time.Now,
		newID:   cuid.New,
		logger:  logger.Named("cart").With(zap.String("profile", profile)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open reads the persisted state once. A missing record is an empty cart.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deps.Store != nil {
		state, err := s.deps.Store.Load(ctx, s.profile)
		if err != nil {
			return fmt.Errorf("failed to load cart: %w", err)
		}
		if state != nil {
			s.state = *state
		}
	}
	s.derive()
	s.opened = true
	s.logger.Debug("cart opened", zap.Int("lines", len(s.state.Lines)))
	return nil
}

// derive recomputes every derived field after a mutation.
func (s *Service) derive() {
	if s.state.AppliedCouponCode == "" {
		s.state.CouponDiscount = decimal.Zero
	}
	s.state.DiscountAmount = clampDiscount(s.state.CouponDiscount, s.state.Subtotal())
	if len(s.state.Lines) == 0 {
		s.state.Restaurant = nil
	}
}

// commit derives, stamps and persists the state. Storage is a warm-start
// cache, so a failed save is logged and does not fail the operation.
func (s *Service) commit(ctx context.Context) {
	s.derive()
	s.state.UpdatedAt = s.now()
	if s.deps.Store == nil {
		return
	}
	snapshot := s.state.Clone()
	if err := s.deps.Store.Save(ctx, s.profile, &snapshot); err != nil {
		s.logger.Warn("failed to persist cart", zap.Error(err))
	}
}

func (s *Service) ensureOpen() error {
	if !s.opened {
		return ErrNotOpened
	}
	return nil
}

// AddItem merges line into the cart. An existing item id gets the quantities
// summed; anything else is appended.
func (s *Service) AddItem(ctx context.Context, line models.CartLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	if strings.TrimSpace(line.ItemID) == "" || line.UnitPrice.IsNegative() {
		s.logger.Warn("rejected invalid item", zap.String("item_id", line.ItemID), zap.String("unit_price", line.UnitPrice.String()))
		return ErrInvalidItem
	}
	if line.Quantity < 1 {
		return ErrInvalidQuantity
	}

	merged := false
	for i := range s.state.Lines {
		if s.state.Lines[i].ItemID == line.ItemID {
			s.state.Lines[i].Quantity += line.Quantity
			merged = true
			break
		}
	}
	if !merged {
		if len(s.state.Lines) == 0 && line.RestaurantID != "" {
			s.state.Restaurant = &models.RestaurantRef{ID: line.RestaurantID, Name: line.RestaurantName}
		}
		s.state.Lines = append(s.state.Lines, line)
	}

	s.commit(ctx)
	return nil
}

// RemoveItem deletes the line for itemID. Removing an absent item is not an
// error.
func (s *Service) RemoveItem(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	for i := range s.state.Lines {
		if s.state.Lines[i].ItemID == itemID {
			s.state.Lines = append(s.state.Lines[:i], s.state.Lines[i+1:]...)
			break
		}
	}
	s.commit(ctx)
	return nil
}

// UpdateQuantity sets the quantity of an existing line. Values below 1 are
// ignored; use RemoveItem to drop a line.
func (s *Service) UpdateQuantity(ctx context.Context, itemID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if qty < 1 {
		return nil
	}

	for i := range s.state.Lines {
		if s.state.Lines[i].ItemID == itemID {
			s.state.Lines[i].Quantity = qty
			s.commit(ctx)
			return nil
		}
	}
	return nil
}

// ApplyCoupon validates code against the current subtotal. Any failure
// clears the coupon; rejections keep the server message (see UserMessage).
func (s *Service) ApplyCoupon(ctx context.Context, code string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return decimal.Zero, err
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		s.clearCoupon()
		s.commit(ctx)
		return decimal.Zero, ErrEmptyCoupon
	}

	subtotal := s.state.Subtotal()
	res, err := s.deps.Coupons.ValidateCoupon(ctx, code, subtotal)
	if err != nil {
		s.logger.Info("coupon rejected", zap.String("code", code), zap.Error(err))
		s.clearCoupon()
		s.commit(ctx)
		return decimal.Zero, err
	}

	s.state.AppliedCouponCode = code
	s.state.CouponDiscount = res.DiscountAmount
	s.commit(ctx)
	s.logger.Info("coupon applied", zap.String("code", code), zap.String("discount", s.state.DiscountAmount.String()))
	return s.state.DiscountAmount, nil
}

func (s *Service) clearCoupon() {
	s.state.AppliedCouponCode = ""
	s.state.CouponDiscount = decimal.Zero
	s.state.DiscountAmount = decimal.Zero
}

func (s *Service) RemoveCoupon(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	s.clearCoupon()
	s.commit(ctx)
	return nil
}

func (s *Service) SetDeliveryAddress(ctx context.Context, addr models.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if addr.IsZero() {
		return ErrNoDeliveryAddress
	}
	s.state.DeliveryAddress = &addr
	s.commit(ctx)
	return nil
}

func (s *Service) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Subtotal()
}

// Total is subtotal minus discount, never negative.
func (s *Service) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return netTotal(s.state.Subtotal(), s.state.DiscountAmount)
}

func (s *Service) Quote() Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pricing.quote(s.state.Subtotal(), s.state.DiscountAmount)
}

// Snapshot returns a deep copy of the current state.
func (s *Service) Snapshot() models.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// PlaceOrder prices the cart, charges non-cash methods and creates the
// order. The cart is cleared only when every step succeeded; on failure it
// is left exactly as it was.
func (s *Service) PlaceOrder(ctx context.Context, method string) (models.OrderSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return models.OrderSnapshot{}, err
	}

	if len(s.state.Lines) == 0 {
		return models.OrderSnapshot{}, ErrEmptyCart
	}
	if s.state.DeliveryAddress.IsZero() {
		return models.OrderSnapshot{}, ErrNoDeliveryAddress
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return models.OrderSnapshot{}, ErrInvalidPaymentMethod
	}

	q := s.pricing.quote(s.state.Subtotal(), s.state.DiscountAmount)
	provisionalID := s.newID()
	placedAt := s.now()
	items := append([]models.CartLine(nil), s.state.Lines...)

	var restaurant models.RestaurantRef
	if s.state.Restaurant != nil {
		restaurant = *s.state.Restaurant
	}

	var payment *paymentStep
	var steps []step
	if !models.IsCashOnDelivery(method) {
		payment = &paymentStep{
			gateway: s.deps.Payments,
			request: models.PaymentRequest{
				IdempotencyKey: provisionalID,
				Reference:      provisionalID,
				Method:         method,
				Amount:         q.Total,
				CustomerID:     s.customerID,
			},
		}
		steps = append(steps, payment)
	}
	create := &createOrderStep{
		creator: s.deps.Orders,
		payment: payment,
		request: models.CreateOrderRequest{
			IdempotencyKey:  provisionalID,
			CustomerID:      s.customerID,
			RestaurantID:    restaurant.ID,
			RestaurantName:  restaurant.Name,
			Items:           items,
			DeliveryAddress: *s.state.DeliveryAddress,
			PaymentMethod:   method,
			PaymentStatus:   models.PaymentStatusUnpaid,
			CouponCode:      s.state.AppliedCouponCode,
			Subtotal:        q.Subtotal,
			Taxes:           q.Taxes,
			DeliveryFee:     q.DeliveryFee,
			Discount:        q.Discount,
			Total:           q.Total,
		},
	}
	steps = append(steps, create)

	log := s.logger.With(zap.String("provisional_id", provisionalID), zap.String("payment_method", method))
	if err := runSteps(ctx, steps, log); err != nil {
		return models.OrderSnapshot{}, err
	}

	snapshot := models.OrderSnapshot{
		OrderID:             create.created.OrderID,
		ProvisionalID:       provisionalID,
		CustomerID:          s.customerID,
		RestaurantID:        restaurant.ID,
		RestaurantName:      restaurant.Name,
		PaymentMethod:       method,
		PaymentStatus:       models.PaymentStatusUnpaid,
		EstimatedDelivery:   placedAt.Add(s.pricing.DeliveryWindow),
		Subtotal:            q.Subtotal,
		Taxes:               q.Taxes,
		DeliveryFee:         q.DeliveryFee,
		Discount:            q.Discount,
		Total:               q.Total,
		CouponCode:          s.state.AppliedCouponCode,
		LoyaltyPointsEarned: q.LoyaltyPoints,
		CashbackEarned:      q.Cashback,
		Items:               items,
		DeliveryAddress:     *s.state.DeliveryAddress,
		PlacedAt:            placedAt,
	}
	if payment != nil {
		snapshot.PaymentStatus = models.PaymentStatusPaid
		snapshot.TransactionID = payment.result.TransactionID
	}
	if !create.created.EstimatedDeliveryTime.IsZero() {
		snapshot.EstimatedDelivery = create.created.EstimatedDeliveryTime
	}

	s.state.LastOrder = &snapshot
	s.state.Lines = nil
	s.clearCoupon()
	s.commit(ctx)
	log.Info("order placed", zap.String("order_id", snapshot.OrderID), zap.String("total", snapshot.Total.String()))

	if s.recorder != nil {
		if err := s.recorder.RecordReceipt(ctx, snapshot); err != nil {
			log.Warn("failed to record receipt", zap.Error(err))
		}
	}
	return snapshot, nil
}

// Reconcile refreshes the last order from the server. Once the server
// reports a terminal status the cached order is dropped.
func (s *Service) Reconcile(ctx context.Context) (*models.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if s.state.LastOrder == nil || s.deps.Fetcher == nil {
		return nil, nil
	}

	remote, err := s.deps.Fetcher.FetchOrder(ctx, s.state.LastOrder.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile order %s: %w", s.state.LastOrder.OrderID, err)
	}
	if remote.Status.IsTerminal() {
		s.logger.Info("last order finished, dropping cached receipt", zap.String("order_id", remote.OrderID), zap.String("status", string(remote.Status)))
		s.state.LastOrder = nil
		s.commit(ctx)
	} else if remote.PaymentStatus != "" && remote.PaymentStatus != s.state.LastOrder.PaymentStatus {
		s.state.LastOrder.PaymentStatus = remote.PaymentStatus
		s.commit(ctx)
	}
	return &remote, nil
}
