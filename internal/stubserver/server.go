package stubserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chrisdamba/foodcart/internal/models"
	"github.com/chrisdamba/foodcart/internal/push"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Options struct {
	DeclinedMethods []string
	// StepInterval is the delay between simulated kitchen steps. Zero
	// disables the simulation.
	StepInterval time.Duration
	Now          func() time.Time
}

type order struct {
	view          models.TrackedOrder
	estimatedETA  time.Time
	paymentMethod string
}

type payment struct {
	result models.PaymentResult
	amount decimal.Decimal
}

// Server is an in-memory stand-in for the order, coupon and payment
// services. Status changes are published through the configured Publisher.
type Server struct {
	opts      Options
	publisher push.Publisher
	logger    *zap.Logger
	queue     transitionQueue

	mu          sync.Mutex
	coupons     map[string]Coupon
	orders      map[string]*order
	orderKeys   map[string]string
	payments    map[string]*payment
	paymentKeys map[string]string
	declined    map[string]bool
	failures    int
}

func New(opts Options, publisher push.Publisher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		opts:        opts,
		publisher:   publisher,
		logger:      logger.Named("stub"),
		coupons:     DefaultCoupons(),
		orders:      make(map[string]*order),
		orderKeys:   make(map[string]string),
		payments:    make(map[string]*payment),
		paymentKeys: make(map[string]string),
		declined:    make(map[string]bool),
	}
	for _, m := range opts.DeclinedMethods {
		s.declined[strings.ToLower(strings.TrimSpace(m))] = true
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.faultInjector)

	r.Route("/api", func(r chi.Router) {
		r.Post("/coupons/validate", s.validateCoupon)
		r.Post("/orders", s.createOrder)
		r.Get("/orders/{orderID}", s.getOrder)
		r.Post("/orders/{orderID}/status", s.updateStatus)
		r.Post("/payments", s.charge)
		r.Post("/payments/{transactionID}/refund", s.refund)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// InjectFailures makes the next n requests answer 503.
func (s *Server) InjectFailures(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

func (s *Server) faultInjector(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		fail := s.failures > 0
		if fail {
			s.failures--
		}
		s.mu.Unlock()
		if fail {
			writeRejection(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeRejection(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func (s *Server) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req models.CouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRejection(w, http.StatusBadRequest, "invalid request body")
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))

	s.mu.Lock()
	coupon, ok := s.coupons[code]
	s.mu.Unlock()
	if !ok {
		writeRejection(w, http.StatusNotFound, fmt.Sprintf("Coupon %s is not valid", code))
		return
	}
	discount, err := coupon.Discount(req.Subtotal)
	if err != nil {
		writeRejection(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeData(w, http.StatusOK, models.CouponResult{Code: code, DiscountAmount: discount})
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRejection(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeRejection(w, http.StatusBadRequest, "Order must contain at least one item")
		return
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		writeRejection(w, http.StatusBadRequest, "Payment method is required")
		return
	}
	key := r.Header.Get("X-Idempotency-Key")

	s.mu.Lock()
	if id, seen := s.orderKeys[key]; key != "" && seen {
		o := s.orders[id]
		created := models.CreatedOrder{OrderID: id, EstimatedDeliveryTime: o.estimatedETA, Status: o.view.Status}
		s.mu.Unlock()
		writeData(w, http.StatusOK, created)
		return
	}
	if !models.IsCashOnDelivery(req.PaymentMethod) {
		p, ok := s.payments[req.TransactionID]
		if !ok || p.result.Status != models.PaymentResultSucceeded {
			s.mu.Unlock()
			writeRejection(w, http.StatusPaymentRequired, "Payment has not been confirmed")
			return
		}
	}

	now := s.opts.Now()
	o := &order{
		paymentMethod: req.PaymentMethod,
		estimatedETA:  now.Add(45 * time.Minute),
		view: models.TrackedOrder{
			OrderID:        uuid.NewString(),
			Status:         models.OrderStatusPending,
			RestaurantName: req.RestaurantName,
			Total:          req.Total,
			PaymentStatus:  req.PaymentStatus,
			OrderTimestamp: now,
		},
	}
	for _, l := range req.Items {
		o.view.Items = append(o.view.Items, models.TrackedItem{
			ItemID:   l.ItemID,
			Name:     l.Name,
			Quantity: l.Quantity,
			Price:    l.UnitPrice,
			PrepTime: l.PrepTime,
		})
	}
	s.orders[o.view.OrderID] = o
	if key != "" {
		s.orderKeys[key] = o.view.OrderID
	}
	created := models.CreatedOrder{OrderID: o.view.OrderID, EstimatedDeliveryTime: o.estimatedETA, Status: o.view.Status}
	s.mu.Unlock()

	s.logger.Info("order created", zap.String("order_id", created.OrderID), zap.String("payment_method", req.PaymentMethod))
	s.schedule(created.OrderID, models.OrderStatusPending, now)
	writeData(w, http.StatusCreated, created)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	view, err := s.Order(chi.URLParam(r, "orderID"))
	if err != nil {
		writeRejection(w, http.StatusNotFound, "Order not found")
		return
	}
	writeData(w, http.StatusOK, view)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeRejection(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, err := models.ParseOrderStatus(body.Status)
	if err != nil {
		writeRejection(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := s.Advance(r.Context(), chi.URLParam(r, "orderID"), status)
	switch {
	case errors.Is(err, ErrOrderNotFound):
		writeRejection(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, ErrInvalidTransition):
		writeRejection(w, http.StatusConflict, err.Error())
	case err != nil:
		writeRejection(w, http.StatusInternalServerError, err.Error())
	default:
		writeData(w, http.StatusOK, ev)
	}
}

func (s *Server) charge(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRejection(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		writeRejection(w, http.StatusBadRequest, "Amount must be positive")
		return
	}
	key := r.Header.Get("X-Idempotency-Key")

	s.mu.Lock()
	defer s.mu.Unlock()
	if txn, seen := s.paymentKeys[key]; key != "" && seen {
		writeData(w, http.StatusOK, s.payments[txn].result)
		return
	}

	result := models.PaymentResult{TransactionID: "txn_" + uuid.NewString(), Status: models.PaymentResultSucceeded}
	if s.declined[strings.ToLower(req.Method)] {
		result.Status = models.PaymentResultDeclined
		result.Message = fmt.Sprintf("Payment via %s was declined", req.Method)
	}
	s.payments[result.TransactionID] = &payment{result: result, amount: req.Amount}
	if key != "" {
		s.paymentKeys[key] = result.TransactionID
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	txn := chi.URLParam(r, "transactionID")

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[txn]
	if !ok {
		writeRejection(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if p.result.Status == models.PaymentResultSucceeded {
		p.result.Status = models.PaymentResultRefunded
	}
	writeData(w, http.StatusOK, p.result)
}

// Order returns a copy of the current server view.
func (s *Server) Order(orderID string) (models.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return models.TrackedOrder{}, ErrOrderNotFound
	}
	view := o.view
	view.Items = append([]models.TrackedItem(nil), o.view.Items...)
	return view, nil
}

func (s *Server) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// PaymentStatus reports the gateway status of a transaction.
func (s *Server) PaymentStatus(transactionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[transactionID]
	if !ok {
		return "", false
	}
	return p.result.Status, true
}

// Advance moves an order forward (or cancels it) and publishes the change.
// Backward moves and changes after a terminal status are refused.
func (s *Server) Advance(ctx context.Context, orderID string, status models.OrderStatus) (models.StatusEvent, error) {
	s.mu.Lock()
	o, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return models.StatusEvent{}, ErrOrderNotFound
	}
	current := o.view.Status
	if current.IsTerminal() || (status != models.OrderStatusCancelled && status.Rank() <= current.Rank()) {
		s.mu.Unlock()
		return models.StatusEvent{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}
	o.view.Status = status
	o.view.Sequence++
	ev := models.StatusEvent{
		OrderID:   orderID,
		Status:    status,
		Sequence:  o.view.Sequence,
		UpdatedAt: s.opts.Now(),
	}
	if status == models.OrderStatusDelivered && models.IsCashOnDelivery(o.paymentMethod) {
		o.view.PaymentStatus = models.PaymentStatusPaid
	}
	s.mu.Unlock()

	s.logger.Info("order status changed", zap.String("order_id", orderID), zap.String("from", string(current)), zap.String("to", string(status)), zap.Int64("sequence", ev.Sequence))
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("failed to publish status event", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	s.schedule(orderID, status, ev.UpdatedAt)
	return ev, nil
}
