package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/chrisdamba/foodcart/internal/models"
)

func (c *Client) ValidateCoupon(ctx context.Context, code string, subtotal decimal.Decimal) (models.CouponResult, error) {
	var out models.CouponResult
	err := c.do(ctx, request{
		op:     "validate coupon",
		method: http.MethodPost,
		path:   "/api/coupons/validate",
		body:   models.CouponRequest{Code: code, Subtotal: subtotal},
	}, &out)
	return out, err
}

// CreateOrder is safe to retry because the server deduplicates on the
// idempotency key.
func (c *Client) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (models.CreatedOrder, error) {
	if req.CustomerID == "" {
		req.CustomerID = c.customerID
	}
	var out models.CreatedOrder
	err := c.do(ctx, request{
		op:             "create order",
		method:         http.MethodPost,
		path:           "/api/orders",
		body:           req,
		idempotencyKey: req.IdempotencyKey,
	}, &out)
	if err == nil && out.OrderID == "" {
		return out, errors.New("create order: server returned no order id")
	}
	return out, err
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (models.TrackedOrder, error) {
	var out models.TrackedOrder
	err := c.do(ctx, request{
		op:     "fetch order",
		method: http.MethodGet,
		path:   "/api/orders/" + url.PathEscape(orderID),
	}, &out)
	return out, err
}

func (c *Client) Charge(ctx context.Context, req models.PaymentRequest) (models.PaymentResult, error) {
	if req.CustomerID == "" {
		req.CustomerID = c.customerID
	}
	var out models.PaymentResult
	err := c.do(ctx, request{
		op:             "charge payment",
		method:         http.MethodPost,
		path:           "/api/payments",
		body:           req,
		idempotencyKey: req.IdempotencyKey,
	}, &out)
	return out, err
}

func (c *Client) Refund(ctx context.Context, transactionID string) error {
	return c.do(ctx, request{
		op:             "refund payment",
		method:         http.MethodPost,
		path:           "/api/payments/" + url.PathEscape(transactionID) + "/refund",
		idempotencyKey: "refund-" + transactionID,
	}, nil)
}
