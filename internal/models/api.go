package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type CouponRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type CouponResult struct {
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

type CreateOrderRequest struct {
	IdempotencyKey  string          `json:"-"`
	CustomerID      string          `json:"customerId,omitempty"`
	RestaurantID    string          `json:"restaurantId,omitempty"`
	RestaurantName  string          `json:"restaurantName,omitempty"`
	Items           []CartLine      `json:"items"`
	DeliveryAddress Address         `json:"deliveryAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	TransactionID   string          `json:"transactionId,omitempty"`
	CouponCode      string          `json:"couponCode,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Taxes           decimal.Decimal `json:"taxes"`
	DeliveryFee     decimal.Decimal `json:"deliveryFee"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
}

type CreatedOrder struct {
	OrderID               string      `json:"orderId"`
	EstimatedDeliveryTime time.Time   `json:"estimatedDeliveryTime"`
	Status                OrderStatus `json:"status"`
}

type PaymentRequest struct {
	IdempotencyKey string          `json:"-"`
	Reference      string          `json:"reference"`
	Method         string          `json:"method"`
	Amount         decimal.Decimal `json:"amount"`
	CustomerID     string          `json:"customerId,omitempty"`
}

const (
	PaymentResultSucceeded = "succeeded"
	PaymentResultDeclined  = "declined"
	PaymentResultRefunded  = "refunded"
)

type PaymentResult struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	Message       string `json:"message,omitempty"`
}

// RejectionError is a business rejection reported by the server with
// success=false. Message is the server text, shown to the user as is.
type RejectionError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Operation, e.Message)
}
