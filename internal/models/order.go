package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSnapshot is the receipt built when an order is placed.
type OrderSnapshot struct {
	OrderID             string          `json:"order_id"`
	ProvisionalID       string          `json:"provisional_id"`
	CustomerID          string          `json:"customer_id,omitempty"`
	RestaurantID        string          `json:"restaurant_id,omitempty"`
	RestaurantName      string          `json:"restaurant_name,omitempty"`
	PaymentMethod       string          `json:"payment_method"`
	PaymentStatus       PaymentStatus   `json:"payment_status"`
	TransactionID       string          `json:"transaction_id,omitempty"`
	EstimatedDelivery   time.Time       `json:"estimated_delivery"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	Taxes               decimal.Decimal `json:"taxes"`
	DeliveryFee         decimal.Decimal `json:"delivery_fee"`
	Discount            decimal.Decimal `json:"discount"`
	Total               decimal.Decimal `json:"total"`
	CouponCode          string          `json:"coupon_code,omitempty"`
	LoyaltyPointsEarned int64           `json:"loyalty_points_earned"`
	CashbackEarned      decimal.Decimal `json:"cashback_earned"`
	Items               []CartLine      `json:"items"`
	DeliveryAddress     Address         `json:"delivery_address"`
	PlacedAt            time.Time       `json:"placed_at"`
}

type TrackedItem struct {
	ItemID   string          `json:"item_id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	PrepTime float64         `json:"prep_time,omitempty"`
}

// TrackedOrder is the server view of an order as seen by the tracker.
type TrackedOrder struct {
	OrderID              string          `json:"order_id"`
	Status               OrderStatus     `json:"status"`
	Items                []TrackedItem   `json:"items"`
	RestaurantName       string          `json:"restaurant_name"`
	Total                decimal.Decimal `json:"total"`
	PaymentStatus        PaymentStatus   `json:"payment_status,omitempty"`
	OrderTimestamp       time.Time       `json:"order_timestamp"`
	EstimatedPrepMinutes int             `json:"estimated_prep_minutes,omitempty"`
	Sequence             int64           `json:"sequence,omitempty"`
}
