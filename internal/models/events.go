package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	JoinTypeJoin  = "join_order"
	JoinTypeLeave = "leave_order"
)

// StatusEvent is pushed by the server whenever an order changes. Pointer
// fields are partial updates and are only applied when present.
type StatusEvent struct {
	OrderID              string           `json:"order_id"`
	Status               OrderStatus      `json:"status"`
	Sequence             int64            `json:"sequence,omitempty"`
	RestaurantName       *string          `json:"restaurant_name,omitempty"`
	Total                *decimal.Decimal `json:"total,omitempty"`
	EstimatedPrepMinutes *int             `json:"estimated_prep_minutes,omitempty"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// JoinMessage asks the push server to start or stop relaying an order.
type JoinMessage struct {
	Type     string `json:"type"`
	OrderID  string `json:"order_id"`
	ClientID string `json:"client_id"`
}

// StatusChange is an accepted transition as recorded by the tracker.
type StatusChange struct {
	OrderID   string      `json:"order_id"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Sequence  int64       `json:"sequence"`
	ChangedAt time.Time   `json:"changed_at"`
}
