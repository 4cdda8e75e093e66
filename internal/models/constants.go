package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusAccepted       OrderStatus = "accepted"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPaid   PaymentStatus = "Paid"
	PaymentStatusUnpaid PaymentStatus = "Unpaid"
)

const (
	PaymentMethodCOD    = "cod"
	PaymentMethodCard   = "card"
	PaymentMethodUPI    = "upi"
	PaymentMethodWallet = "wallet"
)

const (
	TopicOrderReceipts      = "order_receipts"
	TopicOrderStatusChanges = "order_status_changes"
)

// forwardStatuses is the lifecycle order used for the monotonic guard.
var forwardStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusAccepted,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
}

var statusAliases = map[string]OrderStatus{
	"pending":        OrderStatusPending,
	"placed":         OrderStatusPending,
	"accepted":       OrderStatusAccepted,
	"confirmed":      OrderStatusAccepted,
	"preparing":      OrderStatusPreparing,
	"ready":          OrderStatusReady,
	"readyforpickup": OrderStatusReady,
	"outfordelivery": OrderStatusOutForDelivery,
	"pickedup":       OrderStatusOutForDelivery,
	"intransit":      OrderStatusOutForDelivery,
	"delivered":      OrderStatusDelivered,
	"cancelled":      OrderStatusCancelled,
	"canceled":       OrderStatusCancelled,
}

// ParseOrderStatus accepts any casing and ignores '_', '-' and spaces, so
// "Out for delivery", "OUT_FOR_DELIVERY" and "outForDelivery" are equal.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	key := strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(raw)))

	if s, ok := statusAliases[key]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// Rank is the position in the forward lifecycle, or -1 for Cancelled and
// unknown values.
func (s OrderStatus) Rank() int {
	for i, fs := range forwardStatuses {
		if fs == s {
			return i
		}
	}
	return -1
}

func (s OrderStatus) Valid() bool {
	return s == OrderStatusCancelled || s.Rank() >= 0
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Next returns the following forward status. Terminal statuses have none.
func (s OrderStatus) Next() (OrderStatus, bool) {
	r := s.Rank()
	if r < 0 || r == len(forwardStatuses)-1 {
		return "", false
	}
	return forwardStatuses[r+1], true
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if parsed, err := ParseOrderStatus(raw); err == nil {
		*s = parsed
		return nil
	}
	// keep unknown values so callers can decide what to do with them
	*s = OrderStatus(raw)
	return nil
}

// IsCashOnDelivery reports whether the method settles at the door.
func IsCashOnDelivery(method string) bool {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case PaymentMethodCOD, "cash", "cash_on_delivery", "cash on delivery":
		return true
	}
	return false
}
