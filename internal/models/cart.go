package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartLine struct {
	ItemID         string          `json:"item_id"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Quantity       int             `json:"quantity"`
	PrepTime       float64         `json:"prep_time,omitempty"`
	RestaurantID   string          `json:"restaurant_id,omitempty"`
	RestaurantName string          `json:"restaurant_name,omitempty"`
}

// LineFromMenuItem makes a cart line for qty units of item.
func LineFromMenuItem(item MenuItem, qty int) CartLine {
	return CartLine{
		ItemID:         item.ID,
		Name:           item.Name,
		UnitPrice:      item.Price,
		Quantity:       qty,
		PrepTime:       item.PrepTime,
		RestaurantID:   item.RestaurantID,
		RestaurantName: item.RestaurantName,
	}
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type RestaurantRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CartState is the persisted shape of a cart. DiscountAmount is derived from
// CouponDiscount and the current subtotal and is never set directly.
type CartState struct {
	Lines             []CartLine      `json:"lines"`
	AppliedCouponCode string          `json:"applied_coupon_code,omitempty"`
	CouponDiscount    decimal.Decimal `json:"coupon_discount"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	DeliveryAddress   *Address        `json:"delivery_address,omitempty"`
	Restaurant        *RestaurantRef  `json:"restaurant,omitempty"`
	LastOrder         *OrderSnapshot  `json:"last_order,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (s *CartState) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range s.Lines {
		sum = sum.Add(l.LineTotal())
	}
	return sum
}

func (s *CartState) ItemCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// Clone returns a deep copy so callers can't alias internal slices.
func (s *CartState) Clone() CartState {
	c := *s
	c.Lines = append([]CartLine(nil), s.Lines...)
	if s.DeliveryAddress != nil {
		a := *s.DeliveryAddress
		c.DeliveryAddress = &a
	}
	if s.Restaurant != nil {
		r := *s.Restaurant
		c.Restaurant = &r
	}
	if s.LastOrder != nil {
		o := *s.LastOrder
		o.Items = append([]CartLine(nil), s.LastOrder.Items...)
		c.LastOrder = &o
	}
	return c
}
