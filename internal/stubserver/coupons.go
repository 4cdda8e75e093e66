package stubserver

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Coupon struct {
	Code        string
	Flat        decimal.Decimal
	Percent     decimal.Decimal
	MaxDiscount decimal.Decimal
	MinSubtotal decimal.Decimal
}

// Discount is what the server reports. It may exceed the subtotal; the
// client clamps it.
func (c Coupon) Discount(subtotal decimal.Decimal) (decimal.Decimal, error) {
	if subtotal.LessThan(c.MinSubtotal) {
		return decimal.Zero, fmt.Errorf("Add items worth %s or more to use %s", c.MinSubtotal.StringFixed(2), c.Code)
	}
	if !c.Percent.IsZero() {
		d := subtotal.Mul(c.Percent).Div(decimal.NewFromInt(100)).Round(2)
		if !c.MaxDiscount.IsZero() && d.GreaterThan(c.MaxDiscount) {
			d = c.MaxDiscount
		}
		return d, nil
	}
	return c.Flat, nil
}

func DefaultCoupons() map[string]Coupon {
	list := []Coupon{
		{Code: "WELCOME50", Flat: decimal.NewFromInt(50)},
		{Code: "SAVE10", Percent: decimal.NewFromInt(10), MaxDiscount: decimal.NewFromInt(100)},
		{Code: "FEAST300", Flat: decimal.NewFromInt(300)},
		{Code: "BIGSPEND", Flat: decimal.NewFromInt(100), MinSubtotal: decimal.NewFromInt(500)},
	}
	out := make(map[string]Coupon, len(list))
	for _, c := range list {
		out[c.Code] = c
	}
	return out
}
