package cart

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/chrisdamba/foodcart/internal/models"
)

type Pricing struct {
	TaxRate        decimal.Decimal
	DeliveryFee    decimal.Decimal
	LoyaltyDivisor decimal.Decimal
	CashbackRate   decimal.Decimal
	DeliveryWindow time.Duration
}

func DefaultPricing() Pricing {
	return Pricing{
		TaxRate:        decimal.RequireFromString("0.05"),
		DeliveryFee:    decimal.NewFromInt(40),
		LoyaltyDivisor: decimal.NewFromInt(10),
		CashbackRate:   decimal.RequireFromString("0.02"),
		DeliveryWindow: 45 * time.Minute,
	}
}

func PricingFromConfig(cfg *models.Config) Pricing {
	p := Pricing{
		TaxRate:        decimal.NewFromFloat(cfg.TaxRate),
		DeliveryFee:    decimal.NewFromFloat(cfg.DeliveryFee),
		LoyaltyDivisor: decimal.NewFromFloat(cfg.LoyaltyDivisor),
		CashbackRate:   decimal.NewFromFloat(cfg.CashbackRate),
		DeliveryWindow: time.Duration(cfg.EstimatedDeliveryMinutes) * time.Minute,
	}
	if !p.LoyaltyDivisor.IsPositive() {
		p.LoyaltyDivisor = decimal.NewFromInt(10)
	}
	return p
}

// Quote is the price breakdown of the current cart.
type Quote struct {
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Taxes         decimal.Decimal
	DeliveryFee   decimal.Decimal
	Total         decimal.Decimal
	LoyaltyPoints int64
	Cashback      decimal.Decimal
}

// clampDiscount keeps the discount within [0, subtotal].
func clampDiscount(discount, subtotal decimal.Decimal) decimal.Decimal {
	if discount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(discount, subtotal)
}

// netTotal is subtotal minus discount, never below zero.
func netTotal(subtotal, discount decimal.Decimal) decimal.Decimal {
	return decimal.Max(subtotal.Sub(discount), decimal.Zero)
}

// quote prices the payable total. Tax is charged on the subtotal; the
// delivery fee is flat.
func (p Pricing) quote(subtotal, discount decimal.Decimal) Quote {
	q := Quote{
		Subtotal:    subtotal,
		Discount:    discount,
		Taxes:       subtotal.Mul(p.TaxRate).Round(2),
		DeliveryFee: p.DeliveryFee,
	}
	q.Total = netTotal(subtotal, discount).Add(q.Taxes).Add(q.DeliveryFee)
	q.LoyaltyPoints = q.Total.Div(p.LoyaltyDivisor).Floor().IntPart()
	q.Cashback = q.Total.Mul(p.CashbackRate).Round(2)
	return q
}
