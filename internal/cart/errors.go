package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/chrisdamba/foodcart/internal/models"
)

var (
	ErrInvalidItem          = errors.New("invalid cart item")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrEmptyCoupon          = errors.New("coupon code is empty")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrNoDeliveryAddress    = errors.New("delivery address is required")
	ErrInvalidPaymentMethod = errors.New("payment method is required")
	ErrNotOpened            = errors.New("cart has not been opened")
)

// PaymentDeclinedError is returned when the gateway answers but refuses the
// charge.
type PaymentDeclinedError struct {
	Method  string
	Message string
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("payment via %s declined: %s", e.Method, e.Message)
}

const genericFailure = "Something went wrong. Please try again."

// UserMessage turns an operation error into text for the customer. Server
// rejections are shown verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rej *models.RejectionError
	if errors.As(err, &rej) && rej.Message != "" {
		return rej.Message
	}
	var declined *PaymentDeclinedError
	if errors.As(err, &declined) && declined.Message != "" {
		return declined.Message
	}
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "Your cart is empty."
	case errors.Is(err, ErrNoDeliveryAddress):
		return "Please add a delivery address before placing the order."
	case errors.Is(err, ErrInvalidPaymentMethod):
		return "Please choose a payment method."
	case errors.Is(err, ErrEmptyCoupon):
		return "Please enter a coupon code."
	case errors.Is(err, ErrInvalidQuantity):
		return "Quantity must be at least 1."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again."
	}
	return genericFailure
}
