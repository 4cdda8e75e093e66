package tracker

import "github.com/chrisdamba/foodcart/internal/models"

// Steps are the stages shown to the customer. Ready has no step of its own.
var Steps = []models.OrderStatus{
	models.OrderStatusPending,
	models.OrderStatusAccepted,
	models.OrderStatusPreparing,
	models.OrderStatusOutForDelivery,
	models.OrderStatusDelivered,
}

// StepIndex maps a status onto Steps. Cancelled and unknown statuses return
// -1.
func StepIndex(status models.OrderStatus) int {
	if status == models.OrderStatusReady {
		status = models.OrderStatusPreparing
	}
	for i, s := range Steps {
		if s == status {
			return i
		}
	}
	return -1
}

// Percent is the completed share of Steps, 0 for Cancelled.
func Percent(status models.OrderStatus) int {
	idx := StepIndex(status)
	if idx < 0 {
		return 0
	}
	return (idx + 1) * 100 / len(Steps)
}
