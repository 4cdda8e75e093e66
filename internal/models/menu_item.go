package models

import "github.com/shopspring/decimal"

type MenuItem struct {
	ID             string          `json:"id"`
	RestaurantID   string          `json:"restaurant_id"`
	RestaurantName string          `json:"restaurant_name"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	PrepTime       float64         `json:"prep_time"` // Preparation time in minutes, 0 when unknown
	Category       string          `json:"category"`
}
