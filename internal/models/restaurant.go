package models

type Restaurant struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	SlugName    string   `json:"slug_name"`
	Town        string   `json:"town"`
	Phone       string   `json:"phone"`
	Cuisines    []string `json:"cuisines"`
	Rating      float64  `json:"rating"`
	AvgPrepTime float64  `json:"avg_prep_time"` // Average preparation time in minutes
	MenuItems   []string `json:"menu_item_ids"`
}

func (r *Restaurant) Ref() RestaurantRef {
	return RestaurantRef{ID: r.ID, Name: r.Name}
}
