package models

import "strings"

type Address struct {
	HouseNo   string  `json:"house_no"`
	Flat      string  `json:"flat"`
	Address1  string  `json:"address1"`
	Address2  string  `json:"address2"`
	Postcode  string  `json:"postcode"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// IsZero reports whether no deliverable line was captured.
func (a *Address) IsZero() bool {
	return a == nil || (strings.TrimSpace(a.Address1) == "" && strings.TrimSpace(a.Postcode) == "")
}

func (a Address) String() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{a.HouseNo, a.Flat, a.Address1, a.Address2, a.City, a.Postcode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
