package factories

import (
	"fmt"

	"github.com/jaswdr/faker"
	"github.com/lucsky/cuid"
	"github.com/shopspring/decimal"

	"github.com/chrisdamba/foodcart/internal/models"
)

var dishesByCuisine = map[string][]string{
	"Pizza":         {"Margherita", "Pepperoni", "Hawaiian", "Veggie Supreme"},
	"Curry":         {"Chicken Tikka Masala", "Vegetable Curry", "Beef Madras", "Paneer Butter Masala"},
	"Burgers":       {"Classic Cheeseburger", "Veggie Burger", "BBQ Bacon Burger", "Mushroom Swiss Burger"},
	"Grill":         {"Grilled Chicken", "BBQ Ribs", "Grilled Salmon", "Mixed Grill Platter"},
	"Salad":         {"Caesar Salad", "Greek Salad", "Cobb Salad", "Quinoa Salad"},
	"Italian":       {"Margherita Pizza", "Spaghetti Carbonara", "Lasagna", "Tiramisu"},
	"Indian":        {"Chicken Tikka Masala", "Dal Makhani", "Naan Bread", "Biryani"},
	"American":      {"Cheeseburger", "Hot Dog", "BBQ Ribs", "Apple Pie"},
	"Japanese":      {"Sushi Roll", "Ramen", "Tempura", "Miso Soup"},
	"Mexican":       {"Tacos", "Burrito", "Guacamole", "Quesadilla"},
	"Chinese":       {"Kung Pao Chicken", "Fried Rice", "Dumplings", "Mapo Tofu"},
	"Thai":          {"Pad Thai", "Green Curry", "Tom Yum Soup", "Mango Sticky Rice"},
	"Greek":         {"Gyros", "Moussaka", "Spanakopita", "Baklava"},
	"French":        {"Coq au Vin", "Beef Bourguignon", "Ratatouille", "Crème Brûlée"},
	"Mediterranean": {"Falafel", "Hummus", "Tabbouleh", "Grilled Halloumi"},
}

var categories = []string{"starter", "main course", "side dish", "dessert", "drink"}

type MenuItemFactory struct {
	fake  faker.Faker
	newID func(restaurant *models.Restaurant, n int) string
}

// CreateMenuItem builds the n-th item of restaurant. About one item in six
// has no declared prep time.
func (mf *MenuItemFactory) CreateMenuItem(restaurant *models.Restaurant, n int) models.MenuItem {
	id := cuid.New()
	if mf.newID != nil {
		id = mf.newID(restaurant, n)
	}

	prep := mf.fake.Float64(0, 5, 30)
	if mf.fake.IntBetween(1, 6) == 1 {
		prep = 0
	}

	return models.MenuItem{
		ID:             id,
		RestaurantID:   restaurant.ID,
		RestaurantName: restaurant.Name,
		Name:           mf.dishFor(restaurant.Cuisines),
		Description:    mf.fake.Lorem().Sentence(8),
		Price:          decimal.NewFromInt(int64(mf.fake.IntBetween(8, 45)) * 10),
		PrepTime:       prep,
		Category:       categories[mf.fake.IntBetween(0, len(categories)-1)],
	}
}

func (mf *MenuItemFactory) dishFor(cuisines []string) string {
	if len(cuisines) == 0 {
		return "Special of the Day"
	}
	cuisine := cuisines[mf.fake.IntBetween(0, len(cuisines)-1)]
	if dishes, ok := dishesByCuisine[cuisine]; ok {
		return dishes[mf.fake.IntBetween(0, len(dishes)-1)]
	}
	return fmt.Sprintf("%s Special", cuisine)
}
