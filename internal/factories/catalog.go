package factories

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/jaswdr/faker"

	"github.com/chrisdamba/foodcart/internal/models"
)

// Catalog is a generated set of restaurants and their menus.
type Catalog struct {
	Restaurants []*models.Restaurant
	Items       []models.MenuItem
	byID        map[string]models.MenuItem
}

// NewCatalog generates restaurants with itemsPer items each. A non-zero seed
// gives the same catalog, ids included, on every call; seed 0 is random and
// uses cuid ids.
func NewCatalog(seed int64, restaurants, itemsPer int) *Catalog {
	var rf *RestaurantFactory
	var mf *MenuItemFactory
	if seed == 0 {
		fake := faker.New()
		rf = &RestaurantFactory{fake: fake}
		mf = &MenuItemFactory{fake: fake}
	} else {
		fake := faker.NewWithSeed(rand.NewSource(seed))
		rf = &RestaurantFactory{fake: fake, newID: func(slug string) string { return slug }}
		mf = &MenuItemFactory{fake: fake, newID: func(r *models.Restaurant, n int) string {
			return fmt.Sprintf("%s-%02d", r.SlugName, n+1)
		}}
	}

	c := &Catalog{byID: make(map[string]models.MenuItem)}
	for i := 0; i < restaurants; i++ {
		r := rf.CreateRestaurant()
		for n := 0; n < itemsPer; n++ {
			item := mf.CreateMenuItem(r, n)
			r.MenuItems = append(r.MenuItems, item.ID)
			c.Items = append(c.Items, item)
			c.byID[item.ID] = item
		}
		c.Restaurants = append(c.Restaurants, r)
	}
	return c
}

// Find looks an item up by id, ignoring case.
func (c *Catalog) Find(itemID string) (models.MenuItem, bool) {
	if item, ok := c.byID[itemID]; ok {
		return item, true
	}
	for id, item := range c.byID {
		if strings.EqualFold(id, itemID) {
			return item, true
		}
	}
	return models.MenuItem{}, false
}

func (c *Catalog) ItemsOf(restaurantID string) []models.MenuItem {
	var items []models.MenuItem
	for _, item := range c.Items {
		if item.RestaurantID == restaurantID {
			items = append(items, item)
		}
	}
	return items
}
