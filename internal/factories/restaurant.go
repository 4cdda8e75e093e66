package factories

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jaswdr/faker"
	"github.com/lucsky/cuid"

	"github.com/chrisdamba/foodcart/internal/models"
)

var allCuisines = []string{"Italian", "Indian", "American", "Japanese", "Mexican", "Chinese", "Thai", "Greek", "French", "Mediterranean", "Burgers", "Pizza", "Curry", "Grill", "Salad"}

type RestaurantFactory struct {
	fake      faker.Faker
	newID     func(slug string) string
	slugCache sync.Map // to track used slugs
}

func (rf *RestaurantFactory) CreateRestaurant() *models.Restaurant {
	name := rf.fake.Company().Name()
	slug := rf.createUniqueSlug(name)

	id := cuid.New()
	if rf.newID != nil {
		id = rf.newID(slug)
	}

	return &models.Restaurant{
		ID:          id,
		Name:        name,
		SlugName:    slug,
		Town:        rf.fake.Address().City(),
		Phone:       rf.fake.Phone().Number(),
		Cuisines:    rf.randomCuisines(),
		Rating:      rf.fake.Float64(1, 1, 5),
		AvgPrepTime: rf.fake.Float64(0, 10, 30),
		MenuItems:   make([]string, 0),
	}
}

func (rf *RestaurantFactory) createUniqueSlug(name string) string {
	base := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, base)

	slug := base
	counter := 1

	for {
		if _, exists := rf.slugCache.LoadOrStore(slug, true); !exists {
			return slug
		}
		slug = fmt.Sprintf("%s-%d", base, counter)
		counter++
	}
}

func (rf *RestaurantFactory) randomCuisines() []string {
	count := rf.fake.IntBetween(1, 3)
	cuisines := make([]string, 0, count)
	seen := make(map[string]bool, count)
	for len(cuisines) < count {
		c := allCuisines[rf.fake.IntBetween(0, len(allCuisines)-1)]
		if !seen[c] {
			seen[c] = true
			cuisines = append(cuisines, c)
		}
	}
	return cuisines
}
