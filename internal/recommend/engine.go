// Package recommend filters and ranks a static candidate pool.
package recommend

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/models"
	"github.com/pageza/foodlens/backend/internal/nutrition"
)

// ErrInvalidQuery is returned for structurally invalid queries
var ErrInvalidQuery = apperr.New(apperr.KindInvalidQuery, "invalid recommendation query")

// Budget tier boundaries in USD
const (
	LowBudgetMax    = 12.0
	MediumBudgetMax = 25.0
)

// CarouselDiet is the diet tag shown in the carousel
const CarouselDiet = "healthy"

// Config tunes the engine
type Config struct {
	DefaultLimit int
	MaxLimit     int
	// Location is the time zone used to pick a default meal type
	Location *time.Location
}

type candidate struct {
	item      models.RecommendationItem
	diets     map[string]bool
	locations map[string]bool
	cuisine   []string
	text      []string
}

// Engine is immutable and safe for concurrent use
type Engine struct {
	candidates []candidate
	cfg        Config
}

// NewEngine indexes the pool once
func NewEngine(pool []models.RecommendationItem, cfg Config) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = 50
		if cfg.MaxLimit < cfg.DefaultLimit {
			cfg.MaxLimit = cfg.DefaultLimit
		}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	cands := make([]candidate, len(pool))
	for i, it := range pool {
		c := candidate{
			item:      it,
			diets:     make(map[string]bool, len(it.Diets)),
			locations: make(map[string]bool, len(it.Locations)),
		}
		for _, d := range it.Diets {
			for _, implied := range impliedDiets(nutrition.Normalize(d)) {
				c.diets[implied] = true
			}
		}
		for _, l := range it.Locations {
			c.locations[city(l)] = true
		}
		c.cuisine = nutrition.Tokens(nutrition.Normalize(it.CuisineType))
		c.text = append(c.text, it.Name, it.Description, it.CuisineType)
		c.text = append(c.text, it.Ingredients...)
		c.text = append(c.text, it.Allergens...)
		cands[i] = c
	}
	return &Engine{candidates: cands, cfg: cfg}
}

// Size returns the number of candidates
func (e *Engine) Size() int {
	return len(e.candidates)
}

// Recommend filters by allergy, diet, budget, meal type and location, then
// ranks preferred cuisines first, then by rating, price and name. An empty
// meal type is chosen from now.
func (e *Engine) Recommend(q models.RecommendationQuery, now time.Time) (*models.RecommendationResult, error) {
	if q.MealType != "" && !q.MealType.Valid() {
		return nil, apperr.New(apperr.KindInvalidQuery, fmt.Sprintf("unknown meal_type %q", q.MealType))
	}
	if !q.Budget.Valid() {
		return nil, apperr.New(apperr.KindInvalidQuery, fmt.Sprintf("unknown budget %q", q.Budget))
	}
	if q.Limit < 0 {
		return nil, apperr.New(apperr.KindInvalidQuery, "limit must not be negative")
	}

	meal := q.MealType
	if meal == "" {
		meal = DefaultMealType(now.In(e.cfg.Location))
	}
	limit := q.Limit
	if limit == 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}

	allergies := newAllergyMatcher(q.Allergies)
	diets := normalizeAll(q.DietaryRestrictions)
	cuisines := make([][]string, 0, len(q.CuisinePreferences))
	for _, cp := range normalizeAll(q.CuisinePreferences) {
		cuisines = append(cuisines, nutrition.Tokens(cp))
	}
	where := ""
	if strings.TrimSpace(q.Location) != "" {
		where = city(q.Location)
	}

	type match struct {
		item      models.RecommendationItem
		preferred bool
	}
	matched := make([]match, 0, len(e.candidates))
	for _, c := range e.candidates {
		// Allergy exclusion comes first and is never relaxed.
		if !allergies.empty() && allergies.matches(c.text) {
			continue
		}
		if !c.hasDiets(diets) {
			continue
		}
		if !inBudget(c.item.Price, q.Budget) {
			continue
		}
		if !servesMeal(c.item.MealTypes, meal) {
			continue
		}
		if where != "" && len(c.locations) > 0 && !c.locations[where] {
			continue
		}
		matched = append(matched, match{item: c.item, preferred: c.prefers(cuisines)})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].preferred != matched[j].preferred {
			return matched[i].preferred
		}
		a, b := matched[i].item, matched[j].item
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]models.RecommendationItem, len(matched))
	for i, m := range matched {
		out[i] = m.item
	}

	budget := q.Budget
	if budget == "" {
		budget = models.BudgetAny
	}

	return &models.RecommendationResult{
		Items:       out,
		Count:       len(out),
		MealType:    meal,
		Location:    q.Location,
		Filters: models.AppliedFilters{
			MealType:            meal,
			Budget:              budget,
			Location:            q.Location,
			DietaryRestrictions: nonNil(q.DietaryRestrictions),
			Allergies:           nonNil(q.Allergies),
			CuisinePreferences:  nonNil(q.CuisinePreferences),
			Limit:               limit,
		},
		GeneratedAt: now.UTC(),
	}, nil
}

// Carousel returns healthy items for the current time of day
func (e *Engine) Carousel(now time.Time, location string, allergies []string, limit int) (*models.RecommendationResult, error) {
	return e.Recommend(models.RecommendationQuery{
		Location:            location,
		DietaryRestrictions: []string{CarouselDiet},
		Allergies:           allergies,
		Limit:               limit,
	}, now)
}

// DefaultMealType maps a local clock time to a meal:
// [05:00,11:00) breakfast, [11:00,16:00) lunch, [16:00,21:00) dinner, otherwise snack.
func DefaultMealType(t time.Time) models.MealType {
	switch h := t.Hour(); {
	case h >= 5 && h < 11:
		return models.MealBreakfast
	case h >= 11 && h < 16:
		return models.MealLunch
	case h >= 16 && h < 21:
		return models.MealDinner
	default:
		return models.MealSnack
	}
}

// BudgetTier classifies a price
func BudgetTier(price float64) models.Budget {
	switch {
	case price < LowBudgetMax:
		return models.BudgetLow
	case price < MediumBudgetMax:
		return models.BudgetMedium
	default:
		return models.BudgetHigh
	}
}

func inBudget(price float64, b models.Budget) bool {
	if b == "" || b == models.BudgetAny {
		return true
	}
	return BudgetTier(price) == b
}

func servesMeal(itemMeals []models.MealType, meal models.MealType) bool {
	if len(itemMeals) == 0 {
		return true
	}
	for _, m := range itemMeals {
		if m == meal {
			return true
		}
		if meal == models.MealBrunch && (m == models.MealBreakfast || m == models.MealLunch) {
			return true
		}
	}
	return false
}

func (c candidate) prefers(cuisines [][]string) bool {
	for _, cp := range cuisines {
		if containsSequence(c.cuisine, cp) {
			return true
		}
	}
	return false
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func (c candidate) hasDiets(required []string) bool {
	for _, d := range required {
		if !c.diets[d] {
			return false
		}
	}
	return true
}

// impliedDiets expands a diet tag to the tags it satisfies
func impliedDiets(d string) []string {
	switch d {
	case "vegan":
		return []string{"vegan", "vegetarian", "dairy_free", "egg_free", "pescatarian"}
	case "vegetarian":
		return []string{"vegetarian", "pescatarian"}
	default:
		return []string{d}
	}
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := nutrition.Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// city reduces "New York, NY" to "new_york"
func city(location string) string {
	if i := strings.Index(location, ","); i >= 0 {
		location = location[:i]
	}
	return nutrition.Normalize(location)
}
