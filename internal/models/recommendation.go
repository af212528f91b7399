package models

import "time"

// MealType selects which items are suitable for a time of day
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealBrunch    MealType = "brunch"
	MealSnack     MealType = "snack"
)

// Valid reports whether m is a known meal type. Empty is not valid here;
// callers treat it as "pick by time of day".
func (m MealType) Valid() bool {
	switch m {
	case MealBreakfast, MealLunch, MealDinner, MealBrunch, MealSnack:
		return true
	}
	return false
}

// Budget is a price tier
type Budget string

const (
	BudgetLow    Budget = "low"
	BudgetMedium Budget = "medium"
	BudgetHigh   Budget = "high"
	BudgetAny    Budget = "any"
)

// Valid reports whether b is a known tier; empty counts as any.
func (b Budget) Valid() bool {
	switch b {
	case "", BudgetLow, BudgetMedium, BudgetHigh, BudgetAny:
		return true
	}
	return false
}

// RecommendationQuery describes what a user is looking for. Items matching
// a cuisine preference rank ahead of the rest; they are not a filter.
type RecommendationQuery struct {
	UserID              string   `json:"user_id,omitempty" binding:"omitempty,max=128"`
	Location            string   `json:"location" binding:"omitempty,max=128"`
	MealType            MealType `json:"meal_type,omitempty" binding:"omitempty,oneof=breakfast lunch dinner brunch snack"`
	Budget              Budget   `json:"budget,omitempty" binding:"omitempty,oneof=low medium high any"`
	DietaryRestrictions []string `json:"dietary_restrictions,omitempty" binding:"omitempty,max=32,dive,max=64"`
	Allergies           []string `json:"allergies,omitempty" binding:"omitempty,max=32,dive,max=64"`
	CuisinePreferences  []string `json:"cuisine_preferences,omitempty" binding:"omitempty,max=32,dive,max=64"`
	Limit               int      `json:"limit,omitempty" binding:"omitempty,min=0"`
}

// AppliedFilters echoes the effective query after stored preferences and
// defaults were merged in
type AppliedFilters struct {
	MealType            MealType `json:"meal_type"`
	Budget              Budget   `json:"budget"`
	Location            string   `json:"location,omitempty"`
	DietaryRestrictions []string `json:"dietary_restrictions"`
	Allergies           []string `json:"allergies"`
	CuisinePreferences  []string `json:"cuisine_preferences"`
	Limit               int      `json:"limit"`
}

// RecommendationItem is a static candidate dish or restaurant offering
type RecommendationItem struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	CuisineType string     `json:"cuisine_type" yaml:"cuisine_type"`
	Price       float64    `json:"price" yaml:"price"`
	Rating      float64    `json:"rating" yaml:"rating"`
	Ingredients []string   `json:"ingredients" yaml:"ingredients"`
	Allergens   []string   `json:"allergens,omitempty" yaml:"allergens"`
	Diets       []string   `json:"diets,omitempty" yaml:"diets"`
	MealTypes   []MealType `json:"meal_types,omitempty" yaml:"meal_types"`
	Locations   []string   `json:"locations,omitempty" yaml:"locations"`
}

// RecommendationResult is returned to clients
type RecommendationResult struct {
	Items       []RecommendationItem `json:"recommendations"`
	Count       int                  `json:"count"`
	MealType    MealType             `json:"meal_type"`
	Location    string               `json:"location,omitempty"`
	Filters     AppliedFilters       `json:"filters_applied"`
	GeneratedAt time.Time            `json:"generated_at"`
}
