package nutrition

import "github.com/pageza/foodlens/backend/internal/models"

// Thresholds for meal-level guidance.
const (
	HighCalories = 600
	LowCalories  = 200
	HighProteinG = 20.0
	LowProteinG  = 10.0
)

// Summary aggregates the resolved entries of one plate
type Summary struct {
	Total   models.NutritionFacts
	Unknown []string
	Tips    []string
}

// Summarize totals the known entries and derives tips from the totals and categories.
func Summarize(entries []Entry) Summary {
	var s Summary
	if len(entries) == 0 {
		s.Tips = []string{"Upload a clear image of food for analysis."}
		return s
	}

	balanced := true
	dessert := false
	for _, e := range entries {
		if !e.Known() {
			s.Unknown = append(s.Unknown, e.Label)
			balanced = false
			continue
		}
		s.Total = s.Total.Add(e.Facts)
		switch e.Category {
		case "main_course", "side_dish":
		case "dessert":
			dessert = true
			balanced = false
		default:
			balanced = false
		}
	}

	switch {
	case s.Total.Calories > HighCalories:
		s.Tips = append(s.Tips, "High-calorie meal detected. Consider smaller portions or balance with lighter meals today.")
	case s.Total.Known && s.Total.Calories < LowCalories:
		s.Tips = append(s.Tips, "Light meal detected. Great for snacking or pair with other foods for a complete meal.")
	}
	switch {
	case s.Total.ProteinG > HighProteinG:
		s.Tips = append(s.Tips, "Excellent protein content for muscle building and satiety.")
	case s.Total.Known && s.Total.ProteinG < LowProteinG:
		s.Tips = append(s.Tips, "Consider adding protein sources like nuts, eggs, or lean meat.")
	}
	if dessert {
		s.Tips = append(s.Tips, "Sweet treat detected. Enjoy in moderation.")
	}
	if balanced {
		s.Tips = append(s.Tips, "Well-balanced meal composition with main and side dishes.")
	}
	return s
}
