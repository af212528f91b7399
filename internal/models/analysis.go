package models

import "time"

// Detection is one food label recognized in an image.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
}

// NutritionFacts are per-serving values for a label. Known is false for
// labels the catalog does not carry, in which case every value is zero.
type NutritionFacts struct {
	Calories int     `json:"calories" yaml:"calories"`
	ProteinG float64 `json:"protein_g" yaml:"protein_g"`
	CarbsG   float64 `json:"carbs_g" yaml:"carbs_g"`
	FatG     float64 `json:"fat_g" yaml:"fat_g"`
	FiberG   float64 `json:"fiber_g" yaml:"fiber_g"`
	Known    bool    `json:"known" yaml:"-"`
}

// Add returns the element-wise sum of two fact sets.
func (n NutritionFacts) Add(o NutritionFacts) NutritionFacts {
	return NutritionFacts{
		Calories: n.Calories + o.Calories,
		ProteinG: n.ProteinG + o.ProteinG,
		CarbsG:   n.CarbsG + o.CarbsG,
		FatG:     n.FatG + o.FatG,
		FiberG:   n.FiberG + o.FiberG,
		Known:    n.Known || o.Known,
	}
}

// AnalysisResult is the composed answer for one image. Once cached it is
// shared between requests and must be treated as read-only.
type AnalysisResult struct {
	Detections      []Detection               `json:"detections"`
	Nutrition       map[string]NutritionFacts `json:"nutrition"`
	TotalNutrition  NutritionFacts            `json:"total_nutrition"`
	UnknownLabels   []string                  `json:"unknown_labels,omitempty"`
	ConfidenceScore float64                   `json:"confidence_score"`
	Tips            []string                  `json:"tips,omitempty"`
	AIEnhanced      bool                      `json:"ai_enhanced"`
	Commentary      string                    `json:"commentary,omitempty"`
	CulturalContext string                    `json:"cultural_context,omitempty"`
	Locale          string                    `json:"locale"`
	PipelineVersion string                    `json:"pipeline_version"`
	GeneratedAt     time.Time                 `json:"generated_at"`
}
