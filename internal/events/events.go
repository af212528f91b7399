// Package events publishes domain events on an in-process watermill bus.
package events

import "time"

const (
	TopicAnalysisCompleted       = "analysis.completed"
	TopicRecommendationGenerated = "recommendation.generated"
	TopicPreferencesUpdated      = "preferences.updated"
)

// AnalysisCompleted is published once per analyze request that reached Done
type AnalysisCompleted struct {
	Fingerprint string    `json:"fingerprint"`
	Labels      []string  `json:"labels"`
	CacheHit    bool      `json:"cache_hit"`
	AIEnhanced  bool      `json:"ai_enhanced"`
	Degraded    string    `json:"degraded,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	At          time.Time `json:"at"`
}

// RecommendationGenerated records a served recommendation list
type RecommendationGenerated struct {
	UserID   string    `json:"user_id,omitempty"`
	Location string    `json:"location,omitempty"`
	MealType string    `json:"meal_type"`
	Budget   string    `json:"budget,omitempty"`
	ItemIDs  []string  `json:"item_ids"`
	At       time.Time `json:"at"`
}

// PreferencesUpdated is published after preferences are saved
type PreferencesUpdated struct {
	UserID              string    `json:"user_id"`
	DietaryRestrictions []string  `json:"dietary_restrictions"`
	Allergies           []string  `json:"allergies"`
	At                  time.Time `json:"at"`
}
