package service

import (
	"context"
	"time"

	"github.com/pageza/foodlens/backend/internal/models"
)

// PreferenceStore persists per-user preferences
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (*models.UserPreference, error)
	Upsert(ctx context.Context, pref *models.UserPreference) (*models.UserPreference, error)
	Delete(ctx context.Context, userID string) error
}

// Recommender filters and ranks the candidate pool
type Recommender interface {
	Recommend(q models.RecommendationQuery, now time.Time) (*models.RecommendationResult, error)
	Carousel(now time.Time, location string, allergies []string, limit int) (*models.RecommendationResult, error)
}

// IRecommendationService serves recommendation requests
type IRecommendationService interface {
	Recommend(ctx context.Context, q models.RecommendationQuery) (*models.RecommendationResult, error)
	Carousel(ctx context.Context, userID, location string, limit int) (*models.RecommendationResult, error)
}

// IPreferenceService manages stored user preferences
type IPreferenceService interface {
	Get(ctx context.Context, userID string) (*models.UserPreference, error)
	Update(ctx context.Context, userID string, req *models.UpdatePreferencesRequest) (*models.UserPreference, error)
	Delete(ctx context.Context, userID string) error
}
