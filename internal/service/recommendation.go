package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/database"
	"github.com/pageza/foodlens/backend/internal/events"
	"github.com/pageza/foodlens/backend/internal/logging"
	"github.com/pageza/foodlens/backend/internal/metrics"
	"github.com/pageza/foodlens/backend/internal/models"
	"github.com/pageza/foodlens/backend/internal/nutrition"
)

// RecommendationService merges stored preferences into queries before
// handing them to the engine
type RecommendationService struct {
	engine    Recommender
	prefs     PreferenceStore
	publisher events.Publisher
	now       func() time.Time
}

var _ IRecommendationService = (*RecommendationService)(nil)

// NewRecommendationService creates a service. prefs and publisher may be nil.
func NewRecommendationService(engine Recommender, prefs PreferenceStore, publisher events.Publisher) *RecommendationService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &RecommendationService{engine: engine, prefs: prefs, publisher: publisher, now: time.Now}
}

// Recommend answers a query. When it names a user, their stored dietary
// restrictions, cuisines and allergies are added to the ones in the query.
func (s *RecommendationService) Recommend(ctx context.Context, q models.RecommendationQuery) (*models.RecommendationResult, error) {
	stored, err := s.stored(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		q.DietaryRestrictions = union(q.DietaryRestrictions, stored.DietaryRestrictions)
		q.CuisinePreferences = union(q.CuisinePreferences, stored.CuisinePreferences)
		q.Allergies = union(q.Allergies, stored.Allergies)
	}

	res, err := s.engine.Recommend(q, s.now())
	if err != nil {
		return nil, err
	}
	s.record(ctx, q.UserID, q.Location, q.Budget, res)
	return res, nil
}

// Carousel returns healthy items for the current time of day, honoring
// the user's stored allergies
func (s *RecommendationService) Carousel(ctx context.Context, userID, location string, limit int) (*models.RecommendationResult, error) {
	stored, err := s.stored(ctx, userID)
	if err != nil {
		return nil, err
	}
	var allergies []string
	if stored != nil {
		allergies = stored.Allergies
	}

	res, err := s.engine.Carousel(s.now(), location, allergies, limit)
	if err != nil {
		return nil, err
	}
	s.record(ctx, userID, location, "", res)
	return res, nil
}

// stored loads preferences for userID. Lookup failures are not ignored:
// serving without a user's allergies is worse than failing the request.
func (s *RecommendationService) stored(ctx context.Context, userID string) (*models.UserPreference, error) {
	if s.prefs == nil || userID == "" {
		return nil, nil
	}
	pref, err := s.prefs.Get(ctx, userID)
	if errors.Is(err, database.ErrPreferencesNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load preferences", err)
	}
	return pref, nil
}

func (s *RecommendationService) record(ctx context.Context, userID, location string, budget models.Budget, res *models.RecommendationResult) {
	metrics.RecommendationsServed.Observe(float64(res.Count))
	logging.Ctx(ctx).Debug().
		Str("user_id", userID).
		Str("meal_type", string(res.MealType)).
		Int("count", res.Count).
		Msg("recommendations served")

	ids := make([]string, len(res.Items))
	for i, it := range res.Items {
		ids[i] = it.ID
	}
	events.PublishAsync(s.publisher, events.TopicRecommendationGenerated, events.RecommendationGenerated{
		UserID:   userID,
		Location: location,
		MealType: string(res.MealType),
		Budget:   string(budget),
		ItemIDs:  ids,
		At:       res.GeneratedAt,
	})
}

// union keeps the order of a then adds unseen entries of b, comparing
// normalized forms
func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			key := nutrition.Normalize(v)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}
