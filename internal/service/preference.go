package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/database"
	"github.com/pageza/foodlens/backend/internal/events"
	"github.com/pageza/foodlens/backend/internal/logging"
	"github.com/pageza/foodlens/backend/internal/models"
)

// Limits on stored preference lists
const (
	MaxPreferenceEntries = 32
	MaxPreferenceLength  = 64
)

// PreferenceService handles stored user preferences
type PreferenceService struct {
	store     PreferenceStore
	publisher events.Publisher
	now       func() time.Time
}

var _ IPreferenceService = (*PreferenceService)(nil)

// NewPreferenceService creates a new PreferenceService instance
func NewPreferenceService(store PreferenceStore, publisher events.Publisher) *PreferenceService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &PreferenceService{store: store, publisher: publisher, now: time.Now}
}

// Get returns the user's preferences, or empty defaults if none were saved
func (s *PreferenceService) Get(ctx context.Context, userID string) (*models.UserPreference, error) {
	pref, err := s.store.Get(ctx, userID)
	if errors.Is(err, database.ErrPreferencesNotFound) {
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load preferences", err)
	}
	return pref, nil
}

// Update replaces the lists given in req and keeps the others
func (s *PreferenceService) Update(ctx context.Context, userID string, req *models.UpdatePreferencesRequest) (*models.UserPreference, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	next := &models.UserPreference{
		UserID:              userID,
		DietaryRestrictions: current.DietaryRestrictions,
		CuisinePreferences:  current.CuisinePreferences,
		Allergies:           current.Allergies,
	}
	for _, f := range []struct {
		name string
		in   []string
		dst  *[]string
	}{
		{"dietary_restrictions", req.DietaryRestrictions, &next.DietaryRestrictions},
		{"cuisine_preferences", req.CuisinePreferences, &next.CuisinePreferences},
		{"allergies", req.Allergies, &next.Allergies},
	} {
		if f.in == nil {
			continue
		}
		clean, err := cleanList(f.name, f.in)
		if err != nil {
			return nil, err
		}
		*f.dst = clean
	}

	saved, err := s.store.Upsert(ctx, next)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to save preferences", err)
	}

	logging.Ctx(ctx).Info().Str("user_id", userID).Int("allergies", len(saved.Allergies)).Msg("preferences updated")
	events.PublishAsync(s.publisher, events.TopicPreferencesUpdated, events.PreferencesUpdated{
		UserID:              userID,
		DietaryRestrictions: saved.DietaryRestrictions,
		Allergies:           saved.Allergies,
		At:                  s.now().UTC(),
	})
	return saved, nil
}

// Delete removes stored preferences
func (s *PreferenceService) Delete(ctx context.Context, userID string) error {
	err := s.store.Delete(ctx, userID)
	if errors.Is(err, database.ErrPreferencesNotFound) {
		return apperr.Wrap(apperr.KindNotFound, "no preferences saved", err)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to delete preferences", err)
	}
	return nil
}

// cleanList trims entries, drops blanks and duplicates and enforces limits
func cleanList(field string, in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if len(v) > MaxPreferenceLength {
			return nil, apperr.New(apperr.KindInvalidQuery, fmt.Sprintf("%s entries must be at most %d characters", field, MaxPreferenceLength))
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	if len(out) > MaxPreferenceEntries {
		return nil, apperr.New(apperr.KindInvalidQuery, fmt.Sprintf("%s accepts at most %d entries", field, MaxPreferenceEntries))
	}
	return out, nil
}
