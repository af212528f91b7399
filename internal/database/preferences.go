package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pageza/foodlens/backend/internal/models"
)

// ErrPreferencesNotFound is returned when a user has never saved preferences
var ErrPreferencesNotFound = errors.New("preferences not found")

// PreferenceRepository persists UserPreference rows
type PreferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns the stored preferences for userID
func (r *PreferenceRepository) Get(ctx context.Context, userID string) (*models.UserPreference, error) {
	var pref models.UserPreference
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPreferencesNotFound
		}
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	return &pref, nil
}

// Upsert creates or replaces the preferences for pref.UserID
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *models.UserPreference) (*models.UserPreference, error) {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"dietary_restrictions", "cuisine_preferences", "allergies", "updated_at", "deleted_at",
		}),
	}).Create(pref).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save preferences: %w", err)
	}
	return r.Get(ctx, pref.UserID)
}

// Delete soft-deletes the preferences for userID
func (r *PreferenceRepository) Delete(ctx context.Context, userID string) error {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.UserPreference{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete preferences: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPreferencesNotFound
	}
	return nil
}
