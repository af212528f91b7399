package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserPreference stores a user's dietary restrictions, cuisines and allergies.
type UserPreference struct {
	ID                  string         `gorm:"primaryKey;size:36" json:"id"`
	UserID              string         `gorm:"size:128;not null;uniqueIndex" json:"user_id"`
	DietaryRestrictions []string       `gorm:"serializer:json" json:"dietary_restrictions"`
	CuisinePreferences  []string       `gorm:"serializer:json" json:"cuisine_preferences"`
	Allergies           []string       `gorm:"serializer:json" json:"allergies"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

func (UserPreference) TableName() string {
	return "user_preferences"
}

// BeforeCreate assigns an id; sqlite has no uuid default.
func (p *UserPreference) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// DefaultPreferences is what a user without stored preferences gets
func DefaultPreferences(userID string) *UserPreference {
	return &UserPreference{
		UserID:              userID,
		DietaryRestrictions: []string{},
		CuisinePreferences:  []string{},
		Allergies:           []string{},
	}
}

// UpdatePreferencesRequest replaces a user's stored preferences. Nil slices
// keep the stored value.
type UpdatePreferencesRequest struct {
	DietaryRestrictions []string `json:"dietary_restrictions" binding:"omitempty,max=32,dive,max=64"`
	CuisinePreferences  []string `json:"cuisine_preferences" binding:"omitempty,max=32,dive,max=64"`
	Allergies           []string `json:"allergies" binding:"omitempty,max=32,dive,max=64"`
}
