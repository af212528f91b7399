package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageza/foodlens/backend/config"
	"github.com/pageza/foodlens/backend/internal/database"
	"github.com/pageza/foodlens/backend/internal/models"
	"github.com/pageza/foodlens/backend/internal/testdb"
)

func TestOpen(t *testing.T) {
	t.Run("should reject unknown drivers", func(t *testing.T) {
		_, err := database.Open(config.DatabaseConfig{Driver: "mysql"})
		assert.ErrorContains(t, err, "unsupported database driver")
	})

	t.Run("should answer health checks", func(t *testing.T) {
		db := testdb.SetupSQLite(t)
		assert.NoError(t, database.HealthCheck(context.Background(), db))
	})
}

func TestPreferenceRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("should report missing preferences", func(t *testing.T) {
		repo := database.NewPreferenceRepository(testdb.SetupSQLite(t))
		_, err := repo.Get(ctx, "nobody")
		assert.ErrorIs(t, err, database.ErrPreferencesNotFound)
	})

	t.Run("should create then replace preferences", func(t *testing.T) {
		repo := database.NewPreferenceRepository(testdb.SetupSQLite(t))

		created, err := repo.Upsert(ctx, &models.UserPreference{
			UserID:              "user-1",
			DietaryRestrictions: []string{"vegetarian"},
			Allergies:           []string{"peanuts"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, []string{"peanuts"}, created.Allergies)

		updated, err := repo.Upsert(ctx, &models.UserPreference{
			UserID:              "user-1",
			DietaryRestrictions: []string{"vegan"},
			CuisinePreferences:  []string{"thai"},
			Allergies:           []string{},
		})
		require.NoError(t, err)
		assert.Equal(t, created.ID, updated.ID)
		assert.Equal(t, []string{"vegan"}, updated.DietaryRestrictions)
		assert.Equal(t, []string{"thai"}, updated.CuisinePreferences)
		assert.Empty(t, updated.Allergies)
	})

	t.Run("should soft delete and allow saving again", func(t *testing.T) {
		repo := database.NewPreferenceRepository(testdb.SetupSQLite(t))
		_, err := repo.Upsert(ctx, &models.UserPreference{UserID: "user-2", Allergies: []string{"milk"}})
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, "user-2"))
		_, err = repo.Get(ctx, "user-2")
		assert.ErrorIs(t, err, database.ErrPreferencesNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, "user-2"), database.ErrPreferencesNotFound)

		again, err := repo.Upsert(ctx, &models.UserPreference{UserID: "user-2", Allergies: []string{"eggs"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"eggs"}, again.Allergies)
	})
}
