package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/database"
	"github.com/pageza/foodlens/backend/internal/models"
	"github.com/pageza/foodlens/backend/internal/nutrition"
	"github.com/pageza/foodlens/backend/internal/pipeline"
	"github.com/pageza/foodlens/backend/internal/recommend"
	"github.com/pageza/foodlens/backend/internal/service"
	"github.com/pageza/foodlens/backend/internal/testdb"
)

type analyzeFunc func(ctx context.Context, in pipeline.Input) (*pipeline.Outcome, error)

func (f analyzeFunc) Analyze(ctx context.Context, in pipeline.Input) (*pipeline.Outcome, error) {
	return f(ctx, in)
}

type testServer struct {
	router *gin.Engine
	tokens *service.TokenService
	inputs []pipeline.Input
}

func setupTestRouter(t *testing.T, withAuth bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{router: gin.New()}
	analyzer := analyzeFunc(func(ctx context.Context, in pipeline.Input) (*pipeline.Outcome, error) {
		ts.inputs = append(ts.inputs, in)
		if len(in.Image) == 0 && in.ImageURL == "" {
			return nil, apperr.New(apperr.KindInvalidImage, "an image file or image_url is required")
		}
		if in.ImageURL == "http://vision.down/x.jpg" {
			return nil, apperr.Wrap(apperr.KindDetectionUnavailable, "food detection is unavailable", errors.New("dial tcp: refused"))
		}
		return &pipeline.Outcome{
			Fingerprint: "fp-1",
			CacheHit:    in.Locale == "cached",
			Result: &models.AnalysisResult{
				Detections: []models.Detection{{Label: "ramen", Confidence: 0.9, Category: "main"}},
				Locale:     in.Locale,
			},
		}, nil
	})

	repo := database.NewPreferenceRepository(testdb.SetupSQLite(t))
	engine := recommend.NewEngine(recommend.DefaultPool(), recommend.Config{Location: time.UTC})

	deps := Deps{
		Analyzer:        analyzer,
		Recommendations: service.NewRecommendationService(engine, repo, nil),
		Preferences:     service.NewPreferenceService(repo, nil),
		Catalog:         nutrition.Default(),
		Health: NewHealthHandler("v1",
			Check{Name: "database", Probe: func(context.Context) error { return nil }},
			Check{Name: "redis", Probe: func(context.Context) error { return errors.New("down") }},
		),
		MaxImageBytes: 1024,
	}
	if withAuth {
		ts.tokens = service.NewTokenService("test-secret", "foodlens")
		deps.Tokens = ts.tokens
	}
	RegisterRoutes(ts.router, deps)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := ts.tokens.GenerateToken(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func multipartBody(t *testing.T, field string, data []byte, locale string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != nil {
		fw, err := mw.CreateFormFile(field, "plate.jpg")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	if locale != "" {
		require.NoError(t, mw.WriteField("locale", locale))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAnalyze(t *testing.T) {
	ts := setupTestRouter(t, false)

	t.Run("should analyze an uploaded file", func(t *testing.T) {
		body, ct := multipartBody(t, "file", []byte("jpeg bytes"), "ja")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
		assert.Equal(t, "fp-1", w.Header().Get("X-Fingerprint"))

		var res models.AnalysisResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, "ramen", res.Detections[0].Label)

		last := ts.inputs[len(ts.inputs)-1]
		assert.Equal(t, []byte("jpeg bytes"), last.Image)
		assert.Equal(t, "ja", last.Locale)
	})

	t.Run("should accept the image field name", func(t *testing.T) {
		body, ct := multipartBody(t, "image", []byte("jpeg bytes"), "")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze?locale=cached", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	})

	t.Run("should reject oversized uploads", func(t *testing.T) {
		body, ct := multipartBody(t, "file", make([]byte, 2048), "")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_image")
	})

	t.Run("should analyze an image URL", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/analyze", AnalyzeRequest{ImageURL: "https://cdn.example.com/a.jpg", Locale: "en"}, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://cdn.example.com/a.jpg", ts.inputs[len(ts.inputs)-1].ImageURL)
	})

	t.Run("should reject requests without an image", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/analyze", AnalyzeRequest{}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var body apperr.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "invalid_image", body.Error)
	})

	t.Run("should report detection outages without internals", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/analyze", AnalyzeRequest{ImageURL: "http://vision.down/x.jpg"}, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "detection_unavailable")
		assert.NotContains(t, w.Body.String(), "refused")
	})
}

func TestRecommendations(t *testing.T) {
	ts := setupTestRouter(t, false)

	t.Run("should rank a lunch query", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/recommendations", models.RecommendationQuery{
			Location: "New York, NY",
			MealType: "lunch",
			Budget:   "medium",
		}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var res models.RecommendationResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.NotEmpty(t, res.Items)
		assert.Equal(t, "Chicken Tikka Masala", res.Items[0].Name)
		for i := 1; i < len(res.Items); i++ {
			assert.GreaterOrEqual(t, res.Items[i-1].Rating, res.Items[i].Rating)
		}
	})

	t.Run("should merge stored allergies for the named user", func(t *testing.T) {
		w := ts.do(t, http.MethodPut, "/api/v1/preferences/user-9", models.UpdatePreferencesRequest{Allergies: []string{"peanut"}}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = ts.do(t, http.MethodPost, "/api/v1/recommendations", models.RecommendationQuery{UserID: "user-9", MealType: "dinner", Limit: 50}, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "Pad Thai")
	})

	t.Run("should reject unknown enums", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/recommendations", map[string]any{"meal_type": "elevenses"}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_query")
	})

	t.Run("should validate list sizes and limits when binding", func(t *testing.T) {
		tooMany := make([]string, 33)
		for i := range tooMany {
			tooMany[i] = fmt.Sprintf("diet-%d", i)
		}
		for name, body := range map[string]map[string]any{
			"budget":      {"budget": "cheap"},
			"limit":       {"limit": -1},
			"list size":   {"dietary_restrictions": tooMany},
			"entry size":  {"allergies": []string{strings.Repeat("a", 65)}},
			"cuisine len": {"cuisine_preferences": []string{strings.Repeat("b", 65)}},
		} {
			w := ts.do(t, http.MethodPost, "/api/v1/recommendations", body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, name)
			assert.Contains(t, w.Body.String(), "invalid_query", name)
		}

		w := ts.do(t, http.MethodPut, "/api/v1/preferences/user-9", map[string]any{"allergies": tooMany}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = ts.do(t, http.MethodGet, "/api/v1/recommendations/carousel?limit=-2", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should echo the applied filters", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/recommendations", models.RecommendationQuery{
			MealType:           "lunch",
			CuisinePreferences: []string{"japanese"},
			Limit:              2,
		}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var res models.RecommendationResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, []string{"japanese"}, res.Filters.CuisinePreferences)
		assert.Equal(t, models.BudgetAny, res.Filters.Budget)
		require.Len(t, res.Items, 2)
		assert.Equal(t, "Japanese", res.Items[0].CuisineType)
		assert.Equal(t, "Japanese", res.Items[1].CuisineType)
	})

	t.Run("should serve the carousel", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/recommendations/carousel?limit=3", nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		var res models.RecommendationResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.LessOrEqual(t, res.Count, 3)
		for _, it := range res.Items {
			assert.Contains(t, it.Diets, "healthy")
		}
	})

	t.Run("should reject a non numeric carousel limit", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/recommendations/carousel?limit=ten", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPreferencesWithAuth(t *testing.T) {
	ts := setupTestRouter(t, true)
	token := ts.token(t, "user-1")

	t.Run("should require a token", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/preferences/user-1", nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should forbid other users", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/preferences/user-2", nil, token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("should return defaults, save and delete", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/preferences/user-1", nil, token)
		require.Equal(t, http.StatusOK, w.Code)
		var pref models.UserPreference
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pref))
		assert.Empty(t, pref.Allergies)

		w = ts.do(t, http.MethodPut, "/api/v1/preferences/user-1", models.UpdatePreferencesRequest{
			DietaryRestrictions: []string{"vegetarian"},
			Allergies:           []string{"milk"},
		}, token)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pref))
		assert.Equal(t, []string{"milk"}, pref.Allergies)

		w = ts.do(t, http.MethodDelete, "/api/v1/preferences/user-1", nil, token)
		assert.Equal(t, http.StatusNoContent, w.Code)
		w = ts.do(t, http.MethodDelete, "/api/v1/preferences/user-1", nil, token)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("should take the user from the token, not the body", func(t *testing.T) {
		w := ts.do(t, http.MethodPut, "/api/v1/preferences/user-1", models.UpdatePreferencesRequest{Allergies: []string{"peanut"}}, token)
		require.Equal(t, http.StatusOK, w.Code)

		w = ts.do(t, http.MethodPost, "/api/v1/recommendations", models.RecommendationQuery{UserID: "user-1", MealType: "dinner", Limit: 50}, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Pad Thai")

		w = ts.do(t, http.MethodPost, "/api/v1/recommendations", models.RecommendationQuery{MealType: "dinner", Limit: 50}, token)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "Pad Thai")
	})
}

func TestNutritionLookup(t *testing.T) {
	ts := setupTestRouter(t, false)

	w := ts.do(t, http.MethodGet, "/api/v1/nutrition/Ramen", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var entry nutrition.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, "ramen", entry.Label)
	assert.True(t, entry.Facts.Known)
	assert.Positive(t, entry.Facts.Calories)

	w = ts.do(t, http.MethodGet, "/api/v1/nutrition/moon%20rock", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, nutrition.MatchUnknown, entry.Match)
	assert.Zero(t, entry.Facts.Calories)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := setupTestRouter(t, false)

	w := ts.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["database"])
	assert.Equal(t, "unavailable", body.Dependencies["redis"])

	w = ts.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "foodlens_http_request_duration_seconds")
}
