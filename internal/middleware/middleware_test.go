package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apperr.ErrorResponse {
	t.Helper()
	var body apperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandler(t *testing.T) {
	router := gin.New()
	router.Use(ErrorHandler())
	router.GET("/panic", func(c *gin.Context) { panic("boom") })
	router.GET("/attached", func(c *gin.Context) {
		_ = c.Error(apperr.Wrap(apperr.KindDetectionUnavailable, "detection is unavailable", errors.New("dial tcp: refused")))
	})
	router.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("pq: relation does not exist"))
	})

	t.Run("should recover panics as internal errors", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "internal", decodeError(t, w).Error)
	})

	t.Run("should render attached errors by kind", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/attached", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "detection_unavailable", body.Error)
		assert.NotContains(t, body.Message, "refused")
	})

	t.Run("should hide unclassified errors", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "relation")
	})
}

func TestAuthMiddleware(t *testing.T) {
	tokens := service.NewTokenService("test-secret", "foodlens")
	valid, err := tokens.GenerateToken("user-1", time.Hour)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/me", AuthMiddleware(tokens), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserIDKey))
	})
	router.GET("/users/:user_id", AuthMiddleware(tokens), RequireSelf("user_id"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	router.GET("/maybe", OptionalAuth(tokens), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserIDKey))
	})

	do := func(path, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("should accept a valid token", func(t *testing.T) {
		w := do("/me", "Bearer "+valid)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-1", w.Body.String())
	})

	t.Run("should reject missing and malformed headers", func(t *testing.T) {
		for _, h := range []string{"", "Token abc", "Bearer", "Bearer a b"} {
			w := do("/me", h)
			assert.Equal(t, http.StatusUnauthorized, w.Code, h)
			assert.Equal(t, "unauthorized", decodeError(t, w).Error)
		}
	})

	t.Run("should reject an invalid token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("/me", "Bearer nope").Code)
	})

	t.Run("should only allow the token owner", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, do("/users/user-1", "Bearer "+valid).Code)
		assert.Equal(t, http.StatusUnauthorized, do("/users/user-2", "Bearer "+valid).Code)
	})

	t.Run("should treat auth as optional", func(t *testing.T) {
		assert.Equal(t, "user-1", do("/maybe", "Bearer "+valid).Body.String())
		w := do("/maybe", "Bearer nope")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestRequestLogger(t *testing.T) {
	router := gin.New()
	router.Use(RequestLogger())
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("should assign a request id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
		_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
		assert.NoError(t, err)
	})

	t.Run("should keep a caller supplied id", func(t *testing.T) {
		id := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set(RequestIDHeader, id)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, id, w.Header().Get(RequestIDHeader))
	})
}

func TestCORS(t *testing.T) {
	preflight := func(router *gin.Engine) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
		req.Header.Set("Origin", "https://app.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("should pass requests through when no origins are configured", func(t *testing.T) {
		var handler gin.HandlerFunc
		require.NotPanics(t, func() { handler = CORS(nil) })

		router := gin.New()
		router.Use(handler)
		router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Origin", "https://app.example")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("should allow configured origins", func(t *testing.T) {
		router := gin.New()
		router.Use(CORS([]string{"https://app.example"}))
		router.POST("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := preflight(router)
		assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	rl := NewRateLimiter(client, RateLimitConfig{Window: time.Hour, Limit: 1})
	router := gin.New()
	router.GET("/analyze", rl.RateLimitMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analyze", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Error"))
}

func TestRateLimiterRedis(t *testing.T) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	client := redis.NewClient(&redis.Options{Addr: host + ":" + port})
	t.Cleanup(func() { _ = client.Close() })

	rl := NewRateLimiter(client, RateLimitConfig{
		Window:    time.Minute,
		Limit:     2,
		KeyPrefix: "test:rate_limit:" + uuid.NewString(),
	})
	router := gin.New()
	router.GET("/analyze", rl.RateLimitMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/analyze", nil))
		return w
	}

	first := do()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, do().Code)

	third := do()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "0", third.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(third.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retry)

	quota, err := rl.Remaining(context.Background(), "ip:192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, 2, quota.Limit)
}
