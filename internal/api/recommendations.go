package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/middleware"
	"github.com/pageza/foodlens/backend/internal/models"
	"github.com/pageza/foodlens/backend/internal/service"
)

// CarouselQuery are the query parameters of the carousel route
type CarouselQuery struct {
	Limit    int    `form:"limit" binding:"omitempty,min=0"`
	Location string `form:"location" binding:"omitempty,max=128"`
	UserID   string `form:"user_id" binding:"omitempty,max=128"`
}

// RecommendationHandler serves recommendation lists
type RecommendationHandler struct {
	svc service.IRecommendationService
	// trustBodyUser lets requests name a user_id without a token. Only
	// enabled when auth is not configured.
	trustBodyUser bool
}

func NewRecommendationHandler(svc service.IRecommendationService, trustBodyUser bool) *RecommendationHandler {
	return &RecommendationHandler{svc: svc, trustBodyUser: trustBodyUser}
}

func (h *RecommendationHandler) RegisterRoutes(router *gin.RouterGroup) {
	rec := router.Group("/recommendations")
	{
		rec.POST("", h.Recommend)
		rec.GET("/carousel", h.Carousel)
	}
}

// Recommend answers a RecommendationQuery body
func (h *RecommendationHandler) Recommend(c *gin.Context) {
	var q models.RecommendationQuery
	if err := c.ShouldBindJSON(&q); err != nil {
		middleware.Abort(c, apperr.Wrap(apperr.KindInvalidQuery, "invalid request body", err))
		return
	}
	q.UserID = h.userID(c, q.UserID)

	res, err := h.svc.Recommend(c.Request.Context(), q)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Carousel returns the healthy picks for the current time of day
func (h *RecommendationHandler) Carousel(c *gin.Context) {
	var q CarouselQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.Abort(c, apperr.Wrap(apperr.KindInvalidQuery, "invalid query parameters", err))
		return
	}

	res, err := h.svc.Carousel(c.Request.Context(), h.userID(c, q.UserID), q.Location, q.Limit)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// userID prefers the authenticated user over one named in the request
func (h *RecommendationHandler) userID(c *gin.Context, requested string) string {
	if id := c.GetString(middleware.UserIDKey); id != "" {
		return id
	}
	if h.trustBodyUser {
		return requested
	}
	return ""
}
