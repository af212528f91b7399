package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/middleware"
	"github.com/pageza/foodlens/backend/internal/models"
	"github.com/pageza/foodlens/backend/internal/service"
)

// PreferenceHandler manages stored user preferences
type PreferenceHandler struct {
	svc    service.IPreferenceService
	tokens middleware.TokenValidator
}

func NewPreferenceHandler(svc service.IPreferenceService, tokens middleware.TokenValidator) *PreferenceHandler {
	return &PreferenceHandler{svc: svc, tokens: tokens}
}

func (h *PreferenceHandler) RegisterRoutes(router *gin.RouterGroup) {
	prefs := router.Group("/preferences/:user_id")
	if h.tokens != nil {
		prefs.Use(middleware.AuthMiddleware(h.tokens), middleware.RequireSelf("user_id"))
	}
	{
		prefs.GET("", h.Get)
		prefs.PUT("", h.Update)
		prefs.DELETE("", h.Delete)
	}
}

func (h *PreferenceHandler) Get(c *gin.Context) {
	pref, err := h.svc.Get(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

func (h *PreferenceHandler) Update(c *gin.Context) {
	var req models.UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, apperr.Wrap(apperr.KindInvalidQuery, "invalid request body", err))
		return
	}

	pref, err := h.svc.Update(c.Request.Context(), c.Param("user_id"), &req)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

func (h *PreferenceHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("user_id")); err != nil {
		middleware.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
