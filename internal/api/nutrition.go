package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pageza/foodlens/backend/internal/apperr"
)

// NutritionHandler exposes catalog lookups
type NutritionHandler struct {
	catalog Catalog
}

func NewNutritionHandler(catalog Catalog) *NutritionHandler {
	return &NutritionHandler{catalog: catalog}
}

func (h *NutritionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/nutrition/:label", h.Lookup)
}

// Lookup returns the facts for a label. Unknown labels are a 404 carrying
// the zeroed entry so clients can still show the normalized label.
func (h *NutritionHandler) Lookup(c *gin.Context) {
	entry := h.catalog.Lookup(c.Param("label"))
	if !entry.Known() {
		_ = c.Error(apperr.New(apperr.KindNotFound, "label not in catalog"))
		c.JSON(http.StatusNotFound, entry)
		return
	}
	entry.Facts.Known = true
	c.JSON(http.StatusOK, entry)
}
