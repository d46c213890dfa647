package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/partystash/catalog"
	"github.com/kasuganosora/partystash/model"
)

// CatalogHandler serves the item catalog.
type CatalogHandler struct {
	catalog *catalog.Service
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(cat *catalog.Service) *CatalogHandler {
	return &CatalogHandler{catalog: cat}
}

// List handles GET /api/catalog.
func (h *CatalogHandler) List(c *gin.Context) {
	items, err := h.catalog.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Create handles POST /api/catalog (DM only).
func (h *CatalogHandler) Create(c *gin.Context) {
	var req model.CatalogItem
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	item, err := h.catalog.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}
