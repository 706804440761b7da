package flags

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for flag overrides.
type Handler struct {
	store Store
}

// NewHandler creates a new flags handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterAdminRoutes sets up the admin-only override routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/flags", h.ListOverrides)
	r.PUT("/tenants/:id/flags/:flag", h.SetOverride)
	r.DELETE("/tenants/:id/flags/:flag", h.DeleteOverride)
}

// ListOverrides handles GET /v1/admin/tenants/:id/flags.
func (h *Handler) ListOverrides(c *gin.Context) {
	overrides, err := h.store.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": overrides})
}

// SetOverride handles PUT /v1/admin/tenants/:id/flags/:flag.
func (h *Handler) SetOverride(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "enabled required"})
		return
	}
	if err := h.store.Set(c.Request.Context(), c.Param("id"), c.Param("flag"), *req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flag": c.Param("flag"), "enabled": *req.Enabled})
}

// DeleteOverride handles DELETE /v1/admin/tenants/:id/flags/:flag.
func (h *Handler) DeleteOverride(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id"), c.Param("flag")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
