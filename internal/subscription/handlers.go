package subscription

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/idgen"
	"github.com/meterline/meterline/internal/plan"
)

// Handler provides HTTP endpoints for subscription management.
type Handler struct {
	store   Store
	catalog *plan.Catalog
}

// NewHandler creates a new subscription handler.
func NewHandler(store Store, catalog *plan.Catalog) *Handler {
	return &Handler{store: store, catalog: catalog}
}

// RegisterAdminRoutes sets up the admin-only subscription routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:id/subscription", h.CreateSubscription)
	r.GET("/tenants/:id/subscription", h.GetSubscription)
	r.POST("/tenants/:id/subscription/transition", h.Transition)
}

// CreateSubscription handles POST /v1/admin/tenants/:id/subscription.
func (h *Handler) CreateSubscription(c *gin.Context) {
	tenantID := c.Param("id")

	var req struct {
		Plan     string `json:"plan" binding:"required"` // tier name, resolved to latest version
		Trialing bool   `json:"trialing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "plan required"})
		return
	}

	p, err := h.catalog.Latest(c.Request.Context(), req.Plan)
	if err != nil {
		if err == plan.ErrPlanNotFound {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown plan"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	now := time.Now()
	status := StatusActive
	if req.Trialing {
		status = StatusTrialing
	}
	s := &Subscription{
		ID:                 idgen.WithPrefix("sub_"),
		TenantID:           tenantID,
		PlanID:             p.ID,
		Status:             status,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := h.store.Create(c.Request.Context(), s); err != nil {
		if err == ErrAlreadyExists {
			c.JSON(http.StatusConflict, gin.H{"error": "already_subscribed", "message": "tenant already has a subscription"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create subscription"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subscription": s})
}

// GetSubscription handles GET /v1/admin/tenants/:id/subscription.
func (h *Handler) GetSubscription(c *gin.Context) {
	s, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no subscription for tenant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": s})
}

// Transition handles POST /v1/admin/tenants/:id/subscription/transition.
func (h *Handler) Transition(c *gin.Context) {
	var req struct {
		Status Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !ValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "valid status required"})
		return
	}

	s, err := h.store.ApplyTransition(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		switch err {
		case ErrNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no subscription for tenant"})
		case ErrInvalidTransition:
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": "transition not allowed from current status"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": s})
}
