package billing

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/logging"
)

// Handler provides the provider webhook endpoint.
type Handler struct {
	reconciler *Reconciler
	verifier   Verifier
	events     EventStore
}

// NewHandler creates a new billing webhook handler.
func NewHandler(reconciler *Reconciler, verifier Verifier, events EventStore) *Handler {
	return &Handler{reconciler: reconciler, verifier: verifier, events: events}
}

// RegisterRoutes sets up the webhook route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/billing/webhook", h.Webhook)
}

// RegisterAdminRoutes sets up the admin archive listing.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/billing/archive", h.ListArchived)
}

// Webhook handles POST /v1/billing/webhook. Processed and duplicate
// deliveries both get a 200 so the provider stops retrying; only signature
// and payload failures are client errors.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "message": "failed to read body"})
		return
	}

	event, err := h.verifier.VerifyAndParse(payload, c.Request.Header)
	if err != nil {
		switch err {
		case ErrBadSignature:
			WebhookVerifyFailures.Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_signature", "message": "signature verification failed"})
		case ErrBadPayload, ErrUnknownTenant:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "verification failed"})
		}
		return
	}

	result, err := h.reconciler.Process(c.Request.Context(), event)
	if err != nil {
		logging.L(c.Request.Context()).Error("billing event processing failed",
			"external_id", event.ExternalID, "type", string(event.Type), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result, "external_id": event.ExternalID})
}

// ListArchived handles GET /v1/admin/billing/archive.
func (h *Handler) ListArchived(c *gin.Context) {
	events, err := h.events.ListArchived(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(events))
	for _, e := range events {
		out = append(out, gin.H{
			"externalId": e.ExternalID,
			"type":       e.Type,
			"tenantId":   e.TenantID,
			"occurredAt": e.OccurredAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}
