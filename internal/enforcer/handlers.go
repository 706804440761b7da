package enforcer

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/logging"
	"github.com/meterline/meterline/internal/tenant"
	"github.com/meterline/meterline/internal/usage"
)

// Handler provides the usage-event ingest endpoint: admission check plus
// idempotent ledger append in one call.
type Handler struct {
	enforcer   *Enforcer
	ledger     *usage.Ledger
	aggregator *usage.Aggregator
}

// NewHandler creates a new ingest handler.
func NewHandler(enforcer *Enforcer, ledger *usage.Ledger, aggregator *usage.Aggregator) *Handler {
	return &Handler{enforcer: enforcer, ledger: ledger, aggregator: aggregator}
}

// RegisterRoutes sets up the ingest route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/usage-events", h.RecordUsage)
}

type recordRequest struct {
	TenantID       string    `json:"tenant_id"`
	Metric         string    `json:"metric" binding:"required"`
	Quantity       int64     `json:"quantity"`
	IdempotencyKey string    `json:"idempotency_key" binding:"required"`
	OccurredAt     time.Time `json:"occurred_at" binding:"required"`
}

// RecordUsage handles POST /v1/usage-events.
//
// A retried idempotency key short-circuits before enforcement: the original
// append was admitted (rejected events are never ledgered), so the original
// sequence comes back with accepted=false and no quota is consumed twice.
func (h *Handler) RecordUsage(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		IngestTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = tenant.FromContext(ctx)
	}
	if tenantID == "" {
		IngestTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "tenant_id required"})
		return
	}

	e := &usage.Event{
		TenantID:       tenantID,
		Metric:         req.Metric,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
		OccurredAt:     req.OccurredAt,
	}
	if err := h.ledger.Validate(e, time.Now()); err != nil {
		IngestTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": err.Error()})
		return
	}

	// Replay of an already-ledgered event.
	if prev, err := h.ledger.GetByIdemKey(ctx, tenantID, req.IdempotencyKey); err == nil {
		IngestTotal.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{
			"decision":        OutcomeAllow,
			"sequence_number": prev.Seq,
			"accepted":        false,
		})
		return
	} else if !errors.Is(err, usage.ErrEventNotFound) {
		IngestTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "ledger lookup failed"})
		return
	}

	d, err := h.enforcer.Admit(ctx, tenantID, req.Metric, req.Quantity)
	if err != nil {
		IngestTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "admission check failed"})
		return
	}

	if d.Outcome == OutcomeReject {
		if d.Reason == ReasonNoActiveSubscription {
			IngestTotal.WithLabelValues("no_subscription").Inc()
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "no_active_subscription",
				"message": "tenant has no usable subscription",
			})
			return
		}
		IngestTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusOK, gin.H{
			"decision": d.Outcome,
			"reason":   d.Reason,
			"limit":    d.Limit,
			"current":  d.Current,
			"accepted": false,
		})
		return
	}

	res, err := h.ledger.Append(ctx, e)
	if err != nil {
		IngestTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "append failed"})
		return
	}
	if res.Accepted {
		if err := h.aggregator.Apply(ctx, e); err != nil {
			// Totals catch up on the next read; log and keep going.
			logging.L(ctx).Warn("aggregator apply failed", "tenant", tenantID, "error", err)
		}
	}

	IngestTotal.WithLabelValues("accepted").Inc()
	resp := gin.H{
		"decision":        d.Outcome,
		"sequence_number": res.Seq,
		"accepted":        res.Accepted,
	}
	if d.SurchargeCents > 0 {
		resp["surcharge_cents"] = d.SurchargeCents
	}
	c.JSON(http.StatusOK, resp)
}
