package billing

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/meterline/meterline/internal/subscription"
)

// StripeVerifier verifies Stripe webhook deliveries and normalizes their
// events. The tenant ID rides in object metadata ("tenant_id"), set when the
// provider objects are created.
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier creates a verifier for the endpoint's signing secret.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

func (v *StripeVerifier) VerifyAndParse(payload []byte, header http.Header) (*Event, error) {
	se, err := webhook.ConstructEvent(payload, header.Get("Stripe-Signature"), v.secret)
	if err != nil {
		return nil, ErrBadSignature
	}

	e := &Event{
		ExternalID: se.ID,
		OccurredAt: time.Unix(se.Created, 0).UTC(),
		Raw:        append(json.RawMessage(nil), se.Data.Raw...),
	}

	switch se.Type {
	case "customer.subscription.created":
		e.Type = EventSubscriptionCreated
		return parseStripeSubscription(e, se)
	case "customer.subscription.updated", "customer.subscription.deleted":
		e.Type = EventSubscriptionUpdated
		return parseStripeSubscription(e, se)
	case "invoice.finalized":
		e.Type = EventInvoiceFinalized
		return parseStripeInvoice(e, se)
	case "invoice.payment_failed":
		e.Type = EventPaymentFailed
		var obj struct {
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(se.Data.Raw, &obj); err != nil {
			return nil, ErrBadPayload
		}
		e.TenantID = obj.Metadata["tenant_id"]
		return e, nil
	default:
		// Unknown to us; carry the provider's type so it gets archived.
		e.Type = EventType(se.Type)
		return e, nil
	}
}

func mapStripeStatus(s string) subscription.Status {
	switch s {
	case "trialing", "incomplete":
		return subscription.StatusTrialing
	case "active":
		return subscription.StatusActive
	case "past_due", "unpaid":
		return subscription.StatusPastDue
	default: // canceled, incomplete_expired
		return subscription.StatusCanceled
	}
}

func parseStripeSubscription(e *Event, se stripe.Event) (*Event, error) {
	var obj struct {
		Status             string            `json:"status"`
		CurrentPeriodStart int64             `json:"current_period_start"`
		CurrentPeriodEnd   int64             `json:"current_period_end"`
		Metadata           map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(se.Data.Raw, &obj); err != nil {
		return nil, ErrBadPayload
	}

	tenantID := obj.Metadata["tenant_id"]
	if tenantID == "" {
		return nil, ErrUnknownTenant
	}
	status := mapStripeStatus(obj.Status)
	if se.Type == "customer.subscription.deleted" {
		status = subscription.StatusCanceled
	}

	e.TenantID = tenantID
	e.Subscription = &subscription.ProviderUpdate{
		TenantID:    tenantID,
		PlanID:      obj.Metadata["plan_id"],
		Status:      status,
		PeriodStart: time.Unix(obj.CurrentPeriodStart, 0).UTC(),
		PeriodEnd:   time.Unix(obj.CurrentPeriodEnd, 0).UTC(),
		ProviderTS:  e.OccurredAt,
	}
	return e, nil
}

func parseStripeInvoice(e *Event, se stripe.Event) (*Event, error) {
	var obj struct {
		AmountDue   int64             `json:"amount_due"`
		PeriodStart int64             `json:"period_start"`
		PeriodEnd   int64             `json:"period_end"`
		Metadata    map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(se.Data.Raw, &obj); err != nil {
		return nil, ErrBadPayload
	}

	tenantID := obj.Metadata["tenant_id"]
	if tenantID == "" {
		return nil, ErrUnknownTenant
	}
	e.TenantID = tenantID

	billed, _ := strconv.ParseInt(obj.Metadata["billed_quantity"], 10, 64)
	e.Invoice = &Invoice{
		Metric:         obj.Metadata["metric"],
		PeriodStart:    time.Unix(obj.PeriodStart, 0).UTC(),
		PeriodEnd:      time.Unix(obj.PeriodEnd, 0).UTC(),
		BilledQuantity: billed,
		AmountCents:    obj.AmountDue,
	}
	return e, nil
}
