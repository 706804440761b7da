package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/meterline/meterline/internal/subscription"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Meterline-Signature"

// Verification errors.
var (
	ErrBadSignature = errors.New("billing: signature verification failed")
	ErrBadPayload   = errors.New("billing: malformed event payload")
)

// Verifier authenticates a webhook delivery and parses it into an Event.
type Verifier interface {
	VerifyAndParse(payload []byte, header http.Header) (*Event, error)
}

// HMACVerifier verifies deliveries signed with a shared HMAC-SHA256 secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for the shared secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Sign computes the signature for a payload. Used by tests and by callers
// that deliver events to other services.
func (v *HMACVerifier) Sign(payload []byte) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (v *HMACVerifier) VerifyAndParse(payload []byte, header http.Header) (*Event, error) {
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return nil, ErrBadSignature
	}
	expected := v.Sign(payload)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return nil, ErrBadSignature
	}
	return parseNativeEvent(payload)
}

// nativeEvent is the wire shape of directly-signed (non-Stripe) deliveries.
type nativeEvent struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	TenantID   string          `json:"tenant_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

func parseNativeEvent(payload []byte) (*Event, error) {
	var ne nativeEvent
	if err := json.Unmarshal(payload, &ne); err != nil {
		return nil, ErrBadPayload
	}
	if ne.ID == "" || ne.Type == "" {
		return nil, ErrBadPayload
	}

	e := &Event{
		ExternalID: ne.ID,
		Type:       ne.Type,
		TenantID:   ne.TenantID,
		OccurredAt: ne.OccurredAt,
		Raw:        append(json.RawMessage(nil), payload...),
	}

	switch ne.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var data struct {
			PlanID      string    `json:"plan_id"`
			Status      string    `json:"status"`
			PeriodStart time.Time `json:"period_start"`
			PeriodEnd   time.Time `json:"period_end"`
		}
		if err := json.Unmarshal(ne.Data, &data); err != nil {
			return nil, ErrBadPayload
		}
		status := subscription.Status(data.Status)
		if ne.TenantID == "" || !subscription.ValidStatus(status) {
			return nil, ErrBadPayload
		}
		e.Subscription = &subscription.ProviderUpdate{
			TenantID:    ne.TenantID,
			PlanID:      data.PlanID,
			Status:      status,
			PeriodStart: data.PeriodStart,
			PeriodEnd:   data.PeriodEnd,
			ProviderTS:  ne.OccurredAt,
		}
	case EventInvoiceFinalized:
		inv := &Invoice{}
		if err := json.Unmarshal(ne.Data, inv); err != nil {
			return nil, ErrBadPayload
		}
		e.Invoice = inv
	}
	return e, nil
}
