package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/meterline/internal/subscription"
)

func nativePayload(t *testing.T, id string, typ EventType, occurredAt time.Time, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"type":        typ,
		"tenant_id":   "ten_1",
		"occurred_at": occurredAt.Format(time.RFC3339),
		"data":        json.RawMessage(raw),
	})
	require.NoError(t, err)
	return payload
}

func TestHMACVerifier_RoundTrip(t *testing.T) {
	v := NewHMACVerifier("whsec_test")
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	payload := nativePayload(t, "evt_1", EventSubscriptionCreated, ts, map[string]any{
		"plan_id":      "plan_1",
		"status":       "active",
		"period_start": ts.Format(time.RFC3339),
		"period_end":   ts.AddDate(0, 1, 0).Format(time.RFC3339),
	})

	header := http.Header{}
	header.Set(SignatureHeader, v.Sign(payload))

	e, err := v.VerifyAndParse(payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", e.ExternalID)
	assert.Equal(t, EventSubscriptionCreated, e.Type)
	require.NotNil(t, e.Subscription)
	assert.Equal(t, "ten_1", e.Subscription.TenantID)
	assert.Equal(t, subscription.StatusActive, e.Subscription.Status)
	assert.Equal(t, ts, e.Subscription.ProviderTS)
}

func TestHMACVerifier_RejectsBadSignature(t *testing.T) {
	v := NewHMACVerifier("whsec_test")
	payload := []byte(`{"id":"evt_1","type":"payment.failed"}`)

	// Missing header.
	_, err := v.VerifyAndParse(payload, http.Header{})
	assert.ErrorIs(t, err, ErrBadSignature)

	// Wrong signature.
	header := http.Header{}
	header.Set(SignatureHeader, "deadbeef")
	_, err = v.VerifyAndParse(payload, header)
	assert.ErrorIs(t, err, ErrBadSignature)

	// Signature from a different secret.
	other := NewHMACVerifier("whsec_other")
	header.Set(SignatureHeader, other.Sign(payload))
	_, err = v.VerifyAndParse(payload, header)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestHMACVerifier_RejectsBadPayload(t *testing.T) {
	v := NewHMACVerifier("whsec_test")

	for _, payload := range [][]byte{
		[]byte(`not json`),
		[]byte(`{}`),
		[]byte(`{"id":"evt_1","type":"subscription.created","tenant_id":"ten_1","data":{"status":"bogus"}}`),
	} {
		header := http.Header{}
		header.Set(SignatureHeader, v.Sign(payload))
		_, err := v.VerifyAndParse(payload, header)
		assert.ErrorIs(t, err, ErrBadPayload, "payload %s", payload)
	}
}

func TestWebhookHandler_ProcessedAndReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := setupBilling(t)
	v := NewHMACVerifier("whsec_test")
	h := NewHandler(f.reconciler, v, f.events)

	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	payload := nativePayload(t, "evt_1", EventSubscriptionCreated, ts, map[string]any{
		"plan_id":      "plan_1",
		"status":       "active",
		"period_start": ts.Format(time.RFC3339),
		"period_end":   ts.AddDate(0, 1, 0).Format(time.RFC3339),
	})

	post := func(body []byte, sign bool) (*httptest.ResponseRecorder, map[string]any) {
		req := httptest.NewRequest("POST", "/v1/billing/webhook", bytes.NewReader(body))
		if sign {
			req.Header.Set(SignatureHeader, v.Sign(body))
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		var resp map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		return w, resp
	}

	w, resp := post(payload, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(ResultProcessed), resp["result"])

	// Redelivery is a 200 duplicate, not an error.
	w, resp = post(payload, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(ResultDuplicate), resp["result"])

	// Unsigned delivery is rejected.
	w, resp = post(payload, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_signature", resp["error"])
}

func TestGraceTimer_SweepCancelsExpired(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	ts := time.Now().Add(-time.Hour)
	_, err := f.reconciler.Process(ctx, subCreatedEvent("evt_1", ts, subscription.StatusActive))
	require.NoError(t, err)
	_, err = f.reconciler.Process(ctx, &Event{
		ExternalID: "evt_2", Type: EventPaymentFailed,
		TenantID: "ten_1", OccurredAt: ts.Add(time.Minute),
	})
	require.NoError(t, err)

	// Grace not yet exhausted: sweep leaves the tenant past_due.
	timer := NewGraceTimer(f.subs, 24*time.Hour, time.Minute, testLogger())
	timer.Sweep(ctx)
	s, _ := f.subs.Get(ctx, "ten_1")
	assert.Equal(t, subscription.StatusPastDue, s.Status)

	// Zero grace: the sweep cancels immediately.
	timer = NewGraceTimer(f.subs, 0, time.Minute, testLogger())
	time.Sleep(5 * time.Millisecond) // ensure PastDueSince < cutoff
	timer.Sweep(ctx)
	s, _ = f.subs.Get(ctx, "ten_1")
	assert.Equal(t, subscription.StatusCanceled, s.Status)
}
