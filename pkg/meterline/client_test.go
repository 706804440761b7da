package meterline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUsage_FillsDefaultsAndSendsTenant(t *testing.T) {
	var got UsageEvent
	var tenantHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/usage-events", r.URL.Path)
		tenantHeader = r.Header.Get("X-Tenant-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Decision{Decision: "allow", SequenceNumber: 7, Accepted: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "ten_1")
	d, err := c.RecordUsage(context.Background(), UsageEvent{Metric: "api_calls", Quantity: 3})
	require.NoError(t, err)

	assert.Equal(t, "allow", d.Decision)
	assert.Equal(t, int64(7), d.SequenceNumber)
	assert.True(t, d.Accepted)
	assert.Equal(t, "ten_1", tenantHeader)
	assert.NotEmpty(t, got.IdempotencyKey)
	assert.False(t, got.OccurredAt.IsZero())
}

func TestRecordUsage_RetriesServerErrorsWithSameKey(t *testing.T) {
	var calls atomic.Int32
	keys := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e UsageEvent
		_ = json.NewDecoder(r.Body).Decode(&e)
		keys <- e.IdempotencyKey
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(Decision{Decision: "allow", Accepted: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "ten_1")
	c.RetryDelay = time.Millisecond

	d, err := c.RecordUsage(context.Background(), UsageEvent{Metric: "api_calls", Quantity: 1})
	require.NoError(t, err)
	assert.True(t, d.Accepted)
	assert.Equal(t, int32(2), calls.Load())

	first, second := <-keys, <-keys
	assert.Equal(t, first, second)
}

func TestRecordUsage_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "no_active_subscription", "message": "tenant has no usable subscription",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "ten_1")
	_, err := c.RecordUsage(context.Background(), UsageEvent{Metric: "api_calls", Quantity: 1})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.Status)
	assert.Equal(t, "no_active_subscription", apiErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tenants/ten_1/usage", r.URL.Path)
		require.Equal(t, "api_calls", r.URL.Query().Get("metric"))
		require.Equal(t, "day", r.URL.Query().Get("period"))
		_ = json.NewEncoder(w).Encode(Usage{TenantID: "ten_1", Metric: "api_calls", Period: "day", Total: 42})
	}))
	defer srv.Close()

	c := New(srv.URL, "ten_1")
	u, err := c.GetUsage(context.Background(), "api_calls", "day")
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.Total)
}
