// Package meterline is the Go client for the Meterline metering API.
package meterline

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// UsageEvent is one unit of consumption to report.
type UsageEvent struct {
	Metric         string    `json:"metric"`
	Quantity       int64     `json:"quantity"`
	IdempotencyKey string    `json:"idempotency_key"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Decision is the server's admission verdict for a reported event.
type Decision struct {
	Decision       string `json:"decision"` // "allow", "allow_with_surcharge", "reject"
	Reason         string `json:"reason,omitempty"`
	SequenceNumber int64  `json:"sequence_number,omitempty"`
	Accepted       bool   `json:"accepted"`
	SurchargeCents int64  `json:"surcharge_cents,omitempty"`
	Limit          int64  `json:"limit,omitempty"`
	Current        int64  `json:"current,omitempty"`
}

// Usage is a period total for one metric.
type Usage struct {
	TenantID    string    `json:"tenantId"`
	Metric      string    `json:"metric"`
	Period      string    `json:"period"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	Total       int64     `json:"total"`
}

// APIError is a structured error response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("meterline: %s (%d): %s", e.Code, e.Status, e.Message)
}

// Client talks to a Meterline server on behalf of one tenant.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tenantID   string

	// MaxRetries bounds retransmission of a usage event after transient
	// failures. Retries reuse the idempotency key, so they never double
	// count. Default 2.
	MaxRetries int
	// RetryDelay is the base backoff between attempts. Default 250ms.
	RetryDelay time.Duration
}

// New creates a client for the given server and tenant.
func New(baseURL, tenantID string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		tenantID:   tenantID,
		MaxRetries: 2,
		RetryDelay: 250 * time.Millisecond,
	}
}

// RecordUsage reports a usage event and returns the admission decision.
// A missing idempotency key is filled with a random one; a missing
// occurred_at defaults to now.
func (c *Client) RecordUsage(ctx context.Context, e UsageEvent) (*Decision, error) {
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = randomKey()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("meterline: encode event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.RetryDelay * time.Duration(attempt)):
			}
		}

		d, retryable, err := c.postEvent(ctx, body)
		if err == nil {
			return d, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) postEvent(ctx context.Context, body []byte) (d *Decision, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/usage-events", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", c.tenantID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("meterline: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, true, &APIError{Status: resp.StatusCode, Code: "server_error", Message: "server error"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, parseError(resp)
	}

	var out Decision
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("meterline: decode response: %w", err)
	}
	return &out, false, nil
}

// GetUsage returns the tenant's running total for the metric in the current
// period ("hour", "day", or "month").
func (c *Client) GetUsage(ctx context.Context, metric, period string) (*Usage, error) {
	u := fmt.Sprintf("%s/v1/tenants/%s/usage?metric=%s&period=%s",
		c.baseURL, url.PathEscape(c.tenantID), url.QueryEscape(metric), url.QueryEscape(period))

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Tenant-ID", c.tenantID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meterline: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var out Usage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("meterline: decode response: %w", err)
	}
	return &out, nil
}

func parseError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: "unknown_error"}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil {
		_ = json.Unmarshal(body, apiErr)
	}
	return apiErr
}

func randomKey() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
