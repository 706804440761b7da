package tenant

import "context"

type contextKey string

const tenantIDKey contextKey = "tenant_id"

// WithID returns a context carrying the given tenant ID. All downstream
// store operations are scoped to this tenant.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// FromContext extracts the tenant ID from the context, or "" if unset.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}

// RequireID extracts the tenant ID from the context or returns ErrNoTenant.
func RequireID(ctx context.Context) (string, error) {
	id := FromContext(ctx)
	if id == "" {
		return "", ErrNoTenant
	}
	return id, nil
}
