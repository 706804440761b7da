package tenant

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderName is the request header carrying the caller's tenant ID.
const HeaderName = "X-Tenant-ID"

// Middleware resolves the caller's tenant from the X-Tenant-ID header, with
// a subdomain fallback ("acme.api.example.com" resolves the tenant whose slug
// is "acme"), and puts it on the request context. Requests with no resolvable
// tenant pass through; handlers that need one call RequireID.
func Middleware(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderName)

		if id == "" {
			// Subdomain fallback: look up by slug.
			host := c.Request.Host
			if i := strings.IndexByte(host, ':'); i >= 0 {
				host = host[:i]
			}
			if slug, _, ok := strings.Cut(host, "."); ok && slug != "" {
				if t, err := store.GetBySlug(c.Request.Context(), slug); err == nil {
					id = t.ID
				}
			}
		}

		if id != "" {
			c.Request = c.Request.WithContext(WithID(c.Request.Context(), id))
		}
		c.Next()
	}
}
