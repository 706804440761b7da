// Package validation provides input sanitization shared by the HTTP handlers.
package validation

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the default request body limit (1MB).
const MaxRequestSize = 1 << 20

// MaxStringLength caps free-text fields.
const MaxStringLength = 1000

var metricName = regexp.MustCompile(`^[a-z][a-z0-9_.]{0,127}$`)

// IsValidMetricName reports whether s is a well-formed metric name
// (lowercase, digits, underscore, dot; max 128 chars).
func IsValidMetricName(s string) bool {
	return metricName.MatchString(s)
}

// SanitizeString trims whitespace, strips control characters, and truncates
// to maxLen.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// RequestSizeMiddleware rejects request bodies larger than limit bytes.
func RequestSizeMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": "Request body exceeds size limit",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
