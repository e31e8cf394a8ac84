package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apierrors "github.com/monoturn/monoturn/internal/errors"
)

// APIKeyAuth enforces the configured API keys on every request. Keys are
// accepted as a Bearer token or an X-Api-Key header. An empty key list
// disables authentication.
func APIKeyAuth(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}

		provided := extractKey(c.Request)
		if provided != "" {
			for _, key := range keys {
				if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
					c.Next()
					return
				}
			}
		}

		apiErr := apierrors.Unauthorized("invalid or missing API key")
		c.Abort()
		c.Data(apiErr.HTTPStatus, "application/json", apiErr.Body())
	}
}

func extractKey(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}
