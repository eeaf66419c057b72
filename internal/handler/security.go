package handler

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries static API keys.
const APIKeyHeader = "x-api-key"

// RequireAPIKey rejects requests whose x-api-key header does not match key.
// An empty key rejects everything.
func RequireAPIKey(key string) gin.HandlerFunc {
	want := sha256.Sum256([]byte(key))
	return func(c *gin.Context) {
		got := c.GetHeader(APIKeyHeader)
		// Digests have a fixed length, so the comparison time does not depend
		// on the presented key.
		sum := sha256.Sum256([]byte(got))
		if key == "" || got == "" || subtle.ConstantTimeCompare(sum[:], want[:]) != 1 {
			abort(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}
