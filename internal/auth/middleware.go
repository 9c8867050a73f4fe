package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/liftsmail/pkg/logx"
)

const userIDKey = "user_id"

type Verifier interface {
	Verify(raw string) (int64, error)
}

// Required rejects requests without a valid bearer token and stores the
// caller's id on the gin context.
func Required(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		id, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			logx.L().Debugw("token_rejected", "rid", c.GetString("request_id"), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

// UserID returns the id stored by Required, or 0 outside an authenticated
// route.
func UserID(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}
