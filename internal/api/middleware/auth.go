package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lumagen/credit-engine/internal/platform/auth"
)

const (
	// AccountIDKey is the key used to store the authenticated account id in
	// the context
	AccountIDKey = "account_id"

	// InternalTokenHeader carries the shared credential for internal
	// endpoints
	InternalTokenHeader = "X-Internal-Token"
)

// Auth middleware resolves the bearer token to an account id before any
// handler touches the ledger. Requests without a valid token never reach
// billing code.
func Auth(logger *slog.Logger, verifier auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Missing or malformed Authorization header",
				},
			})
			return
		}

		accountID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				logger.Error("Token verification failed", "error", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": gin.H{
						"code":    "AUTH_UNAVAILABLE",
						"message": "Authentication service unavailable",
					},
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Invalid or expired token",
				},
			})
			return
		}

		c.Set(AccountIDKey, accountID)
		c.Next()
	}
}

// GetAccountID retrieves the authenticated account id from the gin context
func GetAccountID(c *gin.Context) (uuid.UUID, bool) {
	if v, exists := c.Get(AccountIDKey); exists {
		if id, ok := v.(uuid.UUID); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

// InternalToken middleware guards internal endpoints with a shared credential
func InternalToken(logger *slog.Logger, expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(InternalTokenHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			logger.Warn("Rejected internal request with bad credential",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "FORBIDDEN",
					"message": "Invalid internal credential",
				},
			})
			return
		}
		c.Next()
	}
}
