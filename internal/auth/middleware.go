package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"aurora-dashboard/pkg/logger"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects identity into request context.
// It does not perform plan checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			// EventSource cannot set headers; the stream endpoint passes the token as a query param.
			raw = bearerPrefix + strings.TrimSpace(c.Query("access_token"))
		}
		tok := strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.CustomerID, claims.Email, claims.Plan)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("customer_id", claims.CustomerID)
		c.Set("plan", claims.Plan)
		logger.Attach(c, logger.FromGin(c).With("customer_id", claims.CustomerID))

		c.Next()
	}
}
