package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"survey-caller/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// RequireAccessToken accepts "Authorization: Bearer <access token>" and puts the
// operator identity on the request context. Role checks live in internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, tok, ok := strings.Cut(strings.TrimSpace(c.GetHeader("Authorization")), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tok) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(strings.TrimSpace(tok), TokenTypeAccess, time.Now())
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			logger.FromGin(c).Debug("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.OperatorID, claims.Role)
		opLog := logger.FromGin(c).With("operator_id", claims.OperatorID)
		c.Request = c.Request.WithContext(logger.With(ctx, opLog))
		c.Set("logger", opLog)
		c.Set("operator_id", claims.OperatorID)
		c.Set("role", claims.Role)

		c.Next()
	}
}
