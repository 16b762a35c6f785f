package rbac

import (
	"net/http"

	"survey-caller/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole admits callers holding one of allowed. Admin always passes.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	set := make(map[string]bool, len(allowed))
	for _, r := range allowed {
		set[r] = true
	}
	return guard(func(role string) bool { return IsAdmin(role) || set[role] })
}

// RequireAtLeast admits roles ranked at or above min: viewer < operator < admin.
func RequireAtLeast(min string) gin.HandlerFunc {
	return guard(func(role string) bool { return Satisfies(role, min) })
}

// guard runs after auth.RequireAccessToken; a missing role means that middleware was skipped.
func guard(ok func(role string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !ok(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "role": role})
			return
		}
		c.Next()
	}
}
