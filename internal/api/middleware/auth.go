package middleware

import (
	"net/http"
	"strings"

	"asistente-coples/internal/auth"
	"asistente-coples/internal/core/models"
	"asistente-coples/internal/db/repository"

	"github.com/gin-gonic/gin"
)

// Context keys set by the auth middleware.
const (
	ContextUserKey   = "current_user"
	ContextClaimsKey = "claims"
)

// RequireAuth validates the bearer token and loads the current user.
func RequireAuth(authService *auth.Service, repo *repository.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": T(c, "auth.missing_header")})
			return
		}

		tokenString := extractToken(header)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": T(c, "auth.invalid_header")})
			return
		}

		claims, err := authService.ParseAccess(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": T(c, "auth.invalid_token")})
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": T(c, "auth.invalid_token")})
			return
		}

		user, err := repo.GetUserByID(userID)
		if err != nil || user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": T(c, "auth.unknown_user")})
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

// RequireAdmin rejects users that are not in the admin role. Must run after
// RequireAuth.
func RequireAdmin(adminRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || !user.HasRole(adminRole) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": T(c, "auth.admin_required")})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user set by RequireAuth, or nil.
func CurrentUser(c *gin.Context) *models.User {
	value, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}

func extractToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
