package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"rentfold/rf/internal/auth"
	"rentfold/rf/internal/models"
)

// contextKeySession holds the session in Gin context.
const contextKeySession = "session"

// SessionContext is the authenticated caller's identity, resolved once by the
// auth middleware. Handlers take all three fields from here instead of
// re-parsing the token or trusting request parameters for identity.
type SessionContext struct {
	UserID primitive.ObjectID
	Email  string
	Role   models.Role
}

// AuthMiddleware creates a Gin middleware for JWT authentication.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": fmt.Sprintf("Invalid or expired token: %v", err)})
			return
		}

		userID, err := primitive.ObjectIDFromHex(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token subject"})
			return
		}

		c.Set(contextKeySession, SessionContext{
			UserID: userID,
			Email:  models.NormalizeEmail(claims.Email),
			Role:   models.Role(claims.Role),
		})

		c.Next()
	}
}

// Session returns the authenticated caller's session.
// Panics if AuthMiddleware did not run; all protected routes run it.
func Session(c *gin.Context) SessionContext {
	return c.MustGet(contextKeySession).(SessionContext)
}

// RequireRole creates a Gin middleware allowing only the listed roles.
// Assumes AuthMiddleware runs first.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := Session(c)
		for _, role := range roles {
			if session.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient privileges"})
	}
}
