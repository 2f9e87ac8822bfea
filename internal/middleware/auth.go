package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"memorylane/internal/auth"
)

const (
	UserIDKey = "userID"
	PhoneKey  = "phone"
)

// AuthMiddleware validates the bearer token in the Authorization header.
func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		id, err := validator.Validate(c.Request.Context(), parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, id.UID)
		c.Set(PhoneKey, id.Phone)
		c.Next()
	}
}
