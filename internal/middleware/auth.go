package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vietbot/chatbridge-backend/internal/logger"
)

type AuthMiddleware struct {
	log   *logger.Logger
	token string
}

func NewAuthMiddleware(baseLog *logger.Logger, token string) *AuthMiddleware {
	return &AuthMiddleware{
		log:   baseLog.With("Middleware", "AuthMiddleware"),
		token: token,
	}
}

// RequireToken gates admin routes behind a static bearer token. An empty
// configured token means auth is disabled, which is only sane in development.
func (am *AuthMiddleware) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.token == "" {
			c.Next()
			return
		}
		presented := extractToken(c)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(am.token)) != 1 {
			am.log.Warn("Rejected admin request with bad token", "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	return ""
}
