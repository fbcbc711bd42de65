package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pippuri/whim-bot-sub000/pkg/jwt"
	"github.com/sirupsen/logrus"
)

// IdentityContextKey is the key used to store the authenticated identity in
// the Gin context.
const IdentityContextKey = "identity"

// IdentityContext represents the authenticated caller's information
type IdentityContext struct {
	IdentityID string `json:"identity_id"`
	Plan       string `json:"plan,omitempty"`
}

// AuthMiddleware creates a middleware that validates JWT bearer tokens and
// stores the caller's identity in the request context.
func AuthMiddleware(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"ip":   c.ClientIP(),
			}).Warn("Missing authorization header")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authorization header is required",
				"code":    "MISSING_AUTH_HEADER",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			logger.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"ip":   c.ClientIP(),
			}).Warn("Invalid authorization header format")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid authorization header format. Expected: Bearer <token>",
				"code":    "INVALID_AUTH_FORMAT",
			})
			c.Abort()
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			if jwtService.IsTokenExpired(tokenString) {
				logger.WithError(err).WithField("path", c.Request.URL.Path).Warn("Expired access token")
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "token_expired",
					"message": "Access token has expired",
					"code":    "TOKEN_EXPIRED",
				})
			} else {
				logger.WithError(err).WithField("path", c.Request.URL.Path).Warn("Invalid access token")
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Invalid access token",
					"code":    "INVALID_TOKEN",
				})
			}
			c.Abort()
			return
		}

		c.Set(IdentityContextKey, &IdentityContext{
			IdentityID: claims.IdentityID,
			Plan:       claims.Plan,
		})
		c.Next()
	}
}

// GetIdentity extracts the authenticated identity from the Gin context.
func GetIdentity(c *gin.Context) (*IdentityContext, bool) {
	value, exists := c.Get(IdentityContextKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*IdentityContext)
	return identity, ok
}
