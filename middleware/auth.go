package middleware

import (
	"net/http"
	"strings"

	"safewalk/models"
	"safewalk/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthMiddleware verifies bearer tokens issued by the account service. There
// is no user store on this side: a valid token is the whole identity.
type AuthMiddleware struct {
	jwtService *utils.JWTService
}

func NewAuthMiddleware(jwtService *utils.JWTService) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
	}
}

// RequireAuth validates JWT token and sets user context
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			abortUnauthorized(c, "Authentication token required", "AUTH_TOKEN_REQUIRED")
			return
		}

		userID, err := am.jwtService.ExtractUserID(token)
		if err != nil {
			logrus.Warnf("Invalid token: %v", err)
			abortUnauthorized(c, "Invalid authentication token", "AUTH_TOKEN_INVALID")
			return
		}

		c.Set("userID", userID)
		c.Next()
	})
}

func abortUnauthorized(c *gin.Context, message, code string) {
	resp := models.NewErrorResponse("UNAUTHORIZED", message, code, c.GetString("request_id"))
	c.AbortWithStatusJSON(http.StatusUnauthorized, resp)
}

// ExtractToken reads the bearer token from the Authorization header, falling
// back to the token query parameter used by websocket clients.
func ExtractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return strings.TrimSpace(parts[1])
		}
	}

	if token := c.Query("token"); token != "" {
		return token
	}

	return ""
}

// GetCurrentUserID returns the current authenticated user ID from context
func GetCurrentUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("userID")
	if !exists {
		return "", false
	}

	userIDStr, ok := userID.(string)
	return userIDStr, ok && userIDStr != ""
}
