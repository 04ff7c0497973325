package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sensortrack/telemetry-hub/internal/models"
	"github.com/sensortrack/telemetry-hub/pkg/jwt"
)

const identityContextKey = "identity"

// bearerAuth validates the Authorization header and attaches the decoded
// identity to the request context. Authentication failures are distinct
// from server errors so callers can tell client fault from ours.
func bearerAuth(verifier jwt.VerifierInterface, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "expected 'Bearer {token}'"})
			c.Abort()
			return
		}

		identity, err := verifier.Verify(parts[1])
		if err != nil {
			logger.Warn().Str("remote", c.ClientIP()).Msg("Rejected request with invalid token")
			c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(identityContextKey, identity)
		c.Next()
	}
}

// requireAdmin restricts an endpoint to administrative roles.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFrom(c)
		if identity == nil || !identity.Role.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "insufficient role"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) *models.Identity {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return nil
	}
	identity, ok := value.(*models.Identity)
	if !ok {
		return nil
	}
	return identity
}
