package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/identity"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

const identityKey = "identity"

// AuthMiddleware handles bearer token validation
type AuthMiddleware struct {
	provider identity.Provider
	log      logrus.FieldLogger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(provider identity.Provider, log logrus.FieldLogger) *AuthMiddleware {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthMiddleware{provider: provider, log: log}
}

// RequireAuth verifies the bearer token and stores the identity in the
// context. Identities with an unrecognised role are refused.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			utils.ErrorFromErr(c, apperrors.New(apperrors.KindAuth, "Authorization token required"))
			return
		}

		id, err := am.provider.VerifyToken(c.Request.Context(), token)
		if err != nil {
			am.log.WithError(err).WithField("path", c.Request.URL.Path).Debug("Token rejected")
			utils.ErrorFromErr(c, err)
			return
		}
		if !id.Role.Valid() {
			utils.ErrorFromErr(c, apperrors.New(apperrors.KindUnknownRole, "unrecognised role %q", id.Role))
			return
		}

		SetIdentity(c, id)
		c.Next()
	}
}

// RequireRole admits only the listed roles
func (am *AuthMiddleware) RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, utils.APIResponse{
			Success: false,
			Error:   "Insufficient permissions",
			Code:    string(apperrors.KindForbidden),
		})
	}
}

// RequireSuper admits super_admin and platform_admin
func (am *AuthMiddleware) RequireSuper() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if !access.IsSuper(id.Role) {
			utils.ErrorFromErr(c, apperrors.New(apperrors.KindForbidden, "platform administrators only"))
			return
		}
		c.Next()
	}
}

// RequireDashboard redirects callers that open another role's dashboard
// back to their own root
func (am *AuthMiddleware) RequireDashboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		target, err := access.GuardPath(id, c.Request.URL.Path)
		if errors.Is(err, apperrors.ErrScopeMismatch) {
			am.log.WithFields(logrus.Fields{
				"user_id": id.ID,
				"role":    id.Role,
				"path":    c.Request.URL.Path,
			}).Info("Redirecting to own dashboard")
			c.Redirect(http.StatusFound, target)
			c.Abort()
			return
		}
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		c.Next()
	}
}

// IdentityFromContext returns the identity stored by RequireAuth
func IdentityFromContext(c *gin.Context) (*models.Identity, error) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, apperrors.New(apperrors.KindAuth, "no authenticated identity")
	}
	id, ok := v.(*models.Identity)
	if !ok || id == nil {
		return nil, apperrors.New(apperrors.KindAuth, "no authenticated identity")
	}
	return id, nil
}

// SetIdentity stores id as the authenticated caller
func SetIdentity(c *gin.Context, id *models.Identity) {
	c.Set(identityKey, id)
}

// extractToken extracts the JWT token from the Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return authHeader
}
