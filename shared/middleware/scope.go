package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
)

// ScopeFromQuery reads the requested scope from ?scope=platform,
// ?tenant_id= and ?shelter_id=. No parameters means the caller's own scope.
func ScopeFromQuery(c *gin.Context) (access.Scope, error) {
	level := c.Query("scope")
	tenantID := c.Query("tenant_id")
	shelterID := c.Query("shelter_id")

	switch {
	case level == string(access.LevelPlatform):
		if tenantID != "" || shelterID != "" {
			return access.Scope{}, apperrors.New(apperrors.KindInvalidInput, "platform scope takes no tenant or shelter")
		}
		return access.Platform(), nil
	case level != "" && level != string(access.LevelTenant) && level != string(access.LevelShelter):
		return access.Scope{}, apperrors.New(apperrors.KindInvalidInput, "unknown scope %q", level)
	case shelterID != "":
		return access.Scope{Level: access.LevelShelter, TenantID: tenantID, ShelterID: shelterID}, nil
	case tenantID != "":
		return access.ForTenant(tenantID), nil
	case level != "":
		return access.Scope{}, apperrors.New(apperrors.KindInvalidInput, "%s scope needs an id", level)
	}
	return access.Scope{}, nil
}

// EffectiveScope authorises the requested scope for the caller
func EffectiveScope(c *gin.Context) (access.Scope, error) {
	id, err := IdentityFromContext(c)
	if err != nil {
		return access.Scope{}, err
	}
	requested, err := ScopeFromQuery(c)
	if err != nil {
		return access.Scope{}, err
	}
	return access.Authorize(id, requested)
}
