package main

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/identity"
	"github.com/pavitra93/go-shelter-platform/shared/middleware"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/store"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

// attributeUpdater writes role and scope changes to the identity provider
type attributeUpdater interface {
	UpdateAttributes(ctx context.Context, subject string, role models.Role, tenantID, shelterID string) error
}

// RoleChangeRequest represents a role or scope change. Omitted scope fields
// keep the user's current binding.
type RoleChangeRequest struct {
	Role      models.Role `json:"role" binding:"required"`
	TenantID  *string     `json:"tenant_id"`
	ShelterID *string     `json:"shelter_id"`
}

// VerifyResponse is returned by /auth/verify
type VerifyResponse struct {
	Identity  *models.Identity `json:"identity"`
	Dashboard string           `json:"dashboard"`
}

// DashboardResponse tells the UI where a path leads for the caller
type DashboardResponse struct {
	Location string `json:"location"`
	Redirect bool   `json:"redirect"`
}

func setupRouter(am *middleware.AuthMiddleware, accessor *store.Accessor, updater attributeUpdater, log logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Auth service is healthy", nil)
	})
	router.GET("/metrics", telemetry.Handler())

	auth := router.Group("/auth")
	auth.Use(am.RequireAuth())
	{
		auth.GET("/verify", handleVerifyToken(accessor, log))
		auth.GET("/dashboard", handleDashboard())
	}

	users := router.Group("/users")
	users.Use(am.RequireAuth(), am.RequireRole(models.RoleAdmin, models.RoleSuperAdmin, models.RolePlatformAdmin))
	{
		users.GET("", handleGetUsers(accessor))
		users.GET("/:id", handleGetUser(accessor))
		users.PUT("/:id/role", handleChangeRole(accessor, updater, log))
	}
	return router
}

// handleVerifyToken returns the verified identity and its dashboard, and
// mirrors the identity into the users table
func handleVerifyToken(accessor *store.Accessor, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		dashboard, err := access.ResolveDashboard(id)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		if err := recordLogin(c.Request.Context(), accessor, id); err != nil {
			log.WithError(err).WithField("user_id", id.ID).Warn("Failed to record login")
		}

		utils.OKResponse(c, "Token is valid", VerifyResponse{Identity: id, Dashboard: dashboard})
	}
}

// recordLogin creates or refreshes the caller's user record. The identity
// provider is the source of truth for role and scope.
func recordLogin(ctx context.Context, accessor *store.Accessor, id *models.Identity) error {
	if _, err := access.Own(id); err != nil {
		// unbound donors have no scoped user record
		return nil
	}

	now := time.Now().UTC()
	var user models.User
	err := accessor.Get(ctx, id, store.Users, access.Scope{}, id.ID, &user)
	found := err == nil
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	if !found {
		user = models.User{ID: id.ID, CreatedAt: now}
	}
	user.Email = id.Email
	user.Role = id.Role
	user.TenantID = id.TenantID
	user.ShelterID = id.ShelterID
	user.LastLoginAt = &now

	if found {
		return accessor.Save(ctx, id, store.Users, user.ID, &user)
	}
	return accessor.Create(ctx, id, store.Users, &user)
}

// handleDashboard resolves ?path= for the caller. Paths under another
// role's dashboard come back as a redirect to the caller's own root.
func handleDashboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		path := c.Query("path")
		if path == "" {
			root, err := access.ResolveDashboard(id)
			if err != nil {
				utils.ErrorFromErr(c, err)
				return
			}
			utils.OKResponse(c, "Dashboard resolved", DashboardResponse{Location: root})
			return
		}

		target, err := access.GuardPath(id, path)
		switch {
		case errors.Is(err, apperrors.ErrScopeMismatch):
			utils.OKResponse(c, "Path belongs to another dashboard", DashboardResponse{Location: target, Redirect: true})
		case err != nil:
			utils.ErrorFromErr(c, err)
		default:
			utils.OKResponse(c, "Path allowed", DashboardResponse{Location: target})
		}
	}
}

// handleGetUsers lists users inside the requested scope
func handleGetUsers(accessor *store.Accessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		scope, err := middleware.EffectiveScope(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var users []models.User
		if err := accessor.Query(c.Request.Context(), id, store.Users, scope, &users, store.OrderBy("created_at")); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Users retrieved successfully", users)
	}
}

// handleGetUser returns one user inside the caller's scope
func handleGetUser(accessor *store.Accessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var user models.User
		if err := accessor.Get(c.Request.Context(), id, store.Users, access.Scope{}, c.Param("id"), &user); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "User retrieved successfully", user)
	}
}

// handleChangeRole changes a user's role or scope in the identity provider
// and then in the users table
func handleChangeRole(accessor *store.Accessor, updater attributeUpdater, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var req RoleChangeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		ctx := c.Request.Context()
		userID := c.Param("id")
		var target models.User
		if err := accessor.Get(ctx, caller, store.Users, access.Scope{}, userID, &target); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		next := target
		next.Role = req.Role
		if req.TenantID != nil {
			next.TenantID = *req.TenantID
		}
		if req.ShelterID != nil {
			next.ShelterID = *req.ShelterID
		}
		if err := checkRoleChange(caller, &target, &next); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if err := checkBinding(ctx, accessor, caller, &next); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		if err := updater.UpdateAttributes(ctx, userID, next.Role, next.TenantID, next.ShelterID); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if err := accessor.Save(ctx, caller, store.Users, userID, &next); err != nil {
			// the provider already holds the new grant; the next verify resyncs the row
			log.WithError(err).WithField("user_id", userID).Error("Role changed upstream but user record not saved")
			utils.ErrorFromErr(c, err)
			return
		}

		log.WithFields(logrus.Fields{
			"changed_by": caller.ID,
			"user_id":    userID,
			"from_role":  target.Role,
			"to_role":    next.Role,
			"tenant_id":  next.TenantID,
			"shelter_id": next.ShelterID,
		}).Info("User role updated")
		utils.OKResponse(c, "User updated successfully. Changes will take effect on next login.", next)
	}
}

// checkRoleChange applies the role administration rules. Nobody changes
// their own grant. Super roles may set any grant; administrators only move
// participant and donor accounts between those two roles.
func checkRoleChange(caller *models.Identity, target, next *models.User) error {
	if caller.ID == target.ID {
		return apperrors.New(apperrors.KindForbidden, "you cannot change your own role or scope")
	}
	if !next.Role.Valid() {
		return apperrors.New(apperrors.KindInvalidInput, "unknown role %q", next.Role)
	}
	if next.ShelterID != "" && next.TenantID == "" {
		return apperrors.New(apperrors.KindInvalidInput, "a shelter binding needs its tenant")
	}

	if access.IsSuper(caller.Role) {
		if access.IsSuper(next.Role) {
			next.TenantID, next.ShelterID = "", ""
			return nil
		}
		if next.TenantID == "" {
			return apperrors.New(apperrors.KindInvalidInput, "role %s needs a tenant", next.Role)
		}
		return nil
	}

	if caller.Role != models.RoleAdmin {
		return apperrors.New(apperrors.KindForbidden, "insufficient permissions")
	}
	if !isMember(target.Role) || !isMember(next.Role) {
		return apperrors.New(apperrors.KindForbidden, "administrators manage participant and donor accounts only")
	}
	if caller.ShelterID != "" && next.ShelterID != caller.ShelterID {
		return apperrors.New(apperrors.KindScopeViolation, "users cannot be moved out of your shelter")
	}
	return nil
}

// checkBinding verifies the new binding is writable by the caller and that
// its shelter belongs to its tenant, before anything is sent upstream
func checkBinding(ctx context.Context, accessor *store.Accessor, caller *models.Identity, next *models.User) error {
	if err := access.CheckWrite(caller, next.TenantID, next.ShelterID); err != nil {
		return err
	}
	if next.ShelterID == "" {
		return nil
	}
	n, err := accessor.Count(ctx, caller, store.Shelters, access.ForShelter(next.ShelterID), store.Where("tenant_id = ?", next.TenantID))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.New(apperrors.KindInvalidInput, "shelter %s does not belong to tenant %s", next.ShelterID, next.TenantID)
	}
	return nil
}

func isMember(role models.Role) bool {
	return role == models.RoleParticipant || role == models.RoleDonor
}

// logIdentityChanges logs grants that changed since the subject was last seen
func logIdentityChanges(log logrus.FieldLogger) identity.ChangeFunc {
	return func(previous, current *models.Identity) {
		fields := logrus.Fields{
			"user_id":    current.ID,
			"role":       current.Role,
			"tenant_id":  current.TenantID,
			"shelter_id": current.ShelterID,
		}
		if previous != nil {
			fields["previous_role"] = previous.Role
			fields["previous_tenant_id"] = previous.TenantID
			fields["previous_shelter_id"] = previous.ShelterID
		}
		log.WithFields(fields).Info("Identity grant changed")
	}
}
