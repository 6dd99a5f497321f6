package main

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/middleware"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/store"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

// CreateTenantRequest represents the create tenant request
type CreateTenantRequest struct {
	Name string `json:"name" binding:"required"`
}

// UpdateTenantRequest represents the update tenant request
type UpdateTenantRequest struct {
	Name   *string        `json:"name"`
	Status *models.Status `json:"status"`
}

// CreateShelterRequest represents the create shelter request
type CreateShelterRequest struct {
	Name     string `json:"name" binding:"required"`
	Address  string `json:"address"`
	Capacity int    `json:"capacity" binding:"gte=0"`
}

// UpdateShelterRequest represents the update shelter request
type UpdateShelterRequest struct {
	Name     *string        `json:"name"`
	Address  *string        `json:"address"`
	Capacity *int           `json:"capacity"`
	Status   *models.Status `json:"status"`
}

func setupRouter(am *middleware.AuthMiddleware, accessor *store.Accessor, log logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Tenant service is healthy", nil)
	})
	router.GET("/metrics", telemetry.Handler())

	tenants := router.Group("/tenants")
	tenants.Use(am.RequireAuth())
	{
		// platform management
		tenants.POST("", am.RequireSuper(), handleCreateTenant(accessor, log))
		tenants.GET("", am.RequireSuper(), handleGetTenants(accessor))
		tenants.DELETE("/:id", am.RequireSuper(), handleDeleteTenant(accessor, log))

		// scoped routes
		tenants.GET("/:id", handleGetTenant(accessor))
		tenants.PUT("/:id", handleUpdateTenant(accessor))
		tenants.GET("/:id/shelters", handleGetShelters(accessor))
		tenants.POST("/:id/shelters", handleCreateShelter(accessor, log))
		tenants.PUT("/:id/shelters/:shelter_id", handleUpdateShelter(accessor))
	}
	return router
}

// handleCreateTenant handles tenant creation (super roles only)
func handleCreateTenant(accessor *store.Accessor, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var req CreateTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		tenant := models.Tenant{
			ID:     uuid.NewString(),
			Name:   req.Name,
			Status: models.StatusActive,
		}
		if err := accessor.Create(c.Request.Context(), caller, store.Tenants, &tenant); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		log.WithFields(logrus.Fields{"tenant_id": tenant.ID, "created_by": caller.ID}).Info("Tenant created")
		utils.CreatedResponse(c, "Tenant created successfully", tenant)
	}
}

// handleGetTenants handles listing tenants, optionally by ?status=
func handleGetTenants(accessor *store.Accessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		preds := []store.Predicate{store.OrderBy("name")}
		if status := c.Query("status"); status != "" {
			preds = append(preds, store.Where("status = ?", status))
		}

		var tenants []models.Tenant
		if err := accessor.Query(c.Request.Context(), caller, store.Tenants, access.Platform(), &tenants, preds...); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Tenants retrieved successfully", tenants)
	}
}

// handleGetTenant returns a tenant with the shelters the caller can see
func handleGetTenant(accessor *store.Accessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		ctx := c.Request.Context()
		tenantID := c.Param("id")
		var tenant models.Tenant
		if err := accessor.Get(ctx, caller, store.Tenants, access.Scope{}, tenantID, &tenant); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if err := accessor.Query(ctx, caller, store.Shelters, access.Scope{}, &tenant.Shelters,
			store.Where("tenant_id = ?", tenantID), store.OrderBy("name")); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		utils.OKResponse(c, "Tenant retrieved successfully", tenant)
	}
}

// handleUpdateTenant handles renaming a tenant or changing its status
func handleUpdateTenant(accessor *store.Accessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var req UpdateTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		if req.Status != nil && !validStatus(*req.Status) {
			utils.BadRequestResponse(c, "Unknown status")
			return
		}

		ctx := c.Request.Context()
		tenantID := c.Param("id")
		var tenant models.Tenant
		if err := accessor.Get(ctx, caller, store.Tenants, access.Scope{}, tenantID, &tenant); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		if req.Name != nil {
			tenant.Name = *req.Name
		}
		if req.Status != nil {
			tenant.Status = *req.Status
		}
		if err := accessor.Save(ctx, caller, store.Tenants, tenantID, &tenant); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		utils.OKResponse(c, "Tenant updated successfully", tenant)
	}
}

// handleDeleteTenant marks a tenant deleted. With ?hard=true the row is
// removed, which is refused while the tenant still has shelters.
func handleDeleteTenant(accessor *store.Accessor, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		ctx := c.Request.Context()
		tenantID := c.Param("id")
		var tenant models.Tenant
		if err := accessor.Get(ctx, caller, store.Tenants, access.Scope{}, tenantID, &tenant); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		if c.Query("hard") != "true" {
			tenant.Status = models.StatusDeleted
			if err := accessor.Save(ctx, caller, store.Tenants, tenantID, &tenant); err != nil {
				utils.ErrorFromErr(c, err)
				return
			}
			log.WithFields(logrus.Fields{"tenant_id": tenantID, "deleted_by": caller.ID}).Info("Tenant marked deleted")
			utils.OKResponse(c, "Tenant deleted successfully", tenant)
			return
		}

		shelters, err := accessor.Count(ctx, caller, store.Shelters, access.ForTenant(tenantID))
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if shelters > 0 {
			utils.ErrorFromErr(c, apperrors.New(apperrors.KindConflict, "cannot delete tenant with %d shelters", shelters))
			return
		}
		if err := accessor.Delete(ctx, caller, store.Tenants, tenantID, &models.Tenant{}); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		log.WithFields(logrus.Fields{"tenant_id": tenantID, "deleted_by": caller.ID}).Warn("Tenant removed")
		utils.OKResponse(c, "Tenant removed", nil)
	}
}

// handleGetShelters lists the tenant's shelters inside the requested scope
func handleGetShelters(accessor *store.Accessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		scope, err := middleware.EffectiveScope(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var shelters []models.Shelter
		if err := accessor.Query(c.Request.Context(), caller, store.Shelters, scope, &shelters,
			store.Where("tenant_id = ?", c.Param("id")), store.OrderBy("name")); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Shelters retrieved successfully", shelters)
	}
}

// handleCreateShelter adds a shelter to the tenant in the path
func handleCreateShelter(accessor *store.Accessor, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var req CreateShelterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		ctx := c.Request.Context()
		tenantID := c.Param("id")
		var tenant models.Tenant
		if err := accessor.Get(ctx, caller, store.Tenants, access.Scope{}, tenantID, &tenant); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if tenant.Status != models.StatusActive {
			utils.ErrorFromErr(c, apperrors.New(apperrors.KindConflict, "tenant %s is %s", tenantID, tenant.Status))
			return
		}

		shelter := models.Shelter{
			ID:       uuid.NewString(),
			TenantID: tenantID,
			Name:     req.Name,
			Address:  req.Address,
			Capacity: req.Capacity,
			Status:   models.StatusActive,
		}
		if err := accessor.Create(ctx, caller, store.Shelters, &shelter); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		log.WithFields(logrus.Fields{
			"tenant_id":  tenantID,
			"shelter_id": shelter.ID,
			"created_by": caller.ID,
		}).Info("Shelter created")
		utils.CreatedResponse(c, "Shelter created successfully", shelter)
	}
}

// handleUpdateShelter edits a shelter inside the caller's scope. The owning
// tenant never changes.
func handleUpdateShelter(accessor *store.Accessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var req UpdateShelterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		if req.Status != nil && !validStatus(*req.Status) {
			utils.BadRequestResponse(c, "Unknown status")
			return
		}
		if req.Capacity != nil && *req.Capacity < 0 {
			utils.BadRequestResponse(c, "Capacity cannot be negative")
			return
		}

		ctx := c.Request.Context()
		shelterID := c.Param("shelter_id")
		var shelter models.Shelter
		if err := accessor.Get(ctx, caller, store.Shelters, access.Scope{}, shelterID, &shelter); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if shelter.TenantID != c.Param("id") {
			utils.NotFoundResponse(c, "Shelter not found")
			return
		}

		if req.Name != nil {
			shelter.Name = *req.Name
		}
		if req.Address != nil {
			shelter.Address = *req.Address
		}
		if req.Capacity != nil {
			shelter.Capacity = *req.Capacity
		}
		if req.Status != nil {
			shelter.Status = *req.Status
		}
		if err := accessor.Save(ctx, caller, store.Shelters, shelterID, &shelter); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		utils.OKResponse(c, "Shelter updated successfully", shelter)
	}
}

func validStatus(s models.Status) bool {
	return s == models.StatusActive || s == models.StatusInactive || s == models.StatusDeleted
}
