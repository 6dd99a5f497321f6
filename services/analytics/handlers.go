package main

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/analytics"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/metrics"
	"github.com/pavitra93/go-shelter-platform/shared/middleware"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

// allStatuses disables the status filter when passed as ?status=all
const allStatuses = "all"

func setupRouter(am *middleware.AuthMiddleware, svc *analytics.Service, inv *Invalidator, log logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Analytics service is healthy", nil)
	})
	router.GET("/metrics", telemetry.Handler())

	admins := am.RequireRole(models.RoleAdmin, models.RoleSuperAdmin, models.RolePlatformAdmin)
	group := router.Group("/analytics")
	group.Use(am.RequireAuth())
	{
		group.GET("/summary", handleGetSummary(svc))
		group.GET("/participants/:id", handleGetParticipantSummary(svc))
		group.GET("/smartfund", handleGetSmartFund())
		group.POST("/refresh", admins, handleRefresh(svc, log))
		group.GET("/events", admins, handleGetEventStatus(inv))
		group.PUT("/aliases", am.RequireSuper(), handlePutAlias(svc, log))
	}
	return router
}

// handleGetSummary aggregates donations in the requested scope
func handleGetSummary(svc *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		req, err := parseRequest(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		req.ParticipantID = c.Query("participant_id")

		result, err := svc.Summary(c.Request.Context(), caller, req)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Summary retrieved successfully", result)
	}
}

// handleGetParticipantSummary aggregates one participant's donations
func handleGetParticipantSummary(svc *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		req, err := parseRequest(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		req.ParticipantID = c.Param("id")

		result, err := svc.Summary(c.Request.Context(), caller, req)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Participant summary retrieved successfully", result)
	}
}

// handleGetSmartFund splits ?amount= into SmartFund buckets
func handleGetSmartFund() gin.HandlerFunc {
	return func(c *gin.Context) {
		amount, err := decimal.NewFromString(c.Query("amount"))
		if err != nil {
			utils.BadRequestResponse(c, "amount must be a decimal number")
			return
		}
		dist, err := metrics.SmartFund(amount)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "SmartFund distribution calculated", dist)
	}
}

// handleRefresh drops every cached summary
func handleRefresh(svc *analytics.Service, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if err := svc.Refresh(c.Request.Context()); err != nil {
			log.WithError(err).Error("Failed to refresh summary cache")
			utils.ErrorFromErr(c, apperrors.Wrap(err, apperrors.KindStorageUnavailable, "summary cache unavailable"))
			return
		}
		log.WithField("requested_by", caller.ID).Info("Summary cache refreshed")
		utils.OKResponse(c, "Summary cache refreshed", nil)
	}
}

// AliasRequest maps a historical participant or shelter id to its canonical id
type AliasRequest struct {
	Kind        models.AliasKind `json:"kind" binding:"required"`
	Alias       string           `json:"alias" binding:"required"`
	CanonicalID string           `json:"canonical_id" binding:"required"`
}

// handlePutAlias records an entity alias
func handlePutAlias(svc *analytics.Service, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		var req AliasRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		if err := svc.PutAlias(c.Request.Context(), caller, req.Kind, req.Alias, req.CanonicalID); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		log.WithFields(logrus.Fields{
			"kind":         req.Kind,
			"alias":        req.Alias,
			"canonical_id": req.CanonicalID,
			"requested_by": caller.ID,
		}).Info("Entity alias recorded")
		utils.OKResponse(c, "Alias recorded", req)
	}
}

// handleGetEventStatus reports donation event consumption
func handleGetEventStatus(inv *Invalidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		utils.OKResponse(c, "Event status retrieved successfully", inv.Status())
	}
}

// parseRequest reads scope, ?status= and the ?from=/?to= window. Without a
// status filter only completed donations are counted.
func parseRequest(c *gin.Context) (analytics.Request, error) {
	scope, err := middleware.ScopeFromQuery(c)
	if err != nil {
		return analytics.Request{}, err
	}
	req := analytics.Request{Scope: scope}

	switch raw := c.Query("status"); raw {
	case "":
		req.Statuses = []models.DonationStatus{models.DonationCompleted}
	case allStatuses:
	default:
		for _, s := range strings.Split(raw, ",") {
			status := models.DonationStatus(strings.TrimSpace(s))
			if !status.Valid() {
				return analytics.Request{}, apperrors.New(apperrors.KindInvalidInput, "unknown status %q", s)
			}
			req.Statuses = append(req.Statuses, status)
		}
	}

	if req.From, err = parseBound(c, "from"); err != nil {
		return analytics.Request{}, err
	}
	if req.To, err = parseBound(c, "to"); err != nil {
		return analytics.Request{}, err
	}
	if !req.From.IsZero() && !req.To.IsZero() && req.To.Before(req.From) {
		return analytics.Request{}, apperrors.New(apperrors.KindInvalidInput, "to is before from")
	}
	return req, nil
}

func parseBound(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.New(apperrors.KindInvalidInput, "%s must be RFC3339", name)
	}
	return t, nil
}
