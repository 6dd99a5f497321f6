package main

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/events"
	"github.com/pavitra93/go-shelter-platform/shared/middleware"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/store"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

// publisher queues donation events
type publisher interface {
	Publish(event events.DonationEvent) error
}

// CreateDonationRequest represents a new donation
type CreateDonationRequest struct {
	ShelterID     string           `json:"shelter_id" binding:"required"`
	ParticipantID string           `json:"participant_id" binding:"required"`
	Amount        models.Amount    `json:"amount"`
	DonorInfo     models.DonorInfo `json:"donor_info"`
}

// StatusRequest moves a donation to another status
type StatusRequest struct {
	Status models.DonationStatus `json:"status" binding:"required"`
	Correction
}

// UpdateDonationRequest edits amount or donor details
type UpdateDonationRequest struct {
	Amount    *models.Amount    `json:"amount"`
	DonorInfo *models.DonorInfo `json:"donor_info"`
	Correction
}

type handler struct {
	accessor  *store.Accessor
	publisher publisher
	log       logrus.FieldLogger
}

func setupRouter(am *middleware.AuthMiddleware, accessor *store.Accessor, pub publisher, log logrus.FieldLogger) *gin.Engine {
	h := &handler{accessor: accessor, publisher: pub, log: log}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Donation service is healthy", nil)
	})
	router.GET("/metrics", telemetry.Handler())

	admins := am.RequireRole(models.RoleAdmin, models.RoleSuperAdmin, models.RolePlatformAdmin)
	donations := router.Group("/donations")
	donations.Use(am.RequireAuth())
	{
		donations.POST("", am.RequireRole(models.RoleAdmin, models.RoleSuperAdmin, models.RolePlatformAdmin, models.RoleDonor), h.handleCreateDonation())
		donations.GET("", h.handleGetDonations())
		donations.GET("/:id", h.handleGetDonation())
		donations.PUT("/:id", admins, h.handleUpdateDonation())
		donations.PATCH("/:id/status", admins, h.handleChangeStatus())
	}
	return router
}

// handleCreateDonation records a pending donation for a participant
func (h *handler) handleCreateDonation() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var req CreateDonationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		amount, err := normalizeAmount(req.Amount)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		ctx := c.Request.Context()
		tenantID, err := h.participantTenant(ctx, caller, req.ShelterID, req.ParticipantID)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		donation := models.DonationRecord{
			ID:            uuid.NewString(),
			TenantID:      tenantID,
			ShelterID:     req.ShelterID,
			ParticipantID: req.ParticipantID,
			Amount:        amount,
			DonorInfo:     req.DonorInfo,
			Status:        models.DonationPending,
		}
		if err := h.accessor.Create(ctx, caller, store.Donations, &donation); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		h.publish(events.TypeDonationCreated, &donation, caller)
		h.log.WithFields(logrus.Fields{
			"donation_id":    donation.ID,
			"shelter_id":     donation.ShelterID,
			"participant_id": donation.ParticipantID,
			"amount":         donation.Amount.Total.String(),
		}).Info("Donation recorded")
		utils.CreatedResponse(c, "Donation created successfully", donation)
	}
}

// participantTenant checks that the participant is registered at the
// shelter, inside the caller's scope, and returns the shelter's tenant
func (h *handler) participantTenant(ctx context.Context, caller *models.Identity, shelterID, participantID string) (string, error) {
	var participant models.User
	err := h.accessor.Get(ctx, caller, store.Users, access.ForShelter(shelterID), participantID, &participant)
	if errors.Is(err, apperrors.ErrNotFound) || (err == nil && participant.Role != models.RoleParticipant) {
		return "", apperrors.New(apperrors.KindInvalidInput, "participant %s is not registered at shelter %s", participantID, shelterID)
	}
	if err != nil {
		return "", err
	}
	return participant.TenantID, nil
}

// handleGetDonations lists donations in scope, filtered by ?status= and
// ?participant_id=
func (h *handler) handleGetDonations() gin.HandlerFunc {
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

		preds := []store.Predicate{store.OrderBy("created_at DESC")}
		if status := c.Query("status"); status != "" {
			preds = append(preds, store.Where("status = ?", status))
		}
		participantID := c.Query("participant_id")
		if caller.Role == models.RoleParticipant {
			participantID = caller.ID
		}
		if participantID != "" {
			preds = append(preds, store.Where("participant_id = ?", participantID))
		}

		var donations []models.DonationRecord
		if err := h.accessor.Query(c.Request.Context(), caller, store.Donations, scope, &donations, preds...); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		utils.OKResponse(c, "Donations retrieved successfully", donations)
	}
}

// handleGetDonation returns one donation in the caller's scope
func (h *handler) handleGetDonation() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var donation models.DonationRecord
		if err := h.accessor.Get(c.Request.Context(), caller, store.Donations, access.Scope{}, c.Param("id"), &donation); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if caller.Role == models.RoleParticipant && donation.ParticipantID != caller.ID {
			utils.NotFoundResponse(c, "Donation not found")
			return
		}
		utils.OKResponse(c, "Donation retrieved successfully", donation)
	}
}

// handleChangeStatus moves a donation through its lifecycle
func (h *handler) handleChangeStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var req StatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		ctx := c.Request.Context()
		id := c.Param("id")
		var donation models.DonationRecord
		if err := h.accessor.Get(ctx, caller, store.Donations, access.Scope{}, id, &donation); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		previous := donation.Status
		if err := checkTransition(caller, &donation, req.Status, req.Correction); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		donation.Status = req.Status
		if err := h.accessor.Save(ctx, caller, store.Donations, id, &donation); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		eventType := events.TypeForStatus(donation.Status)
		if previous == models.DonationCompleted {
			eventType = events.TypeDonationCorrected
		}
		h.publish(eventType, &donation, caller)
		h.log.WithFields(logrus.Fields{
			"donation_id": id,
			"from":        previous,
			"to":          donation.Status,
			"changed_by":  caller.ID,
			"reason":      req.Reason,
		}).Info("Donation status changed")
		utils.OKResponse(c, "Donation status updated", donation)
	}
}

// handleUpdateDonation edits the amount or donor details
func (h *handler) handleUpdateDonation() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		var req UpdateDonationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		ctx := c.Request.Context()
		id := c.Param("id")
		var donation models.DonationRecord
		if err := h.accessor.Get(ctx, caller, store.Donations, access.Scope{}, id, &donation); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if err := checkEdit(caller, &donation, req.Correction); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		if req.Amount != nil {
			amount, err := normalizeAmount(*req.Amount)
			if err != nil {
				utils.ErrorFromErr(c, err)
				return
			}
			donation.Amount = amount
		}
		if req.DonorInfo != nil {
			donation.DonorInfo = *req.DonorInfo
		}
		if err := h.accessor.Save(ctx, caller, store.Donations, id, &donation); err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		if donation.IsFinal() {
			h.publish(events.TypeDonationCorrected, &donation, caller)
			h.log.WithFields(logrus.Fields{
				"donation_id":  id,
				"corrected_by": caller.ID,
				"reason":       req.Reason,
			}).Warn("Completed donation corrected")
		}
		utils.OKResponse(c, "Donation updated successfully", donation)
	}
}

// publish queues an event; a dropped event only delays cache refresh
func (h *handler) publish(eventType string, d *models.DonationRecord, caller *models.Identity) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(events.NewDonationEvent(eventType, d, caller.ID)); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"donation_id": d.ID,
			"event_type":  eventType,
		}).Warn("Donation event not published")
	}
}
