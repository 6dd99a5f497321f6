package main

import (
	"strings"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/models"
)

// transitions lists the moves allowed without corrective action
var transitions = map[models.DonationStatus][]models.DonationStatus{
	models.DonationPending: {models.DonationCompleted, models.DonationFailed},
	models.DonationFailed:  {models.DonationPending},
}

// Correction marks a change to a completed donation
type Correction struct {
	Corrective bool   `json:"corrective"`
	Reason     string `json:"reason"`
}

// checkTransition decides whether d may move to next. Completed donations
// only change through an explicit correction by an administrator.
func checkTransition(caller *models.Identity, d *models.DonationRecord, next models.DonationStatus, corr Correction) error {
	if !next.Valid() {
		return apperrors.New(apperrors.KindInvalidInput, "unknown status %q", next)
	}
	if d.Status == next {
		return apperrors.New(apperrors.KindConflict, "donation %s is already %s", d.ID, next)
	}
	if d.IsFinal() {
		return checkCorrection(caller, d, corr)
	}
	for _, allowed := range transitions[d.Status] {
		if allowed == next {
			return nil
		}
	}
	return apperrors.New(apperrors.KindConflict, "donation %s cannot move from %s to %s", d.ID, d.Status, next)
}

// checkEdit decides whether the amount or donor of d may change
func checkEdit(caller *models.Identity, d *models.DonationRecord, corr Correction) error {
	if d.IsFinal() {
		return checkCorrection(caller, d, corr)
	}
	return nil
}

func checkCorrection(caller *models.Identity, d *models.DonationRecord, corr Correction) error {
	if !corr.Corrective {
		return apperrors.New(apperrors.KindConflict, "donation %s is completed and can only be corrected", d.ID)
	}
	if caller.Role != models.RoleAdmin && !access.IsSuper(caller.Role) {
		return apperrors.New(apperrors.KindForbidden, "only administrators may correct completed donations")
	}
	if strings.TrimSpace(corr.Reason) == "" {
		return apperrors.New(apperrors.KindInvalidInput, "a correction needs a reason")
	}
	return nil
}

// normalizeAmount validates an amount and fills the default currency
func normalizeAmount(a models.Amount) (models.Amount, error) {
	if a.Total.IsNegative() {
		return a, apperrors.New(apperrors.KindInvalidInput, "amount cannot be negative")
	}
	if !a.Total.Equal(a.Total.Round(2)) {
		return a, apperrors.New(apperrors.KindInvalidInput, "amount has more than two decimal places")
	}
	a.Total = a.Total.Round(2)
	a.Currency = strings.ToUpper(strings.TrimSpace(a.Currency))
	if a.Currency == "" {
		a.Currency = "USD"
	}
	if len(a.Currency) != 3 {
		return a, apperrors.New(apperrors.KindInvalidInput, "currency must be a three letter code")
	}
	return a, nil
}
