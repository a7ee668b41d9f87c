package inquiry

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/aimerfeng/DomainDesk/internal/errors"
	"github.com/aimerfeng/DomainDesk/internal/logging"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/monitoring"
	"github.com/aimerfeng/DomainDesk/internal/store"
	"github.com/google/uuid"
)

// transitions lists every allowed status change. COMPLETED is reachable from
// every non-terminal status (manual close); deal completion additionally
// requires FORWARDED, which the deal service checks itself.
var transitions = map[models.InquiryStatus][]models.InquiryStatus{
	models.InquiryStatusOpen:             {models.InquiryStatusCompleted},
	models.InquiryStatusPendingReview:    {models.InquiryStatusApproved, models.InquiryStatusRejected, models.InquiryStatusChangesRequested, models.InquiryStatusCompleted},
	models.InquiryStatusApproved:         {models.InquiryStatusForwarded, models.InquiryStatusCompleted},
	models.InquiryStatusChangesRequested: {models.InquiryStatusPendingReview, models.InquiryStatusCompleted},
	models.InquiryStatusForwarded:        {models.InquiryStatusCompleted},
}

// CanTransition reports whether from -> to is an allowed inquiry status change
func CanTransition(from, to models.InquiryStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves inq to status `to` inside tx. The write is conditional on the
// status and version inq was read with; the appended timeline event is returned
// so callers can record it once the transaction commits.
func Transition(ctx context.Context, tx store.Tx, inq *models.Inquiry, to models.InquiryStatus, actorID, reason string, now time.Time) (*models.InquiryEvent, error) {
	from := inq.Status
	if !CanTransition(from, to) {
		return nil, apperrors.InvalidState("inquiry", inq.ID, string(from),
			fmt.Sprintf("inquiry cannot move from %s to %s", from, to))
	}

	version := inq.Version
	inq.Status = to
	inq.UpdatedAt = now
	if err := tx.UpdateInquiry(ctx, inq, from, version); err != nil {
		inq.Status = from
		return nil, translate(err, inq.ID)
	}

	event := &models.InquiryEvent{
		ID:         uuid.New().String(),
		InquiryID:  inq.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actorID,
		Reason:     reason,
		CreatedAt:  now,
	}
	if err := tx.InsertEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to append inquiry event: %w", err)
	}
	return event, nil
}

// RecordTransitions logs and counts committed transitions
func RecordTransitions(events []*models.InquiryEvent) {
	for _, e := range events {
		logging.LogTransition(&logging.TransitionLogEntry{
			InquiryID: e.InquiryID,
			From:      string(e.FromStatus),
			To:        string(e.ToStatus),
			ActorID:   e.ActorID,
			Reason:    e.Reason,
		})
		monitoring.RecordInquiryTransition(string(e.FromStatus), string(e.ToStatus))
	}
}

// LockKey is the keyed-lock name shared by every service mutating an inquiry
func LockKey(inquiryID string) string {
	return "inquiry:" + inquiryID
}

func translate(err error, inquiryID string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound("inquiry", inquiryID)
	case errors.Is(err, store.ErrStale):
		return apperrors.Conflict("inquiry", inquiryID, "inquiry was modified concurrently")
	case errors.Is(err, store.ErrDuplicate):
		return apperrors.Conflict("inquiry", inquiryID, "buyer already has an active inquiry on this asset")
	default:
		return err
	}
}
