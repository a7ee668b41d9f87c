package messaging

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	apperrors "github.com/aimerfeng/DomainDesk/internal/errors"
	"github.com/aimerfeng/DomainDesk/internal/flags"
	"github.com/aimerfeng/DomainDesk/internal/inquiry"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/monitoring"
	"github.com/aimerfeng/DomainDesk/internal/store"
	"github.com/google/uuid"
)

// ThreadMessage is one entry of a thread as seen by a particular actor
type ThreadMessage struct {
	models.Message
	// Categories and Reasons explain a held or rejected message to its sender
	Categories []string `json:"categories,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Thread returns the messages of an inquiry ordered by seq. Participants see
// delivered messages plus their own held or rejected ones, without detector
// evidence or moderator notes. Admins see everything.
func (s *Service) Thread(ctx context.Context, inquiryID string, actor models.Actor) ([]ThreadMessage, error) {
	inq, err := s.store.GetInquiry(ctx, inquiryID)
	if err != nil {
		return nil, translate(err, "inquiry", inquiryID)
	}
	if !inquiry.CanView(inq, actor) {
		return nil, apperrors.Forbidden("actor may not view this thread")
	}

	messages, err := s.store.ListMessages(ctx, inquiryID)
	if err != nil {
		return nil, err
	}

	out := make([]ThreadMessage, 0, len(messages))
	for _, m := range messages {
		if actor.IsAdmin() {
			out = append(out, ThreadMessage{Message: *m, Categories: m.MatchCategories()})
			continue
		}
		if m.Status != models.MessageStatusDelivered && m.SenderID != actor.ID {
			continue
		}
		out = append(out, participantView(m, actor.ID))
	}
	return out, nil
}

func participantView(m *models.Message, viewerID string) ThreadMessage {
	view := ThreadMessage{Message: *m}
	view.DetectorMatches = nil
	view.Moderation = nil

	if m.SenderID != viewerID {
		return view
	}
	view.Categories = m.MatchCategories()
	switch m.Status {
	case models.MessageStatusPending:
		view.Reasons = reasons(m)
	case models.MessageStatusRejected:
		if m.Moderation != nil {
			view.Moderation = &models.MessageModeration{
				Decision:  m.Moderation.Decision,
				DecidedAt: m.Moderation.DecidedAt,
				Reason:    m.Moderation.Reason,
			}
		}
	}
	return view
}

// ReportRequest represents a participant reporting a delivered message
type ReportRequest struct {
	MessageID  string `json:"-"`
	ReporterID string `json:"-"`
	Reason     string `json:"reason"`
}

// Report opens a moderation report on a delivered message from the counterparty
func (s *Service) Report(ctx context.Context, req ReportRequest) (*models.MessageReport, error) {
	msg, err := s.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return nil, translate(err, "message", req.MessageID)
	}
	inq, err := s.store.GetInquiry(ctx, msg.InquiryID)
	if err != nil {
		return nil, translate(err, "inquiry", msg.InquiryID)
	}

	role := inq.ParticipantRole(req.ReporterID)
	if role == models.ParticipantNone || !inquiry.CanView(inq, models.Actor{ID: req.ReporterID, Role: models.RoleMember}) {
		return nil, apperrors.Forbidden("only participants may report messages")
	}
	if !s.flags.IsEnabledFor(ctx, flags.MessageFlagging, req.ReporterID, string(role)) {
		return nil, apperrors.Forbidden("message reporting is not available")
	}
	if msg.SenderID == req.ReporterID {
		return nil, apperrors.Forbidden("participants cannot report their own messages")
	}
	if msg.Status != models.MessageStatusDelivered {
		return nil, apperrors.InvalidState("message", msg.ID, string(msg.Status), "only delivered messages can be reported")
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, apperrors.Validation("a report reason is required", map[string]string{"reason": "required"})
	}
	if utf8.RuneCountInString(reason) > s.config.MaxNoteLength {
		return nil, apperrors.Validation("reason is too long", map[string]string{"reason": "too long"})
	}

	report := &models.MessageReport{
		ID:         uuid.New().String(),
		MessageID:  msg.ID,
		InquiryID:  msg.InquiryID,
		ReporterID: req.ReporterID,
		Reason:     reason,
		Status:     models.ReportStatusOpen,
		CreatedAt:  s.now(),
	}
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertReport(ctx, report); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperrors.Conflict("report", msg.ID, "message already reported")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordReport(string(models.ReportStatusOpen))
	s.logger.Warn().
		Str("report_id", report.ID).
		Str("message_id", msg.ID).
		Str("inquiry_id", msg.InquiryID).
		Str("reporter_id", req.ReporterID).
		Msg("Message reported")
	return report, nil
}

// ResolveReport closes an open report
func (s *Service) ResolveReport(ctx context.Context, reportID, reviewerID string) (*models.MessageReport, error) {
	var report *models.MessageReport
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		report, err = tx.LockReport(ctx, reportID)
		if err != nil {
			return translate(err, "report", reportID)
		}
		if report.Status != models.ReportStatusOpen {
			return apperrors.InvalidState("report", report.ID, string(report.Status), "report is already resolved")
		}
		now := s.now()
		report.Status = models.ReportStatusResolved
		report.ResolvedBy = &reviewerID
		report.ResolvedAt = &now
		return translate(tx.UpdateReport(ctx, report), "report", reportID)
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordReport(string(models.ReportStatusResolved))
	return report, nil
}
