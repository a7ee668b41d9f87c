// Package messaging routes messages between the buyer and seller of a
// forwarded inquiry, either directly or through admin moderation.
package messaging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aimerfeng/DomainDesk/internal/detector"
	apperrors "github.com/aimerfeng/DomainDesk/internal/errors"
	"github.com/aimerfeng/DomainDesk/internal/flags"
	"github.com/aimerfeng/DomainDesk/internal/inquiry"
	"github.com/aimerfeng/DomainDesk/internal/lock"
	"github.com/aimerfeng/DomainDesk/internal/logging"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/monitoring"
	"github.com/aimerfeng/DomainDesk/internal/notify"
	"github.com/aimerfeng/DomainDesk/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReviewNotice is shown for messages held only because direct messaging is off
const ReviewNotice = "messages are reviewed by a moderator before delivery"

// Config holds the messaging limits
type Config struct {
	MaxMessageLength  int
	MaxNoteLength     int
	IdempotencyWindow time.Duration
}

// DefaultConfig returns the limits used when none are configured
func DefaultConfig() Config {
	return Config{
		MaxMessageLength:  5000,
		MaxNoteLength:     2000,
		IdempotencyWindow: 10 * time.Minute,
	}
}

// Service is the message moderation pipeline
type Service struct {
	store    store.Store
	flags    *flags.Registry
	detector *detector.Detector
	notifier *notify.Dispatcher
	locks    *lock.Keyed
	config   Config
	now      store.Clock
	logger   zerolog.Logger
}

// NewService creates a new messaging service
func NewService(st store.Store, registry *flags.Registry, det *detector.Detector, notifier *notify.Dispatcher, locks *lock.Keyed, config Config) *Service {
	return &Service{
		store:    st,
		flags:    registry,
		detector: det,
		notifier: notifier,
		locks:    locks,
		config:   config,
		now:      store.UTCNow,
		logger:   logging.NewLogger("messaging"),
	}
}

// WithClock replaces the time source
func (s *Service) WithClock(clock store.Clock) *Service {
	s.now = clock
	return s
}

// SendRequest represents a participant's message
type SendRequest struct {
	InquiryID      string `json:"-"`
	SenderID       string `json:"-"`
	Content        string `json:"content"`
	IdempotencyKey string `json:"-"`
}

// SendResult reports where a message went. Reasons explains a hold to the sender.
type SendResult struct {
	Message  *models.Message `json:"message"`
	Held     bool            `json:"held"`
	Reasons  []string        `json:"reasons,omitempty"`
	Replayed bool            `json:"replayed,omitempty"`
}

// routing is the outcome of the delivery decision table
type routing struct {
	status  models.MessageStatus
	mode    models.DeliveryMode
	flagged bool
}

// route decides delivery from the two flags and the detector verdict
func route(directMessaging, detection bool, verdict detector.Result) routing {
	flagged := detection && verdict.Flagged
	if directMessaging && !flagged {
		return routing{status: models.MessageStatusDelivered, mode: models.DeliveryModeDirect}
	}
	return routing{status: models.MessageStatusPending, mode: models.DeliveryModeModerated, flagged: flagged}
}

// Send accepts a message into a forwarded inquiry and either delivers it or
// holds it for review
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	inq, err := s.store.GetInquiry(ctx, req.InquiryID)
	if err != nil {
		return nil, translate(err, "inquiry", req.InquiryID)
	}
	role := inq.ParticipantRole(req.SenderID)
	if role == models.ParticipantNone {
		return nil, apperrors.Forbidden("only the buyer and seller may message in this inquiry")
	}
	if inq.Status != models.InquiryStatusForwarded {
		return nil, apperrors.Forbidden("inquiry is not open for messaging")
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, apperrors.Validation("message content is required", map[string]string{"content": "required"})
	}
	if utf8.RuneCountInString(content) > s.config.MaxMessageLength {
		return nil, apperrors.Validation("message is too long",
			map[string]string{"content": fmt.Sprintf("must be at most %d characters", s.config.MaxMessageLength)})
	}

	det := s.detector
	if asset, err := s.store.GetAsset(ctx, inq.AssetID); err == nil {
		det = det.WithAllowed(asset.Name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}
	verdict := det.Detect(content)

	directMessaging := s.flags.IsEnabledFor(ctx, flags.DirectMessaging, req.SenderID, string(role))
	detection := s.flags.IsEnabledFor(ctx, flags.ContactInfoDetection, req.SenderID, string(role))
	r := route(directMessaging, detection, verdict)

	unlock, err := s.locks.Lock(ctx, inquiry.LockKey(inq.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	scope := "message.send:" + inq.ID + ":" + req.SenderID
	hash := hashContent(content)
	var (
		msg      *models.Message
		replayed bool
	)
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		now := s.now()
		if req.IdempotencyKey != "" {
			existing, err := s.replay(ctx, tx, scope, req.IdempotencyKey, hash, now)
			if err != nil {
				return err
			}
			if existing != nil {
				msg, replayed = existing, true
				return nil
			}
		}

		locked, err := tx.LockInquiry(ctx, inq.ID)
		if err != nil {
			return translate(err, "inquiry", inq.ID)
		}
		if locked.Status != models.InquiryStatusForwarded {
			return apperrors.Forbidden("inquiry is not open for messaging")
		}

		seq, err := tx.NextMessageSeq(ctx, inq.ID)
		if err != nil {
			return err
		}
		msg = &models.Message{
			ID:           uuid.New().String(),
			InquiryID:    inq.ID,
			SenderID:     req.SenderID,
			SenderRole:   role,
			Seq:          seq,
			Content:      content,
			Status:       r.status,
			DeliveryMode: r.mode,
			Flagged:      r.flagged,
			SentAt:       now,
		}
		if r.flagged {
			msg.DetectorMatches = toModelMatches(verdict.Matches)
		}
		if r.status == models.MessageStatusDelivered {
			msg.DeliveredAt = &now
		}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			return tx.PutIdempotency(ctx, &models.IdempotencyRecord{
				Scope:       scope,
				Key:         req.IdempotencyKey,
				ResourceID:  msg.ID,
				RequestHash: hash,
				CreatedAt:   now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &SendResult{
		Message:  msg,
		Held:     msg.Status == models.MessageStatusPending,
		Reasons:  reasons(msg),
		Replayed: replayed,
	}
	if replayed {
		return result, nil
	}

	categories := msg.MatchCategories()
	logging.LogModeration(msg.InquiryID, msg.ID, string(msg.Status), string(msg.DeliveryMode), categories)
	monitoring.RecordMessage(string(msg.DeliveryMode), string(msg.Status))
	monitoring.RecordFlaggedCategories(categories)
	if msg.Status == models.MessageStatusDelivered {
		s.notifier.NotifyNewMessage(ctx, msg, inq.CounterpartyOf(msg.SenderID))
	}
	return result, nil
}

func (s *Service) replay(ctx context.Context, tx store.Tx, scope, key, hash string, now time.Time) (*models.Message, error) {
	record, err := tx.GetIdempotency(ctx, scope, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if now.Sub(record.CreatedAt) > s.config.IdempotencyWindow {
		return nil, nil
	}
	if record.RequestHash != hash {
		return nil, apperrors.Conflict("message", record.ResourceID, "idempotency key reused with a different message")
	}
	msg, err := tx.GetMessage(ctx, record.ResourceID)
	if err != nil {
		return nil, translate(err, "message", record.ResourceID)
	}
	return msg, nil
}

// Approve delivers a held message. The inquiry must still be forwarded.
func (s *Service) Approve(ctx context.Context, messageID, reviewerID string) (*models.Message, error) {
	pending, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, translate(err, "message", messageID)
	}

	unlock, err := s.locks.Lock(ctx, inquiry.LockKey(pending.InquiryID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		msg *models.Message
		inq *models.Inquiry
	)
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		msg, err = tx.LockMessage(ctx, messageID)
		if err != nil {
			return translate(err, "message", messageID)
		}
		if msg.Status != models.MessageStatusPending {
			return apperrors.InvalidState("message", msg.ID, string(msg.Status), "message is not awaiting review")
		}
		inq, err = tx.LockInquiry(ctx, msg.InquiryID)
		if err != nil {
			return translate(err, "inquiry", msg.InquiryID)
		}
		if inq.Status != models.InquiryStatusForwarded {
			return apperrors.InvalidState("inquiry", inq.ID, string(inq.Status), "inquiry is no longer open for messaging")
		}

		now := s.now()
		msg.Status = models.MessageStatusDelivered
		msg.DeliveredAt = &now
		msg.Moderation = &models.MessageModeration{
			Decision:   models.ModerationApproved,
			ReviewerID: reviewerID,
			DecidedAt:  now,
		}
		return translate(tx.UpdateMessage(ctx, msg, models.MessageStatusPending), "message", msg.ID)
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordModerationDecision(string(models.ModerationApproved))
	logging.LogModeration(msg.InquiryID, msg.ID, string(msg.Status), string(msg.DeliveryMode), msg.MatchCategories())
	s.notifier.NotifyNewMessage(ctx, msg, inq.CounterpartyOf(msg.SenderID))
	return msg, nil
}

// RejectRequest represents an admin rejection of a held message
type RejectRequest struct {
	MessageID  string                 `json:"-"`
	ReviewerID string                 `json:"-"`
	ReasonCode models.RejectionReason `json:"reason_code"`
	Note       string                 `json:"note,omitempty"`
}

// Reject permanently refuses a held message. The note stays internal.
func (s *Service) Reject(ctx context.Context, req RejectRequest) (*models.Message, error) {
	if !req.ReasonCode.Valid() {
		return nil, apperrors.Validation("unknown rejection reason", map[string]string{"reason_code": string(req.ReasonCode)})
	}
	req.Note = strings.TrimSpace(req.Note)
	if utf8.RuneCountInString(req.Note) > s.config.MaxNoteLength {
		return nil, apperrors.Validation("note is too long", map[string]string{"note": "too long"})
	}

	pending, err := s.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return nil, translate(err, "message", req.MessageID)
	}

	unlock, err := s.locks.Lock(ctx, inquiry.LockKey(pending.InquiryID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var msg *models.Message
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		msg, err = tx.LockMessage(ctx, req.MessageID)
		if err != nil {
			return translate(err, "message", req.MessageID)
		}
		if msg.Status != models.MessageStatusPending {
			return apperrors.InvalidState("message", msg.ID, string(msg.Status), "message is not awaiting review")
		}
		msg.Status = models.MessageStatusRejected
		msg.Moderation = &models.MessageModeration{
			Decision:   models.ModerationRejected,
			ReviewerID: req.ReviewerID,
			DecidedAt:  s.now(),
			Reason:     req.ReasonCode,
			Note:       req.Note,
		}
		return translate(tx.UpdateMessage(ctx, msg, models.MessageStatusPending), "message", msg.ID)
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordModerationDecision(string(models.ModerationRejected))
	logging.LogModeration(msg.InquiryID, msg.ID, string(msg.Status), string(msg.DeliveryMode), msg.MatchCategories())
	s.notifier.NotifyMessageRejected(ctx, msg)
	return msg, nil
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func toModelMatches(matches []detector.Match) []models.DetectorMatch {
	out := make([]models.DetectorMatch, len(matches))
	for i, m := range matches {
		out[i] = models.DetectorMatch{
			Category: string(m.Category),
			Value:    m.Value,
			Start:    m.Start,
			End:      m.End,
		}
	}
	return out
}

// reasons explains a held message to its sender
func reasons(msg *models.Message) []string {
	if msg.Status != models.MessageStatusPending {
		return nil
	}
	if !msg.Flagged {
		return []string{ReviewNotice}
	}
	categories := msg.MatchCategories()
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		out = append(out, detector.Describe(detector.Category(c)))
	}
	return out
}

func translate(err error, entity, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound(entity, id)
	case errors.Is(err, store.ErrStale):
		return apperrors.Conflict(entity, id, entity+" was modified concurrently")
	case errors.Is(err, store.ErrDuplicate):
		return apperrors.Conflict(entity, id, entity+" already exists")
	default:
		return err
	}
}
