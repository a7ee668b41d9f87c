// Package inquiry implements the inquiry lifecycle from submission through
// admin review and forwarding to closure.
package inquiry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/aimerfeng/DomainDesk/internal/errors"
	"github.com/aimerfeng/DomainDesk/internal/flags"
	"github.com/aimerfeng/DomainDesk/internal/lock"
	"github.com/aimerfeng/DomainDesk/internal/logging"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/monitoring"
	"github.com/aimerfeng/DomainDesk/internal/notify"
	"github.com/aimerfeng/DomainDesk/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the inquiry service limits
type Config struct {
	MaxFieldLength    int
	MaxMessageLength  int
	IdempotencyWindow time.Duration
}

// DefaultConfig returns the limits used when none are configured
func DefaultConfig() Config {
	return Config{
		MaxFieldLength:    2000,
		MaxMessageLength:  5000,
		IdempotencyWindow: 24 * time.Hour,
	}
}

// Service drives the inquiry state machine
type Service struct {
	store    store.Store
	flags    *flags.Registry
	notifier *notify.Dispatcher
	locks    *lock.Keyed
	config   Config
	now      store.Clock
	logger   zerolog.Logger
}

// NewService creates a new inquiry service. locks must be shared with every
// other service that mutates inquiries.
func NewService(st store.Store, registry *flags.Registry, notifier *notify.Dispatcher, locks *lock.Keyed, config Config) *Service {
	return &Service{
		store:    st,
		flags:    registry,
		notifier: notifier,
		locks:    locks,
		config:   config,
		now:      store.UTCNow,
		logger:   logging.NewLogger("inquiry"),
	}
}

// WithClock replaces the time source
func (s *Service) WithClock(clock store.Clock) *Service {
	s.now = clock
	return s
}

// SubmitRequest represents a buyer's new inquiry
type SubmitRequest struct {
	BuyerID        string `json:"-"`
	AssetID        string `json:"asset_id"`
	BudgetRange    string `json:"budget_range"`
	IntendedUse    string `json:"intended_use"`
	Timeline       string `json:"timeline,omitempty"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"-"`
}

func (r *SubmitRequest) details() models.InquiryDetails {
	return models.InquiryDetails{
		BudgetRange: r.BudgetRange,
		IntendedUse: r.IntendedUse,
		Timeline:    r.Timeline,
		Message:     r.Message,
	}
}

func (r *SubmitRequest) hash() string {
	h := sha256.New()
	for _, part := range []string{r.AssetID, r.BudgetRange, r.IntendedUse, r.Timeline, r.Message} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Submit creates an inquiry in PENDING_REVIEW, or forwards it straight to the
// seller when auto-approve is on for them. Replays of the same idempotency key
// return the original inquiry.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Inquiry, error) {
	req.AssetID = strings.TrimSpace(req.AssetID)
	if req.BuyerID == "" {
		return nil, apperrors.Validation("buyer is required", nil)
	}
	if req.AssetID == "" {
		return nil, apperrors.Validation("asset_id is required", map[string]string{"asset_id": "required"})
	}
	if err := s.validateDetails(req.details()); err != nil {
		return nil, err
	}

	asset, err := s.store.GetAsset(ctx, req.AssetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("asset", req.AssetID)
		}
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}
	if asset.Status != models.AssetStatusListed {
		return nil, apperrors.Validation("asset is not accepting inquiries", map[string]string{"asset_id": string(asset.Status)})
	}
	if asset.SellerID == req.BuyerID {
		return nil, apperrors.Validation("buyers cannot inquire on their own asset", nil)
	}

	autoApprove := s.flags.IsEnabledFor(ctx, flags.AutoApprove, asset.SellerID, string(models.ParticipantSeller))

	unlock, err := s.locks.Lock(ctx, "inquiry.submit:"+req.BuyerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result   *models.Inquiry
		replayed bool
		events   []*models.InquiryEvent
	)
	scope := "inquiry.submit:" + req.BuyerID
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		now := s.now()
		if req.IdempotencyKey != "" {
			existing, err := s.replay(ctx, tx, scope, req.IdempotencyKey, req.hash(), now)
			if err != nil {
				return err
			}
			if existing != nil {
				result, replayed = existing, true
				return nil
			}
		}

		if active, err := tx.FindActiveInquiry(ctx, req.BuyerID, asset.ID); err == nil {
			return apperrors.Conflict("inquiry", active.ID, "buyer already has an active inquiry on this asset")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		inq := &models.Inquiry{
			ID:          uuid.New().String(),
			BuyerID:     req.BuyerID,
			SellerID:    asset.SellerID,
			AssetID:     asset.ID,
			BudgetRange: strings.TrimSpace(req.BudgetRange),
			IntendedUse: strings.TrimSpace(req.IntendedUse),
			Timeline:    strings.TrimSpace(req.Timeline),
			Message:     strings.TrimSpace(req.Message),
			Status:      models.InquiryStatusPendingReview,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertInquiry(ctx, inq); err != nil {
			return translate(err, inq.ID)
		}
		created := &models.InquiryEvent{
			ID:        uuid.New().String(),
			InquiryID: inq.ID,
			ToStatus:  models.InquiryStatusPendingReview,
			ActorID:   req.BuyerID,
			Reason:    "submitted",
			CreatedAt: now,
		}
		if err := tx.InsertEvent(ctx, created); err != nil {
			return err
		}
		events = append(events, created)

		if autoApprove {
			forwarded, err := s.approve(ctx, tx, inq, models.SystemActorID, "auto-approved", now)
			if err != nil {
				return err
			}
			events = append(events, forwarded...)
		}

		if req.IdempotencyKey != "" {
			if err := tx.PutIdempotency(ctx, &models.IdempotencyRecord{
				Scope:       scope,
				Key:         req.IdempotencyKey,
				ResourceID:  inq.ID,
				RequestHash: req.hash(),
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}
		result = inq
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		s.logger.Debug().Str("inquiry_id", result.ID).Msg("Submit replayed")
		return result, nil
	}

	RecordTransitions(events)
	if result.Status == models.InquiryStatusForwarded {
		monitoring.RecordInquirySubmitted("auto")
		s.notifier.NotifyForwarded(ctx, result)
	} else {
		monitoring.RecordInquirySubmitted("review")
	}
	return result, nil
}

// replay returns the inquiry recorded for key, nil when the key is new or expired
func (s *Service) replay(ctx context.Context, tx store.Tx, scope, key, hash string, now time.Time) (*models.Inquiry, error) {
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
		return nil, apperrors.Conflict("inquiry", record.ResourceID, "idempotency key reused with a different request")
	}
	inq, err := tx.GetInquiry(ctx, record.ResourceID)
	if err != nil {
		return nil, translate(err, record.ResourceID)
	}
	return inq, nil
}

// approve moves a reviewed inquiry through APPROVED to FORWARDED and records the decision
func (s *Service) approve(ctx context.Context, tx store.Tx, inq *models.Inquiry, reviewerID, note string, now time.Time) ([]*models.InquiryEvent, error) {
	if err := tx.InsertDecision(ctx, &models.InquiryDecision{
		ID:         uuid.New().String(),
		InquiryID:  inq.ID,
		Decision:   models.DecisionApprove,
		ReviewerID: reviewerID,
		Note:       note,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}
	approved, err := Transition(ctx, tx, inq, models.InquiryStatusApproved, reviewerID, note, now)
	if err != nil {
		return nil, err
	}
	inq.ForwardedAt = &now
	forwarded, err := Transition(ctx, tx, inq, models.InquiryStatusForwarded, reviewerID, "forwarded to seller", now)
	if err != nil {
		return nil, err
	}
	return []*models.InquiryEvent{approved, forwarded}, nil
}

// DecideRequest represents an admin verdict
type DecideRequest struct {
	InquiryID  string          `json:"-"`
	Decision   models.Decision `json:"decision"`
	ReviewerID string          `json:"-"`
	Note       string          `json:"note,omitempty"`
}

// Decide applies an admin verdict to an inquiry in PENDING_REVIEW. Any other
// status is rejected without touching the inquiry.
func (s *Service) Decide(ctx context.Context, req DecideRequest) (*models.Inquiry, error) {
	req.Note = strings.TrimSpace(req.Note)
	switch req.Decision {
	case models.DecisionApprove, models.DecisionReject:
	case models.DecisionRequestChanges:
		if req.Note == "" {
			return nil, apperrors.Validation("a note is required when requesting changes", map[string]string{"note": "required"})
		}
	default:
		return nil, apperrors.Validation("unknown decision", map[string]string{"decision": string(req.Decision)})
	}
	if req.ReviewerID == "" {
		return nil, apperrors.Validation("reviewer is required", nil)
	}
	if utf8.RuneCountInString(req.Note) > s.config.MaxFieldLength {
		return nil, apperrors.Validation("note is too long", map[string]string{"note": "too long"})
	}

	unlock, err := s.locks.Lock(ctx, LockKey(req.InquiryID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result *models.Inquiry
		events []*models.InquiryEvent
	)
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		inq, err := tx.LockInquiry(ctx, req.InquiryID)
		if err != nil {
			return translate(err, req.InquiryID)
		}
		if inq.Status != models.InquiryStatusPendingReview {
			return apperrors.InvalidState("inquiry", inq.ID, string(inq.Status), "inquiry is not awaiting review")
		}

		now := s.now()
		switch req.Decision {
		case models.DecisionApprove:
			events, err = s.approve(ctx, tx, inq, req.ReviewerID, req.Note, now)
			if err != nil {
				return err
			}
		case models.DecisionReject, models.DecisionRequestChanges:
			if err := tx.InsertDecision(ctx, &models.InquiryDecision{
				ID:         uuid.New().String(),
				InquiryID:  inq.ID,
				Decision:   req.Decision,
				ReviewerID: req.ReviewerID,
				Note:       req.Note,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			to := models.InquiryStatusRejected
			if req.Decision == models.DecisionRequestChanges {
				to = models.InquiryStatusChangesRequested
			}
			if req.Note != "" {
				inq.ReviewNote = req.Note
			}
			event, err := Transition(ctx, tx, inq, to, req.ReviewerID, req.Note, now)
			if err != nil {
				return err
			}
			events = append(events, event)
		}
		result = inq
		return nil
	})
	if err != nil {
		return nil, err
	}

	RecordTransitions(events)
	if result.Status == models.InquiryStatusForwarded {
		s.notifier.NotifyForwarded(ctx, result)
	} else {
		s.notifier.NotifyInquiryDecision(ctx, result, req.Decision)
	}
	return result, nil
}

// ResubmitRequest represents a buyer's revision after CHANGES_REQUESTED
type ResubmitRequest struct {
	InquiryID   string `json:"-"`
	BuyerID     string `json:"-"`
	BudgetRange string `json:"budget_range"`
	IntendedUse string `json:"intended_use"`
	Timeline    string `json:"timeline,omitempty"`
	Message     string `json:"message"`
}

// Resubmit replaces the inquiry details and returns it to PENDING_REVIEW
func (s *Service) Resubmit(ctx context.Context, req ResubmitRequest) (*models.Inquiry, error) {
	details := models.InquiryDetails{
		BudgetRange: req.BudgetRange,
		IntendedUse: req.IntendedUse,
		Timeline:    req.Timeline,
		Message:     req.Message,
	}
	if err := s.validateDetails(details); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, LockKey(req.InquiryID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result *models.Inquiry
		event  *models.InquiryEvent
	)
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		inq, err := tx.LockInquiry(ctx, req.InquiryID)
		if err != nil {
			return translate(err, req.InquiryID)
		}
		if inq.BuyerID != req.BuyerID {
			return apperrors.Forbidden("only the buyer may resubmit an inquiry")
		}
		if inq.Status != models.InquiryStatusChangesRequested {
			return apperrors.InvalidState("inquiry", inq.ID, string(inq.Status), "inquiry has no outstanding change request")
		}

		inq.BudgetRange = strings.TrimSpace(details.BudgetRange)
		inq.IntendedUse = strings.TrimSpace(details.IntendedUse)
		inq.Timeline = strings.TrimSpace(details.Timeline)
		inq.Message = strings.TrimSpace(details.Message)
		event, err = Transition(ctx, tx, inq, models.InquiryStatusPendingReview, req.BuyerID, "resubmitted", s.now())
		if err != nil {
			return err
		}
		result = inq
		return nil
	})
	if err != nil {
		return nil, err
	}

	RecordTransitions([]*models.InquiryEvent{event})
	return result, nil
}

// CloseRequest represents a manual closure
type CloseRequest struct {
	InquiryID string       `json:"-"`
	Actor     models.Actor `json:"-"`
	Reason    string       `json:"reason"`
}

// Close completes a non-terminal inquiry without a deal. Messages still held
// for review are rejected with reason inquiry_closed.
func (s *Service) Close(ctx context.Context, req CloseRequest) (*models.Inquiry, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return nil, apperrors.Validation("a closure reason is required", map[string]string{"reason": "required"})
	}
	if utf8.RuneCountInString(req.Reason) > s.config.MaxFieldLength {
		return nil, apperrors.Validation("reason is too long", map[string]string{"reason": "too long"})
	}

	unlock, err := s.locks.Lock(ctx, LockKey(req.InquiryID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result   *models.Inquiry
		event    *models.InquiryEvent
		rejected []*models.Message
	)
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		inq, err := tx.LockInquiry(ctx, req.InquiryID)
		if err != nil {
			return translate(err, req.InquiryID)
		}
		if !canClose(inq, req.Actor) {
			return apperrors.Forbidden("actor may not close this inquiry")
		}
		if inq.Status.IsTerminal() {
			return apperrors.InvalidState("inquiry", inq.ID, string(inq.Status), "inquiry is already closed")
		}

		now := s.now()
		inq.CompletionReason = models.CompletionReasonClosed
		inq.ClosureReason = req.Reason
		inq.ClosedAt = &now
		event, err = Transition(ctx, tx, inq, models.InquiryStatusCompleted, req.Actor.ID, req.Reason, now)
		if err != nil {
			return err
		}
		rejected, err = tx.RejectPendingMessages(ctx, inq.ID, models.MessageModeration{
			Decision:   models.ModerationRejected,
			ReviewerID: models.SystemActorID,
			DecidedAt:  now,
			Reason:     models.RejectionInquiryClosed,
		})
		if err != nil {
			return err
		}
		result = inq
		return nil
	})
	if err != nil {
		return nil, err
	}

	RecordTransitions([]*models.InquiryEvent{event})
	for _, msg := range rejected {
		monitoring.RecordModerationDecision(string(models.ModerationRejected))
		s.notifier.NotifyMessageRejected(ctx, msg)
	}
	return result, nil
}

func canClose(inq *models.Inquiry, actor models.Actor) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.ID == inq.BuyerID:
		return true
	case actor.ID == inq.SellerID:
		return inq.VisibleToSeller()
	default:
		return false
	}
}

// Get returns an inquiry to an actor entitled to see it
func (s *Service) Get(ctx context.Context, id string, actor models.Actor) (*models.Inquiry, error) {
	inq, err := s.store.GetInquiry(ctx, id)
	if err != nil {
		return nil, translate(err, id)
	}
	if !CanView(inq, actor) {
		return nil, apperrors.Forbidden("actor may not view this inquiry")
	}
	return inq, nil
}

// CanView reports whether actor may see inq. Sellers see an inquiry only once
// it has been forwarded to them.
func CanView(inq *models.Inquiry, actor models.Actor) bool {
	if actor.IsAdmin() || actor.ID == inq.BuyerID {
		return true
	}
	return actor.ID == inq.SellerID && inq.VisibleToSeller()
}

// ListForActor returns the inquiries the actor participates in. Admins see all.
func (s *Service) ListForActor(ctx context.Context, actor models.Actor) ([]*models.Inquiry, error) {
	filter := store.InquiryFilter{}
	if !actor.IsAdmin() {
		filter.ParticipantID = actor.ID
	}
	return s.store.ListInquiries(ctx, filter)
}

// History returns the inquiry timeline to admins and the buyer
func (s *Service) History(ctx context.Context, id string, actor models.Actor) ([]*models.InquiryEvent, error) {
	inq, err := s.store.GetInquiry(ctx, id)
	if err != nil {
		return nil, translate(err, id)
	}
	if !actor.IsAdmin() && actor.ID != inq.BuyerID {
		return nil, apperrors.Forbidden("only the buyer and admins may view the inquiry history")
	}
	return s.store.ListInquiryEvents(ctx, id)
}

// Decisions returns the review verdicts recorded for an inquiry
func (s *Service) Decisions(ctx context.Context, id string) ([]*models.InquiryDecision, error) {
	if _, err := s.store.GetInquiry(ctx, id); err != nil {
		return nil, translate(err, id)
	}
	return s.store.ListDecisions(ctx, id)
}

func (s *Service) validateDetails(d models.InquiryDetails) error {
	problems := map[string]string{}
	required := map[string]string{
		"budget_range": d.BudgetRange,
		"intended_use": d.IntendedUse,
		"message":      d.Message,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			problems[field] = "required"
		}
	}
	limits := map[string]struct {
		value string
		max   int
	}{
		"budget_range": {d.BudgetRange, s.config.MaxFieldLength},
		"intended_use": {d.IntendedUse, s.config.MaxFieldLength},
		"timeline":     {d.Timeline, s.config.MaxFieldLength},
		"message":      {d.Message, s.config.MaxMessageLength},
	}
	for field, l := range limits {
		if utf8.RuneCountInString(strings.TrimSpace(l.value)) > l.max {
			problems[field] = fmt.Sprintf("must be at most %d characters", l.max)
		}
	}
	if len(problems) > 0 {
		return apperrors.Validation("invalid inquiry details", problems)
	}
	return nil
}
