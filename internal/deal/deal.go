// Package deal converts a forwarded inquiry into a binding deal negotiation.
package deal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

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
	"github.com/shopspring/decimal"
)

// Config holds the conversion limits
type Config struct {
	SupportedCurrencies []string
	MaxTextLength       int
}

// DefaultConfig returns the limits used when none are configured
func DefaultConfig() Config {
	return Config{
		SupportedCurrencies: []string{"USD", "EUR", "GBP"},
		MaxTextLength:       5000,
	}
}

// Service performs deal conversion
type Service struct {
	store    store.Store
	flags    *flags.Registry
	notifier *notify.Dispatcher
	locks    *lock.Keyed
	config   Config
	now      store.Clock
}

// NewService creates a new deal service
func NewService(st store.Store, registry *flags.Registry, notifier *notify.Dispatcher, locks *lock.Keyed, config Config) *Service {
	return &Service{
		store:    st,
		flags:    registry,
		notifier: notifier,
		locks:    locks,
		config:   config,
		now:      store.UTCNow,
	}
}

// WithClock replaces the time source
func (s *Service) WithClock(clock store.Clock) *Service {
	s.now = clock
	return s
}

// ConvertRequest represents the agreed terms
type ConvertRequest struct {
	InquiryID           string               `json:"-"`
	AgreedPrice         decimal.Decimal      `json:"agreed_price"`
	Currency            string               `json:"currency"`
	PaymentMethod       models.PaymentMethod `json:"payment_method"`
	PaymentInstructions string               `json:"payment_instructions,omitempty"`
	Timeline            string               `json:"timeline,omitempty"`
	Terms               string               `json:"terms,omitempty"`
	Actor               models.Actor         `json:"-"`
}

// Convert creates the inquiry's deal and completes the inquiry in one
// transaction. A second conversion of the same inquiry is a conflict.
func (s *Service) Convert(ctx context.Context, req ConvertRequest) (*models.Deal, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := s.validate(req); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, inquiry.LockKey(req.InquiryID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		deal     *models.Deal
		inq      *models.Inquiry
		event    *models.InquiryEvent
		rejected []*models.Message
	)
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		inq, err = tx.LockInquiry(ctx, req.InquiryID)
		if err != nil {
			return translate(err, req.InquiryID)
		}
		if err := s.authorize(ctx, inq, req.Actor); err != nil {
			return err
		}
		if _, err := tx.GetDealByInquiry(ctx, inq.ID); err == nil {
			return apperrors.Conflict("deal", inq.ID, "deal already exists")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if inq.Status != models.InquiryStatusForwarded {
			return apperrors.InvalidState("inquiry", inq.ID, string(inq.Status), "inquiry not forwarded")
		}

		now := s.now()
		deal = &models.Deal{
			ID:                  uuid.New().String(),
			InquiryID:           inq.ID,
			AgreedPrice:         req.AgreedPrice,
			Currency:            req.Currency,
			PaymentMethod:       req.PaymentMethod,
			PaymentInstructions: strings.TrimSpace(req.PaymentInstructions),
			Timeline:            strings.TrimSpace(req.Timeline),
			Terms:               strings.TrimSpace(req.Terms),
			Status:              models.DealStatusAgreed,
			CreatedBy:           req.Actor.ID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := tx.InsertDeal(ctx, deal); err != nil {
			return translate(err, inq.ID)
		}

		inq.CompletionReason = models.CompletionReasonDeal
		inq.ClosedAt = &now
		event, err = inquiry.Transition(ctx, tx, inq, models.InquiryStatusCompleted, req.Actor.ID, "deal created", now)
		if err != nil {
			return err
		}
		rejected, err = tx.RejectPendingMessages(ctx, inq.ID, models.MessageModeration{
			Decision:   models.ModerationRejected,
			ReviewerID: models.SystemActorID,
			DecidedAt:  now,
			Reason:     models.RejectionInquiryClosed,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	inquiry.RecordTransitions([]*models.InquiryEvent{event})
	logging.LogDealCreated(inq.ID, deal.ID, req.Actor.ID, deal.AgreedPrice.StringFixed(2), deal.Currency)
	actorKind := "participant"
	if req.Actor.IsAdmin() {
		actorKind = "admin"
	}
	monitoring.RecordDealCreated(deal.Currency, actorKind)
	s.notifier.NotifyDealCreated(ctx, deal, inq)
	for _, msg := range rejected {
		monitoring.RecordModerationDecision(string(models.ModerationRejected))
		s.notifier.NotifyMessageRejected(ctx, msg)
	}
	return deal, nil
}

// GetByInquiry returns the inquiry's deal to its participants and admins
func (s *Service) GetByInquiry(ctx context.Context, inquiryID string, actor models.Actor) (*models.Deal, error) {
	inq, err := s.store.GetInquiry(ctx, inquiryID)
	if err != nil {
		return nil, translate(err, inquiryID)
	}
	if !inquiry.CanView(inq, actor) {
		return nil, apperrors.Forbidden("actor may not view this deal")
	}
	deal, err := s.store.GetDealByInquiry(ctx, inquiryID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("deal", inquiryID)
		}
		return nil, err
	}
	return deal, nil
}

// authorize admits admins and, when conversion is enabled for them, the participants
func (s *Service) authorize(ctx context.Context, inq *models.Inquiry, actor models.Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	role := inq.ParticipantRole(actor.ID)
	if role == models.ParticipantNone || (role == models.ParticipantSeller && !inq.VisibleToSeller()) {
		return apperrors.Forbidden("only participants and admins may convert an inquiry")
	}
	if !s.flags.IsEnabledFor(ctx, flags.InquiryDealConversion, actor.ID, string(role)) {
		return apperrors.Forbidden("deal conversion is not available")
	}
	return nil
}

func (s *Service) validate(req ConvertRequest) error {
	problems := map[string]string{}
	if !req.AgreedPrice.IsPositive() {
		problems["agreed_price"] = "must be greater than zero"
	} else if !req.AgreedPrice.Equal(req.AgreedPrice.Round(2)) {
		problems["agreed_price"] = "at most two decimal places"
	}
	if !s.supported(req.Currency) {
		problems["currency"] = "unsupported currency"
	}
	if !req.PaymentMethod.Valid() {
		problems["payment_method"] = "unknown payment method"
	}
	for field, value := range map[string]string{
		"payment_instructions": req.PaymentInstructions,
		"timeline":             req.Timeline,
		"terms":                req.Terms,
	} {
		if utf8.RuneCountInString(value) > s.config.MaxTextLength {
			problems[field] = fmt.Sprintf("must be at most %d characters", s.config.MaxTextLength)
		}
	}
	if len(problems) > 0 {
		return apperrors.Validation("invalid deal terms", problems)
	}
	return nil
}

func (s *Service) supported(currency string) bool {
	for _, c := range s.config.SupportedCurrencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

func translate(err error, inquiryID string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound("inquiry", inquiryID)
	case errors.Is(err, store.ErrDuplicate):
		return apperrors.Conflict("deal", inquiryID, "deal already exists")
	case errors.Is(err, store.ErrStale):
		return apperrors.Conflict("inquiry", inquiryID, "inquiry was modified concurrently")
	default:
		return err
	}
}
