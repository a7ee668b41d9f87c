// Package store defines persistence for inquiries, messages, deals and their
// audit trail. Implementations live in store/memory and store/postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a uniqueness guard rejects an insert
	ErrDuplicate = errors.New("store: duplicate")
	// ErrStale is returned when a conditional update finds a different status or version
	ErrStale = errors.New("store: stale write")
)

// InquiryFilter selects inquiries for listing. Empty fields do not filter.
type InquiryFilter struct {
	// ParticipantID matches the buyer, or the seller once the inquiry was forwarded
	ParticipantID string
	BuyerID       string
	SellerID      string
	ForwardedOnly bool
	Statuses      []models.InquiryStatus
}

// Reader is the read side shared by the store and its transactions
type Reader interface {
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	GetInquiry(ctx context.Context, id string) (*models.Inquiry, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetReport(ctx context.Context, id string) (*models.MessageReport, error)
	GetDealByInquiry(ctx context.Context, inquiryID string) (*models.Deal, error)
}

// Store is the top-level persistence handle
type Store interface {
	Reader

	// WithinTx runs fn in one transaction. A returned error rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	ListInquiries(ctx context.Context, filter InquiryFilter) ([]*models.Inquiry, error)
	ListInquiryEvents(ctx context.Context, inquiryID string) ([]*models.InquiryEvent, error)
	ListDecisions(ctx context.Context, inquiryID string) ([]*models.InquiryDecision, error)
	// ListMessages returns the thread ordered by seq
	ListMessages(ctx context.Context, inquiryID string) ([]*models.Message, error)
	// ListMessagesByStatus returns messages across inquiries, oldest first
	ListMessagesByStatus(ctx context.Context, status models.MessageStatus) ([]*models.Message, error)
	ListReports(ctx context.Context, status models.ReportStatus) ([]*models.MessageReport, error)
	Stats(ctx context.Context) (*models.SystemStats, error)

	UpsertAsset(ctx context.Context, asset *models.Asset) error
	Ping(ctx context.Context) error
}

// Tx is a unit of work. Lock* methods take a row lock held until commit.
type Tx interface {
	Reader

	LockInquiry(ctx context.Context, id string) (*models.Inquiry, error)
	// FindActiveInquiry returns the buyer's non-terminal inquiry on the asset
	FindActiveInquiry(ctx context.Context, buyerID, assetID string) (*models.Inquiry, error)
	InsertInquiry(ctx context.Context, inquiry *models.Inquiry) error
	// UpdateInquiry writes inquiry if the stored row still has the expected status
	// and version, then bumps inquiry.Version. Otherwise it returns ErrStale.
	UpdateInquiry(ctx context.Context, inquiry *models.Inquiry, expected models.InquiryStatus, expectedVersion int) error
	InsertDecision(ctx context.Context, decision *models.InquiryDecision) error
	InsertEvent(ctx context.Context, event *models.InquiryEvent) error

	// NextMessageSeq allocates the next thread position; the inquiry must be locked
	NextMessageSeq(ctx context.Context, inquiryID string) (int64, error)
	InsertMessage(ctx context.Context, message *models.Message) error
	LockMessage(ctx context.Context, id string) (*models.Message, error)
	// UpdateMessage writes message if its stored status is still expected
	UpdateMessage(ctx context.Context, message *models.Message, expected models.MessageStatus) error
	// RejectPendingMessages moves every PENDING message of the inquiry to REJECTED
	RejectPendingMessages(ctx context.Context, inquiryID string, moderation models.MessageModeration) ([]*models.Message, error)

	// InsertReport returns ErrDuplicate when the reporter already has an open report on the message
	InsertReport(ctx context.Context, report *models.MessageReport) error
	LockReport(ctx context.Context, id string) (*models.MessageReport, error)
	UpdateReport(ctx context.Context, report *models.MessageReport) error

	// InsertDeal returns ErrDuplicate when the inquiry already has a deal
	InsertDeal(ctx context.Context, deal *models.Deal) error

	GetIdempotency(ctx context.Context, scope, key string) (*models.IdempotencyRecord, error)
	// PutIdempotency inserts or replaces the record for (scope, key)
	PutIdempotency(ctx context.Context, record *models.IdempotencyRecord) error
}

// Clock returns the current UTC time. Stores and services share it so tests can pin time.
type Clock func() time.Time

// UTCNow is the default clock
func UTCNow() time.Time {
	return time.Now().UTC()
}
