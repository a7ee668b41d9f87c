package models

import "time"

// InquiryStatus represents the lifecycle state of an inquiry
type InquiryStatus string

const (
	// InquiryStatusOpen is a legacy initial status. It is never written, only read.
	InquiryStatusOpen             InquiryStatus = "OPEN"
	InquiryStatusPendingReview    InquiryStatus = "PENDING_REVIEW"
	InquiryStatusApproved         InquiryStatus = "APPROVED"
	InquiryStatusRejected         InquiryStatus = "REJECTED"
	InquiryStatusChangesRequested InquiryStatus = "CHANGES_REQUESTED"
	InquiryStatusForwarded        InquiryStatus = "FORWARDED"
	InquiryStatusCompleted        InquiryStatus = "COMPLETED"
)

// AllInquiryStatuses lists every status in lifecycle order
var AllInquiryStatuses = []InquiryStatus{
	InquiryStatusOpen,
	InquiryStatusPendingReview,
	InquiryStatusApproved,
	InquiryStatusRejected,
	InquiryStatusChangesRequested,
	InquiryStatusForwarded,
	InquiryStatusCompleted,
}

// IsTerminal reports whether no further transition may leave the status
func (s InquiryStatus) IsTerminal() bool {
	return s == InquiryStatusRejected || s == InquiryStatusCompleted
}

// AwaitingReview reports whether the inquiry sits in the admin queue
func (s InquiryStatus) AwaitingReview() bool {
	return s == InquiryStatusPendingReview || s == InquiryStatusOpen
}

// Valid reports whether s is a known status
func (s InquiryStatus) Valid() bool {
	for _, known := range AllInquiryStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// CompletionReason distinguishes deal-driven completion from manual closure
type CompletionReason string

const (
	CompletionReasonDeal   CompletionReason = "deal"
	CompletionReasonClosed CompletionReason = "closed"
)

// Inquiry represents one buyer's interest in one listed asset
type Inquiry struct {
	ID               string           `json:"id" db:"id"`
	BuyerID          string           `json:"buyer_id" db:"buyer_id"`
	SellerID         string           `json:"seller_id" db:"seller_id"`
	AssetID          string           `json:"asset_id" db:"asset_id"`
	BudgetRange      string           `json:"budget_range" db:"budget_range"`
	IntendedUse      string           `json:"intended_use" db:"intended_use"`
	Timeline         string           `json:"timeline,omitempty" db:"timeline"`
	Message          string           `json:"message" db:"message"`
	Status           InquiryStatus    `json:"status" db:"status"`
	CompletionReason CompletionReason `json:"completion_reason,omitempty" db:"completion_reason"`
	ClosureReason    string           `json:"closure_reason,omitempty" db:"closure_reason"`
	ReviewNote       string           `json:"review_note,omitempty" db:"review_note"`
	Version          int              `json:"version" db:"version"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
	ForwardedAt      *time.Time       `json:"forwarded_at,omitempty" db:"forwarded_at"`
	ClosedAt         *time.Time       `json:"closed_at,omitempty" db:"closed_at"`
}

// ParticipantRole returns the side userID takes in the inquiry
func (i *Inquiry) ParticipantRole(userID string) ParticipantRole {
	switch userID {
	case i.BuyerID:
		return ParticipantBuyer
	case i.SellerID:
		return ParticipantSeller
	default:
		return ParticipantNone
	}
}

// CounterpartyOf returns the other participant's id
func (i *Inquiry) CounterpartyOf(userID string) string {
	if userID == i.BuyerID {
		return i.SellerID
	}
	return i.BuyerID
}

// VisibleToSeller reports whether the seller has been shown the inquiry
func (i *Inquiry) VisibleToSeller() bool {
	return i.ForwardedAt != nil
}

// InquiryDetails groups the buyer-editable fields of an inquiry
type InquiryDetails struct {
	BudgetRange string `json:"budget_range"`
	IntendedUse string `json:"intended_use"`
	Timeline    string `json:"timeline,omitempty"`
	Message     string `json:"message"`
}

// Decision represents an admin verdict on an inquiry under review
type Decision string

const (
	DecisionApprove        Decision = "APPROVE"
	DecisionReject         Decision = "REJECT"
	DecisionRequestChanges Decision = "REQUEST_CHANGES"
)

// InquiryDecision is the audit record of a review verdict
type InquiryDecision struct {
	ID         string    `json:"id" db:"id"`
	InquiryID  string    `json:"inquiry_id" db:"inquiry_id"`
	Decision   Decision  `json:"decision" db:"decision"`
	ReviewerID string    `json:"reviewer_id" db:"reviewer_id"`
	Note       string    `json:"note,omitempty" db:"note"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// InquiryEvent is an immutable timeline entry for one status change
type InquiryEvent struct {
	ID         string        `json:"id" db:"id"`
	InquiryID  string        `json:"inquiry_id" db:"inquiry_id"`
	FromStatus InquiryStatus `json:"from_status,omitempty" db:"from_status"`
	ToStatus   InquiryStatus `json:"to_status" db:"to_status"`
	ActorID    string        `json:"actor_id" db:"actor_id"`
	Reason     string        `json:"reason,omitempty" db:"reason"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}
