package models

import "time"

// MessageStatus represents the delivery state of a message
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "PENDING"
	MessageStatusDelivered MessageStatus = "DELIVERED"
	MessageStatusRejected  MessageStatus = "REJECTED"
)

// DeliveryMode records which path a message took through moderation
type DeliveryMode string

const (
	DeliveryModeDirect    DeliveryMode = "direct"
	DeliveryModeModerated DeliveryMode = "moderated"
)

// ModerationDecision is the admin verdict on a held message
type ModerationDecision string

const (
	ModerationApproved ModerationDecision = "approved"
	ModerationRejected ModerationDecision = "rejected"
)

// RejectionReason is the public reason code shown to the sender of a rejected message
type RejectionReason string

const (
	RejectionContactInfo     RejectionReason = "contact_info"
	RejectionPolicyViolation RejectionReason = "policy_violation"
	RejectionSpam            RejectionReason = "spam"
	RejectionInquiryClosed   RejectionReason = "inquiry_closed"
	RejectionOther           RejectionReason = "other"
)

// Valid reports whether r is a known reason code
func (r RejectionReason) Valid() bool {
	switch r {
	case RejectionContactInfo, RejectionPolicyViolation, RejectionSpam, RejectionInquiryClosed, RejectionOther:
		return true
	}
	return false
}

// DetectorMatch is one piece of contact-information evidence found in a message
type DetectorMatch struct {
	Category string `json:"category"`
	Value    string `json:"value"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// MessageModeration is the admin decision attached to a previously held message
type MessageModeration struct {
	Decision   ModerationDecision `json:"decision"`
	ReviewerID string             `json:"reviewer_id"`
	DecidedAt  time.Time          `json:"decided_at"`
	Reason     RejectionReason    `json:"reason,omitempty"`
	// Note is internal to moderators and never shown to participants.
	Note string `json:"note,omitempty"`
}

// Message is one unit of communication inside an inquiry thread
type Message struct {
	ID              string             `json:"id" db:"id"`
	InquiryID       string             `json:"inquiry_id" db:"inquiry_id"`
	SenderID        string             `json:"sender_id" db:"sender_id"`
	SenderRole      ParticipantRole    `json:"sender_role" db:"sender_role"`
	Seq             int64              `json:"seq" db:"seq"`
	Content         string             `json:"content" db:"content"`
	Status          MessageStatus      `json:"status" db:"status"`
	DeliveryMode    DeliveryMode       `json:"delivery_mode" db:"delivery_mode"`
	Flagged         bool               `json:"flagged" db:"flagged"`
	DetectorMatches []DetectorMatch    `json:"detector_matches,omitempty" db:"detector_matches"`
	Moderation      *MessageModeration `json:"moderation,omitempty" db:"moderation"`
	SentAt          time.Time          `json:"sent_at" db:"sent_at"`
	DeliveredAt     *time.Time         `json:"delivered_at,omitempty" db:"delivered_at"`
}

// MatchCategories returns the distinct detector categories in match order
func (m *Message) MatchCategories() []string {
	seen := make(map[string]bool, len(m.DetectorMatches))
	var categories []string
	for _, match := range m.DetectorMatches {
		if !seen[match.Category] {
			seen[match.Category] = true
			categories = append(categories, match.Category)
		}
	}
	return categories
}

// ReportStatus represents the state of a participant report
type ReportStatus string

const (
	ReportStatusOpen     ReportStatus = "open"
	ReportStatusResolved ReportStatus = "resolved"
)

// MessageReport is a participant's request for admin review of a delivered message
type MessageReport struct {
	ID         string       `json:"id" db:"id"`
	MessageID  string       `json:"message_id" db:"message_id"`
	InquiryID  string       `json:"inquiry_id" db:"inquiry_id"`
	ReporterID string       `json:"reporter_id" db:"reporter_id"`
	Reason     string       `json:"reason" db:"reason"`
	Status     ReportStatus `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	ResolvedBy *string      `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty" db:"resolved_at"`
}
