package models

import "time"

// AssetStatus represents whether a listed asset accepts inquiries
type AssetStatus string

const (
	AssetStatusListed   AssetStatus = "listed"
	AssetStatusUnlisted AssetStatus = "unlisted"
	AssetStatusSold     AssetStatus = "sold"
)

// Asset is a listed domain owned by a seller
type Asset struct {
	ID        string      `json:"id" db:"id"`
	SellerID  string      `json:"seller_id" db:"seller_id"`
	Name      string      `json:"name" db:"name"`
	Status    AssetStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// FeatureFlag is a named capability with optional partial rollout
type FeatureFlag struct {
	ID                string   `json:"id" yaml:"id"`
	Description       string   `json:"description,omitempty" yaml:"description"`
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	RolloutPercentage int      `json:"rollout_percentage" yaml:"rollout_percentage"`
	AllowedUsers      []string `json:"allowed_users,omitempty" yaml:"allowed_users"`
	AllowedRoles      []string `json:"allowed_roles,omitempty" yaml:"allowed_roles"`
}

// IdempotencyRecord maps a caller-supplied key to the resource it created
type IdempotencyRecord struct {
	Scope       string    `json:"scope" db:"scope"`
	Key         string    `json:"key" db:"key"`
	ResourceID  string    `json:"resource_id" db:"resource_id"`
	RequestHash string    `json:"request_hash" db:"request_hash"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// SystemStats aggregates inquiry and message counts for observability
type SystemStats struct {
	TotalInquiries    int                   `json:"total_inquiries"`
	OpenInquiries     int                   `json:"open_inquiries"`
	InquiriesByStatus map[InquiryStatus]int `json:"inquiries_by_status"`
	TotalMessages     int                   `json:"total_messages"`
	FlaggedMessages   int                   `json:"flagged_messages"`
	DirectMessages    int                   `json:"direct_messages"`
	ModeratedMessages int                   `json:"moderated_messages"`
	PendingMessages   int                   `json:"pending_messages"`
	OpenReports       int                   `json:"open_reports"`
	TotalDeals        int                   `json:"total_deals"`
	GeneratedAt       time.Time             `json:"generated_at"`
}
