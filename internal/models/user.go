package models

// Role represents the platform role carried by an authenticated actor
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// ParticipantRole is the side an actor takes within a single inquiry
type ParticipantRole string

const (
	ParticipantBuyer  ParticipantRole = "buyer"
	ParticipantSeller ParticipantRole = "seller"
	ParticipantNone   ParticipantRole = ""
)

// SystemActorID is recorded as the reviewer of automatic decisions
const SystemActorID = "SYSTEM"

// Actor is the authenticated caller of an operation, supplied by the identity layer
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the actor may act as a moderator
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}
