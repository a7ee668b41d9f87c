// Package flags resolves feature flags for a user and role from an injected
// source of definitions, with stable percentage rollout.
package flags

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/aimerfeng/DomainDesk/internal/logging"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/monitoring"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// Well-known flag ids
const (
	DirectMessaging       = "direct-messaging"
	ContactInfoDetection  = "contact-info-detection"
	InquiryDealConversion = "inquiry-deal-conversion"
	MessageFlagging       = "message-flagging"
	AutoApprove           = "auto-approve"
)

// WellKnown lists every flag the core consults
var WellKnown = []string{
	DirectMessaging,
	ContactInfoDetection,
	InquiryDealConversion,
	MessageFlagging,
	AutoApprove,
}

// Source supplies the current flag definitions. It is read on every evaluation.
type Source interface {
	Flags(ctx context.Context) ([]models.FeatureFlag, error)
}

// Registry resolves flags against a Source
type Registry struct {
	source Source
	logger zerolog.Logger
}

// NewRegistry creates a new flag registry
func NewRegistry(source Source) *Registry {
	return &Registry{
		source: source,
		logger: logging.NewLogger("flags"),
	}
}

// IsEnabled reports whether a flag is globally on
func (r *Registry) IsEnabled(ctx context.Context, flagID string) bool {
	return r.IsEnabledFor(ctx, flagID, "", "")
}

// IsEnabledFor resolves a flag for a user and role. With no user and no role it
// reports the global switch. Otherwise the flag must be enabled and the user must
// be allow-listed, hold an allowed role, or fall inside the rollout bucket.
// Source errors fail closed.
func (r *Registry) IsEnabledFor(ctx context.Context, flagID, userID, role string) bool {
	flag, err := r.lookup(ctx, flagID)
	if err != nil {
		if !errors.Is(err, errUnknownFlag) {
			r.logger.Error().Err(err).Str("flag", flagID).Msg("Flag source unavailable, failing closed")
			monitoring.RecordFlagError(flagID)
		}
		return false
	}
	return Evaluate(flag, userID, role)
}

// Snapshot returns the current definitions for diagnostics
func (r *Registry) Snapshot(ctx context.Context) ([]models.FeatureFlag, error) {
	return r.source.Flags(ctx)
}

var errUnknownFlag = errors.New("unknown flag")

func (r *Registry) lookup(ctx context.Context, flagID string) (models.FeatureFlag, error) {
	defs, err := r.source.Flags(ctx)
	if err != nil {
		return models.FeatureFlag{}, err
	}
	for _, f := range defs {
		if f.ID == flagID {
			return f, nil
		}
	}
	return models.FeatureFlag{}, errUnknownFlag
}

// Evaluate applies the resolution rules to one definition
func Evaluate(flag models.FeatureFlag, userID, role string) bool {
	if !flag.Enabled {
		return false
	}
	if userID == "" && role == "" {
		return true
	}
	for _, u := range flag.AllowedUsers {
		if userID != "" && u == userID {
			return true
		}
	}
	for _, allowed := range flag.AllowedRoles {
		if role != "" && allowed == role {
			return true
		}
	}
	if userID == "" {
		return false
	}
	return Bucket(flag.ID, userID) < flag.RolloutPercentage
}

// Bucket maps a user to a stable bucket in [0, 100) per flag
func Bucket(flagID, userID string) int {
	return int(xxhash.Sum64String(flagID+":"+userID) % 100)
}

// StaticSource serves an in-memory snapshot swapped atomically
type StaticSource struct {
	flags atomic.Pointer[[]models.FeatureFlag]
}

// NewStaticSource creates a source from fixed definitions
func NewStaticSource(defs ...models.FeatureFlag) *StaticSource {
	s := &StaticSource{}
	s.Replace(defs...)
	return s
}

// FromDefaults builds a source where each flag is on or off for everyone
func FromDefaults(defaults map[string]bool) *StaticSource {
	defs := make([]models.FeatureFlag, 0, len(WellKnown))
	for _, id := range WellKnown {
		defs = append(defs, models.FeatureFlag{
			ID:                id,
			Enabled:           defaults[id],
			RolloutPercentage: 100,
		})
	}
	return NewStaticSource(defs...)
}

// Flags implements Source
func (s *StaticSource) Flags(ctx context.Context) ([]models.FeatureFlag, error) {
	return *s.flags.Load(), nil
}

// Replace swaps the whole definition set
func (s *StaticSource) Replace(defs ...models.FeatureFlag) {
	snapshot := make([]models.FeatureFlag, len(defs))
	copy(snapshot, defs)
	s.flags.Store(&snapshot)
}

// Set enables or disables one flag for everyone, adding it when missing
func (s *StaticSource) Set(flagID string, enabled bool) {
	current := *s.flags.Load()
	next := make([]models.FeatureFlag, 0, len(current)+1)
	found := false
	for _, f := range current {
		if f.ID == flagID {
			f.Enabled = enabled
			found = true
		}
		next = append(next, f)
	}
	if !found {
		next = append(next, models.FeatureFlag{ID: flagID, Enabled: enabled, RolloutPercentage: 100})
	}
	s.flags.Store(&next)
}

// Describe renders a flag for CLI output
func Describe(f models.FeatureFlag) string {
	state := "off"
	if f.Enabled {
		state = "on (" + strconv.Itoa(f.RolloutPercentage) + "%)"
	}
	return f.ID + ": " + state
}
