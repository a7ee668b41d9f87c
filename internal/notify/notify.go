// Package notify publishes domain events to participants. Delivery transport is
// pluggable; failures never propagate to the operation that caused the event.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind identifies the notification type
type Kind string

const (
	KindInquiryForwarded Kind = "inquiry.forwarded"
	KindInquiryDecision  Kind = "inquiry.decision"
	KindNewMessage       Kind = "message.new"
	KindMessageRejected  Kind = "message.rejected"
	KindDealCreated      Kind = "deal.created"
)

// Event is one notification for one recipient
type Event struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	RecipientID string            `json:"recipient_id"`
	InquiryID   string            `json:"inquiry_id"`
	SubjectID   string            `json:"subject_id,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Notifier delivers events
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// LogNotifier writes events to the structured log
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Publish implements Notifier
func (n *LogNotifier) Publish(ctx context.Context, event Event) error {
	n.logger.Info().
		Str("event_id", event.ID).
		Str("kind", string(event.Kind)).
		Str("recipient_id", event.RecipientID).
		Str("inquiry_id", event.InquiryID).
		Str("subject_id", event.SubjectID).
		Msg("Notification")
	return nil
}

// Multi fans an event out to several notifiers and joins their errors
type Multi []Notifier

// Publish implements Notifier
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error // returned from every Publish when set
}

// Publish implements Notifier
func (r *Recorder) Publish(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByKind returns the published events of one kind
func (r *Recorder) ByKind(kind Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
