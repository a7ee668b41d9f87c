// Package moderation projects inquiry and message state into the admin
// moderation queue and system statistics.
package moderation

import (
	"context"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Queue is the admin work list at one point in time
type Queue struct {
	PendingInquiries []*models.Inquiry       `json:"pending_inquiries"`
	PendingMessages  []*models.Message       `json:"pending_messages"`
	OpenReports      []*models.MessageReport `json:"open_reports"`
	GeneratedAt      time.Time               `json:"generated_at"`
}

// Depths returns the size of each queue keyed by name
func (q *Queue) Depths() map[string]int {
	return map[string]int{
		"inquiries": len(q.PendingInquiries),
		"messages":  len(q.PendingMessages),
		"reports":   len(q.OpenReports),
	}
}

// Projection reads the queue straight from the store so it never lags a commit
type Projection struct {
	store store.Store
	now   store.Clock
	group singleflight.Group
}

// NewProjection creates a projection over st
func NewProjection(st store.Store) *Projection {
	return &Projection{store: st, now: store.UTCNow}
}

// GetQueue returns inquiries awaiting review (including legacy OPEN ones),
// held messages and open reports, each oldest first
func (p *Projection) GetQueue(ctx context.Context) (*Queue, error) {
	q := &Queue{GeneratedAt: p.now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		inquiries, err := p.store.ListInquiries(gctx, store.InquiryFilter{
			Statuses: []models.InquiryStatus{models.InquiryStatusPendingReview, models.InquiryStatusOpen},
		})
		q.PendingInquiries = inquiries
		return err
	})
	g.Go(func() error {
		messages, err := p.store.ListMessagesByStatus(gctx, models.MessageStatusPending)
		q.PendingMessages = messages
		return err
	})
	g.Go(func() error {
		reports, err := p.store.ListReports(gctx, models.ReportStatusOpen)
		q.OpenReports = reports
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if q.PendingInquiries == nil {
		q.PendingInquiries = []*models.Inquiry{}
	}
	if q.PendingMessages == nil {
		q.PendingMessages = []*models.Message{}
	}
	if q.OpenReports == nil {
		q.OpenReports = []*models.MessageReport{}
	}
	return q, nil
}

// Stats returns system-wide counts. Concurrent callers share one store read;
// the shared read is detached from any single caller's cancellation and each
// caller stops waiting when its own context ends.
func (p *Projection) Stats(ctx context.Context) (*models.SystemStats, error) {
	detached := context.WithoutCancel(ctx)
	ch := p.group.DoChan("stats", func() (interface{}, error) {
		stats, err := p.store.Stats(detached)
		if err != nil {
			return nil, err
		}
		stats.GeneratedAt = p.now()
		return stats, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	// callers get their own copy of the shared result
	shared := res.Val.(*models.SystemStats)
	out := *shared
	out.InquiriesByStatus = make(map[models.InquiryStatus]int, len(shared.InquiriesByStatus))
	for k, n := range shared.InquiriesByStatus {
		out.InquiriesByStatus[k] = n
	}
	return &out, nil
}
