package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/logging"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/monitoring"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// StatsKey is the cache key holding the last stats snapshot
const StatsKey = "moderation:stats"

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a 5-field cron expression or a descriptor such as "@every 1m"
func ParseSchedule(expr string) (cron.Schedule, error) {
	return scheduleParser.Parse(expr)
}

// SnapshotWriter stores the latest stats snapshot; cache.Redis satisfies it
type SnapshotWriter interface {
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// RefresherStatus reports the refresher's state
type RefresherStatus struct {
	Running   bool                `json:"running"`
	Schedule  string              `json:"schedule"`
	Runs      int                 `json:"runs"`
	LastRun   time.Time           `json:"last_run,omitempty"`
	LastError string              `json:"last_error,omitempty"`
	LastStats *models.SystemStats `json:"last_stats,omitempty"`
}

// Refresher periodically recomputes stats, publishes queue-depth gauges and
// caches the snapshot
type Refresher struct {
	projection *Projection
	snapshots  SnapshotWriter
	schedule   string
	ttl        time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	status  RefresherStatus
}

// NewRefresher creates a refresher. snapshots may be nil when no cache is configured.
func NewRefresher(projection *Projection, snapshots SnapshotWriter, schedule string) *Refresher {
	return &Refresher{
		projection: projection,
		snapshots:  snapshots,
		schedule:   schedule,
		ttl:        10 * time.Minute,
		logger:     logging.NewLogger("moderation-refresher"),
		status:     RefresherStatus{Schedule: schedule},
	}
}

// Start schedules periodic refreshes
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("refresher already running")
	}

	c := cron.New(cron.WithParser(scheduleParser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.RunNow(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Moderation refresh failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.schedule, err)
	}
	c.Start()

	r.cron = c
	r.running = true
	r.status.Running = true
	r.logger.Info().Str("schedule", r.schedule).Msg("Moderation refresher started")
	return nil
}

// Stop halts scheduling and waits for an in-flight refresh
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	c := r.cron
	r.running = false
	r.status.Running = false
	r.mu.Unlock()

	<-c.Stop().Done()
	r.logger.Info().Msg("Moderation refresher stopped")
}

// IsRunning reports whether the refresher is scheduled
func (r *Refresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RunNow performs one refresh immediately
func (r *Refresher) RunNow(ctx context.Context) (*models.SystemStats, error) {
	stats, err := r.refresh(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Runs++
	r.status.LastRun = time.Now().UTC()
	if err != nil {
		r.status.LastError = err.Error()
		return nil, err
	}
	r.status.LastError = ""
	r.status.LastStats = stats
	return stats, nil
}

// Status returns a copy of the refresher state
func (r *Refresher) Status() RefresherStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Refresher) refresh(ctx context.Context) (*models.SystemStats, error) {
	queue, err := r.projection.GetQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read moderation queue: %w", err)
	}
	for name, depth := range queue.Depths() {
		monitoring.SetQueueDepth(name, depth)
	}

	stats, err := r.projection.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	if r.snapshots != nil {
		// cache failures are not fatal
		if err := r.snapshots.SetJSON(ctx, StatsKey, stats, r.ttl); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to cache stats snapshot")
		}
	}

	r.logger.Debug().
		Int("pending_inquiries", len(queue.PendingInquiries)).
		Int("pending_messages", len(queue.PendingMessages)).
		Int("open_reports", len(queue.OpenReports)).
		Msg("Moderation projection refreshed")
	return stats, nil
}
