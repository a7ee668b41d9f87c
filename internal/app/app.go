// Package app assembles the services from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/aimerfeng/DomainDesk/internal/cache"
	"github.com/aimerfeng/DomainDesk/internal/config"
	"github.com/aimerfeng/DomainDesk/internal/database"
	"github.com/aimerfeng/DomainDesk/internal/deal"
	"github.com/aimerfeng/DomainDesk/internal/detector"
	"github.com/aimerfeng/DomainDesk/internal/flags"
	"github.com/aimerfeng/DomainDesk/internal/inquiry"
	"github.com/aimerfeng/DomainDesk/internal/lock"
	"github.com/aimerfeng/DomainDesk/internal/logging"
	"github.com/aimerfeng/DomainDesk/internal/messaging"
	"github.com/aimerfeng/DomainDesk/internal/moderation"
	"github.com/aimerfeng/DomainDesk/internal/notify"
	"github.com/aimerfeng/DomainDesk/internal/server"
	"github.com/aimerfeng/DomainDesk/internal/store"
	"github.com/aimerfeng/DomainDesk/internal/store/memory"
	"github.com/aimerfeng/DomainDesk/internal/store/postgres"
	"github.com/aimerfeng/DomainDesk/migrations"
	"github.com/rs/zerolog/log"
)

// App holds every long-lived component of a running process
type App struct {
	Config     *config.Config
	Store      store.Store
	Cache      *cache.Redis
	Flags      *flags.Registry
	FlagFile   *flags.FileSource
	Inquiries  *inquiry.Service
	Messages   *messaging.Service
	Deals      *deal.Service
	Projection *moderation.Projection
	Refresher  *moderation.Refresher

	closers []func()
}

// OpenStore opens the configured store. The returned func releases it.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory store; data is lost on exit")
		return memory.New(), func() {}, nil
	case "postgres":
		if cfg.Database.AutoMigrate {
			if err := database.RunMigrations(cfg.Database.URL, migrations.FS, cfg.Database.MigrationsDir); err != nil {
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return postgres.New(db.Pool), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// OpenFlags returns the flag source: the definition file when configured,
// the environment defaults otherwise
func OpenFlags(cfg *config.Config) (flags.Source, *flags.FileSource, error) {
	if cfg.Flags.FilePath == "" {
		return flags.FromDefaults(cfg.Flags.Defaults), nil, nil
	}
	file, err := flags.NewFileSource(cfg.Flags.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load feature flags: %w", err)
	}
	return file, file, nil
}

// New wires the store, cache, notifier and services
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	st, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, closeStore)

	var notifier notify.Notifier = notify.NewLogNotifier(logging.NewLogger("notify"))
	var snapshots moderation.SnapshotWriter
	if cfg.Redis.Enabled {
		rc, err := cache.NewFromURL(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Cache = rc
		a.closers = append(a.closers, func() { _ = rc.Close() })
		snapshots = rc
		notifier = notify.Multi{
			notifier,
			notify.NewStreamNotifier(rc.Client, cfg.Notify.Stream, cfg.Notify.StreamMaxLen, notify.DefaultBreakerConfig()),
		}
	}

	source, file, err := OpenFlags(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Flags = flags.NewRegistry(source)
	a.FlagFile = file

	dispatcher := notify.NewDispatcher(notifier)
	locks := lock.NewKeyed()

	a.Inquiries = inquiry.NewService(st, a.Flags, dispatcher, locks, inquiry.Config{
		MaxFieldLength:    cfg.Moderation.MaxFieldLength,
		MaxMessageLength:  cfg.Moderation.MaxMessageLength,
		IdempotencyWindow: cfg.Moderation.SubmitIdempotencyWindow,
	})

	msgCfg := messaging.DefaultConfig()
	msgCfg.MaxMessageLength = cfg.Moderation.MaxMessageLength
	msgCfg.IdempotencyWindow = cfg.Moderation.MessageIdempotencyWindow
	a.Messages = messaging.NewService(st, a.Flags, detector.New(cfg.Moderation.AllowedDomains...), dispatcher, locks, msgCfg)

	a.Deals = deal.NewService(st, a.Flags, dispatcher, locks, deal.Config{
		SupportedCurrencies: cfg.Deal.SupportedCurrencies,
		MaxTextLength:       cfg.Deal.MaxTextLength,
	})

	a.Projection = moderation.NewProjection(st)
	a.Refresher = moderation.NewRefresher(a.Projection, snapshots, cfg.Moderation.QueueRefreshSchedule)
	return a, nil
}

// Services exposes the core to the HTTP layer
func (a *App) Services() server.Services {
	checks := map[string]server.HealthCheck{}
	if a.Cache != nil {
		checks["redis"] = a.Cache.Health
	}
	return server.Services{
		Store:        a.Store,
		Flags:        a.Flags,
		Inquiries:    a.Inquiries,
		Messages:     a.Messages,
		Deals:        a.Deals,
		Projection:   a.Projection,
		Refresher:    a.Refresher,
		HealthChecks: checks,
	}
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	if a.Refresher != nil {
		a.Refresher.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
