package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/config"
	"github.com/aimerfeng/DomainDesk/internal/flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		App:   config.AppConfig{Name: "domaindesk", Env: "test"},
		Store: config.StoreConfig{Driver: "memory"},
		Flags: config.FlagsConfig{Defaults: map[string]bool{flags.DirectMessaging: true}},
		Moderation: config.ModerationConfig{
			AllowedDomains:           []string{"domaindesk.example"},
			MaxMessageLength:         5000,
			MaxFieldLength:           2000,
			SubmitIdempotencyWindow:  24 * time.Hour,
			MessageIdempotencyWindow: 10 * time.Minute,
			QueueRefreshSchedule:     "@every 1m",
		},
		Deal: config.DealConfig{SupportedCurrencies: []string{"USD"}, MaxTextLength: 5000},
	}
}

func TestNew_MemoryStore(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Cache)
	assert.Nil(t, a.FlagFile)
	assert.True(t, a.Flags.IsEnabled(ctx, flags.DirectMessaging))
	assert.False(t, a.Flags.IsEnabled(ctx, flags.AutoApprove))
	require.NoError(t, a.Store.Ping(ctx))

	svc := a.Services()
	assert.Empty(t, svc.HealthChecks)
	assert.NotNil(t, svc.Refresher)

	_, err = a.Refresher.RunNow(ctx)
	assert.NoError(t, err, "refresher runs without a cache")
}

func TestNew_FlagFileTakesPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flags:\n  - id: auto-approve\n    enabled: true\n"), 0o644))

	cfg := testConfig()
	cfg.Flags.FilePath = path
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.FlagFile)
	assert.True(t, a.Flags.IsEnabled(context.Background(), flags.AutoApprove))
	assert.False(t, a.Flags.IsEnabled(context.Background(), flags.DirectMessaging), "file replaces env defaults")
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = "sqlite"
	_, _, err := OpenStore(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_MissingFlagFile(t *testing.T) {
	cfg := testConfig()
	cfg.Flags.FilePath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
