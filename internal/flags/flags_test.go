package flags

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type failingSource struct{}

func (failingSource) Flags(ctx context.Context) ([]models.FeatureFlag, error) {
	return nil, errors.New("config backend down")
}

func TestRegistry_UnknownAndDisabled(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(NewStaticSource(
		models.FeatureFlag{ID: DirectMessaging, Enabled: false, RolloutPercentage: 100, AllowedUsers: []string{"u1"}},
	))

	assert.False(t, r.IsEnabled(ctx, "does-not-exist"))
	assert.False(t, r.IsEnabled(ctx, DirectMessaging))
	assert.False(t, r.IsEnabledFor(ctx, DirectMessaging, "u1", ""), "allow-list is ignored while disabled")
}

func TestRegistry_GlobalAndTargeted(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(NewStaticSource(models.FeatureFlag{
		ID:                InquiryDealConversion,
		Enabled:           true,
		RolloutPercentage: 0,
		AllowedUsers:      []string{"vip"},
		AllowedRoles:      []string{"seller"},
	}))

	assert.True(t, r.IsEnabled(ctx, InquiryDealConversion))
	assert.True(t, r.IsEnabledFor(ctx, InquiryDealConversion, "vip", "buyer"))
	assert.True(t, r.IsEnabledFor(ctx, InquiryDealConversion, "someone", "seller"))
	assert.False(t, r.IsEnabledFor(ctx, InquiryDealConversion, "someone", "buyer"))
}

func TestRegistry_SourceErrorFailsClosed(t *testing.T) {
	r := NewRegistry(failingSource{})

	assert.False(t, r.IsEnabled(context.Background(), DirectMessaging))
	assert.False(t, r.IsEnabledFor(context.Background(), DirectMessaging, "u1", "buyer"))
}

func TestStaticSource_Set(t *testing.T) {
	ctx := context.Background()
	src := FromDefaults(map[string]bool{DirectMessaging: true})
	r := NewRegistry(src)

	assert.True(t, r.IsEnabled(ctx, DirectMessaging))
	assert.False(t, r.IsEnabled(ctx, AutoApprove))

	src.Set(AutoApprove, true)
	src.Set(DirectMessaging, false)
	src.Set("brand-new", true)

	assert.True(t, r.IsEnabled(ctx, AutoApprove))
	assert.False(t, r.IsEnabled(ctx, DirectMessaging))
	assert.True(t, r.IsEnabledFor(ctx, "brand-new", "anyone", "buyer"))
}

func TestParse_DefaultsAndValidation(t *testing.T) {
	defs, err := Parse([]byte(`
flags:
  - id: direct-messaging
    enabled: true
  - id: auto-approve
    enabled: true
    rollout_percentage: 0
    allowed_users: [seller-1]
`))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, 100, defs[0].RolloutPercentage, "omitted rollout defaults to full")
	assert.Equal(t, 0, defs[1].RolloutPercentage)
	assert.Equal(t, []string{"seller-1"}, defs[1].AllowedUsers)

	_, err = Parse([]byte("flags:\n  - id: x\n    rollout_percentage: 150\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("flags:\n  - id: x\n  - id: x\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("flags: [unterminated"))
	assert.Error(t, err)
}

func TestFileSource_ReloadKeepsLastGood(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flags.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flags:\n  - id: direct-messaging\n    enabled: true\n"), 0o600))

	src, err := NewFileSource(path)
	require.NoError(t, err)
	r := NewRegistry(src)
	assert.True(t, r.IsEnabled(ctx, DirectMessaging))

	require.NoError(t, os.WriteFile(path, []byte("flags:\n  - id: direct-messaging\n    enabled: false\n"), 0o600))
	require.NoError(t, src.Reload())
	assert.False(t, r.IsEnabled(ctx, DirectMessaging))

	require.NoError(t, os.WriteFile(path, []byte("flags: [broken"), 0o600))
	assert.Error(t, src.Reload())
	defs, err := src.Flags(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestNewFileSource_MissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestProperty_IsEnabledFor_Deterministic tests that flag resolution is stable per user
// *For any* flag configuration and user, repeated evaluation SHALL return the same result.
func TestProperty_IsEnabledFor_Deterministic(t *testing.T) {
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		rollout := rapid.IntRange(0, 100).Draw(rt, "rollout")
		userID := rapid.StringMatching(`[a-z0-9\-]{1,36}`).Draw(rt, "user")
		role := rapid.SampledFrom([]string{"", "buyer", "seller", "admin"}).Draw(rt, "role")

		r := NewRegistry(NewStaticSource(models.FeatureFlag{
			ID:                DirectMessaging,
			Enabled:           true,
			RolloutPercentage: rollout,
		}))

		first := r.IsEnabledFor(ctx, DirectMessaging, userID, role)
		for i := 0; i < 5; i++ {
			if got := r.IsEnabledFor(ctx, DirectMessaging, userID, role); got != first {
				t.Fatalf("PROPERTY VIOLATION: evaluation %d returned %v, first was %v", i, got, first)
			}
		}
	})
}

// TestProperty_Rollout_Monotonic tests that raising the rollout never removes a user
func TestProperty_Rollout_Monotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		low := rapid.IntRange(0, 100).Draw(rt, "low")
		high := rapid.IntRange(low, 100).Draw(rt, "high")
		userID := rapid.StringMatching(`[a-z0-9]{1,20}`).Draw(rt, "user")

		flag := models.FeatureFlag{ID: AutoApprove, Enabled: true}
		flag.RolloutPercentage = low
		atLow := Evaluate(flag, userID, "seller")
		flag.RolloutPercentage = high
		atHigh := Evaluate(flag, userID, "seller")

		if atLow && !atHigh {
			t.Fatalf("PROPERTY VIOLATION: user %q enabled at %d%% but not at %d%%", userID, low, high)
		}
		if b := Bucket(AutoApprove, userID); b < 0 || b >= 100 {
			t.Fatalf("PROPERTY VIOLATION: bucket %d out of range", b)
		}
	})
}

func TestEvaluate_FullAndZeroRollout(t *testing.T) {
	full := models.FeatureFlag{ID: MessageFlagging, Enabled: true, RolloutPercentage: 100}
	none := models.FeatureFlag{ID: MessageFlagging, Enabled: true, RolloutPercentage: 0}

	for _, user := range []string{"a", "b", "c", "d", "e"} {
		assert.True(t, Evaluate(full, user, "buyer"))
		assert.False(t, Evaluate(none, user, "buyer"))
	}
}
