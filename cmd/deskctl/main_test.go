package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/config"
	"github.com/aimerfeng/DomainDesk/internal/detector"
	"github.com/aimerfeng/DomainDesk/internal/middleware"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/moderation"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmd_ListsSubcommands(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatalf("root --help failed: %v", err)
	}
	for _, sub := range []string{"migrate", "flags", "detect", "queue", "stats", "token", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("root help should list %q", sub)
		}
	}
}

func TestMigrateCmd_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := run(t, "migrate", "version"); err == nil {
		t.Fatal("expected an error without a database URL")
	}
}

func TestMigrateCmd_Flags(t *testing.T) {
	cmd := newMigrateCmd()
	if cmd.PersistentFlags().Lookup("database") == nil {
		t.Error("expected --database flag")
	}
	down, _, err := cmd.Find([]string{"down"})
	if err != nil {
		t.Fatal(err)
	}
	if down.Flags().Lookup("steps") == nil {
		t.Error("expected --steps flag on down")
	}
}

func TestFlagsCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	data := "flags:\n  - id: direct-messaging\n    enabled: true\n    rollout_percentage: 25\n  - id: typo-flag\n    enabled: true\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "flags", "check", path)
	if err != nil {
		t.Fatalf("flags check failed: %v", err)
	}
	if !strings.Contains(out, "direct-messaging: on (25%)") {
		t.Errorf("unexpected output: %s", out)
	}
	if !strings.Contains(out, "typo-flag: on (100%) (unknown flag") {
		t.Errorf("unknown flags should be called out: %s", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("flags:\n  - id: x\n    rollout_percentage: 150\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "flags", "check", bad); err == nil {
		t.Error("expected an out-of-range rollout to fail")
	}
}

func TestRunDetect(t *testing.T) {
	var buf bytes.Buffer
	if err := runDetect(&buf, detector.New(), "mail me at someone@example.org", false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "email") {
		t.Errorf("expected an email match, got: %s", buf.String())
	}

	buf.Reset()
	if err := runDetect(&buf, detector.New(), "is the price negotiable?", false); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "clean" {
		t.Errorf("expected clean, got: %s", buf.String())
	}

	buf.Reset()
	if err := runDetect(&buf, detector.New("Example.com"), "is example.com still for sale", false); err != nil {
		t.Fatal(err)
	}
	if want := "allowed: example.com\nclean\n"; buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestRunToken(t *testing.T) {
	cfg := &config.JWTConfig{Secret: "cli-secret", Issuer: "domaindesk"}

	var buf bytes.Buffer
	if err := runToken(&buf, cfg, models.Actor{ID: "admin-1", Role: models.RoleAdmin}, time.Minute); err != nil {
		t.Fatal(err)
	}
	claims, err := middleware.NewJWTAuthenticator(cfg).ValidateAccessToken(strings.TrimSpace(buf.String()))
	if err != nil {
		t.Fatalf("minted token does not validate: %v", err)
	}
	if claims.UserID != "admin-1" || claims.Role != "admin" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	if err := runToken(&buf, cfg, models.Actor{ID: "x", Role: models.RoleSystem}, time.Minute); err == nil {
		t.Error("system tokens must not be minted")
	}
}

func TestPrintQueue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := &moderation.Queue{
		PendingInquiries: []*models.Inquiry{{ID: "inq-1", Status: models.InquiryStatusPendingReview, BuyerID: "b", AssetID: "a", CreatedAt: now.Add(-time.Hour)}},
		PendingMessages: []*models.Message{{ID: "msg-1", InquiryID: "inq-2", SenderID: "s", Flagged: true,
			DetectorMatches: []models.DetectorMatch{{Category: "email"}}, SentAt: now.Add(-time.Minute)}},
		OpenReports: []*models.MessageReport{},
		GeneratedAt: now,
	}

	var buf bytes.Buffer
	if err := printQueue(&buf, q, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"INQUIRIES (1)", "inq-1", "1h0m0s", "flagged=[email]", "REPORTS (0)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	stats := &models.SystemStats{TotalInquiries: 4, OpenInquiries: 3, TotalMessages: 5, FlaggedMessages: 1, DirectMessages: 2, ModeratedMessages: 3, TotalDeals: 1}
	if err := printStats(&buf, stats, "cache"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"cache", "4 total, 3 open", "2 direct, 3 moderated"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
