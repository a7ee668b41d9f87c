package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/app"
	"github.com/aimerfeng/DomainDesk/internal/cache"
	"github.com/aimerfeng/DomainDesk/internal/config"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/moderation"
	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the moderation queue",
		Long:  "Reads pending inquiries, held messages and open reports from the configured store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			st, closeStore, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			queue, err := moderation.NewProjection(st).GetQueue(ctx)
			if err != nil {
				return fmt.Errorf("queue: %w", err)
			}
			return printQueue(cmd.OutOrStdout(), queue, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the queue as JSON")
	return cmd
}

func printQueue(out io.Writer, q *moderation.Queue, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(q)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "INQUIRIES (%d)\n", len(q.PendingInquiries))
	for _, inq := range q.PendingInquiries {
		fmt.Fprintf(tw, "  %s\t%s\tbuyer=%s\tasset=%s\t%s\n", inq.ID, inq.Status, inq.BuyerID, inq.AssetID, age(q.GeneratedAt, inq.CreatedAt))
	}
	fmt.Fprintf(tw, "MESSAGES (%d)\n", len(q.PendingMessages))
	for _, m := range q.PendingMessages {
		flagged := ""
		if m.Flagged {
			flagged = fmt.Sprintf("flagged=%v", m.MatchCategories())
		}
		fmt.Fprintf(tw, "  %s\tinquiry=%s\tsender=%s\t%s\t%s\n", m.ID, m.InquiryID, m.SenderID, flagged, age(q.GeneratedAt, m.SentAt))
	}
	fmt.Fprintf(tw, "REPORTS (%d)\n", len(q.OpenReports))
	for _, r := range q.OpenReports {
		fmt.Fprintf(tw, "  %s\tmessage=%s\treporter=%s\t%s\t%s\n", r.ID, r.MessageID, r.ReporterID, r.Reason, age(q.GeneratedAt, r.CreatedAt))
	}
	return tw.Flush()
}

func age(now, then time.Time) string {
	return now.Sub(then).Truncate(time.Second).String()
}

func newStatsCmd() *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show system statistics",
		Long: `Prints the last snapshot written by the API's moderation refresher when Redis
is enabled, falling back to a fresh read from the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if cfg.Redis.Enabled && !fresh {
				rc, err := cache.NewFromURL(ctx, cfg.Redis.URL)
				if err != nil {
					return err
				}
				defer rc.Close()

				var stats models.SystemStats
				err = rc.GetJSON(ctx, moderation.StatsKey, &stats)
				switch {
				case err == nil:
					return printStats(cmd.OutOrStdout(), &stats, "cache")
				case !errors.Is(err, cache.ErrCacheMiss):
					return fmt.Errorf("stats: %w", err)
				}
			}

			st, closeStore, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			stats, err := moderation.NewProjection(st).Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			return printStats(cmd.OutOrStdout(), stats, "store")
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "skip the cached snapshot and read the store")
	return cmd
}

func printStats(out io.Writer, s *models.SystemStats, source string) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "source\t%s (generated %s)\n", source, s.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "inquiries\t%d total, %d open\n", s.TotalInquiries, s.OpenInquiries)
	fmt.Fprintf(tw, "messages\t%d total, %d flagged, %d pending\n", s.TotalMessages, s.FlaggedMessages, s.PendingMessages)
	fmt.Fprintf(tw, "delivery\t%d direct, %d moderated\n", s.DirectMessages, s.ModeratedMessages)
	fmt.Fprintf(tw, "reports\t%d open\n", s.OpenReports)
	fmt.Fprintf(tw, "deals\t%d\n", s.TotalDeals)
	return tw.Flush()
}
