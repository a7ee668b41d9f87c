package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/config"
	"github.com/aimerfeng/DomainDesk/internal/detector"
	"github.com/aimerfeng/DomainDesk/internal/flags"
	"github.com/aimerfeng/DomainDesk/internal/middleware"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

func newFlagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Work with feature flag definition files",
	}

	check := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a flag file and print the resolved definitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("flags: %w", err)
			}
			return runFlagsCheck(cmd.OutOrStdout(), data)
		},
	}

	cmd.AddCommand(check)
	return cmd
}

func runFlagsCheck(out io.Writer, data []byte) error {
	defs, err := flags.Parse(data)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	known := make(map[string]bool, len(flags.WellKnown))
	for _, id := range flags.WellKnown {
		known[id] = true
	}
	for _, f := range defs {
		line := flags.Describe(f)
		if len(f.AllowedUsers) > 0 || len(f.AllowedRoles) > 0 {
			line += fmt.Sprintf(" users=%v roles=%v", f.AllowedUsers, f.AllowedRoles)
		}
		if !known[f.ID] {
			line += " (unknown flag, never consulted)"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func newDetectCmd() *cobra.Command {
	var (
		allowed []string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "detect <text>...",
		Short: "Run the contact-info detector over text",
		Long:  "Joins the arguments with spaces and prints every contact-info match the detector finds.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd.OutOrStdout(), detector.New(allowed...), strings.Join(args, " "), asJSON)
		},
	}

	cmd.Flags().StringSliceVar(&allowed, "allow", nil, "domains that are not treated as off-platform contact")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result as JSON")
	return cmd
}

func runDetect(out io.Writer, det *detector.Detector, text string, asJSON bool) error {
	result := det.Detect(text)
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if allowed := det.Allowed(); len(allowed) > 0 {
		fmt.Fprintf(out, "allowed: %s\n", strings.Join(allowed, ", "))
	}
	if !result.Flagged {
		fmt.Fprintln(out, "clean")
		return nil
	}
	for _, m := range result.Matches {
		fmt.Fprintf(out, "%-14s %q [%d:%d] %s\n", m.Category, m.Value, m.Start, m.End, detector.Describe(m.Category))
	}
	return nil
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		Long:  "Signs an access token with JWT_SECRET and JWT_ISSUER from the environment.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runToken(cmd.OutOrStdout(), &cfg.JWT, models.Actor{ID: userID, Role: models.Role(role)}, ttl)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id carried by the token")
	cmd.Flags().StringVar(&role, "role", string(models.RoleMember), "role: member or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runToken(out io.Writer, cfg *config.JWTConfig, actor models.Actor, ttl time.Duration) error {
	if cfg.Secret == "" {
		return fmt.Errorf("token: JWT_SECRET is not set")
	}
	if actor.Role != models.RoleMember && actor.Role != models.RoleAdmin {
		return fmt.Errorf("token: role must be member or admin, got %q", actor.Role)
	}

	now := time.Now()
	token, err := middleware.NewJWTAuthenticator(cfg).IssueAccessToken(actor, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
