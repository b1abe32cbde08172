package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdahabbo/rolesync/internal/config"
	"github.com/cdahabbo/rolesync/internal/database"
	"github.com/cdahabbo/rolesync/internal/models"
	"github.com/cdahabbo/rolesync/internal/policy"
	"github.com/cdahabbo/rolesync/internal/profiles"
	"github.com/cdahabbo/rolesync/internal/tokens"
	"github.com/cdahabbo/rolesync/pkg/logger"
)

// loadConfig is replaced in tests.
var loadConfig = config.LoadConfig

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rolectl",
		Short:         "Operate the role sync bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			lvl, _ := cmd.Flags().GetString("log-level")
			logger.Init(lvl)
		},
	}
	root.PersistentFlags().String("log-level", "warn", "debug|info|warn|error")
	root.AddCommand(newTokenCmd(), newPolicyCmd(), newProfilesCmd())
	return root
}

func newTokenCmd() *cobra.Command {
	var (
		sub string
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the ops API",
		Long: `Mint an HS256 operator token signed with ADMIN_JWT_SECRET.

Examples:
  rolectl token --sub alice --ttl 1h
  curl -H "Authorization: Bearer $(rolectl token --sub alice)" localhost:8080/api/v1/profiles
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tm, err := tokens.NewManager(cfg.Admin.JWTSecret, nil)
			if err != nil {
				return err
			}
			raw, err := tm.GenerateAccessToken(sub, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "operator name recorded in the token (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Inspect the role policy file"}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a role policy file (defaults to POLICY_FILE)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Data.PolicyFile
			}
			tbl, err := policy.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok, %d entries\n", path, tbl.Len())
			for _, c := range tbl.Categories() {
				fmt.Fprintf(out, "  %-14s %d\n", c, len(tbl.EntriesFor(c)))
			}
			return nil
		},
	})
	return cmd
}

func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profiles", Short: "Inspect or edit verified profiles"}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List verified profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := openProfiles(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			all, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			return printProfiles(cmd.OutOrStdout(), all, asJSON)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	remove := &cobra.Command{
		Use:   "remove <user_id>",
		Short: "Delete a verified profile without touching guild roles",
		Long: `Delete a verified profile from the store.

Roles are left as they are; use DELETE /api/v1/profiles/:id or the unverify
command on a running bot to also revert the verified role.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openProfiles(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			removed, err := svc.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("user %s is not verified", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(list, remove)
	return cmd
}

func openProfiles(cmd *cobra.Command) (*profiles.Service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	repo, _, closer, err := database.OpenProfileRepository(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return profiles.NewService(repo), func() { _ = closer(cmd.Context()) }, nil
}

func printProfiles(w io.Writer, all []models.VerifiedProfile, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}
	if len(all) == 0 {
		_, err := fmt.Fprintln(w, "no verified profiles")
		return err
	}
	for _, p := range all {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", p.UserID, p.Habbo); err != nil {
			return err
		}
	}
	return nil
}
