package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/bundle-store/internal/config"
)

type createAdminOptions struct {
	login    string
	password string
}

func newCreateAdminCommand(_ *rootOptions) *cobra.Command {
	opts := &createAdminOptions{}
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator, or promote an existing account",
		Long: `Create an administrator account.

If the login key is already registered the account is promoted to ADMIN and
its password replaced.

Example:
  server create-admin --login admin@example.com --password 's3cret!'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			u, err := newSessions(db, cfg, log).CreateAdmin(cmd.Context(), opts.login, opts.password)
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s ready (id %d)\n", u.LoginKey, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.login, "login", "", "admin email or phone (required)")
	cmd.Flags().StringVar(&opts.password, "password", "", "admin password, at least 6 characters (required)")
	_ = cmd.MarkFlagRequired("login")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
