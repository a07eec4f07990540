package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kioskvote.org/internal/migrate"
)

func newMigrateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate up|down|status",
		Short:     "Manage the SQL schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			b, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer b.close()
			if b.sql == nil {
				return fmt.Errorf("store %q has no schema to migrate", cfg.Store)
			}

			mgr, err := migrate.NewManager(b.sql.DB(), b.sql.Dialect())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch args[0] {
			case "up":
				applied, err := mgr.Up(ctx)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				for _, name := range applied {
					fmt.Fprintln(out, "applied", name)
				}
			case "down":
				name, err := mgr.Down(ctx)
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				if name != "" {
					fmt.Fprintln(out, "reverted", name)
				}
			case "status":
				history, err := mgr.Status(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				pending, err := mgr.Pending(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				for _, name := range history {
					fmt.Fprintln(out, "applied", name)
				}
				for _, name := range pending {
					fmt.Fprintln(out, "pending", name)
				}
			}
			return nil
		},
	}
	return cmd
}
