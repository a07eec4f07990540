// Command kioskd serves the kiosk voting API and carries the operator
// commands for schema, kiosk and audit management.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kioskvote.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type globalFlags struct {
	envFile  string
	store    string
	dsn      string
	boltPath string
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "kioskd",
		Short:         "Kiosk voting backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before reading KIOSKVOTE_* variables")
	root.PersistentFlags().StringVar(&g.store, "store", "", "storage backend: postgres, sqlite, bolt or memory")
	root.PersistentFlags().StringVar(&g.dsn, "dsn", "", "database DSN for postgres and sqlite")
	root.PersistentFlags().StringVar(&g.boltPath, "bolt-path", "", "database file for the bolt backend")

	root.AddCommand(
		newServeCmd(&g),
		newMigrateCmd(&g),
		newKioskCmd(&g),
		newAuditCmd(&g),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		obs.Error("kioskd failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
