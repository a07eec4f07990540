package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kioskvote.org/internal/audit"
	"kioskvote.org/internal/ballot"
	"kioskvote.org/internal/config"
	"kioskvote.org/internal/httpapi"
	"kioskvote.org/internal/kiosk"
	"kioskvote.org/internal/migrate"
	"kioskvote.org/internal/store/boltstore"
	"kioskvote.org/internal/store/sqlstore"
)

var errNotPersistent = errors.New("the memory store keeps nothing between runs; choose postgres, sqlite or bolt")

// loadConfig reads the environment and applies the flags that were set.
func loadConfig(cmd *cobra.Command, g *globalFlags) (config.Config, error) {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Store = g.store
	}
	if flags.Changed("dsn") {
		cfg.DSN = g.dsn
	}
	if flags.Changed("bolt-path") {
		cfg.BoltPath = g.boltPath
	}
	return cfg, nil
}

type auditLister interface {
	ListAudit(ctx context.Context, limit int) ([]audit.Entry, error)
}

// backend bundles the three stores one storage engine provides.
type backend struct {
	ballots ballot.Repository
	kiosks  kiosk.Store
	audit   audit.Store
	lister  auditLister
	pinger  httpapi.Pinger
	sql     *sqlstore.Store
	close   func() error
}

func openBackend(cfg config.Config) (*backend, error) {
	switch cfg.Store {
	case config.StorePostgres, config.StoreSQLite:
		dialect, err := migrate.ParseDialect(cfg.Store)
		if err != nil {
			return nil, err
		}
		s, err := sqlstore.Open(dialect, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Store, err)
		}
		return &backend{ballots: s, kiosks: s, audit: s, lister: s, pinger: s, sql: s, close: s.Close}, nil
	case config.StoreBolt:
		s, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt: %w", err)
		}
		return &backend{ballots: s, kiosks: s, audit: s, lister: s, pinger: s, close: s.Close}, nil
	case config.StoreMemory:
		return &backend{
			ballots: ballot.NewInMemory(),
			kiosks:  kiosk.NewInMemory(),
			audit:   audit.NewMemoryStore(10000),
			close:   func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
