package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"kioskvote.org/internal/audit"
	"kioskvote.org/internal/ballot"
	"kioskvote.org/internal/config"
	"kioskvote.org/internal/eligibility"
	"kioskvote.org/internal/httpapi"
	"kioskvote.org/internal/kiosk"
	"kioskvote.org/internal/obs"
)

type serveFlags struct {
	httpAddr   string
	grpcAddr   string
	debug      bool
	migrate    bool
	bootstrap  []string
	readyEvery time.Duration
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the kiosk API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("http-addr") {
				cfg.HTTPAddr = f.httpAddr
			}
			if flags.Changed("grpc-addr") {
				cfg.GRPCAddr = f.grpcAddr
			}
			if flags.Changed("debug") {
				cfg.Debug = f.debug
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, f)
		},
	}
	cmd.Flags().StringVar(&f.httpAddr, "http-addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&f.grpcAddr, "grpc-addr", "", "gRPC health listen address; empty disables it")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "include internal error detail in 500 responses")
	cmd.Flags().BoolVar(&f.migrate, "migrate", false, "apply pending schema migrations before serving")
	cmd.Flags().StringArrayVar(&f.bootstrap, "bootstrap-kiosk", nil, "NAME=SECRET kiosk registered at start-up when missing (repeatable)")
	cmd.Flags().DurationVar(&f.readyEvery, "ready-interval", 5*time.Second, "how often the gRPC health status is refreshed")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, f serveFlags) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.close()

	if f.migrate && b.sql != nil {
		applied, err := b.sql.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		obs.Info("migrations applied", map[string]any{"applied": applied})
	}

	elig, err := newEligibilityClient(cfg)
	if err != nil {
		return err
	}
	overrides, err := ballot.LoadOverrides(cfg.OverridesPath)
	if err != nil {
		return err
	}

	rec := audit.NewRecorder(b.audit)
	authn := kiosk.NewAuthenticator(b.kiosks, cfg.AuthSalt, cfg.AuthCacheTTL)
	if err := bootstrapKiosks(ctx, authn, f.bootstrap); err != nil {
		return err
	}
	svc := ballot.NewService(b.ballots, elig, ballot.WithOverrides(overrides), ballot.WithRecorder(rec))

	probe := httpapi.ReadyProbe{Store: b.pinger}
	api := httpapi.New(probe, version, svc, authn, rec)
	api.SetDebug(cfg.Debug)
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Eligibility lookups may take the full upstream timeout.
		WriteTimeout: cfg.EligibilityTimeout*2 + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	var gs *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs = grpc.NewServer()
		health := httpapi.NewGRPCServer(probe)
		health.Register(gs)
		go health.Watch(ctx, f.readyEvery)
		go func() {
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	obs.Info("kioskd started", map[string]any{
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"store":     cfg.Store,
		"overrides": overrides.Len(),
	})

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	obs.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if gs != nil {
		gs.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	obs.Info("stopped", nil)
	return nil
}

func newEligibilityClient(cfg config.Config) (eligibility.Client, error) {
	if cfg.EligibilityFixtures != "" {
		static, err := eligibility.LoadStatic(cfg.EligibilityFixtures)
		if err != nil {
			return nil, err
		}
		obs.Warn("eligibility answered from fixtures", map[string]any{"path": cfg.EligibilityFixtures})
		return static, nil
	}
	return eligibility.NewHTTPClient(cfg.EligibilityURL, cfg.EligibilityUID, cfg.EligibilityPassword, cfg.EligibilityTimeout), nil
}

// bootstrapKiosks registers NAME=SECRET pairs, skipping secrets that are
// already known.
func bootstrapKiosks(ctx context.Context, authn *kiosk.Authenticator, specs []string) error {
	for _, spec := range specs {
		name, secret, ok := strings.Cut(spec, "=")
		if !ok || name == "" || secret == "" {
			return fmt.Errorf("bootstrap kiosk %q: want NAME=SECRET", spec)
		}
		if _, err := authn.Authenticate(ctx, secret); err == nil {
			continue
		} else if !errors.Is(err, kiosk.ErrNotFound) {
			return err
		}
		k, err := authn.Register(ctx, name, "bootstrap", secret)
		if err != nil {
			return fmt.Errorf("bootstrap kiosk %q: %w", name, err)
		}
		obs.Info("kiosk registered", map[string]any{"kiosk_id": k.ID, "name": k.Name})
	}
	return nil
}
