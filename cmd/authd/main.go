// Package main provides the authd binary entry point.
// authd serves account management, session issuance and role based
// authorization over a JSON API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/goliatone/go-auth-rbac/activitymap"
	"github.com/goliatone/go-auth-rbac/api"
	"github.com/goliatone/go-auth-rbac/config"
	"github.com/goliatone/go-auth-rbac/logging"
	"github.com/goliatone/go-auth-rbac/metrics"
	"github.com/goliatone/go-auth-rbac/middleware/ratelimit"
	"github.com/goliatone/go-auth-rbac/notify"
	"github.com/goliatone/go-auth-rbac/repository"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/time/rate"
)

const (
	Version = "0.1.0"
	appName = "authd"

	shutdownTimeout = 10 * time.Second
	cleanupInterval = time.Minute
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Account and session service",
		Long: `authd manages user accounts, issues access and refresh tokens and
enforces owner or admin authorization on the account API.

Configuration is read from default.toml (or default.yaml) in the config
directory, overlaid with the RUN_MODE file and APP_* environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configDir)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configDir, "config", "c", ".", "Directory holding the configuration files")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configDir)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configDir)
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			logger.Info("migrations applied", "database", cfg.DatabaseURL)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired refresh tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configDir)
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			svc, err := api.NewServices(api.Dependencies{
				Repo:   repository.NewRepositoryManager(db),
				Config: cfg,
				Logger: logger,
			})
			if err != nil {
				return err
			}

			n, err := svc.Sessions.Refresh().PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("expired refresh tokens removed", "count", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func setup(configDir string) (*config.Config, *logging.SlogLogger, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("app", appName)
	return cfg, logger, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := repository.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := repository.Migrate(ctx, db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func newSender(cfg *config.Config, logger auth.Logger) notify.Sender {
	if cfg.SMTP.Enabled() {
		return notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	}
	return notify.NewLogSender(logger)
}

func serve(ctx context.Context, configDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup(configDir)
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.NewRepositoryManager(db)
	repo.MustValidate()

	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}

	notifier, err := notify.New(newSender(cfg, logger), cfg.FrontendURL, cfg)
	if err != nil {
		return fmt.Errorf("load notification templates: %w", err)
	}
	notifier.WithLogger(logger)

	m := metrics.New()
	activity := activitymap.Fanout{
		activitymap.NewLogSink(logger),
		m,
	}

	svc, err := api.NewServices(api.Dependencies{
		Repo:       repo,
		Config:     cfg,
		Hasher:     auth.NewArgon2Hasher(),
		Notifier:   notifier,
		Activity:   activity,
		Logger:     logger,
		UploadsDir: cfg.UploadsDir,
	})
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		Rate:  rate.Limit(cfg.RateLimitRPS),
		Burst: cfg.RateLimitBurst,
	})
	go limiter.Run(ctx, cleanupInterval)

	app := api.New(svc, api.Options{
		Prefix:       cfg.APIPrefix,
		CookieName:   cfg.CookieName,
		CookieSecure: cfg.CookieSecure,
		UploadsDir:   cfg.UploadsDir,
		CORSOrigins:  cfg.CORSOrigins,
		RateLimiter:  limiter,
		Metrics:      m,
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr(), "run_mode", cfg.RunMode, "version", Version)
		errCh <- app.Listen(cfg.Addr())
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("shutdown failed", "error", err)
		return err
	}
	return nil
}
