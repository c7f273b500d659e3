package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JadKHaddad-ORG/JobHub/api"
	audithook "github.com/JadKHaddad-ORG/JobHub/audit_hook"
	"github.com/JadKHaddad-ORG/JobHub/hub"
)

func newServeCmd(g *globals) *cobra.Command {
	var (
		listen      string
		driver      string
		dsn         string
		dataDir     string
		concurrency int
		logLevel    string
		logFormat   string
		audit       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g.configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}

			f := cmd.Flags()
			if f.Changed("listen") {
				cfg.Listen = listen
			}
			if f.Changed("store") {
				cfg.Store.Driver = driver
			}
			if f.Changed("dsn") {
				cfg.Store.DSN = dsn
			}
			if f.Changed("data-dir") {
				cfg.Hub.DataDir = dataDir
			}
			if f.Changed("concurrency") {
				cfg.Hub.Concurrency = concurrency
			}
			if f.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if f.Changed("log-format") {
				cfg.Log.Format = logFormat
			}
			if f.Changed("audit") {
				cfg.Audit = audit
			}
			if f.Changed("token") {
				cfg.Token = g.token
			}

			return serve(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&listen, "listen", ":8080", "HTTP listen address")
	f.StringVar(&driver, "store", "sqlite", "store driver: memory, sqlite, postgres, redis")
	f.StringVar(&dsn, "dsn", "", "store address (file path or connection URL)")
	f.StringVar(&dataDir, "data-dir", "data", "root for job work directories")
	f.IntVar(&concurrency, "concurrency", 4, "number of execution slots")
	f.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	f.StringVar(&logFormat, "log-format", "text", "text or json")
	f.BoolVar(&audit, "audit", false, "log an audit record for every job lifecycle event")
	return cmd
}

// serve runs the hub and the HTTP server until a signal arrives or either
// fails, then shuts both down.
func serve(parent context.Context, cfg Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, release, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	opts := []hub.Option{hub.WithConfig(cfg.Hub), hub.WithLogger(logger)}
	if cfg.Audit {
		rec := audithook.NewLogRecorder(logger.With(slog.String("component", "audit")))
		opts = append(opts, hub.WithExtension(audithook.New(rec, audithook.WithLogger(logger))))
	}
	h, err := hub.New(s, opts...)
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}

	a := api.New(h, api.WithToken(cfg.Token), api.WithLogger(logger))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Token == "" {
		logger.Warn("API token not set; authentication disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Hub.ShutdownTimeout)
		defer cancel()

		// Close streaming sessions first: Shutdown does not wait for
		// hijacked connections.
		a.Close()
		httpErr := srv.Shutdown(shutdownCtx)
		hubErr := h.Stop(shutdownCtx)
		return errors.Join(httpErr, hubErr)
	})
	return g.Wait()
}
