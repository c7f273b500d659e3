package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JadKHaddad-ORG/JobHub/store"
	"github.com/JadKHaddad-ORG/JobHub/store/memory"
	"github.com/JadKHaddad-ORG/JobHub/store/postgres"
	redisstore "github.com/JadKHaddad-ORG/JobHub/store/redis"
	"github.com/JadKHaddad-ORG/JobHub/store/sqlite"
)

// openStore connects the configured backend and runs its migrations. The
// returned func releases everything openStore acquired.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, func(), error) {
	var (
		s       store.Store
		cleanup = func() {}
	)

	switch cfg.Store.Driver {
	case "memory":
		s = memory.New()

	case "sqlite", "":
		path := cfg.Store.DSN
		if path == "" {
			if err := os.MkdirAll(cfg.Hub.DataDir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create data dir: %w", err)
			}
			path = filepath.Join(cfg.Hub.DataDir, "jobhub.db")
		}
		ss, err := sqlite.Open(ctx, path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		s = ss

	case "postgres":
		ps, err := postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		s = ps

	case "redis":
		opts, err := goredis.ParseURL(cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		cleanup = func() { _ = client.Close() }
		s = redisstore.New(client, redisstore.WithLogger(logger))

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	release := func() {
		if err := s.Close(); err != nil {
			logger.Warn("close store", slog.String("error", err.Error()))
		}
		cleanup()
	}
	if err := s.Ping(ctx); err != nil {
		release()
		return nil, nil, fmt.Errorf("store ping: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		release()
		return nil, nil, err
	}
	logger.Info("store ready", slog.String("driver", cfg.Store.Driver))
	return s, release, nil
}
