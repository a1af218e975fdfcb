// Command jobrunner runs the background job engine: the worker pool, the
// cron scheduler and the admin HTTP API, backed by Postgres and
// optionally Redis.
//
// Usage:
//
//	JOBRUNNER_DATABASE_URL=postgres://localhost/jobs jobrunner
//
// Then, with JOBRUNNER_HTTP_TOKEN=secret:
//
//	curl -X POST http://localhost:8090/v1/jobs \
//	  -H "Authorization: Bearer secret" \
//	  -d '{"type":"cleanup","payload":{"older_than_days":30}}'
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/assaka/daino-jobs/api"
	"github.com/assaka/daino-jobs/dynamiccron"
	"github.com/assaka/daino-jobs/engine"
	"github.com/assaka/daino-jobs/httpclient"
	"github.com/assaka/daino-jobs/internal/config"
	"github.com/assaka/daino-jobs/internal/platform"
	"github.com/assaka/daino-jobs/job"
	"github.com/assaka/daino-jobs/plugin"
	"github.com/assaka/daino-jobs/store/postgres"
	"github.com/assaka/daino-jobs/store/redis"
	"github.com/assaka/daino-jobs/tasks"
	"github.com/assaka/daino-jobs/tenant"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("jobrunner exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// ──────────────────────────────────────────────────
	// 1. Persistence
	// ──────────────────────────────────────────────────

	pg, err := postgres.New(ctx, cfg.Database.URL, postgres.WithLogger(logger))
	if err != nil {
		return err
	}
	defer pg.Close() //nolint:errcheck // best-effort on shutdown
	if err := pg.Migrate(ctx); err != nil {
		return err
	}

	engineOpts := []engine.Option{
		engine.WithConfig(cfg.Jobs()),
		engine.WithLogger(logger),
	}

	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close() //nolint:errcheck // best-effort on shutdown

		cache := redis.NewCancelCache(rdb, pg, redis.WithLogger(logger))
		if err := cache.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, cancellation falls back to postgres",
				slog.String("addr", cfg.Redis.Addr),
				slog.String("error", err.Error()),
			)
		}
		engineOpts = append(engineOpts,
			engine.WithJobStore(cache),
			engine.WithExtension(redis.NewProgressStream(rdb)),
		)
	}

	// ──────────────────────────────────────────────────
	// 2. Collaborators
	// ──────────────────────────────────────────────────

	hc := httpclient.New()
	dispatcherOpts := []dynamiccron.Option{
		dynamiccron.WithHTTPClient(hc),
		dynamiccron.WithAllowedTables(cfg.Allowlist.Tables...),
		dynamiccron.WithAPIBaseURL(cfg.APIBaseURL),
		dynamiccron.WithPlugins(plugin.NewRegistry()),
	}

	if cfg.Tenant.DSNTemplate != "" {
		tenants, err := tenant.NewPoolResolver(cfg.Tenant.DSNTemplate,
			tenant.WithMaxConns(cfg.Tenant.MaxConns),
			tenant.WithPoolLogger(logger),
		)
		if err != nil {
			return err
		}
		defer tenants.Close()
		dispatcherOpts = append(dispatcherOpts, dynamiccron.WithTenants(tenants))
	}

	var pl *platform.Client
	if cfg.Platform.URL != "" {
		pl = platform.New(cfg.Platform.URL, cfg.Platform.Token)
		dispatcherOpts = append(dispatcherOpts, dynamiccron.WithMailer(pl))
	}
	engineOpts = append(engineOpts, engine.WithDispatcherOptions(dispatcherOpts...))

	// Without the platform API only the self-contained types can run.
	if pl == nil {
		engineOpts = append(engineOpts, engine.WithRequiredTypes(
			job.TypeDynamicCron,
			job.TypeWebhookDelivery,
			job.TypeCleanup,
		))
	}

	// ──────────────────────────────────────────────────
	// 3. Engine and handlers
	// ──────────────────────────────────────────────────

	eng, err := engine.New(pg, engineOpts...)
	if err != nil {
		return err
	}

	r := eng.Registry()
	tasks.NewWebhookDelivery(hc, pg).Register(r)
	tasks.NewCleanup(eng.Dispatcher().Guard()).Register(r)
	if pl != nil {
		tasks.NewTokenRefresh(pl, time.Hour).Register(r)
		tasks.NewCreditDeduction(pl).Register(r)
		tasks.NewCatalogImport(job.TypeAkeneoImport, "akeneo", pl.Importer("akeneo"), pg).Register(r)
		tasks.NewCatalogImport(job.TypeShopifySync, "shopify", pl.Importer("shopify"), pg).Register(r)
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}

	// ──────────────────────────────────────────────────
	// 4. Admin API
	// ──────────────────────────────────────────────────

	srv := api.New(eng, api.WithToken(cfg.HTTP.Token)).Handler()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", slog.String("addr", cfg.HTTP.Addr))
		if err := srv.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin api shutdown", slog.String("error", err.Error()))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		return err
	}
	return serveErr
}
