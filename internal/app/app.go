// Package app wires the concrete object graph shared by every entry
// point: database connection, stores, providers and the pipeline
// context. Kept separate from cmd/ so cmd/worker and cmd/adminserver
// both boot from the same construction logic, mirroring how the
// teacher's services/* packages hold the wiring cmd/* mains just call.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/analytiq-hub/doc-router-sub001/internal/accounting"
	"github.com/analytiq-hub/doc-router-sub001/internal/blobstore"
	"github.com/analytiq-hub/doc-router-sub001/internal/config"
	"github.com/analytiq-hub/doc-router-sub001/internal/dbx"
	"github.com/analytiq-hub/doc-router-sub001/internal/document"
	"github.com/analytiq-hub/doc-router-sub001/internal/health"
	"github.com/analytiq-hub/doc-router-sub001/internal/llmprovider"
	"github.com/analytiq-hub/doc-router-sub001/internal/logging"
	"github.com/analytiq-hub/doc-router-sub001/internal/metrics"
	"github.com/analytiq-hub/doc-router-sub001/internal/ocrprovider"
	"github.com/analytiq-hub/doc-router-sub001/internal/pipeline"
	"github.com/analytiq-hub/doc-router-sub001/internal/queue"
	"github.com/analytiq-hub/doc-router-sub001/internal/queue/notify"
	"github.com/analytiq-hub/doc-router-sub001/internal/ratelimit"
	"github.com/analytiq-hub/doc-router-sub001/internal/secrets"
	"github.com/analytiq-hub/doc-router-sub001/internal/webhook"
)

// App bundles every component a cmd entry point needs.
type App struct {
	Config   *config.Config
	Log      *logging.Logger
	Metrics  *metrics.Metrics
	DB       *dbx.DB
	Notifier *notify.Notifier

	Documents  *document.Store
	Blobs      *blobstore.Store
	Queue      *queue.Store
	Secrets    *secrets.Box
	WebhookCfg *webhook.ConfigStore
	Deliveries *webhook.DeliveryStore
	Webhooks   *webhook.Engine
	RateLimit  *ratelimit.OrgLimiter
	Health     *health.Checker
	Probe      *health.Probe

	Pipeline *pipeline.Context
}

// Build opens the database, constructs every store/engine, and ensures
// schema. service names the logger's "service" field (e.g. "worker",
// "adminserver").
func Build(ctx context.Context, service string, cfg *config.Config) (*App, error) {
	log := logging.New(service, cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.New()

	conn, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}
	conn.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	conn.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("app: ping database: %w", err)
	}
	db := dbx.New(conn)

	notifier := notify.New(cfg.Database.DSN, log)

	documents := document.New(db)
	blobs := blobstore.New(db)
	q := queue.New(db, notifier, log, m, cfg.Queue.PollInterval)
	box := secrets.New(cfg.Security.MasterSecret)
	webhookCfg := webhook.NewConfigStore(db, box)
	deliveries := webhook.NewDeliveryStore(db)

	limiter := ratelimit.NewOrgLimiter(ctx, cfg.Redis.Addr, cfg.Webhook.PerOrgRatePerSec, int(cfg.Webhook.PerOrgRatePerSec), log)

	httpClient := &http.Client{Timeout: cfg.Webhook.HTTPTimeout}
	backoff := webhook.BackoffConfig{
		Base:        cfg.Webhook.BaseBackoff,
		Cap:         cfg.Webhook.MaxBackoff,
		MaxAttempts: cfg.Webhook.MaxAttempts,
	}
	webhooks := webhook.NewEngine(webhookCfg, deliveries, q.Send, httpClient, backoff, limiter, log, m)

	for _, ensure := range []func(context.Context) error{
		documents.EnsureSchema, blobs.EnsureSchema, q.EnsureSchema,
		webhookCfg.EnsureSchema, deliveries.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			return nil, fmt.Errorf("app: ensure schema: %w", err)
		}
	}

	pc := pipeline.New(documents, blobs, q, webhooks, ocrprovider.Stub{}, llmprovider.Stub{}, log, m)
	pc.Accounting = accounting.NoOp{}

	checker := health.NewChecker(5 * time.Second)
	checker.Register("database", health.DatabaseCheck(conn.PingContext))
	checker.Register("change_notifications", health.NotifierCheck(notifier.Available))

	probe := health.NewProbe(30 * time.Second)
	probe.SetReady(true)

	return &App{
		Config: cfg, Log: log, Metrics: m, DB: db, Notifier: notifier,
		Documents: documents, Blobs: blobs, Queue: q, Secrets: box,
		WebhookCfg: webhookCfg, Deliveries: deliveries, Webhooks: webhooks,
		RateLimit: limiter, Health: checker, Probe: probe, Pipeline: pc,
	}, nil
}

// Close releases the notifier and database connection.
func (a *App) Close() {
	if a.Notifier != nil {
		_ = a.Notifier.Close()
	}
	if a.RateLimit != nil {
		_ = a.RateLimit.Close()
	}
	if a.DB != nil {
		_ = a.DB.Conn().Close()
	}
}
