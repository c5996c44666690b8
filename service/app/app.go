// Package app assembles the collaborators shared by the binaries from one
// Config value.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/myfinance/service/alert"
	"github.com/brojonat/myfinance/service/config"
	"github.com/brojonat/myfinance/service/db"
	"github.com/brojonat/myfinance/service/extract"
	"github.com/brojonat/myfinance/service/inbox"
	"github.com/brojonat/myfinance/service/ledger"
	"github.com/brojonat/myfinance/service/metrics"
	natspkg "github.com/brojonat/myfinance/service/nats"
	"github.com/brojonat/myfinance/service/parser"
	"github.com/brojonat/myfinance/service/price"
	"github.com/brojonat/myfinance/service/reconcile"
)

// OpenLedger connects to Postgres, verifies the connection and applies the
// schema. The returned func closes the pool.
func OpenLedger(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*db.Store, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, cfg.BankInitialBalance, cfg.DedupWindow, m)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

// OpenInbox opens the SQLite mailbox and applies its schema.
func OpenInbox(ctx context.Context, cfg *config.Config) (*inbox.SQLiteStore, error) {
	mb, err := inbox.OpenSQLite(ctx, cfg.InboxPath)
	if err != nil {
		return nil, err
	}
	if err := mb.EnsureSchema(ctx); err != nil {
		mb.Close()
		return nil, err
	}
	return mb, nil
}

// NewPriceClient builds the price client with its shared request limiter.
func NewPriceClient(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *price.Client {
	return price.NewClient(price.Config{
		BaseURL:       cfg.PriceBaseURL,
		HistorySuffix: cfg.PriceHistorySuffix,
		UserAgent:     cfg.PriceUserAgent,
		LookbackDays:  cfg.PriceLookbackDays,
		Band:          price.Band{Min: cfg.MinPlausiblePrice, Max: cfg.MaxPlausiblePrice},
		Timeout:       cfg.PriceTimeout,
	}, nil, price.NewLimiter(cfg.PriceRequestDelay), m, logger)
}

// NewPublisher connects to NATS, or returns nil when NATS_URL is unset.
func NewPublisher(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (natspkg.Publisher, error) {
	if cfg.NATSURL == "" {
		logger.Info("NATS_URL not set, ledger events will not be published")
		return nil, nil
	}
	pub, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// NewNotifier fans alerts out to the log and, when configured, to NATS and
// e-mail.
func NewNotifier(cfg *config.Config, pub natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) alert.Notifier {
	notifiers := alert.Multi{alert.NewLogNotifier(logger)}
	if pub != nil {
		notifiers = append(notifiers, alert.NewNATSNotifier(pub, m))
	}
	if cfg.AlertEmail != "" {
		notifiers = append(notifiers, alert.NewMailNotifier(alert.MailConfig{
			Addr:          cfg.AlertSMTPAddr,
			Username:      cfg.AlertSMTPUsername,
			Password:      cfg.AlertSMTPPassword,
			StartTLS:      cfg.AlertSMTPStartTLS,
			From:          cfg.AlertFrom,
			To:            cfg.AlertEmail,
			SubjectPrefix: cfg.AlertSubjectPrefix,
		}, m))
	}
	return notifiers
}

// Pipeline is a fully wired orchestrator and the resources it holds.
type Pipeline struct {
	Orchestrator *reconcile.Orchestrator
	Ledger       *db.Store
	Inbox        *inbox.SQLiteStore
	Prices       *price.Client
	Publisher    natspkg.Publisher

	closers []func()
}

// Close releases every resource in reverse order of acquisition.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// OpenPipeline wires the orchestrator from cfg. A dry run skips NATS and
// writes to an in-memory snapshot of the ledger instead of Postgres.
func OpenPipeline(ctx context.Context, cfg *config.Config, dryRun bool, m *metrics.Metrics, logger *slog.Logger) (*Pipeline, error) {
	p := &Pipeline{}

	store, closeLedger, err := OpenLedger(ctx, cfg, m)
	if err != nil {
		return nil, err
	}
	p.Ledger = store
	p.closers = append(p.closers, closeLedger)

	mb, err := OpenInbox(ctx, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Inbox = mb
	p.closers = append(p.closers, func() { mb.Close() })

	if !dryRun {
		pub, err := NewPublisher(cfg, m, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		if pub != nil {
			p.Publisher = pub
			p.closers = append(p.closers, func() { pub.Close() })
		}
	}

	var target ledger.Store = store
	if dryRun {
		snapshot, err := ledger.Snapshot(ctx, store, cfg.BankInitialBalance, cfg.DedupWindow)
		if err != nil {
			p.Close()
			return nil, err
		}
		target = snapshot
	}

	p.Prices = NewPriceClient(cfg, m, logger)

	runCfg := reconcile.ConfigFrom(cfg)
	runCfg.DryRun = dryRun

	p.Orchestrator = reconcile.New(runCfg, reconcile.Deps{
		Mailbox:   mb,
		Ledger:    target,
		Parsers:   parser.DefaultRegistry(extract.NewFundTable(cfg.Funds)),
		Prices:    p.Prices,
		Publisher: p.Publisher,
		Notifier:  NewNotifier(cfg, p.Publisher, m, logger),
		Metrics:   m,
		Logger:    logger,
	})
	return p, nil
}
