package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brojonat/myfinance/service/alert"
	"github.com/brojonat/myfinance/service/config"
	"github.com/brojonat/myfinance/service/inbox"
	"github.com/brojonat/myfinance/service/ledger"
	"github.com/brojonat/myfinance/service/metrics"
	natspkg "github.com/brojonat/myfinance/service/nats"
	"github.com/brojonat/myfinance/service/parser"
	"github.com/brojonat/myfinance/service/price"
)

// PriceLookup resolves the published price of a security on a date.
type PriceLookup interface {
	LookupPrice(ctx context.Context, securityID string, target time.Time) (price.Lookup, error)
}

// Config is the static part of a run.
type Config struct {
	Sources            []SourceSpec
	UnitsPerShareBasis int64
	// DryRun leaves the mailbox untouched and publishes nothing.
	DryRun bool
}

// Deps are the collaborators of a run. Publisher, Notifier and Metrics are
// optional.
type Deps struct {
	Mailbox   inbox.Mailbox
	Ledger    ledger.Store
	Parsers   *parser.Registry
	Prices    PriceLookup
	Publisher natspkg.Publisher
	Notifier  alert.Notifier
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Orchestrator runs the pipeline. Runs within one process are serialized.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	mu   sync.Mutex
}

// SourcesFromConfig returns the sources in processing order: fund
// purchases, bank movements, the brokers, then card charges.
func SourcesFromConfig(cfg *config.Config) []SourceSpec {
	q := func(raw string) inbox.Query {
		return inbox.Query{Raw: raw, MaxItems: cfg.MaxItemsPerSource}
	}
	return []SourceSpec{
		{Name: "fund", Source: parser.SourceFund, Query: q(cfg.FundQuery)},
		{Name: "bank", Source: parser.SourceBank, Query: q(cfg.BankQuery)},
		{Name: parser.RakutenSecurities.Name, Source: parser.SourceTrade, Query: q(cfg.RakutenBrokerQuery)},
		{Name: parser.SBISecurities.Name, Source: parser.SourceTrade, Query: q(cfg.SBIBrokerQuery)},
		{Name: "card", Source: parser.SourceCard, Query: q(cfg.CardQuery)},
	}
}

// ConfigFrom builds a run Config from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Sources:            SourcesFromConfig(cfg),
		UnitsPerShareBasis: cfg.UnitsPerShareBasis,
	}
}

func New(cfg Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  logger.With("component", "reconcile"),
	}
}

// SourceNames returns the configured source names in processing order.
func (o *Orchestrator) SourceNames() []string {
	names := make([]string, len(o.cfg.Sources))
	for i, s := range o.cfg.Sources {
		names[i] = s.Name
	}
	return names
}

// Check validates the static configuration. It returns a *ConfigError.
func (o *Orchestrator) Check() error {
	switch {
	case o.deps.Mailbox == nil:
		return &ConfigError{Field: "mailbox", Reason: "is not configured"}
	case o.deps.Ledger == nil:
		return &ConfigError{Field: "ledger", Reason: "is not configured"}
	case o.deps.Parsers == nil:
		return &ConfigError{Field: "parsers", Reason: "are not configured"}
	case len(o.cfg.Sources) == 0:
		return &ConfigError{Field: "sources", Reason: "are empty"}
	case o.cfg.UnitsPerShareBasis <= 0:
		return &ConfigError{Field: "units per share basis", Reason: "must be positive"}
	}
	for _, s := range o.cfg.Sources {
		p, err := o.deps.Parsers.Get(s.Name)
		if err != nil {
			return &ConfigError{Field: "source " + s.Name, Reason: "has no parser"}
		}
		if s.Query.Raw == "" {
			return &ConfigError{Field: "source " + s.Name, Reason: "has an empty query"}
		}
		if s.Query.MaxItems <= 0 {
			return &ConfigError{Field: "source " + s.Name, Reason: "needs a positive max item count"}
		}
		if p.Source() == parser.SourceFund && o.deps.Prices == nil {
			return &ConfigError{Field: "price client", Reason: "is required for fund purchases"}
		}
		if fc, ok := p.(interface{ FundCount() int }); ok && fc.FundCount() == 0 {
			return &ConfigError{Field: "fund table", Reason: "is empty"}
		}
	}
	return nil
}

// Run processes every source in order. A configuration fault, an
// unreachable ledger or a failed mailbox search aborts the run; faults on
// single items are counted and the run continues.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: time.Now()}
	log := o.log.With("run_id", summary.RunID)

	if err := o.preflight(ctx, log); err != nil {
		o.finish(summary, "aborted")
		return summary, err
	}

	for _, spec := range o.cfg.Sources {
		ss, err := o.runSource(ctx, log, summary.RunID, spec)
		if ss != nil {
			summary.add(ss)
		}
		if err != nil {
			o.finish(summary, "aborted")
			o.notify(ctx, alert.Alert{
				Severity: alert.SeverityError,
				Subject:  "reconciliation run aborted",
				Body:     err.Error(),
				Fields:   map[string]string{"run_id": summary.RunID, "source": spec.Name},
			})
			return summary, err
		}
	}

	o.finish(summary, "ok")
	log.Info("reconciliation run finished",
		"total", summary.Total,
		"written", summary.Written,
		"duplicate", summary.Duplicate,
		"already_processed", summary.AlreadyDone,
		"abstained", summary.Abstained,
		"not_yet_available", summary.NotYetAvailable,
		"faulted", summary.Faulted,
		"elapsed", summary.Elapsed,
	)
	o.notifyFaults(ctx, summary.RunID, summary.Sources...)
	return summary, nil
}

// RunSource processes a single named source.
func (o *Orchestrator) RunSource(ctx context.Context, name string) (*SourceSummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	runID := uuid.NewString()
	log := o.log.With("run_id", runID)

	var spec *SourceSpec
	for i := range o.cfg.Sources {
		if o.cfg.Sources[i].Name == name {
			spec = &o.cfg.Sources[i]
		}
	}
	if spec == nil {
		return nil, &ConfigError{Field: "source " + name, Reason: "is not configured"}
	}
	if err := o.preflight(ctx, log); err != nil {
		return nil, err
	}

	ss, err := o.runSource(ctx, log, runID, *spec)
	if err != nil {
		return ss, err
	}
	o.notifyFaults(ctx, runID, ss)
	return ss, nil
}

func (o *Orchestrator) preflight(ctx context.Context, log *slog.Logger) error {
	if err := o.Check(); err != nil {
		log.Error("configuration fault, run aborted", "error", err)
		o.notify(ctx, alert.Alert{Severity: alert.SeverityError, Subject: "configuration fault", Body: err.Error()})
		return err
	}
	if err := o.deps.Ledger.Ping(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
		log.Error("run aborted", "error", err)
		o.notify(ctx, alert.Alert{Severity: alert.SeverityError, Subject: "ledger unreachable", Body: err.Error()})
		return err
	}
	return nil
}

func (o *Orchestrator) finish(s *RunSummary, status string) {
	s.Elapsed = time.Since(s.StartedAt)
	o.deps.Metrics.RecordRun(status, s.Elapsed.Seconds())
}

// runSource searches the mailbox and processes the results sequentially,
// oldest first, so later items observe earlier writes.
func (o *Orchestrator) runSource(ctx context.Context, log *slog.Logger, runID string, spec SourceSpec) (*SourceSummary, error) {
	start := time.Now()
	ss := &SourceSummary{Source: spec.Name}
	log = log.With("source", spec.Name)

	p, err := o.deps.Parsers.Get(spec.Name)
	if err != nil {
		return ss, &ConfigError{Field: "source " + spec.Name, Reason: "has no parser"}
	}

	msgs, err := o.deps.Mailbox.Search(ctx, spec.Query)
	if err != nil {
		return ss, fmt.Errorf("search %s: %w", spec.Name, err)
	}
	ss.Fetched = len(msgs)
	o.deps.Metrics.RecordMessagesFetched(spec.Name, len(msgs))
	log.Debug("fetched candidate messages", "count", len(msgs))

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			ss.Elapsed = time.Since(start)
			return ss, err
		}
		res := o.processItem(ctx, log, runID, spec, p, msg)
		o.deps.Metrics.RecordOutcome(spec.Name, string(res.Outcome))
		ss.Items = append(ss.Items, res)
	}
	ss.Elapsed = time.Since(start)
	return ss, nil
}

// processItem drives one message to a terminal outcome. Panics and errors
// are confined to the item.
func (o *Orchestrator) processItem(ctx context.Context, log *slog.Logger, runID string, spec SourceSpec, p parser.Parser, msg *inbox.Message) (res ItemResult) {
	if msg == nil {
		return ItemResult{Outcome: OutcomeFaulted, Reason: parser.ErrNilMessage.Error()}
	}
	res = ItemResult{MessageID: msg.ID, Key: msg.Key(), Subject: msg.Subject}
	log = log.With("message_id", msg.ID, "subject", msg.Subject)

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFaulted
			res.Reason = fmt.Sprintf("panic: %v", r)
			log.Error("item faulted", "panic", r)
		}
	}()

	fault := func(stage string, err error) ItemResult {
		res.Outcome = OutcomeFaulted
		res.Reason = fmt.Sprintf("%s: %v", stage, err)
		log.Error("item faulted", "stage", stage, "error", err)
		return res
	}

	processed, err := o.deps.Ledger.IsProcessed(ctx, res.Key)
	if err != nil {
		return fault("idempotency check", err)
	}
	if processed {
		res.Outcome = OutcomeAlreadyProcessed
		o.markMailbox(ctx, log, msg)
		log.Info("message already processed")
		return res
	}

	if !p.Matches(msg) {
		res.Outcome = OutcomeAbstained
		res.Missing = parser.FieldClass
		log.Info("message does not belong to source")
		return res
	}
	parsed, err := p.Parse(msg)
	if err != nil {
		return fault("parse", err)
	}
	if parsed.Abstained() {
		res.Outcome = OutcomeAbstained
		res.Missing = parsed.Missing
		log.Info("extraction abstained", "missing", parsed.Missing)
		return res
	}

	var (
		written bool
		event   *natspkg.LedgerEvent
	)
	switch tx := parsed.Transaction.(type) {
	case parser.FundPurchase:
		lookup, err := o.deps.Prices.LookupPrice(ctx, tx.Ticker, tx.OccurredOn)
		if err != nil {
			return fault("price lookup", err)
		}
		if !lookup.Available {
			res.Outcome = OutcomeNotYetAvailable
			res.Reason = lookup.Reason
			log.Info("price not yet available", "ticker", tx.Ticker, "date", tx.OccurredOn.Format(ledger.DateLayout), "reason", lookup.Reason)
			return res
		}
		units, err := price.CalculateQuantity(tx.Amount, lookup.Price, o.cfg.UnitsPerShareBasis)
		if err != nil {
			return fault("quantity", err)
		}
		rec := ledger.FundRecord{
			Date:      tx.OccurredOn,
			Name:      tx.DisplayName,
			Amount:    tx.Amount,
			UnitPrice: decimal.NewFromInt(lookup.Price),
			Quantity:  decimal.NewFromInt(units),
			Ticker:    tx.Ticker,
			Kind:      ledger.KindFund,
			MessageID: res.Key,
		}
		if written, err = o.deps.Ledger.AppendFundRecord(ctx, rec); err != nil {
			return fault("ledger append", err)
		}
		event = natspkg.FromFundRecord(spec.Name, rec)

	case parser.SecurityTrade:
		rec := ledger.FundRecord{
			Date:      tx.OccurredOn,
			Name:      tx.SecurityName,
			Amount:    tx.Amount,
			UnitPrice: tx.UnitPrice,
			Quantity:  tx.Quantity,
			Ticker:    tx.Ticker,
			Kind:      ledger.KindTrade,
			Broker:    tx.Broker,
			Action:    string(tx.Action),
			MessageID: res.Key,
		}
		if written, err = o.deps.Ledger.AppendFundRecord(ctx, rec); err != nil {
			return fault("ledger append", err)
		}
		event = natspkg.FromFundRecord(spec.Name, rec)

	case parser.BankMovement:
		rec := ledger.BankRecordFromAmount(tx.OccurredOn, tx.Description, tx.Amount, res.Key)
		if written, err = o.deps.Ledger.AppendBankRecord(ctx, rec); err != nil {
			return fault("ledger append", err)
		}
		event = natspkg.FromBankRecord(spec.Name, rec)
		event.Balance = nil
		if written {
			if bal, err := o.deps.Ledger.CurrentBankBalance(ctx); err == nil {
				event.Balance = &bal.Balance
			}
		}

	case parser.CardCharge:
		rec := ledger.ExpenseRecord{
			Date:          tx.OccurredOn,
			Merchant:      tx.Merchant,
			Amount:        tx.Amount,
			PaymentMethod: tx.PaymentMethod,
			Preliminary:   tx.IsPreliminaryNotice,
			MessageID:     res.Key,
		}
		if written, err = o.deps.Ledger.AppendExpenseRecord(ctx, rec); err != nil {
			return fault("ledger append", err)
		}
		event = natspkg.FromExpenseRecord(spec.Name, rec)

	default:
		return fault("dispatch", fmt.Errorf("unsupported transaction %T", tx))
	}

	if written {
		res.Outcome = OutcomeWritten
		log.Info("ledger record written", "amount", parsed.Transaction.Common().Amount)
		o.publish(ctx, log, runID, event)
	} else {
		res.Outcome = OutcomeDuplicate
		log.Info("duplicate ledger record, skipped")
	}
	o.markMailbox(ctx, log, msg)
	return res
}

// markMailbox keeps the mailbox flag in sync with the ledger's processed
// key. Failures are logged only; the next run sees the key and retries.
func (o *Orchestrator) markMailbox(ctx context.Context, log *slog.Logger, msg *inbox.Message) {
	if o.cfg.DryRun {
		return
	}
	if err := o.deps.Mailbox.MarkProcessed(ctx, msg.ID); err != nil {
		log.Warn("failed to mark message processed", "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, log *slog.Logger, runID string, event *natspkg.LedgerEvent) {
	if o.cfg.DryRun || o.deps.Publisher == nil || event == nil {
		return
	}
	event.RunID = runID
	if err := o.deps.Publisher.PublishLedgerEvent(ctx, event); err != nil {
		log.Warn("failed to publish ledger event", "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, a alert.Alert) {
	if o.deps.Notifier == nil {
		return
	}
	a.At = time.Now()
	if err := o.deps.Notifier.Notify(ctx, a); err != nil {
		o.log.Warn("failed to deliver alert", "subject", a.Subject, "error", err)
	}
}

// notifyFaults sends one alert listing every faulted item.
func (o *Orchestrator) notifyFaults(ctx context.Context, runID string, sources ...*SourceSummary) {
	fields := map[string]string{"run_id": runID}
	n := 0
	for _, s := range sources {
		for _, f := range s.Faults() {
			n++
			fields[s.Source+"#"+strconv.Itoa(n)] = f.Subject + ": " + f.Reason
		}
	}
	if n == 0 {
		return
	}
	o.notify(ctx, alert.Alert{
		Severity: alert.SeverityWarning,
		Subject:  fmt.Sprintf("%d item(s) faulted", n),
		Body:     "Some notifications could not be processed and remain unread for the next run.",
		Fields:   fields,
	})
}

// IsConfigError reports whether err is a configuration fault.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
