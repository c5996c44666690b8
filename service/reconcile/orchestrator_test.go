package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/myfinance/service/alert"
	"github.com/brojonat/myfinance/service/config"
	"github.com/brojonat/myfinance/service/extract"
	"github.com/brojonat/myfinance/service/inbox"
	"github.com/brojonat/myfinance/service/ledger"
	natspkg "github.com/brojonat/myfinance/service/nats"
	"github.com/brojonat/myfinance/service/parser"
	"github.com/brojonat/myfinance/service/price"
)

type mockPrices struct {
	mock.Mock
}

func (m *mockPrices) LookupPrice(ctx context.Context, id string, target time.Time) (price.Lookup, error) {
	args := m.Called(ctx, id, target)
	return args.Get(0).(price.Lookup), args.Error(1)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingNotifier) Notify(ctx context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) All() []alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alert.Alert(nil), r.alerts...)
}

// flakyMailbox wraps a MemoryMailbox with injectable failures.
type flakyMailbox struct {
	*inbox.MemoryMailbox
	searchErr error
	markErr   error
	searches  int
}

func (f *flakyMailbox) Search(ctx context.Context, q inbox.Query) ([]*inbox.Message, error) {
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.MemoryMailbox.Search(ctx, q)
}

func (f *flakyMailbox) MarkProcessed(ctx context.Context, id string) error {
	if f.markErr != nil {
		return f.markErr
	}
	return f.MemoryMailbox.MarkProcessed(ctx, id)
}

type fixture struct {
	mailbox *flakyMailbox
	store   *ledger.MemoryStore
	prices  *mockPrices
	pub     *natspkg.MockPublisher
	alerts  *recordingNotifier
	cfg     Config
	deps    Deps
}

func testFunds() *extract.FundTable {
	return extract.NewFundTable([]config.FundEntry{
		{Keyword: "Fund A", Ticker: "X1", DisplayName: "Fund A Display"},
		{Keyword: "Fund A Global", Ticker: "X2", DisplayName: "Fund A Global Display"},
	})
}

func testSources() []SourceSpec {
	q := func(raw string) inbox.Query { return inbox.Query{Raw: raw, MaxItems: 20} }
	return []SourceSpec{
		{Name: "fund", Source: parser.SourceFund, Query: q("subject:約定 is:unread")},
		{Name: "bank", Source: parser.SourceBank, Query: q("from:smbc.co.jp is:unread")},
		{Name: "rakuten", Source: parser.SourceTrade, Query: q("from:rakuten-sec.co.jp is:unread")},
		{Name: "sbi", Source: parser.SourceTrade, Query: q("from:sbisec.co.jp is:unread")},
		{Name: "card", Source: parser.SourceCard, Query: q("from:rakuten-card.co.jp is:unread")},
	}
}

func newFixture(msgs ...*inbox.Message) *fixture {
	f := &fixture{
		mailbox: &flakyMailbox{MemoryMailbox: inbox.NewMemoryMailbox(msgs...)},
		store:   ledger.NewMemoryStore(1000000, 500),
		prices:  &mockPrices{},
		pub:     natspkg.NewMockPublisher(),
		alerts:  &recordingNotifier{},
		cfg:     Config{Sources: testSources(), UnitsPerShareBasis: 10000},
	}
	f.deps = Deps{
		Mailbox:   f.mailbox,
		Ledger:    f.store,
		Parsers:   parser.DefaultRegistry(testFunds()),
		Prices:    f.prices,
		Publisher: f.pub,
		Notifier:  f.alerts,
		Logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	return f
}

func (f *fixture) orchestrator() *Orchestrator {
	return New(f.cfg, f.deps)
}

var jan15 = extract.Day(2025, time.January, 15)

func fundMessage(id string) *inbox.Message {
	return &inbox.Message{
		ID:         id,
		Subject:    "Fund A 約定のお知らせ",
		TextBody:   "約定日：2025/01/15 買付金額：33,333円",
		ReceivedAt: time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC),
		Unread:     true,
	}
}

func (f *fixture) unread(id string) bool {
	m, ok := f.mailbox.Get(id)
	return ok && m.Unread
}

func TestRun_FundPurchaseWritten(t *testing.T) {
	f := newFixture(fundMessage("m1"))
	f.prices.On("LookupPrice", mock.Anything, "X1", jan15).
		Return(price.Lookup{Price: 29850, Date: jan15, Available: true}, nil).Once()

	summary, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Written)

	records, err := f.store.ListFundRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "2025/01/15", r.Date.Format(ledger.DateLayout))
	assert.Equal(t, "Fund A Display", r.Name)
	assert.Equal(t, int64(33333), r.Amount)
	assert.True(t, decimal.NewFromInt(29850).Equal(r.UnitPrice))
	assert.True(t, decimal.NewFromInt(11167).Equal(r.Quantity))
	assert.Equal(t, "X1", r.Ticker)

	assert.False(t, f.unread("m1"))
	processed, err := f.store.IsProcessed(context.Background(), "id:m1")
	require.NoError(t, err)
	assert.True(t, processed)

	events := f.pub.LedgerEventsOfKind(ledger.KindFund)
	require.Len(t, events, 1)
	assert.Equal(t, summary.RunID, events[0].RunID)
	assert.Empty(t, f.alerts.All())
	f.prices.AssertExpectations(t)
}

func TestRun_DuplicateStillMarksProcessed(t *testing.T) {
	f := newFixture(fundMessage("m2"))
	_, err := f.store.AppendFundRecord(context.Background(), ledger.FundRecord{
		Date: jan15, Name: "Fund A Display", Amount: 33333, Ticker: "X1",
		UnitPrice: decimal.NewFromInt(29850), Quantity: decimal.NewFromInt(11167),
	})
	require.NoError(t, err)
	f.prices.On("LookupPrice", mock.Anything, "X1", jan15).
		Return(price.Lookup{Price: 29850, Available: true}, nil)

	summary, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Duplicate)
	assert.Equal(t, 0, summary.Written)

	records, err := f.store.ListFundRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.False(t, f.unread("m2"))
	assert.Empty(t, f.pub.LedgerEvents())
}

func TestRun_PriceNotYetAvailableLeavesMessageUnread(t *testing.T) {
	f := newFixture(fundMessage("m3"))
	f.prices.On("LookupPrice", mock.Anything, "X1", jan15).
		Return(price.Lookup{Available: false, Reason: "no price for date"}, nil)

	summary, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NotYetAvailable)

	records, err := f.store.ListFundRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.True(t, f.unread("m3"))
	assert.Empty(t, f.mailbox.Marked())
	assert.Empty(t, f.alerts.All(), "expected absence is not escalated")
}

func TestRun_AbstainedLeavesMessageUnread(t *testing.T) {
	msg := fundMessage("m4")
	msg.TextBody = "約定日：2025/01/15 Fund A を買付しました"
	f := newFixture(msg)

	summary, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Sources, 5)
	items := summary.Sources[0].Items
	require.Len(t, items, 1)
	assert.Equal(t, OutcomeAbstained, items[0].Outcome)
	assert.Equal(t, parser.FieldAmount, items[0].Missing)
	assert.True(t, f.unread("m4"))
	f.prices.AssertNotCalled(t, "LookupPrice", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_AlreadyProcessedResyncsMailbox(t *testing.T) {
	f := newFixture(fundMessage("m5"))
	f.prices.On("LookupPrice", mock.Anything, "X1", jan15).
		Return(price.Lookup{Price: 29850, Available: true}, nil).Once()

	f.mailbox.markErr = errors.New("imap timeout")
	summary, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Written)
	assert.True(t, f.unread("m5"))

	f.mailbox.markErr = nil
	summary, err = f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AlreadyDone)
	assert.False(t, f.unread("m5"))

	records, err := f.store.ListFundRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	f.prices.AssertExpectations(t)
}

func TestRun_AllSourcesInOrder(t *testing.T) {
	received := time.Date(2025, 1, 15, 20, 0, 0, 0, time.UTC)
	f := newFixture(
		&inbox.Message{
			ID: "bank1", From: "info@smbc.co.jp", Subject: "【三井住友銀行】入出金のお知らせ",
			TextBody:   "お取引日：2025年1月15日\nお取引内容：振込出金\nお取引金額：50,000円\n残高：1,234,567円",
			ReceivedAt: received, Unread: true,
		},
		&inbox.Message{
			ID: "card1", From: "info@mail.rakuten-card.co.jp", Subject: "カード利用のお知らせ(本人ご利用分)",
			TextBody:   "■利用日: 2025/01/15\n■利用先: AMAZON.CO.JP\n■支払方法: 1回払い\n■利用金額: 3,980 円",
			ReceivedAt: received, Unread: true,
		},
		fundMessage("fund1"),
	)
	f.prices.On("LookupPrice", mock.Anything, "X1", jan15).
		Return(price.Lookup{Price: 29850, Available: true}, nil)

	summary, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Written)
	assert.Equal(t, []string{"fund1", "bank1", "card1"}, f.mailbox.Marked())

	var order []string
	for _, s := range summary.Sources {
		order = append(order, s.Source)
	}
	assert.Equal(t, []string{"fund", "bank", "rakuten", "sbi", "card"}, order)

	bal, err := f.store.CurrentBankBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(950000), bal.Balance)

	bankEvents := f.pub.LedgerEventsOfKind("bank")
	require.Len(t, bankEvents, 1)
	require.NotNil(t, bankEvents[0].Balance)
	assert.Equal(t, int64(950000), *bankEvents[0].Balance)
	assert.Len(t, f.pub.LedgerEventsOfKind("expense"), 1)

	expenses, err := f.store.ListExpenseRecords(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, "AMAZON.CO.JP", expenses[0].Merchant)
	assert.Equal(t, "id:card1", expenses[0].MessageID)
}

func TestRun_ConfigFaultAbortsBeforeAnyItem(t *testing.T) {
	f := newFixture(fundMessage("m6"))
	f.cfg.Sources[1].Query.Raw = ""

	summary, err := f.orchestrator().Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Zero(t, summary.Total)
	assert.Zero(t, f.mailbox.searches)

	alerts := f.alerts.All()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.SeverityError, alerts[0].Severity)
	assert.Equal(t, "configuration fault", alerts[0].Subject)
}

func TestRun_MissingPriceClientIsConfigFault(t *testing.T) {
	f := newFixture()
	f.deps.Prices = nil

	_, err := f.orchestrator().Run(context.Background())
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "price client", ce.Field)
}

func TestRun_EmptyFundTableIsConfigFault(t *testing.T) {
	f := newFixture(fundMessage("m9"))
	f.deps.Parsers = parser.DefaultRegistry(extract.NewFundTable(nil))

	_, err := f.orchestrator().Run(context.Background())
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "fund table", ce.Field)
	assert.Zero(t, f.mailbox.searches)
	assert.True(t, f.unread("m9"))
}

func TestRun_LedgerUnreachableAborts(t *testing.T) {
	f := newFixture(fundMessage("m7"))
	f.store.SetPingError(errors.New("connection refused"))

	_, err := f.orchestrator().Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Zero(t, f.mailbox.searches)
	assert.Len(t, f.alerts.All(), 1)
}

func TestRun_SearchFailureAborts(t *testing.T) {
	f := newFixture(fundMessage("m8"))
	f.mailbox.searchErr = errors.New("quota exceeded")

	_, err := f.orchestrator().Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search fund")
	assert.Equal(t, 1, f.mailbox.searches)
	alerts := f.alerts.All()
	require.Len(t, alerts, 1)
	assert.Equal(t, "reconciliation run aborted", alerts[0].Subject)
}

// panicParser stands in for the fund parser and panics on one message.
type panicParser struct {
	parser.Parser
	panicOn string
}

func (p panicParser) Parse(msg *inbox.Message) (parser.Result, error) {
	if msg.ID == p.panicOn {
		panic("template changed")
	}
	return p.Parser.Parse(msg)
}

func TestRun_FaultIsIsolatedPerItem(t *testing.T) {
	bad := fundMessage("bad")
	bad.ReceivedAt = bad.ReceivedAt.Add(-time.Hour)
	f := newFixture(bad, fundMessage("good"))
	funds := testFunds()
	f.deps.Parsers = parser.NewRegistry(
		panicParser{Parser: parser.NewFundParser(funds), panicOn: "bad"},
		parser.NewBankParser(),
		parser.NewBrokerParser(parser.RakutenSecurities, funds),
		parser.NewBrokerParser(parser.SBISecurities, funds),
		parser.NewCardParser(),
	)
	f.prices.On("LookupPrice", mock.Anything, "X1", jan15).
		Return(price.Lookup{Price: 29850, Available: true}, nil)

	summary, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Faulted)
	assert.Equal(t, 1, summary.Written)
	assert.True(t, f.unread("bad"))
	assert.False(t, f.unread("good"))

	items := summary.Sources[0].Items
	require.Len(t, items, 2)
	assert.Equal(t, OutcomeFaulted, items[0].Outcome)
	assert.Contains(t, items[0].Reason, "template changed")

	alerts := f.alerts.All()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, "1 item(s) faulted", alerts[0].Subject)
}

func TestRun_PriceTransportErrorFaults(t *testing.T) {
	f := newFixture(fundMessage("m9"))
	f.prices.On("LookupPrice", mock.Anything, "X1", jan15).
		Return(price.Lookup{}, context.DeadlineExceeded)

	summary, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Faulted)
	assert.True(t, f.unread("m9"))
}

func TestRun_DryRunTouchesNothingOutside(t *testing.T) {
	f := newFixture(fundMessage("m10"))
	f.cfg.DryRun = true
	f.prices.On("LookupPrice", mock.Anything, "X1", jan15).
		Return(price.Lookup{Price: 29850, Available: true}, nil)

	summary, err := f.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Written)
	assert.True(t, f.unread("m10"))
	assert.Empty(t, f.pub.LedgerEvents())
}

func TestRun_CanceledContextStops(t *testing.T) {
	f := newFixture(fundMessage("m11"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orchestrator().Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSource(t *testing.T) {
	f := newFixture(fundMessage("m12"))
	f.prices.On("LookupPrice", mock.Anything, "X1", jan15).
		Return(price.Lookup{Price: 29850, Available: true}, nil)
	o := f.orchestrator()

	ss, err := o.RunSource(context.Background(), "bank")
	require.NoError(t, err)
	assert.Zero(t, ss.Fetched)
	assert.True(t, f.unread("m12"))

	ss, err = o.RunSource(context.Background(), "fund")
	require.NoError(t, err)
	assert.Equal(t, 1, ss.Count(OutcomeWritten))

	_, err = o.RunSource(context.Background(), "crypto")
	assert.True(t, IsConfigError(err))
}

func TestSourcesFromConfig(t *testing.T) {
	cfg := &config.Config{
		FundQuery: "f", BankQuery: "b", RakutenBrokerQuery: "r", SBIBrokerQuery: "s", CardQuery: "c",
		MaxItemsPerSource: 7, UnitsPerShareBasis: 10000,
	}
	rc := ConfigFrom(cfg)
	o := New(rc, Deps{})
	assert.Equal(t, []string{"fund", "bank", "rakuten", "sbi", "card"}, o.SourceNames())
	for _, s := range rc.Sources {
		assert.Equal(t, 7, s.Query.MaxItems)
	}
	assert.Equal(t, int64(10000), rc.UnitsPerShareBasis)
}

func TestOutcome_MarksProcessed(t *testing.T) {
	for _, o := range []Outcome{OutcomeWritten, OutcomeDuplicate, OutcomeAlreadyProcessed} {
		assert.True(t, o.MarksProcessed(), o)
	}
	for _, o := range []Outcome{OutcomeAbstained, OutcomeNotYetAvailable, OutcomeFaulted} {
		assert.False(t, o.MarksProcessed(), o)
	}
}
