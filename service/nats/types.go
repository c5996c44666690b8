package nats

import (
	"time"

	"github.com/brojonat/myfinance/service/ledger"
)

// LedgerEvent is published to "ledger.{kind}" whenever a record is written.
type LedgerEvent struct {
	Kind      string    `json:"kind"` // fund, trade, bank, expense
	Source    string    `json:"source"`
	MessageID string    `json:"message_id,omitempty"`
	Date      string    `json:"date"`
	Name      string    `json:"name"`
	Amount    int64     `json:"amount"`
	Ticker    string    `json:"ticker,omitempty"`
	Quantity  string    `json:"quantity,omitempty"`
	Balance   *int64    `json:"balance,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Published time.Time `json:"published_at"`
}

// AlertEvent is published to "alerts.{severity}".
type AlertEvent struct {
	Severity  string            `json:"severity"` // warning, error
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Fields    map[string]string `json:"fields,omitempty"`
	Published time.Time         `json:"published_at"`
}

// FromFundRecord converts a fund or trade record to a LedgerEvent.
func FromFundRecord(source string, r ledger.FundRecord) *LedgerEvent {
	kind := r.Kind
	if kind == "" {
		kind = ledger.KindFund
	}
	return &LedgerEvent{
		Kind:      kind,
		Source:    source,
		MessageID: r.MessageID,
		Date:      r.Date.Format(ledger.DateLayout),
		Name:      r.Name,
		Amount:    r.Amount,
		Ticker:    r.Ticker,
		Quantity:  r.Quantity.String(),
		Published: time.Now().UTC(),
	}
}

// FromBankRecord converts a bank record to a LedgerEvent. Amount is signed.
func FromBankRecord(source string, r ledger.BankRecord) *LedgerEvent {
	balance := r.Balance
	return &LedgerEvent{
		Kind:      "bank",
		Source:    source,
		MessageID: r.MessageID,
		Date:      r.Date.Format(ledger.DateLayout),
		Name:      r.Description,
		Amount:    r.SignedAmount(),
		Balance:   &balance,
		Published: time.Now().UTC(),
	}
}

// FromExpenseRecord converts a card charge to a LedgerEvent.
func FromExpenseRecord(source string, r ledger.ExpenseRecord) *LedgerEvent {
	return &LedgerEvent{
		Kind:      "expense",
		Source:    source,
		MessageID: r.MessageID,
		Date:      r.Date.Format(ledger.DateLayout),
		Name:      r.Merchant,
		Amount:    r.Amount,
		Published: time.Now().UTC(),
	}
}
