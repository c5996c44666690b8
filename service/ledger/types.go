// Package ledger defines the durable record types, the store contract the
// reconciliation run writes through, and the portfolio summary read model.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and display rendering of record dates.
const DateLayout = "2006/01/02"

// AdjustmentDescription labels synthetic balance correction records.
const AdjustmentDescription = "残高調整"

// Record kinds stored in the fund ledger.
const (
	KindFund  = "fund"
	KindTrade = "trade"
)

// FundRecord is the persisted form of a fund purchase or a security trade.
type FundRecord struct {
	ID        int64           `json:"id,omitempty"`
	Date      time.Time       `json:"date"`
	Name      string          `json:"fundName"`
	Amount    int64           `json:"amount"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  decimal.Decimal `json:"quantity"`
	Ticker    string          `json:"ticker"`
	Kind      string          `json:"kind"`
	Broker    string          `json:"broker,omitempty"`
	Action    string          `json:"action,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
}

// BankRecord is one bank movement with the running balance after it.
type BankRecord struct {
	ID          int64     `json:"id,omitempty"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Deposit     int64     `json:"deposit"`
	Withdrawal  int64     `json:"withdrawal"`
	Balance     int64     `json:"balance"`
	MessageID   string    `json:"messageId,omitempty"`
}

// SignedAmount is positive for deposits and negative for withdrawals.
func (r BankRecord) SignedAmount() int64 {
	return r.Deposit - r.Withdrawal
}

// BankRecordFromAmount splits a signed amount into deposit and withdrawal.
func BankRecordFromAmount(date time.Time, description string, amount int64, messageID string) BankRecord {
	r := BankRecord{Date: date, Description: description, MessageID: messageID}
	if amount >= 0 {
		r.Deposit = amount
	} else {
		r.Withdrawal = -amount
	}
	return r
}

// ExpenseRecord is one card charge.
type ExpenseRecord struct {
	ID            int64     `json:"id,omitempty"`
	Date          time.Time `json:"date"`
	Merchant      string    `json:"merchant"`
	Amount        int64     `json:"amount"`
	PaymentMethod string    `json:"paymentMethod"`
	Preliminary   bool      `json:"preliminary"`
	MessageID     string    `json:"messageId,omitempty"`
}

// Balance is the current bank balance. LastUpdated is nil when the bank
// ledger is empty and Balance is the configured initial balance.
type Balance struct {
	Balance     int64      `json:"balance"`
	LastUpdated *time.Time `json:"lastUpdated"`
}

// Store is the ledger read/write surface. Append methods report false when
// the record duplicates an existing entry by (date, name or description,
// signed amount). A non-empty MessageID is recorded as processed in the
// same write, whether the record was new or a duplicate.
type Store interface {
	AppendFundRecord(ctx context.Context, r FundRecord) (bool, error)
	AppendBankRecord(ctx context.Context, r BankRecord) (bool, error)
	AppendExpenseRecord(ctx context.Context, r ExpenseRecord) (bool, error)

	ListFundRecords(ctx context.Context) ([]FundRecord, error)
	ListBankRecords(ctx context.Context, limit int) ([]BankRecord, error)
	ListExpenseRecords(ctx context.Context, limit int) ([]ExpenseRecord, error)

	CurrentBankBalance(ctx context.Context) (Balance, error)
	// AdjustBankBalance appends a correcting record equal to target minus
	// the current balance. It returns nil when the balance already matches.
	AdjustBankBalance(ctx context.Context, target int64, at time.Time) (*BankRecord, error)

	IsProcessed(ctx context.Context, messageKey string) (bool, error)
	Ping(ctx context.Context) error
}

func fundKey(r FundRecord) string {
	return dedupKey(r.Date, r.Name, r.Amount)
}

func bankKey(r BankRecord) string {
	return dedupKey(r.Date, r.Description, r.SignedAmount())
}

func expenseKey(r ExpenseRecord) string {
	return dedupKey(r.Date, r.Merchant, r.Amount)
}

func dedupKey(date time.Time, name string, amount int64) string {
	return fmt.Sprintf("%s|%s|%d", date.Format(DateLayout), name, amount)
}

// JSON renders dates as YYYY/MM/DD and decimals as bare numbers.

func (r FundRecord) MarshalJSON() ([]byte, error) {
	type alias FundRecord
	return json.Marshal(struct {
		alias
		Date      string      `json:"date"`
		UnitPrice json.Number `json:"unitPrice"`
		Quantity  json.Number `json:"quantity"`
	}{alias(r), r.Date.Format(DateLayout), json.Number(r.UnitPrice.String()), json.Number(r.Quantity.String())})
}

func (r *FundRecord) UnmarshalJSON(b []byte) error {
	type alias FundRecord
	aux := struct {
		*alias
		Date string `json:"date"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	return parseRecordDate(aux.Date, &r.Date)
}

func (r BankRecord) MarshalJSON() ([]byte, error) {
	type alias BankRecord
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias(r), r.Date.Format(DateLayout)})
}

func (r *BankRecord) UnmarshalJSON(b []byte) error {
	type alias BankRecord
	aux := struct {
		*alias
		Date string `json:"date"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	return parseRecordDate(aux.Date, &r.Date)
}

func (r ExpenseRecord) MarshalJSON() ([]byte, error) {
	type alias ExpenseRecord
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias(r), r.Date.Format(DateLayout)})
}

func (r *ExpenseRecord) UnmarshalJSON(b []byte) error {
	type alias ExpenseRecord
	aux := struct {
		*alias
		Date string `json:"date"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	return parseRecordDate(aux.Date, &r.Date)
}

func parseRecordDate(s string, dst *time.Time) error {
	if s == "" {
		return nil
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*dst = d
	return nil
}
