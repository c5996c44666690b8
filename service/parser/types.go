// Package parser turns notification mails into typed transaction facts.
// Each notification family has its own Parser; a parser either returns a
// complete Transaction or abstains, naming the first required field it
// could not establish.
package parser

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/myfinance/service/extract"
	"github.com/brojonat/myfinance/service/inbox"
)

// Source names a notification family.
type Source string

const (
	SourceFund  Source = "fund"
	SourceBank  Source = "bank"
	SourceTrade Source = "trade"
	SourceCard  Source = "card"
)

// Field names a required field a parser could not establish.
type Field string

const (
	FieldNone     Field = ""
	FieldText     Field = "text"
	FieldClass    Field = "classification"
	FieldDate     Field = "date"
	FieldAmount   Field = "amount"
	FieldIdentity Field = "identity"
)

// ErrNilMessage is returned for a missing message handle.
var ErrNilMessage = errors.New("nil message")

// Base holds the fields every transaction carries. Amount is in whole yen
// and is never zero.
type Base struct {
	OccurredOn time.Time `json:"occurred_on"`
	Amount     int64     `json:"amount"`
	MessageID  string    `json:"message_id"`
}

// Transaction is one of FundPurchase, BankMovement, SecurityTrade or CardCharge.
type Transaction interface {
	Source() Source
	Common() Base
	sealed()
}

// FundPurchase is a mutual fund purchase. Amount is positive.
type FundPurchase struct {
	Base
	FundKey     string `json:"fund_key"`
	Ticker      string `json:"ticker"`
	DisplayName string `json:"display_name"`
}

// BankMovement is a deposit (positive) or withdrawal (negative).
type BankMovement struct {
	Base
	Description string `json:"description"`
}

// SecurityTrade is a brokerage execution. Amount is negative for sells.
type SecurityTrade struct {
	Base
	SecurityName string            `json:"security_name"`
	Ticker       string            `json:"ticker"`
	Broker       string            `json:"broker"`
	Action       extract.Direction `json:"action"`
	UnitPrice    decimal.Decimal   `json:"unit_price"`
	Quantity     decimal.Decimal   `json:"quantity"`
}

// CardCharge is a card usage notice. Amount is positive.
type CardCharge struct {
	Base
	Merchant            string `json:"merchant"`
	PaymentMethod       string `json:"payment_method"`
	IsPreliminaryNotice bool   `json:"is_preliminary_notice"`
}

func (t FundPurchase) Source() Source  { return SourceFund }
func (t BankMovement) Source() Source  { return SourceBank }
func (t SecurityTrade) Source() Source { return SourceTrade }
func (t CardCharge) Source() Source    { return SourceCard }

func (b Base) Common() Base { return b }

func (FundPurchase) sealed()  {}
func (BankMovement) sealed()  {}
func (SecurityTrade) sealed() {}
func (CardCharge) sealed()    {}

// Result is the outcome of a parse: a transaction, or the field that was
// missing when the parser abstained.
type Result struct {
	Transaction Transaction
	Missing     Field
}

// Abstained reports whether no transaction was produced.
func (r Result) Abstained() bool {
	return r.Transaction == nil
}

func abstain(f Field) (Result, error) {
	return Result{Missing: f}, nil
}

func found(t Transaction) (Result, error) {
	return Result{Transaction: t}, nil
}

// Parser extracts one notification family. Parse returns an error only for
// structural faults; a message that merely lacks a field is an abstention.
type Parser interface {
	// Name identifies the parser, e.g. "fund" or "rakuten".
	Name() string
	Source() Source
	// Matches is the classification predicate for this family.
	Matches(msg *inbox.Message) bool
	Parse(msg *inbox.Message) (Result, error)
}
