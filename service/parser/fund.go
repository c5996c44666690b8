package parser

import (
	"strings"

	"github.com/brojonat/myfinance/service/extract"
	"github.com/brojonat/myfinance/service/inbox"
	"github.com/brojonat/myfinance/service/textnorm"
)

// FundParser reads mutual fund purchase confirmations.
type FundParser struct {
	funds  *extract.FundTable
	date   *extract.DateExtractor
	amount *extract.AmountExtractor
}

// NewFundParser builds a parser resolving funds through table.
func NewFundParser(table *extract.FundTable) *FundParser {
	return &FundParser{
		funds:  table,
		date:   extract.NewDateExtractor("約定日", "買付日", "受渡日", "注文日"),
		amount: extract.NewAmountExtractor("買付金額", "約定金額", "購入金額", "受渡金額", "注文金額"),
	}
}

// FundCount is the number of configured fund keywords.
func (p *FundParser) FundCount() int { return p.funds.Len() }

func (p *FundParser) Name() string   { return string(SourceFund) }
func (p *FundParser) Source() Source { return SourceFund }

func (p *FundParser) Matches(msg *inbox.Message) bool {
	if msg == nil {
		return false
	}
	body, _ := textnorm.Normalize(msg.TextBody, msg.HTMLBody)
	return isPurchaseNotice(msg.Subject, body)
}

func isPurchaseNotice(subject, body string) bool {
	text := textnorm.Fold(subject) + "\n" + body
	return strings.Contains(text, "約定") || strings.Contains(text, "買付")
}

func (p *FundParser) Parse(msg *inbox.Message) (Result, error) {
	if msg == nil {
		return Result{}, ErrNilMessage
	}
	body, ok := textnorm.Normalize(msg.TextBody, msg.HTMLBody)
	if !ok {
		return abstain(FieldText)
	}
	if !isPurchaseNotice(msg.Subject, body) {
		return abstain(FieldClass)
	}

	date, ok := p.date.Extract(body, msg.Subject)
	if !ok {
		return abstain(FieldDate)
	}
	amount, ok := p.amount.Extract(body)
	if !ok {
		return abstain(FieldAmount)
	}
	fund, ok := p.funds.Identify(msg.Subject, body)
	if !ok {
		return abstain(FieldIdentity)
	}

	return found(FundPurchase{
		Base:        Base{OccurredOn: date, Amount: amount, MessageID: msg.ID},
		FundKey:     fund.Keyword,
		Ticker:      fund.Ticker,
		DisplayName: fund.DisplayName,
	})
}
