package parser

import (
	"strings"

	"github.com/brojonat/myfinance/service/extract"
	"github.com/brojonat/myfinance/service/inbox"
	"github.com/brojonat/myfinance/service/textnorm"
)

const defaultPaymentMethod = "カード"

// CardParser reads 楽天カード usage notices.
type CardParser struct {
	date     *extract.DateExtractor
	amount   *extract.AmountExtractor
	merchant *extract.LabelExtractor
	method   *extract.LabelExtractor
}

func NewCardParser() *CardParser {
	return &CardParser{
		date:     extract.NewDateExtractor("ご利用日", "利用日"),
		amount:   extract.NewAmountExtractor("ご利用金額", "利用金額").WithoutFallback(),
		merchant: extract.NewLabelExtractor("ご利用先", "利用先", "利用店名"),
		method:   extract.NewLabelExtractor("支払方法", "お支払方法"),
	}
}

func (p *CardParser) Name() string   { return string(SourceCard) }
func (p *CardParser) Source() Source { return SourceCard }

func (p *CardParser) Matches(msg *inbox.Message) bool {
	if msg == nil {
		return false
	}
	return strings.Contains(strings.ToLower(msg.From), "rakuten-card.co.jp") ||
		strings.Contains(textnorm.Fold(msg.Subject), "カード利用")
}

func (p *CardParser) Parse(msg *inbox.Message) (Result, error) {
	if msg == nil {
		return Result{}, ErrNilMessage
	}
	if !p.Matches(msg) {
		return abstain(FieldClass)
	}
	body, ok := textnorm.Normalize(msg.TextBody, msg.HTMLBody)
	if !ok {
		return abstain(FieldText)
	}

	date, ok := p.date.Extract(body, msg.Subject)
	if !ok {
		return abstain(FieldDate)
	}
	amount, ok := p.amount.Extract(body)
	if !ok {
		return abstain(FieldAmount)
	}
	merchant, ok := p.merchant.Extract(body)
	if !ok {
		return abstain(FieldIdentity)
	}
	method, ok := p.method.Extract(body)
	if !ok {
		method = defaultPaymentMethod
	}

	return found(CardCharge{
		Base:                Base{OccurredOn: date, Amount: amount, MessageID: msg.ID},
		Merchant:            merchant,
		PaymentMethod:       method,
		IsPreliminaryNotice: strings.Contains(msg.Subject+body, "速報"),
	})
}
