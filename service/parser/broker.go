package parser

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/brojonat/myfinance/service/extract"
	"github.com/brojonat/myfinance/service/inbox"
	"github.com/brojonat/myfinance/service/textnorm"
)

// BrokerProfile is one broker's notification layout.
type BrokerProfile struct {
	Name          string
	SenderDomain  string
	DateLabels    []string
	NameLabels    []string
	CodeLabels    []string
	AmountLabels  []string
	PriceLabels   []string
	QuantityLabel []string
	SellWords     []string
}

// RakutenSecurities is the layout of 楽天証券 execution notices.
var RakutenSecurities = BrokerProfile{
	Name:          "rakuten",
	SenderDomain:  "rakuten-sec.co.jp",
	DateLabels:    []string{"約定日", "受渡日"},
	NameLabels:    []string{"銘柄名", "ファンド名", "銘柄"},
	CodeLabels:    []string{"銘柄コード", "コード"},
	AmountLabels:  []string{"受渡金額", "約定代金", "約定金額"},
	PriceLabels:   []string{"約定単価", "約定価格", "基準価額", "単価"},
	QuantityLabel: []string{"約定数量", "数量", "口数", "株数"},
	SellWords:     extract.DefaultSellWords,
}

// SBISecurities is the layout of SBI証券 execution notices.
var SBISecurities = BrokerProfile{
	Name:          "sbi",
	SenderDomain:  "sbisec.co.jp",
	DateLabels:    []string{"約定日", "約定日時", "注文日"},
	NameLabels:    []string{"銘柄名", "ファンド名", "銘柄"},
	CodeLabels:    []string{"銘柄コード", "コード"},
	AmountLabels:  []string{"約定金額", "受渡金額", "概算受渡金額"},
	PriceLabels:   []string{"約定単価", "約定価格", "単価"},
	QuantityLabel: []string{"約定株数", "約定数量", "数量"},
	SellWords:     extract.DefaultSellWords,
}

// BrokerParser reads execution notices for one broker.
type BrokerParser struct {
	profile  BrokerProfile
	date     *extract.DateExtractor
	amount   *extract.AmountExtractor
	security *extract.SecurityExtractor
	price    *extract.NumberExtractor
	quantity *extract.NumberExtractor
}

// NewBrokerParser builds a parser for profile. funds backs the security
// lookup for brokers that also sell index funds; it may be nil.
func NewBrokerParser(profile BrokerProfile, funds *extract.FundTable) *BrokerParser {
	return &BrokerParser{
		profile: profile,
		date:    extract.NewDateExtractor(profile.DateLabels...),
		// A missing settlement amount is derived from price and quantity instead.
		amount:   extract.NewAmountExtractor(profile.AmountLabels...).WithoutFallback(),
		security: extract.NewSecurityExtractor(profile.NameLabels, profile.CodeLabels, funds),
		price:    extract.NewNumberExtractor(profile.PriceLabels...),
		quantity: extract.NewNumberExtractor(profile.QuantityLabel...),
	}
}

func (p *BrokerParser) Name() string   { return p.profile.Name }
func (p *BrokerParser) Source() Source { return SourceTrade }

func (p *BrokerParser) Matches(msg *inbox.Message) bool {
	if msg == nil {
		return false
	}
	if !strings.Contains(strings.ToLower(msg.From), p.profile.SenderDomain) {
		return false
	}
	body, _ := textnorm.Normalize(msg.TextBody, msg.HTMLBody)
	return strings.Contains(textnorm.Fold(msg.Subject)+"\n"+body, "約定")
}

func (p *BrokerParser) Parse(msg *inbox.Message) (Result, error) {
	if msg == nil {
		return Result{}, ErrNilMessage
	}
	if !strings.Contains(strings.ToLower(msg.From), p.profile.SenderDomain) {
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

	price, hasPrice := p.price.Extract(body)
	qty, hasQty := p.quantity.Extract(body)
	amount, ok := p.amount.Extract(body)
	if !ok && hasPrice && hasQty {
		amount, ok = extract.DeriveAmount(price, qty)
	}
	if !ok {
		return abstain(FieldAmount)
	}

	sec, ok := p.security.Extract(msg.Subject, body)
	if !ok {
		return abstain(FieldIdentity)
	}
	name := sec.Name
	if name == "" {
		name = sec.Code
	}

	action := extract.DetectDirection(textnorm.Fold(msg.Subject)+"\n"+body, p.profile.SellWords)
	if action == extract.Sell {
		amount = -amount
	}
	if !hasPrice {
		price = decimal.Zero
	}
	if !hasQty {
		qty = decimal.Zero
	}

	return found(SecurityTrade{
		Base:         Base{OccurredOn: date, Amount: amount, MessageID: msg.ID},
		SecurityName: name,
		Ticker:       sec.Code,
		Broker:       p.profile.Name,
		Action:       action,
		UnitPrice:    price,
		Quantity:     qty,
	})
}
