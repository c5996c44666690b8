package parser

import (
	"strings"

	"github.com/brojonat/myfinance/service/extract"
	"github.com/brojonat/myfinance/service/inbox"
	"github.com/brojonat/myfinance/service/textnorm"
)

var (
	debitWords  = []string{"出金", "引出", "引落", "引き落とし", "支払"}
	creditWords = []string{"入金", "振込入金", "受取"}
)

// BankParser reads SMBC deposit and withdrawal notices.
type BankParser struct {
	date        *extract.DateExtractor
	amount      *extract.AmountExtractor
	description *extract.LabelExtractor
}

func NewBankParser() *BankParser {
	return &BankParser{
		date: extract.NewDateExtractor("お取引日", "取引日", "入出金日", "日付"),
		// Balance lines would win the max-token fallback, so it is off here.
		amount:      extract.NewAmountExtractor("お取引金額", "入金金額", "出金金額", "入金額", "出金額", "お引出し金額").WithoutFallback(),
		description: extract.NewLabelExtractor("お取引内容", "取引内容", "摘要", "内容"),
	}
}

func (p *BankParser) Name() string   { return string(SourceBank) }
func (p *BankParser) Source() Source { return SourceBank }

func (p *BankParser) Matches(msg *inbox.Message) bool {
	if msg == nil {
		return false
	}
	return strings.Contains(strings.ToLower(msg.From), "smbc.co.jp") ||
		strings.Contains(textnorm.Fold(msg.Subject), "三井住友銀行")
}

func (p *BankParser) Parse(msg *inbox.Message) (Result, error) {
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

	description, _ := p.description.Extract(body)
	sign, ok := movementSign(description, body)
	if !ok {
		return abstain(FieldIdentity)
	}
	if description == "" {
		if sign < 0 {
			description = "出金"
		} else {
			description = "入金"
		}
	}

	return found(BankMovement{
		Base:        Base{OccurredOn: date, Amount: sign * amount, MessageID: msg.ID},
		Description: description,
	})
}

// movementSign reads the direction from the description, then from the
// body. "入出金" is a heading, not a direction, and is ignored.
func movementSign(description, body string) (int64, bool) {
	for _, text := range []string{description, strings.ReplaceAll(body, "入出金", "")} {
		if text == "" {
			continue
		}
		if containsAny(text, debitWords) {
			return -1, true
		}
		if containsAny(text, creditWords) {
			return 1, true
		}
	}
	return 0, false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
