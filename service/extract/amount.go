package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/brojonat/myfinance/service/textnorm"
)

const yenGlyph = `[¥\\]?`

var (
	genericAmount = regexp.MustCompile(`金額[:\s]*` + yenGlyph + `\s*([0-9][0-9,]*)\s*円`)
	yenToken      = regexp.MustCompile(yenGlyph + `\s*([0-9,]{3,})\s*円`)
)

// AmountExtractor finds a positive yen amount. Labelled patterns win; the
// fallback takes the largest "N円" token in the body.
type AmountExtractor struct {
	labelled *regexp.Regexp
	fallback bool
}

// NewAmountExtractor builds an extractor for the given labels. The max-token
// fallback is enabled; use WithoutFallback for sources where any unlabelled
// figure is unsafe.
func NewAmountExtractor(labels ...string) *AmountExtractor {
	e := &AmountExtractor{fallback: true}
	if len(labels) > 0 {
		e.labelled = regexp.MustCompile(alternation(labels) + `[:\s]*` + yenGlyph + `\s*([0-9][0-9,]*)\s*円?`)
	}
	return e
}

// WithoutFallback disables the max-token heuristic.
func (e *AmountExtractor) WithoutFallback() *AmountExtractor {
	e.fallback = false
	return e
}

// Extract returns the amount in yen.
func (e *AmountExtractor) Extract(body string) (int64, bool) {
	body = textnorm.Fold(body)

	if e.labelled != nil {
		if m := e.labelled.FindStringSubmatch(body); m != nil {
			if v, ok := ParseYen(m[1]); ok {
				return v, true
			}
		}
	}
	if m := genericAmount.FindStringSubmatch(body); m != nil {
		if v, ok := ParseYen(m[1]); ok {
			return v, true
		}
	}
	if !e.fallback {
		return 0, false
	}

	// Known-weak: a fee larger than the principal would win here.
	var best int64
	for _, m := range yenToken.FindAllStringSubmatch(body, -1) {
		if v, ok := ParseYen(m[1]); ok && v > best {
			best = v
		}
	}
	return best, best > 0
}

// ParseYen parses a digit string with optional comma grouping. Zero and
// unparsable values are reported as no result.
func ParseYen(s string) (int64, bool) {
	s = strings.ReplaceAll(textnorm.Fold(s), ",", "")
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// NumberExtractor finds a labelled positive decimal, used for unit prices
// and quantities.
type NumberExtractor struct {
	labelled *regexp.Regexp
}

// NewNumberExtractor builds an extractor for the given labels.
func NewNumberExtractor(labels ...string) *NumberExtractor {
	return &NumberExtractor{
		labelled: regexp.MustCompile(alternation(labels) + `[:\s]*` + yenGlyph + `\s*([0-9][0-9,]*(?:\.[0-9]+)?)`),
	}
}

// Extract returns the labelled value when it is positive.
func (e *NumberExtractor) Extract(body string) (decimal.Decimal, bool) {
	m := e.labelled.FindStringSubmatch(textnorm.Fold(body))
	if m == nil {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || !v.IsPositive() {
		return decimal.Zero, false
	}
	return v, true
}

// DeriveAmount returns price × quantity rounded half-up to whole yen.
func DeriveAmount(price, quantity decimal.Decimal) (int64, bool) {
	if !price.IsPositive() || !quantity.IsPositive() {
		return 0, false
	}
	v := price.Mul(quantity).Round(0).IntPart()
	return v, v > 0
}

func alternation(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return "(?:" + strings.Join(quoted, "|") + ")"
}
