package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/brojonat/myfinance/service/config"
	"github.com/brojonat/myfinance/service/textnorm"
)

// FundMatch is a resolved fund keyword.
type FundMatch struct {
	Keyword     string
	Ticker      string
	DisplayName string
}

// FundTable resolves fund keywords by longest containment. Keywords are
// matched case-sensitively after width folding.
type FundTable struct {
	entries []fundKey
}

type fundKey struct {
	folded string
	entry  config.FundEntry
}

// NewFundTable orders entries longest keyword first so a short name never
// shadows a longer sibling that contains it.
func NewFundTable(entries []config.FundEntry) *FundTable {
	t := &FundTable{}
	for _, e := range entries {
		if e.Keyword == "" {
			continue
		}
		t.entries = append(t.entries, fundKey{folded: textnorm.Fold(e.Keyword), entry: e})
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return len([]rune(t.entries[i].folded)) > len([]rune(t.entries[j].folded))
	})
	return t
}

// Len reports the number of keywords in the table.
func (t *FundTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Identify searches subject and body for the longest configured keyword.
func (t *FundTable) Identify(subject, body string) (FundMatch, bool) {
	combined := textnorm.Fold(subject + "\n" + body)
	for _, k := range t.entries {
		if strings.Contains(combined, k.folded) {
			return FundMatch{
				Keyword:     k.entry.Keyword,
				Ticker:      k.entry.Ticker,
				DisplayName: k.entry.DisplayName,
			}, true
		}
	}
	return FundMatch{}, false
}

// SecurityMatch names a traded security. At least one of Name or Code is set.
type SecurityMatch struct {
	Name string
	Code string
}

// SecurityExtractor finds a security by "name (code)", then by separate
// name and code labels, then through the fund table.
type SecurityExtractor struct {
	structured *regexp.Regexp
	nameOnly   *regexp.Regexp
	codeOnly   *regexp.Regexp
	funds      *FundTable
}

// NewSecurityExtractor builds an extractor for a broker's labels. funds may be nil.
func NewSecurityExtractor(nameLabels, codeLabels []string, funds *FundTable) *SecurityExtractor {
	e := &SecurityExtractor{funds: funds}
	if len(nameLabels) > 0 {
		names := alternation(nameLabels)
		e.structured = regexp.MustCompile(names + `[:\t ]+([^\n(]+?)\s*\(\s*([0-9A-Z]{4,8})\s*\)`)
		e.nameOnly = regexp.MustCompile(names + `[:\t ]+([^\n]+)`)
	}
	if len(codeLabels) > 0 {
		e.codeOnly = regexp.MustCompile(alternation(codeLabels) + `[:\s]*([0-9A-Z]{4,8})\b`)
	}
	return e
}

// Extract returns the security named in subject or body.
func (e *SecurityExtractor) Extract(subject, body string) (SecurityMatch, bool) {
	folded := textnorm.Fold(body)

	if e.structured != nil {
		if m := e.structured.FindStringSubmatch(folded); m != nil {
			return SecurityMatch{Name: strings.TrimSpace(m[1]), Code: m[2]}, true
		}
	}

	var match SecurityMatch
	if e.nameOnly != nil {
		if m := e.nameOnly.FindStringSubmatch(folded); m != nil {
			match.Name = strings.TrimSpace(m[1])
		}
	}
	if e.codeOnly != nil {
		if m := e.codeOnly.FindStringSubmatch(folded); m != nil {
			match.Code = m[1]
		}
	}
	if match.Name != "" || match.Code != "" {
		return match, true
	}

	if e.funds != nil {
		if f, ok := e.funds.Identify(subject, body); ok {
			return SecurityMatch{Name: f.DisplayName, Code: f.Ticker}, true
		}
	}
	return SecurityMatch{}, false
}

// Direction is the side of a trade.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// DefaultSellWords is the sell-side vocabulary shared by the brokers.
var DefaultSellWords = []string{"売付", "売却", "解約", "売り", "売注文"}

// DetectDirection reports Sell when any sell word is present and Buy otherwise.
func DetectDirection(text string, sellWords []string) Direction {
	for _, w := range sellWords {
		if strings.Contains(text, w) {
			return Sell
		}
	}
	return Buy
}
