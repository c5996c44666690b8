package extract

import (
	"regexp"
	"strings"

	"github.com/brojonat/myfinance/service/textnorm"
)

// LabelExtractor returns the rest of the line after the first matching
// label, for free-text fields such as merchants and descriptions.
type LabelExtractor struct {
	patterns []*regexp.Regexp
}

// NewLabelExtractor builds one pattern per label, keeping label priority.
func NewLabelExtractor(labels ...string) *LabelExtractor {
	e := &LabelExtractor{}
	for _, l := range labels {
		e.patterns = append(e.patterns, regexp.MustCompile(regexp.QuoteMeta(l)+`[:\t ]+([^\n]+)`))
	}
	return e
}

// Extract returns the trimmed value for the first label present.
func (e *LabelExtractor) Extract(body string) (string, bool) {
	body = textnorm.Fold(body)
	for _, re := range e.patterns {
		if m := re.FindStringSubmatch(body); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v, true
			}
		}
	}
	return "", false
}
