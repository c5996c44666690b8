package extract

import (
	"regexp"
	"strconv"
	"time"

	"github.com/brojonat/myfinance/service/textnorm"
)

// DateLayout is the canonical rendering of a civil date across the ledger.
const DateLayout = "2006/01/02"

const datePattern = `(\d{4})\s*[/\-年]\s*(\d{1,2})\s*[/\-月]\s*(\d{1,2})\s*日?`

var bareDate = regexp.MustCompile(datePattern)

// Day returns the civil date y-m-d as midnight UTC. Ledger dates carry no
// time of day or zone.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateExtractor finds the transaction date in a notification. Labelled
// patterns are tried in order, then the first bare date in the body, then
// the first bare date in the subject.
type DateExtractor struct {
	labelled []*regexp.Regexp
}

// NewDateExtractor compiles one pattern per label, keeping label priority.
func NewDateExtractor(labels ...string) *DateExtractor {
	e := &DateExtractor{}
	for _, label := range labels {
		e.labelled = append(e.labelled, regexp.MustCompile(regexp.QuoteMeta(label)+`[:\s]*`+datePattern))
	}
	return e
}

// Extract returns the first valid date found.
func (e *DateExtractor) Extract(body, subject string) (time.Time, bool) {
	body = textnorm.Fold(body)
	for _, re := range e.labelled {
		if m := re.FindStringSubmatch(body); m != nil {
			if d, ok := civilDate(m[1], m[2], m[3]); ok {
				return d, true
			}
		}
	}

	if d, ok := firstDate(body); ok {
		return d, true
	}
	return firstDate(textnorm.Fold(subject))
}

// ParseDate parses a single date string in any of the accepted renditions.
func ParseDate(s string) (time.Time, bool) {
	m := bareDate.FindStringSubmatch(textnorm.Fold(s))
	if m == nil {
		return time.Time{}, false
	}
	return civilDate(m[1], m[2], m[3])
}

func firstDate(s string) (time.Time, bool) {
	m := bareDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	return civilDate(m[1], m[2], m[3])
}

// civilDate rejects dates that time.Date would normalize, such as Feb 30.
func civilDate(ys, ms, ds string) (time.Time, bool) {
	y, err := strconv.Atoi(ys)
	if err != nil {
		return time.Time{}, false
	}
	m, err := strconv.Atoi(ms)
	if err != nil {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(ds)
	if err != nil {
		return time.Time{}, false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}

	t := Day(y, time.Month(m), d)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}
