package price

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Strategy names how a price was located in the history page.
type Strategy string

const (
	StrategyNone      Strategy = ""
	StrategyTable     Strategy = "table"
	StrategyProximity Strategy = "proximity"
)

// ProximityWindow bounds how far after a date string the proximity
// strategy looks for a number.
const ProximityWindow = 200

// Band is the inclusive plausible price range for the proximity strategy.
type Band struct {
	Min int64
	Max int64
}

func (b Band) contains(v int64) bool {
	return v >= b.Min && v <= b.Max
}

// DateRenditions returns the forms a history page may print target in.
func DateRenditions(target time.Time) []string {
	y, m, d := target.Date()
	return []string{
		fmt.Sprintf("%d/%02d/%02d", y, m, d),
		fmt.Sprintf("%d年%d月%d日", y, m, d),
		fmt.Sprintf("%d年%02d月%02d日", y, m, d),
	}
}

var numberToken = regexp.MustCompile(`[0-9][0-9,]{3,}`)

// ExtractPrice locates the price for target in a history page. A table row
// holding the date decides; a row whose price cell is blank means the price
// is not published yet. Without such a row the first plausible number shortly
// after the date string is used.
func ExtractPrice(doc string, target time.Time, band Band) (int64, Strategy, bool) {
	dates := DateRenditions(target)

	if rows := tableRows(doc); len(rows) > 0 {
		for _, date := range dates {
			for _, cells := range rows {
				v, found, ok := cellAfterDate(cells, date)
				if !found {
					continue
				}
				if !ok {
					return 0, StrategyNone, false
				}
				return v, StrategyTable, true
			}
		}
	}

	for _, date := range dates {
		if v, ok := nearDate(doc, date, band); ok {
			return v, StrategyProximity, true
		}
	}

	return 0, StrategyNone, false
}

// nearDate returns the first in-band number starting within ProximityWindow
// bytes after any occurrence of date. Digits that belong to another date are
// skipped.
func nearDate(doc, date string, band Band) (int64, bool) {
	for offset := 0; ; {
		i := strings.Index(doc[offset:], date)
		if i < 0 {
			return 0, false
		}
		start := offset + i + len(date)
		end := min(len(doc), start+ProximityWindow+32)

		for _, loc := range numberToken.FindAllStringIndex(doc[start:end], -1) {
			if loc[0] > ProximityWindow {
				break
			}
			from, to := start+loc[0], start+loc[1]
			if partOfDate(doc, from, to) {
				continue
			}
			if v, ok := parseNumber(doc[from:to]); ok && band.contains(v) {
				return v, true
			}
		}
		offset = start
	}
}

func partOfDate(doc string, from, to int) bool {
	if to < len(doc) {
		r, _ := utf8.DecodeRuneInString(doc[to:])
		if strings.ContainsRune("/-年月日", r) {
			return true
		}
	}
	if from > 0 {
		r, _ := utf8.DecodeLastRuneInString(doc[:from])
		if strings.ContainsRune("/-年月", r) || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}

// tableRows returns the text of every th/td cell, grouped by <tr>.
func tableRows(doc string) [][]string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	var rows [][]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					cells = append(cells, strings.TrimSpace(nodeText(c)))
				}
			}
			rows = append(rows, cells)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return rows
}

// cellAfterDate reports whether a cell holds date and, if so, the price in the
// cell that follows it.
func cellAfterDate(cells []string, date string) (v int64, found, ok bool) {
	for i, cell := range cells {
		if !strings.Contains(cell, date) {
			continue
		}
		if i+1 < len(cells) {
			v, ok = parseNumber(cells[i+1])
			return v, true, ok
		}
		return 0, true, false
	}
	return 0, false, false
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return b.String()
}

// parseNumber reads the leading integer of s, ignoring grouping commas and
// blanks. "29,850円" and "29,850.00" both give 29850.
func parseNumber(s string) (int64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || r == ' ' || r == '\t' || r == '\n' {
			return -1
		}
		return r
	}, s)
	end := 0
	for end < len(cleaned) && cleaned[end] >= '0' && cleaned[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(cleaned[:end], 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
