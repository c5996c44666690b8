// Package textnorm turns raw notification bodies into plain text that the
// field extractors can scan with simple patterns.
package textnorm

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/width"
)

// MinPlainTextLength is the rune count below which a plain-text rendition is
// treated as a placeholder and the HTML rendition is used instead.
const MinPlainTextLength = 20

var (
	blankRun     = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	blankLineRun = regexp.MustCompile(`\n(?:[ ]*\n)+`)
)

// Normalize picks the better rendition of a message body and returns it
// folded to half-width with blanks collapsed. ok is false when nothing
// usable remains.
func Normalize(text, htmlBody string) (string, bool) {
	var raw string
	if utf8.RuneCountInString(strings.TrimSpace(text)) >= MinPlainTextLength {
		raw = text
	} else if strings.TrimSpace(htmlBody) != "" {
		raw = StripHTML(htmlBody)
	} else {
		raw = text
	}

	out := Collapse(Fold(raw))
	return out, out != ""
}

// Fold converts full-width ASCII variants (digits, commas, colons, the yen
// sign, ideographic space) to their narrow forms.
func Fold(s string) string {
	return width.Fold.String(s)
}

// Collapse squeezes horizontal blank runs to one space and blank line runs
// to one newline, trimming each line.
func Collapse(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = blankRun.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLineRun.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// StripHTML drops markup, keeping text content. Line, row and paragraph
// boundaries become newlines and table cells are separated by a space.
// Entities are decoded by the tokenizer.
func StripHTML(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var b strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tt := z.Token()
			switch tt.DataAtom {
			case atom.Script, atom.Style, atom.Head:
				if tt.Type == html.StartTagToken {
					skip++
				}
			case atom.Br:
				b.WriteByte('\n')
			case atom.Td, atom.Th:
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style, atom.Head:
				if skip > 0 {
					skip--
				}
			case atom.P, atom.Div, atom.Tr, atom.Li, atom.Table,
				atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				b.WriteByte('\n')
			}
		}
	}
}
