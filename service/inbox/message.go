// Package inbox is the mailbox collaborator: it stores forwarded
// notification mails, answers source queries with unread messages, and
// keeps a per-message processed flag in sync with the ledger.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrMessageNotFound is returned when marking an unknown message.
var ErrMessageNotFound = errors.New("message not found")

// Message is one notification mail.
type Message struct {
	ID         string    `json:"id"`
	HeaderID   string    `json:"header_id,omitempty"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	TextBody   string    `json:"text_body,omitempty"`
	HTMLBody   string    `json:"html_body,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Unread     bool      `json:"unread"`
}

// Key is the idempotency key for the message. The RFC 5322 Message-Id is
// preferred so a re-imported copy of the same mail maps to the same key.
func (m *Message) Key() string {
	if m.HeaderID != "" {
		return "mid:" + m.HeaderID
	}
	return "id:" + m.ID
}

// Mailbox is the search-and-mark capability the reconciliation run needs.
type Mailbox interface {
	// Search returns the newest q.MaxItems messages matching q, oldest first.
	Search(ctx context.Context, q Query) ([]*Message, error)
	// MarkProcessed clears the unread flag. Marking twice is not an error.
	MarkProcessed(ctx context.Context, id string) error
}

// Query is one source's search predicate.
type Query struct {
	Raw      string
	MaxItems int
}

// Filter is the parsed form of a query string. It understands a subset of
// the Gmail search language: from:, subject:, newer_than:Nd|Nh, is:unread,
// is:read and bare words.
type Filter struct {
	From       []string
	Subject    []string
	Terms      []string
	NewerThan  time.Duration
	UnreadOnly bool
	ReadOnly   bool
}

// ParseQuery parses a query string into a Filter.
func ParseQuery(raw string) (Filter, error) {
	var f Filter
	for _, tok := range strings.Fields(raw) {
		key, value, found := strings.Cut(tok, ":")
		if !found {
			f.Terms = append(f.Terms, tok)
			continue
		}
		switch strings.ToLower(key) {
		case "from":
			f.From = append(f.From, strings.ToLower(value))
		case "subject":
			f.Subject = append(f.Subject, value)
		case "newer_than":
			d, err := parseAge(value)
			if err != nil {
				return Filter{}, fmt.Errorf("query %q: %w", raw, err)
			}
			f.NewerThan = d
		case "is":
			switch strings.ToLower(value) {
			case "unread":
				f.UnreadOnly = true
			case "read":
				f.ReadOnly = true
			default:
				return Filter{}, fmt.Errorf("query %q: unsupported is:%s", raw, value)
			}
		default:
			// An unknown operator is treated as a plain search word.
			f.Terms = append(f.Terms, tok)
		}
	}
	return f, nil
}

// Matches reports whether m satisfies every clause of the filter.
func (f Filter) Matches(m *Message, now time.Time) bool {
	if f.UnreadOnly && !m.Unread {
		return false
	}
	if f.ReadOnly && m.Unread {
		return false
	}
	if f.NewerThan > 0 && m.ReceivedAt.Before(now.Add(-f.NewerThan)) {
		return false
	}
	from := strings.ToLower(m.From)
	for _, v := range f.From {
		if !strings.Contains(from, v) {
			return false
		}
	}
	for _, v := range f.Subject {
		if !strings.Contains(m.Subject, v) {
			return false
		}
	}
	for _, v := range f.Terms {
		if !strings.Contains(m.Subject, v) && !strings.Contains(m.TextBody, v) && !strings.Contains(m.HTMLBody, v) {
			return false
		}
	}
	return true
}

func parseAge(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid newer_than %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid newer_than %q", s)
	}
	switch s[len(s)-1] {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'm':
		return time.Duration(n) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(n) * 365 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid newer_than unit in %q", s)
}

// selectMessages filters candidates and keeps the newest max matches (0 means
// no cap), so unread mail that never parses cannot crowd out new arrivals.
// candidates must be ordered oldest first; the result keeps that order.
func selectMessages(candidates []*Message, f Filter, max int, now time.Time) []*Message {
	var out []*Message
	for i := len(candidates) - 1; i >= 0; i-- {
		if !f.Matches(candidates[i], now) {
			continue
		}
		out = append(out, candidates[i])
		if max > 0 && len(out) >= max {
			break
		}
	}
	slices.Reverse(out)
	return out
}
