// Package reconcile runs the extraction pipeline: it pulls unread
// notifications per source, parses them, enriches fund purchases with a
// price, writes de-duplicated ledger records and marks handled messages.
package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/myfinance/service/inbox"
	"github.com/brojonat/myfinance/service/parser"
)

// Outcome is the terminal state of one message in a run.
type Outcome string

const (
	OutcomeWritten          Outcome = "written"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeAbstained        Outcome = "abstained"
	OutcomeNotYetAvailable  Outcome = "not_yet_available"
	OutcomeFaulted          Outcome = "faulted"
)

// MarksProcessed reports whether the source message is marked processed.
// Every other outcome leaves it unread so the next run retries it.
func (o Outcome) MarksProcessed() bool {
	switch o {
	case OutcomeWritten, OutcomeDuplicate, OutcomeAlreadyProcessed:
		return true
	}
	return false
}

// ErrLedgerUnavailable wraps a failed ledger ping. It aborts a run.
var ErrLedgerUnavailable = errors.New("ledger unreachable")

// ConfigError is a missing or invalid piece of static configuration. It
// aborts a run before any message is touched.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Reason)
}

// SourceSpec binds a parser to its mailbox query.
type SourceSpec struct {
	Name   string // parser name, e.g. "fund" or "rakuten"
	Source parser.Source
	Query  inbox.Query
}

// ItemResult records what happened to one message.
type ItemResult struct {
	MessageID string       `json:"message_id"`
	Key       string       `json:"key"`
	Subject   string       `json:"subject"`
	Outcome   Outcome      `json:"outcome"`
	Missing   parser.Field `json:"missing,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// SourceSummary aggregates one source's items.
type SourceSummary struct {
	Source  string        `json:"source"`
	Fetched int           `json:"fetched"`
	Items   []ItemResult  `json:"items"`
	Elapsed time.Duration `json:"elapsed"`
}

// Count returns the number of items with outcome o.
func (s *SourceSummary) Count(o Outcome) int {
	n := 0
	for _, it := range s.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

// Faults returns the faulted items.
func (s *SourceSummary) Faults() []ItemResult {
	var out []ItemResult
	for _, it := range s.Items {
		if it.Outcome == OutcomeFaulted {
			out = append(out, it)
		}
	}
	return out
}

// RunSummary aggregates a whole run.
type RunSummary struct {
	RunID           string           `json:"run_id"`
	StartedAt       time.Time        `json:"started_at"`
	Sources         []*SourceSummary `json:"sources"`
	Total           int              `json:"total"`
	Written         int              `json:"written"`
	Duplicate       int              `json:"duplicate"`
	AlreadyDone     int              `json:"already_processed"`
	Abstained       int              `json:"abstained"`
	NotYetAvailable int              `json:"not_yet_available"`
	Faulted         int              `json:"faulted"`
	Elapsed         time.Duration    `json:"elapsed"`
}

func (r *RunSummary) add(s *SourceSummary) {
	r.Sources = append(r.Sources, s)
	r.Total += len(s.Items)
	r.Written += s.Count(OutcomeWritten)
	r.Duplicate += s.Count(OutcomeDuplicate)
	r.AlreadyDone += s.Count(OutcomeAlreadyProcessed)
	r.Abstained += s.Count(OutcomeAbstained)
	r.NotYetAvailable += s.Count(OutcomeNotYetAvailable)
	r.Faulted += s.Count(OutcomeFaulted)
}
