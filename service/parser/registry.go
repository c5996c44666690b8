package parser

import (
	"fmt"

	"github.com/brojonat/myfinance/service/extract"
	"github.com/brojonat/myfinance/service/inbox"
)

// Registry holds the parser variants in classification order.
type Registry struct {
	parsers []Parser
	byName  map[string]Parser
}

// NewRegistry keeps parsers in the order given.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{byName: make(map[string]Parser, len(parsers))}
	for _, p := range parsers {
		r.parsers = append(r.parsers, p)
		r.byName[p.Name()] = p
	}
	return r
}

// DefaultRegistry returns every built-in parser: fund, bank, the brokers and card.
func DefaultRegistry(funds *extract.FundTable) *Registry {
	return NewRegistry(
		NewFundParser(funds),
		NewBankParser(),
		NewBrokerParser(RakutenSecurities, funds),
		NewBrokerParser(SBISecurities, funds),
		NewCardParser(),
	)
}

// Get returns the parser registered under name.
func (r *Registry) Get(name string) (Parser, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown parser %q", name)
	}
	return p, nil
}

// Parsers returns the registered parsers in order.
func (r *Registry) Parsers() []Parser {
	return append([]Parser(nil), r.parsers...)
}

// Classify returns the first parser, in order, whose predicate accepts msg.
func (r *Registry) Classify(msg *inbox.Message) (Parser, bool) {
	for _, p := range r.parsers {
		if p.Matches(msg) {
			return p, true
		}
	}
	return nil, false
}

// Parse tries every accepting parser in order, the way a reconciliation run
// would reach them, and returns the first one that produced a transaction.
// When all abstain, the last abstention is returned with its parser.
func (r *Registry) Parse(msg *inbox.Message) (Parser, Result, error) {
	var (
		last       Parser
		lastResult = Result{Missing: FieldClass}
	)
	for _, p := range r.parsers {
		if !p.Matches(msg) {
			continue
		}
		res, err := p.Parse(msg)
		if err != nil {
			return p, Result{}, err
		}
		if !res.Abstained() {
			return p, res, nil
		}
		last, lastResult = p, res
	}
	return last, lastResult, nil
}
