package main

import (
	"encoding/json"
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/itchyny/gojq"
)

const currencyJPY = "JPY"

// yen renders a whole-yen amount, e.g. ¥1,234,567.
func yen(amount int64) string {
	return money.New(amount, currencyJPY).Display()
}

func yenOrDash(amount *int64) string {
	if amount == nil {
		return "-"
	}
	return yen(*amount)
}

func stringOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

// jqFilter keeps values for which every compiled predicate is truthy.
type jqFilter struct {
	codes []*gojq.Code
}

func compileJQFilters(filters []string) (*jqFilter, error) {
	f := &jqFilter{codes: make([]*gojq.Code, len(filters))}
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		f.codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return f, nil
}

// Match evaluates v in its JSON form. A filter error is returned, not
// treated as a non-match, so a typo in a predicate is visible.
func (f *jqFilter) Match(v interface{}) (bool, error) {
	if len(f.codes) == 0 {
		return true, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, err
	}

	for _, code := range f.codes {
		iter := code.Run(doc)
		out, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := out.(error); isErr {
			return false, err
		}
		if !isTruthy(out) {
			return false, nil
		}
	}
	return true, nil
}

func filterRows[T any](f *jqFilter, rows []T) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		ok, err := f.Match(r)
		if err != nil {
			return nil, fmt.Errorf("jq filter failed: %w", err)
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
