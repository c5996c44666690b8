package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs dry runs and tests.
type MemoryStore struct {
	mu             sync.Mutex
	funds          []FundRecord
	banks          []BankRecord
	expenses       []ExpenseRecord
	processed      map[string]bool
	initialBalance int64
	dedupWindow    int
	nextID         int64
	pingErr        error
}

// NewMemoryStore creates an empty store. dedupWindow bounds the duplicate
// scan over bank and expense rows; zero or negative scans everything.
func NewMemoryStore(initialBalance int64, dedupWindow int) *MemoryStore {
	return &MemoryStore{
		processed:      make(map[string]bool),
		initialBalance: initialBalance,
		dedupWindow:    dedupWindow,
	}
}

// Snapshot copies the recent state of src into a MemoryStore: every fund
// record and the last dedupWindow bank and expense rows. Appends to the
// snapshot never reach src. Processed keys are recovered from the copied
// records, so a message whose earlier append was a duplicate reads as
// unprocessed.
func Snapshot(ctx context.Context, src Store, initialBalance int64, dedupWindow int) (*MemoryStore, error) {
	funds, err := src.ListFundRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot fund records: %w", err)
	}
	banks, err := src.ListBankRecords(ctx, dedupWindow)
	if err != nil {
		return nil, fmt.Errorf("snapshot bank records: %w", err)
	}
	expenses, err := src.ListExpenseRecords(ctx, dedupWindow)
	if err != nil {
		return nil, fmt.Errorf("snapshot expense records: %w", err)
	}

	s := NewMemoryStore(initialBalance, dedupWindow)
	s.funds = funds
	s.banks = banks
	s.expenses = expenses
	for _, r := range funds {
		s.seen(r.ID, r.MessageID)
	}
	for _, r := range banks {
		s.seen(r.ID, r.MessageID)
	}
	for _, r := range expenses {
		s.seen(r.ID, r.MessageID)
	}
	return s, nil
}

func (s *MemoryStore) seen(id int64, messageKey string) {
	s.markProcessed(messageKey)
	if id > s.nextID {
		s.nextID = id
	}
}

// SetPingError makes Ping fail, simulating an unreachable ledger.
func (s *MemoryStore) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *MemoryStore) AppendFundRecord(ctx context.Context, r FundRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markProcessed(r.MessageID)
	key := fundKey(r)
	for _, existing := range s.funds {
		if fundKey(existing) == key {
			return false, nil
		}
	}
	if r.Kind == "" {
		r.Kind = KindFund
	}
	r.ID = s.id()
	s.funds = append(s.funds, r)
	return true, nil
}

func (s *MemoryStore) AppendBankRecord(ctx context.Context, r BankRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markProcessed(r.MessageID)
	key := bankKey(r)
	for _, existing := range window(s.banks, s.dedupWindow) {
		if bankKey(existing) == key {
			return false, nil
		}
	}
	s.appendBank(r)
	return true, nil
}

func (s *MemoryStore) AppendExpenseRecord(ctx context.Context, r ExpenseRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markProcessed(r.MessageID)
	key := expenseKey(r)
	for _, existing := range window(s.expenses, s.dedupWindow) {
		if expenseKey(existing) == key {
			return false, nil
		}
	}
	r.ID = s.id()
	s.expenses = append(s.expenses, r)
	return true, nil
}

func (s *MemoryStore) ListFundRecords(ctx context.Context) ([]FundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FundRecord(nil), s.funds...), nil
}

// ListBankRecords returns the most recent limit rows, oldest first.
func (s *MemoryStore) ListBankRecords(ctx context.Context, limit int) ([]BankRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BankRecord(nil), window(s.banks, limit)...), nil
}

// ListExpenseRecords returns the most recent limit rows, oldest first.
func (s *MemoryStore) ListExpenseRecords(ctx context.Context, limit int) ([]ExpenseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExpenseRecord(nil), window(s.expenses, limit)...), nil
}

func (s *MemoryStore) CurrentBankBalance(ctx context.Context) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.banks) == 0 {
		return Balance{Balance: s.initialBalance}, nil
	}
	last := s.banks[len(s.banks)-1]
	at := last.Date
	return Balance{Balance: last.Balance, LastUpdated: &at}, nil
}

func (s *MemoryStore) AdjustBankBalance(ctx context.Context, target int64, at time.Time) (*BankRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := target - s.balance()
	if delta == 0 {
		return nil, nil
	}
	r := s.appendBank(BankRecordFromAmount(at, AdjustmentDescription, delta, ""))
	return &r, nil
}

func (s *MemoryStore) IsProcessed(ctx context.Context, messageKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[messageKey], nil
}

// appendBank fills in the running balance and id. Callers hold mu.
func (s *MemoryStore) appendBank(r BankRecord) BankRecord {
	r.Balance = s.balance() + r.SignedAmount()
	r.ID = s.id()
	s.banks = append(s.banks, r)
	return r
}

func (s *MemoryStore) balance() int64 {
	if len(s.banks) == 0 {
		return s.initialBalance
	}
	return s.banks[len(s.banks)-1].Balance
}

func (s *MemoryStore) markProcessed(key string) {
	if key != "" {
		s.processed[key] = true
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func window[T any](rows []T, n int) []T {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	return rows[len(rows)-n:]
}
