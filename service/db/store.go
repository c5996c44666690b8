package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/brojonat/myfinance/service/ledger"
	"github.com/brojonat/myfinance/service/metrics"
)

//go:embed schema.sql
var schema string

// Advisory lock keys, one per ledger table. Appends to a table hold the
// lock for the duration of their transaction so the duplicate scan and the
// insert are atomic across processes.
const (
	lockFundRecords    int64 = 0x6d7966_01
	lockBankRecords    int64 = 0x6d7966_02
	lockExpenseRecords int64 = 0x6d7966_03
)

// Store is the Postgres ledger.Store.
type Store struct {
	pool           *pgxpool.Pool
	initialBalance int64
	dedupWindow    int
	metrics        *metrics.Metrics
}

var _ ledger.Store = (*Store)(nil)

// NewStore creates a new Store with the given database connection pool.
// metrics may be nil.
func NewStore(pool *pgxpool.Pool, initialBalance int64, dedupWindow int, m *metrics.Metrics) *Store {
	return &Store{
		pool:           pool,
		initialBalance: initialBalance,
		dedupWindow:    dedupWindow,
		metrics:        m,
	}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AppendFundRecord inserts r unless a row with the same date, name and
// amount exists.
func (s *Store) AppendFundRecord(ctx context.Context, r ledger.FundRecord) (bool, error) {
	if r.Kind == "" {
		r.Kind = ledger.KindFund
	}
	var written bool
	err := s.locked(ctx, "fund_records", lockFundRecords, r.MessageID, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM fund_records
				WHERE trade_date = $1 AND name = $2 AND amount = $3
			)`, pgDate(r.Date), r.Name, r.Amount).Scan(&exists)
		if err != nil {
			return fmt.Errorf("duplicate scan: %w", err)
		}
		if exists {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO fund_records
				(trade_date, name, amount, unit_price, quantity, ticker, kind, broker, action, message_id)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10)`,
			pgDate(r.Date), r.Name, r.Amount, r.UnitPrice.String(), r.Quantity.String(),
			r.Ticker, r.Kind, pgText(r.Broker), pgText(r.Action), pgText(r.MessageID))
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		written = true
		return nil
	})
	if err != nil {
		return false, err
	}
	s.recordWrite("fund_records", written)
	return written, nil
}

// AppendBankRecord inserts r with its running balance unless one of the
// most recent dedupWindow rows has the same date, description and signed
// amount.
func (s *Store) AppendBankRecord(ctx context.Context, r ledger.BankRecord) (bool, error) {
	var written bool
	err := s.locked(ctx, "bank_records", lockBankRecords, r.MessageID, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM (
					SELECT movement_date, description, deposit - withdrawal AS signed
					FROM bank_records ORDER BY id DESC LIMIT $4
				) recent
				WHERE movement_date = $1 AND description = $2 AND signed = $3
			)`, pgDate(r.Date), r.Description, r.SignedAmount(), s.scanLimit()).Scan(&exists)
		if err != nil {
			return fmt.Errorf("duplicate scan: %w", err)
		}
		if exists {
			return nil
		}
		if _, err := s.insertBank(ctx, tx, r); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, err
	}
	s.recordWrite("bank_records", written)
	return written, nil
}

func (s *Store) AppendExpenseRecord(ctx context.Context, r ledger.ExpenseRecord) (bool, error) {
	var written bool
	err := s.locked(ctx, "expense_records", lockExpenseRecords, r.MessageID, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM (
					SELECT charge_date, merchant, amount
					FROM expense_records ORDER BY id DESC LIMIT $4
				) recent
				WHERE charge_date = $1 AND merchant = $2 AND amount = $3
			)`, pgDate(r.Date), r.Merchant, r.Amount, s.scanLimit()).Scan(&exists)
		if err != nil {
			return fmt.Errorf("duplicate scan: %w", err)
		}
		if exists {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO expense_records
				(charge_date, merchant, amount, payment_method, preliminary, message_id)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			pgDate(r.Date), r.Merchant, r.Amount, r.PaymentMethod, r.Preliminary, pgText(r.MessageID))
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		written = true
		return nil
	})
	if err != nil {
		return false, err
	}
	s.recordWrite("expense_records", written)
	return written, nil
}

// ListFundRecords returns every fund and trade row in insertion order.
func (s *Store) ListFundRecords(ctx context.Context) ([]ledger.FundRecord, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, trade_date, name, amount, unit_price::text, quantity::text,
		       ticker, kind, broker, action, message_id
		FROM fund_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fund records: %w", err)
	}
	defer rows.Close()

	var records []ledger.FundRecord
	for rows.Next() {
		var (
			r                     ledger.FundRecord
			date                  pgtype.Date
			unitPrice, quantity   string
			broker, action, msgID pgtype.Text
		)
		if err := rows.Scan(&r.ID, &date, &r.Name, &r.Amount, &unitPrice, &quantity,
			&r.Ticker, &r.Kind, &broker, &action, &msgID); err != nil {
			return nil, fmt.Errorf("failed to scan fund record: %w", err)
		}
		r.Date = fromPgDate(date)
		if r.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("invalid unit price %q: %w", unitPrice, err)
		}
		if r.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("invalid quantity %q: %w", quantity, err)
		}
		r.Broker, r.Action, r.MessageID = broker.String, action.String, msgID.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.metrics.RecordDBQuery("list_fund_records", metrics.Since(start))
	return records, nil
}

// ListBankRecords returns the most recent limit rows, oldest first. A
// non-positive limit returns every row.
func (s *Store) ListBankRecords(ctx context.Context, limit int) ([]ledger.BankRecord, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, movement_date, description, deposit, withdrawal, balance, message_id
		FROM (
			SELECT * FROM bank_records ORDER BY id DESC LIMIT $1
		) recent ORDER BY id`, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list bank records: %w", err)
	}
	defer rows.Close()

	var records []ledger.BankRecord
	for rows.Next() {
		var (
			r     ledger.BankRecord
			date  pgtype.Date
			msgID pgtype.Text
		)
		if err := rows.Scan(&r.ID, &date, &r.Description, &r.Deposit, &r.Withdrawal, &r.Balance, &msgID); err != nil {
			return nil, fmt.Errorf("failed to scan bank record: %w", err)
		}
		r.Date = fromPgDate(date)
		r.MessageID = msgID.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.metrics.RecordDBQuery("list_bank_records", metrics.Since(start))
	return records, nil
}

func (s *Store) ListExpenseRecords(ctx context.Context, limit int) ([]ledger.ExpenseRecord, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, charge_date, merchant, amount, payment_method, preliminary, message_id
		FROM (
			SELECT * FROM expense_records ORDER BY id DESC LIMIT $1
		) recent ORDER BY id`, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list expense records: %w", err)
	}
	defer rows.Close()

	var records []ledger.ExpenseRecord
	for rows.Next() {
		var (
			r     ledger.ExpenseRecord
			date  pgtype.Date
			msgID pgtype.Text
		)
		if err := rows.Scan(&r.ID, &date, &r.Merchant, &r.Amount, &r.PaymentMethod, &r.Preliminary, &msgID); err != nil {
			return nil, fmt.Errorf("failed to scan expense record: %w", err)
		}
		r.Date = fromPgDate(date)
		r.MessageID = msgID.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.metrics.RecordDBQuery("list_expense_records", metrics.Since(start))
	return records, nil
}

// CurrentBankBalance returns the balance of the newest bank row, or the
// configured initial balance when there are none.
func (s *Store) CurrentBankBalance(ctx context.Context) (ledger.Balance, error) {
	var (
		balance int64
		date    pgtype.Date
	)
	err := s.pool.QueryRow(ctx, `
		SELECT balance, movement_date FROM bank_records ORDER BY id DESC LIMIT 1`).Scan(&balance, &date)
	if err == pgx.ErrNoRows {
		return ledger.Balance{Balance: s.initialBalance}, nil
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("failed to read bank balance: %w", err)
	}
	at := fromPgDate(date)
	return ledger.Balance{Balance: balance, LastUpdated: &at}, nil
}

// AdjustBankBalance appends a correcting row so the running balance
// becomes target. Adjustments are never treated as duplicates.
func (s *Store) AdjustBankBalance(ctx context.Context, target int64, at time.Time) (*ledger.BankRecord, error) {
	var out *ledger.BankRecord
	err := s.locked(ctx, "bank_records", lockBankRecords, "", func(tx pgx.Tx) error {
		current, err := s.lastBalance(ctx, tx)
		if err != nil {
			return err
		}
		delta := target - current
		if delta == 0 {
			return nil
		}
		r, err := s.insertBank(ctx, tx, ledger.BankRecordFromAmount(at, ledger.AdjustmentDescription, delta, ""))
		if err != nil {
			return err
		}
		out = &r
		return nil
	})
	return out, err
}

func (s *Store) IsProcessed(ctx context.Context, messageKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_messages WHERE message_key = $1)`, messageKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return exists, nil
}

// locked runs fn in a transaction holding the table's advisory lock and
// records messageKey as processed before committing.
func (s *Store) locked(ctx context.Context, table string, key int64, messageKey string, fn func(pgx.Tx) error) error {
	start := time.Now()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		if err := fn(tx); err != nil {
			return err
		}
		if messageKey == "" {
			return nil
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO processed_messages (message_key) VALUES ($1)
			ON CONFLICT (message_key) DO NOTHING`, messageKey)
		if err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		return nil
	})
	s.metrics.RecordDBQuery("append_"+table, metrics.Since(start))
	if err != nil {
		s.metrics.RecordLedgerWrite(table, "error")
		return fmt.Errorf("failed to append to %s: %w", table, err)
	}
	return nil
}

func (s *Store) recordWrite(table string, written bool) {
	if written {
		s.metrics.RecordLedgerWrite(table, "written")
	} else {
		s.metrics.RecordLedgerWrite(table, "duplicate")
	}
}

func (s *Store) insertBank(ctx context.Context, tx pgx.Tx, r ledger.BankRecord) (ledger.BankRecord, error) {
	current, err := s.lastBalance(ctx, tx)
	if err != nil {
		return r, err
	}
	r.Balance = current + r.SignedAmount()
	err = tx.QueryRow(ctx, `
		INSERT INTO bank_records (movement_date, description, deposit, withdrawal, balance, message_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		pgDate(r.Date), r.Description, r.Deposit, r.Withdrawal, r.Balance, pgText(r.MessageID)).Scan(&r.ID)
	if err != nil {
		return r, fmt.Errorf("insert: %w", err)
	}
	return r, nil
}

func (s *Store) lastBalance(ctx context.Context, tx pgx.Tx) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM bank_records ORDER BY id DESC LIMIT 1`).Scan(&balance)
	if err == pgx.ErrNoRows {
		return s.initialBalance, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func (s *Store) scanLimit() *int64 {
	return listLimit(s.dedupWindow)
}

// listLimit maps a non-positive limit to "all rows"; LIMIT NULL is
// unbounded in Postgres.
func listLimit(n int) *int64 {
	if n <= 0 {
		return nil
	}
	v := int64(n)
	return &v
}

func pgDate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), Valid: true}
}

func fromPgDate(d pgtype.Date) time.Time {
	if !d.Valid {
		return time.Time{}
	}
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

func pgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}
