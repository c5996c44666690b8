package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/myfinance/service/price"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMemoryStore_FundDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 500)

	r := FundRecord{
		Date: day(2025, 1, 15), Name: "Fund A Display", Amount: 33333,
		UnitPrice: decimal.NewFromInt(25000), Quantity: decimal.NewFromInt(13333),
		Ticker: "X1", MessageID: "mid:a",
	}
	ok, err := s.AppendFundRecord(ctx, r)
	require.NoError(t, err)
	assert.True(t, ok)

	r.MessageID = "mid:b"
	ok, err = s.AppendFundRecord(ctx, r)
	require.NoError(t, err)
	assert.False(t, ok, "same date, name and amount is a duplicate")

	records, err := s.ListFundRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, KindFund, records[0].Kind)

	for _, key := range []string{"mid:a", "mid:b"} {
		processed, err := s.IsProcessed(ctx, key)
		require.NoError(t, err)
		assert.True(t, processed, key)
	}
	processed, err := s.IsProcessed(ctx, "mid:c")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestMemoryStore_BankRunningBalance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(100000, 500)

	bal, err := s.CurrentBankBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), bal.Balance)
	assert.Nil(t, bal.LastUpdated)

	_, err = s.AppendBankRecord(ctx, BankRecordFromAmount(day(2025, 2, 1), "給与", 250000, "id:1"))
	require.NoError(t, err)
	_, err = s.AppendBankRecord(ctx, BankRecordFromAmount(day(2025, 2, 3), "出金", -40000, "id:2"))
	require.NoError(t, err)

	ok, err := s.AppendBankRecord(ctx, BankRecordFromAmount(day(2025, 2, 3), "出金", -40000, "id:3"))
	require.NoError(t, err)
	assert.False(t, ok)

	// same description and date, opposite sign, is a different movement
	ok, err = s.AppendBankRecord(ctx, BankRecordFromAmount(day(2025, 2, 3), "出金", 40000, "id:4"))
	require.NoError(t, err)
	assert.True(t, ok)

	bal, err = s.CurrentBankBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(350000), bal.Balance)
	require.NotNil(t, bal.LastUpdated)
	assert.Equal(t, day(2025, 2, 3), *bal.LastUpdated)

	rows, err := s.ListBankRecords(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(310000), rows[0].Balance)
	assert.Equal(t, int64(40000), rows[0].Withdrawal)
}

func TestMemoryStore_DedupWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 2)

	first := ExpenseRecord{Date: day(2025, 3, 1), Merchant: "Shop", Amount: 1200}
	_, err := s.AppendExpenseRecord(ctx, first)
	require.NoError(t, err)
	_, err = s.AppendExpenseRecord(ctx, ExpenseRecord{Date: day(2025, 3, 2), Merchant: "Cafe", Amount: 500})
	require.NoError(t, err)
	_, err = s.AppendExpenseRecord(ctx, ExpenseRecord{Date: day(2025, 3, 3), Merchant: "Book", Amount: 900})
	require.NoError(t, err)

	// the first row fell out of the scan window
	ok, err := s.AppendExpenseRecord(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_AdjustBankBalance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(1000, 500)

	r, err := s.AdjustBankBalance(ctx, 1000, day(2025, 4, 1))
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = s.AdjustBankBalance(ctx, 800, day(2025, 4, 1))
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, AdjustmentDescription, r.Description)
	assert.Equal(t, int64(200), r.Withdrawal)
	assert.Equal(t, int64(800), r.Balance)

	// adjustments bypass the duplicate check
	_, err = s.AdjustBankBalance(ctx, 1000, day(2025, 4, 1))
	require.NoError(t, err)
	r, err = s.AdjustBankBalance(ctx, 800, day(2025, 4, 1))
	require.NoError(t, err)
	require.NotNil(t, r)

	bal, err := s.CurrentBankBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(800), bal.Balance)
}

func TestSnapshot_IsolatesWrites(t *testing.T) {
	ctx := context.Background()
	src := NewMemoryStore(100000, 500)

	_, err := src.AppendFundRecord(ctx, FundRecord{Date: day(2025, 1, 15), Name: "Fund A", Amount: 33333, Ticker: "X1", MessageID: "mid:a"})
	require.NoError(t, err)
	_, err = src.AppendBankRecord(ctx, BankRecordFromAmount(day(2025, 1, 20), "給与", 250000, "mid:b"))
	require.NoError(t, err)

	snap, err := Snapshot(ctx, src, 100000, 500)
	require.NoError(t, err)

	done, err := snap.IsProcessed(ctx, "mid:b")
	require.NoError(t, err)
	assert.True(t, done)

	ok, err := snap.AppendFundRecord(ctx, FundRecord{Date: day(2025, 1, 15), Name: "Fund A", Amount: 33333, Ticker: "X1", MessageID: "mid:c"})
	require.NoError(t, err)
	assert.False(t, ok, "existing record is seen as a duplicate")

	ok, err = snap.AppendBankRecord(ctx, BankRecordFromAmount(day(2025, 1, 21), "ATM", -10000, "mid:d"))
	require.NoError(t, err)
	assert.True(t, ok)

	bal, err := snap.CurrentBankBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(340000), bal.Balance)

	srcBal, err := src.CurrentBankBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(350000), srcBal.Balance, "source is untouched")

	banks, err := snap.ListBankRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, banks, 2)
	assert.Greater(t, banks[1].ID, banks[0].ID)
}

func TestFundRecord_JSON(t *testing.T) {
	r := FundRecord{
		Date: day(2025, 1, 15), Name: "Fund A Display", Amount: 33333,
		UnitPrice: decimal.NewFromInt(25000), Quantity: decimal.NewFromInt(13333),
		Ticker: "X1", Kind: KindFund,
	}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2025/01/15","fundName":"Fund A Display","amount":33333,
		"unitPrice":25000,"quantity":13333,"ticker":"X1","kind":"fund"}`, string(b))

	var back FundRecord
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, r.Date, back.Date)
	assert.True(t, r.Quantity.Equal(back.Quantity))
}

func TestBankRecord_UnmarshalBadDate(t *testing.T) {
	var r BankRecord
	err := json.Unmarshal([]byte(`{"date":"15-01-2025"}`), &r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid date")
}

type stubPrices struct {
	prices map[string]int64
	err    error
}

func (s stubPrices) LatestPrice(ctx context.Context, id string, asOf time.Time) (price.Lookup, error) {
	if s.err != nil {
		return price.Lookup{}, s.err
	}
	p, ok := s.prices[id]
	if !ok {
		return price.Lookup{Reason: "not published"}, nil
	}
	return price.Lookup{Price: p, Date: asOf, Available: true}, nil
}

func TestPortfolioSummary(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 500)
	add := func(d int, name, ticker string, amount, units int64) {
		_, err := s.AppendFundRecord(ctx, FundRecord{
			Date: day(2025, 1, d), Name: name, Amount: amount,
			Quantity: decimal.NewFromInt(units), Ticker: ticker,
		})
		require.NoError(t, err)
	}
	add(10, "Fund A", "X1", 10000, 4000)
	add(11, "Fund B", "X2", 5000, 2000)
	add(12, "Fund A", "X1", 10000, 4000)
	_, err := s.AppendFundRecord(ctx, FundRecord{
		Date: day(2025, 1, 13), Name: "Stock", Amount: 300000,
		Quantity: decimal.NewFromInt(100), Ticker: "7203", Kind: KindTrade,
	})
	require.NoError(t, err)

	holdings, err := PortfolioSummary(ctx, s, stubPrices{prices: map[string]int64{"X1": 27500}}, day(2025, 2, 1), 10000, nil)
	require.NoError(t, err)
	require.Len(t, holdings, 2)

	a := holdings[0]
	assert.Equal(t, "X1", a.Ticker)
	assert.Equal(t, int64(20000), a.TotalInvested)
	assert.Equal(t, int64(8000), a.TotalUnits)
	assert.Equal(t, 2, a.TradeCount)
	require.NotNil(t, a.CurrentValue)
	assert.Equal(t, int64(22000), *a.CurrentValue)
	assert.Equal(t, int64(2000), *a.ProfitLoss)
	assert.Equal(t, "10.00", *a.ProfitLossRate)

	b := holdings[1]
	assert.Equal(t, "X2", b.Ticker)
	assert.Nil(t, b.LatestPrice)
	assert.Nil(t, b.CurrentValue)
	assert.Nil(t, b.ProfitLossRate)
}

func TestPortfolioSummary_PriceError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 500)
	_, err := s.AppendFundRecord(ctx, FundRecord{Date: day(2025, 1, 10), Name: "Fund A", Amount: 1, Ticker: "X1"})
	require.NoError(t, err)

	_, err = PortfolioSummary(ctx, s, stubPrices{err: errors.New("canceled")}, day(2025, 2, 1), 10000, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "X1")
}

func TestHolding_ValueNegativeRate(t *testing.T) {
	h := Holding{TotalInvested: 30000, TotalUnits: 12000}
	h.Value(20000, 10000)
	assert.Equal(t, int64(24000), *h.CurrentValue)
	assert.Equal(t, int64(-6000), *h.ProfitLoss)
	assert.Equal(t, "-20.00", *h.ProfitLossRate)
}
