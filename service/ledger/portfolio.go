package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brojonat/myfinance/service/price"
)

// PriceSource resolves the most recent published price for a ticker.
type PriceSource interface {
	LatestPrice(ctx context.Context, securityID string, asOf time.Time) (price.Lookup, error)
}

// Holding is one portfolio row, aggregated over every fund record sharing a
// ticker. The valuation fields are nil when no latest price is known.
type Holding struct {
	Name           string  `json:"fundName"`
	Ticker         string  `json:"ticker"`
	TotalInvested  int64   `json:"totalInvested"`
	TotalUnits     int64   `json:"totalQuantity"`
	LatestPrice    *int64  `json:"latestNav"`
	CurrentValue   *int64  `json:"currentValue"`
	ProfitLoss     *int64  `json:"profitLoss"`
	ProfitLossRate *string `json:"profitLossRate"`
	TradeCount     int     `json:"recordCount"`
}

// PortfolioSummary groups the store's fund purchases by ticker, in order of
// first appearance, and values each group at the latest price. Security
// trades are excluded; their quantities are shares, not fund units.
func PortfolioSummary(ctx context.Context, store Store, prices PriceSource, asOf time.Time, basis int64, logger *slog.Logger) ([]Holding, error) {
	records, err := store.ListFundRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fund records: %w", err)
	}
	holdings := Summarize(records)

	for i := range holdings {
		h := &holdings[i]
		if prices == nil {
			continue
		}
		lookup, err := prices.LatestPrice(ctx, h.Ticker, asOf)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch latest price for %s: %w", h.Ticker, err)
		}
		if !lookup.Available {
			if logger != nil {
				logger.WarnContext(ctx, "latest price unavailable", "ticker", h.Ticker, "reason", lookup.Reason)
			}
			continue
		}
		h.Value(lookup.Price, basis)
	}
	return holdings, nil
}

// Summarize aggregates fund records without valuing them.
func Summarize(records []FundRecord) []Holding {
	index := make(map[string]int)
	var holdings []Holding
	for _, r := range records {
		if r.Kind != "" && r.Kind != KindFund {
			continue
		}
		i, ok := index[r.Ticker]
		if !ok {
			i = len(holdings)
			index[r.Ticker] = i
			holdings = append(holdings, Holding{Name: r.Name, Ticker: r.Ticker})
		}
		holdings[i].TotalInvested += r.Amount
		holdings[i].TotalUnits += r.Quantity.IntPart()
		holdings[i].TradeCount++
	}
	return holdings
}

// Value fills the valuation fields from a latest price.
func (h *Holding) Value(latest, basis int64) {
	current := price.Valuation(h.TotalUnits, latest, basis)
	pl := current - h.TotalInvested
	h.LatestPrice = &latest
	h.CurrentValue = &current
	h.ProfitLoss = &pl
	if h.TotalInvested != 0 {
		rate := decimal.NewFromInt(pl).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(h.TotalInvested)).
			StringFixed(2)
		h.ProfitLossRate = &rate
	}
}
