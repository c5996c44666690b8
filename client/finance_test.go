package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/myfinance/service/config"
	"github.com/brojonat/myfinance/service/ledger"
	"github.com/brojonat/myfinance/service/server"
	"github.com/brojonat/myfinance/service/temporal"
)

func newFacade(t *testing.T) (*ledger.MemoryStore, *temporal.MockScheduler, *Client) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := ledger.NewMemoryStore(50000, 500)
	scheduler := temporal.NewMockScheduler()
	srv := server.New(":0", &config.Config{UnitsPerShareBasis: 10000}, store, nil, scheduler, nil, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return store, scheduler, NewClient(ts.URL, nil, nil)
}

func TestClient_RecordsRoundTrip(t *testing.T) {
	store, _, c := newFacade(t)
	_, err := store.AppendFundRecord(context.Background(), ledger.FundRecord{
		Date:      time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Name:      "Fund A Display",
		Amount:    33333,
		UnitPrice: decimal.NewFromInt(29850),
		Quantity:  decimal.NewFromInt(11167),
		Ticker:    "X1",
		Kind:      ledger.KindFund,
	})
	require.NoError(t, err)

	records, err := c.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Fund A Display", records[0].Name)
	assert.Equal(t, int64(33333), records[0].Amount)
	assert.True(t, records[0].Quantity.Equal(decimal.NewFromInt(11167)))
	assert.Equal(t, "2025/01/15", records[0].Date.Format(ledger.DateLayout))

	holdings, err := c.Portfolio(context.Background())
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(11167), holdings[0].TotalUnits)
	assert.Nil(t, holdings[0].CurrentValue)
}

func TestClient_BankAndAdjust(t *testing.T) {
	_, _, c := newFacade(t)
	ctx := context.Background()

	bal, err := c.Bank(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), bal.Balance)
	assert.Nil(t, bal.LastUpdated)

	adj, err := c.AdjustBalance(ctx, 65000)
	require.NoError(t, err)
	assert.Equal(t, int64(65000), adj.Balance.Balance)
	require.NotNil(t, adj.Record)
	assert.Equal(t, int64(15000), adj.Record.Deposit)

	records, err := c.BankRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.AdjustmentDescription, records[0].Description)

	expenses, err := c.Expenses(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, expenses)
}

func TestClient_Health(t *testing.T) {
	_, _, c := newFacade(t)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, server.Version, h.Version)
	assert.NotEmpty(t, h.Message)
}

func TestClient_TriggerReconcile(t *testing.T) {
	_, scheduler, c := newFacade(t)

	id, err := c.TriggerReconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "reconcile-manual-1", id)
	assert.Equal(t, 1, scheduler.TriggerCount())
}

func TestClient_ErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "adjust_balance", body["action"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "error",
			"message": "amount must be an integer number of yen",
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil, nil)
	_, err := c.AdjustBalance(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount must be an integer")
}

func TestClient_ErrorStatusInOKResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "records", r.URL.Query().Get("action"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": "sheet locked"})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, nil, nil).Records(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheet locked")
}

func TestClient_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, nil, nil).Bank(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
