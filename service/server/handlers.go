package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/myfinance/service/ledger"
	"github.com/brojonat/myfinance/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20
	defaultListLimit   = 100
	maxListLimit       = 5000
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// envelope is the body of every /api response.
type envelope struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Version   string      `json:"version,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// adjustRequest is the POST /api body. Amount is the target balance; it
// decodes to json.Number only when the client sent a JSON number.
type adjustRequest struct {
	Action string      `json:"action"`
	Amount interface{} `json:"amount"`
}

// adjustResponse reports the new balance and the correcting record, which
// is absent when the balance already matched.
type adjustResponse struct {
	Balance    ledger.Balance     `json:"balance"`
	Adjustment *ledger.BankRecord `json:"adjustment"`
}

// handleAPIGet returns a handler for the dashboard's read actions.
// GET /api?action=records|portfolio|bank|bank_records|expenses|health
// A missing or unknown action is answered as health.
func handleAPIGet(store ledger.Store, prices ledger.PriceSource, basis int64, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		action := r.URL.Query().Get("action")

		var (
			data interface{}
			err  error
		)
		switch action {
		case "records":
			logger.Info("records request")
			var records []ledger.FundRecord
			records, err = store.ListFundRecords(ctx)
			data = nonNil(records)

		case "portfolio":
			logger.Info("portfolio request")
			var holdings []ledger.Holding
			holdings, err = ledger.PortfolioSummary(ctx, store, prices, time.Now(), basis, logger)
			data = nonNil(holdings)

		case "bank":
			data, err = store.CurrentBankBalance(ctx)

		case "bank_records":
			limit, lerr := parseLimit(r.URL.Query().Get("limit"))
			if lerr != nil {
				writeError(w, lerr.Error(), http.StatusBadRequest)
				return
			}
			var records []ledger.BankRecord
			records, err = store.ListBankRecords(ctx, limit)
			data = nonNil(records)

		case "expenses":
			limit, lerr := parseLimit(r.URL.Query().Get("limit"))
			if lerr != nil {
				writeError(w, lerr.Error(), http.StatusBadRequest)
				return
			}
			var records []ledger.ExpenseRecord
			records, err = store.ListExpenseRecords(ctx, limit)
			data = nonNil(records)

		default:
			writeJSON(w, envelope{
				Status:    statusOK,
				Message:   "MyFinance backend is running",
				Version:   Version,
				Timestamp: time.Now(),
			}, http.StatusOK)
			return
		}

		if err != nil {
			logger.Error("api request failed", "action", action, "error", err)
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, envelope{Status: statusOK, Data: data, Timestamp: time.Now()}, http.StatusOK)
	})
}

// handleAPIPost returns a handler for the dashboard's write actions.
// POST /api {"action":"adjust_balance","amount":N}
func handleAPIPost(store ledger.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var req adjustRequest
		if err := dec.Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			if errors.Is(err, io.EOF) {
				writeError(w, "request body is required", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if req.Action != "adjust_balance" {
			writeError(w, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
			return
		}
		if req.Amount == nil {
			writeError(w, "amount is required", http.StatusBadRequest)
			return
		}
		amount, ok := req.Amount.(json.Number)
		if !ok {
			writeError(w, "amount must be a number", http.StatusBadRequest)
			return
		}
		target, err := amount.Int64()
		if err != nil {
			writeError(w, "amount must be an integer number of yen", http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		rec, err := store.AdjustBankBalance(ctx, target, time.Now())
		if err != nil {
			logger.Error("failed to adjust bank balance", "target", target, "error", err)
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		bal, err := store.CurrentBankBalance(ctx)
		if err != nil {
			logger.Error("failed to read bank balance", "error", err)
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if rec != nil {
			logger.Info("bank balance adjusted",
				"target", target,
				"delta", rec.SignedAmount(),
			)
		}

		writeJSON(w, envelope{
			Status:    statusOK,
			Data:      adjustResponse{Balance: bal, Adjustment: rec},
			Timestamp: time.Now(),
		}, http.StatusOK)
	})
}

// handleTriggerReconcile starts a reconciliation run outside the schedule.
// POST /api/v1/reconcile
func handleTriggerReconcile(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scheduler == nil {
			writeError(w, "scheduler not configured", http.StatusServiceUnavailable)
			return
		}

		workflowID, err := scheduler.TriggerReconcile(r.Context())
		if err != nil {
			logger.Error("failed to trigger reconcile", "error", err)
			writeError(w, "failed to trigger reconciliation", http.StatusInternalServerError)
			return
		}

		logger.Info("reconcile triggered", "workflow_id", workflowID)
		writeJSON(w, envelope{
			Status:    statusOK,
			Data:      map[string]string{"workflow_id": workflowID},
			Timestamp: time.Now(),
		}, http.StatusAccepted)
	})
}

// handleHealth reports whether the ledger is reachable.
func handleHealth(store ledger.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Warn("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("ledger unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func parseLimit(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error envelope.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, envelope{Status: statusError, Message: message, Timestamp: time.Now()}, statusCode)
}
