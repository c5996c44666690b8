package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/myfinance/service/ledger"
)

// Health is the answer to the health action.
type Health struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Adjustment is the result of a balance adjustment. Record is nil when the
// balance already matched the target.
type Adjustment struct {
	Balance ledger.Balance     `json:"balance"`
	Record  *ledger.BankRecord `json:"adjustment"`
}

// envelope mirrors the server's response body.
type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client is the HTTP client for the myfinance query facade.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new query facade client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Records returns every fund and trade record in the ledger.
func (c *Client) Records(ctx context.Context) ([]ledger.FundRecord, error) {
	var records []ledger.FundRecord
	if err := c.get(ctx, "records", nil, &records); err != nil {
		return nil, err
	}
	c.logger.Debug("fetched records", "count", len(records))
	return records, nil
}

// Portfolio returns the holdings summary valued at the latest prices.
func (c *Client) Portfolio(ctx context.Context) ([]ledger.Holding, error) {
	var holdings []ledger.Holding
	if err := c.get(ctx, "portfolio", nil, &holdings); err != nil {
		return nil, err
	}
	return holdings, nil
}

// Bank returns the current bank balance.
func (c *Client) Bank(ctx context.Context) (*ledger.Balance, error) {
	var bal ledger.Balance
	if err := c.get(ctx, "bank", nil, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// BankRecords returns the most recent bank movements, oldest first.
func (c *Client) BankRecords(ctx context.Context, limit int) ([]ledger.BankRecord, error) {
	var records []ledger.BankRecord
	if err := c.get(ctx, "bank_records", limitParam(limit), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Expenses returns the most recent card charges, oldest first.
func (c *Client) Expenses(ctx context.Context, limit int) ([]ledger.ExpenseRecord, error) {
	var records []ledger.ExpenseRecord
	if err := c.get(ctx, "expenses", limitParam(limit), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Health calls the health action.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	env, err := c.do(ctx, http.MethodGet, c.apiURL("health", nil), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &Health{
		Status:    env.Status,
		Message:   env.Message,
		Version:   env.Version,
		Timestamp: env.Timestamp,
	}, nil
}

// AdjustBalance sets the bank balance to target by appending a correcting
// record.
func (c *Client) AdjustBalance(ctx context.Context, target int64) (*Adjustment, error) {
	body, err := json.Marshal(map[string]interface{}{
		"action": "adjust_balance",
		"amount": target,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	env, err := c.do(ctx, http.MethodPost, c.baseURL+"/api", body, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var adj Adjustment
	if err := json.Unmarshal(env.Data, &adj); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	c.logger.Debug("balance adjusted", "target", target, "balance", adj.Balance.Balance)
	return &adj, nil
}

// TriggerReconcile asks the server to start a reconciliation run and
// returns the workflow ID.
func (c *Client) TriggerReconcile(ctx context.Context) (string, error) {
	env, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/reconcile", nil, http.StatusAccepted)
	if err != nil {
		return "", err
	}
	var data struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return data.WorkflowID, nil
}

func (c *Client) apiURL(action string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("action", action)
	return c.baseURL + "/api?" + params.Encode()
}

func limitParam(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": []string{strconv.Itoa(limit)}}
}

func (c *Client) get(ctx context.Context, action string, params url.Values, out interface{}) error {
	env, err := c.do(ctx, http.MethodGet, c.apiURL(action, params), nil, http.StatusOK)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", action, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, want int) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return nil, c.parseErrorResponse(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Status != "ok" {
		return nil, fmt.Errorf("request failed: %s", env.Message)
	}
	return &env, nil
}

// parseErrorResponse attempts to parse an error envelope from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Message == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Message)
}
