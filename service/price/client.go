// Package price looks up historical fund prices from a public quote site.
package price

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/brojonat/myfinance/service/metrics"
)

// Config describes the history page and the extraction limits.
type Config struct {
	BaseURL       string
	HistorySuffix string
	UserAgent     string
	LookbackDays  int
	Band          Band
	Timeout       time.Duration
}

// Lookup is the outcome of a price lookup. Available is false when the
// source has not published a value for the date yet, when the page could
// not be fetched, or when no strategy found a value; Reason says which.
type Lookup struct {
	Price     int64     `json:"price"`
	Date      time.Time `json:"date"`
	Available bool      `json:"available"`
	Strategy  Strategy  `json:"strategy,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	URL       string    `json:"url"`
}

// Client fetches history pages. All fetches share one limiter so no two
// requests are closer together than the configured spacing.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewLimiter returns a limiter allowing one fetch per delay. The first fetch
// is not delayed.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// NewClient creates a price client. If httpClient is nil, one with
// cfg.Timeout is created. metrics may be nil.
func NewClient(cfg Config, httpClient *http.Client, limiter *rate.Limiter, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		metrics: m,
		logger:  logger.With("component", "price"),
	}
}

// HistoryURL builds the history page URL for the lookback window ending at target.
func (c *Client) HistoryURL(securityID string, target time.Time) string {
	from := target.AddDate(0, 0, -c.cfg.LookbackDays)
	return fmt.Sprintf("%s%s%s?from=%s&to=%s&timeFrame=d",
		c.cfg.BaseURL, securityID, c.cfg.HistorySuffix,
		from.Format("20060102"), target.Format("20060102"))
}

// LookupPrice returns the price published for target. The error return is
// reserved for invalid input and cancellation; an unreachable or silent
// source yields Available=false.
func (c *Client) LookupPrice(ctx context.Context, securityID string, target time.Time) (Lookup, error) {
	if securityID == "" {
		return Lookup{}, errors.New("security id is required")
	}
	if target.IsZero() {
		return Lookup{}, errors.New("target date is required")
	}

	url := c.HistoryURL(securityID, target)
	doc, elapsed, lookup, err := c.fetch(ctx, url)
	if err != nil || doc == "" {
		lookup.Date = target
		return lookup, err
	}

	v, strategy, ok := ExtractPrice(doc, target, c.cfg.Band)
	if !ok {
		c.metrics.RecordPriceLookup("not_found", string(StrategyNone), elapsed)
		c.logger.Info("price not published yet",
			"security_id", securityID,
			"date", target.Format("2006/01/02"),
		)
		return Lookup{Date: target, URL: url, Reason: "no price for date in history page"}, nil
	}

	c.metrics.RecordPriceLookup("found", string(strategy), elapsed)
	c.logger.Info("price found",
		"security_id", securityID,
		"date", target.Format("2006/01/02"),
		"price", v,
		"strategy", strategy,
	)
	return Lookup{Price: v, Date: target, Available: true, Strategy: strategy, URL: url}, nil
}

// LatestPrice returns the most recent price on or before asOf within the
// lookback window, using a single fetch.
func (c *Client) LatestPrice(ctx context.Context, securityID string, asOf time.Time) (Lookup, error) {
	if securityID == "" {
		return Lookup{}, errors.New("security id is required")
	}

	url := c.HistoryURL(securityID, asOf)
	doc, elapsed, lookup, err := c.fetch(ctx, url)
	if err != nil || doc == "" {
		lookup.Date = asOf
		return lookup, err
	}

	for i := 0; i <= c.cfg.LookbackDays; i++ {
		day := asOf.AddDate(0, 0, -i)
		if v, strategy, ok := ExtractPrice(doc, day, c.cfg.Band); ok {
			c.metrics.RecordPriceLookup("found", string(strategy), elapsed)
			return Lookup{Price: v, Date: day, Available: true, Strategy: strategy, URL: url}, nil
		}
	}

	c.metrics.RecordPriceLookup("not_found", string(StrategyNone), elapsed)
	return Lookup{Date: asOf, URL: url, Reason: "no price in lookback window"}, nil
}

// fetch waits on the shared limiter and downloads url. On a non-fatal
// failure it returns an empty document and an unavailable Lookup.
func (c *Client) fetch(ctx context.Context, url string) (string, float64, Lookup, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", 0, Lookup{}, fmt.Errorf("wait for price request slot: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, Lookup{}, fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, Lookup{}, ctx.Err()
		}
		c.metrics.RecordPriceLookup("fetch_error", string(StrategyNone), metrics.Since(start))
		c.logger.Warn("price fetch failed", "url", url, "error", err)
		return "", 0, Lookup{URL: url, Reason: fmt.Sprintf("fetch failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordPriceLookup("http_error", string(StrategyNone), metrics.Since(start))
		c.logger.Warn("price source returned non-200", "url", url, "status", resp.StatusCode)
		return "", 0, Lookup{URL: url, Reason: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, Lookup{}, ctx.Err()
		}
		c.metrics.RecordPriceLookup("fetch_error", string(StrategyNone), metrics.Since(start))
		c.logger.Warn("price body read failed", "url", url, "error", err)
		return "", 0, Lookup{URL: url, Reason: fmt.Sprintf("read failed: %v", err)}, nil
	}
	if len(body) == 0 {
		c.metrics.RecordPriceLookup("empty", string(StrategyNone), metrics.Since(start))
		return "", 0, Lookup{URL: url, Reason: "empty response body"}, nil
	}

	return string(body), metrics.Since(start), Lookup{}, nil
}
