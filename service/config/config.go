package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// It is built once at process start and passed explicitly to every constructor.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Ledger configuration
	DatabaseURL        string
	BankInitialBalance int64
	DedupWindow        int

	// Mailbox configuration
	InboxPath    string
	SMTPAddr     string
	SMTPDomain   string
	SMTPUsername string
	SMTPPassword string

	// Source queries, one per notification family
	FundQuery          string
	BankQuery          string
	RakutenBrokerQuery string
	SBIBrokerQuery     string
	CardQuery          string
	MaxItemsPerSource  int

	// Price source configuration
	PriceBaseURL       string
	PriceHistorySuffix string
	PriceUserAgent     string
	PriceRequestDelay  time.Duration
	PriceTimeout       time.Duration
	PriceLookbackDays  int
	MinPlausiblePrice  int64
	MaxPlausiblePrice  int64
	UnitsPerShareBasis int64

	// Fund keyword table used by the identity extractors
	FundMappingFile string
	Funds           []FundEntry

	// NATS configuration; empty disables event publishing
	NATSURL string

	// Operator alerts
	AlertEmail         string
	AlertFrom          string
	AlertSubjectPrefix string
	AlertSMTPAddr      string
	AlertSMTPUsername  string
	AlertSMTPPassword  string
	AlertSMTPStartTLS  bool

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	ReconcileInterval time.Duration
}

// FundEntry maps a keyword found in notification text to the fund it names.
type FundEntry struct {
	Keyword     string `json:"keyword"`
	Ticker      string `json:"ticker"`
	DisplayName string `json:"display_name"`
}

// DefaultFunds is used when FUND_MAPPING_FILE is not set.
var DefaultFunds = []FundEntry{
	{Keyword: "eMAXIS Slim 米国株式", Ticker: "0331418A", DisplayName: "eMAXIS Slim 米国株式(S&P500)"},
	{Keyword: "eMAXIS Slim 全世界株式", Ticker: "0331418B", DisplayName: "eMAXIS Slim 全世界株式(オール・カントリー)"},
	{Keyword: "eMAXIS Slim 先進国株式", Ticker: "0331418C", DisplayName: "eMAXIS Slim 先進国株式インデックス"},
	{Keyword: "eMAXIS Slim 国内株式", Ticker: "03311187", DisplayName: "eMAXIS Slim 国内株式(TOPIX)"},
	{Keyword: "eMAXIS Slim バランス", Ticker: "0331418D", DisplayName: "eMAXIS Slim バランス(8資産均等型)"},
	{Keyword: "ニッセイ外国株式", Ticker: "29313164", DisplayName: "<購入・換金手数料なし>ニッセイ外国株式インデックスファンド"},
	{Keyword: "SBI・V・S&P500", Ticker: "89311199", DisplayName: "SBI・V・S&P500インデックス・ファンド"},
	{Keyword: "SBI・V・全世界株式", Ticker: "89311209", DisplayName: "SBI・V・全世界株式インデックス・ファンド"},
	{Keyword: "楽天・全米株式", Ticker: "9I312179", DisplayName: "楽天・全米株式インデックス・ファンド"},
	{Keyword: "楽天・全世界株式", Ticker: "9I312189", DisplayName: "楽天・全世界株式インデックス・ファンド"},
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Load reads configuration from environment variables and validates all required fields.
// Every problem found is reported, not only the first one.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Ledger configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}
	if v, err := parseInt64("BANK_INITIAL_BALANCE", 0); err != nil {
		errs = append(errs, err)
	} else {
		cfg.BankInitialBalance = v
	}
	if v, err := parseInt("DEDUP_WINDOW", 500); err != nil {
		errs = append(errs, err)
	} else {
		cfg.DedupWindow = v
	}

	// Mailbox configuration
	cfg.InboxPath = getEnvOrDefault("INBOX_PATH", "myfinance-inbox.db")
	cfg.SMTPAddr = getEnvOrDefault("SMTP_ADDR", ":2525")
	cfg.SMTPDomain = getEnvOrDefault("SMTP_DOMAIN", "localhost")
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	if (cfg.SMTPUsername == "") != (cfg.SMTPPassword == "") {
		errs = append(errs, fmt.Errorf("SMTP_USERNAME and SMTP_PASSWORD must be set together"))
	}

	// Source queries
	cfg.FundQuery = getEnvOrDefault("FUND_QUERY", "subject:約定 newer_than:1d is:unread")
	cfg.BankQuery = getEnvOrDefault("BANK_QUERY", "from:smbc.co.jp subject:三井住友銀行 newer_than:1d is:unread")
	cfg.RakutenBrokerQuery = getEnvOrDefault("RAKUTEN_BROKER_QUERY", "from:rakuten-sec.co.jp subject:約定 newer_than:1d is:unread")
	cfg.SBIBrokerQuery = getEnvOrDefault("SBI_BROKER_QUERY", "from:sbisec.co.jp subject:約定 newer_than:1d is:unread")
	cfg.CardQuery = getEnvOrDefault("CARD_QUERY", "from:rakuten-card.co.jp subject:カード利用 newer_than:1d is:unread")
	if v, err := parseInt("MAX_ITEMS_PER_SOURCE", 20); err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxItemsPerSource = v
	}

	// Price source configuration
	cfg.PriceBaseURL = getEnvOrDefault("PRICE_BASE_URL", "https://finance.yahoo.co.jp/quote/")
	cfg.PriceHistorySuffix = getEnvOrDefault("PRICE_HISTORY_SUFFIX", "/history")
	cfg.PriceUserAgent = getEnvOrDefault("PRICE_USER_AGENT", defaultUserAgent)
	if d, err := parseDuration("PRICE_REQUEST_DELAY", "2s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PriceRequestDelay = d
	}
	if d, err := parseDuration("PRICE_TIMEOUT", "15s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PriceTimeout = d
	}
	if v, err := parseInt("PRICE_LOOKBACK_DAYS", 7); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PriceLookbackDays = v
	}
	if v, err := parseInt64("MIN_PLAUSIBLE_PRICE", 100); err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinPlausiblePrice = v
	}
	if v, err := parseInt64("MAX_PLAUSIBLE_PRICE", 999999); err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxPlausiblePrice = v
	}
	if v, err := parseInt64("UNITS_PER_SHARE_BASIS", 10000); err != nil {
		errs = append(errs, err)
	} else {
		cfg.UnitsPerShareBasis = v
	}

	// Fund keyword table
	cfg.FundMappingFile = os.Getenv("FUND_MAPPING_FILE")
	if cfg.FundMappingFile != "" {
		funds, err := LoadFunds(cfg.FundMappingFile)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.Funds = funds
		}
	} else {
		cfg.Funds = DefaultFunds
	}

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Operator alerts
	cfg.AlertEmail = os.Getenv("ALERT_EMAIL")
	cfg.AlertFrom = getEnvOrDefault("ALERT_FROM", "myfinance@localhost")
	cfg.AlertSubjectPrefix = getEnvOrDefault("ALERT_SUBJECT_PREFIX", "[MyFinance Alert]")
	cfg.AlertSMTPAddr = os.Getenv("ALERT_SMTP_ADDR")
	cfg.AlertSMTPUsername = os.Getenv("ALERT_SMTP_USERNAME")
	cfg.AlertSMTPPassword = os.Getenv("ALERT_SMTP_PASSWORD")
	if v := os.Getenv("ALERT_SMTP_STARTTLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid ALERT_SMTP_STARTTLS: %w", err))
		}
		cfg.AlertSMTPStartTLS = b
	}
	if cfg.AlertEmail != "" && cfg.AlertSMTPAddr == "" {
		errs = append(errs, fmt.Errorf("ALERT_SMTP_ADDR is required when ALERT_EMAIL is set"))
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "myfinance-reconcile")
	if d, err := parseDuration("RECONCILE_INTERVAL", "1h"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileInterval = d
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.MaxItemsPerSource < 1 {
		errs = append(errs, fmt.Errorf("MaxItemsPerSource must be at least 1"))
	}

	if c.PriceRequestDelay < 0 {
		errs = append(errs, fmt.Errorf("PriceRequestDelay cannot be negative"))
	}

	if c.PriceLookbackDays < 0 {
		errs = append(errs, fmt.Errorf("PriceLookbackDays cannot be negative"))
	}

	if c.MinPlausiblePrice <= 0 || c.MaxPlausiblePrice < c.MinPlausiblePrice {
		errs = append(errs, fmt.Errorf("plausible price band [%d, %d] is invalid", c.MinPlausiblePrice, c.MaxPlausiblePrice))
	}

	if c.UnitsPerShareBasis <= 0 {
		errs = append(errs, fmt.Errorf("UnitsPerShareBasis must be positive"))
	}

	if c.DedupWindow < 1 {
		errs = append(errs, fmt.Errorf("DedupWindow must be at least 1"))
	}

	if len(c.Funds) == 0 {
		errs = append(errs, fmt.Errorf("at least one fund mapping is required"))
	}

	if c.ReconcileInterval < time.Minute {
		errs = append(errs, fmt.Errorf("ReconcileInterval must be at least 1 minute"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// LoadFunds reads a JSON array of fund entries from path.
func LoadFunds(path string) ([]FundEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("FUND_MAPPING_FILE: %w", err)
	}

	var funds []FundEntry
	if err := json.Unmarshal(data, &funds); err != nil {
		return nil, fmt.Errorf("FUND_MAPPING_FILE: invalid JSON: %w", err)
	}

	for i, f := range funds {
		if f.Keyword == "" || f.Ticker == "" {
			return nil, fmt.Errorf("FUND_MAPPING_FILE: entry %d needs keyword and ticker", i)
		}
		if f.DisplayName == "" {
			funds[i].DisplayName = f.Keyword
		}
	}

	return funds, nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
