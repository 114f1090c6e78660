package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigFileEnv names the variable pointing at an optional TOML file. File
// values sit between the built-in defaults and environment variables.
const ConfigFileEnv = "LEDGER_CONFIG"

type Config struct {
	// HTTP Server
	Port           string   `toml:"port"`
	Environment    string   `toml:"environment"`
	TrustedProxies []string `toml:"trusted_proxies"`
	CookieSecure   bool     `toml:"cookie_secure"`
	MetricsEnabled bool     `toml:"metrics_enabled"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`

	// Logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	// Remote ledger API
	APIBaseURL string        `toml:"api_base_url"`
	APITimeout time.Duration `toml:"api_timeout"`

	// Sessions and settlement outbox
	StoreBackend  string        `toml:"store_backend"`
	SQLiteDBPath  string        `toml:"sqlite_db_path"`
	SessionSecret string        `toml:"session_secret"`
	SessionTTL    time.Duration `toml:"session_ttl"`

	// CLI
	CLISessionFile string `toml:"cli_session_file"`

	// Read cache
	CacheTTL        time.Duration `toml:"cache_ttl"`
	CacheMaxEntries int           `toml:"cache_max_entries"`

	// AMQP
	AMQPURL      string `toml:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange"`
	AMQPQueue    string `toml:"amqp_queue"`

	// Settlement
	SettlementRetryAttempts int           `toml:"settlement_retry_attempts"`
	SettlementRetryBackoff  time.Duration `toml:"settlement_retry_backoff"`
	RepairInterval          time.Duration `toml:"repair_interval"`
	RepairBatchSize         int           `toml:"repair_batch_size"`
	RepairMaxAttempts       int           `toml:"repair_max_attempts"`

	// Google Sheets export
	GoogleSpreadsheetID   string `toml:"google_spreadsheet_id"`
	GoogleSheetName       string `toml:"google_sheet_name"`
	GoogleCredentialsFile string `toml:"google_credentials_file"`
	GoogleOAuthClientFile string `toml:"google_oauth_client_file"`
	GoogleOAuthTokenFile  string `toml:"google_oauth_token_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           "8081",
		Environment:    "development",
		MetricsEnabled: true,
		RateLimitRPS:   10,
		RateLimitBurst: 30,

		LogLevel:  "info",
		LogFormat: "text",

		APIBaseURL: "http://localhost:8080/api",
		APITimeout: 15 * time.Second,

		StoreBackend: "sqlite",
		SQLiteDBPath: "./data/ledger.db",
		SessionTTL:   7 * 24 * time.Hour,

		CLISessionFile: defaultCLISessionFile(),

		CacheTTL:        30 * time.Second,
		CacheMaxEntries: 500,

		AMQPExchange: "ledger",
		AMQPQueue:    "settlement_repair",

		SettlementRetryAttempts: 3,
		SettlementRetryBackoff:  250 * time.Millisecond,
		RepairInterval:          time.Minute,
		RepairBatchSize:         20,
		RepairMaxAttempts:       10,

		GoogleSheetName: "Ledger",
	}
}

// Load builds the configuration from defaults, the optional TOML file named by
// LEDGER_CONFIG, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile overlays the keys present in a TOML file.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config file %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.TrustedProxies = getEnvList("TRUSTED_PROXIES", c.TrustedProxies)
	c.CookieSecure = getEnvBool("COOKIE_SECURE", c.CookieSecure)
	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled)
	c.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.APIBaseURL = getEnv("API_BASE_URL", c.APIBaseURL)
	c.APITimeout = getEnvDuration("API_TIMEOUT", c.APITimeout)

	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	c.SQLiteDBPath = getEnv("SQLITE_DB_PATH", c.SQLiteDBPath)
	c.SessionSecret = getEnv("SESSION_SECRET", c.SessionSecret)
	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)

	c.CLISessionFile = getEnv("LEDGER_SESSION_FILE", c.CLISessionFile)

	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)
	c.CacheMaxEntries = getEnvInt("CACHE_MAX_ENTRIES", c.CacheMaxEntries)

	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.AMQPQueue = getEnv("AMQP_QUEUE", c.AMQPQueue)

	c.SettlementRetryAttempts = getEnvInt("SETTLEMENT_RETRY_ATTEMPTS", c.SettlementRetryAttempts)
	c.SettlementRetryBackoff = getEnvDuration("SETTLEMENT_RETRY_BACKOFF", c.SettlementRetryBackoff)
	c.RepairInterval = getEnvDuration("REPAIR_INTERVAL", c.RepairInterval)
	c.RepairBatchSize = getEnvInt("REPAIR_BATCH_SIZE", c.RepairBatchSize)
	c.RepairMaxAttempts = getEnvInt("REPAIR_MAX_ATTEMPTS", c.RepairMaxAttempts)

	c.GoogleSpreadsheetID = getEnv("GOOGLE_SPREADSHEET_ID", c.GoogleSpreadsheetID)
	c.GoogleSheetName = strings.TrimSpace(getEnv("GOOGLE_SHEET_NAME", c.GoogleSheetName))
	c.GoogleCredentialsFile = getEnv("GOOGLE_CREDENTIALS_FILE", c.GoogleCredentialsFile)
	c.GoogleOAuthClientFile = getEnv("GOOGLE_OAUTH_CLIENT_FILE", c.GoogleOAuthClientFile)
	c.GoogleOAuthTokenFile = getEnv("GOOGLE_OAUTH_TOKEN_FILE", c.GoogleOAuthTokenFile)
}

// IsProduction reports whether the server runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// SessionKey derives the 32-byte key sealing stored sessions. A 64-character
// hex secret is decoded; any other secret must be at least 32 bytes and its
// first 32 bytes are used.
func (c *Config) SessionKey() ([32]byte, error) {
	var key [32]byte
	secret := c.SessionSecret
	if len(secret) == 64 {
		if raw, err := hex.DecodeString(secret); err == nil {
			copy(key[:], raw)
			return key, nil
		}
	}
	if len(secret) < 32 {
		return key, fmt.Errorf("session secret must be 64 hex characters or at least 32 bytes")
	}
	copy(key[:], secret)
	return key, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if parsedURL, err := url.Parse(c.APIBaseURL); err != nil || c.APIBaseURL == "" {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s'", c.APIBaseURL))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	}
	if c.APITimeout < time.Second || c.APITimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be between 1s and 5m", c.APITimeout))
	}

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.StoreBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid store backend '%s': must be one of %v", c.StoreBackend, validBackends))
	}

	if c.StoreBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if _, err := c.SessionKey(); err != nil {
		errors = append(errors, err.Error())
	}
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		errors = append(errors, "rate limit must allow at least one request per second with a burst of at least 1")
	}

	if c.CacheMaxEntries < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheMaxEntries))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SettlementRetryAttempts < 1 || c.SettlementRetryAttempts > 10 {
		errors = append(errors, fmt.Sprintf("invalid settlement retry attempts %d: must be between 1 and 10", c.SettlementRetryAttempts))
	}
	if c.SettlementRetryBackoff <= 0 {
		errors = append(errors, "settlement retry backoff must be positive")
	}
	if c.RepairBatchSize < 1 || c.RepairBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid repair batch size %d: must be between 1 and 1000", c.RepairBatchSize))
	}
	if c.RepairInterval < time.Second || c.RepairInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid repair interval %v: must be between 1 second and 24 hours", c.RepairInterval))
	}
	if c.RepairMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid repair max attempts %d: must be at least 1", c.RepairMaxAttempts))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ValidateClient checks only what the command-line client needs to talk to the
// API; it never touches the session store or the broker.
func (c *Config) ValidateClient() error {
	var errors []string
	if parsedURL, err := url.Parse(c.APIBaseURL); err != nil || c.APIBaseURL == "" {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s'", c.APIBaseURL))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	}
	if c.APITimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be at least 1s", c.APITimeout))
	}
	if c.CLISessionFile == "" {
		errors = append(errors, "CLI session file path cannot be empty")
	}
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ValidateWorker adds the settlement worker's needs to Validate: a broker to
// consume from and an outbox shared with the web server.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	var errors []string
	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the settlement worker")
	}
	if c.StoreBackend == "memory" {
		errors = append(errors, "STORE_BACKEND=memory cannot be shared with the web server; use sqlite")
	}
	if len(errors) > 0 {
		return fmt.Errorf("worker configuration invalid:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ValidateExport checks the settings needed by the Google Sheets exporter.
func (c *Config) ValidateExport() error {
	var errors []string
	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required for export")
	}
	if c.GoogleSheetName == "" {
		errors = append(errors, "GOOGLE_SHEET_NAME is required for export")
	}

	hasServiceAccount := c.GoogleCredentialsFile != ""
	hasOAuth := c.GoogleOAuthClientFile != "" && c.GoogleOAuthTokenFile != ""
	if !hasServiceAccount && !hasOAuth {
		errors = append(errors, "either GOOGLE_CREDENTIALS_FILE or GOOGLE_OAUTH_CLIENT_FILE with GOOGLE_OAUTH_TOKEN_FILE must be provided")
	}
	for _, f := range []string{c.GoogleCredentialsFile, c.GoogleOAuthClientFile, c.GoogleOAuthTokenFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google credentials file does not exist: %s", f))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("export configuration invalid:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func defaultCLISessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".ledger-session.json"
	}
	return filepath.Join(dir, "ledger", "session.json")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
