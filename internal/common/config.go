package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Browser     BrowserConfig     `toml:"browser"`
	Stock       StockConfig       `toml:"stock"`
	Schedule    ScheduleConfig    `toml:"schedule"`
	WebSocket   WebSocketConfig   `toml:"websocket"`
	Sites       map[string]string `toml:"sites"` // site key -> search URL prefix; the query is appended URL-encoded
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// BrowserConfig configures the headless Chrome instance that hosts storefront pages
type BrowserConfig struct {
	Headless       bool   `toml:"headless"`
	DisableGPU     bool   `toml:"disable_gpu"`
	NoSandbox      bool   `toml:"no_sandbox"`
	UserAgent      string `toml:"user_agent"`
	ExecPath       string `toml:"exec_path"`       // Chrome binary; empty = auto-detect
	StartupTimeout string `toml:"startup_timeout"` // e.g. "30s"
	PerHostRate    string `toml:"per_host_rate"`   // Minimum interval between page opens on one host, e.g. "500ms"; empty disables
	PerHostBurst   int    `toml:"per_host_burst"`  // Opens allowed back-to-back before the rate applies
}

// StockConfig configures the stock verification scheduler
type StockConfig struct {
	DefaultConcurrency int    `toml:"default_concurrency"` // Pages checked at once when the caller does not say
	MaxConcurrency     int    `toml:"max_concurrency"`     // Upper clamp for caller-provided limits
	SettleDelay        string `toml:"settle_delay"`        // Wait after page load before extraction, e.g. "1s"
	ItemTimeout        string `toml:"item_timeout"`        // Bound on one item's open+load+extract, e.g. "45s"
	VariantOnly        bool   `toml:"variant_only"`        // Default for the variant-only filter
	DefaultSite        string `toml:"default_site"`        // Site key used when a request names none
}

// ScheduleConfig configures periodic stock checks of stored collections
type ScheduleConfig struct {
	Enabled     bool     `toml:"enabled"`
	Cron        string   `toml:"cron"`        // Standard 5-field cron expression
	Collections []string `toml:"collections"` // Artists to check; empty = all stored collections
	Site        string   `toml:"site"`        // Site key; empty = stock.default_site
	Limit       int      `toml:"limit"`       // Max cards per collection per run (0 = all)
}

// WebSocketConfig contains configuration for WebSocket progress streaming
type WebSocketConfig struct {
	// Minimum interval between stock_progress broadcasts per run. The final
	// progress event of a run is always delivered.
	ProgressThrottle string `toml:"progress_throttle"`
}

// SettleDelayDuration returns the parsed settle delay (default 1s)
func (c StockConfig) SettleDelayDuration() time.Duration {
	return parseDurationOr(c.SettleDelay, time.Second)
}

// ItemTimeoutDuration returns the parsed per-item timeout (default 45s)
func (c StockConfig) ItemTimeoutDuration() time.Duration {
	return parseDurationOr(c.ItemTimeout, 45*time.Second)
}

// StartupTimeoutDuration returns the parsed browser startup timeout (default 30s)
func (c BrowserConfig) StartupTimeoutDuration() time.Duration {
	return parseDurationOr(c.StartupTimeout, 30*time.Second)
}

// PerHostInterval returns the parsed per-host interval, zero when disabled
func (c BrowserConfig) PerHostInterval() time.Duration {
	return parseDurationOr(c.PerHostRate, 0)
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in stockcheck.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8086,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/stockcheck",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Browser: BrowserConfig{
			Headless:       true,
			DisableGPU:     true,
			NoSandbox:      true,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			StartupTimeout: "30s",
			PerHostRate:    "250ms",
			PerHostBurst:   2,
		},
		Stock: StockConfig{
			DefaultConcurrency: 10,
			MaxConcurrency:     50,
			SettleDelay:        "1s",
			ItemTimeout:        "45s",
			VariantOnly:        true,
			DefaultSite:        "401games",
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "0 */6 * * *",
			Limit:   10,
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "250ms",
		},
		Sites: map[string]string{
			"401games":        "https://store.401games.ca/pages/search-results?q=",
			"facetofacegames": "https://www.facetofacegames.com/search/?q=",
		},
	}
}

// LoadFromFile loads configuration from a single file (backward compatibility wrapper)
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: defaults -> file1 -> file2 -> ... -> .env -> env
// Later files override earlier files. Environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// .env is optional; existing process env always wins
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("STOCKCHECK_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("STOCKCHECK_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("STOCKCHECK_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("STOCKCHECK_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("STOCKCHECK_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("STOCKCHECK_LOG_OUTPUT"); output != "" {
		outputs := splitList(output)
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Browser configuration
	if headless := os.Getenv("STOCKCHECK_BROWSER_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = b
		}
	}
	if userAgent := os.Getenv("STOCKCHECK_BROWSER_USER_AGENT"); userAgent != "" {
		config.Browser.UserAgent = userAgent
	}
	if execPath := os.Getenv("STOCKCHECK_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if rate := os.Getenv("STOCKCHECK_BROWSER_PER_HOST_RATE"); rate != "" {
		config.Browser.PerHostRate = rate
	}

	// Stock configuration
	if concurrency := os.Getenv("STOCKCHECK_STOCK_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Stock.DefaultConcurrency = c
		}
	}
	if maxConcurrency := os.Getenv("STOCKCHECK_STOCK_MAX_CONCURRENCY"); maxConcurrency != "" {
		if c, err := strconv.Atoi(maxConcurrency); err == nil {
			config.Stock.MaxConcurrency = c
		}
	}
	if settle := os.Getenv("STOCKCHECK_STOCK_SETTLE_DELAY"); settle != "" {
		config.Stock.SettleDelay = settle
	}
	if timeout := os.Getenv("STOCKCHECK_STOCK_ITEM_TIMEOUT"); timeout != "" {
		config.Stock.ItemTimeout = timeout
	}
	if variantOnly := os.Getenv("STOCKCHECK_STOCK_VARIANT_ONLY"); variantOnly != "" {
		if b, err := strconv.ParseBool(variantOnly); err == nil {
			config.Stock.VariantOnly = b
		}
	}

	// Schedule configuration
	if enabled := os.Getenv("STOCKCHECK_SCHEDULE_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Schedule.Enabled = b
		}
	}
	if expr := os.Getenv("STOCKCHECK_SCHEDULE_CRON"); expr != "" {
		config.Schedule.Cron = expr
	}
	if collections := os.Getenv("STOCKCHECK_SCHEDULE_COLLECTIONS"); collections != "" {
		config.Schedule.Collections = splitList(collections)
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that cannot be silently defaulted
func (c *Config) Validate() error {
	if c.Stock.MaxConcurrency < 1 {
		return fmt.Errorf("stock.max_concurrency must be at least 1, got %d", c.Stock.MaxConcurrency)
	}
	for name, value := range map[string]string{
		"stock.settle_delay":          c.Stock.SettleDelay,
		"stock.item_timeout":          c.Stock.ItemTimeout,
		"browser.startup_timeout":     c.Browser.StartupTimeout,
		"browser.per_host_rate":       c.Browser.PerHostRate,
		"websocket.progress_throttle": c.WebSocket.ProgressThrottle,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	if c.Schedule.Enabled {
		if err := ValidateSchedule(c.Schedule.Cron); err != nil {
			return err
		}
	}
	if c.Stock.DefaultSite != "" {
		if _, ok := c.Sites[c.Stock.DefaultSite]; !ok {
			return fmt.Errorf("stock.default_site %q is not defined in [sites]", c.Stock.DefaultSite)
		}
	}
	return nil
}

// ValidateSchedule validates a standard 5-field cron expression
func ValidateSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return fmt.Errorf("schedule cannot be empty")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// splitList splits a comma-separated env value, dropping empty entries
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
