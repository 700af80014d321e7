// Package common provides shared utilities for Yosoku
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Yosoku
type Config struct {
	Environment string         `toml:"environment"`
	Server      ServerConfig   `toml:"server"`
	Auth        AuthConfig     `toml:"auth"`
	Clients     ClientsConfig  `toml:"clients"`
	Feeds       FeedsConfig    `toml:"feeds"`
	Analysis    AnalysisConfig `toml:"analysis"`
	Report      ReportConfig   `toml:"report"`
	Logging     LoggingConfig  `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
}

// AuthConfig holds the shared-secret gate configuration.
// PasswordHash (bcrypt) takes precedence over Password when both are set.
type AuthConfig struct {
	Password      string `toml:"password"`
	PasswordHash  string `toml:"password_hash"`
	SessionSecret string `toml:"session_secret"`
	CookieName    string `toml:"cookie_name"`
}

// PlaceholderSessionSecret is the shipped default. It is public, so the
// server never signs sessions with it.
const PlaceholderSessionSecret = "dev-session-secret-change-in-production"

// HasUsableSessionSecret reports whether SessionSecret may sign cookies.
func (c *AuthConfig) HasUsableSessionSecret() bool {
	return c.SessionSecret != "" && c.SessionSecret != PlaceholderSessionSecret
}

// Enabled reports whether a shared secret is configured at all.
func (c *AuthConfig) Enabled() bool {
	return c.Password != "" || c.PasswordHash != ""
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Market MarketConfig `toml:"market"`
	EODHD  EODHDConfig  `toml:"eodhd"`
	Yahoo  YahooConfig  `toml:"yahoo"`
	Gemini GeminiConfig `toml:"gemini"`
}

// MarketConfig selects the price/news provider ("yahoo" or "eodhd")
type MarketConfig struct {
	Provider string `toml:"provider"`
}

// EODHDConfig holds EODHD API configuration
type EODHDConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *EODHDConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// YahooConfig holds Yahoo Finance configuration
type YahooConfig struct {
	ChartURL  string `toml:"chart_url"`
	SearchURL string `toml:"search_url"`
	UserAgent string `toml:"user_agent"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *YahooConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// GeminiConfig holds Gemini API configuration.
// PreferredModels are substrings matched in order against the model catalog.
type GeminiConfig struct {
	APIKey          string   `toml:"api_key"`
	PreferredModels []string `toml:"preferred_models"`
	PacingDelay     string   `toml:"pacing_delay"`
	Timeout         string   `toml:"timeout"`
}

// GetPacingDelay returns the fixed delay inserted before each model call
func (c *GeminiConfig) GetPacingDelay() time.Duration {
	return parseDuration(c.PacingDelay, time.Second)
}

// GetTimeout parses and returns the generation timeout
func (c *GeminiConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 120*time.Second)
}

// FeedSource is one RSS/Atom feed. URL may contain a {symbol} placeholder.
type FeedSource struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// FeedsConfig holds the fixed feed list
type FeedsConfig struct {
	Sources      []FeedSource `toml:"sources"`
	ItemsPerFeed int          `toml:"items_per_feed"`
	Timeout      string       `toml:"timeout"`
	UserAgent    string       `toml:"user_agent"`
}

// GetTimeout parses and returns the per-feed timeout
func (c *FeedsConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// AnalysisConfig holds prompt and indicator settings
type AnalysisConfig struct {
	NewsLimit        int    `toml:"news_limit"`
	TableRows        int    `toml:"table_rows"`
	DocumentMaxChars int    `toml:"document_max_chars"`
	NotesMaxChars    int    `toml:"notes_max_chars"`
	MAWindows        []int  `toml:"ma_windows"`
	RSIPeriod        int    `toml:"rsi_period"`
	DefaultPeriod    string `toml:"default_period"`
	DefaultReport    string `toml:"default_report"`
}

// ReportConfig holds export settings. PDFFontPath points at a TrueType
// font covering the report language; without it PDF export is limited to
// Western European text.
type ReportConfig struct {
	PDFFontPath string `toml:"pdf_font_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8501,
			MaxUploadBytes: 20 << 20,
		},
		Auth: AuthConfig{
			SessionSecret: PlaceholderSessionSecret,
			CookieName:    "yosoku_session",
		},
		Clients: ClientsConfig{
			Market: MarketConfig{Provider: "yahoo"},
			EODHD: EODHDConfig{
				BaseURL:   "https://eodhd.com/api",
				RateLimit: 10,
				Timeout:   "30s",
			},
			Yahoo: YahooConfig{
				ChartURL:  "https://query1.finance.yahoo.com/v8/finance/chart",
				SearchURL: "https://query1.finance.yahoo.com/v1/finance/search",
				UserAgent: "Mozilla/5.0",
				RateLimit: 2,
				Timeout:   "30s",
			},
			Gemini: GeminiConfig{
				PreferredModels: []string{"gemini-1.5-flash", "gemini-2.0-flash"},
				PacingDelay:     "1s",
				Timeout:         "120s",
			},
		},
		Feeds: FeedsConfig{
			Sources: []FeedSource{
				{Name: "Yahoo Finance", URL: "https://feeds.finance.yahoo.com/rss/2.0/headline?s={symbol}&region=US&lang=en-US"},
				{Name: "Google News", URL: "https://news.google.com/rss/search?q={symbol}+stock&hl=en-US&gl=US&ceid=US:en"},
			},
			ItemsPerFeed: 5,
			Timeout:      "10s",
			UserAgent:    "Mozilla/5.0",
		},
		Analysis: AnalysisConfig{
			NewsLimit:        10,
			TableRows:        7,
			DocumentMaxChars: 15000,
			NotesMaxChars:    4000,
			MAWindows:        []int{5, 25, 75},
			RSIPeriod:        14,
			DefaultPeriod:    "1mo",
			DefaultReport:    "outlook",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Outputs:  []string{"console"},
			FilePath: "./logs/yosoku.log",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	normalize(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("YOSOKU_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("YOSOKU_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("YOSOKU_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("YOSOKU_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if v := os.Getenv("YOSOKU_PASSWORD"); v != "" {
		config.Auth.Password = v
	}
	if v := os.Getenv("YOSOKU_PASSWORD_HASH"); v != "" {
		config.Auth.PasswordHash = v
	}
	if v := os.Getenv("YOSOKU_SESSION_SECRET"); v != "" {
		config.Auth.SessionSecret = v
	}

	if v := os.Getenv("YOSOKU_PDF_FONT"); v != "" {
		config.Report.PDFFontPath = v
	}

	if v := os.Getenv("YOSOKU_MARKET_PROVIDER"); v != "" {
		config.Clients.Market.Provider = v
	}

	if v := os.Getenv("YOSOKU_GEMINI_MODELS"); v != "" {
		config.Clients.Gemini.PreferredModels = splitCSV(v)
	}

	config.Clients.Gemini.APIKey = ResolveAPIKey("gemini_api_key", config.Clients.Gemini.APIKey)
	config.Clients.EODHD.APIKey = ResolveAPIKey("eodhd_api_key", config.Clients.EODHD.APIKey)
}

// normalize clamps values that would otherwise break the pipeline
func normalize(config *Config) {
	config.Clients.Market.Provider = strings.ToLower(strings.TrimSpace(config.Clients.Market.Provider))
	if config.Clients.Market.Provider == "" {
		config.Clients.Market.Provider = "yahoo"
	}
	if config.Analysis.TableRows <= 0 {
		config.Analysis.TableRows = 7
	}
	if config.Analysis.RSIPeriod <= 0 {
		config.Analysis.RSIPeriod = 14
	}
	if config.Analysis.DocumentMaxChars <= 0 {
		config.Analysis.DocumentMaxChars = 15000
	}
	config.Feeds.Sources = dedupeFeeds(config.Feeds.Sources)
	if config.Feeds.ItemsPerFeed <= 0 {
		config.Feeds.ItemsPerFeed = 5
	}
	if config.Auth.CookieName == "" {
		config.Auth.CookieName = "yosoku_session"
	}
	if config.Server.MaxUploadBytes <= 0 {
		config.Server.MaxUploadBytes = 20 << 20
	}
	config.Analysis.DefaultPeriod = strings.ToLower(strings.TrimSpace(config.Analysis.DefaultPeriod))
	if config.Analysis.DefaultPeriod == "" {
		config.Analysis.DefaultPeriod = "1mo"
	}
	config.Analysis.DefaultReport = strings.ToLower(strings.TrimSpace(config.Analysis.DefaultReport))
	if config.Analysis.DefaultReport == "" {
		config.Analysis.DefaultReport = "outlook"
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ResolveAPIKey resolves an API key from environment, falling back to the configured value.
func ResolveAPIKey(name string, fallback string) string {
	keyToEnvMapping := map[string][]string{
		"eodhd_api_key":  {"EODHD_API_KEY", "YOSOKU_EODHD_API_KEY"},
		"gemini_api_key": {"GEMINI_API_KEY", "YOSOKU_GEMINI_API_KEY", "GOOGLE_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue
			}
		}
	}

	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// dedupeFeeds drops blank and repeated feed URLs, keeping the first name seen
func dedupeFeeds(sources []FeedSource) []FeedSource {
	seen := make(map[string]bool, len(sources))
	out := make([]FeedSource, 0, len(sources))
	for _, src := range sources {
		u := strings.TrimSpace(src.URL)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		src.URL = u
		out = append(out, src)
	}
	return out
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
