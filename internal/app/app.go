// Package app wires configuration, clients and services into one App
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/bobmcallan/yosoku/internal/clients/eodhd"
	"github.com/bobmcallan/yosoku/internal/clients/feeds"
	"github.com/bobmcallan/yosoku/internal/clients/gemini"
	"github.com/bobmcallan/yosoku/internal/clients/yahoo"
	"github.com/bobmcallan/yosoku/internal/common"
	"github.com/bobmcallan/yosoku/internal/document"
	"github.com/bobmcallan/yosoku/internal/interfaces"
	"github.com/bobmcallan/yosoku/internal/services/analysis"
	"github.com/bobmcallan/yosoku/internal/services/report"
)

// App holds the initialized clients and services shared by the HTTP server
type App struct {
	Config          *common.Config
	Logger          arbor.ILogger
	MarketClient    interfaces.MarketDataClient
	AnalysisService interfaces.AnalysisService
	ReportService   interfaces.ReportExporter
	StartupTime     time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// resolveConfigPath checks the provided path, YOSOKU_CONFIG, the binary
// directory and finally the development config directory.
func resolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("YOSOKU_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "yosoku.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/yosoku.toml"
		}
	}
	return configPath
}

// NewApp loads configuration and initializes every client and service.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	config, err := common.LoadConfig(resolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative log file path to binary directory
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(getBinaryDir(), config.Logging.FilePath)
	}

	logger := common.NewLogger(config.Logging)

	a := NewAppWithConfig(config, logger, gemini.NewFactory(
		gemini.WithLogger(logger),
		gemini.WithTimeout(config.Clients.Gemini.GetTimeout()),
	))

	logger.Info().
		Str("provider", a.MarketClient.Name()).
		Int("feeds", len(config.Feeds.Sources)).
		Strs("preferred_models", config.Clients.Gemini.PreferredModels).
		Str("startup", time.Since(startupStart).Round(time.Millisecond).String()).
		Msg("Application initialized")

	return a, nil
}

// NewAppWithConfig builds the App from an already loaded config. The Gemini
// factory is injected so tests can avoid network access.
func NewAppWithConfig(config *common.Config, logger arbor.ILogger, newGemini interfaces.GeminiClientFactory) *App {
	if !config.Auth.Enabled() {
		logger.Warn().Msg("No dashboard password configured - the dashboard is open to anyone who can reach it")
	}
	if analysis.ConfigFrom(config).APIKey == "" {
		logger.Warn().Msg("Gemini API key not configured - users must supply a key in the form")
	}

	market := newMarketClient(config, logger)

	feedFetcher := feeds.NewFetcher(config.Feeds.Sources,
		feeds.WithLogger(logger),
		feeds.WithItemsPerFeed(config.Feeds.ItemsPerFeed),
		feeds.WithUserAgent(config.Feeds.UserAgent),
		feeds.WithTimeout(config.Feeds.GetTimeout()),
	)

	extractor := document.NewExtractor(
		document.WithLogger(logger),
		document.WithMaxChars(config.Analysis.DocumentMaxChars),
	)

	analysisService := analysis.NewService(
		market,
		feedFetcher,
		extractor,
		report.NewChartRenderer(),
		newGemini,
		analysis.ConfigFrom(config),
		logger,
	)

	return &App{
		Config:          config,
		Logger:          logger,
		MarketClient:    market,
		AnalysisService: analysisService,
		ReportService:   report.NewService(logger, reportOptions(config, logger)...),
		StartupTime:     time.Now(),
	}
}

// reportOptions loads the PDF font. A missing font only limits PDF export,
// so it is logged rather than returned.
func reportOptions(config *common.Config, logger arbor.ILogger) []report.Option {
	path := config.Report.PDFFontPath
	if path == "" {
		return nil
	}
	ttf, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Str("path", path).Err(err).Msg("PDF font not readable - PDF export limited to Western European text")
		return nil
	}
	if err := report.ValidateFont(ttf); err != nil {
		logger.Warn().Str("path", path).Err(err).Msg("PDF font rejected - PDF export limited to Western European text")
		return nil
	}
	return []report.Option{report.WithUTF8Font(ttf)}
}

// newMarketClient selects the price/news provider. EODHD needs a key; without
// one the app falls back to Yahoo Finance.
func newMarketClient(config *common.Config, logger arbor.ILogger) interfaces.MarketDataClient {
	provider := strings.ToLower(strings.TrimSpace(config.Clients.Market.Provider))

	if provider == "eodhd" {
		key := common.ResolveAPIKey("eodhd_api_key", config.Clients.EODHD.APIKey)
		if key != "" {
			return eodhd.NewClient(key,
				eodhd.WithBaseURL(config.Clients.EODHD.BaseURL),
				eodhd.WithLogger(logger),
				eodhd.WithRateLimit(config.Clients.EODHD.RateLimit),
				eodhd.WithTimeout(config.Clients.EODHD.GetTimeout()),
			)
		}
		logger.Warn().Msg("EODHD selected but no API key configured - falling back to Yahoo Finance")
	} else if provider != "" && provider != "yahoo" {
		logger.Warn().Str("provider", provider).Msg("Unknown market data provider - using Yahoo Finance")
	}

	return yahoo.NewClient(
		yahoo.WithChartURL(config.Clients.Yahoo.ChartURL),
		yahoo.WithSearchURL(config.Clients.Yahoo.SearchURL),
		yahoo.WithUserAgent(config.Clients.Yahoo.UserAgent),
		yahoo.WithLogger(logger),
		yahoo.WithRateLimit(config.Clients.Yahoo.RateLimit),
		yahoo.WithTimeout(config.Clients.Yahoo.GetTimeout()),
	)
}
