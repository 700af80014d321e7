// Package interfaces defines service contracts for Yosoku
package interfaces

import (
	"context"

	"github.com/bobmcallan/yosoku/internal/models"
)

// MarketDataClient provides price history and news for a symbol
type MarketDataClient interface {
	// GetPriceSeries retrieves daily bars for the period, oldest first.
	// An empty series is not an error.
	GetPriceSeries(ctx context.Context, symbol models.Symbol, period models.Period) (*models.PriceSeries, error)

	// GetNews retrieves recent headlines for the symbol
	GetNews(ctx context.Context, symbol models.Symbol, limit int) ([]models.Headline, error)

	// Name identifies the provider in source tags and logs
	Name() string
}

// ModelCatalog lists generative-model identifiers usable by a credential
type ModelCatalog interface {
	// ListModels returns identifiers that support free-form text generation
	ListModels(ctx context.Context) ([]string, error)
}

// GeminiClient provides access to the generative-text API for one credential
type GeminiClient interface {
	ModelCatalog

	// Generate produces text from a prompt with the given model
	Generate(ctx context.Context, model, prompt string) (*models.AnalysisResult, error)
}

// GeminiClientFactory builds a GeminiClient for an API key.
// Keys may arrive per request, so clients are not shared across requests.
type GeminiClientFactory func(ctx context.Context, apiKey string) (GeminiClient, error)

// FeedFetcher polls the configured RSS/Atom feeds for a symbol.
// It returns one result per feed; a failing feed never aborts the others.
type FeedFetcher interface {
	FetchAll(ctx context.Context, symbol models.Symbol) []models.SourceResult
}

// DocumentExtractor turns an uploaded document into capped plain text
type DocumentExtractor interface {
	Extract(name string, data []byte) (*models.DocumentText, error)
}

// ChartRenderer renders a price series as an image
type ChartRenderer interface {
	RenderPriceChart(series *models.PriceSeries, maWindows []int) ([]byte, error)
}
