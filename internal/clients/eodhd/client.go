// Package eodhd provides a client for the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/yosoku/internal/common"
	"github.com/bobmcallan/yosoku/internal/interfaces"
	"github.com/bobmcallan/yosoku/internal/models"
)

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client implements MarketDataClient against EODHD
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	now        func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithClock overrides the time source used to compute period start dates
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name identifies the provider
func (c *Client) Name() string { return "eodhd" }

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// GetPriceSeries retrieves daily bars from the start of the period to today.
// EODHD answers 404 for unknown tickers; that is reported as an empty series.
func (c *Client) GetPriceSeries(ctx context.Context, symbol models.Symbol, period models.Period) (*models.PriceSeries, error) {
	now := c.now()
	params := url.Values{}
	params.Set("period", "d")
	params.Set("order", "a")
	params.Set("from", period.Start(now).Format("2006-01-02"))
	params.Set("to", now.Format("2006-01-02"))

	path := fmt.Sprintf("/eod/%s", url.PathEscape(string(symbol)))

	var bars []eodBarResponse
	if err := c.get(ctx, path, params, &bars); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			return &models.PriceSeries{Symbol: symbol}, nil
		}
		return nil, err
	}

	series := &models.PriceSeries{
		Symbol: symbol,
		Bars:   make([]models.PriceBar, 0, len(bars)),
	}

	for _, bar := range bars {
		date, err := time.Parse("2006-01-02", bar.Date)
		if err != nil {
			continue
		}
		series.Bars = append(series.Bars, models.PriceBar{
			Date:   date,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
		})
	}

	return series, nil
}

// eodBarResponse represents the API response for EOD data
type eodBarResponse struct {
	Date          string  `json:"date"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	AdjustedClose float64 `json:"adjusted_close"`
	Volume        int64   `json:"volume"`
}

// GetNews retrieves news for a ticker
func (c *Client) GetNews(ctx context.Context, symbol models.Symbol, limit int) ([]models.Headline, error) {
	params := url.Values{}
	params.Set("s", string(symbol))
	params.Set("limit", strconv.Itoa(limit))

	var newsResp []newsResponse
	if err := c.get(ctx, "/news", params, &newsResp); err != nil {
		return nil, err
	}

	news := make([]models.Headline, 0, len(newsResp))
	for _, item := range newsResp {
		if item.Title == "" {
			continue
		}
		publishedAt, _ := time.Parse("2006-01-02T15:04:05+00:00", item.Date)
		news = append(news, models.Headline{
			Source:      c.Name(),
			Title:       item.Title,
			URL:         item.Link,
			PublishedAt: publishedAt,
		})
	}

	return news, nil
}

type newsResponse struct {
	Date  string `json:"date"`
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Ensure Client implements MarketDataClient
var _ interfaces.MarketDataClient = (*Client)(nil)
