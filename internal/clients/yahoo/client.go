// Package yahoo provides a client for the public Yahoo Finance chart and search endpoints
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/yosoku/internal/common"
	"github.com/bobmcallan/yosoku/internal/interfaces"
	"github.com/bobmcallan/yosoku/internal/models"
)

const (
	DefaultChartURL  = "https://query1.finance.yahoo.com/v8/finance/chart"
	DefaultSearchURL = "https://query1.finance.yahoo.com/v1/finance/search"
	DefaultUserAgent = "Mozilla/5.0"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 2 // requests per second
)

// Client implements MarketDataClient against Yahoo Finance
type Client struct {
	chartURL   string
	searchURL  string
	userAgent  string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithChartURL sets the chart endpoint base
func WithChartURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.chartURL = u
		}
	}
}

// WithSearchURL sets the search endpoint
func WithSearchURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.searchURL = u
		}
	}
}

// WithUserAgent sets the User-Agent header; Yahoo rejects empty agents
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
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

// NewClient creates a new Yahoo Finance client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		chartURL:  DefaultChartURL,
		searchURL: DefaultSearchURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name identifies the provider
func (c *Client) Name() string { return "yahoo" }

// APIError represents a non-200 response
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Yahoo Finance error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

func (c *Client) get(ctx context.Context, reqURL string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug().Str("url", reqURL).Msg("Yahoo Finance request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// The chart endpoint still returns a JSON body on 404; let the caller inspect it.
		if resp.StatusCode == http.StatusNotFound && json.Unmarshal(body, result) == nil {
			return &APIError{StatusCode: resp.StatusCode, Message: "not found", Endpoint: req.URL.Path}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errorBody(body), Endpoint: req.URL.Path}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

const maxErrorBody = 512

// errorBody caps an error response at maxErrorBody bytes without splitting a rune
func errorBody(body []byte) string {
	if len(body) <= maxErrorBody {
		return string(body)
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut])
}

// chartResponse is the response structure from the chart API
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency string `json:"currency"`
				Symbol   string `json:"symbol"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetPriceSeries retrieves daily bars for the period. Unknown or delisted
// symbols come back as an empty series, not an error.
func (c *Client) GetPriceSeries(ctx context.Context, symbol models.Symbol, period models.Period) (*models.PriceSeries, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", string(period))
	reqURL := fmt.Sprintf("%s/%s?%s", c.chartURL, url.PathEscape(string(symbol)), params.Encode())

	series := &models.PriceSeries{Symbol: symbol}

	var chart chartResponse
	if err := c.get(ctx, reqURL, &chart); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
			c.logger.Debug().Str("symbol", string(symbol)).Msg("Yahoo Finance has no data for symbol")
			return series, nil
		}
		return nil, err
	}

	if chart.Chart.Error != nil {
		if chart.Chart.Error.Code == "Not Found" {
			return series, nil
		}
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return series, nil
	}

	result := chart.Chart.Result[0]
	series.Currency = result.Meta.Currency
	if len(result.Indicators.Quote) == 0 {
		return series, nil
	}
	quote := result.Indicators.Quote[0]

	series.Bars = make([]models.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		cl := valueAt(quote.Close, i)
		if cl == 0 {
			continue // null bar (holiday or halted session)
		}
		series.Bars = append(series.Bars, models.PriceBar{
			Date:   time.Unix(ts, 0).UTC(),
			Open:   valueAt(quote.Open, i),
			High:   valueAt(quote.High, i),
			Low:    valueAt(quote.Low, i),
			Close:  cl,
			Volume: int64(valueAt(quote.Volume, i)),
		})
	}

	return series, nil
}

func valueAt(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

type searchResponse struct {
	News []struct {
		Title               string `json:"title"`
		Link                string `json:"link"`
		Publisher           string `json:"publisher"`
		ProviderPublishTime int64  `json:"providerPublishTime"`
	} `json:"news"`
}

// GetNews retrieves recent headlines via the search endpoint
func (c *Client) GetNews(ctx context.Context, symbol models.Symbol, limit int) ([]models.Headline, error) {
	params := url.Values{}
	params.Set("q", string(symbol))
	params.Set("newsCount", strconv.Itoa(limit))
	params.Set("quotesCount", "0")
	reqURL := fmt.Sprintf("%s?%s", c.searchURL, params.Encode())

	var resp searchResponse
	if err := c.get(ctx, reqURL, &resp); err != nil {
		return nil, err
	}

	news := make([]models.Headline, 0, len(resp.News))
	for _, item := range resp.News {
		if item.Title == "" {
			continue
		}
		h := models.Headline{
			Source: c.Name(),
			Title:  item.Title,
			URL:    item.Link,
		}
		if item.ProviderPublishTime > 0 {
			h.PublishedAt = time.Unix(item.ProviderPublishTime, 0).UTC()
		}
		news = append(news, h)
		if limit > 0 && len(news) >= limit {
			break
		}
	}
	return news, nil
}

// Ensure Client implements MarketDataClient
var _ interfaces.MarketDataClient = (*Client)(nil)
