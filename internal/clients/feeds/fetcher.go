// Package feeds polls RSS/Atom headline feeds for a symbol
package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/ternarybob/arbor"

	"github.com/bobmcallan/yosoku/internal/common"
	"github.com/bobmcallan/yosoku/internal/interfaces"
	"github.com/bobmcallan/yosoku/internal/models"
)

const (
	DefaultItemsPerFeed = 5
	DefaultTimeout      = 15 * time.Second
	DefaultUserAgent    = "yosoku/1.0"

	symbolPlaceholder = "{symbol}"
)

// Fetcher fetches every configured feed independently
type Fetcher struct {
	sources      []common.FeedSource
	itemsPerFeed int
	userAgent    string
	httpClient   *http.Client
	logger       arbor.ILogger
}

// FetcherOption configures the fetcher
type FetcherOption func(*Fetcher)

// WithLogger sets the logger
func WithLogger(logger arbor.ILogger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithItemsPerFeed caps the headlines kept from each feed
func WithItemsPerFeed(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.itemsPerFeed = n
		}
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithTimeout sets the per-feed HTTP timeout
func WithTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.httpClient.Timeout = timeout
		}
	}
}

// NewFetcher creates a fetcher over the given sources
func NewFetcher(sources []common.FeedSource, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		sources:      sources,
		itemsPerFeed: DefaultItemsPerFeed,
		userAgent:    DefaultUserAgent,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		logger:       common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// FetchAll polls each source in order. A failing source yields a result
// carrying its error and never prevents the remaining sources from running.
func (f *Fetcher) FetchAll(ctx context.Context, symbol models.Symbol) []models.SourceResult {
	results := make([]models.SourceResult, 0, len(f.sources))

	for _, src := range f.sources {
		name := src.Name
		if name == "" {
			name = src.URL
		}

		headlines, err := f.fetch(ctx, name, feedURL(src.URL, symbol))
		if err != nil {
			f.logger.Warn().Str("source", name).Str("symbol", string(symbol)).Err(err).Msg("Feed fetch failed")
		} else {
			f.logger.Debug().Str("source", name).Int("headlines", len(headlines)).Msg("Feed fetched")
		}

		results = append(results, models.SourceResult{
			Source:    name,
			Headlines: headlines,
			Err:       err,
		})
	}

	return results
}

func (f *Fetcher) fetch(ctx context.Context, source, reqURL string) (headlines []models.Headline, err error) {
	// gofeed panics on a handful of malformed documents; keep that local to this source.
	defer func() {
		if r := recover(); r != nil {
			headlines = nil
			err = fmt.Errorf("feed parser panic: %v", r)
		}
	}()

	fp := gofeed.NewParser()
	fp.Client = f.httpClient
	fp.UserAgent = f.userAgent

	feed, err := fp.ParseURLWithContext(reqURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	headlines = make([]models.Headline, 0, f.itemsPerFeed)
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		title := stripHTML(item.Title)
		if title == "" {
			continue
		}
		h := models.Headline{
			Source: source,
			Title:  title,
			URL:    item.Link,
		}
		if item.PublishedParsed != nil {
			h.PublishedAt = item.PublishedParsed.UTC()
		}
		headlines = append(headlines, h)
		if len(headlines) >= f.itemsPerFeed {
			break
		}
	}

	return headlines, nil
}

// feedURL substitutes the query-escaped symbol into the source template
func feedURL(template string, symbol models.Symbol) string {
	return strings.ReplaceAll(template, symbolPlaceholder, url.QueryEscape(string(symbol)))
}

// stripHTML returns the visible text of a title that may carry markup or entities
func stripHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Ensure Fetcher implements FeedFetcher
var _ interfaces.FeedFetcher = (*Fetcher)(nil)
