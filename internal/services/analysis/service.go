// Package analysis runs the commentary pipeline: fetch evidence, pick a
// model, assemble the prompt and generate.
package analysis

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/bobmcallan/yosoku/internal/clients/gemini"
	"github.com/bobmcallan/yosoku/internal/common"
	"github.com/bobmcallan/yosoku/internal/interfaces"
	"github.com/bobmcallan/yosoku/internal/models"
	"github.com/bobmcallan/yosoku/internal/signals"
)

// Config holds the pipeline settings resolved from the application config
type Config struct {
	APIKey          string
	PreferredModels []string
	PacingDelay     time.Duration
	NewsLimit       int
	TableRows       int
	NotesMaxChars   int
	MAWindows       []int
	RSIPeriod       int
}

// ConfigFrom maps the application config onto pipeline settings
func ConfigFrom(cfg *common.Config) Config {
	return Config{
		APIKey:          common.ResolveAPIKey("gemini_api_key", cfg.Clients.Gemini.APIKey),
		PreferredModels: cfg.Clients.Gemini.PreferredModels,
		PacingDelay:     cfg.Clients.Gemini.GetPacingDelay(),
		NewsLimit:       cfg.Analysis.NewsLimit,
		TableRows:       cfg.Analysis.TableRows,
		NotesMaxChars:   cfg.Analysis.NotesMaxChars,
		MAWindows:       cfg.Analysis.MAWindows,
		RSIPeriod:       cfg.Analysis.RSIPeriod,
	}
}

// Service implements AnalysisService. One Run is one sequential pass;
// nothing is shared between runs except the configured collaborators.
type Service struct {
	market    interfaces.MarketDataClient
	feeds     interfaces.FeedFetcher
	documents interfaces.DocumentExtractor
	charts    interfaces.ChartRenderer
	newClient interfaces.GeminiClientFactory
	cfg       Config
	logger    arbor.ILogger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewService creates the pipeline service.
// feeds, documents and charts may be nil; their steps are skipped.
func NewService(
	market interfaces.MarketDataClient,
	feeds interfaces.FeedFetcher,
	documents interfaces.DocumentExtractor,
	charts interfaces.ChartRenderer,
	newClient interfaces.GeminiClientFactory,
	cfg Config,
	logger arbor.ILogger,
) *Service {
	return &Service{
		market:    market,
		feeds:     feeds,
		documents: documents,
		charts:    charts,
		newClient: newClient,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Run executes the pipeline for one form submission
func (s *Service) Run(ctx context.Context, in interfaces.AnalysisInput) (*models.Report, error) {
	apiKey := strings.TrimSpace(in.APIKey)
	if apiKey == "" {
		apiKey = s.cfg.APIKey
	}
	if apiKey == "" {
		return nil, newError(KindCredentialMissing, "", nil)
	}

	client, err := s.newClient(ctx, apiKey)
	if err != nil {
		return nil, newError(KindUnclassified, "", err)
	}

	model, err := SelectModel(ctx, client, s.cfg.PreferredModels)
	if err != nil {
		return nil, classifyCatalogError(err)
	}
	s.logger.Info().Str("symbol", string(in.Symbol)).Str("model", model).Msg("Model selected")

	series, err := s.market.GetPriceSeries(ctx, in.Symbol, in.Period)
	if err != nil {
		s.logger.Warn().Str("symbol", string(in.Symbol)).Str("provider", s.market.Name()).Err(err).Msg("Price fetch failed")
		return nil, newError(KindDataUnavailable, string(in.Symbol), err)
	}
	if series.Empty() {
		return nil, newError(KindDataUnavailable, string(in.Symbol), nil)
	}

	report := &models.Report{
		Symbol:      in.Symbol,
		Period:      in.Period,
		ReportType:  in.ReportType,
		Series:      series,
		Notes:       capRunes(strings.TrimSpace(in.Notes), s.cfg.NotesMaxChars),
		GeneratedAt: s.now(),
	}

	report.Sources = s.collectSources(ctx, in.Symbol)
	report.Document, report.DocumentErr = s.extractDocument(in.DocumentName, in.Document)
	report.Indicators = signals.Compute(series, s.cfg.MAWindows, s.cfg.RSIPeriod)

	prompt := BuildPrompt(PromptInput{
		Symbol:     in.Symbol,
		Period:     in.Period,
		ReportType: in.ReportType,
		Series:     series,
		TableRows:  s.cfg.TableRows,
		Indicators: report.Indicators,
		Sources:    report.Sources,
		Document:   report.Document,
		Notes:      report.Notes,
	})
	report.Request = &models.AnalysisRequest{Model: model, ReportType: in.ReportType, Prompt: prompt}

	genErr := s.generate(ctx, client, report)
	s.attachChart(report)

	return report, genErr
}

// generate paces, calls the model and classifies the outcome
func (s *Service) generate(ctx context.Context, client interfaces.GeminiClient, report *models.Report) error {
	if err := s.sleep(ctx, s.cfg.PacingDelay); err != nil {
		return newError(KindUnclassified, "", err)
	}

	req := report.Request
	start := time.Now()
	result, err := client.Generate(ctx, req.Model, req.Prompt)
	if err != nil {
		classified := classifyGenerateError(err)
		s.logger.Warn().Str("symbol", string(report.Symbol)).Str("model", req.Model).Str("kind", string(classified.Kind)).Err(err).Msg("Generation failed")
		return classified
	}
	if result.Empty() {
		return newError(KindEmptyModelResponse, result.FinishReason, nil)
	}

	report.Result = result
	s.logger.Info().
		Str("symbol", string(report.Symbol)).
		Str("model", req.Model).
		Int("prompt_len", len(req.Prompt)).
		Int("response_len", len(result.Text)).
		Str("elapsed", time.Since(start).Round(time.Millisecond).String()).
		Msg("Commentary generated")
	return nil
}

// collectSources gathers provider news and feed headlines. Each source is
// best-effort and keeps its own error.
func (s *Service) collectSources(ctx context.Context, symbol models.Symbol) []models.SourceResult {
	var sources []models.SourceResult

	news, err := s.market.GetNews(ctx, symbol, s.cfg.NewsLimit)
	if err != nil {
		s.logger.Warn().Str("symbol", string(symbol)).Str("provider", s.market.Name()).Err(err).Msg("Provider news fetch failed")
	}
	sources = append(sources, models.SourceResult{Source: s.market.Name(), Headlines: news, Err: err})

	if s.feeds != nil {
		sources = append(sources, s.feeds.FetchAll(ctx, symbol)...)
	}

	if dropped := dedupeHeadlines(sources); dropped > 0 {
		s.logger.Debug().Str("symbol", string(symbol)).Int("dropped", dropped).Msg("Dropped duplicate headlines")
	}
	return sources
}

// dedupeHeadlines removes headlines whose title already appeared in an
// earlier source, or earlier in the same one. Titles compare case-insensitively
// with whitespace collapsed. Returns how many were removed.
func dedupeHeadlines(sources []models.SourceResult) int {
	seen := make(map[string]bool)
	dropped := 0
	for i := range sources {
		if len(sources[i].Headlines) == 0 {
			continue
		}
		kept := make([]models.Headline, 0, len(sources[i].Headlines))
		for _, h := range sources[i].Headlines {
			key := strings.ToLower(strings.Join(strings.Fields(h.Title), " "))
			if key != "" && seen[key] {
				dropped++
				continue
			}
			seen[key] = true
			kept = append(kept, h)
		}
		sources[i].Headlines = kept
	}
	return dropped
}

func (s *Service) extractDocument(name string, data []byte) (*models.DocumentText, error) {
	if len(data) == 0 || s.documents == nil {
		return nil, nil
	}
	doc, err := s.documents.Extract(name, data)
	if err != nil {
		s.logger.Warn().Str("document", name).Err(err).Msg("Document extraction failed, continuing without it")
		return nil, err
	}
	return doc, nil
}

func (s *Service) attachChart(report *models.Report) {
	if s.charts == nil {
		return
	}
	png, err := s.charts.RenderPriceChart(report.Series, s.cfg.MAWindows)
	if err != nil {
		s.logger.Warn().Str("symbol", string(report.Symbol)).Err(err).Msg("Chart render failed")
		return
	}
	report.ChartPNG = png
}

// Chart fetches the series and renders it without touching the model
func (s *Service) Chart(ctx context.Context, symbol models.Symbol, period models.Period) ([]byte, error) {
	if s.charts == nil {
		return nil, newError(KindUnclassified, "chart rendering is not configured", nil)
	}
	series, err := s.market.GetPriceSeries(ctx, symbol, period)
	if err != nil {
		return nil, newError(KindDataUnavailable, string(symbol), err)
	}
	if series.Empty() {
		return nil, newError(KindDataUnavailable, string(symbol), nil)
	}
	png, err := s.charts.RenderPriceChart(series, s.cfg.MAWindows)
	if err != nil {
		return nil, newError(KindUnclassified, "", err)
	}
	return png, nil
}

// classifyCatalogError maps a model-listing failure. An unreachable catalog
// means no model can be used, unless the provider is signalling a quota.
func classifyCatalogError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if gemini.IsRateLimitError(err) {
		return newError(KindRateLimited, "", err)
	}
	return newError(KindNoModelAvailable, "catalog unavailable", err)
}

func classifyGenerateError(err error) *Error {
	var emptyErr *gemini.EmptyResponseError
	if errors.As(err, &emptyErr) {
		return newError(KindEmptyModelResponse, emptyErr.Reason, err)
	}
	var rateErr *gemini.RateLimitError
	if errors.As(err, &rateErr) || gemini.IsRateLimitError(err) {
		return newError(KindRateLimited, "", err)
	}
	return newError(KindUnclassified, "", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func capRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Ensure Service implements AnalysisService
var _ interfaces.AnalysisService = (*Service)(nil)
