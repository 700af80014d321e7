// Package gemini provides a client for the Google Gemini API
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/bobmcallan/yosoku/internal/common"
	"github.com/bobmcallan/yosoku/internal/interfaces"
	"github.com/bobmcallan/yosoku/internal/models"
)

const (
	DefaultTimeout = 120 * time.Second

	// generateAction is the supported action a model must advertise to be usable.
	generateAction = "generateContent"
)

// Client implements the GeminiClient interface for one API key
type Client struct {
	client  *genai.Client
	timeout time.Duration
	logger  arbor.ILogger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout bounds each generation call
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client:  genaiClient,
		timeout: DefaultTimeout,
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// NewFactory returns a GeminiClientFactory that builds clients with the given options
func NewFactory(opts ...ClientOption) interfaces.GeminiClientFactory {
	return func(ctx context.Context, apiKey string) (interfaces.GeminiClient, error) {
		return NewClient(ctx, apiKey, opts...)
	}
}

// ListModels returns the identifiers of models that support generateContent,
// in the order the API lists them.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	for m, err := range c.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to list models: %w", err)
		}
		if m == nil || !supportsGenerate(m.SupportedActions) {
			continue
		}
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}

	c.logger.Debug().Int("models", len(names)).Msg("Gemini model catalog listed")
	return names, nil
}

func supportsGenerate(actions []string) bool {
	for _, a := range actions {
		if a == generateAction {
			return true
		}
	}
	return false
}

// Generate produces text for the prompt with the given model
func (c *Client) Generate(ctx context.Context, model, prompt string) (*models.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug().Str("model", model).Int("prompt_len", len(prompt)).Msg("Generating content")

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		if IsRateLimitError(err) {
			return nil, &RateLimitError{RetryAfter: ExtractRetryDelay(err), Err: err}
		}
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	return resultFromResponse(model, resp)
}

// EmptyResponseError is returned when the call succeeded but produced no text,
// e.g. because the prompt or candidate was blocked by content filtering.
type EmptyResponseError struct {
	Reason string
}

func (e *EmptyResponseError) Error() string {
	if e.Reason == "" {
		return "model returned no content"
	}
	return fmt.Sprintf("model returned no content (reason: %s)", e.Reason)
}

// RateLimitError wraps a provider quota or rate-limit rejection
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("Gemini rate limit exceeded, retry after %v", e.RetryAfter.Round(time.Second))
	}
	return "Gemini rate limit exceeded"
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// resultFromResponse extracts the first candidate's text
func resultFromResponse(model string, result *genai.GenerateContentResponse) (*models.AnalysisResult, error) {
	if result == nil {
		return nil, &EmptyResponseError{Reason: "empty response"}
	}

	if fb := result.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, &EmptyResponseError{Reason: string(fb.BlockReason)}
	}

	if len(result.Candidates) == 0 || result.Candidates[0] == nil {
		return nil, &EmptyResponseError{Reason: "no candidates"}
	}

	candidate := result.Candidates[0]
	finish := string(candidate.FinishReason)

	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, &EmptyResponseError{Reason: finish}
	}

	return &models.AnalysisResult{
		Model:        model,
		Text:         text,
		FinishReason: finish,
	}, nil
}

// rateLimitPhrases are matched case-insensitively against errors that did
// not arrive as a genai.APIError. A bare status code is not enough: "429"
// also turns up in ports, request ids and token counts.
var rateLimitPhrases = []string{
	"resource_exhausted",
	"resource has been exhausted",
	"too many requests",
	"quota",
}

// IsRateLimitError checks if an error is a Gemini rate limit error.
// Matches 429 API errors, RESOURCE_EXHAUSTED and quota messages.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(errStr, phrase) {
			return true
		}
	}
	return false
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// ExtractRetryDelay parses the API-suggested retry delay from a Gemini error.
// Returns 0 if no delay is found in the error message.
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// Ensure Client implements GeminiClient
var _ interfaces.GeminiClient = (*Client)(nil)
