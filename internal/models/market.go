// Package models defines the request-scoped values passed through the pipeline
package models

import (
	"fmt"
	"strings"
	"time"
)

// Symbol is a tradable instrument code with an optional market suffix (e.g. "7203.T").
type Symbol string

// Code returns the symbol without its market suffix.
func (s Symbol) Code() string {
	if i := strings.LastIndex(string(s), "."); i > 0 {
		return string(s)[:i]
	}
	return string(s)
}

// Suffix returns the market suffix without the dot, or "".
func (s Symbol) Suffix() string {
	if i := strings.LastIndex(string(s), "."); i > 0 {
		return string(s)[i+1:]
	}
	return ""
}

func (s Symbol) String() string { return string(s) }

// Period is a lookback window for price history
type Period string

const (
	Period1Month  Period = "1mo"
	Period3Months Period = "3mo"
	Period6Months Period = "6mo"
	Period1Year   Period = "1y"
	Period2Years  Period = "2y"
	Period5Years  Period = "5y"
)

// Periods lists the supported lookback windows in display order.
var Periods = []Period{Period1Month, Period3Months, Period6Months, Period1Year, Period2Years, Period5Years}

// ParsePeriod validates a period string.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Periods {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported period %q", s)
}

// Start returns the first calendar date covered by the period, counted back from now.
func (p Period) Start(now time.Time) time.Time {
	switch p {
	case Period3Months:
		return now.AddDate(0, -3, 0)
	case Period6Months:
		return now.AddDate(0, -6, 0)
	case Period1Year:
		return now.AddDate(-1, 0, 0)
	case Period2Years:
		return now.AddDate(-2, 0, 0)
	case Period5Years:
		return now.AddDate(-5, 0, 0)
	default:
		return now.AddDate(0, -1, 0)
	}
}

// Label returns a human-readable name for the period.
func (p Period) Label() string {
	switch p {
	case Period1Month:
		return "1 month"
	case Period3Months:
		return "3 months"
	case Period6Months:
		return "6 months"
	case Period1Year:
		return "1 year"
	case Period2Years:
		return "2 years"
	case Period5Years:
		return "5 years"
	}
	return string(p)
}

// PriceBar represents a single day's price data
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// PriceSeries is an ordered (oldest first) sequence of daily bars.
// An empty series means the symbol is unknown or has no data for the period.
type PriceSeries struct {
	Symbol   Symbol     `json:"symbol"`
	Currency string     `json:"currency,omitempty"`
	Bars     []PriceBar `json:"bars"`
}

// Empty reports whether the series has no observations.
func (s *PriceSeries) Empty() bool {
	return s == nil || len(s.Bars) == 0
}

// Tail returns the most recent n bars, oldest first.
func (s *PriceSeries) Tail(n int) []PriceBar {
	if s == nil || n <= 0 {
		return nil
	}
	if n >= len(s.Bars) {
		return s.Bars
	}
	return s.Bars[len(s.Bars)-n:]
}

// Last returns the most recent bar.
func (s *PriceSeries) Last() (PriceBar, bool) {
	if s.Empty() {
		return PriceBar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Closes returns closing prices, oldest first.
func (s *PriceSeries) Closes() []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Headline is a single news title from one source
type Headline struct {
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// SourceResult is the outcome of fetching headlines from one source.
// Err is kept so failed sources stay visible to the renderer and logs.
type SourceResult struct {
	Source    string     `json:"source"`
	Headlines []Headline `json:"headlines"`
	Err       error      `json:"-"`
}

// Failed reports whether the source could not be fetched.
func (r SourceResult) Failed() bool {
	return r.Err != nil
}

// DocumentText is the extracted text of an uploaded report
type DocumentText struct {
	Name         string `json:"name"`
	Text         string `json:"text"`
	Pages        int    `json:"pages"`
	SkippedPages int    `json:"skipped_pages"`
	Truncated    bool   `json:"truncated"`
}

// Empty reports whether no text is available.
func (d *DocumentText) Empty() bool {
	return d == nil || strings.TrimSpace(d.Text) == ""
}
