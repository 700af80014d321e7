package models

import (
	"fmt"
	"strings"
	"time"
)

// ReportType selects the instruction template sent to the model
type ReportType string

const (
	// ReportOutlook asks for a brief short-term forecast.
	ReportOutlook ReportType = "outlook"
	// ReportDetailed asks for a full technical and news commentary.
	ReportDetailed ReportType = "detailed"
)

// ParseReportType validates a report type string.
func ParseReportType(s string) (ReportType, error) {
	switch ReportType(strings.ToLower(strings.TrimSpace(s))) {
	case ReportOutlook:
		return ReportOutlook, nil
	case ReportDetailed:
		return ReportDetailed, nil
	}
	return "", fmt.Errorf("unsupported report type %q", s)
}

// MovingAverage is the trailing mean close over Window sessions.
// Valid is false when the series is shorter than the window.
type MovingAverage struct {
	Window int     `json:"window"`
	Value  float64 `json:"value"`
	Valid  bool    `json:"valid"`
}

// Indicators summarises the technical state of a price series
type Indicators struct {
	LastClose     float64         `json:"last_close"`
	Change        float64         `json:"change"`
	ChangePct     float64         `json:"change_pct"`
	PeriodHigh    float64         `json:"period_high"`
	PeriodLow     float64         `json:"period_low"`
	AvgVolume     int64           `json:"avg_volume"`
	MovingAverage []MovingAverage `json:"moving_averages"`
	RSIPeriod     int             `json:"rsi_period"`
	RSI           float64         `json:"rsi"`
	RSISignal     string          `json:"rsi_signal"`
	Trend         string          `json:"trend"`
}

// AnalysisRequest is the fully assembled instruction sent to the model.
// It is immutable once sent.
type AnalysisRequest struct {
	Model      string     `json:"model"`
	ReportType ReportType `json:"report_type"`
	Prompt     string     `json:"prompt"`
}

// AnalysisResult is the model's free-text response
type AnalysisResult struct {
	Model        string `json:"model"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Empty reports whether the model produced no usable text.
func (r *AnalysisResult) Empty() bool {
	return r == nil || strings.TrimSpace(r.Text) == ""
}

// Report is everything the renderer needs for one pipeline run
type Report struct {
	Symbol      Symbol           `json:"symbol"`
	Period      Period           `json:"period"`
	ReportType  ReportType       `json:"report_type"`
	Series      *PriceSeries     `json:"series,omitempty"`
	Indicators  *Indicators      `json:"indicators,omitempty"`
	Sources     []SourceResult   `json:"sources"`
	Document    *DocumentText    `json:"document,omitempty"`
	DocumentErr error            `json:"-"`
	Notes       string           `json:"notes,omitempty"`
	Request     *AnalysisRequest `json:"request,omitempty"`
	Result      *AnalysisResult  `json:"result,omitempty"`
	ChartPNG    []byte           `json:"-"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// FailedSources returns the names of sources that could not be fetched.
func (r *Report) FailedSources() []string {
	var out []string
	for _, s := range r.Sources {
		if s.Failed() {
			out = append(out, s.Source)
		}
	}
	return out
}
