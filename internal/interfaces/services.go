package interfaces

import (
	"context"

	"github.com/bobmcallan/yosoku/internal/models"
)

// AnalysisInput is one form submission after validation
type AnalysisInput struct {
	APIKey       string
	Symbol       models.Symbol
	Period       models.Period
	ReportType   models.ReportType
	DocumentName string
	Document     []byte
	Notes        string
}

// AnalysisService runs the fetch → extract → assemble → generate pipeline
type AnalysisService interface {
	// Run executes one pipeline pass. Once price data has been fetched the
	// report is returned even when err is non-nil, so partial results can render.
	Run(ctx context.Context, input AnalysisInput) (*models.Report, error)

	// Chart fetches prices and renders the chart without calling the model
	Chart(ctx context.Context, symbol models.Symbol, period models.Period) ([]byte, error)
}

// ReportExporter renders a finished report into downloadable formats
type ReportExporter interface {
	RenderMarkdown(markdown string) (string, error)
	ExportPDF(report *models.Report) ([]byte, error)
}
