// Package report renders finished commentary reports: charts, HTML and PDF
package report

import (
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/bobmcallan/yosoku/internal/interfaces"
	"github.com/bobmcallan/yosoku/internal/models"
)

// Service implements ReportExporter
type Service struct {
	logger   arbor.ILogger
	utf8Font []byte
}

// Option configures a Service
type Option func(*Service)

// WithUTF8Font sets a TrueType font for PDF export. Without one the core
// fonts are used and only cp1252 text can be exported.
func WithUTF8Font(ttf []byte) Option {
	return func(s *Service) {
		s.utf8Font = ttf
	}
}

// NewService creates a new report service
func NewService(logger arbor.ILogger, opts ...Option) *Service {
	s := &Service{logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RenderMarkdown converts model output to an HTML fragment
func (s *Service) RenderMarkdown(source string) (string, error) {
	return RenderMarkdown(source)
}

// ExportPDF renders the report, including its chart, as a PDF document
func (s *Service) ExportPDF(report *models.Report) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("no report to export")
	}

	md := FormatReport(report)
	s.logger.Debug().
		Str("symbol", string(report.Symbol)).
		Int("markdown_len", len(md)).
		Msg("Converting report to PDF")

	out, err := renderPDF(fmt.Sprintf("%s commentary", report.Symbol), md, report.ChartPNG, s.utf8Font)
	if errors.Is(err, ErrUnsupportedText) {
		s.logger.Warn().Str("symbol", string(report.Symbol)).Err(err).Msg("Report text needs a UTF-8 PDF font")
		return nil, err
	}
	if err != nil {
		s.logger.Error().Str("symbol", string(report.Symbol)).Err(err).Msg("Failed to generate PDF")
		return nil, err
	}

	s.logger.Debug().Int("pdf_size", len(out)).Msg("PDF generated successfully")
	return out, nil
}

// Ensure Service implements ReportExporter
var _ interfaces.ReportExporter = (*Service)(nil)
