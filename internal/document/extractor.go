// Package document extracts plain text from uploaded reports
package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/ternarybob/arbor"

	"github.com/bobmcallan/yosoku/internal/common"
	"github.com/bobmcallan/yosoku/internal/interfaces"
	"github.com/bobmcallan/yosoku/internal/models"
)

// DefaultMaxChars caps extracted text when no limit is configured
const DefaultMaxChars = 15000

// ErrUnsupportedType is returned for uploads that are not PDF documents
var ErrUnsupportedType = errors.New("unsupported document type: only PDF is accepted")

// pageSource is a document split into 1-indexed pages
type pageSource interface {
	NumPage() int
	PageText(i int) (string, error)
}

// Extractor reads PDF text page by page, skipping pages that fail
type Extractor struct {
	maxChars int
	logger   arbor.ILogger
	open     func(data []byte) (pageSource, error)
}

// ExtractorOption configures the extractor
type ExtractorOption func(*Extractor)

// WithLogger sets the logger
func WithLogger(logger arbor.ILogger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithMaxChars sets the rune budget for extracted text
func WithMaxChars(n int) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

// NewExtractor creates a PDF extractor
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		maxChars: DefaultMaxChars,
		logger:   common.NewSilentLogger(),
		open:     openPDF,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the concatenated text of every readable page, truncated
// to the configured budget. Only a document that cannot be opened is an error.
func (e *Extractor) Extract(name string, data []byte) (*models.DocumentText, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
		return nil, ErrUnsupportedType
	}

	src, err := e.open(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", name, err)
	}

	doc := &models.DocumentText{Name: name, Pages: src.NumPage()}

	var sb strings.Builder
	budget := e.maxChars
	for i := 1; i <= doc.Pages; i++ {
		text, err := readPage(src, i)
		if err != nil {
			doc.SkippedPages++
			e.logger.Debug().Str("document", name).Int("page", i).Err(err).Msg("Skipping unreadable page")
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
			budget--
		}
		if budget <= 0 {
			doc.Truncated = true
			break
		}
		n := utf8.RuneCountInString(text)
		if n > budget {
			sb.WriteString(truncateRunes(text, budget))
			doc.Truncated = true
			break
		}
		budget -= n
		sb.WriteString(text)
	}

	doc.Text = strings.TrimSpace(sb.String())

	e.logger.Info().
		Str("document", name).
		Int("pages", doc.Pages).
		Int("skipped", doc.SkippedPages).
		Int("chars", utf8.RuneCountInString(doc.Text)).
		Bool("truncated", doc.Truncated).
		Msg("Document text extracted")

	return doc, nil
}

// readPage isolates panics from malformed content streams to the page that raised them
func readPage(src pageSource, i int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("page %d: %v", i, r)
		}
	}()
	return src.PageText(i)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// pdfPages adapts a ledongthuc/pdf reader to pageSource
type pdfPages struct {
	r *pdf.Reader
}

func openPDF(data []byte) (src pageSource, err error) {
	defer func() {
		if r := recover(); r != nil {
			src = nil
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return &pdfPages{r: r}, nil
}

func (p *pdfPages) NumPage() int { return p.r.NumPage() }

func (p *pdfPages) PageText(i int) (string, error) {
	page := p.r.Page(i)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d: missing page object", i)
	}
	return page.GetPlainText(nil)
}

// Ensure Extractor implements DocumentExtractor
var _ interfaces.DocumentExtractor = (*Extractor)(nil)
