package document

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pdfHeader = []byte("%PDF-1.7\n")

// fakePages serves fixed page text; failing pages return an error or panic
type fakePages struct {
	pages  []string
	errs   map[int]error
	panics map[int]bool
}

func (f *fakePages) NumPage() int { return len(f.pages) }

func (f *fakePages) PageText(i int) (string, error) {
	if f.panics[i] {
		panic("malformed content stream")
	}
	if err := f.errs[i]; err != nil {
		return "", err
	}
	return f.pages[i-1], nil
}

func tenPages() *fakePages {
	pages := make([]string, 10)
	for i := range pages {
		pages[i] = fmt.Sprintf("P%02d:%s", i+1, strings.Repeat("a", 96))
	}
	return &fakePages{pages: pages, errs: map[int]error{3: errors.New("bad xref")}}
}

func extractorWith(src pageSource, opts ...ExtractorOption) *Extractor {
	e := NewExtractor(opts...)
	e.open = func([]byte) (pageSource, error) { return src, nil }
	return e
}

func TestExtract_SkipsFailingPage(t *testing.T) {
	e := extractorWith(tenPages(), WithMaxChars(5000))

	doc, err := e.Extract("report.pdf", pdfHeader)
	require.NoError(t, err)
	assert.Equal(t, 10, doc.Pages)
	assert.Equal(t, 1, doc.SkippedPages)
	assert.False(t, doc.Truncated)
	assert.NotContains(t, doc.Text, "P03:")
	assert.Len(t, strings.Split(doc.Text, "\n"), 9)
	assert.True(t, strings.HasPrefix(doc.Text, "P01:"))
	assert.True(t, strings.HasSuffix(doc.Text, strings.Repeat("a", 96)))
}

func TestExtract_SkipsFailingPageAndTruncates(t *testing.T) {
	e := extractorWith(tenPages(), WithMaxChars(500))

	doc, err := e.Extract("report.pdf", pdfHeader)
	require.NoError(t, err)
	assert.True(t, doc.Truncated)
	assert.Equal(t, 500, utf8.RuneCountInString(doc.Text))
	assert.Contains(t, doc.Text, "P01:")
	assert.Contains(t, doc.Text, "P02:")
	assert.Contains(t, doc.Text, "P04:")
	assert.NotContains(t, doc.Text, "P03:")
}

func TestExtract_RecoversPagePanic(t *testing.T) {
	src := &fakePages{pages: []string{"first", "second", "third"}, panics: map[int]bool{2: true}}
	e := extractorWith(src)

	doc, err := e.Extract("report.pdf", pdfHeader)
	require.NoError(t, err)
	assert.Equal(t, "first\nthird", doc.Text)
	assert.Equal(t, 1, doc.SkippedPages)
}

func TestExtract_MultibyteTruncation(t *testing.T) {
	src := &fakePages{pages: []string{"決算短信の概要です"}}
	e := extractorWith(src, WithMaxChars(4))

	doc, err := e.Extract("tanshin.pdf", pdfHeader)
	require.NoError(t, err)
	assert.Equal(t, "決算短信", doc.Text)
	assert.True(t, doc.Truncated)
}

func TestExtract_RejectsNonPDF(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract("notes.txt", []byte("hello"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestExtract_OpenFailure(t *testing.T) {
	e := NewExtractor()
	e.open = func([]byte) (pageSource, error) { return nil, errors.New("no trailer") }

	_, err := e.Extract("broken.pdf", pdfHeader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.pdf")
}

func TestExtract_RealReaderRejectsCorruptPDF(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract("corrupt.pdf", []byte("%PDF-1.4\nnot really a pdf"))
	assert.Error(t, err)
}
