package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	pdfFont      = "Arial"
	pdfMonoFont  = "Courier"
	pdfUTF8Font  = "ReportUTF8"
	pdfFontSize  = 10.0
	pdfLineH     = 5.0
	pdfMargin    = 15.0
	pdfPageWidth = 180.0
	chartImage   = "price-chart"
)

// ErrUnsupportedText is returned when the report holds characters the
// configured PDF font cannot encode.
var ErrUnsupportedText = errors.New("report text cannot be encoded in the PDF font")

// renderPDF lays out markdown (and an optional chart) on A4 pages. With no
// utf8Font the core cp1252 fonts are used.
func renderPDF(title, source string, chartPNG, utf8Font []byte) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)

	r := &pdfRenderer{
		pdf:      pdf,
		source:   []byte(source),
		font:     pdfFont,
		monoFont: pdfMonoFont,
	}

	if len(utf8Font) > 0 {
		face, err := parseFont(utf8Font)
		if err != nil {
			return nil, err
		}
		if bad := unencodable(source, fontCovers(face)); bad != "" {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedText, bad)
		}
		for _, style := range []string{"", "B", "I", "BI"} {
			pdf.AddUTF8FontFromBytes(pdfUTF8Font, style, utf8Font)
		}
		// fpdf drops fonts it cannot parse without recording an error;
		// selecting the family surfaces that.
		pdf.SetFont(pdfUTF8Font, "", pdfFontSize)
		if err := pdf.Error(); err != nil {
			return nil, fmt.Errorf("failed to load PDF font: %w", err)
		}
		r.font, r.monoFont = pdfUTF8Font, pdfUTF8Font
		r.tr = func(s string) string { return s }
	} else {
		r.tr = pdf.UnicodeTranslatorFromDescriptor("")
		if bad := unencodable(source, cp1252Covers(r.tr)); bad != "" {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedText, bad)
		}
	}

	pdf.AddPage()
	pdf.SetFont(r.font, "", pdfFontSize)

	doc := markdown.Parser().Parse(text.NewReader(r.source))

	// The chart goes after the metadata block, before the first H2.
	r.chartPNG = chartPNG
	if err := ast.Walk(doc, r.walk); err != nil {
		return nil, fmt.Errorf("failed to lay out PDF: %w", err)
	}
	if !r.chartDrawn {
		r.drawChart()
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}
	return buf.Bytes(), nil
}

// unencodable returns up to eight distinct non-ASCII characters that
// covers rejects.
func unencodable(source string, covers func(rune) bool) string {
	var bad strings.Builder
	seen := make(map[rune]bool)
	count := 0
	for _, c := range source {
		if c < 0x80 || seen[c] {
			continue
		}
		seen[c] = true
		if !covers(c) {
			bad.WriteRune(c)
			if count++; count == 8 {
				break
			}
		}
	}
	return bad.String()
}

// cp1252Covers reports runes the core-font translator keeps. It maps
// everything outside cp1252 to '.'.
func cp1252Covers(tr func(string) string) func(rune) bool {
	return func(c rune) bool {
		return tr(string(c)) != "."
	}
}

type pdfRenderer struct {
	pdf        *fpdf.Fpdf
	source     []byte
	font       string
	monoFont   string
	tr         func(string) string
	chartPNG   []byte
	chartDrawn bool
	bold       bool
	italic     bool
	listLevel  int
}

func (r *pdfRenderer) updateFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont(r.font, style, pdfFontSize)
}

func (r *pdfRenderer) write(s string) {
	r.pdf.Write(pdfLineH, r.tr(s))
}

func (r *pdfRenderer) drawChart() {
	r.chartDrawn = true
	if len(r.chartPNG) == 0 {
		return
	}
	opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	r.pdf.RegisterImageOptionsReader(chartImage, opts, bytes.NewReader(r.chartPNG))
	if !r.pdf.Ok() {
		// An unreadable image should not cost the whole export.
		r.pdf.ClearError()
		return
	}
	r.pdf.Ln(2)
	r.pdf.ImageOptions(chartImage, pdfMargin, r.pdf.GetY(), pdfPageWidth, 0, true, opts, 0, "")
	r.pdf.Ln(4)
}

func (r *pdfRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering && node.Level == 2 && !r.chartDrawn {
			r.drawChart()
		}
		if entering {
			r.pdf.Ln(4)
			size := 10.0
			switch node.Level {
			case 1:
				size = 16
			case 2:
				size = 13
			case 3:
				size = 11
			}
			r.pdf.SetFont(r.font, "B", size)
		} else {
			r.pdf.Ln(7)
			r.updateFont()
		}
	case *ast.Paragraph:
		if !entering {
			r.pdf.Ln(pdfLineH + 1)
		}
	case *ast.Text:
		if entering {
			r.write(string(node.Segment.Value(r.source)))
			if node.SoftLineBreak() || node.HardLineBreak() {
				r.write(" ")
			}
		}
	case *ast.String:
		if entering {
			r.write(string(node.Value))
		}
	case *ast.AutoLink:
		if entering {
			r.write(string(node.URL(r.source)))
		}
		return ast.WalkSkipChildren, nil
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.updateFont()
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont(r.monoFont, "", pdfFontSize)
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					r.write(string(t.Segment.Value(r.source)))
				}
			}
			r.updateFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			r.renderCodeBlock(n.Lines())
		}
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			r.listLevel++
		} else {
			r.listLevel--
			if r.listLevel == 0 {
				r.pdf.Ln(2)
			}
		}
	case *ast.ListItem:
		if entering {
			r.pdf.Ln(pdfLineH)
			r.pdf.SetX(pdfMargin + float64(r.listLevel)*5.0)
			r.write("- ")
		}
	case *ast.ThematicBreak:
		if entering {
			r.pdf.Ln(2)
			r.pdf.Line(pdfMargin, r.pdf.GetY(), pdfMargin+pdfPageWidth, r.pdf.GetY())
			r.pdf.Ln(2)
		}
	case *extast.Table:
		if entering {
			r.renderTable(r.tableRows(node))
		}
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (r *pdfRenderer) renderCodeBlock(lines *text.Segments) {
	r.pdf.Ln(2)
	r.pdf.SetFont(r.monoFont, "", 9)
	r.pdf.SetFillColor(245, 245, 245)
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		r.pdf.MultiCell(0, 4.5, r.tr(string(line.Value(r.source))), "", "L", true)
	}
	r.pdf.SetFillColor(255, 255, 255)
	r.updateFont()
	r.pdf.Ln(2)
}

func (r *pdfRenderer) tableRows(n *extast.Table) [][]string {
	var rows [][]string
	var collect func(node ast.Node)
	collect = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch row := child.(type) {
			case *extast.TableHeader:
				rows = append(rows, r.cells(row))
			case *extast.TableRow:
				rows = append(rows, r.cells(row))
			default:
				collect(child)
			}
		}
	}
	collect(n)
	return rows
}

func (r *pdfRenderer) cells(row ast.Node) []string {
	var out []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if _, ok := cell.(*extast.TableCell); ok {
			out = append(out, r.plainText(cell))
		}
	}
	return out
}

// plainText concatenates the text segments under a node
func (r *pdfRenderer) plainText(n ast.Node) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(r.source))
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

// renderTable draws rows with equal column widths; the first row is the header
func (r *pdfRenderer) renderTable(rows [][]string) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}
	numCols := len(rows[0])
	colWidth := pdfPageWidth / float64(numCols)
	const rowH = 6.0

	r.pdf.Ln(2)
	for i, row := range rows {
		if i == 0 {
			r.pdf.SetFont(r.font, "B", 9)
			r.pdf.SetFillColor(230, 230, 230)
		} else {
			r.pdf.SetFont(r.font, "", 9)
			r.pdf.SetFillColor(255, 255, 255)
		}
		for j := 0; j < numCols; j++ {
			cell := ""
			if j < len(row) {
				cell = row[j]
			}
			r.pdf.CellFormat(colWidth, rowH, r.tr(cell), "1", 0, "L", i == 0, 0, "")
		}
		r.pdf.Ln(rowH)
	}
	r.pdf.SetFillColor(255, 255, 255)
	r.updateFont()
	r.pdf.Ln(3)
}
