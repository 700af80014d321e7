package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bobmcallan/yosoku/internal/interfaces"
	"github.com/bobmcallan/yosoku/internal/models"
	"github.com/bobmcallan/yosoku/internal/services/analysis"
	reportsvc "github.com/bobmcallan/yosoku/internal/services/report"
)

// symbolPattern accepts plain tickers (AAPL), market suffixes (7203.T),
// class shares (BRK-B), index carets (^N225) and FX pairs (USDJPY=X).
var symbolPattern = regexp.MustCompile(`^\^?[A-Z0-9][A-Z0-9.\-=]{0,23}$`)

// analyzeForm is one dashboard submission after normalisation
type analyzeForm struct {
	Credential string `validate:"max=200"`
	Symbol     string `validate:"required,symbol"`
	Period     string `validate:"required,oneof=1mo 3mo 6mo 1y 2y 5y"`
	ReportType string `validate:"required,oneof=outlook detailed"`
	Notes      string `validate:"max=20000"`
	Format     string `validate:"omitempty,oneof=html pdf"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("symbol", func(fl validator.FieldLevel) bool {
		return symbolPattern.MatchString(fl.Field().String())
	})
	return v
}

// normalizeSymbol trims and upper-cases a ticker. Market suffixes are optional.
func normalizeSymbol(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func readAnalyzeForm(r *http.Request) analyzeForm {
	return analyzeForm{
		Credential: strings.TrimSpace(r.FormValue("credential")),
		Symbol:     normalizeSymbol(r.FormValue("symbol")),
		Period:     strings.ToLower(strings.TrimSpace(r.FormValue("period"))),
		ReportType: strings.ToLower(strings.TrimSpace(r.FormValue("report_type"))),
		Notes:      strings.TrimSpace(r.FormValue("notes")),
		Format:     strings.ToLower(strings.TrimSpace(r.FormValue("format"))),
	}
}

// validationMessage turns the first failing field into banner text
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "The form could not be read. Check the inputs and try again."
	}
	switch verrs[0].Field() {
	case "Symbol":
		return "Enter a ticker symbol such as 7203.T, AAPL or ^N225."
	case "Period":
		return "Choose one of the listed periods."
	case "ReportType":
		return "Choose either the outlook or the detailed report."
	case "Notes":
		return "Analyst notes are limited to 20000 characters."
	case "Credential":
		return "The API key is too long."
	case "Format":
		return "Unsupported output format."
	}
	return fmt.Sprintf("%s is invalid.", verrs[0].Field())
}

// statusForError maps a pipeline failure to the response status of the page
// that carries its banner.
func statusForError(e *analysis.Error) int {
	switch e.Kind {
	case analysis.KindCredentialMissing:
		return http.StatusBadRequest
	case analysis.KindDataUnavailable:
		return http.StatusNotFound
	case analysis.KindNoModelAvailable:
		return http.StatusBadGateway
	case analysis.KindRateLimited:
		return http.StatusTooManyRequests
	case analysis.KindEmptyModelResponse:
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	page := s.newPage(r, "Stock commentary")
	s.render(w, http.StatusOK, "dashboard.html", page)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	page := s.newPage(r, "Stock commentary")

	maxUpload := s.app.Config.Server.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			page.Error = fmt.Sprintf("The upload exceeds the %d MB limit.", maxUpload>>20)
			s.render(w, http.StatusRequestEntityTooLarge, "dashboard.html", page)
			return
		}
		page.Error = "The form could not be read. Check the inputs and try again."
		s.render(w, http.StatusBadRequest, "dashboard.html", page)
		return
	}

	form := readAnalyzeForm(r)
	page.Form.Symbol = form.Symbol
	page.Form.Period = form.Period
	page.Form.ReportType = form.ReportType
	page.Form.Notes = form.Notes

	if err := s.validate.Struct(form); err != nil {
		page.Error = validationMessage(err)
		s.render(w, http.StatusBadRequest, "dashboard.html", page)
		return
	}

	docName, docData, err := readUpload(r, "document")
	if err != nil {
		page.Error = "The attached document could not be read."
		s.render(w, http.StatusBadRequest, "dashboard.html", page)
		return
	}

	period, _ := models.ParsePeriod(form.Period)
	reportType, _ := models.ParseReportType(form.ReportType)

	report, runErr := s.app.AnalysisService.Run(r.Context(), interfaces.AnalysisInput{
		APIKey:       form.Credential,
		Symbol:       models.Symbol(form.Symbol),
		Period:       period,
		ReportType:   reportType,
		DocumentName: docName,
		Document:     docData,
		Notes:        form.Notes,
	})

	if form.Format == "pdf" && runErr == nil && report != nil {
		s.writePDF(w, report, page)
		return
	}

	status := http.StatusOK
	if runErr != nil {
		aerr := analysis.AsError(runErr)
		page.Error = aerr.UserMessage()
		status = statusForError(aerr)
		s.logger.Warn().
			Str("symbol", form.Symbol).
			Str("kind", string(aerr.Kind)).
			Err(runErr).
			Msg("Analysis did not complete")
	}
	if report != nil {
		page.Report = s.newReportView(report)
		page.Warnings = reportWarnings(report)
	}

	s.render(w, status, "dashboard.html", page)
}

func (s *Server) writePDF(w http.ResponseWriter, report *models.Report, page *pageData) {
	out, err := s.app.ReportService.ExportPDF(report)
	if errors.Is(err, reportsvc.ErrUnsupportedText) {
		page.Report = s.newReportView(report)
		page.Warnings = append(reportWarnings(report),
			"This report contains characters the PDF font cannot show, so it is displayed here instead. Configure report.pdf_font_path to export it as PDF.")
		s.render(w, http.StatusOK, "dashboard.html", page)
		return
	}
	if err != nil {
		page.Error = "The PDF could not be generated. The report is shown below instead."
		page.Report = s.newReportView(report)
		page.Warnings = reportWarnings(report)
		s.render(w, http.StatusInternalServerError, "dashboard.html", page)
		return
	}

	filename := fmt.Sprintf("%s-%s.pdf",
		strings.NewReplacer("^", "", "=", "").Replace(string(report.Symbol)),
		report.GeneratedAt.Format("20060102"))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	symbol := normalizeSymbol(r.URL.Query().Get("symbol"))
	if !symbolPattern.MatchString(symbol) {
		WriteError(w, http.StatusBadRequest, "invalid symbol")
		return
	}
	period, err := models.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	png, err := s.app.AnalysisService.Chart(r.Context(), models.Symbol(symbol), period)
	if err != nil {
		aerr := analysis.AsError(err)
		WriteErrorWithCode(w, statusForError(aerr), aerr.UserMessage(), string(aerr.Kind))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// readUpload returns the named multipart file, or empty values when the
// field was left blank.
func readUpload(r *http.Request, field string) (string, []byte, error) {
	if r.MultipartForm == nil {
		return "", nil, nil
	}
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, nil
	}
	return header.Filename, data, nil
}

// reportView is the template-facing shape of a report
type reportView struct {
	Symbol      string
	Period      string
	ReportType  string
	Currency    string
	Model       string
	GeneratedAt string
	Chart       template.URL
	Commentary  template.HTML
	Indicators  *models.Indicators
	Sources     []sourceView
	Document    *models.DocumentText
}

type sourceView struct {
	Name      string
	Failed    bool
	Headlines []models.Headline
}

func (s *Server) newReportView(report *models.Report) *reportView {
	v := &reportView{
		Symbol:      string(report.Symbol),
		Period:      report.Period.Label(),
		ReportType:  string(report.ReportType),
		Indicators:  report.Indicators,
		Document:    report.Document,
		GeneratedAt: report.GeneratedAt.Format("2006-01-02 15:04 MST"),
	}
	if report.Series != nil {
		v.Currency = report.Series.Currency
	}
	if report.Request != nil {
		v.Model = report.Request.Model
	}
	if len(report.ChartPNG) > 0 {
		v.Chart = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(report.ChartPNG))
	}
	if !report.Result.Empty() {
		html, err := s.app.ReportService.RenderMarkdown(report.Result.Text)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Markdown render failed, showing plain text")
			html = "<pre>" + template.HTMLEscapeString(report.Result.Text) + "</pre>"
		}
		v.Commentary = template.HTML(html)
	}
	for _, src := range report.Sources {
		v.Sources = append(v.Sources, sourceView{
			Name:      src.Source,
			Failed:    src.Failed(),
			Headlines: src.Headlines,
		})
	}
	return v
}

// reportWarnings lists the partial failures that did not stop the run
func reportWarnings(report *models.Report) []string {
	var out []string
	for _, name := range report.FailedSources() {
		out = append(out, fmt.Sprintf("Headlines from %s could not be fetched.", name))
	}
	if report.DocumentErr != nil {
		out = append(out, "The attached document could not be read, so the analysis continued without it.")
	}
	if d := report.Document; d != nil {
		if d.SkippedPages > 0 {
			out = append(out, fmt.Sprintf("%d of %d document pages could not be read.", d.SkippedPages, d.Pages))
		}
		if d.Truncated {
			out = append(out, "The document text was truncated to fit the prompt.")
		}
	}
	return out
}
