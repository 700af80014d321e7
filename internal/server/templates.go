package server

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bobmcallan/yosoku/internal/common"
	"github.com/bobmcallan/yosoku/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"price": func(v float64) string {
		return formatNumber(v, 2)
	},
	"pct": func(v float64) string {
		return formatSigned(v, 2) + "%"
	},
	"signed": func(v float64) string {
		return formatSigned(v, 2)
	},
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02")
	},
}

func parseTemplates() *template.Template {
	return template.Must(template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html"))
}

type periodOption struct {
	Value string
	Label string
}

type formValues struct {
	Symbol       string
	Period       string
	ReportType   string
	Notes        string
	HasServerKey bool
}

// pageData is passed to every page template. Session is the request's
// resolved session so templates never consult global state.
type pageData struct {
	Title       string
	Version     string
	Session     *common.Session
	AuthEnabled bool
	Periods     []periodOption
	Form        formValues
	Error       string
	Warnings    []string
	Report      *reportView
}

func (s *Server) newPage(r *http.Request, title string) *pageData {
	periods := make([]periodOption, 0, len(models.Periods))
	for _, p := range models.Periods {
		periods = append(periods, periodOption{Value: string(p), Label: p.Label()})
	}

	return &pageData{
		Title:       title,
		Version:     common.GetVersion(),
		Session:     common.SessionFromContext(r.Context()),
		AuthEnabled: s.app.Config.Auth.Enabled(),
		Periods:     periods,
		Form: formValues{
			Period:       s.app.Config.Analysis.DefaultPeriod,
			ReportType:   s.app.Config.Analysis.DefaultReport,
			HasServerKey: common.ResolveAPIKey("gemini_api_key", s.app.Config.Clients.Gemini.APIKey) != "",
		},
	}
}

// render executes into a buffer first so a template failure never leaves
// a half-written page behind a 200.
func (s *Server) render(w http.ResponseWriter, status int, name string, data *pageData) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error().Str("template", name).Err(err).Msg("Template render failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// formatNumber renders a price with thousands separators, e.g. 2,512.50
func formatNumber(v float64, decimals int) string {
	if decimals <= 0 {
		return humanize.FormatFloat("#,###.", v)
	}
	return humanize.FormatFloat("#,###."+strings.Repeat("#", decimals), v)
}

func formatSigned(v float64, decimals int) string {
	if v > 0 {
		return "+" + formatNumber(v, decimals)
	}
	return formatNumber(v, decimals)
}
