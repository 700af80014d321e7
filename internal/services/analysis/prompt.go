package analysis

import (
	"fmt"
	"strings"

	"github.com/bobmcallan/yosoku/internal/models"
)

// Placeholder marks an evidence section with nothing to show
const Placeholder = "none"

// DefaultTableRows is the number of recent sessions shown in the price table
const DefaultTableRows = 7

// coreInstructions are common to every report type and always sent verbatim
var coreInstructions = []string{
	"Trend assessment: describe the current price trend using the price table and technical indicators.",
	"Bullish or bearish call: state one call (bullish, bearish or neutral) and give the rationale from the evidence above.",
	"Risk flags: list the main risks or uncertainties that could invalidate the call.",
}

var reportInstructions = map[models.ReportType][]string{
	models.ReportOutlook: {
		"Short-term outlook: forecast the likely direction over the next few weeks in about 100 words.",
	},
	models.ReportDetailed: {
		"News impact: explain how each headline source and the attached document affect the outlook.",
		"Key levels: name the support and resistance levels implied by the moving averages and period range.",
		"Summary: close with a short paragraph a retail investor can act on, noting this is not investment advice.",
	},
}

// InstructionItems returns the numbered instruction items for a report type
func InstructionItems(reportType models.ReportType) []string {
	items := make([]string, 0, len(coreInstructions)+2)
	items = append(items, coreInstructions...)
	extra, ok := reportInstructions[reportType]
	if !ok {
		extra = reportInstructions[models.ReportOutlook]
	}
	return append(items, extra...)
}

// PromptInput is the evidence gathered for one request
type PromptInput struct {
	Symbol     models.Symbol
	Period     models.Period
	ReportType models.ReportType
	Series     *models.PriceSeries
	TableRows  int
	Indicators *models.Indicators
	Sources    []models.SourceResult
	Document   *models.DocumentText
	Notes      string
}

// BuildPrompt renders the evidence into one instruction string. Sections always
// appear in the same order; absent evidence is rendered as "none".
func BuildPrompt(in PromptInput) string {
	var sb strings.Builder

	sb.WriteString("You are a professional equity analyst writing commentary for a retail investor dashboard.\n")
	sb.WriteString("Base your answer only on the evidence below.\n\n")

	sb.WriteString("## Target\n\n")
	fmt.Fprintf(&sb, "Symbol: %s\n", in.Symbol)
	if in.Period != "" {
		fmt.Fprintf(&sb, "Period: %s\n", in.Period.Label())
	}
	if in.Series != nil && in.Series.Currency != "" {
		fmt.Fprintf(&sb, "Currency: %s\n", in.Series.Currency)
	}
	sb.WriteString("\n")

	rows := in.TableRows
	if rows <= 0 {
		rows = DefaultTableRows
	}
	fmt.Fprintf(&sb, "## Recent Prices (last %d sessions)\n\n", rows)
	writePriceTable(&sb, in.Series, rows)
	sb.WriteString("\n")

	sb.WriteString("## Technical Indicators\n\n")
	writeIndicators(&sb, in.Indicators)
	sb.WriteString("\n")

	if len(in.Sources) == 0 {
		sb.WriteString("## Headlines\n\n")
		sb.WriteString(Placeholder + "\n\n")
	}
	for _, src := range in.Sources {
		fmt.Fprintf(&sb, "## Headlines: %s\n\n", src.Source)
		writeHeadlines(&sb, src)
		sb.WriteString("\n")
	}

	sb.WriteString("## Attached Document\n\n")
	if in.Document.Empty() {
		sb.WriteString(Placeholder + "\n")
	} else {
		if in.Document.Name != "" {
			fmt.Fprintf(&sb, "Source: %s\n", in.Document.Name)
		}
		sb.WriteString(in.Document.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Analyst Notes\n\n")
	if notes := strings.TrimSpace(in.Notes); notes == "" {
		sb.WriteString(Placeholder + "\n")
	} else {
		sb.WriteString(notes)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Instructions\n\n")
	sb.WriteString("Answer in Markdown and cover each numbered item under its own heading:\n\n")
	for i, item := range InstructionItems(in.ReportType) {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, item)
	}

	return sb.String()
}

func writePriceTable(sb *strings.Builder, series *models.PriceSeries, rows int) {
	if series.Empty() {
		sb.WriteString(Placeholder + "\n")
		return
	}

	fmt.Fprintf(sb, "%-10s %12s %12s %12s %12s %14s\n", "Date", "Open", "High", "Low", "Close", "Volume")
	for _, b := range series.Tail(rows) {
		fmt.Fprintf(sb, "%-10s %12.2f %12.2f %12.2f %12.2f %14d\n",
			b.Date.Format("2006-01-02"), b.Open, b.High, b.Low, b.Close, b.Volume)
	}
}

func writeIndicators(sb *strings.Builder, ind *models.Indicators) {
	if ind == nil {
		sb.WriteString(Placeholder + "\n")
		return
	}

	fmt.Fprintf(sb, "Last close: %.2f (%+.2f, %+.2f%% over the period)\n", ind.LastClose, ind.Change, ind.ChangePct)
	fmt.Fprintf(sb, "Period range: %.2f to %.2f\n", ind.PeriodLow, ind.PeriodHigh)
	fmt.Fprintf(sb, "Average volume: %d\n", ind.AvgVolume)
	for _, ma := range ind.MovingAverage {
		if ma.Valid {
			fmt.Fprintf(sb, "MA%d: %.2f\n", ma.Window, ma.Value)
		} else {
			fmt.Fprintf(sb, "MA%d: n/a (insufficient history)\n", ma.Window)
		}
	}
	fmt.Fprintf(sb, "RSI(%d): %.1f (%s)\n", ind.RSIPeriod, ind.RSI, ind.RSISignal)
	fmt.Fprintf(sb, "Trend: %s\n", ind.Trend)
}

func writeHeadlines(sb *strings.Builder, src models.SourceResult) {
	if src.Failed() {
		sb.WriteString(Placeholder + " (source unavailable)\n")
		return
	}
	if len(src.Headlines) == 0 {
		sb.WriteString(Placeholder + "\n")
		return
	}
	for _, h := range src.Headlines {
		if h.PublishedAt.IsZero() {
			fmt.Fprintf(sb, "- %s\n", h.Title)
		} else {
			fmt.Fprintf(sb, "- %s (%s)\n", h.Title, h.PublishedAt.Format("2006-01-02"))
		}
	}
}
