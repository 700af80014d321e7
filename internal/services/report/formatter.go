package report

import (
	"fmt"
	"strings"

	"github.com/bobmcallan/yosoku/internal/models"
)

// FormatReport renders a finished report as markdown, the source for PDF export
func FormatReport(r *models.Report) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s Commentary\n\n", r.Symbol)
	fmt.Fprintf(&sb, "**Generated:** %s\n", r.GeneratedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "**Period:** %s\n", r.Period.Label())
	fmt.Fprintf(&sb, "**Report:** %s\n", r.ReportType)
	if r.Request != nil {
		fmt.Fprintf(&sb, "**Model:** %s\n", r.Request.Model)
	}
	sb.WriteString("\n")

	if ind := r.Indicators; ind != nil {
		sb.WriteString("## Indicators\n\n")
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		fmt.Fprintf(&sb, "| Last Close | %.2f |\n", ind.LastClose)
		fmt.Fprintf(&sb, "| Change | %+.2f (%+.2f%%) |\n", ind.Change, ind.ChangePct)
		fmt.Fprintf(&sb, "| Range | %.2f - %.2f |\n", ind.PeriodLow, ind.PeriodHigh)
		for _, ma := range ind.MovingAverage {
			if ma.Valid {
				fmt.Fprintf(&sb, "| MA%d | %.2f |\n", ma.Window, ma.Value)
			} else {
				fmt.Fprintf(&sb, "| MA%d | n/a |\n", ma.Window)
			}
		}
		fmt.Fprintf(&sb, "| RSI(%d) | %.1f (%s) |\n", ind.RSIPeriod, ind.RSI, ind.RSISignal)
		fmt.Fprintf(&sb, "| Trend | %s |\n\n", ind.Trend)
	}

	sb.WriteString("## Commentary\n\n")
	if r.Result.Empty() {
		sb.WriteString("_No commentary was produced._\n\n")
	} else {
		sb.WriteString(strings.TrimSpace(r.Result.Text))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Headlines\n\n")
	if len(r.Sources) == 0 {
		sb.WriteString("None.\n\n")
	}
	for _, src := range r.Sources {
		fmt.Fprintf(&sb, "### %s\n\n", src.Source)
		switch {
		case src.Failed():
			sb.WriteString("_Source unavailable._\n\n")
		case len(src.Headlines) == 0:
			sb.WriteString("None.\n\n")
		default:
			for _, h := range src.Headlines {
				if h.PublishedAt.IsZero() {
					fmt.Fprintf(&sb, "- %s\n", h.Title)
				} else {
					fmt.Fprintf(&sb, "- %s (%s)\n", h.Title, h.PublishedAt.Format("2006-01-02"))
				}
			}
			sb.WriteString("\n")
		}
	}

	if r.Document != nil {
		fmt.Fprintf(&sb, "**Attached document:** %s (%d pages", r.Document.Name, r.Document.Pages)
		if r.Document.SkippedPages > 0 {
			fmt.Fprintf(&sb, ", %d unreadable", r.Document.SkippedPages)
		}
		if r.Document.Truncated {
			sb.WriteString(", truncated")
		}
		sb.WriteString(")\n\n")
	}

	sb.WriteString("---\n\n")
	sb.WriteString("_This commentary is machine generated and is not investment advice._\n")

	return sb.String()
}
