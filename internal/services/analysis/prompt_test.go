package analysis

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/yosoku/internal/models"
	"github.com/bobmcallan/yosoku/internal/signals"
)

func sampleSeries(n int) *models.PriceSeries {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	series := &models.PriceSeries{Symbol: "4588.T", Currency: "JPY"}
	for i := 0; i < n; i++ {
		c := 1000 + float64(i)*5
		series.Bars = append(series.Bars, models.PriceBar{
			Date:   start.AddDate(0, 0, i),
			Open:   c - 2,
			High:   c + 3,
			Low:    c - 4,
			Close:  c,
			Volume: int64(10000 + i),
		})
	}
	return series
}

// section returns the text between a heading and the next heading
func section(t *testing.T, prompt, heading string) string {
	t.Helper()
	idx := strings.Index(prompt, heading+"\n")
	require.GreaterOrEqual(t, idx, 0, "missing heading %q", heading)
	rest := prompt[idx+len(heading)+1:]
	if next := strings.Index(rest, "\n## "); next >= 0 {
		rest = rest[:next]
	}
	return strings.TrimSpace(rest)
}

func TestBuildPrompt_TemplateCompleteUnderMissingData(t *testing.T) {
	series := sampleSeries(30)
	headlines := []models.SourceResult{{
		Source:    "yahoo",
		Headlines: []models.Headline{{Source: "yahoo", Title: "Trial results announced"}},
	}}
	doc := &models.DocumentText{Name: "report.pdf", Text: "Revenue grew 12%."}

	for _, reportType := range []models.ReportType{models.ReportOutlook, models.ReportDetailed} {
		for mask := 0; mask < 8; mask++ {
			in := PromptInput{
				Symbol:     "4588.T",
				Period:     models.Period3Months,
				ReportType: reportType,
				Series:     series,
				Indicators: signals.Compute(series, []int{5, 25, 75}, 14),
			}
			if mask&1 != 0 {
				in.Sources = headlines
			}
			if mask&2 != 0 {
				in.Document = doc
			}
			if mask&4 != 0 {
				in.Notes = "Watch the upcoming earnings call."
			}

			t.Run(fmt.Sprintf("%s/%03b", reportType, mask), func(t *testing.T) {
				prompt := BuildPrompt(in)
				for i, item := range InstructionItems(reportType) {
					assert.Contains(t, prompt, fmt.Sprintf("%d. %s", i+1, item))
				}

				order := []string{"## Target", "## Recent Prices", "## Technical Indicators", "## Headlines", "## Attached Document", "## Analyst Notes", "## Instructions"}
				last := -1
				for _, heading := range order {
					idx := strings.Index(prompt, heading)
					require.Greater(t, idx, last, "%s out of order", heading)
					last = idx
				}
			})
		}
	}
}

func TestBuildPrompt_EmptyInputsUsePlaceholders(t *testing.T) {
	prompt := BuildPrompt(PromptInput{Symbol: "7203.T", ReportType: models.ReportOutlook})

	assert.Contains(t, prompt, "Symbol: 7203.T")
	assert.Equal(t, Placeholder, section(t, prompt, "## Recent Prices (last 7 sessions)"))
	assert.Equal(t, Placeholder, section(t, prompt, "## Technical Indicators"))
	assert.Equal(t, Placeholder, section(t, prompt, "## Headlines"))
	assert.Equal(t, Placeholder, section(t, prompt, "## Attached Document"))
	assert.Equal(t, Placeholder, section(t, prompt, "## Analyst Notes"))
}

func TestBuildPrompt_EachSourceGetsOwnSection(t *testing.T) {
	prompt := BuildPrompt(PromptInput{
		Symbol:     "7203.T",
		ReportType: models.ReportDetailed,
		Sources: []models.SourceResult{
			{Source: "yahoo", Headlines: []models.Headline{{Title: "Toyota lifts guidance", PublishedAt: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)}}},
			{Source: "google-news"},
			{Source: "nikkei", Err: errors.New("timeout")},
		},
	})

	assert.Equal(t, "- Toyota lifts guidance (2024-03-11)", section(t, prompt, "## Headlines: yahoo"))
	assert.Equal(t, Placeholder, section(t, prompt, "## Headlines: google-news"))
	assert.True(t, strings.HasPrefix(section(t, prompt, "## Headlines: nikkei"), Placeholder))
}

func TestBuildPrompt_PriceTableShowsMostRecentRows(t *testing.T) {
	series := sampleSeries(20)
	prompt := BuildPrompt(PromptInput{Symbol: "4588.T", Series: series, TableRows: 3})

	table := section(t, prompt, "## Recent Prices (last 3 sessions)")
	lines := strings.Split(table, "\n")
	require.Len(t, lines, 4, "header plus three rows")
	assert.True(t, strings.HasPrefix(lines[1], "2024-03-18"))
	assert.True(t, strings.HasPrefix(lines[3], "2024-03-20"))
	assert.Contains(t, lines[3], "1095.00")
	assert.Equal(t, len(lines[1]), len(lines[3]), "fixed-width rows")
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	series := sampleSeries(10)
	in := PromptInput{
		Symbol:     "4588.T",
		Period:     models.Period1Month,
		ReportType: models.ReportOutlook,
		Series:     series,
		Indicators: signals.Compute(series, []int{5, 25}, 14),
		Notes:      "note",
	}
	assert.Equal(t, BuildPrompt(in), BuildPrompt(in))
	assert.Contains(t, BuildPrompt(in), "MA25: n/a")
}

func TestInstructionItems(t *testing.T) {
	outlook := InstructionItems(models.ReportOutlook)
	detailed := InstructionItems(models.ReportDetailed)

	for _, items := range [][]string{outlook, detailed} {
		joined := strings.Join(items, "\n")
		assert.Contains(t, joined, "Trend assessment")
		assert.Contains(t, joined, "Bullish or bearish call")
		assert.Contains(t, joined, "Risk flags")
	}
	assert.Greater(t, len(detailed), len(outlook))
	assert.Equal(t, outlook, InstructionItems("unknown"))
}
