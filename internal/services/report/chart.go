package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/yosoku/internal/interfaces"
	"github.com/bobmcallan/yosoku/internal/models"
	"github.com/bobmcallan/yosoku/internal/signals"
)

var maColors = []string{
	"f59e0b", // amber-500
	"10b981", // emerald-500
	"8b5cf6", // violet-500
	"ef4444", // red-500
}

// ChartRenderer draws price charts as PNG
type ChartRenderer struct {
	Width  int
	Height int
}

// NewChartRenderer creates a renderer with the dashboard's default size
func NewChartRenderer() *ChartRenderer {
	return &ChartRenderer{Width: 900, Height: 400}
}

// RenderPriceChart renders the close series (blue solid) with one line per
// moving-average window. Windows longer than the series are omitted.
func (c *ChartRenderer) RenderPriceChart(series *models.PriceSeries, maWindows []int) ([]byte, error) {
	if series == nil || len(series.Bars) < 2 {
		n := 0
		if series != nil {
			n = len(series.Bars)
		}
		return nil, fmt.Errorf("need at least 2 data points, got %d", n)
	}

	xValues := make([]time.Time, len(series.Bars))
	for i, b := range series.Bars {
		xValues[i] = b.Date
	}
	closes := series.Closes()

	lines := []chart.Series{
		chart.TimeSeries{
			Name: "Close",
			Style: chart.Style{
				StrokeColor: drawing.ColorFromHex("2563eb"), // blue-600
				StrokeWidth: 2.5,
			},
			XValues: xValues,
			YValues: closes,
		},
	}

	for i, w := range maWindows {
		values, ok := signals.SMASeries(closes, w)
		var mx []time.Time
		var my []float64
		for j := range values {
			if ok[j] {
				mx = append(mx, xValues[j])
				my = append(my, values[j])
			}
		}
		if len(mx) < 2 {
			continue
		}
		lines = append(lines, chart.TimeSeries{
			Name: fmt.Sprintf("MA%d", w),
			Style: chart.Style{
				StrokeColor:     drawing.ColorFromHex(maColors[i%len(maColors)]),
				StrokeWidth:     1.5,
				StrokeDashArray: []float64{5.0, 3.0},
			},
			XValues: mx,
			YValues: my,
		})
	}

	dateFormat := "Jan 02"
	if series.Bars[len(series.Bars)-1].Date.Sub(series.Bars[0].Date) > 370*24*time.Hour {
		dateFormat = "Jan 06"
	}

	graph := chart.Chart{
		Title:  string(series.Symbol),
		Width:  c.Width,
		Height: c.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format(dateFormat)
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f", f)
				}
				return ""
			},
		},
		Series: lines,
	}

	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	return buf.Bytes(), nil
}

// Ensure ChartRenderer implements interfaces.ChartRenderer
var _ interfaces.ChartRenderer = (*ChartRenderer)(nil)
