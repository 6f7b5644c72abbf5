package monitor

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// trendChartKeyFormat is the blob key trend PNGs are written under, one per run
// timestamp so history accumulates rather than overwriting.
const trendChartKeyFormat = "monitoring/charts/health-%s.png"

// renderTrendChart renders a PNG line chart of overall health score history
// and writes it to blob storage, when both a blob store is configured and
// enough history exists.
func (m *Monitor) renderTrendChart(ctx context.Context, history []HealthReport) error {
	if m.blob == nil || len(history) < 2 {
		return nil
	}

	xValues := make([]time.Time, len(history))
	yValues := make([]float64, len(history))
	for i, r := range history {
		xValues[i] = r.At
		yValues[i] = r.Overall
	}

	series := chart.TimeSeries{
		Name: "Overall Health",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("16a34a"),
			StrokeWidth: 2.5,
		},
		XValues: xValues,
		YValues: yValues,
	}

	graph := chart.Chart{
		Title:  "Job Subsystem Health",
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("15:04:05")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: 100},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f", f)
				}
				return ""
			},
		},
		Series: []chart.Series{series},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return fmt.Errorf("health trend chart render failed: %w", err)
	}

	key := fmt.Sprintf(trendChartKeyFormat, time.Now().UTC().Format("20060102T150405"))
	return m.blob.Put(ctx, key, buf.Bytes(), "image/png")
}
