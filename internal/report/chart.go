// Package report renders the evaluation trace of a run: an HTML line chart
// with a moving-average overlay, an optional PNG snapshot and a YAML summary.
package report

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorValue         = "#34d399"
	colorSMA           = "#fbbf24"

	chartWidthPx  = 1200
	chartHeightPx = 520
)

// Chart controls the trace chart. SMAPeriod < 2 disables the overlay.
type Chart struct {
	Title     string
	Subtitle  string
	SMAPeriod int
}

// RenderChart draws total value against evaluation step as a standalone
// HTML page.
func RenderChart(trace []float64, c Chart) ([]byte, error) {
	if len(trace) == 0 {
		return nil, fmt.Errorf("empty trace")
	}
	title := c.Title
	if title == "" {
		title = "Total Portfolio Value During Evaluation"
	}
	minVal, maxVal := bounds(trace)
	padding := (maxVal - minVal) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxVal)*0.01)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      c.Subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Name:      "Steps",
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:      "Total Value",
			Scale:     opts.Bool(true),
			Min:       round(minVal-padding, 4),
			Max:       round(maxVal+padding, 4),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.SetXAxis(stepAxis(len(trace)))
	line.AddSeries("Total Value", toLineData(trace, 0), charts.WithLineStyleOpts(opts.LineStyle{Color: colorValue, Width: 2}))
	if sma, ok := movingAverage(trace, c.SMAPeriod); ok {
		line.AddSeries(fmt.Sprintf("SMA(%d)", c.SMAPeriod), toLineData(sma, c.SMAPeriod-1), charts.WithLineStyleOpts(opts.LineStyle{Color: colorSMA, Width: 1}))
	}

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(line)
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// movingAverage returns the simple moving average of trace; the first
// period-1 entries are warm-up and not meaningful.
func movingAverage(trace []float64, period int) ([]float64, bool) {
	if period < 2 || len(trace) < period {
		return nil, false
	}
	return talib.Sma(trace, period), true
}

func stepAxis(n int) []string {
	x := make([]string, n)
	for i := range x {
		x[i] = strconv.Itoa(i)
	}
	return x
}

// toLineData blanks the first skip points.
func toLineData(series []float64, skip int) []opts.LineData {
	data := make([]opts.LineData, len(series))
	for i, v := range series {
		if i < skip || math.IsNaN(v) {
			data[i] = opts.LineData{Value: nil}
			continue
		}
		data[i] = opts.LineData{Value: round(v, 4)}
	}
	return data
}

func bounds(series []float64) (minVal, maxVal float64) {
	minVal, maxVal = series[0], series[0]
	for _, v := range series {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	return minVal, maxVal
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
