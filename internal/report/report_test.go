package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderChartEmpty(t *testing.T) {
	_, err := RenderChart(nil, Chart{})
	assert.Error(t, err)
}

func TestRenderChartContainsSeries(t *testing.T) {
	trace := []float64{1000, 1002, 1001, 1005, 1010}
	html, err := RenderChart(trace, Chart{Title: "eval", SMAPeriod: 3})
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "Total Value")
	assert.Contains(t, page, "SMA(3)")
	assert.Contains(t, page, "eval")

	html, err = RenderChart(trace, Chart{SMAPeriod: 10})
	require.NoError(t, err)
	assert.NotContains(t, string(html), "SMA(10)")
}

func TestMovingAverage(t *testing.T) {
	sma, ok := movingAverage([]float64{1, 2, 3, 4}, 2)
	require.True(t, ok)
	require.Len(t, sma, 4)
	assert.InDelta(t, 1.5, sma[1], 1e-9)
	assert.InDelta(t, 3.5, sma[3], 1e-9)

	_, ok = movingAverage([]float64{1, 2}, 1)
	assert.False(t, ok)
	_, ok = movingAverage([]float64{1, 2}, 3)
	assert.False(t, ok)
}

func TestToLineDataSkipsWarmup(t *testing.T) {
	data := toLineData([]float64{0, 0, 2.123456}, 2)
	assert.Nil(t, data[0].Value)
	assert.Nil(t, data[1].Value)
	assert.Equal(t, 2.1235, data[2].Value)
}

func TestWriteRunRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run-1")
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := Summary{
		RunID:        "abc",
		Seq:          1,
		Source:       "log",
		Assets:       []string{"BTCUSDT", "ETHUSDT"},
		Episodes:     10,
		Steps:        4,
		InitialValue: "1000",
		FinalValue:   "1010",
		FinalBalance: "10",
		Holdings:     map[string]string{"BTCUSDT": "1", "ETHUSDT": "0"},
		Return:       0.01,
		StartedAt:    started,
		FinishedAt:   started.Add(time.Minute),
	}
	files, err := WriteRun(context.Background(), dir, s, []float64{1000, 1004, 1010}, WriteOptions{SMAPeriod: 2})
	require.NoError(t, err)
	assert.Empty(t, files.PNG)

	got, err := ReadSummary(files.Summary)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	html, err := os.ReadFile(files.Chart)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(html), "run abc"))
}

func TestWriteRunWithoutTrace(t *testing.T) {
	dir := t.TempDir()
	files, err := WriteRun(context.Background(), dir, Summary{RunID: "x"}, nil, WriteOptions{})
	require.NoError(t, err)
	assert.Empty(t, files.Chart)
	_, err = os.Stat(filepath.Join(dir, SummaryFile))
	assert.NoError(t, err)
}
