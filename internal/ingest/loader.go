package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"qtrader/internal/market"
)

// Report aggregates per-line outcomes of one load.
type Report struct {
	Lines    int
	Parsed   int
	Skipped  int
	ByReason map[Reason]int

	// Samples keeps the first skipped record per reason.
	Samples map[Reason]Record
}

func newReport() Report {
	return Report{ByReason: make(map[Reason]int), Samples: make(map[Reason]Record)}
}

func (r *Report) add(rec Record) {
	r.Lines++
	if !rec.Skipped {
		r.Parsed++
		return
	}
	r.Skipped++
	r.ByReason[rec.Reason]++
	if _, ok := r.Samples[rec.Reason]; !ok {
		r.Samples[rec.Reason] = rec
	}
}

// String renders "lines=10 parsed=8 skipped=2 [bad_json=1 no_payload=1]".
func (r Report) String() string {
	reasons := make([]string, 0, len(r.ByReason))
	for reason, n := range r.ByReason {
		reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
	}
	sort.Strings(reasons)
	return fmt.Sprintf("lines=%d parsed=%d skipped=%d [%s]", r.Lines, r.Parsed, r.Skipped, strings.Join(reasons, " "))
}

// Options narrows what Parse keeps.
type Options struct {
	// Symbols, when non-empty, keeps only these assets; other lines are
	// skipped as filtered.
	Symbols []market.AssetID
}

// Parse reads quote lines from r.
func Parse(ctx context.Context, r io.Reader, opts Options) ([]market.Quote, Report, error) {
	allow := make(map[market.AssetID]bool, len(opts.Symbols))
	for _, s := range opts.Symbols {
		allow[s] = true
	}
	report := newReport()
	var quotes []market.Quote
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if lineNo%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, report, err
			}
		}
		rec := ParseLine(lineNo, sc.Text())
		if !rec.Skipped && len(allow) > 0 && !allow[rec.Quote.Symbol] {
			rec = skipped(lineNo, ReasonFilter, string(rec.Quote.Symbol))
		}
		report.add(rec)
		if !rec.Skipped {
			quotes = append(quotes, rec.Quote)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, report, fmt.Errorf("read quote log: %w", err)
	}
	return quotes, report, nil
}

// ParseFile opens path and parses it. A missing file is an error.
func ParseFile(ctx context.Context, path string, opts Options) ([]market.Quote, Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newReport(), fmt.Errorf("open quote log: %w", err)
	}
	defer f.Close()
	return Parse(ctx, f, opts)
}

// BuildSeries groups quotes per asset in chronological (input) order. The
// enumeration follows order when given, otherwise first appearance.
func BuildSeries(quotes []market.Quote, order []market.AssetID) (*market.Series, error) {
	bars := make(map[market.AssetID][]market.Bar)
	var seen []market.AssetID
	for _, q := range quotes {
		if _, ok := bars[q.Symbol]; !ok {
			seen = append(seen, q.Symbol)
		}
		bars[q.Symbol] = append(bars[q.Symbol], q.Bar)
	}
	assets := seen
	if len(order) > 0 {
		assets = assets[:0:0]
		for _, id := range order {
			if len(bars[id]) > 0 {
				assets = append(assets, id)
			}
		}
	}
	return market.NewSeries(assets, bars)
}
