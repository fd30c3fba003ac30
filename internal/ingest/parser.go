// Package ingest turns the observer's quote log into an in-memory market
// series. Every line yields a Record that is either parsed or skipped with a
// reason; nothing is dropped silently.
package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"qtrader/internal/market"

	"github.com/tidwall/gjson"
)

// Reason classifies a skipped line.
type Reason string

const (
	ReasonNoPayload Reason = "no_payload"
	ReasonBadJSON   Reason = "bad_json"
	ReasonSchema    Reason = "schema"
	ReasonFilter    Reason = "filtered"
)

// LogTimeLayout is the asctime prefix written before each payload.
const LogTimeLayout = "2006-01-02 15:04:05,000"

// Record is the per-line outcome: Skipped is false for a parsed quote.
type Record struct {
	Line    int
	Quote   market.Quote
	Skipped bool
	Reason  Reason
	Detail  string
}

func parsed(line int, q market.Quote) Record { return Record{Line: line, Quote: q} }

func skipped(line int, reason Reason, detail string) Record {
	return Record{Line: line, Skipped: true, Reason: reason, Detail: detail}
}

// ParseLine parses "<time> - <LEVEL> - <json>". The payload is whatever
// follows the last " - " separator.
func ParseLine(lineNo int, line string) Record {
	if !strings.Contains(line, "{") {
		return skipped(lineNo, ReasonNoPayload, "")
	}
	payload := line
	var stamp time.Time
	if idx := strings.LastIndex(line, " - "); idx >= 0 {
		payload = line[idx+3:]
		head := line[:idx]
		if first := strings.Index(head, " - "); first >= 0 {
			head = head[:first]
		}
		if ts, err := time.ParseInLocation(LogTimeLayout, strings.TrimSpace(head), time.UTC); err == nil {
			stamp = ts
		}
	}
	payload = strings.TrimSpace(payload)
	if !gjson.Valid(payload) {
		return skipped(lineNo, ReasonBadJSON, truncate(payload, 80))
	}
	doc := gjson.Parse(payload)
	if !doc.IsObject() {
		return skipped(lineNo, ReasonBadJSON, "payload is not an object")
	}
	schema, err := compiledQuoteSchema()
	if err != nil {
		return skipped(lineNo, ReasonSchema, err.Error())
	}
	if err := schema.Validate(doc.Value()); err != nil {
		return skipped(lineNo, ReasonSchema, firstLine(err.Error()))
	}

	bar := market.Bar{}
	fields := []struct {
		key string
		dst *float64
	}{
		{"price", &bar.Price},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"volume", &bar.Volume},
	}
	for _, f := range fields {
		v, err := amount(doc.Get(f.key))
		if err != nil {
			return skipped(lineNo, ReasonSchema, fmt.Sprintf("%s: %v", f.key, err))
		}
		*f.dst = v
	}
	symbol := market.NormalizeAsset(doc.Get("symbol").String())
	if symbol == "" {
		return skipped(lineNo, ReasonSchema, "symbol: blank")
	}
	return parsed(lineNo, market.Quote{
		Symbol: symbol,
		Bar:    bar,
		Time:   stamp,
	})
}

func amount(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), nil
	case gjson.String:
		return strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
	default:
		return 0, fmt.Errorf("unexpected %s", r.Type)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
