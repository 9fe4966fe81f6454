// Package capturetest renders terminal text into captures for tests.
package capturetest

import (
	"sort"
	"time"

	"github.com/adverant/nexus/pnrfill-worker/internal/capture"
)

// Monospace cell size and screen dimensions of rendered captures.
const (
	CharWidth  = 10
	RowHeight  = 20
	ScreenCols = 80
	ScreenRows = 24
)

// CapturedAt is the timestamp stamped on rendered captures.
var CapturedAt = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// Screen renders rows (keyed by terminal row) as one span per word, with
// every span at the given confidence.
func Screen(id string, rows map[int]string, confidence float64) *capture.RawCapture {
	c := &capture.RawCapture{
		ID:         id,
		CapturedAt: CapturedAt,
		Source:     "test",
		Width:      ScreenCols * CharWidth,
		Height:     ScreenRows * RowHeight,
	}

	keys := make([]int, 0, len(rows))
	for r := range rows {
		keys = append(keys, r)
	}
	sort.Ints(keys)

	for _, r := range keys {
		c.Spans = append(c.Spans, Words(rows[r], r, confidence)...)
	}
	return c
}

// Words splits text on spaces into spans placed at their terminal column.
func Words(text string, row int, confidence float64) []capture.Span {
	var spans []capture.Span
	runes := []rune(text)
	for col := 0; col < len(runes); {
		if runes[col] == ' ' {
			col++
			continue
		}
		start := col
		for col < len(runes) && runes[col] != ' ' {
			col++
		}
		spans = append(spans, capture.Span{
			Text:       string(runes[start:col]),
			Confidence: confidence,
			Box: capture.BoundingBox{
				X:      start * CharWidth,
				Y:      row * RowHeight,
				Width:  (col - start) * CharWidth,
				Height: RowHeight,
			},
		})
	}
	return spans
}

// Reservation returns the rows of a complete reservation screen. Extra rows
// are merged over the defaults, and an empty string removes a row.
func Reservation(extra map[int]string) map[int]string {
	rows := map[int]string{
		0:  "RESERVA - AB12CD",
		2:  "NOMES",
		3:  " 1.1 SILVA/ALBERTO MR",
		5:  "SEG  VOO (CIA)  VOO (NUMERO)  CLS  DE-PARA  DATA  STP NBR",
		6:  " 1   LA   3450   Y   GRU-SCL  13MAR  HK1",
		11: "TKT 957-2100000001",
		12: "AUTH CODE: PIC_S23",
		13: "CIDADE PRIORIDADE: SCL",
	}
	for r, text := range extra {
		if text == "" {
			delete(rows, r)
			continue
		}
		rows[r] = text
	}
	return rows
}
