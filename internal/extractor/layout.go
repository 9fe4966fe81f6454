package extractor

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/adverant/nexus/pnrfill-worker/internal/capture"
	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
)

// cell is a run of words on one line separated by at most a single
// character of spacing. Terminal columns are padded with two or more spaces,
// so a cell corresponds to one column value.
type cell struct {
	text       string
	box        capture.BoundingBox
	confidence float64
	col, row   int
	order      int
}

// line is every span sharing a text row, in left-to-right order.
type line struct {
	spans []capture.Span
	box   capture.BoundingBox
	text  string
	row   int
	cells []cell
}

// screenGrid converts pixel coordinates to terminal cells.
type screenGrid struct {
	cellW, cellH float64
}

func newScreenGrid(c *capture.RawCapture, g ruledata.Grid) screenGrid {
	w, h := c.Dimensions()
	return screenGrid{
		cellW: math.Max(float64(w)/float64(g.Cols), 1),
		cellH: math.Max(float64(h)/float64(g.Rows), 1),
	}
}

func (g screenGrid) position(b capture.BoundingBox) (int, int) {
	cx, cy := b.Center()
	return int(cx / g.cellW), int(cy / g.cellH)
}

// groupLines clusters spans into lines by vertical center, then splits each
// line into cells on column-sized gaps.
func groupLines(spans []capture.Span, grid screenGrid, cellGap float64) []line {
	sorted := make([]capture.Span, 0, len(spans))
	for _, s := range spans {
		if strings.TrimSpace(s.Text) != "" {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		_, yi := sorted[i].Box.Center()
		_, yj := sorted[j].Box.Center()
		if yi != yj {
			return yi < yj
		}
		return sorted[i].Box.X < sorted[j].Box.X
	})

	var lines []line
	for _, s := range sorted {
		_, cy := s.Box.Center()
		if n := len(lines); n > 0 {
			cur := &lines[n-1]
			if cy >= float64(cur.box.Y) && cy < float64(cur.box.Bottom()) {
				cur.spans = append(cur.spans, s)
				cur.box = cur.box.Union(s.Box)
				continue
			}
		}
		lines = append(lines, line{spans: []capture.Span{s}, box: s.Box})
	}

	order := 0
	for i := range lines {
		l := &lines[i]
		sort.SliceStable(l.spans, func(a, b int) bool { return l.spans[a].Box.X < l.spans[b].Box.X })

		words := make([]string, len(l.spans))
		for k, s := range l.spans {
			words[k] = strings.TrimSpace(s.Text)
		}
		l.text = strings.Join(words, " ")
		_, l.row = grid.position(l.box)
		l.cells = splitCells(l.spans, grid, cellGap, &order)
	}
	return lines
}

func splitCells(spans []capture.Span, grid screenGrid, cellGap float64, order *int) []cell {
	limit := cellGap * averageCharWidth(spans)

	var (
		cells []cell
		words []string
		cur   cell
	)
	flush := func() {
		if len(words) == 0 {
			return
		}
		cur.text = strings.Join(words, " ")
		cur.col, cur.row = grid.position(cur.box)
		cur.order = *order
		*order++
		cells = append(cells, cur)
		words = nil
		cur = cell{}
	}

	prevRight := 0
	for i, s := range spans {
		if i > 0 && float64(s.Box.X-prevRight) > limit {
			flush()
		}
		if len(words) == 0 {
			cur.confidence = s.Confidence
		} else {
			cur.confidence = math.Min(cur.confidence, s.Confidence)
		}
		words = append(words, strings.TrimSpace(s.Text))
		cur.box = cur.box.Union(s.Box)
		prevRight = s.Box.Right()
	}
	flush()
	return cells
}

func averageCharWidth(spans []capture.Span) float64 {
	width, chars := 0, 0
	for _, s := range spans {
		width += s.Box.Width
		chars += utf8.RuneCountInString(strings.TrimSpace(s.Text))
	}
	if chars == 0 {
		return 1
	}
	return float64(width) / float64(chars)
}
