/**
 * Field Extractor
 *
 * Turns the recognized spans of a reservation screen into the fixed field
 * schema. Each field is located by a text pattern and an expected screen
 * region; values are normalized per field kind and scored by the lowest of
 * OCR confidence and normalization penalty.
 */

package extractor

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/adverant/nexus/pnrfill-worker/internal/capture"
	cerrors "github.com/adverant/nexus/pnrfill-worker/internal/errors"
	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
)

// Confidence ceilings for spans that match only one of pattern and region.
const (
	PatternOnlyCeiling  = 0.5
	RegionOnlyCeiling   = 0.25
	unnormalizedCeiling = 0.2
)

type matchTier int

const (
	tierFull matchTier = iota
	tierPatternOnly
	tierRegionOnly
)

type compiledTarget struct {
	ruledata.Target
	re *regexp.Regexp
}

type candidate struct {
	cell       *cell
	tier       matchTier
	raw        string
	value      string
	confidence float64
}

// Extractor matches capture spans against a screen layout.
type Extractor struct {
	layout    *ruledata.Layout
	signature []*regexp.Regexp
	targets   []compiledTarget
	itinerary *itineraryReader
	logger    *logging.Logger
}

// New compiles layout into an Extractor.
func New(layout *ruledata.Layout) (*Extractor, error) {
	if layout == nil {
		return nil, fmt.Errorf("layout is required")
	}

	e := &Extractor{
		layout: layout,
		logger: logging.NewLogger("Extractor"),
	}

	for _, p := range layout.Signature.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("signature pattern %q: %w", p, err)
		}
		e.signature = append(e.signature, re)
	}

	for _, t := range layout.Targets {
		re, err := regexp.Compile(t.Pattern)
		if err != nil {
			return nil, fmt.Errorf("target %q pattern: %w", t.Key(), err)
		}
		e.targets = append(e.targets, compiledTarget{Target: t, re: re})
	}

	ir, err := newItineraryReader(layout)
	if err != nil {
		return nil, err
	}
	e.itinerary = ir

	return e, nil
}

// Extract builds the FieldMap for c. It fails only for an empty capture or
// a screen that does not carry the reservation signature; fields that do
// not match are returned flagged missing.
func (e *Extractor) Extract(c *capture.RawCapture) (*fields.Map, error) {
	if c == nil || len(c.Spans) == 0 {
		id := ""
		if c != nil {
			id = c.ID
		}
		return nil, cerrors.NewEmptyCaptureError(id)
	}

	grid := newScreenGrid(c, e.layout.Grid)
	lines := groupLines(c.Spans, grid, e.layout.CellGap)
	if len(lines) == 0 {
		return nil, cerrors.NewEmptyCaptureError(c.ID)
	}

	if hits := e.signatureHits(lines); hits < e.layout.Signature.MinMatches {
		return nil, cerrors.NewUnrecognizedScreenError(c.ID, hits, e.layout.Signature.MinMatches)
	}

	fm := fields.NewMap(c.ID, c.CapturedAt)
	e.matchTargets(lines, fm, c)
	fm.Itinerary = e.itinerary.segments(lines, c.CapturedAt)
	fm.Indicators = e.itinerary.indicators(lines)

	e.logger.Debug("Extraction complete",
		"captureId", c.ID,
		"lines", len(lines),
		"missing", len(fm.MissingFields()),
		"segments", len(fm.Itinerary))

	return fm, nil
}

// signatureHits counts distinct signature patterns found in any cell or line.
func (e *Extractor) signatureHits(lines []line) int {
	hits := 0
	for _, re := range e.signature {
		if signatureFound(re, lines) {
			hits++
		}
	}
	return hits
}

func signatureFound(re *regexp.Regexp, lines []line) bool {
	for _, l := range lines {
		if re.MatchString(l.text) {
			return true
		}
		for _, c := range l.cells {
			if re.MatchString(c.text) {
				return true
			}
		}
	}
	return false
}

// matchTargets assigns cells to targets. Full matches are claimed first, in
// layout order; targets left without one may then take an unclaimed
// ambiguous cell at reduced confidence.
func (e *Extractor) matchTargets(lines []line, fm *fields.Map, c *capture.RawCapture) {
	var cells []*cell
	for i := range lines {
		for k := range lines[i].cells {
			cells = append(cells, &lines[i].cells[k])
		}
	}

	claimed := make(map[*cell]bool)
	resolved := make(map[string]bool)
	labels := e.labelCells(cells)

	for _, t := range e.targets {
		var cands []candidate
		for _, cl := range cells {
			if claimed[cl] {
				continue
			}
			if cand, ok := e.evaluate(t, cl, c); ok && cand.tier == tierFull {
				cands = append(cands, cand)
			}
		}
		if best, ok := pick(cands); ok {
			claimed[best.cell] = true
			resolved[t.Key()] = true
			store(fm, t.Target, best)
		}
	}

	for _, t := range e.targets {
		if resolved[t.Key()] {
			continue
		}
		var cands []candidate
		for _, cl := range cells {
			if claimed[cl] {
				continue
			}
			cand, ok := e.evaluate(t, cl, c)
			if !ok || (cand.tier == tierRegionOnly && labels[cl]) {
				continue
			}
			cands = append(cands, cand)
		}
		if best, ok := pick(cands); ok {
			claimed[best.cell] = true
			store(fm, t.Target, best)
			e.logger.Debug("Ambiguous match recorded",
				"target", t.Key(),
				"text", best.raw,
				"confidence", best.confidence)
		}
	}
}

// labelCells returns the cells that are screen headings. A heading can hold
// a value only through a target pattern, never by position alone.
func (e *Extractor) labelCells(cells []*cell) map[*cell]bool {
	labels := make(map[*cell]bool)
	for _, cl := range cells {
		for _, re := range e.signature {
			if re.MatchString(cl.text) {
				labels[cl] = true
				break
			}
		}
	}
	return labels
}

// evaluate scores cell against target t.
func (e *Extractor) evaluate(t compiledTarget, cl *cell, c *capture.RawCapture) (candidate, bool) {
	text := strings.ToUpper(cl.text)
	m := t.re.FindStringSubmatch(text)
	inRegion := t.Region.Contains(cl.col, cl.row)

	var tier matchTier
	switch {
	case m != nil && inRegion:
		tier = tierFull
	case m != nil:
		tier = tierPatternOnly
	case inRegion:
		tier = tierRegionOnly
	default:
		return candidate{}, false
	}

	value := text
	if m != nil {
		value = submatchValue(m)
	}

	confidence := cl.confidence
	n, err := normalize(t.Kind, value, c.CapturedAt)
	if err != nil {
		n = normalized{value: strings.Join(strings.Fields(value), " ")}
		confidence = math.Min(confidence, unnormalizedCeiling)
	} else {
		confidence = math.Min(confidence, n.ceiling())
	}
	switch tier {
	case tierPatternOnly:
		confidence = math.Min(confidence, PatternOnlyCeiling)
	case tierRegionOnly:
		confidence = math.Min(confidence, RegionOnlyCeiling)
	}

	if n.value == "" {
		return candidate{}, false
	}
	return candidate{cell: cl, tier: tier, raw: cl.text, value: n.value, confidence: confidence}, true
}

// submatchValue joins the capture groups of m, or returns the whole match
// when the pattern has none.
func submatchValue(m []string) string {
	if len(m) == 1 {
		return m[0]
	}
	var parts []string
	for _, g := range m[1:] {
		if g != "" {
			parts = append(parts, g)
		}
	}
	return strings.Join(parts, "-")
}

// pick prefers the best tier, then the higher confidence, then reading order.
func pick(cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		return a.cell.order < b.cell.order
	})
	return cands[0], true
}

func store(fm *fields.Map, t ruledata.Target, cand candidate) {
	value := cand.value
	v := fields.Value{
		RawText:         cand.raw,
		NormalizedValue: &value,
		Confidence:      cand.confidence,
		SourceBox:       cand.cell.box,
	}
	if t.Field != "" {
		fm.Set(t.Field, v)
		return
	}
	fm.SetFact(t.Fact, v)
}
