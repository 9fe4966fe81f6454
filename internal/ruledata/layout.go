package ruledata

import (
	"fmt"
	"regexp"

	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
)

// ValueKind selects the normalization applied to a matched value.
type ValueKind string

const (
	KindCode         ValueKind = "code"
	KindFlightNumber ValueKind = "flight_number"
	KindDate         ValueKind = "date"
	KindSegment      ValueKind = "segment"
	KindName         ValueKind = "name"
	KindNumber       ValueKind = "number"
	KindText         ValueKind = "text"
)

var knownKinds = map[ValueKind]bool{
	KindCode: true, KindFlightNumber: true, KindDate: true, KindSegment: true,
	KindName: true, KindNumber: true, KindText: true,
}

// Grid is the terminal size the regions are expressed in.
type Grid struct {
	Cols int `yaml:"cols"`
	Rows int `yaml:"rows"`
}

// Region is a rectangle of terminal cells.
type Region struct {
	Col    int `yaml:"col"`
	Row    int `yaml:"row"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Contains reports whether the cell (col,row) lies inside r.
func (r Region) Contains(col, row int) bool {
	return col >= r.Col && col < r.Col+r.Width && row >= r.Row && row < r.Row+r.Height
}

// Signature lists the patterns that identify the reservation screen.
type Signature struct {
	MinMatches int      `yaml:"min_matches"`
	Patterns   []string `yaml:"patterns"`
}

// Target describes where a field or fact sits and what it looks like.
// Exactly one of Field and Fact is set.
type Target struct {
	Field   fields.Name `yaml:"field,omitempty"`
	Fact    fields.Fact `yaml:"fact,omitempty"`
	Kind    ValueKind   `yaml:"kind"`
	Pattern string      `yaml:"pattern"`
	Region  Region      `yaml:"region"`
}

// Key names the target for logs and errors.
func (t Target) Key() string {
	if t.Field != "" {
		return string(t.Field)
	}
	return string(t.Fact)
}

// ItineraryLayout locates the flight rows.
type ItineraryLayout struct {
	Band       Region `yaml:"band"`
	RowPattern string `yaml:"row_pattern"`
}

// IndicatorPatterns are matched against every screen line.
type IndicatorPatterns struct {
	Infant               string `yaml:"infant"`
	Loyalty              string `yaml:"loyalty"`
	UpgradeComplimentary string `yaml:"upgrade_complimentary"`
	UpgradeAuction       string `yaml:"upgrade_auction"`
	CorrectionCount      string `yaml:"correction_count"`
}

// Layout is the parsed screen layout file.
type Layout struct {
	Grid       Grid              `yaml:"grid"`
	CellGap    float64           `yaml:"cell_gap"`
	Signature  Signature         `yaml:"signature"`
	Targets    []Target          `yaml:"targets"`
	Itinerary  ItineraryLayout   `yaml:"itinerary"`
	Indicators IndicatorPatterns `yaml:"indicators"`
}

// itineraryGroups is the capture-group count the row pattern must expose:
// number, carrier, flight, class, origin, destination, date, status.
const itineraryGroups = 8

// Validate checks grid bounds and that every pattern compiles.
func (l *Layout) Validate() error {
	if l.Grid.Cols <= 0 || l.Grid.Rows <= 0 {
		return fmt.Errorf("grid must have positive cols and rows")
	}
	if l.CellGap <= 0 {
		l.CellGap = 1.6
	}
	if len(l.Signature.Patterns) == 0 {
		return fmt.Errorf("signature.patterns must not be empty")
	}
	if l.Signature.MinMatches < 1 {
		l.Signature.MinMatches = 1
	}
	if l.Signature.MinMatches > len(l.Signature.Patterns) {
		return fmt.Errorf("signature.min_matches %d exceeds pattern count %d", l.Signature.MinMatches, len(l.Signature.Patterns))
	}
	for _, p := range l.Signature.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("signature pattern %q: %w", p, err)
		}
	}

	seen := make(map[string]bool, len(l.Targets))
	for _, t := range l.Targets {
		switch {
		case t.Field != "" && t.Fact != "":
			return fmt.Errorf("target %q sets both field and fact", t.Key())
		case t.Field != "" && !fields.IsKnown(t.Field):
			return fmt.Errorf("unknown target field %q", t.Field)
		case t.Fact != "" && !fields.IsKnownFact(t.Fact):
			return fmt.Errorf("unknown target fact %q", t.Fact)
		case t.Field == "" && t.Fact == "":
			return fmt.Errorf("target without field or fact")
		}
		if seen[t.Key()] {
			return fmt.Errorf("target %q declared twice", t.Key())
		}
		seen[t.Key()] = true
		if !knownKinds[t.Kind] {
			return fmt.Errorf("target %q has unknown kind %q", t.Key(), t.Kind)
		}
		if _, err := regexp.Compile(t.Pattern); err != nil {
			return fmt.Errorf("target %q pattern: %w", t.Key(), err)
		}
		if t.Region.Width <= 0 || t.Region.Height <= 0 {
			return fmt.Errorf("target %q region must have positive size", t.Key())
		}
	}

	re, err := regexp.Compile(l.Itinerary.RowPattern)
	if err != nil {
		return fmt.Errorf("itinerary row_pattern: %w", err)
	}
	if re.NumSubexp() != itineraryGroups {
		return fmt.Errorf("itinerary row_pattern must have %d groups, has %d", itineraryGroups, re.NumSubexp())
	}

	ind := l.Indicators
	for name, p := range map[string]string{
		"infant":                ind.Infant,
		"loyalty":               ind.Loyalty,
		"upgrade_complimentary": ind.UpgradeComplimentary,
		"upgrade_auction":       ind.UpgradeAuction,
		"correction_count":      ind.CorrectionCount,
	} {
		if p == "" {
			return fmt.Errorf("indicators.%s must be set", name)
		}
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("indicators.%s: %w", name, err)
		}
	}
	return nil
}
