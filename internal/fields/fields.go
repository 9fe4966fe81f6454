// Package fields defines the fixed reservation field schema and the FieldMap
// produced by extraction and consumed by the rule matrix and fill planner.
package fields

import (
	"sort"
	"time"

	"github.com/adverant/nexus/pnrfill-worker/internal/capture"
)

// Name identifies one destination form field.
type Name string

const (
	PNR           Name = "pnr"
	City          Name = "city"
	Country       Name = "country"
	Department    Name = "department"
	Reason        Name = "reason"
	Authorizer    Name = "authorizer"
	SegmentNumber Name = "segment_number"
	Carrier       Name = "carrier"
	FlightNumber  Name = "flight_number"
	Class         Name = "class"
	FlightDate    Name = "flight_date"
	Segment       Name = "segment"
	Passenger     Name = "passenger"
	Endorsement   Name = "endorsement"
)

// Schema lists the 14 form fields in declaration order.
var Schema = []Name{
	PNR, City, Country, Department, Reason, Authorizer, SegmentNumber,
	Carrier, FlightNumber, Class, FlightDate, Segment, Passenger, Endorsement,
}

// Fact identifies a screen value the rule matrix reads that is not itself
// written to the form.
type Fact string

const (
	Status       Fact = "status"
	AuthCode     Fact = "auth_code"
	TicketNumber Fact = "ticket_number"
)

// Facts lists every known fact.
var Facts = []Fact{Status, AuthCode, TicketNumber}

// Position returns the declaration index of n, or -1.
func Position(n Name) int {
	for i, s := range Schema {
		if s == n {
			return i
		}
	}
	return -1
}

// IsKnown reports whether n belongs to the schema.
func IsKnown(n Name) bool { return Position(n) >= 0 }

// IsKnownFact reports whether f is a known fact.
func IsKnownFact(f Fact) bool {
	for _, k := range Facts {
		if k == f {
			return true
		}
	}
	return false
}

// Value is one extracted field. NormalizedValue is nil when nothing on the
// screen matched.
type Value struct {
	Name            string              `json:"name"`
	RawText         string              `json:"rawText"`
	NormalizedValue *string             `json:"normalizedValue"`
	Confidence      float64             `json:"confidence"`
	SourceBox       capture.BoundingBox `json:"sourceBox"`
}

// MinUsableConfidence is the lowest confidence at which an extracted value
// is used as screen data. Below it the field counts as not read.
const MinUsableConfidence = 0.3

// MissingValue builds the explicit placeholder for an unmatched field.
func MissingValue(name string) Value {
	return Value{Name: name}
}

// Missing reports whether the field had no matching span.
func (v Value) Missing() bool {
	return v.NormalizedValue == nil
}

// Usable reports whether the value was matched with at least
// MinUsableConfidence.
func (v Value) Usable() bool {
	return !v.Missing() && v.Confidence >= MinUsableConfidence
}

// String returns the normalized value or "".
func (v Value) String() string {
	if v.NormalizedValue == nil {
		return ""
	}
	return *v.NormalizedValue
}

// UpgradeKind classifies an upgrade already present on the reservation.
type UpgradeKind string

const (
	UpgradeNone          UpgradeKind = "NONE"
	UpgradeComplimentary UpgradeKind = "COMPLIMENTARY"
	UpgradeAuction       UpgradeKind = "AUCTION"
)

// ItinerarySegment is one flight row of the itinerary.
type ItinerarySegment struct {
	Number       int    `json:"number"`
	Carrier      string `json:"carrier"`
	FlightNumber string `json:"flightNumber"`
	Class        string `json:"class"`
	Origin       string `json:"origin"`
	Destination  string `json:"destination"`
	Date         string `json:"date"`
	Status       string `json:"status"`
}

// Indicators are reservation-level flags read from remarks and SSR lines.
type Indicators struct {
	InfantPresent   bool        `json:"infantPresent"`
	LoyaltyNumber   string      `json:"loyaltyNumber,omitempty"`
	Upgrade         UpgradeKind `json:"upgrade"`
	CorrectionCount int         `json:"correctionCount"`
}

// Map is the read-only result of extracting one capture.
type Map struct {
	CaptureID  string             `json:"captureId"`
	CapturedAt time.Time          `json:"capturedAt"`
	Fields     map[Name]Value     `json:"fields"`
	Facts      map[Fact]Value     `json:"facts"`
	Itinerary  []ItinerarySegment `json:"itinerary"`
	Indicators Indicators         `json:"indicators"`
}

// NewMap returns a map where every schema field and fact is present and
// flagged missing.
func NewMap(captureID string, capturedAt time.Time) *Map {
	m := &Map{
		CaptureID:  captureID,
		CapturedAt: capturedAt,
		Fields:     make(map[Name]Value, len(Schema)),
		Facts:      make(map[Fact]Value, len(Facts)),
		Indicators: Indicators{Upgrade: UpgradeNone},
	}
	for _, n := range Schema {
		m.Fields[n] = MissingValue(string(n))
	}
	for _, f := range Facts {
		m.Facts[f] = MissingValue(string(f))
	}
	return m
}

// Get returns the value for n; unknown names come back missing.
func (m *Map) Get(n Name) Value {
	if v, ok := m.Fields[n]; ok {
		return v
	}
	return MissingValue(string(n))
}

// Value returns the normalized string of n or "".
func (m *Map) Value(n Name) string {
	return m.Get(n).String()
}

// Fact returns the normalized string of f or "".
func (m *Map) Fact(f Fact) string {
	if v, ok := m.Facts[f]; ok {
		return v.String()
	}
	return ""
}

// Set stores a matched value for n.
func (m *Map) Set(n Name, v Value) {
	v.Name = string(n)
	m.Fields[n] = v
}

// SetFact stores a matched value for f.
func (m *Map) SetFact(f Fact, v Value) {
	v.Name = string(f)
	m.Facts[f] = v
}

// MissingFields returns the schema fields with no match, in schema order.
func (m *Map) MissingFields() []Name {
	var out []Name
	for _, n := range Schema {
		if m.Get(n).Missing() {
			out = append(out, n)
		}
	}
	return out
}

// LowConfidence returns matched fields whose confidence is below threshold,
// sorted by name.
func (m *Map) LowConfidence(threshold float64) []Name {
	var out []Name
	for n, v := range m.Fields {
		if !v.Missing() && v.Confidence < threshold {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Carriers returns the carrier code of every itinerary segment, or the
// carrier field when no rows were read.
func (m *Map) Carriers() []string {
	if len(m.Itinerary) == 0 {
		if c := m.Value(Carrier); c != "" {
			return []string{c}
		}
		return nil
	}
	out := make([]string, 0, len(m.Itinerary))
	for _, s := range m.Itinerary {
		out = append(out, s.Carrier)
	}
	return out
}
