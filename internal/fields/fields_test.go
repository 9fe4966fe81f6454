package fields

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string { return &s }

func TestNewMap_EveryFieldPresentAndMissing(t *testing.T) {
	m := NewMap("cap-1", time.Now())

	require.Len(t, m.Fields, len(Schema))
	require.Len(t, m.Facts, len(Facts))
	assert.Equal(t, Schema, m.MissingFields())
	assert.Equal(t, UpgradeNone, m.Indicators.Upgrade)
	for _, n := range Schema {
		v := m.Get(n)
		assert.True(t, v.Missing(), n)
		assert.Equal(t, string(n), v.Name)
	}
}

func TestMap_SetAndGet(t *testing.T) {
	m := NewMap("cap-1", time.Now())
	m.Set(PNR, Value{RawText: "AB12CD", NormalizedValue: str("AB12CD"), Confidence: 0.9})
	m.SetFact(Status, Value{NormalizedValue: str("HK")})

	assert.Equal(t, "AB12CD", m.Value(PNR))
	assert.Equal(t, "pnr", m.Get(PNR).Name)
	assert.Equal(t, "HK", m.Fact(Status))
	assert.Equal(t, "", m.Fact(AuthCode))
	assert.NotContains(t, m.MissingFields(), PNR)
	assert.True(t, m.Get(Name("unknown")).Missing())
}

func TestMap_LowConfidenceSkipsMissing(t *testing.T) {
	m := NewMap("cap-1", time.Now())
	m.Set(PNR, Value{NormalizedValue: str("AB12CD"), Confidence: 0.5})
	m.Set(City, Value{NormalizedValue: str("SCL"), Confidence: 0.95})
	m.Set(Class, Value{NormalizedValue: str("Y"), Confidence: 0.4})

	assert.Equal(t, []Name{Class, PNR}, m.LowConfidence(0.7))
}

func TestMap_Carriers(t *testing.T) {
	m := NewMap("cap-1", time.Now())
	assert.Nil(t, m.Carriers())

	m.Set(Carrier, Value{NormalizedValue: str("LA")})
	assert.Equal(t, []string{"LA"}, m.Carriers())

	m.Itinerary = []ItinerarySegment{{Carrier: "LA"}, {Carrier: "JJ"}}
	assert.Equal(t, []string{"LA", "JJ"}, m.Carriers())
}

func TestPosition(t *testing.T) {
	assert.Equal(t, 0, Position(PNR))
	assert.Equal(t, len(Schema)-1, Position(Endorsement))
	assert.Equal(t, -1, Position("nope"))
	assert.True(t, IsKnown(Passenger))
	assert.True(t, IsKnownFact(TicketNumber))
	assert.False(t, IsKnownFact("nope"))
}
