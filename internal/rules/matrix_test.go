package rules

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
)

func newMatrix() *Matrix {
	return NewMatrix(ruledata.DefaultTables().Rules)
}

func ptr(s string) *string { return &s }

// reservation builds the AB12CD upgrade scenario on a home carrier.
func reservation(mutate ...func(*fields.Map)) *fields.Map {
	fm := fields.NewMap("cap-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	set := func(n fields.Name, v string) {
		fm.Set(n, fields.Value{RawText: v, NormalizedValue: ptr(v), Confidence: 0.95})
	}
	set(fields.PNR, "AB12CD")
	set(fields.Carrier, "LA")
	set(fields.Class, "Y")
	set(fields.Segment, "GRU-GIG")
	set(fields.Passenger, "SILVA/ALBERTO MR")
	fm.SetFact(fields.Status, fields.Value{NormalizedValue: ptr("HK"), Confidence: 0.95})
	fm.SetFact(fields.AuthCode, fields.Value{NormalizedValue: ptr("PIC_S23"), Confidence: 0.95})
	fm.Itinerary = []fields.ItinerarySegment{
		{Number: 1, Carrier: "LA", FlightNumber: "3450", Class: "Y", Origin: "GRU", Destination: "GIG", Date: "13/03/2026", Status: "HK"},
	}
	for _, fn := range mutate {
		fn(fm)
	}
	return fm
}

func withCarrier(code string) func(*fields.Map) {
	return func(fm *fields.Map) {
		fm.Set(fields.Carrier, fields.Value{NormalizedValue: ptr(code), Confidence: 0.95})
		fm.Itinerary[0].Carrier = code
	}
}

func withIndicators(ind fields.Indicators) func(*fields.Map) {
	return func(fm *fields.Map) {
		if ind.Upgrade == "" {
			ind.Upgrade = fields.UpgradeNone
		}
		fm.Indicators = ind
	}
}

func TestDecide_UpgradeEligible(t *testing.T) {
	d := newMatrix().Decide(reservation(), nil)

	assert.Equal(t, Allow, d.Outcome)
	assert.Equal(t, ToolPrimary, d.Tool)
	assert.Equal(t, ReasonEligible, d.Reason)
	assert.Equal(t, "ESTOURO DE CLASSE AUT PIC", d.Endorsement())
	assert.Nil(t, d.Correction)
	assert.True(t, d.Allowed())
}

func TestDecide_NonHomeCarrierRoutesBackup(t *testing.T) {
	d := newMatrix().Decide(reservation(withCarrier("DL")), nil)

	assert.Equal(t, Allow, d.Outcome)
	assert.Equal(t, ToolBackup, d.Tool)
	assert.Equal(t, ReasonInterline, d.Reason)
	assert.Equal(t, GuardItinerary, d.Guard)
}

func TestDecide_CarrierFieldUsedWithoutItinerary(t *testing.T) {
	fm := reservation(withCarrier("DL"))
	fm.Itinerary = nil

	d := newMatrix().Decide(fm, nil)
	assert.Equal(t, ToolBackup, d.Tool)
}

func TestDecide_BackupGuards(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fields.Map)
		reason string
	}{
		{"infant", withIndicators(fields.Indicators{InfantPresent: true}), ReasonInfant},
		{"loyalty", withIndicators(fields.Indicators{LoyaltyNumber: "12345678"}), ReasonLoyalty},
		{"multi destination", func(fm *fields.Map) {
			fm.Itinerary = append(fm.Itinerary, fields.ItinerarySegment{Number: 2, Carrier: "LA", Origin: "SDU", Destination: "GRU"})
		}, ReasonMultiDestination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newMatrix().Decide(reservation(tt.mutate), nil)
			assert.Equal(t, Allow, d.Outcome)
			assert.Equal(t, ToolBackup, d.Tool)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestDecide_ConnectedSegmentsAreOneGroup(t *testing.T) {
	fm := reservation(func(fm *fields.Map) {
		fm.Itinerary = append(fm.Itinerary, fields.ItinerarySegment{Number: 2, Carrier: "LA", Origin: "GIG", Destination: "GRU"})
	})

	d := newMatrix().Decide(fm, nil)
	assert.Equal(t, ToolPrimary, d.Tool)
}

func TestDecide_GuardOrder(t *testing.T) {
	m := newMatrix()
	infant := fields.Indicators{InfantPresent: true}

	// 1 before 2
	d := m.Decide(reservation(withCarrier("DL"), withIndicators(infant)), nil)
	assert.Equal(t, ReasonInterline, d.Reason)

	// 2 before 3
	d = m.Decide(reservation(withIndicators(fields.Indicators{InfantPresent: true, LoyaltyNumber: "1234567"})), nil)
	assert.Equal(t, ReasonInfant, d.Reason)

	// 3 before 4
	d = m.Decide(reservation(withIndicators(fields.Indicators{LoyaltyNumber: "1234567"}), func(fm *fields.Map) {
		fm.Itinerary = append(fm.Itinerary, fields.ItinerarySegment{Number: 2, Carrier: "LA", Origin: "SDU", Destination: "GRU"})
	}), nil)
	assert.Equal(t, ReasonLoyalty, d.Reason)

	// routing guards do not stop evaluation, and the backup tool sticks on deny
	d = m.Decide(reservation(withCarrier("DL"), withIndicators(fields.Indicators{Upgrade: fields.UpgradeAuction})), nil)
	assert.Equal(t, Deny, d.Outcome)
	assert.Equal(t, ToolBackup, d.Tool)
	assert.Equal(t, ReasonUpgradePresent, d.Reason)

	// 5 before 6
	d = m.Decide(reservation(withIndicators(fields.Indicators{Upgrade: fields.UpgradeComplimentary, CorrectionCount: 1})), nil)
	assert.Equal(t, ReasonUpgradePresent, d.Reason)
	assert.Equal(t, GuardUpgrade, d.Guard)

	// 6 before 7
	d = m.Decide(reservation(withIndicators(fields.Indicators{CorrectionCount: 1})),
		&CorrectionRequest{NewName: "COSTA/PEDRO"})
	assert.Equal(t, ReasonCorrectionLimit, d.Reason)

	// 7 replaces 8: a correction never checks class or status
	d = m.Decide(reservation(func(fm *fields.Map) {
		fm.Set(fields.Class, fields.Value{NormalizedValue: ptr("J"), Confidence: 1})
	}), &CorrectionRequest{NewName: "SILVA/ALBRETO"})
	assert.Equal(t, Allow, d.Outcome)
	require.NotNil(t, d.Correction)
	assert.Equal(t, 1, d.Correction.ErrorType)

	assert.Equal(t, []Guard{
		GuardItinerary, GuardPassengerType, GuardLoyalty, GuardMultiDestination,
		GuardUpgrade, GuardCorrectionCount, GuardNameCorrection, GuardClassStatus,
	}, GuardOrder)
}

func TestDecide_CorrectionLimitDeniesRegardlessOfName(t *testing.T) {
	m := newMatrix()
	fm := reservation(withIndicators(fields.Indicators{CorrectionCount: 1}))

	for _, req := range []*CorrectionRequest{
		nil,
		{OldName: "GONSALES", NewName: "GONZALEZ"},
		{OldName: "SMITH/EMMA EMMA", NewName: "SMITH/EMMA"},
	} {
		d := m.Decide(fm, req)
		assert.Equal(t, Deny, d.Outcome)
		assert.Equal(t, ReasonCorrectionLimit, d.Reason)
	}
}

func TestDecide_ClassStatusGuard(t *testing.T) {
	m := newMatrix()

	d := m.Decide(reservation(func(fm *fields.Map) {
		fm.Set(fields.Class, fields.Value{NormalizedValue: ptr("J"), Confidence: 1})
	}), nil)
	assert.Equal(t, Deny, d.Outcome)
	assert.Equal(t, `class "J" not eligible for upgrade`, d.Reason)

	d = m.Decide(reservation(func(fm *fields.Map) {
		fm.SetFact(fields.Status, fields.Value{NormalizedValue: ptr("WL"), Confidence: 1})
	}), nil)
	assert.Equal(t, `status "WL" not eligible for upgrade`, d.Reason)

	d = m.Decide(reservation(func(fm *fields.Map) {
		fm.SetFact(fields.AuthCode, fields.Value{NormalizedValue: ptr("PIC_S99"), Confidence: 1})
	}), nil)
	assert.Equal(t, `authorization code "PIC_S99" not accepted`, d.Reason)
	assert.Equal(t, GuardClassStatus, d.Guard)

	d = m.Decide(reservation(func(fm *fields.Map) {
		fm.SetFact(fields.AuthCode, fields.MissingValue("auth_code"))
	}), nil)
	assert.Equal(t, Deny, d.Outcome)
}

func TestDecide_NameCorrectionScenarios(t *testing.T) {
	tests := []struct {
		name      string
		req       CorrectionRequest
		outcome   Outcome
		errorType int
		reason    string
	}{
		{"letter substitution", CorrectionRequest{OldName: "GONSALES", NewName: "GONZALEZ"}, Allow, 1, ""},
		{"swap", CorrectionRequest{OldName: "SILVA/JOAO", NewName: "JOAO/SILVA"}, Allow, 2, ""},
		{"added token", CorrectionRequest{OldName: "SILVA/JOAO", NewName: "SILVA/JOAO PEDRO"}, Allow, 3, ""},
		{"duplicate removed", CorrectionRequest{OldName: "SMITH/EMMA EMMA", NewName: "SMITH/EMMA"}, Allow, 4, ""},
		{"duplicate added", CorrectionRequest{OldName: "SMITH/EMMA", NewName: "SMITH/EMMA EMMA"}, Allow, 4, ""},
		{"affix removed", CorrectionRequest{OldName: "SILVA/JOAO NETO", NewName: "SILVA/JOAO"}, Allow, 5, ""},
		{"affix swapped", CorrectionRequest{OldName: "SILVA/JOAO JR", NewName: "SILVA/JOAO NETO"}, Allow, 5, ""},
		{"legal change", CorrectionRequest{OldName: "SILVA/MARIA", NewName: "PEREIRA/MARIA", LegalChange: true, DocumentsAttached: 2}, Allow, 6, ""},
		{"legal change one document", CorrectionRequest{OldName: "SILVA/MARIA", NewName: "PEREIRA/MARIA", LegalChange: true, DocumentsAttached: 1}, NeedsDocument, 6, "document required for correction type 6"},
		{"shared token", CorrectionRequest{OldName: "SILVA/MARIA", NewName: "PEREIRA/MARIA", DocumentsAttached: 1}, Allow, 7, ""},
		{"shared token no document", CorrectionRequest{OldName: "SILVA/MARIA", NewName: "PEREIRA/MARIA"}, NeedsDocument, 7, "document required for correction type 7"},
		{"unrelated", CorrectionRequest{OldName: "SILVA/MARIA", NewName: "COSTA/PEDRO"}, Deny, 0, ReasonUnverifiedName},
		{"unchanged", CorrectionRequest{OldName: "SILVA/MARIA MRS", NewName: "silva/maria"}, Deny, 0, ReasonNameUnchanged},
	}

	m := newMatrix()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			d := m.Decide(reservation(), &req)
			assert.Equal(t, tt.outcome, d.Outcome)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, d.Reason)
			}
			if tt.errorType == 0 {
				assert.Nil(t, d.Correction)
				return
			}
			require.NotNil(t, d.Correction)
			assert.Equal(t, tt.errorType, d.Correction.ErrorType)
		})
	}
}

func TestDecide_SubstitutionNeedsNoDocument(t *testing.T) {
	d := newMatrix().Decide(reservation(), &CorrectionRequest{OldName: "GONSALES", NewName: "GONZALEZ"})

	require.NotNil(t, d.Correction)
	assert.Equal(t, 1, d.Correction.ErrorType)
	assert.False(t, d.Correction.RequiresDocument)
	assert.False(t, d.Correction.RequiresSecondDocument)
}

func TestDecide_DuplicateTokenNeverAddsTokens(t *testing.T) {
	m := newMatrix()
	names := []string{"SMITH/EMMA", "SOUZA/ANA MARIA", "OLIVEIRA SANTOS/JOSE", "LIMA/PAULO ROBERTO NETO"}

	for _, name := range names {
		from := parseName(name, m.data)
		for i, tok := range from.tokens() {
			to := personName{surname: append([]string(nil), from.surname...), given: append([]string(nil), from.given...)}
			if i < len(from.surname) {
				to.surname = append(to.surname, tok)
			} else {
				to.given = append(to.given, tok)
			}
			got := m.classifier.classify(from, to, false)
			assert.Equal(t, 4, got, "%s + %s", name, tok)
		}
	}
}

func TestDecide_OldNameDefaultsToScreenPassenger(t *testing.T) {
	d := newMatrix().Decide(reservation(), &CorrectionRequest{NewName: "SILVA/ALBERTA"})

	require.NotNil(t, d.Correction)
	assert.Equal(t, 1, d.Correction.ErrorType)
	assert.Equal(t, "SILVA/ALBERTO MR", d.Correction.OldName)
}

func TestDecide_UnreadPassengerIsNotCorrected(t *testing.T) {
	m := newMatrix()
	req := &CorrectionRequest{NewName: "SILVA/ALBERTA"}

	for name, pax := range map[string]fields.Value{
		"missing":        fields.MissingValue("passenger"),
		"low confidence": {NormalizedValue: ptr("NOMES"), Confidence: 0.25},
	} {
		t.Run(name, func(t *testing.T) {
			d := m.Decide(reservation(func(fm *fields.Map) { fm.Set(fields.Passenger, pax) }), req)
			assert.Equal(t, Deny, d.Outcome)
			assert.Equal(t, ReasonPassengerUnread, d.Reason)
			assert.Equal(t, GuardNameCorrection, d.Guard)
			assert.Nil(t, d.Correction)
		})
	}

	d := m.Decide(reservation(func(fm *fields.Map) {
		fm.Set(fields.Passenger, fields.Value{NormalizedValue: ptr("SILVA/ALBERTO MR"), Confidence: 0.25})
	}), &CorrectionRequest{OldName: "SILVA/ALBERTO MR", NewName: "SILVA/ALBERTA MR"})
	require.NotNil(t, d.Correction)
	assert.Equal(t, 1, d.Correction.ErrorType)
}

func TestDecide_CorrectionEndorsements(t *testing.T) {
	m := newMatrix()
	req := &CorrectionRequest{OldName: "GONSALES", NewName: "GONZALEZ"}

	d := m.Decide(reservation(), req)
	assert.Equal(t, "NOME CORRIGIDO CONF DOC - VOO DOMESTICO", d.Endorsement())

	d = m.Decide(reservation(func(fm *fields.Map) { fm.Itinerary[0].Destination = "SCL" }), req)
	assert.Equal(t, "NOME CORRIGIDO CONF DOC", d.Endorsement())

	d = m.Decide(reservation(withCarrier("AA")), req)
	assert.Equal(t, "NOME CORRIGIDO CONF DOC - VALIDO SOMENTE VOOS PARCEIROS", d.Endorsement())
	assert.Equal(t, ToolBackup, d.Tool)

	d = m.Decide(reservation(func(fm *fields.Map) {
		fm.Itinerary = nil
		fm.Set(fields.Segment, fields.MissingValue("segment"))
	}), req)
	assert.Equal(t, "NOME CORRIGIDO CONF DOC", d.Endorsement())
}

func TestDecide_Idempotent(t *testing.T) {
	m := newMatrix()
	fm := reservation(withCarrier("DL"))
	req := &CorrectionRequest{OldName: "SILVA/JOAO", NewName: "SILVA/JOAO PEDRO"}

	first := m.Decide(fm, req).Canonical()
	second := m.Decide(fm, req).Canonical()
	require.NotEmpty(t, first)
	assert.True(t, bytes.Equal(first, second))

	first = m.Decide(fm, nil).Canonical()
	second = m.Decide(fm, nil).Canonical()
	assert.Equal(t, string(first), string(second))
}
