/**
 * Rule Matrix
 *
 * Pure decision engine over an extracted reservation. Guards run in a fixed
 * order: the four routing guards (itinerary, passenger type, loyalty,
 * multi-destination) only move the change to the backup tool, while the
 * later guards can deny it outright or ask for documents.
 */

package rules

import (
	"fmt"

	"github.com/adverant/nexus/pnrfill-worker/internal/extractor"
	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
)

// Reason texts returned in decisions.
const (
	ReasonInterline          = "interline itinerary requires backup tool"
	ReasonInfant             = "infant passenger requires backup tool"
	ReasonLoyalty            = "loyalty number requires backup tool"
	ReasonMultiDestination   = "multi-destination itinerary requires backup tool"
	ReasonUpgradePresent     = "upgrade must be voided first"
	ReasonCorrectionLimit    = "correction limit reached"
	ReasonNameUnchanged      = "name unchanged"
	ReasonUnverifiedName     = "cannot verify same passenger"
	ReasonPassengerUnread    = "passenger name not read from screen"
	ReasonEligible           = "eligible for primary tool"
	reasonDocumentRequired   = "document required for correction type %d"
	reasonClassNotEligible   = "class %q not eligible for upgrade"
	reasonStatusNotEligible  = "status %q not eligible for upgrade"
	reasonAuthCodeNotAllowed = "authorization code %q not accepted"
)

// Matrix evaluates reservations against loaded rule data.
type Matrix struct {
	data       *ruledata.RuleData
	classifier classifier
}

// NewMatrix builds a Matrix over validated rule data.
func NewMatrix(data *ruledata.RuleData) *Matrix {
	return &Matrix{data: data, classifier: classifier{data: data}}
}

// evaluation accumulates guard results while the matrix runs.
type evaluation struct {
	tool         Tool
	backupReason string
	backupGuard  Guard
}

func (e *evaluation) routeBackup(g Guard, reason string) {
	if e.tool == ToolBackup {
		return
	}
	e.tool = ToolBackup
	e.backupReason = reason
	e.backupGuard = g
}

func (e *evaluation) deny(g Guard, reason string) Decision {
	return Decision{Outcome: Deny, Tool: e.tool, Reason: reason, Guard: g}
}

// Decide evaluates fm and the optional correction request. The result
// depends only on its inputs.
func (m *Matrix) Decide(fm *fields.Map, correction *CorrectionRequest) Decision {
	ev := &evaluation{tool: ToolPrimary}

	// 1. Itinerary
	for _, carrier := range fm.Carriers() {
		if !m.data.IsHomeCarrier(carrier) {
			ev.routeBackup(GuardItinerary, ReasonInterline)
			break
		}
	}

	// 2. Passenger type
	if fm.Indicators.InfantPresent {
		ev.routeBackup(GuardPassengerType, ReasonInfant)
	}

	// 3. Loyalty number
	if fm.Indicators.LoyaltyNumber != "" {
		ev.routeBackup(GuardLoyalty, ReasonLoyalty)
	}

	// 4. Multi-destination
	if routingGroups(fm) > 1 {
		ev.routeBackup(GuardMultiDestination, ReasonMultiDestination)
	}

	// 5. Upgrade / courtesy
	if fm.Indicators.Upgrade == fields.UpgradeComplimentary || fm.Indicators.Upgrade == fields.UpgradeAuction {
		return ev.deny(GuardUpgrade, ReasonUpgradePresent)
	}

	// 6. Correction count
	if fm.Indicators.CorrectionCount >= m.data.Guards.CorrectionLimit {
		return ev.deny(GuardCorrectionCount, ReasonCorrectionLimit)
	}

	if correction != nil {
		// 7. Name correction
		c, denial := m.classify(fm, correction, ev)
		if denial != nil {
			return *denial
		}
		return m.allow(ev, m.correctionEndorsement(fm), &c)
	}

	// 8. Class / status
	if class := fm.Value(fields.Class); !m.data.IsUpgradeClass(class) {
		return ev.deny(GuardClassStatus, fmt.Sprintf(reasonClassNotEligible, class))
	}
	if status := fm.Fact(fields.Status); !m.data.IsUpgradeStatus(status) {
		return ev.deny(GuardClassStatus, fmt.Sprintf(reasonStatusNotEligible, status))
	}
	if code := fm.Fact(fields.AuthCode); !m.data.IsAcceptedAuthCode(code) {
		return ev.deny(GuardClassStatus, fmt.Sprintf(reasonAuthCodeNotAllowed, code))
	}
	return m.allow(ev, m.data.Endorsements.Upgrade, nil)
}

func (m *Matrix) allow(ev *evaluation, endorsement string, c *NameCorrectionCase) Decision {
	d := Decision{
		Outcome:         Allow,
		Tool:            ev.tool,
		Reason:          ReasonEligible,
		EndorsementCode: &endorsement,
		Correction:      c,
		Guard:           GuardNone,
	}
	if ev.tool == ToolBackup {
		d.Reason = ev.backupReason
		d.Guard = ev.backupGuard
	}
	return d
}

// classify resolves the correction case or returns the terminal decision.
// The old name defaults to the passenger on screen when it was read with
// usable confidence.
func (m *Matrix) classify(fm *fields.Map, req *CorrectionRequest, ev *evaluation) (NameCorrectionCase, *Decision) {
	oldRaw := req.OldName
	if oldRaw == "" {
		pax := fm.Get(fields.Passenger)
		if !pax.Usable() {
			d := ev.deny(GuardNameCorrection, ReasonPassengerUnread)
			return NameCorrectionCase{}, &d
		}
		oldRaw = pax.String()
	}
	from := parseName(oldRaw, m.data)
	to := parseName(req.NewName, m.data)

	if from.equal(to) {
		d := ev.deny(GuardNameCorrection, ReasonNameUnchanged)
		return NameCorrectionCase{}, &d
	}

	errorType := m.classifier.classify(from, to, req.LegalChange)
	if errorType == 0 {
		d := ev.deny(GuardNameCorrection, ReasonUnverifiedName)
		return NameCorrectionCase{}, &d
	}

	row, _ := m.data.CorrectionType(errorType)
	c := NameCorrectionCase{
		ErrorType:              errorType,
		OldName:                oldRaw,
		NewName:                req.NewName,
		RequiresDocument:       row.RequiresDocument,
		RequiresSecondDocument: row.RequiresSecondDocument,
	}
	if req.DocumentsAttached < c.DocumentsNeeded() {
		d := Decision{
			Outcome:    NeedsDocument,
			Tool:       ev.tool,
			Reason:     fmt.Sprintf(reasonDocumentRequired, errorType),
			Correction: &c,
			Guard:      GuardNameCorrection,
		}
		return c, &d
	}
	return c, nil
}

// correctionEndorsement picks the partner text for any non-home carrier,
// the domestic text when every airport is domestic, and the general text
// otherwise.
func (m *Matrix) correctionEndorsement(fm *fields.Map) string {
	for _, carrier := range fm.Carriers() {
		if !m.data.IsHomeCarrier(carrier) {
			return m.data.Endorsements.Partner
		}
	}

	airports := airportsOf(fm)
	if len(airports) == 0 {
		return m.data.Endorsements.General
	}
	for _, a := range airports {
		if !m.data.IsDomesticAirport(a) {
			return m.data.Endorsements.General
		}
	}
	return m.data.Endorsements.Domestic
}

func airportsOf(fm *fields.Map) []string {
	var out []string
	for _, s := range fm.Itinerary {
		out = append(out, s.Origin, s.Destination)
	}
	if len(out) == 0 {
		if o, d, ok := extractor.SplitSegment(fm.Value(fields.Segment)); ok {
			out = append(out, o, d)
		}
	}
	return out
}

// routingGroups counts runs of connected segments, where a segment connects
// to the next when it arrives where the next departs.
func routingGroups(fm *fields.Map) int {
	if len(fm.Itinerary) == 0 {
		return 0
	}
	groups := 1
	for i := 1; i < len(fm.Itinerary); i++ {
		if fm.Itinerary[i-1].Destination != fm.Itinerary[i].Origin {
			groups++
		}
	}
	return groups
}
