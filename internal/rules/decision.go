/**
 * Decision Types
 *
 * A Decision is the immutable result of evaluating the rule matrix for one
 * reservation: whether the form may be filled, with which tool, and which
 * endorsement text goes on the ticket.
 */

package rules

import (
	"encoding/json"
)

// Outcome of a rule evaluation.
type Outcome string

const (
	Allow         Outcome = "ALLOW"
	Deny          Outcome = "DENY"
	NeedsDocument Outcome = "NEEDS_DOCUMENT"
)

// Tool is the destination application that performs the change.
type Tool string

const (
	ToolPrimary Tool = "PRIMARY"
	ToolBackup  Tool = "BACKUP"
)

// Guard names the rule that determined a decision.
type Guard string

const (
	GuardItinerary        Guard = "itinerary"
	GuardPassengerType    Guard = "passenger_type"
	GuardLoyalty          Guard = "loyalty"
	GuardMultiDestination Guard = "multi_destination"
	GuardUpgrade          Guard = "upgrade"
	GuardCorrectionCount  Guard = "correction_count"
	GuardNameCorrection   Guard = "name_correction"
	GuardClassStatus      Guard = "class_status"
	GuardNone             Guard = "none"
)

// GuardOrder is the fixed evaluation order of the matrix.
var GuardOrder = []Guard{
	GuardItinerary,
	GuardPassengerType,
	GuardLoyalty,
	GuardMultiDestination,
	GuardUpgrade,
	GuardCorrectionCount,
	GuardNameCorrection,
	GuardClassStatus,
}

// CorrectionRequest is the operator's name-change request.
type CorrectionRequest struct {
	OldName           string `json:"oldName,omitempty"`
	NewName           string `json:"newName"`
	LegalChange       bool   `json:"legalChange,omitempty"`
	DocumentsAttached int    `json:"documentsAttached,omitempty"`
}

// NameCorrectionCase is a classified name change.
type NameCorrectionCase struct {
	ErrorType              int    `json:"errorType"`
	OldName                string `json:"oldName"`
	NewName                string `json:"newName"`
	RequiresDocument       bool   `json:"requiresDocument"`
	RequiresSecondDocument bool   `json:"requiresSecondDocument"`
}

// DocumentsNeeded is how many supporting documents the case calls for.
func (c NameCorrectionCase) DocumentsNeeded() int {
	switch {
	case c.RequiresSecondDocument:
		return 2
	case c.RequiresDocument:
		return 1
	default:
		return 0
	}
}

// Decision is produced once per run and never modified.
type Decision struct {
	Outcome         Outcome             `json:"outcome"`
	Tool            Tool                `json:"tool"`
	Reason          string              `json:"reason"`
	EndorsementCode *string             `json:"endorsementCode"`
	Correction      *NameCorrectionCase `json:"correction"`
	Guard           Guard               `json:"guard"`
}

// Allowed reports whether a fill may be planned.
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

// Endorsement returns the endorsement text or "".
func (d Decision) Endorsement() string {
	if d.EndorsementCode == nil {
		return ""
	}
	return *d.EndorsementCode
}

// Canonical returns the stable JSON encoding of d.
func (d Decision) Canonical() []byte {
	b, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return b
}
