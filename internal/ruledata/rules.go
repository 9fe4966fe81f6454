package ruledata

import (
	"fmt"
	"strings"
)

// CorrectionType is one row of the name-correction table.
type CorrectionType struct {
	ErrorType              int    `yaml:"error_type"`
	Predicate              string `yaml:"predicate"`
	RequiresDocument       bool   `yaml:"requires_document"`
	RequiresSecondDocument bool   `yaml:"requires_second_document"`
}

// Guards holds the constants the rule matrix guards compare against.
type Guards struct {
	HomeCarriers      []string `yaml:"home_carriers"`
	AcceptedAuthCodes []string `yaml:"accepted_auth_codes"`
	UpgradeClasses    []string `yaml:"upgrade_classes"`
	UpgradeStatuses   []string `yaml:"upgrade_statuses"`
	DomesticAirports  []string `yaml:"domestic_airports"`
	AffixTokens       []string `yaml:"affix_tokens"`
	TitleTokens       []string `yaml:"title_tokens"`
	MaxSubstitutions  int      `yaml:"max_substitutions"`
	CorrectionLimit   int      `yaml:"correction_limit"`
}

// Endorsements are the fixed annotation texts written on the ticket.
type Endorsements struct {
	Domestic string `yaml:"domestic"`
	General  string `yaml:"general"`
	Partner  string `yaml:"partner"`
	Upgrade  string `yaml:"upgrade"`
}

// RuleData is the parsed rule data file.
type RuleData struct {
	CorrectionTypes []CorrectionType `yaml:"correction_types"`
	Guards          Guards           `yaml:"guards"`
	Endorsements    Endorsements     `yaml:"endorsements"`

	sets map[string]map[string]bool
}

const (
	setHomeCarriers = "home_carriers"
	setAuthCodes    = "accepted_auth_codes"
	setClasses      = "upgrade_classes"
	setStatuses     = "upgrade_statuses"
	setDomestic     = "domestic_airports"
	setAffixes      = "affix_tokens"
	setTitles       = "title_tokens"
)

// Validate checks the table and builds the membership sets.
func (r *RuleData) Validate() error {
	if len(r.CorrectionTypes) != 7 {
		return fmt.Errorf("correction_types must list error types 1 through 7, got %d rows", len(r.CorrectionTypes))
	}
	for i, ct := range r.CorrectionTypes {
		if ct.ErrorType != i+1 {
			return fmt.Errorf("correction_types row %d has error_type %d, expected %d", i, ct.ErrorType, i+1)
		}
		if ct.RequiresSecondDocument && !ct.RequiresDocument {
			return fmt.Errorf("error_type %d requires a second document but not a first", ct.ErrorType)
		}
	}

	g := r.Guards
	lists := map[string][]string{
		setHomeCarriers: g.HomeCarriers,
		setAuthCodes:    g.AcceptedAuthCodes,
		setClasses:      g.UpgradeClasses,
		setStatuses:     g.UpgradeStatuses,
		setDomestic:     g.DomesticAirports,
		setAffixes:      g.AffixTokens,
		setTitles:       g.TitleTokens,
	}
	r.sets = make(map[string]map[string]bool, len(lists))
	for name, list := range lists {
		if len(list) == 0 {
			return fmt.Errorf("guards.%s must not be empty", name)
		}
		set := make(map[string]bool, len(list))
		for _, v := range list {
			set[strings.ToUpper(strings.TrimSpace(v))] = true
		}
		r.sets[name] = set
	}

	if g.MaxSubstitutions < 1 {
		return fmt.Errorf("guards.max_substitutions must be at least 1, got %d", g.MaxSubstitutions)
	}
	if g.CorrectionLimit < 1 {
		return fmt.Errorf("guards.correction_limit must be at least 1, got %d", g.CorrectionLimit)
	}

	e := r.Endorsements
	if e.Domestic == "" || e.General == "" || e.Partner == "" || e.Upgrade == "" {
		return fmt.Errorf("endorsements must define domestic, general, partner and upgrade")
	}
	return nil
}

// CorrectionType returns the row for errorType.
func (r *RuleData) CorrectionType(errorType int) (CorrectionType, bool) {
	if errorType < 1 || errorType > len(r.CorrectionTypes) {
		return CorrectionType{}, false
	}
	return r.CorrectionTypes[errorType-1], true
}

func (r *RuleData) in(set, v string) bool {
	return r.sets[set][strings.ToUpper(v)]
}

func (r *RuleData) IsHomeCarrier(code string) bool { return r.in(setHomeCarriers, code) }
func (r *RuleData) IsAcceptedAuthCode(c string) bool { return r.in(setAuthCodes, c) }
func (r *RuleData) IsUpgradeClass(c string) bool { return r.in(setClasses, c) }
func (r *RuleData) IsUpgradeStatus(s string) bool { return r.in(setStatuses, s) }
func (r *RuleData) IsDomesticAirport(code string) bool { return r.in(setDomestic, code) }
func (r *RuleData) IsAffix(token string) bool { return r.in(setAffixes, token) }
func (r *RuleData) IsTitle(token string) bool { return r.in(setTitles, token) }
