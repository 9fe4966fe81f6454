package rules

import (
	"sort"
	"strings"
	"unicode"

	"github.com/xrash/smetrics"

	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
)

// personName is a reservation name split into SURNAME/GIVEN tokens.
type personName struct {
	surname []string
	given   []string
}

func (p personName) tokens() []string {
	out := make([]string, 0, len(p.surname)+len(p.given))
	out = append(out, p.surname...)
	return append(out, p.given...)
}

func (p personName) equal(o personName) bool {
	return sameTokens(p.surname, o.surname) && sameTokens(p.given, o.given)
}

// parseName uppercases s, drops punctuation and title tokens, and splits it
// on the first slash. A name without a slash is all surname.
func parseName(s string, data *ruledata.RuleData) personName {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/':
			return r
		case unicode.IsLetter(r):
			return unicode.ToUpper(r)
		default:
			return ' '
		}
	}, s)

	surname, given, _ := strings.Cut(s, "/")
	clean := func(part string) []string {
		var out []string
		for _, tok := range strings.Fields(part) {
			if !data.IsTitle(tok) {
				out = append(out, tok)
			}
		}
		return out
	}
	return personName{surname: clean(surname), given: clean(given)}
}

func sameTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type multiset map[string]int

func countTokens(tokens []string) multiset {
	m := make(multiset, len(tokens))
	for _, t := range tokens {
		m[t]++
	}
	return m
}

// minus returns the tokens of m not covered by o, one entry per copy, sorted.
func (m multiset) minus(o multiset) []string {
	var out []string
	for t, n := range m {
		for i := o[t]; i < n; i++ {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// classifier applies the name-correction predicates in precedence order.
type classifier struct {
	data *ruledata.RuleData
}

// classify returns the lowest matching error type, or 0 when the names are
// unrelated.
func (c classifier) classify(from, to personName, legalChange bool) int {
	switch {
	case c.substitution(from, to):
		return 1
	case swapped(from, to):
		return 2
	case addsTokens(from, to):
		return 3
	case duplicatedToken(from, to):
		return 4
	case c.affixOnly(from, to):
		return 5
	case legalChange:
		return 6
	case sharesToken(from, to):
		return 7
	default:
		return 0
	}
}

// substitution: exactly one field changed, its token count is unchanged and
// its edit distance is within the configured limit.
func (c classifier) substitution(from, to personName) bool {
	sameSurname := sameTokens(from.surname, to.surname)
	sameGiven := sameTokens(from.given, to.given)
	if sameSurname == sameGiven {
		return false
	}
	a, b := from.given, to.given
	if !sameSurname {
		a, b = from.surname, to.surname
	}
	if len(a) != len(b) {
		return false
	}
	d := smetrics.WagnerFischer(strings.Join(a, " "), strings.Join(b, " "), 1, 1, 1)
	return d >= 1 && d <= c.data.Guards.MaxSubstitutions
}

func swapped(from, to personName) bool {
	if len(from.surname) == 0 || len(from.given) == 0 {
		return false
	}
	return sameTokens(from.surname, to.given) && sameTokens(from.given, to.surname)
}

// addsTokens: the new distinct-token set strictly contains the old one and
// no token copy was deleted.
func addsTokens(from, to personName) bool {
	o, n := countTokens(from.tokens()), countTokens(to.tokens())
	if len(o.minus(n)) > 0 {
		return false
	}
	return len(n) > len(o)
}

// duplicatedToken: one field gained or lost a single extra copy of a token
// it still contains.
func duplicatedToken(from, to personName) bool {
	sameSurname := sameTokens(from.surname, to.surname)
	sameGiven := sameTokens(from.given, to.given)
	if sameSurname == sameGiven {
		return false
	}
	a, b := from.given, to.given
	if !sameSurname {
		a, b = from.surname, to.surname
	}
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(a) != len(b)+1 {
		return false
	}
	ma, mb := countTokens(a), countTokens(b)
	extra := ma.minus(mb)
	return len(extra) == 1 && len(mb.minus(ma)) == 0 && mb[extra[0]] >= 1
}

// affixOnly: the token multisets differ by one affix removed, or one affix
// replaced by another.
func (c classifier) affixOnly(from, to personName) bool {
	o, n := countTokens(from.tokens()), countTokens(to.tokens())
	removed, added := o.minus(n), n.minus(o)
	switch {
	case len(removed) == 1 && len(added) == 0:
		return c.data.IsAffix(removed[0])
	case len(removed) == 1 && len(added) == 1:
		return c.data.IsAffix(removed[0]) && c.data.IsAffix(added[0])
	case len(removed) == 0 && len(added) == 1:
		return c.data.IsAffix(added[0])
	default:
		return false
	}
}

func sharesToken(from, to personName) bool {
	n := countTokens(to.tokens())
	for _, t := range from.tokens() {
		if n[t] > 0 {
			return true
		}
	}
	return false
}
