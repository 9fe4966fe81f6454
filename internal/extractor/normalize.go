package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
)

// Common OCR misreads of digits in numeric columns.
var digitConfusions = map[rune]rune{
	'O': '0', 'D': '0', 'Q': '0',
	'I': '1', 'L': '1',
	'Z': '2',
	'S': '5',
	'B': '8',
}

// Sabre prints English months; the legacy screen variant prints Portuguese.
var months = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "FEV": time.February,
	"MAR": time.March, "APR": time.April, "ABR": time.April,
	"MAY": time.May, "MAI": time.May, "JUN": time.June, "JUL": time.July,
	"AUG": time.August, "AGO": time.August, "SEP": time.September, "SET": time.September,
	"OCT": time.October, "OUT": time.October, "NOV": time.November,
	"DEC": time.December, "DEZ": time.December,
}

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	formattedDM = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)
)

const (
	substitutionPenalty = 0.15
	penaltyFloor        = 0.3
	// Dates this far before the capture are taken to be next year's.
	pastDateTolerance = 48 * time.Hour
)

// normalized is the outcome of normalizing one matched value.
type normalized struct {
	value         string
	substitutions int
}

// ceiling returns the confidence cap implied by the substitutions made.
func (n normalized) ceiling() float64 {
	if n.substitutions == 0 {
		return 1
	}
	c := 1 - substitutionPenalty*float64(n.substitutions)
	if c < penaltyFloor {
		return penaltyFloor
	}
	return c
}

// normalize converts raw screen text into the canonical form for kind.
// capturedAt anchors the year of day-month dates.
func normalize(kind ruledata.ValueKind, raw string, capturedAt time.Time) (normalized, error) {
	raw = strings.TrimSpace(strings.ToUpper(raw))
	switch kind {
	case ruledata.KindCode:
		return normalized{value: strings.Join(strings.Fields(raw), "")}, nonEmpty(raw)
	case ruledata.KindFlightNumber:
		return normalizeFlightNumber(raw)
	case ruledata.KindDate:
		return normalizeDate(raw, capturedAt)
	case ruledata.KindSegment:
		return normalizeSegment(raw)
	case ruledata.KindNumber:
		digits := keepDigits(raw)
		if digits == "" {
			return normalized{}, fmt.Errorf("no digits in %q", raw)
		}
		return normalized{value: digits}, nil
	case ruledata.KindName, ruledata.KindText:
		v := spaceRun.ReplaceAllString(raw, " ")
		return normalized{value: v}, nonEmpty(v)
	default:
		return normalized{}, fmt.Errorf("unknown value kind %q", kind)
	}
}

func nonEmpty(s string) error {
	if s == "" {
		return fmt.Errorf("empty value")
	}
	return nil
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// substituteDigits replaces confusable letters by digits and counts them.
func substituteDigits(s string) (string, int) {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if d, ok := digitConfusions[r]; ok {
			b.WriteRune(d)
			n++
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), n
}

func normalizeFlightNumber(raw string) (normalized, error) {
	fixed, subs := substituteDigits(strings.Join(strings.Fields(raw), ""))
	digits := keepDigits(fixed)
	if digits == "" {
		return normalized{}, fmt.Errorf("no flight number digits in %q", raw)
	}
	if len(digits) > 4 {
		digits = digits[:4]
	}
	return normalized{value: digits, substitutions: subs}, nil
}

func normalizeDate(raw string, capturedAt time.Time) (normalized, error) {
	compact := strings.Join(strings.Fields(raw), "")
	if formattedDM.MatchString(compact) {
		return normalized{value: compact}, nil
	}
	if len(compact) != 5 {
		return normalized{}, fmt.Errorf("date %q is not DDMMM", raw)
	}

	dayText, subs := substituteDigits(compact[:2])
	day, err := strconv.Atoi(dayText)
	if err != nil {
		return normalized{}, fmt.Errorf("date %q has no numeric day", raw)
	}
	month, ok := months[compact[2:]]
	if !ok {
		return normalized{}, fmt.Errorf("date %q has unknown month %q", raw, compact[2:])
	}

	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	year := capturedAt.Year()
	d := time.Date(year, month, day, 0, 0, 0, 0, capturedAt.Location())
	if d.Day() != day {
		return normalized{}, fmt.Errorf("date %q is not a calendar day", raw)
	}
	if d.Before(capturedAt.Add(-pastDateTolerance)) {
		year++
		d = time.Date(year, month, day, 0, 0, 0, 0, capturedAt.Location())
		if d.Day() != day {
			return normalized{}, fmt.Errorf("date %q is not a calendar day in %d", raw, year)
		}
	}
	return normalized{value: d.Format("02/01/2006"), substitutions: subs}, nil
}

func normalizeSegment(raw string) (normalized, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	letters := b.String()
	if len(letters) != 6 {
		return normalized{}, fmt.Errorf("segment %q is not two airport codes", raw)
	}
	return normalized{value: letters[:3] + "-" + letters[3:]}, nil
}

// SplitSegment returns the origin and destination airport codes of a
// normalized segment such as "GRU-SCL".
func SplitSegment(segment string) (string, string, bool) {
	origin, dest, ok := strings.Cut(segment, "-")
	if !ok || len(origin) != 3 || len(dest) != 3 {
		return "", "", false
	}
	return origin, dest, true
}
