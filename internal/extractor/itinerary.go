package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
)

// itineraryReader reads flight rows and reservation indicators from the
// grouped screen lines.
type itineraryReader struct {
	band            ruledata.Region
	row             *regexp.Regexp
	infant          *regexp.Regexp
	loyalty         *regexp.Regexp
	upgradeComp     *regexp.Regexp
	upgradeAuction  *regexp.Regexp
	correctionCount *regexp.Regexp
}

func newItineraryReader(l *ruledata.Layout) (*itineraryReader, error) {
	r := &itineraryReader{band: l.Itinerary.Band}
	for _, p := range []struct {
		dst     **regexp.Regexp
		name    string
		pattern string
	}{
		{&r.row, "itinerary.row_pattern", l.Itinerary.RowPattern},
		{&r.infant, "indicators.infant", l.Indicators.Infant},
		{&r.loyalty, "indicators.loyalty", l.Indicators.Loyalty},
		{&r.upgradeComp, "indicators.upgrade_complimentary", l.Indicators.UpgradeComplimentary},
		{&r.upgradeAuction, "indicators.upgrade_auction", l.Indicators.UpgradeAuction},
		{&r.correctionCount, "indicators.correction_count", l.Indicators.CorrectionCount},
	} {
		re, err := regexp.Compile(p.pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.name, err)
		}
		*p.dst = re
	}
	return r, nil
}

// segments returns every itinerary row inside the band, top to bottom.
// Rows whose date cannot be read keep the raw DDMMM text.
func (r *itineraryReader) segments(lines []line, capturedAt time.Time) []fields.ItinerarySegment {
	var out []fields.ItinerarySegment
	for _, l := range lines {
		if l.row < r.band.Row || l.row >= r.band.Row+r.band.Height {
			continue
		}
		m := r.row.FindStringSubmatch(strings.ToUpper(l.text))
		if m == nil {
			continue
		}
		number, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		date := m[7]
		if n, err := normalizeDate(m[7], capturedAt); err == nil {
			date = n.value
		}
		out = append(out, fields.ItinerarySegment{
			Number:       number,
			Carrier:      m[2],
			FlightNumber: m[3],
			Class:        m[4],
			Origin:       m[5],
			Destination:  m[6],
			Date:         date,
			Status:       m[8],
		})
	}
	return out
}

func (r *itineraryReader) indicators(lines []line) fields.Indicators {
	ind := fields.Indicators{Upgrade: fields.UpgradeNone}
	for _, l := range lines {
		text := strings.ToUpper(l.text)
		if r.infant.MatchString(text) {
			ind.InfantPresent = true
		}
		if ind.LoyaltyNumber == "" {
			if m := r.loyalty.FindStringSubmatch(text); m != nil {
				ind.LoyaltyNumber = m[len(m)-1]
			}
		}
		switch {
		case r.upgradeComp.MatchString(text):
			ind.Upgrade = fields.UpgradeComplimentary
		case r.upgradeAuction.MatchString(text) && ind.Upgrade == fields.UpgradeNone:
			ind.Upgrade = fields.UpgradeAuction
		}
		for _, m := range r.correctionCount.FindAllStringSubmatch(text, -1) {
			if n, err := strconv.Atoi(m[len(m)-1]); err == nil && n > ind.CorrectionCount {
				ind.CorrectionCount = n
			}
		}
	}
	return ind
}
