package fillplan

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/adverant/nexus/pnrfill-worker/internal/extractor"
	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
)

const formDateLayout = "02/01/2006"

func apply(t ruledata.Transform, v string) (string, error) {
	v = strings.TrimSpace(v)
	switch t {
	case ruledata.TransformPassthrough, ruledata.TransformEndorsement:
		return v, nil
	case ruledata.TransformUpper:
		return strings.ToUpper(v), nil
	case ruledata.TransformDigits:
		return digits(v, 0)
	case ruledata.TransformDigits4:
		return digits(v, 4)
	case ruledata.TransformDateDMY:
		d, err := time.Parse(formDateLayout, v)
		if err != nil {
			return "", fmt.Errorf("date %q is not DD/MM/YYYY", v)
		}
		return d.Format(formDateLayout), nil
	case ruledata.TransformSegmentSlash:
		origin, dest, ok := extractor.SplitSegment(v)
		if !ok {
			return "", fmt.Errorf("segment %q is not ORIGIN-DEST", v)
		}
		return origin + "/" + dest, nil
	default:
		return "", fmt.Errorf("unknown transform %q", t)
	}
}

func digits(v string, limit int) (string, error) {
	var b strings.Builder
	for _, r := range v {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return "", fmt.Errorf("no digits in %q", v)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
