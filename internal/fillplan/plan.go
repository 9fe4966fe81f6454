/**
 * Fill Plan
 *
 * Translates an allowed decision and the extracted fields into the ordered
 * list of form writes. Fields that populate others are written first; every
 * other field follows the schema declaration order.
 */

package fillplan

import (
	"errors"
	"fmt"

	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
	"github.com/adverant/nexus/pnrfill-worker/internal/rules"
)

// ErrPlanNotAllowed is returned when the decision is not ALLOW.
var ErrPlanNotAllowed = errors.New("fill plan requires an ALLOW decision")

const (
	// DefaultRetries is the retry budget of every action.
	DefaultRetries = 3
	// DefaultMinConfidence is the lowest extracted confidence written to the form.
	DefaultMinConfidence = fields.MinUsableConfidence
)

// Action is one destination field write.
type Action struct {
	Field            fields.Name        `json:"field"`
	Selector         string             `json:"selector"`
	Value            string             `json:"value"`
	Input            ruledata.InputKind `json:"input"`
	VerifyOnly       bool               `json:"verifyOnly,omitempty"`
	RetriesRemaining int                `json:"retriesRemaining"`
}

// ExpectsAnyValue reports whether a verify-only action accepts any
// non-empty read-back.
func (a Action) ExpectsAnyValue() bool {
	return a.VerifyOnly && a.Value == ""
}

// Plan is the ordered list of actions for one run.
type Plan struct {
	Actions []Action      `json:"actions"`
	Skipped []fields.Name `json:"skipped,omitempty"`
}

// Builder turns decisions into plans using a field mapping.
type Builder struct {
	mapping       *ruledata.Mapping
	Retries       int
	MinConfidence float64
	logger        *logging.Logger
}

// NewBuilder returns a Builder with the default retry budget and
// confidence threshold.
func NewBuilder(mapping *ruledata.Mapping) *Builder {
	return &Builder{
		mapping:       mapping,
		Retries:       DefaultRetries,
		MinConfidence: DefaultMinConfidence,
		logger:        logging.NewLogger("FillPlan"),
	}
}

// Build creates the plan for an ALLOW decision.
func (b *Builder) Build(decision rules.Decision, fm *fields.Map) (*Plan, error) {
	if !decision.Allowed() {
		return nil, fmt.Errorf("%w: outcome %s", ErrPlanNotAllowed, decision.Outcome)
	}

	plan := &Plan{}
	for _, name := range b.order() {
		m, ok := b.mapping.For(name)
		if !ok {
			continue
		}

		if m.Input == ruledata.InputReadOnly {
			plan.Actions = append(plan.Actions, Action{
				Field:            name,
				Selector:         m.Selector,
				Value:            b.extracted(fm, m),
				Input:            m.Input,
				VerifyOnly:       true,
				RetriesRemaining: b.Retries,
			})
			continue
		}

		value := b.valueFor(decision, fm, m)
		if value == "" {
			plan.Skipped = append(plan.Skipped, name)
			continue
		}
		plan.Actions = append(plan.Actions, Action{
			Field:            name,
			Selector:         m.Selector,
			Value:            value,
			Input:            m.Input,
			RetriesRemaining: b.Retries,
		})
	}

	b.logger.Debug("Fill plan built",
		"captureId", fm.CaptureID,
		"actions", len(plan.Actions),
		"skipped", len(plan.Skipped))
	return plan, nil
}

// order is schema order with every populator moved ahead of the fields it
// fills.
func (b *Builder) order() []fields.Name {
	placed := make(map[fields.Name]bool, len(fields.Schema))
	out := make([]fields.Name, 0, len(fields.Schema))

	var place func(n fields.Name)
	place = func(n fields.Name) {
		if placed[n] {
			return
		}
		placed[n] = true
		for _, p := range b.mapping.Populators(n) {
			place(p)
		}
		out = append(out, n)
	}
	for _, n := range fields.Schema {
		place(n)
	}
	return out
}

// extracted returns the transformed screen value, or "" when it is missing,
// below the confidence threshold or rejected by the transform.
func (b *Builder) extracted(fm *fields.Map, m ruledata.FieldMapping) string {
	v := fm.Get(m.Source)
	if v.Missing() || v.Confidence < b.MinConfidence {
		return ""
	}
	out, err := apply(m.Transform, v.String())
	if err != nil {
		b.logger.Warn("Transform rejected extracted value",
			"field", m.Source,
			"transform", m.Transform,
			"error", err.Error())
		return ""
	}
	return out
}

func (b *Builder) valueFor(decision rules.Decision, fm *fields.Map, m ruledata.FieldMapping) string {
	if m.Transform == ruledata.TransformEndorsement {
		if e := decision.Endorsement(); e != "" {
			return e
		}
		return m.Default
	}
	if v := b.extracted(fm, m); v != "" {
		return v
	}
	return m.Default
}
