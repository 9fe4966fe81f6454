package fillplan

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
	"github.com/adverant/nexus/pnrfill-worker/internal/rules"
)

func ptr(s string) *string { return &s }

func allow(endorsement string) rules.Decision {
	return rules.Decision{Outcome: rules.Allow, Tool: rules.ToolPrimary, EndorsementCode: &endorsement}
}

func fieldMap(conf float64) *fields.Map {
	fm := fields.NewMap("cap-1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	for n, v := range map[fields.Name]string{
		fields.PNR:           "ab12cd",
		fields.City:          "SCL",
		fields.SegmentNumber: "1",
		fields.Carrier:       "LA",
		fields.FlightNumber:  "3450",
		fields.Class:         "Y",
		fields.FlightDate:    "13/03/2026",
		fields.Segment:       "GRU-SCL",
		fields.Passenger:     "SILVA/ALBERTO MR",
	} {
		fm.Set(n, fields.Value{RawText: v, NormalizedValue: ptr(v), Confidence: conf})
	}
	return fm
}

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	logging.UseNop()
	return NewBuilder(ruledata.DefaultTables().Mapping)
}

func byField(p *Plan) map[fields.Name]Action {
	out := make(map[fields.Name]Action, len(p.Actions))
	for _, a := range p.Actions {
		out[a.Field] = a
	}
	return out
}

func TestBuild_RequiresAllow(t *testing.T) {
	b := newBuilder(t)
	for _, outcome := range []rules.Outcome{rules.Deny, rules.NeedsDocument} {
		_, err := b.Build(rules.Decision{Outcome: outcome}, fieldMap(0.9))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPlanNotAllowed))
	}
}

func TestBuild_CompletePlan(t *testing.T) {
	plan, err := newBuilder(t).Build(allow("ESTOURO DE CLASSE AUT PIC"), fieldMap(0.9))
	require.NoError(t, err)

	require.Len(t, plan.Actions, len(fields.Schema))
	assert.Empty(t, plan.Skipped)

	for i, a := range plan.Actions {
		assert.Equal(t, fields.Schema[i], a.Field)
		assert.Equal(t, DefaultRetries, a.RetriesRemaining)
		assert.NotEmpty(t, a.Selector)
	}

	actions := byField(plan)
	assert.Equal(t, "AB12CD", actions[fields.PNR].Value)
	assert.Equal(t, "3450", actions[fields.FlightNumber].Value)
	assert.Equal(t, "GRU/SCL", actions[fields.Segment].Value)
	assert.Equal(t, "13/03/2026", actions[fields.FlightDate].Value)
	assert.Equal(t, "Departamento Técnico", actions[fields.Department].Value)
	assert.Equal(t, "PIC - Upgrade", actions[fields.Reason].Value)
	assert.Equal(t, "ESTOURO DE CLASSE AUT PIC", actions[fields.Endorsement].Value)
	assert.Equal(t, ruledata.InputText, actions[fields.Endorsement].Input)
}

func TestBuild_ReadOnlyIsVerifyOnly(t *testing.T) {
	plan, err := newBuilder(t).Build(allow("X"), fieldMap(0.9))
	require.NoError(t, err)

	country := byField(plan)[fields.Country]
	assert.True(t, country.VerifyOnly)
	assert.True(t, country.ExpectsAnyValue())
	assert.Equal(t, ruledata.InputReadOnly, country.Input)

	fm := fieldMap(0.9)
	fm.Set(fields.Country, fields.Value{NormalizedValue: ptr("CHILE"), Confidence: 0.9})
	plan, err = newBuilder(t).Build(allow("X"), fm)
	require.NoError(t, err)

	country = byField(plan)[fields.Country]
	assert.True(t, country.VerifyOnly)
	assert.False(t, country.ExpectsAnyValue())
	assert.Equal(t, "CHILE", country.Value)
}

func TestBuild_SkipsUnavailableValues(t *testing.T) {
	fm := fieldMap(0.9)
	fm.Set(fields.Passenger, fields.MissingValue("passenger"))
	fm.Set(fields.Class, fields.Value{NormalizedValue: ptr("Y"), Confidence: 0.25})
	fm.Set(fields.FlightDate, fields.Value{NormalizedValue: ptr("32MAR"), Confidence: 0.9})

	plan, err := newBuilder(t).Build(allow(""), fm)
	require.NoError(t, err)

	assert.Equal(t, []fields.Name{fields.Class, fields.FlightDate, fields.Passenger, fields.Endorsement}, plan.Skipped)
	actions := byField(plan)
	assert.NotContains(t, actions, fields.Class)
	assert.NotContains(t, actions, fields.Endorsement)
}

func TestBuild_PopulatorsPrecedeDependents(t *testing.T) {
	base := ruledata.DefaultTables().Mapping
	custom := &ruledata.Mapping{Fields: append([]ruledata.FieldMapping(nil), base.Fields...)}
	for i := range custom.Fields {
		if custom.Fields[i].Source == fields.Passenger {
			custom.Fields[i].Populates = []fields.Name{fields.SegmentNumber}
		}
	}
	require.NoError(t, custom.Validate())

	logging.UseNop()
	plan, err := NewBuilder(custom).Build(allow("X"), fieldMap(0.9))
	require.NoError(t, err)

	var order []fields.Name
	for _, a := range plan.Actions {
		order = append(order, a.Field)
	}
	assert.Equal(t, []fields.Name{
		fields.PNR, fields.City, fields.Country, fields.Department, fields.Reason, fields.Authorizer,
		fields.Passenger, fields.SegmentNumber, fields.Carrier, fields.FlightNumber, fields.Class,
		fields.FlightDate, fields.Segment, fields.Endorsement,
	}, order)
}

func TestApply(t *testing.T) {
	tests := []struct {
		transform ruledata.Transform
		in        string
		want      string
		wantErr   bool
	}{
		{ruledata.TransformUpper, " la ", "LA", false},
		{ruledata.TransformDigits, "seg 2", "2", false},
		{ruledata.TransformDigits4, "123456", "1234", false},
		{ruledata.TransformDigits4, "LA 03450", "0345", false},
		{ruledata.TransformDigits4, "ABC", "", true},
		{ruledata.TransformDateDMY, "13/03/2026", "13/03/2026", false},
		{ruledata.TransformDateDMY, "13MAR", "", true},
		{ruledata.TransformSegmentSlash, "GRU-SCL", "GRU/SCL", false},
		{ruledata.TransformSegmentSlash, "GRUSCL", "", true},
		{ruledata.TransformPassthrough, "Supervisor", "Supervisor", false},
	}
	for _, tt := range tests {
		got, err := apply(tt.transform, tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%s(%q)", tt.transform, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
