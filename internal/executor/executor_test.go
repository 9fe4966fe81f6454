package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
	"github.com/adverant/nexus/pnrfill-worker/internal/fillplan"
	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
	"github.com/adverant/nexus/pnrfill-worker/internal/ruledata"
)

func action(field fields.Name, value string, input ruledata.InputKind) fillplan.Action {
	return fillplan.Action{
		Field:            field,
		Selector:         "#" + string(field),
		Value:            value,
		Input:            input,
		RetriesRemaining: fillplan.DefaultRetries,
	}
}

func newExecutor(d FormDriver) *Executor {
	logging.UseNop()
	return New(d, 0)
}

func TestRun_AllVerified(t *testing.T) {
	d := NewMemoryDriver()
	plan := &fillplan.Plan{Actions: []fillplan.Action{
		action(fields.PNR, "AB12CD", ruledata.InputCode),
		action(fields.Carrier, "LA", ruledata.InputSelect),
		action(fields.Endorsement, "ESTOURO DE CLASSE AUT PIC", ruledata.InputText),
	}}

	report := newExecutor(d).Run(context.Background(), plan)

	require.Len(t, report.Entries, 3)
	assert.True(t, report.AllVerified())
	assert.Equal(t, 100.0, report.CompletionPercent())
	assert.False(t, report.Cancelled)
	for _, e := range report.Entries {
		assert.Equal(t, 1, e.Attempts)
		assert.Equal(t, StateVerified, e.State)
		assert.Nil(t, e.Error)
	}
	assert.Equal(t, "AB12CD", d.Value("#pnr"))
	assert.Equal(t, 2, d.Reads("#pnr"), "one read-back plus the sweep re-read")
}

func TestRun_RetryBoundAndBatchContinues(t *testing.T) {
	d := NewMemoryDriver()
	d.Mangle("#flight_number", func(string) string { return "9999" })
	plan := &fillplan.Plan{Actions: []fillplan.Action{
		action(fields.FlightNumber, "3450", ruledata.InputCode),
		action(fields.Class, "Y", ruledata.InputSelect),
		action(fields.FlightDate, "13/03/2026", ruledata.InputCode),
	}}

	report := newExecutor(d).Run(context.Background(), plan)
	require.Len(t, report.Entries, 3)

	failed := report.Entries[0]
	assert.False(t, failed.Verified)
	assert.Equal(t, StateFailed, failed.State)
	assert.True(t, failed.Swept)
	assert.Equal(t, 1+fillplan.DefaultRetries+1, failed.Attempts)
	assert.Equal(t, 1+fillplan.DefaultRetries+1, d.Writes("#flight_number"))
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "FIELD_WRITE_FAILED")
	assert.Contains(t, *failed.Error, "FIELD_WRITE_MISMATCH")

	assert.True(t, report.Entries[1].Verified)
	assert.True(t, report.Entries[2].Verified)
	assert.Equal(t, []fields.Name{fields.FlightNumber}, report.FailedFields())
	assert.InDelta(t, 66.67, report.CompletionPercent(), 0.01)
	assert.False(t, report.AllVerified())

	// the plan itself is not consumed
	assert.Equal(t, fillplan.DefaultRetries, plan.Actions[0].RetriesRemaining)
}

func TestRun_TransientWriteErrorsRecover(t *testing.T) {
	d := NewMemoryDriver()
	d.FailWrites("#carrier", 2)
	plan := &fillplan.Plan{Actions: []fillplan.Action{action(fields.Carrier, "LA", ruledata.InputSelect)}}

	report := newExecutor(d).Run(context.Background(), plan)

	entry := report.Entries[0]
	assert.True(t, entry.Verified)
	assert.Equal(t, 3, entry.Attempts)
	assert.False(t, entry.Swept)
}

func TestRun_ComparisonByInputKind(t *testing.T) {
	d := NewMemoryDriver()
	d.Mangle("#passenger", strings.ToLower)
	d.Mangle("#pnr", strings.ToLower)
	plan := &fillplan.Plan{Actions: []fillplan.Action{
		action(fields.Passenger, "SILVA/ALBERTO MR", ruledata.InputSelect),
		action(fields.PNR, "AB12CD", ruledata.InputCode),
	}}

	report := newExecutor(d).Run(context.Background(), plan)

	assert.True(t, report.Entries[0].Verified)
	assert.False(t, report.Entries[1].Verified)
}

func TestRun_VerifyOnlyNeverWrites(t *testing.T) {
	d := NewMemoryDriver()
	d.Link("#city", "#country", func(string) string { return "CHILE" })

	country := action(fields.Country, "", ruledata.InputReadOnly)
	country.VerifyOnly = true
	plan := &fillplan.Plan{Actions: []fillplan.Action{
		action(fields.City, "SCL", ruledata.InputSelect),
		country,
	}}

	report := newExecutor(d).Run(context.Background(), plan)

	assert.True(t, report.AllVerified())
	assert.Zero(t, d.Writes("#country"))

	d = NewMemoryDriver()
	report = newExecutor(d).Run(context.Background(), &fillplan.Plan{Actions: []fillplan.Action{country}})
	assert.False(t, report.Entries[0].Verified)
	assert.Zero(t, d.Writes("#country"))
}

func TestRun_ElementNotFound(t *testing.T) {
	d := NewMemoryDriver()
	d.Remove("#segment")
	plan := &fillplan.Plan{Actions: []fillplan.Action{action(fields.Segment, "GRU/SCL", ruledata.InputCode)}}

	report := newExecutor(d).Run(context.Background(), plan)

	entry := report.Entries[0]
	assert.False(t, entry.Verified)
	require.NotNil(t, entry.Error)
	assert.Contains(t, *entry.Error, ErrElementNotFound.Error())
}

func TestRun_SweepRepairsOverwrittenField(t *testing.T) {
	d := NewMemoryDriver()
	d.Link("#carrier", "#pnr", func(string) string { return "" })
	plan := &fillplan.Plan{Actions: []fillplan.Action{
		action(fields.PNR, "AB12CD", ruledata.InputCode),
		action(fields.Carrier, "LA", ruledata.InputSelect),
	}}

	report := newExecutor(d).Run(context.Background(), plan)

	pnr := report.Entries[0]
	assert.True(t, pnr.Verified)
	assert.True(t, pnr.Swept)
	assert.Equal(t, 2, pnr.Attempts)
	assert.Equal(t, "AB12CD", d.Value("#pnr"))
}

type cancellingDriver struct {
	*MemoryDriver
	cancel context.CancelFunc
}

func (c *cancellingDriver) Write(ctx context.Context, h Handle, value string) error {
	c.cancel()
	return c.MemoryDriver.Write(ctx, h, value)
}

func TestRun_CancelledBetweenActions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &cancellingDriver{MemoryDriver: NewMemoryDriver(), cancel: cancel}
	plan := &fillplan.Plan{Actions: []fillplan.Action{
		action(fields.PNR, "AB12CD", ruledata.InputCode),
		action(fields.Carrier, "LA", ruledata.InputSelect),
		action(fields.Class, "Y", ruledata.InputSelect),
	}}

	report := newExecutor(d).Run(ctx, plan)

	require.Len(t, report.Entries, 3)
	assert.True(t, report.Cancelled)
	assert.True(t, report.Entries[0].Verified, "the action in flight completes")
	for _, e := range report.Entries[1:] {
		assert.False(t, e.Verified)
		assert.Zero(t, e.Attempts)
		require.NotNil(t, e.Error)
		assert.Equal(t, ErrCancelled, *e.Error)
	}
	assert.Zero(t, d.Writes("#carrier"))
	assert.Equal(t, 1, d.Reads("#pnr"), "no sweep after cancellation")
}

func TestMatches(t *testing.T) {
	code := action(fields.PNR, "AB12CD", ruledata.InputCode)
	text := action(fields.Endorsement, "Nome Corrigido", ruledata.InputText)
	anyValue := fillplan.Action{Field: fields.Country, Input: ruledata.InputReadOnly, VerifyOnly: true}

	assert.True(t, Matches(code, " AB12CD "))
	assert.False(t, Matches(code, "ab12cd"))
	assert.True(t, Matches(text, "NOME CORRIGIDO"))
	assert.True(t, Matches(anyValue, "Chile"))
	assert.False(t, Matches(anyValue, "  "))
}

func TestFillReport_Empty(t *testing.T) {
	r := &FillReport{}
	assert.False(t, r.AllVerified())
	assert.Zero(t, r.CompletionPercent())
	assert.Empty(t, r.FailedFields())
}
