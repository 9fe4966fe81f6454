package ruledata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
)

func TestDefaultTables(t *testing.T) {
	tables := DefaultTables()

	require.Len(t, tables.Rules.CorrectionTypes, 7)
	assert.True(t, tables.Rules.IsHomeCarrier("la"))
	assert.False(t, tables.Rules.IsHomeCarrier("DL"))
	assert.True(t, tables.Rules.IsAcceptedAuthCode("PIC_S23"))
	assert.True(t, tables.Rules.IsDomesticAirport("GRU"))
	assert.False(t, tables.Rules.IsDomesticAirport("SCL"))
	assert.True(t, tables.Rules.IsAffix("NETO"))

	six, ok := tables.Rules.CorrectionType(6)
	require.True(t, ok)
	assert.True(t, six.RequiresSecondDocument)

	city, ok := tables.Mapping.For(fields.City)
	require.True(t, ok)
	assert.Equal(t, []fields.Name{fields.Country}, city.Populates)
	assert.Equal(t, []fields.Name{fields.City}, tables.Mapping.Populators(fields.Country))

	assert.Equal(t, 80, tables.Layout.Grid.Cols)
	assert.NotEmpty(t, tables.Layout.Targets)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadRules_RejectsIncompleteTable(t *testing.T) {
	path := writeFile(t, "rules.yaml", `
correction_types:
  - error_type: 1
    predicate: x
guards:
  home_carriers: [LA]
endorsements:
  domestic: a
`)
	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error types 1 through 7")
}

func TestLoadRules_UnknownKeys(t *testing.T) {
	path := writeFile(t, "rules.yaml", "guardz: {}\n")
	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guardz")
}

func TestMapping_Validate(t *testing.T) {
	base := func() *Mapping {
		m, err := LoadMapping("")
		require.NoError(t, err)
		cp := &Mapping{Fields: append([]FieldMapping(nil), m.Fields...)}
		return cp
	}

	t.Run("missing schema field", func(t *testing.T) {
		m := base()
		m.Fields = m.Fields[1:]
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"pnr"`)
	})

	t.Run("populates cycle", func(t *testing.T) {
		m := base()
		for i := range m.Fields {
			if m.Fields[i].Source == fields.Country {
				m.Fields[i].Populates = []fields.Name{fields.City}
			}
		}
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})

	t.Run("unknown transform", func(t *testing.T) {
		m := base()
		m.Fields[0].Transform = "rot13"
		err := m.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rot13")
	})
}

func TestLayout_Validate(t *testing.T) {
	l, err := LoadLayout("")
	require.NoError(t, err)

	bad := *l
	bad.Itinerary.RowPattern = `^(\w+)$`
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "8 groups")

	dup := *l
	dup.Targets = append(append([]Target(nil), l.Targets...), l.Targets[0])
	err = dup.Validate()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "declared twice"))
}

func TestRegion_Contains(t *testing.T) {
	r := Region{Col: 3, Row: 6, Width: 5, Height: 1}
	assert.True(t, r.Contains(3, 6))
	assert.True(t, r.Contains(7, 6))
	assert.False(t, r.Contains(8, 6))
	assert.False(t, r.Contains(5, 7))
}
