package ruledata

import (
	"fmt"

	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
)

// InputKind tells the executor how to write and compare a form field.
type InputKind string

const (
	InputText     InputKind = "text"
	InputSelect   InputKind = "select"
	InputCode     InputKind = "code"
	InputReadOnly InputKind = "readonly"
)

// Transform names the conversion from a normalized value to form text.
type Transform string

const (
	TransformPassthrough  Transform = "passthrough"
	TransformUpper        Transform = "upper"
	TransformDigits       Transform = "digits"
	TransformDigits4      Transform = "digits4"
	TransformDateDMY      Transform = "date_dmy"
	TransformSegmentSlash Transform = "segment_slash"
	TransformEndorsement  Transform = "endorsement"
)

var knownInputs = map[InputKind]bool{
	InputText: true, InputSelect: true, InputCode: true, InputReadOnly: true,
}

var knownTransforms = map[Transform]bool{
	TransformPassthrough: true, TransformUpper: true, TransformDigits: true,
	TransformDigits4: true, TransformDateDMY: true, TransformSegmentSlash: true,
	TransformEndorsement: true,
}

// FieldMapping links one extracted field to its destination element.
type FieldMapping struct {
	Source    fields.Name   `yaml:"source"`
	Selector  string        `yaml:"selector"`
	Input     InputKind     `yaml:"input"`
	Transform Transform     `yaml:"transform"`
	Default   string        `yaml:"default,omitempty"`
	Populates []fields.Name `yaml:"populates,omitempty"`
}

// Mapping is the parsed field-mapping file.
type Mapping struct {
	Fields []FieldMapping `yaml:"fields"`

	bySource map[fields.Name]FieldMapping
}

// Validate requires exactly one entry per schema field and an acyclic
// populates graph.
func (m *Mapping) Validate() error {
	m.bySource = make(map[fields.Name]FieldMapping, len(m.Fields))
	for _, fm := range m.Fields {
		if !fields.IsKnown(fm.Source) {
			return fmt.Errorf("unknown source field %q", fm.Source)
		}
		if _, dup := m.bySource[fm.Source]; dup {
			return fmt.Errorf("source field %q mapped twice", fm.Source)
		}
		if fm.Selector == "" {
			return fmt.Errorf("field %q has no selector", fm.Source)
		}
		if !knownInputs[fm.Input] {
			return fmt.Errorf("field %q has unknown input kind %q", fm.Source, fm.Input)
		}
		if !knownTransforms[fm.Transform] {
			return fmt.Errorf("field %q has unknown transform %q", fm.Source, fm.Transform)
		}
		for _, p := range fm.Populates {
			if !fields.IsKnown(p) {
				return fmt.Errorf("field %q populates unknown field %q", fm.Source, p)
			}
		}
		m.bySource[fm.Source] = fm
	}

	for _, n := range fields.Schema {
		if _, ok := m.bySource[n]; !ok {
			return fmt.Errorf("schema field %q has no mapping", n)
		}
	}

	return m.checkCycles()
}

// For returns the mapping of field n.
func (m *Mapping) For(n fields.Name) (FieldMapping, bool) {
	fm, ok := m.bySource[n]
	return fm, ok
}

// Populators returns the fields whose selection fills n.
func (m *Mapping) Populators(n fields.Name) []fields.Name {
	var out []fields.Name
	for _, src := range fields.Schema {
		for _, p := range m.bySource[src].Populates {
			if p == n {
				out = append(out, src)
			}
		}
	}
	return out
}

func (m *Mapping) checkCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[fields.Name]int, len(fields.Schema))

	var visit func(n fields.Name) error
	visit = func(n fields.Name) error {
		switch state[n] {
		case visiting:
			return fmt.Errorf("populates cycle through field %q", n)
		case done:
			return nil
		}
		state[n] = visiting
		for _, p := range m.bySource[n].Populates {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[n] = done
		return nil
	}

	for _, n := range fields.Schema {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}
