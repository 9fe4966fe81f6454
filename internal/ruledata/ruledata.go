// Package ruledata loads the three read-only tables the pipeline is driven
// by: the rule data file, the field-mapping file and the screen layout file.
// Each loader falls back to an embedded default when no path is given.
package ruledata

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

const (
	defaultRulesPath   = "defaults/rules.yaml"
	defaultMappingPath = "defaults/mapping.yaml"
	defaultLayoutPath  = "defaults/layout.yaml"
)

// Tables bundles the loaded configuration for one process.
type Tables struct {
	Rules   *RuleData
	Mapping *Mapping
	Layout  *Layout
}

// LoadTables loads all three tables. Empty paths select the embedded defaults.
func LoadTables(rulesPath, mappingPath, layoutPath string) (*Tables, error) {
	rules, err := LoadRules(rulesPath)
	if err != nil {
		return nil, err
	}
	mapping, err := LoadMapping(mappingPath)
	if err != nil {
		return nil, err
	}
	layout, err := LoadLayout(layoutPath)
	if err != nil {
		return nil, err
	}
	return &Tables{Rules: rules, Mapping: mapping, Layout: layout}, nil
}

// DefaultTables returns the embedded tables. It panics if they are invalid,
// which only a broken build can cause.
func DefaultTables() *Tables {
	t, err := LoadTables("", "", "")
	if err != nil {
		panic(fmt.Sprintf("embedded rule tables are invalid: %v", err))
	}
	return t
}

// LoadRules reads and validates the rule data file.
func LoadRules(path string) (*RuleData, error) {
	var r RuleData
	if err := decodeFile(path, defaultRulesPath, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("rule data %s: %w", describe(path), err)
	}
	return &r, nil
}

// LoadMapping reads and validates the field-mapping file.
func LoadMapping(path string) (*Mapping, error) {
	var m Mapping
	if err := decodeFile(path, defaultMappingPath, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("field mapping %s: %w", describe(path), err)
	}
	return &m, nil
}

// LoadLayout reads and validates the screen layout file.
func LoadLayout(path string) (*Layout, error) {
	var l Layout
	if err := decodeFile(path, defaultLayoutPath, &l); err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("screen layout %s: %w", describe(path), err)
	}
	return &l, nil
}

func decodeFile(path, fallback string, out interface{}) error {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = defaultsFS.ReadFile(fallback)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", describe(path), err)
	}
	return decode(bytes.NewReader(data), describe(path), out)
}

func decode(r io.Reader, name string, out interface{}) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

func describe(path string) string {
	if path == "" {
		return "(embedded default)"
	}
	return path
}
