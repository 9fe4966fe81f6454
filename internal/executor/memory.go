package executor

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDriver is an in-process form. Every selector exists unless removed,
// and writes land verbatim unless scripted otherwise.
type MemoryDriver struct {
	mu      sync.Mutex
	values  map[string]string
	missing map[string]bool
	mangle  map[string]func(string) string
	failing map[string]int
	links   map[string][]link
	writes  map[string]int
	reads   map[string]int
}

type link struct {
	target string
	derive func(string) string
}

// NewMemoryDriver returns an empty form.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		values:  make(map[string]string),
		missing: make(map[string]bool),
		mangle:  make(map[string]func(string) string),
		failing: make(map[string]int),
		links:   make(map[string][]link),
		writes:  make(map[string]int),
		reads:   make(map[string]int),
	}
}

// Set stores a value without counting it as a write.
func (d *MemoryDriver) Set(selector, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[selector] = value
}

// Value returns the current content of selector.
func (d *MemoryDriver) Value(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[selector]
}

// Remove makes selector unlocatable.
func (d *MemoryDriver) Remove(selector string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missing[selector] = true
}

// Mangle rewrites every value written to selector with fn.
func (d *MemoryDriver) Mangle(selector string, fn func(string) string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mangle[selector] = fn
}

// FailWrites makes the next n writes to selector return an error.
func (d *MemoryDriver) FailWrites(selector string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing[selector] = n
}

// Link fills target with derive(value) whenever selector is written, the
// way a dependent form field is populated by the page.
func (d *MemoryDriver) Link(selector, target string, derive func(string) string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.links[selector] = append(d.links[selector], link{target: target, derive: derive})
}

// Writes returns how many writes selector received.
func (d *MemoryDriver) Writes(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes[selector]
}

// Reads returns how many read-backs selector received.
func (d *MemoryDriver) Reads(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads[selector]
}

func (d *MemoryDriver) Locate(ctx context.Context, selector string) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.missing[selector] {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return Handle(selector), nil
}

func (d *MemoryDriver) Write(ctx context.Context, h Handle, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	selector := string(h)
	d.writes[selector]++
	if d.failing[selector] > 0 {
		d.failing[selector]--
		return fmt.Errorf("write to %s rejected", selector)
	}
	if fn, ok := d.mangle[selector]; ok {
		value = fn(value)
	}
	d.values[selector] = value
	for _, l := range d.links[selector] {
		d.values[l.target] = l.derive(value)
	}
	return nil
}

func (d *MemoryDriver) ReadBack(ctx context.Context, h Handle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads[string(h)]++
	return d.values[string(h)], nil
}
