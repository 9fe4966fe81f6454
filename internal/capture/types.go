/**
 * Capture Types - Shared data structures for screen captures
 *
 * A RawCapture is what the capture source hands to the extractor: the image
 * (optional) and every recognized word with its box and confidence.
 */

package capture

import (
	"time"
)

// RawCapture is a timestamped screen image plus its recognized spans.
// It is not modified after construction.
type RawCapture struct {
	ID         string    `json:"id"`
	CapturedAt time.Time `json:"capturedAt"`
	Source     string    `json:"source,omitempty"`
	Image      []byte    `json:"-"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Spans      []Span    `json:"spans"`
}

// Origin identifies where a capture came from. Empty fields are filled by
// the loader.
type Origin struct {
	ID     string
	Source string
}

// Span represents a single recognized word with bounding box
type Span struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"` // 0..1
	Box        BoundingBox `json:"box"`
}

// BoundingBox represents coordinates of a region
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Right is the exclusive right edge.
func (b BoundingBox) Right() int { return b.X + b.Width }

// Bottom is the exclusive bottom edge.
func (b BoundingBox) Bottom() int { return b.Y + b.Height }

// Center returns the box midpoint.
func (b BoundingBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.Width)/2, float64(b.Y) + float64(b.Height)/2
}

// Union returns the smallest box containing both b and o. A zero box is
// treated as empty.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	if b == (BoundingBox{}) {
		return o
	}
	if o == (BoundingBox{}) {
		return b
	}
	x0, y0 := min(b.X, o.X), min(b.Y, o.Y)
	x1, y1 := max(b.Right(), o.Right()), max(b.Bottom(), o.Bottom())
	return BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Dimensions returns the capture size, falling back to the extent of the
// spans when the source did not report one.
func (c *RawCapture) Dimensions() (int, int) {
	if c.Width > 0 && c.Height > 0 {
		return c.Width, c.Height
	}
	w, h := 0, 0
	for _, s := range c.Spans {
		w = max(w, s.Box.Right())
		h = max(h, s.Box.Bottom())
	}
	return w, h
}
