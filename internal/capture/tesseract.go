/**
 * Tesseract capture source
 *
 * Runs local Tesseract over a screen image and returns word-level spans.
 */

package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Recognizer turns an image into word spans.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) ([]Span, error)
}

// TesseractRecognizer handles OCR using Tesseract
type TesseractRecognizer struct {
	languages []string
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	// Languages in Tesseract "eng+por" form.
	Languages string
}

// NewTesseractRecognizer creates a new Tesseract recognizer
func NewTesseractRecognizer(cfg *TesseractConfig) *TesseractRecognizer {
	langs := []string{"eng"}
	if cfg != nil && cfg.Languages != "" {
		langs = strings.Split(cfg.Languages, "+")
	}
	return &TesseractRecognizer{languages: langs}
}

// Recognize performs OCR using Tesseract
func (t *TesseractRecognizer) Recognize(ctx context.Context, image []byte) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("failed to set languages %v: %w", t.languages, err)
	}

	// Terminal screens are a single uniform block of text
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	if err := client.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	spans := make([]Span, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		spans = append(spans, Span{
			Text:       word,
			Confidence: clampConfidence(b.Confidence / 100),
			Box: BoundingBox{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
		})
	}

	return spans, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
