package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	cerrors "github.com/adverant/nexus/pnrfill-worker/internal/errors"
)

// Image formats accepted from screenshots and clipboard dumps.
var allowedImageMimes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/tiff": true,
	"image/bmp":  true,
}

// Loader builds RawCaptures from raw bytes, either an image run through a
// Recognizer or a JSON document of pre-recognized spans.
type Loader struct {
	recognizer Recognizer
	maxSize    int64
	now        func() time.Time
}

// NewLoader creates a loader. recognizer may be nil when only span files are
// accepted.
func NewLoader(recognizer Recognizer, maxSize int64) *Loader {
	return &Loader{recognizer: recognizer, maxSize: maxSize, now: time.Now}
}

// LoadFile reads path and builds a capture from it.
func (l *Loader) LoadFile(ctx context.Context, path string) (*RawCapture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.NewCaptureFailedError(path, err)
	}
	return l.Load(ctx, data, Origin{Source: path})
}

// Load sniffs data and dispatches to the span decoder or the recognizer.
// Non-empty origin fields take precedence over ids carried in a span
// document.
func (l *Loader) Load(ctx context.Context, data []byte, origin Origin) (*RawCapture, error) {
	if l.maxSize > 0 && int64(len(data)) > l.maxSize {
		return nil, cerrors.NewCaptureFailedError("input",
			fmt.Errorf("capture is %d bytes, limit is %d", len(data), l.maxSize))
	}

	mime := mimetype.Detect(data)
	switch {
	case mime.Is("application/json"):
		return l.decodeSpans(data, origin)
	case allowedImageMimes[mime.String()]:
		return l.recognize(ctx, data, origin)
	default:
		return nil, cerrors.NewCaptureFailedError("input",
			fmt.Errorf("unsupported capture type %s", mime.String()))
	}
}

func (l *Loader) decodeSpans(data []byte, origin Origin) (*RawCapture, error) {
	var c RawCapture
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, cerrors.NewCaptureFailedError("span document", err)
	}
	if origin.ID != "" {
		c.ID = origin.ID
	}
	if origin.Source != "" {
		c.Source = origin.Source
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CapturedAt.IsZero() {
		c.CapturedAt = l.now()
	}
	return &c, nil
}

func (l *Loader) recognize(ctx context.Context, data []byte, origin Origin) (*RawCapture, error) {
	if l.recognizer == nil {
		return nil, cerrors.NewCaptureFailedError("image", fmt.Errorf("no recognizer configured"))
	}

	spans, err := l.recognizer.Recognize(ctx, data)
	if err != nil {
		return nil, cerrors.NewCaptureFailedError("image", err)
	}

	id := origin.ID
	if id == "" {
		id = uuid.NewString()
	}
	c := &RawCapture{
		ID:         id,
		CapturedAt: l.now(),
		Source:     origin.Source,
		Image:      data,
		Spans:      spans,
	}
	// TIFF and BMP have no registered decoder; Dimensions() falls back to span extents
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		c.Width, c.Height = cfg.Width, cfg.Height
	}
	return c, nil
}
