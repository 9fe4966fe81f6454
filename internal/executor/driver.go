package executor

import (
	"context"
	"errors"
)

// ErrElementNotFound is returned by Locate when the selector matches no
// element on the form.
var ErrElementNotFound = errors.New("form element not found")

// Handle is a driver-specific reference to a located form element.
type Handle string

// FormDriver is the capability the executor fills the form through.
type FormDriver interface {
	Locate(ctx context.Context, selector string) (Handle, error)
	Write(ctx context.Context, h Handle, value string) error
	ReadBack(ctx context.Context, h Handle) (string, error)
}
