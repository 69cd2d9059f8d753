package jpegdec

import (
	"fmt"

	"github.com/pkg/errors"
)

// Decode stages. A *DecodeError matches the stage it failed in with errors.Is.
var (
	ErrHeader                = errors.New("jpegdec: could not read the header")
	ErrUnsupportedColorSpace = errors.New("jpegdec: unsupported number of components")
	ErrScanline              = errors.New("jpegdec: could not decompress scanline")
	ErrFinalize              = errors.New("jpegdec: could not finish decompression")
)

// DecodeError reports a failed decode of a single frame. It never leaves
// decoder state or a pixel buffer behind.
type DecodeError struct {
	Stage error
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return e.Stage.Error()
	}
	return fmt.Sprintf("%v: %v", e.Stage, e.Err)
}

// Is matches the stage sentinel.
func (e *DecodeError) Is(target error) bool {
	return target == e.Stage
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func stageError(stage error, err error) *DecodeError {
	return &DecodeError{Stage: stage, Err: err}
}
