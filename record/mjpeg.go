// Package record writes the compressed input frames to an MJPEG AVI file.
package record

import (
	"strings"
	"sync"

	"github.com/amitbet/jpeg2vnc/logger"
	"github.com/icza/mjpeg"
	"github.com/pkg/errors"
)

// ErrSizeChanged is returned for frames whose size differs from the first
// recorded frame. AVI streams have a fixed frame size.
var ErrSizeChanged = errors.New("record: frame size changed")

// ErrClosed is returned by AddFrame after Close.
var ErrClosed = errors.New("record: closed")

// MJPegRecorder appends JPEG frames to an AVI file as they are. The file
// is created with the dimensions of the first frame.
type MJPegRecorder struct {
	Path      string
	Framerate int32

	mu            sync.Mutex
	avWriter      mjpeg.AviWriter
	width, height int
	frames        uint64
	closed        bool
}

// NewMJPegRecorder returns a recorder writing to path, adding the .avi
// extension when missing.
func NewMJPegRecorder(path string, framerate int32) *MJPegRecorder {
	fileExt := ".avi"
	if !strings.HasSuffix(path, fileExt) {
		path = path + fileExt
	}
	if framerate <= 0 {
		framerate = 5
	}
	return &MJPegRecorder{Path: path, Framerate: framerate}
}

func (enc *MJPegRecorder) init(width, height int) error {
	avWriter, err := mjpeg.New(enc.Path, int32(width), int32(height), enc.Framerate)
	if err != nil {
		return errors.Wrap(err, "record: creating avi")
	}
	enc.avWriter = avWriter
	enc.width, enc.height = width, height
	logger.Infof("record: writing %dx%d frames to %s", width, height, enc.Path)
	return nil
}

// AddFrame appends one JPEG frame of the given size.
func (enc *MJPegRecorder) AddFrame(jpegData []byte, width, height int) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()

	if enc.closed {
		return ErrClosed
	}
	if enc.avWriter == nil {
		if err := enc.init(width, height); err != nil {
			return err
		}
	}
	if width != enc.width || height != enc.height {
		return errors.Wrapf(ErrSizeChanged, "%dx%d, recording %dx%d", width, height, enc.width, enc.height)
	}
	if err := enc.avWriter.AddFrame(jpegData); err != nil {
		return errors.Wrap(err, "record: adding frame")
	}
	enc.frames++
	return nil
}

// Frames returns the number of frames written.
func (enc *MJPegRecorder) Frames() uint64 {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	return enc.frames
}

// Close finishes the AVI index. A recorder that never got a frame leaves
// no file behind.
func (enc *MJPegRecorder) Close() error {
	enc.mu.Lock()
	defer enc.mu.Unlock()

	if enc.closed {
		return nil
	}
	enc.closed = true
	if enc.avWriter == nil {
		return nil
	}
	if err := enc.avWriter.Close(); err != nil {
		return errors.Wrap(err, "record: closing avi")
	}
	return nil
}
