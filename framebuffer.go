package vnc

import (
	"fmt"
	"image"
	"sync/atomic"

	"github.com/pkg/errors"
)

// FramebufferFormat is the memory layout of a Framebuffer.
type FramebufferFormat int

const (
	// FormatRGB888 is packed 8-bit R, G, B, top-down.
	FormatRGB888 FramebufferFormat = iota
)

func (f FramebufferFormat) String() string {
	switch f {
	case FormatRGB888:
		return "RGB888"
	}
	return fmt.Sprintf("FramebufferFormat(%d)", int(f))
}

// MaxDimension is the largest width or height RFB can describe.
const MaxDimension = 1<<16 - 1

// Framebuffer is a reference counted pixel surface. It starts with one
// reference owned by its creator; the memory is dropped when the last
// reference goes.
type Framebuffer struct {
	img    *RGBImage
	format FramebufferFormat
	refs   int32
}

// NewFramebuffer allocates a black framebuffer. stride is in bytes and must
// hold at least one row.
func NewFramebuffer(width, height int, format FramebufferFormat, stride int) (*Framebuffer, error) {
	if format != FormatRGB888 {
		return nil, errors.Errorf("unsupported framebuffer format %v", format)
	}
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return nil, errors.Errorf("invalid framebuffer size %dx%d", width, height)
	}
	if stride < width*3 {
		return nil, errors.Errorf("stride %d shorter than a %d pixel row", stride, width)
	}
	return &Framebuffer{
		img: &RGBImage{
			Pix:    make([]byte, stride*height),
			Stride: stride,
			Rect:   image.Rect(0, 0, width, height),
		},
		format: format,
		refs:   1,
	}, nil
}

// Pix is the backing memory, Stride bytes per row. It is nil once the last
// reference is gone.
func (fb *Framebuffer) Pix() []byte {
	if fb.img == nil {
		return nil
	}
	return fb.img.Pix
}

func (fb *Framebuffer) Width() int                { return fb.img.Rect.Dx() }
func (fb *Framebuffer) Height() int               { return fb.img.Rect.Dy() }
func (fb *Framebuffer) Stride() int               { return fb.img.Stride }
func (fb *Framebuffer) Format() FramebufferFormat { return fb.format }
func (fb *Framebuffer) Bounds() image.Rectangle   { return fb.img.Rect }

// Image exposes the pixels as an image.Image sharing the same memory.
func (fb *Framebuffer) Image() *RGBImage {
	return fb.img
}

// Ref adds a reference.
func (fb *Framebuffer) Ref() {
	atomic.AddInt32(&fb.refs, 1)
}

// Unref drops a reference. The pixel memory is released with the last one.
func (fb *Framebuffer) Unref() {
	switch n := atomic.AddInt32(&fb.refs, -1); {
	case n == 0:
		fb.img = &RGBImage{Stride: fb.img.Stride, Rect: fb.img.Rect}
	case n < 0:
		panic("vnc: framebuffer unreferenced too many times")
	}
}

// Released reports whether the last reference is gone.
func (fb *Framebuffer) Released() bool {
	return atomic.LoadInt32(&fb.refs) <= 0
}
