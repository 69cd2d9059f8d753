package output

import (
	"image"

	vnc "github.com/amitbet/jpeg2vnc"
	"github.com/amitbet/jpeg2vnc/jpegdec"
	"github.com/pkg/errors"
)

// Display accepts whole frames. *vnc.Display implements it.
type Display interface {
	FeedBuffer(fb *vnc.Framebuffer, damage vnc.Region) error
}

func framebufferFormat(f jpegdec.PixelFormat) (vnc.FramebufferFormat, error) {
	switch f {
	case jpegdec.FormatRGB888:
		return vnc.FormatRGB888, nil
	}
	return 0, errors.Errorf("no framebuffer format for %v", f)
}

// Feed copies px into a new framebuffer and submits it to d with the whole
// frame damaged. The framebuffer reference taken here is dropped before
// Feed returns, whatever the outcome; px stays owned by the caller.
func Feed(d Display, px *jpegdec.PixelBuffer) error {
	if px == nil || px.Data == nil {
		return &FeedError{Op: "copy", Err: errors.New("empty pixel buffer")}
	}
	format, err := framebufferFormat(px.Format)
	if err != nil {
		return &FeedError{Op: "format", Err: err}
	}
	fb, err := vnc.NewFramebuffer(px.Width, px.Height, format, px.Stride)
	if err != nil {
		return &FeedError{Op: "allocate", Err: err}
	}
	defer fb.Unref()

	pix := fb.Pix()
	if len(px.Data) < len(pix) {
		return &FeedError{Op: "copy", Err: errors.Errorf("pixel buffer holds %d bytes, framebuffer needs %d", len(px.Data), len(pix))}
	}
	copy(pix, px.Data)

	damage := vnc.NewRegion(image.Rect(0, 0, px.Width, px.Height))
	if err := d.FeedBuffer(fb, damage); err != nil {
		return &FeedError{Op: "submit", Err: err}
	}
	return nil
}
