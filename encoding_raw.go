package vnc

import (
	"image"
	"io"

	"github.com/pkg/errors"
)

// RawEncoding sends pixels uncompressed in the viewer's pixel format.
type RawEncoding struct {
	row []byte
}

func (*RawEncoding) Type() EncodingType { return EncRaw }

func (enc *RawEncoding) Write(c Conn, rect *Rectangle) error {
	return writePixels(c, c.PixelFormat(), rect, &enc.row)
}

// writePixels translates the rectangle row by row into w. row is scratch
// space reused between calls.
func writePixels(w io.Writer, pf PixelFormat, rect *Rectangle, row *[]byte) error {
	img, b, err := rectSource(rect)
	if err != nil {
		return err
	}
	buf := grow(row, b.Dx()*pf.BytesPerPixel())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		pf.translateRow(buf, img.Row(y, b.Min.X, b.Max.X))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// rectSource returns the pixels behind rect and its bounds.
func rectSource(rect *Rectangle) (*RGBImage, image.Rectangle, error) {
	src := rect.Source
	if src == nil || src.Released() {
		return nil, image.Rectangle{}, errors.New("rectangle has no pixel source")
	}
	b := rect.Bounds()
	if !b.In(src.Bounds()) {
		return nil, image.Rectangle{}, errors.Errorf("rectangle %v outside framebuffer %v", b, src.Bounds())
	}
	return src.Image(), b, nil
}

// grow returns (*buf)[:n], reallocating when it is too small.
func grow(buf *[]byte, n int) []byte {
	if cap(*buf) < n {
		*buf = make([]byte, n)
	}
	return (*buf)[:n]
}
