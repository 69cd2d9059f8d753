// Package jpegdec decodes in-memory JPEG frames into packed RGB buffers.
//
// Every failure is returned as a *DecodeError; a corrupt frame costs that
// frame only and leaves nothing allocated behind.
package jpegdec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// PixelFormat of a decoded buffer.
type PixelFormat int

const (
	// FormatRGB888 is packed 8-bit R, G, B, top-down.
	FormatRGB888 PixelFormat = iota
)

func (f PixelFormat) String() string {
	switch f {
	case FormatRGB888:
		return "RGB888"
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// DefaultMaxPixels bounds the frame area a header may announce.
const DefaultMaxPixels = 8192 * 8192

// PixelBuffer is one decoded frame.
type PixelBuffer struct {
	Width  int
	Height int
	Stride int
	Format PixelFormat
	Data   []byte
}

// Release drops the pixel data. It is safe to call more than once.
func (p *PixelBuffer) Release() {
	p.Data = nil
}

// Decoder turns compressed frames into PixelBuffers. A Decoder is owned by
// one goroutine; it is not safe for concurrent use.
type Decoder struct {
	codec     Codec
	opts      Options
	maxPixels int
	src       memSource
}

// NewDecoder returns a decoder using codec with DefaultOptions.
func NewDecoder(codec Codec) *Decoder {
	if codec == nil {
		codec = GoCodec{}
	}
	return &Decoder{codec: codec, opts: DefaultOptions, maxPixels: DefaultMaxPixels}
}

// SetOptions changes the decode parameters.
func (d *Decoder) SetOptions(opts Options) {
	d.opts = opts
}

// SetMaxPixels bounds the frame area; larger headers fail with ErrHeader.
func (d *Decoder) SetMaxPixels(n int) {
	if n > 0 {
		d.maxPixels = n
	}
}

// Codec returns the backend in use.
func (d *Decoder) Codec() Codec {
	return d.codec
}

// Decode decodes compressed into a freshly allocated RGB888 buffer of
// width*height*3 bytes with a stride of width*3.
func (d *Decoder) Decode(compressed []byte) (px *PixelBuffer, err error) {
	stage := ErrHeader
	var scanner Scanner
	defer func() {
		if r := recover(); r != nil {
			err = stageError(stage, errors.Errorf("codec panic: %v", r))
		}
		if err != nil {
			if scanner != nil {
				scanner.Close()
			}
			if px != nil {
				px.Release()
				px = nil
			}
		}
		d.src.reset(nil)
	}()

	d.src.reset(compressed)
	hdr, err := readHeader(&d.src)
	if err != nil {
		return nil, stageError(ErrHeader, err)
	}
	if hdr.Width <= 0 || hdr.Height <= 0 || hdr.Width*hdr.Height > d.maxPixels {
		return nil, stageError(ErrHeader, errors.Errorf("invalid frame size %dx%d", hdr.Width, hdr.Height))
	}

	stage = ErrUnsupportedColorSpace
	if hdr.Components != 3 {
		return nil, stageError(ErrUnsupportedColorSpace, errors.Errorf("%d components", hdr.Components))
	}

	stage = ErrScanline
	if err := checkScan(compressed); err != nil {
		return nil, stageError(ErrScanline, err)
	}
	scanner, err = d.codec.Start(&d.src, hdr, d.opts)
	if err != nil {
		return nil, stageError(ErrScanline, errors.Wrap(err, "could not start decompression"))
	}

	stride := hdr.Width * 3
	px = &PixelBuffer{
		Width:  hdr.Width,
		Height: hdr.Height,
		Stride: stride,
		Format: FormatRGB888,
		Data:   make([]byte, stride*hdr.Height),
	}
	for y := 0; y < hdr.Height; y++ {
		if err = scanner.ReadScanline(px.Data[y*stride : (y+1)*stride]); err != nil {
			return nil, stageError(ErrScanline, errors.Wrapf(err, "line %d", y))
		}
	}

	stage = ErrFinalize
	if err = scanner.Finish(); err != nil {
		return nil, stageError(ErrFinalize, err)
	}
	scanner.Close()
	scanner = nil
	return px, nil
}

var eoiMarker = []byte{0xff, 0xd9}

// checkScan walks the marker segments up to the first scan and makes sure
// an EOI marker follows it. libjpeg fills a truncated scan with zeros and
// only warns. Entropy-coded data stuffs every 0xff, so any 0xffd9 after
// the scan start ends the image.
func checkScan(data []byte) error {
	off := 2
	for off+2 <= len(data) {
		if data[off] != 0xff {
			return errors.Errorf("no marker at offset %d", off)
		}
		switch m := data[off+1]; {
		case m == 0xff:
			off++
			continue
		case m == 0x01, m >= 0xd0 && m <= 0xd8:
			off += 2
			continue
		case m == 0xd9:
			return errors.New("end of image before any scan")
		case m == 0xda:
			if bytes.LastIndex(data[off+2:], eoiMarker) < 0 {
				return errors.New("scan data ends before the end of image")
			}
			return nil
		}
		if off+4 > len(data) {
			break
		}
		off += 2 + int(binary.BigEndian.Uint16(data[off+2:]))
	}
	return errors.New("no scan in frame")
}
