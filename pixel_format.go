// Implementation of RFC 6143 §7.4 Pixel Format Data Structure.

package vnc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

var (
	// PixelFormat16bit is RGB565, little endian.
	PixelFormat16bit = NewPixelFormat(16)
	// PixelFormat32bit is XRGB8888, little endian. It is what the server
	// announces in ServerInit.
	PixelFormat32bit = NewPixelFormat(32)
)

// PixelFormat describes the way a pixel is formatted for a VNC connection
type PixelFormat struct {
	BPP                             uint8   // bits-per-pixel
	Depth                           uint8   // depth
	BigEndian                       uint8   // big-endian-flag
	TrueColor                       uint8   // true-color-flag
	RedMax, GreenMax, BlueMax       uint16  // red-, green-, blue-max (2^BPP-1)
	RedShift, GreenShift, BlueShift uint8   // red-, green-, blue-shift
	_                               [3]byte // padding
}

const pixelFormatLen = 16

// NewPixelFormat returns a true colour format for bpp 8, 16 or 32.
func NewPixelFormat(bpp uint8) PixelFormat {
	pf := PixelFormat{BPP: bpp, TrueColor: 1}
	switch bpp {
	case 8:
		pf.Depth = 8
		pf.RedMax, pf.GreenMax, pf.BlueMax = 7, 7, 3
		pf.RedShift, pf.GreenShift, pf.BlueShift = 0, 3, 6
	case 16:
		pf.Depth = 16
		pf.RedMax, pf.GreenMax, pf.BlueMax = 31, 63, 31
		pf.RedShift, pf.GreenShift, pf.BlueShift = 11, 5, 0
	default:
		pf.BPP = 32
		pf.Depth = 24
		pf.RedMax, pf.GreenMax, pf.BlueMax = 255, 255, 255
		pf.RedShift, pf.GreenShift, pf.BlueShift = 16, 8, 0
	}
	return pf
}

// Validate reports whether the server can produce pixels in this format.
func (pf PixelFormat) Validate() error {
	switch pf.BPP {
	case 8, 16, 32:
	default:
		return errors.Errorf("invalid BPP value %v; must be 8, 16, or 32", pf.BPP)
	}
	if pf.TrueColor == 0 {
		return errors.New("colour map pixel formats are not supported")
	}
	if pf.RedMax == 0 || pf.GreenMax == 0 || pf.BlueMax == 0 {
		return errors.New("zero colour max")
	}
	if pf.RedShift >= pf.BPP || pf.GreenShift >= pf.BPP || pf.BlueShift >= pf.BPP {
		return errors.New("colour shift outside the pixel")
	}
	return nil
}

// Read reads a PixelFormat from r.
func (pf *PixelFormat) Read(r io.Reader) error {
	return binary.Read(r, binary.BigEndian, pf)
}

// Write writes pf in wire format.
func (pf PixelFormat) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, &pf)
}

// String implements the fmt.Stringer interface
func (pf PixelFormat) String() string {
	return fmt.Sprintf("{ bpp: %d depth: %d big-endian: %d true-color: %d red-max: %d green-max: %d blue-max: %d red-shift: %d green-shift: %d blue-shift: %d }",
		pf.BPP, pf.Depth, pf.BigEndian, pf.TrueColor, pf.RedMax, pf.GreenMax, pf.BlueMax, pf.RedShift, pf.GreenShift, pf.BlueShift)
}

func (pf PixelFormat) order() binary.ByteOrder {
	if pf.BigEndian == 1 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// BytesPerPixel on the wire.
func (pf PixelFormat) BytesPerPixel() int {
	return int(pf.BPP) / 8
}

func scale(v uint8, max uint16) uint32 {
	return (uint32(v)*uint32(max) + 127) / 255
}

// Pixel packs an 8-bit RGB triple.
func (pf PixelFormat) Pixel(r, g, b uint8) uint32 {
	return scale(r, pf.RedMax)<<pf.RedShift |
		scale(g, pf.GreenMax)<<pf.GreenShift |
		scale(b, pf.BlueMax)<<pf.BlueShift
}

// PutPixel stores p at the start of dst using BytesPerPixel bytes.
func (pf PixelFormat) PutPixel(dst []byte, p uint32) {
	switch pf.BPP {
	case 8:
		dst[0] = byte(p)
	case 16:
		pf.order().PutUint16(dst, uint16(p))
	case 32:
		pf.order().PutUint32(dst, p)
	}
}

// RGB reverses Pixel, widening each component back to 8 bits.
func (pf PixelFormat) RGB(p uint32) (r, g, b uint8) {
	widen := func(v uint32, max uint16) uint8 {
		return uint8((v&uint32(max))*255/uint32(max))
	}
	return widen(p>>pf.RedShift, pf.RedMax), widen(p>>pf.GreenShift, pf.GreenMax), widen(p>>pf.BlueShift, pf.BlueMax)
}

// Uint reads one pixel from src.
func (pf PixelFormat) Uint(src []byte) uint32 {
	switch pf.BPP {
	case 8:
		return uint32(src[0])
	case 16:
		return uint32(pf.order().Uint16(src))
	}
	return pf.order().Uint32(src)
}

// translateRow converts packed RGB888 pixels into dst in this format.
// dst must hold len(src)/3*BytesPerPixel bytes.
func (pf PixelFormat) translateRow(dst, src []byte) {
	bpp := pf.BytesPerPixel()
	if pf.BPP == 32 && pf.RedMax == 255 && pf.GreenMax == 255 && pf.BlueMax == 255 &&
		pf.RedShift%8 == 0 && pf.GreenShift%8 == 0 && pf.BlueShift%8 == 0 {
		ri, gi, bi := int(pf.RedShift/8), int(pf.GreenShift/8), int(pf.BlueShift/8)
		if pf.BigEndian == 1 {
			ri, gi, bi = 3-ri, 3-gi, 3-bi
		}
		for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
			dst[j], dst[j+1], dst[j+2], dst[j+3] = 0, 0, 0, 0
			dst[j+ri], dst[j+gi], dst[j+bi] = src[i], src[i+1], src[i+2]
		}
		return
	}
	for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+bpp {
		pf.PutPixel(dst[j:], pf.Pixel(src[i], src[i+1], src[i+2]))
	}
}
