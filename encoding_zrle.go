package vnc

import (
	"bytes"
	"encoding/binary"
	"image"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ZRLE tile subencodings, RFC 6143 7.7.6.
const (
	zrleRaw   = 0
	zrleSolid = 1
)

const zrleTileSize = 64

// ZRLEEncoding sends 64x64 tiles through a zlib stream that lives as long
// as the connection. Solid tiles take one CPIXEL, others are raw CPIXELs.
type ZRLEEncoding struct {
	Level int

	zw   *zlib.Writer
	out  bytes.Buffer
	tile []byte
	cpix []byte
}

// NewZRLEEncoding returns a ZRLE encoder at level, or the default level
// for a negative one.
func NewZRLEEncoding(level int) *ZRLEEncoding {
	if level < 0 || level > zlib.BestCompression {
		level = zlib.DefaultCompression
	}
	return &ZRLEEncoding{Level: level}
}

func (*ZRLEEncoding) Type() EncodingType {
	return EncZRLE
}

// cpixelLayout returns the CPIXEL size for pf and the offset of its bytes
// inside a full pixel.
func cpixelLayout(pf PixelFormat) (size, offset int) {
	if pf.TrueColor == 0 || pf.BPP != 32 || pf.Depth > 24 {
		return pf.BytesPerPixel(), 0
	}
	mask := uint32(pf.RedMax)<<pf.RedShift | uint32(pf.GreenMax)<<pf.GreenShift | uint32(pf.BlueMax)<<pf.BlueShift
	lowFits := mask&0xff000000 == 0
	highFits := mask&0x000000ff == 0
	switch {
	case lowFits && pf.BigEndian == 0, highFits && pf.BigEndian != 0:
		return 3, 0
	case lowFits, highFits:
		return 3, 1
	}
	return 4, 0
}

func (enc *ZRLEEncoding) Write(c Conn, rect *Rectangle) error {
	pf := c.PixelFormat()
	img, b, err := rectSource(rect)
	if err != nil {
		return err
	}
	if enc.zw == nil {
		zw, err := zlib.NewWriterLevel(&enc.out, enc.Level)
		if err != nil {
			return err
		}
		enc.zw = zw
	}
	enc.out.Reset()

	bpp := pf.BytesPerPixel()
	size, offset := cpixelLayout(pf)
	for ty := b.Min.Y; ty < b.Max.Y; ty += zrleTileSize {
		for tx := b.Min.X; tx < b.Max.X; tx += zrleTileSize {
			t := image.Rect(tx, ty, min(tx+zrleTileSize, b.Max.X), min(ty+zrleTileSize, b.Max.Y))
			tile, isSolid := translateTile(pf, img, t, &enc.tile)

			if isSolid {
				if err := writeTile(enc.zw, zrleSolid, tile[offset:offset+size]); err != nil {
					return err
				}
				continue
			}
			if size == bpp {
				if err := writeTile(enc.zw, zrleRaw, tile); err != nil {
					return err
				}
				continue
			}
			cpix := grow(&enc.cpix, len(tile)/bpp*size)
			for i, j := 0, 0; i < len(tile); i, j = i+bpp, j+size {
				copy(cpix[j:j+size], tile[i+offset:i+offset+size])
			}
			if err := writeTile(enc.zw, zrleRaw, cpix); err != nil {
				return err
			}
		}
	}
	if err := enc.zw.Flush(); err != nil {
		return err
	}
	if err := binary.Write(c, binary.BigEndian, uint32(enc.out.Len())); err != nil {
		return err
	}
	_, err = c.Write(enc.out.Bytes())
	return err
}

// writeTile writes one subencoding byte followed by its CPIXELs.
func writeTile(w io.Writer, subencoding byte, cpixels []byte) error {
	if _, err := w.Write([]byte{subencoding}); err != nil {
		return err
	}
	_, err := w.Write(cpixels)
	return err
}

// Close releases the compressor.
func (enc *ZRLEEncoding) Close() error {
	if enc.zw == nil {
		return nil
	}
	err := enc.zw.Close()
	enc.zw = nil
	return err
}
