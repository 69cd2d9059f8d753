package vnc

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/zlib"
)

// ZLibEncoding sends raw pixels through one zlib stream that lives as long
// as the connection; each rectangle is a sync-flushed chunk of it.
type ZLibEncoding struct {
	Level int

	zw  *zlib.Writer
	out bytes.Buffer
	row []byte
}

// NewZLibEncoding returns a zlib encoder at level, or the default level
// for a negative one.
func NewZLibEncoding(level int) *ZLibEncoding {
	if level < 0 || level > zlib.BestCompression {
		level = zlib.DefaultCompression
	}
	return &ZLibEncoding{Level: level}
}

func (*ZLibEncoding) Type() EncodingType {
	return EncZlib
}

func (enc *ZLibEncoding) Write(c Conn, rect *Rectangle) error {
	if enc.zw == nil {
		zw, err := zlib.NewWriterLevel(&enc.out, enc.Level)
		if err != nil {
			return err
		}
		enc.zw = zw
	}
	enc.out.Reset()
	if err := writePixels(enc.zw, c.PixelFormat(), rect, &enc.row); err != nil {
		return err
	}
	if err := enc.zw.Flush(); err != nil {
		return err
	}
	if err := binary.Write(c, binary.BigEndian, uint32(enc.out.Len())); err != nil {
		return err
	}
	_, err := c.Write(enc.out.Bytes())
	return err
}

// Close releases the compressor.
func (enc *ZLibEncoding) Close() error {
	if enc.zw == nil {
		return nil
	}
	err := enc.zw.Close()
	enc.zw = nil
	return err
}
