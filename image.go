package vnc

import (
	"encoding/binary"
	"fmt"
	"image"
)

// Rectangle represents a rectangle of pixel data.
type Rectangle struct {
	X, Y          uint16
	Width, Height uint16
	Enc           Encoding
	// Source holds the pixels for encodings that carry any.
	Source *Framebuffer
}

// NewRectangle describes r of src encoded with enc.
func NewRectangle(r image.Rectangle, enc Encoding, src *Framebuffer) *Rectangle {
	return &Rectangle{
		X:      uint16(r.Min.X),
		Y:      uint16(r.Min.Y),
		Width:  uint16(r.Dx()),
		Height: uint16(r.Dy()),
		Enc:    enc,
		Source: src,
	}
}

func (r *Rectangle) String() string {
	return fmt.Sprintf("X,Y:%d,%d W,H:%d,%d enc:%v", r.X, r.Y, r.Width, r.Height, r.Enc.Type())
}

// Write sends the rectangle header and its encoded payload.
func (r *Rectangle) Write(c Conn) error {
	hdr := struct {
		X, Y          uint16
		Width, Height uint16
		Enc           EncodingType
	}{r.X, r.Y, r.Width, r.Height, r.Enc.Type()}
	if err := binary.Write(c, binary.BigEndian, &hdr); err != nil {
		return err
	}
	return r.Enc.Write(c, r)
}

// Bounds as an image.Rectangle.
func (r *Rectangle) Bounds() image.Rectangle {
	return image.Rect(int(r.X), int(r.Y), int(r.X)+int(r.Width), int(r.Y)+int(r.Height))
}

// Area returns the total area in pixels of the Rectangle.
func (r *Rectangle) Area() int { return int(r.Width) * int(r.Height) }
