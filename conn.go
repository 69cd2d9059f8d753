package vnc

import (
	"io"
	"net"
)

// Conn is the server side view of one viewer connection.
type Conn interface {
	io.ReadWriteCloser
	Conn() net.Conn
	ID() string
	Protocol() string
	SetProtoVersion(string)
	PixelFormat() PixelFormat
	SetPixelFormat(PixelFormat) error
	Encodings() []EncodingType
	SetEncodings([]EncodingType) error
	Width() uint16
	Height() uint16
	SetWidth(uint16)
	SetHeight(uint16)
	DesktopName() []byte
	SetDesktopName([]byte)
	Flush() error
}
