package vnc

import (
	"fmt"
)

// EncodingType represents a known VNC encoding type.
type EncodingType int32

const (
	EncRaw                       EncodingType = 0
	EncCopyRect                  EncodingType = 1
	EncRRE                       EncodingType = 2
	EncCoRRE                     EncodingType = 4
	EncHextile                   EncodingType = 5
	EncZlib                      EncodingType = 6
	EncTight                     EncodingType = 7
	EncZRLE                      EncodingType = 16
	EncCursorPseudo              EncodingType = -239
	EncDesktopSizePseudo         EncodingType = -223
	EncLastRectPseudo            EncodingType = -224
	EncCompressionLevel9         EncodingType = -247
	EncCompressionLevel0         EncodingType = -256
	EncDesktopNamePseudo         EncodingType = -307
	EncExtendedDesktopSizePseudo EncodingType = -308
)

func (t EncodingType) String() string {
	switch t {
	case EncRaw:
		return "Raw"
	case EncCopyRect:
		return "CopyRect"
	case EncRRE:
		return "RRE"
	case EncCoRRE:
		return "CoRRE"
	case EncHextile:
		return "Hextile"
	case EncZlib:
		return "Zlib"
	case EncTight:
		return "Tight"
	case EncZRLE:
		return "ZRLE"
	case EncCursorPseudo:
		return "Cursor"
	case EncDesktopSizePseudo:
		return "DesktopSize"
	case EncLastRectPseudo:
		return "LastRect"
	case EncDesktopNamePseudo:
		return "DesktopName"
	case EncExtendedDesktopSizePseudo:
		return "ExtendedDesktopSize"
	}
	if t >= EncCompressionLevel0 && t <= EncCompressionLevel9 {
		return fmt.Sprintf("CompressionLevel%d", int(t-EncCompressionLevel0))
	}
	return fmt.Sprintf("EncodingType(%d)", int32(t))
}

// Encoding writes the payload of one rectangle.
type Encoding interface {
	Type() EncodingType
	Write(Conn, *Rectangle) error
}

// compressionLevel returns the zlib level a client asked for with the
// CompressionLevel pseudo-encodings, or -1.
func compressionLevel(encs []EncodingType) int {
	for _, e := range encs {
		if e >= EncCompressionLevel0 && e <= EncCompressionLevel9 {
			return int(e - EncCompressionLevel0)
		}
	}
	return -1
}

func hasEncoding(encs []EncodingType, t EncodingType) bool {
	for _, e := range encs {
		if e == t {
			return true
		}
	}
	return false
}
