package vnc

import "encoding/binary"

// DesktopNamePseudoEncoding renames the desktop on a viewer that asked for it.
type DesktopNamePseudoEncoding struct {
	Name []byte
}

func (*DesktopNamePseudoEncoding) Type() EncodingType { return EncDesktopNamePseudo }

func (enc *DesktopNamePseudoEncoding) Write(c Conn, rect *Rectangle) error {
	if err := binary.Write(c, binary.BigEndian, uint32(len(enc.Name))); err != nil {
		return err
	}
	if _, err := c.Write(enc.Name); err != nil {
		return err
	}
	c.SetDesktopName(enc.Name)
	return nil
}
