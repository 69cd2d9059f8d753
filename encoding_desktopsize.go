package vnc

// DesktopSizePseudoEncoding tells the viewer the framebuffer changed size.
// The new size travels in the rectangle header; there is no payload.
type DesktopSizePseudoEncoding struct{}

func (*DesktopSizePseudoEncoding) Type() EncodingType { return EncDesktopSizePseudo }

func (*DesktopSizePseudoEncoding) Write(c Conn, rect *Rectangle) error {
	c.SetWidth(rect.Width)
	c.SetHeight(rect.Height)
	return nil
}
