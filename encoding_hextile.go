package vnc

import (
	"bytes"
	"image"
)

// Hextile subencoding flags, RFC 6143 7.7.4.
const (
	HextileRaw                 = 1
	HextileBackgroundSpecified = 2
	HextileForegroundSpecified = 4
	HextileAnySubrects         = 8
	HextileSubrectsColoured    = 16
)

const hextileTileSize = 16

// HextileEncoding splits rectangles into 16x16 tiles. Solid tiles are sent
// as their background colour, or as a single byte when the colour repeats;
// everything else goes raw.
type HextileEncoding struct {
	tile []byte
}

func (*HextileEncoding) Type() EncodingType {
	return EncHextile
}

func (enc *HextileEncoding) Write(c Conn, rect *Rectangle) error {
	pf := c.PixelFormat()
	img, b, err := rectSource(rect)
	if err != nil {
		return err
	}
	bpp := pf.BytesPerPixel()
	bg := make([]byte, bpp)
	bgValid := false

	for ty := b.Min.Y; ty < b.Max.Y; ty += hextileTileSize {
		for tx := b.Min.X; tx < b.Max.X; tx += hextileTileSize {
			t := image.Rect(tx, ty, min(tx+hextileTileSize, b.Max.X), min(ty+hextileTileSize, b.Max.Y))
			tile, isSolid := translateTile(pf, img, t, &enc.tile)

			switch {
			case isSolid && bgValid && bytes.Equal(bg, tile[:bpp]):
				_, err = c.Write([]byte{0})
			case isSolid:
				copy(bg, tile[:bpp])
				bgValid = true
				if _, err = c.Write([]byte{HextileBackgroundSpecified}); err == nil {
					_, err = c.Write(bg)
				}
			default:
				// a raw tile leaves the background undefined for the next one
				bgValid = false
				if _, err = c.Write([]byte{HextileRaw}); err == nil {
					_, err = c.Write(tile)
				}
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// translateTile packs tile t of img into buf in format pf and reports
// whether all of its pixels are equal.
func translateTile(pf PixelFormat, img *RGBImage, t image.Rectangle, buf *[]byte) ([]byte, bool) {
	bpp := pf.BytesPerPixel()
	rowLen := t.Dx() * bpp
	tile := grow(buf, rowLen*t.Dy())
	for y := 0; y < t.Dy(); y++ {
		pf.translateRow(tile[y*rowLen:(y+1)*rowLen], img.Row(t.Min.Y+y, t.Min.X, t.Max.X))
	}
	for i := bpp; i < len(tile); i += bpp {
		if !bytes.Equal(tile[i:i+bpp], tile[:bpp]) {
			return tile, false
		}
	}
	return tile, true
}
