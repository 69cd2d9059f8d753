package jpegdec

import (
	"image"
	"image/color"
	"image/jpeg"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Header is what the decoder needs to know about a frame before decoding it.
type Header struct {
	Width      int
	Height     int
	Components int
}

// Options tune a decode for throughput over fidelity.
type Options struct {
	// FastDCT selects the fastest inverse DCT the codec offers.
	FastDCT bool
	// FancyUpsampling enables smooth chroma upsampling.
	FancyUpsampling bool
}

// DefaultOptions suit continuous video.
var DefaultOptions = Options{FastDCT: true, FancyUpsampling: false}

// Codec is a JPEG backend. Start begins decompressing src, whose header has
// already been validated, and returns a Scanner over the output rows.
type Codec interface {
	Name() string
	Start(src Source, hdr Header, opts Options) (Scanner, error)
}

// Scanner yields decoded rows top-down as packed RGB.
type Scanner interface {
	// ReadScanline decodes the next row into dst (width*3 bytes).
	ReadScanline(dst []byte) error
	// Finish completes the decompression once every row was read.
	Finish() error
	// Close releases the decompressor. It is safe after Finish and on
	// every error path.
	Close()
}

var (
	codecsMu sync.RWMutex
	codecs   = map[string]Codec{}
)

// Register makes a codec available by name.
func Register(c Codec) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	codecs[c.Name()] = c
}

// Lookup returns the named codec.
func Lookup(name string) (Codec, error) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	c, ok := codecs[name]
	if !ok {
		return nil, errors.Errorf("jpegdec: unknown codec %q (available: %v)", name, codecNames())
	}
	return c, nil
}

func codecNames() []string {
	names := make([]string, 0, len(codecs))
	for n := range codecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(GoCodec{})
}

// readHeader parses the frame header without decoding any pixel data.
func readHeader(src Source) (Header, error) {
	defer src.Rewind()
	cfg, err := jpeg.DecodeConfig(src)
	if err != nil {
		return Header{}, err
	}
	hdr := Header{Width: cfg.Width, Height: cfg.Height}
	switch cfg.ColorModel {
	case color.GrayModel:
		hdr.Components = 1
	case color.CMYKModel:
		hdr.Components = 4
	default:
		hdr.Components = 3
	}
	return hdr, nil
}

// GoCodec decodes with image/jpeg. Its IDCT and upsampling are fixed, so
// Options are accepted and ignored.
type GoCodec struct{}

func (GoCodec) Name() string { return "go" }

func (GoCodec) Start(src Source, hdr Header, _ Options) (Scanner, error) {
	img, err := jpeg.Decode(src)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() != hdr.Width || b.Dy() != hdr.Height {
		return nil, errors.Errorf("decoded %dx%d, header says %dx%d", b.Dx(), b.Dy(), hdr.Width, hdr.Height)
	}
	return &goScanner{img: img, width: hdr.Width, height: hdr.Height}, nil
}

type goScanner struct {
	img    image.Image
	width  int
	height int
	y      int
}

func (s *goScanner) ReadScanline(dst []byte) error {
	if s.img == nil {
		return errors.New("scanner closed")
	}
	if s.y >= s.height {
		return errors.New("read past last scanline")
	}
	if len(dst) < s.width*3 {
		return errors.Errorf("row buffer %d < %d", len(dst), s.width*3)
	}
	b := s.img.Bounds()
	y := b.Min.Y + s.y
	switch img := s.img.(type) {
	case *image.YCbCr:
		for x := 0; x < s.width; x++ {
			yi := img.YOffset(b.Min.X+x, y)
			ci := img.COffset(b.Min.X+x, y)
			r, g, bl := color.YCbCrToRGB(img.Y[yi], img.Cb[ci], img.Cr[ci])
			dst[3*x], dst[3*x+1], dst[3*x+2] = r, g, bl
		}
	case *image.RGBA:
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < s.width; x++ {
			dst[3*x], dst[3*x+1], dst[3*x+2] = row[4*x], row[4*x+1], row[4*x+2]
		}
	default:
		return errors.Errorf("unexpected decoded image %T", s.img)
	}
	s.y++
	return nil
}

func (s *goScanner) Finish() error {
	if s.img == nil {
		return errors.New("scanner closed")
	}
	if s.y != s.height {
		return errors.Errorf("finished after %d of %d scanlines", s.y, s.height)
	}
	return nil
}

func (s *goScanner) Close() {
	s.img = nil
}
