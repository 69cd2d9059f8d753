package jpegdec

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeSolid(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func encodeGray(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// cmykHeader is an SOI, a baseline SOF with four components and the start
// of a scan; enough for the header to be read.
func cmykHeader() []byte {
	return []byte{
		0xff, 0xd8,
		0xff, 0xc0, 0x00, 0x14, 0x08, 0x00, 0x08, 0x00, 0x08, 0x04,
		0x01, 0x11, 0x00,
		0x02, 0x11, 0x00,
		0x03, 0x11, 0x00,
		0x04, 0x11, 0x00,
		0xff, 0xda, 0x00, 0x0e,
	}
}

func assertNear(t *testing.T, want, got byte, tolerance int, msgAndArgs ...interface{}) {
	t.Helper()
	d := int(want) - int(got)
	if d < 0 {
		d = -d
	}
	assert.LessOrEqual(t, d, tolerance, msgAndArgs...)
}

func TestDecodeRoundTrip(t *testing.T) {
	sizes := []struct{ w, h int }{{64, 64}, {17, 9}, {320, 240}}
	for _, sz := range sizes {
		data := encodeSolid(t, sz.w, sz.h, color.RGBA{R: 10, G: 200, B: 90, A: 255})
		px, err := NewDecoder(nil).Decode(data)
		require.NoError(t, err)
		assert.Equal(t, sz.w, px.Width)
		assert.Equal(t, sz.h, px.Height)
		assert.Equal(t, sz.w*3, px.Stride)
		assert.Equal(t, FormatRGB888, px.Format)
		assert.Len(t, px.Data, sz.w*sz.h*3)
	}
}

func TestDecodeSolidColorWithinTolerance(t *testing.T) {
	colors := []color.RGBA{
		{R: 255, A: 255},
		{G: 255, A: 255},
		{B: 255, A: 255},
		{R: 128, G: 128, B: 128, A: 255},
	}
	for _, c := range colors {
		px, err := NewDecoder(nil).Decode(encodeSolid(t, 32, 32, c))
		require.NoError(t, err)
		for i := 0; i < len(px.Data); i += 3 {
			assertNear(t, c.R, px.Data[i], 8, "red at %d", i)
			assertNear(t, c.G, px.Data[i+1], 8, "green at %d", i)
			assertNear(t, c.B, px.Data[i+2], 8, "blue at %d", i)
		}
	}
}

func TestMalformedInputIsIsolated(t *testing.T) {
	valid := encodeSolid(t, 64, 64, color.RGBA{R: 255, A: 255})
	sos := bytes.Index(valid, []byte{0xff, 0xda})
	require.Greater(t, sos, 0)
	d := NewDecoder(nil)

	tests := []struct {
		name  string
		data  []byte
		stage error
	}{
		{"empty", nil, ErrHeader},
		{"not a jpeg", []byte("definitely not a jpeg frame"), ErrHeader},
		{"soi only", []byte{0xff, 0xd8}, ErrHeader},
		{"truncated scan", valid[:sos+20], ErrScanline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			px, err := d.Decode(tt.data)
			require.Error(t, err)
			assert.Nil(t, px)
			assert.ErrorIs(t, err, tt.stage)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, 0, d.src.Len(), "decoder kept a reference to the frame")

			px, err = d.Decode(valid)
			require.NoError(t, err)
			assert.Len(t, px.Data, 64*64*3)
		})
	}
}

func TestScanMustReachEndOfImage(t *testing.T) {
	valid := encodeSolid(t, 32, 16, color.RGBA{B: 255, A: 255})
	sos := bytes.Index(valid, []byte{0xff, 0xda})
	require.Greater(t, sos, 0)

	// An APP1 segment carrying an EOI marker, as embedded thumbnails do.
	app := []byte{0xff, 0xe1, 0x00, 0x06, 'a', 0xff, 0xd9, 'b'}
	withApp := append(append(append([]byte{}, valid[:2]...), app...), valid[2:]...)

	d := NewDecoder(nil)
	tests := []struct {
		name string
		data []byte
		ok   bool
	}{
		{"complete", valid, true},
		{"padding after end", append(append([]byte{}, valid...), 0, 0, 0), true},
		{"app segment", withApp, true},
		{"truncated scan", valid[:len(valid)-2], false},
		{"truncated after app", withApp[:sos+len(app)+30], false},
		{"no scan", valid[:sos], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, checkScan(tt.data) == nil)
			px, err := d.Decode(tt.data)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, 32, px.Width)
				return
			}
			assert.Nil(t, px)
			assert.ErrorIs(t, err, ErrScanline)
		})
	}
}

func TestUnsupportedColorSpace(t *testing.T) {
	d := NewDecoder(nil)

	px, err := d.Decode(encodeGray(t, 16, 16))
	assert.Nil(t, px)
	assert.ErrorIs(t, err, ErrUnsupportedColorSpace)

	px, err = d.Decode(cmykHeader())
	assert.Nil(t, px)
	assert.ErrorIs(t, err, ErrUnsupportedColorSpace)
}

func TestFrameAreaBound(t *testing.T) {
	d := NewDecoder(nil)
	d.SetMaxPixels(100)
	px, err := d.Decode(encodeSolid(t, 64, 64, color.White))
	assert.Nil(t, px)
	assert.ErrorIs(t, err, ErrHeader)
}

type panicCodec struct{}

func (panicCodec) Name() string { return "panic" }
func (panicCodec) Start(Source, Header, Options) (Scanner, error) {
	panic("boom")
}

func TestCodecPanicBecomesError(t *testing.T) {
	d := NewDecoder(panicCodec{})
	px, err := d.Decode(encodeSolid(t, 8, 8, color.White))
	assert.Nil(t, px)
	assert.ErrorIs(t, err, ErrScanline)
	assert.Contains(t, err.Error(), "boom")
}

type shortScanner struct{ rows int }

func (s *shortScanner) ReadScanline([]byte) error { s.rows++; return nil }
func (s *shortScanner) Finish() error           { return io.ErrUnexpectedEOF }
func (s *shortScanner) Close()                  {}

type finishFailCodec struct{ s *shortScanner }

func (finishFailCodec) Name() string { return "finish-fail" }
func (c finishFailCodec) Start(Source, Header, Options) (Scanner, error) {
	return c.s, nil
}

func TestFinalizeFailure(t *testing.T) {
	s := &shortScanner{}
	px, err := NewDecoder(finishFailCodec{s: s}).Decode(encodeSolid(t, 8, 4, color.White))
	assert.Nil(t, px)
	assert.ErrorIs(t, err, ErrFinalize)
	assert.Equal(t, 4, s.rows)
}

func TestLookup(t *testing.T) {
	c, err := Lookup("go")
	require.NoError(t, err)
	assert.Equal(t, "go", c.Name())

	_, err = Lookup("nope")
	assert.Error(t, err)
}

func TestMemSource(t *testing.T) {
	var s memSource
	s.reset([]byte{1, 2, 3, 4, 5})

	b, err := s.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(1), b)
	require.NoError(t, s.Skip(2))
	assert.Equal(t, 2, s.Len())

	buf := make([]byte, 8)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, buf[:n])

	_, err = s.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, io.ErrUnexpectedEOF, s.Skip(1))

	s.Rewind()
	assert.Equal(t, 5, s.Len())
}
