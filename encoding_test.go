package vnc

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHextileSolidTiles(t *testing.T) {
	s, d := startServer(t, nil)
	tc := dialTest(t, s.Addr().String())
	tc.handshake()
	tc.setEncodings(EncHextile, EncDesktopSizePseudo)

	tc.requestUpdate(true, 4, 2)
	feed(t, d, solidFrame(t, 20, 2, 255, 0, 0))

	require.Equal(t, 2, tc.readUpdate())
	assert.Equal(t, testRect{0, 0, 20, 2, EncDesktopSizePseudo}, tc.readRect())
	assert.Equal(t, testRect{0, 0, 20, 2, EncHextile}, tc.readRect())
	assert.Equal(t, []byte{HextileBackgroundSpecified, 0, 0, 255, 0}, tc.readN(5), "first tile sets the background")
	assert.Equal(t, []byte{0}, tc.readN(1), "second tile reuses it")
}

func TestHextileRawTile(t *testing.T) {
	s, d := startServer(t, nil)
	fb := solidFrame(t, 4, 2, 255, 0, 0)
	copy(fb.Pix()[3:6], []byte{0, 255, 0})
	feed(t, d, fb)

	tc := dialTest(t, s.Addr().String())
	tc.handshake()
	tc.setEncodings(EncHextile)
	tc.requestUpdate(false, 4, 2)

	require.Equal(t, 1, tc.readUpdate())
	assert.Equal(t, EncHextile, tc.readRect().enc)
	assert.Equal(t, []byte{HextileRaw}, tc.readN(1))
	pix := tc.readN(4 * 2 * 4)
	assert.Equal(t, []byte{0, 0, 255, 0}, pix[:4])
	assert.Equal(t, []byte{0, 255, 0, 0}, pix[4:8])
}

func TestZRLEUpdate(t *testing.T) {
	s, d := startServer(t, nil)
	feed(t, d, solidFrame(t, 4, 2, 255, 0, 0))

	tc := dialTest(t, s.Addr().String())
	tc.handshake()
	tc.setEncodings(EncZRLE, EncRaw)
	tc.requestUpdate(false, 4, 2)

	require.Equal(t, 1, tc.readUpdate())
	assert.Equal(t, EncZRLE, tc.readRect().enc)
	var n uint32
	tc.read(&n)
	zr, err := zlib.NewReader(bytes.NewReader(tc.readN(int(n))))
	require.NoError(t, err)
	tile := make([]byte, 4)
	_, err = io.ReadFull(zr, tile)
	require.NoError(t, err)
	assert.Equal(t, []byte{zrleSolid, 0, 0, 255}, tile)
}

type failAfter struct {
	n   int
	buf bytes.Buffer
}

func (w *failAfter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, io.ErrShortWrite
	}
	w.n--
	return w.buf.Write(p)
}

func TestZRLETileWriteErrors(t *testing.T) {
	w := &failAfter{n: 2}
	require.NoError(t, writeTile(w, zrleSolid, []byte{1, 2, 3}))
	assert.Equal(t, []byte{zrleSolid, 1, 2, 3}, w.buf.Bytes())

	assert.ErrorIs(t, writeTile(&failAfter{}, zrleRaw, []byte{1}), io.ErrShortWrite, "subencoding byte")
	assert.ErrorIs(t, writeTile(&failAfter{n: 1}, zrleRaw, []byte{1}), io.ErrShortWrite, "pixels")
}

func TestCPixelLayout(t *testing.T) {
	be := PixelFormat32bit
	be.BigEndian = 1

	high := PixelFormat32bit
	high.RedShift, high.GreenShift, high.BlueShift = 24, 16, 8

	tests := []struct {
		name         string
		pf           PixelFormat
		size, offset int
	}{
		{"xrgb little endian", PixelFormat32bit, 3, 0},
		{"xrgb big endian", be, 3, 1},
		{"rgbx little endian", high, 3, 1},
		{"rgb565", PixelFormat16bit, 2, 0},
		{"bgr233", NewPixelFormat(8), 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, offset := cpixelLayout(tt.pf)
			assert.Equal(t, tt.size, size)
			assert.Equal(t, tt.offset, offset)
		})
	}
}
