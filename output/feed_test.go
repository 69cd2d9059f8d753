package output

import (
	"image"
	"testing"

	vnc "github.com/amitbet/jpeg2vnc"
	"github.com/amitbet/jpeg2vnc/jpegdec"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pixelBuffer(w, h int, r, g, b byte) *jpegdec.PixelBuffer {
	px := &jpegdec.PixelBuffer{Width: w, Height: h, Stride: w * 3, Format: jpegdec.FormatRGB888, Data: make([]byte, w*h*3)}
	for i := 0; i < len(px.Data); i += 3 {
		px.Data[i], px.Data[i+1], px.Data[i+2] = r, g, b
	}
	return px
}

func TestFeedSubmitsWholeFrame(t *testing.T) {
	d := newFakeDisplay()
	require.NoError(t, Feed(d, pixelBuffer(4, 3, 1, 2, 3)))

	frames, bounds, damage := d.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{1, 2, 3}, frames[0][:3])
	assert.Len(t, frames[0], 4*3*3)
	assert.Equal(t, image.Rect(0, 0, 4, 3), bounds[0])
	assert.Equal(t, []image.Rectangle{image.Rect(0, 0, 4, 3)}, damage[0].Rects())
}

func TestFeedIntoDisplay(t *testing.T) {
	d := vnc.NewDisplay(0, 0)
	require.NoError(t, Feed(d, pixelBuffer(2, 2, 9, 8, 7)))
	assert.Equal(t, uint64(1), d.Frames())

	cur := d.Current()
	require.NotNil(t, cur)
	assert.Equal(t, []byte{9, 8, 7}, cur.Pix()[:3])
	cur.Unref()

	d.Unref()
	err := Feed(d, pixelBuffer(2, 2, 0, 0, 0))
	var fe *FeedError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "submit", fe.Op)
	assert.ErrorIs(t, err, vnc.ErrDisplayClosed)
}

func TestFeedErrors(t *testing.T) {
	d := newFakeDisplay()

	var fe *FeedError
	assert.True(t, errors.As(Feed(d, nil), &fe))

	short := pixelBuffer(2, 2, 0, 0, 0)
	short.Data = short.Data[:5]
	assert.True(t, errors.As(Feed(d, short), &fe))
	assert.Equal(t, "copy", fe.Op)

	bad := pixelBuffer(2, 2, 0, 0, 0)
	bad.Stride = 1
	assert.True(t, errors.As(Feed(d, bad), &fe))
	assert.Equal(t, "allocate", fe.Op)

	odd := pixelBuffer(2, 2, 0, 0, 0)
	odd.Format = jpegdec.PixelFormat(5)
	assert.True(t, errors.As(Feed(d, odd), &fe))
	assert.Equal(t, "format", fe.Op)

	frames, _, _ := d.snapshot()
	assert.Empty(t, frames)
}
