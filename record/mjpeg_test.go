package record

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestRecordFrames(t *testing.T) {
	dir := t.TempDir()
	rec := NewMJPegRecorder(filepath.Join(dir, "capture"), 0)
	assert.Equal(t, filepath.Join(dir, "capture.avi"), rec.Path)
	assert.Equal(t, int32(5), rec.Framerate)

	frame := jpegFrame(t, 16, 8)
	require.NoError(t, rec.AddFrame(frame, 16, 8))
	require.NoError(t, rec.AddFrame(frame, 16, 8))
	assert.ErrorIs(t, rec.AddFrame(jpegFrame(t, 8, 8), 8, 8), ErrSizeChanged)
	assert.Equal(t, uint64(2), rec.Frames())

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	assert.ErrorIs(t, rec.AddFrame(frame, 16, 8), ErrClosed)

	data, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	require.Greater(t, len(data), 2*len(frame))
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "AVI ", string(data[8:12]))
}

func TestCloseWithoutFrames(t *testing.T) {
	rec := NewMJPegRecorder(filepath.Join(t.TempDir(), "empty.avi"), 10)
	require.NoError(t, rec.Close())
	_, err := os.Stat(rec.Path)
	assert.True(t, os.IsNotExist(err))
}
