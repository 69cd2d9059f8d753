package output

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	vnc "github.com/amitbet/jpeg2vnc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var red = color.RGBA{255, 0, 0, 255}

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

func assertSolid(t *testing.T, pix []byte, r, g, b byte) {
	t.Helper()
	require.Zero(t, len(pix)%3)
	for i := 0; i < len(pix); i += 3 {
		if !near(pix[i], r) || !near(pix[i+1], g) || !near(pix[i+2], b) {
			t.Fatalf("pixel %d is (%d,%d,%d), want about (%d,%d,%d)", i/3, pix[i], pix[i+1], pix[i+2], r, g, b)
		}
	}
}

func near(got, want byte) bool {
	d := int(got) - int(want)
	return d >= -8 && d <= 8
}

// fakeDisplay keeps a copy of every frame it is fed.
type fakeDisplay struct {
	mu     sync.Mutex
	frames [][]byte
	bounds []image.Rectangle
	damage []vnc.Region
	err    error
	fed    chan struct{}
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{fed: make(chan struct{}, 64)}
}

func (d *fakeDisplay) FeedBuffer(fb *vnc.Framebuffer, damage vnc.Region) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		d.fed <- struct{}{}
		return d.err
	}
	d.frames = append(d.frames, append([]byte(nil), fb.Pix()...))
	d.bounds = append(d.bounds, fb.Bounds())
	d.damage = append(d.damage, damage)
	d.fed <- struct{}{}
	return nil
}

func (d *fakeDisplay) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDisplay) waitFeed(t *testing.T) {
	t.Helper()
	select {
	case <-d.fed:
	case <-time.After(5 * time.Second):
		t.Fatal("no frame fed")
	}
}

func (d *fakeDisplay) snapshot() ([][]byte, []image.Rectangle, []vnc.Region) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames, d.bounds, d.damage
}

func runWorker(ctx context.Context, w *Worker) <-chan error {
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("did not stop in time")
	}
	return nil
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	assert.Eventually(t, cond, 5*time.Second, 5*time.Millisecond, msg)
}
