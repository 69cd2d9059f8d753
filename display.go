package vnc

import (
	"image"
	"sync"

	"github.com/pkg/errors"
)

// ErrDisplayClosed is returned when feeding a display whose last reference
// is gone.
var ErrDisplayClosed = errors.New("vnc: display closed")

// Display is the surface viewers see. Frames are fed into it whole; every
// attached viewer accumulates the damage and sends it on its next update.
type Display struct {
	mu      sync.Mutex
	fb      *Framebuffer
	viewers map[*ServerConn]struct{}
	refs    int
	closed  bool
	frames  uint64
}

// NewDisplay returns a display holding one reference. With a positive size
// it starts as a black surface, otherwise viewers wait for the first frame.
func NewDisplay(width, height int) *Display {
	d := &Display{viewers: make(map[*ServerConn]struct{}), refs: 1}
	if width > 0 && height > 0 {
		fb, err := NewFramebuffer(width, height, FormatRGB888, width*3)
		if err == nil {
			d.fb = fb
		}
	}
	return d
}

// FeedBuffer makes fb the current surface and damages region on every
// viewer. The display takes its own reference; the caller keeps its own.
func (d *Display) FeedBuffer(fb *Framebuffer, damage Region) error {
	if fb == nil || fb.Released() {
		return errors.New("vnc: feeding a released framebuffer")
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDisplayClosed
	}
	fb.Ref()
	old := d.fb
	d.fb = fb
	d.frames++
	viewers := make([]*ServerConn, 0, len(d.viewers))
	for c := range d.viewers {
		viewers = append(viewers, c)
	}
	d.mu.Unlock()

	if old != nil {
		old.Unref()
	}
	damage = damage.Intersect(fb.Bounds())
	for _, c := range viewers {
		c.damaged(damage)
	}
	return nil
}

// Current returns the surface with a reference the caller must drop, or
// nil before the first frame.
func (d *Display) Current() *Framebuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fb == nil {
		return nil
	}
	d.fb.Ref()
	return d.fb
}

// Size of the current surface.
func (d *Display) Size() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fb == nil {
		return 0, 0
	}
	return d.fb.Width(), d.fb.Height()
}

// Bounds of the current surface.
func (d *Display) Bounds() image.Rectangle {
	w, h := d.Size()
	return image.Rect(0, 0, w, h)
}

// Frames counts accepted feeds.
func (d *Display) Frames() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Ref adds a reference.
func (d *Display) Ref() {
	d.mu.Lock()
	d.refs++
	d.mu.Unlock()
}

// Unref drops a reference. The last one closes the display and releases
// its surface; later feeds fail with ErrDisplayClosed.
func (d *Display) Unref() {
	d.mu.Lock()
	d.refs--
	if d.refs > 0 || d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	fb := d.fb
	d.fb = nil
	d.viewers = map[*ServerConn]struct{}{}
	d.mu.Unlock()
	if fb != nil {
		fb.Unref()
	}
}

// Closed reports whether the last reference is gone.
func (d *Display) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Display) attach(c *ServerConn) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDisplayClosed
	}
	d.viewers[c] = struct{}{}
	return nil
}

func (d *Display) detach(c *ServerConn) {
	d.mu.Lock()
	delete(d.viewers, c)
	d.mu.Unlock()
}
