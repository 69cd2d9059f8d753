package source

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/amitbet/jpeg2vnc/frameslot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (c *collector) Publish(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *collector) frame(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i]
}

func runSource(ctx context.Context, s Source, out Publisher) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, out) }()
	return done
}

func stopSource(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("source did not stop")
	}
}

func mjpegHandler(frames ...[]byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		for _, f := range frames {
			h := textproto.MIMEHeader{}
			h.Set("Content-Type", "image/jpeg")
			h.Set("Content-Length", fmt.Sprint(len(f)))
			pw, err := mw.CreatePart(h)
			if err != nil {
				return
			}
			pw.Write(f)
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
		}
		mw.Close()
	}
}

func TestMJPEGStream(t *testing.T) {
	srv := httptest.NewServer(mjpegHandler([]byte("frame-1"), []byte("frame-2"), []byte("frame-3")))
	defer srv.Close()

	c := NewMJPEGClient(srv.URL, 1024)
	c.RetryDelay = time.Hour
	out := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	done := runSource(ctx, c, out)

	assert.Eventually(t, func() bool { return out.count() == 3 }, 5*time.Second, 5*time.Millisecond)
	stopSource(t, cancel, done)
	assert.Equal(t, []byte("frame-1"), out.frame(0))
	assert.Equal(t, []byte("frame-3"), out.frame(2))
}

func TestMJPEGSkipsOversizedFrames(t *testing.T) {
	big := bytes.Repeat([]byte{0xff}, 64)
	srv := httptest.NewServer(mjpegHandler(big, []byte("small")))
	defer srv.Close()

	c := NewMJPEGClient(srv.URL, 16)
	c.RetryDelay = time.Hour
	out := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	done := runSource(ctx, c, out)

	assert.Eventually(t, func() bool { return out.count() == 1 }, 5*time.Second, 5*time.Millisecond)
	stopSource(t, cancel, done)
	assert.Equal(t, []byte("small"), out.frame(0))
}

func TestSnapshotPolling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("snapshot"))
	}))
	defer srv.Close()

	c := NewMJPEGClient(srv.URL, 1024)
	c.PollInterval = time.Millisecond
	out := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	done := runSource(ctx, c, out)

	assert.Eventually(t, func() bool { return out.count() >= 3 }, 5*time.Second, 5*time.Millisecond)
	stopSource(t, cancel, done)
}

func TestBadStatusIsRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewMJPEGClient(srv.URL, 1024)
	c.RetryDelay = time.Millisecond
	c.PollInterval = time.Hour
	out := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	done := runSource(ctx, c, out)

	assert.Eventually(t, func() bool { return out.count() == 1 }, 5*time.Second, 5*time.Millisecond)
	stopSource(t, cancel, done)
}

func TestClosedSlotEndsSource(t *testing.T) {
	srv := httptest.NewServer(mjpegHandler([]byte("frame")))
	defer srv.Close()

	slot, err := frameslot.New(1024)
	require.NoError(t, err)
	slot.Close()

	c := NewMJPEGClient(srv.URL, 1024)
	select {
	case err := <-runSource(context.Background(), c, slot):
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("source kept running")
	}
}

func TestPatternFrames(t *testing.T) {
	p := NewPattern(32, 16, 200)
	out := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	done := runSource(ctx, p, out)

	assert.Eventually(t, func() bool { return out.count() >= 2 }, 5*time.Second, 5*time.Millisecond)
	stopSource(t, cancel, done)

	img, err := jpeg.Decode(bytes.NewReader(out.frame(0)))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())

	assert.NotEqual(t, p.Frame(0).Pix, p.Frame(1).Pix, "bars scroll")
}

func TestPatternRejectsEmptySize(t *testing.T) {
	assert.Error(t, NewPattern(0, 10, 1).Run(context.Background(), &collector{}))
}

func TestSelect(t *testing.T) {
	sources := []Source{NewPattern(1, 1, 1), NewMJPEGClient("http://camera/stream", 0)}
	s, err := Select(sources, 1)
	require.NoError(t, err)
	assert.Equal(t, "http:http://camera/stream", s.Name())

	_, err = Select(sources, 2)
	assert.Error(t, err)
	_, err = Select(sources, -1)
	assert.Error(t, err)
}
