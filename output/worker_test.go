package output

import (
	"context"
	"image"
	"sync"
	"testing"

	"github.com/amitbet/jpeg2vnc/frameslot"
	"github.com/amitbet/jpeg2vnc/jpegdec"
	"github.com/amitbet/jpeg2vnc/record"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, d Display) (*Worker, *frameslot.Slot) {
	t.Helper()
	slot, err := frameslot.New(frameslot.DefaultMaxSize)
	require.NoError(t, err)
	return NewWorker(slot, jpegdec.NewDecoder(nil), d, 0), slot
}

func TestSolidRedFrameReachesDisplay(t *testing.T) {
	d := newFakeDisplay()
	w, slot := newTestWorker(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	done := runWorker(ctx, w)

	require.NoError(t, slot.Publish(encodeSolid(t, 64, 64, red)))
	d.waitFeed(t)
	cancel()
	require.NoError(t, waitErr(t, done))

	frames, bounds, damage := d.snapshot()
	require.Len(t, frames, 1)
	assert.Len(t, frames[0], 64*64*3)
	assertSolid(t, frames[0], 255, 0, 0)
	assert.Equal(t, image.Rect(0, 0, 64, 64), bounds[0])
	assert.Equal(t, []image.Rectangle{image.Rect(0, 0, 64, 64)}, damage[0].Rects())

	assert.Equal(t, WorkerStats{Frames: 1, Fed: 1}, w.Stats())
	assert.Equal(t, WorkerStopped, w.State())
}

func TestDecodeErrorDropsFrame(t *testing.T) {
	d := newFakeDisplay()
	w, slot := newTestWorker(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runWorker(ctx, w)

	require.NoError(t, slot.Publish([]byte("definitely not a jpeg")))
	eventually(t, func() bool { return w.Stats().DecodeErrors == 1 }, "decode error counted")

	require.NoError(t, slot.Publish(encodeSolid(t, 8, 8, red)))
	d.waitFeed(t)

	cancel()
	require.NoError(t, waitErr(t, done))
	frames, _, _ := d.snapshot()
	assert.Len(t, frames, 1)
	assert.Equal(t, WorkerStats{Frames: 2, Fed: 1, DecodeErrors: 1}, w.Stats())
}

func TestFeedErrorKeepsLoopGoing(t *testing.T) {
	d := newFakeDisplay()
	d.setErr(errors.New("display busy"))
	w, slot := newTestWorker(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runWorker(ctx, w)

	require.NoError(t, slot.Publish(encodeSolid(t, 8, 8, red)))
	d.waitFeed(t)
	eventually(t, func() bool { return w.Stats().FeedErrors == 1 }, "feed error counted")

	d.setErr(nil)
	require.NoError(t, slot.Publish(encodeSolid(t, 8, 8, red)))
	d.waitFeed(t)

	cancel()
	require.NoError(t, waitErr(t, done))
	assert.Equal(t, uint64(1), w.Stats().Fed)
}

func TestWorkerStopsWhenSlotCloses(t *testing.T) {
	w, slot := newTestWorker(t, newFakeDisplay())
	done := runWorker(context.Background(), w)
	eventually(t, func() bool { return w.State() == WorkerWaitingForFrame }, "worker waits")
	slot.Close()
	assert.NoError(t, waitErr(t, done))
	assert.Equal(t, WorkerStopped, w.State())
}

func TestCleanupIsIdempotent(t *testing.T) {
	w, _ := newTestWorker(t, newFakeDisplay())
	w.buf = make([]byte, 16)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.cleanup()
		}()
	}
	wg.Wait()
	w.cleanup()

	assert.Nil(t, w.buf)
	assert.Equal(t, WorkerStopped, w.State())
	assert.True(t, w.cleaned.Load())
}

func TestWorkBufferSmallerThanSlot(t *testing.T) {
	slot, err := frameslot.New(1024)
	require.NoError(t, err)
	w := NewWorker(slot, jpegdec.NewDecoder(nil), newFakeDisplay(), 512)

	err = w.Run(context.Background())
	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "work buffer size", ce.Param)
	assert.Equal(t, WorkerStopped, w.State())
}

func TestAllocate(t *testing.T) {
	buf, err := allocate(32)
	require.NoError(t, err)
	assert.Len(t, buf, 32)

	_, err = allocate(0)
	var ae *AllocationError
	assert.True(t, errors.As(err, &ae))
}

type fakeRecorder struct {
	mu     sync.Mutex
	frames int
	err    error
}

func (r *fakeRecorder) AddFrame(_ []byte, _, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames++
	return nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func TestRecorderTap(t *testing.T) {
	d := newFakeDisplay()
	w, slot := newTestWorker(t, d)
	rec := &fakeRecorder{}
	w.SetRecorder(rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runWorker(ctx, w)

	require.NoError(t, slot.Publish([]byte("garbage")))
	eventually(t, func() bool { return w.Stats().DecodeErrors == 1 }, "decode error counted")
	require.NoError(t, slot.Publish(encodeSolid(t, 8, 8, red)))
	d.waitFeed(t)
	assert.Equal(t, 1, rec.count(), "only decodable frames are recorded")

	cancel()
	require.NoError(t, waitErr(t, done))
}

func TestRecorderSizeChangeKeepsRecording(t *testing.T) {
	w, _ := newTestWorker(t, newFakeDisplay())
	rec := &fakeRecorder{err: errors.Wrap(record.ErrSizeChanged, "8x8")}
	w.SetRecorder(rec)
	px := pixelBuffer(8, 8, 0, 0, 0)

	w.tap(nil, px)
	assert.NotNil(t, w.recorder)

	rec.err = errors.New("disk full")
	w.tap(nil, px)
	assert.Nil(t, w.recorder)
}

func TestWorkerStateString(t *testing.T) {
	assert.Equal(t, "WaitingForFrame", WorkerWaitingForFrame.String())
	assert.Equal(t, "WorkerState(9)", WorkerState(9).String())
}
