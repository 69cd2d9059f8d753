package output

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/amitbet/jpeg2vnc/frameslot"
	"github.com/amitbet/jpeg2vnc/jpegdec"
	"github.com/amitbet/jpeg2vnc/logger"
	"github.com/amitbet/jpeg2vnc/record"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// WorkerState is the phase the worker loop is in.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerWaitingForFrame
	WorkerDecoding
	WorkerFeeding
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "Idle"
	case WorkerWaitingForFrame:
		return "WaitingForFrame"
	case WorkerDecoding:
		return "Decoding"
	case WorkerFeeding:
		return "Feeding"
	case WorkerStopped:
		return "Stopped"
	}
	return fmt.Sprintf("WorkerState(%d)", int32(s))
}

// FrameSource hands the worker the latest compressed frame.
// *frameslot.Slot implements it.
type FrameSource interface {
	Cap() int
	WaitAndCopy(ctx context.Context, out []byte) (int, error)
}

// FrameDecoder turns a compressed frame into pixels. *jpegdec.Decoder
// implements it.
type FrameDecoder interface {
	Decode(compressed []byte) (*jpegdec.PixelBuffer, error)
}

// FrameRecorder receives every frame that decoded successfully.
// *record.MJPegRecorder implements it.
type FrameRecorder interface {
	AddFrame(jpegData []byte, width, height int) error
}

// WorkerStats counts what happened to the frames the worker picked up.
type WorkerStats struct {
	Frames       uint64
	Fed          uint64
	DecodeErrors uint64
	FeedErrors   uint64
}

// Worker copies frames out of the slot, decodes them and feeds the
// display, one at a time.
type Worker struct {
	slot     FrameSource
	decoder  FrameDecoder
	display  Display
	bufSize  int
	recorder FrameRecorder
	log      *logrus.Entry

	state   atomic.Int32
	cleaned atomic.Bool
	buf     []byte

	frames       atomic.Uint64
	fed          atomic.Uint64
	decodeErrors atomic.Uint64
	feedErrors   atomic.Uint64
}

// NewWorker returns a worker using a bufSize byte work buffer. A zero
// bufSize uses the slot capacity.
func NewWorker(slot FrameSource, decoder FrameDecoder, display Display, bufSize int) *Worker {
	if bufSize == 0 {
		bufSize = slot.Cap()
	}
	return &Worker{
		slot:    slot,
		decoder: decoder,
		display: display,
		bufSize: bufSize,
		log:     logger.WithFields(map[string]interface{}{"component": "worker"}),
	}
}

// SetRecorder taps successfully decoded frames into r. It must be called
// before Run.
func (w *Worker) SetRecorder(r FrameRecorder) {
	w.recorder = r
}

// State returns the current phase.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *Worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// Stats returns a snapshot of the counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Frames:       w.frames.Load(),
		Fed:          w.fed.Load(),
		DecodeErrors: w.decodeErrors.Load(),
		FeedErrors:   w.feedErrors.Load(),
	}
}

func allocate(size int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &AllocationError{Size: size, Err: errors.Errorf("%v", r)}
		}
	}()
	if size <= 0 {
		return nil, &AllocationError{Size: size, Err: errors.New("size must be positive")}
	}
	return make([]byte, size), nil
}

// Run processes frames until ctx is done or the slot is closed. Decode and
// feed failures drop the frame and keep the loop going; only a bad work
// buffer ends Run with an error.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(WorkerIdle)
	defer w.cleanup()

	if w.bufSize < w.slot.Cap() {
		return &ConfigurationError{
			Param: "work buffer size",
			Err:   errors.Errorf("%d bytes cannot hold a %d byte frame", w.bufSize, w.slot.Cap()),
		}
	}
	buf, err := allocate(w.bufSize)
	if err != nil {
		return err
	}
	w.buf = buf

	for {
		w.setState(WorkerWaitingForFrame)
		n, err := w.slot.WaitAndCopy(ctx, w.buf)
		if ctx.Err() != nil || errors.Is(err, frameslot.ErrClosed) {
			w.log.Debug("worker: stopping")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "worker: waiting for frame")
		}
		w.frames.Add(1)
		w.process(w.buf[:n])
	}
}

func (w *Worker) process(frame []byte) {
	w.setState(WorkerDecoding)
	px, err := w.decoder.Decode(frame)
	if err != nil {
		w.decodeErrors.Add(1)
		w.log.Warnf("worker: dropping frame: %v", err)
		return
	}
	defer px.Release()

	w.tap(frame, px)

	w.setState(WorkerFeeding)
	if err := Feed(w.display, px); err != nil {
		w.feedErrors.Add(1)
		w.log.Warnf("worker: %v", err)
		return
	}
	w.fed.Add(1)
}

func (w *Worker) tap(frame []byte, px *jpegdec.PixelBuffer) {
	if w.recorder == nil {
		return
	}
	err := w.recorder.AddFrame(frame, px.Width, px.Height)
	switch {
	case err == nil:
	case errors.Is(err, record.ErrSizeChanged):
		w.log.Debugf("worker: not recording frame: %v", err)
	default:
		w.log.Warnf("worker: recording disabled: %v", err)
		w.recorder = nil
	}
}

// cleanup drops the work buffer. Only the first call does anything.
func (w *Worker) cleanup() {
	if !w.cleaned.CompareAndSwap(false, true) {
		return
	}
	w.buf = nil
	w.setState(WorkerStopped)
}
