// Package output drives compressed frames from a slot onto a remote
// display: a worker decodes and feeds frames while a server loop keeps
// the display and its viewers alive.
package output

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	vnc "github.com/amitbet/jpeg2vnc"
	"github.com/amitbet/jpeg2vnc/frameslot"
	"github.com/amitbet/jpeg2vnc/jpegdec"
	"github.com/amitbet/jpeg2vnc/logger"
	"github.com/amitbet/jpeg2vnc/record"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultShutdownTimeout bounds Stop when Params leaves it unset.
const DefaultShutdownTimeout = 5 * time.Second

// Params configures an Output.
type Params struct {
	Server ServerParams

	// Input selects one of Inputs capture sources.
	Input  int
	Inputs int

	// MaxFrameSize bounds a compressed frame. WorkBufferSize is the
	// worker's copy buffer and defaults to MaxFrameSize.
	MaxFrameSize   int
	WorkBufferSize int

	Codec string

	// RecordPath, when set, records decoded input frames as MJPEG AVI.
	RecordPath string
	RecordFPS  int

	ShutdownTimeout time.Duration
}

// DefaultParams returns the stock configuration.
func DefaultParams() Params {
	return Params{
		Server: ServerParams{
			Listen: "0.0.0.0:5900",
			Name:   "jpeg2vnc",
			Width:  640,
			Height: 480,
		},
		Inputs:          1,
		MaxFrameSize:    frameslot.DefaultMaxSize,
		Codec:           "go",
		RecordFPS:       5,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

func checkAddr(param, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return &ConfigurationError{Param: param, Err: err}
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return &ConfigurationError{Param: param, Err: errors.Errorf("bad port %q", port)}
	}
	return nil
}

func (p *Params) validate() error {
	if p.Inputs <= 0 || p.Input < 0 || p.Input >= p.Inputs {
		return &ConfigurationError{Param: "input index", Err: errors.Errorf("%d not in [0, %d)", p.Input, p.Inputs)}
	}
	if p.MaxFrameSize <= 0 {
		return &ConfigurationError{Param: "frame bound", Err: errors.Errorf("%d bytes", p.MaxFrameSize)}
	}
	if p.WorkBufferSize == 0 {
		p.WorkBufferSize = p.MaxFrameSize
	}
	if p.WorkBufferSize < p.MaxFrameSize {
		return &ConfigurationError{
			Param: "frame bound",
			Err:   errors.Errorf("work buffer of %d bytes is smaller than the %d byte slot", p.WorkBufferSize, p.MaxFrameSize),
		}
	}
	if err := checkAddr("listen address", p.Server.Listen); err != nil {
		return err
	}
	if p.Server.WebsocketListen != "" {
		if err := checkAddr("websocket listen address", p.Server.WebsocketListen); err != nil {
			return err
		}
	}
	if p.Server.Width < 0 || p.Server.Height < 0 || p.Server.Width > vnc.MaxDimension || p.Server.Height > vnc.MaxDimension {
		return &ConfigurationError{Param: "display size", Err: errors.Errorf("%dx%d", p.Server.Width, p.Server.Height)}
	}
	if p.ShutdownTimeout <= 0 {
		p.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}

// Output is one running pipeline. Create it with Init.
type Output struct {
	params   Params
	slot     *frameslot.Slot
	decoder  *jpegdec.Decoder
	recorder *record.MJPegRecorder
	server   *ServerLoop
	worker   *Worker
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	started       atomic.Bool
	workerStarted atomic.Bool
	serverDone    chan struct{}
	serverErr     error
	workerDone    chan struct{}
	workerErr     error

	stopOnce sync.Once
	stopErr  error
}

// Init validates p and prepares the pipeline without starting anything.
func Init(p Params) (*Output, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	codec, err := jpegdec.Lookup(p.Codec)
	if err != nil {
		return nil, &ConfigurationError{Param: "codec", Err: err}
	}
	slot, err := frameslot.New(p.MaxFrameSize)
	if err != nil {
		return nil, &ConfigurationError{Param: "frame bound", Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Output{
		params:     p,
		slot:       slot,
		decoder:    jpegdec.NewDecoder(codec),
		server:     NewServerLoop(p.Server),
		log:        logger.WithFields(map[string]interface{}{"component": "output", "input": p.Input}),
		ctx:        ctx,
		cancel:     cancel,
		serverDone: make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	if p.RecordPath != "" {
		o.recorder = record.NewMJPegRecorder(p.RecordPath, int32(p.RecordFPS))
	}
	o.server.beforeRelease = o.stopWorker
	o.log.Debugf("output: initialised, codec %s, frame bound %d bytes", codec.Name(), p.MaxFrameSize)
	return o, nil
}

// Slot is where the capture source publishes frames.
func (o *Output) Slot() *frameslot.Slot { return o.slot }

// Server is the server loop.
func (o *Output) Server() *ServerLoop { return o.server }

// Worker is the worker loop, nil before Run.
func (o *Output) Worker() *Worker { return o.worker }

// Display is the remote display, nil before Run.
func (o *Output) Display() *vnc.Display { return o.server.Display() }

// Run starts the server loop and, once the display exists, the worker.
// It returns when both are running or the server failed to start.
func (o *Output) Run() error {
	if !o.started.CompareAndSwap(false, true) {
		return errors.New("output: already running")
	}
	go func() {
		o.serverErr = o.server.Run()
		close(o.serverDone)
	}()

	select {
	case <-o.server.Ready():
	case <-o.serverDone:
		if o.serverErr != nil {
			return o.serverErr
		}
		return nil
	}

	o.worker = NewWorker(o.slot, o.decoder, o.server.Display(), o.params.WorkBufferSize)
	if o.recorder != nil {
		o.worker.SetRecorder(o.recorder)
	}
	o.workerStarted.Store(true)
	go func() {
		defer close(o.workerDone)
		if err := o.worker.Run(o.ctx); err != nil {
			o.workerErr = err
			o.log.Errorf("output: worker failed: %v", err)
			o.server.Exit()
		}
	}()
	return nil
}

// stopWorker runs between closing the server and releasing the display.
func (o *Output) stopWorker() {
	o.cancel()
	if !o.workerStarted.Load() {
		return
	}
	select {
	case <-o.workerDone:
	case <-time.After(o.params.ShutdownTimeout):
		o.log.Warnf("output: worker still busy after %v, releasing the display anyway", o.params.ShutdownTimeout)
	}
}

// Wait blocks until a started pipeline has stopped, by Stop, a signal or
// a worker failure, and returns the first error.
func (o *Output) Wait() error {
	<-o.serverDone
	if o.workerStarted.Load() {
		<-o.workerDone
	}
	if o.workerErr != nil {
		return o.workerErr
	}
	return o.serverErr
}

// Stop shuts the pipeline down within the shutdown timeout. It is safe to
// call more than once and before Run.
func (o *Output) Stop() error {
	o.stopOnce.Do(func() { o.stopErr = o.stop() })
	return o.stopErr
}

func (o *Output) stop() error {
	o.cancel()
	o.server.Exit()

	var err error
	if o.started.Load() {
		deadline := time.NewTimer(o.params.ShutdownTimeout)
		defer deadline.Stop()
		select {
		case <-o.serverDone:
		case <-deadline.C:
			err = errors.Errorf("output: server loop did not stop within %v", o.params.ShutdownTimeout)
		}
		if err == nil && o.workerStarted.Load() {
			select {
			case <-o.workerDone:
			case <-deadline.C:
				err = errors.Errorf("output: worker did not stop within %v", o.params.ShutdownTimeout)
			}
		}
	}

	o.slot.Close()
	if o.recorder != nil {
		if cerr := o.recorder.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	o.log.Info("output: stopped")
	return err
}
