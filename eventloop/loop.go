// Package eventloop runs callbacks and signal handlers on one goroutine
// until told to exit.
package eventloop

import (
	"os"
	"os/signal"
	"sync"

	"github.com/amitbet/jpeg2vnc/logger"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned by operations on a closed loop.
var ErrClosed = errors.New("eventloop: closed")

// TerminationSignals are the signals a service shuts down on.
var TerminationSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

// Loop serialises work onto the goroutine calling Run.
type Loop struct {
	tasks chan func()
	sigCh chan os.Signal
	exit  chan struct{}

	mu       sync.Mutex
	handlers map[os.Signal]func(os.Signal)
	exitOnce sync.Once
	closed   bool
}

// New returns a loop with a task queue of the given depth.
func New(queue int) *Loop {
	if queue <= 0 {
		queue = 64
	}
	return &Loop{
		tasks:    make(chan func(), queue),
		sigCh:    make(chan os.Signal, 4),
		exit:     make(chan struct{}),
		handlers: make(map[os.Signal]func(os.Signal)),
	}
}

// Run dispatches tasks and signals until Exit. An Exit before Run makes
// Run return at once.
func (l *Loop) Run() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	for {
		select {
		case <-l.exit:
			return nil
		case fn := <-l.tasks:
			l.call(fn)
		case sig := <-l.sigCh:
			l.mu.Lock()
			h := l.handlers[sig]
			l.mu.Unlock()
			if h != nil {
				l.call(func() { h(sig) })
			}
		}
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("eventloop: task panicked: %v", r)
		}
	}()
	fn()
}

// Exit stops Run. It is safe to call from any goroutine, more than once.
func (l *Loop) Exit() {
	l.exitOnce.Do(func() { close(l.exit) })
}

// Done is closed once Exit was called.
func (l *Loop) Done() <-chan struct{} {
	return l.exit
}

// Post queues fn to run on the loop.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.tasks <- fn:
		return nil
	default:
		return errors.New("eventloop: task queue full")
	}
}

// Signal runs fn on the loop whenever sig arrives.
func (l *Loop) Signal(sig os.Signal, fn func(os.Signal)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.handlers[sig] = fn
	signal.Notify(l.sigCh, sig)
	return nil
}

// Raise delivers sig to the loop as if the process had received it.
func (l *Loop) Raise(sig os.Signal) {
	select {
	case l.sigCh <- sig:
	default:
	}
}

// Close stops signal delivery and rejects further work. It implies Exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	signal.Stop(l.sigCh)
	l.mu.Unlock()
	l.Exit()
}
