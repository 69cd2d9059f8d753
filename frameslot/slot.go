// Package frameslot is the single-slot, latest-wins mailbox handing
// compressed frames from a capture source to the decode worker.
//
// Publish overwrites whatever the slot holds and wakes one waiter; frames
// overwritten before a waiter copied them are dropped and counted.
package frameslot

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// DefaultMaxSize is the default upper bound of a compressed frame.
const DefaultMaxSize = 4 << 20

var (
	// ErrFrameTooLarge is returned by Publish for frames above the slot capacity.
	ErrFrameTooLarge = errors.New("frameslot: frame exceeds slot capacity")
	// ErrClosed is returned once the slot has been closed.
	ErrClosed = errors.New("frameslot: closed")
	// ErrShortBuffer is returned by WaitAndCopy when out cannot hold the frame.
	ErrShortBuffer = errors.New("frameslot: destination buffer too small")
)

// Stats is a snapshot of the slot counters.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
}

// Slot holds the latest compressed frame. The zero value is not usable,
// use New.
type Slot struct {
	mu      sync.Mutex
	updated *sync.Cond
	buf     []byte
	size    int
	pending bool
	closed  bool

	stats Stats
}

// New returns a slot able to hold frames of up to maxSize bytes.
func New(maxSize int) (*Slot, error) {
	if maxSize <= 0 {
		return nil, errors.Errorf("frameslot: invalid capacity %d", maxSize)
	}
	s := &Slot{buf: make([]byte, maxSize)}
	s.updated = sync.NewCond(&s.mu)
	return s, nil
}

// Cap returns the largest frame the slot accepts.
func (s *Slot) Cap() int {
	return len(s.buf)
}

// Publish replaces the slot contents with frame and wakes one waiter.
// The slot keeps its own copy; the caller may reuse frame afterwards.
func (s *Slot) Publish(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if len(frame) > len(s.buf) {
		return errors.Wrapf(ErrFrameTooLarge, "%d > %d bytes", len(frame), len(s.buf))
	}
	if s.pending {
		s.stats.Dropped++
	}
	s.size = copy(s.buf, frame)
	s.pending = true
	s.stats.Published++
	s.updated.Signal()
	return nil
}

// WaitAndCopy blocks until a frame is published after the previous call,
// then copies it into out under the slot lock and returns its size.
// It returns ctx.Err() when ctx is done and ErrClosed after Close.
func (s *Slot) WaitAndCopy(ctx context.Context, out []byte) (int, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.updated.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.pending && !s.closed && ctx.Err() == nil {
		s.updated.Wait()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.closed {
		return 0, ErrClosed
	}
	if len(out) < s.size {
		return 0, errors.Wrapf(ErrShortBuffer, "need %d bytes, have %d", s.size, len(out))
	}

	n := copy(out, s.buf[:s.size])
	s.pending = false
	s.stats.Consumed++
	return n, nil
}

// Close wakes every waiter; later calls to Publish and WaitAndCopy fail
// with ErrClosed. Close is idempotent.
func (s *Slot) Close() {
	s.mu.Lock()
	s.closed = true
	s.updated.Broadcast()
	s.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
