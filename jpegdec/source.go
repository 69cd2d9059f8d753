package jpegdec

import (
	"io"
)

// Source hands compressed bytes to a codec on demand.
type Source interface {
	io.Reader
	io.ByteReader
	// Skip discards n bytes of input.
	Skip(n int) error
	// Rewind restarts the source at the first byte.
	Rewind()
}

// memSource reads a frame that already sits in memory. It never copies the
// frame and has no setup or teardown of its own.
type memSource struct {
	data []byte
	off  int
}

var _ Source = (*memSource)(nil)

func (s *memSource) reset(data []byte) {
	s.data = data
	s.off = 0
}

func (s *memSource) Read(p []byte) (int, error) {
	if s.off >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.off:])
	s.off += n
	return n, nil
}

func (s *memSource) ReadByte() (byte, error) {
	if s.off >= len(s.data) {
		return 0, io.EOF
	}
	b := s.data[s.off]
	s.off++
	return b, nil
}

func (s *memSource) Skip(n int) error {
	if n <= 0 {
		return nil
	}
	if s.off+n > len(s.data) {
		s.off = len(s.data)
		return io.ErrUnexpectedEOF
	}
	s.off += n
	return nil
}

func (s *memSource) Rewind() {
	s.off = 0
}

// Len returns the number of unread bytes.
func (s *memSource) Len() int {
	return len(s.data) - s.off
}
