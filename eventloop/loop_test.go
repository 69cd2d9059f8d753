package eventloop

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func runAsync(l *Loop) <-chan error {
	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
	return nil
}

func TestPostRunsOnLoop(t *testing.T) {
	l := New(0)
	defer l.Close()

	ran := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, l.Post(func() { ran <- i }))
	}
	require.NoError(t, l.Post(l.Exit))

	assert.NoError(t, wait(t, runAsync(l)))
	assert.Equal(t, 0, <-ran)
	assert.Equal(t, 1, <-ran)
	assert.Equal(t, 2, <-ran)
}

func TestSignalExitsLoop(t *testing.T) {
	l := New(0)
	defer l.Close()

	var got os.Signal
	require.NoError(t, l.Signal(unix.SIGTERM, func(sig os.Signal) {
		got = sig
		l.Exit()
	}))
	done := runAsync(l)
	l.Raise(unix.SIGTERM)

	assert.NoError(t, wait(t, done))
	assert.Equal(t, unix.SIGTERM, got)
}

func TestExitBeforeRun(t *testing.T) {
	l := New(0)
	defer l.Close()
	l.Exit()
	l.Exit()
	assert.NoError(t, wait(t, runAsync(l)))
}

func TestPanickingTaskDoesNotKillLoop(t *testing.T) {
	l := New(0)
	defer l.Close()
	require.NoError(t, l.Post(func() { panic("boom") }))
	require.NoError(t, l.Post(l.Exit))
	assert.NoError(t, wait(t, runAsync(l)))
}

func TestClosedLoop(t *testing.T) {
	l := New(0)
	l.Close()
	l.Close()
	assert.ErrorIs(t, l.Post(func() {}), ErrClosed)
	assert.ErrorIs(t, l.Signal(unix.SIGINT, func(os.Signal) {}), ErrClosed)
	assert.ErrorIs(t, l.Run(), ErrClosed)
	select {
	case <-l.Done():
	default:
		t.Fatal("close did not exit")
	}
}
