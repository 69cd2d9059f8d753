package output

import (
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	vnc "github.com/amitbet/jpeg2vnc"
	"github.com/amitbet/jpeg2vnc/eventloop"
	"github.com/amitbet/jpeg2vnc/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ServerState is the phase the server loop is in.
type ServerState int32

const (
	ServerStarting ServerState = iota
	ServerRunning
	ServerStopping
	ServerStopped
)

func (s ServerState) String() string {
	switch s {
	case ServerStarting:
		return "Starting"
	case ServerRunning:
		return "Running"
	case ServerStopping:
		return "Stopping"
	case ServerStopped:
		return "Stopped"
	}
	return fmt.Sprintf("ServerState(%d)", int32(s))
}

// Names recorded by ServerLoop.Releases.
const (
	ReleaseServer    = "server"
	ReleaseDisplay   = "display"
	ReleaseEventLoop = "eventloop"
)

// ServerParams configures the remote display side.
type ServerParams struct {
	Listen          string
	WebsocketListen string
	Name            string
	// Password enables VNC authentication when set.
	Password string
	// Width and Height size the display until the first frame arrives.
	Width, Height int
}

// ServerLoop owns the event loop, the RFB server and the display, in
// that acquisition order, and releases them in reverse.
type ServerLoop struct {
	params ServerParams
	// beforeRelease runs after the server is closed and before the
	// display goes away.
	beforeRelease func()
	log           *logrus.Entry

	state atomic.Int32
	ready chan struct{}

	mu       sync.Mutex
	exiting  bool
	loop     *eventloop.Loop
	srv      *vnc.Server
	display  *vnc.Display
	releases []string
}

// NewServerLoop returns a loop in the Starting state; nothing is acquired
// until Run.
func NewServerLoop(p ServerParams) *ServerLoop {
	return &ServerLoop{
		params: p,
		ready:  make(chan struct{}),
		log:    logger.WithFields(map[string]interface{}{"component": "server"}),
	}
}

// State returns the current phase.
func (s *ServerLoop) State() ServerState {
	return ServerState(s.state.Load())
}

func (s *ServerLoop) setState(st ServerState) {
	s.state.Store(int32(st))
}

// Ready is closed once the display is registered and the loop runs.
func (s *ServerLoop) Ready() <-chan struct{} {
	return s.ready
}

// Display returns the registered display, nil before Ready.
func (s *ServerLoop) Display() *vnc.Display {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// Addr is the RFB listen address, nil before Ready.
func (s *ServerLoop) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	return s.srv.Addr()
}

// Releases lists what Run released so far, in order.
func (s *ServerLoop) Releases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.releases...)
}

func (s *ServerLoop) released(what string) {
	s.mu.Lock()
	s.releases = append(s.releases, what)
	s.mu.Unlock()
	s.log.Debugf("server: released %s", what)
}

// Exit asks Run to stop. It may be called from any goroutine, before or
// during Run.
func (s *ServerLoop) Exit() {
	s.mu.Lock()
	s.exiting = true
	loop := s.loop
	s.mu.Unlock()
	if loop != nil {
		loop.Exit()
	}
}

// Raise delivers sig to the event loop as if the process got it.
func (s *ServerLoop) Raise(sig os.Signal) {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	if loop != nil {
		loop.Raise(sig)
	}
}

// Run acquires everything, serves viewers until the event loop exits and
// then tears down. Whatever was acquired is released even when starting
// fails.
func (s *ServerLoop) Run() error {
	s.setState(ServerStarting)
	if err := s.start(); err != nil {
		s.stop()
		return err
	}

	s.setState(ServerRunning)
	close(s.ready)
	s.log.Infof("server: running as %q", s.params.Name)

	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	err := loop.Run()

	s.stop()
	return err
}

func (s *ServerLoop) start() error {
	loop := eventloop.New(0)
	s.mu.Lock()
	s.loop = loop
	if s.exiting {
		loop.Exit()
	}
	s.mu.Unlock()

	cfg := vnc.DefaultServerConfig()
	if s.params.Name != "" {
		cfg.DesktopName = []byte(s.params.Name)
	}
	if s.params.Width > 0 && s.params.Height > 0 {
		cfg.Width, cfg.Height = uint16(s.params.Width), uint16(s.params.Height)
	}
	if s.params.Password != "" {
		cfg.SecurityHandlers = []vnc.SecurityHandler{&vnc.ServerAuthVNC{Password: []byte(s.params.Password)}}
	}
	cfg.PointerHandler = func(c vnc.Conn, x, y uint16, buttons vnc.Button) {
		s.log.Tracef("server: pointer %d,%d %v from %s", x, y, buttons, c.ID())
	}
	cfg.KeyHandler = func(c vnc.Conn, key vnc.Key, down bool) {
		s.log.Tracef("server: key %#x down=%v from %s", uint32(key), down, c.ID())
	}

	srv, err := vnc.Open(s.params.Listen, cfg)
	if err != nil {
		return errors.Wrap(err, "server: opening")
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	if s.params.WebsocketListen != "" {
		if _, err := srv.ListenWebsocket(s.params.WebsocketListen); err != nil {
			return errors.Wrap(err, "server: opening websocket")
		}
	}

	display := vnc.NewDisplay(s.params.Width, s.params.Height)
	srv.AddDisplay(display)
	s.mu.Lock()
	s.display = display
	s.mu.Unlock()
	if s.params.Name != "" {
		srv.SetName(s.params.Name)
	}

	for _, sig := range eventloop.TerminationSignals {
		err := loop.Signal(sig, func(sig os.Signal) {
			s.log.Infof("server: got %v, shutting down", sig)
			loop.Exit()
		})
		if err != nil {
			return errors.Wrap(err, "server: installing signal handler")
		}
	}
	return nil
}

func (s *ServerLoop) stop() {
	s.setState(ServerStopping)

	s.mu.Lock()
	srv, display, loop := s.srv, s.display, s.loop
	s.mu.Unlock()

	if srv != nil {
		if err := srv.Close(); err != nil {
			s.log.Warnf("server: closing: %v", err)
		}
		s.released(ReleaseServer)
	}
	if s.beforeRelease != nil {
		s.beforeRelease()
	}
	if display != nil {
		display.Unref()
		s.released(ReleaseDisplay)
	}
	if loop != nil {
		loop.Close()
		s.released(ReleaseEventLoop)
	}
	s.setState(ServerStopped)
}
