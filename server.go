package vnc

import (
	"bufio"
	"encoding/binary"
	"image"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/amitbet/jpeg2vnc/logger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrServerClosed is returned by Serve and ServeConn after Close.
var ErrServerClosed = errors.New("vnc: server closed")

// PointerFunc receives pointer events from viewers.
type PointerFunc func(c Conn, x, y uint16, buttons Button)

// KeyFunc receives key events from viewers.
type KeyFunc func(c Conn, key Key, down bool)

// CutTextFunc receives clipboard text from viewers.
type CutTextFunc func(c Conn, text []byte)

// ServerConfig configures a Server. It must not be modified once the
// server is open.
type ServerConfig struct {
	VersionHandler    ServerHandler
	SecurityHandler   ServerHandler
	ClientInitHandler ServerHandler
	ServerInitHandler ServerHandler
	SecurityHandlers  []SecurityHandler
	// Encodings the server is willing to send pixels with.
	Encodings      []EncodingType
	PixelFormat    PixelFormat
	ClientMessages []ClientMessage
	// ClientMessageCh, when set, receives every parsed client message.
	// Messages are dropped if nobody is reading.
	ClientMessageCh chan ClientMessage
	DesktopName     []byte
	// Width and Height are announced while no display is attached.
	Width, Height    uint16
	HandshakeTimeout time.Duration

	PointerHandler PointerFunc
	KeyHandler     KeyFunc
	CutTextHandler CutTextFunc
}

// DefaultServerConfig returns a configuration with the standard handshake,
// no authentication and every pixel encoding the server implements.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		VersionHandler:    ServerVersionHandler,
		SecurityHandler:   ServerSecurityHandler,
		ClientInitHandler: ServerClientInitHandler,
		ServerInitHandler: ServerServerInitHandler,
		SecurityHandlers:  []SecurityHandler{&ServerAuthNone{}},
		Encodings:         []EncodingType{EncZRLE, EncZlib, EncHextile, EncRaw},
		PixelFormat:       PixelFormat32bit,
		ClientMessages:    DefaultClientMessages,
		DesktopName:       []byte("jpeg2vnc"),
		Width:             640,
		Height:            480,
		HandshakeTimeout:  10 * time.Second,
	}
}

// Server accepts viewers and serves them the attached Display.
type Server struct {
	cfg *ServerConfig

	mu        sync.Mutex
	listeners []net.Listener
	httpSrvs  []*http.Server
	conns     map[*ServerConn]struct{}
	display   *Display
	name      []byte
	closed    bool

	wg sync.WaitGroup
}

// NewServer returns a server that is not listening yet. A nil cfg means
// DefaultServerConfig.
func NewServer(cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	def := DefaultServerConfig()
	if cfg.VersionHandler == nil {
		cfg.VersionHandler = def.VersionHandler
	}
	if cfg.SecurityHandler == nil {
		cfg.SecurityHandler = def.SecurityHandler
	}
	if cfg.ClientInitHandler == nil {
		cfg.ClientInitHandler = def.ClientInitHandler
	}
	if cfg.ServerInitHandler == nil {
		cfg.ServerInitHandler = def.ServerInitHandler
	}
	if len(cfg.SecurityHandlers) == 0 {
		cfg.SecurityHandlers = def.SecurityHandlers
	}
	if len(cfg.Encodings) == 0 {
		cfg.Encodings = def.Encodings
	}
	if cfg.PixelFormat.BPP == 0 {
		cfg.PixelFormat = def.PixelFormat
	}
	if len(cfg.ClientMessages) == 0 {
		cfg.ClientMessages = def.ClientMessages
	}
	return &Server{
		cfg:   cfg,
		conns: make(map[*ServerConn]struct{}),
		name:  cfg.DesktopName,
	}
}

// Open listens on the TCP address addr and serves viewers in the
// background until Close.
func Open(addr string, cfg *ServerConfig) (*Server, error) {
	s := NewServer(cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	if !s.addListener(ln) {
		return nil, ErrServerClosed
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.serve(ln); err != nil && err != ErrServerClosed {
			logger.Error("Server.Serve: ", err)
		}
	}()
	logger.Infof("vnc server listening on %s", ln.Addr())
	return s, nil
}

// Serve accepts connections on ln until it fails or the server is closed.
func (s *Server) Serve(ln net.Listener) error {
	if !s.addListener(ln) {
		return ErrServerClosed
	}
	return s.serve(ln)
}

func (s *Server) addListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ln.Close()
		return false
	}
	s.listeners = append(s.listeners, ln)
	return true
}

func (s *Server) serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return errors.Wrap(err, "accept")
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(c)
		}()
	}
}

// Addr is the address of the first listener, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

// AddDisplay attaches d; the server keeps a reference until Close.
// Connected viewers move over from the previous display and get the whole
// new surface on their next request.
func (s *Server) AddDisplay(d *Display) {
	d.Ref()
	s.mu.Lock()
	old := s.display
	s.display = d
	conns := s.snapshot()
	for _, c := range conns {
		if old != nil {
			old.detach(c)
		}
		if err := d.attach(c); err != nil {
			c.log.Warn("attaching display: ", err)
		}
	}
	s.mu.Unlock()

	all := NewRegion(d.Bounds())
	for _, c := range conns {
		c.damaged(all)
	}
	if old != nil {
		old.Unref()
	}
}

// Display returns the attached display or nil.
func (s *Server) Display() *Display {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// SetName changes the desktop name. Connected viewers that understand the
// DesktopName pseudo-encoding are told on their next update.
func (s *Server) SetName(name string) {
	s.mu.Lock()
	s.name = []byte(name)
	conns := s.snapshot()
	s.mu.Unlock()
	for _, c := range conns {
		c.renamed()
	}
}

// SetClipboard sends text to every connected viewer as ServerCutText.
// RFB clipboard text is Latin-1.
func (s *Server) SetClipboard(text []byte) error {
	if len(text) > MaxCutText {
		return errors.Errorf("cut text of %d bytes exceeds %d", len(text), MaxCutText)
	}
	s.broadcast(&ServerCutText{Text: append([]byte(nil), text...)})
	return nil
}

// Bell rings the bell of every connected viewer.
func (s *Server) Bell() {
	s.broadcast(&Bell{})
}

func (s *Server) broadcast(msg ServerMessage) {
	s.mu.Lock()
	conns := s.snapshot()
	s.mu.Unlock()
	for _, c := range conns {
		c.Send(msg)
	}
}

// Name is the desktop name.
func (s *Server) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.name)
}

// NumConns counts the viewers past the handshake or in it.
func (s *Server) NumConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) snapshot() []*ServerConn {
	conns := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// track registers c and attaches it to the current display, if any, so
// no feed slips between ServerInit and the first request.
func (s *Server) track(c *ServerConn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if d := s.display; d != nil {
		if err := d.attach(c); err != nil {
			return err
		}
	}
	s.conns[c] = struct{}{}
	return nil
}

func (s *Server) untrack(c *ServerConn) {
	s.mu.Lock()
	delete(s.conns, c)
	if d := s.display; d != nil {
		d.detach(c)
	}
	s.mu.Unlock()
}

// ServeConn runs the handshake on nc and serves it until either side
// closes. It blocks.
func (s *Server) ServeConn(nc net.Conn) error {
	c := newServerConn(nc, s)
	if err := s.track(c); err != nil {
		nc.Close()
		return err
	}
	defer s.untrack(c)
	c.log.Info("viewer connected")

	if t := s.cfg.HandshakeTimeout; t > 0 {
		nc.SetDeadline(time.Now().Add(t))
	}
	for _, h := range []ServerHandler{
		s.cfg.VersionHandler,
		s.cfg.SecurityHandler,
		s.cfg.ClientInitHandler,
		s.cfg.ServerInitHandler,
	} {
		if err := h(s.cfg, c); err != nil {
			c.log.Warn("handshake failed: ", err)
			c.Close()
			return err
		}
	}
	nc.SetDeadline(time.Time{})

	err := c.Handle()
	c.log.Info("viewer disconnected")
	return err
}

// Close stops the listeners, disconnects every viewer, waits for their
// goroutines and drops the display reference.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := s.listeners
	httpSrvs := s.httpSrvs
	conns := s.snapshot()
	d := s.display
	s.display = nil
	if d != nil {
		for _, c := range conns {
			d.detach(c)
		}
	}
	s.mu.Unlock()

	var first error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, hs := range httpSrvs {
		hs.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	if d != nil {
		d.Unref()
	}
	return first
}

// ServerConn is one viewer.
type ServerConn struct {
	c   net.Conn
	cfg *ServerConfig
	srv *Server
	br  *bufio.Reader
	bw  *bufio.Writer
	id  string
	log *logrus.Entry

	mu          sync.Mutex
	protocol    string
	pixelFormat PixelFormat
	pendingPF   *PixelFormat
	encodings   []EncodingType
	fbWidth     uint16
	fbHeight    uint16
	desktopName []byte
	damage      Region
	requested   bool
	request     image.Rectangle
	nameDirty   bool
	outbox      []ServerMessage

	raw     *RawEncoding
	hextile *HextileEncoding
	zlib    *ZLibEncoding
	zrle    *ZRLEEncoding

	wake      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
}

var _ Conn = (*ServerConn)(nil)

func newServerConn(nc net.Conn, s *Server) *ServerConn {
	id := uuid.New().String()
	c := &ServerConn{
		c:           nc,
		cfg:         s.cfg,
		srv:         s,
		br:          bufio.NewReader(nc),
		bw:          bufio.NewWriterSize(nc, 64<<10),
		id:          id,
		log:         logger.WithFields(map[string]interface{}{"viewer": id, "remote": nc.RemoteAddr().String()}),
		pixelFormat: s.cfg.PixelFormat,
		encodings:   []EncodingType{EncRaw},
		fbWidth:     s.cfg.Width,
		fbHeight:    s.cfg.Height,
		raw:         &RawEncoding{},
		hextile:     &HextileEncoding{},
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
	}
	c.desktopName = []byte(s.Name())
	if d := s.Display(); d != nil {
		if w, h := d.Size(); w > 0 && h > 0 {
			c.fbWidth, c.fbHeight = uint16(w), uint16(h)
		}
	}
	return c
}

// connLog returns the logger of c when it is a ServerConn.
func connLog(c Conn) *logrus.Entry {
	if sc, ok := c.(*ServerConn); ok {
		return sc.log
	}
	return logger.WithFields(map[string]interface{}{"viewer": c.ID()})
}

func (c *ServerConn) Conn() net.Conn                { return c.c }
func (c *ServerConn) ID() string                    { return c.id }
func (c *ServerConn) Read(buf []byte) (int, error)  { return c.br.Read(buf) }
func (c *ServerConn) Write(buf []byte) (int, error) { return c.bw.Write(buf) }
func (c *ServerConn) Flush() error                  { return c.bw.Flush() }

func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.quit)
		err = c.c.Close()
	})
	return err
}

func (c *ServerConn) Protocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocol
}

func (c *ServerConn) SetProtoVersion(pv string) {
	c.mu.Lock()
	c.protocol = pv
	c.mu.Unlock()
}

func (c *ServerConn) PixelFormat() PixelFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pixelFormat
}

// SetPixelFormat validates pf; it takes effect from the next update on.
func (c *ServerConn) SetPixelFormat(pf PixelFormat) error {
	if err := pf.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.pendingPF = &pf
	c.mu.Unlock()
	return nil
}

func (c *ServerConn) Encodings() []EncodingType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EncodingType(nil), c.encodings...)
}

func (c *ServerConn) SetEncodings(encs []EncodingType) error {
	c.mu.Lock()
	c.encodings = append([]EncodingType(nil), encs...)
	c.mu.Unlock()
	return nil
}

func (c *ServerConn) Width() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fbWidth
}

func (c *ServerConn) Height() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fbHeight
}

func (c *ServerConn) SetWidth(w uint16) {
	c.mu.Lock()
	c.fbWidth = w
	c.mu.Unlock()
}

func (c *ServerConn) SetHeight(h uint16) {
	c.mu.Lock()
	c.fbHeight = h
	c.mu.Unlock()
}

func (c *ServerConn) DesktopName() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desktopName
}

func (c *ServerConn) SetDesktopName(name []byte) {
	c.mu.Lock()
	c.desktopName = name
	c.mu.Unlock()
}

func (c *ServerConn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *ServerConn) damaged(r Region) {
	c.mu.Lock()
	c.damage.Union(r)
	c.mu.Unlock()
	c.signal()
}

// maxOutbox bounds the messages queued for a viewer besides updates; the
// oldest is dropped when a slow viewer falls behind.
const maxOutbox = 16

// Send queues msg for the viewer's writer goroutine.
func (c *ServerConn) Send(msg ServerMessage) {
	c.mu.Lock()
	if len(c.outbox) == maxOutbox {
		c.outbox = c.outbox[1:]
	}
	c.outbox = append(c.outbox, msg)
	c.mu.Unlock()
	c.signal()
}

func (c *ServerConn) flushOutbox() error {
	c.mu.Lock()
	msgs := c.outbox
	c.outbox = nil
	c.mu.Unlock()
	for _, msg := range msgs {
		if err := msg.Write(c); err != nil {
			return errors.Wrapf(err, "writing message %d", msg.Type())
		}
	}
	return nil
}

func (c *ServerConn) renamed() {
	c.mu.Lock()
	c.nameDirty = true
	c.mu.Unlock()
	c.signal()
}

// Handle serves client messages and framebuffer updates until the
// connection ends.
func (c *ServerConn) Handle() error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	err := c.readLoop()
	c.Close()
	wg.Wait()
	if c.zlib != nil {
		c.zlib.Close()
	}
	if c.zrle != nil {
		c.zrle.Close()
	}
	return err
}

func (c *ServerConn) readLoop() error {
	clientMessages := make(map[ClientMessageType]ClientMessage)
	for _, m := range c.cfg.ClientMessages {
		clientMessages[m.Type()] = m
	}
	for {
		var messageType ClientMessageType
		if err := binary.Read(c, binary.BigEndian, &messageType); err != nil {
			return closedErr(err)
		}
		msg, ok := clientMessages[messageType]
		if !ok {
			return errors.Errorf("unsupported message-type: %v", messageType)
		}
		parsed, err := msg.Read(c)
		if err != nil {
			return closedErr(err)
		}
		if err := c.handleMessage(parsed); err != nil {
			c.log.Warn("ServerConn.readLoop: ", err)
			return err
		}
		if ch := c.cfg.ClientMessageCh; ch != nil {
			select {
			case ch <- parsed:
			default:
			}
		}
	}
}

// closedErr turns the errors of an orderly disconnect into nil.
func closedErr(err error) error {
	if err == io.EOF || errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
		return nil
	}
	return err
}

func (c *ServerConn) handleMessage(msg ClientMessage) error {
	switch m := msg.(type) {
	case *SetPixelFormat:
		if err := c.SetPixelFormat(m.PF); err != nil {
			return errors.Wrap(err, "SetPixelFormat")
		}
	case *SetEncodings:
		c.SetEncodings(m.Encodings)
		c.log.Debugf("encodings %v", m.Encodings)
	case *FramebufferUpdateRequest:
		r := image.Rect(int(m.X), int(m.Y), int(m.X)+int(m.Width), int(m.Y)+int(m.Height))
		c.mu.Lock()
		c.requested = true
		c.request = r
		if m.Inc == 0 {
			c.damage.Add(r)
		}
		c.mu.Unlock()
		c.signal()
	case *KeyEvent:
		if fn := c.cfg.KeyHandler; fn != nil {
			fn(c, m.Key, m.Down != 0)
		}
	case *PointerEvent:
		if fn := c.cfg.PointerHandler; fn != nil {
			fn(c, m.X, m.Y, m.Buttons())
		}
	case *ClientCutText:
		if fn := c.cfg.CutTextHandler; fn != nil {
			fn(c, m.Text)
		}
	}
	return nil
}

func (c *ServerConn) writeLoop() {
	for {
		select {
		case <-c.quit:
			return
		case <-c.wake:
		}
		err := c.flushOutbox()
		if err == nil {
			err = c.sendUpdate()
		}
		if err != nil {
			if closedErr(err) != nil {
				c.log.Warn("ServerConn.writeLoop: ", err)
			}
			c.Close()
			return
		}
	}
}

// pixelEncoding picks the first encoding in the viewer's list the server
// also allows. Raw is the fallback every viewer understands.
func (c *ServerConn) pixelEncoding() Encoding {
	for _, e := range c.encodings {
		if !hasEncoding(c.cfg.Encodings, e) {
			continue
		}
		switch e {
		case EncRaw:
			return c.raw
		case EncHextile:
			return c.hextile
		case EncZlib:
			if c.zlib == nil {
				c.zlib = NewZLibEncoding(compressionLevel(c.encodings))
			}
			return c.zlib
		case EncZRLE:
			if c.zrle == nil {
				c.zrle = NewZRLEEncoding(compressionLevel(c.encodings))
			}
			return c.zrle
		}
	}
	return c.raw
}

// sendUpdate answers an outstanding FramebufferUpdateRequest with whatever
// damage the request covers. It does nothing while no request is pending
// or nothing changed.
func (c *ServerConn) sendUpdate() error {
	var fb *Framebuffer
	if d := c.srv.Display(); d != nil {
		fb = d.Current()
	}
	if fb == nil {
		return nil
	}
	defer fb.Unref()

	c.mu.Lock()
	if !c.requested {
		c.mu.Unlock()
		return nil
	}
	if c.pendingPF != nil {
		c.pixelFormat = *c.pendingPF
		c.pendingPF = nil
	}

	var rects []*Rectangle
	bounds := fb.Bounds()
	if w, h := uint16(fb.Width()), uint16(fb.Height()); w != c.fbWidth || h != c.fbHeight {
		if hasEncoding(c.encodings, EncDesktopSizePseudo) {
			rects = append(rects, &Rectangle{Width: w, Height: h, Enc: &DesktopSizePseudoEncoding{}})
			c.fbWidth, c.fbHeight = w, h
			c.damage = NewRegion(bounds)
			c.request = bounds
		} else {
			bounds = bounds.Intersect(image.Rect(0, 0, int(c.fbWidth), int(c.fbHeight)))
		}
	}
	if c.nameDirty && hasEncoding(c.encodings, EncDesktopNamePseudo) {
		rects = append(rects, &Rectangle{Enc: &DesktopNamePseudoEncoding{Name: []byte(c.srv.Name())}})
	}
	c.nameDirty = false

	area := c.request.Intersect(bounds)
	dmg := c.damage.Intersect(area)
	if !dmg.Empty() {
		enc := c.pixelEncoding()
		for _, r := range dmg.Rects() {
			rects = append(rects, NewRectangle(r, enc, fb))
		}
	}
	if len(rects) == 0 {
		c.mu.Unlock()
		return nil
	}

	var rest Region
	for _, r := range c.damage.Rects() {
		if !r.In(area) {
			rest.Add(r)
		}
	}
	c.damage = rest
	c.requested = false
	c.mu.Unlock()

	msg := &FramebufferUpdate{Rects: rects}
	c.log.Tracef("update %v", msg)
	return msg.Write(c)
}
