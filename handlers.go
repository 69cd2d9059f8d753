package vnc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Protocol versions the server speaks.
const (
	ProtoVersion33 = "RFB 003.003\n"
	ProtoVersion37 = "RFB 003.007\n"
	ProtoVersion38 = "RFB 003.008\n"

	ProtoVersionLength = 12
)

// ServerHandler is one step of the connection handshake.
type ServerHandler func(*ServerConfig, Conn) error

// ParseProtoVersion splits a ProtocolVersion message into major and minor.
func ParseProtoVersion(pv []byte) (uint, uint, error) {
	var major, minor uint
	if len(pv) < ProtoVersionLength {
		return 0, 0, errors.Errorf("ProtocolVersion message too short (%v < %v)", len(pv), ProtoVersionLength)
	}
	l, err := fmt.Sscanf(string(pv), "RFB %d.%d\n", &major, &minor)
	if l != 2 {
		return 0, 0, errors.Errorf("error parsing ProtocolVersion %q", pv)
	}
	if err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}

// ServerVersionHandler offers 3.8 and settles on the highest version both
// sides know. 3.4 and 3.6 (UltraVNC) are treated as 3.3.
func ServerVersionHandler(cfg *ServerConfig, c Conn) error {
	if _, err := io.WriteString(c, ProtoVersion38); err != nil {
		return err
	}
	if err := c.Flush(); err != nil {
		return err
	}
	var version [ProtoVersionLength]byte
	if _, err := io.ReadFull(c, version[:]); err != nil {
		return err
	}
	major, minor, err := ParseProtoVersion(version[:])
	if err != nil {
		return err
	}
	switch {
	case major != 3 || minor < 3:
		return errors.Errorf("unsupported protocol version %d.%d", major, minor)
	case minor >= 8:
		c.SetProtoVersion(ProtoVersion38)
	case minor == 7:
		c.SetProtoVersion(ProtoVersion37)
	default:
		c.SetProtoVersion(ProtoVersion33)
	}
	return nil
}

// ServerSecurityHandler negotiates a security type from
// cfg.SecurityHandlers and runs it.
func ServerSecurityHandler(cfg *ServerConfig, c Conn) error {
	if len(cfg.SecurityHandlers) == 0 {
		return errors.New("no security handlers configured")
	}

	var sec SecurityHandler
	if c.Protocol() == ProtoVersion33 {
		// 3.3 has no negotiation; the server decides.
		sec = cfg.SecurityHandlers[0]
		if err := binary.Write(c, binary.BigEndian, uint32(sec.Type())); err != nil {
			return err
		}
		if err := c.Flush(); err != nil {
			return err
		}
	} else {
		types := make([]SecurityType, 0, len(cfg.SecurityHandlers))
		for _, h := range cfg.SecurityHandlers {
			types = append(types, h.Type())
		}
		if err := binary.Write(c, binary.BigEndian, uint8(len(types))); err != nil {
			return err
		}
		if err := binary.Write(c, binary.BigEndian, types); err != nil {
			return err
		}
		if err := c.Flush(); err != nil {
			return err
		}
		var chosen SecurityType
		if err := binary.Read(c, binary.BigEndian, &chosen); err != nil {
			return err
		}
		for _, h := range cfg.SecurityHandlers {
			if h.Type() == chosen {
				sec = h
				break
			}
		}
		if sec == nil {
			err := errors.Errorf("security type %v not offered", chosen)
			writeSecurityResult(c, err)
			return err
		}
	}

	authErr := sec.Auth(c)
	// None skips the SecurityResult before 3.8.
	if sec.Type() == SecTypeNone && c.Protocol() != ProtoVersion38 {
		return authErr
	}
	if err := writeSecurityResult(c, authErr); err != nil {
		return err
	}
	return authErr
}

// ServerClientInitHandler reads the shared flag. Every viewer shares the
// one display, so the flag only gets logged.
func ServerClientInitHandler(cfg *ServerConfig, c Conn) error {
	var shared uint8
	if err := binary.Read(c, binary.BigEndian, &shared); err != nil {
		return err
	}
	if shared == 0 {
		connLog(c).Debug("viewer asked for an exclusive session; sharing anyway")
	}
	return nil
}

// ServerServerInitHandler announces the framebuffer size, pixel format and
// desktop name.
func ServerServerInitHandler(cfg *ServerConfig, c Conn) error {
	name := c.DesktopName()
	srvInit := ServerInit{
		FBWidth:     c.Width(),
		FBHeight:    c.Height(),
		PixelFormat: c.PixelFormat(),
		NameLength:  uint32(len(name)),
		NameText:    name,
	}
	if err := binary.Write(c, binary.BigEndian, srvInit.FBWidth); err != nil {
		return err
	}
	if err := binary.Write(c, binary.BigEndian, srvInit.FBHeight); err != nil {
		return err
	}
	if err := srvInit.PixelFormat.Write(c); err != nil {
		return err
	}
	if err := binary.Write(c, binary.BigEndian, srvInit.NameLength); err != nil {
		return err
	}
	if _, err := c.Write(srvInit.NameText); err != nil {
		return err
	}
	connLog(c).Debugf("ServerInit: %s", srvInit)
	return c.Flush()
}
