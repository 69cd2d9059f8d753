package vnc

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

type SecurityType uint8

const (
	SecTypeUnknown = SecurityType(0)
	SecTypeNone    = SecurityType(1)
	SecTypeVNC     = SecurityType(2)
)

func (t SecurityType) String() string {
	switch t {
	case SecTypeNone:
		return "None"
	case SecTypeVNC:
		return "VNC"
	}
	return "Unknown"
}

// SecurityHandler runs one security type's exchange after it was chosen.
type SecurityHandler interface {
	Type() SecurityType
	Auth(Conn) error
}

// ErrAuthFailed is returned when a viewer fails authentication.
var ErrAuthFailed = errors.New("authentication failed")

// ServerAuthNone is the "none" authentication. See 7.2.1.
type ServerAuthNone struct{}

func (*ServerAuthNone) Type() SecurityType {
	return SecTypeNone
}

func (*ServerAuthNone) Auth(c Conn) error {
	return nil
}

// writeSecurityResult sends the SecurityResult. From 3.8 on a failure
// carries a reason string.
func writeSecurityResult(c Conn, authErr error) error {
	if authErr == nil {
		if err := binary.Write(c, binary.BigEndian, uint32(0)); err != nil {
			return err
		}
		return c.Flush()
	}
	if err := binary.Write(c, binary.BigEndian, uint32(1)); err != nil {
		return err
	}
	if c.Protocol() == ProtoVersion38 {
		reason := []byte(authErr.Error())
		if err := binary.Write(c, binary.BigEndian, uint32(len(reason))); err != nil {
			return err
		}
		if _, err := c.Write(reason); err != nil {
			return err
		}
	}
	return c.Flush()
}
