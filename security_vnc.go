package vnc

import (
	"crypto/des"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ServerAuthVNC is the standard password authentication. See 7.2.2.
type ServerAuthVNC struct {
	Password []byte
}

func (*ServerAuthVNC) Type() SecurityType {
	return SecTypeVNC
}

func (auth *ServerAuthVNC) Auth(c Conn) error {
	challenge := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, challenge); err != nil {
		return errors.Wrap(err, "challenge")
	}
	if err := binary.Write(c, binary.BigEndian, challenge); err != nil {
		return err
	}
	if err := c.Flush(); err != nil {
		return err
	}

	var crypted [16]byte
	if err := binary.Read(c, binary.BigEndian, &crypted); err != nil {
		return err
	}

	expected, err := AuthVNCEncode(auth.Password, challenge)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(expected, crypted[:]) != 1 {
		return ErrAuthFailed
	}
	return nil
}

// AuthVNCEncode returns challenge encrypted with password the way VNC
// viewers do it. challenge is left untouched.
func AuthVNCEncode(password []byte, challenge []byte) ([]byte, error) {
	if len(challenge) != 16 {
		return nil, errors.New("challenge size not 16 byte long")
	}
	// Copy password string to 8 byte 0-padded slice
	key := make([]byte, 8)
	copy(key, password)

	// Each byte of the password needs to be reversed. This is a
	// non RFC-documented behaviour of VNC clients and servers
	for i := range key {
		key[i] = (key[i]&0x55)<<1 | (key[i]&0xAA)>>1 // Swap adjacent bits
		key[i] = (key[i]&0x33)<<2 | (key[i]&0xCC)>>2 // Swap adjacent pairs
		key[i] = (key[i]&0x0F)<<4 | (key[i]&0xF0)>>4 // Swap the 2 halves
	}

	cipher, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(challenge))
	for i := 0; i < len(challenge); i += cipher.BlockSize() {
		cipher.Encrypt(out[i:i+cipher.BlockSize()], challenge[i:i+cipher.BlockSize()])
	}
	return out, nil
}
