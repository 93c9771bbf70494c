package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Handshake words sent by the client before any frame
const (
	HandshakePlain uint32 = 0
	HandshakeTLS   uint32 = 1

	// HandshakeNoTLS answers a TLS request on a server without TLS
	HandshakeNoTLS uint32 = 0xFFFFFFFF
)

// ReadHandshake reads the client's 4-byte handshake word
func ReadHandshake(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read handshake: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// WriteHandshakeReply writes the server's 4-byte reply word
func WriteHandshakeReply(w io.Writer, word uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], word)
	_, err := w.Write(buf[:])
	return err
}

// ClientHandshake performs the client half of a plain handshake and returns
// the connection number assigned by the server
func ClientHandshake(rw io.ReadWriter) (uint32, error) {
	if err := WriteHandshakeReply(rw, HandshakePlain); err != nil {
		return 0, err
	}
	return ReadHandshake(rw)
}
