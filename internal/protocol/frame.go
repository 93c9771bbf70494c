// Package protocol implements the framed wire format: a 4-byte big-endian
// length followed by a WML document, optionally gzip-compressed.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/wml"
)

// DefaultMaxFrameSize bounds a single inbound frame
const DefaultMaxFrameSize = 20 << 20

// Codec encodes and decodes frames
type Codec struct {
	Compress     bool
	MaxFrameSize int
}

// NewCodec returns a codec with the given compression setting
func NewCodec(compress bool, maxFrameSize int) Codec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return Codec{Compress: compress, MaxFrameSize: maxFrameSize}
}

// Encode returns the complete frame (length prefix included) for doc
func (c Codec) Encode(doc *wml.Node) ([]byte, error) {
	payload := doc.Bytes()
	if c.Compress {
		var zbuf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&zbuf, gzip.BestSpeed)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("compress frame: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress frame: %w", err)
		}
		payload = zbuf.Bytes()
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	return frame, nil
}

// Write encodes doc and writes it to w
func (c Codec) Write(w io.Writer, doc *wml.Node) error {
	frame, err := c.Encode(doc)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// Read reads one frame from r and decodes it
func (c Codec) Read(r io.Reader) (*wml.Node, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if c.MaxFrameSize > 0 && int64(size) > int64(c.MaxFrameSize) {
		return nil, fmt.Errorf("%w: %d bytes", model.ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return c.Decode(payload)
}

// Decode parses a frame payload, inflating it if it is gzip data
func (c Codec) Decode(payload []byte) (*wml.Node, error) {
	if isGzip(payload) {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		defer zr.Close()

		limit := int64(c.MaxFrameSize)
		if limit <= 0 {
			limit = DefaultMaxFrameSize
		}
		// inflated data gets a generous multiple of the frame limit
		inflated, err := io.ReadAll(io.LimitReader(zr, limit*8+1))
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		if int64(len(inflated)) > limit*8 {
			return nil, fmt.Errorf("%w: inflated payload", model.ErrFrameTooLarge)
		}
		payload = inflated
	}
	return wml.Parse(payload)
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}
