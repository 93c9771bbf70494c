package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/wml"
)

const (
	sendBuffer   = 256
	writeTimeout = 30 * time.Second
)

type connState int

const (
	stateVersion connState = iota
	stateLogin
	stateLoggedIn
)

// conn is one client connection. The reader and writer goroutines only touch
// the socket; every other field belongs to the reactor.
type conn struct {
	id          model.ConnID
	nc          net.Conn
	ip          string
	codec       protocol.Codec
	connectedAt time.Time
	logger      *slog.Logger

	send chan *wml.Node
	done chan struct{}

	state   connState
	version string
	closed  bool
	limiter *rate.Limiter
}

func newConn(id model.ConnID, nc net.Conn, ip string, codec protocol.Codec, now time.Time, logger *slog.Logger) *conn {
	return &conn{
		id:          id,
		nc:          nc,
		ip:          ip,
		codec:       codec,
		connectedAt: now,
		logger:      logger.With(slog.Uint64("conn", uint64(id)), slog.String("ip", ip)),
		send:        make(chan *wml.Node, sendBuffer),
		done:        make(chan struct{}),
	}
}

// Send queues a document. A client that cannot keep up is dropped rather
// than allowed to stall the reactor.
func (c *conn) Send(doc *wml.Node) {
	if c.closed {
		return
	}
	select {
	case c.send <- doc:
	default:
		c.logger.Warn("send buffer full, dropping connection")
		c.abort()
	}
}

// closeAfterFlush stops accepting documents and closes the socket once the
// queued ones are written
func (c *conn) closeAfterFlush() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// abort closes the socket without flushing
func (c *conn) abort() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	_ = c.nc.Close()
}

func (c *conn) writeLoop() {
	defer close(c.done)
	defer c.nc.Close()

	for doc := range c.send {
		_ = c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.codec.Write(c.nc, doc); err != nil {
			c.logger.Debug("write failed", slog.String("error", err.Error()))
			// the reader sees the close and reports the disconnect; drain
			// until the reactor closes the queue
			_ = c.nc.Close()
			for range c.send {
			}
			return
		}
	}
}

// readLoop decodes frames and posts them to the reactor until the
// connection fails
func (c *conn) readLoop(s *Server) {
	for {
		doc, err := c.codec.Read(c.nc)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("read failed", slog.String("error", err.Error()))
			}
			s.post(event{kind: evDisconnect, conn: c, err: err})
			return
		}
		if !s.post(event{kind: evMessage, conn: c, doc: doc}) {
			return
		}
	}
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
