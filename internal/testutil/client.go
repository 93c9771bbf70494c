package testutil

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/wml"
)

// ClientTimeout bounds every read a test client makes
const ClientTimeout = 5 * time.Second

// Client is a protocol client for tests against a running server
type Client struct {
	ID    uint32
	conn  net.Conn
	codec protocol.Codec
}

// Dial connects and performs the plain handshake
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, ClientTimeout)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(ClientTimeout))
	id, err := protocol.ClientHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return &Client{ID: id, conn: conn, codec: protocol.NewCodec(false, 0)}, nil
}

// NewClient wraps a stream that needs no handshake, such as a websocket
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, codec: protocol.NewCodec(false, 0)}
}

// Close drops the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes one document
func (c *Client) Send(doc *wml.Node) error {
	return c.codec.Write(c.conn, doc)
}

// SendWML parses text and sends it
func (c *Client) SendWML(text string) error {
	doc, err := wml.Parse([]byte(text))
	if err != nil {
		return err
	}
	return c.Send(doc)
}

// Read returns the next document
func (c *Client) Read() (*wml.Node, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(ClientTimeout))
	return c.codec.Read(c.conn)
}

// Expect reads until a document of the given kind arrives, skipping others
func (c *Client) Expect(kind string) (*wml.Node, error) {
	for {
		doc, err := c.Read()
		if err != nil {
			return nil, fmt.Errorf("waiting for [%s]: %w", kind, err)
		}
		if protocol.Kind(doc) == kind {
			return doc, nil
		}
	}
}

// ExpectMessage reads until a chat message containing text arrives
func (c *Client) ExpectMessage(text string) (*wml.Node, error) {
	for {
		doc, err := c.Expect(protocol.KindMessage)
		if err != nil {
			return nil, fmt.Errorf("waiting for message %q: %w", text, err)
		}
		if strings.Contains(doc.Child(protocol.KindMessage).Attr("message"), text) {
			return doc, nil
		}
	}
}

// Handshake answers the version query and waits for the login request
func (c *Client) Handshake(version string) error {
	if _, err := c.Expect(protocol.KindVersion); err != nil {
		return err
	}
	if err := c.SendWML(fmt.Sprintf("[version]\nversion=%q\n[/version]\n", version)); err != nil {
		return err
	}
	_, err := c.Expect(protocol.KindMustLogin)
	return err
}

// SendLogin sends a login attempt. An empty password is omitted.
func (c *Client) SendLogin(name, password string) error {
	body := wml.NewNode(protocol.KindLogin).Set("username", name)
	if password != "" {
		body.Set("password", password)
	}
	return c.Send(wml.Wrap(body))
}

// Login performs the handshake and an unregistered login, returning the
// lobby snapshot
func (c *Client) Login(version, name string) (*wml.Node, error) {
	if err := c.Handshake(version); err != nil {
		return nil, err
	}
	if err := c.SendLogin(name, ""); err != nil {
		return nil, err
	}
	if _, err := c.Expect(protocol.KindJoinLobby); err != nil {
		return nil, err
	}
	return c.Expect(protocol.KindGamelist)
}
