package wml

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnexpectedClose = errors.New("wml: unexpected closing tag")
	ErrUnclosedTag     = errors.New("wml: unclosed tag")
	ErrMalformed       = errors.New("wml: malformed input")
)

// Bytes serializes the node. The root (unnamed) node emits only its
// attributes and children.
func (n *Node) Bytes() []byte {
	var buf bytes.Buffer
	n.write(&buf)
	return buf.Bytes()
}

// String serializes the node as text
func (n *Node) String() string {
	return string(n.Bytes())
}

func (n *Node) write(buf *bytes.Buffer) {
	if n.Name != "" {
		buf.WriteByte('[')
		buf.WriteString(n.Name)
		buf.WriteString("]\n")
	}
	for _, a := range n.attrs {
		buf.WriteString(a.Key)
		buf.WriteString("=\"")
		buf.WriteString(strings.ReplaceAll(a.Value, `"`, `""`))
		buf.WriteString("\"\n")
	}
	for _, c := range n.children {
		c.write(buf)
	}
	if n.Name != "" {
		buf.WriteString("[/")
		buf.WriteString(n.Name)
		buf.WriteString("]\n")
	}
}

// Parse reads a document from its text form
func Parse(data []byte) (*Node, error) {
	p := &parser{data: data}
	root := NewDocument()
	stack := []*Node{root}

	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		switch p.peek() {
		case '#':
			p.skipLine()
		case '[':
			p.pos++
			end := bytes.IndexByte(p.data[p.pos:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated tag at offset %d", ErrMalformed, p.pos)
			}
			tag := strings.TrimSpace(string(p.data[p.pos : p.pos+end]))
			p.pos += end + 1
			if strings.HasPrefix(tag, "/") {
				name := tag[1:]
				top := stack[len(stack)-1]
				if len(stack) == 1 || top.Name != name {
					return nil, fmt.Errorf("%w: [/%s]", ErrUnexpectedClose, name)
				}
				stack = stack[:len(stack)-1]
				continue
			}
			if !validName(tag) {
				return nil, fmt.Errorf("%w: bad tag name %q", ErrMalformed, tag)
			}
			child := stack[len(stack)-1].AddChild(tag)
			stack = append(stack, child)
		default:
			key, value, err := p.attribute()
			if err != nil {
				return nil, err
			}
			stack[len(stack)-1].Set(key, value)
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: [%s]", ErrUnclosedTag, stack[len(stack)-1].Name)
	}
	return root, nil
}

// ParseString is Parse for string input
func ParseString(s string) (*Node, error) {
	return Parse([]byte(s))
}

// MustParse panics on error; intended for fixtures
func MustParse(s string) *Node {
	n, err := ParseString(s)
	if err != nil {
		panic(err)
	}
	return n
}

type parser struct {
	data []byte
	pos  int
}

func (p *parser) eof() bool { return p.pos >= len(p.data) }

func (p *parser) peek() byte { return p.data[p.pos] }

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.data[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) skipLine() {
	for !p.eof() && p.data[p.pos] != '\n' {
		p.pos++
	}
}

func (p *parser) attribute() (string, string, error) {
	eq := bytes.IndexByte(p.data[p.pos:], '=')
	nl := bytes.IndexByte(p.data[p.pos:], '\n')
	if eq < 0 || (nl >= 0 && nl < eq) {
		return "", "", fmt.Errorf("%w: expected key=value at offset %d", ErrMalformed, p.pos)
	}
	key := strings.TrimSpace(string(p.data[p.pos : p.pos+eq]))
	if !validName(key) {
		return "", "", fmt.Errorf("%w: bad key %q", ErrMalformed, key)
	}
	p.pos += eq + 1

	for !p.eof() && (p.data[p.pos] == ' ' || p.data[p.pos] == '\t') {
		p.pos++
	}
	if p.eof() || p.data[p.pos] != '"' {
		start := p.pos
		p.skipLine()
		return key, strings.TrimSpace(string(p.data[start:p.pos])), nil
	}

	p.pos++
	var sb strings.Builder
	for {
		if p.eof() {
			return "", "", fmt.Errorf("%w: unterminated string for %q", ErrMalformed, key)
		}
		c := p.data[p.pos]
		p.pos++
		if c != '"' {
			sb.WriteByte(c)
			continue
		}
		if !p.eof() && p.data[p.pos] == '"' {
			sb.WriteByte('"')
			p.pos++
			continue
		}
		break
	}
	return key, sb.String(), nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
