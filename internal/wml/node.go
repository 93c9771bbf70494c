// Package wml implements the hierarchical document used on the wire and for
// persistence: named nodes with ordered string attributes and ordered
// children.
package wml

import (
	"strconv"
)

// Attr is a single key/value attribute
type Attr struct {
	Key   string
	Value string
}

// Node is a named element with ordered attributes and children.
// The root of a document has an empty name.
type Node struct {
	Name     string
	attrs    []Attr
	children []*Node
}

// NewNode creates an empty node with the given name
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// NewDocument creates an empty root node
func NewDocument() *Node {
	return &Node{}
}

// Attr returns the value of the attribute, or "" if unset
func (n *Node) Attr(key string) string {
	v, _ := n.Lookup(key)
	return v
}

// Lookup returns the value of the attribute and whether it is set
func (n *Node) Lookup(key string) (string, bool) {
	for _, a := range n.attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Has reports whether the attribute is set
func (n *Node) Has(key string) bool {
	_, ok := n.Lookup(key)
	return ok
}

// IntAttr parses the attribute as an integer, returning def if unset or invalid
func (n *Node) IntAttr(key string, def int) int {
	v, ok := n.Lookup(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// BoolAttr parses yes/no/true/false style attributes
func (n *Node) BoolAttr(key string, def bool) bool {
	v, ok := n.Lookup(key)
	if !ok {
		return def
	}
	switch v {
	case "yes", "true", "1", "on":
		return true
	case "no", "false", "0", "off":
		return false
	}
	return def
}

// Set sets an attribute, preserving its position if already present
func (n *Node) Set(key, value string) *Node {
	for i := range n.attrs {
		if n.attrs[i].Key == key {
			n.attrs[i].Value = value
			return n
		}
	}
	n.attrs = append(n.attrs, Attr{Key: key, Value: value})
	return n
}

// SetInt sets an integer attribute
func (n *Node) SetInt(key string, value int) *Node {
	return n.Set(key, strconv.Itoa(value))
}

// SetBool sets a yes/no attribute
func (n *Node) SetBool(key string, value bool) *Node {
	if value {
		return n.Set(key, "yes")
	}
	return n.Set(key, "no")
}

// Delete removes an attribute
func (n *Node) Delete(key string) {
	for i := range n.attrs {
		if n.attrs[i].Key == key {
			n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
			return
		}
	}
}

// Attrs returns a copy of the attributes in order
func (n *Node) Attrs() []Attr {
	out := make([]Attr, len(n.attrs))
	copy(out, n.attrs)
	return out
}

// AddChild appends a new empty child with the given name and returns it
func (n *Node) AddChild(name string) *Node {
	c := NewNode(name)
	n.children = append(n.children, c)
	return c
}

// AppendChild appends an existing node as a child
func (n *Node) AppendChild(c *Node) *Node {
	n.children = append(n.children, c)
	return c
}

// Children returns all children with the given name, in order
func (n *Node) Children(name string) []*Node {
	var out []*Node
	for _, c := range n.children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// AllChildren returns a copy of the child list
func (n *Node) AllChildren() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Child returns the first child with the given name, or nil
func (n *Node) Child(name string) *Node {
	for _, c := range n.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// HasChild reports whether a child with the given name exists
func (n *Node) HasChild(name string) bool {
	return n.Child(name) != nil
}

// FirstChild returns the first child regardless of name, or nil
func (n *Node) FirstChild() *Node {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[0]
}

// ChildCount returns the number of children with the given name
func (n *Node) ChildCount(name string) int {
	count := 0
	for _, c := range n.children {
		if c.Name == name {
			count++
		}
	}
	return count
}

// Len returns the total number of children
func (n *Node) Len() int {
	return len(n.children)
}

// ChildAt returns the index-th child with the given name, or nil
func (n *Node) ChildAt(name string, index int) *Node {
	pos := n.position(name, index)
	if pos < 0 {
		return nil
	}
	return n.children[pos]
}

// IndexOf returns the index of c among the children sharing its name, or -1
func (n *Node) IndexOf(c *Node) int {
	idx := 0
	for _, x := range n.children {
		if x.Name != c.Name {
			continue
		}
		if x == c {
			return idx
		}
		idx++
	}
	return -1
}

// FindChild returns the first child with the given name and attribute value,
// along with its index among same-named children
func (n *Node) FindChild(name, key, value string) (*Node, int) {
	idx := 0
	for _, c := range n.children {
		if c.Name != name {
			continue
		}
		if c.Attr(key) == value {
			return c, idx
		}
		idx++
	}
	return nil, -1
}

// InsertChild inserts c so it becomes the index-th child named c.Name,
// directly before the child currently holding that index. An index equal to
// the current count appends c after every other child.
func (n *Node) InsertChild(index int, c *Node) bool {
	count := n.ChildCount(c.Name)
	if index < 0 || index > count {
		return false
	}
	if index == count {
		n.children = append(n.children, c)
		return true
	}
	pos := n.position(c.Name, index)
	n.children = append(n.children, nil)
	copy(n.children[pos+1:], n.children[pos:])
	n.children[pos] = c
	return true
}

// RemoveChild removes the index-th child with the given name
func (n *Node) RemoveChild(name string, index int) bool {
	pos := n.position(name, index)
	if pos < 0 {
		return false
	}
	n.children = append(n.children[:pos], n.children[pos+1:]...)
	return true
}

// ReplaceChild replaces the index-th child with the given name
func (n *Node) ReplaceChild(name string, index int, c *Node) bool {
	pos := n.position(name, index)
	if pos < 0 {
		return false
	}
	n.children[pos] = c
	return true
}

// ClearChildren removes all children with the given name
func (n *Node) ClearChildren(name string) {
	kept := n.children[:0]
	for _, c := range n.children {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	n.children = kept
}

// RemoveAt removes the child at the absolute position
func (n *Node) RemoveAt(pos int) {
	if pos < 0 || pos >= len(n.children) {
		return
	}
	n.children = append(n.children[:pos], n.children[pos+1:]...)
}

// IsEmpty reports whether the node has no attributes and no children
func (n *Node) IsEmpty() bool {
	return len(n.attrs) == 0 && len(n.children) == 0
}

// Clone returns a deep copy
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{Name: n.Name}
	if len(n.attrs) > 0 {
		c.attrs = make([]Attr, len(n.attrs))
		copy(c.attrs, n.attrs)
	}
	if len(n.children) > 0 {
		c.children = make([]*Node, len(n.children))
		for i, ch := range n.children {
			c.children[i] = ch.Clone()
		}
	}
	return c
}

// Equal compares two nodes structurally. Attribute order is ignored.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Name != o.Name || len(n.attrs) != len(o.attrs) || len(n.children) != len(o.children) {
		return false
	}
	for _, a := range n.attrs {
		v, ok := o.Lookup(a.Key)
		if !ok || v != a.Value {
			return false
		}
	}
	for i := range n.children {
		if !n.children[i].Equal(o.children[i]) {
			return false
		}
	}
	return true
}

// position maps a same-name index to an absolute child position
func (n *Node) position(name string, index int) int {
	if index < 0 {
		return -1
	}
	idx := 0
	for pos, c := range n.children {
		if c.Name != name {
			continue
		}
		if idx == index {
			return pos
		}
		idx++
	}
	return -1
}

// Wrap returns a new root document containing n as its only child
func Wrap(n *Node) *Node {
	doc := NewDocument()
	doc.AppendChild(n)
	return doc
}
