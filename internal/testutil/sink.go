package testutil

import (
	"github.com/mcoot/mpserver/internal/wml"
)

// Sink records every document sent to it
type Sink struct {
	Docs []*wml.Node
}

// Send stores a copy of the document
func (s *Sink) Send(doc *wml.Node) {
	s.Docs = append(s.Docs, doc.Clone())
}

// Kinds lists the top-level child names of the received documents
func (s *Sink) Kinds() []string {
	out := make([]string, 0, len(s.Docs))
	for _, d := range s.Docs {
		if c := d.FirstChild(); c != nil {
			out = append(out, c.Name)
		} else {
			out = append(out, "")
		}
	}
	return out
}

// Last returns the body of the most recent document of the given kind
func (s *Sink) Last(kind string) *wml.Node {
	for i := len(s.Docs) - 1; i >= 0; i-- {
		if c := s.Docs[i].Child(kind); c != nil {
			return c
		}
	}
	return nil
}

// All returns the bodies of every document of the given kind
func (s *Sink) All(kind string) []*wml.Node {
	var out []*wml.Node
	for _, d := range s.Docs {
		if c := d.Child(kind); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Messages returns the text of every chat message received
func (s *Sink) Messages() []string {
	var out []string
	for _, m := range s.All("message") {
		out = append(out, m.Attr("message"))
	}
	return out
}

// Reset forgets all received documents
func (s *Sink) Reset() {
	s.Docs = nil
}
