// Package banfile persists the ban list as a gzip-compressed WML document
package banfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/storage"
	"github.com/mcoot/mpserver/internal/wml"
)

// Store reads and writes a single ban file
type Store struct {
	path string
}

var _ storage.BanStore = (*Store)(nil)

// New creates a store for the given path. The file need not exist yet.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file location
func (s *Store) Path() string {
	return s.path
}

func (s *Store) LoadBans(ctx context.Context) (*model.BanSnapshot, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &model.BanSnapshot{}, nil
		}
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open ban file %s: %w", s.path, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read ban file %s: %w", s.path, err)
	}
	doc, err := wml.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse ban file %s: %w", s.path, err)
	}
	return decode(doc), nil
}

func (s *Store) SaveBans(ctx context.Context, snapshot *model.BanSnapshot) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(encode(snapshot).Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".bans-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func encode(snap *model.BanSnapshot) *wml.Node {
	doc := wml.NewDocument()
	doc.SetInt("last_group_id", snap.LastGroupID)
	for name, id := range snap.Groups {
		doc.AddChild("group").Set("name", name).SetInt("id", id)
	}
	for i := range snap.Active {
		doc.AppendChild(encodeBan(&snap.Active[i]))
	}
	deleted := doc.AddChild("deleted")
	for i := range snap.Deleted {
		deleted.AppendChild(encodeBan(&snap.Deleted[i]))
	}
	return doc
}

func encodeBan(b *model.BanRecord) *wml.Node {
	n := wml.NewNode("ban").
		Set("ip", b.IP).
		SetInt("mask", b.Mask).
		Set("issuer", b.Issuer).
		Set("reason", b.Reason).
		Set("created", formatTime(b.Created))
	if b.Nick != "" {
		n.Set("nick", b.Nick)
	}
	if b.Group != "" {
		n.Set("group", b.Group)
	}
	if b.Expires != nil {
		n.Set("end_time", formatTime(*b.Expires))
	}
	if b.Deleted != nil {
		n.Set("deleted_time", formatTime(*b.Deleted))
	}
	return n
}

func decode(doc *wml.Node) *model.BanSnapshot {
	snap := &model.BanSnapshot{
		LastGroupID: doc.IntAttr("last_group_id", 0),
	}
	for _, g := range doc.Children("group") {
		if snap.Groups == nil {
			snap.Groups = make(map[string]int)
		}
		snap.Groups[g.Attr("name")] = g.IntAttr("id", 0)
	}
	for _, b := range doc.Children("ban") {
		snap.Active = append(snap.Active, decodeBan(b))
	}
	if deleted := doc.Child("deleted"); deleted != nil {
		for _, b := range deleted.Children("ban") {
			snap.Deleted = append(snap.Deleted, decodeBan(b))
		}
	}
	return snap
}

func decodeBan(n *wml.Node) model.BanRecord {
	b := model.BanRecord{
		IP:      n.Attr("ip"),
		Mask:    n.IntAttr("mask", 32),
		Nick:    n.Attr("nick"),
		Issuer:  n.Attr("issuer"),
		Reason:  n.Attr("reason"),
		Group:   n.Attr("group"),
		Created: parseTime(n.Attr("created")),
	}
	if v, ok := n.Lookup("end_time"); ok {
		t := parseTime(v)
		b.Expires = &t
	}
	if v, ok := n.Lookup("deleted_time"); ok {
		t := parseTime(v)
		b.Deleted = &t
	}
	return b
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseTime(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
