// Package replay writes finished scenarios to lz4-compressed WML files
package replay

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/mcoot/mpserver/internal/dependencies/clock"
	"github.com/mcoot/mpserver/internal/services/game"
	"github.com/mcoot/mpserver/internal/wml"
)

// Extension is appended to every replay file name
const Extension = ".wml.lz4"

// Config controls where replays go
type Config struct {
	// Dir is the replay directory. Empty disables replay writing.
	Dir string

	// Session distinguishes replays of different server runs
	Session string
}

type job struct {
	path string
	doc  *wml.Node
}

// Writer stores replays. Writes happen on a background goroutine after
// Start; before that they are synchronous.
type Writer struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	queue   chan job
	done    chan struct{}
	written int
}

var _ game.ReplaySink = (*Writer)(nil)

// New creates a replay writer
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Writer {
	return &Writer{
		cfg:    cfg,
		clock:  clk,
		logger: logger.With(slog.String("component", "replay")),
	}
}

// Start launches the background writer
func (w *Writer) Start() {
	if w.queue != nil {
		return
	}
	w.queue = make(chan job, 64)
	w.done = make(chan struct{})
	go w.run()
}

// Close waits for queued replays to be written
func (w *Writer) Close() {
	if w.queue == nil {
		return
	}
	close(w.queue)
	<-w.done
	w.queue = nil
}

// Written returns the number of replay files written
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Save queues a replay and returns its file name, or "" when disabled
func (w *Writer) Save(r game.Replay) string {
	if w.cfg.Dir == "" {
		return ""
	}
	name := FileName(r, w.cfg.Session)
	j := job{path: filepath.Join(w.cfg.Dir, name), doc: w.document(r)}
	if w.queue == nil {
		w.write(j)
	} else {
		w.queue <- j
	}
	return name
}

func (w *Writer) run() {
	defer close(w.done)
	for j := range w.queue {
		w.write(j)
	}
}

func (w *Writer) write(j job) {
	if err := writeFile(j.path, j.doc); err != nil {
		w.logger.Error("failed to write replay", slog.String("path", j.path), slog.Any("error", err))
		return
	}
	w.mu.Lock()
	w.written++
	w.mu.Unlock()
	w.logger.Debug("replay written", slog.String("path", j.path))
}

func (w *Writer) document(r game.Replay) *wml.Node {
	doc := wml.NewDocument()
	doc.AddChild("replay_info").
		SetInt("game", int(r.Game)).
		Set("name", r.Name).
		Set("scenario", r.Scenario).
		SetInt("turn", r.Turn).
		SetInt("saved", int(w.clock.Now().Unix()))
	if r.Level != nil {
		for _, c := range r.Level.AllChildren() {
			doc.AppendChild(c.Clone())
		}
	}
	replay := doc.AddChild("replay")
	for _, h := range r.History {
		for _, c := range h.AllChildren() {
			replay.AppendChild(c.Clone())
		}
	}
	return doc
}

// FileName builds "<scenario>_Turn_<n>_<game>_<session>.wml.lz4"
func FileName(r game.Replay, session string) string {
	scenario := sanitize(r.Scenario)
	if scenario == "" {
		scenario = "game"
	}
	name := fmt.Sprintf("%s_Turn_%d_%d", scenario, r.Turn, r.Game)
	if session != "" {
		name += "_" + sanitize(session)
	}
	return name + Extension
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func writeFile(path string, doc *wml.Node) error {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(doc.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".replay-*")
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
	return os.Rename(tmp.Name(), path)
}

// Read loads a replay file
func Read(path string) (*wml.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(lz4.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read replay %s: %w", path, err)
	}
	return wml.Parse(data)
}
