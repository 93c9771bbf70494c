//go:build unix

package admin

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/mpserver/internal/testutil"
)

type recordingRunner struct {
	mu       sync.Mutex
	commands []string
	issuers  []string
}

func (r *recordingRunner) Admin(_ context.Context, issuer, line string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, line)
	r.issuers = append(r.issuers, issuer)
	return "ok", nil
}

func (r *recordingRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

type FifoSuite struct {
	suite.Suite
	path   string
	runner *recordingRunner
}

func TestFifoSuite(t *testing.T) {
	suite.Run(t, new(FifoSuite))
}

func (s *FifoSuite) SetupTest() {
	s.path = filepath.Join(s.T().TempDir(), "socket")
	s.runner = &recordingRunner{}
}

func (s *FifoSuite) start() (context.CancelFunc, chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewFifo(s.path, s.runner, testutil.NopLogger()).Run(ctx) }()

	s.Require().Eventually(func() bool {
		info, err := os.Stat(s.path)
		return err == nil && info.Mode()&fs.ModeNamedPipe != 0
	}, time.Second, 5*time.Millisecond)
	return cancel, done
}

func (s *FifoSuite) write(text string) {
	w, err := os.OpenFile(s.path, os.O_WRONLY, 0)
	s.Require().NoError(err)
	_, err = w.WriteString(text)
	s.Require().NoError(err)
	s.Require().NoError(w.Close())
}

func (s *FifoSuite) TestRunsEachLine() {
	cancel, done := s.start()
	defer cancel()

	s.write("status\n\nkick bob\n")
	// a second client after the first closed its end
	s.write("motd hello\n")

	s.Eventually(func() bool { return len(s.runner.seen()) == 3 }, time.Second, 5*time.Millisecond)
	s.Equal([]string{"status", "kick bob", "motd hello"}, s.runner.seen())
	s.Equal(Issuer, s.runner.issuers[0])

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("fifo reader did not stop")
	}
}

func (s *FifoSuite) TestRejectsRegularFile() {
	s.Require().NoError(os.WriteFile(s.path, []byte("not a pipe"), 0o600))

	err := NewFifo(s.path, s.runner, testutil.NopLogger()).Run(context.Background())
	s.Error(err)
	s.Contains(err.Error(), "not a named pipe")
}

func (s *FifoSuite) TestReusesExistingPipe() {
	cancel, done := s.start()
	cancel()
	<-done

	// the pipe is left in place and picked up again
	cancel, done = s.start()
	defer func() {
		cancel()
		<-done
	}()
	s.write("stats\n")
	s.Eventually(func() bool { return len(s.runner.seen()) == 1 }, time.Second, 5*time.Millisecond)
}
