//go:build unix

package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// Run reads commands until ctx is cancelled
func (f *Fifo) Run(ctx context.Context) error {
	if err := ensureFifo(f.path); err != nil {
		return err
	}

	// Opening read-write keeps a writer on the pipe, so the reader neither
	// blocks in open nor sees EOF between clients.
	file, err := os.OpenFile(f.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open fifo: %w", err)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = file.Close()
	}()

	f.logger.Info("admin fifo listening")
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		f.handle(ctx, scanner.Text())
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("read fifo: %w", err)
	}
	return nil
}

func ensureFifo(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.Mode()&fs.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a named pipe", path)
		}
		return nil
	case errors.Is(err, fs.ErrNotExist):
		if err := unix.Mkfifo(path, 0o660); err != nil {
			return fmt.Errorf("create fifo: %w", err)
		}
		return nil
	default:
		return err
	}
}
