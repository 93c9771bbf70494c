package ban

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/storage"
)

type saveJob struct {
	seq  uint64
	snap *model.BanSnapshot
}

// saver writes ban snapshots off the caller's goroutine. Only the newest
// pending snapshot is kept; older sequence numbers are never written after
// a newer one.
type saver struct {
	store  storage.BanStore
	logger *slog.Logger

	mu      sync.Mutex
	written uint64

	pending chan saveJob
	done    chan struct{}
}

func newSaver(store storage.BanStore, logger *slog.Logger) *saver {
	return &saver{
		store:   store,
		logger:  logger,
		pending: make(chan saveJob, 1),
		done:    make(chan struct{}),
	}
}

func (s *saver) run() {
	defer close(s.done)
	for job := range s.pending {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.write(ctx, job); err != nil {
			s.logger.Error("failed to save bans", slog.Any("error", err))
		}
		cancel()
	}
}

func (s *saver) submit(job saveJob) {
	for {
		select {
		case s.pending <- job:
			return
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

func (s *saver) write(ctx context.Context, job saveJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.seq <= s.written {
		return nil
	}
	if err := s.store.SaveBans(ctx, job.snap); err != nil {
		return err
	}
	s.written = job.seq
	return nil
}

func (s *saver) close() {
	close(s.pending)
	<-s.done
}
