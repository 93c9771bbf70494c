package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	users map[string]*model.RegisteredUser
	bans  *model.BanSnapshot
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		users: make(map[string]*model.RegisteredUser),
	}
}

var _ storage.Storage = (*Storage)(nil)

// User operations

func (s *Storage) SaveUser(ctx context.Context, user *model.RegisteredUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *user
	s.users[strings.ToLower(user.Username)] = &cp
	return nil
}

func (s *Storage) GetUser(ctx context.Context, username string) (*model.RegisteredUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *Storage) DeleteUser(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, strings.ToLower(username))
	return nil
}

func (s *Storage) ListUsers(ctx context.Context) ([]*model.RegisteredUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.RegisteredUser, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Ban operations

func (s *Storage) LoadBans(ctx context.Context) (*model.BanSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bans == nil {
		return &model.BanSnapshot{}, nil
	}
	return cloneSnapshot(s.bans), nil
}

func (s *Storage) SaveBans(ctx context.Context, snapshot *model.BanSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bans = cloneSnapshot(snapshot)
	return nil
}

func cloneSnapshot(in *model.BanSnapshot) *model.BanSnapshot {
	out := &model.BanSnapshot{
		Active:      append([]model.BanRecord(nil), in.Active...),
		Deleted:     append([]model.BanRecord(nil), in.Deleted...),
		LastGroupID: in.LastGroupID,
	}
	if in.Groups != nil {
		out.Groups = make(map[string]int, len(in.Groups))
		for k, v := range in.Groups {
			out.Groups[k] = v
		}
	}
	return out
}
