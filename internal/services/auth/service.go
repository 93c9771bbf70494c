package auth

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/mpserver/internal/dependencies/clock"
	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/storage"
)

// Config holds name rules and password policy
type Config struct {
	MaxNameLength int

	// Disallowed holds case-insensitive glob patterns for reserved names
	Disallowed []string

	// FailedLoginLimit is the number of wrong passwords from one address
	// before it is temporarily banned
	FailedLoginLimit int
	FailedLoginBan   time.Duration

	BcryptCost int
}

// DefaultConfig returns default auth configuration
func DefaultConfig() Config {
	return Config{
		MaxNameLength: 20,
		Disallowed: []string{
			"*admin*", "*admln*", "*server*", "player", "network",
			"human", "computer", "ai", "ai?", "*moderator*",
		},
		FailedLoginLimit: 10,
		FailedLoginBan:   time.Hour,
		BcryptCost:       bcrypt.DefaultCost,
	}
}

// Service checks login names and manages registered nicknames
type Service struct {
	storage storage.UserStore
	clock   clock.Clock
	cfg     Config

	mu       sync.Mutex
	failures map[string]int
}

// New creates a new auth service
func New(storage storage.UserStore, clock clock.Clock, cfg Config) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		storage:  storage,
		clock:    clock,
		cfg:      cfg,
		failures: make(map[string]int),
	}
}

// Config returns the active configuration
func (s *Service) Config() Config {
	return s.cfg
}

// ValidateName checks a requested login name against the naming rules
func (s *Service) ValidateName(name string) *model.LoginError {
	if name == "" || !validChars(name) {
		return &model.LoginError{
			Code:    model.LoginInvalidChars,
			Message: "The nickname '" + name + "' contains invalid characters. Only alpha-numeric characters, underscores and hyphens are allowed.",
		}
	}
	if s.cfg.MaxNameLength > 0 && len(name) > s.cfg.MaxNameLength {
		return &model.LoginError{
			Code:    model.LoginNameTooLong,
			Message: "The nickname '" + name + "' is too long. Nicks must not be longer than the allowed length.",
		}
	}
	if s.Reserved(name) {
		return &model.LoginError{
			Code:    model.LoginNameReserved,
			Message: "The nickname '" + name + "' is reserved and cannot be used by players.",
		}
	}
	return nil
}

// Reserved reports whether the name matches a disallowed pattern
func (s *Service) Reserved(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range s.cfg.Disallowed {
		if ok, _ := path.Match(strings.ToLower(pattern), lower); ok {
			return true
		}
	}
	return false
}

func validChars(name string) bool {
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// Lookup returns the registration for a name, or nil when unregistered
func (s *Service) Lookup(ctx context.Context, name string) (*model.RegisteredUser, error) {
	u, err := s.storage.GetUser(ctx, name)
	if errors.Is(err, model.ErrUserNotFound) {
		return nil, nil
	}
	return u, err
}

// Register creates a registered nickname
func (s *Service) Register(ctx context.Context, name, password, email string) (*model.RegisteredUser, error) {
	if _, err := s.storage.GetUser(ctx, name); err == nil {
		return nil, model.ErrUserExists
	} else if !errors.Is(err, model.ErrUserNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	user := &model.RegisteredUser{
		Username:     name,
		PasswordHash: string(hash),
		Email:        email,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.storage.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate checks a password and records the login
func (s *Service) Authenticate(ctx context.Context, name, password string) (*model.RegisteredUser, error) {
	user, err := s.storage.GetUser(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.ErrWrongPassword
	}
	user.LastLogin = s.clock.Now()
	if err := s.storage.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetPassword replaces a registered user's password
func (s *Service) SetPassword(ctx context.Context, name, password string) error {
	return s.update(ctx, name, func(u *model.RegisteredUser) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
		if err != nil {
			return err
		}
		u.PasswordHash = string(hash)
		return nil
	})
}

// SetModerator grants or revokes moderator rights
func (s *Service) SetModerator(ctx context.Context, name string, moderator bool) error {
	return s.update(ctx, name, func(u *model.RegisteredUser) error {
		u.Moderator = moderator
		return nil
	})
}

// SetBan applies an account-level ban. A nil expiry is permanent.
func (s *Service) SetBan(ctx context.Context, name string, banType model.ForumBanType, expiry *time.Time) error {
	return s.update(ctx, name, func(u *model.RegisteredUser) error {
		u.BanType = banType
		u.BanExpiry = expiry
		return nil
	})
}

// Unregister deletes a registered nickname
func (s *Service) Unregister(ctx context.Context, name string) error {
	return s.storage.DeleteUser(ctx, name)
}

// Users lists registered nicknames
func (s *Service) Users(ctx context.Context) ([]*model.RegisteredUser, error) {
	return s.storage.ListUsers(ctx)
}

func (s *Service) update(ctx context.Context, name string, fn func(u *model.RegisteredUser) error) error {
	user, err := s.storage.GetUser(ctx, name)
	if err != nil {
		return err
	}
	if err := fn(user); err != nil {
		return err
	}
	user.UpdatedAt = s.clock.Now()
	return s.storage.SaveUser(ctx, user)
}

// RecordFailure counts a wrong password from an address. It reports true
// once the limit is reached, resetting the count.
func (s *Service) RecordFailure(addr string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[addr]++
	n := s.failures[addr]
	if s.cfg.FailedLoginLimit > 0 && n >= s.cfg.FailedLoginLimit {
		delete(s.failures, addr)
		return n, true
	}
	return n, false
}

// ClearFailures forgets the failure count of an address
func (s *Service) ClearFailures(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, addr)
}
