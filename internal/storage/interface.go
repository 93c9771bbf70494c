package storage

import (
	"context"

	"github.com/mcoot/mpserver/internal/model"
)

// UserStore persists registered nicknames. Usernames are matched
// case-insensitively.
type UserStore interface {
	SaveUser(ctx context.Context, user *model.RegisteredUser) error
	GetUser(ctx context.Context, username string) (*model.RegisteredUser, error)
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]*model.RegisteredUser, error)
}

// BanStore persists the ban manager state as a single snapshot
type BanStore interface {
	LoadBans(ctx context.Context) (*model.BanSnapshot, error)
	SaveBans(ctx context.Context, snapshot *model.BanSnapshot) error
}

// Storage is the full persistence surface
type Storage interface {
	UserStore
	BanStore
}
