package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/mpserver/internal/model"
)

type StorageSuite struct {
	suite.Suite
	mini    *miniredis.Miniredis
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	s.storage = NewWithClient(client, DefaultConfig())
	s.ctx = context.Background()
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

// User tests

func (s *StorageSuite) TestSaveAndGetUser() {
	user := &model.RegisteredUser{
		Username:     "Alice",
		PasswordHash: "$2a$10$hash",
		Moderator:    true,
		CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(s.storage.SaveUser(s.ctx, user))

	got, err := s.storage.GetUser(s.ctx, "ALICE")
	s.Require().NoError(err)
	s.Equal("Alice", got.Username)
	s.True(got.Moderator)
	s.True(user.CreatedAt.Equal(got.CreatedAt))
}

func (s *StorageSuite) TestUserKeysAreNamespaced() {
	s.Require().NoError(s.storage.SaveUser(s.ctx, &model.RegisteredUser{Username: "Bob"}))

	s.True(s.mini.Exists("mpserver:user:bob"))
	members, err := s.mini.SMembers("mpserver:idx:users")
	s.Require().NoError(err)
	s.Equal([]string{"bob"}, members)
}

func (s *StorageSuite) TestGetMissingUser() {
	_, err := s.storage.GetUser(s.ctx, "ghost")
	s.ErrorIs(err, model.ErrUserNotFound)
}

func (s *StorageSuite) TestListAndDeleteUsers() {
	for _, name := range []string{"carol", "alice", "bob"} {
		s.Require().NoError(s.storage.SaveUser(s.ctx, &model.RegisteredUser{Username: name}))
	}
	s.Require().NoError(s.storage.DeleteUser(s.ctx, "Bob"))

	users, err := s.storage.ListUsers(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(users, 2)
	s.Equal("alice", users[0].Username)
	s.Equal("carol", users[1].Username)
}

func (s *StorageSuite) TestListUsersEmpty() {
	users, err := s.storage.ListUsers(s.ctx)
	s.Require().NoError(err)
	s.Empty(users)
}

// Ban tests

func (s *StorageSuite) TestLoadBansWhenUnset() {
	snap, err := s.storage.LoadBans(s.ctx)
	s.Require().NoError(err)
	s.Empty(snap.Active)
	s.Empty(snap.Deleted)
}

func (s *StorageSuite) TestSaveAndLoadBans() {
	expiry := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := &model.BanSnapshot{
		Active: []model.BanRecord{
			{IP: "192.168.0.0", Mask: 16, Reason: "abuse", Issuer: "admin", Group: "lan", Expires: &expiry},
			{IP: "0.0.0.0", Mask: 0, Nick: "troll", Reason: "nick"},
		},
		LastGroupID: 1,
		Groups:      map[string]int{"lan": 1},
	}
	s.Require().NoError(s.storage.SaveBans(s.ctx, snap))

	loaded, err := s.storage.LoadBans(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(loaded.Active, 2)
	s.Equal("lan", loaded.Active[0].Group)
	s.True(expiry.Equal(*loaded.Active[0].Expires))
	s.Nil(loaded.Active[1].Expires)
	s.Equal(1, loaded.Groups["lan"])
}

func (s *StorageSuite) TestLoadBansCorrupt() {
	s.Require().NoError(s.mini.Set("mpserver:bans", "{not json"))
	_, err := s.storage.LoadBans(s.ctx)
	s.Error(err)
}
