package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/mpserver/internal/model"
)

type StorageSuite struct {
	suite.Suite
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.storage = New()
	s.ctx = context.Background()
}

func (s *StorageSuite) TestSaveAndGetUserIsCaseInsensitive() {
	err := s.storage.SaveUser(s.ctx, &model.RegisteredUser{Username: "Alice", PasswordHash: "h"})
	s.Require().NoError(err)

	user, err := s.storage.GetUser(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("Alice", user.Username)
}

func (s *StorageSuite) TestGetMissingUser() {
	_, err := s.storage.GetUser(s.ctx, "nobody")
	s.ErrorIs(err, model.ErrUserNotFound)
}

func (s *StorageSuite) TestReturnedUserIsACopy() {
	_ = s.storage.SaveUser(s.ctx, &model.RegisteredUser{Username: "bob"})

	user, _ := s.storage.GetUser(s.ctx, "bob")
	user.Moderator = true

	again, _ := s.storage.GetUser(s.ctx, "bob")
	s.False(again.Moderator)
}

func (s *StorageSuite) TestDeleteAndListUsers() {
	_ = s.storage.SaveUser(s.ctx, &model.RegisteredUser{Username: "b"})
	_ = s.storage.SaveUser(s.ctx, &model.RegisteredUser{Username: "a"})
	_ = s.storage.DeleteUser(s.ctx, "B")

	users, err := s.storage.ListUsers(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(users, 1)
	s.Equal("a", users[0].Username)
}

func (s *StorageSuite) TestBansDefaultEmpty() {
	snap, err := s.storage.LoadBans(s.ctx)
	s.Require().NoError(err)
	s.Empty(snap.Active)
	s.Zero(snap.LastGroupID)
}

func (s *StorageSuite) TestSaveAndLoadBans() {
	expiry := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	snap := &model.BanSnapshot{
		Active:      []model.BanRecord{{IP: "10.0.0.0", Mask: 8, Reason: "spam", Expires: &expiry}},
		Deleted:     []model.BanRecord{{IP: "1.2.3.4", Mask: 32}},
		LastGroupID: 3,
		Groups:      map[string]int{"proxies": 3},
	}
	s.Require().NoError(s.storage.SaveBans(s.ctx, snap))

	snap.Active[0].Reason = "mutated"

	loaded, err := s.storage.LoadBans(s.ctx)
	s.Require().NoError(err)
	s.Equal("spam", loaded.Active[0].Reason)
	s.Len(loaded.Deleted, 1)
	s.Equal(3, loaded.Groups["proxies"])
}
