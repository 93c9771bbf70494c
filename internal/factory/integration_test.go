package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/mpserver/internal/config"
	"github.com/mcoot/mpserver/internal/services/ban"
	"github.com/mcoot/mpserver/internal/testutil"
)

type IntegrationSuite struct {
	suite.Suite
	ctx context.Context
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupTest() {
	s.ctx = context.Background()
}

// Test: bans written through a ban file are back after a restart
func (s *IntegrationSuite) TestBansSurviveRestart() {
	file := filepath.Join(s.T().TempDir(), "bans.gz")
	withFile := func(cfg *config.Config) { cfg.Bans.File = file }

	first, err := NewTestApp(withFile)
	s.Require().NoError(err)
	s.Require().NoError(first.Start(s.ctx))
	_, err = first.Bans.Ban(ban.Request{Target: "10.0.0.0/8", Duration: "permanent", Reason: "abuse", Issuer: "test"})
	s.Require().NoError(err)
	_, err = first.Bans.Ban(ban.Request{Nick: "griefer", Duration: "1d", Issuer: "test"})
	s.Require().NoError(err)
	s.Require().NoError(first.Close(s.ctx))

	second, err := NewTestApp(withFile)
	s.Require().NoError(err)
	s.Require().NoError(second.Start(s.ctx))
	defer second.Close(s.ctx)

	s.Equal(2, second.Bans.Count())
	s.True(second.Bans.IsIPBanned("10.1.2.3"))
	_, banned := second.Bans.GetBanInfo("192.0.2.1", "Griefer")
	s.True(banned)
}

// Test: with redis storage, registered nicks and bans are shared between runs
func (s *IntegrationSuite) TestRedisStorageRoundTrip() {
	mr := miniredis.RunT(s.T())

	cfg := TestConfig()
	cfg.Storage.Type = StorageTypeRedis
	cfg.Storage.RedisURL = "redis://" + mr.Addr()
	cfg.Storage.KeyPrefix = "itest"

	first, err := New(cfg, testutil.NopLogger())
	s.Require().NoError(err)
	s.Require().NoError(first.Start(s.ctx))
	_, err = first.Auth.Register(s.ctx, "carol", "secret", "carol@example.org")
	s.Require().NoError(err)
	_, err = first.Bans.Ban(ban.Request{Target: "203.0.113.7", Duration: "permanent", Issuer: "test"})
	s.Require().NoError(err)
	s.Require().NoError(first.Close(s.ctx))

	second, err := New(cfg, testutil.NopLogger())
	s.Require().NoError(err)
	s.Require().NoError(second.Start(s.ctx))
	defer second.Close(s.ctx)

	user, err := second.Auth.Lookup(s.ctx, "Carol")
	s.Require().NoError(err)
	s.Require().NotNil(user)
	s.Equal("carol@example.org", user.Email)
	s.True(second.Bans.IsIPBanned("203.0.113.7"))
	s.NotEqual(first.Session, second.Session)
}

func (s *IntegrationSuite) TestInvalidStorageType() {
	cfg := TestConfig()
	cfg.Storage.Type = "sqlite"
	_, err := New(cfg, nil)
	s.Error(err)
}

func (s *IntegrationSuite) TestMissingTLSKeypairFails() {
	_, err := NewTestApp(func(cfg *config.Config) {
		cfg.Server.TLSCert = filepath.Join(s.T().TempDir(), "missing.crt")
		cfg.Server.TLSKey = filepath.Join(s.T().TempDir(), "missing.key")
	})
	s.Error(err)
}

func (s *IntegrationSuite) TestWiring() {
	app, err := NewTestApp(nil)
	s.Require().NoError(err)
	s.Equal("test-session", app.Server.Session())
	s.Nil(app.Close(s.ctx))
	s.Same(app.Memory, app.BanStore)
}
