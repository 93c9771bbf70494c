package factory

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/mpserver/internal/config"
	"github.com/mcoot/mpserver/internal/dependencies/mocks"
	"github.com/mcoot/mpserver/internal/storage/memory"
	"github.com/mcoot/mpserver/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
	Memory     *memory.Storage
}

// TestConfig is the configuration NewTestApp starts from: no persistence,
// no flood limits and no periodic jobs
func TestConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0
	cfg.Server.MaxConnectionsPerIP = 0
	cfg.Bans.File = ""
	cfg.Replays.Dir = ""
	cfg.Flood = config.FloodConfig{}
	cfg.Timers = config.TimerConfig{}
	return cfg
}

// NewTestApp creates an App configured for testing with mocked dependencies.
// mutate may adjust the configuration before wiring.
func NewTestApp(mutate func(cfg *config.Config)) (*TestApp, error) {
	cfg := TestConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	authCfg := cfg.AuthConfig()
	authCfg.BcryptCost = bcrypt.MinCost

	app, err := newWithDependencies(cfg, store, mockClock, mockRandom, authCfg, "test-session", testutil.NopLogger())
	if err != nil {
		return nil, err
	}

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
		Memory:     store,
	}, nil
}
