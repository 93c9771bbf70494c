// Package config loads server settings from defaults, an optional YAML
// file, a .env file and MPSERVER_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcoot/mpserver/internal/services/auth"
	"github.com/mcoot/mpserver/internal/services/ban"
	"github.com/mcoot/mpserver/internal/services/game"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "MPSERVER_"

// Redirect sends clients whose version matches Pattern to another server
type Redirect struct {
	Pattern string `yaml:"pattern"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ServerConfig covers the game protocol listener
type ServerConfig struct {
	Port         int    `yaml:"port"`
	TLSCert      string `yaml:"tls_cert"`
	TLSKey       string `yaml:"tls_key"`
	Compress     bool   `yaml:"compress"`
	MaxFrameSize int    `yaml:"max_frame_size"`

	// Versions holds glob patterns of accepted client versions
	Versions  []string   `yaml:"versions"`
	Redirects []Redirect `yaml:"redirects"`

	MOTD            string `yaml:"motd"`
	TournamentsFile string `yaml:"tournaments_file"`

	MaxConnectionsPerIP int `yaml:"max_connections_per_ip"`
}

// LoginConfig covers name rules and password policy
type LoginConfig struct {
	MaxNameLength    int           `yaml:"max_name_length"`
	Disallowed       []string      `yaml:"disallowed_names"`
	FailedLoginLimit int           `yaml:"failed_login_limit"`
	FailedLoginBan   time.Duration `yaml:"failed_login_ban"`
	DenyUnregistered bool          `yaml:"deny_unregistered"`
}

// GameConfig covers game policy
type GameConfig struct {
	AllowObservers bool `yaml:"allow_observers"`
	SpoofLimit     int  `yaml:"spoof_limit"`
}

// BanConfig covers the ban list
type BanConfig struct {
	File         string            `yaml:"file"`
	Presets      map[string]string `yaml:"presets"`
	DeletedLimit int               `yaml:"deleted_limit"`
}

// ReplayConfig covers replay files. An empty Dir disables them.
type ReplayConfig struct {
	Dir string `yaml:"dir"`
}

// FloodConfig covers rate limits
type FloodConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`
	AcceptsPerSecond  float64 `yaml:"accepts_per_second"`
	AcceptBurst       int     `yaml:"accept_burst"`
}

// AdminConfig covers the administrative command pipe
type AdminConfig struct {
	Fifo string `yaml:"fifo"`
}

// HTTPConfig covers the status API. An empty Addr disables it.
type HTTPConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// StorageConfig selects the user store backend
type StorageConfig struct {
	Type      string `yaml:"type"`
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// TimerConfig holds background timer intervals. Zero disables a timer.
type TimerConfig struct {
	BanSweep           time.Duration `yaml:"ban_sweep"`
	MetricsDump        time.Duration `yaml:"metrics_dump"`
	DummyChurn         time.Duration `yaml:"dummy_churn"`
	DummyPlayers       int           `yaml:"dummy_players"`
	TournamentsRefresh time.Duration `yaml:"tournaments_refresh"`
	ShutdownCheck      time.Duration `yaml:"shutdown_check"`
}

// LogConfig covers logging
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the complete server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Login   LoginConfig   `yaml:"login"`
	Game    GameConfig    `yaml:"game"`
	Bans    BanConfig     `yaml:"bans"`
	Replays ReplayConfig  `yaml:"replays"`
	Flood   FloodConfig   `yaml:"flood"`
	Admin   AdminConfig   `yaml:"admin"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Timers  TimerConfig   `yaml:"timers"`
	Log     LogConfig     `yaml:"log"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	authCfg := auth.DefaultConfig()
	banCfg := ban.DefaultConfig()
	gameCfg := game.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Port:                15000,
			Compress:            true,
			MaxFrameSize:        20 << 20,
			Versions:            []string{"*"},
			MaxConnectionsPerIP: 5,
		},
		Login: LoginConfig{
			MaxNameLength:    authCfg.MaxNameLength,
			Disallowed:       authCfg.Disallowed,
			FailedLoginLimit: authCfg.FailedLoginLimit,
			FailedLoginBan:   authCfg.FailedLoginBan,
		},
		Game: GameConfig{
			AllowObservers: gameCfg.AllowObservers,
			SpoofLimit:     gameCfg.SpoofLimit,
		},
		Bans: BanConfig{
			File:         "bans.gz",
			Presets:      banCfg.Presets,
			DeletedLimit: banCfg.DeletedLimit,
		},
		Replays: ReplayConfig{
			Dir: "replays",
		},
		Flood: FloodConfig{
			MessagesPerSecond: 2,
			MessageBurst:      10,
			AcceptsPerSecond:  5,
			AcceptBurst:       10,
		},
		Storage: StorageConfig{
			Type:      "memory",
			KeyPrefix: "mpserver",
		},
		Timers: TimerConfig{
			BanSweep:           time.Minute,
			MetricsDump:        5 * time.Minute,
			TournamentsRefresh: time.Hour,
			ShutdownCheck:      10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored; existing variables are not overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the process environment
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides settings from MPSERVER_* variables
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	num("PORT", &cfg.Server.Port)
	str("TLS_CERT", &cfg.Server.TLSCert)
	str("TLS_KEY", &cfg.Server.TLSKey)
	flag("COMPRESS", &cfg.Server.Compress)
	str("MOTD", &cfg.Server.MOTD)
	str("TOURNAMENTS_FILE", &cfg.Server.TournamentsFile)
	num("MAX_CONNECTIONS_PER_IP", &cfg.Server.MaxConnectionsPerIP)
	if v, ok := lookup(EnvPrefix + "VERSIONS"); ok {
		cfg.Server.Versions = splitList(v)
	}
	flag("DENY_UNREGISTERED", &cfg.Login.DenyUnregistered)
	flag("ALLOW_OBSERVERS", &cfg.Game.AllowObservers)
	str("BAN_FILE", &cfg.Bans.File)
	str("REPLAY_DIR", &cfg.Replays.Dir)
	str("FIFO", &cfg.Admin.Fifo)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("API_TOKEN", &cfg.HTTP.Token)
	str("STORAGE", &cfg.Storage.Type)
	str("REDIS_URL", &cfg.Storage.RedisURL)
	str("LOG_LEVEL", &cfg.Log.Level)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks for settings the server cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if c.Server.MaxFrameSize <= 0 {
		errs = append(errs, errors.New("server.max_frame_size must be positive"))
	}
	switch c.Storage.Type {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url required for redis storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type %q must be memory or redis", c.Storage.Type))
	}
	if c.HTTP.Addr != "" && c.HTTP.Token == "" {
		errs = append(errs, errors.New("http.token required when the status API is enabled"))
	}
	return errors.Join(errs...)
}

// TLSEnabled reports whether TLS handshakes can be served
func (c Config) TLSEnabled() bool {
	return c.Server.TLSCert != "" && c.Server.TLSKey != ""
}

// AuthConfig derives the auth service settings
func (c Config) AuthConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.MaxNameLength = c.Login.MaxNameLength
	cfg.Disallowed = c.Login.Disallowed
	cfg.FailedLoginLimit = c.Login.FailedLoginLimit
	cfg.FailedLoginBan = c.Login.FailedLoginBan
	return cfg
}

// BanConfig derives the ban manager settings
func (c Config) BanConfig() ban.Config {
	return ban.Config{
		Presets:      c.Bans.Presets,
		DeletedLimit: c.Bans.DeletedLimit,
	}
}

// GameConfig derives the game policy
func (c Config) GameConfig() game.Config {
	return game.Config{
		AllowObservers: c.Game.AllowObservers,
		SpoofLimit:     c.Game.SpoofLimit,
		SaveReplays:    c.Replays.Dir != "",
	}
}
