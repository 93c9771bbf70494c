package cli

import (
	"os"
	"path/filepath"
	"strings"
)

// Config holds CLI configuration
type Config struct {
	ServerURL string
	Token     string
	TokenFile string
	Fifo      string
	Output    string
	Verbose   bool
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		ServerURL: getEnvOrDefault("MPCTL_SERVER", "http://localhost:8080"),
		Token:     os.Getenv("MPCTL_TOKEN"),
		TokenFile: getEnvOrDefault("MPCTL_TOKEN_FILE", defaultTokenFile()),
		Fifo:      os.Getenv("MPCTL_FIFO"),
		Output:    "text",
		Verbose:   false,
	}
}

// LoadToken loads the admin token from file if not already set
func (c *Config) LoadToken() error {
	if c.Token != "" {
		return nil
	}

	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No token file is fine
		}
		return err
	}

	c.Token = strings.TrimSpace(string(data))
	return nil
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mpctl/token"
	}
	return filepath.Join(home, ".mpctl", "token")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
