package redis

import (
	"fmt"
	"strings"
)

// userKey returns the Redis key for a registered user
func (s *Storage) userKey(username string) string {
	return fmt.Sprintf("%s:user:%s", s.cfg.KeyPrefix, strings.ToLower(username))
}

// userIndexKey returns the Redis key for the SET of registered usernames
func (s *Storage) userIndexKey() string {
	return fmt.Sprintf("%s:idx:users", s.cfg.KeyPrefix)
}

// bansKey returns the Redis key holding the ban snapshot
func (s *Storage) bansKey() string {
	return fmt.Sprintf("%s:bans", s.cfg.KeyPrefix)
}
