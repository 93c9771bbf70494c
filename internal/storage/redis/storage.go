package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

var _ storage.Storage = (*Storage)(nil)

// User operations

func (s *Storage) SaveUser(ctx context.Context, user *model.RegisteredUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.userKey(user.Username), data, 0)
	pipe.SAdd(ctx, s.userIndexKey(), strings.ToLower(user.Username))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetUser(ctx context.Context, username string) (*model.RegisteredUser, error) {
	data, err := s.client.Get(ctx, s.userKey(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}

	var user model.RegisteredUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Storage) DeleteUser(ctx context.Context, username string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.userKey(username))
	pipe.SRem(ctx, s.userIndexKey(), strings.ToLower(username))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Storage) ListUsers(ctx context.Context) ([]*model.RegisteredUser, error) {
	names, err := s.client.SMembers(ctx, s.userIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.userKey(n)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	users := make([]*model.RegisteredUser, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// index entry without a record
			continue
		}
		var user model.RegisteredUser
		if err := json.Unmarshal([]byte(str), &user); err != nil {
			return nil, err
		}
		users = append(users, &user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// Ban operations

func (s *Storage) LoadBans(ctx context.Context) (*model.BanSnapshot, error) {
	data, err := s.client.Get(ctx, s.bansKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &model.BanSnapshot{}, nil
		}
		return nil, err
	}

	var snap model.BanSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode ban snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Storage) SaveBans(ctx context.Context, snapshot *model.BanSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.bansKey(), data, 0).Err()
}
