// Package redisstore is a data store adapter backed by Redis.
//
// Each key is stored as one JSON envelope holding the value and the time it
// was written, so a read returns both in a single round trip.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wippyai/flagcore/client"
	"github.com/wippyai/flagcore/errors"
	"github.com/wippyai/flagcore/model"
)

// Commands is the part of a Redis client the store uses.
type Commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Store implements client.DataStoreAdapter.
type Store struct {
	db       Commands
	prefix   string
	timeout  time.Duration
	polling  bool
	ownsConn bool
	logger   *zap.Logger
}

var _ client.DataStoreAdapter = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for store diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithOwnedConnection closes db when the engine shuts the store down.
func WithOwnedConnection() Option {
	return func(s *Store) { s.ownsConn = true }
}

// New wraps an existing connection.
func New(db Commands, cfg Config, opts ...Option) *Store {
	s := &Store{
		db:      db,
		prefix:  cfg.KeyPrefix,
		timeout: cfg.OpTimeout,
		polling: cfg.Polling,
		logger:  zap.NewNop(),
	}
	if s.timeout <= 0 {
		s.timeout = 2 * time.Second
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects with cfg and returns a store that owns the connection.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	rc, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(rc, cfg, append(opts, WithOwnedConnection())...), nil
}

type envelope struct {
	Value string `json:"v"`
	Time  uint64 `json:"t,omitempty"`
}

// Initialize checks the connection.
func (s *Store) Initialize() error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.db.Ping(ctx).Err(); err != nil {
		return errors.Wrap(errors.PhaseHost, errors.KindNativeCall, err, "redis ping")
	}
	return nil
}

// Get returns an empty response for a missing key.
func (s *Store) Get(key string) (*model.DataStoreResponse, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	raw, err := s.db.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return &model.DataStoreResponse{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindNativeCall, err, "redis get "+key)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn("discarding malformed data store entry", zap.String("key", key), zap.Error(err))
		return &model.DataStoreResponse{}, nil
	}
	return &model.DataStoreResponse{Result: &env.Value, Time: env.Time}, nil
}

// Set stores value with its update time.
func (s *Store) Set(key, value string, t uint64) error {
	raw, err := json.Marshal(envelope{Value: value, Time: t})
	if err != nil {
		return errors.Encode("redis set", err)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.db.Set(ctx, s.prefix+key, raw, 0).Err(); err != nil {
		return errors.Wrap(errors.PhaseHost, errors.KindNativeCall, err, "redis set "+key)
	}
	return nil
}

// Shutdown closes the connection if the store opened it.
func (s *Store) Shutdown() error {
	if !s.ownsConn {
		return nil
	}
	return s.db.Close()
}

// SupportsPollingUpdatesFor reports the configured polling support for
// every key.
func (s *Store) SupportsPollingUpdatesFor(string) bool {
	return s.polling
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}
