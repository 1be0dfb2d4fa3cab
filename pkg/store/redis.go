package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"coachsync-server/pkg/coach"
	"coachsync-server/pkg/errors"
)

// RedisConfig holds Redis store configuration.
type RedisConfig struct {
	Address      string        `json:"address"`
	Password     string        `json:"password"`
	Database     int           `json:"database"`
	PoolSize     int           `json:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	TTL          time.Duration `json:"ttl"`
}

// DefaultRedisConfig returns the default Redis store configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address:      "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		TTL:          24 * time.Hour,
	}
}

// RedisStore persists session records in Redis and broadcasts every write
// over pub/sub so watchers on other nodes see updates.
type RedisStore struct {
	client    redis.UniversalClient
	logger    *logrus.Logger
	keyPrefix string
	ttl       time.Duration

	// Patch serializes read-modify-write cycles within this process.
	patchMu sync.Mutex
}

const (
	redisKeyPrefix     = "coachsync:session:"
	redisChannelPrefix = "coachsync:updates:"
	redisOpTimeout     = 5 * time.Second
)

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(config RedisConfig, logger *logrus.Logger) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStoreUnavailable, "connect to Redis", map[string]interface{}{
			"address": config.Address,
		})
	}

	store := &RedisStore{
		client:    client,
		logger:    logger,
		keyPrefix: redisKeyPrefix,
		ttl:       config.TTL,
	}

	logger.WithFields(logrus.Fields{
		"address":  config.Address,
		"database": config.Database,
		"ttl":      config.TTL,
	}).Info("Redis session store initialized")

	return store, nil
}

func (r *RedisStore) sessionKey(sessionID string) string {
	return r.keyPrefix + sessionID
}

func (r *RedisStore) channel(sessionID string) string {
	return redisChannelPrefix + sessionID
}

func (r *RedisStore) Create(ctx context.Context, sessionID string, agg *coach.Aggregate) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := json.Marshal(agg)
	if err != nil {
		return errors.Wrap(err, "marshal session record")
	}

	ok, err := r.client.SetNX(ctx, r.sessionKey(sessionID), payload, r.ttl).Result()
	if err != nil {
		return errors.Wrap(errors.ErrStoreUnavailable, "create session record", map[string]interface{}{
			"session_id": sessionID,
		})
	}
	if !ok {
		return errors.Wrap(errors.ErrSessionAlreadyExists, "create session record", map[string]interface{}{
			"session_id": sessionID,
		})
	}

	r.publish(ctx, sessionID, payload)
	return nil
}

func (r *RedisStore) Save(ctx context.Context, sessionID string, agg *coach.Aggregate) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := json.Marshal(agg)
	if err != nil {
		return errors.Wrap(err, "marshal session record")
	}

	if err := r.client.Set(ctx, r.sessionKey(sessionID), payload, r.ttl).Err(); err != nil {
		return errors.Wrap(errors.ErrStoreUnavailable, "save session record", map[string]interface{}{
			"session_id": sessionID,
		})
	}

	r.publish(ctx, sessionID, payload)

	r.logger.WithField("session_id", sessionID).Debug("Session snapshot stored in Redis")
	return nil
}

func (r *RedisStore) Patch(ctx context.Context, sessionID string, patch coach.AggregatePatch) error {
	r.patchMu.Lock()
	defer r.patchMu.Unlock()

	current, err := r.Read(ctx, sessionID)
	if err != nil {
		return err
	}
	return r.Save(ctx, sessionID, patch.ApplyTo(current))
}

func (r *RedisStore) Read(ctx context.Context, sessionID string) (*coach.Aggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := r.client.Get(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.NewSessionNotFound(sessionID)
		}
		return nil, errors.Wrap(errors.ErrStoreUnavailable, "read session record", map[string]interface{}{
			"session_id": sessionID,
		})
	}

	var agg coach.Aggregate
	if err := json.Unmarshal([]byte(payload), &agg); err != nil {
		return nil, errors.Wrap(err, "unmarshal session record")
	}
	return &agg, nil
}

// Watch subscribes to the session's update channel. The callback runs on a
// dedicated goroutine until the context is done or cancel is called.
func (r *RedisStore) Watch(ctx context.Context, sessionID string, fn WatchFunc) (func(), error) {
	sub := r.client.Subscribe(ctx, r.channel(sessionID))

	// Confirm the subscription before returning so no update is missed
	// between Watch and the first receive.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errors.Wrap(errors.ErrStoreUnavailable, "subscribe to session updates", map[string]interface{}{
			"session_id": sessionID,
		})
	}

	done := make(chan struct{})
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var agg coach.Aggregate
				if err := json.Unmarshal([]byte(msg.Payload), &agg); err != nil {
					r.logger.WithError(err).WithField("session_id", sessionID).Warn("Dropped malformed session update")
					continue
				}
				fn(sessionID, &agg)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return cancel, nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.sessionKey(sessionID)).Err(); err != nil {
		return errors.Wrap(errors.ErrStoreUnavailable, "delete session record", map[string]interface{}{
			"session_id": sessionID,
		})
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) publish(ctx context.Context, sessionID string, payload []byte) {
	if err := r.client.Publish(ctx, r.channel(sessionID), payload).Err(); err != nil {
		r.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to publish session update")
	}
}
