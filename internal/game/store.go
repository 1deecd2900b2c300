package game

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the persisted-record collaborator. Update is a guarded
// read-modify-write: the mutate callback sees the current record and
// either returns a typed error (nothing is written) or mutates it in
// place for an atomic compare-and-swap commit. A concurrent commit on
// the same id surfaces as Conflict, never as a lost update.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, mutate func(*Session) error) (*Session, error)
}

// RedisStore keeps sessions as JSON under game:<id> with a TTL refreshed
// on every write. Serialization of conflicting mutations relies on
// WATCH/EXEC: the transaction fails if the key changed between the read
// and the commit.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// NewClient dials Redis from a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}

func sessionKey(id string) string { return "game:" + id }

func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return infrastructure(sess.ID, "encode session", err)
	}
	ok, err := s.rdb.SetNX(ctx, sessionKey(sess.ID), raw, s.ttl).Result()
	if err != nil {
		return infrastructure(sess.ID, "store session", err)
	}
	if !ok {
		return conflict(sess.ID, "session id already exists")
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, infrastructure(id, "load session", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, infrastructure(id, "decode session", err)
	}
	return &sess, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*Session) error) (*Session, error) {
	key := sessionKey(id)
	var updated *Session

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return notFound(id)
		}
		if err != nil {
			return infrastructure(id, "load session", err)
		}
		var cur Session
		if err := json.Unmarshal(raw, &cur); err != nil {
			return infrastructure(id, "decode session", err)
		}

		// The mutation works on a clone so a rejected or no-op attempt
		// can be discarded without touching the loaded record.
		work := cur.Clone()
		if err := mutate(work); err != nil {
			if errors.Is(err, errUnchanged) {
				updated = &cur
				return nil
			}
			return err
		}

		newRaw, err := json.Marshal(work)
		if err != nil {
			return infrastructure(id, "encode session", err)
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		updated = work
		return nil
	}, key)

	if err != nil {
		if err == redis.TxFailedErr {
			return nil, conflict(id, "concurrent mutation lost")
		}
		return nil, err
	}
	return updated, nil
}
