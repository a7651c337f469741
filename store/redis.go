package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "auth:session"

// Redis stores the session under a single key. The key expires together
// with the refresh window so a stale session is never restored.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis creates a Redis backed store. ttl bounds how long a session
// outlives its access token expiry; zero keeps it until cleared.
func NewRedis(client redis.UniversalClient, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key, ttl: ttl, now: time.Now}
}

// Dial connects to addr and pings it before returning.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, readError(err, "redis")
	}
	return client, nil
}

func (r *Redis) Load(ctx context.Context) (*auth.Session, error) {
	val, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, readError(err, "redis")
	}

	var session auth.Session
	if err := json.Unmarshal(val, &session); err != nil {
		return nil, corruptError(err, "redis")
	}
	return &session, nil
}

func (r *Redis) Save(ctx context.Context, session *auth.Session) error {
	if session == nil {
		return r.Clear(ctx)
	}

	var ttl time.Duration
	if r.ttl > 0 {
		ttl = r.ttl
		if !session.ExpiresAt.IsZero() {
			ttl = session.ExpiresAt.Sub(r.now()) + r.ttl
		}
		if ttl <= 0 {
			return r.Clear(ctx)
		}
	}

	data, err := json.Marshal(session)
	if err != nil {
		return writeError(err, "redis")
	}
	if err := r.client.Set(ctx, r.key, data, ttl).Err(); err != nil {
		return writeError(err, "redis")
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return writeError(err, "redis")
	}
	return nil
}
