package store

import (
	"path/filepath"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/redis/go-redis/v9"
)

// Scope returns the store holding the session of one browser.
type Scope func(id string) auth.SessionStore

// MemoryScope keeps every session in its own Memory store.
func MemoryScope() Scope {
	return func(string) auth.SessionStore {
		return NewMemory()
	}
}

// FileScope keeps each session in dir/<id>.json.
func FileScope(dir string) Scope {
	return func(id string) auth.SessionStore {
		return NewFile(filepath.Join(dir, filepath.Base(id)+".json"))
	}
}

// RedisScope keeps each session under prefix:<id>.
func RedisScope(client redis.UniversalClient, prefix string, ttl time.Duration) Scope {
	if prefix == "" {
		prefix = DefaultRedisKey
	}
	return func(id string) auth.SessionStore {
		return NewRedis(client, prefix+":"+id, ttl)
	}
}
