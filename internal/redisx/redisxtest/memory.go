// Package redisxtest provides an in-process stand-in for the handful of
// Redis commands the service issues, for tests that run without a server.
package redisxtest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Memory implements Get, Set, SetNX, Del, Incr and Expire. Any other
// redis.Cmdable method panics on the nil embedded interface.
type Memory struct {
	redis.Cmdable

	mu   sync.Mutex
	vals map[string]entry
}

type entry struct {
	val     string
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{vals: make(map[string]entry)}
}

func (m *Memory) lookup(key string) (entry, bool) {
	e, ok := m.vals[key]
	if ok && !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(m.vals, key)
		return entry{}, false
	}
	return e, ok
}

func (m *Memory) put(key string, value any, ttl time.Duration) {
	e := entry{val: toString(value)}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.vals[key] = e
}

// Has reports whether key currently holds a value.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok
}

func (m *Memory) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(e.val, nil)
}

func (m *Memory) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, ttl)
	return redis.NewStatusResult("OK", nil)
}

func (m *Memory) SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return redis.NewBoolResult(false, nil)
	}
	m.put(key, value, ttl)
	return redis.NewBoolResult(true, nil)
}

func (m *Memory) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.lookup(k); ok {
			delete(m.vals, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *Memory) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.lookup(key)
	n := int64(0)
	if e.val != "" {
		v, err := strconv.ParseInt(e.val, 10, 64)
		if err != nil {
			return redis.NewIntResult(0, fmt.Errorf("ERR value is not an integer"))
		}
		n = v
	}
	n++
	e.val = strconv.FormatInt(n, 10)
	m.vals[key] = e
	return redis.NewIntResult(n, nil)
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return redis.NewBoolResult(false, nil)
	}
	e.expires = time.Now().Add(ttl)
	m.vals[key] = e
	return redis.NewBoolResult(true, nil)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
