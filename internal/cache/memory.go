package cache

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value   string
	list    []string
	zset    map[string]int64 // member -> unix ms
	expires time.Time        // zero means no expiry
}

// Memory is a process-local Backend. It gives the same semantics as Redis
// for the primitives the relay uses, without cross-process sharing.
type Memory struct {
	mu  sync.Mutex
	m   map[string]*memEntry
	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{m: map[string]*memEntry{}, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (c *Memory) WithClock(now func() time.Time) *Memory {
	c.now = now
	return c
}

// live returns the entry for key, dropping it when expired. Caller holds mu.
func (c *Memory) live(key string) *memEntry {
	e, ok := c.m[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.m, key)
		return nil
	}
	return e
}

func (c *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live(key) != nil {
		return false, nil
	}
	c.m[key] = &memEntry{value: value, expires: c.deadline(ttl)}
	return true, nil
}

func (c *Memory) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		return "", ErrMiss
	}
	return e.value, nil
}

func (c *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = &memEntry{value: value, expires: c.deadline(ttl)}
	return nil
}

func (c *Memory) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.m, k)
	}
	return nil
}

func (c *Memory) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live(key) != nil, nil
}

func (c *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		e = &memEntry{value: "0", expires: c.deadline(ttl)}
		c.m[key] = e
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (c *Memory) Append(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		e = &memEntry{}
		c.m[key] = e
	}
	e.list = append(e.list, value)
	e.expires = c.deadline(ttl)
	return nil
}

func (c *Memory) PopAll(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		return nil, nil
	}
	delete(c.m, key)
	return e.list, nil
}

func (c *Memory) Scan(_ context.Context, pattern string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.m {
		if c.live(k) == nil {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *Memory) WindowAdd(_ context.Context, key, member string, now time.Time, window time.Duration, limit int) (bool, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		e = &memEntry{zset: map[string]int64{}}
		c.m[key] = e
	}
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()
	oldest := int64(-1)
	for mem, ts := range e.zset {
		if ts < cutoff {
			delete(e.zset, mem)
			continue
		}
		if oldest < 0 || ts < oldest {
			oldest = ts
		}
	}
	if len(e.zset) < limit {
		e.zset[member] = nowMs
		e.expires = c.deadline(2 * window)
		return true, time.Time{}, nil
	}
	return false, time.UnixMilli(oldest), nil
}

func (c *Memory) Reserve(_ context.Context, key string, now time.Time, gap, ttl time.Duration) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nowMs := now.UnixMilli()
	slot := nowMs
	if e := c.live(key); e != nil {
		if last, err := strconv.ParseInt(e.value, 10, 64); err == nil && last+gap.Milliseconds() > slot {
			slot = last + gap.Milliseconds()
		}
	}
	c.m[key] = &memEntry{
		value:   strconv.FormatInt(slot, 10),
		expires: c.deadline(time.Duration(slot-nowMs)*time.Millisecond + ttl),
	}
	return time.UnixMilli(slot), nil
}

func (c *Memory) Ping(context.Context) error { return nil }

func (c *Memory) Close() error { return nil }
