package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryCounter is a process-local CounterStore for single-process use and
// tests. Horizontally scaled deployments must use the DynamoDB counter, or
// per-user and global caps will be violated across workers.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]int64
}

// NewMemoryCounter creates an in-memory counter store.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]int64)}
}

// Incr atomically increments a window bucket and returns the new count.
func (c *MemoryCounter) Incr(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket := bucketKey(key, windowStart)
	c.buckets[bucket]++
	c.pruneLocked(windowStart)
	return c.buckets[bucket], nil
}

// Get returns the current count for a window bucket.
func (c *MemoryCounter) Get(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buckets[bucketKey(key, windowStart)], nil
}

// pruneLocked drops buckets from earlier windows. Buckets live only for the
// duration of their window, so anything not keyed by the current window start
// is dead weight.
func (c *MemoryCounter) pruneLocked(current time.Time) {
	suffix := fmt.Sprintf("#%d", current.Unix())
	for bucket := range c.buckets {
		if len(bucket) < len(suffix) || bucket[len(bucket)-len(suffix):] != suffix {
			delete(c.buckets, bucket)
		}
	}
}

func bucketKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s#%d", key, windowStart.Unix())
}
