package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/awmpietro/golang-declarative-debugger/internal/engine/replay"
)

// InMemory keeps decoded event logs keyed by the hash of their source.
// Concurrent misses on the same key share one decode. Once full, new logs
// are decoded but not stored.
type InMemory struct {
	mu    sync.RWMutex
	max   int
	items map[string]*replay.Log
	group singleflight.Group
}

func NewInMemory(max int) *InMemory {
	return &InMemory{
		max:   max,
		items: make(map[string]*replay.Log, max),
	}
}

func (c *InMemory) GetOrCompute(src []byte, fn func() (*replay.Log, error)) (*replay.Log, error) {
	key := hash(src)

	c.mu.RLock()
	if v, ok := c.items[key]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("decoding event log panicked: %v", r)
			}
		}()

		c.mu.RLock()
		if v, ok := c.items[key]; ok {
			c.mu.RUnlock()
			return v, nil
		}
		c.mu.RUnlock()

		l, err := fn()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if len(c.items) < c.max {
			c.items[key] = l
		}
		c.mu.Unlock()
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*replay.Log), nil
}

func (c *InMemory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
