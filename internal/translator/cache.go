package translator

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type LoadFunc func(ctx context.Context) (Model, error)

// ModelCache holds loaded models per language pair for the life of the
// process. GetOrLoad must run load at most once concurrently per pair.
type ModelCache interface {
	GetOrLoad(ctx context.Context, pair Pair, load LoadFunc) (Model, error)
}

// SingleflightCache is the default ModelCache. Concurrent callers for the
// same pair share one load; failed loads are not cached.
type SingleflightCache struct {
	mu     sync.RWMutex
	models map[Pair]Model
	group  singleflight.Group
}

func NewSingleflightCache() *SingleflightCache {
	return &SingleflightCache{
		models: make(map[Pair]Model),
	}
}

func (c *SingleflightCache) GetOrLoad(ctx context.Context, pair Pair, load LoadFunc) (Model, error) {
	if m, ok := c.get(pair); ok {
		return m, nil
	}

	v, err, _ := c.group.Do(pair.String(), func() (any, error) {
		if m, ok := c.get(pair); ok {
			return m, nil
		}
		// waiters share this load, so one caller's cancellation must not fail it
		m, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.models[pair] = m
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Model), nil
}

func (c *SingleflightCache) get(pair Pair) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[pair]
	return m, ok
}

// Len returns the number of loaded models.
func (c *SingleflightCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}

// Reset drops every loaded model. Loads already in flight still complete
// and are stored.
func (c *SingleflightCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = make(map[Pair]Model)
}
