package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// TTLs holds the lifetime of each kind of entry.
type TTLs struct {
	Task    time.Duration
	List    time.Duration
	Mine    time.Duration
	Trashed time.Duration
	Report  time.Duration
}

// DefaultTTLs are the stock lifetimes.
var DefaultTTLs = TTLs{
	Task:    10 * time.Minute,
	List:    2 * time.Minute,
	Mine:    10 * time.Minute,
	Trashed: 30 * time.Minute,
	Report:  24 * time.Hour,
}

func (t TTLs) of(k Kind) time.Duration {
	switch k {
	case KindTask:
		return t.Task
	case KindList:
		return t.List
	case KindMine:
		return t.Mine
	case KindTrashed:
		return t.Trashed
	case KindReport:
		return t.Report
	}
	return 0
}

// Stats counts lookups since start.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
}

// Coordinator guards a Backend with single-flight recomputation and an
// invalidation epoch. A value computed across an invalidation is returned
// to its callers but never stored.
type Coordinator struct {
	b     Backend
	ttls  TTLs
	group singleflight.Group

	// mu orders stores against invalidations.
	mu    sync.Mutex
	epoch atomic.Uint64

	hits, misses, invalidations atomic.Uint64
}

// NewCoordinator creates a Coordinator over b.
func NewCoordinator(b Backend, ttls TTLs) *Coordinator {
	return &Coordinator{b: b, ttls: ttls}
}

// Epoch returns the current invalidation epoch.
func (c *Coordinator) Epoch() uint64 { return c.epoch.Load() }

// Stats returns lookup counters.
func (c *Coordinator) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Invalidations: c.invalidations.Load()}
}

// GetOrCompute returns the cached value for key, or runs fn once for all
// concurrent callers of the same key and caches its result.
func GetOrCompute[T any](ctx context.Context, c *Coordinator, key Key, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	k := key.String()

	if data, ok, err := c.b.Get(ctx, k); err != nil {
		log.Printf("cache: get %s: %v", k, err)
	} else if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			c.hits.Add(1)
			return v, nil
		}
		log.Printf("cache: dropping undecodable entry %s", k)
	}
	c.misses.Add(1)

	epoch := c.epoch.Load()
	// The computation is shared, so one caller's cancellation must not
	// fail the others waiting on it.
	shared := context.WithoutCancel(ctx)
	data, err, _ := c.group.Do(k+"#"+strconv.FormatUint(epoch, 10), func() (any, error) {
		v, err := fn(shared)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		c.store(shared, k, data, c.ttls.of(key.Kind), epoch)
		return data, nil
	})
	if err != nil {
		return zero, err
	}

	var v T
	if err := json.Unmarshal(data.([]byte), &v); err != nil {
		return zero, fmt.Errorf("decode %s: %w", k, err)
	}
	return v, nil
}

func (c *Coordinator) store(ctx context.Context, k string, data []byte, ttl time.Duration, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch.Load() != epoch {
		return
	}
	if err := c.b.Set(ctx, k, data, ttl); err != nil {
		log.Printf("cache: set %s: %v", k, err)
	}
}

// Invalidate removes specific keys.
func (c *Coordinator) Invalidate(ctx context.Context, keys ...Key) error {
	strs := make([]string, len(keys))
	for i, k := range keys {
		strs[i] = k.String()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch.Add(1)
	c.invalidations.Add(1)
	return c.b.Delete(ctx, strs...)
}

// InvalidatePattern removes the single views of taskIDs and every listing
// projection, since any listing may include them.
func (c *Coordinator) InvalidatePattern(ctx context.Context, taskIDs ...int64) error {
	keys := make([]string, len(taskIDs))
	for i, id := range taskIDs {
		keys[i] = TaskKey(id).String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch.Add(1)
	c.invalidations.Add(1)

	var firstErr error
	if err := c.b.Delete(ctx, keys...); err != nil {
		firstErr = fmt.Errorf("delete task keys: %w", err)
	}
	for _, kind := range []Kind{KindList, KindMine, KindTrashed, KindReport} {
		if err := c.b.DeletePrefix(ctx, string(kind)+":"); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete %s keys: %w", kind, err)
		}
	}
	return firstErr
}
