package engine

import (
	"sort"
	"sync"
	"sync/atomic"

	apperrors "github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/errors"
)

// Counters is a named group of monotonic accumulators shared by every task of
// one stage. Tasks may only add; values become readable once the stage has
// passed its final barrier and the group is frozen.
type Counters struct {
	mu     sync.RWMutex
	values map[string]*atomic.Int64
	frozen atomic.Bool
}

func NewCounters() *Counters {
	return &Counters{values: make(map[string]*atomic.Int64)}
}

// Add increments the named counter. Adds after the freeze are dropped: a
// frozen value is final.
func (c *Counters) Add(name string, delta int64) {
	if c.frozen.Load() {
		return
	}
	c.counter(name).Add(delta)
}

// Value returns the final value of the named counter. Counters that were
// never incremented read as zero.
func (c *Counters) Value(name string) (int64, error) {
	if !c.frozen.Load() {
		return 0, apperrors.Errorf(apperrors.ErrCounterNotFrozen, "counter %q", name)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	if !ok {
		return 0, nil
	}
	return v.Load(), nil
}

// Snapshot returns every counter value. Only valid after the freeze.
func (c *Counters) Snapshot() (map[string]int64, error) {
	if !c.frozen.Load() {
		return nil, apperrors.Errorf(apperrors.ErrCounterNotFrozen, "snapshot")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.values))
	for name, v := range c.values {
		out[name] = v.Load()
	}
	return out, nil
}

// Names returns the registered counter names in sorted order.
func (c *Counters) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.values))
	for name := range c.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Counters) Frozen() bool {
	return c.frozen.Load()
}

// Freeze marks the barrier: values become readable and further adds are
// ignored.
func (c *Counters) Freeze() {
	c.frozen.Store(true)
}

func (c *Counters) counter(name string) *atomic.Int64 {
	c.mu.RLock()
	v, ok := c.values[name]
	c.mu.RUnlock()
	if ok {
		return v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[name]; ok {
		return v
	}
	v = new(atomic.Int64)
	c.values[name] = v
	return v
}
