// Package cache holds the small in-process caches used for exchange rates
// and other slow-moving lookups.
package cache

import (
	"context"
	"time"

	"cuentas/internal/log"
)

// Cache is the generic contract the LRU satisfies.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Janitor periodically cleans every registered cache.
type Janitor struct {
	caches []Cleaner
	logger *log.Logger
	done   chan struct{}
}

func NewJanitor(logger *log.Logger) *Janitor {
	if logger == nil {
		logger = log.Discard()
	}
	return &Janitor{logger: logger, done: make(chan struct{})}
}

func (j *Janitor) Register(c Cleaner) {
	j.caches = append(j.caches, c)
}

// Run cleans on every tick until ctx is cancelled. Wait blocks until it returns.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	go func() {
		defer close(j.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := j.Sweep(); n > 0 {
					j.logger.Debug("expired cache entries removed", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sweep runs one cleaning pass over all caches.
func (j *Janitor) Sweep() int {
	total := 0
	for _, c := range j.caches {
		total += c.CleanExpired()
	}
	return total
}

func (j *Janitor) Wait() {
	<-j.done
}
