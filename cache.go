package fsmux

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/stratusworks/fsmux/fs"
)

// ShutdownNotifier lets the cache arrange a drain of all cached handles when
// the process shuts down. Register installs the callback, Unregister removes
// it again once the cache is empty. Implementations are typically backed by
// a signal handler in the embedding binary; the default is none, in which
// case the embedder calls Mux.CloseAll explicitly.
type ShutdownNotifier interface {
	Register(drain func()) error
	Unregister() error
}

// cacheKey identifies one shared backend instance. Scheme and authority are
// folded to lower case so that differently spelled but equivalent URIs share
// an instance; the principal separates instances acting as different users.
type cacheKey struct {
	scheme    string
	authority string
	identity  fs.Principal
}

func newCacheKey(p fs.Path, principal fs.Principal) cacheKey {
	return cacheKey{
		scheme:    strings.ToLower(p.Scheme),
		authority: strings.ToLower(p.Authority),
		identity:  principal,
	}
}

// instanceCache retains at most one handle per key. Construction always
// happens outside the lock, so concurrent first resolutions of one key may
// build duplicate backends; the loser is torn down and never handed out.
type instanceCache struct {
	log      *slog.Logger
	notifier ShutdownNotifier

	mu      sync.RWMutex
	entries map[cacheKey]*Handle
}

func newInstanceCache(log *slog.Logger, notifier ShutdownNotifier) *instanceCache {
	return &instanceCache{
		log:      log,
		notifier: notifier,
		entries:  make(map[cacheKey]*Handle),
	}
}

// resolve returns the cached handle for key, constructing one via construct
// on a miss. A racer that inserts first wins; the handle built by the loser
// is closed and discarded.
func (c *instanceCache) resolve(ctx context.Context, key cacheKey, construct func(ctx context.Context) (*Handle, error)) (*Handle, error) {
	c.mu.RLock()
	h, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return h, nil
	}

	fresh, err := construct(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if winner, ok := c.entries[key]; ok {
		c.mu.Unlock()
		if err := fresh.backend.Close(); err != nil {
			c.log.Warn("failed to close duplicate backend",
				"err", err,
				slog.String("scheme", key.scheme))
		}
		return winner, nil
	}

	if len(c.entries) == 0 && c.notifier != nil {
		if err := c.notifier.Register(func() {
			if err := c.closeAll(); err != nil {
				c.log.Warn("failed to drain handle cache on shutdown", "err", err)
			}
		}); err != nil {
			c.log.Warn("failed to register shutdown drain", "err", err)
		}
	}
	c.entries[key] = fresh
	c.mu.Unlock()

	return fresh, nil
}

// evict drops the mapping for key, but only while it still points at h.
// A concurrent re-resolution that replaced the entry is left alone.
func (c *instanceCache) evict(key cacheKey, h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[key]; !ok || cur != h {
		return
	}
	c.removeLocked(key)
}

// removeLocked deletes the entry and unregisters the shutdown notifier when
// the cache just became empty. Callers hold the write lock.
func (c *instanceCache) removeLocked(key cacheKey) {
	delete(c.entries, key)
	if len(c.entries) == 0 && c.notifier != nil {
		if err := c.notifier.Unregister(); err != nil {
			c.log.Warn("failed to unregister shutdown drain", "err", err)
		}
	}
}

// closeAll closes every cached handle, popping one entry at a time so the
// lock is never held across a backend close. Close failures are collected
// and reported together after all handles were attempted.
func (c *instanceCache) closeAll() error {
	var errs []error
	for {
		c.mu.Lock()
		var (
			key   cacheKey
			h     *Handle
			found bool
		)
		for k, v := range c.entries {
			key, h, found = k, v, true
			break
		}
		if found {
			c.removeLocked(key)
		}
		c.mu.Unlock()

		if !found {
			return errors.Join(errs...)
		}
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
}

// closeAllFor closes every cached handle resolved for principal.
func (c *instanceCache) closeAllFor(principal fs.Principal) error {
	c.mu.RLock()
	matched := make([]*Handle, 0)
	for k, h := range c.entries {
		if k.identity == principal {
			matched = append(matched, h)
		}
	}
	c.mu.RUnlock()

	var errs []error
	for _, h := range matched {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *instanceCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
