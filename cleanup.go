package fsmux

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/stratusworks/fsmux/fs"
)

// deleteOnCloseSet collects paths to remove when the owning handle closes.
// Duplicates collapse on the path string. All mutation happens under the
// set's own mutex, never under the instance cache lock.
type deleteOnCloseSet struct {
	mu    sync.Mutex
	paths map[string]fs.Path
}

func newDeleteOnCloseSet() *deleteOnCloseSet {
	return &deleteOnCloseSet{paths: make(map[string]fs.Path)}
}

// mark registers p for removal at close time. The path must exist at mark
// time: missing paths report false without being added, stat failures other
// than not-found propagate.
func (s *deleteOnCloseSet) mark(ctx context.Context, b fs.Backend, p fs.Path) (bool, error) {
	if _, err := b.Stat(ctx, p); err != nil {
		if fs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[p.String()] = p
	return true, nil
}

// unmark removes p from the set, reporting whether it was present.
func (s *deleteOnCloseSet) unmark(p fs.Path) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paths[p.String()]
	delete(s.paths, p.String())
	return ok
}

func (s *deleteOnCloseSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

// drain deletes every marked path recursively, in sorted path order.
// Failures are logged and skipped; the set is always empty afterwards.
func (s *deleteOnCloseSet) drain(ctx context.Context, b fs.Backend, log *slog.Logger) {
	s.mu.Lock()
	pending := make([]fs.Path, 0, len(s.paths))
	for _, p := range s.paths {
		pending = append(pending, p)
	}
	s.paths = make(map[string]fs.Path)
	s.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].String() < pending[j].String()
	})

	for _, p := range pending {
		if _, err := b.Delete(ctx, p, true); err != nil {
			log.Warn("failed to remove path marked for deletion",
				"err", err,
				slog.String("path", p.String()))
		}
	}
}
