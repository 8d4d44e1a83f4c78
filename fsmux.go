package fsmux

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/stratusworks/fsmux/fs"
	"github.com/stratusworks/fsmux/netutil"
	"github.com/stratusworks/fsmux/stats"
)

// Mux is the composition root: it owns the factory table, the instance
// cache, the statistics registry and the process defaults. Construct one
// per process (or per test) with New and register a factory per scheme.
type Mux struct {
	log   *slog.Logger
	def   fs.Path
	canon netutil.Canonicalizer
	stats *stats.Registry
	cache *instanceCache

	fallback fs.Principal

	mu        sync.RWMutex
	factories map[string]fs.Factory
}

// Option configures a Mux.
type Option func(*muxConfig)

type muxConfig struct {
	log      *slog.Logger
	def      fs.Path
	canon    netutil.Canonicalizer
	stats    *stats.Registry
	notifier ShutdownNotifier
	fallback fs.Principal
}

// WithLogger sets the logger shared by the cache and all handles.
func WithLogger(log *slog.Logger) Option {
	return func(c *muxConfig) { c.log = log }
}

// WithDefaultURI sets the process default URI used to resolve scheme-less
// URIs and to reconcile authority-less paths.
func WithDefaultURI(def fs.Path) Option {
	return func(c *muxConfig) { c.def = def }
}

// WithCanonicalizer sets the authority canonicalizer used during path
// reconciliation. The default folds case and nothing else.
func WithCanonicalizer(canon netutil.Canonicalizer) Option {
	return func(c *muxConfig) { c.canon = canon }
}

// WithShutdownNotifier installs a notifier the cache registers its drain
// callback with while it holds any handle. Without one the embedder calls
// CloseAll itself.
func WithShutdownNotifier(n ShutdownNotifier) Option {
	return func(c *muxConfig) { c.notifier = n }
}

// WithIdentity sets the principal used when Resolve is called with the zero
// principal.
func WithIdentity(p fs.Principal) Option {
	return func(c *muxConfig) { c.fallback = p }
}

// WithStats injects a statistics registry, letting several muxes or an
// exporter share one.
func WithStats(r *stats.Registry) Option {
	return func(c *muxConfig) { c.stats = r }
}

// New returns a Mux with no registered schemes.
func New(opts ...Option) *Mux {
	cfg := &muxConfig{
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		canon: netutil.Fold,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.stats == nil {
		cfg.stats = stats.NewRegistry()
	}

	return &Mux{
		log:       cfg.log,
		def:       cfg.def,
		canon:     cfg.canon,
		stats:     cfg.stats,
		cache:     newInstanceCache(cfg.log, cfg.notifier),
		fallback:  cfg.fallback,
		factories: make(map[string]fs.Factory),
	}
}

// Register adds the factory for a scheme. Schemes are case-insensitive and
// may be registered once.
func (m *Mux) Register(scheme string, f fs.Factory) error {
	if scheme == "" {
		return fmt.Errorf("empty scheme")
	}
	if f == nil {
		return fmt.Errorf("nil factory for scheme %s", scheme)
	}

	s := strings.ToLower(scheme)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.factories[s]; dup {
		return fmt.Errorf("scheme %s already registered", s)
	}
	m.factories[s] = f
	return nil
}

// Schemes returns the registered schemes in sorted order.
func (m *Mux) Schemes() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.factories))
	for s := range m.factories {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Resolve parses rawURI and returns the shared handle serving it for the
// given principal, constructing the backend on first use. Scheme-less URIs
// are completed from the default URI.
func (m *Mux) Resolve(ctx context.Context, rawURI string, p fs.Principal) (*Handle, error) {
	path, err := fs.ParsePath(rawURI)
	if err != nil {
		return nil, err
	}
	return m.ResolveHandle(ctx, path, p)
}

// ResolveHandle is Resolve for an already parsed path.
func (m *Mux) ResolveHandle(ctx context.Context, path fs.Path, p fs.Principal) (*Handle, error) {
	if p == (fs.Principal{}) {
		p = m.fallback
	}

	path = path.Qualified(m.def)
	if path.Scheme == "" {
		return nil, &fs.PathError{Op: "resolve", Path: path.String(), Err: fs.ErrUnknownScheme}
	}

	scheme := strings.ToLower(path.Scheme)
	m.mu.RLock()
	factory, ok := m.factories[scheme]
	m.mu.RUnlock()
	if !ok {
		return nil, &fs.PathError{Op: "resolve", Path: path.String(), Err: fmt.Errorf("%w: %s", fs.ErrUnknownScheme, scheme)}
	}

	key := newCacheKey(path, p)
	return m.cache.resolve(ctx, key, func(ctx context.Context) (*Handle, error) {
		m.log.Debug("constructing backend",
			slog.String("scheme", key.scheme),
			slog.String("authority", key.authority),
			slog.String("principal", p.String()))

		backend, err := factory(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", fs.ErrConstruct, err)
		}
		return newHandle(backend, key, p, m), nil
	})
}

// CloseAll closes every cached handle, draining their delete-on-close sets,
// and reports all close failures together.
func (m *Mux) CloseAll() error {
	return m.cache.closeAll()
}

// CloseAllFor closes every cached handle resolved for the given principal.
func (m *Mux) CloseAllFor(p fs.Principal) error {
	return m.cache.closeAllFor(p)
}

// Stats returns the registry shared by all handles of this Mux.
func (m *Mux) Stats() *stats.Registry {
	return m.stats
}
