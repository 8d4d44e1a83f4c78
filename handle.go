package fsmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/stratusworks/fsmux/fs"
	"github.com/stratusworks/fsmux/glob"
	"github.com/stratusworks/fsmux/netutil"
	"github.com/stratusworks/fsmux/stats"
)

// largeListBatch is the listing size above which extra bulk-read operations
// are accounted, one per additional batch of this many entries.
const largeListBatch = 1000

// Handle is the façade callers operate on. It wraps exactly one backend
// instance, qualifies and reconciles every path before any I/O, feeds the
// per-scheme statistics, and owns the delete-on-close set. Handles are
// shared: the instance cache returns the same *Handle to every resolver of
// the same (scheme, authority, principal) triple, and all methods are safe
// for concurrent use.
type Handle struct {
	backend   fs.Backend
	id        fs.Path
	principal fs.Principal
	log       *slog.Logger
	counters  *stats.Counters
	def       fs.Path
	canon     netutil.Canonicalizer
	cache     *instanceCache
	key       cacheKey
	pending   *deleteOnCloseSet

	wdMu sync.RWMutex
	wd   fs.Path

	closed atomic.Bool
}

func newHandle(b fs.Backend, key cacheKey, principal fs.Principal, m *Mux) *Handle {
	h := &Handle{
		backend:   b,
		id:        b.Identity(),
		principal: principal,
		log:       m.log.With(slog.String("scheme", key.scheme)),
		counters:  m.stats.ForScheme(key.scheme),
		def:       m.def,
		canon:     m.canon,
		cache:     m.cache,
		key:       key,
		pending:   newDeleteOnCloseSet(),
	}
	h.wd = h.HomeDirectory()
	return h
}

// Identity returns the backend's canonical scheme://authority/ root.
func (h *Handle) Identity() fs.Path { return h.id }

// Principal returns the identity this handle acts as.
func (h *Handle) Principal() fs.Principal { return h.principal }

// Stats returns a point-in-time copy of the counters shared by every handle
// of this scheme.
func (h *Handle) Stats() stats.Snapshot { return h.counters.Snapshot() }

// CheckPath verifies that p belongs to this handle, reconciling its declared
// scheme and authority against the handle identity and the process default
// URI. It performs no storage I/O and fails with fs.ErrInvalidPath.
func (h *Handle) CheckPath(p fs.Path) error {
	return checkPath(p, h.id, h.def, h.canon)
}

// Qualify resolves p relative to the working directory and fills in the
// handle's scheme and authority where p has none.
func (h *Handle) Qualify(p fs.Path) fs.Path {
	if p.Scheme == "" && !p.IsAbsolute() {
		p = h.WorkingDirectory().Join(p.Name)
	}
	return p.Qualified(h.id)
}

// checked reconciles p against the handle and returns its qualified form.
// Every path-taking operation goes through it before any I/O.
func (h *Handle) checked(p fs.Path) (fs.Path, error) {
	if err := h.CheckPath(p); err != nil {
		return fs.Path{}, err
	}
	return h.Qualify(p), nil
}

// Open opens the file at p for reading. Bytes read through the returned
// stream accumulate into the shared per-scheme counters.
func (h *Handle) Open(ctx context.Context, p fs.Path) (io.ReadCloser, error) {
	q, err := h.checked(p)
	if err != nil {
		return nil, err
	}
	h.counters.IncReadOps()
	rc, err := h.backend.Open(ctx, q)
	if err != nil {
		return nil, err
	}
	return &countingReader{r: rc, c: h.counters}, nil
}

// Create opens a new file at p for writing. Bytes written through the
// returned stream accumulate into the shared per-scheme counters.
func (h *Handle) Create(ctx context.Context, p fs.Path, opts fs.CreateOptions) (io.WriteCloser, error) {
	q, err := h.checked(p)
	if err != nil {
		return nil, err
	}
	h.counters.IncWriteOps()
	wc, err := h.backend.Create(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	return &countingWriter{w: wc, c: h.counters}, nil
}

// Append opens the existing file at p for appending.
func (h *Handle) Append(ctx context.Context, p fs.Path) (io.WriteCloser, error) {
	q, err := h.checked(p)
	if err != nil {
		return nil, err
	}
	h.counters.IncWriteOps()
	wc, err := h.backend.Append(ctx, q)
	if err != nil {
		return nil, err
	}
	return &countingWriter{w: wc, c: h.counters}, nil
}

// List returns the direct children of p in name order, filtered when filter
// is non-nil. Listings beyond largeListBatch entries account extra bulk-read
// operations.
func (h *Handle) List(ctx context.Context, p fs.Path, filter fs.PathFilter) ([]fs.FileStatus, error) {
	q, err := h.checked(p)
	if err != nil {
		return nil, err
	}
	h.counters.IncReadOps()
	children, err := h.backend.List(ctx, q)
	if err != nil {
		return nil, err
	}
	h.countLargeList(len(children))
	if filter == nil {
		return children, nil
	}
	out := make([]fs.FileStatus, 0, len(children))
	for _, c := range children {
		if filter(c.Path) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (h *Handle) countLargeList(n int) {
	if n > largeListBatch {
		h.counters.AddLargeReadOps(int64((n - 1) / largeListBatch))
	}
}

// Stat describes the file or directory at p.
func (h *Handle) Stat(ctx context.Context, p fs.Path) (fs.FileStatus, error) {
	q, err := h.checked(p)
	if err != nil {
		return fs.FileStatus{}, err
	}
	h.counters.IncReadOps()
	return h.backend.Stat(ctx, q)
}

// Exists reports whether p exists, folding not-found into false.
func (h *Handle) Exists(ctx context.Context, p fs.Path) (bool, error) {
	if _, err := h.Stat(ctx, p); err != nil {
		if fs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsFile reports whether p exists and is a regular file.
func (h *Handle) IsFile(ctx context.Context, p fs.Path) (bool, error) {
	st, err := h.Stat(ctx, p)
	if err != nil {
		if fs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return !st.IsDir, nil
}

// IsDirectory reports whether p exists and is a directory.
func (h *Handle) IsDirectory(ctx context.Context, p fs.Path) (bool, error) {
	st, err := h.Stat(ctx, p)
	if err != nil {
		if fs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return st.IsDir, nil
}

// CreateNewFile creates an empty file at p without overwriting, reporting
// false when the path already exists.
func (h *Handle) CreateNewFile(ctx context.Context, p fs.Path) (bool, error) {
	q, err := h.checked(p)
	if err != nil {
		return false, err
	}
	h.counters.IncWriteOps()
	wc, err := h.backend.Create(ctx, q, fs.CreateOptions{Perm: fs.DefaultFilePerm})
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if err := wc.Close(); err != nil {
		return false, fmt.Errorf("failed to finalize %s: %w", q.String(), err)
	}
	return true, nil
}

// Delete removes p, recursing into directories when recursive is set. It
// reports false without error when p did not exist.
func (h *Handle) Delete(ctx context.Context, p fs.Path, recursive bool) (bool, error) {
	q, err := h.checked(p)
	if err != nil {
		return false, err
	}
	h.counters.IncWriteOps()
	return h.backend.Delete(ctx, q, recursive)
}

// Rename moves src to dst. Both paths must belong to this handle.
func (h *Handle) Rename(ctx context.Context, src, dst fs.Path) error {
	qsrc, err := h.checked(src)
	if err != nil {
		return err
	}
	qdst, err := h.checked(dst)
	if err != nil {
		return err
	}
	h.counters.IncWriteOps()
	return h.backend.Rename(ctx, qsrc, qdst)
}

// Mkdirs creates the directory p together with missing parents.
func (h *Handle) Mkdirs(ctx context.Context, p fs.Path, perm fs.Permission) error {
	q, err := h.checked(p)
	if err != nil {
		return err
	}
	h.counters.IncWriteOps()
	return h.backend.Mkdirs(ctx, q, perm)
}

// SetPermission updates the permission bits of p.
func (h *Handle) SetPermission(ctx context.Context, p fs.Path, perm fs.Permission) error {
	q, err := h.checked(p)
	if err != nil {
		return err
	}
	h.counters.IncWriteOps()
	return h.backend.SetPermission(ctx, q, perm)
}

// SetOwner updates the owner and/or group of p; empty strings keep the
// current value.
func (h *Handle) SetOwner(ctx context.Context, p fs.Path, owner, group string) error {
	q, err := h.checked(p)
	if err != nil {
		return err
	}
	h.counters.IncWriteOps()
	return h.backend.SetOwner(ctx, q, owner, group)
}

// SetTimes updates modification and access times of p; zero times keep the
// current value.
func (h *Handle) SetTimes(ctx context.Context, p fs.Path, mtime, atime time.Time) error {
	q, err := h.checked(p)
	if err != nil {
		return err
	}
	h.counters.IncWriteOps()
	return h.backend.SetTimes(ctx, q, mtime, atime)
}

// Glob expands a wildcard pattern into the statuses of all matching paths,
// sorted by path. A pattern without wildcards naming a missing path yields a
// nil slice; a wildcard pattern matching nothing yields an empty one.
func (h *Handle) Glob(ctx context.Context, pattern fs.Path, filter fs.PathFilter) ([]fs.FileStatus, error) {
	q, err := h.checked(pattern)
	if err != nil {
		return nil, err
	}
	return glob.Expand(ctx, &globSource{h: h}, q, filter)
}

// globSource adapts the handle for the glob walk so that every listing and
// stat performed during expansion is accounted like a direct call.
type globSource struct {
	h *Handle
}

func (g *globSource) List(ctx context.Context, p fs.Path) ([]fs.FileStatus, error) {
	g.h.counters.IncReadOps()
	children, err := g.h.backend.List(ctx, p)
	if err != nil {
		return nil, err
	}
	g.h.countLargeList(len(children))
	return children, nil
}

func (g *globSource) Stat(ctx context.Context, p fs.Path) (fs.FileStatus, error) {
	g.h.counters.IncReadOps()
	return g.h.backend.Stat(ctx, p)
}

// ContentSummary walks the tree under p and totals its length and file and
// directory counts. The directory count includes p itself.
func (h *Handle) ContentSummary(ctx context.Context, p fs.Path) (fs.ContentSummary, error) {
	q, err := h.checked(p)
	if err != nil {
		return fs.ContentSummary{}, err
	}
	h.counters.IncReadOps()
	root, err := h.backend.Stat(ctx, q)
	if err != nil {
		return fs.ContentSummary{}, err
	}
	if !root.IsDir {
		return fs.ContentSummary{Length: root.Size, FileCount: 1}, nil
	}

	sum := fs.ContentSummary{DirectoryCount: 1}
	stack := []fs.Path{root.Path}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		h.counters.IncReadOps()
		children, err := h.backend.List(ctx, dir)
		if err != nil {
			if fs.IsNotFound(err) {
				continue
			}
			return fs.ContentSummary{}, err
		}
		h.countLargeList(len(children))

		for _, c := range children {
			if c.IsDir {
				sum.DirectoryCount++
				stack = append(stack, c.Path)
			} else {
				sum.FileCount++
				sum.Length += c.Size
			}
		}
	}
	return sum, nil
}

// Used returns the total length of all files under the root.
func (h *Handle) Used(ctx context.Context) (int64, error) {
	sum, err := h.ContentSummary(ctx, h.id.Root())
	if err != nil {
		return 0, err
	}
	return sum.Length, nil
}

// HomeDirectory returns /user/<principal> qualified to this handle.
func (h *Handle) HomeDirectory() fs.Path {
	name := h.principal.Name
	if name == "" {
		name = "anonymous"
	}
	return fs.Path{Name: "/user/" + name}.Qualified(h.id)
}

// WorkingDirectory returns the directory relative paths resolve against.
// It starts out as the home directory.
func (h *Handle) WorkingDirectory() fs.Path {
	h.wdMu.RLock()
	defer h.wdMu.RUnlock()
	return h.wd
}

// SetWorkingDirectory changes the working directory. Relative paths are
// resolved against the current one.
func (h *Handle) SetWorkingDirectory(p fs.Path) error {
	q, err := h.checked(p)
	if err != nil {
		return err
	}
	h.wdMu.Lock()
	h.wd = q
	h.wdMu.Unlock()
	return nil
}

// Checksum returns the whole-file checksum of p when the backend supports
// it, fs.ErrUnsupported otherwise.
func (h *Handle) Checksum(ctx context.Context, p fs.Path) (fs.Checksum, error) {
	q, err := h.checked(p)
	if err != nil {
		return fs.Checksum{}, err
	}
	cb, ok := h.backend.(fs.ChecksumBackend)
	if !ok {
		return fs.Checksum{}, &fs.PathError{Op: "checksum", Path: q.String(), Err: fs.ErrUnsupported}
	}
	h.counters.IncReadOps()
	return cb.Checksum(ctx, q)
}

// CopyFromLocal streams the file at src on the local handle into dst on this
// handle. Byte counters accumulate on both sides.
func (h *Handle) CopyFromLocal(ctx context.Context, local *Handle, src, dst fs.Path, overwrite bool) error {
	return copyStream(ctx, local, src, h, dst, overwrite)
}

// CopyToLocal streams the file at src on this handle into dst on the local
// handle.
func (h *Handle) CopyToLocal(ctx context.Context, src fs.Path, local *Handle, dst fs.Path, overwrite bool) error {
	return copyStream(ctx, h, src, local, dst, overwrite)
}

// MoveFromLocal copies src from the local handle to dst on this handle and
// removes the source afterwards.
func (h *Handle) MoveFromLocal(ctx context.Context, local *Handle, src, dst fs.Path) error {
	if err := copyStream(ctx, local, src, h, dst, true); err != nil {
		return err
	}
	if _, err := local.Delete(ctx, src, true); err != nil {
		return fmt.Errorf("failed to remove moved source %s: %w", src.String(), err)
	}
	return nil
}

func copyStream(ctx context.Context, src *Handle, from fs.Path, dst *Handle, to fs.Path, overwrite bool) error {
	rc, err := src.Open(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to open copy source: %w", err)
	}
	defer rc.Close()

	wc, err := dst.Create(ctx, to, fs.CreateOptions{Overwrite: overwrite, Perm: fs.DefaultFilePerm})
	if err != nil {
		return fmt.Errorf("failed to create copy target: %w", err)
	}
	if _, err := io.Copy(wc, rc); err != nil {
		wc.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", from.String(), to.String(), err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to finalize copy target: %w", err)
	}
	return nil
}

// MarkDeleteOnClose registers p for recursive removal when the handle
// closes. The path must exist; marking a missing path reports false.
func (h *Handle) MarkDeleteOnClose(ctx context.Context, p fs.Path) (bool, error) {
	q, err := h.checked(p)
	if err != nil {
		return false, err
	}
	h.counters.IncReadOps()
	return h.pending.mark(ctx, h.backend, q)
}

// UnmarkDeleteOnClose removes p from the delete-on-close set, reporting
// whether it was marked.
func (h *Handle) UnmarkDeleteOnClose(p fs.Path) bool {
	return h.pending.unmark(h.Qualify(p))
}

// DefaultBlockSize reports the backend's default block size.
func (h *Handle) DefaultBlockSize() int64 { return h.backend.DefaultBlockSize() }

// DefaultReplication reports the backend's default replication factor.
func (h *Handle) DefaultReplication() int { return h.backend.DefaultReplication() }

// Close drains the delete-on-close set, evicts the handle from the cache and
// closes the backend. Later calls are no-ops. The eviction happens before
// the backend close so a concurrent resolve never receives a closed handle.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.pending.drain(context.Background(), h.backend, h.log)
	if h.cache != nil {
		h.cache.evict(h.key, h)
	}
	if err := h.backend.Close(); err != nil {
		return fmt.Errorf("failed to close %s backend: %w", h.key.scheme, err)
	}
	return nil
}
