// Package memfs provides an in-memory fs.Backend. It implements the full
// capability set including checksums, which makes it the backend of choice
// for tests and for scratch space that must not touch disk.
package memfs

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/stratusworks/fsmux/fs"
)

const defaultBlockSize = 32 * 1024 * 1024

type node struct {
	dir      bool
	data     []byte
	perm     fs.Permission
	owner    string
	group    string
	mtime    time.Time
	atime    time.Time
	children map[string]*node
}

// Backend is an in-memory tree of directories and files.
type Backend struct {
	log *slog.Logger
	id  fs.Path

	mu     sync.RWMutex
	root   *node
	closed bool
}

// New returns an empty in-memory backend whose identity is taken from uri's
// scheme and authority.
func New(uri fs.Path, log *slog.Logger) *Backend {
	return &Backend{
		log: log,
		id:  uri.Root(),
		root: &node{
			dir:      true,
			perm:     fs.DefaultDirPerm,
			mtime:    time.Now(),
			atime:    time.Now(),
			children: make(map[string]*node),
		},
	}
}

// Factory adapts New for Mux registration.
func Factory(log *slog.Logger) fs.Factory {
	return func(_ context.Context, uri fs.Path) (fs.Backend, error) {
		return New(uri, log), nil
	}
}

func (b *Backend) Identity() fs.Path { return b.id }

func (b *Backend) DefaultBlockSize() int64 { return defaultBlockSize }

func (b *Backend) DefaultReplication() int { return 1 }

func (b *Backend) path(name string) fs.Path {
	return fs.Path{Scheme: b.id.Scheme, Authority: b.id.Authority, Name: name}
}

func split(name string) []string {
	if name == "" || name == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(name, "/"), "/")
}

// find walks the tree to name. Callers hold b.mu.
func (b *Backend) find(name string) (*node, bool) {
	n := b.root
	for _, seg := range split(name) {
		if !n.dir {
			return nil, false
		}
		child, ok := n.children[seg]
		if !ok {
			return nil, false
		}
		n = child
	}
	return n, true
}

func (b *Backend) status(n *node, name string) fs.FileStatus {
	st := fs.FileStatus{
		Path:       b.path(name),
		IsDir:      n.dir,
		BlockSize:  defaultBlockSize,
		ModTime:    n.mtime,
		AccessTime: n.atime,
		Perm:       n.perm,
		Owner:      n.owner,
		Group:      n.group,
	}
	if !n.dir {
		st.Size = int64(len(n.data))
		st.Replication = 1
	}
	return st
}

func pathErr(op string, p fs.Path, err error) error {
	return &fs.PathError{Op: op, Path: p.String(), Err: err}
}

func (b *Backend) Open(_ context.Context, p fs.Path) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, pathErr("open", p, fs.ErrClosed)
	}

	n, ok := b.find(p.Name)
	if !ok {
		return nil, pathErr("open", p, fs.ErrNotFound)
	}
	if n.dir {
		return nil, pathErr("open", p, fs.ErrIsDirectory)
	}

	data := make([]byte, len(n.data))
	copy(data, n.data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) Create(_ context.Context, p fs.Path, opts fs.CreateOptions) (io.WriteCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, pathErr("create", p, fs.ErrClosed)
	}

	if existing, ok := b.find(p.Name); ok {
		if existing.dir {
			return nil, pathErr("create", p, fs.ErrIsDirectory)
		}
		if !opts.Overwrite {
			return nil, pathErr("create", p, fs.ErrExist)
		}
	}

	perm := opts.Perm
	if perm == 0 {
		perm = fs.DefaultFilePerm
	}
	if err := b.putLocked(p, &node{perm: perm, mtime: time.Now(), atime: time.Now()}); err != nil {
		return nil, err
	}
	return &fileWriter{b: b, p: p, appendTo: false}, nil
}

func (b *Backend) Append(_ context.Context, p fs.Path) (io.WriteCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, pathErr("append", p, fs.ErrClosed)
	}

	n, ok := b.find(p.Name)
	if !ok {
		return nil, pathErr("append", p, fs.ErrNotFound)
	}
	if n.dir {
		return nil, pathErr("append", p, fs.ErrIsDirectory)
	}
	return &fileWriter{b: b, p: p, appendTo: true}, nil
}

// putLocked attaches a fresh node at p, creating missing parent directories.
// Callers hold the write lock.
func (b *Backend) putLocked(p fs.Path, n *node) error {
	segs := split(p.Name)
	if len(segs) == 0 {
		return pathErr("create", p, fs.ErrIsDirectory)
	}

	cur := b.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := cur.children[seg]
		if !ok {
			child = &node{
				dir:      true,
				perm:     fs.DefaultDirPerm,
				mtime:    time.Now(),
				atime:    time.Now(),
				children: make(map[string]*node),
			}
			cur.children[seg] = child
		}
		if !child.dir {
			return pathErr("create", p, fs.ErrNotDirectory)
		}
		cur = child
	}
	cur.children[segs[len(segs)-1]] = n
	return nil
}

func (b *Backend) List(_ context.Context, p fs.Path) ([]fs.FileStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, pathErr("list", p, fs.ErrClosed)
	}

	n, ok := b.find(p.Name)
	if !ok {
		return nil, pathErr("list", p, fs.ErrNotFound)
	}
	if !n.dir {
		return nil, pathErr("list", p, fs.ErrNotDirectory)
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]fs.FileStatus, 0, len(names))
	for _, name := range names {
		out = append(out, b.status(n.children[name], b.path(p.Name).Join(name).Name))
	}
	return out, nil
}

func (b *Backend) Stat(_ context.Context, p fs.Path) (fs.FileStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fs.FileStatus{}, pathErr("stat", p, fs.ErrClosed)
	}

	n, ok := b.find(p.Name)
	if !ok {
		return fs.FileStatus{}, pathErr("stat", p, fs.ErrNotFound)
	}
	return b.status(n, p.Name), nil
}

func (b *Backend) Delete(_ context.Context, p fs.Path, recursive bool) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, pathErr("delete", p, fs.ErrClosed)
	}

	segs := split(p.Name)
	if len(segs) == 0 {
		// Deleting the root clears it but keeps the root itself.
		if !recursive && len(b.root.children) > 0 {
			return false, pathErr("delete", p, fs.ErrNotEmpty)
		}
		b.root.children = make(map[string]*node)
		return true, nil
	}

	parent, ok := b.find(p.Parent().Name)
	if !ok || !parent.dir {
		return false, nil
	}
	n, ok := parent.children[segs[len(segs)-1]]
	if !ok {
		return false, nil
	}
	if n.dir && len(n.children) > 0 && !recursive {
		return false, pathErr("delete", p, fs.ErrNotEmpty)
	}
	delete(parent.children, segs[len(segs)-1])
	return true, nil
}

func (b *Backend) Rename(_ context.Context, src, dst fs.Path) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return pathErr("rename", src, fs.ErrClosed)
	}

	srcSegs := split(src.Name)
	if len(srcSegs) == 0 {
		return pathErr("rename", src, fs.ErrInvalidPath)
	}
	srcParent, ok := b.find(src.Parent().Name)
	if !ok || !srcParent.dir {
		return pathErr("rename", src, fs.ErrNotFound)
	}
	n, ok := srcParent.children[srcSegs[len(srcSegs)-1]]
	if !ok {
		return pathErr("rename", src, fs.ErrNotFound)
	}

	if _, exists := b.find(dst.Name); exists {
		return pathErr("rename", dst, fs.ErrExist)
	}
	dstSegs := split(dst.Name)
	if len(dstSegs) == 0 {
		return pathErr("rename", dst, fs.ErrInvalidPath)
	}
	dstParent, ok := b.find(dst.Parent().Name)
	if !ok {
		return pathErr("rename", dst, fs.ErrNotFound)
	}
	if !dstParent.dir {
		return pathErr("rename", dst, fs.ErrNotDirectory)
	}

	delete(srcParent.children, srcSegs[len(srcSegs)-1])
	dstParent.children[dstSegs[len(dstSegs)-1]] = n
	n.mtime = time.Now()
	return nil
}

func (b *Backend) Mkdirs(_ context.Context, p fs.Path, perm fs.Permission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return pathErr("mkdirs", p, fs.ErrClosed)
	}
	if perm == 0 {
		perm = fs.DefaultDirPerm
	}

	cur := b.root
	for _, seg := range split(p.Name) {
		child, ok := cur.children[seg]
		if !ok {
			child = &node{
				dir:      true,
				perm:     perm,
				mtime:    time.Now(),
				atime:    time.Now(),
				children: make(map[string]*node),
			}
			cur.children[seg] = child
		}
		if !child.dir {
			return pathErr("mkdirs", p, fs.ErrNotDirectory)
		}
		cur = child
	}
	return nil
}

func (b *Backend) SetPermission(_ context.Context, p fs.Path, perm fs.Permission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return pathErr("chmod", p, fs.ErrClosed)
	}

	n, ok := b.find(p.Name)
	if !ok {
		return pathErr("chmod", p, fs.ErrNotFound)
	}
	n.perm = perm
	return nil
}

func (b *Backend) SetOwner(_ context.Context, p fs.Path, owner, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return pathErr("chown", p, fs.ErrClosed)
	}

	n, ok := b.find(p.Name)
	if !ok {
		return pathErr("chown", p, fs.ErrNotFound)
	}
	if owner != "" {
		n.owner = owner
	}
	if group != "" {
		n.group = group
	}
	return nil
}

func (b *Backend) SetTimes(_ context.Context, p fs.Path, mtime, atime time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return pathErr("utimes", p, fs.ErrClosed)
	}

	n, ok := b.find(p.Name)
	if !ok {
		return pathErr("utimes", p, fs.ErrNotFound)
	}
	if !mtime.IsZero() {
		n.mtime = mtime
	}
	if !atime.IsZero() {
		n.atime = atime
	}
	return nil
}

// Checksum returns the BLAKE2b-256 digest of the file content.
func (b *Backend) Checksum(_ context.Context, p fs.Path) (fs.Checksum, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fs.Checksum{}, pathErr("checksum", p, fs.ErrClosed)
	}

	n, ok := b.find(p.Name)
	if !ok {
		return fs.Checksum{}, pathErr("checksum", p, fs.ErrNotFound)
	}
	if n.dir {
		return fs.Checksum{}, pathErr("checksum", p, fs.ErrIsDirectory)
	}

	sum := blake2b.Sum256(n.data)
	return fs.Checksum{Algorithm: "BLAKE2b-256", Sum: sum[:]}, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.log.Debug("closing in-memory backend", slog.String("id", b.id.String()))
	}
	b.closed = true
	return nil
}

// fileWriter buffers writes and commits them on Close. Commit re-walks the
// tree so a file replaced or deleted mid-write is recreated rather than
// corrupted.
type fileWriter struct {
	b        *Backend
	p        fs.Path
	appendTo bool
	buf      bytes.Buffer
	closed   bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, pathErr("write", w.p, fs.ErrClosed)
	}
	return w.buf.Write(p)
}

func (w *fileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	if w.b.closed {
		return pathErr("write", w.p, fs.ErrClosed)
	}

	n, ok := w.b.find(w.p.Name)
	if !ok || n.dir {
		n = &node{perm: fs.DefaultFilePerm, atime: time.Now()}
		if err := w.b.putLocked(w.p, n); err != nil {
			return err
		}
	}
	if w.appendTo {
		n.data = append(n.data, w.buf.Bytes()...)
	} else {
		n.data = w.buf.Bytes()
	}
	n.mtime = time.Now()
	return nil
}
