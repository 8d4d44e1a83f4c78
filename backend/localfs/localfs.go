// Package localfs provides the os-backed fs.Backend serving file:// URIs.
//
// Paths map directly onto a base directory on the local disk, "/" for a
// whole-filesystem backend or any other directory for a jailed one (tests
// use a temporary directory). The full capability set is implemented except
// access times, which the local filesystem reports as zero.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/stratusworks/fsmux/fs"
)

const defaultBlockSize = 32 * 1024 * 1024

// Backend serves a directory of the local filesystem.
type Backend struct {
	log  *slog.Logger
	id   fs.Path
	base string
}

// New returns a backend rooted at base, which must be an existing directory.
func New(base string, log *slog.Logger) (*Backend, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base %s is not a directory", abs)
	}

	return &Backend{
		log:  log,
		id:   fs.MustPath("file:///"),
		base: abs,
	}, nil
}

// Factory adapts New for Mux registration. Every file:// URI resolves to the
// same base directory.
func Factory(base string, log *slog.Logger) fs.Factory {
	return func(_ context.Context, _ fs.Path) (fs.Backend, error) {
		return New(base, log)
	}
}

func (b *Backend) Identity() fs.Path { return b.id }

func (b *Backend) DefaultBlockSize() int64 { return defaultBlockSize }

func (b *Backend) DefaultReplication() int { return 1 }

func (b *Backend) Close() error {
	b.log.Debug("closing local backend", slog.String("base", b.base))
	return nil
}

// osPath translates a backend path into an absolute local one.
func (b *Backend) osPath(p fs.Path) string {
	return filepath.Join(b.base, filepath.FromSlash(p.Name))
}

// mapError rewraps an os error into the backend error taxonomy.
func mapError(op string, p fs.Path, err error) error {
	var cause error
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		cause = fs.ErrNotFound
	case errors.Is(err, iofs.ErrExist):
		cause = fs.ErrExist
	case errors.Is(err, iofs.ErrPermission):
		cause = fs.ErrPermission
	case errors.Is(err, syscall.ENOTDIR):
		cause = fs.ErrNotDirectory
	case errors.Is(err, syscall.EISDIR):
		cause = fs.ErrIsDirectory
	case errors.Is(err, syscall.ENOTEMPTY):
		cause = fs.ErrNotEmpty
	default:
		cause = err
	}
	return &fs.PathError{Op: op, Path: p.String(), Err: cause}
}

func (b *Backend) status(p fs.Path, info iofs.FileInfo) fs.FileStatus {
	st := fs.FileStatus{
		Path:      fs.Path{Scheme: b.id.Scheme, Authority: b.id.Authority, Name: p.Name},
		IsDir:     info.IsDir(),
		BlockSize: defaultBlockSize,
		ModTime:   info.ModTime(),
		Perm:      info.Mode().Perm(),
	}
	if !st.IsDir {
		st.Size = info.Size()
		st.Replication = 1
	}
	return st
}

func (b *Backend) Open(_ context.Context, p fs.Path) (io.ReadCloser, error) {
	info, err := os.Stat(b.osPath(p))
	if err != nil {
		return nil, mapError("open", p, err)
	}
	if info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: p.String(), Err: fs.ErrIsDirectory}
	}

	f, err := os.Open(b.osPath(p))
	if err != nil {
		return nil, mapError("open", p, err)
	}
	return f, nil
}

func (b *Backend) Create(_ context.Context, p fs.Path, opts fs.CreateOptions) (io.WriteCloser, error) {
	perm := opts.Perm
	if perm == 0 {
		perm = fs.DefaultFilePerm
	}
	if err := os.MkdirAll(filepath.Dir(b.osPath(p)), fs.DefaultDirPerm); err != nil {
		return nil, mapError("create", p, err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if opts.Overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(b.osPath(p), flags, perm)
	if err != nil {
		return nil, mapError("create", p, err)
	}
	return f, nil
}

func (b *Backend) Append(_ context.Context, p fs.Path) (io.WriteCloser, error) {
	f, err := os.OpenFile(b.osPath(p), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, mapError("append", p, err)
	}
	return f, nil
}

func (b *Backend) List(_ context.Context, p fs.Path) ([]fs.FileStatus, error) {
	entries, err := os.ReadDir(b.osPath(p))
	if err != nil {
		return nil, mapError("list", p, err)
	}

	out := make([]fs.FileStatus, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// The entry vanished between the listing and the stat.
			if errors.Is(err, iofs.ErrNotExist) {
				continue
			}
			return nil, mapError("list", p, err)
		}
		out = append(out, b.status(p.Join(entry.Name()), info))
	}
	return out, nil
}

func (b *Backend) Stat(_ context.Context, p fs.Path) (fs.FileStatus, error) {
	info, err := os.Stat(b.osPath(p))
	if err != nil {
		return fs.FileStatus{}, mapError("stat", p, err)
	}
	return b.status(p, info), nil
}

func (b *Backend) Delete(_ context.Context, p fs.Path, recursive bool) (bool, error) {
	target := b.osPath(p)
	info, err := os.Lstat(target)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, mapError("delete", p, err)
	}

	if info.IsDir() && recursive {
		if err := os.RemoveAll(target); err != nil {
			return false, mapError("delete", p, err)
		}
		return true, nil
	}
	if err := os.Remove(target); err != nil {
		return false, mapError("delete", p, err)
	}
	return true, nil
}

func (b *Backend) Rename(_ context.Context, src, dst fs.Path) error {
	if _, err := os.Lstat(b.osPath(dst)); err == nil {
		return &fs.PathError{Op: "rename", Path: dst.String(), Err: fs.ErrExist}
	}
	if err := os.Rename(b.osPath(src), b.osPath(dst)); err != nil {
		return mapError("rename", src, err)
	}
	return nil
}

func (b *Backend) Mkdirs(_ context.Context, p fs.Path, perm fs.Permission) error {
	if perm == 0 {
		perm = fs.DefaultDirPerm
	}
	if err := os.MkdirAll(b.osPath(p), perm); err != nil {
		return mapError("mkdirs", p, err)
	}
	return nil
}

func (b *Backend) SetPermission(_ context.Context, p fs.Path, perm fs.Permission) error {
	if err := os.Chmod(b.osPath(p), perm); err != nil {
		return mapError("chmod", p, err)
	}
	return nil
}

func (b *Backend) SetOwner(_ context.Context, p fs.Path, owner, group string) error {
	uid, gid := -1, -1
	if owner != "" {
		u, err := user.Lookup(owner)
		if err != nil {
			return fmt.Errorf("failed to look up user %s: %w", owner, err)
		}
		if uid, err = strconv.Atoi(u.Uid); err != nil {
			return fmt.Errorf("failed to parse uid for %s: %w", owner, err)
		}
	}
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return fmt.Errorf("failed to look up group %s: %w", group, err)
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return fmt.Errorf("failed to parse gid for %s: %w", group, err)
		}
	}

	if err := os.Chown(b.osPath(p), uid, gid); err != nil {
		return mapError("chown", p, err)
	}
	return nil
}

func (b *Backend) SetTimes(_ context.Context, p fs.Path, mtime, atime time.Time) error {
	// os.Chtimes keeps a time unchanged when it is the zero value.
	if err := os.Chtimes(b.osPath(p), atime, mtime); err != nil {
		return mapError("utimes", p, err)
	}
	return nil
}

// Checksum streams the file through BLAKE2b-256.
func (b *Backend) Checksum(_ context.Context, p fs.Path) (fs.Checksum, error) {
	info, err := os.Stat(b.osPath(p))
	if err != nil {
		return fs.Checksum{}, mapError("checksum", p, err)
	}
	if info.IsDir() {
		return fs.Checksum{}, &fs.PathError{Op: "checksum", Path: p.String(), Err: fs.ErrIsDirectory}
	}

	f, err := os.Open(b.osPath(p))
	if err != nil {
		return fs.Checksum{}, mapError("checksum", p, err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return fs.Checksum{}, fmt.Errorf("failed to init hasher: %w", err)
	}
	if _, err := io.Copy(h, f); err != nil {
		return fs.Checksum{}, mapError("checksum", p, err)
	}
	return fs.Checksum{Algorithm: "BLAKE2b-256", Sum: h.Sum(nil)}, nil
}
