// Package ipfsfs provides the fs.Backend for the mutable files (MFS) tree
// of an IPFS node, addressed as ipfs://<api-host:port>/path.
//
// MFS carries no ownership, permission or time metadata, so SetOwner,
// SetPermission and SetTimes are unsupported and statuses report defaults.
// Appends are offset writes at the current file size.
package ipfsfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/stratusworks/fsmux/fs"
)

// MFS chunks content into 256 KiB blocks.
const defaultBlockSize = 256 * 1024

// MfsLsEntry.Type values as reported by the node.
const (
	mfsFile      = 0
	mfsDirectory = 1
)

// Client is the slice of the IPFS files API the backend calls. *shell.Shell
// satisfies it; tests substitute a mock.
type Client interface {
	FilesLs(ctx context.Context, path string, options ...shell.FilesOpt) ([]*shell.MfsLsEntry, error)
	FilesStat(ctx context.Context, path string, options ...shell.FilesOpt) (*shell.FilesStatObject, error)
	FilesRead(ctx context.Context, path string, options ...shell.FilesOpt) (io.ReadCloser, error)
	FilesWrite(ctx context.Context, path string, data io.Reader, options ...shell.FilesOpt) error
	FilesMv(ctx context.Context, src, dst string) error
	FilesRm(ctx context.Context, path string, force bool) error
	FilesMkdir(ctx context.Context, path string, options ...shell.FilesOpt) error
}

// Backend serves the MFS tree of one IPFS node.
type Backend struct {
	client Client
	id     fs.Path
	log    *slog.Logger
}

// New connects to the IPFS API at apiAddr (host:port) and probes it.
func New(apiAddr string, log *slog.Logger) (*Backend, error) {
	sh := shell.NewShell(apiAddr)
	if !sh.IsUp() {
		log.Warn("IPFS node unavailable", slog.String("api", apiAddr))
		return nil, fmt.Errorf("ipfs node %s is not reachable", apiAddr)
	}
	return NewWithClient(sh, apiAddr, log), nil
}

// NewWithClient wires an existing client, for tests.
func NewWithClient(client Client, apiAddr string, log *slog.Logger) *Backend {
	return &Backend{
		client: client,
		id:     fs.Path{Scheme: "ipfs", Authority: apiAddr, Name: "/"},
		log:    log,
	}
}

// Factory adapts New for Mux registration, taking the API address from the
// URI authority.
func Factory(log *slog.Logger) fs.Factory {
	return func(_ context.Context, uri fs.Path) (fs.Backend, error) {
		if uri.Authority == "" {
			return nil, fmt.Errorf("ipfs URIs need an api host:port authority: %s", uri)
		}
		return New(uri.Authority, log)
	}
}

func (b *Backend) Identity() fs.Path { return b.id }

func (b *Backend) DefaultBlockSize() int64 { return defaultBlockSize }

func (b *Backend) DefaultReplication() int { return 1 }

func (b *Backend) Close() error {
	b.log.Debug("closing ipfs backend", slog.String("api", b.id.Authority))
	return nil
}

// mapShellErr rewraps a files API error into the backend error taxonomy.
// The node reports conditions as message text only.
func mapShellErr(op string, p fs.Path, err error) error {
	msg := err.Error()
	var cause error
	switch {
	case strings.Contains(msg, "file does not exist"), strings.Contains(msg, "no link named"):
		cause = fs.ErrNotFound
	case strings.Contains(msg, "already has entry"), strings.Contains(msg, "already exists"):
		cause = fs.ErrExist
	case strings.Contains(msg, "not a directory"):
		cause = fs.ErrNotDirectory
	case strings.Contains(msg, "is a directory"):
		cause = fs.ErrIsDirectory
	default:
		cause = err
	}
	return &fs.PathError{Op: op, Path: p.String(), Err: cause}
}

func unsupported(op string, p fs.Path) error {
	return &fs.PathError{Op: op, Path: p.String(), Err: fs.ErrUnsupported}
}

func (b *Backend) pathFor(name string) fs.Path {
	return fs.Path{Scheme: b.id.Scheme, Authority: b.id.Authority, Name: name}
}

func (b *Backend) status(p fs.Path, stat *shell.FilesStatObject) fs.FileStatus {
	st := fs.FileStatus{
		Path:      p,
		IsDir:     stat.Type == "directory",
		BlockSize: defaultBlockSize,
	}
	if st.IsDir {
		st.Perm = fs.DefaultDirPerm
	} else {
		st.Size = int64(stat.Size)
		st.Replication = 1
		st.Perm = fs.DefaultFilePerm
	}
	return st
}

func (b *Backend) Stat(ctx context.Context, p fs.Path) (fs.FileStatus, error) {
	stat, err := b.client.FilesStat(ctx, p.Name)
	if err != nil {
		return fs.FileStatus{}, mapShellErr("stat", p, err)
	}
	return b.status(p, stat), nil
}

func (b *Backend) Open(ctx context.Context, p fs.Path) (io.ReadCloser, error) {
	st, err := b.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if st.IsDir {
		return nil, &fs.PathError{Op: "open", Path: p.String(), Err: fs.ErrIsDirectory}
	}

	r, err := b.client.FilesRead(ctx, p.Name)
	if err != nil {
		return nil, mapShellErr("open", p, err)
	}
	return r, nil
}

func (b *Backend) Create(ctx context.Context, p fs.Path, opts fs.CreateOptions) (io.WriteCloser, error) {
	st, err := b.Stat(ctx, p)
	switch {
	case err == nil && st.IsDir:
		return nil, &fs.PathError{Op: "create", Path: p.String(), Err: fs.ErrIsDirectory}
	case err == nil && !opts.Overwrite:
		return nil, &fs.PathError{Op: "create", Path: p.String(), Err: fs.ErrExist}
	case err != nil && !errors.Is(err, fs.ErrNotFound):
		return nil, err
	}

	return &mfsWriter{ctx: ctx, b: b, path: p, truncate: true}, nil
}

func (b *Backend) Append(ctx context.Context, p fs.Path) (io.WriteCloser, error) {
	st, err := b.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if st.IsDir {
		return nil, &fs.PathError{Op: "append", Path: p.String(), Err: fs.ErrIsDirectory}
	}
	return &mfsWriter{ctx: ctx, b: b, path: p, offset: st.Size}, nil
}

func (b *Backend) List(ctx context.Context, p fs.Path) ([]fs.FileStatus, error) {
	st, err := b.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if !st.IsDir {
		return nil, &fs.PathError{Op: "list", Path: p.String(), Err: fs.ErrNotDirectory}
	}

	entries, err := b.client.FilesLs(ctx, p.Name, shell.FilesLs.Stat(true))
	if err != nil {
		return nil, mapShellErr("list", p, err)
	}

	out := make([]fs.FileStatus, 0, len(entries))
	for _, entry := range entries {
		child := fs.FileStatus{
			Path:      b.pathFor(p.Join(entry.Name).Name),
			IsDir:     entry.Type == mfsDirectory,
			BlockSize: defaultBlockSize,
		}
		if child.IsDir {
			child.Perm = fs.DefaultDirPerm
		} else {
			child.Size = int64(entry.Size)
			child.Replication = 1
			child.Perm = fs.DefaultFilePerm
		}
		out = append(out, child)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path.Name < out[j].Path.Name })
	return out, nil
}

func (b *Backend) Delete(ctx context.Context, p fs.Path, recursive bool) (bool, error) {
	st, err := b.Stat(ctx, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if st.IsDir && !recursive {
		entries, err := b.client.FilesLs(ctx, p.Name)
		if err != nil {
			return false, mapShellErr("delete", p, err)
		}
		if len(entries) > 0 {
			return false, &fs.PathError{Op: "delete", Path: p.String(), Err: fs.ErrNotEmpty}
		}
	}

	if err := b.client.FilesRm(ctx, p.Name, true); err != nil {
		return false, mapShellErr("delete", p, err)
	}
	return true, nil
}

func (b *Backend) Rename(ctx context.Context, src, dst fs.Path) error {
	if _, err := b.Stat(ctx, dst); err == nil {
		return &fs.PathError{Op: "rename", Path: dst.String(), Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotFound) {
		return err
	}

	if err := b.client.FilesMv(ctx, src.Name, dst.Name); err != nil {
		return mapShellErr("rename", src, err)
	}
	return nil
}

func (b *Backend) Mkdirs(ctx context.Context, p fs.Path, _ fs.Permission) error {
	err := b.client.FilesMkdir(ctx, p.Name, shell.FilesMkdir.Parents(true))
	if err == nil {
		return nil
	}

	mapped := mapShellErr("mkdirs", p, err)
	if errors.Is(mapped, fs.ErrExist) {
		// Creating an existing directory is fine; a file in the way is not.
		if st, serr := b.Stat(ctx, p); serr == nil {
			if st.IsDir {
				return nil
			}
			return &fs.PathError{Op: "mkdirs", Path: p.String(), Err: fs.ErrNotDirectory}
		}
	}
	return mapped
}

func (b *Backend) SetPermission(_ context.Context, p fs.Path, _ fs.Permission) error {
	return unsupported("chmod", p)
}

func (b *Backend) SetOwner(_ context.Context, p fs.Path, _, _ string) error {
	return unsupported("chown", p)
}

func (b *Backend) SetTimes(_ context.Context, p fs.Path, _, _ time.Time) error {
	return unsupported("utimes", p)
}

// mfsWriter buffers writes and flushes them to the node when closed. A
// truncating flush replaces the file, an offset flush appends to it.
type mfsWriter struct {
	ctx      context.Context
	b        *Backend
	path     fs.Path
	offset   int64
	truncate bool
	buf      bytes.Buffer
	closed   bool
}

func (w *mfsWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, &fs.PathError{Op: "write", Path: w.path.String(), Err: fs.ErrClosed}
	}
	return w.buf.Write(p)
}

func (w *mfsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	opts := []shell.FilesOpt{
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
	}
	if w.truncate {
		opts = append(opts, shell.FilesWrite.Truncate(true))
	} else {
		opts = append(opts, shell.FilesWrite.Offset(w.offset))
	}

	if err := w.b.client.FilesWrite(w.ctx, w.path.Name, bytes.NewReader(w.buf.Bytes()), opts...); err != nil {
		return mapShellErr("write", w.path, err)
	}

	w.b.log.Debug("wrote file to IPFS",
		slog.String("path", w.path.Name),
		slog.Int("size", w.buf.Len()))
	return nil
}
