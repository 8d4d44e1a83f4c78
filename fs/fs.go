package fs

import (
	"context"
	"io"
	"time"
)

// Backend is the capability set every concrete storage backend implements.
// It is the only contract the dispatch, caching and glob layers depend on;
// they invoke these capabilities and implement none of them.
//
// Paths handed to a backend are fully qualified and already reconciled
// against the backend's identity. Listings and stat results must come back
// fully qualified as well, so that callers can feed them straight into
// further operations.
type Backend interface {
	// Identity returns the backend's canonical identity: scheme plus
	// authority, with the root as the name component.
	Identity() Path

	// Open opens the file at p for reading.
	Open(ctx context.Context, p Path) (io.ReadCloser, error)

	// Create opens a new file at p for writing. Without opts.Overwrite an
	// existing file fails with ErrExist.
	Create(ctx context.Context, p Path, opts CreateOptions) (io.WriteCloser, error)

	// Append opens an existing file for appending. Backends without append
	// support return ErrUnsupported.
	Append(ctx context.Context, p Path) (io.WriteCloser, error)

	// List returns the direct children of the directory p in name order.
	// Listing a missing path fails with ErrNotFound, listing a file with
	// ErrNotDirectory.
	List(ctx context.Context, p Path) ([]FileStatus, error)

	// Stat describes the file or directory at p, or fails with ErrNotFound.
	Stat(ctx context.Context, p Path) (FileStatus, error)

	// Delete removes p, recursing into directories when recursive is set.
	// It reports false without error when p did not exist, and fails with
	// ErrNotEmpty for a non-recursive delete of a non-empty directory.
	Delete(ctx context.Context, p Path, recursive bool) (bool, error)

	// Rename moves src to dst within the backend.
	Rename(ctx context.Context, src, dst Path) error

	// Mkdirs creates the directory p together with missing parents.
	Mkdirs(ctx context.Context, p Path, perm Permission) error

	// SetPermission updates the permission bits of p.
	SetPermission(ctx context.Context, p Path, perm Permission) error

	// SetOwner updates the owner and/or group of p. Empty strings leave the
	// corresponding field unchanged.
	SetOwner(ctx context.Context, p Path, owner, group string) error

	// SetTimes updates modification and access times of p. Zero times leave
	// the corresponding field unchanged.
	SetTimes(ctx context.Context, p Path, mtime, atime time.Time) error

	// DefaultBlockSize reports the block size assumed for files that carry
	// none of their own.
	DefaultBlockSize() int64

	// DefaultReplication reports the replication factor applied to newly
	// created files.
	DefaultReplication() int

	// Close releases the backend's resources. The instance cache calls it
	// when a handle is evicted or loses a construction race.
	Close() error
}

// ChecksumBackend is an optional capability for backends that can compute a
// whole-file checksum server-side or from their own storage.
type ChecksumBackend interface {
	Checksum(ctx context.Context, p Path) (Checksum, error)
}

// Factory constructs a backend for the given URI. The instance cache calls
// factories outside any lock, so a slow construction (network handshake,
// session setup) never blocks unrelated resolutions.
type Factory func(ctx context.Context, uri Path) (Backend, error)
