package fs

import (
	"encoding/hex"
	"os"
	"time"
)

// Permission carries the permission bits applied to created files and
// directories. Backends that have no permission model ignore it.
type Permission = os.FileMode

// Default permissions for handle-level convenience operations.
const (
	DefaultFilePerm Permission = 0o644
	DefaultDirPerm  Permission = 0o755
)

// FileStatus describes one file or directory as reported by a backend
// listing or stat call. Path is always fully qualified with the backend's
// scheme and authority.
type FileStatus struct {
	Path        Path
	Size        int64
	IsDir       bool
	Replication int
	BlockSize   int64
	ModTime     time.Time
	AccessTime  time.Time
	Perm        Permission
	Owner       string
	Group       string
}

// CreateOptions control Backend.Create. Zero values defer to the backend's
// defaults (no overwrite, DefaultFilePerm, default replication and block
// size).
type CreateOptions struct {
	Overwrite   bool
	Perm        Permission
	Replication int
	BlockSize   int64
}

// ContentSummary aggregates the size and entry counts beneath a path.
type ContentSummary struct {
	Length         int64
	FileCount      int64
	DirectoryCount int64
}

// Checksum is a whole-file digest produced by a ChecksumBackend.
type Checksum struct {
	Algorithm string
	Sum       []byte
}

func (c Checksum) String() string {
	return c.Algorithm + ":" + hex.EncodeToString(c.Sum)
}

// PathFilter accepts or rejects paths during listing and glob expansion.
// A nil filter accepts everything.
type PathFilter func(Path) bool
