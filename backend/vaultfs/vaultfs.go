// Package vaultfs provides the fs.Backend for a HashiCorp Vault KV v2
// mount, addressed as vault://<host:port>/path.
//
// Every file is one secret whose "content" field holds the bytes,
// base64-encoded so they survive the JSON transport. The key listing
// drives the tree: keys with a trailing slash are directories.
// Directories created explicitly are held open by a hidden ".keep" secret
// that never shows up in listings. Deletes destroy secret metadata, so all
// versions go with the file. Append is unsupported.
package vaultfs

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/stratusworks/fsmux/fs"
)

// Vault caps secret payloads around a megabyte.
const defaultBlockSize = 1024 * 1024

// dirMarker holds explicitly created directories open in the key listing.
const dirMarker = ".keep"

// Logical is the slice of the Vault logical API the backend calls.
// *api.Logical satisfies it; tests substitute a mock.
type Logical interface {
	ReadWithContext(ctx context.Context, path string) (*api.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*api.Secret, error)
	ListWithContext(ctx context.Context, path string) (*api.Secret, error)
	DeleteWithContext(ctx context.Context, path string) (*api.Secret, error)
}

// Options configure the Vault client.
type Options struct {
	// Address overrides the server address; when empty it is derived from
	// the URI authority as https://<authority>.
	Address string
	Token   string
	// Mount is the KV v2 mount path, "secret" when empty.
	Mount   string
	Timeout time.Duration
}

// Backend serves one KV v2 mount of one Vault server.
type Backend struct {
	logical Logical
	mount   string
	id      fs.Path
	log     *slog.Logger
}

// New creates a backend talking to the Vault server for the given authority.
func New(authority string, opts Options, log *slog.Logger) (*Backend, error) {
	address := opts.Address
	if address == "" {
		address = "https://" + authority
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: timeout}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if opts.Token != "" {
		client.SetToken(opts.Token)
	}

	mount := opts.Mount
	if mount == "" {
		mount = "secret"
	}
	return NewWithLogical(client.Logical(), mount, authority, log), nil
}

// NewWithLogical wires an existing logical client, for tests.
func NewWithLogical(logical Logical, mount, authority string, log *slog.Logger) *Backend {
	return &Backend{
		logical: logical,
		mount:   strings.TrimSuffix(mount, "/"),
		id:      fs.Path{Scheme: "vault", Authority: authority, Name: "/"},
		log:     log,
	}
}

// Factory adapts New for Mux registration, taking the server from the URI
// authority.
func Factory(opts Options, log *slog.Logger) fs.Factory {
	return func(_ context.Context, uri fs.Path) (fs.Backend, error) {
		if uri.Authority == "" {
			return nil, fmt.Errorf("vault URIs need a server authority: %s", uri)
		}
		return New(uri.Authority, opts, log)
	}
}

func (b *Backend) Identity() fs.Path { return b.id }

func (b *Backend) DefaultBlockSize() int64 { return defaultBlockSize }

func (b *Backend) DefaultReplication() int { return 1 }

func (b *Backend) Close() error {
	b.log.Debug("closing vault backend", slog.String("server", b.id.Authority))
	return nil
}

// dataPath is the KV v2 read/write endpoint for a file path.
func (b *Backend) dataPath(name string) string {
	return path.Join(b.mount, "data", strings.TrimPrefix(name, "/"))
}

// metaPath is the KV v2 metadata endpoint, used for listing and destroying.
func (b *Backend) metaPath(name string) string {
	return path.Join(b.mount, "metadata", strings.TrimPrefix(name, "/"))
}

func (b *Backend) pathFor(name string) fs.Path {
	return fs.Path{Scheme: b.id.Scheme, Authority: b.id.Authority, Name: name}
}

func unsupported(op string, p fs.Path) error {
	return &fs.PathError{Op: op, Path: p.String(), Err: fs.ErrUnsupported}
}

// secretContent pulls the base64 content field out of a KV v2 read
// response. Soft-deleted versions carry a nil data map and report not ok.
func secretContent(secret *api.Secret) (string, bool) {
	if secret == nil || secret.Data == nil {
		return "", false
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", false
	}
	content, ok := data["content"].(string)
	if !ok {
		return "", false
	}
	return content, true
}

func decodeContent(op string, p fs.Path, encoded string) ([]byte, error) {
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: p.String(), Err: fmt.Errorf("failed to decode secret content: %w", err)}
	}
	return content, nil
}

// secretModTime reads the created_time of the current version, zero when
// the response carries no parseable metadata.
func secretModTime(secret *api.Secret) time.Time {
	md, ok := secret.Data["metadata"].(map[string]interface{})
	if !ok {
		return time.Time{}
	}
	ts, ok := md["created_time"].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

// listKeys returns the raw key listing under a directory, nil when the
// directory does not exist.
func (b *Backend) listKeys(ctx context.Context, p fs.Path) ([]string, error) {
	secret, err := b.logical.ListWithContext(ctx, b.metaPath(p.Name))
	if err != nil {
		return nil, &fs.PathError{Op: "list", Path: p.String(), Err: fmt.Errorf("failed to list secrets: %w", err)}
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys, nil
}

func (b *Backend) dirStatus(p fs.Path) fs.FileStatus {
	return fs.FileStatus{Path: p, IsDir: true, BlockSize: defaultBlockSize, Perm: fs.DefaultDirPerm}
}

func (b *Backend) Stat(ctx context.Context, p fs.Path) (fs.FileStatus, error) {
	if p.Name == "/" {
		return b.dirStatus(p), nil
	}

	secret, err := b.logical.ReadWithContext(ctx, b.dataPath(p.Name))
	if err != nil {
		return fs.FileStatus{}, &fs.PathError{Op: "stat", Path: p.String(), Err: fmt.Errorf("failed to read secret: %w", err)}
	}
	if encoded, ok := secretContent(secret); ok {
		content, err := decodeContent("stat", p, encoded)
		if err != nil {
			return fs.FileStatus{}, err
		}
		return fs.FileStatus{
			Path:        p,
			Size:        int64(len(content)),
			Replication: 1,
			BlockSize:   defaultBlockSize,
			ModTime:     secretModTime(secret),
			Perm:        fs.DefaultFilePerm,
		}, nil
	}

	keys, err := b.listKeys(ctx, p)
	if err != nil {
		return fs.FileStatus{}, err
	}
	if len(keys) > 0 {
		return b.dirStatus(p), nil
	}
	return fs.FileStatus{}, &fs.PathError{Op: "stat", Path: p.String(), Err: fs.ErrNotFound}
}

func (b *Backend) Open(ctx context.Context, p fs.Path) (io.ReadCloser, error) {
	st, err := b.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if st.IsDir {
		return nil, &fs.PathError{Op: "open", Path: p.String(), Err: fs.ErrIsDirectory}
	}

	secret, err := b.logical.ReadWithContext(ctx, b.dataPath(p.Name))
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: p.String(), Err: fmt.Errorf("failed to read secret: %w", err)}
	}
	encoded, ok := secretContent(secret)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p.String(), Err: fs.ErrNotFound}
	}
	content, err := decodeContent("open", p, encoded)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (b *Backend) Create(ctx context.Context, p fs.Path, opts fs.CreateOptions) (io.WriteCloser, error) {
	if p.Name == "/" {
		return nil, &fs.PathError{Op: "create", Path: p.String(), Err: fs.ErrIsDirectory}
	}

	st, err := b.Stat(ctx, p)
	switch {
	case err == nil && st.IsDir:
		return nil, &fs.PathError{Op: "create", Path: p.String(), Err: fs.ErrIsDirectory}
	case err == nil && !opts.Overwrite:
		return nil, &fs.PathError{Op: "create", Path: p.String(), Err: fs.ErrExist}
	case err != nil && !errors.Is(err, fs.ErrNotFound):
		return nil, err
	}

	return &secretWriter{ctx: ctx, b: b, path: p}, nil
}

func (b *Backend) Append(_ context.Context, p fs.Path) (io.WriteCloser, error) {
	return nil, unsupported("append", p)
}

func (b *Backend) List(ctx context.Context, p fs.Path) ([]fs.FileStatus, error) {
	st, err := b.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if !st.IsDir {
		return nil, &fs.PathError{Op: "list", Path: p.String(), Err: fs.ErrNotDirectory}
	}

	keys, err := b.listKeys(ctx, p)
	if err != nil {
		return nil, err
	}

	out := make([]fs.FileStatus, 0, len(keys))
	for _, key := range keys {
		if key == dirMarker {
			continue
		}
		if strings.HasSuffix(key, "/") {
			out = append(out, b.dirStatus(b.pathFor(p.Join(strings.TrimSuffix(key, "/")).Name)))
			continue
		}

		child := p.Join(key)
		cst, err := b.Stat(ctx, child)
		if err != nil {
			// Soft-deleted versions linger in the key listing.
			if errors.Is(err, fs.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, cst)
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

	if !st.IsDir {
		if err := b.destroy(ctx, p); err != nil {
			return false, err
		}
		return true, nil
	}

	keys, err := b.listKeys(ctx, p)
	if err != nil {
		return false, err
	}
	if !recursive {
		for _, key := range keys {
			if key != dirMarker {
				return false, &fs.PathError{Op: "delete", Path: p.String(), Err: fs.ErrNotEmpty}
			}
		}
	}

	if err := b.destroyTree(ctx, p, keys); err != nil {
		return false, err
	}
	return true, nil
}

// destroy removes a secret's metadata, taking every version with it.
func (b *Backend) destroy(ctx context.Context, p fs.Path) error {
	if _, err := b.logical.DeleteWithContext(ctx, b.metaPath(p.Name)); err != nil {
		return &fs.PathError{Op: "delete", Path: p.String(), Err: fmt.Errorf("failed to destroy secret: %w", err)}
	}
	return nil
}

// destroyTree removes every secret under a directory. Directories disappear
// with their last key, so only files need destroying.
func (b *Backend) destroyTree(ctx context.Context, p fs.Path, keys []string) error {
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			child := p.Join(strings.TrimSuffix(key, "/"))
			childKeys, err := b.listKeys(ctx, child)
			if err != nil {
				return err
			}
			if err := b.destroyTree(ctx, child, childKeys); err != nil {
				return err
			}
			continue
		}
		if err := b.destroy(ctx, p.Join(key)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Rename(ctx context.Context, src, dst fs.Path) error {
	if _, err := b.Stat(ctx, dst); err == nil {
		return &fs.PathError{Op: "rename", Path: dst.String(), Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotFound) {
		return err
	}

	st, err := b.Stat(ctx, src)
	if err != nil {
		return err
	}
	if !st.IsDir {
		return b.moveSecret(ctx, src, dst)
	}

	keys, err := b.listKeys(ctx, src)
	if err != nil {
		return err
	}
	return b.moveTree(ctx, src, dst, keys)
}

// moveSecret rewrites a secret at the destination and destroys the source.
// KV v2 has no server-side move. The content stays encoded throughout.
func (b *Backend) moveSecret(ctx context.Context, src, dst fs.Path) error {
	secret, err := b.logical.ReadWithContext(ctx, b.dataPath(src.Name))
	if err != nil {
		return &fs.PathError{Op: "rename", Path: src.String(), Err: fmt.Errorf("failed to read secret: %w", err)}
	}
	encoded, ok := secretContent(secret)
	if !ok {
		return &fs.PathError{Op: "rename", Path: src.String(), Err: fs.ErrNotFound}
	}

	if err := b.writeEncoded(ctx, dst, encoded); err != nil {
		return err
	}
	return b.destroy(ctx, src)
}

func (b *Backend) moveTree(ctx context.Context, src, dst fs.Path, keys []string) error {
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			name := strings.TrimSuffix(key, "/")
			childKeys, err := b.listKeys(ctx, src.Join(name))
			if err != nil {
				return err
			}
			if err := b.moveTree(ctx, src.Join(name), dst.Join(name), childKeys); err != nil {
				return err
			}
			continue
		}
		if err := b.moveSecret(ctx, src.Join(key), dst.Join(key)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) writeContent(ctx context.Context, p fs.Path, content []byte) error {
	return b.writeEncoded(ctx, p, base64.StdEncoding.EncodeToString(content))
}

func (b *Backend) writeEncoded(ctx context.Context, p fs.Path, encoded string) error {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"content": encoded,
		},
	}
	if _, err := b.logical.WriteWithContext(ctx, b.dataPath(p.Name), payload); err != nil {
		return &fs.PathError{Op: "create", Path: p.String(), Err: fmt.Errorf("failed to write secret: %w", err)}
	}
	return nil
}

func (b *Backend) Mkdirs(ctx context.Context, p fs.Path, _ fs.Permission) error {
	if p.Name == "/" {
		return nil
	}

	st, err := b.Stat(ctx, p)
	if err == nil {
		if st.IsDir {
			return nil
		}
		return &fs.PathError{Op: "mkdirs", Path: p.String(), Err: fs.ErrNotDirectory}
	}
	if !errors.Is(err, fs.ErrNotFound) {
		return err
	}

	return b.writeContent(ctx, p.Join(dirMarker), nil)
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

// secretWriter buffers writes and stores the secret when closed.
type secretWriter struct {
	ctx    context.Context
	b      *Backend
	path   fs.Path
	buf    bytes.Buffer
	closed bool
}

func (w *secretWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, &fs.PathError{Op: "write", Path: w.path.String(), Err: fs.ErrClosed}
	}
	return w.buf.Write(p)
}

func (w *secretWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	start := time.Now()
	if err := w.b.writeContent(w.ctx, w.path, w.buf.Bytes()); err != nil {
		return err
	}

	w.b.log.Debug("stored secret",
		slog.String("path", w.path.Name),
		slog.Int("size", w.buf.Len()),
		slog.Duration("duration", time.Since(start)))
	return nil
}
