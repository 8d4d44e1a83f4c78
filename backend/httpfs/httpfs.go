// Package httpfs provides the read-only fs.Backend for plain web servers,
// serving http:// and https:// URIs.
//
// Open issues a GET and streams the response body, Stat issues a HEAD and
// reads Content-Length and Last-Modified. Web servers expose no directory
// contract, so List and every mutating operation are unsupported.
package httpfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stratusworks/fsmux/fs"
)

const defaultBlockSize = 4 * 1024 * 1024

// Backend serves one host over HTTP or HTTPS.
type Backend struct {
	client *http.Client
	id     fs.Path
	log    *slog.Logger
}

// New creates a backend for scheme://authority. A nil client gets a default
// with a 30 second timeout.
func New(scheme, authority string, client *http.Client, log *slog.Logger) *Backend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Backend{
		client: client,
		id:     fs.Path{Scheme: scheme, Authority: authority, Name: "/"},
		log:    log,
	}
}

// Factory adapts New for Mux registration. Register it for both "http" and
// "https"; the URI keeps its scheme.
func Factory(client *http.Client, log *slog.Logger) fs.Factory {
	return func(_ context.Context, uri fs.Path) (fs.Backend, error) {
		if uri.Authority == "" {
			return nil, fmt.Errorf("http URIs need a host authority: %s", uri)
		}
		return New(uri.Scheme, uri.Authority, client, log), nil
	}
}

func (b *Backend) Identity() fs.Path { return b.id }

func (b *Backend) DefaultBlockSize() int64 { return defaultBlockSize }

func (b *Backend) DefaultReplication() int { return 1 }

func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	b.log.Debug("closing http backend", slog.String("host", b.id.Authority))
	return nil
}

func unsupported(op string, p fs.Path) error {
	return &fs.PathError{Op: op, Path: p.String(), Err: fs.ErrUnsupported}
}

// statusErr maps an HTTP response status onto the backend error taxonomy.
func statusErr(op string, p fs.Path, resp *http.Response) error {
	var cause error
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		cause = fs.ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		cause = fs.ErrPermission
	default:
		cause = fmt.Errorf("server returned %s", resp.Status)
	}
	return &fs.PathError{Op: op, Path: p.String(), Err: cause}
}

func (b *Backend) Open(ctx context.Context, p fs.Path) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.String(), nil)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: p.String(), Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: p.String(), Err: fmt.Errorf("failed to send request: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusErr("open", p, resp)
	}
	return resp.Body, nil
}

func (b *Backend) Stat(ctx context.Context, p fs.Path) (fs.FileStatus, error) {
	resp, err := b.head(ctx, p)
	if err != nil {
		return fs.FileStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fs.FileStatus{}, statusErr("stat", p, resp)
	}

	st := fs.FileStatus{
		Path:        p,
		IsDir:       p.Name == "/",
		Replication: 1,
		BlockSize:   defaultBlockSize,
		Perm:        fs.DefaultFilePerm,
	}
	if st.IsDir {
		st.Perm = fs.DefaultDirPerm
	} else if resp.ContentLength > 0 {
		st.Size = resp.ContentLength
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			st.ModTime = t
		}
	}
	return st, nil
}

// head sends a HEAD request, falling back to a drained GET for servers that
// do not implement HEAD.
func (b *Backend) head(ctx context.Context, p fs.Path) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.String(), nil)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: p.String(), Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: p.String(), Err: fmt.Errorf("failed to send request: %w", err)}
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		return resp, nil
	}
	resp.Body.Close()

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.String(), nil)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: p.String(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	resp, err = b.client.Do(req)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: p.String(), Err: fmt.Errorf("failed to send request: %w", err)}
	}
	return resp, nil
}

func (b *Backend) List(_ context.Context, p fs.Path) ([]fs.FileStatus, error) {
	return nil, unsupported("list", p)
}

func (b *Backend) Create(_ context.Context, p fs.Path, _ fs.CreateOptions) (io.WriteCloser, error) {
	return nil, unsupported("create", p)
}

func (b *Backend) Append(_ context.Context, p fs.Path) (io.WriteCloser, error) {
	return nil, unsupported("append", p)
}

func (b *Backend) Delete(_ context.Context, p fs.Path, _ bool) (bool, error) {
	return false, unsupported("delete", p)
}

func (b *Backend) Rename(_ context.Context, src, _ fs.Path) error {
	return unsupported("rename", src)
}

func (b *Backend) Mkdirs(_ context.Context, p fs.Path, _ fs.Permission) error {
	return unsupported("mkdirs", p)
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
