package httpfs

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratusworks/fsmux/fs"
)

// newTestBackend starts a test server and returns a backend addressing it.
func newTestBackend(t *testing.T, handler http.Handler) (*Backend, fs.Path) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New("http", u.Host, srv.Client(), logger)
	return b, b.Identity()
}

func TestOpenStreamsBody(t *testing.T) {
	b, id := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/files/report.csv", r.URL.Path)
		io.WriteString(w, "a,b,c\n")
	}))

	r, err := b.Open(context.Background(), id.Join("files").Join("report.csv"))
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c\n", string(data))
}

func TestOpenMapsStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"missing", http.StatusNotFound, fs.ErrNotFound},
		{"gone", http.StatusGone, fs.ErrNotFound},
		{"forbidden", http.StatusForbidden, fs.ErrPermission},
		{"unauthorized", http.StatusUnauthorized, fs.ErrPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, id := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			_, err := b.Open(context.Background(), id.Join("f"))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpenServerError(t *testing.T) {
	b, id := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := b.Open(context.Background(), id.Join("f"))
	assert.ErrorContains(t, err, "server returned")
}

func TestStatReadsHeaders(t *testing.T) {
	modified := time.Date(2024, 5, 4, 3, 2, 1, 0, time.UTC)
	b, id := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "123")
		w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
	}))

	st, err := b.Stat(context.Background(), id.Join("data.bin"))
	require.NoError(t, err)
	assert.False(t, st.IsDir)
	assert.Equal(t, int64(123), st.Size)
	assert.True(t, st.ModTime.Equal(modified))
}

func TestStatFallsBackToGet(t *testing.T) {
	var sawGet bool
	b, id := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sawGet = true
		w.Header().Set("Content-Length", "2")
		io.WriteString(w, "ok")
	}))

	st, err := b.Stat(context.Background(), id.Join("f"))
	require.NoError(t, err)
	assert.True(t, sawGet)
	assert.Equal(t, int64(2), st.Size)
}

func TestStatMissing(t *testing.T) {
	b, id := newTestBackend(t, http.NotFoundHandler())

	_, err := b.Stat(context.Background(), id.Join("missing"))
	assert.ErrorIs(t, err, fs.ErrNotFound)
}

func TestStatRootIsDirectory(t *testing.T) {
	b, id := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "index")
	}))

	st, err := b.Stat(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, st.IsDir)
}

func TestWritesAndListingUnsupported(t *testing.T) {
	b, id := newTestBackend(t, http.NotFoundHandler())
	ctx := context.Background()
	p := id.Join("f")

	_, err := b.List(ctx, p)
	assert.ErrorIs(t, err, fs.ErrUnsupported)
	_, err = b.Create(ctx, p, fs.CreateOptions{})
	assert.ErrorIs(t, err, fs.ErrUnsupported)
	_, err = b.Append(ctx, p)
	assert.ErrorIs(t, err, fs.ErrUnsupported)
	_, err = b.Delete(ctx, p, true)
	assert.ErrorIs(t, err, fs.ErrUnsupported)
	assert.ErrorIs(t, b.Rename(ctx, p, id.Join("g")), fs.ErrUnsupported)
	assert.ErrorIs(t, b.Mkdirs(ctx, p, 0), fs.ErrUnsupported)
	assert.ErrorIs(t, b.SetPermission(ctx, p, 0o644), fs.ErrUnsupported)
	assert.ErrorIs(t, b.SetOwner(ctx, p, "u", "g"), fs.ErrUnsupported)
	assert.ErrorIs(t, b.SetTimes(ctx, p, time.Now(), time.Time{}), fs.ErrUnsupported)
}

func TestFactoryKeepsScheme(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := Factory(nil, logger)

	backend, err := factory(context.Background(), fs.MustPath("https://example.com/a"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", backend.Identity().String())

	_, err = factory(context.Background(), fs.MustPath("http:///a"))
	assert.ErrorContains(t, err, "host authority")
}

func TestOpenHonorsContext(t *testing.T) {
	release := make(chan struct{})
	b, id := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.Open(ctx, id.Join("slow"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to send request")

	var perr *fs.PathError
	require.ErrorAs(t, err, &perr)
	assert.True(t, strings.Contains(perr.Err.Error(), "deadline") || strings.Contains(perr.Err.Error(), "canceled"))
}
