package vaultfs

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stratusworks/fsmux/fs"
)

type mockLogical struct {
	mock.Mock
}

func (m *mockLogical) ReadWithContext(ctx context.Context, path string) (*api.Secret, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.Secret), args.Error(1)
}

func (m *mockLogical) WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*api.Secret, error) {
	args := m.Called(ctx, path, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.Secret), args.Error(1)
}

func (m *mockLogical) ListWithContext(ctx context.Context, path string) (*api.Secret, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.Secret), args.Error(1)
}

func (m *mockLogical) DeleteWithContext(ctx context.Context, path string) (*api.Secret, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.Secret), args.Error(1)
}

func newTestBackend(t *testing.T) (*Backend, *mockLogical) {
	t.Helper()
	logical := &mockLogical{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWithLogical(logical, "secret", "vault.test:8200", logger), logical
}

// kvSecret builds a KV v2 read response carrying content, encoded the way
// the backend stores it.
func kvSecret(content string) *api.Secret {
	return &api.Secret{Data: map[string]interface{}{
		"data":     map[string]interface{}{"content": base64.StdEncoding.EncodeToString([]byte(content))},
		"metadata": map[string]interface{}{"created_time": "2024-03-01T10:00:00Z"},
	}}
}

// kvKeys builds a KV v2 list response.
func kvKeys(keys ...string) *api.Secret {
	raw := make([]interface{}, len(keys))
	for i, k := range keys {
		raw[i] = k
	}
	return &api.Secret{Data: map[string]interface{}{"keys": raw}}
}

// payloadWith matches a KV v2 write payload by its decoded content field.
func payloadWith(content string) interface{} {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	return mock.MatchedBy(func(data map[string]interface{}) bool {
		inner, ok := data["data"].(map[string]interface{})
		return ok && inner["content"] == encoded
	})
}

func TestStatFile(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/db/pass").Return(kvSecret("hunter2"), nil)

	st, err := b.Stat(context.Background(), fs.MustPath("vault://vault.test:8200/db/pass"))
	require.NoError(t, err)
	assert.False(t, st.IsDir)
	assert.Equal(t, int64(7), st.Size)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), st.ModTime.UTC())
}

func TestStatDirectoryFromKeys(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/app").Return(nil, nil)
	logical.On("ListWithContext", mock.Anything, "secret/metadata/app").Return(kvKeys("a", "b/"), nil)

	st, err := b.Stat(context.Background(), fs.MustPath("vault://vault.test:8200/app"))
	require.NoError(t, err)
	assert.True(t, st.IsDir)
}

func TestStatMissing(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, mock.Anything).Return(nil, nil)
	logical.On("ListWithContext", mock.Anything, mock.Anything).Return(nil, nil)

	_, err := b.Stat(context.Background(), fs.MustPath("vault://vault.test:8200/missing"))
	assert.ErrorIs(t, err, fs.ErrNotFound)
}

func TestOpenReadsContent(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/db/pass").Return(kvSecret("hunter2"), nil)

	r, err := b.Open(context.Background(), fs.MustPath("vault://vault.test:8200/db/pass"))
	require.NoError(t, err)
	defer r.Close()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(content))
}

func TestCreateStoresOnClose(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/new").Return(nil, nil)
	logical.On("ListWithContext", mock.Anything, "secret/metadata/new").Return(nil, nil)
	logical.On("WriteWithContext", mock.Anything, "secret/data/new", payloadWith("s3cr3t")).
		Return(nil, nil).Once()

	w, err := b.Create(context.Background(), fs.MustPath("vault://vault.test:8200/new"), fs.CreateOptions{})
	require.NoError(t, err)
	_, err = w.Write([]byte("s3cr3t"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// A second close must not write again.
	require.NoError(t, w.Close())
	logical.AssertExpectations(t)
}

func TestContentSurvivesArbitraryBytes(t *testing.T) {
	raw := string([]byte{0x00, 0xff, 0x10, 0x80})

	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/blob").Return(kvSecret(raw), nil)

	r, err := b.Open(context.Background(), fs.MustPath("vault://vault.test:8200/blob"))
	require.NoError(t, err)
	defer r.Close()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte(raw), content)

	st, err := b.Stat(context.Background(), fs.MustPath("vault://vault.test:8200/blob"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Size)
}

func TestCreateExclusive(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/f").Return(kvSecret("v"), nil)

	_, err := b.Create(context.Background(), fs.MustPath("vault://vault.test:8200/f"), fs.CreateOptions{})
	assert.ErrorIs(t, err, fs.ErrExist)
	logical.AssertNotCalled(t, "WriteWithContext", mock.Anything, mock.Anything, mock.Anything)
}

func TestAppendUnsupported(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.Append(context.Background(), fs.MustPath("vault://vault.test:8200/f"))
	assert.ErrorIs(t, err, fs.ErrUnsupported)
}

func TestListHidesMarkerAndStatsChildren(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/app").Return(nil, nil)
	logical.On("ListWithContext", mock.Anything, "secret/metadata/app").
		Return(kvKeys(dirMarker, "config", "sub/"), nil)
	logical.On("ReadWithContext", mock.Anything, "secret/data/app/config").Return(kvSecret("x"), nil)

	entries, err := b.List(context.Background(), fs.MustPath("vault://vault.test:8200/app"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "vault://vault.test:8200/app/config", entries[0].Path.String())
	assert.Equal(t, int64(1), entries[0].Size)
	assert.Equal(t, "vault://vault.test:8200/app/sub", entries[1].Path.String())
	assert.True(t, entries[1].IsDir)
}

func TestListSkipsSoftDeletedSecrets(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/app").Return(nil, nil)
	logical.On("ListWithContext", mock.Anything, "secret/metadata/app").Return(kvKeys("gone", "here"), nil)
	// A soft-deleted version reads back with a nil data map.
	logical.On("ReadWithContext", mock.Anything, "secret/data/app/gone").
		Return(&api.Secret{Data: map[string]interface{}{"data": nil}}, nil)
	logical.On("ListWithContext", mock.Anything, "secret/metadata/app/gone").Return(nil, nil)
	logical.On("ReadWithContext", mock.Anything, "secret/data/app/here").Return(kvSecret("v"), nil)

	entries, err := b.List(context.Background(), fs.MustPath("vault://vault.test:8200/app"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "vault://vault.test:8200/app/here", entries[0].Path.String())
}

func TestDeleteFileDestroysMetadata(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/f").Return(kvSecret("v"), nil)
	logical.On("DeleteWithContext", mock.Anything, "secret/metadata/f").Return(nil, nil).Once()

	ok, err := b.Delete(context.Background(), fs.MustPath("vault://vault.test:8200/f"), false)
	require.NoError(t, err)
	assert.True(t, ok)
	logical.AssertExpectations(t)
}

func TestDeleteMissingReportsFalse(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, mock.Anything).Return(nil, nil)
	logical.On("ListWithContext", mock.Anything, mock.Anything).Return(nil, nil)

	ok, err := b.Delete(context.Background(), fs.MustPath("vault://vault.test:8200/missing"), false)
	require.NoError(t, err)
	assert.False(t, ok)
	logical.AssertNotCalled(t, "DeleteWithContext", mock.Anything, mock.Anything)
}

func TestDeleteNonEmptyDirectoryNeedsRecursive(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/d").Return(nil, nil)
	logical.On("ListWithContext", mock.Anything, "secret/metadata/d").Return(kvKeys("x"), nil)

	_, err := b.Delete(context.Background(), fs.MustPath("vault://vault.test:8200/d"), false)
	assert.ErrorIs(t, err, fs.ErrNotEmpty)
	logical.AssertNotCalled(t, "DeleteWithContext", mock.Anything, mock.Anything)
}

func TestDeleteRecursiveWalksTree(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/d").Return(nil, nil)
	logical.On("ListWithContext", mock.Anything, "secret/metadata/d").Return(kvKeys("f", "sub/"), nil)
	logical.On("ListWithContext", mock.Anything, "secret/metadata/d/sub").Return(kvKeys("g"), nil)
	logical.On("DeleteWithContext", mock.Anything, "secret/metadata/d/f").Return(nil, nil).Once()
	logical.On("DeleteWithContext", mock.Anything, "secret/metadata/d/sub/g").Return(nil, nil).Once()

	ok, err := b.Delete(context.Background(), fs.MustPath("vault://vault.test:8200/d"), true)
	require.NoError(t, err)
	assert.True(t, ok)
	logical.AssertExpectations(t)
}

func TestRenameRewritesSecret(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/b").Return(nil, nil)
	logical.On("ListWithContext", mock.Anything, "secret/metadata/b").Return(nil, nil)
	logical.On("ReadWithContext", mock.Anything, "secret/data/a").Return(kvSecret("v"), nil)
	logical.On("WriteWithContext", mock.Anything, "secret/data/b", payloadWith("v")).
		Return(nil, nil).Once()
	logical.On("DeleteWithContext", mock.Anything, "secret/metadata/a").Return(nil, nil).Once()

	err := b.Rename(context.Background(),
		fs.MustPath("vault://vault.test:8200/a"), fs.MustPath("vault://vault.test:8200/b"))
	require.NoError(t, err)
	logical.AssertExpectations(t)
}

func TestRenameRefusesExistingTarget(t *testing.T) {
	b, logical := newTestBackend(t)
	logical.On("ReadWithContext", mock.Anything, "secret/data/b").Return(kvSecret("w"), nil)

	err := b.Rename(context.Background(),
		fs.MustPath("vault://vault.test:8200/a"), fs.MustPath("vault://vault.test:8200/b"))
	assert.ErrorIs(t, err, fs.ErrExist)
	logical.AssertNotCalled(t, "WriteWithContext", mock.Anything, mock.Anything, mock.Anything)
}

func TestMkdirs(t *testing.T) {
	ctx := context.Background()

	t.Run("writes hidden marker", func(t *testing.T) {
		b, logical := newTestBackend(t)
		logical.On("ReadWithContext", mock.Anything, "secret/data/d").Return(nil, nil)
		logical.On("ListWithContext", mock.Anything, "secret/metadata/d").Return(nil, nil)
		logical.On("WriteWithContext", mock.Anything, "secret/data/d/.keep", payloadWith("")).
			Return(nil, nil).Once()

		require.NoError(t, b.Mkdirs(ctx, fs.MustPath("vault://vault.test:8200/d"), 0))
		logical.AssertExpectations(t)
	})

	t.Run("existing directory is fine", func(t *testing.T) {
		b, logical := newTestBackend(t)
		logical.On("ReadWithContext", mock.Anything, "secret/data/d").Return(nil, nil)
		logical.On("ListWithContext", mock.Anything, "secret/metadata/d").Return(kvKeys("x"), nil)

		require.NoError(t, b.Mkdirs(ctx, fs.MustPath("vault://vault.test:8200/d"), 0))
		logical.AssertNotCalled(t, "WriteWithContext", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("file in the way", func(t *testing.T) {
		b, logical := newTestBackend(t)
		logical.On("ReadWithContext", mock.Anything, "secret/data/f").Return(kvSecret("v"), nil)

		err := b.Mkdirs(ctx, fs.MustPath("vault://vault.test:8200/f"), 0)
		assert.ErrorIs(t, err, fs.ErrNotDirectory)
	})
}

func TestSettersUnsupported(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	p := fs.MustPath("vault://vault.test:8200/f")

	assert.ErrorIs(t, b.SetPermission(ctx, p, 0o644), fs.ErrUnsupported)
	assert.ErrorIs(t, b.SetOwner(ctx, p, "u", "g"), fs.ErrUnsupported)
	assert.ErrorIs(t, b.SetTimes(ctx, p, time.Now(), time.Time{}), fs.ErrUnsupported)
}

func TestFactoryRequiresAuthority(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := Factory(Options{}, logger)

	_, err := factory(context.Background(), fs.MustPath("vault:///x"))
	assert.ErrorContains(t, err, "server authority")
}
