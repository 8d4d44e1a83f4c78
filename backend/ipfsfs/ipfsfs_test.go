package ipfsfs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stratusworks/fsmux/fs"
)

var errDoesNotExist = errors.New("files/stat: file does not exist")

type mockClient struct {
	mock.Mock
}

func (m *mockClient) FilesLs(ctx context.Context, path string, _ ...shell.FilesOpt) ([]*shell.MfsLsEntry, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*shell.MfsLsEntry), args.Error(1)
}

func (m *mockClient) FilesStat(ctx context.Context, path string, _ ...shell.FilesOpt) (*shell.FilesStatObject, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shell.FilesStatObject), args.Error(1)
}

func (m *mockClient) FilesRead(ctx context.Context, path string, _ ...shell.FilesOpt) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// FilesWrite drains the data reader so expectations can match on content.
func (m *mockClient) FilesWrite(ctx context.Context, path string, data io.Reader, _ ...shell.FilesOpt) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	args := m.Called(ctx, path, string(content))
	return args.Error(0)
}

func (m *mockClient) FilesMv(ctx context.Context, src, dst string) error {
	args := m.Called(ctx, src, dst)
	return args.Error(0)
}

func (m *mockClient) FilesRm(ctx context.Context, path string, force bool) error {
	args := m.Called(ctx, path, force)
	return args.Error(0)
}

func (m *mockClient) FilesMkdir(ctx context.Context, path string, _ ...shell.FilesOpt) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func newTestBackend(t *testing.T) (*Backend, *mockClient) {
	t.Helper()
	client := &mockClient{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWithClient(client, "127.0.0.1:5001", logger), client
}

func fileStat(size uint64) *shell.FilesStatObject {
	return &shell.FilesStatObject{Type: "file", Size: size, Hash: "QmTest"}
}

func dirStat() *shell.FilesStatObject {
	return &shell.FilesStatObject{Type: "directory", Hash: "QmDir"}
}

func TestStatFileAndDirectory(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/f.txt").Return(fileStat(5), nil)
	client.On("FilesStat", mock.Anything, "/d").Return(dirStat(), nil)

	st, err := b.Stat(context.Background(), fs.MustPath("ipfs://127.0.0.1:5001/f.txt"))
	require.NoError(t, err)
	assert.False(t, st.IsDir)
	assert.Equal(t, int64(5), st.Size)
	assert.Equal(t, "ipfs://127.0.0.1:5001/f.txt", st.Path.String())

	st, err = b.Stat(context.Background(), fs.MustPath("ipfs://127.0.0.1:5001/d"))
	require.NoError(t, err)
	assert.True(t, st.IsDir)
}

func TestStatMissing(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/missing").Return(nil, errDoesNotExist)

	_, err := b.Stat(context.Background(), fs.MustPath("ipfs://127.0.0.1:5001/missing"))
	assert.ErrorIs(t, err, fs.ErrNotFound)
}

func TestOpenReadsFile(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/f").Return(fileStat(4), nil)
	client.On("FilesRead", mock.Anything, "/f").
		Return(io.NopCloser(strings.NewReader("data")), nil)

	r, err := b.Open(context.Background(), fs.MustPath("ipfs://127.0.0.1:5001/f"))
	require.NoError(t, err)
	defer r.Close()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))
}

func TestOpenDirectoryFails(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/d").Return(dirStat(), nil)

	_, err := b.Open(context.Background(), fs.MustPath("ipfs://127.0.0.1:5001/d"))
	assert.ErrorIs(t, err, fs.ErrIsDirectory)
	client.AssertNotCalled(t, "FilesRead", mock.Anything, mock.Anything)
}

func TestCreateWritesOnClose(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/out.txt").Return(nil, errDoesNotExist)
	client.On("FilesWrite", mock.Anything, "/out.txt", "payload").Return(nil).Once()

	w, err := b.Create(context.Background(), fs.MustPath("ipfs://127.0.0.1:5001/out.txt"), fs.CreateOptions{})
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// A second close must not write again.
	require.NoError(t, w.Close())
	client.AssertExpectations(t)
}

func TestCreateExclusive(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/f").Return(fileStat(1), nil)

	_, err := b.Create(context.Background(), fs.MustPath("ipfs://127.0.0.1:5001/f"), fs.CreateOptions{})
	assert.ErrorIs(t, err, fs.ErrExist)
	client.AssertNotCalled(t, "FilesWrite", mock.Anything, mock.Anything, mock.Anything)
}

func TestAppendExtendsFile(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/log").Return(fileStat(3), nil)
	client.On("FilesWrite", mock.Anything, "/log", " more").Return(nil).Once()

	w, err := b.Append(context.Background(), fs.MustPath("ipfs://127.0.0.1:5001/log"))
	require.NoError(t, err)
	_, err = w.Write([]byte(" more"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	client.AssertExpectations(t)
}

func TestAppendMissingFile(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/missing").Return(nil, errDoesNotExist)

	_, err := b.Append(context.Background(), fs.MustPath("ipfs://127.0.0.1:5001/missing"))
	assert.ErrorIs(t, err, fs.ErrNotFound)
}

func TestListSortedAndQualified(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/d").Return(dirStat(), nil)
	client.On("FilesLs", mock.Anything, "/d").Return([]*shell.MfsLsEntry{
		{Name: "b.txt", Type: mfsFile, Size: 2},
		{Name: "a", Type: mfsDirectory},
	}, nil)

	entries, err := b.List(context.Background(), fs.MustPath("ipfs://127.0.0.1:5001/d"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ipfs://127.0.0.1:5001/d/a", entries[0].Path.String())
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "ipfs://127.0.0.1:5001/d/b.txt", entries[1].Path.String())
	assert.Equal(t, int64(2), entries[1].Size)
}

func TestListFileFails(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/f").Return(fileStat(1), nil)

	_, err := b.List(context.Background(), fs.MustPath("ipfs://127.0.0.1:5001/f"))
	assert.ErrorIs(t, err, fs.ErrNotDirectory)
	client.AssertNotCalled(t, "FilesLs", mock.Anything, mock.Anything)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("missing path reports false", func(t *testing.T) {
		b, client := newTestBackend(t)
		client.On("FilesStat", mock.Anything, "/missing").Return(nil, errDoesNotExist)

		ok, err := b.Delete(ctx, fs.MustPath("ipfs://127.0.0.1:5001/missing"), false)
		require.NoError(t, err)
		assert.False(t, ok)
		client.AssertNotCalled(t, "FilesRm", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("file", func(t *testing.T) {
		b, client := newTestBackend(t)
		client.On("FilesStat", mock.Anything, "/f").Return(fileStat(1), nil)
		client.On("FilesRm", mock.Anything, "/f", true).Return(nil).Once()

		ok, err := b.Delete(ctx, fs.MustPath("ipfs://127.0.0.1:5001/f"), false)
		require.NoError(t, err)
		assert.True(t, ok)
		client.AssertExpectations(t)
	})

	t.Run("non-empty directory needs recursive", func(t *testing.T) {
		b, client := newTestBackend(t)
		client.On("FilesStat", mock.Anything, "/d").Return(dirStat(), nil)
		client.On("FilesLs", mock.Anything, "/d").
			Return([]*shell.MfsLsEntry{{Name: "x", Type: mfsFile}}, nil)

		_, err := b.Delete(ctx, fs.MustPath("ipfs://127.0.0.1:5001/d"), false)
		assert.ErrorIs(t, err, fs.ErrNotEmpty)
		client.AssertNotCalled(t, "FilesRm", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("recursive directory", func(t *testing.T) {
		b, client := newTestBackend(t)
		client.On("FilesStat", mock.Anything, "/d").Return(dirStat(), nil)
		client.On("FilesRm", mock.Anything, "/d", true).Return(nil).Once()

		ok, err := b.Delete(ctx, fs.MustPath("ipfs://127.0.0.1:5001/d"), true)
		require.NoError(t, err)
		assert.True(t, ok)
		client.AssertExpectations(t)
	})
}

func TestRename(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/b").Return(nil, errDoesNotExist)
	client.On("FilesMv", mock.Anything, "/a", "/b").Return(nil).Once()

	err := b.Rename(context.Background(),
		fs.MustPath("ipfs://127.0.0.1:5001/a"), fs.MustPath("ipfs://127.0.0.1:5001/b"))
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestRenameRefusesExistingTarget(t *testing.T) {
	b, client := newTestBackend(t)
	client.On("FilesStat", mock.Anything, "/b").Return(fileStat(1), nil)

	err := b.Rename(context.Background(),
		fs.MustPath("ipfs://127.0.0.1:5001/a"), fs.MustPath("ipfs://127.0.0.1:5001/b"))
	assert.ErrorIs(t, err, fs.ErrExist)
	client.AssertNotCalled(t, "FilesMv", mock.Anything, mock.Anything, mock.Anything)
}

func TestMkdirs(t *testing.T) {
	ctx := context.Background()

	t.Run("creates with parents", func(t *testing.T) {
		b, client := newTestBackend(t)
		client.On("FilesMkdir", mock.Anything, "/a/b").Return(nil).Once()

		require.NoError(t, b.Mkdirs(ctx, fs.MustPath("ipfs://127.0.0.1:5001/a/b"), 0))
		client.AssertExpectations(t)
	})

	t.Run("existing directory is fine", func(t *testing.T) {
		b, client := newTestBackend(t)
		client.On("FilesMkdir", mock.Anything, "/d").
			Return(errors.New("files/mkdir: file already exists"))
		client.On("FilesStat", mock.Anything, "/d").Return(dirStat(), nil)

		require.NoError(t, b.Mkdirs(ctx, fs.MustPath("ipfs://127.0.0.1:5001/d"), 0))
	})

	t.Run("file in the way", func(t *testing.T) {
		b, client := newTestBackend(t)
		client.On("FilesMkdir", mock.Anything, "/f").
			Return(errors.New("files/mkdir: file already exists"))
		client.On("FilesStat", mock.Anything, "/f").Return(fileStat(1), nil)

		err := b.Mkdirs(ctx, fs.MustPath("ipfs://127.0.0.1:5001/f"), 0)
		assert.ErrorIs(t, err, fs.ErrNotDirectory)
	})
}

func TestSettersUnsupported(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()
	p := fs.MustPath("ipfs://127.0.0.1:5001/f")

	assert.ErrorIs(t, b.SetPermission(ctx, p, 0o644), fs.ErrUnsupported)
	assert.ErrorIs(t, b.SetOwner(ctx, p, "u", "g"), fs.ErrUnsupported)
	assert.ErrorIs(t, b.SetTimes(ctx, p, time.Now(), time.Time{}), fs.ErrUnsupported)
}

func TestFactoryRequiresAuthority(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := Factory(logger)

	_, err := factory(context.Background(), fs.MustPath("ipfs:///x"))
	assert.ErrorContains(t, err, "host:port authority")
}
