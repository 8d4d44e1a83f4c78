package fsmux

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/stratusworks/fsmux/fs"
)

// mockBackend implements fs.Backend for tests that assert on delegation,
// teardown and failure behavior. Identity and the defaults are plain values;
// everything else goes through testify expectations.
type mockBackend struct {
	mock.Mock
	id fs.Path
}

func newMockBackend(id string) *mockBackend {
	return &mockBackend{id: fs.MustPath(id)}
}

func (m *mockBackend) Identity() fs.Path { return m.id }

func (m *mockBackend) DefaultBlockSize() int64 { return 4 * 1024 * 1024 }

func (m *mockBackend) DefaultReplication() int { return 1 }

func (m *mockBackend) Open(ctx context.Context, p fs.Path) (io.ReadCloser, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *mockBackend) Create(ctx context.Context, p fs.Path, opts fs.CreateOptions) (io.WriteCloser, error) {
	args := m.Called(ctx, p, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

func (m *mockBackend) Append(ctx context.Context, p fs.Path) (io.WriteCloser, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

func (m *mockBackend) List(ctx context.Context, p fs.Path) ([]fs.FileStatus, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fs.FileStatus), args.Error(1)
}

func (m *mockBackend) Stat(ctx context.Context, p fs.Path) (fs.FileStatus, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(fs.FileStatus), args.Error(1)
}

func (m *mockBackend) Delete(ctx context.Context, p fs.Path, recursive bool) (bool, error) {
	args := m.Called(ctx, p, recursive)
	return args.Bool(0), args.Error(1)
}

func (m *mockBackend) Rename(ctx context.Context, src, dst fs.Path) error {
	return m.Called(ctx, src, dst).Error(0)
}

func (m *mockBackend) Mkdirs(ctx context.Context, p fs.Path, perm fs.Permission) error {
	return m.Called(ctx, p, perm).Error(0)
}

func (m *mockBackend) SetPermission(ctx context.Context, p fs.Path, perm fs.Permission) error {
	return m.Called(ctx, p, perm).Error(0)
}

func (m *mockBackend) SetOwner(ctx context.Context, p fs.Path, owner, group string) error {
	return m.Called(ctx, p, owner, group).Error(0)
}

func (m *mockBackend) SetTimes(ctx context.Context, p fs.Path, mtime, atime time.Time) error {
	return m.Called(ctx, p, mtime, atime).Error(0)
}

func (m *mockBackend) Close() error {
	return m.Called().Error(0)
}
