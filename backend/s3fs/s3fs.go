// Package s3fs provides the fs.Backend for Amazon S3 and S3-compatible
// object stores, one bucket per backend instance.
//
// The object store is flat, so directories are synthesized: a path is a
// directory when a zero-byte marker object with a trailing slash exists or
// when any object lives under its prefix. Append and the permission and
// time setters are unsupported, and Rename is a server-side copy followed
// by a delete.
package s3fs

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

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/stratusworks/fsmux/fs"
)

const defaultBlockSize = 64 * 1024 * 1024

// Client is the slice of the S3 API the backend calls. *s3.S3 satisfies it;
// tests substitute a mock.
type Client interface {
	GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	HeadObjectWithContext(ctx aws.Context, in *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
	CopyObjectWithContext(ctx aws.Context, in *s3.CopyObjectInput, opts ...request.Option) (*s3.CopyObjectOutput, error)
	DeleteObjectWithContext(ctx aws.Context, in *s3.DeleteObjectInput, opts ...request.Option) (*s3.DeleteObjectOutput, error)
	ListObjectsV2WithContext(ctx aws.Context, in *s3.ListObjectsV2Input, opts ...request.Option) (*s3.ListObjectsV2Output, error)
}

// Options configure the AWS session. Empty credentials fall back to the
// SDK's ambient credential chain (environment, shared config, instance
// role), which is the usual deployment mode.
type Options struct {
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// Backend serves one bucket. The bucket name doubles as the URI authority.
type Backend struct {
	client Client
	bucket string
	id     fs.Path
	log    *slog.Logger
}

// New creates a backend for the given bucket.
func New(bucket string, opts Options, log *slog.Logger) (*Backend, error) {
	cfg := aws.Config{
		Region: aws.String(opts.Region),
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}
	if opts.ForcePathStyle {
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	} else {
		log.Debug("no static S3 credentials configured, using the ambient credential chain")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewWithClient(s3.New(sess), bucket, log), nil
}

// NewWithClient wires an existing client, for tests and custom endpoints.
func NewWithClient(client Client, bucket string, log *slog.Logger) *Backend {
	return &Backend{
		client: client,
		bucket: bucket,
		id:     fs.Path{Scheme: "s3", Authority: bucket, Name: "/"},
		log:    log,
	}
}

// Factory adapts New for Mux registration, taking the bucket from the URI
// authority.
func Factory(opts Options, log *slog.Logger) fs.Factory {
	return func(_ context.Context, uri fs.Path) (fs.Backend, error) {
		if uri.Authority == "" {
			return nil, fmt.Errorf("s3 URIs need a bucket authority: %s", uri)
		}
		return New(uri.Authority, opts, log)
	}
}

func (b *Backend) Identity() fs.Path { return b.id }

func (b *Backend) DefaultBlockSize() int64 { return defaultBlockSize }

func (b *Backend) DefaultReplication() int { return 1 }

func (b *Backend) Close() error {
	b.log.Debug("closing s3 backend", slog.String("bucket", b.bucket))
	return nil
}

// objectKey maps a path name onto an object key, "" for the root.
func objectKey(p fs.Path) string {
	return strings.TrimPrefix(p.Name, "/")
}

// dirPrefix is the listing prefix for a directory key.
func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

func (b *Backend) pathFor(key string) fs.Path {
	return fs.Path{Scheme: b.id.Scheme, Authority: b.id.Authority, Name: "/" + strings.TrimSuffix(key, "/")}
}

// isNotFound sniffs the SDK's not-found shapes.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound") || strings.Contains(msg, "404")
}

func (b *Backend) wrapErr(op string, p fs.Path, err error) error {
	if isNotFound(err) {
		return &fs.PathError{Op: op, Path: p.String(), Err: fs.ErrNotFound}
	}
	return &fs.PathError{Op: op, Path: p.String(), Err: err}
}

func unsupported(op string, p fs.Path) error {
	return &fs.PathError{Op: op, Path: p.String(), Err: fs.ErrUnsupported}
}

func (b *Backend) fileStatus(p fs.Path, size int64, modTime time.Time) fs.FileStatus {
	return fs.FileStatus{
		Path:        p,
		Size:        size,
		Replication: 1,
		BlockSize:   defaultBlockSize,
		ModTime:     modTime,
		Perm:        fs.DefaultFilePerm,
	}
}

func (b *Backend) dirStatus(p fs.Path) fs.FileStatus {
	return fs.FileStatus{
		Path:      p,
		IsDir:     true,
		BlockSize: defaultBlockSize,
		Perm:      fs.DefaultDirPerm,
	}
}

func (b *Backend) Stat(ctx context.Context, p fs.Path) (fs.FileStatus, error) {
	key := objectKey(p)
	if key == "" {
		return b.dirStatus(p), nil
	}

	head, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return b.fileStatus(p, aws.Int64Value(head.ContentLength), aws.TimeValue(head.LastModified)), nil
	}
	if !isNotFound(err) {
		return fs.FileStatus{}, b.wrapErr("stat", p, err)
	}

	// No object: a marker or any key under the prefix makes it a directory.
	_, err = b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key + "/"),
	})
	if err == nil {
		return b.dirStatus(p), nil
	}
	if !isNotFound(err) {
		return fs.FileStatus{}, b.wrapErr("stat", p, err)
	}

	page, err := b.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return fs.FileStatus{}, b.wrapErr("stat", p, err)
	}
	if len(page.Contents) > 0 || len(page.CommonPrefixes) > 0 {
		return b.dirStatus(p), nil
	}
	return fs.FileStatus{}, &fs.PathError{Op: "stat", Path: p.String(), Err: fs.ErrNotFound}
}

func (b *Backend) Open(ctx context.Context, p fs.Path) (io.ReadCloser, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey(p)),
	})
	if err == nil {
		return result.Body, nil
	}
	if isNotFound(err) {
		if st, serr := b.Stat(ctx, p); serr == nil && st.IsDir {
			return nil, &fs.PathError{Op: "open", Path: p.String(), Err: fs.ErrIsDirectory}
		}
		return nil, &fs.PathError{Op: "open", Path: p.String(), Err: fs.ErrNotFound}
	}
	return nil, b.wrapErr("open", p, err)
}

func (b *Backend) Create(ctx context.Context, p fs.Path, opts fs.CreateOptions) (io.WriteCloser, error) {
	if objectKey(p) == "" {
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

	// The upload happens on Close and reuses the Create context.
	return &objectWriter{ctx: ctx, b: b, path: p, key: objectKey(p)}, nil
}

func (b *Backend) Append(_ context.Context, p fs.Path) (io.WriteCloser, error) {
	return nil, unsupported("append", p)
}

func (b *Backend) List(ctx context.Context, p fs.Path) ([]fs.FileStatus, error) {
	st, err := b.Stat(ctx, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotFound) {
			return nil, &fs.PathError{Op: "list", Path: p.String(), Err: fs.ErrNotFound}
		}
		return nil, err
	}
	if !st.IsDir {
		return nil, &fs.PathError{Op: "list", Path: p.String(), Err: fs.ErrNotDirectory}
	}

	prefix := dirPrefix(objectKey(p))
	var out []fs.FileStatus
	var token *string
	for {
		page, err := b.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, &fs.PathError{Op: "list", Path: p.String(), Err: fmt.Errorf("failed to list objects: %w", err)}
		}

		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == prefix {
				// The directory's own marker.
				continue
			}
			out = append(out, b.fileStatus(b.pathFor(key), aws.Int64Value(obj.Size), aws.TimeValue(obj.LastModified)))
		}
		for _, cp := range page.CommonPrefixes {
			out = append(out, b.dirStatus(b.pathFor(aws.StringValue(cp.Prefix))))
		}

		if !aws.BoolValue(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
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
		if _, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(objectKey(p)),
		}); err != nil {
			return false, b.wrapErr("delete", p, err)
		}
		return true, nil
	}

	prefix := dirPrefix(objectKey(p))
	if !recursive {
		page, err := b.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(b.bucket),
			Prefix:  aws.String(prefix),
			MaxKeys: aws.Int64(2),
		})
		if err != nil {
			return false, b.wrapErr("delete", p, err)
		}
		for _, obj := range page.Contents {
			if aws.StringValue(obj.Key) != prefix {
				return false, &fs.PathError{Op: "delete", Path: p.String(), Err: fs.ErrNotEmpty}
			}
		}
	}

	// Page through every key under the prefix, the marker included.
	removed := 0
	var token *string
	for {
		page, err := b.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return false, b.wrapErr("delete", p, err)
		}
		for _, obj := range page.Contents {
			if _, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    obj.Key,
			}); err != nil {
				return false, b.wrapErr("delete", b.pathFor(aws.StringValue(obj.Key)), err)
			}
			removed++
		}
		if !aws.BoolValue(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}

	b.log.Debug("deleted object tree",
		slog.String("bucket", b.bucket),
		slog.String("prefix", prefix),
		slog.Int("objects", removed))
	return true, nil
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
		return b.moveObject(ctx, src, objectKey(src), objectKey(dst))
	}

	srcPrefix, dstPrefix := dirPrefix(objectKey(src)), dirPrefix(objectKey(dst))
	var token *string
	for {
		page, err := b.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(srcPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return b.wrapErr("rename", src, err)
		}
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if err := b.moveObject(ctx, src, key, dstPrefix+strings.TrimPrefix(key, srcPrefix)); err != nil {
				return err
			}
		}
		if !aws.BoolValue(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	return nil
}

// moveObject is a server-side copy followed by a delete of the source.
func (b *Backend) moveObject(ctx context.Context, src fs.Path, srcKey, dstKey string) error {
	if _, err := b.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	}); err != nil {
		return &fs.PathError{Op: "rename", Path: src.String(), Err: fmt.Errorf("failed to copy object %s: %w", srcKey, err)}
	}
	if _, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(srcKey),
	}); err != nil {
		return &fs.PathError{Op: "rename", Path: src.String(), Err: fmt.Errorf("failed to remove source object %s: %w", srcKey, err)}
	}
	return nil
}

func (b *Backend) Mkdirs(ctx context.Context, p fs.Path, _ fs.Permission) error {
	if objectKey(p) == "" {
		return nil
	}

	// A file object anywhere on the path shadows the directory.
	for probe := p; probe.Name != "/"; probe = probe.Parent() {
		_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(objectKey(probe)),
		})
		if err == nil {
			return &fs.PathError{Op: "mkdirs", Path: probe.String(), Err: fs.ErrNotDirectory}
		}
		if !isNotFound(err) {
			return b.wrapErr("mkdirs", probe, err)
		}
	}

	if _, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(dirPrefix(objectKey(p))),
		Body:   bytes.NewReader(nil),
	}); err != nil {
		return b.wrapErr("mkdirs", p, err)
	}
	return nil
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

// objectWriter buffers writes and uploads the object when closed.
type objectWriter struct {
	ctx    context.Context
	b      *Backend
	path   fs.Path
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *objectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, &fs.PathError{Op: "write", Path: w.path.String(), Err: fs.ErrClosed}
	}
	return w.buf.Write(p)
}

func (w *objectWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	start := time.Now()
	if _, err := w.b.client.PutObjectWithContext(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.b.bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	}); err != nil {
		return &fs.PathError{Op: "create", Path: w.path.String(), Err: fmt.Errorf("failed to upload object: %w", err)}
	}

	w.b.log.Debug("uploaded object",
		slog.String("bucket", w.b.bucket),
		slog.String("key", w.key),
		slog.Int("size", w.buf.Len()),
		slog.Duration("duration", time.Since(start)))
	return nil
}
