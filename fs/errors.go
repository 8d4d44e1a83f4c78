package fs

import "errors"

// Sentinel errors classifying backend and façade failures. Backends wrap
// these (usually via PathError) so that callers can match conditions with
// errors.Is regardless of which backend raised them.
var (
	// ErrNotFound indicates the requested path does not exist.
	ErrNotFound = errors.New("path not found")

	// ErrInvalidPath indicates a path failed scheme/authority reconciliation
	// against the handle it was used with.
	ErrInvalidPath = errors.New("invalid path for filesystem")

	// ErrExist indicates the target path already exists.
	ErrExist = errors.New("path already exists")

	// ErrNotDirectory indicates a directory operation hit a regular file.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory indicates a file operation hit a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotEmpty indicates a non-recursive delete hit a non-empty directory.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrPermission indicates the backend denied the operation.
	ErrPermission = errors.New("permission denied")

	// ErrUnsupported indicates the backend does not implement the capability.
	ErrUnsupported = errors.New("operation not supported")

	// ErrClosed indicates the handle or backend was already closed.
	ErrClosed = errors.New("filesystem closed")

	// ErrUnknownScheme indicates no backend factory is registered for the
	// scheme of the requested URI.
	ErrUnknownScheme = errors.New("unknown filesystem scheme")

	// ErrConstruct indicates a backend factory failed to build an instance.
	ErrConstruct = errors.New("failed to construct backend")
)

// PathError records an error, the operation that caused it and the path it
// applies to.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnsupported reports whether err is, or wraps, ErrUnsupported.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
