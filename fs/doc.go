// Package fs defines the core interfaces and types shared by every part of
// the filesystem multiplexer, separating the backend contract from the
// dispatch and caching layer that consumes it.
//
// The package provides:
//
// # Backend Contract
//
// Backend: The single capability interface every concrete storage backend
// implements (open, create, append, list, stat, delete, rename, mkdirs,
// permission and time updates, canonical identity, defaults). The façade
// layer invokes these capabilities but implements none of them.
//
// ChecksumBackend: Optional capability for backends that can produce a
// whole-file checksum without the caller streaming the content.
//
// Factory: Constructor invoked by the instance cache to build a backend for
// a URI. Factories are registered per URI scheme on the multiplexer and are
// always called outside the cache lock.
//
// # Paths
//
// Path: A (scheme, authority, name) triple parsed from URI-style strings.
// Parsing is deliberately hand-rolled rather than delegated to net/url so
// that glob metacharacters (?, *, [, ], {, }, \) survive untouched in the
// name component.
//
// # Identity
//
// Principal: The opaque, comparable token naming the acting identity a
// handle is resolved for. Two tokens for the same principal compare equal.
//
// IdentityProvider: Supplies the current principal; implementations live
// with the embedding application, not here.
//
// # Errors
//
// Sentinel errors (ErrNotFound, ErrInvalidPath, ErrExist, ...) classify
// failures across backends, and PathError attaches the operation and path
// to an underlying cause. Backends wrap the sentinels; the façade passes
// them through unchanged so callers can match with errors.Is.
package fs
