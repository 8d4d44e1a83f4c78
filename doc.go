// Package fsmux multiplexes many storage backends behind one filesystem
// façade, selected dynamically by URI scheme.
//
// A Mux owns a table of backend factories, an instance cache and a
// statistics registry. Resolving a URI returns a shared *Handle: exactly one
// exists per (scheme, authority, principal) triple, concurrent resolutions
// included. Handles qualify and reconcile every path before touching
// storage, expand glob patterns through level-by-level directory descent,
// account all I/O into per-scheme counters and remove paths marked
// delete-on-close when they close.
//
// # Resolution
//
// Construct a Mux, register a factory per scheme, then resolve:
//
//	m := fsmux.New(fsmux.WithDefaultURI(fs.MustPath("mem://main/")))
//	m.Register("mem", memfs.Factory(log))
//	h, err := m.Resolve(ctx, "mem://main/data/input.txt", principal)
//
// Scheme-less URIs are completed from the default URI. Unknown schemes fail
// with fs.ErrUnknownScheme.
//
// # Lifecycle
//
// Handle.Close drains the handle's delete-on-close set, evicts it from the
// cache and closes the backend. Mux.CloseAll does this for every cached
// handle and is the embedder's job at shutdown, unless a ShutdownNotifier
// was installed to trigger it.
//
// Backends implement fs.Backend and live under backend/; the core never
// implements storage itself.
package fsmux
