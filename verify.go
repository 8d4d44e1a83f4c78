package fsmux

import (
	"fmt"
	"strings"

	"github.com/stratusworks/fsmux/fs"
	"github.com/stratusworks/fsmux/netutil"
)

// checkPath verifies that path may be served by the backend whose canonical
// identity is id. Scheme-less paths always belong to the handle they are
// used with. Otherwise the schemes must match case-insensitively and the
// authorities must reconcile, either directly or, for an authority-less
// path, through the process default URI. The check touches no storage.
func checkPath(path, id, def fs.Path, canon netutil.Canonicalizer) error {
	if path.Scheme == "" {
		return nil
	}

	if strings.EqualFold(path.Scheme, id.Scheme) {
		if authorityMatches(path.Authority, id.Authority, canon) {
			return nil
		}
		if path.Authority == "" && id.Authority != "" &&
			strings.EqualFold(def.Scheme, path.Scheme) &&
			authorityMatches(def.Authority, id.Authority, canon) {
			return nil
		}
	}

	return &fs.PathError{
		Op:   "check",
		Path: path.String(),
		Err:  fmt.Errorf("%w: expected %s", fs.ErrInvalidPath, id.String()),
	}
}

// authorityMatches compares two authorities case-insensitively, falling back
// to the canonicalizer when the literal comparison fails. Two absent
// authorities match; an absent one never matches a present one.
func authorityMatches(a, b string, canon netutil.Canonicalizer) bool {
	if a == "" || b == "" {
		return a == b
	}
	if strings.EqualFold(a, b) {
		return true
	}
	ca, err := canon.Canonical(a)
	if err != nil {
		return false
	}
	cb, err := canon.Canonical(b)
	if err != nil {
		return false
	}
	return ca == cb
}
