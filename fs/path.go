package fs

import (
	"errors"
	"strings"
)

// Path identifies a file or directory, optionally qualified by the URI
// scheme and authority of the backend it lives on. The zero value is not a
// valid path; use ParsePath or MustPath.
//
// Name is the slash-separated path component. It may contain glob
// metacharacters; Path never interprets or escapes them, which is why
// parsing is done by hand instead of through net/url (which would treat '?'
// as a query separator and mangle backslash escapes).
type Path struct {
	Scheme    string
	Authority string
	Name      string
}

// ParsePath parses a URI-style path string. Accepted forms:
//
//	scheme://authority/name
//	scheme:///name
//	scheme:/name
//	/absolute/name
//	relative/name
//
// The scheme, when present, must precede the first slash. A path carrying a
// scheme or authority must be absolute.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Path{}, errors.New("empty path")
	}

	var p Path
	rest := s

	if i := strings.IndexAny(rest, ":/"); i > 0 && rest[i] == ':' {
		p.Scheme = rest[:i]
		rest = rest[i+1:]
	}

	if strings.HasPrefix(rest, "//") {
		rest = rest[2:]
		if j := strings.Index(rest, "/"); j >= 0 {
			p.Authority = rest[:j]
			rest = rest[j:]
		} else {
			p.Authority = rest
			rest = "/"
		}
	}

	p.Name = cleanName(rest)
	if p.Name == "" {
		if p.Scheme == "" && p.Authority == "" {
			return Path{}, errors.New("empty path")
		}
		p.Name = "/"
	}

	if (p.Scheme != "" || p.Authority != "") && !p.IsAbsolute() {
		return Path{}, errors.New("path with scheme or authority must be absolute: " + s)
	}

	return p, nil
}

// MustPath is ParsePath for statically known inputs; it panics on error.
func MustPath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// cleanName collapses duplicate slashes and strips a trailing slash, keeping
// the root intact. Glob metacharacters and backslash escapes pass through
// untouched.
func cleanName(name string) string {
	for strings.Contains(name, "//") {
		name = strings.ReplaceAll(name, "//", "/")
	}
	if len(name) > 1 && strings.HasSuffix(name, "/") {
		name = name[:len(name)-1]
	}
	return name
}

// String renders the path back into URI form. Scheme-less paths render as
// their bare name.
func (p Path) String() string {
	if p.Scheme == "" && p.Authority == "" {
		return p.Name
	}
	var b strings.Builder
	if p.Scheme != "" {
		b.WriteString(p.Scheme)
		b.WriteString(":")
	}
	b.WriteString("//")
	b.WriteString(p.Authority)
	b.WriteString(p.Name)
	return b.String()
}

// IsAbsolute reports whether the name component starts at the root.
func (p Path) IsAbsolute() bool {
	return strings.HasPrefix(p.Name, "/")
}

// Join appends a child name to the path. An absolute child replaces the
// name component while keeping scheme and authority.
func (p Path) Join(child string) Path {
	q := p
	switch {
	case strings.HasPrefix(child, "/"):
		q.Name = cleanName(child)
	case p.Name == "":
		q.Name = cleanName(child)
	case p.Name == "/":
		q.Name = cleanName("/" + child)
	default:
		q.Name = cleanName(p.Name + "/" + child)
	}
	return q
}

// Parent returns the path one level up. The parent of the root is the root;
// the parent of a bare relative segment is ".".
func (p Path) Parent() Path {
	q := p
	i := strings.LastIndex(p.Name, "/")
	switch {
	case p.Name == "/" || p.Name == "":
		q.Name = "/"
	case i < 0:
		q.Name = "."
	case i == 0:
		q.Name = "/"
	default:
		q.Name = p.Name[:i]
	}
	return q
}

// Base returns the final segment of the name component.
func (p Path) Base() string {
	if p.Name == "/" {
		return "/"
	}
	if i := strings.LastIndex(p.Name, "/"); i >= 0 {
		return p.Name[i+1:]
	}
	return p.Name
}

// Qualified fills the missing scheme and authority from base. A path that
// already carries a scheme keeps it even when it differs from base; a
// missing authority is borrowed from base so that bare "/a/b" style paths
// qualify against whichever backend they are used with. Reconciliation of a
// conflicting result is the path check's job, not Qualified's.
func (p Path) Qualified(base Path) Path {
	if p.Scheme != "" && (p.Authority != "" || base.Authority == "") {
		return p
	}
	q := p
	if q.Scheme == "" {
		q.Scheme = base.Scheme
	}
	if q.Authority == "" {
		q.Authority = base.Authority
	}
	return q
}

// Root returns the root path with the same scheme and authority.
func (p Path) Root() Path {
	return Path{Scheme: p.Scheme, Authority: p.Authority, Name: "/"}
}
