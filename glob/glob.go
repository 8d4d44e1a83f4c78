package glob

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stratusworks/fsmux/fs"
)

// Source is the listing capability the walk runs against. Both a backend
// and a cached handle satisfy it.
type Source interface {
	List(ctx context.Context, p fs.Path) ([]fs.FileStatus, error)
	Stat(ctx context.Context, p fs.Path) (fs.FileStatus, error)
}

// Expand matches pattern against src and returns the sorted match set.
// The pattern's name component must be absolute; scheme and authority are
// carried through to the frontier untouched.
//
// Result states: nil with no error when the pattern contains no wildcard
// and the literal path does not exist; a non-nil empty slice when a
// wildcard (including brace alternation) matched nothing; otherwise the
// matches sorted by path string with duplicates across alternatives
// removed. A nil accept filter accepts every path.
func Expand(ctx context.Context, src Source, pattern fs.Path, accept fs.PathFilter) ([]fs.FileStatus, error) {
	if !pattern.IsAbsolute() {
		return nil, fmt.Errorf("%w: pattern must be absolute, got %q", ErrBadPattern, pattern.String())
	}

	alternatives, err := ExpandAlternation(pattern.Name)
	if err != nil {
		return nil, err
	}

	// Alternation that actually forked the pattern counts as a wildcard for
	// the nil-versus-empty distinction below.
	sawWild := len(alternatives) > 1

	var union []fs.FileStatus
	seen := make(map[string]struct{})
	for _, alt := range alternatives {
		p := fs.Path{Scheme: pattern.Scheme, Authority: pattern.Authority, Name: alt}
		matches, wild, err := expandOne(ctx, src, p, accept)
		if err != nil {
			return nil, err
		}
		sawWild = sawWild || wild
		for _, m := range matches {
			key := m.Path.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			union = append(union, m)
		}
	}

	if len(union) == 0 {
		if sawWild {
			return []fs.FileStatus{}, nil
		}
		return nil, nil
	}

	sort.Slice(union, func(i, j int) bool {
		return union[i].Path.String() < union[j].Path.String()
	})
	return union, nil
}

// expandOne walks a single brace-free pattern and reports whether any of
// its segments carried a wildcard.
func expandOne(ctx context.Context, src Source, pattern fs.Path, accept fs.PathFilter) ([]fs.FileStatus, bool, error) {
	// A bare root has no final segment to filter; it resolves by stat alone.
	if pattern.Name == "/" {
		st, err := src.Stat(ctx, pattern)
		switch {
		case fs.IsNotFound(err):
			return nil, false, nil
		case err != nil:
			return nil, false, err
		}
		return []fs.FileStatus{st}, false, nil
	}

	parts := strings.Split(strings.TrimPrefix(pattern.Name, "/"), "/")
	segments := make([]*Segment, len(parts))
	sawWild := false
	for i, part := range parts {
		seg, err := CompileSegment(part)
		if err != nil {
			return nil, false, err
		}
		segments[i] = seg
		sawWild = sawWild || seg.Wild()
	}

	frontier := []fs.Path{pattern.Root()}
	for _, seg := range segments[:len(segments)-1] {
		if !seg.Wild() {
			for i := range frontier {
				frontier[i] = frontier[i].Join(seg.Literal())
			}
			continue
		}

		var next []fs.Path
		for _, parent := range frontier {
			children, err := listLevel(ctx, src, parent)
			if err != nil {
				return nil, false, err
			}
			for _, child := range children {
				if seg.Matches(child.Path.Base()) {
					next = append(next, child.Path)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			return nil, sawWild, nil
		}
	}

	final := segments[len(segments)-1]
	var results []fs.FileStatus

	if final.Wild() {
		for _, parent := range frontier {
			children, err := listLevel(ctx, src, parent)
			if err != nil {
				return nil, false, err
			}
			for _, child := range children {
				if final.Matches(child.Path.Base()) && accepts(accept, child.Path) {
					results = append(results, child)
				}
			}
		}
		return results, sawWild, nil
	}

	for _, parent := range frontier {
		composed := parent.Join(final.Literal())
		st, err := src.Stat(ctx, composed)
		if fs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if accepts(accept, st.Path) {
			results = append(results, st)
		}
	}
	return results, sawWild, nil
}

// listLevel lists one frontier directory. Missing paths and non-directories
// contribute no children rather than failing the walk.
func listLevel(ctx context.Context, src Source, p fs.Path) ([]fs.FileStatus, error) {
	children, err := src.List(ctx, p)
	if err != nil {
		if fs.IsNotFound(err) || errors.Is(err, fs.ErrNotDirectory) {
			return nil, nil
		}
		return nil, err
	}
	return children, nil
}

func accepts(filter fs.PathFilter, p fs.Path) bool {
	return filter == nil || filter(p)
}
