package glob

import "fmt"

// candidate is a partially expanded pattern. offset marks where the
// already-expanded prefix ends, so alternations substituted earlier are
// never rescanned.
type candidate struct {
	pattern string
	offset  int
}

// ExpandAlternation expands every {a,b} alternation group in pattern into
// the cross-product of plain pattern strings. Groups may nest; escaped
// braces and commas are literal. A pattern without alternation comes back
// as a single-element slice.
func ExpandAlternation(pattern string) ([]string, error) {
	queue := []candidate{{pattern: pattern}}
	var done []string

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]

		expanded, err := expandLeftmost(c)
		if err != nil {
			return nil, err
		}
		if expanded == nil {
			done = append(done, c.pattern)
			continue
		}
		queue = append(expanded, queue...)
	}

	return done, nil
}

// expandLeftmost rewrites the leftmost outermost alternation group into one
// candidate per alternative. It returns nil when no group remains after the
// candidate's offset.
func expandLeftmost(c candidate) ([]candidate, error) {
	s := c.pattern

	left := -1
	for i := c.offset; i < len(s); i++ {
		switch s[i] {
		case escapeChar:
			i++
		case '{':
			left = i
		}
		if left >= 0 {
			break
		}
	}
	if left < 0 {
		return nil, nil
	}

	depth := 0
	right := -1
	var alts []string
	segStart := left + 1
	for i := left; i < len(s) && right < 0; i++ {
		switch s[i] {
		case escapeChar:
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				alts = append(alts, s[segStart:i])
				right = i
			}
		case ',':
			if depth == 1 {
				alts = append(alts, s[segStart:i])
				segStart = i + 1
			}
		}
	}
	if right < 0 {
		return nil, fmt.Errorf("%w: unclosed alternation in %q", ErrBadPattern, s)
	}

	prefix := s[:left]
	suffix := s[right+1:]
	out := make([]candidate, 0, len(alts))
	for _, alt := range alts {
		out = append(out, candidate{
			pattern: prefix + alt + suffix,
			offset:  len(prefix),
		})
	}
	return out, nil
}
