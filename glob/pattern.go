package glob

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrBadPattern indicates a malformed glob pattern.
var ErrBadPattern = errors.New("bad glob pattern")

const escapeChar = '\\'

// Segment is the compiled matcher for a single path segment. A segment
// without metacharacters stays a plain string and is matched (or appended
// to the frontier) without any regular expression work.
type Segment struct {
	src     string
	literal string
	wild    bool
	re      *regexp.Regexp
}

// CompileSegment parses one path segment of a glob pattern. Alternation is
// not handled here; ExpandAlternation runs first, so unescaped braces that
// survive to this point are matched literally.
func CompileSegment(pattern string) (*Segment, error) {
	var re strings.Builder
	var literal strings.Builder
	re.WriteString("^")

	wild := false
	inClass := false
	classStart := 0

	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]

		if ch == escapeChar {
			i++
			if i >= len(pattern) {
				return nil, fmt.Errorf("%w: dangling escape in %q", ErrBadPattern, pattern)
			}
			if inClass {
				writeClassChar(&re, pattern[i])
			} else {
				re.WriteString(regexp.QuoteMeta(string(pattern[i])))
				literal.WriteByte(pattern[i])
			}
			continue
		}

		if inClass {
			switch ch {
			case ']':
				inClass = false
				re.WriteByte(']')
			case '-':
				re.WriteByte('-')
			case '^':
				// Only negates right after the opening bracket; elsewhere
				// it is a set member.
				if i == classStart {
					re.WriteByte('^')
				} else {
					re.WriteString(`\^`)
				}
			default:
				writeClassChar(&re, ch)
			}
			continue
		}

		switch ch {
		case '?':
			wild = true
			re.WriteString(".")
		case '*':
			wild = true
			re.WriteString(".*")
		case '[':
			wild = true
			inClass = true
			classStart = i + 1
			re.WriteByte('[')
		default:
			re.WriteString(regexp.QuoteMeta(string(ch)))
			literal.WriteByte(ch)
		}
	}

	if inClass {
		return nil, fmt.Errorf("%w: unclosed character class in %q", ErrBadPattern, pattern)
	}

	seg := &Segment{src: pattern, wild: wild}
	if !wild {
		seg.literal = literal.String()
		return seg, nil
	}

	re.WriteString("$")
	compiled, err := regexp.Compile(re.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, pattern, err)
	}
	seg.re = compiled
	return seg, nil
}

// writeClassChar emits one member of a character class, escaping anything
// the regexp engine would treat structurally.
func writeClassChar(re *strings.Builder, ch byte) {
	switch ch {
	case '\\', ']', '^', '[', '-':
		re.WriteByte('\\')
	}
	re.WriteByte(ch)
}

// Wild reports whether the segment contains any metacharacter. Escaped
// characters do not count; a fully escaped segment is literal.
func (s *Segment) Wild() bool { return s.wild }

// Literal returns the unescaped text of a non-wild segment.
func (s *Segment) Literal() string { return s.literal }

// Matches reports whether a child name matches the segment.
func (s *Segment) Matches(name string) bool {
	if !s.wild {
		return s.literal == name
	}
	return s.re.MatchString(name)
}

func (s *Segment) String() string { return s.src }
