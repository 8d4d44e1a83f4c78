// Package glob expands shell-style path patterns against any listing
// capability, without knowing anything about caching or concrete backends.
//
// # Grammar
//
// Within one path segment:
//
//   - `?` matches exactly one character
//   - `*` matches zero or more characters
//   - `[abc]` and `[a-c]` match one character from a set or range
//   - `[^abc]` negates the set; the caret only negates in first position
//   - `\c` escapes any character to a literal
//
// Across the whole pattern, `{a,b}` brace alternation (possibly nested, as
// in `{ab,c{de,fh}}`) is expanded into a cross-product of plain patterns in
// a separate pass before any segment matching happens.
//
// # Walk
//
// Expand splits the brace-expanded pattern into segments and walks them
// left to right over a frontier of resolved parent paths. Wildcard segments
// list each frontier directory and keep matching children; literal segments
// are appended without any directory read. The final segment additionally
// applies the caller's accept filter, and a literal final segment is
// resolved with a single stat instead of a listing. Directories missing
// along the way contribute no matches and no error.
//
// # Result States
//
// Expand distinguishes three outcomes: a nil slice means the pattern had no
// wildcard anywhere and the literal path does not exist; a non-nil empty
// slice means a wildcard matched nothing; otherwise the matches are
// returned sorted by path string, duplicates across brace alternatives
// collapsed.
package glob
