package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchKind reports how a path matched a rule's trigger glob.
type MatchKind int

const (
	// NoMatch means neither form of the glob matched.
	NoMatch MatchKind = iota

	// DirectMatch means the glob matched without any wildcard crossing a
	// path separator.
	DirectMatch

	// RecursiveMatch means the glob matched only once wildcards were allowed
	// to span directories.
	RecursiveMatch
)

func (k MatchKind) String() string {
	switch k {
	case DirectMatch:
		return "direct"
	case RecursiveMatch:
		return "recursive"
	default:
		return "none"
	}
}

// Matched reports whether the rule fires.
func (k MatchKind) Matched() bool {
	return k != NoMatch
}

// globMatcher holds both compiled forms of one trigger glob.
//
// Both regexes are generated straight from the glob. The direct form keeps
// `*` and `?` inside one path segment; the recursive form lets them span
// separators, so `start/*.txt` also fires for `start/sub/data.txt`.
type globMatcher struct {
	glob      string
	direct    *regexp.Regexp
	recursive *regexp.Regexp
}

func compileGlob(glob string) (*globMatcher, error) {
	direct, err := regexp.Compile(translateGlob(glob, false))
	if err != nil {
		return nil, fmt.Errorf("compile glob %q: %w", glob, err)
	}
	recursive, err := regexp.Compile(translateGlob(glob, true))
	if err != nil {
		return nil, fmt.Errorf("compile glob %q: %w", glob, err)
	}
	return &globMatcher{glob: glob, direct: direct, recursive: recursive}, nil
}

// Match tests a slash-separated path relative to the managed root.
func (m *globMatcher) Match(path string) MatchKind {
	if m.direct.MatchString(path) {
		return DirectMatch
	}
	if m.recursive.MatchString(path) {
		return RecursiveMatch
	}
	return NoMatch
}

// translateGlob turns a shell glob into an anchored regular expression.
//
//	*      any run of characters (within one segment unless spanning)
//	?      any one character (not a separator unless spanning)
//	[abc]  character class; [!abc] negates
//
// Everything else is literal. An unterminated `[` is a literal bracket.
func translateGlob(glob string, spanning bool) string {
	star, single := "[^/]*", "[^/]"
	if spanning {
		star, single = ".*", "."
	}

	var b strings.Builder
	b.WriteString(`^(?s:`)
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			b.WriteString(star)
		case '?':
			b.WriteString(single)
		case '[':
			class, next, ok := globClass(runes, i)
			if !ok {
				b.WriteString(`\[`)
				continue
			}
			b.WriteString(class)
			i = next
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(`)$`)
	return b.String()
}

// globClass translates the bracket expression opening at runes[open]. It
// returns the regex class, the index of the closing bracket and whether one
// was found. A `]` directly after `[` or `[!` is a member, not the end.
func globClass(runes []rune, open int) (string, int, bool) {
	j := open + 1
	if j < len(runes) && runes[j] == '!' {
		j++
	}
	if j < len(runes) && runes[j] == ']' {
		j++
	}
	for j < len(runes) && runes[j] != ']' {
		j++
	}
	if j >= len(runes) {
		return "", open, false
	}

	body := runes[open+1 : j]
	var b strings.Builder
	b.WriteByte('[')
	if len(body) > 0 && body[0] == '!' {
		b.WriteByte('^')
		body = body[1:]
	} else if len(body) > 0 && body[0] == '^' {
		b.WriteString(`\^`)
		body = body[1:]
	}
	for _, r := range body {
		switch r {
		case '\\', '[', ']':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(']')
	return b.String(), j, true
}
