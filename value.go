// Value model: words, word lists and the edge types that tag ingredient
// words in a recipe's need list.

package main

import "strings"

// EdgeType controls how an ingredient word's mtime participates in the
// freshness decision (spec.md §4.7, §8 invariant 6).
type EdgeType int

const (
	// EdgeDefault is the ordinary "newer wins" ingredient relation.
	EdgeDefault EdgeType = iota
	// EdgeStrict requires the target to be strictly newer than the
	// ingredient; equal mtimes are out of date.
	EdgeStrict
	// EdgeWeak treats equal mtimes as up to date.
	EdgeWeak
	// EdgeExists only requires the ingredient to exist; it contributes no
	// mtime coupling at all, only ordering.
	EdgeExists
)

func (e EdgeType) String() string {
	switch e {
	case EdgeStrict:
		return "strict"
	case EdgeWeak:
		return "weak"
	case EdgeExists:
		return "exists"
	default:
		return "default"
	}
}

// Word is a single immutable unicode string tagged with the edge type it
// carries when used as an ingredient. Plain target/argument words carry
// EdgeDefault and the tag is ignored.
type Word struct {
	Text string
	Edge EdgeType
}

func W(s string) Word { return Word{Text: s} }

func WE(s string, e EdgeType) Word { return Word{Text: s, Edge: e} }

// WordList is an ordered, value-typed sequence of words. Copies are cheap:
// callers that need to mutate a list they received should clone it first
// with Clone.
type WordList []Word

func NewWordList(ss ...string) WordList {
	wl := make(WordList, len(ss))
	for i, s := range ss {
		wl[i] = W(s)
	}
	return wl
}

func (wl WordList) Clone() WordList {
	out := make(WordList, len(wl))
	copy(out, wl)
	return out
}

func (wl WordList) Strings() []string {
	out := make([]string, len(wl))
	for i, w := range wl {
		out[i] = w.Text
	}
	return out
}

func (wl WordList) Join(sep string) string {
	return strings.Join(wl.Strings(), sep)
}

func (wl WordList) Contains(s string) bool {
	for _, w := range wl {
		if w.Text == s {
			return true
		}
	}
	return false
}

// Append returns a new word list with ss appended, all carrying edge e.
func (wl WordList) Append(e EdgeType, ss ...string) WordList {
	out := wl.Clone()
	for _, s := range ss {
		out = append(out, WE(s, e))
	}
	return out
}

// Union returns the set union of wl and other, by word text, preferring
// wl's edge type on duplicates. Order: wl's words first, then any of
// other's words not already present.
func (wl WordList) Union(other WordList) WordList {
	out := wl.Clone()
	seen := make(map[string]bool, len(wl))
	for _, w := range wl {
		seen[w.Text] = true
	}
	for _, w := range other {
		if !seen[w.Text] {
			out = append(out, w)
			seen[w.Text] = true
		}
	}
	return out
}

// ErrKind enumerates the error categories of spec.md §7.
type ErrKind int

const (
	ErrParse ErrKind = iota
	ErrSubstitution
	ErrInterpreter
	ErrBuildRecursion
	ErrDontKnowHow
	ErrBacktrack
	ErrSystemCall
	ErrCommandExit
	ErrCancelled
	ErrFilePair
)

func (k ErrKind) String() string {
	switch k {
	case ErrParse:
		return "parse"
	case ErrSubstitution:
		return "substitution"
	case ErrInterpreter:
		return "interpreter"
	case ErrBuildRecursion:
		return "build-recursion"
	case ErrDontKnowHow:
		return "dont-know-how"
	case ErrBacktrack:
		return "backtrack"
	case ErrSystemCall:
		return "system-call"
	case ErrCommandExit:
		return "command-exit"
	case ErrCancelled:
		return "cancelled"
	case ErrFilePair:
		return "file-pair"
	default:
		return "unknown"
	}
}

// Position is a (file, line) pair carried by recipes and diagnostics.
type Position struct {
	File string
	Line int
}

func (p Position) String() string {
	if p.File == "" {
		return "<unknown>"
	}
	return p.File + ":" + itoa(p.Line)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CookError is the engine's uniform error type: a kind, a position and a
// message, with an optional wrapped cause.
type CookError struct {
	Kind ErrKind
	Pos  Position
	Msg  string
	Err  error
}

func (e *CookError) Error() string {
	if e.Pos.File != "" {
		return e.Pos.String() + ": " + e.Msg
	}
	return e.Msg
}

func (e *CookError) Unwrap() error { return e.Err }

func newErr(kind ErrKind, pos Position, msg string) *CookError {
	return &CookError{Kind: kind, Pos: pos, Msg: msg}
}
