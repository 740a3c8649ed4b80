// Pattern matcher: compiles and executes the cook `%`/`%N`/`%0` pattern
// language, reconstructs strings from bindings, and offers a regex-mode
// backend behind the same abstraction (spec.md §4.2).
//
// Field 0 matches zero or more whole path components including their
// trailing '/'. Fields 1..10 match a run of non-'/' characters; a bare
// '%' is an alias for an anonymous field (field 10 here, matching
// spec.md's "%10"). Re-occurrence of the same field index within one
// pattern must match byte-identically.

package main

import (
	"regexp"
	"strings"
)

// patTok is one compiled token of a cook pattern.
type patTokKind int

const (
	patLiteral patTokKind = iota
	patField   // %1..%9, %10 (via bare %)
	patZero    // %0
)

type patTok struct {
	kind    patTokKind
	literal string
	field   int
}

// CookPattern is a compiled %/%N/%0 pattern.
type CookPattern struct {
	src    string
	toks   []patTok
	fields []int // field indices referenced, in first-occurrence order
}

// CompileCookPattern compiles a cook pattern. relaxedZero permits %0
// anywhere; the strict default only permits it at the start of the
// pattern or immediately after a '/' (spec.md §4.2, open question in §9).
func CompileCookPattern(pat string, relaxedZero bool) (*CookPattern, error) {
	cp := &CookPattern{src: pat}
	seen := map[int]bool{}
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			cp.toks = append(cp.toks, patTok{kind: patLiteral, literal: lit.String()})
			lit.Reset()
		}
	}
	atFieldStart := true // true at pattern start or right after a '/'
	i := 0
	for i < len(pat) {
		c := pat[i]
		if c != '%' {
			lit.WriteByte(c)
			atFieldStart = c == '/'
			i++
			continue
		}
		if i+1 < len(pat) && pat[i+1] == '%' {
			lit.WriteByte('%')
			i += 2
			atFieldStart = false
			continue
		}
		// %N or bare %
		j := i + 1
		numStart := j
		for j < len(pat) && pat[j] >= '0' && pat[j] <= '9' {
			j++
		}
		var field int
		if j > numStart {
			field = atoiSmall(pat[numStart:j])
			i = j
		} else {
			field = 10 // bare '%' is the anonymous field
			i = j
		}
		if field == 0 && !relaxedZero && !atFieldStart {
			return nil, newErr(ErrParse, Position{}, "pattern `"+pat+"`: %0 only valid at start or after '/' unless relaxed mode is enabled")
		}
		flushLit()
		if field == 0 {
			cp.toks = append(cp.toks, patTok{kind: patZero})
		} else {
			cp.toks = append(cp.toks, patTok{kind: patField, field: field})
			if !seen[field] {
				seen[field] = true
				cp.fields = append(cp.fields, field)
			}
		}
		atFieldStart = false
	}
	flushLit()
	return cp, nil
}

// UsageMask returns the set of field indices mentioned in the pattern
// (spec.md §4.2 "usage mask").
func (cp *CookPattern) UsageMask() []int { return cp.fields }

// MatchContext holds immutable-after-set field bindings for one match
// attempt. A fresh match resets all bindings (spec.md §4.2).
type MatchContext struct {
	bindings map[int]string
	bound    map[int]bool
}

func newMatchContext() *MatchContext {
	return &MatchContext{bindings: make(map[int]string), bound: make(map[int]bool)}
}

func (m *MatchContext) Get(field int) (string, bool) {
	s, ok := m.bound[field]
	return m.bindings[field], s && ok
}

// Match attempts to match the candidate string against the pattern,
// returning a populated MatchContext on success. One left-to-right
// recursive scan does the work: greedy-then-shrink for %N within a path
// component, and free recursion through %0 over whole path components
// (spec.md §4.2). Trailing literals are not stripped up front; they are
// matched in order like any other literal.
func (cp *CookPattern) Match(candidate string) (*MatchContext, bool) {
	mc := newMatchContext()
	if matchToks(cp.toks, candidate, mc) {
		return mc, true
	}
	return nil, false
}

func matchToks(toks []patTok, s string, mc *MatchContext) bool {
	if len(toks) == 0 {
		return s == ""
	}
	tok := toks[0]
	switch tok.kind {
	case patLiteral:
		if !strings.HasPrefix(s, tok.literal) {
			return false
		}
		return matchToks(toks[1:], s[len(tok.literal):], mc)
	case patZero:
		// %0 matches zero or more whole path components including their
		// trailing '/'. Try the longest legal prefix first, then shrink by
		// whole components.
		cuts := zeroCutPoints(s)
		for i := len(cuts) - 1; i >= 0; i-- {
			prefix := s[:cuts[i]]
			if tryBindZero(mc, prefix) {
				if matchToks(toks[1:], s[cuts[i]:], mc) {
					return true
				}
				unbindZero(mc, prefix)
			}
		}
		return false
	case patField:
		// %N matches a run of non-'/' characters within a single path
		// component; greedy-then-shrink.
		limit := strings.IndexByte(s, '/')
		maxLen := len(s)
		if limit >= 0 {
			maxLen = limit
		}
		if existing, bound := mc.Get(tok.field); bound {
			if !strings.HasPrefix(s, existing) {
				return false
			}
			return matchToks(toks[1:], s[len(existing):], mc)
		}
		for n := maxLen; n >= 0; n-- {
			cand := s[:n]
			mc.bindings[tok.field] = cand
			mc.bound[tok.field] = true
			if matchToks(toks[1:], s[n:], mc) {
				return true
			}
			delete(mc.bound, tok.field)
		}
		return false
	}
	return false
}

// zeroCutPoints returns, in increasing order, every byte offset at which
// a %0 match could legally end: 0 (empty match) and every index just
// past a '/'.
func zeroCutPoints(s string) []int {
	cuts := []int{0}
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			cuts = append(cuts, i+1)
		}
	}
	return cuts
}

// tryBindZero binds field 0 to prefix. A repeated %0 in one pattern must
// match the same text as its first occurrence, like any other field.
func tryBindZero(mc *MatchContext, prefix string) bool {
	if existing, ok := mc.bindings[0]; ok && mc.bound[0] {
		return existing == prefix
	}
	mc.bindings[0] = prefix
	mc.bound[0] = true
	return true
}

func unbindZero(mc *MatchContext, prefix string) {
	delete(mc.bound, 0)
}

// Reconstruct substitutes field bindings into a replacement pattern.
// Referencing an unset field is an error (spec.md §4.2).
func (cp *CookPattern) Reconstruct(repl string, mc *MatchContext) (string, error) {
	rp, err := CompileCookPattern(repl, true)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, tok := range rp.toks {
		switch tok.kind {
		case patLiteral:
			out.WriteString(tok.literal)
		case patZero:
			v, ok := mc.Get(0)
			if !ok {
				return "", newErr(ErrInterpreter, Position{}, "reconstruct: field %0 is not bound")
			}
			out.WriteString(v)
		case patField:
			v, ok := mc.Get(tok.field)
			if !ok {
				return "", newErr(ErrInterpreter, Position{}, "reconstruct: field %"+itoa(tok.field)+" is not bound")
			}
			out.WriteString(v)
		}
	}
	return out.String(), nil
}

func atoiSmall(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

// RegexPattern is the alternate backend toggled by FlagMatchModeRegex;
// it presents the same Match shape as CookPattern (it has no
// Reconstruct), using Go's
// RE2 engine and numbered submatches as fields 1..N (spec.md §4.2
// "alternate matching mode").
type RegexPattern struct {
	re *regexp.Regexp
}

func CompileRegexPattern(pat string) (*RegexPattern, error) {
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, newErr(ErrParse, Position{}, "invalid regular expression `"+pat+"`: "+err.Error())
	}
	return &RegexPattern{re: re}, nil
}

func (rp *RegexPattern) Match(candidate string) (*MatchContext, bool) {
	m := rp.re.FindStringSubmatch(candidate)
	if m == nil {
		return nil, false
	}
	mc := newMatchContext()
	for i, s := range m {
		mc.bindings[i] = s
		mc.bound[i] = true
	}
	return mc, true
}

// Matcher is the tagged-variant interface both backends satisfy, per
// spec.md §9 "model each as a tagged variant with a per-variant method
// set".
type Matcher interface {
	Match(candidate string) (*MatchContext, bool)
}
