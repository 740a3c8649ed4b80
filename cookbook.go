// Cookbook front end: reads cookbook source into Recipe/Op structures
// consumed by recipetable.go, graph.go and interp.go. Grounded on the
// shape of the teacher's own front end (mk.go's ruleSet/rule assembly,
// expand.go's eager variable assignment) but generalized to cook's
// richer two-colon, two-ingredient-list, bracketed-attribute grammar
// (spec.md §1, §4.4).
//
// Syntax recognized, one logical line at a time:
//
//	NAME = word...                      variable assignment (eager)
//	target...: ingredient...            cascade declaration and ingredients-only recipe (no body)
//	target...: need1... [: need2...] [thread:TOK] [host:TOK] [flag...]
//	  recipe line                       out-of-date body (indented)
//	  !recipe line                      up-to-date body
//	? word...                           precondition for the next recipe
//	#include "path"                     textual inclusion
//	# comment
//
// `::` in place of `:` after the target list marks the recipe Multiple
// (spec.md §3 "Recipe", the `::` form that does not shadow further
// recipes for the same target).

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sanity-io/litter"
)

// Cookbook parses one or more cookbook files into a shared RecipeTable,
// CascadeRegistry and global variable table.
type Cookbook struct {
	Recipes  *RecipeTable
	Cascades *CascadeRegistry
	Globals  map[string]WordList
	Search   *SearchList
	Opts     *OptionStack

	// MustUse, when non-nil, receives the name of every variable assigned
	// by a `NAME = word...` statement, so the engine can later warn about
	// ones no recipe ever referenced (spec.md §4.1 must_be_used). Left
	// nil by direct construction (e.g. in tests) to opt out.
	MustUse map[string]bool

	pendingPrecondition []Op
	includeStack        []string
}

func NewCookbook(rt *RecipeTable, cr *CascadeRegistry, globals map[string]WordList, sl *SearchList, opts *OptionStack) *Cookbook {
	return &Cookbook{Recipes: rt, Cascades: cr, Globals: globals, Search: sl, Opts: opts}
}

// ParseFile reads and parses one cookbook file, following #include
// directives relative to the search list.
func (cb *Cookbook) ParseFile(path string) error {
	for _, in := range cb.includeStack {
		if in == path {
			return newErr(ErrParse, Position{File: path}, "recursive #include of "+path)
		}
	}
	cb.includeStack = append(cb.includeStack, path)
	defer func() { cb.includeStack = cb.includeStack[:len(cb.includeStack)-1] }()

	f, err := os.Open(path)
	if err != nil {
		return newErr(ErrParse, Position{File: path}, "open cookbook: "+err.Error())
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return newErr(ErrParse, Position{File: path}, "read cookbook: "+err.Error())
	}

	return cb.parseLines(path, lines)
}

func (cb *Cookbook) parseLines(file string, lines []string) error {
	i := 0
	for i < len(lines) {
		raw := lines[i]
		pos := Position{File: file, Line: i + 1}
		line := stripComment(raw)
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			i++
		case isIndented(raw):
			// An indented line with no preceding header is stray text;
			// ignore it rather than failing the whole cookbook.
			i++
		case strings.HasPrefix(trimmed, "#include"):
			if err := cb.handleInclude(trimmed, pos); err != nil {
				return err
			}
			i++
		case strings.HasPrefix(trimmed, "?"):
			prog, err := cb.compileWordExpr(strings.TrimSpace(trimmed[1:]), pos)
			if err != nil {
				return err
			}
			cb.pendingPrecondition = prog
			i++
		case isAssignment(trimmed):
			if err := cb.handleAssignment(trimmed, pos); err != nil {
				return err
			}
			i++
		case strings.Contains(trimmed, ":"):
			next, err := cb.handleHeader(trimmed, pos, lines, i+1)
			if err != nil {
				return err
			}
			i = next
		default:
			i++
		}
	}
	return nil
}

func isIndented(raw string) bool {
	return len(raw) > 0 && (raw[0] == ' ' || raw[0] == '\t')
}

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\'' {
			inQuote = !inQuote
		} else if c == '#' && !inQuote {
			return line[:i]
		}
	}
	return line
}

// isAssignment reports whether the line's first top-level operator is
// `=` rather than `:`, scanning left to right outside brackets/quotes.
func isAssignment(line string) bool {
	depth := 0
	inQuote := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '[':
			depth++
		case c == ']':
			depth--
		case depth > 0:
		case c == '=':
			return true
		case c == ':':
			return false
		}
	}
	return false
}

func (cb *Cookbook) handleAssignment(line string, pos Position) error {
	name, rest, ok := strings.Cut(line, "=")
	name = strings.TrimSpace(name)
	if !ok || !isValidVarName(name) {
		return newErr(ErrParse, pos, "invalid assignment target `"+name+"'")
	}
	prog, err := cb.compileWordExpr(strings.TrimSpace(rest), pos)
	if err != nil {
		return err
	}
	eng := NewSubstEngine(cb.Globals)
	ctx := NewContext(eng, cb.Opts)
	wl, outcome, rerr := ctx.Run(prog, nil)
	if outcome == OutcomeError {
		return rerr
	}
	cb.Globals[name] = wl
	if cb.MustUse != nil {
		cb.MustUse[name] = true
	}
	return nil
}

func (cb *Cookbook) handleInclude(line string, pos Position) error {
	_, arg, ok := strings.Cut(line, "#include")
	if !ok {
		return nil
	}
	name := strings.Trim(strings.TrimSpace(arg), `"`)
	if name == "" {
		return newErr(ErrParse, pos, "#include with no filename")
	}
	resolved, exists := cb.Search.Resolve(name)
	if !exists {
		return newErr(ErrParse, pos, "#include: cannot find "+name)
	}
	return cb.ParseFile(resolved)
}

// handleHeader parses one recipe/cascade header starting at lines[next-1]
// (already trimmed into `line`) and, for a recipe, consumes its indented
// body. Returns the index of the first line not consumed.
func (cb *Cookbook) handleHeader(line string, pos Position, lines []string, next int) (int, error) {
	bracket, withoutBracket := extractBracket(line)
	targetsPart, rest, multiple, ok := splitColon(withoutBracket)
	if !ok {
		return next, newErr(ErrParse, pos, "expected `:' in header `"+line+"'")
	}

	targetToks := splitArgs(targetsPart)
	if len(targetToks) == 0 {
		return next, newErr(ErrParse, pos, "recipe with no targets")
	}

	need1Part, need2Part, hasNeed2 := splitColon2(rest)
	flags, threadWords, hostWords := parseBracket(bracket)

	precond := cb.pendingPrecondition
	cb.pendingPrecondition = nil

	// No recipe body and no explicit flags: a bare `target: ingredients`
	// line registers each ingredient as a cascade entry of each target
	// (spec.md §4.10) and is also added below as an ingredients-only
	// recipe.
	bodyStart := next
	bodyEnd := bodyStart
	for bodyEnd < len(lines) && isIndented(lines[bodyEnd]) && strings.TrimSpace(lines[bodyEnd]) != "" {
		bodyEnd++
	}

	if bodyEnd == bodyStart && !hasNeed2 && len(flags) == 0 && len(threadWords) == 0 && len(hostWords) == 0 {
		ingredientToks := splitArgs(need1Part)
		for _, target := range targetToks {
			for _, ing := range ingredientToks {
				cb.Cascades.Register(target, ing, pos)
			}
		}
	}

	r := &Recipe{Pos: pos, Multiple: multiple, Flags: flags}
	for _, t := range targetToks {
		r.Targets = append(r.Targets, cb.compileTargetPattern(t))
	}
	var err error
	if r.Need1, err = cb.compileNeedExpr(need1Part); err != nil {
		return bodyEnd, err
	}
	if hasNeed2 {
		if r.Need2, err = cb.compileNeedExpr(need2Part); err != nil {
			return bodyEnd, err
		}
	}
	r.Precondition = precond
	if r.SingleThread, err = cb.compileWordExpr(strings.Join(threadWords, " "), pos); err != nil {
		return bodyEnd, err
	}
	if r.HostBinding, err = cb.compileWordExpr(strings.Join(hostWords, " "), pos); err != nil {
		return bodyEnd, err
	}

	for _, raw := range lines[bodyStart:bodyEnd] {
		body := strings.TrimLeft(raw, " \t")
		linePos := pos
		ops, isUpToDate := cb.compileBodyLine(body, linePos)
		if isUpToDate {
			r.UpToDateBody = append(r.UpToDateBody, ops...)
		} else {
			r.OutOfDateBody = append(r.OutOfDateBody, ops...)
		}
	}
	r.OutOfDate = len(r.OutOfDateBody) > 0

	cb.Recipes.Add(r)
	return bodyEnd, nil
}

// splitColon finds the first top-level `::` or `:` (outside quotes),
// returning (before, after, isDoubleColon, found).
func splitColon(s string) (string, string, bool, bool) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' {
			inQuote = !inQuote
			continue
		}
		if inQuote || c != ':' {
			continue
		}
		if i+1 < len(s) && s[i+1] == ':' {
			return s[:i], s[i+2:], true, true
		}
		return s[:i], s[i+1:], false, true
	}
	return s, "", false, false
}

// splitColon2 finds an optional second top-level colon separating need1
// from need2.
func splitColon2(s string) (string, string, bool) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' {
			inQuote = !inQuote
			continue
		}
		if !inQuote && c == ':' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// extractBracket pulls a trailing balanced `[...]` attribute block off
// the end of line, if present.
func extractBracket(line string) (bracket string, rest string) {
	trimmed := strings.TrimRight(line, " \t")
	if !strings.HasSuffix(trimmed, "]") {
		return "", line
	}
	depth := 0
	for i := len(trimmed) - 1; i >= 0; i-- {
		switch trimmed[i] {
		case ']':
			depth++
		case '[':
			depth--
			if depth == 0 {
				return trimmed[i+1 : len(trimmed)-1], trimmed[:i]
			}
		}
	}
	return "", line
}

func parseBracket(bracket string) (map[Flag]bool, []string, []string) {
	flags := make(map[Flag]bool)
	var threadWords, hostWords []string
	for _, tok := range strings.Fields(bracket) {
		switch {
		case strings.HasPrefix(tok, "thread:"):
			threadWords = append(threadWords, tok[len("thread:"):])
		case strings.HasPrefix(tok, "host:"):
			hostWords = append(hostWords, tok[len("host:"):])
		case strings.HasPrefix(tok, "no-"):
			flags[Flag(tok[3:])] = false
		default:
			flags[Flag(tok)] = true
		}
	}
	return flags, threadWords, hostWords
}

// parseEdgeSigil strips a leading edge-type sigil from an ingredient
// token: `!` strict, `~` weak, `?` exists-only, else default.
func parseEdgeSigil(tok string) (EdgeType, string) {
	if tok == "" {
		return EdgeDefault, tok
	}
	switch tok[0] {
	case '!':
		return EdgeStrict, tok[1:]
	case '~':
		return EdgeWeak, tok[1:]
	case '?':
		return EdgeExists, tok[1:]
	default:
		return EdgeDefault, tok
	}
}

func (cb *Cookbook) compileNeedExpr(text string) ([]Op, error) {
	var ops []Op
	for _, tok := range splitArgs(text) {
		edge, word := parseEdgeSigil(tok)
		if word == "" {
			continue
		}
		ops = append(ops, Op{Kind: OpPushWord, Text: word, Edge: edge})
	}
	return ops, nil
}

func (cb *Cookbook) compileWordExpr(text string, pos Position) ([]Op, error) {
	var ops []Op
	for _, tok := range splitArgs(text) {
		if tok == "" {
			continue
		}
		ops = append(ops, Op{Kind: OpPushWord, Text: tok, Pos: pos})
	}
	return ops, nil
}

// compileBodyLine compiles one indented recipe line into the opcodes
// for a single `command` invocation (spec.md §4.9). A line starting
// with `!` belongs to the up-to-date body instead.
func (cb *Cookbook) compileBodyLine(line string, pos Position) ([]Op, bool) {
	isUpToDate := false
	if strings.HasPrefix(line, "!") {
		isUpToDate = true
		line = line[1:]
	}
	var ops []Op
	for _, tok := range splitArgs(line) {
		ops = append(ops, Op{Kind: OpPushWord, Text: tok, Pos: pos})
	}
	ops = append(ops, Op{Kind: OpCommand, Pos: pos})
	return ops, isUpToDate
}

func (cb *Cookbook) compileTargetPattern(tok string) TargetPattern {
	if cb.Opts.Get(FlagMatchModeRegex) {
		if rp, err := CompileRegexPattern(tok); err == nil {
			return TargetPattern{Regex: rp}
		}
		return TargetPattern{Literal: tok}
	}
	if strings.Contains(tok, "%") {
		if cp, err := CompileCookPattern(tok, cb.Opts.Get(FlagAllowRelaxedZero)); err == nil {
			return TargetPattern{Cook: cp}
		}
	}
	return TargetPattern{Literal: tok}
}

// debugDumpRecipes prints every explicit recipe via litter. No
// command-line switch calls it.
func debugDumpRecipes(w *os.File, rt *RecipeTable) {
	for _, r := range rt.AllExplicit() {
		fmt.Fprintf(w, "%s\n", litter.Sdump(r))
	}
}
