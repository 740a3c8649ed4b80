// Engine wires together every piece a single build invocation needs:
// the option stack, stat/fingerprint caches, search path, recipe table,
// cascade registry, file-pair checker, host binder, graph builder,
// executor and walker (spec.md §9 "Global state"). One Engine exists
// per process; main.go constructs it from parsed flags and cookbook
// files and drives it to completion.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Engine owns every piece of mutable state a build shares across
// targets: the parsed recipe/cascade tables, the stat and fingerprint
// caches, and the graph builder/walker pair that consumes them.
type Engine struct {
	Opts      *OptionStack
	Globals   map[string]WordList
	Search    *SearchList
	Recipes   *RecipeTable
	Cascades  *CascadeRegistry
	FilePairs *FilePairChecker
	Stats     *StatCache
	Fp        *FingerprintDB
	Hosts     *HostBinder
	Remote    *RemoteRunner
	Builder   *Builder
	Exec      *Executor

	// RaiseDesist, when non-nil, is wired to the most recently constructed
	// Walker's desist flag so a signal handler registered before Build can
	// still cancel an in-flight walk (spec.md §4.8 "Cancellation").
	RaiseDesist func()

	echoMu sync.Mutex
	Stdout *os.File
	Stderr *os.File
	Color  bool
}

// ANSI color codes for recipe echo output, matching the teacher's own
// mk.go color scheme: cyan for the command, reset after it.
const (
	ansiCyan  = "\x1b[36m"
	ansiReset = "\x1b[0m"
)

// NewEngine assembles an Engine from already-resolved configuration:
// search roots, a fingerprint store (nil keeps the fingerprint database
// in memory only: nothing is loaded or saved), the
// remote-shell command, and the option stack populated from the
// command line (spec.md §6).
func NewEngine(opts *OptionStack, searchRoots []string, fpStore FingerprintStore, rshCommand string, globalHosts []string) *Engine {
	globals := make(map[string]WordList)
	for _, kv := range os.Environ() {
		name, val, ok := strings.Cut(kv, "=")
		if ok {
			globals[name] = NewWordList(val)
		}
	}

	fp := NewFingerprintDB(fpStore)
	if fpStore != nil {
		fp.Load()
	}
	stats := NewStatCache(fp)
	search := NewSearchList(searchRoots)
	recipes := NewRecipeTable()
	cascades := NewCascadeRegistry()
	filePairs := NewFilePairChecker(nil)
	hosts := NewHostBinder(globalHosts)
	remote := NewRemoteRunner(rshCommand)

	builder := NewBuilder(recipes, search, stats, cascades, filePairs, opts, globals)
	exec := NewExecutor(stats, opts, hosts, remote)

	e := &Engine{
		Opts: opts, Globals: globals, Search: search, Recipes: recipes,
		Cascades: cascades, FilePairs: filePairs, Stats: stats, Fp: fp,
		Hosts: hosts, Remote: remote, Builder: builder, Exec: exec,
		Stdout: os.Stdout, Stderr: os.Stderr,
	}
	builder.Warn = e.Warn
	exec.Warn = e.Warn
	exec.Echo = e.echo
	return e
}

// LoadCookbook parses one cookbook file (and any it #includes) into the
// engine's recipe table, cascade registry and global variables.
func (e *Engine) LoadCookbook(path string) error {
	cb := NewCookbook(e.Recipes, e.Cascades, e.Globals, e.Search, e.Opts)
	cb.MustUse = e.Builder.MustUse
	return cb.ParseFile(path)
}

// Build resolves and runs every target, returning a nonzero-exit-worthy
// error on the first build failure (unless persevere keeps the walk
// going, in which case the first error is still returned at the end).
//
// The walker is constructed here, not in NewEngine: parallel_jobs may be
// set by a cookbook assignment or a CLI override applied between
// NewEngine and Build, and spec.md §4.8 requires the walker to read and
// normalize whatever value is in effect at that point.
func (e *Engine) Build(targets []string) error {
	var nodes []*GraphFileNode
	for _, t := range targets {
		status, node, err := e.Builder.BuildFile(t, PreferError, true)
		if err != nil {
			return err
		}
		if status == BuildBacktrack {
			return newErr(ErrDontKnowHow, Position{}, "don't know how to make "+t)
		}
		nodes = append(nodes, node)
	}

	walker := NewWalker(e.Builder, e.Exec, e.Opts, e.Globals)
	e.Exec.Desist = walker.desist
	e.RaiseDesist = walker.RaiseDesist

	if err := walker.Walk(nodes); err != nil {
		return err
	}
	e.checkMustUseVars()
	if e.Fp != nil {
		return e.Fp.Save()
	}
	return nil
}

// checkMustUseVars implements spec.md §4.1's "after expansion, the
// interpreter emits a diagnostic for every variable still marked
// must_be_used": once the whole build has finished running every
// recipe's substitutions, warn about any cookbook-assigned variable
// (e.Builder.MustUse) that no recipe body ever referenced. Non-fatal,
// like the file-pair checker's warnings.
func (e *Engine) checkMustUseVars() {
	eng := &SubstEngine{
		Global:         e.Globals,
		Flags:          make(map[string]VarFlags, len(e.Builder.MustUse)),
		usedThisExpand: e.Builder.globalsUsed,
	}
	for name := range e.Builder.MustUse {
		eng.Flags[name] = VarFlags{MustBeUsed: true}
	}
	for _, cerr := range eng.FinishAndWarn() {
		e.Warn(cerr.Error())
	}
}

// Warn prints a non-fatal diagnostic to stderr, serialized against echo
// output the way the teacher's mkMsgMutex does for recipe headers. Color
// is decided against stderr specifically (isatty.IsTerminal), since a
// caller may redirect stdout (recipe echo) while leaving stderr attached
// to a terminal, or the reverse.
func (e *Engine) Warn(msg string) {
	e.echoMu.Lock()
	defer e.echoMu.Unlock()
	text := "cook: warning: " + msg
	if e.Color && isatty.IsTerminal(e.Stderr.Fd()) {
		text = ansiCyan + text + ansiReset
	}
	fmt.Fprintln(e.Stderr, text)
}

// echo prints a recipe command before it runs, honoring :silent and the
// -d tell-position debugging switch, serialized against Warn and other
// recipes' echo output the way mkPrintRecipe locks mkMsgMutex.
func (e *Engine) echo(pos Position, cmd string, quiet bool) {
	if quiet {
		return
	}
	e.echoMu.Lock()
	defer e.echoMu.Unlock()
	text := cmd
	if e.Opts.Get(FlagTellPosition) {
		text = pos.String() + ": " + cmd
	}
	if e.Color {
		text = ansiCyan + text + ansiReset
	}
	fmt.Fprintln(e.Stdout, text)
}

// DumpGraph writes a graphviz rendering of the dependency graph built
// so far, for the -d graph debugging switch.
func (e *Engine) DumpGraph(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	e.Builder.Visualize(f)
	return nil
}

// defaultSearchRoots returns ["."] plus any directories named by
// COOK_PATH, colon-separated, mirroring the teacher's treatment of a
// shell PATH-style environment variable.
func defaultSearchRoots() []string {
	roots := []string{"."}
	if v := os.Getenv("COOK_PATH"); v != "" {
		for _, p := range filepath.SplitList(v) {
			if p != "" {
				roots = append(roots, p)
			}
		}
	}
	return roots
}
