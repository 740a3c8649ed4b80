// Recipe execution: the `command` opcode's full behavior, freshness
// comparison before running a recipe, and the freshness updates applied
// after its body finishes (spec.md §4.7 "Freshness", §4.9 "Recipe
// execution"). Grounded on the teacher's mkPrintRecipe/dorecipe pair in
// mk.go, generalized from mk's single prereq-mtime comparison to cook's
// two-ingredient-list, strict/weak/exists edge lattice and optional
// content fingerprinting.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmespath/go-jmespath"
)

// Executor runs graph-recipe-nodes: it decides whether a node is already
// up to date, and if not, interprets its out-of-date body, wiring the
// `command` opcode to an actual fork+exec (local or host-bound).
type Executor struct {
	Stats  *StatCache
	Opts   *OptionStack
	Hosts  *HostBinder
	Remote *RemoteRunner

	Echo   func(pos Position, cmd string, quiet bool)
	Warn   func(string)
	Desist func() bool

	Granularity time.Duration // timestamp granularity; 1s by default, 2s on FAT

	reasonMu sync.Mutex
	reason   []ReasonEntry
}

func NewExecutor(stats *StatCache, opts *OptionStack, hosts *HostBinder, remote *RemoteRunner) *Executor {
	return &Executor{Stats: stats, Opts: opts, Hosts: hosts, Remote: remote, Granularity: time.Second}
}

// ReasonEntry records one edge's freshness comparison, for the `--reason`
// diagnostic trace (spec.md §6 "reason" flag).
type ReasonEntry struct {
	Target          string `json:"target"`
	Ingredient      string `json:"ingredient"`
	Edge            string `json:"edge"`
	TargetMtime     string `json:"target_mtime"`
	IngredientMtime string `json:"ingredient_mtime"`
	OutOfDate       bool   `json:"out_of_date"`
}

func (ex *Executor) recordReason(e ReasonEntry) {
	if !ex.Opts.Get(FlagReason) {
		return
	}
	ex.reasonMu.Lock()
	ex.reason = append(ex.reason, e)
	ex.reasonMu.Unlock()
}

// ReasonTrace returns every recorded freshness comparison, optionally
// filtered by a JMESPath query (spec.md §6, SPEC_FULL.md §11 "reason-query").
func (ex *Executor) ReasonTrace(query string) (interface{}, error) {
	ex.reasonMu.Lock()
	entries := append([]ReasonEntry(nil), ex.reason...)
	ex.reasonMu.Unlock()

	if query == "" {
		return entries, nil
	}
	buf, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(buf, &generic); err != nil {
		return nil, err
	}
	return jmespath.Search(query, generic)
}

// RunResult mirrors the scheduler's result codes (spec.md §4.8 "Result
// codes").
type RunResult int

const (
	ResultUpToDate RunResult = iota
	ResultUpToDateDone
	ResultDone
	ResultError
)

// Run decides freshness for grn and interprets whichever body applies,
// returning the scheduler-visible result code.
func (ex *Executor) Run(grn *GraphRecipeNode, eng *SubstEngine) (RunResult, error) {
	upToDate, err := ex.checkFreshness(grn)
	if err != nil {
		return ResultError, err
	}

	ctx := NewContext(eng, ex.Opts)
	ctx.desist = ex.Desist
	ctx.echo = ex.Echo
	ctx.tellPos = ex.Opts.Get(FlagTellPosition)
	ctx.runCmd = func(c *Context, argWords, flagWords []string, stdin string) (Outcome, error) {
		return ex.execOne(c, grn, argWords)
	}

	body := grn.Recipe.UpToDateBody
	if !upToDate {
		body = grn.Recipe.OutOfDateBody
	}
	if len(body) == 0 {
		if upToDate {
			return ex.finishUpToDate(grn)
		}
		return ResultDone, nil
	}

	_, outcome, rerr := ctx.Run(body, nil)
	if outcome == OutcomeError {
		return ResultError, rerr
	}

	if upToDate {
		return ex.finishUpToDate(grn)
	}
	return ex.finishOutOfDate(grn)
}

// checkFreshness implements spec.md §4.7/§8 invariant 6: a target is up
// to date only if every ingredient edge is satisfied under its edge
// type, against every target this recipe produces. Under `force` every
// target is out of date.
func (ex *Executor) checkFreshness(grn *GraphRecipeNode) (bool, error) {
	if ex.Opts.Get(FlagForce) {
		return false, nil
	}
	fpOn := ex.Opts.Get(FlagFingerprint)
	for _, t := range grn.Targets {
		te, err := ex.Stats.Mtime(t.Path, true, fpOn)
		if err != nil {
			return false, err
		}
		if !te.exists() {
			return false, nil
		}
		for _, e := range grn.Inputs {
			if e.Edge == EdgeExists {
				ie, err := ex.Stats.Mtime(e.Node.Path, true, fpOn)
				if err != nil {
					return false, err
				}
				if !ie.exists() {
					return false, nil
				}
				continue
			}
			ie, err := ex.Stats.Mtime(e.Node.Path, true, fpOn)
			if err != nil {
				return false, err
			}
			if !ie.exists() {
				continue
			}
			outOfDate := false
			switch e.Edge {
			case EdgeStrict:
				outOfDate = !te.Oldest.After(ie.Newest)
			default: // EdgeDefault, EdgeWeak: equal mtimes are up to date
				outOfDate = te.Oldest.Before(ie.Newest)
			}
			ex.recordReason(ReasonEntry{
				Target: t.Path, Ingredient: e.Node.Path, Edge: e.Edge.String(),
				TargetMtime: te.Oldest.String(), IngredientMtime: ie.Newest.String(),
				OutOfDate: outOfDate,
			})
			if outOfDate {
				return false, nil
			}
		}
	}
	if ex.Opts.Get(FlagIngredientsFingerprint) && ex.Stats.fp != nil {
		hash := ingredientSetHash(grn)
		for _, t := range grn.Targets {
			prev, ok := ex.Stats.fp.Get(t.Path)
			if !ok || prev.IngredientsHash != hash {
				return false, nil
			}
		}
	}
	return true, nil
}

// ingredientSetHash hashes grn's current ingredient path set, sorted so
// the result only depends on membership, not build-order (spec.md §6
// "ingredients-fingerprint").
func ingredientSetHash(grn *GraphRecipeNode) string {
	names := make([]string, 0, len(grn.Inputs))
	for _, e := range grn.Inputs {
		names = append(names, e.Node.Path)
	}
	sort.Strings(names)
	return hashIngredientSet(names)
}

// recordIngredientsHash persists the current ingredient-set hash for
// each of grn's targets, independent of content fingerprinting, so the
// next build's checkFreshness can detect a changed ingredient list even
// when every individual ingredient's content is unchanged.
func (ex *Executor) recordIngredientsHash(grn *GraphRecipeNode) {
	if !ex.Opts.Get(FlagIngredientsFingerprint) || ex.Stats.fp == nil {
		return
	}
	hash := ingredientSetHash(grn)
	for _, t := range grn.Targets {
		prev, _ := ex.Stats.fp.Get(t.Path)
		prev.IngredientsHash = hash
		ex.Stats.fp.Set(t.Path, prev)
	}
}

// finishOutOfDate implements spec.md §4.9's post-run freshness update
// for the "a body actually ran" case.
func (ex *Executor) finishOutOfDate(grn *GraphRecipeNode) (RunResult, error) {
	ex.recordIngredientsHash(grn)
	fpOn := ex.Opts.Get(FlagFingerprint)
	if !fpOn {
		return ResultDone, nil
	}
	needAge := ex.newestInput(grn)
	allUnchanged := true
	for _, t := range grn.Targets {
		before, _ := ex.Stats.Mtime(t.Path, true, fpOn)
		ex.Stats.Clear(t.Path)
		target := needAge.Add(ex.Granularity)
		if before.Newest.After(target) {
			target = before.Newest
		}
		ex.Stats.Set(t.Path, target, true)
		after, err := ex.Stats.Mtime(t.Path, true, fpOn)
		if err != nil {
			return ResultError, err
		}
		if !after.Newest.Equal(before.Newest) {
			allUnchanged = false
		}
	}
	if allUnchanged {
		return ResultUpToDateDone, nil
	}
	return ResultDone, nil
}

// finishUpToDate implements the "no body ran" branch: when update or
// fingerprint mode is on, targets are nudged forward so they read as no
// older than their ingredients.
func (ex *Executor) finishUpToDate(grn *GraphRecipeNode) (RunResult, error) {
	if !ex.Opts.Get(FlagUpdate) && !ex.Opts.Get(FlagFingerprint) {
		return ResultUpToDate, nil
	}
	minAge := ex.newestInput(grn).Add(ex.Granularity)
	for _, t := range grn.Targets {
		if err := ex.Stats.AdjustMtime(t.Path, minAge, false, ex.Warn); err != nil {
			return ResultError, err
		}
	}
	return ResultUpToDate, nil
}

func (ex *Executor) newestInput(grn *GraphRecipeNode) time.Time {
	var newest time.Time
	for _, e := range grn.Inputs {
		ie, err := ex.Stats.Mtime(e.Node.Path, true, false)
		if err != nil || !ie.exists() {
			continue
		}
		if ie.Newest.After(newest) {
			newest = ie.Newest
		}
	}
	return newest
}

// parseCommandWords splits a command opcode's popped word list into
// per-execute flag settings (":flag" / ":no-flag"), an optional stdin
// document name ("<docname"), and the literal argv.
func parseCommandWords(words []string) (map[Flag]bool, []string, string, error) {
	flags := make(map[Flag]bool)
	var argv []string
	inputDoc := ""
	for _, w := range words {
		var name string
		var val bool
		switch {
		case strings.HasPrefix(w, ":no-"):
			name, val = w[4:], false
		case strings.HasPrefix(w, ":"):
			name, val = w[1:], true
		case strings.HasPrefix(w, "<"):
			inputDoc = w[1:]
			continue
		default:
			argv = append(argv, w)
			continue
		}
		f := Flag(name)
		if prev, ok := flags[f]; ok && prev != val {
			return nil, nil, "", newErr(ErrInterpreter, Position{}, "command: contradictory flag `"+name+"'")
		}
		flags[f] = val
	}
	return flags, argv, inputDoc, nil
}

// execOne implements spec.md §4.9 steps 1-8 for one `command` opcode.
func (ex *Executor) execOne(ctx *Context, grn *GraphRecipeNode, words []string) (Outcome, error) {
	flags, argv, inputDoc, perr := parseCommandWords(words)
	if perr != nil {
		return OutcomeError, perr
	}
	restore := ex.Opts.PushScope(LevelExecute, flags)
	defer restore()

	silent := ex.Opts.Get(FlagSilent)
	if ex.Echo != nil {
		ex.Echo(grn.Recipe.Pos, strings.Join(argv, " "), silent)
	}
	if !ex.Opts.Get(FlagAction) {
		return OutcomeSuccess, nil
	}

	if ex.Opts.Get(FlagInvalidateStatCache) {
		for _, a := range argv {
			ex.Stats.Clear(a)
		}
	}
	if ex.Opts.Get(FlagMkdir) {
		for _, t := range grn.Targets {
			if dir := filepath.Dir(t.Path); dir != "." {
				os.MkdirAll(dir, 0o777)
			}
		}
	}
	if ex.Opts.Get(FlagUnlink) {
		for _, t := range grn.Targets {
			os.Remove(t.Path)
			ex.Stats.Clear(t.Path)
		}
	}
	if ex.Opts.Get(FlagSymlinkIngredients) {
		for _, e := range grn.Inputs {
			for _, t := range grn.Targets {
				link := filepath.Join(filepath.Dir(t.Path), filepath.Base(e.Node.Path))
				os.Remove(link)
				os.Symlink(e.Node.Path, link)
			}
		}
	}
	if ex.Opts.Get(FlagTouch) {
		now := time.Now()
		for _, t := range grn.Targets {
			os.Chtimes(t.Path, now, now)
			ex.Stats.Set(t.Path, now, true)
		}
		return OutcomeSuccess, nil
	}
	if len(argv) == 0 {
		return OutcomeSuccess, nil
	}

	host := ex.Hosts.Next(grn.Recipe, grn.HostBinding)
	var status int
	var runErr error
	if host != "" && ex.Remote != nil {
		cwd, _ := os.Getwd()
		status, runErr = ex.Remote.Run(host, cwd, argv)
	} else {
		status, runErr = ex.runLocal(argv, inputDoc)
	}
	if runErr != nil {
		return OutcomeError, runErr
	}
	if status != 0 && !ex.Opts.Get(FlagErrok) {
		if !ex.Opts.Get(FlagPrecious) {
			for _, t := range grn.Targets {
				os.Remove(t.Path)
				ex.Stats.Clear(t.Path)
			}
		}
		return OutcomeError, newErr(ErrCommandExit, grn.Recipe.Pos, fmt.Sprintf("%s exited with status %d", argv[0], status))
	}
	return OutcomeSuccess, nil
}

func (ex *Executor) runLocal(argv []string, inputDoc string) (int, error) {
	if hasShellMeta(argv) {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = defaultShellPath()
		}
		argv = []string{shell, "-ce", strings.Join(argv, " ")}
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if inputDoc != "" {
		f, err := os.Open(inputDoc)
		if err != nil {
			return -1, newErr(ErrSystemCall, Position{}, "open input document: "+err.Error())
		}
		defer f.Close()
		cmd.Stdin = f
	}
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, newErr(ErrSystemCall, Position{}, "exec "+argv[0]+": "+err.Error())
}
