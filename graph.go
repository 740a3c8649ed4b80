// Graph builder: instantiates recipes against targets and resolves them
// recursively with backtracking, producing the bipartite dependency
// graph the walker later drains (spec.md §4.5, §4.6).

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BuildStatus is the outcome of building one file node.
type BuildStatus int

const (
	BuildSuccess BuildStatus = iota
	BuildBacktrack
	BuildError
)

// Preference controls whether an unresolved target backtracks quietly or
// is reported as an error (spec.md §4.5 step 7, §4.6 step 4 "need2 using
// prefer-error preference").
type Preference int

const (
	PreferBacktrack Preference = iota
	PreferError
)

// GraphFileNode is a node keyed by resolved path (spec.md §3).
type GraphFileNode struct {
	Path string

	Producers []*GraphRecipeNode // recipes that build this file
	Consumers []*GraphRecipeNode // recipes that need this file as ingredient

	pending         bool
	built           bool
	previousStatus  BuildStatus
	previousErr     error
	primaryTarget   bool
	declaredLeaf    bool
	declaredNonLeaf bool
	declaredExterior bool

	// scheduler bookkeeping, populated and consumed by the walker (walker.go)
	inputSatisfied int
	inputUpToDate  int
	resultUpToDate bool
	done           bool
	listeners      []chan struct{}
}

// GraphEdge tags one ingredient edge with its freshness strictness.
type GraphEdge struct {
	Node *GraphFileNode
	Edge EdgeType
}

// GraphRecipeNode is a recipe instance bound to a particular target
// match (spec.md §3 "Graph recipe node").
type GraphRecipeNode struct {
	Recipe  *Recipe
	Match   *MatchContext
	Targets []*GraphFileNode
	Inputs  []GraphEdge

	SingleThread []string
	HostBinding  []string

	// scheduler bookkeeping
	inputSatisfied int
	inputUpToDate  int
	started        bool
	done           bool
	result         BuildStatus
}

// Builder owns the state threaded through graph construction: the recipe
// table, search list, stat cache, cascade registry, file-pair checker
// and the global variable table backing new SubstEngines (spec.md §9
// "Global state... prefer a single engine context object").
type Builder struct {
	Recipes   *RecipeTable
	Search    *SearchList
	Stats     *StatCache
	Cascades  *CascadeRegistry
	FilePairs *FilePairChecker
	Opts      *OptionStack
	Globals   map[string]WordList

	// MustUse names the cookbook-assigned variables (spec.md §4.1
	// "substitution-variable table entries") that carry the must_be_used
	// diagnostic; populated by Cookbook.handleAssignment, not by the
	// environment variables folded into Globals at startup. globalsUsed
	// is the usage accumulator shared by every SubstEngine this builder
	// hands out (graph-check engines and, via the walker, recipe-body
	// execution engines alike), so a reference anywhere during the whole
	// build clears the flag, matching "cleared on first reference".
	MustUse     map[string]bool
	globalsUsed map[string]bool

	nodes   map[string]*GraphFileNode
	tryList []string

	Warn func(string)
}

func NewBuilder(rt *RecipeTable, sl *SearchList, sc *StatCache, cr *CascadeRegistry, fp *FilePairChecker, opts *OptionStack, globals map[string]WordList) *Builder {
	return &Builder{
		Recipes: rt, Search: sl, Stats: sc, Cascades: cr, FilePairs: fp, Opts: opts,
		Globals: globals, nodes: make(map[string]*GraphFileNode),
		MustUse: make(map[string]bool), globalsUsed: make(map[string]bool),
	}
}

func (b *Builder) warn(msg string) {
	if b.Warn != nil {
		b.Warn(msg)
	}
}

// Nodes exposes the built graph for the walker and for `-d` visualization.
func (b *Builder) Nodes() map[string]*GraphFileNode { return b.nodes }

// BuildList calls BuildFile for each target; if waffle is set and the
// result is success, the target's node is marked primaryTarget, which
// controls the final "already up to date" message (spec.md §4.5
// "build_list").
func (b *Builder) BuildList(targets []string, pref Preference, waffle bool) (BuildStatus, error) {
	status := BuildSuccess
	var firstErr error
	for _, t := range targets {
		st, node, err := b.BuildFile(t, pref, true)
		if waffle && st == BuildSuccess && node != nil {
			node.primaryTarget = true
		}
		if st == BuildError && firstErr == nil {
			firstErr = err
		}
		if st != BuildSuccess && status == BuildSuccess {
			status = st
		}
	}
	return status, firstErr
}

// BuildFile implements spec.md §4.5's build_file algorithm.
func (b *Builder) BuildFile(target string, pref Preference, implicitAllowed bool) (BuildStatus, *GraphFileNode, error) {
	if b.Opts.Get(FlagStripDot) {
		target = stripDotSlash(target)
	}

	if node, ok := b.nodes[target]; ok {
		if node.pending {
			return BuildError, node, newErr(ErrBuildRecursion, Position{}, target+" is the subject of a recipe infinite loop")
		}
		return node.previousStatus, node, node.previousErr
	}

	node := &GraphFileNode{Path: target, pending: true}
	b.nodes[target] = node

	st, err := b.buildFileBody(target, node, pref, implicitAllowed)
	node.pending = false
	node.built = true
	node.previousStatus = st
	node.previousErr = err
	if st == BuildBacktrack {
		b.tryList = append(b.tryList, target)
	}
	return st, node, err
}

func (b *Builder) classifyLeafness(target string, node *GraphFileNode) {
	if node.declaredLeaf || node.declaredNonLeaf {
		return
	}
	if _, exists := b.Search.Resolve(target); exists {
		node.declaredLeaf = !b.hasAnyApplicableRecipe(target)
	}
}

func (b *Builder) hasAnyApplicableRecipe(target string) bool {
	if len(b.Recipes.ExplicitFor(target)) > 0 {
		return true
	}
	for _, r := range b.Recipes.ImplicitCandidates(target) {
		for _, tp := range r.Targets {
			if _, ok := tp.Match(target); ok {
				return true
			}
		}
	}
	return false
}

// buildFileBody implements spec.md §4.5 steps 3-7.
func (b *Builder) buildFileBody(target string, node *GraphFileNode, pref Preference, implicitAllowed bool) (BuildStatus, error) {
	b.classifyLeafness(target, node)

	// Step 4: ingredients-only recipes contribute common_ingredients and
	// mark the target phony-eligible.
	commonIngredients, commonErr, phonyEligible := b.collectCommonIngredients(target)
	if commonErr != nil {
		return BuildError, commonErr
	}

	// Step 5: explicit recipes with an action body, in source order.
	for _, r := range b.Recipes.ExplicitFor(target) {
		if len(r.OutOfDateBody) == 0 {
			continue // pure ingredients recipe, already folded into commonIngredients
		}
		grn, status, err := b.checkRecipe(r, target, nil, commonIngredients)
		switch status {
		case BuildSuccess:
			node.Producers = append(node.Producers, grn)
			if !r.Multiple {
				return BuildSuccess, nil
			}
		case BuildError:
			return BuildError, err
		}
	}
	if len(node.Producers) > 0 {
		return BuildSuccess, nil
	}

	// Step 6: implicit recipes, focused index first then full list.
	if implicitAllowed && b.Opts.Get(FlagImplicitAllowed) {
		for _, r := range b.Recipes.ImplicitCandidates(target) {
			if len(r.OutOfDateBody) == 0 {
				continue
			}
			for _, tp := range r.Targets {
				mc, ok := tp.Match(target)
				if !ok {
					continue
				}
				grn, status, err := b.checkRecipe(r, target, mc, commonIngredients)
				switch status {
				case BuildSuccess:
					node.Producers = append(node.Producers, grn)
				case BuildError:
					return BuildError, err
				}
			}
			if len(node.Producers) > 0 && !r.Multiple {
				break
			}
		}
	}
	if len(node.Producers) > 0 {
		return BuildSuccess, nil
	}

	// Step 7: no recipe fired.
	if node.declaredLeaf {
		if _, exists := b.Search.Resolve(target); exists {
			return BuildSuccess, nil
		}
		return BuildError, newErr(ErrDontKnowHow, Position{}, "don't know how to make "+target+" (declared leaf, but missing)")
	}
	if node.declaredExterior {
		return BuildBacktrack, nil
	}
	if phonyEligible || len(commonIngredients) > 0 {
		grn := &GraphRecipeNode{Recipe: &Recipe{}, Targets: []*GraphFileNode{node}}
		for _, e := range commonIngredients {
			grn.Inputs = append(grn.Inputs, e)
			e.Node.Consumers = append(e.Node.Consumers, grn)
		}
		node.Producers = append(node.Producers, grn)
		return BuildSuccess, nil
	}
	if _, exists := b.Search.Resolve(target); exists {
		return BuildSuccess, nil
	}
	if pref == PreferError {
		msg := "don't know how to make " + target
		if len(b.tryList) > 0 {
			msg += " (also failed: " + strings.Join(b.tryList, ", ") + ")"
		}
		return BuildError, newErr(ErrDontKnowHow, Position{}, msg)
	}
	return BuildBacktrack, nil
}

// collectCommonIngredients implements spec.md §4.5 step 4.
func (b *Builder) collectCommonIngredients(target string) ([]GraphEdge, error, bool) {
	var edges []GraphEdge
	applied := false
	for _, r := range b.Recipes.ExplicitFor(target) {
		if len(r.OutOfDateBody) > 0 {
			continue
		}
		if len(r.Need1)+len(r.Need2) == 0 {
			continue
		}
		applied = true
		es, err := b.buildIngredients(r, nil, target)
		if err != nil {
			return nil, err, false
		}
		edges = unionEdges(edges, es)
	}
	for _, r := range b.Recipes.ImplicitCandidates(target) {
		if len(r.OutOfDateBody) > 0 {
			continue
		}
		for _, tp := range r.Targets {
			mc, ok := tp.Match(target)
			if !ok {
				continue
			}
			applied = true
			es, err := b.buildIngredients(r, mc, target)
			if err != nil {
				return nil, err, false
			}
			edges = unionEdges(edges, es)
			break
		}
	}
	return edges, nil, applied
}

func unionEdges(a, bb []GraphEdge) []GraphEdge {
	seen := make(map[string]bool, len(a))
	out := append([]GraphEdge{}, a...)
	for _, e := range a {
		seen[e.Node.Path] = true
	}
	for _, e := range bb {
		if !seen[e.Node.Path] {
			seen[e.Node.Path] = true
			out = append(out, e)
		}
	}
	return out
}

// checkRecipe implements spec.md §4.6 "check_recipe": if ingredient
// checking succeeds, materialize a graph-recipe node and double-link it.
func (b *Builder) checkRecipe(r *Recipe, target string, mc *MatchContext, common []GraphEdge) (*GraphRecipeNode, BuildStatus, error) {
	restore := b.Opts.PushScope(LevelRecipe, r.Flags)
	defer restore()

	eng := b.newSubstEngine(mc)
	eng.Thread["target"] = NewWordList(target)
	eng.Thread["targets"] = NewWordList(target)

	if len(r.Precondition) > 0 && b.Opts.Get(FlagGateBeforeIngredients) {
		ctx := NewContext(eng, b.Opts)
		result, outcome, err := ctx.Run(r.Precondition, nil)
		if outcome == OutcomeError {
			return nil, BuildError, err
		}
		if len(result) == 0 {
			return nil, BuildBacktrack, nil
		}
	}

	edges, err := b.buildIngredients(r, mc, target)
	if err != nil {
		return nil, BuildError, err
	}
	edges = unionEdges(edges, common)

	if b.Opts.Get(FlagCascade) {
		names := make([]string, len(edges))
		for i, e := range edges {
			names[i] = e.Node.Path
		}
		for _, ce := range b.Cascades.Find(names) {
			st, cnode, berr := b.BuildFile(ce.Ingredient, PreferBacktrack, true)
			if st == BuildError {
				return nil, BuildError, berr
			}
			if st == BuildSuccess {
				edges = unionEdges(edges, []GraphEdge{{Node: cnode, Edge: EdgeDefault}})
			}
		}
	}

	if len(r.Precondition) > 0 && !b.Opts.Get(FlagGateBeforeIngredients) {
		eng.Thread["need"] = edgesToWordList(edges)
		ctx := NewContext(eng, b.Opts)
		result, outcome, perr := ctx.Run(r.Precondition, nil)
		if outcome == OutcomeError {
			return nil, BuildError, perr
		}
		if len(result) == 0 {
			return nil, BuildBacktrack, nil
		}
	}

	grn := &GraphRecipeNode{Recipe: r, Match: mc, Inputs: edges}
	for _, tp := range r.Targets {
		tname := target
		if mc != nil && tp.IsWild() && tp.Cook != nil {
			if rebuilt, rerr := tp.Cook.Reconstruct(tp.Cook.src, mc); rerr == nil {
				tname = rebuilt
			}
		} else if !tp.IsWild() {
			tname = tp.Literal
		}
		tnode, ok := b.nodes[tname]
		if !ok {
			tnode = &GraphFileNode{Path: tname}
			b.nodes[tname] = tnode
		}
		grn.Targets = append(grn.Targets, tnode)
	}
	for _, e := range edges {
		e.Node.Consumers = append(e.Node.Consumers, grn)
	}

	grn.SingleThread = evalWordExpr(eng, b.Opts, r.SingleThread)
	grn.HostBinding = evalWordExpr(eng, b.Opts, r.HostBinding)

	for _, t := range grn.Targets {
		for _, e := range edges {
			b.FilePairs.Record(t.Path, e.Node.Path, r.Pos)
		}
	}

	return grn, BuildSuccess, nil
}

func edgesToWordList(edges []GraphEdge) WordList {
	wl := make(WordList, len(edges))
	for i, e := range edges {
		wl[i] = WE(e.Node.Path, e.Edge)
	}
	return wl
}

func evalWordExpr(eng *SubstEngine, opts *OptionStack, prog []Op) []string {
	if len(prog) == 0 {
		return nil
	}
	ctx := NewContext(eng, opts)
	wl, outcome, _ := ctx.Run(prog, nil)
	if outcome != OutcomeSuccess {
		return nil
	}
	return wl.Strings()
}

// buildIngredients implements spec.md §4.6 "check_ingredients" steps
// 3-5: evaluate need1/need2, recurse via BuildFile, and accumulate the
// resolved edges.
func (b *Builder) buildIngredients(r *Recipe, mc *MatchContext, target string) ([]GraphEdge, error) {
	eng := b.newSubstEngine(mc)
	// Bind target/targets on this check's own Thread scope, not the
	// Globals map shared across every recipe's engine (spec.md §4.6 step
	// 3): writing to Global here would leak this target's binding into
	// every other recipe built afterward (see checkRecipe and the walker's
	// execution-time rebind of the same variables from grn.Targets).
	eng.Thread["target"] = NewWordList(target)
	eng.Thread["targets"] = NewWordList(target)

	var edges []GraphEdge

	evalNeed := func(prog []Op, pref Preference) error {
		if len(prog) == 0 {
			return nil
		}
		ctx := NewContext(eng, b.Opts)
		wl, outcome, err := ctx.Run(prog, nil)
		if outcome == OutcomeError {
			return err
		}
		for _, w := range wl {
			name := w.Text
			if b.Opts.Get(FlagStripDot) {
				name = stripDotSlash(name)
			}
			if name == "" {
				continue
			}
			if r.IsImplicit && !b.Opts.Get(FlagRecurse) && wordMatchesAnyTarget(r, name) {
				continue // self-referential ingredient of an implicit recipe: dropped unless recurse
			}
			st, node, berr := b.BuildFile(name, pref, true)
			if st == BuildError {
				return berr
			}
			if st == BuildSuccess {
				edges = append(edges, GraphEdge{Node: node, Edge: w.Edge})
			}
		}
		return nil
	}

	if err := evalNeed(r.Need1, PreferBacktrack); err != nil {
		return nil, err
	}
	if err := evalNeed(r.Need2, PreferError); err != nil {
		return nil, err
	}
	return edges, nil
}

// wordMatchesAnyTarget reports whether word matches one of r's own target
// patterns. buildIngredients uses it as the recursion guard of spec.md
// §4.6 step 4: such an ingredient of an implicit recipe is dropped from
// the recipe's edges unless `recurse` is set. The recipe itself is not
// marked inhibited; it stays available for other targets.
func wordMatchesAnyTarget(r *Recipe, word string) bool {
	for _, tp := range r.Targets {
		if _, ok := tp.Match(word); ok {
			return true
		}
	}
	return false
}

func (b *Builder) newSubstEngine(mc *MatchContext) *SubstEngine {
	eng := NewSubstEngine(b.Globals)
	// Restrict the must_be_used diagnostic to cookbook-assigned variables
	// (MustUse) rather than every entry in Globals, which also holds the
	// imported OS environment; share the usage accumulator across the
	// whole build instead of per-engine so a reference from any recipe's
	// substitutions, not just this one, clears the flag.
	eng.Flags = make(map[string]VarFlags, len(b.MustUse))
	for name := range b.MustUse {
		eng.Flags[name] = VarFlags{MustBeUsed: true}
	}
	eng.usedThisExpand = b.globalsUsed
	eng.Thread = make(map[string]WordList)
	if mc != nil {
		for i, v := range mc.bindings {
			if !mc.bound[i] {
				continue
			}
			key := "stem"
			if i != 0 {
				key = fmt.Sprintf("stem%d", i)
			}
			eng.Thread[key] = NewWordList(v)
		}
	}
	return eng
}

// DeclareLeaf / DeclareNonLeaf / DeclareExterior override the inferred
// classification used in buildFileBody step 3. The cookbook front end has
// no directive that calls them.
func (b *Builder) DeclareLeaf(target string)     { b.node(target).declaredLeaf = true }
func (b *Builder) DeclareNonLeaf(target string)  { b.node(target).declaredNonLeaf = true }
func (b *Builder) DeclareExterior(target string) { b.node(target).declaredExterior = true }

func (b *Builder) node(target string) *GraphFileNode {
	n, ok := b.nodes[target]
	if !ok {
		n = &GraphFileNode{Path: target}
		b.nodes[target] = n
	}
	return n
}

// Visualize prints the built graph in graphviz format, useful under -d
// debugging output.
func (b *Builder) Visualize(w *os.File) {
	fmt.Fprintln(w, "digraph cook {")
	for path, n := range b.nodes {
		for _, p := range n.Producers {
			for _, e := range p.Inputs {
				fmt.Fprintf(w, "    %q -> %q;\n", filepath.Clean(path), e.Node.Path)
			}
		}
	}
	fmt.Fprintln(w, "}")
}
