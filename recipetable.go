// Recipe and recipe table: explicit and implicit recipes, indexed by
// target string / fixed trailing basename (spec.md §3 "Recipe",
// "Recipe table", §4.4).

package main

import (
	"path"
	"strings"
)

// TargetPattern is one target word of a recipe: either a constant string
// or a cook/regex pattern, selected by the recipe's match-mode-regex
// flag at parse time.
type TargetPattern struct {
	Literal string // set when Cook == nil && Regex == nil
	Cook    *CookPattern
	Regex   *RegexPattern
}

func (t TargetPattern) IsWild() bool { return t.Cook != nil || t.Regex != nil }

func (t TargetPattern) Match(candidate string) (*MatchContext, bool) {
	switch {
	case t.Cook != nil:
		return t.Cook.Match(candidate)
	case t.Regex != nil:
		return t.Regex.Match(candidate)
	default:
		if candidate == t.Literal {
			return newMatchContext(), true
		}
		return nil, false
	}
}

// fixedBasename returns the pattern's basename component when it
// contains no wildcard, for the implicit-recipe secondary index
// (spec.md §4.4).
func (t TargetPattern) fixedBasename() (string, bool) {
	if t.IsWild() {
		return "", false
	}
	b := path.Base(t.Literal)
	if strings.ContainsAny(b, "%") {
		return "", false
	}
	return b, true
}

// Recipe is an immutable record describing how to build a set of
// targets from a set of ingredients (spec.md §3 "Recipe").
type Recipe struct {
	Targets []TargetPattern

	Need1 []Op // ingredient expression opcodes (search/backtrack preferred)
	Need2 []Op // ingredient expression opcodes (prefer-error backtrack)

	Flags map[Flag]bool

	Precondition  []Op
	OutOfDateBody []Op
	UpToDateBody  []Op
	SingleThread  []Op
	HostBinding   []Op

	Pos Position

	Multiple   bool // `::` — does not shadow further recipes with same target
	OutOfDate  bool // has a non-empty action body
	IsImplicit bool
}

// RecipeTable holds the two indexed collections of spec.md §4.4.
type RecipeTable struct {
	explicit       map[string][]*Recipe
	explicitOrder  []*Recipe
	implicit       []*Recipe
	implicitByBase map[string][]*Recipe
}

func NewRecipeTable() *RecipeTable {
	return &RecipeTable{
		explicit:       make(map[string][]*Recipe),
		implicitByBase: make(map[string][]*Recipe),
	}
}

// Add inserts r into the explicit list (all target words constant) or
// the implicit list (any target word is a pattern), and appends it to
// the matching secondary index entries (spec.md §4.4).
func (t *RecipeTable) Add(r *Recipe) {
	anyWild := false
	for _, tp := range r.Targets {
		if tp.IsWild() {
			anyWild = true
			break
		}
	}
	r.IsImplicit = anyWild
	if anyWild {
		t.implicit = append(t.implicit, r)
		for _, tp := range r.Targets {
			if base, ok := tp.fixedBasename(); ok {
				t.implicitByBase[base] = append(t.implicitByBase[base], r)
			}
		}
		return
	}
	t.explicitOrder = append(t.explicitOrder, r)
	for _, tp := range r.Targets {
		t.explicit[tp.Literal] = append(t.explicit[tp.Literal], r)
	}
}

// ExplicitFor returns every explicit recipe naming target, in source
// order.
func (t *RecipeTable) ExplicitFor(target string) []*Recipe {
	return t.explicit[target]
}

// ImplicitCandidates returns focused candidates first (indexed by the
// fixed trailing basename of target, if any), then the complete implicit
// list for full matching (spec.md §4.4 "Lookup during graph build
// consults the indexes first, then iterates the complete implicit list").
func (t *RecipeTable) ImplicitCandidates(target string) []*Recipe {
	base := path.Base(target)
	focused := t.implicitByBase[base]
	if len(focused) == 0 {
		return t.implicit
	}
	seen := make(map[*Recipe]bool, len(focused))
	out := make([]*Recipe, 0, len(focused)+len(t.implicit))
	for _, r := range focused {
		out = append(out, r)
		seen[r] = true
	}
	for _, r := range t.implicit {
		if !seen[r] {
			out = append(out, r)
		}
	}
	return out
}

// AllExplicit returns every explicit recipe in source order (used by the
// default-target rule: "empty [goal list] means use the first explicit
// recipe's targets").
func (t *RecipeTable) AllExplicit() []*Recipe { return t.explicitOrder }
