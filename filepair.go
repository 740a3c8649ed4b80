// File-pair derivation check: every (target, ingredient) pair is
// recorded with the position of the declaring cookbook; if the
// ingredient is derived (non-leaf), at least one declaring position must
// come from a leaf cookbook (spec.md §4.11).

package main

import (
	"fmt"
	"sync"
)

// FilePairKey identifies one (target, ingredient) relation.
type FilePairKey struct {
	Target     string
	Ingredient string
}

// FilePairChecker accumulates declaring positions per pair, and whether
// each declaring file is itself a leaf cookbook (i.e. not something
// pulled in by #include-cooked from a derived/generated file).
type FilePairChecker struct {
	mu        sync.Mutex
	positions map[FilePairKey][]Position
	leafFiles map[string]bool

	warnedExplain bool
}

func NewFilePairChecker(leafFiles map[string]bool) *FilePairChecker {
	return &FilePairChecker{
		positions: make(map[FilePairKey][]Position),
		leafFiles: leafFiles,
	}
}

func (f *FilePairChecker) Record(target, ingredient string, pos Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := FilePairKey{target, ingredient}
	f.positions[k] = append(f.positions[k], pos)
}

// Check validates one pair at execution time: if ingredient is a derived
// (non-leaf) file, require at least one declaring position to be from a
// leaf cookbook. Returns the warning lines to print, if any, exactly
// once per pair; the explanatory line is appended exactly once per run
// across all pairs (spec.md §4.11).
func (f *FilePairChecker) Check(target, ingredient string, ingredientIsLeaf bool) []string {
	if ingredientIsLeaf {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := FilePairKey{target, ingredient}
	positions := f.positions[k]
	for _, p := range positions {
		if f.leafFiles[p.File] {
			return nil
		}
	}
	var onlyIn string
	if len(positions) > 0 {
		onlyIn = positions[0].File
	}
	var out []string
	out = append(out, fmt.Sprintf("the `%s: %s' recipe is only in %s", target, ingredient, onlyIn))
	if !f.warnedExplain {
		f.warnedExplain = true
		out = append(out, "this means a clean build will fail")
	}
	return out
}
