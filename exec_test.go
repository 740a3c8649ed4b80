// Unit coverage for checkFreshness's freshness decisions that a
// filesystem-level engine test can't pin down precisely: the
// ingredients-fingerprint comparison, which depends on the fingerprint
// DB's in-memory state persisting across builds rather than on mtimes
// alone.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T, opts *OptionStack) (*Executor, *StatCache) {
	t.Helper()
	fp := NewFingerprintDB(nil)
	stats := NewStatCache(fp)
	hosts := NewHostBinder(nil)
	remote := NewRemoteRunner("")
	return NewExecutor(stats, opts, hosts, remote), stats
}

func TestCheckFreshnessIngredientsFingerprintCatchesSetChange(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "a.o")
	ingredientPath := filepath.Join(dir, "a.c")
	extraPath := filepath.Join(dir, "extra.h")
	writeFile(t, targetPath, "old object")
	writeFile(t, ingredientPath, "")
	writeFile(t, extraPath, "")

	// Pin the target newer than both ingredients so every mtime-based
	// freshness comparison alone reads up to date; only the
	// ingredients-fingerprint comparison is exercised below.
	old := time.Now().Add(-time.Hour)
	newer := time.Now()
	for _, p := range []string{ingredientPath, extraPath} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatalf("chtimes %s: %v", p, err)
		}
	}
	if err := os.Chtimes(targetPath, newer, newer); err != nil {
		t.Fatalf("chtimes %s: %v", targetPath, err)
	}

	opts := NewOptionStack()
	opts.Set(LevelDefault, FlagIngredientsFingerprint, true)
	ex, _ := newTestExecutor(t, opts)

	target := &GraphFileNode{Path: targetPath}
	ingredient := &GraphFileNode{Path: ingredientPath}
	extra := &GraphFileNode{Path: extraPath}

	grn := &GraphRecipeNode{
		Targets: []*GraphFileNode{target},
		Inputs:  []GraphEdge{{Node: ingredient, Edge: EdgeDefault}},
	}

	// First sighting: no stored ingredients hash yet, so the target reads
	// out of date regardless of mtimes.
	fresh, err := ex.checkFreshness(grn)
	if err != nil {
		t.Fatalf("checkFreshness: %v", err)
	}
	if fresh {
		t.Fatalf("expected a target with no recorded ingredients hash to read out of date")
	}
	if _, err := ex.finishOutOfDate(grn); err != nil {
		t.Fatalf("finishOutOfDate: %v", err)
	}

	// Unchanged ingredient set: now up to date.
	fresh, err = ex.checkFreshness(grn)
	if err != nil {
		t.Fatalf("checkFreshness (2nd): %v", err)
	}
	if !fresh {
		t.Errorf("expected the target to read up to date with its ingredient set unchanged")
	}

	// Add extra.h to the ingredient set without touching any mtime: a
	// pure mtime/content comparison would still call this up to date, but
	// ingredients-fingerprint must catch the membership change.
	grn.Inputs = []GraphEdge{
		{Node: ingredient, Edge: EdgeDefault},
		{Node: extra, Edge: EdgeDefault},
	}
	fresh, err = ex.checkFreshness(grn)
	if err != nil {
		t.Fatalf("checkFreshness (3rd): %v", err)
	}
	if fresh {
		t.Errorf("expected adding extra.h to the ingredient set to force an out-of-date result")
	}
}

func TestIngredientSetHashIsOrderIndependent(t *testing.T) {
	a := &GraphFileNode{Path: "b.c"}
	b := &GraphFileNode{Path: "a.c"}
	grn1 := &GraphRecipeNode{Inputs: []GraphEdge{{Node: a, Edge: EdgeDefault}, {Node: b, Edge: EdgeDefault}}}
	grn2 := &GraphRecipeNode{Inputs: []GraphEdge{{Node: b, Edge: EdgeDefault}, {Node: a, Edge: EdgeDefault}}}
	if ingredientSetHash(grn1) != ingredientSetHash(grn2) {
		t.Errorf("expected ingredientSetHash to be independent of input order")
	}

	grn3 := &GraphRecipeNode{Inputs: []GraphEdge{{Node: a, Edge: EdgeDefault}}}
	if ingredientSetHash(grn1) == ingredientSetHash(grn3) {
		t.Errorf("expected a different ingredient set to hash differently")
	}
}
