package main

import "testing"

func TestCascadeRegistryFindUnionsByPresentFile(t *testing.T) {
	cr := NewCascadeRegistry()
	cr.Register("a.c", "a.h", Position{})
	cr.Register("a.c", "config.h", Position{})
	cr.Register("b.c", "b.h", Position{})

	got := cr.Find([]string{"a.c"})
	if len(got) != 2 {
		t.Fatalf("expected 2 cascade edges for a.c, got %d: %+v", len(got), got)
	}
	names := map[string]bool{got[0].Ingredient: true, got[1].Ingredient: true}
	if !names["a.h"] || !names["config.h"] {
		t.Errorf("expected a.h and config.h, got %+v", got)
	}
}

func TestCascadeRegistryFindIgnoresUnregisteredFiles(t *testing.T) {
	cr := NewCascadeRegistry()
	cr.Register("a.c", "a.h", Position{})
	if got := cr.Find([]string{"never-registered.c"}); len(got) != 0 {
		t.Errorf("expected no cascade edges for an unregistered file, got %+v", got)
	}
}

func TestCascadeRegistryFindDedupsSameIngredientAcrossTargets(t *testing.T) {
	cr := NewCascadeRegistry()
	cr.Register("a.c", "common.h", Position{})
	cr.Register("b.c", "common.h", Position{})

	got := cr.Find([]string{"a.c", "b.c"})
	if len(got) != 1 {
		t.Errorf("expected common.h to be deduplicated across two present targets, got %+v", got)
	}
}
