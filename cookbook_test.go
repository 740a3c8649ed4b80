package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newTestCookbook() *Cookbook {
	opts := NewOptionStack()
	opts.Set(LevelDefault, FlagAllowRelaxedZero, false)
	return NewCookbook(NewRecipeTable(), NewCascadeRegistry(), make(map[string]WordList), NewSearchList([]string{"."}), opts)
}

func TestIsAssignment(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"CFLAGS = -O2", true},
		{"target: ingredient", false},
		{"target:: a : b [silent]", false},
		{"X = a:b", true},
	}
	for _, c := range cases {
		if got := isAssignment(c.line); got != c.want {
			t.Errorf("isAssignment(%q) = %v, want %v", c.line, got, c.want)
		}
	}
}

func TestHandleAssignment(t *testing.T) {
	cb := newTestCookbook()
	if err := cb.parseLines("t", []string{"name = foo bar"}); err != nil {
		t.Fatalf("parseLines: %v", err)
	}
	got := cb.Globals["name"].Strings()
	want := []string{"foo", "bar"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("globals[name] mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleCascadeDeclaration(t *testing.T) {
	cb := newTestCookbook()
	if err := cb.parseLines("t", []string{"lib.a: lib.a(a.o) lib.a(b.o)"}); err != nil {
		t.Fatalf("parseLines: %v", err)
	}
	edges := cb.Cascades.Find([]string{"lib.a"})
	if len(edges) != 2 {
		t.Fatalf("expected 2 cascade edges, got %d: %+v", len(edges), edges)
	}
}

func TestHandleRecipeWithBracketAndBody(t *testing.T) {
	cb := newTestCookbook()
	lines := []string{
		"%.o: %.c [silent errok]",
		"\tcc -c %.c",
		"\t!echo up to date",
	}
	if err := cb.parseLines("t", lines); err != nil {
		t.Fatalf("parseLines: %v", err)
	}
	recipes := cb.Recipes.implicit
	if len(recipes) != 1 {
		t.Fatalf("expected 1 recipe, got %d", len(recipes))
	}
	r := recipes[0]
	if !r.Flags[FlagSilent] || !r.Flags[FlagErrok] {
		t.Errorf("expected silent and errok flags, got %+v", r.Flags)
	}
	if len(r.OutOfDateBody) == 0 {
		t.Error("expected a non-empty out-of-date body")
	}
	if len(r.UpToDateBody) == 0 {
		t.Error("expected a non-empty up-to-date body from the `!`-prefixed line")
	}
}

func TestHandleRecipeNeed1Need2EdgeSigils(t *testing.T) {
	cb := newTestCookbook()
	lines := []string{
		"out: !strict.h ~weak.h : ?existsonly.h",
		"\techo build",
	}
	if err := cb.parseLines("t", lines); err != nil {
		t.Fatalf("parseLines: %v", err)
	}
	r := cb.Recipes.AllExplicit()[0]

	eng := NewSubstEngine(cb.Globals)
	ctx := NewContext(eng, cb.Opts)
	need1, _, err := ctx.Run(r.Need1, nil)
	if err != nil {
		t.Fatalf("run need1: %v", err)
	}
	if len(need1) != 2 || need1[0].Edge != EdgeStrict || need1[1].Edge != EdgeWeak {
		t.Errorf("need1 edges mismatch: %+v", need1)
	}

	need2, _, err := ctx.Run(r.Need2, nil)
	if err != nil {
		t.Fatalf("run need2: %v", err)
	}
	if len(need2) != 1 || need2[0].Edge != EdgeExists {
		t.Errorf("need2 edges mismatch: %+v", need2)
	}
}

func TestHandleRecipeMultipleAndThreadHostTokens(t *testing.T) {
	cb := newTestCookbook()
	lines := []string{
		"out.log :: input.txt [thread:builder host:worker1]",
		"\techo appending",
	}
	if err := cb.parseLines("t", lines); err != nil {
		t.Fatalf("parseLines: %v", err)
	}
	r := cb.Recipes.AllExplicit()[0]
	if !r.Multiple {
		t.Error("expected Multiple=true for :: header")
	}

	eng := NewSubstEngine(cb.Globals)
	ctx := NewContext(eng, cb.Opts)
	thread, _, _ := ctx.Run(r.SingleThread, nil)
	host, _, _ := ctx.Run(r.HostBinding, nil)
	if diff := cmp.Diff([]string{"builder"}, thread.Strings(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("single-thread tokens mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"worker1"}, host.Strings(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("host-binding tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestPrecondition(t *testing.T) {
	cb := newTestCookbook()
	lines := []string{
		"? always true",
		"out: in",
		"\techo hi",
	}
	if err := cb.parseLines("t", lines); err != nil {
		t.Fatalf("parseLines: %v", err)
	}
	r := cb.Recipes.AllExplicit()[0]
	if len(r.Precondition) == 0 {
		t.Error("expected the `?` line to populate Precondition")
	}
}

func TestExtractBracket(t *testing.T) {
	cases := []struct {
		line, wantBracket, wantRest string
	}{
		{"a: b [silent]", "silent", "a: b "},
		{"a: b", "", "a: b"},
		{"a: b [x [y] z]", "x [y] z", "a: b "},
	}
	for _, c := range cases {
		bracket, rest := extractBracket(c.line)
		if bracket != c.wantBracket || rest != c.wantRest {
			t.Errorf("extractBracket(%q) = (%q, %q), want (%q, %q)", c.line, bracket, rest, c.wantBracket, c.wantRest)
		}
	}
}

func TestParseEdgeSigil(t *testing.T) {
	cases := []struct {
		tok      string
		wantEdge EdgeType
		wantWord string
	}{
		{"!x", EdgeStrict, "x"},
		{"~x", EdgeWeak, "x"},
		{"?x", EdgeExists, "x"},
		{"x", EdgeDefault, "x"},
	}
	for _, c := range cases {
		edge, word := parseEdgeSigil(c.tok)
		if edge != c.wantEdge || word != c.wantWord {
			t.Errorf("parseEdgeSigil(%q) = (%v, %q), want (%v, %q)", c.tok, edge, word, c.wantEdge, c.wantWord)
		}
	}
}
