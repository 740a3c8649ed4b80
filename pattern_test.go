package main

import "testing"

func TestCookPatternMatchReconstructRoundTrip(t *testing.T) {
	cases := []struct {
		pat, s string
	}{
		{"%.o", "a.o"},
		{"%0%.c", "x.c"},
		{"%0%.c", "sub/dir/x.c"},
		{"src/%0%1.c", "src/a/b.c"},
	}
	for _, c := range cases {
		cp, err := CompileCookPattern(c.pat, false)
		if err != nil {
			t.Fatalf("compile %q: %v", c.pat, err)
		}
		mc, ok := cp.Match(c.s)
		if !ok {
			t.Fatalf("match(%q, %q) failed", c.pat, c.s)
		}
		got, err := cp.Reconstruct(c.pat, mc)
		if err != nil {
			t.Fatalf("reconstruct %q: %v", c.pat, err)
		}
		if got != c.s {
			t.Errorf("reconstruct(%q, match(%q)) = %q, want %q", c.pat, c.s, got, c.s)
		}
	}
}

func TestCookPatternZeroMatchesEmpty(t *testing.T) {
	cp, err := CompileCookPattern("%0%.c", false)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	mc, ok := cp.Match("x.c")
	if !ok {
		t.Fatalf("expected match")
	}
	zero, bound := mc.Get(0)
	if !bound || zero != "" {
		t.Errorf("expected %%0 to bind to empty string, got %q bound=%v", zero, bound)
	}
	field, bound := mc.Get(10)
	if !bound || field != "x" {
		t.Errorf("expected the bare %% (field 10) to bind to %q, got %q bound=%v", "x", field, bound)
	}
}

func TestCookPatternRepeatedFieldMustMatchIdentically(t *testing.T) {
	cp, err := CompileCookPattern("%1-%1", false)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, ok := cp.Match("foo-foo"); !ok {
		t.Error("expected foo-foo to match %1-%1")
	}
	if _, ok := cp.Match("foo-bar"); ok {
		t.Error("expected foo-bar not to match %1-%1")
	}
}

func TestCookPatternStrictZeroPosition(t *testing.T) {
	if _, err := CompileCookPattern("a%0b", false); err == nil {
		t.Error("expected strict mode to reject %0 mid-component")
	}
	if _, err := CompileCookPattern("a%0b", true); err != nil {
		t.Errorf("expected relaxed mode to accept %%0 mid-component, got %v", err)
	}
}

func TestCookPatternLiteralPercent(t *testing.T) {
	cp, err := CompileCookPattern("100%%done", false)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, ok := cp.Match("100%done"); !ok {
		t.Error("expected %% to match a literal percent")
	}
}

func TestCookPatternReconstructUnboundFieldErrors(t *testing.T) {
	cp, err := CompileCookPattern("%1.o", false)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	mc := newMatchContext()
	if _, err := cp.Reconstruct("%1.c", mc); err == nil {
		t.Error("expected reconstruct with an unbound field to error")
	}
}

func TestCookPatternUsageMask(t *testing.T) {
	cp, err := CompileCookPattern("%2/%1.o", false)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	mask := cp.UsageMask()
	if len(mask) != 2 || mask[0] != 2 || mask[1] != 1 {
		t.Errorf("UsageMask() = %v, want [2 1] (first-occurrence order)", mask)
	}
}

func TestRegexPatternMatch(t *testing.T) {
	rp, err := CompileRegexPattern(`^(.*)\.c$`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	mc, ok := rp.Match("a.c")
	if !ok {
		t.Fatal("expected match")
	}
	if v, bound := mc.Get(1); !bound || v != "a" {
		t.Errorf("submatch 1 = %q, bound=%v, want %q", v, bound, "a")
	}
}
