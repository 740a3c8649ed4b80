// Search path / resolve: maps logical file names to physical files
// across a layered view (spec.md §4.3).

package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SearchList holds an ordered list of directory roots; the first element
// is always "." (inserted if missing).
type SearchList struct {
	Roots []string
}

func NewSearchList(roots []string) *SearchList {
	sl := &SearchList{}
	sl.Roots = append(sl.Roots, roots...)
	has := false
	for _, r := range sl.Roots {
		if r == "." {
			has = true
			break
		}
	}
	if !has {
		sl.Roots = append([]string{"."}, sl.Roots...)
	}
	return sl
}

// Resolve tries root/p for each root in order and returns the first
// existing physical path. An absolute path bypasses the search list
// entirely (spec.md §8 "A `/`-rooted absolute target bypasses the search
// list").
func (sl *SearchList) Resolve(p string) (string, bool) {
	if filepath.IsAbs(p) {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
		return p, false
	}
	for _, root := range sl.Roots {
		cand := filepath.Join(root, p)
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
	}
	return p, false
}

// osPathname normalizes a path the way the round-trip law in spec.md §8
// requires: os_pathname(os_pathname(p)) == os_pathname(p). filepath.Clean
// is already idempotent, which is what makes this law hold.
func osPathname(p string) string {
	return filepath.Clean(p)
}

// MtimeOldest scans the search list: the shallowest existing copy of p
// defines the result; deeper copies only extend the window when their
// content fingerprint equals the shallow one, up to maxDepth (0 = no
// limit). spec.md §4.3.
func (sl *SearchList) MtimeOldest(p string, sc *StatCache, useFingerprint bool, maxDepth int) (time.Time, bool) {
	e, ok := sl.shallowMerge(p, sc, useFingerprint, maxDepth)
	if !ok {
		return time.Time{}, false
	}
	return e.Oldest, true
}

func (sl *SearchList) MtimeNewest(p string, sc *StatCache, useFingerprint bool, maxDepth int) (time.Time, bool) {
	e, ok := sl.shallowMerge(p, sc, useFingerprint, maxDepth)
	if !ok {
		return time.Time{}, false
	}
	return e.Newest, true
}

func (sl *SearchList) shallowMerge(p string, sc *StatCache, useFingerprint bool, maxDepth int) (StatEntry, bool) {
	var shallow StatEntry
	found := false
	var shallowHash string
	for depth, root := range sl.Roots {
		if maxDepth > 0 && depth >= maxDepth {
			break
		}
		cand := filepath.Join(root, p)
		e, err := sc.Mtime(cand, true, useFingerprint)
		if err != nil || !e.exists() {
			continue
		}
		if !found {
			shallow = e
			found = true
			if useFingerprint && sc.fp != nil {
				if fe, ok := sc.fp.Get(cand); ok {
					shallowHash = fe.ContentsHash
				}
			}
			continue
		}
		if !useFingerprint || sc.fp == nil {
			break
		}
		fe, ok := sc.fp.Get(cand)
		if !ok || fe.ContentsHash != shallowHash {
			break
		}
		if e.Oldest.Before(shallow.Oldest) {
			shallow.Oldest = e.Oldest
		}
		if e.Newest.After(shallow.Newest) {
			shallow.Newest = e.Newest
		}
	}
	return shallow, found
}

// MtimeResolve maps each word in a list to its resolved physical path, or
// the original unresolved word if it has no physical copy anywhere in the
// search list (spec.md §4.3 "cook_mtime_resolve").
func (sl *SearchList) MtimeResolve(wl WordList) WordList {
	out := make(WordList, len(wl))
	for i, w := range wl {
		if resolved, ok := sl.Resolve(w.Text); ok {
			out[i] = WE(resolved, w.Edge)
		} else {
			out[i] = w
		}
	}
	return out
}

// stripDotSlash normalizes a leading "./" (spec.md §6 "strip-dot").
func stripDotSlash(p string) string {
	return strings.TrimPrefix(p, "./")
}
