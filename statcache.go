// The stat cache: cached mtime windows per path, linked to the
// fingerprint DB for content-based window extension. spec.md §4.7, §8
// invariant 1.

package main

import (
	"os"
	"sync"
	"time"
)

// StatEntry is the per-path, per-follow-symlink cache record. The
// invariant Oldest <= StatMtime <= Newest holds after every mutation;
// zero denotes "does not exist".
type StatEntry struct {
	Oldest    time.Time
	Newest    time.Time
	StatMtime time.Time
}

func (e StatEntry) exists() bool { return !e.StatMtime.IsZero() }

func (e StatEntry) valid() bool {
	if !e.exists() {
		return true
	}
	return !e.Oldest.After(e.StatMtime) && !e.StatMtime.After(e.Newest)
}

type statKey struct {
	path   string
	follow bool
}

// StatCache is master-only: recipes mutate the filesystem, the engine
// observes the change via a fresh stat after the recipe's goroutine
// rejoins the walker.
type StatCache struct {
	mu  sync.Mutex
	m   map[statKey]StatEntry
	fp  *FingerprintDB
	now func() time.Time
}

func NewStatCache(fp *FingerprintDB) *StatCache {
	return &StatCache{m: make(map[statKey]StatEntry), fp: fp, now: time.Now}
}

// Mtime returns the freshness-relevant mtime window for path, reading
// through the OS stat and the fingerprint DB as needed (spec.md §4.7).
// useFingerprint selects whether content hashing participates at all;
// when false this degrades to a plain stat-mtime cache.
func (c *StatCache) Mtime(path string, follow bool, useFingerprint bool) (StatEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtimeLocked(path, follow, useFingerprint)
}

func (c *StatCache) mtimeLocked(path string, follow bool, useFingerprint bool) (StatEntry, error) {
	key := statKey{path, follow}
	if e, ok := c.m[key]; ok {
		return e, nil
	}

	var fi os.FileInfo
	var err error
	if follow {
		fi, err = os.Stat(path)
	} else {
		fi, err = os.Lstat(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			// Archive member paths (lib.a(member.o)) report ENOENT from a
			// plain stat; fall through to the ar-aware lookup before
			// concluding the path truly doesn't exist (spec.md §4.7).
			if mt, aerr, handled := arMtime(path); handled {
				e := StatEntry{}
				if aerr == nil {
					e = StatEntry{Oldest: mt, Newest: mt, StatMtime: mt}
				}
				c.m[key] = e
				return e, nil
			}
			e := StatEntry{}
			c.m[key] = e
			return e, nil
		}
		return StatEntry{}, newErr(ErrSystemCall, Position{}, "stat "+path+": "+err.Error())
	}

	st := fi.ModTime()
	e := c.mergeWithFingerprint(path, st, useFingerprint)
	c.m[key] = e
	return e, nil
}

// mergeWithFingerprint implements the content-hash-authoritative merge
// rule: unchanged content extends the cached window; changed content
// bumps Oldest forward (spec.md §4.7, open question in §9).
//
// The hash is recomputed on every call rather than gated behind a
// stat_mtime-equality shortcut: skipping the hash whenever the mtime
// looks unchanged would let a file edited and then restored to its old
// timestamp (chtimes, or a checkout that preserves mtimes) slip past
// undetected, which is exactly the failure mode --fingerprint exists to
// close.
func (c *StatCache) mergeWithFingerprint(path string, statMtime time.Time, useFingerprint bool) StatEntry {
	if !useFingerprint || c.fp == nil {
		return StatEntry{Oldest: statMtime, Newest: statMtime, StatMtime: statMtime}
	}

	now := c.now()
	prev, ok := c.fp.Get(path)

	hash, err := hashFile(path)
	if err != nil {
		// Unreadable for hashing: fall back to plain stat semantics rather
		// than fail the whole build over a transient I/O error.
		return StatEntry{Oldest: statMtime, Newest: statMtime, StatMtime: statMtime}
	}

	if ok && prev.ContentsHash == hash {
		oldest := prev.Oldest
		newest := prev.Newest
		if statMtime.Before(oldest) {
			oldest = statMtime
		}
		if statMtime.After(newest) {
			newest = statMtime
		}
		if newest.After(now) {
			newest = now
		}
		c.fp.Set(path, FingerprintEntry{
			StatMtime: statMtime, ContentsHash: hash,
			IngredientsHash: prev.IngredientsHash, Oldest: oldest, Newest: newest,
		})
		// A future-dated filesystem mtime (clock skew, or a timestamp
		// nudged forward by a prior build) must not be reported past the
		// window's own Newest once that window has been clamped to now.
		reportedStatMtime := statMtime
		if reportedStatMtime.After(newest) {
			reportedStatMtime = newest
		}
		return StatEntry{Oldest: oldest, Newest: newest, StatMtime: reportedStatMtime}
	}

	oldest := statMtime
	if ok {
		candidate := prev.Oldest.Add(time.Nanosecond)
		if candidate.After(oldest) {
			oldest = candidate
		}
	}
	if now.After(oldest) {
		oldest = now
	}
	newest := oldest
	c.fp.Set(path, FingerprintEntry{
		StatMtime: statMtime, ContentsHash: hash,
		IngredientsHash: "", Oldest: oldest, Newest: newest,
	})
	// oldest may have been pushed past the raw filesystem mtime (a stagnant
	// or lying timestamp must not hide a detected content change); the
	// StatEntry's StatMtime has to track that bump too, or it would violate
	// oldest <= stat_mtime <= newest for the rest of this build.
	effectiveStatMtime := statMtime
	if oldest.After(effectiveStatMtime) {
		effectiveStatMtime = oldest
	}
	return StatEntry{Oldest: oldest, Newest: newest, StatMtime: effectiveStatMtime}
}

// Set forces a window update after a recipe body has just modified path;
// the fingerprint DB's contents hash is preserved but Newest is raised to
// t (spec.md "stat_cache_set").
func (c *StatCache) Set(path string, t time.Time, follow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := statKey{path, follow}
	e := c.m[key]
	e.StatMtime = t
	if e.Oldest.IsZero() || t.Before(e.Oldest) {
		e.Oldest = t
	}
	if t.After(e.Newest) {
		e.Newest = t
	}
	c.m[key] = e
	if c.fp != nil {
		if prev, ok := c.fp.Get(path); ok {
			prev.Newest = e.Newest
			c.fp.Set(path, prev)
		}
	}
}

// Clear invalidates both cache entries (follow/no-follow) for a path.
func (c *StatCache) Clear(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, statKey{path, true})
	delete(c.m, statKey{path, false})
}

// AdjustMtime chooses the stronger of max(st_mtime, minAge) (or exactly
// minAge under timeAdjustBack) and calls utime if needed. EPERM is
// reported to the warn callback, not returned as an error (spec.md
// "os_mtime_adjust").
func (c *StatCache) AdjustMtime(path string, minAge time.Time, timeAdjustBack bool, warn func(string)) error {
	fi, err := os.Stat(path)
	if err != nil {
		return newErr(ErrSystemCall, Position{}, "stat "+path+": "+err.Error())
	}
	cur := fi.ModTime()
	var target time.Time
	if timeAdjustBack {
		target = minAge
	} else {
		target = cur
		if minAge.After(target) {
			target = minAge
		}
	}
	if target.Equal(cur) {
		return nil
	}
	if err := os.Chtimes(path, target, target); err != nil {
		if os.IsPermission(err) {
			if warn != nil {
				warn("cannot adjust mtime of " + path + ": " + err.Error())
			}
			return nil
		}
		return newErr(ErrSystemCall, Position{}, "utime "+path+": "+err.Error())
	}
	c.Clear(path)
	return nil
}
