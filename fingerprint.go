// Fingerprint DB: persistent content-hash + mtime-range per path
// (spec.md §3 "Fingerprint-DB entry", §4.7, §6 "Fingerprint persistence").
//
// The on-disk format is a flat JSON map, in the teacher's unfussy style
// (friedelschoen-mk keeps all of its state in plain maps). A second,
// optional backend mirrors the same map to an S3 object so a fingerprint
// database can be shared across build hosts the same way remote host
// binding (host.go) shares execution across hosts — see SPEC_FULL.md
// §11 for why aws-sdk-go, a teacher dependency unused by the teacher
// itself, gets a home here.

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// FingerprintEntry is the persistent record for one path.
type FingerprintEntry struct {
	StatMtime       time.Time `json:"stat_mtime"`
	ContentsHash    string    `json:"contents_hash"`
	IngredientsHash string    `json:"ingredients_hash"`
	Oldest          time.Time `json:"oldest"`
	Newest          time.Time `json:"newest"`
}

// FingerprintStore is the persistence backend contract: load the whole
// map on startup, save it on clean exit.
type FingerprintStore interface {
	Load() (map[string]FingerprintEntry, error)
	Save(map[string]FingerprintEntry) error
}

// FingerprintDB is the in-memory, master-only table backing the stat
// cache's content-aware merges.
type FingerprintDB struct {
	mu      sync.Mutex
	entries map[string]FingerprintEntry
	store   FingerprintStore
	dirty   bool
}

func NewFingerprintDB(store FingerprintStore) *FingerprintDB {
	db := &FingerprintDB{entries: make(map[string]FingerprintEntry), store: store}
	return db
}

// Load populates the DB from its store, if one is configured. A missing
// store file is not an error: the DB just starts empty.
func (db *FingerprintDB) Load() error {
	if db.store == nil {
		return nil
	}
	m, err := db.store.Load()
	if err != nil {
		return err
	}
	if m != nil {
		db.entries = m
	}
	return nil
}

// Save writes the DB back to its store iff it has been mutated since
// load (spec.md: "written on clean exit").
func (db *FingerprintDB) Save() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.store == nil || !db.dirty {
		return nil
	}
	return db.store.Save(db.entries)
}

func (db *FingerprintDB) Get(path string) (FingerprintEntry, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.entries[path]
	return e, ok
}

func (db *FingerprintDB) Set(path string, e FingerprintEntry) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.entries[path] = e
	db.dirty = true
}

func (db *FingerprintDB) Delete(path string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.entries[path]; ok {
		delete(db.entries, path)
		db.dirty = true
	}
}

// hashFile computes the content fingerprint used to detect genuine
// content changes across stat observations (spec.md §4.7).
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashIngredientSet hashes a sorted ingredient word list, for the
// ingredients-fingerprint flag (spec.md §6).
func hashIngredientSet(names []string) string {
	h := sha256.New()
	for _, n := range names {
		io.WriteString(h, n)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LocalFingerprintStore persists the fingerprint DB as JSON on the local
// filesystem, the default backend (spec.md §6 "a single on-disk store").
type LocalFingerprintStore struct {
	Path string
}

func (s *LocalFingerprintStore) Load() (map[string]FingerprintEntry, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]FingerprintEntry), nil
		}
		return nil, newErr(ErrSystemCall, Position{}, "open fingerprint db: "+err.Error())
	}
	defer f.Close()
	m := make(map[string]FingerprintEntry)
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		if err == io.EOF {
			return m, nil
		}
		return nil, newErr(ErrSystemCall, Position{}, "decode fingerprint db: "+err.Error())
	}
	return m, nil
}

func (s *LocalFingerprintStore) Save(m map[string]FingerprintEntry) error {
	tmp := s.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return newErr(ErrSystemCall, Position{}, "create fingerprint db: "+err.Error())
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		f.Close()
		return newErr(ErrSystemCall, Position{}, "encode fingerprint db: "+err.Error())
	}
	if err := f.Close(); err != nil {
		return newErr(ErrSystemCall, Position{}, "close fingerprint db: "+err.Error())
	}
	return os.Rename(tmp, s.Path)
}
