// internal/store/store.go
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

const fileVersion = 1

// document is the plaintext layout of the store file.
type document struct {
	Version   int                 `json:"version"`
	Artifacts map[string]Artifact `json:"artifacts"`
}

// entry guards one scope's artifact.
type entry struct {
	mu       sync.Mutex
	artifact Artifact
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(s *Store) { s.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// Store holds session artifacts keyed by scope (usually a domain). The
// in-memory map is authoritative; every mutation is mirrored to an encrypted
// file before the call returns.
//
// Structural changes (add, delete, prune) take the map lock exclusively.
// In-place changes lock only the affected entry. File writes are serialised
// by their own lock.
type Store struct {
	path       string
	defaultTTL time.Duration
	sealer     *sealer
	clock      clock.Clock
	log        *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	saveMu sync.Mutex
}

// Open derives the file key from the passphrase and loads the store file if
// it exists. Artifacts that expired while the store was closed are dropped.
func Open(cfg config.SessionConfig, opts ...Option) (*Store, error) {
	if cfg.Path == "" {
		return nil, apperr.Newf(apperr.KindConfiguration, "store.open", "session.path is required")
	}
	if cfg.Passphrase == "" {
		return nil, apperr.Newf(apperr.KindConfiguration, "store.open", "session passphrase is required")
	}
	sl, err := newSealer(cfg.Passphrase)
	if err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "store.open", err)
	}

	s := &Store{
		path:       cfg.Path,
		defaultTTL: cfg.DefaultTTL,
		sealer:     sl,
		entries:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("store")

	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the store file location.
func (s *Store) Path() string { return s.path }

// Add stores a new artifact under scope. Zero timestamps are filled in: the
// expiry comes from a JWT exp claim for tokens, otherwise from the default
// TTL. An expired artifact still held under scope is replaced.
func (s *Store) Add(scope string, a Artifact) error {
	now := s.clock.Now()
	a = a.clone()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.LastActivity = now
	if err := s.fillExpiry(&a, now); err != nil {
		return err
	}

	s.mu.Lock()
	if old, exists := s.entries[scope]; exists && !old.artifact.Expired(now) {
		s.mu.Unlock()
		return apperr.Newf(apperr.KindSession, "store.add", "an artifact already exists").WithScope("scope", scope)
	}
	s.entries[scope] = &entry{artifact: a}
	s.mu.Unlock()

	s.log.Debug("Artifact added.", zap.String("scope", scope), zap.String("kind", string(a.Kind)), zap.Time("expires_at", a.ExpiresAt))
	return s.Save()
}

func (s *Store) fillExpiry(a *Artifact, now time.Time) error {
	if a.Kind == KindToken {
		if raw, ok := tokenString(a.Payload); ok {
			exp, found, err := TokenExpiry(raw)
			if err != nil {
				return err
			}
			if found {
				a.ExpiresAt = exp
				return nil
			}
		}
	}
	if a.ExpiresAt.IsZero() {
		a.ExpiresAt = now.Add(s.defaultTTL)
	}
	return nil
}

// Get returns a copy of the artifact under scope. An expired artifact is
// purged and reported as a SessionError.
func (s *Store) Get(scope string) (Artifact, error) {
	now := s.clock.Now()

	s.mu.RLock()
	e, ok := s.entries[scope]
	if !ok {
		s.mu.RUnlock()
		return Artifact{}, apperr.Newf(apperr.KindSession, "store.get", "no artifact").WithScope("scope", scope)
	}
	e.mu.Lock()
	a := e.artifact.clone()
	e.mu.Unlock()
	s.mu.RUnlock()

	if a.Expired(now) {
		if err := s.purge(scope, now); err != nil {
			return Artifact{}, err
		}
		return Artifact{}, apperr.Newf(apperr.KindSession, "store.get", "artifact expired at %s", a.ExpiresAt.Format(time.RFC3339)).WithScope("scope", scope)
	}
	return a, nil
}

// purge removes scope if it is still expired at now.
func (s *Store) purge(scope string, now time.Time) error {
	s.mu.Lock()
	e, ok := s.entries[scope]
	removed := ok && e.artifact.Expired(now)
	if removed {
		delete(s.entries, scope)
	}
	s.mu.Unlock()

	if !removed {
		return nil
	}
	s.log.Debug("Expired artifact purged.", zap.String("scope", scope))
	return s.Save()
}

// IsValid reports whether scope has an artifact that has not expired.
func (s *Store) IsValid(scope string) bool {
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[scope]
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.artifact.Expired(now)
}

// modify applies fn to scope's artifact under the entry lock and saves.
func (s *Store) modify(op, scope string, fn func(a *Artifact, now time.Time) error) error {
	now := s.clock.Now()

	s.mu.RLock()
	e, ok := s.entries[scope]
	if !ok {
		s.mu.RUnlock()
		return apperr.Newf(apperr.KindSession, op, "no artifact").WithScope("scope", scope)
	}
	e.mu.Lock()
	err := fn(&e.artifact, now)
	e.mu.Unlock()
	s.mu.RUnlock()

	if err != nil {
		return err
	}
	return s.Save()
}

// Update replaces the payload and expiry of an existing artifact. The
// creation time is kept.
func (s *Store) Update(scope string, a Artifact) error {
	a = a.clone()
	return s.modify("store.update", scope, func(cur *Artifact, now time.Time) error {
		a.CreatedAt = cur.CreatedAt
		a.LastActivity = now
		if a.Kind == "" {
			a.Kind = cur.Kind
		}
		if a.ExpiresAt.IsZero() && a.Kind != KindToken {
			a.ExpiresAt = cur.ExpiresAt
		}
		if err := s.fillExpiry(&a, now); err != nil {
			return err
		}
		*cur = a
		return nil
	})
}

// Refresh extends the expiry of a live artifact by extendBy and marks it
// used.
func (s *Store) Refresh(scope string, extendBy time.Duration) error {
	return s.modify("store.refresh", scope, func(a *Artifact, now time.Time) error {
		if a.Expired(now) {
			return apperr.Newf(apperr.KindSession, "store.refresh", "artifact expired at %s", a.ExpiresAt.Format(time.RFC3339)).WithScope("scope", scope)
		}
		a.ExpiresAt = a.ExpiresAt.Add(extendBy)
		a.LastActivity = now
		return nil
	})
}

// Touch records use of an artifact without changing its expiry.
func (s *Store) Touch(scope string) error {
	return s.modify("store.touch", scope, func(a *Artifact, now time.Time) error {
		a.LastActivity = now
		return nil
	})
}

// Delete revokes the artifact under scope. Deleting a missing scope is not
// an error.
func (s *Store) Delete(scope string) error {
	s.mu.Lock()
	_, ok := s.entries[scope]
	delete(s.entries, scope)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.log.Debug("Artifact revoked.", zap.String("scope", scope))
	return s.Save()
}

// Prune removes every expired artifact and returns how many were removed.
func (s *Store) Prune() (int, error) {
	now := s.clock.Now()
	s.mu.Lock()
	n := s.pruneLocked(now)
	s.mu.Unlock()
	if n == 0 {
		return 0, nil
	}
	s.log.Info("Pruned expired artifacts.", zap.Int("count", n))
	return n, s.Save()
}

// pruneLocked requires s.mu held exclusively.
func (s *Store) pruneLocked(now time.Time) int {
	n := 0
	for scope, e := range s.entries {
		if e.artifact.Expired(now) {
			delete(s.entries, scope)
			n++
		}
	}
	return n
}

// Scopes returns the stored scopes in sorted order.
func (s *Store) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for scope := range s.entries {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored artifacts, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// snapshot copies the map. Each entry is locked while it is copied.
func (s *Store) snapshot() map[string]Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Artifact, len(s.entries))
	for scope, e := range s.entries {
		e.mu.Lock()
		out[scope] = e.artifact.clone()
		e.mu.Unlock()
	}
	return out
}

// Save writes the whole map to the store file through a temporary file and
// an atomic rename.
func (s *Store) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	plaintext, err := json.Marshal(document{Version: fileVersion, Artifacts: s.snapshot()})
	if err != nil {
		return apperr.New(apperr.KindStorage, "store.save", err)
	}
	sealed, err := s.sealer.seal(plaintext)
	if err != nil {
		return apperr.New(apperr.KindStorage, "store.save", err)
	}
	if err := writeAtomic(s.path, sealed); err != nil {
		s.log.Error("Failed to save session store.", zap.String("path", s.path), zap.Error(err))
		return apperr.New(apperr.KindStorage, "store.save", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load replaces the in-memory map with the store file's contents, dropping
// expired artifacts. A missing file leaves an empty store. A file that does
// not decrypt is a SessionError; an unreadable one is a StorageError.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		s.entries = make(map[string]*entry)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return apperr.New(apperr.KindStorage, "store.load", err)
	}

	plaintext, err := s.sealer.open(data)
	if err != nil {
		return apperr.New(apperr.KindSession, "store.load", err)
	}
	var doc document
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return apperr.New(apperr.KindSession, "store.load", fmt.Errorf("decode: %w", err))
	}
	if doc.Version != fileVersion {
		return apperr.Newf(apperr.KindSession, "store.load", "unsupported store version %d", doc.Version)
	}

	entries := make(map[string]*entry, len(doc.Artifacts))
	for scope, a := range doc.Artifacts {
		entries[scope] = &entry{artifact: a}
	}

	s.mu.Lock()
	s.entries = entries
	pruned := s.pruneLocked(s.clock.Now())
	s.mu.Unlock()

	s.log.Info("Session store loaded.", zap.Int("artifacts", len(entries)), zap.Int("pruned", pruned))
	return nil
}
