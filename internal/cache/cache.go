// internal/cache/cache.go
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

const indexFile = "index.json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrTooLarge is returned by Put for a payload that could never fit.
var ErrTooLarge = errors.New("cache: payload exceeds the cache size limit")

// Entry is the bookkeeping record of one cached payload. Size is the number
// of bytes on disk. Seq orders inserts that share a StoredAt instant.
type Entry struct {
	Key       string    `json:"key"`
	Path      string    `json:"path"`
	Codec     string    `json:"codec"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
	Seq       uint64    `json:"seq"`
}

// insertedBefore orders entries by insertion: StoredAt, then Seq.
func insertedBefore(a, b *Entry) bool {
	if a.StoredAt.Equal(b.StoredAt) {
		return a.Seq < b.Seq
	}
	return a.StoredAt.Before(b.StoredAt)
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(s *Cache) { s.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Cache) { s.log = l } }

// Cache stores fetched page content on disk with a time limit and a total
// size budget. When an insert pushes the total over budget the entries with
// the oldest StoredAt go first, regardless of how recently they were read.
//
// All bookkeeping happens under one mutex. Reads of the same key are
// collapsed into a single disk read.
type Cache struct {
	dir     string
	maxSize int64
	ttl     time.Duration
	codecs  *codecs
	codec   Codec
	clock   clock.Clock
	log     *zap.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	total   int64
	seq     uint64

	reads singleflight.Group
}

// Open creates the cache directory if needed and loads its index.
func Open(cfg config.CacheConfig, opts ...Option) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, apperr.Newf(apperr.KindConfiguration, "cache.open", "cache.dir is required")
	}
	if cfg.MaxSize <= 0 || cfg.ExpireDays <= 0 {
		return nil, apperr.Newf(apperr.KindConfiguration, "cache.open", "cache.max_size and cache.expire_days must be positive")
	}
	cs, err := newCodecs()
	if err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "cache.open", err)
	}
	codec, err := cs.get(cfg.Compress)
	if err != nil {
		cs.close()
		return nil, apperr.New(apperr.KindConfiguration, "cache.open", err)
	}

	c := &Cache{
		dir:     cfg.Dir,
		maxSize: cfg.MaxSize,
		ttl:     time.Duration(cfg.ExpireDays) * 24 * time.Hour,
		codecs:  cs,
		codec:   codec,
		entries: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.Named("cache")

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		cs.close()
		return nil, apperr.New(apperr.KindStorage, "cache.open", err)
	}
	if err := c.loadIndex(); err != nil {
		cs.close()
		return nil, err
	}
	return c, nil
}

// Flush persists the index.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveIndexLocked()
}

// Close persists the index and releases codec resources.
func (c *Cache) Close() error {
	c.mu.Lock()
	err := c.saveIndexLocked()
	c.mu.Unlock()
	c.codecs.close()
	return err
}

func fileName(key string, codec Codec) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + codec.Ext()
}

// Put stores payload under key, replacing any previous entry, then evicts
// the oldest entries until the total size is back within budget.
func (c *Cache) Put(key string, payload []byte) error {
	encoded, err := c.codec.Encode(payload)
	if err != nil {
		return apperr.New(apperr.KindStorage, "cache.put", fmt.Errorf("encode %s: %w", c.codec.Name(), err))
	}
	size := int64(len(encoded))
	if size > c.maxSize {
		return ErrTooLarge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	name := fileName(key, c.codec)
	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}
	if err := writeAtomic(filepath.Join(c.dir, name), encoded); err != nil {
		return apperr.New(apperr.KindStorage, "cache.put", err)
	}

	now := c.clock.Now()
	c.seq++
	c.entries[key] = &Entry{
		Key:       key,
		Path:      name,
		Codec:     c.codec.Name(),
		StoredAt:  now,
		ExpiresAt: now.Add(c.ttl),
		Size:      size,
		Seq:       c.seq,
	}
	c.total += size

	if evicted := c.evictLocked(); evicted > 0 {
		c.log.Debug("Evicted entries over size budget.", zap.Int("count", evicted), zap.Int64("total", c.total))
	}
	return c.saveIndexLocked()
}

// evictLocked drops the oldest-stored entries while over budget.
func (c *Cache) evictLocked() int {
	if c.total <= c.maxSize {
		return 0
	}
	byAge := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		byAge = append(byAge, e)
	}
	sort.Slice(byAge, func(i, j int) bool { return insertedBefore(byAge[i], byAge[j]) })
	n := 0
	for _, e := range byAge {
		if c.total <= c.maxSize {
			break
		}
		c.removeLocked(e)
		n++
	}
	return n
}

// removeLocked deletes e's file and bookkeeping.
func (c *Cache) removeLocked(e *Entry) {
	if err := os.Remove(filepath.Join(c.dir, e.Path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.log.Warn("Failed to remove cache file.", zap.String("path", e.Path), zap.Error(err))
	}
	delete(c.entries, e.Key)
	c.total -= e.Size
}

// Get returns the payload for key. An expired entry is evicted and reported
// as a miss.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil, false, nil
	}
	if c.clock.Now().After(e.ExpiresAt) {
		c.removeLocked(e)
		err := c.saveIndexLocked()
		c.mu.Unlock()
		return nil, false, err
	}
	entry := *e
	c.mu.Unlock()

	v, err, _ := c.reads.Do(key+"\x00"+entry.Path, func() (any, error) {
		return c.read(entry)
	})
	if errors.Is(err, fs.ErrNotExist) {
		c.forget(entry)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.New(apperr.KindStorage, "cache.get", err)
	}
	return bytes.Clone(v.([]byte)), true, nil
}

func (c *Cache) read(e Entry) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(c.dir, e.Path))
	if err != nil {
		return nil, err
	}
	codec, err := c.codecs.get(e.Codec)
	if err != nil {
		return nil, err
	}
	return codec.Decode(raw)
}

// forget drops an entry whose file disappeared, unless it was replaced in
// the meantime.
func (c *Cache) forget(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[e.Key]; ok && cur.Seq == e.Seq {
		delete(c.entries, e.Key)
		c.total -= cur.Size
		_ = c.saveIndexLocked()
	}
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	c.removeLocked(e)
	return c.saveIndexLocked()
}

// Sweep removes every entry stored longer ago than the expiry period,
// whatever the size pressure. It returns the number removed.
func (c *Cache) Sweep() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.clock.Now().Add(-c.ttl)
	n := 0
	for _, e := range c.entries {
		if e.StoredAt.Before(cutoff) {
			c.removeLocked(e)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	c.log.Info("Swept expired cache entries.", zap.Int("count", n), zap.Int64("total", c.total))
	return n, c.saveIndexLocked()
}

// TotalSize returns the bytes on disk across all entries.
func (c *Cache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a copy of the index, oldest first.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return insertedBefore(&out[i], &out[j]) })
	return out
}

func (c *Cache) saveIndexLocked() error {
	list := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return apperr.New(apperr.KindStorage, "cache.index", err)
	}
	if err := writeAtomic(filepath.Join(c.dir, indexFile), data); err != nil {
		return apperr.New(apperr.KindStorage, "cache.index", err)
	}
	return nil
}

// loadIndex reads the index and drops records whose file is gone. An
// unreadable index starts the cache empty.
func (c *Cache) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperr.New(apperr.KindStorage, "cache.index", err)
	}
	var list []*Entry
	if err := json.Unmarshal(data, &list); err != nil {
		c.log.Warn("Cache index is unreadable, starting empty.", zap.Error(err))
		return nil
	}
	for _, e := range list {
		info, err := os.Stat(filepath.Join(c.dir, e.Path))
		if err != nil {
			continue
		}
		e.Size = info.Size()
		c.entries[e.Key] = e
		c.total += e.Size
		c.seq = max(c.seq, e.Seq)
	}
	c.evictLocked()
	c.log.Debug("Cache index loaded.", zap.Int("entries", len(c.entries)), zap.Int64("total", c.total))
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
