package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/LavishGent/freshline/internal/config"
	"github.com/LavishGent/freshline/internal/types"
)

// recordHeaderSize is the fixed prefix of an encoded record: fetch time in
// unix nanoseconds followed by the TTL in nanoseconds.
const recordHeaderSize = 16

// noLifeWindow keeps bigcache from expiring entries when max age is disabled.
const noLifeWindow = 10 * 365 * 24 * time.Hour

// entryOverhead approximates what bigcache adds around a value: its entry
// header, the queue length prefix and the slack the ring buffer keeps free.
const entryOverhead = 18 + binary.MaxVarintLen32 + 1 + 17

var errCorruptRecord = errors.New("cache: corrupt record")

// ErrEntryTooLarge is returned when a payload cannot fit in the store.
var ErrEntryTooLarge = errors.New("cache: entry too large")

// record is one stored cache entry.
type record struct {
	FetchedAt time.Time
	TTL       time.Duration
	Payload   []byte
}

func encodeRecord(r record) []byte {
	buf := make([]byte, recordHeaderSize+len(r.Payload))
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.FetchedAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.TTL))
	copy(buf[recordHeaderSize:], r.Payload)
	return buf
}

func decodeRecord(data []byte) (record, error) {
	if len(data) < recordHeaderSize {
		return record{}, errCorruptRecord
	}
	return record{
		FetchedAt: time.Unix(0, int64(binary.BigEndian.Uint64(data[0:8]))),
		TTL:       time.Duration(binary.BigEndian.Uint64(data[8:16])),
		Payload:   data[recordHeaderSize:],
	}, nil
}

// MemoryStore holds cache records in a BigCache instance. Every read
// returns a private copy of the payload.
//
// BigCache shards are ring buffers: a full shard pops its oldest entry even
// when that entry is still live and only older overwrites are garbage.
// Live records popped that way are written back after each Set, so a record
// only leaves the store when it is deleted, expires past max age, or the
// shard genuinely cannot hold the live data.
type MemoryStore struct {
	cache         *bigcache.BigCache
	config        config.MemoryConfig
	logger        *slog.Logger
	shardCapacity int

	// mu serializes writers so displaced records are restored before the
	// next write lands.
	mu          sync.Mutex
	displacedMu sync.Mutex
	displaced   []displacedRecord

	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64

	closed atomic.Bool
}

type displacedRecord struct {
	key  string
	data []byte
}

// MemoryStoreStats counts store activity.
type MemoryStoreStats struct {
	Entries   int
	Sets      int64
	Deletes   int64
	Evictions int64
}

// NewMemoryStore creates a store. A positive maxAge lets BigCache drop
// entries older than it on its own cleanup cycle.
func NewMemoryStore(cfg config.MemoryConfig, maxAge time.Duration, logger *slog.Logger) (*MemoryStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &MemoryStore{
		config: cfg,
		logger: logger.With("component", "memory-store"),
	}
	if cfg.MaxSizeMB > 0 && cfg.Shards > 0 {
		s.shardCapacity = cfg.MaxSizeMB * 1024 * 1024 / cfg.Shards
	}

	lifeWindow, cleanWindow := noLifeWindow, time.Duration(0)
	if maxAge > 0 {
		lifeWindow, cleanWindow = maxAge, cfg.CleanupInterval
	}

	bc, err := bigcache.New(context.Background(), bigcache.Config{
		Shards:             cfg.Shards,
		LifeWindow:         lifeWindow,
		CleanWindow:        cleanWindow,
		MaxEntriesInWindow: 1024,
		MaxEntrySize:       cfg.MaxEntrySize,
		HardMaxCacheSize:   cfg.MaxSizeMB,
		Logger:             &bigcacheLogger{logger: s.logger},
		OnRemoveWithReason: s.onRemove,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: create memory store: %w", err)
	}

	s.cache = bc
	return s, nil
}

// Get returns the record for key. A missing key is not an error.
func (s *MemoryStore) Get(key string) (record, bool, error) {
	if s.closed.Load() {
		return record{}, false, types.ErrClosed
	}

	data, err := s.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, err
	}

	rec, err := decodeRecord(data)
	if err != nil {
		_ = s.cache.Delete(key)
		return record{}, false, fmt.Errorf("%w for key %q", err, key)
	}
	return rec, true, nil
}

// Set replaces the record for key. A record that cannot fit is rejected with
// ErrEntryTooLarge and the previous record for key is left in place.
func (s *MemoryStore) Set(key string, rec record) error {
	if s.closed.Load() {
		return types.ErrClosed
	}
	if s.config.MaxEntrySize > 0 && len(rec.Payload) > s.config.MaxEntrySize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrEntryTooLarge, len(rec.Payload), s.config.MaxEntrySize)
	}
	data := encodeRecord(rec)
	if need := len(key) + len(data) + entryOverhead; s.shardCapacity > 0 && need > s.shardCapacity {
		return fmt.Errorf("%w: %d bytes exceeds shard capacity %d", ErrEntryTooLarge, need, s.shardCapacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.cache.Set(key, data)
	s.restoreDisplaced()
	if err != nil {
		return err
	}
	s.sets.Add(1)
	return nil
}

// onRemove runs under the BigCache shard lock, so it only records what was
// dropped and leaves the write-back to restoreDisplaced.
func (s *MemoryStore) onRemove(key string, data []byte, reason bigcache.RemoveReason) {
	switch reason {
	case bigcache.NoSpace:
		s.displacedMu.Lock()
		s.displaced = append(s.displaced, displacedRecord{key: key, data: data})
		s.displacedMu.Unlock()
	case bigcache.Expired:
		s.evictions.Add(1)
		s.logger.Debug("Entry evicted", "key", key, "reason", removeReasonName(reason))
	}
}

func (s *MemoryStore) takeDisplaced() []displacedRecord {
	s.displacedMu.Lock()
	defer s.displacedMu.Unlock()
	out := s.displaced
	s.displaced = nil
	return out
}

// restoreDisplaced writes back live records a Set pushed out of their shard.
// Each write-back can displace further records; once every live record has
// had a turn the shard has shed its garbage, so anything still displaced
// does not fit and counts as an eviction. Callers hold s.mu.
func (s *MemoryStore) restoreDisplaced() {
	pending := s.takeDisplaced()
	if len(pending) == 0 {
		return
	}

	budget := 2 * (s.cache.Len() + len(pending))
	for len(pending) > 0 {
		for i, d := range pending {
			if budget == 0 {
				s.evict(append(pending[i:], s.takeDisplaced()...))
				return
			}
			budget--
			if err := s.cache.Set(d.key, d.data); err != nil {
				s.evict(pending[i : i+1])
			}
		}
		pending = s.takeDisplaced()
	}
}

func (s *MemoryStore) evict(lost []displacedRecord) {
	for _, d := range lost {
		s.evictions.Add(1)
		s.logger.Warn("Entry evicted, shard is full", "key", d.key, "bytes", len(d.data), "shard_capacity", s.shardCapacity)
	}
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(key string) error {
	if s.closed.Load() {
		return types.ErrClosed
	}
	s.mu.Lock()
	err := s.cache.Delete(key)
	s.mu.Unlock()
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return err
	}
	if err == nil {
		s.deletes.Add(1)
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	if s.closed.Load() {
		return 0
	}
	return s.cache.Len()
}

// Stats returns store counters.
func (s *MemoryStore) Stats() MemoryStoreStats {
	return MemoryStoreStats{
		Entries:   s.Len(),
		Sets:      s.sets.Load(),
		Deletes:   s.deletes.Load(),
		Evictions: s.evictions.Load(),
	}
}

// Close releases the underlying cache. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.cache.Close()
}

func removeReasonName(reason bigcache.RemoveReason) string {
	switch reason {
	case bigcache.Expired:
		return "expired"
	case bigcache.NoSpace:
		return "no-space"
	case bigcache.Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

type bigcacheLogger struct {
	logger *slog.Logger
}

func (l *bigcacheLogger) Printf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf("bigcache: "+format, args...))
}
