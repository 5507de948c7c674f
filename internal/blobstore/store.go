// Package blobstore holds harvested extraction artifacts in memory and hands
// out opaque download tokens for them.
//
// Entries are written once and never mutated. Unless a bound is configured
// they live until the process exits.
package blobstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNotFound is returned by Get for tokens the store does not hold.
var ErrNotFound = errors.New("blob not found")

// Options bounds the store. The zero value keeps every entry forever.
type Options struct {
	// MaxEntries evicts the least recently used entry once exceeded.
	MaxEntries int
	// MaxAge is enforced by Sweep / StartSweeper.
	MaxAge time.Duration
}

type entry struct {
	data    []byte
	created time.Time
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
	Evicted int64 `json:"evicted"`
}

// MemoryStore is a concurrency-safe token -> bytes map.
//
// Locking: mu guards blobs and the counters. Critical sections only copy
// bytes in or out; no I/O happens while mu is held. The LRU index has its
// own lock and is only touched while mu is held for writing, except for
// the recency bump in Get.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string]entry
	size    int64
	evicted int64

	recency *lru.Cache[string, struct{}]
	maxAge  time.Duration
	now     func() time.Time
}

// New returns an empty store.
func New(opts Options) (*MemoryStore, error) {
	s := &MemoryStore{
		blobs:  make(map[string]entry),
		maxAge: opts.MaxAge,
		now:    time.Now,
	}
	if opts.MaxEntries > 0 {
		c, err := lru.NewWithEvict[string, struct{}](opts.MaxEntries, func(token string, _ struct{}) {
			// Runs inside Put/Sweep with mu held.
			if s.removeLocked(token) {
				s.evicted++
			}
		})
		if err != nil {
			return nil, err
		}
		s.recency = c
	}
	return s, nil
}

// Put stores a copy of data and returns a token that has never been
// handed out before.
func (s *MemoryStore) Put(data []byte) string {
	buf := append([]byte(nil), data...)

	s.mu.Lock()
	defer s.mu.Unlock()

	token := uuid.NewString()
	for {
		if _, taken := s.blobs[token]; !taken {
			break
		}
		token = uuid.NewString()
	}

	s.blobs[token] = entry{data: buf, created: s.now()}
	s.size += int64(len(buf))
	if s.recency != nil {
		s.recency.Add(token, struct{}{})
	}
	return token
}

// Get returns a copy of the bytes stored under token.
func (s *MemoryStore) Get(token string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.blobs[token]
	if ok && s.recency != nil {
		s.recency.Get(token)
	}
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

// Len reports the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Stats reports entry count, total payload bytes and evictions so far.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Entries: len(s.blobs), Bytes: s.size, Evicted: s.evicted}
}

// Sweep drops entries older than the configured MaxAge and returns how
// many were removed. It is a no-op when MaxAge is zero.
func (s *MemoryStore) Sweep() int {
	if s.maxAge <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, e := range s.blobs {
		if !e.created.Before(cutoff) {
			continue
		}
		if s.removeLocked(token) {
			removed++
			s.evicted++
		}
		if s.recency != nil {
			s.recency.Remove(token)
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled. It
// returns immediately when MaxAge is zero.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if s.maxAge <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.Sweep()
			if onSweep != nil && n > 0 {
				onSweep(n)
			}
		}
	}
}

func (s *MemoryStore) removeLocked(token string) bool {
	e, ok := s.blobs[token]
	if !ok {
		return false
	}
	delete(s.blobs, token)
	s.size -= int64(len(e.data))
	return true
}
