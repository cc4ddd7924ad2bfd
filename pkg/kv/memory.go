package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultSweepInterval = 30 * time.Second

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is a process-local Store with a background expiry sweep.
type MemoryStore struct {
	opts    Options
	mu      sync.RWMutex
	entries map[string]memoryEntry
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryStore creates an in-memory store and starts its expiry sweep.
func NewMemoryStore(opts Options) *MemoryStore {
	s := &MemoryStore{
		opts:    opts,
		entries: make(map[string]memoryEntry),
		stopCh:  make(chan struct{}),
	}
	go s.sweep(defaultSweepInterval)
	return s
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.mu.Lock()
			for k, e := range s.entries {
				if e.expired(now) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := s.opts.serializer().Marshal(value)
	if err != nil {
		return err
	}

	entry := memoryEntry{data: data}
	if d := s.opts.effectiveTTL(ttl); d > 0 {
		entry.expiresAt = time.Now().Add(d)
	}

	s.mu.Lock()
	s.entries[s.opts.fullKey(key)] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string, out any) (bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[s.opts.fullKey(key)]
	s.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return false, nil
	}
	if err := s.opts.serializer().Unmarshal(entry.data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	full := s.opts.fullKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[full]
	if !ok {
		return false, nil
	}
	delete(s.entries, full)
	return !entry.expired(time.Now()), nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[s.opts.fullKey(key)]
	s.mu.RUnlock()
	return ok && !entry.expired(time.Now()), nil
}

func (s *MemoryStore) RangeGet(ctx context.Context, start, end string, limit int) ([]Pair, error) {
	fullStart := s.opts.fullKey(start)
	fullEnd := ""
	if end != "" {
		fullEnd = s.opts.fullKey(end)
	}
	keyPrefix := ""
	if s.opts.Prefix != "" {
		keyPrefix = s.opts.Prefix + ":"
	}

	now := time.Now()
	var pairs []Pair

	s.mu.RLock()
	for k, e := range s.entries {
		if keyPrefix != "" && !strings.HasPrefix(k, keyPrefix) {
			continue
		}
		if e.expired(now) || k < fullStart {
			continue
		}
		if fullEnd != "" && k >= fullEnd {
			continue
		}
		pairs = append(pairs, Pair{Key: s.stripPrefix(k), Value: e.data})
	}
	s.mu.RUnlock()

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs, nil
}

func (s *MemoryStore) stripPrefix(full string) string {
	if s.opts.Prefix == "" {
		return full
	}
	return full[len(s.opts.Prefix)+1:]
}

func (s *MemoryStore) DecodeInto(data []byte, out any) error {
	return s.opts.serializer().Unmarshal(data, out)
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return nil
}
