package cache

import (
	"context"
	"errors"
	"sync"
)

// Keys under which the durable stores keep the cached snapshot and its acquisition time.
const (
	KeySnapshot  = "location_cache"
	KeyTimestamp = "location_cache_timestamp"
)

// ErrNoRecord is returned by Store.Load when nothing has been persisted.
var ErrNoRecord = errors.New("no cached record")

// Record is the persisted form of the cache slot.
type Record struct {
	Serialized      string
	TimestampMillis int64
}

// Store persists the single cache slot across restarts.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
}

// MemoryStore is a Store that lives only as long as the process. Safe for concurrent use.
type MemoryStore struct {
	mu  sync.Mutex
	rec *Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return Record{}, ErrNoRecord
	}
	return *s.rec, nil
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = &rec
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}
