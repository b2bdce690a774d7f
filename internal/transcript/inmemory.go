package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps records in process. Used when no database is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, records ...Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r = fill(r)
		s.records[r.SessionKey] = append(s.records[r.SessionKey], r)
	}
	return nil
}

func (s *InMemoryStore) List(_ context.Context, sessionKey string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[sessionKey]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, len(arr))
	out := make([]Record, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func fill(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return r
}
