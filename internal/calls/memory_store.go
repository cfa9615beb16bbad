package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enercall/webhook-relay/internal/phone"
)

// MemoryStore is an in-memory Store used when no database is configured and
// as the test double for the reconciliation and handler packages. It mirrors
// the Postgres dedup behavior: inserting a second record for the same
// webhook id returns the first.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*Record)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(_ context.Context, rec *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.WebhookID != uuid.Nil {
		for _, existing := range s.records {
			if existing.WebhookID == rec.WebhookID {
				clone := *existing
				return &clone, nil
			}
		}
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	clone := *rec
	s.records[rec.ID] = &clone
	return rec, nil
}

func (s *MemoryStore) FindByComparisonKey(_ context.Context, key string) ([]Record, error) {
	if key == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if phone.Matches(rec.PhoneNumber, key) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateBillReceived(_ context.Context, ids []uuid.UUID, value bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			v := value
			rec.BillReceived = &v
			rec.UpdatedAt = time.Now().UTC()
			updated++
		}
	}
	return updated, nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, *rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *MemoryStore) GetByCallID(_ context.Context, callID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Record
	for _, rec := range s.records {
		if rec.CallID != callID {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	clone := *latest
	return &clone, nil
}
