package intake

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryDraftStore is a thread-safe in-memory DraftStore, used in
// development and tests.
type MemoryDraftStore struct {
	mu     sync.RWMutex
	drafts map[DraftKey]*StoredDraft
}

func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{drafts: make(map[DraftKey]*StoredDraft)}
}

func (s *MemoryDraftStore) Put(_ context.Context, d *StoredDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.Payload = append([]byte(nil), d.Payload...)
	s.drafts[d.Key] = &cp
	return nil
}

func (s *MemoryDraftStore) Get(_ context.Context, key DraftKey) (*StoredDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[key]
	if !ok {
		return nil, ErrDraftNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryDraftStore) Delete(_ context.Context, key DraftKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drafts[key]; !ok {
		return ErrDraftNotFound
	}
	delete(s.drafts, key)
	return nil
}

func (s *MemoryDraftStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, d := range s.drafts {
		if !d.UpdatedAt.After(cutoff) {
			delete(s.drafts, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryDraftStore) List(_ context.Context, limit, offset int) ([]*StoredDraft, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*StoredDraft, 0, len(s.drafts))
	for _, d := range s.drafts {
		cp := *d
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	total := len(all)
	if offset >= total {
		return []*StoredDraft{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}
