package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"mjgate/internal/model"
)

// MemoryTaskStore is a process-local TaskStore used for standalone mode
// and tests. Records are deep-copied through JSON so callers never share
// mutable state with the store.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string][]byte
}

// NewMemoryTaskStore creates an empty in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string][]byte)}
}

func (s *MemoryTaskStore) Get(_ context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	data, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	t := &model.Task{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *MemoryTaskStore) Save(_ context.Context, t *model.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tasks[t.ID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryTaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryTaskStore) GetAllIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryTaskStore) ListByInstance(ctx context.Context, instanceID string, limit int) ([]*model.Task, error) {
	ids, _ := s.GetAllIDs(ctx)
	out := make([]*model.Task, 0)
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		if t.InstanceID == instanceID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmitTime > out[j].SubmitTime })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryAccountStore is the in-memory AccountStore counterpart.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
}

// NewMemoryAccountStore creates an empty in-memory account store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*model.Account)}
}

func (s *MemoryAccountStore) Get(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (s *MemoryAccountStore) Save(_ context.Context, a *model.Account) error {
	clone := *a
	s.mu.Lock()
	s.accounts[a.ID] = &clone
	s.mu.Unlock()
	return nil
}

func (s *MemoryAccountStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.accounts, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryAccountStore) GetAll(_ context.Context) ([]*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		clone := *a
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
