package catalog

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemStore keeps products for the process lifetime only.
type MemStore struct {
	mu       sync.RWMutex
	products []Product // ascending ID, which is insertion order
	nextID   int64
}

func NewMemStore() *MemStore {
	return &MemStore{nextID: 1}
}

func (s *MemStore) Ping(context.Context) error { return nil }

func (s *MemStore) Create(_ context.Context, p Product) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.nextID
	s.nextID++
	s.products = append(s.products, p)
	return p, nil
}

func (s *MemStore) List(context.Context) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Product, len(s.products))
	copy(out, s.products)
	return out, nil
}

func (s *MemStore) Get(_ context.Context, id int64) (Product, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index(id)
	if !ok {
		return Product{}, false, nil
	}
	return s.products[i], true, nil
}

func (s *MemStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index(id)
	if !ok {
		return false, nil
	}
	s.products = slices.Delete(s.products, i, i+1)
	return true, nil
}

func (s *MemStore) index(id int64) (int, bool) {
	i := sort.Search(len(s.products), func(i int) bool { return s.products[i].ID >= id })
	return i, i < len(s.products) && s.products[i].ID == id
}
