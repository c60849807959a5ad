package dataset

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is an in-memory implementation of Repository. Datasets are
// session-scoped (lost on restart by design); cached results and report
// versions outlive them independently.
type MemoryRepository struct {
	mu       sync.RWMutex
	datasets map[string]*DataSet
}

// NewMemoryRepository creates a new in-memory dataset repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		datasets: make(map[string]*DataSet),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, d *DataSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.datasets[d.UploadID]; exists {
		return ErrAlreadyExists
	}

	// Store a copy to prevent external modification
	copy := *d
	r.datasets[d.UploadID] = &copy
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, uploadID string) (*DataSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, exists := r.datasets[uploadID]
	if !exists {
		return nil, ErrNotFound
	}

	copy := *d
	return &copy, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*DataSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*DataSet, 0, len(r.datasets))
	for _, d := range r.datasets {
		copy := *d
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RegisteredAt.Before(result[j].RegisteredAt)
	})
	return result, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.datasets[uploadID]; !exists {
		return ErrNotFound
	}

	delete(r.datasets, uploadID)
	return nil
}
