package report

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and development. The durable
// deployment uses the postgres adapter.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	ordered  []*Version
	byID     map[string]*Version
	byUpload map[string][]*Version
	byFP     map[string][]*Version
}

// NewMemoryStore creates an empty in-memory version store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Version),
		byUpload: make(map[string][]*Version),
		byFP:     make(map[string][]*Version),
	}
}

func (s *MemoryStore) Append(ctx context.Context, v *Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	v.VersionSeq = s.seq

	copy := *v
	s.ordered = append(s.ordered, &copy)
	s.byID[copy.VersionID] = &copy
	s.byUpload[copy.UploadID] = append(s.byUpload[copy.UploadID], &copy)
	s.byFP[copy.Fingerprint] = append(s.byFP[copy.Fingerprint], &copy)
	return nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, uploadID string) ([]*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.byUpload[uploadID]
	out := make([]*Version, 0, len(versions))
	for _, v := range versions {
		copy := *v
		out = append(out, &copy)
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, versionID string) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.byID[versionID]
	if !exists {
		return nil, ErrVersionNotFound
	}
	copy := *v
	return &copy, nil
}

func (s *MemoryStore) LatestByFingerprint(ctx context.Context, fp string) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.byFP[fp]
	if len(versions) == 0 {
		return nil, ErrVersionNotFound
	}
	copy := *versions[len(versions)-1]
	return &copy, nil
}

func (s *MemoryStore) LatestByUpload(ctx context.Context, uploadID string) (*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.byUpload[uploadID]
	if len(versions) == 0 {
		return nil, ErrVersionNotFound
	}
	copy := *versions[len(versions)-1]
	return &copy, nil
}
