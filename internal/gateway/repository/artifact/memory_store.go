package artifact

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps archives in process. It backs tests and deployments
// without object storage; its archives have no URL.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, project, name string, content []byte) error {
	project, name, err := validate(project, name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	archives, ok := s.projects[project]
	if !ok {
		archives = make(map[string][]byte)
		s.projects[project] = archives
	}
	archives[name] = slices.Clone(content)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, project, name string) ([]byte, error) {
	project, name, err := validate(project, name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.projects[project][name]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(raw), nil
}

func (s *MemoryStore) List(_ context.Context, project string) ([]string, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.projects[project])), nil
}

func (s *MemoryStore) GetURL(context.Context, string, string) (string, error) {
	return "", nil
}
