package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"

	"pcbmill/internal/safeio"
)

func (s *Store) ensureLoadedFile() {
	s.loadOnce.Do(func() {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return
		}
		var rows []Entry
		if err := json.Unmarshal(b, &rows); err != nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, row := range rows {
			row = normalizeEntry(row)
			if row.Name == "" {
				continue
			}
			s.byName[row.Name] = row
		}
	})
}

// saveFileLocked writes the catalog; the caller holds s.mu.
func (s *Store) saveFileLocked() error {
	rows := make([]Entry, 0, len(s.byName))
	for _, e := range s.byName {
		rows = append(rows, e)
	}
	sortEntries(rows)
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return safeio.WriteFileAtomic(s.path, b, 0o644)
}

func (s *Store) touchFile(e Entry) error {
	s.ensureLoadedFile()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[e.Name] = e
	return s.saveFileLocked()
}

func (s *Store) listFile() ([]Entry, error) {
	s.ensureLoadedFile()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.byName))
	for _, e := range s.byName {
		out = append(out, e)
	}
	return out, nil
}
