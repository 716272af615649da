package drill

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IsDrillFile reports whether name looks like a per-layer drill file that
// takes part in consolidation.
func IsDrillFile(name string) bool {
	if strings.EqualFold(name, ConsolidatedName) {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".drl")
}

// FindFiles lists the drill files directly inside dir, sorted by name.
func FindFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsDrillFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// MergeDir consolidates every drill file in dir and returns the merged
// program together with the names of the files that were read.
func MergeDir(dir string) (string, []string, error) {
	names, err := FindFiles(dir)
	if err != nil {
		return "", nil, fmt.Errorf("list drill files: %w", err)
	}
	contents := make([]string, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", nil, fmt.Errorf("read drill file %s: %w", name, err)
		}
		contents = append(contents, string(b))
	}
	return Merge(contents), names, nil
}
