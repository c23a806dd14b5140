// internal/browser/fingerprint/history.go
package fingerprint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var historyJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// History keeps a plaintext JSON snapshot of every generated profile for
// later audit. Snapshots contain no secrets.
type History struct {
	dir string
}

// NewHistory creates dir if needed.
func NewHistory(dir string) (*History, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fingerprint history: %w", err)
	}
	return &History{dir: dir}, nil
}

// Dir returns the snapshot directory.
func (h *History) Dir() string { return h.dir }

// Record writes p to its own snapshot file.
func (h *History) Record(p Profile) error {
	data, err := historyJSON.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("fingerprint history: encode %s: %w", p.ID, err)
	}
	name := fmt.Sprintf("%s-%s.json", p.CreatedAt.UTC().Format("20060102T150405.000000000"), p.ID)
	if err := os.WriteFile(filepath.Join(h.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("fingerprint history: write %s: %w", name, err)
	}
	return nil
}

// List returns every recorded profile, oldest first. Unreadable snapshots
// are skipped.
func (h *History) List() ([]Profile, error) {
	paths, err := filepath.Glob(filepath.Join(h.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	profiles := make([]Profile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var p Profile
		if err := historyJSON.Unmarshal(data, &p); err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
	})
	return profiles, nil
}
