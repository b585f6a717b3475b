package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Registry is a file-backed mapping of platform symbol to quota release time.
//
// Every operation reloads the file from disk and writes it back atomically
// via a temp-file rename, so halts imposed by a previous run (or observed by
// external tools) survive restarts. The orchestrator process is the single
// writer; readers tolerate a missing file as "no halts". Platform managers
// write concurrently within the process, so mutations hold a mutex across
// the load-modify-write cycle.
type Registry struct {
	path string
	mu   sync.Mutex
}

// NewRegistry creates a registry backed by the given file path
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Path returns the backing file location
func (r *Registry) Path() string {
	return r.path
}

// Load reads all current quota halts. A missing file yields an empty map.
func (r *Registry) Load() (map[string]time.Time, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]time.Time{}, nil
		}
		return nil, fmt.Errorf("failed to read quota registry: %w", err)
	}

	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse quota registry: %w", err)
	}

	halts := make(map[string]time.Time, len(raw))
	for platform, ts := range raw {
		halts[platform] = time.Unix(ts, 0)
	}
	return halts, nil
}

// Get returns the release time for a platform, or ok=false when no halt is
// recorded.
func (r *Registry) Get(platform string) (time.Time, bool, error) {
	halts, err := r.Load()
	if err != nil {
		return time.Time{}, false, err
	}
	release, ok := halts[platform]
	return release, ok, nil
}

// Store records a quota halt for a platform until releaseAt
func (r *Registry) Store(platform string, releaseAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	halts, err := r.Load()
	if err != nil {
		return err
	}
	halts[platform] = releaseAt
	return r.write(halts)
}

// Remove clears the halt for a platform. Removing an absent entry is a no-op.
func (r *Registry) Remove(platform string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	halts, err := r.Load()
	if err != nil {
		return err
	}
	if _, ok := halts[platform]; !ok {
		return nil
	}
	delete(halts, platform)
	return r.write(halts)
}

func (r *Registry) write(halts map[string]time.Time) error {
	raw := make(map[string]int64, len(halts))
	for platform, release := range halts {
		raw[platform] = release.Unix()
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode quota registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create quota registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".quota-*")
	if err != nil {
		return fmt.Errorf("failed to create quota temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write quota registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close quota temp file: %w", err)
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace quota registry: %w", err)
	}
	return nil
}
