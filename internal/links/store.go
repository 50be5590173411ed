// Package links remembers which A event corresponds to which B object across runs.
package links

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store maps A refs to B refs. Put only changes the in-memory view; Save persists it.
type Store interface {
	Lookup(aRef string) (bRef string, ok bool)
	Put(aRef, bRef string)
	Save(ctx context.Context) error
}

// pairs is the in-memory map shared by the backends.
type pairs struct {
	mu    sync.RWMutex
	links map[string]string
	dirty map[string]struct{}
}

func newPairs(initial map[string]string) *pairs {
	if initial == nil {
		initial = make(map[string]string)
	}
	return &pairs{links: initial, dirty: make(map[string]struct{})}
}

func (p *pairs) Lookup(aRef string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.links[aRef]
	return b, ok
}

func (p *pairs) Put(aRef, bRef string) {
	if aRef == "" || bRef == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.links[aRef] == bRef {
		return
	}
	p.links[aRef] = bRef
	p.dirty[aRef] = struct{}{}
}

// Len reports the number of known pairs.
func (p *pairs) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.links)
}

// FileStore keeps pairs in a JSON object on disk, keyed by A ref.
type FileStore struct {
	*pairs
	path string
}

// OpenFile loads path. A missing file starts an empty store.
func OpenFile(logger *slog.Logger, path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load link state: %w", err)
		}
		logger.Info("No link state file found, starting fresh.", "file", path)
		return &FileStore{pairs: newPairs(nil), path: path}, nil
	}
	var links map[string]string
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("failed to parse link state %s: %w", path, err)
	}
	return &FileStore{pairs: newPairs(links), path: path}, nil
}

// Save writes the store atomically through a temporary file.
func (s *FileStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 {
		return nil
	}

	data, err := json.MarshalIndent(s.links, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal link state: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create link state dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write link state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace link state: %w", err)
	}
	s.dirty = make(map[string]struct{})
	return nil
}
