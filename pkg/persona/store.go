package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store exposes persona retrieval for the session manager and handlers.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// Editor is implemented by stores that support persona editing.
type Editor interface {
	Save(p Persona) error
	Delete(id string) error
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns the stored personas.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// FileStore persists personas to a single JSON file keyed by persona id.
// An empty or missing file is seeded with the default personas.
type FileStore struct {
	path string

	mu    sync.RWMutex
	items map[string]Persona
}

// NewFileStore loads (or creates) the persona file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:  path,
		items: make(map[string]Persona),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var personas []Persona
		if err := json.Unmarshal(data, &personas); err != nil {
			return nil, fmt.Errorf("persona: parse %s: %w", path, err)
		}
		for _, p := range personas {
			s.items[p.ID] = p
		}
	case os.IsNotExist(err):
		// Seeded below.
	default:
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}

	seeded := false
	for _, p := range Seed() {
		if _, ok := s.items[p.ID]; !ok {
			s.items[p.ID] = p
			seeded = true
		}
	}
	if seeded {
		if err := s.flush(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// List returns all personas ordered by creation time.
func (s *FileStore) List() []Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Persona, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// FindByID looks up a persona by identifier.
func (s *FileStore) FindByID(id string) (Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.items[id]
	return p, ok
}

// Save inserts or replaces a persona and persists the file.
func (s *FileStore) Save(p Persona) error {
	if p.ID == "" {
		return fmt.Errorf("persona: save requires an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[p.ID] = p
	return s.flush()
}

// Delete removes a persona by id and persists the file.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, id)
	return s.flush()
}

// flush writes the persona file. Callers must hold mu.
func (s *FileStore) flush() error {
	out := make([]Persona, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("persona: encode: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("persona: mkdir %s: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persona: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("persona: rename %s: %w", tmp, err)
	}
	return nil
}
