package graph

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/taskmesh/taskmesh/core"
)

// FileStore reads project definitions from YAML files named <projectID>.yaml
// in a directory. It is a thin stand-in for the ORM-backed configuration
// store, which lives outside this engine.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Project implements ProjectStore.
func (s *FileStore) Project(projectID string) (*ProjectDefinition, error) {
	path := filepath.Join(s.dir, projectID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.Errorf(core.CodeNotFound, "project %q not found", projectID)
		}
		return nil, core.WrapError(core.CodeConfigInvalid, err, "reading project %q", projectID)
	}

	var def ProjectDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, core.WrapError(core.CodeConfigInvalid, err, "parsing project %q", projectID)
	}
	if def.ID == "" {
		def.ID = projectID
	}
	return &def, nil
}

// InMemoryStore is a volatile ProjectStore for tests and embedded setups.
type InMemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*ProjectDefinition
}

// NewInMemoryStore constructs an empty in-memory project store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{projects: make(map[string]*ProjectDefinition)}
}

// Put stores or replaces a project definition.
func (s *InMemoryStore) Put(def *ProjectDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[def.ID] = def
}

// Project implements ProjectStore.
func (s *InMemoryStore) Project(projectID string) (*ProjectDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.projects[projectID]
	if !ok {
		return nil, core.Errorf(core.CodeNotFound, "project %q not found", projectID)
	}
	return def, nil
}
