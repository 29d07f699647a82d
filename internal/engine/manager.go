package engine

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrEngineNotFound is returned when no engine matches a lookup.
var ErrEngineNotFound = errors.New("engine not found")

// Manager manages engine discovery and access.
type Manager struct {
	engineDir string
	engines   map[string]*Engine
	mu        sync.RWMutex
}

// NewManager creates a new engine Manager rooted at engineDir.
func NewManager(engineDir string) *Manager {
	return &Manager{
		engineDir: engineDir,
		engines:   make(map[string]*Engine),
	}
}

// Discover scans the engine directory for engine.json manifests.
// Each subdirectory is expected to hold one engine; unreadable or invalid
// manifests are skipped.
func (m *Manager) Discover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.engines = make(map[string]*Engine)

	if m.engineDir == "" {
		return nil
	}

	info, err := os.Stat(m.engineDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	entries, err := os.ReadDir(m.engineDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		enginePath := filepath.Join(m.engineDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(enginePath, ManifestFile))
		if err != nil {
			continue
		}

		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			log.Warn().Err(err).Str("dir", enginePath).Msg("skipping engine with invalid manifest")
			continue
		}
		if manifest.Name == "" || manifest.Executable == "" {
			continue
		}

		m.engines[manifest.Name] = &Engine{
			Manifest:   manifest,
			Path:       enginePath,
			Executable: filepath.Join(enginePath, manifest.Executable),
		}
		log.Debug().Str("engine", manifest.Name).Strs("tasks", manifest.Tasks).Msg("discovered engine")
	}

	return nil
}

// Get returns an engine by name.
func (m *Manager) Get(name string) (*Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.engines[name]
	if !ok {
		return nil, ErrEngineNotFound
	}
	return e, nil
}

// ForTask returns the engine serving task. When several do, the one whose
// name sorts first wins so the choice is stable across runs.
func (m *Manager) ForTask(task string) (*Engine, error) {
	for _, e := range m.List() {
		if e.Supports(task) {
			return e, nil
		}
	}
	return nil, ErrEngineNotFound
}

// List returns all discovered engines sorted by name.
func (m *Manager) List() []*Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()

	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	sort.Slice(engines, func(i, j int) bool {
		return engines[i].Manifest.Name < engines[j].Manifest.Name
	})
	return engines
}

// EngineDir returns the engine directory path.
func (m *Manager) EngineDir() string {
	return m.engineDir
}
