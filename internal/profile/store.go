package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kernwatch/kernd/internal/domain"
)

// ErrNoProfiles is returned when a load finds zero valid profiles.
// Fatal at startup: there is no safe default policy.
var ErrNoProfiles = errors.New("no valid profiles found")

// ErrNotFound is returned by Switch for an unknown profile name.
var ErrNotFound = errors.New("profile not found")

// stateFile persists the active profile name inside the config dir.
const stateFile = ".state"

// Store implements domain.PolicyStore backed by a directory of YAML
// profile files. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	profiles  map[string]domain.Profile
	current   string
	configDir string
	logger    *zap.Logger
}

// NewStore loads all profiles from <configDir>/profiles. A profile that
// fails validation is skipped with a warning; the load fails only if no
// profile loads successfully. The previously persisted selection is
// restored when still valid, else the default profile, else "normal",
// else the first name alphabetically.
func NewStore(configDir, defaultProfile string, logger *zap.Logger) (*Store, error) {
	profilesDir := filepath.Join(configDir, "profiles")

	entries, err := os.ReadDir(profilesDir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir %s: %w", profilesDir, err)
	}

	profiles := make(map[string]domain.Profile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(profilesDir, entry.Name())
		p, err := LoadFile(path)
		if err != nil {
			logger.Warn("skipping invalid profile",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}

		key := strings.TrimSuffix(entry.Name(), ext)
		profiles[key] = p
	}

	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoProfiles, profilesDir)
	}

	s := &Store{
		profiles:  profiles,
		configDir: configDir,
		logger:    logger,
	}
	s.current = s.pickInitial(defaultProfile)
	s.restoreState()

	return s, nil
}

func (s *Store) pickInitial(defaultProfile string) string {
	if _, ok := s.profiles[defaultProfile]; ok {
		return defaultProfile
	}
	if _, ok := s.profiles["normal"]; ok {
		return "normal"
	}
	names := s.sortedNames()
	return names[0]
}

// restoreState re-reads the persisted selection, keeping it only when
// the named profile still exists.
func (s *Store) restoreState() {
	data, err := os.ReadFile(filepath.Join(s.configDir, stateFile))
	if err != nil {
		return
	}
	saved := strings.TrimSpace(string(data))
	if _, ok := s.profiles[saved]; ok {
		s.current = saved
	}
}

// saveState writes the active profile name. Called on every successful
// switch; a write failure is logged but does not fail the switch.
func (s *Store) saveState() {
	path := filepath.Join(s.configDir, stateFile)
	if err := os.WriteFile(path, []byte(s.current), 0600); err != nil {
		s.logger.Warn("failed to persist profile state",
			zap.String("path", path),
			zap.Error(err))
	}
}

// Current returns the active profile.
func (s *Store) Current() domain.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[s.current]
}

// CurrentName returns the active profile's name.
func (s *Store) CurrentName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Get returns a profile by name.
func (s *Store) Get(name string) (domain.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[name]
	return p, ok
}

// Switch atomically activates a different profile and persists the
// selection. Unknown names return ErrNotFound listing valid names.
func (s *Store) Switch(name string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[name]
	if !ok {
		return domain.Profile{}, fmt.Errorf("%w: %q (available: %s)",
			ErrNotFound, name, strings.Join(s.sortedNames(), ", "))
	}

	s.current = name
	s.saveState()
	return p, nil
}

// ListNames returns all profile names, sorted.
func (s *Store) ListNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedNames()
}

func (s *Store) sortedNames() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every profile keyed by name (for the list command).
func (s *Store) All() map[string]domain.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Profile, len(s.profiles))
	for k, v := range s.profiles {
		out[k] = v
	}
	return out
}

// Ensure Store implements domain.PolicyStore.
var _ domain.PolicyStore = (*Store)(nil)
