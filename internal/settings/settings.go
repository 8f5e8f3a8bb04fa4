// Package settings persists the organizer settings as a JSON file next to
// the database and reports edits to it.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/organizer"
)

// FileName is the settings file inside the base directory.
const FileName = "settings.json"

// Defaults returns the settings used when no file exists.
func Defaults() organizer.Settings {
	return organizer.Settings{
		PeriodDays:         30,
		MinExecutionCount:  2,
		MaxPrompts:         50,
		OrganizationPrompt: organizer.DefaultOrganizationPrompt,
	}
}

// Patch is a partial settings update. Nil fields are left as is.
type Patch struct {
	PeriodDays         *int    `json:"filterPeriodDays,omitempty"`
	MinExecutionCount  *int    `json:"filterMinExecutionCount,omitempty"`
	MaxPrompts         *int    `json:"filterMaxPrompts,omitempty"`
	OrganizationPrompt *string `json:"organizationPrompt,omitempty"`
}

// Apply returns s with the patch applied.
func (p Patch) Apply(s organizer.Settings) organizer.Settings {
	if p.PeriodDays != nil {
		s.PeriodDays = *p.PeriodDays
	}
	if p.MinExecutionCount != nil {
		s.MinExecutionCount = *p.MinExecutionCount
	}
	if p.MaxPrompts != nil {
		s.MaxPrompts = *p.MaxPrompts
	}
	if p.OrganizationPrompt != nil {
		s.OrganizationPrompt = *p.OrganizationPrompt
	}
	return s
}

// Store reads and writes baseDir/settings.json.
type Store struct {
	dir  string
	path string
	mu   sync.Mutex
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{dir: baseDir, path: filepath.Join(baseDir, FileName)}
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the settings. A missing file yields Defaults; keys absent from
// the file keep their default values.
func (s *Store) Load() (organizer.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (organizer.Settings, error) {
	out := Defaults()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return out, errors.NewPersistence("read settings", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return Defaults(), errors.NewInvalidRequest(fmt.Sprintf("invalid %s: %v", FileName, err))
	}
	if err := out.Validate(); err != nil {
		return Defaults(), errors.NewInvalidRequest(fmt.Sprintf("invalid %s: %v", FileName, err))
	}
	return out, nil
}

// Save validates and writes the settings. The file is replaced atomically.
func (s *Store) Save(settings organizer.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(settings)
}

func (s *Store) save(settings organizer.Settings) error {
	if err := settings.Validate(); err != nil {
		return errors.NewInvalidRequest(err.Error())
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return errors.NewInternal(err)
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return errors.NewPersistence("create settings directory", err)
	}
	tmp, err := os.CreateTemp(s.dir, FileName+".*.tmp")
	if err != nil {
		return errors.NewPersistence("write settings", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewPersistence("write settings", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewPersistence("write settings", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.NewPersistence("write settings", err)
	}
	return nil
}

// Update applies patch to the stored settings and saves the result.
func (s *Store) Update(patch Patch) (organizer.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return organizer.Settings{}, err
	}
	next := patch.Apply(current)
	if err := s.save(next); err != nil {
		return organizer.Settings{}, err
	}
	return next, nil
}
