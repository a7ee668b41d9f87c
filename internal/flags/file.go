package flags

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aimerfeng/DomainDesk/internal/models"
	"gopkg.in/yaml.v3"
)

// fileFlag mirrors models.FeatureFlag so an omitted rollout can be told apart from 0
type fileFlag struct {
	ID                string   `yaml:"id"`
	Description       string   `yaml:"description"`
	Enabled           bool     `yaml:"enabled"`
	RolloutPercentage *int     `yaml:"rollout_percentage"`
	AllowedUsers      []string `yaml:"allowed_users"`
	AllowedRoles      []string `yaml:"allowed_roles"`
}

type fileDocument struct {
	Flags []fileFlag `yaml:"flags"`
}

// FileSource reads definitions from a YAML file. Reload re-reads the file; a
// failed reload keeps serving the last good snapshot.
type FileSource struct {
	path string

	mu    sync.RWMutex
	flags []models.FeatureFlag
	err   error
}

// NewFileSource loads the file at path
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Flags implements Source
func (s *FileSource) Flags(ctx context.Context) ([]models.FeatureFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.flags == nil && s.err != nil {
		return nil, s.err
	}
	return s.flags, nil
}

// Reload re-reads the YAML file
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.fail(fmt.Errorf("failed to read flag file: %w", err))
	}
	defs, err := Parse(data)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.flags = defs
	s.err = nil
	s.mu.Unlock()
	return nil
}

func (s *FileSource) fail(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err
}

// Parse decodes a YAML flag document
func Parse(data []byte) ([]models.FeatureFlag, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse flag file: %w", err)
	}

	seen := make(map[string]bool, len(doc.Flags))
	defs := make([]models.FeatureFlag, 0, len(doc.Flags))
	for _, f := range doc.Flags {
		if f.ID == "" {
			return nil, fmt.Errorf("flag without id")
		}
		if seen[f.ID] {
			return nil, fmt.Errorf("duplicate flag %q", f.ID)
		}
		seen[f.ID] = true

		rollout := 100
		if f.RolloutPercentage != nil {
			rollout = *f.RolloutPercentage
		}
		if rollout < 0 || rollout > 100 {
			return nil, fmt.Errorf("flag %q: rollout_percentage must be within 0-100", f.ID)
		}

		defs = append(defs, models.FeatureFlag{
			ID:                f.ID,
			Description:       f.Description,
			Enabled:           f.Enabled,
			RolloutPercentage: rollout,
			AllowedUsers:      f.AllowedUsers,
			AllowedRoles:      f.AllowedRoles,
		})
	}
	return defs, nil
}
