package plans

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document that declares the plan catalog
type SeedFile struct {
	Plans []CreatePlanRequest `yaml:"plans"`
}

// LoadSeedFile parses a plan seed file
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses plan seed YAML
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse plan seed: %w", err)
	}
	seen := make(map[string]bool)
	for i, p := range seed.Plans {
		if p.Slug == "" || p.Name == "" {
			return nil, fmt.Errorf("plan %d: name and slug are required", i)
		}
		if !p.BillingInterval.Valid() {
			return nil, fmt.Errorf("plan %s: invalid billing interval %q", p.Slug, p.BillingInterval)
		}
		if seen[p.Slug] {
			return nil, fmt.Errorf("plan %s: duplicate slug", p.Slug)
		}
		seen[p.Slug] = true
	}
	return &seed, nil
}

// Seeder keeps the catalog in sync with a seed file
type Seeder struct {
	svc    Service
	path   string
	logger *logrus.Logger
}

// NewSeeder creates a seeder for the seed file at path
func NewSeeder(svc Service, path string, logger *logrus.Logger) *Seeder {
	return &Seeder{svc: svc, path: path, logger: logger}
}

// Sync upserts every plan of the seed file and returns how many were applied
func (s *Seeder) Sync(ctx context.Context) (int, error) {
	seed, err := LoadSeedFile(s.path)
	if err != nil {
		return 0, err
	}
	for i := range seed.Plans {
		if _, err := s.svc.UpsertPlan(ctx, &seed.Plans[i]); err != nil {
			return i, err
		}
	}
	s.logger.WithField("plans", len(seed.Plans)).Info("Plan catalog synced")
	return len(seed.Plans), nil
}

// Watch re-syncs the catalog whenever the seed file is written. It blocks
// until ctx is cancelled.
func (s *Seeder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directory.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, err := s.Sync(ctx); err != nil {
				s.logger.WithError(err).Warn("Failed to re-sync plan catalog")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("Plan seed watcher error")
		}
	}
}
