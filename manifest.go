package rgb9e5ktx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Manifest describes a conversion batch stored as YAML.
//
//	tick_interval: 10ms
//	workers: 4
//	jobs:
//	  - source: sky.exr
//	    destination: sky.ktx2
type Manifest struct {
	// TickInterval is the scheduler tick period, defaults to 10ms.
	TickInterval time.Duration `yaml:"tick_interval"`
	// Workers limits concurrent decodes, zero means GOMAXPROCS.
	Workers int `yaml:"workers"`
	// Jobs lists conversions; relative paths resolve against the manifest directory.
	Jobs []Pair `yaml:"jobs"`

	dir string
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("manifest: read file: %w", err)
	}

	m := &Manifest{TickInterval: defaultTickInterval}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("manifest: parse yaml: %w", err)
	}

	if m.TickInterval <= 0 {
		return nil, fmt.Errorf("%w: manifest tick_interval must be positive", ErrValidation)
	}
	if m.Workers < 0 {
		return nil, fmt.Errorf("%w: manifest workers must not be negative", ErrValidation)
	}

	m.dir = filepath.Dir(path)

	return m, nil
}

// Pairs returns the manifest jobs with paths resolved, validated like Pairs.
func (m *Manifest) Pairs() ([]Pair, error) {
	if len(m.Jobs) == 0 {
		return nil, ErrNoSources
	}

	pairs := make([]Pair, len(m.Jobs))
	for i, j := range m.Jobs {
		if j.Source == "" {
			return nil, fmt.Errorf("%w: jobs[%d]: source is required", ErrValidation, i)
		}
		if j.Destination == "" {
			return nil, fmt.Errorf("%w: jobs[%d]: destination is required", ErrValidation, i)
		}
		pairs[i] = Pair{Source: m.resolve(j.Source), Destination: m.resolve(j.Destination)}
	}
	return pairs, nil
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}

// Run converts the manifest jobs with a fresh FileSource.
func (m *Manifest) Run(ctx context.Context) (*BatchResult, error) {
	pairs, err := m.Pairs()
	if err != nil {
		return nil, err
	}

	src := NewFileSource(func(o *FileSourceOptions) {
		if m.Workers > 0 {
			o.Workers = m.Workers
		}
	})
	defer src.Close()

	return Run(ctx, src, pairs, func(o *RunOptions) {
		o.TickInterval = m.TickInterval
	})
}

// WatchManifest calls onChange with the reloaded manifest each time the file at path
// is written or replaced, until ctx is cancelled. A manifest that fails to load is logged and skipped.
//
// The parent directory is watched so that saves through write-and-rename keep being observed.
func WatchManifest(ctx context.Context, path string, onChange func(*Manifest)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	Logger().Info("watching manifest", "path", target)

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
			// A rename onto target shows up as Create, Rename is the old file moving away.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			m, err := LoadManifest(target)
			if err != nil {
				Logger().Error("manifest reload failed", "path", target, "error", err)
				continue
			}

			Logger().Info("manifest reloaded", "path", target, "jobs", len(m.Jobs))
			onChange(m)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			Logger().Error("manifest watcher error", "error", err)
		}
	}
}
