package trajectory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"aquarium_arm/protocol"
)

const fileExt = ".json"

// Store keeps trajectories as indented JSON files named <name>.json in a
// single directory.
type Store struct {
	dir    string
	logger logging.Logger

	mu       sync.Mutex
	watchers int
	cached   bool
	listing  []protocol.TrajectoryInfo
}

// NewStore creates dir if needed.
func NewStore(dir string, logger logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create trajectory directory %s", dir)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// Save writes steps under name, replacing any existing trajectory. The file
// is written to a temporary name and renamed into place.
func (s *Store) Save(name string, steps []Step) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if len(steps) == 0 {
		return ErrEmpty
	}

	data, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write trajectory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write trajectory file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write trajectory file: %w", err)
	}

	s.invalidate()
	s.logger.Infof("Trajectory %s saved (%d steps)", name, len(steps))
	return nil
}

// Load reads the named trajectory. A missing trajectory is reported with
// found == false and a nil error.
func (s *Store) Load(name string) (steps []Step, found bool, err error) {
	if err := ValidateName(name); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read trajectory file: %w", err)
	}
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, false, errors.Wrapf(err, "trajectory %s is corrupt", name)
	}

	s.logger.Debugf("Loaded trajectory %s (%d steps)", name, len(steps))
	return steps, true, nil
}

// Delete removes the named trajectory. Deleting a missing trajectory returns
// false and no error.
func (s *Store) Delete(name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete trajectory file: %w", err)
	}
	s.invalidate()
	s.logger.Infof("Trajectory %s deleted", name)
	return true, nil
}

// List returns the stored trajectories sorted by name. Files that are not
// .json or whose names are not valid trajectory names are skipped.
func (s *Store) List() ([]protocol.TrajectoryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watchers > 0 && s.cached {
		return append([]protocol.TrajectoryInfo{}, s.listing...), nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list trajectories: %w", err)
	}

	infos := []protocol.TrajectoryInfo{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != fileExt {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), fileExt)
		if ValidateName(name) != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		infos = append(infos, protocol.TrajectoryInfo{
			Name:     name,
			Modified: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	s.listing = infos
	s.cached = true
	return append([]protocol.TrajectoryInfo{}, infos...), nil
}

// Watch caches List results until the directory changes. It returns once the
// watcher is installed; watching stops when ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create directory watcher")
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "failed to watch %s", s.dir)
	}

	s.mu.Lock()
	s.watchers++
	s.cached = false
	s.mu.Unlock()

	utils.PanicCapturingGo(func() {
		defer func() {
			watcher.Close()
			s.mu.Lock()
			s.watchers--
			s.cached = false
			s.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.logger.Debugf("Trajectory directory changed: %s", event)
				s.invalidate()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warnf("Trajectory directory watcher error: %v", err)
			}
		}
	})
	return nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = false
	s.listing = nil
}
