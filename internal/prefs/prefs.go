// Package prefs stores user preferences in a flat TOML or YAML file and reports
// external edits to that file as (key, value) changes.
package prefs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DebounceInterval is how long the watcher waits for a burst of writes to settle.
const DebounceInterval = 100 * time.Millisecond

// Change is one preference whose value differs from the last known one.
type Change struct {
	Key   string
	Value string
}

// Store is a preference file. It is safe for concurrent use.
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	values map[string]string
}

// Open loads the preference file. A missing file yields an empty store; it is
// created on the first Set.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if _, err := formatOf(path); err != nil {
		return nil, err
	}
	values, err := load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, logger: logger, values: values}, nil
}

// Path returns the preference file path.
func (s *Store) Path() string {
	return s.path
}

// Values returns a copy of every stored preference.
func (s *Store) Values() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

// Get returns one preference.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a preference and rewrites the file.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.values[key]; ok && old == value {
		return nil
	}
	next := maps.Clone(s.values)
	next[key] = value
	if err := save(s.path, next); err != nil {
		return err
	}
	s.values = next
	return nil
}

// Watch reports external edits of the preference file on out until ctx is done.
// Keys removed from the file are not reported.
func (s *Store) Watch(ctx context.Context, out chan<- Change) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors replace files by rename.
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(DebounceInterval)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("preference watcher error", "error", err)

		case <-debounce.C:
			changes, err := s.reload()
			if err != nil {
				s.logger.Warn("failed to reload preferences", "path", s.path, "error", err)
				continue
			}
			for _, c := range changes {
				select {
				case out <- c:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// reload re-reads the file and returns the changed keys in sorted order.
func (s *Store) reload() ([]Change, error) {
	next, err := load(s.path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changes := Diff(s.values, next)
	for _, c := range changes {
		s.values[c.Key] = c.Value
	}
	return changes, nil
}

// Diff returns the keys of next whose values differ from prev, sorted by key.
func Diff(prev, next map[string]string) []Change {
	var changes []Change
	for _, k := range slices.Sorted(maps.Keys(next)) {
		if v, ok := prev[k]; !ok || v != next[k] {
			changes = append(changes, Change{Key: k, Value: next[k]})
		}
	}
	return changes
}

type format int

const (
	formatTOML format = iota
	formatYAML
)

func formatOf(path string) (format, error) {
	switch filepath.Ext(path) {
	case ".toml":
		return formatTOML, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("unsupported preference file %q (want .toml, .yaml or .yml)", path)
	}
}

func load(path string) (map[string]string, error) {
	f, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	raw := map[string]any{}
	switch f {
	case formatTOML:
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			values[k] = v
		case map[string]any, []any:
			return nil, fmt.Errorf("preference %q: nested values are not supported", k)
		case nil:
			values[k] = ""
		default:
			values[k] = fmt.Sprint(v)
		}
	}
	return values, nil
}

func save(path string, values map[string]string) error {
	f, err := formatOf(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	switch f {
	case formatTOML:
		if err := toml.NewEncoder(&buf).Encode(values); err != nil {
			return fmt.Errorf("encode TOML: %w", err)
		}
	case formatYAML:
		data, err := yaml.Marshal(values)
		if err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		buf.Write(data)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create preference directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace preferences: %w", err)
	}
	return nil
}
