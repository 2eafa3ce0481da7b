// Package config resolves ddmq's layered queue settings: built-in
// defaults, overridden by the root config file, overridden by a queue's
// own config file. Settings are read lazily and cached per queue for the
// life of the process.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the merged, effective configuration for one queue.
type Settings struct {
	MessageTimeout int   `yaml:"message_timeout"`
	Priority       int   `yaml:"priority"`
	Requeue        bool  `yaml:"requeue"`
	RequeuePrio    int   `yaml:"requeue_prio"`
	RequeueLimit   *int  `yaml:"requeue_limit,omitempty"`
	Cleaned        int64 `yaml:"cleaned,omitempty"`
}

// Defaults returns the built-in settings applied before any config file is
// consulted.
func Defaults() Settings {
	return Settings{
		MessageTimeout: 600,
		Priority:       999,
		Requeue:        true,
		RequeuePrio:    0,
	}
}

func merge(base Settings, overlay map[string]any) (Settings, error) {
	raw, err := yaml.Marshal(overlay)
	if err != nil {
		return base, err
	}
	if err := yaml.Unmarshal(raw, &base); err != nil {
		return base, fmt.Errorf("config: merge: %w", err)
	}
	return base, nil
}

// readFile parses a YAML config file into a generic map, preserving
// whatever keys it contains so write-back never drops fields this process
// does not recognize. A missing file yields an empty map, not an error.
func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	m := map[string]any{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return m, nil
}

// writeFile persists m to path using write-temp-then-rename, the only
// supported way to mutate a config file: readers always see either the
// old file or the fully-written new one, never a torn write.
func writeFile(path string, m map[string]any) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp := path + ".intermediate"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// Store caches effective settings per queue for one root, invalidating a
// queue's entry whenever this process writes to its config file.
type Store struct {
	rootConfigPath  func() string
	queueConfigPath func(queue string) string

	mu    sync.RWMutex
	cache map[string]Settings
}

// NewStore builds a Store bound to the given path resolvers, so it has no
// direct dependency on the layout package's concrete Root type.
func NewStore(rootConfigPath func() string, queueConfigPath func(string) string) *Store {
	return &Store{
		rootConfigPath:  rootConfigPath,
		queueConfigPath: queueConfigPath,
		cache:           make(map[string]Settings),
	}
}

// Effective returns the merged defaults ⊕ root-config ⊕ queue-config for
// queue, using (and populating) the process-local cache.
func (s *Store) Effective(queue string) (Settings, error) {
	s.mu.RLock()
	if cached, ok := s.cache[queue]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	settings := Defaults()

	rootRaw, err := readFile(s.rootConfigPath())
	if err != nil {
		return Settings{}, err
	}
	settings, err = merge(settings, rootRaw)
	if err != nil {
		return Settings{}, err
	}

	queueRaw, err := readFile(s.queueConfigPath(queue))
	if err != nil {
		return Settings{}, err
	}
	settings, err = merge(settings, queueRaw)
	if err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	s.cache[queue] = settings
	s.mu.Unlock()

	return settings, nil
}

// Invalidate clears the cached settings for queue, forcing the next
// Effective call to re-read both config files.
func (s *Store) Invalidate(queue string) {
	s.mu.Lock()
	delete(s.cache, queue)
	s.mu.Unlock()
}

// WriteQueuePatch loads the queue's current config, applies patch on top,
// and atomically writes it back. This is the only supported way to mutate
// a queue config file; it invalidates the cache for queue.
func (s *Store) WriteQueuePatch(queue string, patch map[string]any) error {
	path := s.queueConfigPath(queue)
	current, err := readFile(path)
	if err != nil {
		return err
	}
	for k, v := range patch {
		current[k] = v
	}
	if err := writeFile(path, current); err != nil {
		return err
	}
	s.Invalidate(queue)
	return nil
}

// WriteDefaultQueueConfig writes a fresh queue config file containing only
// the built-in defaults, used by create_queue.
func WriteDefaultQueueConfig(path string) error {
	d := Defaults()
	raw, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("config: roundtrip defaults: %w", err)
	}
	return writeFile(path, m)
}

// MarkCleaned persists {cleaned: now} into the queue's config file, the
// throttle the cleaner consults before doing unforced work.
func (s *Store) MarkCleaned(queue string, now time.Time) error {
	return s.WriteQueuePatch(queue, map[string]any{"cleaned": now.Unix()})
}

// WriteExampleRootConfig writes the root's ddmq.yaml.example file, created
// alongside root init for operator reference.
func WriteExampleRootConfig(rootDir string) error {
	d := Defaults()
	raw, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("config: marshal example: %w", err)
	}
	return os.WriteFile(filepath.Join(rootDir, "ddmq.yaml.example"), raw, 0o644)
}
