// Package layout resolves ddmq's on-disk directory structure: the root
// folder, its marker file, and each queue's directory and work/ subdirectory.
package layout

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// MarkerFile is written at the root of an initiated ddmq root.
const MarkerFile = ".ddmq"

// ConfigFile is the name of a settings file, found at the root and inside
// each queue directory.
const ConfigFile = "ddmq.yaml"

// WorkDir is the name of the leased-message subdirectory inside a queue.
const WorkDir = "work"

var queueNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidQueueName reports whether name is an acceptable queue name.
func ValidQueueName(name string) bool {
	return name != "" && queueNamePattern.MatchString(name)
}

// Root describes a ddmq root directory.
type Root struct {
	Path string
}

func NewRoot(path string) *Root {
	return &Root{Path: path}
}

func (r *Root) markerPath() string { return filepath.Join(r.Path, MarkerFile) }
func (r *Root) configPath() string { return filepath.Join(r.Path, ConfigFile) }

// Exists reports whether the root directory itself exists.
func (r *Root) Exists() bool {
	info, err := os.Stat(r.Path)
	return err == nil && info.IsDir()
}

// Initiated reports whether the root has been initialized with a marker
// file, distinguishing "missing" from "uninitiated" per the error taxonomy.
func (r *Root) Initiated() bool {
	_, err := os.Stat(r.markerPath())
	return err == nil
}

// Init creates the root directory (if needed) and writes its marker file.
func (r *Root) Init() error {
	if err := os.MkdirAll(r.Path, 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.markerPath(), []byte{}, 0o644)
}

// QueuePath returns the directory path for the named queue.
func (r *Root) QueuePath(queue string) string {
	return filepath.Join(r.Path, queue)
}

// WorkPath returns the work/ directory path for the named queue.
func (r *Root) WorkPath(queue string) string {
	return filepath.Join(r.QueuePath(queue), WorkDir)
}

// RootConfigPath returns the root-level config file path.
func (r *Root) RootConfigPath() string {
	return r.configPath()
}

// QueueConfigPath returns a queue's config file path.
func (r *Root) QueueConfigPath(queue string) string {
	return filepath.Join(r.QueuePath(queue), ConfigFile)
}

// QueueExists reports whether the named queue directory exists.
func (r *Root) QueueExists(queue string) bool {
	info, err := os.Stat(r.QueuePath(queue))
	return err == nil && info.IsDir()
}

// CheckDir reports whether the named directory under the root is a valid
// queue: it must be a directory, have a queue config file, and have a
// work/ subdirectory. Any other subdirectory of root (scratch space, an
// unrelated file a user dropped in, a partially-removed queue) fails this
// check and must not be treated as a queue by listing, cleaning, or any
// other admin operation.
func (r *Root) CheckDir(name string) bool {
	info, err := os.Stat(r.QueuePath(name))
	if err != nil || !info.IsDir() {
		return false
	}
	if _, err := os.Stat(r.QueueConfigPath(name)); err != nil {
		return false
	}
	workInfo, err := os.Stat(r.WorkPath(name))
	if err != nil || !workInfo.IsDir() {
		return false
	}
	return true
}

// ListQueues returns the names of every queue directory under the root
// that passes CheckDir, sorted lexicographically. Non-directory entries,
// the marker/config files, and any directory missing a config file or
// work/ subdirectory are skipped.
func (r *Root) ListQueues() ([]string, error) {
	entries, err := os.ReadDir(r.Path)
	if err != nil {
		return nil, err
	}

	var queues []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !r.CheckDir(e.Name()) {
			continue
		}
		queues = append(queues, e.Name())
	}
	sort.Strings(queues)
	return queues, nil
}

// CreateQueue creates a queue directory and its work/ subdirectory.
func (r *Root) CreateQueue(queue string) error {
	if err := os.MkdirAll(r.QueuePath(queue), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(r.WorkPath(queue), 0o755)
}

// DeleteQueue removes a queue directory, provided it contains nothing but
// ddmq's own files (message files, the work/ directory, and the config
// file). If anything else is present, it returns an error rather than
// deleting unrelated files.
func (r *Root) DeleteQueue(queue string, isDdmqFile func(string) bool) error {
	workDir := r.WorkPath(queue)
	if entries, err := os.ReadDir(workDir); err == nil {
		for _, e := range entries {
			if isDdmqFile(e.Name()) {
				if err := os.Remove(filepath.Join(workDir, e.Name())); err != nil {
					return err
				}
			}
		}
		if err := os.Remove(workDir); err != nil {
			return err
		}
	}

	queueDir := r.QueuePath(queue)
	entries, err := os.ReadDir(queueDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if isDdmqFile(name) || name == ConfigFile {
			if err := os.Remove(filepath.Join(queueDir, name)); err != nil {
				return err
			}
		}
	}

	return os.Remove(queueDir)
}
