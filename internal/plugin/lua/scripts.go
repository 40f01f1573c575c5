package lua

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Ext is the extension of script files.
const Ext = ".lua"

// Scripts is a set of hosts keyed by absolute script path.
type Scripts struct {
	reg  Registrar
	opts []Option

	mu    sync.Mutex
	hosts map[string]*Host
}

// NewScripts creates an empty set. Every host is created with opts.
func NewScripts(reg Registrar, opts ...Option) *Scripts {
	return &Scripts{
		reg:   reg,
		opts:  opts,
		hosts: make(map[string]*Host),
	}
}

// IsScript reports whether path names a script file.
func IsScript(path string) bool {
	return strings.EqualFold(filepath.Ext(path), Ext)
}

// LoadDir loads every script in dir in name order. A failing script does
// not stop the others; all failures are returned joined.
func (s *Scripts) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading script directory: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || !IsScript(e.Name()) {
			continue
		}
		if err := s.Load(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load runs the script at path in a new host, replacing any host already
// loaded from path. The old host's listeners are unregistered first.
// A script that fails part way is kept, with whatever it registered.
func (s *Scripts) Load(path string) error {
	path = key(path)
	if err := s.Remove(path); err != nil {
		return err
	}

	h, err := NewHost(path, s.reg, s.opts...)
	if err != nil {
		return err
	}
	runErr := h.DoFile(path)

	s.mu.Lock()
	s.hosts[path] = h
	s.mu.Unlock()
	return runErr
}

// Remove closes the host loaded from path, if any.
func (s *Scripts) Remove(path string) error {
	path = key(path)
	s.mu.Lock()
	h, ok := s.hosts[path]
	delete(s.hosts, path)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return h.Close()
}

// Reload reloads path if it still exists and removes it otherwise.
func (s *Scripts) Reload(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return s.Remove(path)
	}
	return s.Load(path)
}

// Host returns the host loaded from path.
func (s *Scripts) Host(path string) (*Host, bool) {
	path = key(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[path]
	return h, ok
}

// key makes a script path absolute so relative and watcher-reported paths
// name the same host.
func key(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Paths returns the loaded script paths, sorted.
func (s *Scripts) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.hosts))
	for p := range s.hosts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close closes every host.
func (s *Scripts) Close() error {
	s.mu.Lock()
	hosts := s.hosts
	s.hosts = make(map[string]*Host)
	s.mu.Unlock()

	var errs []error
	for _, h := range hosts {
		errs = append(errs, h.Close())
	}
	return errors.Join(errs...)
}
