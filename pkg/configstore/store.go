// Package configstore holds the running slaacd configuration and the
// configurations it replaced, so reloads can be inspected and compared.
package configstore

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/psaab/slaacd/pkg/config"
)

// Store manages the active configuration loaded from a file.
type Store struct {
	mu       sync.RWMutex
	active   *config.ConfigTree
	compiled *config.Config
	loadedAt time.Time
	history  *History
	filePath string
}

// New creates a store for the configuration file at filePath.
func New(filePath string) *Store {
	return &Store{
		active:   &config.ConfigTree{},
		history:  NewHistory(50),
		filePath: filePath,
	}
}

// Path returns the configuration file path.
func (s *Store) Path() string { return s.filePath }

// Load reads, parses and compiles the configuration file. On success the
// previous active configuration is pushed to the history and the new one
// becomes active; on failure the active configuration is unchanged. A
// missing file loads as an empty configuration.
func (s *Store) Load() (*config.Config, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	tree, errs := config.NewParser(string(data)).Parse()
	if len(errs) > 0 {
		return nil, fmt.Errorf("parse config: %w", errors.Join(errs...))
	}
	compiled, err := config.CompileConfig(tree)
	if err != nil {
		return nil, fmt.Errorf("compile config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.compiled != nil {
		s.history.Push(&HistoryEntry{Config: s.active, Timestamp: s.loadedAt})
	}
	s.active = tree
	s.compiled = compiled
	s.loadedAt = time.Now()
	return compiled, nil
}

// ActiveConfig returns the compiled active configuration, or nil before
// the first successful Load.
func (s *Store) ActiveConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compiled
}

// ShowActive returns the active configuration as hierarchical text.
func (s *Store) ShowActive() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Format()
}

// History returns the configurations replaced by reloads, most recent first.
func (s *Store) History() []*HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.List()
}

// ShowCompare returns a diff between the nth previous configuration
// (1 = the one replaced by the last reload) and the active one, as set
// commands with "-" for removed lines and "+" for added lines.
func (s *Store) ShowCompare(n int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, err := s.history.Get(n - 1)
	if err != nil {
		return "", err
	}
	return compare(entry.Config.FormatSet(), s.active.FormatSet()), nil
}

func compare(oldSet, newSet string) string {
	oldLines := splitLines(oldSet)
	newLines := splitLines(newSet)

	oldMap := make(map[string]bool, len(oldLines))
	for _, line := range oldLines {
		oldMap[line] = true
	}
	newMap := make(map[string]bool, len(newLines))
	for _, line := range newLines {
		newMap[line] = true
	}

	var b strings.Builder
	for _, line := range oldLines {
		if !newMap[line] {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	for _, line := range newLines {
		if !oldMap[line] {
			fmt.Fprintf(&b, "+ %s\n", line)
		}
	}

	if b.Len() == 0 {
		return "[no changes]\n"
	}
	return b.String()
}

// splitLines splits a string into non-empty lines.
func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
