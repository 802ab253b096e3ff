package orchestrator

import (
	"os"
	"sync"
	"time"
)

// SystemPromptSource loads the system prompt text, caching it by the backing
// file's mtime so a request doesn't stat+read the file on every call, but
// still picks up edits without a restart.
type SystemPromptSource struct {
	mu      sync.Mutex
	path    string
	fixed   string
	cached  string
	modTime time.Time
	loaded  bool
}

// NewSystemPromptSource builds a source backed by a file at path. If path is
// empty, fallback is returned verbatim on every call and no file I/O happens.
func NewSystemPromptSource(path, fallback string) *SystemPromptSource {
	return &SystemPromptSource{path: path, fixed: fallback}
}

// Get returns the current system prompt text, re-reading the file only if its
// mtime has advanced since the last read.
func (s *SystemPromptSource) Get() string {
	if s.path == "" {
		return s.fixed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if s.loaded {
			return s.cached
		}
		return s.fixed
	}

	if s.loaded && !info.ModTime().After(s.modTime) {
		return s.cached
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if s.loaded {
			return s.cached
		}
		return s.fixed
	}

	s.cached = string(data)
	s.modTime = info.ModTime()
	s.loaded = true
	return s.cached
}
