package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Loader reads spec files on behalf of the builder, caching each file so
// cross-file references load a unit exactly once per run. File names inside
// specs resolve relative to the directory of the referencing file, falling
// back to the loader's base directory.
type Loader struct {
	baseDir string

	mu    sync.Mutex
	files map[string][]*TestSpec
}

// NewLoader creates a loader rooted at baseDir. An empty baseDir resolves
// bare file names against the current directory.
func NewLoader(baseDir string) *Loader {
	return &Loader{
		baseDir: baseDir,
		files:   make(map[string][]*TestSpec),
	}
}

// LoadFile parses path (cached by absolute path).
func (l *Loader) LoadFile(path string) ([]*TestSpec, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	l.mu.Lock()
	cached, ok := l.files[abs]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	specs, err := ParseFile(abs)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.files[abs] = specs
	l.mu.Unlock()
	return specs, nil
}

// LoadRef loads the file named by a cross-file reference. fromFile is the
// file containing the reference; relative names resolve against its
// directory first, then against the loader's base directory.
func (l *Loader) LoadRef(fromFile, name string) ([]*TestSpec, error) {
	return l.LoadFile(l.resolveName(fromFile, name))
}

func (l *Loader) resolveName(fromFile, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if fromFile != "" {
		candidate := filepath.Join(filepath.Dir(fromFile), name)
		if l.known(candidate) || fileExists(candidate) {
			return candidate
		}
	}
	if l.baseDir != "" {
		return filepath.Join(l.baseDir, name)
	}
	return name
}

func (l *Loader) known(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.files[abs]
	return ok
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
