package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/miott/specrun/pkg/spec"
)

// resolveSpecPath resolves the spec file from flag > SPECRUN_DIR + name.
// A bare name without a path separator is looked up under SPECRUN_DIR.
func resolveSpecPath(path string) string {
	if path == "" || strings.Contains(path, string(filepath.Separator)) {
		return path
	}
	if dir := os.Getenv("SPECRUN_DIR"); dir != "" {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return path
}

// loadSpecs loads a spec file through a loader rooted at its directory, so
// cross-file references resolve relative to the file.
func loadSpecs(path string) ([]*spec.TestSpec, *spec.Loader, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("specify a spec file with --spec")
	}
	path = resolveSpecPath(path)
	loader := spec.NewLoader(filepath.Dir(path))
	specs, err := loader.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return specs, loader, nil
}

// selectSpecs narrows the file's tests to the ones named by --test/--test-id.
// With neither set, every test in the file is selected.
func selectSpecs(specs []*spec.TestSpec, name string, testID int) ([]*spec.TestSpec, error) {
	if name == "" && testID == 0 {
		return specs, nil
	}
	if name != "" {
		ts, err := spec.FindTest(specs, name, testID)
		if err != nil {
			return nil, err
		}
		return []*spec.TestSpec{ts}, nil
	}
	ts, err := spec.FindByID(specs, testID)
	if err != nil {
		return nil, err
	}
	return []*spec.TestSpec{ts}, nil
}

// parseVars turns repeated --var k=v flags into a map.
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, want name=value", pair)
		}
		vars[k] = v
	}
	return vars, nil
}

// parseHosts turns repeated --host device=addr flags into a map.
func parseHosts(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	hosts := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid --host %q, want device=addr", pair)
		}
		hosts[k] = v
	}
	return hosts, nil
}
