package batch

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Expand resolves the manifest's include/exclude patterns against the
// filesystem and returns the matched document paths, sorted and deduped.
//
// manifestDir is the directory holding the manifest file; a relative
// inputs.base_dir is resolved against it. Patterns use forward slashes and
// support ** globstar, matching the keys relative to the base directory.
func Expand(m *Manifest, manifestDir string) ([]string, error) {
	base := m.Inputs.BaseDir
	if base == "" {
		base = manifestDir
	} else if !filepath.IsAbs(base) {
		base = filepath.Join(manifestDir, base)
	}
	base = filepath.Clean(base)

	for _, p := range append(append([]string{}, m.Inputs.Includes...), m.Inputs.Excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}

	seen := map[string]bool{}
	var matched []string

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !matchAny(m.Inputs.Includes, rel) || matchAny(m.Inputs.Excludes, rel) {
			return nil
		}
		if !seen[path] {
			seen[path] = true
			matched = append(matched, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expand batch inputs under %s: %w", base, err)
	}

	sort.Strings(matched)
	return matched, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		p = strings.TrimPrefix(p, "./")
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}
