package source

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// Discover returns deduplicated, sorted absolute paths of regular files
// matching any of the given glob patterns. Patterns support ** for any
// number of directories. Relative patterns are taken from the working
// directory.
func Discover(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string

	for _, pattern := range patterns {
		// Make pattern absolute for consistent paths.
		if !filepath.IsAbs(pattern) {
			wd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			pattern = filepath.Join(wd, pattern)
		}

		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, err
		}

		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				continue
			}
			info, err := os.Stat(abs)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if !seen[abs] {
				seen[abs] = true
				result = append(result, abs)
			}
		}
	}

	slices.Sort(result)
	return result, nil
}
