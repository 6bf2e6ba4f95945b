package ctl

import (
	"fmt"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// FindJobFiles expands doublestar patterns into regular files, sorted and
// without duplicates. A pattern that matches nothing is an error.
func FindJobFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		found := 0
		for _, name := range matches {
			info, err := os.Stat(name)
			if err != nil {
				continue
			}
			if info.Mode().IsRegular() {
				files = append(files, name)
				found++
			}
		}
		if found == 0 {
			return nil, fmt.Errorf("pattern %q matched no job files", pattern)
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}
